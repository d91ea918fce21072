package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"cos-backend/config"
	"cos-backend/database"
	"cos-backend/middleware"
	"cos-backend/services"
	"cos-backend/utils"
)

// Participant teams stay small by default; leaders can raise the cap but
// never below the current member count
const (
	defaultTeamSize = 4
	maxTeamSize     = 10
)

var staffRoles = map[string]bool{
	"host":      true,
	"co_host":   true,
	"volunteer": true,
}

// TeamsHandler handles participant teams and the event staff roster
type TeamsHandler struct {
	db       database.Database
	redis    *redis.Client
	config   *config.Config
	activity *services.ActivityService
}

// NewTeamsHandler creates a new teams handler
func NewTeamsHandler(db database.Database, redis *redis.Client, cfg *config.Config, activity *services.ActivityService) *TeamsHandler {
	return &TeamsHandler{
		db:       db,
		redis:    redis,
		config:   cfg,
		activity: activity,
	}
}

// CreateTeamRequest is the payload for creating a participant team
type CreateTeamRequest struct {
	Name         string           `json:"name" validate:"required,min=2,max=100"`
	Description  string           `json:"description"`
	SkillsNeeded *json.RawMessage `json:"skills_needed"`
	MaxSize      *int             `json:"max_size"`
}

// JoinTeamRequest carries the invite token of the team to join
type JoinTeamRequest struct {
	InviteToken string `json:"invite_token" validate:"required"`
}

// UpdateTeamRequest is the leader-only team settings payload
type UpdateTeamRequest struct {
	Name         *string          `json:"name"`
	Description  *string          `json:"description"`
	SkillsNeeded *json.RawMessage `json:"skills_needed"`
	MaxSize      *int             `json:"max_size"`
	IsLocked     *bool            `json:"is_locked"`
}

// StaffRequest assigns an event staff role to a user
type StaffRequest struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
	Role   string    `json:"role" validate:"required"`
}

// activeEventRegistration returns the user's live registration for an
// event, uuid.Nil when there is none. Works on the pool or a transaction.
func activeEventRegistration(ctx context.Context, db database.Database, eventID, userID uuid.UUID) uuid.UUID {
	var registrationID uuid.UUID
	err := db.QueryRow(ctx, `
        SELECT id FROM event_registrations
        WHERE event_id = $1 AND user_id = $2 AND status NOT IN ('canceled', 'rejected')`,
		eventID, userID).Scan(&registrationID)
	if err != nil {
		return uuid.Nil
	}
	return registrationID
}

// ensureEventRegistration returns an active registration for the user,
// creating or reviving one when needed. Team invites carry an implied
// seat, so this path skips the capacity gate.
func ensureEventRegistration(ctx context.Context, db database.Database, eventID, userID uuid.UUID) (uuid.UUID, error) {
	if regID := activeEventRegistration(ctx, db, eventID, userID); regID != uuid.Nil {
		return regID, nil
	}

	var isPaid bool
	if err := db.QueryRow(ctx, `SELECT is_paid FROM events WHERE id = $1`, eventID).Scan(&isPaid); err != nil {
		return uuid.Nil, err
	}
	status := "approved"
	paymentStatus := "skipped"
	if isPaid {
		status = "pending"
		paymentStatus = "pending"
	}

	var registrationID uuid.UUID
	err := db.QueryRow(ctx, `
        INSERT INTO event_registrations (event_id, user_id, status, payment_status)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (user_id, event_id) DO UPDATE
        SET status = EXCLUDED.status, payment_status = EXCLUDED.payment_status, registered_at = NOW()
        RETURNING id`,
		eventID, userID, status, paymentStatus).Scan(&registrationID)
	if err != nil {
		return uuid.Nil, err
	}

	if _, err := db.Exec(ctx, `
        INSERT INTO event_attendance (registration_id)
        VALUES ($1)
        ON CONFLICT (registration_id) DO NOTHING`,
		registrationID); err != nil {
		utils.LogError("team join attendance row", err, "registration_id", registrationID)
	}
	return registrationID, nil
}

// CreateTeam godoc
// @Summary Create a participant team
// @Description The creator becomes the team leader. Requires an active registration for the event.
// @Tags Teams
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Event ID"
// @Param request body CreateTeamRequest true "Team details"
// @Success 201 {object} map[string]interface{} "Team created"
// @Failure 409 {object} map[string]interface{} "Name already taken"
// @Router /events/{id}/teams [post]
func (h *TeamsHandler) CreateTeam(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid event ID"})
	}

	var req CreateTeamRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if len(req.Name) < 2 || len(req.Name) > 100 {
		return c.Status(400).JSON(fiber.Map{"error": "Team name must be between 2 and 100 characters"})
	}
	maxSize := defaultTeamSize
	if req.MaxSize != nil {
		maxSize = *req.MaxSize
	}
	if maxSize < 2 || maxSize > maxTeamSize {
		return c.Status(400).JSON(fiber.Map{"error": "Team size must be between 2 and 10"})
	}

	ctx := context.Background()

	var eventStatus string
	var endTime time.Time
	if err := h.db.QueryRow(ctx, `
        SELECT status, end_time FROM events WHERE id = $1`,
		eventID).Scan(&eventStatus, &endTime); err != nil || eventStatus != "approved" {
		return c.Status(404).JSON(fiber.Map{"error": "Event not found"})
	}
	if time.Now().After(endTime) {
		return c.Status(400).JSON(fiber.Map{"error": "This event has ended"})
	}

	registrationID := activeEventRegistration(ctx, h.db, eventID, userID)
	if registrationID == uuid.Nil {
		return c.Status(400).JSON(fiber.Map{"error": "Register for the event before creating a team"})
	}

	var existingTeam uuid.UUID
	err = h.db.QueryRow(ctx, `
        SELECT ptm.team_id FROM participant_team_members ptm
        JOIN event_teams t ON t.id = ptm.team_id
        WHERE t.event_id = $1 AND ptm.user_id = $2`,
		eventID, userID).Scan(&existingTeam)
	if err == nil {
		return c.Status(409).JSON(fiber.Map{"error": "You are already in a team for this event"})
	}

	skills := json.RawMessage(`[]`)
	if req.SkillsNeeded != nil {
		skills = *req.SkillsNeeded
	}

	tx, err := h.db.Begin(ctx)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create team"})
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var teamID, inviteToken uuid.UUID
	var createdAt time.Time
	err = tx.QueryRow(ctx, `
        INSERT INTO event_teams (event_id, name, creator_id, max_size, description, skills_needed)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, invite_token, created_at`,
		eventID, req.Name, userID, maxSize, req.Description, skills).Scan(&teamID, &inviteToken, &createdAt)
	if err != nil {
		if strings.Contains(err.Error(), "event_teams_event_id_name_key") {
			return c.Status(409).JSON(fiber.Map{"error": "A team with this name already exists for this event"})
		}
		utils.LogError("team create", err, "event_id", eventID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create team"})
	}

	if _, err := tx.Exec(ctx, `
        INSERT INTO participant_team_members (team_id, user_id, registration_id, role)
        VALUES ($1, $2, $3, 'leader')`,
		teamID, userID, registrationID); err != nil {
		utils.LogError("team leader insert", err, "team_id", teamID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create team"})
	}

	if err := tx.Commit(ctx); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to create team"})
	}

	utils.LogInfo("👥 Team created", "team_id", teamID, "event_id", eventID, "name", req.Name)

	return c.Status(201).JSON(fiber.Map{
		"id":            teamID,
		"name":          req.Name,
		"description":   req.Description,
		"invite_token":  inviteToken,
		"max_size":      maxSize,
		"is_locked":     false,
		"skills_needed": skills,
		"member_count":  1,
		"my_role":       "leader",
		"created_at":    createdAt,
	})
}

// JoinTeam godoc
// @Summary Join a team via invite token
// @Description Joins the team and registers the caller for the event when they have no active registration.
// @Tags Teams
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body JoinTeamRequest true "Invite token"
// @Success 200 {object} map[string]interface{} "Joined"
// @Failure 404 {object} map[string]interface{} "Invalid invite token"
// @Failure 409 {object} map[string]interface{} "Team full, locked, or already in a team"
// @Router /teams/join [post]
func (h *TeamsHandler) JoinTeam(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)

	var req JoinTeamRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}
	inviteToken, err := uuid.Parse(strings.TrimSpace(req.InviteToken))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Invalid invite token"})
	}

	ctx := context.Background()

	tx, err := h.db.Begin(ctx)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to join team"})
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var teamID, eventID uuid.UUID
	var teamName string
	var maxSize int
	var isLocked bool
	var endTime time.Time
	err = tx.QueryRow(ctx, `
        SELECT t.id, t.event_id, t.name, t.max_size, t.is_locked, e.end_time
        FROM event_teams t
        JOIN events e ON e.id = t.event_id
        WHERE t.invite_token = $1 AND e.status = 'approved'
        FOR UPDATE OF t`,
		inviteToken).Scan(&teamID, &eventID, &teamName, &maxSize, &isLocked, &endTime)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Invalid invite token"})
	}
	if time.Now().After(endTime) {
		return c.Status(400).JSON(fiber.Map{"error": "This event has ended"})
	}
	if isLocked {
		return c.Status(409).JSON(fiber.Map{"error": "This team is locked"})
	}

	var inTeam bool
	if err := tx.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM participant_team_members ptm
            JOIN event_teams t ON t.id = ptm.team_id
            WHERE t.event_id = $1 AND ptm.user_id = $2
        )`, eventID, userID).Scan(&inTeam); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to join team"})
	}
	if inTeam {
		return c.Status(409).JSON(fiber.Map{"error": "You are already in a team for this event"})
	}

	var memberCount int
	if err := tx.QueryRow(ctx, `
        SELECT COUNT(*) FROM participant_team_members WHERE team_id = $1`,
		teamID).Scan(&memberCount); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to join team"})
	}
	if memberCount >= maxSize {
		return c.Status(409).JSON(fiber.Map{"error": "This team is full"})
	}

	// Registration and membership commit together under the team lock
	registrationID, err := ensureEventRegistration(ctx, tx, eventID, userID)
	if err != nil {
		utils.LogError("team join registration", err, "event_id", eventID, "user_id", userID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to register for the event"})
	}

	if _, err := tx.Exec(ctx, `
        INSERT INTO participant_team_members (team_id, user_id, registration_id, role)
        VALUES ($1, $2, $3, 'member')
        ON CONFLICT (team_id, user_id) DO NOTHING`,
		teamID, userID, registrationID); err != nil {
		utils.LogError("team member insert", err, "team_id", teamID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to join team"})
	}

	if err := tx.Commit(ctx); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "Failed to join team"})
	}

	utils.LogInfo("🤝 Team joined", "team_id", teamID, "user_id", userID)

	return c.JSON(fiber.Map{
		"team_id":         teamID,
		"team_name":       teamName,
		"event_id":        eventID,
		"role":            "member",
		"registration_id": registrationID,
	})
}

// ListTeams godoc
// @Summary List teams for an event
// @Tags Teams
// @Security BearerAuth
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} map[string]interface{} "Teams"
// @Router /events/{id}/teams [get]
func (h *TeamsHandler) ListTeams(c *fiber.Ctx) error {
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid event ID"})
	}

	ctx := context.Background()

	rows, err := h.db.Query(ctx, `
        SELECT t.id, t.name, t.description, t.max_size, t.is_locked, t.skills_needed,
               t.created_at, u.username,
               (SELECT COUNT(*) FROM participant_team_members ptm WHERE ptm.team_id = t.id) AS member_count
        FROM event_teams t
        JOIN users u ON u.id = t.creator_id
        WHERE t.event_id = $1
        ORDER BY t.created_at`,
		eventID)
	if err != nil {
		utils.LogError("teams list", err, "event_id", eventID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch teams"})
	}
	defer rows.Close()

	results := []fiber.Map{}
	for rows.Next() {
		var teamID uuid.UUID
		var name, creatorUsername string
		var description *string
		var maxSize, memberCount int
		var isLocked bool
		var skills []byte
		var createdAt time.Time

		if err := rows.Scan(&teamID, &name, &description, &maxSize, &isLocked, &skills,
			&createdAt, &creatorUsername, &memberCount); err != nil {
			continue
		}
		results = append(results, fiber.Map{
			"id":            teamID,
			"name":          name,
			"description":   description,
			"max_size":      maxSize,
			"member_count":  memberCount,
			"is_locked":     isLocked,
			"is_full":       memberCount >= maxSize,
			"skills_needed": json.RawMessage(skills),
			"creator":       creatorUsername,
			"created_at":    createdAt,
		})
	}

	return c.JSON(fiber.Map{"count": len(results), "results": results})
}

// MyTeam godoc
// @Summary Get own team for an event
// @Description Includes the invite token when the caller is the team leader.
// @Tags Teams
// @Security BearerAuth
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} map[string]interface{} "Team or {in_team:false}"
// @Router /events/{id}/teams/mine [get]
func (h *TeamsHandler) MyTeam(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid event ID"})
	}

	ctx := context.Background()

	var teamID, inviteToken uuid.UUID
	var name, myRole string
	var description *string
	var maxSize int
	var isLocked bool
	var skills []byte
	err = h.db.QueryRow(ctx, `
        SELECT t.id, t.name, t.description, t.max_size, t.is_locked, t.skills_needed,
               t.invite_token, ptm.role
        FROM participant_team_members ptm
        JOIN event_teams t ON t.id = ptm.team_id
        WHERE t.event_id = $1 AND ptm.user_id = $2`,
		eventID, userID).Scan(&teamID, &name, &description, &maxSize, &isLocked, &skills,
		&inviteToken, &myRole)
	if err != nil {
		return c.JSON(fiber.Map{"in_team": false})
	}

	members, err := h.teamMembers(ctx, teamID)
	if err != nil {
		utils.LogError("my team members", err, "team_id", teamID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch team"})
	}

	team := fiber.Map{
		"in_team":       true,
		"id":            teamID,
		"name":          name,
		"description":   description,
		"max_size":      maxSize,
		"member_count":  len(members),
		"is_locked":     isLocked,
		"skills_needed": json.RawMessage(skills),
		"my_role":       myRole,
		"members":       members,
	}
	// The invite token is the join credential; only the leader hands it out
	if myRole == "leader" {
		team["invite_token"] = inviteToken
	}
	return c.JSON(team)
}

func (h *TeamsHandler) teamMembers(ctx context.Context, teamID uuid.UUID) ([]fiber.Map, error) {
	rows, err := h.db.Query(ctx, `
        SELECT ptm.user_id, ptm.role, ptm.joined_at, u.username, u.first_name, u.last_name
        FROM participant_team_members ptm
        JOIN users u ON u.id = ptm.user_id
        WHERE ptm.team_id = $1
        ORDER BY ptm.joined_at`,
		teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []fiber.Map{}
	for rows.Next() {
		var memberID uuid.UUID
		var role, username, firstName, lastName string
		var joinedAt time.Time
		if err := rows.Scan(&memberID, &role, &joinedAt, &username, &firstName, &lastName); err != nil {
			continue
		}
		name := strings.TrimSpace(firstName + " " + lastName)
		if name == "" {
			name = username
		}
		members = append(members, fiber.Map{
			"user_id":   memberID,
			"username":  username,
			"name":      name,
			"role":      role,
			"joined_at": joinedAt,
		})
	}
	return members, nil
}

// TeamMembers godoc
// @Summary List members of a team
// @Tags Teams
// @Security BearerAuth
// @Produce json
// @Param id path string true "Team ID"
// @Success 200 {object} map[string]interface{} "Members"
// @Router /teams/{id}/members [get]
func (h *TeamsHandler) TeamMembers(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	teamID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid team ID"})
	}

	ctx := context.Background()

	var eventID uuid.UUID
	if err := h.db.QueryRow(ctx, `SELECT event_id FROM event_teams WHERE id = $1`, teamID).Scan(&eventID); err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Team not found"})
	}

	var isMember bool
	_ = h.db.QueryRow(ctx, `
        SELECT EXISTS (SELECT 1 FROM participant_team_members WHERE team_id = $1 AND user_id = $2)`,
		teamID, userID).Scan(&isMember)
	if !isMember && !middleware.CanManageEvent(ctx, h.db, userID, eventID) {
		return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
	}

	members, err := h.teamMembers(ctx, teamID)
	if err != nil {
		utils.LogError("team members", err, "team_id", teamID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch members"})
	}
	return c.JSON(fiber.Map{"count": len(members), "results": members})
}

// UpdateTeam godoc
// @Summary Update team settings
// @Description Leader only. Locking stops new joins; max_size cannot drop below the current member count.
// @Tags Teams
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Team ID"
// @Param request body UpdateTeamRequest true "Changes"
// @Success 200 {object} map[string]interface{} "Updated"
// @Failure 403 {object} map[string]interface{} "Not the leader"
// @Router /teams/{id} [patch]
func (h *TeamsHandler) UpdateTeam(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	teamID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid team ID"})
	}

	var req UpdateTeamRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}

	ctx := context.Background()

	var myRole string
	err = h.db.QueryRow(ctx, `
        SELECT role FROM participant_team_members WHERE team_id = $1 AND user_id = $2`,
		teamID, userID).Scan(&myRole)
	if err != nil || myRole != "leader" {
		return c.Status(403).JSON(fiber.Map{"error": "Only the team leader can update the team"})
	}

	var memberCount int
	_ = h.db.QueryRow(ctx, `
        SELECT COUNT(*) FROM participant_team_members WHERE team_id = $1`,
		teamID).Scan(&memberCount)

	setParts := []string{}
	args := []interface{}{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		setParts = append(setParts, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if len(name) < 2 || len(name) > 100 {
			return c.Status(400).JSON(fiber.Map{"error": "Team name must be between 2 and 100 characters"})
		}
		add("name", name)
	}
	if req.Description != nil {
		add("description", *req.Description)
	}
	if req.SkillsNeeded != nil {
		add("skills_needed", *req.SkillsNeeded)
	}
	if req.MaxSize != nil {
		if *req.MaxSize < 2 || *req.MaxSize > maxTeamSize {
			return c.Status(400).JSON(fiber.Map{"error": "Team size must be between 2 and 10"})
		}
		if *req.MaxSize < memberCount {
			return c.Status(400).JSON(fiber.Map{"error": "Team size cannot be below the current member count"})
		}
		add("max_size", *req.MaxSize)
	}
	if req.IsLocked != nil {
		add("is_locked", *req.IsLocked)
	}
	if len(setParts) == 0 {
		return c.Status(400).JSON(fiber.Map{"error": "No fields to update"})
	}

	args = append(args, teamID)
	query := fmt.Sprintf("UPDATE event_teams SET %s WHERE id = $%d",
		strings.Join(setParts, ", "), len(args))
	if _, err := h.db.Exec(ctx, query, args...); err != nil {
		if strings.Contains(err.Error(), "event_teams_event_id_name_key") {
			return c.Status(409).JSON(fiber.Map{"error": "A team with this name already exists for this event"})
		}
		utils.LogError("team update", err, "team_id", teamID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to update team"})
	}

	return c.JSON(fiber.Map{"message": "Team updated"})
}

// LeaveTeam godoc
// @Summary Leave a team
// @Description A leader can only leave as the last member, which deletes the team.
// @Tags Teams
// @Security BearerAuth
// @Produce json
// @Param id path string true "Team ID"
// @Success 200 {object} map[string]interface{} "Left"
// @Router /teams/{id}/leave [post]
func (h *TeamsHandler) LeaveTeam(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	teamID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid team ID"})
	}

	ctx := context.Background()

	var myRole string
	err = h.db.QueryRow(ctx, `
        SELECT role FROM participant_team_members WHERE team_id = $1 AND user_id = $2`,
		teamID, userID).Scan(&myRole)
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "You are not in this team"})
	}

	var memberCount int
	_ = h.db.QueryRow(ctx, `
        SELECT COUNT(*) FROM participant_team_members WHERE team_id = $1`,
		teamID).Scan(&memberCount)

	if myRole == "leader" && memberCount > 1 {
		return c.Status(400).JSON(fiber.Map{"error": "Remove the other members before leaving, or disband the team"})
	}

	if myRole == "leader" {
		// Last member out deletes the team; memberships cascade
		if _, err := h.db.Exec(ctx, `DELETE FROM event_teams WHERE id = $1`, teamID); err != nil {
			utils.LogError("team disband", err, "team_id", teamID)
			return c.Status(500).JSON(fiber.Map{"error": "Failed to leave team"})
		}
		utils.LogInfo("👋 Team disbanded", "team_id", teamID)
		return c.JSON(fiber.Map{"message": "Team disbanded"})
	}

	if _, err := h.db.Exec(ctx, `
        DELETE FROM participant_team_members WHERE team_id = $1 AND user_id = $2`,
		teamID, userID); err != nil {
		utils.LogError("team leave", err, "team_id", teamID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to leave team"})
	}
	return c.JSON(fiber.Map{"message": "Left the team"})
}

// RemoveTeamMember godoc
// @Summary Remove a member from a team
// @Description Leader only. Removal does not cancel the member's event registration.
// @Tags Teams
// @Security BearerAuth
// @Produce json
// @Param id path string true "Team ID"
// @Param userID path string true "User ID"
// @Success 200 {object} map[string]interface{} "Removed"
// @Router /teams/{id}/members/{userId} [delete]
func (h *TeamsHandler) RemoveTeamMember(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	teamID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid team ID"})
	}
	targetID, err := uuid.Parse(c.Params("userId"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid user ID"})
	}
	if targetID == userID {
		return c.Status(400).JSON(fiber.Map{"error": "Use the leave endpoint to leave your own team"})
	}

	ctx := context.Background()

	var myRole string
	err = h.db.QueryRow(ctx, `
        SELECT role FROM participant_team_members WHERE team_id = $1 AND user_id = $2`,
		teamID, userID).Scan(&myRole)
	if err != nil || myRole != "leader" {
		return c.Status(403).JSON(fiber.Map{"error": "Only the team leader can remove members"})
	}

	tag, err := h.db.Exec(ctx, `
        DELETE FROM participant_team_members WHERE team_id = $1 AND user_id = $2`,
		teamID, targetID)
	if err != nil {
		utils.LogError("team member remove", err, "team_id", teamID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to remove member"})
	}
	if tag.RowsAffected() == 0 {
		return c.Status(404).JSON(fiber.Map{"error": "Member not found"})
	}
	return c.JSON(fiber.Map{"message": "Member removed"})
}

// ListStaff godoc
// @Summary List the event staff roster
// @Tags Teams
// @Security BearerAuth
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} map[string]interface{} "Staff"
// @Router /events/{id}/staff [get]
func (h *TeamsHandler) ListStaff(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid event ID"})
	}

	ctx := context.Background()
	if !middleware.CanManageEvent(ctx, h.db, userID, eventID) {
		return c.Status(403).JSON(fiber.Map{"error": "Not allowed"})
	}

	rows, err := h.db.Query(ctx, `
        SELECT m.user_id, m.role, m.is_active, m.added_at, u.username, u.first_name, u.last_name
        FROM event_team_members m
        JOIN users u ON u.id = m.user_id
        WHERE m.event_id = $1
        ORDER BY m.added_at`,
		eventID)
	if err != nil {
		utils.LogError("staff list", err, "event_id", eventID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to fetch staff"})
	}
	defer rows.Close()

	results := []fiber.Map{}
	for rows.Next() {
		var memberID uuid.UUID
		var role, username, firstName, lastName string
		var isActive bool
		var addedAt time.Time
		if err := rows.Scan(&memberID, &role, &isActive, &addedAt, &username, &firstName, &lastName); err != nil {
			continue
		}
		name := strings.TrimSpace(firstName + " " + lastName)
		if name == "" {
			name = username
		}
		results = append(results, fiber.Map{
			"user_id":   memberID,
			"username":  username,
			"name":      name,
			"role":      role,
			"is_active": isActive,
			"added_at":  addedAt,
		})
	}
	return c.JSON(fiber.Map{"count": len(results), "results": results})
}

// canManageStaff gates roster changes: community managers for community
// events, the organizer for personal events, superusers everywhere.
// Staff themselves cannot grow the roster.
func (h *TeamsHandler) canManageStaff(ctx context.Context, userID, eventID uuid.UUID) bool {
	var organizerID uuid.UUID
	var communityID *uuid.UUID
	if err := h.db.QueryRow(ctx, `
        SELECT organizer_id, community_id FROM events WHERE id = $1`,
		eventID).Scan(&organizerID, &communityID); err != nil {
		return false
	}
	if communityID != nil {
		if middleware.HasCommunityRole(ctx, h.db, userID, *communityID, middleware.ManagerRoles...) {
			return true
		}
	} else if userID == organizerID {
		return true
	}
	return middleware.IsSuperuser(ctx, h.db, userID)
}

// AddStaff godoc
// @Summary Add or update an event staff member
// @Description Community managers only. Staff roles grant scan access for the event.
// @Tags Teams
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Event ID"
// @Param request body StaffRequest true "Assignment"
// @Success 201 {object} map[string]interface{} "Added"
// @Failure 403 {object} map[string]interface{} "Not allowed"
// @Router /events/{id}/staff [post]
func (h *TeamsHandler) AddStaff(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid event ID"})
	}

	var req StaffRequest
	if err := c.BodyParser(&req); err != nil || req.UserID == uuid.Nil {
		return c.Status(400).JSON(fiber.Map{"error": "user_id and role are required"})
	}
	if !staffRoles[req.Role] {
		return c.Status(400).JSON(fiber.Map{"error": "Role must be one of: host, co_host, volunteer"})
	}

	ctx := context.Background()
	if !h.canManageStaff(ctx, userID, eventID) {
		return c.Status(403).JSON(fiber.Map{"error": "Only community managers can manage event staff"})
	}

	var targetUsername string
	var communityID *uuid.UUID
	if err := h.db.QueryRow(ctx, `
        SELECT username FROM users WHERE id = $1 AND is_active = true AND deleted_at IS NULL`,
		req.UserID).Scan(&targetUsername); err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "User not found"})
	}
	_ = h.db.QueryRow(ctx, `SELECT community_id FROM events WHERE id = $1`, eventID).Scan(&communityID)

	if _, err := h.db.Exec(ctx, `
        INSERT INTO event_team_members (event_id, user_id, role)
        VALUES ($1, $2, $3)
        ON CONFLICT (event_id, user_id) DO UPDATE SET role = EXCLUDED.role, is_active = true`,
		eventID, req.UserID, req.Role); err != nil {
		utils.LogError("staff add", err, "event_id", eventID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to add staff member"})
	}

	if _, err := h.activity.Record(ctx, services.Activity{
		ActorID:     userID,
		Verb:        services.VerbTeamMemberAdded,
		SubjectType: "event",
		SubjectID:   eventID,
		CommunityID: communityID,
		Visibility:  services.VisibilityPrivate,
		Metadata: map[string]interface{}{
			"user": targetUsername,
			"role": req.Role,
		},
	}); err != nil {
		utils.LogError("team.member_added activity", err, "event_id", eventID)
	}

	if err := h.activity.Notify(ctx, req.UserID, "system",
		"You've been added to an event team",
		"You now have a staff role for this event and can scan attendee tickets.",
		&eventID); err != nil {
		utils.LogError("staff add notification", err, "event_id", eventID)
	}

	utils.LogInfo("🪪 Staff added", "event_id", eventID, "user_id", req.UserID, "role", req.Role)

	return c.Status(201).JSON(fiber.Map{
		"user_id":  req.UserID,
		"username": targetUsername,
		"role":     req.Role,
	})
}

// RemoveStaff godoc
// @Summary Deactivate an event staff member
// @Description The row stays for the audit trail; scan access ends immediately.
// @Tags Teams
// @Security BearerAuth
// @Produce json
// @Param id path string true "Event ID"
// @Param userID path string true "User ID"
// @Success 200 {object} map[string]interface{} "Removed"
// @Router /events/{id}/staff/{userId} [delete]
func (h *TeamsHandler) RemoveStaff(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)
	eventID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid event ID"})
	}
	targetID, err := uuid.Parse(c.Params("userId"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid user ID"})
	}

	ctx := context.Background()
	if !h.canManageStaff(ctx, userID, eventID) {
		return c.Status(403).JSON(fiber.Map{"error": "Only community managers can manage event staff"})
	}

	tag, err := h.db.Exec(ctx, `
        UPDATE event_team_members SET is_active = false
        WHERE event_id = $1 AND user_id = $2 AND is_active = true`,
		eventID, targetID)
	if err != nil {
		utils.LogError("staff remove", err, "event_id", eventID)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to remove staff member"})
	}
	if tag.RowsAffected() == 0 {
		return c.Status(404).JSON(fiber.Map{"error": "Staff member not found"})
	}

	var communityID *uuid.UUID
	_ = h.db.QueryRow(ctx, `SELECT community_id FROM events WHERE id = $1`, eventID).Scan(&communityID)
	if _, err := h.activity.Record(ctx, services.Activity{
		ActorID:     userID,
		Verb:        services.VerbTeamMemberRemoved,
		SubjectType: "event",
		SubjectID:   eventID,
		CommunityID: communityID,
		Visibility:  services.VisibilityPrivate,
		Metadata:    map[string]interface{}{"user_id": targetID.String()},
	}); err != nil {
		utils.LogError("team.member_removed activity", err, "event_id", eventID)
	}

	return c.JSON(fiber.Map{"message": "Staff member removed"})
}
