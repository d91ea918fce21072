package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"cos-backend/database"
	"cos-backend/utils"
)

// SearchHandler answers the global search box: events, communities and
// people in one round trip
type SearchHandler struct {
	db database.Database
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(db database.Database) *SearchHandler {
	return &SearchHandler{db: db}
}

// likePattern escapes LIKE metacharacters so user input cannot widen the match
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(q)) + "%"
}

// searchSnippet trims long descriptions to a window around the first match
func searchSnippet(text, q string, maxLen int) string {
	idx := strings.Index(strings.ToLower(text), strings.ToLower(q))
	if idx < 0 {
		if len(text) <= maxLen {
			return text
		}
		return text[:maxLen] + "..."
	}

	start := idx - maxLen/3
	if start < 0 {
		start = 0
	}
	end := start + maxLen
	if end > len(text) {
		end = len(text)
	}

	out := text[start:end]
	if start > 0 {
		out = "..." + out
	}
	if end < len(text) {
		out = out + "..."
	}
	return out
}

// Search godoc
// @Summary Global search
// @Description Searches approved events, communities and people the caller can see
// @Tags Search
// @Security BearerAuth
// @Produce json
// @Param q query string true "Search term"
// @Param limit query int false "Max results per category (default 20)"
// @Success 200 {object} map[string]interface{} "Grouped results"
// @Failure 400 {object} map[string]interface{} "Missing query"
// @Router /search [get]
func (h *SearchHandler) Search(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(uuid.UUID)

	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Search query is required"})
	}
	if len(q) > 100 {
		q = q[:100]
	}

	limit := utils.Min(c.QueryInt("limit", 20), 100)
	if limit < 1 {
		limit = 20
	}

	ctx := context.Background()
	pattern := likePattern(q)

	events := h.searchEvents(ctx, userID, q, pattern, limit)
	communities := h.searchCommunities(ctx, userID, q, pattern, limit)
	people := h.searchPeople(ctx, pattern, limit)

	return c.JSON(fiber.Map{
		"query":       q,
		"events":      events,
		"communities": communities,
		"users":       people,
		"total":       len(events) + len(communities) + len(people),
	})
}

// searchEvents applies the same visibility rule as the event list: approved,
// and either public, own, or hosted by one of the caller's communities
func (h *SearchHandler) searchEvents(ctx context.Context, userID uuid.UUID, q, pattern string, limit int) []fiber.Map {
	results := []fiber.Map{}

	rows, err := h.db.Query(ctx, `
        SELECT e.id, e.title, e.description, e.start_time, e.venue, e.banner,
               e.event_type, COALESCE(c.name, '')
        FROM events e
        LEFT JOIN communities c ON c.id = e.community_id
        WHERE e.status = 'approved'
          AND (e.is_public = true
               OR e.organizer_id = $2
               OR EXISTS (
                   SELECT 1 FROM community_memberships m
                   WHERE m.community_id = e.community_id AND m.user_id = $2 AND m.is_active = true
               ))
          AND (LOWER(e.title) LIKE $1 OR LOWER(e.description) LIKE $1)
        ORDER BY e.start_time DESC
        LIMIT $3`,
		pattern, userID, limit)
	if err != nil {
		utils.LogError("event search", err)
		return results
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var title, description, eventType, communityName string
		var venue, banner *string
		var startTime time.Time

		if err := rows.Scan(&id, &title, &description, &startTime, &venue, &banner,
			&eventType, &communityName); err != nil {
			continue
		}
		results = append(results, fiber.Map{
			"id":         id,
			"title":      title,
			"snippet":    searchSnippet(description, q, 150),
			"start_time": startTime,
			"venue":      venue,
			"banner":     banner,
			"event_type": eventType,
			"community":  communityName,
		})
	}
	return results
}

// searchCommunities returns public communities plus private ones the caller
// belongs to
func (h *SearchHandler) searchCommunities(ctx context.Context, userID uuid.UUID, q, pattern string, limit int) []fiber.Map {
	results := []fiber.Map{}

	rows, err := h.db.Query(ctx, `
        SELECT c.id, c.name, c.slug, c.description, c.logo,
               (SELECT COUNT(*) FROM community_memberships cm WHERE cm.community_id = c.id AND cm.is_active = true)
        FROM communities c
        LEFT JOIN community_memberships m
               ON m.community_id = c.id AND m.user_id = $2 AND m.is_active = true
        WHERE c.is_active = true
          AND (c.is_private = false OR m.user_id IS NOT NULL)
          AND (LOWER(c.name) LIKE $1 OR LOWER(c.description) LIKE $1)
        ORDER BY c.name
        LIMIT $3`,
		pattern, userID, limit)
	if err != nil {
		utils.LogError("community search", err)
		return results
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var name, slug, description string
		var logo *string
		var memberCount int

		if err := rows.Scan(&id, &name, &slug, &description, &logo, &memberCount); err != nil {
			continue
		}
		results = append(results, fiber.Map{
			"id":           id,
			"name":         name,
			"slug":         slug,
			"snippet":      searchSnippet(description, q, 150),
			"logo":         logo,
			"member_count": memberCount,
		})
	}
	return results
}

func (h *SearchHandler) searchPeople(ctx context.Context, pattern string, limit int) []fiber.Map {
	results := []fiber.Map{}

	rows, err := h.db.Query(ctx, `
        SELECT id, username, first_name, last_name, profile_picture
        FROM users
        WHERE is_active = true AND deleted_at IS NULL
          AND (LOWER(username) LIKE $1
               OR LOWER(first_name || ' ' || last_name) LIKE $1)
        ORDER BY username
        LIMIT $2`,
		pattern, limit)
	if err != nil {
		utils.LogError("people search", err)
		return results
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var username, firstName, lastName string
		var profilePicture *string

		if err := rows.Scan(&id, &username, &firstName, &lastName, &profilePicture); err != nil {
			continue
		}
		results = append(results, fiber.Map{
			"id":              id,
			"username":        username,
			"first_name":      firstName,
			"last_name":       lastName,
			"profile_picture": profilePicture,
		})
	}
	return results
}
