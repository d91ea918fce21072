package middleware

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Database interface for database operations
type Database interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Community membership roles, ordered from most to least privileged
const (
	RoleOwner       = "owner"
	RoleAdmin       = "admin"
	RoleOrganizer   = "organizer"
	RoleMember      = "member"
	RoleParticipant = "participant"
)

// ManagerRoles are the community roles allowed to manage events and scans
var ManagerRoles = []string{RoleOwner, RoleAdmin, RoleOrganizer}

// --- Dynamic admin allowlist with hot-reload support ---
var adminAllowlist atomic.Value // holds map[string]struct{}

func init() {
	adminAllowlist.Store(make(map[string]struct{}))
}

// CurrentAllowlist returns the current admin allowlist
func CurrentAllowlist() map[string]struct{} {
	v := adminAllowlist.Load()
	if v == nil {
		return map[string]struct{}{}
	}
	return v.(map[string]struct{})
}

// IsUserInAdminAllowlist checks if a user ID is in the admin allowlist
func IsUserInAdminAllowlist(userID string) bool {
	if _, ok := CurrentAllowlist()[strings.TrimSpace(userID)]; ok {
		return true
	}
	// Backward-compat: also check process env in case watcher not configured
	envAdmins := strings.Split(os.Getenv("ADMIN_USER_IDS"), ",")
	for _, a := range envAdmins {
		if strings.TrimSpace(a) == strings.TrimSpace(userID) {
			return true
		}
	}
	return false
}

// LoadAllowlistFromSources loads admin allowlist from environment and file
func LoadAllowlistFromSources(envList string, filePath string) (map[string]struct{}, string) {
	m := make(map[string]struct{})
	var buf bytes.Buffer
	// include env first
	if envList != "" {
		buf.WriteString("ENV:")
		buf.WriteString(envList)
		buf.WriteString("\n")
		for _, a := range strings.Split(envList, ",") {
			a = strings.TrimSpace(a)
			if a != "" {
				m[a] = struct{}{}
			}
		}
	}
	// include file if present
	if filePath != "" {
		if f, err := os.Open(filePath); err == nil {
			defer func() {
				_ = f.Close() // Best effort cleanup
			}()
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line != "" && !strings.HasPrefix(line, "#") {
					m[line] = struct{}{}
					buf.WriteString("FILE:")
					buf.WriteString(line)
					buf.WriteString("\n")
				}
			}
		}
	}
	return m, buf.String()
}

// StoreAllowlist updates the global admin allowlist
func StoreAllowlist(allowlist map[string]struct{}) {
	adminAllowlist.Store(allowlist)
}

// GetUserIDFromToken extracts user ID from JWT token stored in Fiber context
func GetUserIDFromToken(c *fiber.Ctx) (uuid.UUID, error) {
	userID, ok := c.Locals("user_id").(uuid.UUID)
	if !ok {
		return uuid.Nil, fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// RequireSuperuser creates a Fiber middleware that restricts a route to
// platform superusers
func RequireSuperuser(db Database) fiber.Handler {
	return func(c *fiber.Ctx) error {
		v := c.Locals("user_id")
		if v == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}
		var uid uuid.UUID
		switch t := v.(type) {
		case uuid.UUID:
			uid = t
		case string:
			parsed, err := uuid.Parse(t)
			if err != nil {
				return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
			}
			uid = parsed
		default:
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
		}
		if !IsSuperuser(c.Context(), db, uid) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
		}
		return c.Next()
	}
}

// IsSuperuser checks the users table flag and the admin allowlist
func IsSuperuser(ctx context.Context, db Database, userID uuid.UUID) bool {
	var isSuper bool
	if err := db.QueryRow(ctx, "SELECT is_superuser FROM users WHERE id = $1", userID).Scan(&isSuper); err == nil && isSuper {
		return true
	}
	return IsUserInAdminAllowlist(userID.String())
}

// CommunityRole returns the active membership role of a user in a community,
// or an empty string when the user is not an active member
func CommunityRole(ctx context.Context, db Database, userID, communityID uuid.UUID) string {
	var role string
	err := db.QueryRow(ctx, `
        SELECT role FROM community_memberships
        WHERE community_id = $1 AND user_id = $2 AND is_active = true`,
		communityID, userID).Scan(&role)
	if err != nil {
		return ""
	}
	return role
}

// HasCommunityRole checks whether the user holds one of the given roles in the community
func HasCommunityRole(ctx context.Context, db Database, userID, communityID uuid.UUID, roles ...string) bool {
	current := CommunityRole(ctx, db, userID, communityID)
	if current == "" {
		return false
	}
	for _, r := range roles {
		if r == current {
			return true
		}
	}
	return false
}

// CanManageEvent reports whether a user may manage an event: its organizer,
// an active staff member, a community owner/admin/organizer, or a superuser
func CanManageEvent(ctx context.Context, db Database, userID, eventID uuid.UUID) bool {
	var organizerID uuid.UUID
	var communityID *uuid.UUID
	err := db.QueryRow(ctx, "SELECT organizer_id, community_id FROM events WHERE id = $1", eventID).Scan(&organizerID, &communityID)
	if err != nil {
		return false
	}

	if organizerID == userID {
		return true
	}

	var onTeam bool
	_ = db.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM event_team_members
            WHERE event_id = $1 AND user_id = $2 AND is_active = true
        )`, eventID, userID).Scan(&onTeam)
	if onTeam {
		return true
	}

	if communityID != nil && HasCommunityRole(ctx, db, userID, *communityID, ManagerRoles...) {
		return true
	}

	return IsSuperuser(ctx, db, userID)
}
