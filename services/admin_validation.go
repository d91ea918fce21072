package services

import (
	"context"
	"fmt"
	"log"
	"time"
)

// ValidateAdminAccess checks that at least one superuser account is reachable.
// Optimized version with a combined query and early exits.
func ValidateAdminAccess(db Database, adminEmail string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Println("🔍 Validating admin access...")

	// Combined query: Check user count and admin existence in a single query for efficiency
	var userCount int
	var adminExists bool
	err := db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users WHERE deleted_at IS NULL) as user_count,
			EXISTS(SELECT 1 FROM users WHERE LOWER(email) = LOWER($1) AND is_superuser = true AND deleted_at IS NULL) as admin_exists
	`, adminEmail).Scan(&userCount, &adminExists)

	if err != nil {
		return fmt.Errorf("failed to check user status: %w", err)
	}

	if userCount == 0 {
		log.Println("✅ No users found - fresh installation, no admin validation needed")
		return nil
	}

	if adminExists {
		log.Printf("✅ Admin user accessible (%d users total)", userCount)
		return nil
	}

	// Configured admin missing; check whether any other superuser exists
	var superuserCount int
	err = db.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE is_superuser = true AND deleted_at IS NULL`).Scan(&superuserCount)
	if err != nil {
		return fmt.Errorf("failed to count superusers: %w", err)
	}

	if superuserCount > 0 {
		log.Printf("ℹ️  Configured admin email %s not found, but %d other superuser(s) exist", adminEmail, superuserCount)
		return nil
	}

	log.Printf("⚠️  ADMIN ACCESS ISSUE DETECTED!")
	log.Printf("   - Admin email: %s", adminEmail)
	log.Printf("   - No superuser account exists among %d users", userCount)
	log.Printf("")
	log.Printf("🔧 RECOVERY OPTIONS:")
	log.Printf("   1. Set ENABLE_DEFAULT_ADMIN=true and restart to create the default admin")
	log.Printf("   2. Add an existing user ID to ADMIN_USER_IDS to grant admin access")

	return fmt.Errorf("no superuser account reachable - see logs for recovery instructions")
}
