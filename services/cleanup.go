package services

import (
	"context"
	"log"
	"time"
)

// StartCleanupService starts a background cleanup service that runs every 24 hours
func StartCleanupService(db Database) {
	go func() {
		ctx := context.Background()
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		// Run initial cleanup
		RunCleanupTasks(ctx, db)

		for range ticker.C {
			RunCleanupTasks(ctx, db)
		}
	}()
}

// RunCleanupTasks performs cleanup operations on the database
func RunCleanupTasks(ctx context.Context, db Database) {
	log.Println("🧹 Running scheduled cleanup tasks...")

	// Note: Session cleanup is handled by Redis TTL

	// Reset failed login attempts for users who are no longer locked
	result, err := db.Exec(ctx, `
		UPDATE users
		SET failed_attempts = 0
		WHERE locked_until IS NOT NULL AND locked_until < NOW()
	`)
	if err != nil {
		log.Printf("⚠️ Failed to reset failed login attempts: %v", err)
	} else if result.RowsAffected() > 0 {
		log.Printf("✅ Reset failed login attempts for %d users", result.RowsAffected())
	}

	// Deactivate community invites past their expiry
	_, err = db.Exec(ctx, "SELECT deactivate_expired_invites()")
	if err != nil {
		log.Printf("⚠️ Failed to deactivate expired invites: %v", err)
	} else {
		log.Println("✅ Deactivated expired community invites")
	}

	// Drop scan audit rows older than 180 days
	result, err = db.Exec(ctx, `DELETE FROM scan_logs WHERE created_at < NOW() - INTERVAL '180 days'`)
	if err != nil {
		log.Printf("⚠️ Failed to prune old scan logs: %v", err)
	} else if result.RowsAffected() > 0 {
		log.Printf("🗑️ Pruned %d scan log entries older than 180 days", result.RowsAffected())
	}

	// Drop read notifications older than 90 days
	result, err = db.Exec(ctx, `DELETE FROM notifications WHERE is_read = true AND created_at < NOW() - INTERVAL '90 days'`)
	if err != nil {
		log.Printf("⚠️ Failed to prune read notifications: %v", err)
	} else if result.RowsAffected() > 0 {
		log.Printf("🗑️ Pruned %d read notifications older than 90 days", result.RowsAffected())
	}

	log.Println("🎯 Cleanup tasks completed successfully")
}
