package services

import (
	"log"
	"os"
	"strings"
	"time"

	"cos-backend/middleware"
)

// StartAdminAllowlistRefresher starts a background goroutine that refreshes the admin allowlist every 5 seconds
func StartAdminAllowlistRefresher() {
	filePath := strings.TrimSpace(os.Getenv("ADMIN_USER_IDS_FILE"))
	// initial load
	m, _ := middleware.LoadAllowlistFromSources(os.Getenv("ADMIN_USER_IDS"), filePath)
	middleware.StoreAllowlist(m)
	go func() {
		var lastSig string
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			m, sig := middleware.LoadAllowlistFromSources(os.Getenv("ADMIN_USER_IDS"), filePath)
			if sig != lastSig {
				middleware.StoreAllowlist(m)
				lastSig = sig
				log.Printf("🔄 Admin allowlist reloaded (%d entries)", len(m))
			}
		}
	}()
}
