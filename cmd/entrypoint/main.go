package main

import (
	"log"
	"os"
	"syscall"
	"time"
)

// A tiny entrypoint that ensures sane env defaults and then execs the server
// binary. Keeping the defaults here means the image runs correctly even when
// the orchestrator injects nothing.
func main() {
	defaults := map[string]string{
		"PORT":            "8000",
		"APP_ENV":         "development",
		"WEB_CONCURRENCY": "2",
	}
	for key, value := range defaults {
		if os.Getenv(key) == "" {
			_ = os.Setenv(key, value)
		}
	}

	// Optional startup delay for orchestrators that attach networks late
	if delay := os.Getenv("STARTUP_DELAY"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil && d > 0 {
			log.Printf("Applying startup delay: %v", d)
			time.Sleep(d)
		}
	}

	target := os.Getenv("BACKEND_BINARY")
	if target == "" {
		target = "/app/main"
	}
	if err := syscall.Exec(target, []string{target}, os.Environ()); err != nil {
		log.Fatalf("failed to exec %s: %v", target, err)
	}
}
