package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestGetEnvOrDefault(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		expected     string
	}{
		{"returns env value when set", "TEST_KEY", "default", "env_value", "env_value"},
		{"returns default when not set", "NONEXISTENT_KEY", "default", "", "default"},
		{"returns empty string when env is empty", "EMPTY_KEY", "default", "", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}
			result := GetEnvOrDefault(tt.key, tt.defaultValue)
			if result != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, result)
			}
		})
	}
}

func TestGetEnvAsBool(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue bool
		envValue     string
		expected     bool
	}{
		{"returns true for 'true'", "BOOL_KEY", false, "true", true},
		{"returns true for '1'", "BOOL_KEY", false, "1", true},
		{"returns true for 'yes'", "BOOL_KEY", false, "yes", true},
		{"returns false for 'false'", "BOOL_KEY", true, "false", false},
		{"returns false for '0'", "BOOL_KEY", true, "0", false},
		{"returns false for 'no'", "BOOL_KEY", true, "no", false},
		{"returns default for invalid", "BOOL_KEY", true, "invalid", true},
		{"returns default when not set", "NONEXISTENT_BOOL", false, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			} else {
				os.Unsetenv(tt.key)
			}
			result := GetEnvAsBool(tt.key, tt.defaultValue)
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		expected     int
	}{
		{"returns int value", "INT_KEY", 10, "42", 42},
		{"returns default for invalid", "INT_KEY", 10, "invalid", 10},
		{"returns default when not set", "NONEXISTENT_INT", 99, "", 99},
		{"handles negative numbers", "INT_KEY", 0, "-5", -5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			} else {
				os.Unsetenv(tt.key)
			}
			result := GetEnvAsInt(tt.key, tt.defaultValue)
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}

func TestGetEnvAsStringSlice(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue []string
		envValue     string
		expected     []string
	}{
		{"returns slice from comma-separated", "SLICE_KEY", []string{"default"}, "a,b,c", []string{"a", "b", "c"}},
		{"trims whitespace", "SLICE_KEY", []string{}, "a, b , c", []string{"a", "b", "c"}},
		{"returns default when not set", "NONEXISTENT_SLICE", []string{"x", "y"}, "", []string{"x", "y"}},
		{"handles single value", "SLICE_KEY", []string{}, "single", []string{"single"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			} else {
				os.Unsetenv(tt.key)
			}
			result := GetEnvAsStringSlice(tt.key, tt.defaultValue)
			if len(result) != len(tt.expected) {
				t.Errorf("expected length %d, got %d", len(tt.expected), len(result))
				return
			}
			for i := range result {
				if result[i] != tt.expected[i] {
					t.Errorf("expected %v, got %v", tt.expected, result)
					return
				}
			}
		})
	}
}

func TestNormalizeRedisAddress(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"handles plain host:port", "localhost:6379", "localhost:6379"},
		{"extracts host from redis URL", "redis://localhost:6379", "localhost:6379"},
		{"extracts host with auth", "redis://:password@localhost:6379", "localhost:6379"},
		{"handles empty string", "", ""},
		{"handles invalid URL gracefully", "not a url", "not a url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := normalizeRedisAddress(tt.input)
			if result != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, result)
			}
		})
	}
}

func TestResolveRedisPassword(t *testing.T) {
	tests := []struct {
		name     string
		redisURL string
		explicit string
		expected string
	}{
		{"prefers explicit password", "redis://:urlpass@localhost:6379", "explicit", "explicit"},
		{"extracts from URL when no explicit", "redis://:urlpass@localhost:6379", "", "urlpass"},
		{"returns empty when no password", "redis://localhost:6379", "", ""},
		{"handles plain address", "localhost:6379", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := resolveRedisPassword(tt.redisURL, tt.explicit)
			if result != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, result)
			}
		})
	}
}

func TestBuildDatabaseURLFromEnv(t *testing.T) {
	// Save original env
	originalEnvs := []struct {
		key   string
		value string
	}{
		{"POSTGRESQL_HOST", os.Getenv("POSTGRESQL_HOST")},
		{"POSTGRESQL_USER", os.Getenv("POSTGRESQL_USER")},
		{"POSTGRESQL_PASSWORD", os.Getenv("POSTGRESQL_PASSWORD")},
		{"POSTGRESQL_DATABASE", os.Getenv("POSTGRESQL_DATABASE")},
		{"POSTGRESQL_PORT", os.Getenv("POSTGRESQL_PORT")},
	}
	defer func() {
		for _, env := range originalEnvs {
			if env.value != "" {
				os.Setenv(env.key, env.value)
			} else {
				os.Unsetenv(env.key)
			}
		}
	}()

	t.Run("returns empty when required vars missing", func(t *testing.T) {
		os.Unsetenv("POSTGRESQL_HOST")
		os.Unsetenv("POSTGRESQL_USER")
		os.Unsetenv("POSTGRESQL_DATABASE")
		result := buildDatabaseURLFromEnv()
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("builds URL with all vars set", func(t *testing.T) {
		os.Setenv("POSTGRESQL_HOST", "localhost")
		os.Setenv("POSTGRESQL_USER", "testuser")
		os.Setenv("POSTGRESQL_PASSWORD", "testpass")
		os.Setenv("POSTGRESQL_DATABASE", "testdb")
		os.Setenv("POSTGRESQL_PORT", "5432")

		result := buildDatabaseURLFromEnv()
		if result == "" {
			t.Error("expected non-empty URL")
		}
		if !strings.Contains(result, "testuser") || !strings.Contains(result, "localhost") || !strings.Contains(result, "testdb") {
			t.Errorf("URL missing expected components: %s", result)
		}
	})
}

func TestLoadConfigDefaults(t *testing.T) {
	// Strong secrets so LoadConfig passes validation
	setEnv := map[string]string{
		"JWT_SECRET":            "k9PzQvR3mX7bN1cW5dJ8hL2fT6gY4sA0uE3iO5rM",
		"SERVER_ENCRYPTION_KEY": "m2XwB8qN4vC7zK1pR5tH9jL3fD6gS0aY8uI4oE2r",
	}
	clearEnv := []string{
		"PORT", "WEB_CONCURRENCY", "APP_ENV", "ACCESS_TOKEN_MINUTES",
		"REFRESH_TOKEN_HOURS", "DEFAULT_FROM_EMAIL", "RATE_LIMIT_MODE",
		"MEDIA_ROOT", "STATIC_SRC_DIR", "STATIC_ROOT", "REDIS_URL", "REDIS_PASSWORD",
	}
	saved := map[string]string{}
	for k, v := range setEnv {
		saved[k] = os.Getenv(k)
		os.Setenv(k, v)
	}
	for _, k := range clearEnv {
		saved[k] = os.Getenv(k)
		os.Unsetenv(k)
	}
	defer func() {
		for k, v := range saved {
			if v != "" {
				os.Setenv(k, v)
			} else {
				os.Unsetenv(k)
			}
		}
	}()

	cfg := LoadConfig()

	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.WorkerCount != 2 {
		t.Errorf("expected default worker count 2, got %d", cfg.WorkerCount)
	}
	if cfg.Environment != "development" {
		t.Errorf("expected default environment development, got %s", cfg.Environment)
	}
	if cfg.AccessTokenTTL != time.Hour {
		t.Errorf("expected 60m access token TTL, got %v", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 168*time.Hour {
		t.Errorf("expected 7d refresh token TTL, got %v", cfg.RefreshTokenTTL)
	}
	if cfg.SessionDuration != 24*time.Hour {
		t.Errorf("expected 24h session duration, got %v", cfg.SessionDuration)
	}
	if cfg.DefaultFromEmail != "noreply@cos.local" {
		t.Errorf("expected default from address, got %s", cfg.DefaultFromEmail)
	}
	if cfg.StaticSrcDir != "./static" || cfg.StaticRoot != "./staticfiles" {
		t.Errorf("expected default static dirs, got %s / %s", cfg.StaticSrcDir, cfg.StaticRoot)
	}
	if cfg.MediaRoot != "./media" {
		t.Errorf("expected default media root, got %s", cfg.MediaRoot)
	}

	t.Run("worker count honors WEB_CONCURRENCY", func(t *testing.T) {
		os.Setenv("WEB_CONCURRENCY", "8")
		defer os.Unsetenv("WEB_CONCURRENCY")
		cfg := LoadConfig()
		if cfg.WorkerCount != 8 {
			t.Errorf("expected worker count 8, got %d", cfg.WorkerCount)
		}
	})

	t.Run("worker count clamps to at least 1", func(t *testing.T) {
		os.Setenv("WEB_CONCURRENCY", "0")
		defer os.Unsetenv("WEB_CONCURRENCY")
		cfg := LoadConfig()
		if cfg.WorkerCount != 1 {
			t.Errorf("expected worker count clamped to 1, got %d", cfg.WorkerCount)
		}
	})
}
