package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"golang.org/x/crypto/argon2"
)

func newSalt(t testing.TB) []byte {
	t.Helper()
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		t.Fatalf("Failed to generate salt: %v", err)
	}
	return salt
}

// TestHashPasswordEncoding checks the encoded form carries the algorithm,
// version and cost parameters the verifier expects.
func TestHashPasswordEncoding(t *testing.T) {
	hash := HashPassword("CampusPass123!", newSalt(t))

	parts := strings.Split(hash, "$")
	if len(parts) != 6 {
		t.Fatalf("Hash should have 6 parts, got %d", len(parts))
	}
	if parts[1] != "argon2id" {
		t.Errorf("Expected algorithm argon2id, got %s", parts[1])
	}
	if parts[2] != "v=19" {
		t.Errorf("Expected version v=19, got %s", parts[2])
	}
	if parts[3] != "m=65536,t=3,p=4" {
		t.Errorf("Expected parameters m=65536,t=3,p=4, got %s", parts[3])
	}
}

// TestHashPasswordDeterministic ensures the derivation is a pure function of
// password and salt, which login depends on.
func TestHashPasswordDeterministic(t *testing.T) {
	salt := newSalt(t)
	if HashPassword("OrientationWeek25", salt) != HashPassword("OrientationWeek25", salt) {
		t.Error("Same password and salt should produce same hash")
	}
}

func TestHashPasswordSaltAndPasswordSensitivity(t *testing.T) {
	salt := newSalt(t)
	if HashPassword("SamePassword123", salt) == HashPassword("SamePassword123", newSalt(t)) {
		t.Error("Different salts should produce different hashes")
	}
	if HashPassword("Password1", salt) == HashPassword("Password2", salt) {
		t.Error("Different passwords should produce different hashes with the same salt")
	}
}

func TestVerifyPassword(t *testing.T) {
	hash := HashPassword("CorrectHorse9!", newSalt(t))

	if !VerifyPassword("CorrectHorse9!", hash) {
		t.Error("VerifyPassword should accept the correct password")
	}

	rejected := []string{
		"WrongHorse9!",
		"correcthorse9!",
		"CORRECTHORSE9!",
		"CorrectHorse9",
		"CorrectHorse9!!",
		"",
		strings.Repeat("X", 100),
	}
	for _, candidate := range rejected {
		if VerifyPassword(candidate, hash) {
			t.Errorf("VerifyPassword should reject %q", candidate)
		}
	}
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	cases := []struct {
		name string
		hash string
	}{
		{"empty hash", ""},
		{"not a hash at all", "not-a-valid-hash"},
		{"truncated", "$argon2id$v=19$m=65536"},
		{"wrong algorithm", "$bcrypt$v=19$m=65536,t=3,p=4$salt$hash"},
		{"wrong version", "$argon2id$v=16$m=65536,t=3,p=4$c2FsdA$aGFzaA"},
		{"garbage parameters", "$argon2id$v=19$m=lots,t=3,p=4$c2FsdA$aGFzaA"},
		{"bad salt encoding", "$argon2id$v=19$m=65536,t=3,p=4$***$aGFzaA"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if VerifyPassword("SomePassword123", tc.hash) {
				t.Errorf("VerifyPassword should reject %s", tc.name)
			}
		})
	}
}

// TestVerifyPasswordHonorsStoredParameters minted a hash under lighter cost
// settings and checks it still verifies; accounts created before a cost bump
// must keep working.
func TestVerifyPasswordHonorsStoredParameters(t *testing.T) {
	password := "LegacyAccount42!"
	salt := newSalt(t)

	key := argon2.IDKey([]byte(password), salt, 2, 32*1024, 2, 32)
	legacy := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, 32*1024, 2, 2,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key))

	if !VerifyPassword(password, legacy) {
		t.Error("Hash with older cost parameters should still verify")
	}
	if VerifyPassword("LegacyAccount42", legacy) {
		t.Error("Wrong password should fail against a legacy hash")
	}
}

func TestHashPasswordUnusualInputs(t *testing.T) {
	passwords := []string{
		"",
		"P@ssw0rd!",
		"Unicode密码测试",
		"Emoji😀🎟️",
		"Newline\nPassword",
		"Tab\tPassword",
		strings.Repeat("LongPassword123!", 62) + "Long",
	}

	for _, password := range passwords {
		hash := HashPassword(password, newSalt(t))
		if !strings.HasPrefix(hash, "$argon2id$") {
			t.Errorf("Password %q should still produce a valid hash", password)
		}
		if !VerifyPassword(password, hash) {
			t.Errorf("Password %q should round-trip through verify", password)
		}
	}
}

func BenchmarkHashPassword(b *testing.B) {
	salt := newSalt(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = HashPassword("BenchmarkPassword123!", salt)
	}
}

func BenchmarkVerifyPassword(b *testing.B) {
	salt := newSalt(b)
	hash := HashPassword("BenchmarkPassword123!", salt)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = VerifyPassword("BenchmarkPassword123!", hash)
	}
}
