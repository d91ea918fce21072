package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"
)

// TestNewCryptoService tests the creation of a new CryptoService
func TestNewCryptoService(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	if err != nil {
		t.Fatalf("Failed to generate random key: %v", err)
	}

	cs := NewCryptoService(key)
	if cs == nil {
		t.Fatal("NewCryptoService returned nil")
	}
	if !bytes.Equal(cs.serverKey, key) {
		t.Error("CryptoService key does not match provided key")
	}
}

// TestEncryptDecrypt tests basic encryption and decryption round trip
func TestEncryptDecrypt(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	if err != nil {
		t.Fatalf("Failed to generate random key: %v", err)
	}

	cs := NewCryptoService(key)
	plaintext := []byte("session payload")

	ciphertext, err := cs.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if bytes.Equal(ciphertext, plaintext) {
		t.Error("Ciphertext should not equal plaintext")
	}

	decrypted, err := cs.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}

	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("Decrypted text does not match original.\nExpected: %s\nGot: %s", plaintext, decrypted)
	}
}

// TestEncryptRandomness tests that encryption produces different ciphertexts for the same plaintext
func TestEncryptRandomness(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	if err != nil {
		t.Fatalf("Failed to generate random key: %v", err)
	}

	cs := NewCryptoService(key)
	plaintext := []byte("Same plaintext")

	ciphertext1, err := cs.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("First encrypt failed: %v", err)
	}

	ciphertext2, err := cs.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Second encrypt failed: %v", err)
	}

	// Two encryptions of the same plaintext should produce different ciphertexts (due to random nonce)
	if bytes.Equal(ciphertext1, ciphertext2) {
		t.Error("Two encryptions of the same plaintext should produce different ciphertexts")
	}

	decrypted1, _ := cs.Decrypt(ciphertext1)
	decrypted2, _ := cs.Decrypt(ciphertext2)
	if !bytes.Equal(decrypted1, plaintext) || !bytes.Equal(decrypted2, plaintext) {
		t.Error("Both ciphertexts should decrypt to the same plaintext")
	}
}

// TestDecryptInvalidCiphertext tests decryption with invalid data
func TestDecryptInvalidCiphertext(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	if err != nil {
		t.Fatalf("Failed to generate random key: %v", err)
	}

	cs := NewCryptoService(key)

	t.Run("Too short", func(t *testing.T) {
		_, err := cs.Decrypt([]byte("short"))
		if err == nil {
			t.Error("Decrypt should fail on ciphertext shorter than the nonce")
		}
	})

	t.Run("Tampered", func(t *testing.T) {
		ciphertext, err := cs.Encrypt([]byte("integrity matters"))
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		ciphertext[len(ciphertext)-1] ^= 0xff
		if _, err := cs.Decrypt(ciphertext); err == nil {
			t.Error("Decrypt should fail on tampered ciphertext")
		}
	})

	t.Run("Wrong key", func(t *testing.T) {
		ciphertext, err := cs.Encrypt([]byte("secret"))
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		otherKey := make([]byte, 32)
		if _, err := rand.Read(otherKey); err != nil {
			t.Fatalf("Failed to generate key: %v", err)
		}
		other := NewCryptoService(otherKey)
		if _, err := other.Decrypt(ciphertext); err == nil {
			t.Error("Decrypt should fail with a different key")
		}
	})
}

// TestTicketSigner tests HMAC signing and verification of QR payloads
func TestTicketSigner(t *testing.T) {
	secret := []byte("a-sufficiently-long-signing-secret")
	signer := NewTicketSigner(secret)

	qrCode := "550e8400-e29b-41d4-a716-446655440000"
	now := time.Now().Unix()

	sig := signer.Sign(qrCode, now)
	if sig == "" {
		t.Fatal("Sign returned empty signature")
	}
	if len(sig) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(sig))
	}

	if !signer.Verify(qrCode, now, sig) {
		t.Error("Verify should accept a valid signature")
	}

	t.Run("Different timestamp rejected", func(t *testing.T) {
		if signer.Verify(qrCode, now+1, sig) {
			t.Error("Verify should reject a signature for a different timestamp")
		}
	})

	t.Run("Different QR rejected", func(t *testing.T) {
		if signer.Verify("00000000-0000-0000-0000-000000000000", now, sig) {
			t.Error("Verify should reject a signature for a different QR code")
		}
	})

	t.Run("Different secret rejected", func(t *testing.T) {
		other := NewTicketSigner([]byte("another-signing-secret-entirely!"))
		if other.Verify(qrCode, now, sig) {
			t.Error("Verify should reject a signature from a different secret")
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		if signer.Sign(qrCode, now) != sig {
			t.Error("Sign should be deterministic for the same inputs")
		}
	})
}

// TestNewInviteToken tests invite token generation
func TestNewInviteToken(t *testing.T) {
	token1, err := NewInviteToken()
	if err != nil {
		t.Fatalf("NewInviteToken failed: %v", err)
	}
	token2, err := NewInviteToken()
	if err != nil {
		t.Fatalf("NewInviteToken failed: %v", err)
	}

	if token1 == token2 {
		t.Error("Invite tokens should be unique")
	}
	if len(token1) > 64 {
		t.Errorf("Invite token exceeds column width: %d chars", len(token1))
	}
	if _, err := base64.RawURLEncoding.DecodeString(token1); err != nil {
		t.Errorf("Invite token should be URL-safe base64: %v", err)
	}
}

// TestNewCertToken tests certificate verification token generation
func TestNewCertToken(t *testing.T) {
	token1 := NewCertToken()
	token2 := NewCertToken()

	if token1 == token2 {
		t.Error("Certificate tokens should be unique")
	}
	if len(token1) != 32 {
		t.Errorf("Expected 32 hex chars, got %d", len(token1))
	}
	for _, r := range token1 {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			t.Errorf("Certificate token should be lowercase hex, found %q", r)
			break
		}
	}
}
