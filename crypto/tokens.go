package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// TicketSigner produces and verifies HMAC signatures for attendance QR
// payloads. The signed payload is "<qr_uuid>:<unix_timestamp>", so a ticket
// rendered on a participant's screen cannot be forged for another QR code.
type TicketSigner struct {
	secret []byte
}

// NewTicketSigner creates a TicketSigner with the given server secret.
func NewTicketSigner(secret []byte) *TicketSigner {
	return &TicketSigner{secret: secret}
}

// Sign returns the hex-encoded HMAC-SHA256 signature for a QR code at the
// given unix timestamp.
func (s *TicketSigner) Sign(qrCode string, timestamp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", qrCode, timestamp)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign using constant-time comparison.
func (s *TicketSigner) Verify(qrCode string, timestamp int64, signature string) bool {
	expected := s.Sign(qrCode, timestamp)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// NewInviteToken generates an opaque URL-safe token for community invites.
func NewInviteToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewCertToken generates the public verification token embedded in
// certificate URLs.
func NewCertToken() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
