package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	qrcode "github.com/skip2/go-qrcode"

	"cos-backend/crypto"
)

// TicketPayload is the signed check-in token handed to the mobile ticket view.
// Static QR codes carry only the bare qr_uuid; dynamic tickets also carry the
// timestamp and HMAC signature so scanners can detect screenshots of old
// tickets.
type TicketPayload struct {
	QRUUID      string `json:"qr_uuid"`
	Timestamp   int64  `json:"timestamp"`
	Signature   string `json:"signature"`
	FullPayload string `json:"full_payload"`
}

// AttendanceSnapshot represents cached live attendance counters in Redis
type AttendanceSnapshot struct {
	Registered int       `json:"registered"`
	CheckedIn  int       `json:"checked_in"`
	CheckedOut int       `json:"checked_out"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// attendanceSnapshotTTL keeps the live dashboard at most this far behind
const attendanceSnapshotTTL = 10 * time.Second

// TicketService issues signed tickets, renders QR images and caches
// live attendance counters in Redis
type TicketService struct {
	rdb    *redis.Client
	signer *crypto.TicketSigner
}

// NewTicketService creates a new ticket service
func NewTicketService(rdb *redis.Client, signer *crypto.TicketSigner) *TicketService {
	return &TicketService{rdb: rdb, signer: signer}
}

// IssueTicket builds a signed ticket payload for the given attendance QR code
func (s *TicketService) IssueTicket(qrCode string) TicketPayload {
	timestamp := time.Now().Unix()
	signature := s.signer.Sign(qrCode, timestamp)
	return TicketPayload{
		QRUUID:      qrCode,
		Timestamp:   timestamp,
		Signature:   signature,
		FullPayload: fmt.Sprintf("%s:%d:%s", qrCode, timestamp, signature),
	}
}

// VerifyTicket checks a dynamic ticket signature
func (s *TicketService) VerifyTicket(qrCode string, timestamp int64, signature string) bool {
	return s.signer.Verify(qrCode, timestamp, signature)
}

// TicketPNG renders the attendance QR code as a PNG image.
// The image encodes only the bare qr_uuid so printed tickets stay valid.
func (s *TicketService) TicketPNG(qrCode string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(qrCode, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to render QR image: %w", err)
	}
	return png, nil
}

// CacheAttendanceSnapshot stores live attendance counters in Redis with a short TTL
func (s *TicketService) CacheAttendanceSnapshot(ctx context.Context, eventID string, snap AttendanceSnapshot) error {
	key := fmt.Sprintf("attendance_live:%s", eventID)

	jsonData, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal attendance snapshot: %w", err)
	}

	if err := s.rdb.Set(ctx, key, jsonData, attendanceSnapshotTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache attendance snapshot: %w", err)
	}

	return nil
}

// GetAttendanceSnapshot retrieves cached attendance counters from Redis.
// Returns nil when no fresh snapshot exists.
func (s *TicketService) GetAttendanceSnapshot(ctx context.Context, eventID string) (*AttendanceSnapshot, error) {
	key := fmt.Sprintf("attendance_live:%s", eventID)

	jsonData, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil // Not found in cache
	} else if err != nil {
		return nil, fmt.Errorf("failed to get attendance snapshot from cache: %w", err)
	}

	var snap AttendanceSnapshot
	if err := json.Unmarshal([]byte(jsonData), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attendance snapshot: %w", err)
	}

	return &snap, nil
}

// InvalidateAttendanceSnapshot drops the cached counters after a scan
// so the next dashboard poll sees the new state immediately
func (s *TicketService) InvalidateAttendanceSnapshot(ctx context.Context, eventID string) error {
	key := fmt.Sprintf("attendance_live:%s", eventID)

	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate attendance snapshot: %w", err)
	}

	return nil
}
