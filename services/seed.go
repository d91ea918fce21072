package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"cos-backend/crypto"
)

// Demo accounts all share this password. Never enable demo seeding in
// production.
const demoPassword = "password"

type demoEvent struct {
	title       string
	description string
	eventType   string
	venue       string
	banner      string
	startsIn    time.Duration
	duration    time.Duration
}

var demoEvents = []demoEvent{
	{
		title:       "AI Revolution Summit",
		description: "Join us for a deep dive into Large Language Models and the future of generative AI. Keynote speakers from top tech firms.",
		eventType:   "seminar",
		venue:       "Innovation Hub, Hall A",
		banner:      "https://images.unsplash.com/photo-1677442136019-21780ecad995?auto=format&fit=crop&w=800&q=80",
		startsIn:    5 * 24 * time.Hour,
		duration:    4 * time.Hour,
	},
	{
		title:       "Hackathon: Build for Good",
		description: "48-hour coding marathon to solve social issues. Prizes worth $5k!",
		eventType:   "fest",
		venue:       "Online",
		banner:      "https://images.unsplash.com/photo-1504384308090-c54be38558bd?auto=format&fit=crop&w=800&q=80",
		startsIn:    12 * 24 * time.Hour,
		duration:    48 * time.Hour,
	},
	{
		title:       "Tech Mixer Night",
		description: "Networking event for local developers and designers. Free pizza!",
		eventType:   "other",
		venue:       "Downtown Cafe",
		banner:      "https://images.unsplash.com/photo-1515187029135-18ee286d815b?auto=format&fit=crop&w=800&q=80",
		startsIn:    2 * 24 * time.Hour,
		duration:    3 * time.Hour,
	},
	{
		title:       "Future of Web Development",
		description: "Exploring new frameworks and the death of traditional DOM manipulation. Join us!",
		eventType:   "workshop",
		venue:       "Virtual",
		banner:      "https://images.unsplash.com/photo-1461749280684-dccba630e2f6?auto=format&fit=crop&w=800&q=80",
		startsIn:    20 * 24 * time.Hour,
		duration:    2 * time.Hour,
	},
}

var demoComments = []string{
	"This looks amazing! Can't wait.",
	"Is there a student discount?",
	"Registered! See you there.",
	"Will this be recorded?",
	"Love the venue choice!",
}

// SeedDemoData populates a sample community with events, memberships and
// feed interactions so a fresh install has something to look at. Keyed on
// the community slug, so running it twice changes nothing.
func SeedDemoData(db Database) error {
	ctx := context.Background()

	log.Println("🌱 Seeding demo data...")

	// The default admin owns the demo community
	var adminID uuid.UUID
	err := db.QueryRow(ctx,
		`SELECT id FROM users WHERE is_superuser = true AND deleted_at IS NULL ORDER BY created_at LIMIT 1`,
	).Scan(&adminID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("no superuser to own demo data; enable the default admin first")
		}
		return fmt.Errorf("failed to look up admin user: %w", err)
	}

	alice, err := ensureDemoUser(ctx, db, "alice", "alice@example.com", "Alice")
	if err != nil {
		return err
	}
	bob, err := ensureDemoUser(ctx, db, "bob", "bob@example.com", "Bob")
	if err != nil {
		return err
	}

	var communityID uuid.UUID
	err = db.QueryRow(ctx, `SELECT id FROM communities WHERE slug = 'tech-innovators'`).Scan(&communityID)
	if errors.Is(err, pgx.ErrNoRows) {
		err = db.QueryRow(ctx, `
            INSERT INTO communities (name, slug, description, primary_color, created_by, is_active)
            VALUES ('Tech Innovators', 'tech-innovators',
                    'A community for forward-thinking tech enthusiasts building the future.',
                    '#8b5cf6', $1, true)
            RETURNING id`, adminID).Scan(&communityID)
	}
	if err != nil {
		return fmt.Errorf("failed to ensure demo community: %w", err)
	}

	members := []struct {
		id   uuid.UUID
		role string
	}{
		{adminID, "owner"},
		{alice, "organizer"},
		{bob, "member"},
	}
	for _, m := range members {
		_, err = db.Exec(ctx, `
            INSERT INTO community_memberships (community_id, user_id, role, is_active)
            VALUES ($1, $2, $3, true)
            ON CONFLICT (community_id, user_id) DO NOTHING`,
			communityID, m.id, m.role)
		if err != nil {
			return fmt.Errorf("failed to add demo membership: %w", err)
		}
	}

	now := time.Now()
	for _, e := range demoEvents {
		var eventID uuid.UUID
		err = db.QueryRow(ctx,
			`SELECT id FROM events WHERE community_id = $1 AND title = $2`,
			communityID, e.title).Scan(&eventID)
		if errors.Is(err, pgx.ErrNoRows) {
			start := now.Add(e.startsIn)
			err = db.QueryRow(ctx, `
                INSERT INTO events (community_id, organizer_id, title, description,
                                    start_time, end_time, capacity, venue, banner,
                                    is_public, event_type, status)
                VALUES ($1, $2, $3, $4, $5, $6, 100, $7, $8, true, $9, 'approved')
                RETURNING id`,
				communityID, adminID, e.title, e.description,
				start, start.Add(e.duration), e.venue, e.banner, e.eventType).Scan(&eventID)
			if err == nil {
				log.Printf("🌱 Created demo event: %s", e.title)
			}
		}
		if err != nil {
			return fmt.Errorf("failed to ensure demo event %q: %w", e.title, err)
		}

		_, err = db.Exec(ctx, `
            INSERT INTO feed_items (type, event_id)
            SELECT 'event', $1
            WHERE NOT EXISTS (SELECT 1 FROM feed_items WHERE type = 'event' AND event_id = $1)`,
			eventID)
		if err != nil {
			return fmt.Errorf("failed to ensure demo feed item: %w", err)
		}

		for _, m := range members {
			var regID uuid.UUID
			err = db.QueryRow(ctx, `
                INSERT INTO event_registrations (user_id, event_id, status, payment_status)
                VALUES ($1, $2, 'approved', 'skipped')
                ON CONFLICT (user_id, event_id) DO UPDATE SET event_id = EXCLUDED.event_id
                RETURNING id`, m.id, eventID).Scan(&regID)
			if err != nil {
				return fmt.Errorf("failed to ensure demo registration: %w", err)
			}
			_, err = db.Exec(ctx, `
                INSERT INTO event_attendance (registration_id)
                VALUES ($1)
                ON CONFLICT (registration_id) DO NOTHING`, regID)
			if err != nil {
				return fmt.Errorf("failed to ensure demo attendance: %w", err)
			}
		}
	}

	if err := seedDemoInteractions(ctx, db, []uuid.UUID{adminID, alice, bob}); err != nil {
		return err
	}

	log.Println("✅ Demo seeding complete")
	return nil
}

// ensureDemoUser creates a demo account if it does not exist and returns
// its ID either way.
func ensureDemoUser(ctx context.Context, db Database, username, email, firstName string) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.QueryRow(ctx,
		`SELECT id FROM users WHERE username = $1 AND deleted_at IS NULL`, username).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("failed to look up demo user %s: %w", username, err)
	}

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return uuid.Nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	passwordHash := crypto.HashPassword(demoPassword, salt)

	err = db.QueryRow(ctx, `
        INSERT INTO users (username, email, password_hash, first_name, role,
                           verified, is_onboarded, is_active)
        VALUES ($1, $2, $3, $4, 'student', true, true, true)
        RETURNING id`,
		username, email, passwordHash, firstName).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create demo user %s: %w", username, err)
	}

	log.Printf("🌱 Created demo user: %s", username)
	return id, nil
}

// seedDemoInteractions adds likes and comments to the demo feed. The
// pattern is fixed rather than random so reruns stay idempotent.
func seedDemoInteractions(ctx context.Context, db Database, users []uuid.UUID) error {
	for i, comment := range demoComments {
		user := users[i%len(users)]
		itemOffset := i % len(demoEvents)

		_, err := db.Exec(ctx, `
            INSERT INTO feed_likes (feed_item_id, user_id)
            SELECT f.id, $1 FROM feed_items f
            WHERE f.type = 'event'
            ORDER BY f.created_at
            OFFSET $2 LIMIT 1
            ON CONFLICT (feed_item_id, user_id) DO NOTHING`,
			user, itemOffset)
		if err != nil {
			return fmt.Errorf("failed to seed demo like: %w", err)
		}

		_, err = db.Exec(ctx, `
            INSERT INTO feed_comments (feed_item_id, user_id, text)
            SELECT f.id, $1, $2 FROM feed_items f
            WHERE f.type = 'event'
              AND NOT EXISTS (
                  SELECT 1 FROM feed_comments c
                  WHERE c.feed_item_id = f.id AND c.user_id = $1 AND c.text = $2
              )
            ORDER BY f.created_at
            OFFSET $3 LIMIT 1`,
			user, comment, itemOffset)
		if err != nil {
			return fmt.Errorf("failed to seed demo comment: %w", err)
		}
	}

	return nil
}
