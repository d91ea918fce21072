package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is satisfied by both the pool-backed Database and pgx.Tx,
// so awards can run inside the caller's transaction
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
}

// PointsMap assigns XP per activity verb. Verbs not listed award nothing;
// penalty and adjustment verbs carry their value in metadata under xp_change.
var PointsMap = map[string]int{
	VerbEventAttended:     10,
	VerbEventCreated:      50,
	VerbEventPublished:    50,
	VerbCertificateIssued: 15,
	VerbCommunityJoined:   5,
}

// LevelForXP computes the level for a given XP total.
// Levels floor at 1 even when XP goes negative.
func LevelForXP(xp int) int {
	if xp < 0 {
		xp = 0
	}
	return 1 + xp/100
}

// pointsForVerb resolves the XP delta for a verb.
// Returns ok=false when the verb never awards points.
func pointsForVerb(verb string, metadata map[string]interface{}) (int, bool) {
	if verb == VerbPenalty || verb == VerbManualAdjustment {
		if metadata == nil {
			return 0, true
		}
		switch v := metadata["xp_change"].(type) {
		case int:
			return v, true
		case int64:
			return int(v), true
		case float64:
			return int(v), true
		default:
			return 0, true
		}
	}

	points, ok := PointsMap[verb]
	return points, ok
}

// AwardForActivity awards reputation for a recorded activity.
// The award is idempotent per (user, activity, reason): replaying the same
// activity never double-counts XP. Activities outside a community context
// award nothing.
func AwardForActivity(ctx context.Context, q querier, activityID, actorID uuid.UUID, communityID *uuid.UUID, verb string, metadata map[string]interface{}) error {
	points, ok := pointsForVerb(verb, metadata)
	if !ok {
		return nil
	}

	// Reputation only exists within a community
	if communityID == nil {
		return nil
	}

	tag, err := q.Exec(ctx, `
		INSERT INTO reputation_logs (user_id, community_id, amount, reason, activity_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, activity_id, reason) WHERE activity_id IS NOT NULL DO NOTHING
	`, actorID, *communityID, points, verb, activityID)
	if err != nil {
		return fmt.Errorf("failed to log reputation: %w", err)
	}

	// Already awarded for this activity
	if tag.RowsAffected() == 0 {
		return nil
	}

	attendedDelta := 0
	if verb == VerbEventAttended {
		attendedDelta = 1
	}
	hostedDelta := 0
	if verb == VerbEventCreated || verb == VerbEventPublished {
		hostedDelta = 1
	}

	_, err = q.Exec(ctx, `
		INSERT INTO user_community_stats (user_id, community_id, total_xp, current_level, events_attended, events_hosted, stats, last_activity_at)
		VALUES ($1, $2, $3, 1 + GREATEST($3, 0) / 100, $4, $5, jsonb_build_object($6::text, 1), NOW())
		ON CONFLICT (user_id, community_id) DO UPDATE SET
			total_xp = user_community_stats.total_xp + $3,
			current_level = 1 + GREATEST(user_community_stats.total_xp + $3, 0) / 100,
			events_attended = user_community_stats.events_attended + $4,
			events_hosted = user_community_stats.events_hosted + $5,
			stats = jsonb_set(
				COALESCE(user_community_stats.stats, '{}'::jsonb),
				ARRAY[$6::text],
				to_jsonb(COALESCE((user_community_stats.stats->>$6)::int, 0) + 1)
			),
			last_activity_at = NOW()
	`, actorID, *communityID, points, attendedDelta, hostedDelta, verb)
	if err != nil {
		return fmt.Errorf("failed to update community stats: %w", err)
	}

	return nil
}
