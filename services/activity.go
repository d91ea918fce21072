package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Activity verbs form the standard registry shared by feeds,
// notifications, analytics and the reputation engine.
const (
	VerbEventCreated       = "event.created"
	VerbEventUpdated       = "event.updated"
	VerbEventSubmitted     = "event.submitted_for_approval"
	VerbEventApproved      = "event.approved"
	VerbEventRejected      = "event.rejected"
	VerbEventPublished     = "event.published"
	VerbEventCanceled      = "event.canceled"
	VerbEventRegistered    = "event.registered"
	VerbEventAttended      = "event.attended"
	VerbRegistrationGone   = "registration.canceled"
	VerbCheckOut           = "attendance.check_out"
	VerbProjectCreated     = "project.created"
	VerbProjectCompleted   = "project.completed"
	VerbCommunityJoined    = "community.joined"
	VerbCommunityLeft      = "community.left"
	VerbAnnouncementPosted = "announcement.posted"
	VerbCertificateIssued  = "certificate.issued"
	VerbCertificateRevoked = "certificate.revoked"
	VerbFeedbackSubmitted  = "feedback.submitted"
	VerbVolunteerCompleted = "volunteer.completed"
	VerbTeamMemberAdded    = "team.member_added"
	VerbTeamMemberRemoved  = "team.member_removed"
	VerbReputationChange   = "reputation.change"
	VerbPenalty            = "reputation.penalty"
	VerbManualAdjustment   = "reputation.adjustment"
)

// Activity visibility levels
const (
	VisibilityPublic    = "public"
	VisibilityCommunity = "community"
	VisibilityPrivate   = "private"
)

// Activity describes one ledger entry to record
type Activity struct {
	ActorID     uuid.UUID
	Verb        string
	SubjectType string
	SubjectID   uuid.UUID
	CommunityID *uuid.UUID
	Visibility  string
	Metadata    map[string]interface{}
}

// ActivityService writes the immutable activity ledger and triggers
// reputation as a side effect of each record
type ActivityService struct {
	db Database
}

// NewActivityService creates a new activity service
func NewActivityService(db Database) *ActivityService {
	return &ActivityService{db: db}
}

// Record logs an activity and awards reputation in one transaction.
// Returns the new activity ID.
func (s *ActivityService) Record(ctx context.Context, act Activity) (uuid.UUID, error) {
	if act.Visibility == "" {
		act.Visibility = VisibilityCommunity
	}
	if act.Metadata == nil {
		act.Metadata = map[string]interface{}{}
	}

	metadataJSON, err := json.Marshal(act.Metadata)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal activity metadata: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var activityID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO activities (actor_id, verb, subject_type, subject_id, community_id, visibility, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, act.ActorID, act.Verb, act.SubjectType, act.SubjectID, act.CommunityID, act.Visibility, metadataJSON).Scan(&activityID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to record activity: %w", err)
	}

	if err := AwardForActivity(ctx, tx, activityID, act.ActorID, act.CommunityID, act.Verb, act.Metadata); err != nil {
		return uuid.Nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit activity: %w", err)
	}

	return activityID, nil
}

// PublishEventFeedItem puts an approved event on the home feed.
// Items are deduplicated per event so re-approving never repeats the entry.
func (s *ActivityService) PublishEventFeedItem(ctx context.Context, eventID uuid.UUID, activityID *uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO feed_items (type, event_id, activity_id)
		SELECT 'event', $1, $2
		WHERE NOT EXISTS (SELECT 1 FROM feed_items WHERE event_id = $1 AND type = 'event')
	`, eventID, activityID)
	if err != nil {
		return fmt.Errorf("failed to publish event feed item: %w", err)
	}
	return nil
}

// PublishAnnouncementFeedItem puts a new announcement on the home feed
func (s *ActivityService) PublishAnnouncementFeedItem(ctx context.Context, announcementID uuid.UUID, activityID *uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO feed_items (type, announcement_id, activity_id)
		VALUES ('announcement', $1, $2)
	`, announcementID, activityID)
	if err != nil {
		return fmt.Errorf("failed to publish announcement feed item: %w", err)
	}
	return nil
}

// PublishCertificateFeedItem puts a freshly issued certificate on the home feed
func (s *ActivityService) PublishCertificateFeedItem(ctx context.Context, certificateID uuid.UUID, activityID *uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO feed_items (type, certificate_id, activity_id)
		VALUES ('certificate', $1, $2)
	`, certificateID, activityID)
	if err != nil {
		return fmt.Errorf("failed to publish certificate feed item: %w", err)
	}
	return nil
}

// Notify inserts a notification row for one user
func (s *ActivityService) Notify(ctx context.Context, userID uuid.UUID, notifType, title, body string, eventID *uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO notifications (user_id, type, title, body, event_id)
		VALUES ($1, $2, $3, $4, $5)
	`, userID, notifType, title, body, eventID)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// NotifyEventRegistrants fans a notification out to everyone registered
// for an event, excluding canceled and rejected registrations
func (s *ActivityService) NotifyEventRegistrants(ctx context.Context, eventID uuid.UUID, notifType, title, body string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO notifications (user_id, type, title, body, event_id)
		SELECT user_id, $2, $3, $4, $1
		FROM event_registrations
		WHERE event_id = $1 AND status NOT IN ('canceled', 'rejected')
	`, eventID, notifType, title, body)
	if err != nil {
		return fmt.Errorf("failed to notify event registrants: %w", err)
	}
	return nil
}
