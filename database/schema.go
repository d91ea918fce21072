package database

// DatabaseSchema contains the complete PostgreSQL schema for the COS event platform
// This includes all tables, indexes, triggers, and functions required for the application
const DatabaseSchema = `
-- Enable required extensions
CREATE EXTENSION IF NOT EXISTS "uuid-ossp";
CREATE EXTENSION IF NOT EXISTS "pgcrypto";
CREATE EXTENSION IF NOT EXISTS "pg_trgm";

-- Users table
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    username TEXT UNIQUE NOT NULL,
    email TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL, -- Argon2id hash
    first_name TEXT DEFAULT '',
    last_name TEXT DEFAULT '',
    role TEXT CHECK (role IN ('student', 'organizer', 'admin')) DEFAULT 'student',
    is_superuser BOOLEAN DEFAULT false,
    phone VARCHAR(20),
    bio TEXT,
    interests TEXT, -- Comma-separated interests
    profile_picture VARCHAR(1024),
    verified BOOLEAN DEFAULT false,
    is_onboarded BOOLEAN DEFAULT false,
    points INT DEFAULT 0, -- Global denormalized XP across communities
    institution VARCHAR(255),
    graduation_year INT,
    degree VARCHAR(100),
    skills JSONB DEFAULT '[]',
    experience_level VARCHAR(20) CHECK (experience_level IN ('beginner', 'intermediate', 'advanced', 'expert') OR experience_level IS NULL),
    github_url TEXT,
    linkedin_url TEXT,
    portfolio_url TEXT,
    resume_url TEXT,
    dietary_preferences VARCHAR(100),
    tshirt_size VARCHAR(5),
    emergency_contact_name VARCHAR(100),
    emergency_contact_phone VARCHAR(20),
    allow_profile_autofill BOOLEAN DEFAULT true,
    mfa_secret_encrypted BYTEA, -- Encrypted TOTP secret
    mfa_enabled BOOLEAN DEFAULT false,
    mfa_backup_codes BYTEA[], -- Array of hashed backup codes (Argon2id)
    mfa_backup_codes_used BYTEA[], -- Track used backup codes
    is_active BOOLEAN DEFAULT true,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW(),
    last_login TIMESTAMPTZ,
    failed_attempts INT DEFAULT 0,
    locked_until TIMESTAMPTZ,
    deleted_at TIMESTAMPTZ
);

-- Identity layer columns (added after initial profile rollout)
ALTER TABLE users ADD COLUMN IF NOT EXISTS intent TEXT;
ALTER TABLE users ADD COLUMN IF NOT EXISTS availability JSONB DEFAULT '[]';
ALTER TABLE users ADD COLUMN IF NOT EXISTS domains JSONB DEFAULT '[]';

-- Communities table
CREATE TABLE IF NOT EXISTS communities (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    name VARCHAR(255) UNIQUE NOT NULL,
    slug VARCHAR(255) UNIQUE NOT NULL,
    description TEXT DEFAULT '',
    logo VARCHAR(1024), -- Media path, used in UI and certificates
    primary_color VARCHAR(7) DEFAULT '', -- Primary HEX color (e.g. #FF5733)
    certificate_template VARCHAR(1024), -- Optional certificate background image path
    is_private BOOLEAN DEFAULT false,
    is_active BOOLEAN DEFAULT true,
    created_by UUID REFERENCES users(id) ON DELETE SET NULL,
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_communities_slug ON communities(slug);

-- Per-community role for a user; one row per (community, user)
CREATE TABLE IF NOT EXISTS community_memberships (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    community_id UUID REFERENCES communities(id) ON DELETE CASCADE NOT NULL,
    user_id UUID REFERENCES users(id) ON DELETE CASCADE NOT NULL,
    role TEXT CHECK (role IN ('owner', 'admin', 'organizer', 'member', 'participant')) DEFAULT 'participant',
    is_active BOOLEAN DEFAULT true,
    is_default BOOLEAN DEFAULT false, -- The user's active/default community context
    last_active_at TIMESTAMPTZ,
    joined_at TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE(community_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_memberships_community_role ON community_memberships(community_id, role);
CREATE INDEX IF NOT EXISTS idx_memberships_user_default ON community_memberships(user_id, is_default);

-- Invite tokens to join a community
CREATE TABLE IF NOT EXISTS community_invites (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    community_id UUID REFERENCES communities(id) ON DELETE CASCADE NOT NULL,
    created_by UUID REFERENCES users(id) ON DELETE CASCADE,
    token VARCHAR(64) UNIQUE NOT NULL,
    role TEXT DEFAULT 'member', -- Role the joining user receives
    max_uses INT, -- NULL for unlimited
    used_count INT DEFAULT 0,
    expires_at TIMESTAMPTZ, -- NULL for never expires
    is_active BOOLEAN DEFAULT true,
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_community_invites_token ON community_invites(token) WHERE is_active = true;

-- Applications from participants asking to become members
CREATE TABLE IF NOT EXISTS membership_applications (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    user_id UUID REFERENCES users(id) ON DELETE CASCADE NOT NULL,
    community_id UUID REFERENCES communities(id) ON DELETE CASCADE NOT NULL,
    intent TEXT NOT NULL, -- Why the user wants to be a member
    skills JSONB DEFAULT '[]',
    status TEXT CHECK (status IN ('pending', 'approved', 'rejected')) DEFAULT 'pending',
    reviewed_by UUID REFERENCES users(id) ON DELETE SET NULL,
    reviewed_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE(user_id, community_id)
);

CREATE INDEX IF NOT EXISTS idx_applications_community_status ON membership_applications(community_id, status);

-- Internal tasks for community members; not visible to participants
CREATE TABLE IF NOT EXISTS community_todos (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    community_id UUID REFERENCES communities(id) ON DELETE CASCADE NOT NULL,
    title VARCHAR(255) NOT NULL,
    description TEXT DEFAULT '',
    status TEXT CHECK (status IN ('planned', 'active', 'completed', 'archived')) DEFAULT 'planned',
    priority TEXT CHECK (priority IN ('low', 'medium', 'high')) DEFAULT 'medium',
    assigned_to UUID REFERENCES users(id) ON DELETE SET NULL,
    created_by UUID REFERENCES users(id) ON DELETE SET NULL,
    due_date TIMESTAMPTZ,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_todos_community_status ON community_todos(community_id, status);

-- Collaborative projects and initiatives scoped to a community
CREATE TABLE IF NOT EXISTS projects (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    community_id UUID REFERENCES communities(id) ON DELETE CASCADE NOT NULL,
    owner_id UUID REFERENCES users(id) ON DELETE CASCADE NOT NULL,
    title VARCHAR(255) NOT NULL,
    description TEXT DEFAULT '',
    status TEXT CHECK (status IN ('active', 'completed', 'archived')) DEFAULT 'active',
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_projects_community_status ON projects(community_id, status);
CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner_id);

-- Verified proof-of-work ledger per user
CREATE TABLE IF NOT EXISTS user_accomplishments (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    user_id UUID REFERENCES users(id) ON DELETE CASCADE NOT NULL,
    community_id UUID REFERENCES communities(id) ON DELETE SET NULL,
    title VARCHAR(255) NOT NULL,
    description TEXT DEFAULT '',
    category TEXT CHECK (category IN ('event', 'project', 'role', 'volunteer', 'other')) DEFAULT 'other',
    date_earned DATE DEFAULT CURRENT_DATE,
    is_verified BOOLEAN DEFAULT false,
    verified_by UUID REFERENCES users(id) ON DELETE SET NULL,
    metadata JSONB DEFAULT '{}',
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_accomplishments_user_category ON user_accomplishments(user_id, category);

-- Events table
CREATE TABLE IF NOT EXISTS events (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    community_id UUID REFERENCES communities(id) ON DELETE CASCADE,
    organizer_id UUID REFERENCES users(id) ON DELETE CASCADE NOT NULL,
    title VARCHAR(255) NOT NULL,
    description TEXT NOT NULL,
    start_time TIMESTAMPTZ NOT NULL,
    end_time TIMESTAMPTZ NOT NULL,
    capacity INT DEFAULT 0, -- 0 means unlimited
    venue VARCHAR(255),
    banner VARCHAR(1024),
    is_public BOOLEAN DEFAULT true,
    event_type TEXT CHECK (event_type IN ('workshop', 'seminar', 'fest', 'other')) DEFAULT 'other',
    is_paid BOOLEAN DEFAULT false,
    price NUMERIC(10,2) DEFAULT 0.00,
    currency VARCHAR(10) DEFAULT 'INR',
    waitlist_enabled BOOLEAN DEFAULT false,
    location_lat DOUBLE PRECISION,
    location_lng DOUBLE PRECISION,
    created_at TIMESTAMPTZ DEFAULT NOW()
);

-- Moderation lifecycle column (added with the approval workflow)
ALTER TABLE events ADD COLUMN IF NOT EXISTS status TEXT CHECK (status IN ('draft', 'pending', 'approved', 'rejected')) DEFAULT 'draft';

CREATE INDEX IF NOT EXISTS idx_events_organizer_start ON events(organizer_id, start_time);
CREATE INDEX IF NOT EXISTS idx_events_start ON events(start_time);
CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);
CREATE INDEX IF NOT EXISTS idx_events_community_status ON events(community_id, status);
CREATE INDEX IF NOT EXISTS idx_events_title_trgm ON events USING gin (title gin_trgm_ops);

-- Event registrations with profile snapshot at registration time
CREATE TABLE IF NOT EXISTS event_registrations (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    user_id UUID REFERENCES users(id) ON DELETE CASCADE NOT NULL,
    event_id UUID REFERENCES events(id) ON DELETE CASCADE NOT NULL,
    registered_at TIMESTAMPTZ DEFAULT NOW(),
    status TEXT CHECK (status IN ('pending', 'approved', 'waitlisted', 'rejected', 'canceled', 'attended')) DEFAULT 'pending',
    payment_status TEXT CHECK (payment_status IN ('pending', 'paid', 'refunded', 'skipped')) DEFAULT 'pending',
    payment_id VARCHAR(255),
    guests_count INT DEFAULT 0 CHECK (guests_count >= 0),
    -- Profile snapshot: audit trail survives later profile edits and feeds
    -- certificates with accurate data
    snapshot_institution VARCHAR(255),
    snapshot_degree VARCHAR(100),
    snapshot_graduation_year INT,
    snapshot_skills JSONB DEFAULT '[]',
    snapshot_dietary VARCHAR(100),
    snapshot_tshirt_size VARCHAR(5),
    snapshot_emergency_contact VARCHAR(100),
    snapshot_emergency_phone VARCHAR(20),
    UNIQUE(user_id, event_id)
);

-- Organizer-defined per-event questions and their answers
ALTER TABLE event_registrations ADD COLUMN IF NOT EXISTS custom_responses JSONB DEFAULT '{}';

CREATE INDEX IF NOT EXISTS idx_registrations_event_time ON event_registrations(event_id, registered_at);
CREATE INDEX IF NOT EXISTS idx_registrations_user_event ON event_registrations(user_id, event_id);

-- Attendance record per registration; qr_code is looked up directly on scan
CREATE TABLE IF NOT EXISTS event_attendance (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    registration_id UUID REFERENCES event_registrations(id) ON DELETE CASCADE UNIQUE NOT NULL,
    check_in TIMESTAMPTZ,
    check_out TIMESTAMPTZ,
    qr_code UUID UNIQUE NOT NULL DEFAULT uuid_generate_v4()
);

CREATE INDEX IF NOT EXISTS idx_attendance_qr_code ON event_attendance(qr_code);
CREATE INDEX IF NOT EXISTS idx_attendance_registration ON event_attendance(registration_id);

-- Certificates issued for completed attendance
CREATE TABLE IF NOT EXISTS certificates (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    registration_id UUID REFERENCES event_registrations(id) ON DELETE CASCADE UNIQUE,
    subject_type TEXT, -- Generic issuance source for non-event credentials
    subject_id UUID,
    issued_at TIMESTAMPTZ DEFAULT NOW(),
    pdf VARCHAR(1024), -- Media path of the rendered PDF
    cert_token VARCHAR(128) UNIQUE, -- Used by the public verify endpoint
    credential_id UUID UNIQUE NOT NULL DEFAULT uuid_generate_v4(),
    revoked_at TIMESTAMPTZ,
    revocation_reason TEXT,
    issuer_snapshot JSONB DEFAULT '{}' -- Issuer branding at issue time
);

CREATE INDEX IF NOT EXISTS idx_certificates_registration ON certificates(registration_id);
CREATE INDEX IF NOT EXISTS idx_certificates_credential ON certificates(credential_id);

-- Audit log for QR scans, including rejected and unauthorized attempts
CREATE TABLE IF NOT EXISTS scan_logs (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    event_id UUID REFERENCES events(id) ON DELETE CASCADE,
    registration_id UUID REFERENCES event_registrations(id) ON DELETE SET NULL,
    scanned_by UUID REFERENCES users(id) ON DELETE SET NULL,
    qr_code VARCHAR(128) NOT NULL,
    ip_address VARCHAR(64),
    action TEXT CHECK (action IN ('check_in', 'check_out', 'invalid_qr', 'unauthorized', 'already_completed')) NOT NULL,
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_scan_logs_event_created ON scan_logs(event_id, created_at);
CREATE INDEX IF NOT EXISTS idx_scan_logs_qr_code ON scan_logs(qr_code);
CREATE INDEX IF NOT EXISTS idx_scan_logs_action_created ON scan_logs(action, created_at);

-- Announcements scoped to a single event, visible to its registrants
CREATE TABLE IF NOT EXISTS event_announcements (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    event_id UUID REFERENCES events(id) ON DELETE CASCADE NOT NULL,
    posted_by UUID REFERENCES users(id) ON DELETE SET NULL,
    title VARCHAR(255) NOT NULL,
    body TEXT NOT NULL,
    is_important BOOLEAN DEFAULT false,
    media_image VARCHAR(1024), -- Optional image for visual updates
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_event_announcements_event ON event_announcements(event_id, created_at);

-- Feedback from attendees; at most one per (event, user)
CREATE TABLE IF NOT EXISTS event_feedback (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    event_id UUID REFERENCES events(id) ON DELETE CASCADE NOT NULL,
    user_id UUID REFERENCES users(id) ON DELETE CASCADE NOT NULL,
    rating SMALLINT NOT NULL CHECK (rating BETWEEN 1 AND 5),
    comment TEXT DEFAULT '',
    is_anonymous BOOLEAN DEFAULT false,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE(event_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_feedback_event_created ON event_feedback(event_id, created_at);
CREATE INDEX IF NOT EXISTS idx_feedback_event_rating ON event_feedback(event_id, rating);

-- Participant teams with shareable invite links
CREATE TABLE IF NOT EXISTS event_teams (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    event_id UUID REFERENCES events(id) ON DELETE CASCADE NOT NULL,
    name VARCHAR(100) NOT NULL,
    creator_id UUID REFERENCES users(id) ON DELETE CASCADE NOT NULL,
    invite_token UUID UNIQUE NOT NULL DEFAULT uuid_generate_v4(),
    max_size INT DEFAULT 4,
    is_locked BOOLEAN DEFAULT false, -- Prevent new members from joining
    description TEXT,
    skills_needed JSONB DEFAULT '[]',
    created_at TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE(event_id, name)
);

CREATE INDEX IF NOT EXISTS idx_teams_event_created ON event_teams(event_id, created_at);
CREATE INDEX IF NOT EXISTS idx_teams_invite_token ON event_teams(invite_token);

-- Participant team membership (distinct from event staff below)
CREATE TABLE IF NOT EXISTS participant_team_members (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    team_id UUID REFERENCES event_teams(id) ON DELETE CASCADE NOT NULL,
    user_id UUID REFERENCES users(id) ON DELETE CASCADE NOT NULL,
    registration_id UUID REFERENCES event_registrations(id) ON DELETE CASCADE, -- Auto-created on invite join
    role TEXT CHECK (role IN ('leader', 'member')) DEFAULT 'member',
    joined_at TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE(team_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_ptm_team_joined ON participant_team_members(team_id, joined_at);

-- Per-event staff role assignments (host, co-host, volunteer)
CREATE TABLE IF NOT EXISTS event_team_members (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    event_id UUID REFERENCES events(id) ON DELETE CASCADE NOT NULL,
    user_id UUID REFERENCES users(id) ON DELETE CASCADE NOT NULL,
    role TEXT CHECK (role IN ('host', 'co_host', 'volunteer')) NOT NULL,
    is_active BOOLEAN DEFAULT true,
    added_at TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE(event_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_event_team_event ON event_team_members(event_id);
CREATE INDEX IF NOT EXISTS idx_event_team_user ON event_team_members(user_id);
CREATE INDEX IF NOT EXISTS idx_event_team_role ON event_team_members(role);

-- Helpers who are not staff; they build reputation, not admin access
CREATE TABLE IF NOT EXISTS event_volunteers (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    event_id UUID REFERENCES events(id) ON DELETE CASCADE NOT NULL,
    user_id UUID REFERENCES users(id) ON DELETE CASCADE NOT NULL,
    role VARCHAR(64) NOT NULL, -- e.g. 'Registration Desk'
    status TEXT CHECK (status IN ('pending', 'approved', 'rejected', 'completed')) DEFAULT 'pending',
    verified_by UUID REFERENCES users(id) ON DELETE SET NULL,
    note TEXT DEFAULT '', -- Organizer notes on performance
    created_at TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE(event_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_volunteers_event_status ON event_volunteers(event_id, status);
CREATE INDEX IF NOT EXISTS idx_volunteers_user_status ON event_volunteers(user_id, status);

-- Immutable ledger of business-significant actions.
-- Source of truth for feeds, notifications, analytics and reputation.
CREATE TABLE IF NOT EXISTS activities (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    actor_id UUID REFERENCES users(id) ON DELETE CASCADE NOT NULL,
    verb VARCHAR(64) NOT NULL, -- e.g. 'event.published'
    subject_type TEXT NOT NULL, -- e.g. 'event', 'certificate'
    subject_id UUID NOT NULL,
    community_id UUID REFERENCES communities(id) ON DELETE CASCADE,
    visibility TEXT CHECK (visibility IN ('public', 'community', 'private')) DEFAULT 'community',
    metadata JSONB DEFAULT '{}', -- Snapshot data, e.g. event title at log time
    status TEXT CHECK (status IN ('active', 'revoked', 'deleted', 'superseded')) DEFAULT 'active',
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_activities_verb ON activities(verb);
CREATE INDEX IF NOT EXISTS idx_activities_community_time ON activities(community_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_activities_actor_time ON activities(actor_id, created_at DESC);

-- Denormalized feed entries derived from activities
CREATE TABLE IF NOT EXISTS feed_items (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    type TEXT CHECK (type IN ('event', 'announcement', 'certificate', 'system')) NOT NULL,
    event_id UUID REFERENCES events(id) ON DELETE CASCADE,
    announcement_id UUID REFERENCES event_announcements(id) ON DELETE CASCADE,
    certificate_id UUID REFERENCES certificates(id) ON DELETE CASCADE,
    activity_id UUID REFERENCES activities(id) ON DELETE CASCADE,
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_feed_items_created ON feed_items(created_at);
CREATE INDEX IF NOT EXISTS idx_feed_items_type ON feed_items(type);

CREATE TABLE IF NOT EXISTS feed_likes (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    feed_item_id UUID REFERENCES feed_items(id) ON DELETE CASCADE NOT NULL,
    user_id UUID REFERENCES users(id) ON DELETE CASCADE NOT NULL,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE(feed_item_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_feed_likes_item ON feed_likes(feed_item_id);

CREATE TABLE IF NOT EXISTS feed_comments (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    feed_item_id UUID REFERENCES feed_items(id) ON DELETE CASCADE NOT NULL,
    user_id UUID REFERENCES users(id) ON DELETE CASCADE NOT NULL,
    text TEXT NOT NULL,
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_feed_comments_item ON feed_comments(feed_item_id, created_at);

-- Immutable audit trail of reputation points earned or lost
CREATE TABLE IF NOT EXISTS reputation_logs (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    user_id UUID REFERENCES users(id) ON DELETE CASCADE NOT NULL,
    community_id UUID REFERENCES communities(id) ON DELETE CASCADE NOT NULL,
    amount INT NOT NULL, -- Positive or negative point value
    reason VARCHAR(64) NOT NULL, -- e.g. 'event.attended'
    activity_id UUID REFERENCES activities(id) ON DELETE SET NULL,
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_reputation_user_community ON reputation_logs(user_id, community_id, created_at DESC);
-- Awards are idempotent per source activity
CREATE UNIQUE INDEX IF NOT EXISTS idx_reputation_once_per_activity ON reputation_logs(user_id, activity_id, reason) WHERE activity_id IS NOT NULL;

-- Denormalized per-community stats for badges and leaderboards
CREATE TABLE IF NOT EXISTS user_community_stats (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    user_id UUID REFERENCES users(id) ON DELETE CASCADE NOT NULL,
    community_id UUID REFERENCES communities(id) ON DELETE CASCADE NOT NULL,
    total_xp INT DEFAULT 0,
    current_level INT DEFAULT 1,
    events_attended INT DEFAULT 0,
    events_hosted INT DEFAULT 0,
    stats JSONB DEFAULT '{}', -- Generic per-verb counters
    last_activity_at TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE(user_id, community_id)
);

CREATE INDEX IF NOT EXISTS idx_community_stats_leaderboard ON user_community_stats(community_id, total_xp DESC);

-- Notifications table
CREATE TABLE IF NOT EXISTS notifications (
    id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
    user_id UUID REFERENCES users(id) ON DELETE CASCADE NOT NULL,
    type TEXT CHECK (type IN ('event', 'event_announcement', 'certificate_issued', 'certificate_revoked', 'community', 'system')) NOT NULL,
    title VARCHAR(255) NOT NULL,
    body TEXT DEFAULT '',
    is_read BOOLEAN DEFAULT false,
    event_id UUID REFERENCES events(id) ON DELETE CASCADE,
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_notifications_user_read ON notifications(user_id, is_read);
CREATE INDEX IF NOT EXISTS idx_notifications_type ON notifications(type);

-- Runtime toggles (registration on/off and similar)
CREATE TABLE IF NOT EXISTS app_settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMPTZ DEFAULT NOW()
);

-- Functions for automatic updated_at
CREATE OR REPLACE FUNCTION update_updated_at_column()
RETURNS TRIGGER AS $$
BEGIN
    NEW.updated_at = NOW();
    RETURN NEW;
END;
$$ language 'plpgsql';

-- Apply updated_at triggers
DO $$
BEGIN
    IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'update_users_updated_at') THEN
        CREATE TRIGGER update_users_updated_at BEFORE UPDATE ON users
            FOR EACH ROW EXECUTE FUNCTION update_updated_at_column();
    END IF;

    IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'update_community_todos_updated_at') THEN
        CREATE TRIGGER update_community_todos_updated_at BEFORE UPDATE ON community_todos
            FOR EACH ROW EXECUTE FUNCTION update_updated_at_column();
    END IF;

    IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'update_event_feedback_updated_at') THEN
        CREATE TRIGGER update_event_feedback_updated_at BEFORE UPDATE ON event_feedback
            FOR EACH ROW EXECUTE FUNCTION update_updated_at_column();
    END IF;

    IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'update_projects_updated_at') THEN
        CREATE TRIGGER update_projects_updated_at BEFORE UPDATE ON projects
            FOR EACH ROW EXECUTE FUNCTION update_updated_at_column();
    END IF;

    IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'update_app_settings_updated_at') THEN
        CREATE TRIGGER update_app_settings_updated_at BEFORE UPDATE ON app_settings
            FOR EACH ROW EXECUTE FUNCTION update_updated_at_column();
    END IF;
END $$;

-- Deactivate invites past their expiry (called by the cleanup service)
CREATE OR REPLACE FUNCTION deactivate_expired_invites()
RETURNS void AS $$
BEGIN
    UPDATE community_invites SET is_active = false
    WHERE is_active = true AND expires_at IS NOT NULL AND expires_at < NOW();
END;
$$ LANGUAGE plpgsql;

-- Fast lookups for auth and admin validation
CREATE INDEX IF NOT EXISTS idx_users_email_lower ON users(LOWER(email)) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_users_username_lower ON users(LOWER(username)) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_users_superuser ON users(is_superuser) WHERE is_superuser = true;
CREATE INDEX IF NOT EXISTS idx_users_count_fast ON users(id) WHERE deleted_at IS NULL; -- For fast COUNT(*) queries

-- Migration tracking index for fast version checks
CREATE INDEX IF NOT EXISTS idx_migrations_version ON _migrations(version, applied_at DESC);

-- Note: Cleanup jobs run automatically via background service every 24 hours
`
