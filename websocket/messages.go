package websocket

import "time"

// WSMessage represents a generic WebSocket message structure for the live attendance feed
type WSMessage struct {
	Type    string      `json:"type"`
	EventID string      `json:"event_id,omitempty"`
	UserID  string      `json:"user_id,omitempty"`
	Content interface{} `json:"content,omitempty"`
}

// CheckInMessage announces a completed check-in to everyone watching an event
type CheckInMessage struct {
	RegistrationID string     `json:"registration_id"`
	AttendeeName   string     `json:"attendee_name"`
	Username       string     `json:"attendee_username"`
	GuestsCount    int        `json:"guests_count"`
	TotalHeadcount int        `json:"total_headcount"`
	CheckInTime    *time.Time `json:"check_in_time"`
	ScannedBy      string     `json:"scanned_by"`
}

// CountersMessage carries the refreshed attendance counters for an event
type CountersMessage struct {
	TotalRegistered int `json:"total_registered"`
	TotalGuests     int `json:"total_guests"`
	TotalHeadcount  int `json:"total_headcount"`
	CheckedIn       int `json:"checked_in"`
	NoShows         int `json:"no_shows"`
}

// WatchersMessage reports how many staff members are watching the feed
type WatchersMessage struct {
	Watchers int    `json:"watchers"`
	Status   string `json:"status"` // "joined", "left"
}
