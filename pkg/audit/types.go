package audit

import "time"

// EventType represents the category of audit event
type EventType string

const (
	EventTypeLogin            EventType = "auth.login"
	EventTypeLoginFailed      EventType = "auth.login_failed"
	EventTypeLogout           EventType = "auth.logout"
	EventTypeSSOTokenReceived EventType = "auth.sso_token_received"
	EventTypeOnboarding       EventType = "profile.onboarding_completed"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event is a single audit record
type Event struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	ClientID  string `json:"client_id,omitempty"`
	TabID     string `json:"tab_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	UserID   *int64 `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`

	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`

	Message      string `json:"message,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}
