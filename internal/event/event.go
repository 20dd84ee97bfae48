package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the identity service.
const (
	TypeUserRegistered         = "identity.user.registered"
	TypePasswordResetRequested = "identity.auth.password_reset_requested"
	TypeVerificationRequested  = "identity.auth.verification_requested"
	TypeAccountLocked          = "identity.auth.account_locked"
	TypePasswordChanged        = "identity.auth.password_changed"
)

// Envelope is the standard wrapper for all identity events.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// NewEnvelope wraps a domain payload with a generated ID and timestamp.
func NewEnvelope(eventType, aggregateID string, data any) (*Envelope, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		EventID:     uuid.New().String(),
		EventType:   eventType,
		AggregateID: aggregateID,
		Timestamp:   time.Now().UTC(),
		Source:      "elearning-identity",
		Data:        payload,
	}, nil
}

// Marshal serializes the envelope to JSON bytes.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UserRegistered is emitted after a successful registration. Consumers
// use it to send the welcome and verification emails.
type UserRegistered struct {
	UserID           string `json:"user_id"`
	Email            string `json:"email"`
	FullName         string `json:"full_name"`
	UserCode         string `json:"user_code"`
	VerificationLink string `json:"verification_link,omitempty"`
}

// PasswordResetRequested carries the one-time reset link for the mailer.
type PasswordResetRequested struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	ResetLink string    `json:"reset_link"`
	ExpiresAt time.Time `json:"expires_at"`
}

// VerificationRequested carries the one-time email verification link.
type VerificationRequested struct {
	UserID           string    `json:"user_id"`
	Email            string    `json:"email"`
	VerificationLink string    `json:"verification_link"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// AccountLocked is emitted when repeated failures trip the lockout.
type AccountLocked struct {
	UserID   string    `json:"user_id"`
	Email    string    `json:"email"`
	UnlockAt time.Time `json:"unlock_at"`
}

// PasswordChanged is emitted after a successful password change or reset.
type PasswordChanged struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}
