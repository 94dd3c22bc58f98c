package events

import (
	"time"

	"github.com/spec-kit/user-directory/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventUserCreated EventType = "user_created"
	EventUserUpdated EventType = "user_updated"
	EventUserDeleted EventType = "user_deleted"
)

// Event represents a domain event emitted by services. Payloads carry no
// credential material.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	UserID    int64       `json:"user_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// UserCreatedPayload payload.
type UserCreatedPayload struct {
	Name   string            `json:"name"`
	Email  string            `json:"email"`
	Status domain.UserStatus `json:"status"`
}

// UserUpdatedPayload payload.
type UserUpdatedPayload struct {
	Name          string            `json:"name"`
	Email         string            `json:"email"`
	Status        domain.UserStatus `json:"status"`
	EmailChanged  bool              `json:"email_changed"`
	StatusChanged bool              `json:"status_changed"`
}

// UserDeletedPayload payload.
type UserDeletedPayload struct {
	Email string `json:"email"`
}
