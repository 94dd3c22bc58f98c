package domain

import (
	"fmt"
	"strings"
	"time"
)

// UserStatus represents lifecycle states for a directory user.
type UserStatus string

const (
	UserStatusActive  UserStatus = "active"
	UserStatusBlocked UserStatus = "blocked"
)

// ParseStatus validates a status value. An empty value falls back to active.
func ParseStatus(raw string) (UserStatus, error) {
	switch UserStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case "":
		return UserStatusActive, nil
	case UserStatusActive:
		return UserStatusActive, nil
	case UserStatusBlocked:
		return UserStatusBlocked, nil
	default:
		return "", fmt.Errorf("unknown status %q", raw)
	}
}

// User is the domain model for a directory record. CreatedAt doubles as the
// registration time; both ID and CreatedAt are assigned by the store and never
// change afterwards.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
