// Package domain contains core domain types for the assistant.
package domain

import (
	"time"
)

// User is the profile record for an authenticated user.
type User struct {
	UserID     string    `json:"user_id"`
	Name       string    `json:"name,omitempty"`
	Email      string    `json:"email,omitempty"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DisplayName returns the name to greet the user with, or "" when unknown.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	return u.Name
}

// Identity carries the verified claims for the user making a request.
// Name and Email are empty when the caller did not supply them.
type Identity struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
}
