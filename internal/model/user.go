// Package model defines data structures for the chat platform.
package model

import (
	"time"
)

// User represents a registered user, created on first successful
// identity resolution.
type User struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	Name          string    `json:"name,omitempty"`
	Image         string    `json:"image,omitempty"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Profile is the subset of user fields embedded in conversation and
// message views.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Image    string `json:"image,omitempty"`
}

// Profile returns the embeddable profile view of the user.
func (u *User) Profile() Profile {
	return Profile{
		ID:       u.ID,
		Username: u.Username,
		Image:    u.Image,
	}
}

// SetUsernameRequest is the request to complete profile setup.
type SetUsernameRequest struct {
	Username string `json:"username"`
}
