package usage

import (
	"context"
	"time"
)

// User is an account identified by email
type User struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	PictureURL string    `json:"picture_url"`
	Plan       string    `json:"plan"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Profile carries the identity details presented on login.
// An empty Plan keeps the stored plan, or free for a new user.
type Profile struct {
	Email      string
	Name       string
	PictureURL string
	Plan       string
}

// Store persists users and monthly usage counters
type Store interface {
	// UpsertUser creates the user for profile.Email or refreshes its details
	UpsertUser(ctx context.Context, profile Profile, now time.Time) (*User, error)

	// MonthlyUsage returns the counter for (userID, month), 0 when absent
	MonthlyUsage(ctx context.Context, userID, month string) (int, error)

	// IncrementUsage atomically adds one to the counter for (userID, month),
	// creating it at 1, and returns the new value
	IncrementUsage(ctx context.Context, userID, month string) (int, error)

	// Close releases the store
	Close() error
}
