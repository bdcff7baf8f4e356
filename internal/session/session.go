// Package session keeps the server-side half of a login. A bearer token is
// only honoured while the session named by its jti exists.
package session

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("session not found")

// Session binds a token ID to a user.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store persists sessions until they expire or are deleted.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	Delete(ctx context.Context, id string) error
}

func ttl(s Session, now time.Time) time.Duration {
	return s.ExpiresAt.Sub(now)
}
