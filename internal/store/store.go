// Package store holds the registry's sessions and rooms. Implementations are
// safe for concurrent use and apply every membership change atomically.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/niklaspandersson/dicebox/internal/dice"
)

var ErrNotFound = errors.New("not found")

// Session binds a reconnect token to a peer id.
type Session struct {
	Token    string
	PeerID   string
	RoomID   string
	LastSeen time.Time
}

// Room is a registered room. Membership is kept separately.
type Room struct {
	ID        string
	CreatedAt time.Time
	Config    dice.Config
}

type Store interface {
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, token string) (Session, error)
	TouchSession(ctx context.Context, token string, at time.Time) error
	SetSessionRoom(ctx context.Context, token, roomID string) error
	DeleteSession(ctx context.Context, token string) error
	// ExpiredSessions lists sessions last seen before the given time.
	ExpiredSessions(ctx context.Context, before time.Time) ([]Session, error)

	GetRoom(ctx context.Context, id string) (Room, error)
	// PutRoom stores r and clears any membership left from an earlier room
	// with the same id.
	PutRoom(ctx context.Context, r Room) error
	DeleteRoom(ctx context.Context, id string) error
	AddMember(ctx context.Context, roomID, peerID string) error
	// RemoveMember returns how many members remain.
	RemoveMember(ctx context.Context, roomID, peerID string) (int, error)
	// Members returns the sorted member ids.
	Members(ctx context.Context, roomID string) ([]string, error)

	Close() error
}
