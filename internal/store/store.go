// Package store persists reaches, rounds and sessions as documents keyed by
// their composite ids. Every Put is an idempotent upsert.
package store

import (
	"context"
	"errors"

	"github.com/ssukumar/GlobalInvigoration/internal/records"
)

var (
	ErrNotInitialized = errors.New("store is not initialized")
	ErrUnknownBackend = errors.New("unsupported store backend")
)

type Store interface {
	Init(ctx context.Context) error
	PutReach(ctx context.Context, reach records.Reach) error
	GetReach(ctx context.Context, id string) (records.Reach, bool, error)
	PutRound(ctx context.Context, round records.Round) error
	GetRound(ctx context.Context, id string) (records.Round, bool, error)
	PutSession(ctx context.Context, session records.Session) error
	GetSession(ctx context.Context, participantID string) (records.Session, bool, error)
	// ListReaches returns the reaches of a participant, or of everyone when
	// participantID is empty, ordered by participant, block, round and reach.
	ListReaches(ctx context.Context, participantID string) ([]records.Reach, error)
	ListRounds(ctx context.Context, participantID string) ([]records.Round, error)
	ListSessions(ctx context.Context) ([]records.Session, error)
	Close() error
}
