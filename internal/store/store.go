// Package store persists rounds, movement samples and events. The core
// only sees the Sink side; the API and session layers use the query side.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/MJE43/forage-arena-go/internal/model"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("store: not found")

// Sink is the write side consumed by the round orchestrator.
type Sink interface {
	AppendMovementBatch(ctx context.Context, samples []model.MovementSample) error
	AppendEvent(ctx context.Context, ev model.GameEvent) error
	AppendRound(ctx context.Context, r model.Round) error
}

// Store is a Sink with queries and participant bookkeeping.
type Store interface {
	Sink

	// SaveParticipant never overwrites an existing assignment.
	SaveParticipant(ctx context.Context, p model.Participant) error
	GetParticipant(ctx context.Context, participantKey string) (model.Participant, error)
	SaveSession(ctx context.Context, s model.Session) error
	GetSession(ctx context.Context, id string) (model.Session, error)

	GetRound(ctx context.Context, sessionID string, roundIndex int) (model.Round, error)
	ListRounds(ctx context.Context, sessionID string) ([]model.Round, error)
	GetMovements(ctx context.Context, sessionID string, roundIndex int) ([]model.MovementSample, error)
	GetEvents(ctx context.Context, sessionID string, roundIndex int) ([]model.GameEvent, error)

	Close() error
}

// Backend kinds accepted by Open.
const (
	KindSQLite = "sqlite"
	KindMemory = "memory"
)

// Open builds a migrated store of the given kind. path is ignored for
// the memory backend.
func Open(ctx context.Context, kind, path string) (Store, error) {
	switch kind {
	case KindMemory:
		return NewMemory(), nil
	case KindSQLite, "":
		s, err := NewSQLite(path)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", kind)
	}
}
