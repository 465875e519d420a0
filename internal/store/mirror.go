package store

import (
	"context"
	"errors"

	"go.uber.org/multierr"

	"github.com/MJE43/forage-arena-go/internal/model"
)

// Mirror writes to a primary and a secondary store and reads from the
// primary, falling back to the secondary when the primary fails.
// Write errors from both sides are combined.
type Mirror struct {
	primary   Store
	secondary Store
}

func NewMirror(primary, secondary Store) *Mirror {
	return &Mirror{primary: primary, secondary: secondary}
}

func (m *Mirror) AppendMovementBatch(ctx context.Context, samples []model.MovementSample) error {
	return multierr.Append(
		m.primary.AppendMovementBatch(ctx, samples),
		m.secondary.AppendMovementBatch(ctx, samples),
	)
}

func (m *Mirror) AppendEvent(ctx context.Context, ev model.GameEvent) error {
	return multierr.Append(m.primary.AppendEvent(ctx, ev), m.secondary.AppendEvent(ctx, ev))
}

func (m *Mirror) AppendRound(ctx context.Context, r model.Round) error {
	return multierr.Append(m.primary.AppendRound(ctx, r), m.secondary.AppendRound(ctx, r))
}

func (m *Mirror) SaveParticipant(ctx context.Context, p model.Participant) error {
	return multierr.Append(m.primary.SaveParticipant(ctx, p), m.secondary.SaveParticipant(ctx, p))
}

func (m *Mirror) SaveSession(ctx context.Context, s model.Session) error {
	return multierr.Append(m.primary.SaveSession(ctx, s), m.secondary.SaveSession(ctx, s))
}

func (m *Mirror) GetParticipant(ctx context.Context, key string) (model.Participant, error) {
	return fallback(m, func(s Store) (model.Participant, error) { return s.GetParticipant(ctx, key) })
}

func (m *Mirror) GetSession(ctx context.Context, id string) (model.Session, error) {
	return fallback(m, func(s Store) (model.Session, error) { return s.GetSession(ctx, id) })
}

func (m *Mirror) GetRound(ctx context.Context, sessionID string, roundIndex int) (model.Round, error) {
	return fallback(m, func(s Store) (model.Round, error) { return s.GetRound(ctx, sessionID, roundIndex) })
}

func (m *Mirror) ListRounds(ctx context.Context, sessionID string) ([]model.Round, error) {
	return fallback(m, func(s Store) ([]model.Round, error) { return s.ListRounds(ctx, sessionID) })
}

func (m *Mirror) GetMovements(ctx context.Context, sessionID string, roundIndex int) ([]model.MovementSample, error) {
	return fallback(m, func(s Store) ([]model.MovementSample, error) {
		return s.GetMovements(ctx, sessionID, roundIndex)
	})
}

func (m *Mirror) GetEvents(ctx context.Context, sessionID string, roundIndex int) ([]model.GameEvent, error) {
	return fallback(m, func(s Store) ([]model.GameEvent, error) { return s.GetEvents(ctx, sessionID, roundIndex) })
}

func (m *Mirror) Close() error {
	return multierr.Combine(m.primary.Close(), m.secondary.Close())
}

// fallback reads from the primary; ErrNotFound is authoritative, any other
// failure retries against the secondary.
func fallback[T any](m *Mirror, read func(Store) (T, error)) (T, error) {
	v, err := read(m.primary)
	if err == nil || errors.Is(err, ErrNotFound) {
		return v, err
	}
	v2, err2 := read(m.secondary)
	if err2 != nil {
		var zero T
		return zero, multierr.Append(err, err2)
	}
	return v2, nil
}
