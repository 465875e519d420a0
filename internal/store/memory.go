package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/MJE43/forage-arena-go/internal/model"
)

type roundKey struct {
	session string
	index   int
}

// Memory is an in-process Store for tests and throwaway simulations.
type Memory struct {
	mu           sync.RWMutex
	participants map[string]model.Participant
	sessions     map[string]model.Session
	rounds       map[roundKey]model.Round
	movements    map[roundKey][]model.MovementSample
	events       map[roundKey][]model.GameEvent
}

func NewMemory() *Memory {
	return &Memory{
		participants: make(map[string]model.Participant),
		sessions:     make(map[string]model.Session),
		rounds:       make(map[roundKey]model.Round),
		movements:    make(map[roundKey][]model.MovementSample),
		events:       make(map[roundKey][]model.GameEvent),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) AppendMovementBatch(_ context.Context, samples []model.MovementSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range samples {
		k := roundKey{s.SessionID, s.RoundIndex}
		m.movements[k] = append(m.movements[k], s)
	}
	return nil
}

func (m *Memory) AppendEvent(_ context.Context, ev model.GameEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := roundKey{ev.SessionID, ev.RoundIndex}
	m.events[k] = append(m.events[k], ev)
	return nil
}

func (m *Memory) AppendRound(_ context.Context, r model.Round) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := roundKey{r.SessionID, r.RoundIndex}
	if _, dup := m.rounds[k]; dup {
		return fmt.Errorf("store: round %s/%d already written", r.SessionID, r.RoundIndex)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.ResourcePositions = append([]model.Reward(nil), r.ResourcePositions...)
	m.rounds[k] = r
	return nil
}

func (m *Memory) SaveParticipant(_ context.Context, p model.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.participants[p.ParticipantKey]; !ok {
		m.participants[p.ParticipantKey] = p
	}
	return nil
}

func (m *Memory) GetParticipant(_ context.Context, participantKey string) (model.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.participants[participantKey]
	if !ok {
		return model.Participant{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) SaveSession(_ context.Context, s model.Session) error {
	if s.ID == "" {
		return fmt.Errorf("store: save session: empty id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.sessions[s.ID]; dup {
		return fmt.Errorf("store: session %s already exists", s.ID)
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) GetRound(_ context.Context, sessionID string, roundIndex int) (model.Round, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rounds[roundKey{sessionID, roundIndex}]
	if !ok {
		return model.Round{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) ListRounds(_ context.Context, sessionID string) ([]model.Round, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Round
	for k, r := range m.rounds {
		if k.session == sessionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoundIndex < out[j].RoundIndex })
	return out, nil
}

func (m *Memory) GetMovements(_ context.Context, sessionID string, roundIndex int) ([]model.MovementSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.movements[roundKey{sessionID, roundIndex}]
	out := make([]model.MovementSample, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return out[i].TimestampMs < out[j].TimestampMs })
	return out, nil
}

func (m *Memory) GetEvents(_ context.Context, sessionID string, roundIndex int) ([]model.GameEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.events[roundKey{sessionID, roundIndex}]
	out := make([]model.GameEvent, len(src))
	copy(out, src)
	return out, nil
}
