// Package session assigns participants to conditions and sequences their
// rounds, generating a fresh layout for every round index.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/MJE43/forage-arena-go/internal/clock"
	"github.com/MJE43/forage-arena-go/internal/engine"
	"github.com/MJE43/forage-arena-go/internal/layout"
	"github.com/MJE43/forage-arena-go/internal/model"
	"github.com/MJE43/forage-arena-go/internal/round"
	"github.com/MJE43/forage-arena-go/internal/sim"
	"github.com/MJE43/forage-arena-go/internal/store"
)

// ModeMaze marks a maze-training session.
const ModeMaze = "maze"

var (
	ErrRoundInProgress = errors.New("session: round in progress")
	ErrSessionComplete = errors.New("session: all rounds played")
	ErrUnknownSession  = errors.New("session: unknown session")
)

// Options configure a Manager.
type Options struct {
	Generator *layout.Generator
	Scheme    layout.Scheme
	Round     round.Config
	Sim       sim.Config
	// Maze is required for maze-training sessions.
	Maze *round.Maze
	// Rounds caps rounds per session; zero means unlimited.
	Rounds int
	Clock  clock.Clock
	Logger *log.Logger
	// Flip draws the condition bit; nil uses engine.CoinFlip.
	Flip func() (bool, error)
}

// Manager owns participant assignment and the live sessions.
type Manager struct {
	store store.Store
	opts  Options

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(st store.Store, opts Options) (*Manager, error) {
	if st == nil {
		return nil, fmt.Errorf("session: nil store")
	}
	if opts.Generator == nil {
		return nil, fmt.Errorf("session: nil layout generator")
	}
	if _, err := layout.LookupScheme(opts.Scheme.Name); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default().WithPrefix("session")
	}
	if opts.Flip == nil {
		opts.Flip = engine.CoinFlip
	}
	return &Manager{store: st, opts: opts, sessions: make(map[string]*Session)}, nil
}

// Assign returns the participant's condition, drawing and persisting it on
// first contact. Later calls reuse the stored assignment.
func (m *Manager) Assign(ctx context.Context, participantKey string) (model.Participant, error) {
	if participantKey == "" {
		return model.Participant{}, fmt.Errorf("session: empty participant key")
	}
	p, err := m.store.GetParticipant(ctx, participantKey)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.Participant{}, fmt.Errorf("session: load participant: %w", err)
	}

	structured, err := m.opts.Flip()
	if err != nil {
		return model.Participant{}, fmt.Errorf("session: draw condition: %w", err)
	}
	cond := m.opts.Scheme.Pick(structured)
	p = model.Participant{
		ParticipantKey: participantKey,
		Scheme:         m.opts.Scheme.Name,
		Condition:      cond.Name,
		AssignedAt:     m.opts.Clock.Now(),
	}
	if err := m.store.SaveParticipant(ctx, p); err != nil {
		return model.Participant{}, fmt.Errorf("session: save participant: %w", err)
	}
	// A concurrent Assign for the same key may have stored first.
	p, err = m.store.GetParticipant(ctx, participantKey)
	if err != nil {
		return model.Participant{}, fmt.Errorf("session: reload participant: %w", err)
	}
	m.opts.Logger.Info("condition_assigned",
		"participant_hash", engine.HashKey(participantKey),
		"scheme", p.Scheme,
		"condition", p.Condition,
	)
	return p, nil
}

// Begin opens a session for the participant. mode is "agent", "cursor"
// or "maze".
func (m *Manager) Begin(ctx context.Context, participantKey, mode string) (*Session, error) {
	switch mode {
	case string(round.ModeAgent), string(round.ModeCursor):
	case ModeMaze:
		if m.opts.Maze == nil {
			return nil, fmt.Errorf("session: no maze configured")
		}
	default:
		return nil, fmt.Errorf("session: unknown mode %q", mode)
	}

	p, err := m.Assign(ctx, participantKey)
	if err != nil {
		return nil, err
	}
	cond, err := layout.Lookup(p.Condition)
	if err != nil {
		return nil, fmt.Errorf("session: stored condition: %w", err)
	}

	info := model.Session{
		ID:             uuid.NewString(),
		ParticipantKey: participantKey,
		Condition:      cond.Name,
		Mode:           mode,
		StartedAt:      m.opts.Clock.Now(),
	}
	if err := m.store.SaveSession(ctx, info); err != nil {
		return nil, fmt.Errorf("session: save session: %w", err)
	}

	s := &Session{mgr: m, info: info, cond: cond}
	m.mu.Lock()
	m.sessions[info.ID] = s
	m.mu.Unlock()

	m.opts.Logger.Info("session_started",
		"session_id", info.ID,
		"participant_hash", engine.HashKey(participantKey),
		"condition", cond.Name,
		"mode", mode,
	)
	return s, nil
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	return s, nil
}

// End aborts the session's current round, if any, and forgets the session.
func (m *Manager) End(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	if c := s.Current(); c != nil {
		c.Abort()
	}
	m.opts.Logger.Info("session_ended", "session_id", id, "rounds", s.Played())
	return nil
}

// Session sequences rounds for one participant sitting.
type Session struct {
	mgr  *Manager
	info model.Session
	cond layout.Condition

	mu      sync.Mutex
	next    int
	current *round.Controller
}

// Info returns the persisted session record.
func (s *Session) Info() model.Session { return s.info }

// Condition returns the participant's assigned condition.
func (s *Session) Condition() layout.Condition { return s.cond }

// Played returns the number of rounds created so far.
func (s *Session) Played() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Current returns the most recent round controller, or nil.
func (s *Session) Current() *round.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Layout generates the layout for a round index of this session.
func (s *Session) Layout(roundIndex int) layout.Layout {
	return s.mgr.opts.Generator.ForRound(s.cond, s.info.ParticipantKey, roundIndex)
}

// NextRound builds an idle controller for the next round index with a
// freshly generated layout. The previous round must have ended.
func (s *Session) NextRound(ctx context.Context, hooks round.Hooks) (*round.Controller, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.State() != round.StateEnded {
		return nil, ErrRoundInProgress
	}
	opts := s.mgr.opts
	if opts.Rounds > 0 && s.next >= opts.Rounds {
		return nil, ErrSessionComplete
	}

	idx := s.next
	p := round.Params{SessionID: s.info.ID, RoundIndex: idx}
	logger := opts.Logger.With("session_id", s.info.ID, "round", idx)
	deps := round.Deps{Sink: s.mgr.store, Clock: opts.Clock, Logger: opts.Logger.WithPrefix("round"), Hooks: hooks}

	var (
		c   *round.Controller
		err error
	)
	if s.info.Mode == ModeMaze {
		p.Layout = layout.Layout{Condition: ModeMaze}
		c, err = round.NewMazeRun(ctx, opts.Round, opts.Sim, *opts.Maze, p, deps)
	} else {
		p.Layout = s.Layout(idx)
		if verr := p.Layout.Verify(opts.Generator.Config().RewardCount); verr != nil {
			logger.Error("layout_postcondition_failed", "err", verr)
		}
		cfg := opts.Round
		cfg.Mode = round.Mode(s.info.Mode)
		c, err = round.New(ctx, cfg, opts.Sim, p, deps)
	}
	if err != nil {
		return nil, err
	}

	s.next++
	s.current = c
	logger.Debug("round_prepared", "condition", p.Layout.Condition, "rewards", len(p.Layout.Rewards))
	return c, nil
}
