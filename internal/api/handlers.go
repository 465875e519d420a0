package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MJE43/forage-arena-go/internal/clock"
	"github.com/MJE43/forage-arena-go/internal/engine"
	"github.com/MJE43/forage-arena-go/internal/layout"
	"github.com/MJE43/forage-arena-go/internal/model"
	"github.com/MJE43/forage-arena-go/internal/pilot"
	"github.com/MJE43/forage-arena-go/internal/round"
	"github.com/MJE43/forage-arena-go/internal/session"
	"github.com/MJE43/forage-arena-go/internal/stats"
)

const (
	defaultSimFPS = 60
	maxSimFPS     = 240
	maxSimRounds  = 10
	statsPlaces   = 2
)

type ConditionsResponse struct {
	Conditions    []layout.Condition `json:"conditions"`
	Schemes       []layout.Scheme    `json:"schemes"`
	ActiveScheme  string             `json:"activeScheme"`
	EngineVersion string             `json:"engine_version"`
}

type LayoutRequest struct {
	ParticipantKey string `json:"participantKey"`
	RoundIndex     int    `json:"roundIndex"`
	Condition      string `json:"condition"`
}

type StatsRequest struct {
	Movements        []model.MovementSample `json:"movements"`
	Events           []model.GameEvent      `json:"events"`
	DurationMs       int64                  `json:"durationMs"`
	RewardsCollected int                    `json:"rewardsCollected"`
}

type AssignRequest struct {
	ParticipantKey string `json:"participantKey"`
	Scheme         string `json:"scheme,omitempty"`
}

type RoundsResponse struct {
	SessionID string        `json:"sessionId"`
	Rounds    []model.Round `json:"rounds"`
}

type RoundStatsResponse struct {
	Round model.Round      `json:"round"`
	Stats stats.RoundStats `json:"stats"`
}

// SimulateRequest plays headless rounds with a steering script. Script
// defaults to the built-in spiral pilot.
type SimulateRequest struct {
	ParticipantKey string `json:"participantKey"`
	Scheme         string `json:"scheme,omitempty"`
	Mode           string `json:"mode,omitempty"`
	Script         string `json:"script,omitempty"`
	FPS            int    `json:"fps,omitempty"`
	Rounds         int    `json:"rounds,omitempty"`
}

type SimulatedRound struct {
	Round      model.Round      `json:"round"`
	Stats      stats.RoundStats `json:"stats"`
	Collisions int              `json:"collisions"`
}

type SimulateResponse struct {
	SessionID string           `json:"sessionId"`
	Condition string           `json:"condition"`
	Rounds    []SimulatedRound `json:"rounds"`
	Logs      []string         `json:"logs,omitempty"`
}

func (s *Server) handleConditions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, ConditionsResponse{
		Conditions:    layout.Conditions(),
		Schemes:       layout.Schemes(),
		ActiveScheme:  s.cfg.Scheme,
		EngineVersion: EngineVersion,
	})
}

func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	var req LayoutRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, NewError(ErrTypeValidation, "Invalid JSON format").WithCause(err))
		return
	}
	if req.ParticipantKey == "" {
		s.writeValidation(w, r, "participantKey", "participantKey is required")
		return
	}
	if req.RoundIndex < 0 {
		s.writeValidation(w, r, "roundIndex", "roundIndex must be >= 0")
		return
	}
	cond, err := layout.Lookup(req.Condition)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	l := s.generator.ForRound(cond, req.ParticipantKey, req.RoundIndex)
	s.logger.Info("layout_generated",
		"participant_hash", engine.HashKey(req.ParticipantKey),
		"round", req.RoundIndex,
		"condition", cond.Name,
		"forced", l.ForcedPlacements,
	)
	s.writeJSON(w, http.StatusOK, l)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var req StatsRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, NewError(ErrTypeValidation, "Invalid JSON format").WithCause(err))
		return
	}
	if req.DurationMs < 0 {
		s.writeValidation(w, r, "durationMs", "durationMs must be >= 0")
		return
	}
	if req.RewardsCollected < 0 {
		s.writeValidation(w, r, "rewardsCollected", "rewardsCollected must be >= 0")
		return
	}
	out := s.calc.Calculate(req.Movements, req.Events, req.DurationMs, req.RewardsCollected)
	s.writeJSON(w, http.StatusOK, out.Rounded(statsPlaces))
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, NewError(ErrTypeValidation, "Invalid JSON format").WithCause(err))
		return
	}
	if req.ParticipantKey == "" {
		s.writeValidation(w, r, "participantKey", "participantKey is required")
		return
	}
	m, err := s.manager(req.Scheme)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	p, err := m.Assign(r.Context(), req.ParticipantKey)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListRounds(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	rounds, err := s.store.ListRounds(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if rounds == nil {
		rounds = []model.Round{}
	}
	s.writeJSON(w, http.StatusOK, RoundsResponse{SessionID: id, Rounds: rounds})
}

func (s *Server) handleRoundStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	idx, err := strconv.Atoi(chi.URLParam(r, "roundIndex"))
	if err != nil || idx < 0 {
		s.writeValidation(w, r, "roundIndex", "roundIndex must be a non-negative integer")
		return
	}
	ctx := r.Context()
	rec, err := s.store.GetRound(ctx, id, idx)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	ms, err := s.store.GetMovements(ctx, id, idx)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	evs, err := s.store.GetEvents(ctx, id, idx)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	st := s.calc.Calculate(ms, evs, rec.DurationMs, rec.RewardsCollected)
	s.writeJSON(w, http.StatusOK, RoundStatsResponse{Round: rec, Stats: st.Rounded(statsPlaces)})
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, NewError(ErrTypeValidation, "Invalid JSON format").WithCause(err))
		return
	}
	if req.ParticipantKey == "" {
		s.writeValidation(w, r, "participantKey", "participantKey is required")
		return
	}
	switch req.Mode {
	case "":
		req.Mode = string(s.cfg.Round.Mode)
	case string(round.ModeAgent), string(round.ModeCursor), session.ModeMaze:
	default:
		s.writeValidation(w, r, "mode", "mode must be agent, cursor or maze")
		return
	}
	if req.Script == "" {
		req.Script = pilot.SpiralScript
	}
	if req.FPS == 0 {
		req.FPS = defaultSimFPS
	}
	if req.FPS < 0 || req.FPS > maxSimFPS {
		s.writeValidation(w, r, "fps", "fps must be in 1..%d", maxSimFPS)
		return
	}
	if req.Rounds == 0 {
		req.Rounds = 1
	}
	if req.Rounds < 0 || req.Rounds > maxSimRounds {
		s.writeValidation(w, r, "rounds", "rounds must be in 1..%d", maxSimRounds)
		return
	}
	if req.Scheme == "" {
		req.Scheme = s.cfg.Scheme
	}
	sc, err := layout.LookupScheme(req.Scheme)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	vm, err := pilot.NewVM(req.Script)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, NewError(ErrTypeScript, "Script rejected").WithCause(err))
		return
	}

	clk := clock.NewManual(time.Now())
	opts := s.sessionOptions(sc)
	opts.Clock = clk
	mgr, err := session.NewManager(s.store, opts)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	ctx := r.Context()
	sess, err := mgr.Begin(ctx, req.ParticipantKey, req.Mode)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	defer mgr.End(sess.Info().ID)

	resp := SimulateResponse{SessionID: sess.Info().ID, Condition: sess.Condition().Name}
	for i := 0; i < req.Rounds; i++ {
		out, err := s.simulateRound(ctx, sess, clk, vm, req.FPS)
		if errors.Is(err, session.ErrSessionComplete) {
			break
		}
		if err != nil {
			s.writeSimulateError(w, r, err)
			return
		}
		resp.Rounds = append(resp.Rounds, out)
	}
	resp.Logs = vm.Logs()

	s.logger.Info("simulation_completed",
		"session_id", resp.SessionID,
		"participant_hash", engine.HashKey(req.ParticipantKey),
		"rounds", len(resp.Rounds),
		"fps", req.FPS,
	)
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) simulateRound(ctx context.Context, sess *session.Session, clk *clock.Manual, vm *pilot.VM, fps int) (SimulatedRound, error) {
	var hooks round.Hooks
	if s.hub != nil {
		hooks.Renderer = s.hub
		hooks.Feedback = s.hub
		hooks.OnFinished = s.hub.OnFinished
		hooks.OnBoundary = s.hub.OnBoundary
	}
	c, err := sess.NextRound(ctx, hooks)
	if err != nil {
		return SimulatedRound{}, err
	}
	rec, err := pilot.Run(ctx, c, clk, vm, fps)
	if err != nil {
		return SimulatedRound{}, err
	}
	ms, err := s.store.GetMovements(ctx, rec.SessionID, rec.RoundIndex)
	if err != nil {
		return SimulatedRound{}, err
	}
	st := s.calc.Calculate(ms, c.Events(), rec.DurationMs, rec.RewardsCollected)
	return SimulatedRound{Round: rec, Stats: st.Rounded(statsPlaces), Collisions: c.Snapshot().Collisions}, nil
}

func (s *Server) writeSimulateError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		s.writeError(w, r, http.StatusRequestTimeout, NewError(ErrTypeTimeout, "Simulation timed out").WithCause(err))
	case errors.Is(err, pilot.ErrNoSteerFunc):
		s.writeError(w, r, http.StatusBadRequest, NewError(ErrTypeScript, "Script rejected").WithCause(err))
	default:
		status, typ := classify(err)
		if typ == ErrTypeInternal {
			status, typ = http.StatusBadRequest, ErrTypeScript
		}
		s.writeError(w, r, status, NewError(typ, err.Error()))
	}
}
