// Package round runs one round's lifecycle: countdown, active simulation
// with collection detection and fixed-rate sampling, and exactly-once
// finalization.
package round

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/MJE43/forage-arena-go/internal/clock"
	"github.com/MJE43/forage-arena-go/internal/collect"
	"github.com/MJE43/forage-arena-go/internal/layout"
	"github.com/MJE43/forage-arena-go/internal/model"
	"github.com/MJE43/forage-arena-go/internal/sim"
	"github.com/MJE43/forage-arena-go/internal/store"
)

// State is the lifecycle state of a round.
type State string

const (
	StateIdle      State = "idle"
	StateCountdown State = "countdown"
	StateActive    State = "active"
	StateEnded     State = "ended"
)

// ErrNotIdle is returned by Start when the round has already started.
var ErrNotIdle = errors.New("round: not idle")

// Params identify the round and carry its pre-generated layout.
type Params struct {
	SessionID  string
	RoundIndex int
	Layout     layout.Layout
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Sink   store.Sink
	Clock  clock.Clock
	Logger *log.Logger
	Hooks  Hooks
}

// Snapshot is a read-only view of a running round.
type Snapshot struct {
	State      State            `json:"state"`
	SessionID  string           `json:"sessionId"`
	RoundIndex int              `json:"roundIndex"`
	Pose       model.AgentState `json:"pose"`
	Collected  int              `json:"collected"`
	Total      int              `json:"total"`
	ElapsedMs  int64            `json:"elapsedMs"`
	Collisions int              `json:"collisions,omitempty"`
}

// Controller owns all mutable state of one round. Methods are safe for
// concurrent use; timer callbacks and frame calls are serialized by mu.
type Controller struct {
	ctx    context.Context
	cfg    Config
	simCfg sim.Config
	params Params
	maze   *Maze

	sink   store.Sink
	clk    clock.Clock
	hooks  Hooks
	logger *log.Logger

	mu            sync.Mutex
	state         State
	countdownLeft int
	countdown     clock.Timer
	limit         clock.Timer
	finish        clock.Timer

	start     time.Time
	lastFrame time.Time
	agent     *sim.Agent
	sampler   *sim.Sampler
	cursor    *sim.Cursor
	detector  *collect.Detector
	recorder  *store.Recorder
	guard     sim.CollisionGuard

	events []model.GameEvent
	result *model.Round
}

// New validates the configuration and returns an idle controller.
func New(ctx context.Context, cfg Config, simCfg sim.Config, p Params, deps Deps) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := simCfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Sink == nil {
		return nil, fmt.Errorf("round: nil sink")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = log.Default().WithPrefix("round")
	}
	return &Controller{
		ctx:      ctx,
		cfg:      cfg,
		simCfg:   simCfg,
		params:   p,
		sink:     deps.Sink,
		clk:      deps.Clock,
		hooks:    deps.Hooks,
		logger:   deps.Logger,
		state:    StateIdle,
		detector: collect.NewDetector(p.Layout.Rewards, cfg.HitRadius),
	}, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins the countdown. With a zero countdown the round becomes
// active immediately.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrNotIdle
	}
	var after []func()
	if c.cfg.Countdown == 0 {
		after = c.activateLocked()
	} else {
		c.state = StateCountdown
		c.countdownLeft = c.cfg.Countdown
		after = append(after, c.countdownNotice(c.countdownLeft))
		c.countdown = c.clk.AfterFunc(time.Second, c.tickCountdown)
	}
	c.mu.Unlock()
	run(after)
	return nil
}

func (c *Controller) tickCountdown() {
	c.mu.Lock()
	if c.state != StateCountdown {
		c.mu.Unlock()
		return
	}
	c.countdownLeft--
	var after []func()
	if c.countdownLeft <= 0 {
		after = c.activateLocked()
	} else {
		after = append(after, c.countdownNotice(c.countdownLeft))
		c.countdown = c.clk.AfterFunc(time.Second, c.tickCountdown)
	}
	c.mu.Unlock()
	run(after)
}

func (c *Controller) countdownNotice(n int) func() {
	cb := c.hooks.OnCountdown
	return func() {
		if cb != nil {
			cb(n)
		}
	}
}

// activateLocked records the start time, starts the simulator and the
// round timer, and emits the start event.
func (c *Controller) activateLocked() []func() {
	now := c.clk.Now()
	c.state = StateActive
	c.start = now
	c.lastFrame = now
	c.recorder = store.NewRecorder(c.ctx, c.sink, c.cfg.BatchSize, c.logger)
	c.limit = c.clk.AfterFunc(c.cfg.TimeLimit, c.onTimeLimit)

	meta := map[string]any{
		"condition": c.params.Layout.Condition,
		"mode":      string(c.cfg.Mode),
		"rewards":   len(c.params.Layout.Rewards),
	}
	startType := model.EventRoundStart
	if c.maze != nil {
		startType = model.EventMazeStart
	}
	c.emitLocked(startType, now, meta)

	var pose model.AgentState
	if c.cfg.Mode == ModeCursor {
		c.cursor = sim.NewCursor(c.simCfg.CursorSampleHz)
	} else {
		c.agent = sim.NewAgent(c.simCfg)
		c.sampler = sim.NewSampler(c.simCfg.AgentSampleHz)
		pose = c.agent.State()
		c.recordAgentSampleLocked(pose, now)
	}

	c.logger.Info("round_started",
		"session_id", c.params.SessionID,
		"round", c.params.RoundIndex,
		"condition", c.params.Layout.Condition,
		"mode", c.cfg.Mode,
	)

	if c.cfg.Mode == ModeCursor {
		return nil
	}
	return []func(){c.renderFunc(pose)}
}

// Frame advances one animation tick. In agent mode in carries the held
// steering keys; in cursor mode it is ignored and the tick only samples.
// Frames outside the active state are ignored.
func (c *Controller) Frame(in sim.Input) {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return
	}
	now := c.clk.Now()
	if now.Sub(c.start) >= c.cfg.TimeLimit {
		after := c.finalizeLocked(model.EndTimeout, now, true)
		c.mu.Unlock()
		run(after)
		return
	}

	var after []func()
	if c.cfg.Mode == ModeCursor {
		after = c.cursorFrameLocked(now)
	} else {
		after = c.agentFrameLocked(now, in)
	}
	c.mu.Unlock()
	run(after)
}

func (c *Controller) agentFrameLocked(now time.Time, in sim.Input) []func() {
	dt := now.Sub(c.lastFrame)
	c.lastFrame = now

	res := c.agent.Step(dt, in)
	c.sampler.Accumulate(res.Traveled)
	pose := res.State

	after := c.boundaryFuncs(res.HitEdges)
	if c.maze != nil {
		return append(after, c.mazeFrameLocked(res, now)...)
	}

	c.recordAgentSampleLocked(pose, now)
	after = append(after, c.renderFunc(pose))
	return append(after, c.collectLocked(c.detector.CheckAgent(pose, now), now)...)
}

func (c *Controller) boundaryFuncs(edges []sim.Edge) []func() {
	cb := c.hooks.OnBoundary
	if cb == nil || len(edges) == 0 {
		return nil
	}
	after := make([]func(), 0, len(edges))
	for _, e := range edges {
		after = append(after, func() { cb(e) })
	}
	return after
}

func (c *Controller) cursorFrameLocked(now time.Time) []func() {
	elapsed := now.Sub(c.start)
	s, ok := c.cursor.Sample(elapsed, now)
	if ok {
		s.SessionID = c.params.SessionID
		s.RoundIndex = c.params.RoundIndex
		s.FoodHere = c.detector.FoodAt(model.Position{X: s.X, Y: s.Y})
		c.recorder.Record(s)
	}
	p, inside := c.cursor.Position()
	if !inside {
		return nil
	}
	return []func(){c.renderFunc(model.AgentState{X: p.X, Y: p.Y})}
}

// Pointer records a pointer move in cursor mode and checks it for
// collection. Moves outside the surface, including coordinates off the
// canvas, are tracked but neither sampled nor checked. A move at or past
// the time limit ends the round instead.
func (c *Controller) Pointer(x, y float64, inside bool) {
	c.mu.Lock()
	if c.state != StateActive || c.cursor == nil {
		c.mu.Unlock()
		return
	}
	now := c.clk.Now()
	if now.Sub(c.start) >= c.cfg.TimeLimit {
		after := c.finalizeLocked(model.EndTimeout, now, true)
		c.mu.Unlock()
		run(after)
		return
	}
	size := c.simCfg.CanvasSize
	if x < 0 || x >= size || y < 0 || y >= size {
		inside = false
	}
	p := model.Position{X: x, Y: y}
	c.cursor.Move(p, inside)
	var after []func()
	if inside {
		after = c.collectLocked(c.detector.CheckPosition(p, now), now)
	}
	c.mu.Unlock()
	run(after)
}

// collectLocked turns detector hits into events and queues feedback.
// The detector has already marked each reward before this runs.
func (c *Controller) collectLocked(res collect.Result, now time.Time) []func() {
	var after []func()
	for _, h := range res.Hits {
		meta := map[string]any{
			"rewardId": h.Reward.ID,
			"x":        h.Reward.X,
			"y":        h.Reward.Y,
			"total":    h.Total,
		}
		if h.Pose != nil {
			meta["agentX"] = h.Pose.X
			meta["agentY"] = h.Pose.Y
			meta["heading"] = h.Pose.Heading
		}
		c.emitLocked(model.EventRewardHit, now, meta)
		if fb := c.hooks.Feedback; fb != nil {
			r := h.Reward
			after = append(after, func() { fb.OnCollect(r) })
		}
	}
	if res.AllCollected {
		after = append(after, c.finalizeLocked(model.EndAllRewards, now, true)...)
	}
	return after
}

func (c *Controller) recordAgentSampleLocked(pose model.AgentState, now time.Time) {
	elapsed := now.Sub(c.start)
	if !c.sampler.Due(elapsed) {
		return
	}
	s := sim.AgentSample(pose, c.sampler.TakeDistance(), elapsed, now)
	s.SessionID = c.params.SessionID
	s.RoundIndex = c.params.RoundIndex
	s.FoodHere = c.detector.FoodAt(pose.Pos())
	c.recorder.Record(s)
}

func (c *Controller) onTimeLimit() {
	c.mu.Lock()
	after := c.finalizeLocked(model.EndTimeout, c.clk.Now(), true)
	c.mu.Unlock()
	run(after)
}

// Abort ends the round immediately, for example when the participant
// navigates away. Buffered samples are flushed and the round is recorded
// with reason aborted; OnFinished is not called. Aborting an idle or
// counting-down round discards it without a record.
func (c *Controller) Abort() (model.Round, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateIdle, StateCountdown:
		stopTimer(c.countdown)
		c.state = StateEnded
		return model.Round{}, false
	case StateActive:
		c.finalizeLocked(model.EndAborted, c.clk.Now(), false)
	}
	if c.result == nil {
		return model.Round{}, false
	}
	return *c.result, true
}

// finalizeLocked ends the round exactly once. Later triggers are no-ops.
func (c *Controller) finalizeLocked(reason model.EndReason, now time.Time, notify bool) []func() {
	if c.state != StateActive {
		return nil
	}
	c.state = StateEnded
	stopTimer(c.limit)
	c.recorder.Stop()

	score := c.detector.Count()
	if reason == model.EndAllRewards {
		score = c.detector.Total()
	}
	duration := now.Sub(c.start)
	if reason == model.EndTimeout && duration > c.cfg.TimeLimit {
		duration = c.cfg.TimeLimit
		now = c.start.Add(duration)
	}

	terminal := model.EventRoundEnd
	switch {
	case reason == model.EndTimeout:
		terminal = model.EventTimeout
	case reason == model.EndMazeComplete:
		terminal = model.EventMazeComplete
	}
	c.emitLocked(terminal, now, map[string]any{
		"reason":     string(reason),
		"score":      score,
		"durationMs": duration.Milliseconds(),
	})

	r := model.Round{
		ID:                uuid.NewString(),
		SessionID:         c.params.SessionID,
		RoundIndex:        c.params.RoundIndex,
		Condition:         c.params.Layout.Condition,
		StartTimestamp:    c.start,
		EndTimestamp:      now,
		DurationMs:        duration.Milliseconds(),
		RewardsCollected:  score,
		ResourcePositions: c.detector.Rewards(),
		ClusterParams:     c.params.Layout.ClusterParams,
		EndReason:         reason,
	}
	c.result = &r
	if err := c.sink.AppendRound(c.ctx, r); err != nil {
		c.logger.Error("round_persist_failed", "session_id", r.SessionID, "round", r.RoundIndex, "err", err)
	}
	c.logger.Info("round_finalized",
		"session_id", r.SessionID,
		"round", r.RoundIndex,
		"reason", reason,
		"score", score,
		"duration_ms", r.DurationMs,
		"samples", c.recorder.Written(),
	)

	if !notify || c.hooks.OnFinished == nil {
		return nil
	}
	done := c.hooks.OnFinished
	if c.cfg.PostRoundDelay == 0 {
		return []func(){func() { done(r) }}
	}
	c.finish = c.clk.AfterFunc(c.cfg.PostRoundDelay, func() { done(r) })
	return nil
}

func (c *Controller) emitLocked(t model.EventType, now time.Time, meta map[string]any) {
	ts := now.Sub(c.start).Milliseconds()
	if ts < 0 {
		ts = 0
	}
	ev := model.GameEvent{
		SessionID:    c.params.SessionID,
		RoundIndex:   c.params.RoundIndex,
		EventType:    t,
		TimestampMs:  ts,
		TimestampAbs: now,
		Metadata:     meta,
	}
	c.events = append(c.events, ev)
	if err := c.sink.AppendEvent(c.ctx, ev); err != nil {
		c.logger.Error("event_persist_failed", "type", t, "err", err)
	}
}

func (c *Controller) renderFunc(pose model.AgentState) func() {
	r := c.hooks.Renderer
	return func() {
		if r != nil {
			r.OnPositionUpdate(pose)
		}
	}
}

// Events returns a copy of the round's event log.
func (c *Controller) Events() []model.GameEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.GameEvent, len(c.events))
	copy(out, c.events)
	return out
}

// Result returns the finalized round once the round has ended.
func (c *Controller) Result() (model.Round, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.result == nil {
		return model.Round{}, false
	}
	return *c.result, true
}

// Snapshot returns a consistent read-only view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		State:      c.state,
		SessionID:  c.params.SessionID,
		RoundIndex: c.params.RoundIndex,
		Collected:  c.detector.Count(),
		Total:      c.detector.Total(),
		Collisions: c.guard.Count(),
	}
	switch {
	case c.agent != nil:
		s.Pose = c.agent.State()
	case c.cursor != nil:
		p, _ := c.cursor.Position()
		s.Pose = model.AgentState{X: p.X, Y: p.Y}
	}
	switch c.state {
	case StateActive:
		s.ElapsedMs = c.clk.Now().Sub(c.start).Milliseconds()
	case StateEnded:
		if c.result != nil {
			s.ElapsedMs = c.result.DurationMs
		}
	}
	return s
}

// Config returns the round configuration.
func (c *Controller) Config() Config { return c.cfg }

func stopTimer(t clock.Timer) {
	if t != nil {
		t.Stop()
	}
}

func run(fns []func()) {
	for _, f := range fns {
		f()
	}
}

// CanvasSize returns the arena edge length in px.
func (c *Controller) CanvasSize() float64 { return c.simCfg.CanvasSize }
