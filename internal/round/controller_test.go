package round

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/forage-arena-go/internal/clock"
	"github.com/MJE43/forage-arena-go/internal/layout"
	"github.com/MJE43/forage-arena-go/internal/model"
	"github.com/MJE43/forage-arena-go/internal/sim"
	"github.com/MJE43/forage-arena-go/internal/store"
)

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu       sync.Mutex
	poses    []model.AgentState
	rewards  []model.Reward
	counts   []int
	finished []model.Round
}

func (r *recorder) OnPositionUpdate(s model.AgentState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.poses = append(r.poses, s)
}

func (r *recorder) OnCollect(rw model.Reward) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rewards = append(r.rewards, rw)
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		Renderer: r,
		Feedback: r,
		OnCountdown: func(n int) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.counts = append(r.counts, n)
		},
		OnFinished: func(rd model.Round) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.finished = append(r.finished, rd)
		},
	}
}

type fixture struct {
	c   *Controller
	clk *clock.Manual
	db  *store.Memory
	rec *recorder
}

func newFixture(t *testing.T, mutate func(*Config, *sim.Config), rewards []model.Reward) *fixture {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Countdown = 0
	simCfg := sim.DefaultConfig()
	if mutate != nil {
		mutate(&cfg, &simCfg)
	}
	f := &fixture{clk: clock.NewManual(t0), db: store.NewMemory(), rec: &recorder{}}
	p := Params{SessionID: "s1", RoundIndex: 0, Layout: layout.Layout{Condition: "noise", Rewards: rewards}}
	c, err := New(context.Background(), cfg, simCfg, p, Deps{Sink: f.db, Clock: f.clk, Hooks: f.rec.hooks()})
	require.NoError(t, err)
	f.c = c
	return f
}

// frames advances the clock by dt before each of n agent ticks.
func (f *fixture) frames(n int, dt time.Duration, in sim.Input) {
	for i := 0; i < n; i++ {
		f.clk.Advance(dt)
		f.c.Frame(in)
	}
}

func terminalEvents(evs []model.GameEvent) int {
	n := 0
	for _, e := range evs {
		if e.EventType.Terminal() {
			n++
		}
	}
	return n
}

func eventTypes(evs []model.GameEvent) []model.EventType {
	out := make([]model.EventType, len(evs))
	for i, e := range evs {
		out[i] = e.EventType
	}
	return out
}

func TestCountdownThenActive(t *testing.T) {
	f := newFixture(t, func(c *Config, _ *sim.Config) { c.Countdown = 3 }, nil)

	require.NoError(t, f.c.Start())
	assert.Equal(t, StateCountdown, f.c.State())
	assert.ErrorIs(t, f.c.Start(), ErrNotIdle)

	// Frames during the countdown do nothing.
	f.frames(1, 500*time.Millisecond, sim.Input{})
	assert.Empty(t, f.c.Events())

	f.clk.Advance(2500 * time.Millisecond)
	assert.Equal(t, StateActive, f.c.State())
	assert.Equal(t, []int{3, 2, 1}, f.rec.counts)

	evs := f.c.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, model.EventRoundStart, evs[0].EventType)
	assert.Equal(t, t0.Add(3*time.Second), evs[0].TimestampAbs)
}

func TestAgentCollectsAllRewards(t *testing.T) {
	rewards := []model.Reward{{ID: 0, X: 300, Y: 240}}
	f := newFixture(t, nil, rewards)
	require.NoError(t, f.c.Start())

	f.frames(10, 50*time.Millisecond, sim.Input{})

	assert.Equal(t, StateEnded, f.c.State())
	evs := f.c.Events()
	assert.Equal(t, []model.EventType{model.EventRoundStart, model.EventRewardHit, model.EventRoundEnd}, eventTypes(evs))
	assert.Equal(t, int64(350), evs[1].TimestampMs)
	assert.Equal(t, 0, evs[1].Metadata["rewardId"])
	assert.Equal(t, 1, evs[1].Metadata["total"])
	assert.Contains(t, evs[1].Metadata, "heading")

	r, ok := f.c.Result()
	require.True(t, ok)
	assert.Equal(t, model.EndAllRewards, r.EndReason)
	assert.Equal(t, 1, r.RewardsCollected)
	assert.Equal(t, int64(350), r.DurationMs)
	assert.True(t, r.ResourcePositions[0].Collected)
	assert.Len(t, f.rec.rewards, 1)

	// The round timer was stopped: no late timeout.
	f.clk.Advance(2 * time.Minute)
	assert.Equal(t, 1, terminalEvents(f.c.Events()))

	stored, err := f.db.ListRounds(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
	assert.Len(t, f.rec.finished, 1)
}

func TestTimeoutScoresAuthoritativeCount(t *testing.T) {
	rewards := []model.Reward{{ID: 0, X: 300, Y: 240}, {ID: 1, X: 50, Y: 50}}
	f := newFixture(t, nil, rewards)
	require.NoError(t, f.c.Start())
	f.frames(10, 50*time.Millisecond, sim.Input{})

	f.clk.Advance(time.Minute)
	assert.Equal(t, StateEnded, f.c.State())

	evs := f.c.Events()
	last := evs[len(evs)-1]
	assert.Equal(t, model.EventTimeout, last.EventType)
	assert.Equal(t, int64(60000), last.TimestampMs)

	r, _ := f.c.Result()
	assert.Equal(t, model.EndTimeout, r.EndReason)
	assert.Equal(t, 1, r.RewardsCollected)
	assert.Equal(t, int64(60000), r.DurationMs)

	f.c.Frame(sim.Input{})
	assert.Len(t, f.c.Events(), len(evs))
}

func TestFrameAtTimeLimitEndsRound(t *testing.T) {
	f := newFixture(t, func(c *Config, _ *sim.Config) { c.TimeLimit = time.Second }, nil)
	require.NoError(t, f.c.Start())

	// Stop the timer to simulate a delayed timer callback; the frame must
	// still end the round.
	f.c.limit.Stop()
	f.frames(25, 50*time.Millisecond, sim.Input{})

	r, ok := f.c.Result()
	require.True(t, ok)
	assert.Equal(t, model.EndTimeout, r.EndReason)
	assert.Equal(t, int64(1000), r.DurationMs)
}

func TestDoubleTerminationInSameTick(t *testing.T) {
	f := newFixture(t, nil, []model.Reward{{ID: 0, X: 10, Y: 10}})
	require.NoError(t, f.c.Start())
	f.clk.Advance(time.Second)

	now := f.clk.Now()
	f.c.mu.Lock()
	f.c.finalizeLocked(model.EndAllRewards, now, true)
	f.c.finalizeLocked(model.EndTimeout, now, true)
	f.c.mu.Unlock()
	f.c.onTimeLimit()
	f.c.Abort()

	assert.Equal(t, 1, terminalEvents(f.c.Events()))
	rounds, _ := f.db.ListRounds(context.Background(), "s1")
	assert.Len(t, rounds, 1)
	assert.Equal(t, model.EndAllRewards, rounds[0].EndReason)

	f.clk.Advance(time.Minute)
	assert.Len(t, f.rec.finished, 1)
}

func TestSamplesAreFixedRateAndFlushedOnEnd(t *testing.T) {
	f := newFixture(t, nil, nil)
	require.NoError(t, f.c.Start())
	f.frames(20, 50*time.Millisecond, sim.Input{Right: true})

	// Still buffered: below one batch.
	got, _ := f.db.GetMovements(context.Background(), "s1", 0)
	assert.Empty(t, got)

	_, ok := f.c.Abort()
	require.True(t, ok)

	got, err := f.db.GetMovements(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, got, 11)
	assert.Zero(t, got[0].DistanceFromLast)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i].TimestampMs, got[i-1].TimestampMs)
		assert.Equal(t, int64(i*100), got[i].TimestampMs)
		assert.InDelta(t, 12.0, got[i].DistanceFromLast, 1e-9)
		assert.Zero(t, got[i].Acceleration)
	}

	// No samples after deactivation.
	f.frames(20, 50*time.Millisecond, sim.Input{})
	got, _ = f.db.GetMovements(context.Background(), "s1", 0)
	assert.Len(t, got, 11)
}

func TestAbort(t *testing.T) {
	t.Run("during countdown", func(t *testing.T) {
		f := newFixture(t, func(c *Config, _ *sim.Config) { c.Countdown = 3 }, nil)
		require.NoError(t, f.c.Start())
		_, ok := f.c.Abort()
		assert.False(t, ok)

		f.clk.Advance(5 * time.Second)
		assert.Equal(t, StateEnded, f.c.State())
		assert.Empty(t, f.c.Events())
	})

	t.Run("while active", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		require.NoError(t, f.c.Start())
		f.frames(4, 50*time.Millisecond, sim.Input{})

		r, ok := f.c.Abort()
		require.True(t, ok)
		assert.Equal(t, model.EndAborted, r.EndReason)
		assert.Equal(t, int64(200), r.DurationMs)

		evs := f.c.Events()
		assert.Equal(t, model.EventRoundEnd, evs[len(evs)-1].EventType)
		assert.Equal(t, "aborted", evs[len(evs)-1].Metadata["reason"])

		f.clk.Advance(time.Minute)
		assert.Empty(t, f.rec.finished)
		assert.Equal(t, 1, terminalEvents(f.c.Events()))
	})
}

func TestHooksRunOutsideLock(t *testing.T) {
	f := newFixture(t, nil, []model.Reward{{ID: 0, X: 300, Y: 294}, {ID: 1, X: 0, Y: 0}})
	var snaps []Snapshot
	f.c.hooks.Feedback = feedbackFunc(func(model.Reward) { snaps = append(snaps, f.c.Snapshot()) })

	require.NoError(t, f.c.Start())
	f.frames(1, 50*time.Millisecond, sim.Input{})

	require.Len(t, snaps, 1)
	assert.Equal(t, 1, snaps[0].Collected)
	assert.Equal(t, 2, snaps[0].Total)
	assert.Equal(t, StateActive, snaps[0].State)
}

type feedbackFunc func(model.Reward)

func (f feedbackFunc) OnCollect(r model.Reward) { f(r) }

func TestCursorMode(t *testing.T) {
	rewards := []model.Reward{{ID: 0, X: 100, Y: 100}, {ID: 1, X: 500, Y: 500}}
	f := newFixture(t, func(c *Config, _ *sim.Config) { c.Mode = ModeCursor }, rewards)
	require.NoError(t, f.c.Start())

	// Outside the surface: tracked, not sampled, not checked.
	f.c.Pointer(100, 100, false)
	f.clk.Advance(50 * time.Millisecond)
	f.c.Frame(sim.Input{})
	assert.Zero(t, f.c.Snapshot().Collected)

	f.c.Pointer(100, 100, true)
	f.c.Pointer(100, 100, true)
	assert.Equal(t, 1, f.c.Snapshot().Collected)

	for i := 0; i < 6; i++ {
		f.clk.Advance(50 * time.Millisecond)
		f.c.Pointer(100+float64(i)*10, 100, true)
		f.c.Frame(sim.Input{})
	}
	f.c.Pointer(505, 495, true)

	r, ok := f.c.Result()
	require.True(t, ok)
	assert.Equal(t, model.EndAllRewards, r.EndReason)
	assert.Equal(t, 2, r.RewardsCollected)

	samples, _ := f.db.GetMovements(context.Background(), "s1", 0)
	require.NotEmpty(t, samples)
	assert.Equal(t, int64(100), samples[0].TimestampMs)
	assert.True(t, samples[0].FoodHere)
	for i := 1; i < len(samples); i++ {
		assert.GreaterOrEqual(t, samples[i].TimestampMs-samples[i-1].TimestampMs, int64(33))
	}
}

// heldClock queues timer callbacks until release. A stopped timer still
// runs on release, like a callback already waiting on the lock.
type heldClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []func()
}

type heldTimer struct{}

func (heldTimer) Stop() bool { return false }

func (h *heldClock) Now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *heldClock) AfterFunc(_ time.Duration, f func()) clock.Timer {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending = append(h.pending, f)
	return heldTimer{}
}

func (h *heldClock) set(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = t
}

func (h *heldClock) release() {
	h.mu.Lock()
	fs := h.pending
	h.pending = nil
	h.mu.Unlock()
	for _, f := range fs {
		f()
	}
}

func TestLatePointerAfterLimitIsIgnored(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Countdown = 0
	cfg.Mode = ModeCursor
	clk := &heldClock{now: t0}
	db := store.NewMemory()
	rec := &recorder{}
	p := Params{SessionID: "s1", Layout: layout.Layout{Condition: "noise",
		Rewards: []model.Reward{{ID: 0, X: 100, Y: 100}, {ID: 1, X: 500, Y: 500}}}}
	c, err := New(context.Background(), cfg, sim.DefaultConfig(), p, Deps{Sink: db, Clock: clk, Hooks: rec.hooks()})
	require.NoError(t, err)
	require.NoError(t, c.Start())

	// The limit timer is late: the pointer lands on a reward first.
	clk.set(t0.Add(cfg.TimeLimit + 500*time.Millisecond))
	c.Pointer(100, 100, true)
	clk.release()

	r, ok := c.Result()
	require.True(t, ok)
	assert.Equal(t, model.EndTimeout, r.EndReason)
	assert.Zero(t, r.RewardsCollected)
	assert.Equal(t, cfg.TimeLimit.Milliseconds(), r.DurationMs)
	assert.Empty(t, rec.rewards)
	assert.Len(t, rec.finished, 1)

	evs := c.Events()
	assert.NotContains(t, eventTypes(evs), model.EventRewardHit)
	assert.Equal(t, 1, terminalEvents(evs))
	for i := 1; i < len(evs); i++ {
		assert.GreaterOrEqual(t, evs[i].TimestampMs, evs[i-1].TimestampMs)
	}
}

func TestPointerOffCanvasCountsAsOutside(t *testing.T) {
	rewards := []model.Reward{{ID: 0, X: 590, Y: 100}, {ID: 1, X: 10, Y: 300}}
	f := newFixture(t, func(c *Config, _ *sim.Config) { c.Mode = ModeCursor }, rewards)
	require.NoError(t, f.c.Start())

	f.c.Pointer(605, 100, true)
	f.clk.Advance(50 * time.Millisecond)
	f.c.Frame(sim.Input{})
	f.c.Pointer(-3, 300, true)
	f.clk.Advance(50 * time.Millisecond)
	f.c.Frame(sim.Input{})

	assert.Zero(t, f.c.Snapshot().Collected)
	assert.Empty(t, f.rec.poses)

	f.c.Pointer(590, 100, true)
	assert.Equal(t, 1, f.c.Snapshot().Collected)
}

func TestClampBoundaryReportsEdges(t *testing.T) {
	var (
		mu    sync.Mutex
		edges []sim.Edge
	)
	f := newFixture(t, func(_ *Config, s *sim.Config) { s.Boundary = sim.BoundaryClamp },
		[]model.Reward{{ID: 0, X: 500, Y: 500}})
	f.c.hooks.OnBoundary = func(e sim.Edge) {
		mu.Lock()
		defer mu.Unlock()
		edges = append(edges, e)
	}
	require.NoError(t, f.c.Start())

	// Heading up from the center at 120 px/s reaches the top after 2.5s.
	f.frames(20, 100*time.Millisecond, sim.Input{})
	assert.Empty(t, edges)

	f.frames(10, 100*time.Millisecond, sim.Input{})
	require.NotEmpty(t, edges)
	for _, e := range edges {
		assert.Equal(t, sim.EdgeTop, e)
	}
}

func TestWrapBoundaryReportsNoEdges(t *testing.T) {
	var edges []sim.Edge
	f := newFixture(t, nil, []model.Reward{{ID: 0, X: 500, Y: 500}})
	f.c.hooks.OnBoundary = func(e sim.Edge) { edges = append(edges, e) }
	require.NoError(t, f.c.Start())

	f.frames(30, 100*time.Millisecond, sim.Input{})
	assert.Empty(t, edges)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"mode", func(c *Config) { c.Mode = "joystick" }},
		{"time limit", func(c *Config) { c.TimeLimit = 0 }},
		{"countdown", func(c *Config) { c.Countdown = -1 }},
		{"hit radius", func(c *Config) { c.HitRadius = 0 }},
		{"batch", func(c *Config) { c.BatchSize = 0 }},
	}
	require.NoError(t, DefaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
