package pilot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/forage-arena-go/internal/clock"
	"github.com/MJE43/forage-arena-go/internal/layout"
	"github.com/MJE43/forage-arena-go/internal/model"
	"github.com/MJE43/forage-arena-go/internal/round"
	"github.com/MJE43/forage-arena-go/internal/sim"
	"github.com/MJE43/forage-arena-go/internal/store"
)

func TestSteerResults(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   Decision
	}{
		{"left", `function steer(s) { return "left" }`, Decision{Input: sim.Input{Left: true}}},
		{"right upper", `function steer(s) { return "RIGHT" }`, Decision{Input: sim.Input{Right: true}}},
		{"straight", `function steer(s) { return "straight" }`, Decision{}},
		{"undefined", `function steer(s) {}`, Decision{}},
		{"negative number", `function steer(s) { return -1 }`, Decision{Input: sim.Input{Left: true}}},
		{"fraction", `function steer(s) { return 0.5 }`, Decision{Input: sim.Input{Right: true}}},
		{"object", `function steer(s) { return {left: true, right: true} }`, Decision{Input: sim.Input{Left: true, Right: true}}},
		{"pointer", `function steer(s) { return {x: s.x + 1, y: 2.5} }`, Decision{Pointer: &model.Position{X: 11, Y: 2.5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm, err := NewVM(tt.script)
			require.NoError(t, err)
			got, err := vm.Steer(State{X: 10})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSteerSeesState(t *testing.T) {
	vm, err := NewVM(`
function steer(s) {
  log("at", s.x, s.y, s.heading, s.elapsedMs, s.collected, s.total);
  return s.collected < s.total ? "left" : "right";
}`)
	require.NoError(t, err)

	d, err := vm.Steer(State{X: 1, Y: 2, Heading: 90, ElapsedMs: 500, Collected: 3, Total: 20})
	require.NoError(t, err)
	assert.True(t, d.Input.Left)
	assert.Equal(t, []string{"at 1 2 90 500 3 20"}, vm.Logs())
}

func TestScriptErrors(t *testing.T) {
	_, err := NewVM(`var x = 1;`)
	assert.ErrorIs(t, err, ErrNoSteerFunc)

	_, err = NewVM(`var steer = 5;`)
	assert.ErrorIs(t, err, ErrNoSteerFunc)

	_, err = NewVM(`function steer( {`)
	assert.Error(t, err)

	vm, err := NewVM(`function steer(s) { return "sideways" }`)
	require.NoError(t, err)
	_, err = vm.Steer(State{})
	assert.Error(t, err)

	vm, err = NewVM(`function steer(s) { return require("fs") }`)
	require.NoError(t, err)
	_, err = vm.Steer(State{})
	assert.Error(t, err, "require is not available in the sandbox")
}

func TestRunawayScriptTimesOut(t *testing.T) {
	vm, err := NewVM(`function steer(s) { if (s.x > 0) { while (true) {} } return "left" }`)
	require.NoError(t, err)

	_, err = vm.Steer(State{X: 1})
	assert.ErrorContains(t, err, "timed out")

	// The runtime is usable again after an interrupt.
	d, err := vm.Steer(State{})
	require.NoError(t, err)
	assert.True(t, d.Input.Left)
}

func newRound(t *testing.T, mode round.Mode, rewards []model.Reward) (*round.Controller, *clock.Manual, *store.Memory) {
	t.Helper()
	cfg := round.DefaultConfig()
	cfg.Mode = mode
	cfg.TimeLimit = 5 * time.Second
	clk := clock.NewManual(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	db := store.NewMemory()
	c, err := round.New(context.Background(), cfg, sim.DefaultConfig(),
		round.Params{SessionID: "s1", Layout: layout.Layout{Condition: "noise", Rewards: rewards}},
		round.Deps{Sink: db, Clock: clk})
	require.NoError(t, err)
	return c, clk, db
}

func TestRunPlaysRoundToTimeout(t *testing.T) {
	c, clk, db := newRound(t, round.ModeAgent, []model.Reward{{ID: 0, X: 300, Y: 290}, {ID: 1, X: 5, Y: 5}})
	vm, err := NewVM(SpiralScript)
	require.NoError(t, err)

	r, err := Run(context.Background(), c, clk, vm, 60)
	require.NoError(t, err)
	assert.Equal(t, model.EndTimeout, r.EndReason)
	assert.Equal(t, int64(5000), r.DurationMs)
	assert.Equal(t, 1, r.RewardsCollected)

	samples, _ := db.GetMovements(context.Background(), "s1", 0)
	require.NotEmpty(t, samples)
	for i := 1; i < len(samples); i++ {
		assert.GreaterOrEqual(t, samples[i].TimestampMs-samples[i-1].TimestampMs, int64(100))
	}
}

func TestRunCursorScript(t *testing.T) {
	c, clk, _ := newRound(t, round.ModeCursor, []model.Reward{{ID: 0, X: 100, Y: 100}})
	vm, err := NewVM(`function steer(s) { return {x: 100, y: 100} }`)
	require.NoError(t, err)

	r, err := Run(context.Background(), c, clk, vm, 30)
	require.NoError(t, err)
	assert.Equal(t, model.EndAllRewards, r.EndReason)
	assert.Equal(t, 1, r.RewardsCollected)
}

func TestRunStopsOnCancel(t *testing.T) {
	c, clk, _ := newRound(t, round.ModeAgent, nil)
	vm, err := NewVM(SpiralScript)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Run(ctx, c, clk, vm, 60)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, round.StateEnded, c.State())
}

func TestRunRejectsBadFPS(t *testing.T) {
	c, clk, _ := newRound(t, round.ModeAgent, nil)
	vm, err := NewVM(SpiralScript)
	require.NoError(t, err)
	_, err = Run(context.Background(), c, clk, vm, 0)
	assert.Error(t, err)
}
