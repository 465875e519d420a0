package sim

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/forage-arena-go/internal/model"
)

func TestAgentWrapsAcrossRightEdge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StartHeading = 90
	a := NewAgent(cfg)

	// 3s at 120 px/s from x=300 crosses the right edge at 600.
	for i := 0; i < 60; i++ {
		a.Step(50*time.Millisecond, Input{})
	}
	st := a.State()
	assert.InDelta(t, 60, st.X, 1e-6)
	assert.InDelta(t, 300, st.Y, 1e-6)
	assert.Equal(t, 90.0, st.Heading)
}

func TestAgentStaysInsideCanvasWhenWrapping(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StartHeading = 225
	a := NewAgent(cfg)
	for i := 0; i < 1000; i++ {
		res := a.Step(16*time.Millisecond, Input{Right: i%3 == 0})
		require.True(t, res.State.X >= 0 && res.State.X < cfg.CanvasSize)
		require.True(t, res.State.Y >= 0 && res.State.Y < cfg.CanvasSize)
	}
}

func TestAgentClampNotifiesEdge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Boundary = BoundaryClamp
	cfg.StartHeading = 0
	a := NewAgent(cfg)

	var edges []Edge
	a.OnBoundary = func(e Edge) { edges = append(edges, e) }

	for i := 0; i < 80; i++ {
		a.Step(50*time.Millisecond, Input{})
	}
	st := a.State()
	assert.Equal(t, 0.0, st.Y)
	assert.InDelta(t, 300, st.X, 1e-6)
	require.NotEmpty(t, edges)
	for _, e := range edges {
		assert.Equal(t, EdgeTop, e)
	}
}

func TestAgentRotation(t *testing.T) {
	tests := []struct {
		name  string
		input Input
		want  float64
	}{
		{"neither held", Input{}, 0},
		{"both held", Input{Left: true, Right: true}, 0},
		{"right", Input{Right: true}, 90},
		{"left", Input{Left: true}, 270},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Speed = 0
			a := NewAgent(cfg)
			// 180 deg/s for 0.5s
			for i := 0; i < 10; i++ {
				a.Step(50*time.Millisecond, tt.input)
			}
			assert.InDelta(t, tt.want, a.State().Heading, 1e-9)
		})
	}
}

func TestAgentCapsFrameDelta(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StartHeading = 90
	a := NewAgent(cfg)
	res := a.Step(5*time.Second, Input{})
	assert.InDelta(t, cfg.Speed*cfg.MaxFrameDelta.Seconds(), res.Traveled, 1e-9)
}

func TestNormalizeHeading(t *testing.T) {
	tests := map[float64]float64{
		0:    0,
		360:  0,
		-90:  270,
		450:  90,
		-720: 0,
		359:  359,
	}
	for in, want := range tests {
		assert.InDelta(t, want, NormalizeHeading(in), 1e-9, "NormalizeHeading(%v)", in)
	}
}

func TestSamplerFixedRate(t *testing.T) {
	s := NewSampler(10)
	count := 0
	// 60 fps for one second
	for f := 0; f < 60; f++ {
		elapsed := time.Duration(f) * time.Second / 60
		if s.Due(elapsed) {
			count++
		}
	}
	assert.Equal(t, 10, count)
}

func TestSamplerAccumulatesDistance(t *testing.T) {
	s := NewSampler(10)
	s.Accumulate(3)
	s.Accumulate(4)
	assert.Equal(t, 7.0, s.TakeDistance())
	assert.Equal(t, 0.0, s.TakeDistance())
}

func TestCursorDerivedMetrics(t *testing.T) {
	c := NewCursor(10)
	now := time.Unix(0, 0)

	_, ok := c.Sample(0, now)
	assert.False(t, ok, "no pointer yet")

	c.Move(model.Position{X: 0, Y: 0}, true)
	first, ok := c.Sample(0, now)
	require.True(t, ok)
	assert.Zero(t, first.Velocity)
	assert.Zero(t, first.DistanceFromLast)

	c.Move(model.Position{X: 30, Y: 40}, true)
	_, ok = c.Sample(50*time.Millisecond, now)
	assert.False(t, ok, "interval not elapsed")

	second, ok := c.Sample(100*time.Millisecond, now)
	require.True(t, ok)
	assert.InDelta(t, 50, second.DistanceFromLast, 1e-9)
	assert.InDelta(t, 500, second.Velocity, 1e-9)
	assert.InDelta(t, 5000, second.Acceleration, 1e-9)

	// stationary pointer decelerates: signed negative acceleration
	third, ok := c.Sample(200*time.Millisecond, now)
	require.True(t, ok)
	assert.Zero(t, third.Velocity)
	assert.InDelta(t, -5000, third.Acceleration, 1e-9)

	c.Move(model.Position{X: 10, Y: 10}, false)
	_, ok = c.Sample(400*time.Millisecond, now)
	assert.False(t, ok, "pointer outside surface")
}

func TestSweptTestPreventsTunneling(t *testing.T) {
	walls := Walls{{X: 300, Y: 0, W: 2, H: 600}}
	from := model.Position{X: 290, Y: 100}
	to := model.Position{X: 320, Y: 100}
	const radius = 5

	assert.False(t, walls.Overlaps(to, radius), "point test alone misses the thin wall")
	assert.True(t, walls.Swept(from, to, radius))
	assert.True(t, walls.Collides(from, to, radius))

	assert.False(t, walls.Collides(model.Position{X: 200, Y: 100}, model.Position{X: 250, Y: 100}, radius))
}

func TestSegmentIntersectsRect(t *testing.T) {
	r := Rect{X: 10, Y: 10, W: 10, H: 10}
	tests := []struct {
		name string
		a, b model.Position
		want bool
	}{
		{"crosses", model.Position{X: 0, Y: 15}, model.Position{X: 30, Y: 15}, true},
		{"inside", model.Position{X: 12, Y: 12}, model.Position{X: 13, Y: 13}, true},
		{"misses above", model.Position{X: 0, Y: 5}, model.Position{X: 30, Y: 5}, false},
		{"stops short", model.Position{X: 0, Y: 15}, model.Position{X: 9, Y: 15}, false},
		{"diagonal corner", model.Position{X: 0, Y: 0}, model.Position{X: 30, Y: 30}, true},
		{"vertical parallel outside", model.Position{X: 5, Y: 0}, model.Position{X: 5, Y: 30}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SegmentIntersectsRect(tt.a, tt.b, r))
		})
	}
}

func TestCircleIntersectsRect(t *testing.T) {
	r := Rect{X: 0, Y: 0, W: 10, H: 10}
	assert.True(t, CircleIntersectsRect(model.Position{X: 13, Y: 5}, 3, r))
	assert.False(t, CircleIntersectsRect(model.Position{X: 13.1, Y: 5}, 3, r))
	assert.False(t, CircleIntersectsRect(model.Position{X: 13, Y: 13}, 3, r), "corner distance is sqrt(18)")
	assert.True(t, CircleIntersectsRect(model.Position{X: 5, Y: 5}, 1, r))
	assert.True(t, math.Sqrt(18) > 3)
}

func TestCollisionGuardEdgeTriggered(t *testing.T) {
	var g CollisionGuard
	seq := []bool{false, true, true, true, false, true, false}
	fired := 0
	for _, c := range seq {
		if g.Observe(c) {
			fired++
		}
	}
	assert.Equal(t, 2, fired)
	assert.Equal(t, 2, g.Count())
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Boundary = "bounce"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.AgentSampleHz = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.StartX = 600
	assert.Error(t, cfg.Validate())
}
