package sim

import (
	"math"
	"time"

	"github.com/MJE43/forage-arena-go/internal/model"
)

// Sampler decouples data volume from frame rate: a sample is due only once
// a full interval has elapsed since the previous one.
type Sampler struct {
	interval time.Duration
	last     time.Duration
	started  bool
	traveled float64
}

// NewSampler returns a sampler firing at hz.
func NewSampler(hz float64) *Sampler {
	return &Sampler{interval: Interval(hz)}
}

// Interval returns the sampling period.
func (s *Sampler) Interval() time.Duration { return s.interval }

// Accumulate adds path length covered since the previous sample.
func (s *Sampler) Accumulate(d float64) { s.traveled += d }

// Due reports whether a sample is due at elapsed and, if so, consumes the
// slot. The first call is always due.
func (s *Sampler) Due(elapsed time.Duration) bool {
	if s.started && elapsed-s.last < s.interval {
		return false
	}
	s.started = true
	s.last = elapsed
	return true
}

// TakeDistance returns and resets the accumulated path length.
func (s *Sampler) TakeDistance() float64 {
	d := s.traveled
	s.traveled = 0
	return d
}

// AgentSample builds an agent-mode sample. Speed is constant in this mode,
// so acceleration is always zero.
func AgentSample(st model.AgentState, distance float64, elapsed time.Duration, abs time.Time) model.MovementSample {
	return model.MovementSample{
		TimestampMs:      elapsed.Milliseconds(),
		TimestampAbs:     abs,
		X:                st.X,
		Y:                st.Y,
		Heading:          st.Heading,
		Velocity:         st.Velocity,
		DistanceFromLast: distance,
		Acceleration:     0,
	}
}

// Cursor is the direct-position tracker. The pointer drives the position;
// the tracker only samples and derives velocity and signed acceleration
// between consecutive samples.
type Cursor struct {
	sampler *Sampler
	pos     model.Position
	inside  bool
	seen    bool

	hasLast bool
	lastPos model.Position
	lastAt  time.Duration
	lastVel float64
}

// NewCursor returns a tracker sampling at hz.
func NewCursor(hz float64) *Cursor {
	return &Cursor{sampler: NewSampler(hz)}
}

// Move records the latest pointer location and whether it is inside the
// interaction surface.
func (c *Cursor) Move(p model.Position, inside bool) {
	c.pos = p
	c.inside = inside
	c.seen = true
}

// Position returns the latest pointer location.
func (c *Cursor) Position() (model.Position, bool) {
	return c.pos, c.seen && c.inside
}

// Sample emits a sample when the pointer is inside and the interval has
// elapsed. Velocity is px/s; acceleration is the signed velocity delta per
// second.
func (c *Cursor) Sample(elapsed time.Duration, abs time.Time) (model.MovementSample, bool) {
	if !c.seen || !c.inside {
		return model.MovementSample{}, false
	}
	if !c.sampler.Due(elapsed) {
		return model.MovementSample{}, false
	}

	var dist, vel, acc float64
	if c.hasLast {
		dist = math.Hypot(c.pos.X-c.lastPos.X, c.pos.Y-c.lastPos.Y)
		if dt := (elapsed - c.lastAt).Seconds(); dt > 0 {
			vel = dist / dt
			acc = (vel - c.lastVel) / dt
		}
	}
	c.hasLast = true
	c.lastPos = c.pos
	c.lastAt = elapsed
	c.lastVel = vel

	return model.MovementSample{
		TimestampMs:      elapsed.Milliseconds(),
		TimestampAbs:     abs,
		X:                c.pos.X,
		Y:                c.pos.Y,
		Velocity:         vel,
		DistanceFromLast: dist,
		Acceleration:     acc,
	}, true
}
