package sim

import (
	"math"
	"time"

	"github.com/MJE43/forage-arena-go/internal/model"
)

// Input is the held steering state for one tick.
type Input struct {
	Left  bool `json:"left"`
	Right bool `json:"right"`
}

// Turn returns -1 for left, +1 for right and 0 when both or neither are held.
func (in Input) Turn() float64 {
	switch {
	case in.Left && !in.Right:
		return -1
	case in.Right && !in.Left:
		return 1
	}
	return 0
}

// StepResult describes one tick.
type StepResult struct {
	From     model.Position
	State    model.AgentState
	Traveled float64
	HitEdges []Edge
}

// Agent is the autonomous-agent simulator. It is the single writer of the
// pose; readers take copies through State.
type Agent struct {
	cfg   Config
	state model.AgentState

	// OnBoundary is invoked for each edge pinned under BoundaryClamp.
	OnBoundary func(Edge)
}

// NewAgent places an agent at the configured start pose.
func NewAgent(cfg Config) *Agent {
	a := &Agent{cfg: cfg}
	a.Reset()
	return a
}

// Reset returns the agent to the configured start pose.
func (a *Agent) Reset() {
	a.state = model.AgentState{
		X:        a.cfg.StartX,
		Y:        a.cfg.StartY,
		Heading:  NormalizeHeading(a.cfg.StartHeading),
		Velocity: a.cfg.Speed,
	}
}

// Place moves the agent to an explicit pose.
func (a *Agent) Place(s model.AgentState) {
	s.Heading = NormalizeHeading(s.Heading)
	a.state = s
}

// State returns a snapshot of the pose.
func (a *Agent) State() model.AgentState { return a.state }

// Step advances the agent by dt of real time: rotate, move forward, then
// apply the boundary policy.
func (a *Agent) Step(dt time.Duration, in Input) StepResult {
	if dt < 0 {
		dt = 0
	}
	if a.cfg.MaxFrameDelta > 0 && dt > a.cfg.MaxFrameDelta {
		dt = a.cfg.MaxFrameDelta
	}
	secs := dt.Seconds()
	from := a.state.Pos()

	a.state.Heading = NormalizeHeading(a.state.Heading + in.Turn()*a.cfg.TurnRate*secs)

	dist := a.cfg.Speed * secs
	rad := a.state.Heading * math.Pi / 180
	a.state.X += math.Sin(rad) * dist
	a.state.Y -= math.Cos(rad) * dist
	a.state.Velocity = a.cfg.Speed

	res := StepResult{From: from, Traveled: dist}
	switch a.cfg.Boundary {
	case BoundaryClamp:
		res.HitEdges = a.clamp()
	default:
		a.state.X = wrap(a.state.X, a.cfg.CanvasSize)
		a.state.Y = wrap(a.state.Y, a.cfg.CanvasSize)
	}
	res.State = a.state
	return res
}

func (a *Agent) clamp() []Edge {
	var edges []Edge
	max := math.Nextafter(a.cfg.CanvasSize, 0)
	if a.state.X < 0 {
		a.state.X = 0
		edges = append(edges, EdgeLeft)
	} else if a.state.X > max {
		a.state.X = max
		edges = append(edges, EdgeRight)
	}
	if a.state.Y < 0 {
		a.state.Y = 0
		edges = append(edges, EdgeTop)
	} else if a.state.Y > max {
		a.state.Y = max
		edges = append(edges, EdgeBottom)
	}
	if a.OnBoundary != nil {
		for _, e := range edges {
			a.OnBoundary(e)
		}
	}
	return edges
}

// NormalizeHeading maps any angle in degrees into [0, 360).
func NormalizeHeading(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	if h >= 360 {
		h = 0
	}
	return h
}

func wrap(v, size float64) float64 {
	v = math.Mod(v, size)
	if v < 0 {
		v += size
	}
	if v >= size {
		v = 0
	}
	return v
}
