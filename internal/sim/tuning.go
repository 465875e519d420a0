package sim

import (
	"fmt"
	"time"
)

// BoundaryPolicy decides what happens when the agent leaves the canvas.
type BoundaryPolicy string

const (
	BoundaryWrap  BoundaryPolicy = "wrap"
	BoundaryClamp BoundaryPolicy = "clamp"
)

// Edge identifies the canvas side hit under BoundaryClamp.
type Edge string

const (
	EdgeLeft   Edge = "left"
	EdgeRight  Edge = "right"
	EdgeTop    Edge = "top"
	EdgeBottom Edge = "bottom"
)

// Config holds the motion and sampling constants.
type Config struct {
	CanvasSize float64        `json:"canvasSize"`
	Boundary   BoundaryPolicy `json:"boundary"`

	Speed    float64 `json:"speed"`    // px/s
	TurnRate float64 `json:"turnRate"` // deg/s

	StartX       float64 `json:"startX"`
	StartY       float64 `json:"startY"`
	StartHeading float64 `json:"startHeading"`

	AgentSampleHz  float64 `json:"agentSampleHz"`
	CursorSampleHz float64 `json:"cursorSampleHz"`

	// MaxFrameDelta caps a single tick so a stalled frame cannot teleport
	// the agent across the arena.
	MaxFrameDelta time.Duration `json:"maxFrameDelta"`
}

// DefaultConfig returns the standard agent tuning.
func DefaultConfig() Config {
	return Config{
		CanvasSize:     600,
		Boundary:       BoundaryWrap,
		Speed:          120,
		TurnRate:       180,
		StartX:         300,
		StartY:         300,
		StartHeading:   0,
		AgentSampleHz:  10,
		CursorSampleHz: 30,
		MaxFrameDelta:  100 * time.Millisecond,
	}
}

// Validate enforces the construction-time contracts.
func (c Config) Validate() error {
	switch {
	case c.CanvasSize <= 0:
		return fmt.Errorf("sim: canvas size must be positive, got %f", c.CanvasSize)
	case c.Boundary != BoundaryWrap && c.Boundary != BoundaryClamp:
		return fmt.Errorf("sim: unknown boundary policy %q", c.Boundary)
	case c.Speed < 0 || c.TurnRate < 0:
		return fmt.Errorf("sim: speed and turn rate must be non-negative")
	case c.AgentSampleHz <= 0 || c.CursorSampleHz <= 0:
		return fmt.Errorf("sim: sample rates must be positive")
	case c.StartX < 0 || c.StartX >= c.CanvasSize || c.StartY < 0 || c.StartY >= c.CanvasSize:
		return fmt.Errorf("sim: start position (%f, %f) outside canvas", c.StartX, c.StartY)
	}
	return nil
}

// Interval converts a sample rate to its period.
func Interval(hz float64) time.Duration {
	return time.Duration(float64(time.Second) / hz)
}
