package round

import (
	"fmt"
	"time"

	"github.com/MJE43/forage-arena-go/internal/model"
	"github.com/MJE43/forage-arena-go/internal/sim"
)

// Mode selects how position is driven.
type Mode string

const (
	// ModeAgent steers an autonomous agent with turn input.
	ModeAgent Mode = "agent"
	// ModeCursor follows an external pointer.
	ModeCursor Mode = "cursor"
)

// Config holds round timing and detection constants.
type Config struct {
	Mode           Mode          `json:"mode"`
	TimeLimit      time.Duration `json:"timeLimit"`
	Countdown      int           `json:"countdown"` // seconds, presentational
	PostRoundDelay time.Duration `json:"postRoundDelay"`
	HitRadius      float64       `json:"hitRadius"`
	BatchSize      int           `json:"batchSize"`
}

func DefaultConfig() Config {
	return Config{
		Mode:           ModeAgent,
		TimeLimit:      60 * time.Second,
		Countdown:      3,
		PostRoundDelay: 3 * time.Second,
		HitRadius:      20,
		BatchSize:      100,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Mode != ModeAgent && c.Mode != ModeCursor:
		return fmt.Errorf("round: unknown mode %q", c.Mode)
	case c.TimeLimit <= 0:
		return fmt.Errorf("round: time limit must be positive")
	case c.Countdown < 0 || c.PostRoundDelay < 0:
		return fmt.Errorf("round: countdown and post-round delay must not be negative")
	case c.HitRadius <= 0:
		return fmt.Errorf("round: hit radius must be positive")
	case c.BatchSize <= 0:
		return fmt.Errorf("round: batch size must be positive")
	}
	return nil
}

// Renderer receives the pose once per tick. It must treat the value as
// read-only.
type Renderer interface {
	OnPositionUpdate(model.AgentState)
}

// Feedback is notified after a reward has been marked collected.
type Feedback interface {
	OnCollect(model.Reward)
}

// Hooks are optional callbacks. They never run while the controller's
// lock is held, so they may call back into the controller.
type Hooks struct {
	Renderer    Renderer
	Feedback    Feedback
	OnCountdown func(secondsLeft int)
	OnFinished  func(model.Round)
	// OnBoundary fires for every canvas edge the agent is held against
	// in a frame. Only the clamp boundary policy produces edges.
	OnBoundary func(sim.Edge)
}
