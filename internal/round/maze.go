package round

import (
	"context"
	"fmt"
	"time"

	"github.com/MJE43/forage-arena-go/internal/model"
	"github.com/MJE43/forage-arena-go/internal/sim"
)

// Maze is the static geometry of a maze-training run.
type Maze struct {
	Walls  sim.Walls `json:"walls"`
	Goal   sim.Rect  `json:"goal"`
	Radius float64   `json:"radius"`
}

// NewMazeRun returns a controller for the maze-training variant: the agent
// is clamped to the canvas, a wall hit resets it to the start pose, and
// reaching the goal ends the round with maze_complete.
func NewMazeRun(ctx context.Context, cfg Config, simCfg sim.Config, maze Maze, p Params, deps Deps) (*Controller, error) {
	if maze.Radius <= 0 {
		return nil, fmt.Errorf("round: maze agent radius must be positive")
	}
	if maze.Goal.W <= 0 || maze.Goal.H <= 0 {
		return nil, fmt.Errorf("round: maze goal must have positive size")
	}
	cfg.Mode = ModeAgent
	simCfg.Boundary = sim.BoundaryClamp
	c, err := New(ctx, cfg, simCfg, p, deps)
	if err != nil {
		return nil, err
	}
	c.maze = &maze
	return c, nil
}

// mazeFrameLocked checks the step against the walls with both the point
// and the swept test. A new collision resets the pose before anything is
// rendered.
func (c *Controller) mazeFrameLocked(res sim.StepResult, now time.Time) []func() {
	pose := res.State
	hit := c.maze.Walls.Collides(res.From, pose.Pos(), c.maze.Radius)
	if c.guard.Observe(hit) {
		c.agent.Reset()
		reset := c.agent.State()
		c.emitLocked(model.EventMazeCollision, now, map[string]any{
			"collisions": c.guard.Count(),
			"x":          pose.X,
			"y":          pose.Y,
		})
		c.recordAgentSampleLocked(reset, now)
		return []func(){c.renderFunc(reset)}
	}

	c.recordAgentSampleLocked(pose, now)
	after := []func(){c.renderFunc(pose)}
	if sim.CircleIntersectsRect(pose.Pos(), c.maze.Radius, c.maze.Goal) {
		after = append(after, c.finalizeLocked(model.EndMazeComplete, now, true)...)
	}
	return after
}
