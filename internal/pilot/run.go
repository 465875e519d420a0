package pilot

import (
	"context"
	"fmt"
	"time"

	"github.com/MJE43/forage-arena-go/internal/clock"
	"github.com/MJE43/forage-arena-go/internal/model"
	"github.com/MJE43/forage-arena-go/internal/round"
)

// Advancer is a clock the driver can move, such as *clock.Manual.
type Advancer interface {
	clock.Clock
	Advance(d time.Duration)
}

// Run plays c headlessly at fps frames per simulated second, asking vm for
// steering each frame, and returns the finalized round. An idle round is
// started first. Cancelling ctx or a script error aborts the round.
func Run(ctx context.Context, c *round.Controller, clk Advancer, vm *VM, fps int) (model.Round, error) {
	if fps <= 0 {
		return model.Round{}, fmt.Errorf("pilot: fps must be positive")
	}
	frame := time.Second / time.Duration(fps)

	if c.State() == round.StateIdle {
		if err := c.Start(); err != nil {
			return model.Round{}, err
		}
	}
	for c.State() == round.StateCountdown {
		clk.Advance(frame)
	}

	for c.State() == round.StateActive {
		if err := ctx.Err(); err != nil {
			c.Abort()
			return model.Round{}, err
		}
		snap := c.Snapshot()
		d, err := vm.Steer(State{
			X:         snap.Pose.X,
			Y:         snap.Pose.Y,
			Heading:   snap.Pose.Heading,
			ElapsedMs: snap.ElapsedMs,
			Collected: snap.Collected,
			Total:     snap.Total,
		})
		if err != nil {
			c.Abort()
			return model.Round{}, err
		}

		clk.Advance(frame)
		if d.Pointer != nil {
			size := c.CanvasSize()
			inside := d.Pointer.X >= 0 && d.Pointer.X < size && d.Pointer.Y >= 0 && d.Pointer.Y < size
			c.Pointer(d.Pointer.X, d.Pointer.Y, inside)
		}
		c.Frame(d.Input)
	}

	r, ok := c.Result()
	if !ok {
		return model.Round{}, fmt.Errorf("pilot: round ended without a record")
	}
	return r, nil
}
