// Package collect detects reward pickups. The detector is the only writer
// of the collected set; check-and-mark happens under one lock so a reward
// is counted at most once even when position updates are replayed or
// callbacks re-enter.
package collect

import (
	"sync"
	"time"

	"github.com/MJE43/forage-arena-go/internal/model"
)

// Hit is one newly collected reward.
type Hit struct {
	Reward model.Reward
	// Total is the authoritative count after this hit.
	Total int
	// Pose is set in agent mode.
	Pose *model.AgentState
	At   time.Time
}

// Result is the outcome of one position check.
type Result struct {
	Hits []Hit
	// AllCollected is true exactly once: on the check that collected the
	// final reward.
	AllCollected bool
}

// Detector owns the collected-id set for one round.
type Detector struct {
	mu        sync.Mutex
	rewards   []model.Reward
	collected map[int]struct{}
	radius2   float64
	allFired  bool

	// OnCollect runs after the reward has been marked, outside the lock.
	OnCollect func(Hit)
}

// NewDetector copies rewards so the caller's slice is never mutated.
func NewDetector(rewards []model.Reward, hitRadius float64) *Detector {
	rs := make([]model.Reward, len(rewards))
	copy(rs, rewards)
	return &Detector{
		rewards:   rs,
		collected: make(map[int]struct{}, len(rs)),
		radius2:   hitRadius * hitRadius,
	}
}

// CheckPosition is the cursor-mode hook.
func (d *Detector) CheckPosition(p model.Position, at time.Time) Result {
	return d.check(p, nil, at)
}

// CheckAgent is the agent-mode hook; hits carry the pose at collection.
func (d *Detector) CheckAgent(pose model.AgentState, at time.Time) Result {
	return d.check(pose.Pos(), &pose, at)
}

func (d *Detector) check(p model.Position, pose *model.AgentState, at time.Time) Result {
	d.mu.Lock()
	if d.allFired {
		d.mu.Unlock()
		return Result{}
	}

	var res Result
	for i := range d.rewards {
		r := &d.rewards[i]
		if _, done := d.collected[r.ID]; done {
			continue
		}
		dx, dy := p.X-r.X, p.Y-r.Y
		if dx*dx+dy*dy > d.radius2 {
			continue
		}
		d.collected[r.ID] = struct{}{}
		ts := at
		r.Collected = true
		r.TimestampCollected = &ts
		res.Hits = append(res.Hits, Hit{Reward: *r, Total: len(d.collected), Pose: pose, At: at})

		if len(d.collected) == len(d.rewards) {
			d.allFired = true
			res.AllCollected = true
			break
		}
	}
	cb := d.OnCollect
	d.mu.Unlock()

	if cb != nil {
		for _, h := range res.Hits {
			cb(h)
		}
	}
	return res
}

// Count is the authoritative collected count.
func (d *Detector) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.collected)
}

// Total returns the number of rewards in the round.
func (d *Detector) Total() int { return len(d.rewards) }

// Done reports whether every reward has been collected.
func (d *Detector) Done() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allFired
}

// IsCollected reports whether the reward id has been collected.
func (d *Detector) IsCollected(id int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.collected[id]
	return ok
}

// FoodAt reports whether p is within hit radius of any reward location,
// collected or not.
func (d *Detector) FoodAt(p model.Position) bool {
	for _, r := range d.rewards {
		dx, dy := p.X-r.X, p.Y-r.Y
		if dx*dx+dy*dy <= d.radius2 {
			return true
		}
	}
	return false
}

// Rewards returns a copy of the reward set with collected flags applied.
func (d *Detector) Rewards() []model.Reward {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.Reward, len(d.rewards))
	copy(out, d.rewards)
	return out
}
