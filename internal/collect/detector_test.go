package collect

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/forage-arena-go/internal/model"
)

func testRewards() []model.Reward {
	return []model.Reward{
		{ID: 0, X: 100, Y: 100},
		{ID: 1, X: 300, Y: 300},
		{ID: 2, X: 500, Y: 100},
	}
}

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestSamePositionCountsOnce(t *testing.T) {
	d := NewDetector(testRewards(), 20)

	first := d.CheckPosition(model.Position{X: 105, Y: 95}, t0)
	second := d.CheckPosition(model.Position{X: 105, Y: 95}, t0)

	require.Len(t, first.Hits, 1)
	assert.Equal(t, 0, first.Hits[0].Reward.ID)
	assert.Equal(t, 1, first.Hits[0].Total)
	assert.Empty(t, second.Hits)
	assert.Equal(t, 1, d.Count())
	assert.True(t, d.IsCollected(0))
}

func TestHitRadiusIsInclusive(t *testing.T) {
	d := NewDetector(testRewards(), 20)

	assert.Empty(t, d.CheckPosition(model.Position{X: 120.001, Y: 100}, t0).Hits)
	assert.Len(t, d.CheckPosition(model.Position{X: 120, Y: 100}, t0).Hits, 1)
}

func TestAllCollectedFiresOnce(t *testing.T) {
	d := NewDetector(testRewards(), 20)

	fired := 0
	for _, p := range []model.Position{{X: 100, Y: 100}, {X: 300, Y: 300}, {X: 500, Y: 100}, {X: 500, Y: 100}} {
		if d.CheckPosition(p, t0).AllCollected {
			fired++
		}
	}
	assert.Equal(t, 1, fired)
	assert.True(t, d.Done())
	assert.Equal(t, 3, d.Count())

	// Once done, no further scanning happens.
	assert.Empty(t, d.CheckPosition(model.Position{X: 100, Y: 100}, t0).Hits)
}

func TestAgentHitCarriesPose(t *testing.T) {
	d := NewDetector(testRewards(), 20)
	pose := model.AgentState{X: 300, Y: 310, Heading: 45, Velocity: 120}

	res := d.CheckAgent(pose, t0)
	require.Len(t, res.Hits, 1)
	require.NotNil(t, res.Hits[0].Pose)
	assert.Equal(t, pose, *res.Hits[0].Pose)
	assert.True(t, res.Hits[0].Reward.Collected)
	require.NotNil(t, res.Hits[0].Reward.TimestampCollected)
	assert.Equal(t, t0, *res.Hits[0].Reward.TimestampCollected)
}

func TestCallbackReentryDoesNotDoubleCount(t *testing.T) {
	d := NewDetector(testRewards(), 20)
	calls := 0
	d.OnCollect = func(h Hit) {
		calls++
		// A re-entrant position update from inside the callback.
		d.CheckPosition(model.Position{X: h.Reward.X, Y: h.Reward.Y}, t0)
	}

	d.CheckPosition(model.Position{X: 100, Y: 100}, t0)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, d.Count())
}

func TestConcurrentChecksScoreIsMonotonic(t *testing.T) {
	d := NewDetector(testRewards(), 20)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		hits = map[int]int{}
	)
	points := []model.Position{{X: 100, Y: 100}, {X: 300, Y: 300}, {X: 500, Y: 100}}
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(p model.Position) {
			defer wg.Done()
			for _, h := range d.CheckPosition(p, t0).Hits {
				mu.Lock()
				hits[h.Reward.ID]++
				mu.Unlock()
			}
		}(points[i%len(points)])
	}
	wg.Wait()

	assert.Equal(t, map[int]int{0: 1, 1: 1, 2: 1}, hits)
	assert.Equal(t, 3, d.Count())
}

func TestFoodAtIgnoresCollectedState(t *testing.T) {
	d := NewDetector(testRewards(), 20)
	p := model.Position{X: 290, Y: 300}

	assert.True(t, d.FoodAt(p))
	d.CheckPosition(p, t0)
	assert.True(t, d.FoodAt(p))
	assert.False(t, d.FoodAt(model.Position{X: 0, Y: 599}))
}

func TestCallerSliceIsNotMutated(t *testing.T) {
	rs := testRewards()
	d := NewDetector(rs, 20)
	d.CheckPosition(model.Position{X: 100, Y: 100}, t0)

	assert.False(t, rs[0].Collected)
	assert.True(t, d.Rewards()[0].Collected)
}
