// Package stats derives behavioral metrics from a finished round's
// movement samples and events. Every function here is pure.
package stats

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/MJE43/forage-arena-go/internal/model"
)

// Config holds the thresholds used by the calculator. Velocities are in
// px/s, matching the simulator's samples.
type Config struct {
	CanvasSize    float64 `json:"canvasSize"`
	GridSize      int     `json:"gridSize"`
	IdleThreshold float64 `json:"idleThreshold"`
	MinPauseMs    int64   `json:"minPauseMs"`
	EdgeMargin    float64 `json:"edgeMargin"`
	CenterSize    float64 `json:"centerSize"`
}

// DefaultConfig returns the thresholds used by the arena by default.
func DefaultConfig() Config {
	return Config{
		CanvasSize:    600,
		GridSize:      10,
		IdleThreshold: 10,
		MinPauseMs:    500,
		EdgeMargin:    50,
		CenterSize:    200,
	}
}

var ErrInvalidConfig = errors.New("stats: invalid config")

func (c Config) Validate() error {
	switch {
	case c.CanvasSize <= 0:
		return fmt.Errorf("%w: canvas size must be positive", ErrInvalidConfig)
	case c.GridSize <= 0:
		return fmt.Errorf("%w: grid size must be positive", ErrInvalidConfig)
	case c.IdleThreshold < 0:
		return fmt.Errorf("%w: idle threshold must not be negative", ErrInvalidConfig)
	case c.MinPauseMs < 0:
		return fmt.Errorf("%w: min pause must not be negative", ErrInvalidConfig)
	case c.EdgeMargin < 0 || c.EdgeMargin*2 > c.CanvasSize:
		return fmt.Errorf("%w: edge margin out of range", ErrInvalidConfig)
	case c.CenterSize < 0 || c.CenterSize > c.CanvasSize:
		return fmt.Errorf("%w: center size out of range", ErrInvalidConfig)
	}
	return nil
}

// Quadrants is the share of samples in each canvas quadrant, in percent.
type Quadrants struct {
	TopLeft     float64 `json:"topLeft"`
	TopRight    float64 `json:"topRight"`
	BottomLeft  float64 `json:"bottomLeft"`
	BottomRight float64 `json:"bottomRight"`
}

// RoundStats is the derived view of one round.
type RoundStats struct {
	SampleCount      int   `json:"sampleCount"`
	DurationMs       int64 `json:"durationMs"`
	RewardsCollected int   `json:"rewardsCollected"`
	// RewardsPerMinute is 0 for a zero-length round.
	RewardsPerMinute float64 `json:"rewardsPerMinute"`

	TotalDistance  float64 `json:"totalDistance"`
	MeanVelocity   float64 `json:"meanVelocity"`
	MaxVelocity    float64 `json:"maxVelocity"`
	PathEfficiency float64 `json:"pathEfficiency"`

	CoveragePercent float64 `json:"coveragePercent"`
	CellsVisited    int     `json:"cellsVisited"`
	RevisitRate     float64 `json:"revisitRate"`

	PauseCount        int     `json:"pauseCount"`
	TotalPauseMs      int64   `json:"totalPauseMs"`
	MeanPauseDuration float64 `json:"meanPauseDuration"`

	RewardHits              int     `json:"rewardHits"`
	FirstRewardLatency      float64 `json:"firstRewardLatency"`
	MeanInterRewardInterval float64 `json:"meanInterRewardInterval"`

	EdgeTimePercent      float64   `json:"edgeTimePercent"`
	CenterBias           float64   `json:"centerBias"`
	QuadrantDistribution Quadrants `json:"quadrantDistribution"`
}

// Empty returns the stats of a round with no samples.
func Empty(durationMs int64, rewardsCollected int) RoundStats {
	return RoundStats{
		DurationMs:           durationMs,
		RewardsCollected:     rewardsCollected,
		RewardsPerMinute:     perMinute(rewardsCollected, durationMs),
		QuadrantDistribution: Quadrants{25, 25, 25, 25},
	}
}

// Calculator computes RoundStats under a fixed Config.
type Calculator struct {
	cfg Config
}

func NewCalculator(cfg Config) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{cfg: cfg}, nil
}

// CalculateRoundStats uses DefaultConfig.
func CalculateRoundStats(movements []model.MovementSample, events []model.GameEvent, durationMs int64, rewardsCollected int) RoundStats {
	c := Calculator{cfg: DefaultConfig()}
	return c.Calculate(movements, events, durationMs, rewardsCollected)
}

// Calculate never fails; degenerate input yields a well-defined result
// with no NaN or Inf values. The input slices are not modified.
func (c *Calculator) Calculate(movements []model.MovementSample, events []model.GameEvent, durationMs int64, rewardsCollected int) RoundStats {
	out := Empty(durationMs, rewardsCollected)
	c.rewardTiming(&out, events)
	if len(movements) == 0 {
		return out
	}

	ms := make([]model.MovementSample, len(movements))
	copy(ms, movements)
	sort.SliceStable(ms, func(i, j int) bool { return ms[i].TimestampMs < ms[j].TimestampMs })

	out.SampleCount = len(ms)
	c.motion(&out, ms)
	c.coverage(&out, ms)
	c.pauses(&out, ms)
	c.spatialBias(&out, ms)
	return out
}

// motion skips non-finite samples. The distance total saturates at
// math.MaxFloat64 and the velocity mean is kept as a running mean.
func (c *Calculator) motion(out *RoundStats, ms []model.MovementSample) {
	var n float64
	for _, s := range ms {
		if finite(s.DistanceFromLast) {
			out.TotalDistance = saturatingAdd(out.TotalDistance, s.DistanceFromLast)
		}
		if !finite(s.Velocity) {
			continue
		}
		n++
		out.MeanVelocity += s.Velocity/n - out.MeanVelocity/n
		if s.Velocity > out.MaxVelocity {
			out.MaxVelocity = s.Velocity
		}
	}

	if len(ms) >= 2 && out.TotalDistance > 0 {
		first, last := ms[0], ms[len(ms)-1]
		if eff := math.Hypot(last.X-first.X, last.Y-first.Y) / out.TotalDistance; finite(eff) {
			out.PathEfficiency = eff
		}
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func saturatingAdd(a, b float64) float64 {
	sum := a + b
	switch {
	case math.IsInf(sum, 1):
		return math.MaxFloat64
	case math.IsInf(sum, -1):
		return -math.MaxFloat64
	}
	return sum
}

func (c *Calculator) coverage(out *RoundStats, ms []model.MovementSample) {
	g := c.cfg.GridSize
	cell := c.cfg.CanvasSize / float64(g)
	visited := make(map[int]struct{})
	for _, s := range ms {
		cx := gridIndex(s.X, cell, g)
		cy := gridIndex(s.Y, cell, g)
		visited[cy*g+cx] = struct{}{}
	}
	out.CellsVisited = len(visited)
	out.CoveragePercent = float64(len(visited)) / float64(g*g) * 100
	if len(visited) > 0 {
		out.RevisitRate = float64(len(ms)) / float64(len(visited))
	}
}

func gridIndex(v, cell float64, g int) int {
	i := int(math.Floor(v / cell))
	if i < 0 {
		return 0
	}
	if i >= g {
		return g - 1
	}
	return i
}

// pauses counts idle runs whose span is at least MinPauseMs. A run still
// open at the last sample is judged by the same rule.
func (c *Calculator) pauses(out *RoundStats, ms []model.MovementSample) {
	var (
		inRun      bool
		start, end int64
	)
	closeRun := func() {
		if !inRun {
			return
		}
		inRun = false
		if d := end - start; d >= c.cfg.MinPauseMs {
			out.PauseCount++
			out.TotalPauseMs += d
		}
	}
	for _, s := range ms {
		if s.Velocity < c.cfg.IdleThreshold {
			if !inRun {
				inRun = true
				start = s.TimestampMs
			}
			end = s.TimestampMs
			continue
		}
		closeRun()
	}
	closeRun()

	if out.PauseCount > 0 {
		out.MeanPauseDuration = float64(out.TotalPauseMs) / float64(out.PauseCount)
	}
}

func (c *Calculator) rewardTiming(out *RoundStats, events []model.GameEvent) {
	var hits []int64
	for _, e := range events {
		if e.EventType == model.EventRewardHit {
			hits = append(hits, e.TimestampMs)
		}
	}
	out.RewardHits = len(hits)
	if len(hits) == 0 {
		return
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i] < hits[j] })
	out.FirstRewardLatency = float64(hits[0])
	if len(hits) > 1 {
		out.MeanInterRewardInterval = float64(hits[len(hits)-1]-hits[0]) / float64(len(hits)-1)
	}
}

func (c *Calculator) spatialBias(out *RoundStats, ms []model.MovementSample) {
	size, m := c.cfg.CanvasSize, c.cfg.EdgeMargin
	mid := size / 2
	half := c.cfg.CenterSize / 2

	var edge, inner, center int
	var tl, tr, bl, br int
	for _, s := range ms {
		if s.X < m || s.X > size-m || s.Y < m || s.Y > size-m {
			edge++
		} else {
			inner++
			if math.Abs(s.X-mid) <= half && math.Abs(s.Y-mid) <= half {
				center++
			}
		}
		switch {
		case s.X < mid && s.Y < mid:
			tl++
		case s.Y < mid:
			tr++
		case s.X < mid:
			bl++
		default:
			br++
		}
	}

	n := float64(len(ms))
	out.EdgeTimePercent = float64(edge) / n * 100
	if inner > 0 {
		out.CenterBias = float64(center) / float64(inner)
	}
	out.QuadrantDistribution = Quadrants{
		TopLeft:     float64(tl) / n * 100,
		TopRight:    float64(tr) / n * 100,
		BottomLeft:  float64(bl) / n * 100,
		BottomRight: float64(br) / n * 100,
	}
}

func perMinute(count int, durationMs int64) float64 {
	if durationMs <= 0 {
		return 0
	}
	return float64(count) / (float64(durationMs) / 60000)
}

// Rounded returns a copy with every float metric rounded half away from
// zero to the given number of decimal places. NaN and infinities are
// returned unchanged.
func (s RoundStats) Rounded(places int32) RoundStats {
	r := func(v float64) float64 {
		if !finite(v) {
			return v
		}
		return decimal.NewFromFloat(v).Round(places).InexactFloat64()
	}
	s.RewardsPerMinute = r(s.RewardsPerMinute)
	s.TotalDistance = r(s.TotalDistance)
	s.MeanVelocity = r(s.MeanVelocity)
	s.MaxVelocity = r(s.MaxVelocity)
	s.PathEfficiency = r(s.PathEfficiency)
	s.CoveragePercent = r(s.CoveragePercent)
	s.RevisitRate = r(s.RevisitRate)
	s.MeanPauseDuration = r(s.MeanPauseDuration)
	s.FirstRewardLatency = r(s.FirstRewardLatency)
	s.MeanInterRewardInterval = r(s.MeanInterRewardInterval)
	s.EdgeTimePercent = r(s.EdgeTimePercent)
	s.CenterBias = r(s.CenterBias)
	q := s.QuadrantDistribution
	s.QuadrantDistribution = Quadrants{r(q.TopLeft), r(q.TopRight), r(q.BottomLeft), r(q.BottomRight)}
	return s
}
