package layout

import (
	"errors"
	"fmt"
	"math"

	"github.com/MJE43/forage-arena-go/internal/engine"
	"github.com/MJE43/forage-arena-go/internal/model"
)

// Distribution assigns rewards to clusters.
type Distribution string

const (
	// DistributeRoundRobin sends reward i to cluster i mod k.
	DistributeRoundRobin Distribution = "round_robin"
	// DistributeEven fills clusters in contiguous, equally sized blocks.
	DistributeEven Distribution = "even"
)

// Config holds the generator constants. All distances are in canvas pixels.
type Config struct {
	CanvasSize  float64 `json:"canvasSize"`
	RewardCount int     `json:"rewardCount"`
	EdgeMargin  float64 `json:"edgeMargin"`

	// Spacing tiers: strict at MinSpacing, then decayed by SpacingDecay down
	// to SpacingFloor, then unconditional placement.
	MinSpacing      float64 `json:"minSpacing"`
	SpacingAttempts int     `json:"spacingAttempts"`
	SpacingDecay    float64 `json:"spacingDecay"`
	SpacingFloor    float64 `json:"spacingFloor"`

	// ClusterK > 0 fixes k; otherwise k is drawn from [ClusterKMin, ClusterKMax].
	ClusterK          int          `json:"clusterK"`
	ClusterKMin       int          `json:"clusterKMin"`
	ClusterKMax       int          `json:"clusterKMax"`
	ClusterRadius     float64      `json:"clusterRadius"`
	ClusterSeparation float64      `json:"clusterSeparation"`
	ClusterEdgeMargin float64      `json:"clusterEdgeMargin"`
	CenterAttempts    int          `json:"centerAttempts"`
	Distribution      Distribution `json:"distribution"`
}

// DefaultConfig returns the standard 600px arena with 20 rewards.
func DefaultConfig() Config {
	return Config{
		CanvasSize:        600,
		RewardCount:       20,
		EdgeMargin:        20,
		MinSpacing:        25,
		SpacingAttempts:   100,
		SpacingDecay:      0.8,
		SpacingFloor:      5,
		ClusterK:          4,
		ClusterKMin:       3,
		ClusterKMax:       5,
		ClusterRadius:     60,
		ClusterSeparation: 150,
		ClusterEdgeMargin: 80,
		CenterAttempts:    1000,
		Distribution:      DistributeRoundRobin,
	}
}

var ErrInvalidConfig = errors.New("invalid layout config")

// Validate enforces the construction-time contracts.
func (c Config) Validate() error {
	switch {
	case c.RewardCount <= 0:
		return fmt.Errorf("%w: reward count must be positive, got %d", ErrInvalidConfig, c.RewardCount)
	case c.CanvasSize <= 0:
		return fmt.Errorf("%w: canvas size must be positive, got %f", ErrInvalidConfig, c.CanvasSize)
	case c.EdgeMargin <= 0 || 2*c.EdgeMargin >= c.CanvasSize:
		return fmt.Errorf("%w: edge margin %f leaves no placement area", ErrInvalidConfig, c.EdgeMargin)
	case c.SpacingAttempts <= 0:
		return fmt.Errorf("%w: spacing attempts must be positive", ErrInvalidConfig)
	case c.SpacingDecay <= 0 || c.SpacingDecay >= 1:
		return fmt.Errorf("%w: spacing decay must be in (0, 1), got %f", ErrInvalidConfig, c.SpacingDecay)
	case c.SpacingFloor <= 0 || c.SpacingFloor > c.MinSpacing:
		return fmt.Errorf("%w: spacing floor must be in (0, minSpacing]", ErrInvalidConfig)
	case c.ClusterK <= 0 && (c.ClusterKMin <= 0 || c.ClusterKMax < c.ClusterKMin):
		return fmt.Errorf("%w: cluster count range [%d, %d] is empty", ErrInvalidConfig, c.ClusterKMin, c.ClusterKMax)
	case c.ClusterRadius <= 0:
		return fmt.Errorf("%w: cluster radius must be positive", ErrInvalidConfig)
	case c.ClusterEdgeMargin < 0 || 2*c.ClusterEdgeMargin >= c.CanvasSize:
		return fmt.Errorf("%w: cluster edge margin %f leaves no center area", ErrInvalidConfig, c.ClusterEdgeMargin)
	case c.CenterAttempts <= 0:
		return fmt.Errorf("%w: center attempts must be positive", ErrInvalidConfig)
	}
	switch c.Distribution {
	case "", DistributeRoundRobin, DistributeEven:
	default:
		return fmt.Errorf("%w: unknown distribution %q", ErrInvalidConfig, c.Distribution)
	}
	return nil
}

// Layout is one round's reward set.
type Layout struct {
	Condition     string               `json:"condition"`
	Seed          string               `json:"seed"`
	Rewards       []model.Reward       `json:"rewards"`
	ClusterParams *model.ClusterParams `json:"clusterParams,omitempty"`

	// MinSpacingUsed is the spacing in force after the last relaxation.
	// Every pair not involving a forced placement is at least this far apart.
	MinSpacingUsed   float64 `json:"minSpacingUsed"`
	ForcedPlacements int     `json:"forcedPlacements"`
}

// Verify checks the cardinality post-condition.
func (l Layout) Verify(n int) error {
	if len(l.Rewards) != n {
		return fmt.Errorf("layout %s produced %d rewards, want %d", l.Seed, len(l.Rewards), n)
	}
	return nil
}

// Generator produces reward layouts. It holds no mutable state and may be
// shared.
type Generator struct {
	cfg Config
}

// NewGenerator validates cfg and returns a generator.
func NewGenerator(cfg Config) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Generator{cfg: cfg}, nil
}

// Config returns the generator's configuration.
func (g *Generator) Config() Config { return g.cfg }

// ForRound generates the layout for a participant's round.
func (g *Generator) ForRound(cond Condition, participantKey string, roundIndex int) Layout {
	return g.Generate(cond, engine.SeedKey(participantKey, roundIndex))
}

// Generate is a pure function of (cond, seed). All randomness comes from a
// single Rng built from seed.
func (g *Generator) Generate(cond Condition, seed string) Layout {
	rng := engine.NewRng(seed)
	out := Layout{Condition: cond.Name, Seed: seed}

	if cond.Structured() {
		shape, err := ShapeFor(cond.Shape)
		if err != nil {
			shape = circleShape{}
		}
		centers := g.placeCenters(rng)
		out.ClusterParams = &model.ClusterParams{
			K:       len(centers),
			Shape:   string(shape.Kind()),
			Centers: centers,
		}
		assign := g.assignment(len(centers))
		out.Rewards, out.MinSpacingUsed, out.ForcedPlacements = g.placeRewards(rng, func(i int) model.Position {
			c := centers[assign(i)]
			dx, dy := shape.Offset(rng, c.Radius)
			return g.clampToCanvas(c.X+dx, c.Y+dy)
		})
		return out
	}

	lo, hi := g.cfg.EdgeMargin, g.cfg.CanvasSize-g.cfg.EdgeMargin
	out.Rewards, out.MinSpacingUsed, out.ForcedPlacements = g.placeRewards(rng, func(int) model.Position {
		return model.Position{X: rng.NextFloat(lo, hi), Y: rng.NextFloat(lo, hi)}
	})
	return out
}

// placeCenters picks k centers by rejection sampling against the pairwise
// separation. An exhausted budget places the next draw unconditionally.
func (g *Generator) placeCenters(rng *engine.Rng) []model.ClusterCenter {
	k := g.cfg.ClusterK
	if k <= 0 {
		k = rng.NextInt(g.cfg.ClusterKMin, g.cfg.ClusterKMax)
	}
	lo, hi := g.cfg.ClusterEdgeMargin, g.cfg.CanvasSize-g.cfg.ClusterEdgeMargin
	sep2 := g.cfg.ClusterSeparation * g.cfg.ClusterSeparation

	centers := make([]model.ClusterCenter, 0, k)
	for len(centers) < k {
		placed := false
		for a := 0; a < g.cfg.CenterAttempts; a++ {
			x, y := rng.NextFloat(lo, hi), rng.NextFloat(lo, hi)
			if farFromCenters(x, y, centers, sep2) {
				centers = append(centers, model.ClusterCenter{X: x, Y: y, Radius: g.cfg.ClusterRadius})
				placed = true
				break
			}
		}
		if !placed {
			centers = append(centers, model.ClusterCenter{
				X: rng.NextFloat(lo, hi), Y: rng.NextFloat(lo, hi), Radius: g.cfg.ClusterRadius,
			})
		}
	}
	return centers
}

func farFromCenters(x, y float64, centers []model.ClusterCenter, sep2 float64) bool {
	for _, c := range centers {
		dx, dy := x-c.X, y-c.Y
		if dx*dx+dy*dy < sep2 {
			return false
		}
	}
	return true
}

func (g *Generator) assignment(k int) func(int) int {
	if g.cfg.Distribution != DistributeEven {
		return func(i int) int { return i % k }
	}
	n := g.cfg.RewardCount
	base, extra := n/k, n%k
	return func(i int) int {
		// the first `extra` clusters hold base+1 rewards
		big := extra * (base + 1)
		if i < big {
			return i / (base + 1)
		}
		if base == 0 {
			return k - 1
		}
		return extra + (i-big)/base
	}
}

// placeRewards runs the strict -> relaxed -> unconditional placement policy.
// The spacing only ever shrinks within a layout, so the returned spacing is
// a lower bound for every non-forced pair.
func (g *Generator) placeRewards(rng *engine.Rng, draw func(i int) model.Position) ([]model.Reward, float64, int) {
	n := g.cfg.RewardCount
	rewards := make([]model.Reward, 0, n)
	spacing := g.cfg.MinSpacing
	forced := 0

	for i := 0; i < n; i++ {
		p, ok := g.tryPlace(rewards, spacing, i, draw)
		for !ok && spacing > g.cfg.SpacingFloor {
			spacing = math.Max(g.cfg.SpacingFloor, spacing*g.cfg.SpacingDecay)
			p, ok = g.tryPlace(rewards, spacing, i, draw)
		}
		if !ok {
			p = draw(i)
			forced++
		}
		rewards = append(rewards, model.Reward{ID: i, X: p.X, Y: p.Y})
	}
	return rewards, spacing, forced
}

func (g *Generator) tryPlace(placed []model.Reward, spacing float64, i int, draw func(int) model.Position) (model.Position, bool) {
	s2 := spacing * spacing
	for a := 0; a < g.cfg.SpacingAttempts; a++ {
		p := draw(i)
		if !tooClose(p, placed, s2) {
			return p, true
		}
	}
	return model.Position{}, false
}

func tooClose(p model.Position, placed []model.Reward, s2 float64) bool {
	for _, r := range placed {
		dx, dy := p.X-r.X, p.Y-r.Y
		if dx*dx+dy*dy < s2 {
			return true
		}
	}
	return false
}

func (g *Generator) clampToCanvas(x, y float64) model.Position {
	lo, hi := g.cfg.EdgeMargin, g.cfg.CanvasSize-g.cfg.EdgeMargin
	return model.Position{X: clamp(x, lo, hi), Y: clamp(y, lo, hi)}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
