package sim

import (
	"math"

	"github.com/MJE43/forage-arena-go/internal/model"
)

// Rect is an axis-aligned rectangle with its origin at the top-left corner.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Contains reports whether p lies inside r (edges inclusive).
func (r Rect) Contains(p model.Position) bool {
	return p.X >= r.X && p.X <= r.X+r.W && p.Y >= r.Y && p.Y <= r.Y+r.H
}

// Expand grows r by m on every side.
func (r Rect) Expand(m float64) Rect {
	return Rect{X: r.X - m, Y: r.Y - m, W: r.W + 2*m, H: r.H + 2*m}
}

// CircleIntersectsRect tests a circle against r using the closest point.
func CircleIntersectsRect(c model.Position, radius float64, r Rect) bool {
	cx := math.Max(r.X, math.Min(c.X, r.X+r.W))
	cy := math.Max(r.Y, math.Min(c.Y, r.Y+r.H))
	dx, dy := c.X-cx, c.Y-cy
	return dx*dx+dy*dy <= radius*radius
}

// SegmentIntersectsRect clips the segment a->b against r (Liang-Barsky)
// and reports whether any part of it lies inside.
func SegmentIntersectsRect(a, b model.Position, r Rect) bool {
	dx, dy := b.X-a.X, b.Y-a.Y
	t0, t1 := 0.0, 1.0
	clip := func(p, q float64) bool {
		if p == 0 {
			return q >= 0
		}
		t := q / p
		if p < 0 {
			if t > t1 {
				return false
			}
			if t > t0 {
				t0 = t
			}
		} else {
			if t < t0 {
				return false
			}
			if t < t1 {
				t1 = t
			}
		}
		return true
	}
	return clip(-dx, a.X-r.X) &&
		clip(dx, r.X+r.W-a.X) &&
		clip(-dy, a.Y-r.Y) &&
		clip(dy, r.Y+r.H-a.Y) &&
		t0 <= t1
}

// Walls is a static obstacle set.
type Walls []Rect

// Overlaps is the point-only test at the current position.
func (w Walls) Overlaps(p model.Position, radius float64) bool {
	for _, r := range w {
		if CircleIntersectsRect(p, radius, r) {
			return true
		}
	}
	return false
}

// Swept reports whether moving from a to b crosses any wall, which catches
// walls thinner than one tick's displacement.
func (w Walls) Swept(a, b model.Position, radius float64) bool {
	for _, r := range w {
		if SegmentIntersectsRect(a, b, r.Expand(radius)) {
			return true
		}
	}
	return false
}

// Collides combines the point and swept tests.
func (w Walls) Collides(a, b model.Position, radius float64) bool {
	return w.Overlaps(b, radius) || w.Swept(a, b, radius)
}

// CollisionGuard is edge-triggered: Observe reports true only on the tick
// a collision begins, not while it persists.
type CollisionGuard struct {
	inCollision bool
	count       int
}

// Observe records this tick's collision state.
func (g *CollisionGuard) Observe(colliding bool) bool {
	if !colliding {
		g.inCollision = false
		return false
	}
	if g.inCollision {
		return false
	}
	g.inCollision = true
	g.count++
	return true
}

// Count returns the number of distinct collisions.
func (g *CollisionGuard) Count() int { return g.count }
