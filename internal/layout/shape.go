package layout

import (
	"fmt"

	"github.com/MJE43/forage-arena-go/internal/engine"
)

// ShapeKind names a cluster sampling strategy.
type ShapeKind string

const (
	ShapeCircle  ShapeKind = "circle"
	ShapeDiamond ShapeKind = "diamond"
)

// circleAttempts bounds the rejection loop; acceptance is pi/4 per draw.
const circleAttempts = 100

// Shape samples an offset uniformly inside a cluster of the given size.
type Shape interface {
	Kind() ShapeKind
	Offset(rng *engine.Rng, size float64) (dx, dy float64)
}

// ShapeFor returns the sampler for kind.
func ShapeFor(kind ShapeKind) (Shape, error) {
	switch kind {
	case ShapeCircle, "":
		return circleShape{}, nil
	case ShapeDiamond:
		return diamondShape{}, nil
	default:
		return nil, fmt.Errorf("unknown cluster shape %q", kind)
	}
}

type circleShape struct{}

func (circleShape) Kind() ShapeKind { return ShapeCircle }

// Offset draws points in the bounding square until one lands in the disc.
func (circleShape) Offset(rng *engine.Rng, radius float64) (float64, float64) {
	r2 := radius * radius
	for i := 0; i < circleAttempts; i++ {
		dx := rng.NextFloat(-radius, radius)
		dy := rng.NextFloat(-radius, radius)
		if dx*dx+dy*dy <= r2 {
			return dx, dy
		}
	}
	return 0, 0
}

type diamondShape struct{}

func (diamondShape) Kind() ShapeKind { return ShapeDiamond }

// Offset maps the unit square (u, v) onto a rhombus with half-diagonal
// size. The map is linear, so uniform (u, v) stays uniform.
func (diamondShape) Offset(rng *engine.Rng, size float64) (float64, float64) {
	u := rng.Next()
	v := rng.Next()
	return (u - v) * size, (u + v - 1) * size
}
