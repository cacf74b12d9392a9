package volume

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Hit describes how a ray crosses the grid box
type Hit struct {
	// Hit is false when the ray misses the box entirely
	Hit bool

	// Entry and Exit are the world-space points where the ray enters and leaves the box
	Entry, Exit r3.Vec

	// DistanceBefore is the ray length from its origin to Entry
	DistanceBefore float64

	// DistanceIn is the ray length inside the box
	DistanceIn float64

	// DistanceAfter is the ray length after Exit (unbounded for a primary ray)
	DistanceAfter float64
}

// Miss is the hit record of a ray that never enters the grid
func Miss() Hit {
	return Hit{DistanceBefore: math.Inf(1)}
}

// Intersect finds where the ray origin + t*dir crosses the grid box using
// the slab method in the box's local (unrotated) frame. dir must be normalized.
// A ray starting inside the box enters at its origin.
func (g *Grid) Intersect(origin, dir r3.Vec) Hit {
	o := g.inv.Rotate(r3.Sub(origin, g.transform.Position))
	d := g.inv.Rotate(dir)
	h := r3.Scale(0.5, g.transform.Scale)

	tNear := math.Inf(-1)
	tFar := math.Inf(1)
	axes := [3][3]float64{
		{o.X, d.X, h.X},
		{o.Y, d.Y, h.Y},
		{o.Z, d.Z, h.Z},
	}
	for _, a := range axes {
		start, step, half := a[0], a[1], a[2]

		// Parallel to this slab
		if math.Abs(step) < 1e-12 {
			if start < -half || start > half {
				return Miss()
			}
			continue
		}

		inv := 1 / step
		t1 := (-half - start) * inv
		t2 := (half - start) * inv
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tNear = math.Max(tNear, t1)
		tFar = math.Min(tFar, t2)
		if tNear > tFar {
			return Miss()
		}
	}

	if tFar < 0 {
		return Miss()
	}
	if tNear < 0 {
		tNear = 0
	}

	return Hit{
		Hit:            true,
		Entry:          r3.Add(origin, r3.Scale(tNear, dir)),
		Exit:           r3.Add(origin, r3.Scale(tFar, dir)),
		DistanceBefore: tNear,
		DistanceIn:     tFar - tNear,
		DistanceAfter:  math.Inf(1),
	}
}
