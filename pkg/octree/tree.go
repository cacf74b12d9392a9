package octree

import (
	"math"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"volumecaster/pkg/volume"
)

// rootMargin pads the grid bounds so boundary samples are strictly inside
const rootMargin = 0.001

// Tree is a finished octree. It is never modified after the build that
// produced it completes, so it can be shared between render goroutines.
type Tree struct {
	// ID identifies the build that produced the tree
	ID uuid.UUID

	// Root covers a cube around the grid's world bounds
	Root *Node

	// MaxDepth is the requested subdivision depth
	MaxDepth int

	// Occupied and Skippable list the leaves in build order
	Occupied  []*Node
	Skippable []*Node
}

// Stats summarizes the leaves of a tree
type Stats struct {
	Occupied  int
	Skippable int
	Total     int

	// SkippablePercent is the share of leaves that can be skipped
	SkippablePercent float64

	// SkippableVolume is the fraction of the root volume that can be skipped
	SkippableVolume float64
}

// RootBounds returns the cube the octree of g starts from: the world bounds
// of the grid, padded slightly and grown to a cube around their center.
func RootBounds(g *volume.Grid) r3.Box {
	b := g.WorldBounds()
	pad := r3.Vec{X: rootMargin, Y: rootMargin, Z: rootMargin}
	b = r3.Box{Min: r3.Sub(b.Min, pad), Max: r3.Add(b.Max, pad)}

	size := b.Size()
	half := 0.5 * math.Max(size.X, math.Max(size.Y, size.Z))
	c := b.Center()
	h := r3.Vec{X: half, Y: half, Z: half}
	return r3.Box{Min: r3.Sub(c, h), Max: r3.Add(c, h)}
}

// Locate returns the smallest leaf containing p. The second result is false
// when descent ends at an interior node none of whose children contain p;
// that node is returned as the fallback.
func (t *Tree) Locate(p r3.Vec) (*Node, bool) {
	n := t.Root
	for !n.IsLeaf() {
		next := (*Node)(nil)
		for _, c := range n.Children {
			if c.Contains(p) {
				next = c
				break
			}
		}
		if next == nil {
			return n, false
		}
		n = next
	}
	return n, true
}

// Leaves returns the occupied leaves followed by the skippable ones
func (t *Tree) Leaves() []*Node {
	out := make([]*Node, 0, len(t.Occupied)+len(t.Skippable))
	out = append(out, t.Occupied...)
	return append(out, t.Skippable...)
}

// Stats counts the tree's leaves
func (t *Tree) Stats() Stats {
	s := Stats{
		Occupied:  len(t.Occupied),
		Skippable: len(t.Skippable),
	}
	s.Total = s.Occupied + s.Skippable
	if s.Total == 0 {
		return s
	}
	s.SkippablePercent = 100 * float64(s.Skippable) / float64(s.Total)

	// Volume-weighted mean of the skippable flag
	flags := make([]float64, 0, s.Total)
	volumes := make([]float64, 0, s.Total)
	for _, n := range t.Occupied {
		flags = append(flags, 0)
		volumes = append(volumes, n.Volume())
	}
	for _, n := range t.Skippable {
		flags = append(flags, 1)
		volumes = append(volumes, n.Volume())
	}
	s.SkippableVolume = stat.Mean(flags, volumes)
	return s
}

// ExitDistance returns how far a ray starting at p, assumed inside b, travels
// along d before leaving b. Axes along which d is zero never limit the
// distance.
func ExitDistance(p, d r3.Vec, b r3.Box) float64 {
	return math.Min(axisExit(p.X, d.X, b.Min.X, b.Max.X),
		math.Min(axisExit(p.Y, d.Y, b.Min.Y, b.Max.Y), axisExit(p.Z, d.Z, b.Min.Z, b.Max.Z)))
}

func axisExit(p, d, min, max float64) float64 {
	switch {
	case d > 0:
		return (max - p) / d
	case d < 0:
		return (min - p) / d
	default:
		return math.Inf(1)
	}
}
