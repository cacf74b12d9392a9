package interpolation

import (
	"math"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/spatial/r3"

	"volumecaster/pkg/volume"
)

// cell locates the lower corner of the unit cell around coordinate c on an
// axis of n voxels, and the fractional offset from that corner. Coordinates
// outside [0, n-1] are clamped onto the volume first.
func cell(c float64, n int) (int, float64) {
	c = lo.Clamp(c, 0, float64(n-1))
	i := lo.Clamp(int(math.Floor(c)), 0, n-2)
	return i, c - float64(i)
}

// DensityAt samples the grid at a continuous grid-index point by blending
// the 8 surrounding voxels along x, then y, then z. Out-of-range points are
// clamped, never rejected.
func DensityAt(p r3.Vec, g *volume.Grid) float64 {
	x, dx := cell(p.X, g.SizeX)
	y, dy := cell(p.Y, g.SizeY)
	z, dz := cell(p.Z, g.SizeZ)

	// Offsets of the +1 neighbors in the flat layout
	sx := 1
	sy := g.SizeX
	sz := g.SizeX * g.SizeY
	base := g.Index(x, y, z)
	d := g.Data

	// Collapse x, leaving a plane
	c00 := lerp(d[base], d[base+sx], dx)
	c10 := lerp(d[base+sy], d[base+sy+sx], dx)
	c01 := lerp(d[base+sz], d[base+sz+sx], dx)
	c11 := lerp(d[base+sz+sy], d[base+sz+sy+sx], dx)

	// Collapse y, leaving a line along z
	c0 := lerp(c00, c10, dy)
	c1 := lerp(c01, c11, dy)

	return lerp(c0, c1, dz)
}

// lerp is written as a + (b-a)*t so that equal endpoints return a exactly
func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
