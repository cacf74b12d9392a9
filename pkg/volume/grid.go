// Package volume holds the scalar voxel grid that the ray caster samples,
// together with its world transform, raw loaders and the built-in datasets.
package volume

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrInvalidDimensions is returned when a grid size is smaller than 2 voxels on an axis
	ErrInvalidDimensions = errors.New("grid dimensions must be at least 2 on every axis")

	// ErrShortData is returned when the density slice does not match the grid size
	ErrShortData = errors.New("density data does not match grid dimensions")
)

// Transform places the grid box in world space. The box is centered on
// Position, rotated by Rotation (Euler angles in degrees, applied Z, then X,
// then Y) and has edge lengths Scale.
type Transform struct {
	Position r3.Vec
	Rotation r3.Vec
	Scale    r3.Vec
}

// IdentityTransform is a unit box centered on the origin
func IdentityTransform() Transform {
	return Transform{Scale: r3.Vec{X: 1, Y: 1, Z: 1}}
}

// Quaternion returns the rotation described by the Euler angles
func (t Transform) Quaternion() r3.Rotation {
	rx := r3.NewRotation(t.Rotation.X*math.Pi/180, r3.Vec{X: 1})
	ry := r3.NewRotation(t.Rotation.Y*math.Pi/180, r3.Vec{Y: 1})
	rz := r3.NewRotation(t.Rotation.Z*math.Pi/180, r3.Vec{Z: 1})
	q := quat.Mul(quat.Mul(quat.Number(ry), quat.Number(rx)), quat.Number(rz))
	return r3.Rotation(q)
}

// Grid is a dense scalar field with values in [0,1].
// Data is laid out x fastest, then y, then z. A Grid is never mutated after
// construction; WithTransform returns a copy sharing the density data.
type Grid struct {
	// SizeX, SizeY, SizeZ are the voxel counts along each axis
	SizeX, SizeY, SizeZ int

	// Data holds SizeX*SizeY*SizeZ densities
	Data []float64

	transform Transform
	rot       r3.Rotation
	inv       r3.Rotation
}

// NewGrid wraps density data in a grid with an identity transform
func NewGrid(sizeX, sizeY, sizeZ int, data []float64) (*Grid, error) {
	if sizeX < 2 || sizeY < 2 || sizeZ < 2 {
		return nil, fmt.Errorf("%w: %dx%dx%d", ErrInvalidDimensions, sizeX, sizeY, sizeZ)
	}
	if len(data) != sizeX*sizeY*sizeZ {
		return nil, fmt.Errorf("%w: expected %d values, got %d", ErrShortData, sizeX*sizeY*sizeZ, len(data))
	}
	g := &Grid{SizeX: sizeX, SizeY: sizeY, SizeZ: sizeZ, Data: data}
	g.setTransform(IdentityTransform())
	return g, nil
}

// NewUniformGrid creates a grid where every voxel holds density
func NewUniformGrid(sizeX, sizeY, sizeZ int, density float64) (*Grid, error) {
	data := make([]float64, sizeX*sizeY*sizeZ)
	for i := range data {
		data[i] = density
	}
	return NewGrid(sizeX, sizeY, sizeZ, data)
}

func (g *Grid) setTransform(t Transform) {
	g.transform = t
	g.rot = t.Quaternion()
	g.inv = r3.Rotation(quat.Conj(quat.Number(g.rot)))
}

// WithTransform returns a grid sharing g's densities placed by t
func (g *Grid) WithTransform(t Transform) *Grid {
	out := &Grid{SizeX: g.SizeX, SizeY: g.SizeY, SizeZ: g.SizeZ, Data: g.Data}
	out.setTransform(t)
	return out
}

// Transform returns the world placement of the grid
func (g *Grid) Transform() Transform {
	return g.transform
}

// Index returns the flat offset of voxel (x, y, z)
func (g *Grid) Index(x, y, z int) int {
	return z*g.SizeX*g.SizeY + y*g.SizeX + x
}

// Voxel returns the stored density at integer coordinates
func (g *Grid) Voxel(x, y, z int) float64 {
	return g.Data[g.Index(x, y, z)]
}

// WorldToGrid converts a world position to continuous grid-index space,
// where the box corners map to 0 and Size-1 on each axis.
func (g *Grid) WorldToGrid(p r3.Vec) r3.Vec {
	s := g.transform.Scale
	local := g.inv.Rotate(r3.Sub(p, g.transform.Position))
	local = r3.Add(local, r3.Scale(0.5, s))
	return r3.Vec{
		X: local.X / s.X * float64(g.SizeX-1),
		Y: local.Y / s.Y * float64(g.SizeY-1),
		Z: local.Z / s.Z * float64(g.SizeZ-1),
	}
}

// GridToWorld is the inverse of WorldToGrid
func (g *Grid) GridToWorld(p r3.Vec) r3.Vec {
	s := g.transform.Scale
	local := r3.Vec{
		X: p.X / float64(g.SizeX-1) * s.X,
		Y: p.Y / float64(g.SizeY-1) * s.Y,
		Z: p.Z / float64(g.SizeZ-1) * s.Z,
	}
	local = r3.Sub(local, r3.Scale(0.5, s))
	return r3.Add(g.rot.Rotate(local), g.transform.Position)
}

// InverseRotate applies the inverse of the grid rotation to a direction
func (g *Grid) InverseRotate(v r3.Vec) r3.Vec {
	return g.inv.Rotate(v)
}

// Corners returns the eight world-space corners of the grid box
func (g *Grid) Corners() [8]r3.Vec {
	h := r3.Scale(0.5, g.transform.Scale)
	var out [8]r3.Vec
	for i := 0; i < 8; i++ {
		local := r3.Vec{X: -h.X, Y: -h.Y, Z: -h.Z}
		if i&1 != 0 {
			local.X = h.X
		}
		if i&2 != 0 {
			local.Y = h.Y
		}
		if i&4 != 0 {
			local.Z = h.Z
		}
		out[i] = r3.Add(g.rot.Rotate(local), g.transform.Position)
	}
	return out
}

// WorldBounds returns the axis-aligned box enclosing the rotated grid box
func (g *Grid) WorldBounds() r3.Box {
	corners := g.Corners()
	box := r3.Box{Min: corners[0], Max: corners[0]}
	for _, c := range corners[1:] {
		box.Min.X = math.Min(box.Min.X, c.X)
		box.Min.Y = math.Min(box.Min.Y, c.Y)
		box.Min.Z = math.Min(box.Min.Z, c.Z)
		box.Max.X = math.Max(box.Max.X, c.X)
		box.Max.Y = math.Max(box.Max.Y, c.Y)
		box.Max.Z = math.Max(box.Max.Z, c.Z)
	}
	return box
}
