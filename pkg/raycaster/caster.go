// Package raycaster drives the sampling loop: it intersects rays with the
// voxel grid, walks the octree to skip empty space, samples densities and
// hands them to a ray for compositing.
package raycaster

import (
	"log"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"volumecaster/internal/models"
	"volumecaster/pkg/interpolation"
	"volumecaster/pkg/octree"
	"volumecaster/pkg/ray"
	"volumecaster/pkg/volume"
)

// skipEpsilon keeps rounding from stepping one sample past an octant boundary
const skipEpsilon = 1e-4

// Params holds the ray casting configuration.
// The values are read once per cast; changing them requires a new Caster.
type Params struct {
	// Method selects how samples are composited along each ray.
	Method models.CompositingMethod

	// Table is the transfer function mapping density to color.
	Table models.ColorTable

	// SampleSpacing is the distance between consecutive samples in world units.
	// Smaller values give smoother images at a proportional cost.
	SampleSpacing float64

	// OpacityCutoff ends Accumulate compositing once the ray reaches it.
	// Values of zero or less mean 1.
	OpacityCutoff float64

	// MatchingDensity is the density the First method searches for.
	MatchingDensity float64

	// RayTermination stops sampling as soon as compositing no longer changes.
	RayTermination bool

	// EmptySpaceSkip enables octree traversal. It has no effect for the
	// Average method, which needs every sample.
	EmptySpaceSkip bool

	// NumCores specifies how many goroutines Render splits the image across.
	NumCores int

	// RayRadius is only used to size the drawn ray sections.
	RayRadius float64
}

// TreeSource provides the current octree; octree.Manager implements it.
// Tree may return nil when no tree has been built.
type TreeSource interface {
	Tree() *octree.Tree
}

// Caster casts rays through one grid. It holds no mutable state and is safe
// for concurrent use.
type Caster struct {
	// grid is the volume being rendered, referenced but never modified
	grid *volume.Grid

	// trees supplies the octree used for empty-space skipping, may be nil
	trees TreeSource

	// params stores the casting configuration
	params Params

	// logger receives lookup diagnostics; nil disables them
	logger *log.Logger
}

// New creates a caster over grid.
//
// Parameters:
//   - grid: The voxel grid to sample
//   - trees: Source of the octree for empty-space skipping, or nil
//   - params: Casting configuration
//   - logger: Destination for diagnostics, or nil for silence
//
// Returns:
//   - A Caster ready to cast rays and render frames
func New(grid *volume.Grid, trees TreeSource, params Params, logger *log.Logger) *Caster {
	if params.OpacityCutoff <= 0 {
		params.OpacityCutoff = 1
	}
	params.Table = params.Table.Clone()
	return &Caster{grid: grid, trees: trees, params: params, logger: logger}
}

// Params returns the configuration of the caster
func (c *Caster) Params() Params {
	return c.params
}

// Grid returns the volume the caster samples
func (c *Caster) Grid() *volume.Grid {
	return c.grid
}

func (c *Caster) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

func (c *Caster) rayOptions(origin, dir r3.Vec) ray.Options {
	return ray.Options{
		Method:          c.params.Method,
		Table:           c.params.Table,
		Spacing:         c.params.SampleSpacing,
		OpacityCutoff:   c.params.OpacityCutoff,
		MatchingDensity: c.params.MatchingDensity,
		Origin:          origin,
		Direction:       dir,
		Radius:          c.params.RayRadius,
	}
}

// SampleCount returns how many samples fit in a length of grid
func (c *Caster) SampleCount(length float64) int {
	if c.params.SampleSpacing <= 0 {
		return 0
	}
	return int(length / c.params.SampleSpacing)
}

// CastRay casts a single ray and finishes it. dir must be normalized.
//
// Samples are spread evenly from the entry to the exit point, so the first
// and the last one lie on the grid faces. When a tree is available and
// empty-space skipping is enabled, runs of samples inside unoccupied octants
// are recorded as skipped without touching the grid.
//
// Returns:
//   - The finished ray with its samples and final color
//   - Per-ray statistics on retained and skipped samples
func (c *Caster) CastRay(origin, dir r3.Vec) (*ray.Ray, RayStats) {
	var stats RayStats

	hit := c.grid.Intersect(origin, dir)
	if !hit.Hit {
		return ray.NewMiss(c.rayOptions(origin, dir)), stats
	}
	stats.Hit = true

	opts := c.rayOptions(origin, dir)
	opts.DistanceBefore = hit.DistanceBefore
	opts.DistanceIn = hit.DistanceIn
	opts.DistanceAfter = hit.DistanceAfter
	r := ray.New(opts)

	n := c.SampleCount(hit.DistanceIn)
	var delta r3.Vec
	if n > 1 {
		delta = r3.Scale(hit.DistanceIn/float64(n-1), dir)
	}

	var tree *octree.Tree
	if c.trees != nil && c.params.EmptySpaceSkip && c.params.Method != models.Average {
		tree = c.trees.Tree()
	}

	if tree == nil {
		c.sampleAll(r, hit.Entry, delta, n, &stats)
	} else {
		c.sampleSkipping(r, tree, hit.Entry, dir, delta, n, &stats)
	}

	r.Finish()
	return r, stats
}

// position returns the world and grid coordinates of sample i
func (c *Caster) position(entry, delta r3.Vec, i int) (r3.Vec, r3.Vec) {
	world := r3.Add(entry, r3.Scale(float64(i), delta))
	return world, c.grid.WorldToGrid(world)
}

func (c *Caster) sample(r *ray.Ray, entry, delta r3.Vec, i int, stats *RayStats) {
	world, grid := c.position(entry, delta, i)
	r.AddSample(world, grid, interpolation.DensityAt(grid, c.grid))
	stats.Retained++
}

// terminate truncates the ray at sample i when compositing asked to stop
func (c *Caster) terminate(r *ray.Ray, i int) bool {
	if !c.params.RayTermination || !r.Terminated() {
		return false
	}
	r.Truncate(c.params.SampleSpacing * float64(i+1))
	return true
}

func (c *Caster) sampleAll(r *ray.Ray, entry, delta r3.Vec, n int, stats *RayStats) {
	for i := 0; i < n; i++ {
		c.sample(r, entry, delta, i, stats)
		if c.terminate(r, i) {
			break
		}
	}
}

// samplesInside returns how many further samples stay in the octant b
// after the one at p.
func (c *Caster) samplesInside(p, dir r3.Vec, b r3.Box) int {
	raw := octree.ExitDistance(p, dir, b) / c.params.SampleSpacing
	return max(0, int(math.RoundToEven(raw-skipEpsilon))-1)
}

func (c *Caster) sampleSkipping(r *ray.Ray, tree *octree.Tree, entry, dir, delta r3.Vec, n int, stats *RayStats) {
	for i := 0; i < n; i++ {
		world, grid := c.position(entry, delta, i)

		node, ok := tree.Locate(world)
		if !ok {
			c.logf("octree lookup miss at (%.4f, %.4f, %.4f), sampling directly", world.X, world.Y, world.Z)
			c.sample(r, entry, delta, i, stats)
			continue
		}
		stats.Nodes = append(stats.Nodes, node)

		remaining := c.samplesInside(world, dir, node.Bounds)
		if !node.Occupied {
			stats.Skipped = append(stats.Skipped, SkippedSample{WorldPosition: world, GridPosition: grid, Marker: true})
			r.Skip(1, 0)
			for ; remaining > 0 && i+1 < n; remaining-- {
				i++
				w, g := c.position(entry, delta, i)
				stats.Skipped = append(stats.Skipped, SkippedSample{WorldPosition: w, GridPosition: g})
				r.Skip(1, 0)
			}
		} else {
			c.sample(r, entry, delta, i, stats)
			for ; remaining > 0 && i+1 < n; remaining-- {
				i++
				c.sample(r, entry, delta, i, stats)
			}
		}

		if c.terminate(r, i) {
			break
		}
	}
}

// CastVisualizableRay casts a ray and splits it into the sections before,
// inside and after the grid for drawing.
func (c *Caster) CastVisualizableRay(origin, dir r3.Vec) VisualRay {
	r, stats := c.CastRay(origin, dir)
	return VisualRay{Ray: r, Sections: r.Sections(), Stats: stats}
}

// VisualRay is a cast ray with its drawable sections
type VisualRay struct {
	Ray      *ray.Ray
	Sections [3]ray.Section
	Stats    RayStats
}
