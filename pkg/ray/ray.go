// Package ray accumulates density samples along a single cast ray and
// composites them into one pixel color.
package ray

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"volumecaster/internal/models"
	"volumecaster/pkg/interpolation"
)

const (
	// ReferenceSpacing is the sample spacing at which a table alpha is used unchanged
	ReferenceSpacing = 0.1

	// MatchEpsilon is the density tolerance of the First method
	MatchEpsilon = 0.05

	// DefaultRadius is the presentation radius of a ray when none is configured
	DefaultRadius = 0.01
)

// Options configures a Ray. All fields are copied; the ray never modifies them.
type Options struct {
	// Method is the compositing policy, fixed for the lifetime of the ray
	Method models.CompositingMethod

	// Table is the transfer function
	Table models.ColorTable

	// Spacing is the distance between consecutive samples
	Spacing float64

	// OpacityCutoff stops Accumulate compositing once reached
	OpacityCutoff float64

	// MatchingDensity is the target density of the First method
	MatchingDensity float64

	// Origin and Direction describe the ray in world space
	Origin, Direction r3.Vec

	// DistanceBefore, DistanceIn, DistanceAfter split the ray around the grid
	DistanceBefore, DistanceIn, DistanceAfter float64

	// Radius is only used by Sections for drawing
	Radius float64
}

// state holds the method-specific accumulators
type state struct {
	maxDensity   float64
	totalDensity float64
	skipped      int
}

// Ray is an ordered list of samples and the running compositing state.
// It is not safe for concurrent use; each cast ray owns its own Ray.
type Ray struct {
	opts    Options
	samples []models.Sample
	acc     state

	// earlyIdx is -1 until compositing asks the caster to stop
	earlyIdx int

	color    models.Color
	finished bool
}

// New creates an empty ray
func New(opts Options) *Ray {
	if opts.Radius <= 0 {
		opts.Radius = DefaultRadius
	}
	opts.Table = opts.Table.Clone()
	return &Ray{opts: opts, earlyIdx: -1}
}

// NewMiss creates a finished ray that never entered the grid. All of its
// length lies after the empty inside section at the origin.
func NewMiss(opts Options) *Ray {
	opts.DistanceBefore = 0
	opts.DistanceIn = 0
	opts.DistanceAfter = math.Inf(1)
	r := New(opts)
	r.Finish()
	return r
}

// Method returns the compositing method of the ray
func (r *Ray) Method() models.CompositingMethod {
	return r.opts.Method
}

// Origin returns the world-space start of the ray
func (r *Ray) Origin() r3.Vec {
	return r.opts.Origin
}

// Direction returns the normalized world-space direction of the ray
func (r *Ray) Direction() r3.Vec {
	return r.opts.Direction
}

// Distances returns the lengths before, inside and after the grid
func (r *Ray) Distances() (before, in, after float64) {
	return r.opts.DistanceBefore, r.opts.DistanceIn, r.opts.DistanceAfter
}

// Truncate shortens the in-grid length to where sampling stopped and drops
// the section after the grid.
func (r *Ray) Truncate(distanceIn float64) {
	r.opts.DistanceIn = distanceIn
	r.opts.DistanceAfter = 0
}

// AddSample records the next sample along the ray. Samples must be added in
// increasing distance from the origin.
func (r *Ray) AddSample(world, grid r3.Vec, density float64) {
	s := models.Sample{
		WorldPosition: world,
		GridPosition:  grid,
		Density:       density,
		Color:         interpolation.ColorAt(density, r.opts.Table),
	}

	// The first sample composites against a transparent sentinel
	prev := models.Clear
	if n := len(r.samples); n > 0 {
		prev = r.samples[n-1].Composited
	}

	s.Composited = r.composite(prev, s, len(r.samples))
	r.samples = append(r.samples, s)
}

// Skip accounts for count samples that were not taken because they fell in
// empty space. density is added to the running total used by Average.
func (r *Ray) Skip(count int, density float64) {
	r.acc.totalDensity += density
	r.acc.skipped += count
}

func (r *Ray) composite(prev models.Color, s models.Sample, index int) models.Color {
	switch r.opts.Method {
	case models.Maximum:
		return r.maximum(s)
	case models.Average:
		return r.average(s, index)
	case models.First:
		return r.first(prev, s, index)
	default:
		return r.accumulate(prev, s, index)
	}
}

// accumulate is front-to-back alpha blending with the sample alpha corrected
// for the distance between samples.
func (r *Ray) accumulate(prev models.Color, s models.Sample, index int) models.Color {
	alpha := 1 - math.Pow(1-s.Color.A, r.opts.Spacing/ReferenceSpacing)

	out := models.Color{A: prev.A + (1-prev.A)*alpha}
	if out.A >= r.opts.OpacityCutoff || r.earlyIdx != -1 {
		if r.earlyIdx == -1 {
			r.earlyIdx = index
		}
		return prev
	}
	if prev.A == 0 && alpha == 0 {
		return prev
	}

	w := (1 - prev.A) * alpha
	out.R = math.Min(prev.R+w*s.Color.R, 1)
	out.G = math.Min(prev.G+w*s.Color.G, 1)
	out.B = math.Min(prev.B+w*s.Color.B, 1)
	return out
}

func (r *Ray) maximum(s models.Sample) models.Color {
	if s.Density > r.acc.maxDensity {
		r.acc.maxDensity = s.Density
	}
	return interpolation.ColorAt(r.acc.maxDensity, r.opts.Table)
}

func (r *Ray) average(s models.Sample, index int) models.Color {
	r.acc.totalDensity += s.Density
	return interpolation.ColorAt(r.acc.totalDensity/divisor(index+r.acc.skipped), r.opts.Table)
}

// first locks onto the first sample within MatchEpsilon of the target density.
// Once the composited color has moved away from the first sample's, the
// color is frozen and termination is requested.
func (r *Ray) first(prev models.Color, s models.Sample, index int) models.Color {
	if index > 1 && prev != r.samples[0].Composited {
		if r.earlyIdx == -1 {
			r.earlyIdx = index
		}
		return prev
	}

	target := r.opts.MatchingDensity
	if s.Density <= target+MatchEpsilon && s.Density >= target-MatchEpsilon {
		return interpolation.ColorAt(target, r.opts.Table)
	}
	return prev
}

// divisor guards the Average denominators, which are below 1 for rays with
// fewer than two counted samples.
func divisor(n int) float64 {
	if n < 1 {
		return 1
	}
	return float64(n)
}

// Finish computes the final color. Average recomputes it from the total
// density; the other methods use the last composited color. A color that is
// not fully opaque has the remaining transparency filled with the background.
// Finish is idempotent.
func (r *Ray) Finish() {
	if r.finished {
		return
	}
	r.finished = true

	final := models.Clear
	if n := len(r.samples); n > 0 {
		final = r.samples[n-1].Composited
	}
	if r.opts.Method == models.Average {
		n := len(r.samples) + r.acc.skipped - 1
		final = interpolation.ColorAt(r.acc.totalDensity/divisor(n), r.opts.Table)
	}

	// Average blends with the recomputed color, not the last composited sample
	if final.A < 1 {
		bg := models.Background
		final.R = (1-final.A)*bg.R + final.R
		final.G = (1-final.A)*bg.G + final.G
		final.B = (1-final.A)*bg.B + final.B
	}
	r.color = final
}

// Color returns the final color computed by Finish, alpha unmodified
func (r *Ray) Color() models.Color {
	return r.color
}

// PixelColor is the displayed color: the final color with alpha forced to 1
func (r *Ray) PixelColor() models.Color {
	c := r.color
	c.A = 1
	return c
}

// Finished reports whether Finish has been called
func (r *Ray) Finished() bool {
	return r.finished
}

// EarlyTerminationIndex returns the sample index at which compositing asked
// to stop, and false if it never did.
func (r *Ray) EarlyTerminationIndex() (int, bool) {
	return r.earlyIdx, r.earlyIdx != -1
}

// Terminated reports whether compositing has requested early termination
func (r *Ray) Terminated() bool {
	return r.earlyIdx != -1
}

// Samples returns the recorded samples. The slice must not be modified.
func (r *Ray) Samples() []models.Sample {
	return r.samples
}

// SkippedCount returns how many samples were skipped through empty space
func (r *Ray) SkippedCount() int {
	return r.acc.skipped
}

// TotalDensity returns the density sum used by the Average method
func (r *Ray) TotalDensity() float64 {
	return r.acc.totalDensity
}
