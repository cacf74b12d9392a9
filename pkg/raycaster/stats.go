package raycaster

import (
	"fmt"
	"time"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"volumecaster/pkg/octree"
)

// SkippedSample is a sample position that empty-space skipping jumped over
type SkippedSample struct {
	WorldPosition r3.Vec
	GridPosition  r3.Vec

	// Marker is set on the first position of each skipped run
	Marker bool
}

// RayStats records the work done for one ray
type RayStats struct {
	// Hit is false for rays that miss the grid
	Hit bool

	// Retained counts the samples read from the grid
	Retained int

	// Skipped lists the positions jumped over, markers included
	Skipped []SkippedSample

	// Nodes lists the octree leaves visited, in order
	Nodes []*octree.Node
}

// Total returns retained plus skipped samples
func (s RayStats) Total() int {
	return s.Retained + len(s.Skipped)
}

// PixelStats is the compact per-pixel summary kept by Render
type PixelStats struct {
	Retained   int
	Skipped    int
	Nodes      int
	Terminated bool
}

// RenderStats aggregates the per-pixel statistics of a frame
type RenderStats struct {
	// Rays is the number of rays cast, supersamples included
	Rays int

	// HitRays counts the rays that entered the grid
	HitRays int

	// Retained and Skipped sum the per-ray sample counts
	Retained int
	Skipped  int

	// SkippedPercent is the share of samples avoided through empty space
	SkippedPercent float64

	// TerminatedPixels counts pixels with at least one early-terminated ray
	TerminatedPixels int

	// MeanSamples and StdDevSamples describe the retained samples per pixel
	MeanSamples   float64
	StdDevSamples float64

	// Duration is the wall time of the render
	Duration time.Duration
}

// Total returns the number of sample positions considered
func (s RenderStats) Total() int {
	return s.Retained + s.Skipped
}

func (s RenderStats) String() string {
	return fmt.Sprintf("%d rays (%d hit), %d samples: %d retained, %d skipped (%.1f%%), %.1f±%.1f samples/pixel, %s",
		s.Rays, s.HitRays, s.Total(), s.Retained, s.Skipped, s.SkippedPercent,
		s.MeanSamples, s.StdDevSamples, s.Duration.Round(time.Millisecond))
}

// Summarize computes the aggregate statistics of a set of pixels
func Summarize(pixels []PixelStats) RenderStats {
	var s RenderStats
	if len(pixels) == 0 {
		return s
	}
	s.Retained = lo.SumBy(pixels, func(p PixelStats) int { return p.Retained })
	s.Skipped = lo.SumBy(pixels, func(p PixelStats) int { return p.Skipped })
	s.TerminatedPixels = lo.CountBy(pixels, func(p PixelStats) bool { return p.Terminated })
	if total := s.Total(); total > 0 {
		s.SkippedPercent = 100 * float64(s.Skipped) / float64(total)
	}

	retained := lo.Map(pixels, func(p PixelStats, _ int) float64 { return float64(p.Retained) })
	if len(retained) == 1 {
		s.MeanSamples = retained[0]
		return s
	}
	s.MeanSamples, s.StdDevSamples = stat.MeanStdDev(retained, nil)
	return s
}
