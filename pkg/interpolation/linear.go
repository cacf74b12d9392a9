// Package interpolation maps densities to colors through a piecewise-linear
// transfer function and resamples voxel grids at continuous coordinates.
package interpolation

import (
	"volumecaster/internal/models"
)

// segmentBelow returns the index of the control point at or below density.
// Densities past the last control point use the final segment.
func segmentBelow(density float64, table models.ColorTable) int {
	for i := 1; i < len(table); i++ {
		if density < table[i].Density {
			return i - 1
		}
	}
	return len(table) - 2
}

// ColorAt evaluates the transfer function. Densities at or below the first
// control point return its color unchanged; densities above the last one
// extrapolate along the final segment.
//
// A zero-width segment (two control points sharing a density) resolves to
// the upper control point's color. Tables with fewer than two entries are
// malformed: an empty table is Clear and a single entry is returned as is.
func ColorAt(density float64, table models.ColorTable) models.Color {
	switch len(table) {
	case 0:
		return models.Clear
	case 1:
		return table[0].Color
	}

	if density <= table[0].Density {
		return table[0].Color
	}

	i := segmentBelow(density, table)
	lo, hi := table[i], table[i+1]

	width := hi.Density - lo.Density
	if width <= 0 {
		return hi.Color
	}

	t := (density - lo.Density) / width
	return lo.Color.Scale(1 - t).Add(hi.Color.Scale(t))
}

// AlphaAt returns only the opacity of ColorAt, used by the occupancy test
func AlphaAt(density float64, table models.ColorTable) float64 {
	return ColorAt(density, table).A
}
