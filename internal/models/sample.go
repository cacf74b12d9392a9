package models

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// Sample is a single density reading taken along a ray
type Sample struct {
	// WorldPosition is the sample location in world space
	WorldPosition r3.Vec

	// GridPosition is the sample location in continuous grid-index space
	GridPosition r3.Vec

	// Density is the interpolated scalar value at the sample
	Density float64

	// Color is the transfer function color for Density
	Color Color

	// Composited is the running compositing result up to and including this sample
	Composited Color
}

// CompositingMethod selects how sample colors are combined along a ray
type CompositingMethod int

const (
	Accumulate CompositingMethod = iota
	Maximum
	Average
	First
)

// String returns the lower-case name used in configuration files
func (m CompositingMethod) String() string {
	switch m {
	case Accumulate:
		return "accumulate"
	case Maximum:
		return "maximum"
	case Average:
		return "average"
	case First:
		return "first"
	default:
		return fmt.Sprintf("CompositingMethod(%d)", int(m))
	}
}

// ParseCompositingMethod converts a configuration name into a method
func ParseCompositingMethod(name string) (CompositingMethod, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "accumulate":
		return Accumulate, nil
	case "maximum", "max", "mip":
		return Maximum, nil
	case "average", "avg":
		return Average, nil
	case "first":
		return First, nil
	default:
		return Accumulate, fmt.Errorf("unknown compositing method: %q", name)
	}
}
