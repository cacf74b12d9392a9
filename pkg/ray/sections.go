package ray

import (
	"gonum.org/v1/gonum/spatial/r3"

	"volumecaster/internal/models"
)

// SectionKind identifies one of the three parts of a visualizable ray
type SectionKind int

const (
	BeforeGrid SectionKind = iota
	InsideGrid
	AfterGrid
)

func (k SectionKind) String() string {
	switch k {
	case BeforeGrid:
		return "before"
	case InsideGrid:
		return "inside"
	case AfterGrid:
		return "after"
	default:
		return "unknown"
	}
}

// stubRadius scales the radius of the sections outside the grid
const stubRadius = 0.2

// Section is one straight piece of a ray used for drawing
type Section struct {
	Kind SectionKind

	// Origin is where the section starts in world space
	Origin r3.Vec

	// Direction is shared by all three sections
	Direction r3.Vec

	// Length may be +Inf for the parts of a ray outside the grid
	Length float64

	// Radius is the drawing radius; the stubs outside the grid are thinner
	Radius float64

	// Samples is only set on the InsideGrid section
	Samples []models.Sample
}

// End returns the far end of the section, which is only finite for a
// finite length.
func (s Section) End() r3.Vec {
	return r3.Add(s.Origin, r3.Scale(s.Length, s.Direction))
}

// Sections splits the ray into the part before the grid, the part inside it
// carrying the samples, and the part after it. A truncated ray has a zero
// length after-section.
func (r *Ray) Sections() [3]Section {
	o := r.opts
	entry := r3.Add(o.Origin, r3.Scale(o.DistanceBefore, o.Direction))
	exit := r3.Add(o.Origin, r3.Scale(o.DistanceBefore+o.DistanceIn, o.Direction))
	return [3]Section{
		{
			Kind:      BeforeGrid,
			Origin:    o.Origin,
			Direction: o.Direction,
			Length:    o.DistanceBefore,
			Radius:    stubRadius * o.Radius,
		},
		{
			Kind:      InsideGrid,
			Origin:    entry,
			Direction: o.Direction,
			Length:    o.DistanceIn,
			Radius:    o.Radius,
			Samples:   r.samples,
		},
		{
			Kind:      AfterGrid,
			Origin:    exit,
			Direction: o.Direction,
			Length:    o.DistanceAfter,
			Radius:    stubRadius * o.Radius,
		},
	}
}
