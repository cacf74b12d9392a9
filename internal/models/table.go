package models

import (
	"fmt"
	"strings"
)

// ColorTableEntry is one control point of the transfer function
type ColorTableEntry struct {
	// Density is the scalar value in [0,1] at which Color applies
	Density float64 `yaml:"density"`

	// Color is the RGBA value assigned to Density
	Color Color `yaml:"color"`
}

// ColorTable is an ordered list of control points, non-decreasing in density.
// The reference tables have 5 entries but any length >= 2 is valid.
type ColorTable []ColorTableEntry

// Validate checks that the table has at least two entries and that densities
// never decrease. Equal adjacent densities are allowed; the transfer function
// guards the resulting zero-width segment.
func (t ColorTable) Validate() error {
	if len(t) < 2 {
		return fmt.Errorf("color table needs at least 2 entries, got %d", len(t))
	}
	for i := 1; i < len(t); i++ {
		if t[i].Density < t[i-1].Density {
			return fmt.Errorf("color table density decreases at entry %d (%.3f < %.3f)",
				i, t[i].Density, t[i-1].Density)
		}
	}
	return nil
}

// Clone returns a copy that shares no memory with t
func (t ColorTable) Clone() ColorTable {
	out := make(ColorTable, len(t))
	copy(out, t)
	return out
}

// Equal reports whether both tables have identical entries
func (t ColorTable) Equal(o ColorTable) bool {
	if len(t) != len(o) {
		return false
	}
	for i := range t {
		if t[i] != o[i] {
			return false
		}
	}
	return true
}

func (t ColorTable) String() string {
	parts := make([]string, len(t))
	for i, e := range t {
		parts[i] = fmt.Sprintf("%.3f:%s", e.Density, e.Color)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// MarshalYAML writes a color as a 4-element [r, g, b, a] list
func (c Color) MarshalYAML() (interface{}, error) {
	return []float64{c.R, c.G, c.B, c.A}, nil
}

// UnmarshalYAML reads a color from a 3- or 4-element list. A missing
// alpha defaults to 1.
func (c *Color) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var v []float64
	if err := unmarshal(&v); err != nil {
		return err
	}
	switch len(v) {
	case 3:
		*c = Color{R: v[0], G: v[1], B: v[2], A: 1}
	case 4:
		*c = Color{R: v[0], G: v[1], B: v[2], A: v[3]}
	default:
		return fmt.Errorf("color needs 3 or 4 channels, got %d", len(v))
	}
	return nil
}
