package models

import (
	"fmt"
	"image/color"
	"math"
)

// Color is a straight (non-premultiplied) RGBA color with float64 channels.
// Channels are nominally in [0,1] but are not clamped by arithmetic helpers.
type Color struct {
	R, G, B, A float64
}

// Common colors
var (
	Clear      = Color{}
	Black      = Color{A: 1}
	White      = Color{R: 1, G: 1, B: 1, A: 1}
	Red        = Color{R: 1, A: 1}
	Background = Color{R: 0.68, G: 0.68, B: 0.68, A: 1}
)

// NewColor creates a color from its four channels
func NewColor(r, g, b, a float64) Color {
	return Color{R: r, G: g, B: b, A: a}
}

// Add returns the channel-wise sum of two colors
func (c Color) Add(o Color) Color {
	return Color{R: c.R + o.R, G: c.G + o.G, B: c.B + o.B, A: c.A + o.A}
}

// Scale multiplies all four channels by s
func (c Color) Scale(s float64) Color {
	return Color{R: c.R * s, G: c.G * s, B: c.B * s, A: c.A * s}
}

// Lerp blends c towards o by t, channel-wise
func (c Color) Lerp(o Color, t float64) Color {
	return c.Scale(1 - t).Add(o.Scale(t))
}

// Clamp returns the color with every channel clamped to [0,1]
func (c Color) Clamp() Color {
	return Color{R: clamp01(c.R), G: clamp01(c.G), B: clamp01(c.B), A: clamp01(c.A)}
}

// ApproxEqual reports whether all channels differ by at most eps
func (c Color) ApproxEqual(o Color, eps float64) bool {
	return math.Abs(c.R-o.R) <= eps &&
		math.Abs(c.G-o.G) <= eps &&
		math.Abs(c.B-o.B) <= eps &&
		math.Abs(c.A-o.A) <= eps
}

// NRGBA converts the color to an 8-bit-per-channel image color.
// The color is clamped first.
func (c Color) NRGBA() color.NRGBA {
	cc := c.Clamp()
	return color.NRGBA{
		R: uint8(math.Round(cc.R * 255)),
		G: uint8(math.Round(cc.G * 255)),
		B: uint8(math.Round(cc.B * 255)),
		A: uint8(math.Round(cc.A * 255)),
	}
}

// String formats the color with one decimal per channel
func (c Color) String() string {
	return fmt.Sprintf("(%.1f,%.1f,%.1f,%.1f)", c.R, c.G, c.B, c.A)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
