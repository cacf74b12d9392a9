package raycaster

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"volumecaster/pkg/volume"
)

// Camera is a pinhole camera looking along its local +Z axis, with +Y up
type Camera struct {
	// Position is the eye point in world space
	Position r3.Vec

	// Rotation holds Euler angles in degrees, applied like a grid rotation
	Rotation r3.Vec

	// FieldOfView is the vertical opening angle in degrees
	FieldOfView float64

	// ScreenDistance is the distance from the eye to the image plane
	ScreenDistance float64

	// Width and Height are the image size in pixels
	Width, Height int

	// Supersampling casts Supersampling x Supersampling rays per pixel
	Supersampling int
}

// DefaultCamera looks at the origin from 2 units down the -Z axis
func DefaultCamera() Camera {
	return Camera{
		Position:       r3.Vec{Z: -2},
		FieldOfView:    60,
		ScreenDistance: 1,
		Width:          64,
		Height:         64,
		Supersampling:  1,
	}
}

// PrimaryRay is one ray of a pixel
type PrimaryRay struct {
	Origin    r3.Vec
	Direction r3.Vec
}

// screen holds the per-frame image plane geometry
type screen struct {
	rot         r3.Rotation
	halfW       float64
	halfH       float64
	pixelW      float64
	pixelH      float64
	factor      int
	step        float64
	distance    float64
	camPosition r3.Vec
}

func (c Camera) screen() screen {
	factor := max(1, c.Supersampling)
	aspect := float64(c.Width) / float64(c.Height)
	halfH := c.ScreenDistance * math.Tan(c.FieldOfView*math.Pi/180/2)
	halfW := aspect * halfH
	t := volume.IdentityTransform()
	t.Rotation = c.Rotation
	return screen{
		rot:         t.Quaternion(),
		halfW:       halfW,
		halfH:       halfH,
		pixelW:      2 * halfW / float64(c.Width),
		pixelH:      2 * halfH / float64(c.Height),
		factor:      factor,
		step:        1 / float64(factor),
		distance:    c.ScreenDistance,
		camPosition: c.Position,
	}
}

// rays appends the supersampled rays of pixel (x, y) to dst. Row 0 is the
// bottom of the image plane.
func (s screen) rays(dst []PrimaryRay, x, y int) []PrimaryRay {
	cx := -s.halfW + s.pixelW*(float64(x)+0.5)
	cy := -s.halfH + s.pixelH*(float64(y)+0.5)
	for sy := 0; sy < s.factor; sy++ {
		py := cy + s.pixelH*(s.step*(0.5+float64(sy))-0.5)
		for sx := 0; sx < s.factor; sx++ {
			px := cx + s.pixelW*(s.step*(0.5+float64(sx))-0.5)
			pixel := s.rot.Rotate(r3.Vec{X: px, Y: py, Z: s.distance})
			dst = append(dst, PrimaryRay{
				Origin:    r3.Add(s.camPosition, pixel),
				Direction: r3.Unit(pixel),
			})
		}
	}
	return dst
}

// PixelRays returns the rays cast for pixel (x, y), one per supersample
func (c Camera) PixelRays(x, y int) []PrimaryRay {
	s := c.screen()
	return s.rays(make([]PrimaryRay, 0, s.factor*s.factor), x, y)
}
