// Package visualization turns grids and rendered frames into images: density
// slices along an axis, transfer-function colored slices, and the ray cast
// frame itself.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"volumecaster/internal/models"
	"volumecaster/pkg/interpolation"
	"volumecaster/pkg/volume"
)

// Viewer extracts axis-aligned slices and subregions of a voxel grid
type Viewer struct {
	// grid holds the densities being viewed
	grid *volume.Grid
}

// NewViewer creates a new slice viewer over a grid
func NewViewer(grid *volume.Grid) *Viewer {
	return &Viewer{grid: grid}
}

// plane describes the voxels of one slice: the image size and a mapping
// from image coordinates to voxel coordinates.
type plane struct {
	w, h  int
	voxel func(a, b int) (x, y, z int)
}

func (v *Viewer) plane(axis string, position int) (plane, error) {
	if position < 0 {
		return plane{}, fmt.Errorf("position must be non-negative")
	}
	g := v.grid

	switch axis {
	case "x", "X":
		// Extract slice along YZ plane
		if position >= g.SizeX {
			return plane{}, fmt.Errorf("position %d exceeds width %d", position, g.SizeX)
		}
		return plane{g.SizeZ, g.SizeY, func(a, b int) (int, int, int) { return position, b, a }}, nil

	case "y", "Y":
		// Extract slice along XZ plane
		if position >= g.SizeY {
			return plane{}, fmt.Errorf("position %d exceeds height %d", position, g.SizeY)
		}
		return plane{g.SizeX, g.SizeZ, func(a, b int) (int, int, int) { return a, position, b }}, nil

	case "z", "Z":
		// Extract slice along XY plane
		if position >= g.SizeZ {
			return plane{}, fmt.Errorf("position %d exceeds depth %d", position, g.SizeZ)
		}
		return plane{g.SizeX, g.SizeY, func(a, b int) (int, int, int) { return a, b, position }}, nil

	default:
		return plane{}, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
}

// ExtractSlice extracts a 2D density slice from the grid along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	p, err := v.plane(axis, position)
	if err != nil {
		return nil, err
	}

	img := image.NewGray16(image.Rect(0, 0, p.w, p.h))
	for b := 0; b < p.h; b++ {
		for a := 0; a < p.w; a++ {
			value := uint16(math.Max(0, math.Min(65535, v.grid.Voxel(p.voxel(a, b))*65535)))
			img.SetGray16(a, b, color.Gray16{Y: value})
		}
	}
	return img, nil
}

// ExtractColorSlice extracts a slice with every voxel mapped through the
// transfer function, the way the ray caster sees it before compositing.
func (v *Viewer) ExtractColorSlice(axis string, position int, table models.ColorTable) (image.Image, error) {
	p, err := v.plane(axis, position)
	if err != nil {
		return nil, err
	}

	img := image.NewNRGBA(image.Rect(0, 0, p.w, p.h))
	for b := 0; b < p.h; b++ {
		for a := 0; a < p.w; a++ {
			c := interpolation.ColorAt(v.grid.Voxel(p.voxel(a, b)), table)
			img.SetNRGBA(a, b, c.NRGBA())
		}
	}
	return img, nil
}

// ExtractRegion extracts a 3D subregion of the grid as a new grid with an
// identity transform
func (v *Viewer) ExtractRegion(startX, startY, startZ, sizeX, sizeY, sizeZ int) (*volume.Grid, error) {
	g := v.grid

	// Validate parameters
	if startX < 0 || startY < 0 || startZ < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}

	if sizeX <= 0 || sizeY <= 0 || sizeZ <= 0 {
		return nil, fmt.Errorf("size dimensions must be positive")
	}

	if startX+sizeX > g.SizeX || startY+sizeY > g.SizeY || startZ+sizeZ > g.SizeZ {
		return nil, fmt.Errorf("region extends beyond volume boundaries")
	}

	region := make([]float64, sizeX*sizeY*sizeZ)
	for z := 0; z < sizeZ; z++ {
		for y := 0; y < sizeY; y++ {
			for x := 0; x < sizeX; x++ {
				region[z*sizeX*sizeY+y*sizeX+x] = g.Voxel(startX+x, startY+y, startZ+z)
			}
		}
	}

	return volume.NewGrid(sizeX, sizeY, sizeZ, region)
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.grid.SizeX
	case "y", "Y":
		maxPos = v.grid.SizeY
	case "z", "Z":
		maxPos = v.grid.SizeZ
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
