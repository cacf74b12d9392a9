package visualization

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	"volumecaster/pkg/raycaster"
)

// FrameImage converts a rendered frame to an image. Frame row 0 is the
// bottom of the image plane, so rows are flipped.
func FrameImage(f *raycaster.Frame) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			img.SetNRGBA(x, f.Height-1-y, f.At(x, y).NRGBA())
		}
	}
	return img
}

// ScalePreview resizes img by factor with Catmull-Rom filtering. A factor
// of 1 returns img unchanged.
func ScalePreview(img image.Image, factor float64) (image.Image, error) {
	if factor <= 0 {
		return nil, fmt.Errorf("scale factor must be positive, got %g", factor)
	}
	if factor == 1 {
		return img, nil
	}

	b := img.Bounds()
	w := max(1, int(math.Round(float64(b.Dx())*factor)))
	h := max(1, int(math.Round(float64(b.Dy())*factor)))
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst, nil
}

// SaveImage writes img to filename, choosing JPEG for .jpg/.jpeg and PNG
// otherwise. Missing directories are created.
func SaveImage(img image.Image, filename string) error {
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating output directory: %w", err)
		}
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("error creating image file: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		err = png.Encode(file, img)
	}
	if err != nil {
		return fmt.Errorf("error encoding %s: %w", filename, err)
	}
	return nil
}
