package raycaster

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"volumecaster/internal/models"
)

// Frame is a rendered image with the statistics of every pixel
type Frame struct {
	Width, Height int

	// Pixels holds Width*Height colors, row 0 at the bottom of the image plane
	Pixels []models.Color

	// PixelStats is indexed like Pixels
	PixelStats []PixelStats

	Stats RenderStats
}

// At returns the color of pixel (x, y)
func (f *Frame) At(x, y int) models.Color {
	return f.Pixels[y*f.Width+x]
}

// Render casts the rays of every pixel and averages each pixel's
// supersamples. The alpha of every pixel is 1.
//
// Rows are split into contiguous bands, one per core, as independent rays
// share only read-only state. Cancellation is checked between rows.
//
// Parameters:
//   - ctx: Cancels the render between rows
//   - cam: The camera producing the primary rays
//
// Returns:
//   - The rendered frame with per-pixel and aggregate statistics
//   - An error if the camera is invalid or the render was canceled
func (c *Caster) Render(ctx context.Context, cam Camera) (*Frame, error) {
	if cam.Width <= 0 || cam.Height <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", cam.Width, cam.Height)
	}
	start := time.Now()

	frame := &Frame{
		Width:      cam.Width,
		Height:     cam.Height,
		Pixels:     make([]models.Color, cam.Width*cam.Height),
		PixelStats: make([]PixelStats, cam.Width*cam.Height),
	}
	s := cam.screen()

	numCores := c.params.NumCores
	if numCores <= 0 {
		numCores = runtime.NumCPU()
	}
	rowsPerCore := (cam.Height + numCores - 1) / numCores

	var wg sync.WaitGroup
	var hits, rays int64
	var mu sync.Mutex

	for core := 0; core < numCores; core++ {
		startRow := core * rowsPerCore
		endRow := min(startRow+rowsPerCore, cam.Height)
		if startRow >= endRow {
			break
		}

		wg.Add(1)
		go func(startRow, endRow int) {
			defer wg.Done()

			var localHits, localRays int64
			buf := make([]PrimaryRay, 0, s.factor*s.factor)
			for y := startRow; y < endRow; y++ {
				if ctx.Err() != nil {
					return
				}
				for x := 0; x < cam.Width; x++ {
					buf = s.rays(buf[:0], x, y)
					var sum models.Color
					var px PixelStats
					for _, pr := range buf {
						r, st := c.CastRay(pr.Origin, pr.Direction)
						sum = sum.Add(r.Color())
						px.Retained += st.Retained
						px.Skipped += len(st.Skipped)
						px.Nodes += len(st.Nodes)
						px.Terminated = px.Terminated || r.Terminated()
						if st.Hit {
							localHits++
						}
						localRays++
					}
					color := sum.Scale(1 / float64(len(buf)))
					color.A = 1

					idx := y*cam.Width + x
					frame.Pixels[idx] = color
					frame.PixelStats[idx] = px
				}
			}

			mu.Lock()
			hits += localHits
			rays += localRays
			mu.Unlock()
		}(startRow, endRow)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("render canceled: %w", err)
	}

	frame.Stats = Summarize(frame.PixelStats)
	frame.Stats.Rays = int(rays)
	frame.Stats.HitRays = int(hits)
	frame.Stats.Duration = time.Since(start)
	return frame, nil
}

// CastPixel casts the rays of a single pixel for inspection, returning one
// visualizable ray per supersample.
func (c *Caster) CastPixel(cam Camera, x, y int) []VisualRay {
	rays := cam.PixelRays(x, y)
	out := make([]VisualRay, len(rays))
	for i, pr := range rays {
		out[i] = c.CastVisualizableRay(pr.Origin, pr.Direction)
	}
	return out
}
