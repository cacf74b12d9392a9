package raycaster

import (
	"bytes"
	"context"
	"log"
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"volumecaster/internal/models"
	"volumecaster/pkg/interpolation"
	"volumecaster/pkg/octree"
	"volumecaster/pkg/volume"
)

// redRamp maps density 0 to clear and 1 to opaque red
var redRamp = models.ColorTable{
	{Density: 0, Color: models.Clear},
	{Density: 1, Color: models.Red},
}

// denseOnly shows only densities near 1, so partial voxels at the edge of
// an empty region stay invisible
var denseOnly = models.ColorTable{
	{Density: 0, Color: models.Clear},
	{Density: 0.9, Color: models.Clear},
	{Density: 1, Color: models.White},
}

func defaultParams(table models.ColorTable) Params {
	return Params{
		Method:        models.Accumulate,
		Table:         table,
		SampleSpacing: 0.1,
		OpacityCutoff: 1,
		NumCores:      1,
	}
}

func uniformGrid(t *testing.T, density float64) *volume.Grid {
	t.Helper()
	g, err := volume.NewUniformGrid(2, 2, 2, density)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

// halfGrid is dense below the z midplane and empty above it
func halfGrid(t *testing.T, size int) *volume.Grid {
	t.Helper()
	data := make([]float64, size*size*size)
	for z := 0; z < size/2; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				data[z*size*size+y*size+x] = 1
			}
		}
	}
	g, err := volume.NewGrid(size, size, size, data)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

type fixedTree struct {
	tree *octree.Tree
}

func (f fixedTree) Tree() *octree.Tree {
	return f.tree
}

func buildTree(t *testing.T, g *volume.Grid, table models.ColorTable, depth int) *octree.Tree {
	t.Helper()
	m := octree.NewManager(octree.Options{})
	defer m.Close()
	tree, err := m.Build(g, table, depth)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return tree
}

// TestCastRayMiss verifies that a ray missing the grid shows the background
func TestCastRayMiss(t *testing.T) {
	c := New(uniformGrid(t, 0.5), nil, defaultParams(redRamp), nil)

	r, stats := c.CastRay(r3.Vec{Z: -2}, r3.Vec{X: 1})
	if stats.Hit {
		t.Error("Expected a miss")
	}
	if stats.Total() != 0 {
		t.Errorf("Expected no samples, got %d", stats.Total())
	}
	if !r.Finished() {
		t.Error("Expected missed ray to be finished")
	}
	if !r.PixelColor().ApproxEqual(models.Background, 1e-12) {
		t.Errorf("Expected background %v, got %v", models.Background, r.PixelColor())
	}
}

// TestCastRayUniform verifies accumulation through a uniform block
func TestCastRayUniform(t *testing.T) {
	c := New(uniformGrid(t, 0.5), nil, defaultParams(redRamp), nil)

	r, stats := c.CastRay(r3.Vec{Z: -2}, r3.Vec{Z: 1})
	if !stats.Hit {
		t.Fatal("Expected a hit")
	}
	if len(r.Samples()) != 10 || stats.Retained != 10 {
		t.Fatalf("Expected 10 samples, got %d (retained %d)", len(r.Samples()), stats.Retained)
	}

	// Every sample has alpha 0.5 at the reference spacing
	remaining := math.Pow(0.5, 10)
	want := models.Color{
		R: remaining*models.Background.R + 0.5*(1-remaining),
		G: remaining * models.Background.G,
		B: remaining * models.Background.B,
		A: 1 - remaining,
	}
	if !r.Color().ApproxEqual(want, 1e-9) {
		t.Errorf("Expected %v, got %v", want, r.Color())
	}

	first := r.Samples()[0].WorldPosition
	last := r.Samples()[9].WorldPosition
	if math.Abs(first.Z+0.5) > 1e-12 || math.Abs(last.Z-0.5) > 1e-12 {
		t.Errorf("Expected samples to span the grid faces, got %v to %v", first, last)
	}
}

// TestCastRayTermination verifies that reaching the cutoff stops sampling
func TestCastRayTermination(t *testing.T) {
	p := defaultParams(redRamp)
	p.OpacityCutoff = 0.7
	p.RayTermination = true
	c := New(uniformGrid(t, 0.5), nil, p, nil)

	r, stats := c.CastRay(r3.Vec{Z: -2}, r3.Vec{Z: 1})
	idx, ok := r.EarlyTerminationIndex()
	if !ok || idx != 1 {
		t.Fatalf("Expected termination at sample 1, got %d (%v)", idx, ok)
	}
	if stats.Retained != 2 {
		t.Errorf("Expected 2 retained samples, got %d", stats.Retained)
	}
	_, in, after := r.Distances()
	if math.Abs(in-0.2) > 1e-12 || after != 0 {
		t.Errorf("Expected truncated distances 0.2/0, got %v/%v", in, after)
	}
	if math.Abs(r.Color().A-0.5) > 1e-12 {
		t.Errorf("Expected alpha 0.5, got %v", r.Color().A)
	}
}

// TestCastRayWithoutTermination verifies that the cutoff only freezes the color
func TestCastRayWithoutTermination(t *testing.T) {
	p := defaultParams(redRamp)
	p.OpacityCutoff = 0.7
	c := New(uniformGrid(t, 0.5), nil, p, nil)

	r, stats := c.CastRay(r3.Vec{Z: -2}, r3.Vec{Z: 1})
	if stats.Retained != 10 {
		t.Errorf("Expected all 10 samples, got %d", stats.Retained)
	}
	if !r.Terminated() {
		t.Error("Expected termination to be requested")
	}
	if math.Abs(r.Color().A-0.5) > 1e-12 {
		t.Errorf("Expected alpha 0.5, got %v", r.Color().A)
	}
}

// TestZeroCutoffDefaultsToOpaque verifies that an unset cutoff does not end rays at once
func TestZeroCutoffDefaultsToOpaque(t *testing.T) {
	p := defaultParams(redRamp)
	p.OpacityCutoff = 0
	p.RayTermination = true
	c := New(uniformGrid(t, 0.5), nil, p, nil)
	if got := c.Params().OpacityCutoff; got != 1 {
		t.Errorf("Expected cutoff 1, got %v", got)
	}

	r, stats := c.CastRay(r3.Vec{Z: -2}, r3.Vec{Z: 1})
	if stats.Retained != 10 {
		t.Errorf("Expected all 10 samples, got %d", stats.Retained)
	}
	want, _ := New(uniformGrid(t, 0.5), nil, defaultParams(redRamp), nil).CastRay(r3.Vec{Z: -2}, r3.Vec{Z: 1})
	if !r.Color().ApproxEqual(want.Color(), 1e-12) {
		t.Errorf("Expected %v, got %v", want.Color(), r.Color())
	}
}

// TestCastRayFirst verifies that First locks onto the matching density
func TestCastRayFirst(t *testing.T) {
	// density rises linearly from 0 at z=-0.5 to 1 at z=0.5
	g, err := volume.NewGrid(2, 2, 2, []float64{0, 0, 0, 0, 1, 1, 1, 1})
	if err != nil {
		t.Fatal(err)
	}
	p := defaultParams(redRamp)
	p.Method = models.First
	p.MatchingDensity = 0.55
	p.RayTermination = true
	c := New(g, nil, p, nil)

	r, stats := c.CastRay(r3.Vec{Z: -2}, r3.Vec{Z: 1})
	idx, ok := r.EarlyTerminationIndex()
	if !ok || idx != 6 {
		t.Fatalf("Expected termination at sample 6, got %d (%v)", idx, ok)
	}
	if stats.Retained != 7 {
		t.Errorf("Expected 7 retained samples, got %d", stats.Retained)
	}
	want := interpolation.ColorAt(0.55, redRamp)
	if got := r.Samples()[6].Composited; !got.ApproxEqual(want, 1e-12) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

// TestCastRayAverageIgnoresTree verifies that Average never skips samples
func TestCastRayAverageIgnoresTree(t *testing.T) {
	g := halfGrid(t, 16)
	tree := buildTree(t, g, denseOnly, 2)

	p := defaultParams(denseOnly)
	p.Method = models.Average
	p.EmptySpaceSkip = true
	c := New(g, fixedTree{tree}, p, nil)

	r, stats := c.CastRay(r3.Vec{X: 0.1, Y: 0.1, Z: 2}, r3.Vec{Z: -1})
	if len(stats.Skipped) != 0 || r.SkippedCount() != 0 {
		t.Errorf("Expected no skipped samples, got %d", len(stats.Skipped))
	}
	if len(stats.Nodes) != 0 {
		t.Errorf("Expected no nodes visited, got %d", len(stats.Nodes))
	}
}

// TestEmptySpaceSkipping verifies that skipping changes the work but not the image
func TestEmptySpaceSkipping(t *testing.T) {
	g := halfGrid(t, 16)
	tree := buildTree(t, g, denseOnly, 3)

	p := defaultParams(denseOnly)
	p.SampleSpacing = 0.02
	p.OpacityCutoff = 0.95
	plain := New(g, fixedTree{tree}, p, nil)
	p.EmptySpaceSkip = true
	skipping := New(g, fixedTree{tree}, p, nil)

	dirs := []r3.Vec{
		{Z: -1},
		r3.Unit(r3.Vec{X: 0.2, Y: -0.1, Z: -1}),
		r3.Unit(r3.Vec{X: -0.3, Y: 0.3, Z: -1}),
	}
	skipped := 0
	for _, d := range dirs {
		for _, x := range []float64{-0.4, -0.13, 0, 0.21, 0.37} {
			for _, y := range []float64{-0.33, 0.05, 0.4} {
				origin := r3.Sub(r3.Vec{X: x, Y: y}, r3.Scale(2, d))
				want, ps := plain.CastRay(origin, d)
				got, ss := skipping.CastRay(origin, d)
				if !got.Color().ApproxEqual(want.Color(), 1e-12) {
					t.Errorf("Ray from %v: expected %v, got %v", origin, want.Color(), got.Color())
				}
				if ss.Total() != ps.Total() {
					t.Errorf("Ray from %v: expected %d samples, got %d", origin, ps.Total(), ss.Total())
				}
				if got.SkippedCount() != len(ss.Skipped) {
					t.Errorf("Ray from %v: ray counted %d skips, stats %d", origin, got.SkippedCount(), len(ss.Skipped))
				}
				skipped += len(ss.Skipped)
			}
		}
	}
	if skipped == 0 {
		t.Error("Expected some samples to be skipped")
	}
}

// TestEmptySpaceSkippingScaledGrid verifies that a one-voxel layer of a
// stretched grid survives skipping
func TestEmptySpaceSkippingScaledGrid(t *testing.T) {
	const size = 16
	data := make([]float64, size*size*size)
	for z := 0; z < size; z++ {
		for x := 0; x < size; x++ {
			data[z*size*size+5*size+x] = 1
		}
	}
	g, err := volume.NewGrid(size, size, size, data)
	if err != nil {
		t.Fatal(err)
	}
	g = g.WithTransform(volume.Transform{Scale: r3.Vec{X: 4, Y: 1, Z: 1}})
	tree := buildTree(t, g, redRamp, 4)

	p := defaultParams(redRamp)
	p.SampleSpacing = 0.02
	plain := New(g, fixedTree{tree}, p, nil)
	p.EmptySpaceSkip = true
	skipping := New(g, fixedTree{tree}, p, nil)

	skipped := 0
	for _, x := range []float64{-1.3, 0.3, 1.7} {
		for _, z := range []float64{-0.2, 0.05, 0.35} {
			origin := r3.Vec{X: x, Y: -2, Z: z}
			dir := r3.Vec{Y: 1}
			want, ps := plain.CastRay(origin, dir)
			got, ss := skipping.CastRay(origin, dir)
			if want.Color().A == 0 {
				t.Fatalf("Ray from %v: expected the layer to be visible without skipping", origin)
			}
			if !got.Color().ApproxEqual(want.Color(), 1e-12) {
				t.Errorf("Ray from %v: expected %v, got %v", origin, want.Color(), got.Color())
			}
			if ss.Retained == 0 || ss.Total() != ps.Total() {
				t.Errorf("Ray from %v: expected %d samples with some retained, got %d retained of %d",
					origin, ps.Total(), ss.Retained, ss.Total())
			}
			skipped += len(ss.Skipped)
		}
	}
	if skipped == 0 {
		t.Error("Expected the empty space around the layer to be skipped")
	}
}

// TestSkippedSampleMarkers verifies that each skipped run starts with a marker
func TestSkippedSampleMarkers(t *testing.T) {
	g := halfGrid(t, 16)
	tree := buildTree(t, g, denseOnly, 2)

	p := defaultParams(denseOnly)
	p.EmptySpaceSkip = true
	c := New(g, fixedTree{tree}, p, nil)

	_, stats := c.CastRay(r3.Vec{X: 0.1, Y: 0.1, Z: 2}, r3.Vec{Z: -1})
	if len(stats.Skipped) == 0 {
		t.Fatal("Expected skipped samples")
	}
	if !stats.Skipped[0].Marker {
		t.Error("Expected the first skipped sample to be a marker")
	}
	for _, s := range stats.Skipped {
		if s.WorldPosition.Z < -0.05 {
			t.Errorf("Expected only the empty upper half to be skipped, got %v", s.WorldPosition)
		}
	}
}

// TestLookupMissFallsBack verifies that positions outside the tree are sampled
func TestLookupMissFallsBack(t *testing.T) {
	g := uniformGrid(t, 0.5)

	// The children cover none of the grid
	root := &octree.Node{Bounds: r3.Box{Min: r3.Vec{X: -1, Y: -1, Z: -1}, Max: r3.Vec{X: 1, Y: 1, Z: 1}}, Occupied: true}
	var children [8]*octree.Node
	for i := range children {
		children[i] = &octree.Node{
			Bounds: r3.Box{Min: r3.Vec{X: 5, Y: 5, Z: 5}, Max: r3.Vec{X: 6, Y: 6, Z: 6}},
			Depth:  1,
		}
	}
	root.Children = &children
	tree := &octree.Tree{Root: root, MaxDepth: 1}

	var buf bytes.Buffer
	p := defaultParams(redRamp)
	p.EmptySpaceSkip = true
	c := New(g, fixedTree{tree}, p, log.New(&buf, "", 0))

	r, stats := c.CastRay(r3.Vec{Z: -2}, r3.Vec{Z: 1})
	if stats.Retained != 10 || len(stats.Skipped) != 0 {
		t.Errorf("Expected 10 direct samples, got %d retained and %d skipped", stats.Retained, len(stats.Skipped))
	}
	want, _ := New(g, nil, defaultParams(redRamp), nil).CastRay(r3.Vec{Z: -2}, r3.Vec{Z: 1})
	if !r.Color().ApproxEqual(want.Color(), 1e-12) {
		t.Errorf("Expected %v, got %v", want.Color(), r.Color())
	}
	if !strings.Contains(buf.String(), "octree lookup miss") {
		t.Errorf("Expected a lookup miss to be logged, got %q", buf.String())
	}
}

// TestCastVisualizableRay verifies the three drawable sections
func TestCastVisualizableRay(t *testing.T) {
	p := defaultParams(redRamp)
	p.RayRadius = 0.05
	c := New(uniformGrid(t, 0.5), nil, p, nil)

	v := c.CastVisualizableRay(r3.Vec{Z: -2}, r3.Vec{Z: 1})
	if v.Ray == nil || !v.Stats.Hit {
		t.Fatal("Expected a hit")
	}
	in := v.Sections[1]
	if math.Abs(in.Origin.Z+0.5) > 1e-12 || math.Abs(in.Length-1) > 1e-12 {
		t.Errorf("Expected inside section from z=-0.5 of length 1, got %v length %v", in.Origin, in.Length)
	}
	if math.Abs(v.Sections[0].Length-1.5) > 1e-12 {
		t.Errorf("Expected 1.5 before the grid, got %v", v.Sections[0].Length)
	}
}

// TestCameraCenterRay verifies the direction of a centered single pixel
func TestCameraCenterRay(t *testing.T) {
	cam := DefaultCamera()
	cam.Width, cam.Height = 1, 1

	rays := cam.PixelRays(0, 0)
	if len(rays) != 1 {
		t.Fatalf("Expected 1 ray, got %d", len(rays))
	}
	if d := r3.Sub(rays[0].Direction, r3.Vec{Z: 1}); r3.Norm(d) > 1e-12 {
		t.Errorf("Expected direction +Z, got %v", rays[0].Direction)
	}
	if d := r3.Sub(rays[0].Origin, r3.Vec{Z: -1}); r3.Norm(d) > 1e-12 {
		t.Errorf("Expected origin on the image plane, got %v", rays[0].Origin)
	}

	cam.Rotation = r3.Vec{Y: 90}
	rays = cam.PixelRays(0, 0)
	if d := r3.Sub(rays[0].Direction, r3.Vec{X: 1}); r3.Norm(d) > 1e-9 {
		t.Errorf("Expected rotated direction +X, got %v", rays[0].Direction)
	}
}

// TestCameraSupersampling verifies that supersamples are spread around the pixel center
func TestCameraSupersampling(t *testing.T) {
	cam := DefaultCamera()
	cam.Width, cam.Height = 1, 1
	cam.Supersampling = 2

	rays := cam.PixelRays(0, 0)
	if len(rays) != 4 {
		t.Fatalf("Expected 4 rays, got %d", len(rays))
	}
	var sum r3.Vec
	for _, r := range rays {
		if math.Abs(r3.Norm(r.Direction)-1) > 1e-12 {
			t.Errorf("Expected normalized direction, got %v", r.Direction)
		}
		sum = r3.Add(sum, r.Direction)
	}
	if math.Abs(sum.X) > 1e-12 || math.Abs(sum.Y) > 1e-12 {
		t.Errorf("Expected symmetric supersamples, got sum %v", sum)
	}
	if rays[0].Direction.X >= 0 || rays[0].Direction.Y >= 0 {
		t.Errorf("Expected first supersample in the lower left, got %v", rays[0].Direction)
	}
}

// TestRenderBackground verifies that a camera facing away renders the background
func TestRenderBackground(t *testing.T) {
	c := New(uniformGrid(t, 0.5), nil, defaultParams(redRamp), nil)
	cam := DefaultCamera()
	cam.Width, cam.Height = 6, 4
	cam.Rotation = r3.Vec{Y: 180}

	frame, err := c.Render(context.Background(), cam)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if len(frame.Pixels) != 24 {
		t.Fatalf("Expected 24 pixels, got %d", len(frame.Pixels))
	}
	for i, px := range frame.Pixels {
		if !px.ApproxEqual(models.Background, 1e-12) {
			t.Errorf("Pixel %d: expected background, got %v", i, px)
		}
	}
	if frame.Stats.Rays != 24 || frame.Stats.HitRays != 0 {
		t.Errorf("Expected 24 rays and no hits, got %d/%d", frame.Stats.Rays, frame.Stats.HitRays)
	}
}

// TestRenderParallel verifies that the core count does not change the image
func TestRenderParallel(t *testing.T) {
	g := halfGrid(t, 16)
	tree := buildTree(t, g, denseOnly, 3)

	p := defaultParams(denseOnly)
	p.SampleSpacing = 0.05
	p.OpacityCutoff = 0.95
	p.RayTermination = true
	p.EmptySpaceSkip = true

	cam := DefaultCamera()
	cam.Position = r3.Vec{X: 0.3, Y: 0.2, Z: 2}
	cam.Rotation = r3.Vec{Y: 180}
	cam.Width, cam.Height = 9, 7
	cam.Supersampling = 2

	p.NumCores = 1
	serial, err := New(g, fixedTree{tree}, p, nil).Render(context.Background(), cam)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	p.NumCores = 4
	parallel, err := New(g, fixedTree{tree}, p, nil).Render(context.Background(), cam)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	if serial.Stats.Rays != 9*7*4 {
		t.Errorf("Expected %d rays, got %d", 9*7*4, serial.Stats.Rays)
	}
	if serial.Stats.HitRays == 0 {
		t.Error("Expected some rays to hit the grid")
	}
	for i := range serial.Pixels {
		if serial.Pixels[i] != parallel.Pixels[i] {
			t.Errorf("Pixel %d: serial %v, parallel %v", i, serial.Pixels[i], parallel.Pixels[i])
		}
		if serial.Pixels[i].A != 1 {
			t.Errorf("Pixel %d: expected alpha 1, got %v", i, serial.Pixels[i].A)
		}
		if serial.PixelStats[i] != parallel.PixelStats[i] {
			t.Errorf("Pixel %d: serial stats %+v, parallel %+v", i, serial.PixelStats[i], parallel.PixelStats[i])
		}
	}
	if serial.Stats.Retained != parallel.Stats.Retained || serial.Stats.Skipped != parallel.Stats.Skipped {
		t.Errorf("Expected equal sample counts, got %v and %v", serial.Stats, parallel.Stats)
	}
}

// TestRenderCanceled verifies that a canceled context aborts the render
func TestRenderCanceled(t *testing.T) {
	c := New(uniformGrid(t, 0.5), nil, defaultParams(redRamp), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Render(ctx, DefaultCamera()); err == nil {
		t.Error("Expected an error for a canceled render")
	}
}

// TestRenderInvalidSize verifies that empty images are rejected
func TestRenderInvalidSize(t *testing.T) {
	c := New(uniformGrid(t, 0.5), nil, defaultParams(redRamp), nil)
	cam := DefaultCamera()
	cam.Width = 0

	if _, err := c.Render(context.Background(), cam); err == nil {
		t.Error("Expected an error for a zero-width image")
	}
}

// TestSummarize verifies the aggregate statistics
func TestSummarize(t *testing.T) {
	s := Summarize([]PixelStats{
		{Retained: 2, Skipped: 2, Terminated: true},
		{Retained: 4, Skipped: 0},
		{Retained: 6, Skipped: 6, Terminated: true},
	})
	if s.Retained != 12 || s.Skipped != 8 || s.Total() != 20 {
		t.Errorf("Expected 12 retained and 8 skipped, got %d and %d", s.Retained, s.Skipped)
	}
	if math.Abs(s.SkippedPercent-40) > 1e-12 {
		t.Errorf("Expected 40%% skipped, got %v", s.SkippedPercent)
	}
	if s.TerminatedPixels != 2 {
		t.Errorf("Expected 2 terminated pixels, got %d", s.TerminatedPixels)
	}
	if math.Abs(s.MeanSamples-4) > 1e-12 || math.Abs(s.StdDevSamples-2) > 1e-12 {
		t.Errorf("Expected 4±2 samples, got %v±%v", s.MeanSamples, s.StdDevSamples)
	}

	single := Summarize([]PixelStats{{Retained: 3}})
	if single.MeanSamples != 3 || single.StdDevSamples != 0 {
		t.Errorf("Expected 3±0 for one pixel, got %v±%v", single.MeanSamples, single.StdDevSamples)
	}
}
