package volume

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"gonum.org/v1/gonum/spatial/r3"
)

func vecNear(a, b r3.Vec, eps float64) bool {
	return math.Abs(a.X-b.X) <= eps && math.Abs(a.Y-b.Y) <= eps && math.Abs(a.Z-b.Z) <= eps
}

// rampBytes produces a dump where each byte equals its index modulo 256
func rampBytes(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i % 256)
	}
	return out
}

func TestNewGridValidation(t *testing.T) {
	if _, err := NewGrid(1, 4, 4, make([]float64, 16)); !errors.Is(err, ErrInvalidDimensions) {
		t.Errorf("Expected ErrInvalidDimensions, got %v", err)
	}
	if _, err := NewGrid(2, 2, 2, make([]float64, 7)); !errors.Is(err, ErrShortData) {
		t.Errorf("Expected ErrShortData, got %v", err)
	}
	g, err := NewGrid(2, 3, 4, make([]float64, 24))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if g.Index(1, 2, 3) != 3*6+2*2+1 {
		t.Errorf("Expected index %d, got %d", 3*6+2*2+1, g.Index(1, 2, 3))
	}
}

func TestWorldToGridCorners(t *testing.T) {
	g, _ := NewUniformGrid(11, 21, 5, 0)

	min := g.WorldToGrid(r3.Vec{X: -0.5, Y: -0.5, Z: -0.5})
	if !vecNear(min, r3.Vec{}, 1e-9) {
		t.Errorf("Expected min corner at grid origin, got %v", min)
	}
	max := g.WorldToGrid(r3.Vec{X: 0.5, Y: 0.5, Z: 0.5})
	if !vecNear(max, r3.Vec{X: 10, Y: 20, Z: 4}, 1e-9) {
		t.Errorf("Expected max corner at (10,20,4), got %v", max)
	}
	center := g.WorldToGrid(r3.Vec{})
	if !vecNear(center, r3.Vec{X: 5, Y: 10, Z: 2}, 1e-9) {
		t.Errorf("Expected center at (5,10,2), got %v", center)
	}
}

func TestTransformRoundTrip(t *testing.T) {
	g, _ := NewUniformGrid(8, 8, 8, 0)
	g = g.WithTransform(Transform{
		Position: r3.Vec{X: 1, Y: -2, Z: 3},
		Rotation: r3.Vec{X: 30, Y: 45, Z: 60},
		Scale:    r3.Vec{X: 2, Y: 1, Z: 0.5},
	})

	points := []r3.Vec{{X: 0, Y: 0, Z: 0}, {X: 7, Y: 7, Z: 7}, {X: 3.5, Y: 1.25, Z: 6}}
	for _, p := range points {
		back := g.WorldToGrid(g.GridToWorld(p))
		if !vecNear(back, p, 1e-9) {
			t.Errorf("Round trip of %v gave %v", p, back)
		}
	}
}

func TestRotationOrder(t *testing.T) {
	tr := IdentityTransform()
	tr.Rotation = r3.Vec{Z: 90}
	q := tr.Quaternion()
	got := q.Rotate(r3.Vec{X: 1})
	if !vecNear(got, r3.Vec{Y: 1}, 1e-9) {
		t.Errorf("Expected 90 degrees about Z to map X to Y, got %v", got)
	}

	// Z is applied before X: X axis -> Y (by Z) -> Z (by X)
	tr.Rotation = r3.Vec{X: 90, Z: 90}
	got = tr.Quaternion().Rotate(r3.Vec{X: 1})
	if !vecNear(got, r3.Vec{Z: 1}, 1e-9) {
		t.Errorf("Expected Z-then-X rotation to map X to Z, got %v", got)
	}
}

func TestWorldBoundsRotated(t *testing.T) {
	g, _ := NewUniformGrid(4, 4, 4, 0)
	tr := IdentityTransform()
	tr.Rotation = r3.Vec{Y: 45}
	g = g.WithTransform(tr)

	b := g.WorldBounds()
	half := math.Sqrt2 / 2
	if math.Abs(b.Max.X-half) > 1e-9 || math.Abs(b.Min.Z+half) > 1e-9 {
		t.Errorf("Expected rotated bounds +-%.4f on X/Z, got %v", half, b)
	}
	if math.Abs(b.Max.Y-0.5) > 1e-9 {
		t.Errorf("Expected Y extent 0.5, got %f", b.Max.Y)
	}
}

func TestIntersect(t *testing.T) {
	g, _ := NewUniformGrid(4, 4, 4, 0)

	hit := g.Intersect(r3.Vec{Z: -5}, r3.Vec{Z: 1})
	if !hit.Hit {
		t.Fatal("Expected ray along +Z to hit the grid")
	}
	if math.Abs(hit.DistanceBefore-4.5) > 1e-9 {
		t.Errorf("Expected distance before 4.5, got %f", hit.DistanceBefore)
	}
	if math.Abs(hit.DistanceIn-1) > 1e-9 {
		t.Errorf("Expected distance inside 1, got %f", hit.DistanceIn)
	}
	if !vecNear(hit.Entry, r3.Vec{Z: -0.5}, 1e-9) || !vecNear(hit.Exit, r3.Vec{Z: 0.5}, 1e-9) {
		t.Errorf("Unexpected entry/exit %v %v", hit.Entry, hit.Exit)
	}
	if !math.IsInf(hit.DistanceAfter, 1) {
		t.Errorf("Expected unbounded distance after, got %f", hit.DistanceAfter)
	}

	miss := g.Intersect(r3.Vec{X: 2, Z: -5}, r3.Vec{Z: 1})
	if miss.Hit || miss.DistanceIn != 0 {
		t.Errorf("Expected a miss, got %+v", miss)
	}

	behind := g.Intersect(r3.Vec{Z: 5}, r3.Vec{Z: 1})
	if behind.Hit {
		t.Error("Expected box behind the origin to be missed")
	}

	inside := g.Intersect(r3.Vec{}, r3.Vec{X: 1})
	if !inside.Hit || inside.DistanceBefore != 0 || math.Abs(inside.DistanceIn-0.5) > 1e-9 {
		t.Errorf("Expected ray from center to exit after 0.5, got %+v", inside)
	}
}

func TestIntersectRotatedDiagonal(t *testing.T) {
	g, _ := NewUniformGrid(4, 4, 4, 0)
	tr := IdentityTransform()
	tr.Rotation = r3.Vec{Y: 45}
	g = g.WithTransform(tr)

	hit := g.Intersect(r3.Vec{Z: -5}, r3.Vec{Z: 1})
	if !hit.Hit {
		t.Fatal("Expected a hit through the rotated box")
	}
	if math.Abs(hit.DistanceIn-math.Sqrt2) > 1e-9 {
		t.Errorf("Expected diagonal length %f, got %f", math.Sqrt2, hit.DistanceIn)
	}
}

func TestReadRaw(t *testing.T) {
	raw := rampBytes(4 * 3 * 2)
	var progressCalls []int
	g, err := ReadRaw(bytes.NewReader(raw), 4, 3, 2, func(slice, total int) {
		progressCalls = append(progressCalls, slice)
		if total != 2 {
			t.Errorf("Expected total 2, got %d", total)
		}
	})
	if err != nil {
		t.Fatalf("ReadRaw failed: %v", err)
	}
	if len(progressCalls) != 2 {
		t.Errorf("Expected 2 progress calls, got %d", len(progressCalls))
	}
	// x fastest, then y, then z
	if got := g.Voxel(1, 2, 1); math.Abs(got-float64(1+2*4+1*12)/255) > 1e-12 {
		t.Errorf("Unexpected voxel value %f", got)
	}

	_, err = ReadRaw(bytes.NewReader(raw[:10]), 4, 3, 2, nil)
	if !errors.Is(err, ErrShortData) {
		t.Errorf("Expected ErrShortData for a truncated dump, got %v", err)
	}
}

func TestLoadRawCompressed(t *testing.T) {
	dir := t.TempDir()
	raw := rampBytes(4 * 4 * 4)

	plain := filepath.Join(dir, "grid.raw")
	if err := os.WriteFile(plain, raw, 0644); err != nil {
		t.Fatal(err)
	}

	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	gw.Write(raw)
	gw.Close()
	gzPath := filepath.Join(dir, "grid.raw.gz")
	if err := os.WriteFile(gzPath, gzBuf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	zstPath := filepath.Join(dir, "grid.raw.zst")
	if err := os.WriteFile(zstPath, enc.EncodeAll(raw, nil), 0644); err != nil {
		t.Fatal(err)
	}
	enc.Close()

	for _, path := range []string{plain, gzPath, zstPath} {
		g, err := LoadRaw(path, 4, 4, 4, nil)
		if err != nil {
			t.Fatalf("LoadRaw(%s) failed: %v", filepath.Base(path), err)
		}
		for i, b := range raw {
			if g.Data[i] != float64(b)/255 {
				t.Fatalf("%s: voxel %d expected %f, got %f", filepath.Base(path), i, float64(b)/255, g.Data[i])
			}
		}
	}
}

func TestWriteRawRoundTrip(t *testing.T) {
	raw := rampBytes(3 * 3 * 3)
	g, err := ReadRaw(bytes.NewReader(raw), 3, 3, 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := WriteRaw(&out, g); err != nil {
		t.Fatalf("WriteRaw failed: %v", err)
	}
	if !bytes.Equal(out.Bytes(), raw) {
		t.Error("Expected WriteRaw to reproduce the original bytes")
	}
}

func TestLookupDataset(t *testing.T) {
	ds, err := LookupDataset("Bunny")
	if err != nil {
		t.Fatalf("Expected bunny preset, got %v", err)
	}
	if ds.SizeX != 512 || ds.SizeY != 512 || ds.SizeZ != 361 {
		t.Errorf("Unexpected bunny dimensions %dx%dx%d", ds.SizeX, ds.SizeY, ds.SizeZ)
	}
	if ds.Rotation != (r3.Vec{X: 90, Y: 180, Z: 180}) {
		t.Errorf("Unexpected bunny rotation %v", ds.Rotation)
	}
	if len(ds.Table) != 5 {
		t.Errorf("Expected 5 table entries, got %d", len(ds.Table))
	}

	// Returned tables are copies
	ds.Table[0].Density = 0.9
	again, _ := LookupDataset("bunny")
	if again.Table[0].Density != 0 {
		t.Error("Expected preset table to be unaffected by caller edits")
	}

	if _, err := LookupDataset("teapot"); !errors.Is(err, ErrUnknownDataset) {
		t.Errorf("Expected ErrUnknownDataset, got %v", err)
	}

	names := DatasetNames()
	if len(names) != 4 || names[0] != "bucky" {
		t.Errorf("Unexpected dataset names %v", names)
	}
}

func TestLibraryCachesGrids(t *testing.T) {
	dir := t.TempDir()
	raw := rampBytes(32 * 32 * 32)
	if err := os.WriteFile(filepath.Join(dir, "bucky32x32x32.raw"), raw, 0644); err != nil {
		t.Fatal(err)
	}

	lib := NewLibrary(dir)
	if g, _ := lib.Active(); g != nil {
		t.Error("Expected no active grid before selection")
	}

	first, err := lib.Select("bucky", nil)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	// Remove the file: the second load must come from the cache
	os.Remove(filepath.Join(dir, "bucky32x32x32.raw"))
	second, err := lib.Load("bucky", nil)
	if err != nil {
		t.Fatalf("Expected cached grid, got %v", err)
	}
	if first != second {
		t.Error("Expected the same grid instance from the cache")
	}

	active, name := lib.Active()
	if active != first || name != "bucky" {
		t.Errorf("Expected bucky to be active, got %q", name)
	}

	if _, err := lib.Load("engine", nil); err == nil {
		t.Error("Expected an error loading a missing dump")
	}
}
