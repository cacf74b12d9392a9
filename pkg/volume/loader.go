package volume

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// ProgressFunc is called after each Z slice is read
type ProgressFunc func(slice, total int)

// ReadRaw reads a headerless dump of unsigned 8-bit voxels, x fastest, then
// y, then z, and normalizes each byte by 255.
func ReadRaw(r io.Reader, sizeX, sizeY, sizeZ int, progress ProgressFunc) (*Grid, error) {
	if sizeX < 2 || sizeY < 2 || sizeZ < 2 {
		return nil, fmt.Errorf("%w: %dx%dx%d", ErrInvalidDimensions, sizeX, sizeY, sizeZ)
	}

	sliceLen := sizeX * sizeY
	data := make([]float64, sliceLen*sizeZ)
	buf := make([]byte, sliceLen)

	for z := 0; z < sizeZ; z++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("%w: slice %d of %d: %v", ErrShortData, z, sizeZ, err)
		}
		offset := z * sliceLen
		for i, b := range buf {
			data[offset+i] = float64(b) / 255
		}
		if progress != nil {
			progress(z+1, sizeZ)
		}
	}

	return NewGrid(sizeX, sizeY, sizeZ, data)
}

// LoadRaw opens a raw voxel dump from disk. Files ending in .gz or .zst are
// decompressed on the fly.
func LoadRaw(path string, sizeX, sizeY, sizeZ int, progress ProgressFunc) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open voxel data: %w", err)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	switch {
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(path, ".zst"):
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open zstd stream %s: %w", path, err)
		}
		defer dec.Close()
		r = dec
	}

	grid, err := ReadRaw(r, sizeX, sizeY, sizeZ, progress)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return grid, nil
}

// WriteRaw writes the grid back in the raw 8-bit format. Densities are
// clamped to [0,1] and rounded to the nearest byte.
func WriteRaw(w io.Writer, g *Grid) error {
	bw := bufio.NewWriter(w)
	for _, d := range g.Data {
		if d < 0 {
			d = 0
		}
		if d > 1 {
			d = 1
		}
		if err := bw.WriteByte(byte(d*255 + 0.5)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
