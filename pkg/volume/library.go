package volume

import (
	"fmt"
	"path/filepath"
	"sync"
)

// Library loads datasets from a directory and keeps every loaded grid for
// the lifetime of the process, so switching back to a dataset is free.
type Library struct {
	dir string

	mu     sync.Mutex
	grids  map[string]*Grid
	active string
}

// NewLibrary creates a library reading dumps from dir
func NewLibrary(dir string) *Library {
	return &Library{dir: dir, grids: make(map[string]*Grid)}
}

// Add registers an already loaded grid under name
func (l *Library) Add(name string, g *Grid) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.grids[name] = g
}

// Loaded reports whether the named dataset is already in memory
func (l *Library) Loaded(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.grids[name]
	return ok
}

// Load returns the grid for a preset, reading it from disk on first use.
// The returned grid carries the dataset's recommended rotation.
func (l *Library) Load(name string, progress ProgressFunc) (*Grid, error) {
	l.mu.Lock()
	if g, ok := l.grids[name]; ok {
		l.mu.Unlock()
		return g, nil
	}
	l.mu.Unlock()

	ds, err := LookupDataset(name)
	if err != nil {
		return nil, err
	}

	g, err := LoadRaw(l.resolve(ds.File), ds.SizeX, ds.SizeY, ds.SizeZ, progress)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset %s: %w", name, err)
	}
	t := IdentityTransform()
	t.Rotation = ds.Rotation
	g = g.WithTransform(t)

	l.mu.Lock()
	defer l.mu.Unlock()
	// Another caller may have finished first; keep the first grid.
	if existing, ok := l.grids[name]; ok {
		return existing, nil
	}
	l.grids[name] = g
	return g, nil
}

// Select makes name the active dataset, loading it if needed
func (l *Library) Select(name string, progress ProgressFunc) (*Grid, error) {
	g, err := l.Load(name, progress)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.active = name
	l.mu.Unlock()
	return g, nil
}

// Active returns the selected grid and its name, or nil if none is selected
func (l *Library) Active() (*Grid, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == "" {
		return nil, ""
	}
	return l.grids[l.active], l.active
}

// resolve finds the dump, falling back to .zst and .gz variants
func (l *Library) resolve(file string) string {
	base := filepath.Join(l.dir, file)
	for _, ext := range []string{"", ".zst", ".gz"} {
		if fileExists(base + ext) {
			return base + ext
		}
	}
	return base
}
