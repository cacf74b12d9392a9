package octree

import (
	"context"
	"errors"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bep/debounce"
	"github.com/google/uuid"

	"volumecaster/internal/models"
	"volumecaster/pkg/volume"
)

var (
	// ErrBuildCanceled is returned by a build that was stopped or superseded
	ErrBuildCanceled = errors.New("octree build canceled")

	// ErrNoPrevious is returned by LoadPrevious when there is no backup tree
	ErrNoPrevious = errors.New("no previous octree to restore")

	// ErrBuildInProgress is returned by operations that need an idle manager
	ErrBuildInProgress = errors.New("octree build in progress")
)

// State is the lifecycle stage of the managed octree
type State int

const (
	Empty State = iota
	Building
	Clearing
	Built
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Building:
		return "building"
	case Clearing:
		return "clearing"
	case Built:
		return "built"
	default:
		return "unknown"
	}
}

// Options configures a Manager
type Options struct {
	// Incremental runs builds in the background, pausing between Z slices
	// of each occupancy scan. Otherwise builds run in the calling goroutine.
	Incremental bool

	// SlicesPerYield is passed to each Builder
	SlicesPerYield int

	// AutomaticBuild enables Schedule
	AutomaticBuild bool

	// QuickDelay and NormalDelay are the inactivity delays of Schedule
	QuickDelay  time.Duration
	NormalDelay time.Duration

	// Logger receives build diagnostics; nil disables them
	Logger *log.Logger
}

// DefaultOptions returns the manager defaults
func DefaultOptions() Options {
	return Options{
		SlicesPerYield: DefaultSlicesPerYield,
		AutomaticBuild: true,
		QuickDelay:     time.Second,
		NormalDelay:    3 * time.Second,
	}
}

// Build is the handle of one requested construction
type Build struct {
	// ID matches the ID of the tree the build produces
	ID uuid.UUID

	// Depth is the requested maximum depth
	Depth int

	cancel context.CancelFunc
	done   chan struct{}
	tree   *Tree
	err    error
}

// Done is closed when the build finishes, successfully or not
func (b *Build) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the build finishes and returns its tree
func (b *Build) Wait() (*Tree, error) {
	<-b.done
	return b.tree, b.err
}

// Manager owns the current octree of a grid. Readers call Tree at any time
// and see either the previous or the new tree, never a partial one. At most
// one build runs at a time; a new request cancels the one in flight.
type Manager struct {
	opts Options

	tree atomic.Pointer[Tree]

	mu      sync.Mutex
	backup  *Tree
	current *Build
	state   State

	// last is the most recently started build, which may still be winding
	// down after Stop
	last *Build

	quick  func(func())
	normal func(func())
}

// NewManager creates a manager with no tree
func NewManager(opts Options) *Manager {
	if opts.SlicesPerYield < 1 {
		opts.SlicesPerYield = DefaultSlicesPerYield
	}
	m := &Manager{opts: opts, state: Empty}
	m.quick = debounce.New(opts.QuickDelay)
	m.normal = debounce.New(opts.NormalDelay)
	return m
}

func (m *Manager) logf(format string, args ...interface{}) {
	if m.opts.Logger != nil {
		m.opts.Logger.Printf(format, args...)
	}
}

// Tree returns the current tree, or nil if none has been built
func (m *Manager) Tree() *Tree {
	return m.tree.Load()
}

// State returns the lifecycle stage
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns the statistics of the current tree
func (m *Manager) Stats() Stats {
	t := m.Tree()
	if t == nil {
		return Stats{}
	}
	return t.Stats()
}

// RequestUpdate starts building a new tree over g for the given table and
// depth, canceling any build in flight. In incremental mode it returns
// immediately; otherwise the returned build has already finished.
func (m *Manager) RequestUpdate(g *volume.Grid, table models.ColorTable, depth int) *Build {
	builder := NewBuilder(g, table, depth, m.opts.SlicesPerYield)
	ctx, cancel := context.WithCancel(context.Background())
	b := &Build{
		ID:     builder.ID(),
		Depth:  depth,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	prev := m.last
	if m.current != nil {
		m.current.cancel()
	}
	m.current = b
	m.last = b
	if cur := m.tree.Load(); depth == 0 && cur != nil && cur.MaxDepth > 0 {
		m.state = Clearing
	} else {
		m.state = Building
	}
	m.mu.Unlock()

	m.logf("octree build %s requested (depth %d)", b.ID, depth)

	run := func() {
		// Builds never overlap: wait for the superseded one to stop
		if prev != nil {
			<-prev.done
		}
		tree, err := m.run(ctx, builder)
		m.finish(b, tree, err)
	}
	if m.opts.Incremental {
		go run()
	} else {
		run()
	}
	return b
}

// Build requests a tree and waits for it
func (m *Manager) Build(g *volume.Grid, table models.ColorTable, depth int) (*Tree, error) {
	return m.RequestUpdate(g, table, depth).Wait()
}

// Reset replaces the tree with a single root leaf around g
func (m *Manager) Reset(g *volume.Grid) *Build {
	return m.RequestUpdate(g, nil, 0)
}

func (m *Manager) run(ctx context.Context, builder *Builder) (*Tree, error) {
	for !builder.Step() {
		if ctx.Err() != nil {
			return nil, ErrBuildCanceled
		}
		if m.opts.Incremental {
			runtime.Gosched()
		}
	}
	if ctx.Err() != nil {
		return nil, ErrBuildCanceled
	}
	return builder.Tree(), nil
}

// finish publishes a completed tree unless the build was superseded
func (m *Manager) finish(b *Build, tree *Tree, err error) {
	m.mu.Lock()
	if m.current != b {
		// Stopped or replaced after the last check
		tree, err = nil, ErrBuildCanceled
	} else {
		m.current = nil
		if err == nil {
			m.backup = m.tree.Load()
			m.tree.Store(tree)
		}
		m.state = m.idleState()
	}
	m.mu.Unlock()

	b.tree, b.err = tree, err
	b.cancel()
	close(b.done)

	if err != nil {
		m.logf("octree build %s canceled", b.ID)
		return
	}
	s := tree.Stats()
	m.logf("octree build %s finished: %d occupied, %d skippable, %d total (%.1f%% skippable)",
		b.ID, s.Occupied, s.Skippable, s.Total, s.SkippablePercent)
}

// idleState is the state with no build running; m.mu must be held
func (m *Manager) idleState() State {
	if m.tree.Load() == nil {
		return Empty
	}
	return Built
}

// Stop cancels the build in flight, keeping the current tree
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return
	}
	m.current.cancel()
	m.current = nil
	m.state = m.idleState()
}

// LoadPrevious swaps the current tree with the one it replaced
func (m *Manager) LoadPrevious() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		return ErrBuildInProgress
	}
	if m.backup == nil {
		return ErrNoPrevious
	}
	prev := m.backup
	m.backup = m.tree.Swap(prev)
	m.state = m.idleState()
	m.logf("octree %s restored", prev.ID)
	return nil
}

// Schedule requests an automatic rebuild once changes have settled. Quick
// requests (a depth change) wait QuickDelay, others (table or grid edits)
// NormalDelay. Only the last call within the delay is built.
func (m *Manager) Schedule(g *volume.Grid, table models.ColorTable, depth int, quick bool) {
	if !m.opts.AutomaticBuild {
		return
	}
	table = table.Clone()
	f := func() { m.RequestUpdate(g, table, depth) }
	if quick {
		m.quick(f)
	} else {
		m.normal(f)
	}
}

// Close stops any build in flight
func (m *Manager) Close() {
	m.Stop()
}
