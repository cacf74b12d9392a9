package octree

import (
	"math"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/spatial/r3"

	"volumecaster/internal/models"
	"volumecaster/pkg/interpolation"
	"volumecaster/pkg/volume"
)

const (
	// OccupancyThreshold is the alpha a voxel needs to make its node occupied
	OccupancyThreshold = 0.05

	// DefaultSlicesPerYield splits each occupancy scan into this many pauses
	DefaultSlicesPerYield = 4
)

// Builder constructs a Tree as a resumable task. Pending nodes live on an
// explicit depth-first stack, and the occupancy scan of the node being
// examined can pause between Z slices, so Step can return control to the
// caller at any point and the finished tree is the same as Build's.
type Builder struct {
	grid     *volume.Grid
	table    models.ColorTable
	maxDepth int
	divisor  int

	tree *Tree

	stack []*Node
	scan  *scan
	steps int
	done  bool
}

// scan is the resumable occupancy test of a single node
type scan struct {
	node         *Node
	minX, maxX   int
	minY, maxY   int
	minZ, maxZ   int
	z            int
	interval     int
	lastYieldedZ int
}

// NewBuilder prepares the build of a tree over g with the given maximum
// depth. slicesPerYield controls how many pauses Step takes per node scan;
// values below 1 use DefaultSlicesPerYield.
func NewBuilder(g *volume.Grid, table models.ColorTable, maxDepth, slicesPerYield int) *Builder {
	if maxDepth < 0 {
		maxDepth = 0
	}
	if slicesPerYield < 1 {
		slicesPerYield = DefaultSlicesPerYield
	}

	root := newNode(RootBounds(g), 0)

	b := &Builder{
		grid:     g,
		table:    table.Clone(),
		maxDepth: maxDepth,
		divisor:  slicesPerYield,
		tree:     &Tree{ID: uuid.New(), Root: root, MaxDepth: maxDepth},
	}

	// Nothing to subdivide: the root is an occupied leaf without a scan
	if maxDepth == 0 {
		root.Occupied = true
		b.tree.Occupied = append(b.tree.Occupied, root)
		b.done = true
		return b
	}

	b.stack = []*Node{root}
	return b
}

// ID returns the identifier the finished tree will carry
func (b *Builder) ID() uuid.UUID {
	return b.tree.ID
}

// Steps returns how many times Step has paused so far
func (b *Builder) Steps() int {
	return b.steps
}

// Done reports whether the tree is complete
func (b *Builder) Done() bool {
	return b.done
}

// Tree returns the finished tree, or nil while the build is in progress
func (b *Builder) Tree() *Tree {
	if !b.done {
		return nil
	}
	return b.tree
}

// Build runs the whole construction and returns the tree
func (b *Builder) Build() *Tree {
	for !b.Step() {
	}
	return b.tree
}

// Step advances the build to its next pause point and reports whether the
// tree is complete.
func (b *Builder) Step() bool {
	for !b.done {
		if b.scan == nil {
			if len(b.stack) == 0 {
				b.done = true
				break
			}
			n := b.stack[len(b.stack)-1]
			b.stack = b.stack[:len(b.stack)-1]
			b.scan = b.newScan(n)
		}

		occupied, finished := b.advance(b.scan)
		if !finished {
			b.steps++
			return false
		}
		b.place(b.scan.node, occupied)
		b.scan = nil
	}
	return true
}

// place files a scanned node as a leaf or subdivides it. Children are pushed
// in reverse so that child 0 is examined first.
func (b *Builder) place(n *Node, occupied bool) {
	if !occupied {
		b.tree.Skippable = append(b.tree.Skippable, n)
		return
	}
	n.Occupied = true
	if n.Depth >= b.maxDepth {
		b.tree.Occupied = append(b.tree.Occupied, n)
		return
	}
	n.subdivide()
	for i := len(n.Children) - 1; i >= 0; i-- {
		b.stack = append(b.stack, n.Children[i])
	}
}

// footprint returns the grid-index box covered by the world box w. For a
// rotated grid this encloses the node, so it may hold extra voxels.
func footprint(g *volume.Grid, w r3.Box) r3.Box {
	var out r3.Box
	for i := 0; i < 8; i++ {
		corner := w.Min
		if i&1 != 0 {
			corner.X = w.Max.X
		}
		if i&2 != 0 {
			corner.Y = w.Max.Y
		}
		if i&4 != 0 {
			corner.Z = w.Max.Z
		}
		p := g.WorldToGrid(corner)
		if i == 0 {
			out = r3.Box{Min: p, Max: p}
			continue
		}
		out.Min = r3.Vec{X: math.Min(out.Min.X, p.X), Y: math.Min(out.Min.Y, p.Y), Z: math.Min(out.Min.Z, p.Z)}
		out.Max = r3.Vec{X: math.Max(out.Max.X, p.X), Y: math.Max(out.Max.Y, p.Y), Z: math.Max(out.Max.Z, p.Z)}
	}
	return out
}

// voxelRange maps a grid-index interval to the voxel indices that may fall
// in it, widened by one voxel on each side against rounding. An interval
// outside the volume gives an empty range.
func voxelRange(from, to float64, size int) (int, int) {
	if to < -1 || from > float64(size) {
		return 0, -1
	}
	first := lo.Clamp(int(math.Floor(from))-1, 0, size-1)
	last := lo.Clamp(int(math.Ceil(to))+1, 0, size-1)
	return first, last
}

func (b *Builder) newScan(n *Node) *scan {
	g := b.grid
	f := footprint(g, n.Bounds)
	s := &scan{node: n}
	s.minX, s.maxX = voxelRange(f.Min.X, f.Max.X, g.SizeX)
	s.minY, s.maxY = voxelRange(f.Min.Y, f.Max.Y, g.SizeY)
	s.minZ, s.maxZ = voxelRange(f.Min.Z, f.Max.Z, g.SizeZ)
	if s.minX > s.maxX || s.minY > s.maxY {
		s.maxZ = s.minZ - 1
	}
	s.z = s.minZ
	s.interval = max(1, (s.maxZ-s.minZ+1)/b.divisor)
	s.lastYieldedZ = s.minZ - 1
	return s
}

// advance scans Z slices until the node is decided or a pause point is
// reached. A pause is taken before every interval-th slice.
func (b *Builder) advance(s *scan) (occupied, finished bool) {
	for ; s.z <= s.maxZ; s.z++ {
		if (s.z-s.minZ)%s.interval == 0 && s.lastYieldedZ != s.z {
			s.lastYieldedZ = s.z
			return false, false
		}
		for y := s.minY; y <= s.maxY; y++ {
			for x := s.minX; x <= s.maxX; x++ {
				if b.visible(s.node, x, y, s.z) {
					return true, true
				}
			}
		}
	}
	return false, true
}

// visible reports whether voxel (x, y, z) has its center inside n and is
// visible through the transfer function. Centers on a face count for both
// nodes sharing it.
func (b *Builder) visible(n *Node, x, y, z int) bool {
	g := b.grid
	if !n.Contains(g.GridToWorld(r3.Vec{X: float64(x), Y: float64(y), Z: float64(z)})) {
		return false
	}
	return interpolation.AlphaAt(g.Voxel(x, y, z), b.table) > OccupancyThreshold
}
