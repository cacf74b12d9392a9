// Package octree builds an occupancy octree over a voxel grid so the ray
// caster can skip space the transfer function makes fully transparent.
package octree

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// Node is an axis-aligned cube of the octree. A node is either a leaf or has
// exactly 8 children that tile it without gaps.
type Node struct {
	// Bounds is the world-space cube of the node
	Bounds r3.Box

	// Depth is 0 at the root and grows by one per subdivision
	Depth int

	// Occupied is set when at least one sampled voxel in the node is visible.
	// Interior nodes are always occupied.
	Occupied bool

	// Children is nil for a leaf. Child i covers the upper half of X when
	// bit 0 of i is set, of Y for bit 1 and of Z for bit 2.
	Children *[8]*Node
}

func newNode(bounds r3.Box, depth int) *Node {
	return &Node{Bounds: bounds, Depth: depth}
}

// IsLeaf reports whether the node has no children
func (n *Node) IsLeaf() bool {
	return n.Children == nil
}

// Center returns the middle of the node's cube
func (n *Node) Center() r3.Vec {
	return r3.Scale(0.5, r3.Add(n.Bounds.Min, n.Bounds.Max))
}

// Size returns the edge lengths of the node's cube
func (n *Node) Size() r3.Vec {
	return n.Bounds.Size()
}

// Volume returns the volume of the node's cube
func (n *Node) Volume() float64 {
	s := n.Size()
	return s.X * s.Y * s.Z
}

// Contains reports whether p lies in the node, faces included
func (n *Node) Contains(p r3.Vec) bool {
	b := n.Bounds
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// octants splits the node's cube about its center
func (n *Node) octants() [8]r3.Box {
	c := n.Center()
	var out [8]r3.Box
	for i := range out {
		lo, hi := n.Bounds.Min, c
		if i&1 != 0 {
			lo.X, hi.X = c.X, n.Bounds.Max.X
		}
		if i&2 != 0 {
			lo.Y, hi.Y = c.Y, n.Bounds.Max.Y
		}
		if i&4 != 0 {
			lo.Z, hi.Z = c.Z, n.Bounds.Max.Z
		}
		out[i] = r3.Box{Min: lo, Max: hi}
	}
	return out
}

// subdivide creates the 8 children of n
func (n *Node) subdivide() {
	var children [8]*Node
	for i, b := range n.octants() {
		children[i] = newNode(b, n.Depth+1)
	}
	n.Children = &children
}
