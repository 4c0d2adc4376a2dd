package node

import "github.com/janelia-flyem/tilegraph/tg"

// TileSource is a leaf node backed by a decoder.
type TileSource interface {
	Node
	Open(path string) error
	Close()
	Path() string
	IsOpen() bool
}

// Combiner is a multi-input node that merges its inputs' tiles.
type Combiner interface {
	Node

	// InputBounds returns the cached R0 extent of input i.
	InputBounds(i int) tg.IRect
}

// BandSelector picks and orders output bands.
type BandSelector interface {
	Node
	Bands() []int
	SetBands(bands []int)
}

// Duplicator is implemented by nodes that copy themselves more cheaply than a state
// round trip, e.g., by sharing immutable pixel buffers.  The copy is not part of any
// graph.
type Duplicator interface {
	Duplicate() (Node, error)
}

func AsTileSource(n Node) (TileSource, bool) {
	if n == nil || n.Kind() != KindSource {
		return nil, false
	}
	s, ok := n.(TileSource)
	return s, ok
}

func AsCombiner(n Node) (Combiner, bool) {
	if n == nil || n.Kind() != KindCombiner {
		return nil, false
	}
	c, ok := n.(Combiner)
	return c, ok
}

func AsBandSelector(n Node) (BandSelector, bool) {
	if n == nil {
		return nil, false
	}
	s, ok := n.(BandSelector)
	return s, ok
}
