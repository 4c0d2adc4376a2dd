// Package node defines the processing graph: the node contract every source, filter
// and combiner satisfies, the graph arena that owns nodes and their ID-addressed edges,
// the type registry, and persistence of a graph as a keyword list.
package node

import (
	"fmt"

	"github.com/janelia-flyem/tilegraph/tg"
)

// Kind is the closed set of node categories.
type Kind uint8

const (
	KindSource Kind = iota
	KindFilter
	KindCombiner
)

func (k Kind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindFilter:
		return "filter"
	case KindCombiner:
		return "combiner"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Event is a topology or property change that invalidates node caches.
type Event uint8

const (
	EventConnect Event = iota
	EventDisconnect
	EventProperty
	EventRefresh
)

func (e Event) String() string {
	switch e {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventProperty:
		return "property"
	case EventRefresh:
		return "refresh"
	default:
		return fmt.Sprintf("event(%d)", uint8(e))
	}
}

// Node is a vertex of the processing graph.  GetTile never fails: absence of data is
// reported through the returned tile's status.  The returned tile may be a scratch
// buffer owned by the node and overwritten by the next request.
type Node interface {
	ID() tg.NodeID
	TypeName() string
	Kind() Kind

	Enabled() bool
	SetEnabled(on bool)

	GetTile(rect tg.IRect, level int) *tg.Tile

	// Bounds returns the node's extent at a resolution level.
	Bounds(level int) tg.IRect

	NumBands() int
	ScalarType() tg.ScalarType
	NullPixel(band int) float64
	MinPixel(band int) float64
	MaxPixel(band int) float64

	// NumLevels returns the number of native resolution levels.  Levels beyond it are
	// synthesized by power of two scaling.
	NumLevels() int

	// Decimation returns the scale factor of a level relative to R0, e.g., 0.25 for R2.
	Decimation(level int) float64

	Geometry() tg.ImageGeometry

	// MaxInputs returns the number of input slots, or -1 if unlimited.
	MaxInputs() int

	// Initialize is called after any change to the node or its upstream graph and must
	// drop every derived cache.
	Initialize()

	SaveState(k tg.KWL, prefix string) error
	LoadState(k tg.KWL, prefix string) error

	base() *Base
}

// Base holds the state shared by every node.  Embed it to satisfy Node.
type Base struct {
	id       tg.NodeID
	graph    *Graph
	disabled bool
}

func (b *Base) base() *Base { return b }

// ID returns the node ID, or tg.InvalidNodeID if the node was never added to a graph.
func (b *Base) ID() tg.NodeID {
	return b.id
}

// Graph returns the graph owning the node.
func (b *Base) Graph() *Graph {
	return b.graph
}

func (b *Base) Enabled() bool {
	return !b.disabled
}

// SetEnabled toggles the node and notifies downstream nodes.
func (b *Base) SetEnabled(on bool) {
	if b.disabled == !on {
		return
	}
	b.disabled = !on
	if b.graph != nil {
		b.graph.Notify(b.id, EventProperty)
	}
}

// Input returns the node connected to input slot i, or nil if the slot is empty.
func (b *Base) Input(i int) Node {
	if b.graph == nil {
		return nil
	}
	return b.graph.Input(b.id, i)
}

// NumInputs returns the number of input slots in use, including hollow ones.
func (b *Base) NumInputs() int {
	if b.graph == nil {
		return 0
	}
	return len(b.graph.inputs[b.id])
}

// Changed notifies everything downstream of n about an event, or simply reinitializes
// n if it is not part of a graph.
func Changed(n Node, ev Event) {
	b := n.base()
	if b.graph != nil && b.graph.nodes[b.id] == n {
		b.graph.Notify(b.id, ev)
		return
	}
	n.Initialize()
}

// Filter is embedded by single input nodes.  Every query passes through to input 0 and
// a disabled filter's GetTile returns its input's tile unmodified.
type Filter struct {
	Base
}

func (f *Filter) Kind() Kind     { return KindFilter }
func (f *Filter) MaxInputs() int { return 1 }
func (f *Filter) Initialize()    {}

func (f *Filter) GetTile(rect tg.IRect, level int) *tg.Tile {
	in := f.Input(0)
	if in == nil {
		return tg.NullTile(rect)
	}
	return in.GetTile(rect, level)
}

func (f *Filter) Bounds(level int) tg.IRect {
	if in := f.Input(0); in != nil {
		return in.Bounds(level)
	}
	return tg.UndefinedIRect()
}

func (f *Filter) NumBands() int {
	if in := f.Input(0); in != nil {
		return in.NumBands()
	}
	return 0
}

func (f *Filter) ScalarType() tg.ScalarType {
	if in := f.Input(0); in != nil {
		return in.ScalarType()
	}
	return tg.UnknownScalar
}

func (f *Filter) NullPixel(band int) float64 {
	if in := f.Input(0); in != nil {
		return in.NullPixel(band)
	}
	return 0
}

func (f *Filter) MinPixel(band int) float64 {
	if in := f.Input(0); in != nil {
		return in.MinPixel(band)
	}
	return 0
}

func (f *Filter) MaxPixel(band int) float64 {
	if in := f.Input(0); in != nil {
		return in.MaxPixel(band)
	}
	return 0
}

func (f *Filter) NumLevels() int {
	if in := f.Input(0); in != nil {
		return in.NumLevels()
	}
	return 0
}

func (f *Filter) Decimation(level int) float64 {
	if in := f.Input(0); in != nil {
		return in.Decimation(level)
	}
	return tg.LevelDecimation(level)
}

func (f *Filter) Geometry() tg.ImageGeometry {
	if in := f.Input(0); in != nil {
		return in.Geometry()
	}
	return nil
}

func (f *Filter) SaveState(k tg.KWL, prefix string) error { return nil }
func (f *Filter) LoadState(k tg.KWL, prefix string) error { return nil }
