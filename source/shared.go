package source

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/janelia-flyem/tilegraph/node"
	"github.com/janelia-flyem/tilegraph/tg"
)

// ErrShared is returned when reopening a source through its shared wrapper.
var ErrShared = errors.New("shared source cannot be reopened through its wrapper")

type sharedRequest struct {
	rect  tg.IRect
	level int
	reply chan *tg.Tile
}

// Shared lets several graph clones use one decoder.  Tile requests from any goroutine
// are queued and served one at a time, in arrival order, by a single goroutine, so the
// wrapped source never sees overlapping calls.  Metadata queries go straight to the
// source, whose description does not change after it is opened.
//
// Tiles returned by a Shared are private copies and may be retained.
type Shared struct {
	node.Base

	src     TileSource
	reqs    chan sharedRequest
	done    chan struct{}
	stopped sync.Once
	served  uint64
}

// NewShared starts serving requests for src.  Close stops it.
func NewShared(src TileSource) *Shared {
	s := &Shared{
		src:  src,
		reqs: make(chan sharedRequest),
		done: make(chan struct{}),
	}
	go s.serve()
	return s
}

func (s *Shared) serve() {
	for {
		select {
		case req := <-s.reqs:
			t := s.src.GetTile(req.rect, req.level).Clone()
			atomic.AddUint64(&s.served, 1)
			req.reply <- t
		case <-s.done:
			return
		}
	}
}

// Source returns the wrapped source.
func (s *Shared) Source() TileSource {
	return s.src
}

// Served returns the number of requests decoded so far.
func (s *Shared) Served() uint64 {
	return atomic.LoadUint64(&s.served)
}

// GetTile queues the request and blocks until it has been decoded.
func (s *Shared) GetTile(rect tg.IRect, level int) *tg.Tile {
	if !s.Enabled() {
		return tg.NullTile(rect)
	}
	select {
	case <-s.done:
		return tg.NullTile(rect)
	default:
	}
	req := sharedRequest{rect: rect, level: level, reply: make(chan *tg.Tile, 1)}
	select {
	case s.reqs <- req:
	case <-s.done:
		return tg.NullTile(rect)
	}
	return <-req.reply
}

// Close stops the request queue.  The wrapped source stays open.
func (s *Shared) Close() {
	s.stopped.Do(func() { close(s.done) })
}

func (s *Shared) TypeName() string { return s.src.TypeName() }
func (s *Shared) Kind() node.Kind  { return node.KindSource }
func (s *Shared) MaxInputs() int   { return 0 }
func (s *Shared) Initialize()      {}

func (s *Shared) Open(path string) error { return ErrShared }
func (s *Shared) Path() string           { return s.src.Path() }
func (s *Shared) IsOpen() bool           { return s.src.IsOpen() }

func (s *Shared) Bounds(level int) tg.IRect    { return s.src.Bounds(level) }
func (s *Shared) NumBands() int                { return s.src.NumBands() }
func (s *Shared) ScalarType() tg.ScalarType    { return s.src.ScalarType() }
func (s *Shared) NullPixel(band int) float64   { return s.src.NullPixel(band) }
func (s *Shared) MinPixel(band int) float64    { return s.src.MinPixel(band) }
func (s *Shared) MaxPixel(band int) float64    { return s.src.MaxPixel(band) }
func (s *Shared) NumLevels() int               { return s.src.NumLevels() }
func (s *Shared) Decimation(level int) float64 { return s.src.Decimation(level) }
func (s *Shared) Geometry() tg.ImageGeometry   { return s.src.Geometry() }

// SaveState writes the wrapped source's state, so a saved graph loads with a private
// source in place of the wrapper.
func (s *Shared) SaveState(k tg.KWL, prefix string) error {
	return s.src.SaveState(k, prefix)
}

func (s *Shared) LoadState(k tg.KWL, prefix string) error {
	return ErrShared
}
