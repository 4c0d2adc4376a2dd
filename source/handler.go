// Package source implements tile sources: the leaves of a processing graph that decode
// pixels from a backing store, plus the serializing wrapper that lets several graph
// clones share one decoder.
package source

import (
	"fmt"
	"math"
	"sync"

	"github.com/janelia-flyem/tilegraph/node"
	"github.com/janelia-flyem/tilegraph/tg"
)

// TileSource is a leaf node backed by a decoder.
type TileSource = node.TileSource

// Handler holds the image description shared by every decoding source.  Concrete
// sources embed it and supply their pixels through a raster.
type Handler struct {
	node.Base

	path   string
	open   bool
	rect   tg.IRect
	bands  int
	scalar tg.ScalarType
	nulls  []float64
	mins   []float64
	maxs   []float64
	geom   *tg.AffineGeometry

	// decimations optionally replaces the power of two pyramid with discrete factors.
	decimations []float64

	tile *tg.Tile
}

func (h *Handler) Kind() node.Kind { return node.KindSource }
func (h *Handler) MaxInputs() int  { return 0 }
func (h *Handler) Initialize()     {}
func (h *Handler) Path() string    { return h.path }
func (h *Handler) IsOpen() bool    { return h.open }

// setInfo describes the R0 image and resets per-band values to the type defaults.
func (h *Handler) setInfo(rect tg.IRect, bands int, scalar tg.ScalarType) {
	h.rect = rect
	h.bands = bands
	h.scalar = scalar
	h.nulls = make([]float64, bands)
	h.mins = make([]float64, bands)
	h.maxs = make([]float64, bands)
	for b := 0; b < bands; b++ {
		h.nulls[b] = scalar.DefaultNull()
		h.mins[b] = scalar.DefaultMin()
		h.maxs[b] = scalar.DefaultMax()
	}
	h.tile = nil
}

func (h *Handler) reset() {
	h.open = false
	h.path = ""
	h.rect = tg.UndefinedIRect()
	h.bands = 0
	h.scalar = tg.UnknownScalar
	h.nulls, h.mins, h.maxs = nil, nil, nil
	h.geom = nil
	h.decimations = nil
	h.tile = nil
}

// SetDecimations installs a discrete decimation table: level i has scale factor
// factors[i] relative to R0.  Levels past the table fall back to power of two scaling.
func (h *Handler) SetDecimations(factors []float64) error {
	for i, f := range factors {
		if f <= 0 || f > 1 || math.IsNaN(f) {
			return fmt.Errorf("bad decimation factor %g for level %d", f, i)
		}
	}
	h.decimations = append([]float64(nil), factors...)
	return nil
}

func (h *Handler) Decimation(level int) float64 {
	if level >= 0 && level < len(h.decimations) {
		return h.decimations[level]
	}
	return tg.LevelDecimation(level)
}

func (h *Handler) NumLevels() int {
	if len(h.decimations) > 0 {
		return len(h.decimations)
	}
	return 1
}

func (h *Handler) Bounds(level int) tg.IRect {
	if !h.open {
		return tg.UndefinedIRect()
	}
	return h.rect.Scale(h.Decimation(level))
}

func (h *Handler) NumBands() int             { return h.bands }
func (h *Handler) ScalarType() tg.ScalarType { return h.scalar }

func (h *Handler) NullPixel(band int) float64 {
	if band < 0 || band >= h.bands {
		return h.scalar.DefaultNull()
	}
	return h.nulls[band]
}

func (h *Handler) MinPixel(band int) float64 {
	if band < 0 || band >= h.bands {
		return h.scalar.DefaultMin()
	}
	return h.mins[band]
}

func (h *Handler) MaxPixel(band int) float64 {
	if band < 0 || band >= h.bands {
		return h.scalar.DefaultMax()
	}
	return h.maxs[band]
}

// SetNullPixel overrides the null value of a band.
func (h *Handler) SetNullPixel(band int, v float64) {
	if band >= 0 && band < h.bands {
		h.nulls[band] = v
		h.tile = nil
	}
}

// SetMinMax overrides the valid range of a band.
func (h *Handler) SetMinMax(band int, lo, hi float64) {
	if band >= 0 && band < h.bands {
		h.mins[band], h.maxs[band] = lo, hi
		h.tile = nil
	}
}

func (h *Handler) Geometry() tg.ImageGeometry {
	if h.geom == nil {
		return nil
	}
	return h.geom
}

// SetGeometry attaches a ground geometry to the R0 image.
func (h *Handler) SetGeometry(g *tg.AffineGeometry) {
	h.geom = g
}

// newTile returns an empty tile with the source's characteristics.
func (h *Handler) newTile(rect tg.IRect) *tg.Tile {
	t := tg.NewTile(rect, h.bands, h.scalar)
	for b := 0; b < h.bands; b++ {
		t.SetNullPixel(b, h.nulls[b])
		t.SetMinPixel(b, h.mins[b])
		t.SetMaxPixel(b, h.maxs[b])
	}
	return t
}

// scratch returns the reusable request tile moved to rect and blanked.
func (h *Handler) scratch(rect tg.IRect) *tg.Tile {
	if h.tile == nil {
		h.tile = h.newTile(rect)
	} else {
		h.tile.SetRect(rect)
	}
	h.tile.MakeBlank()
	return h.tile
}

// serve runs the request protocol common to all sources.  Requests off the image get
// an empty tile; decode failures are logged and also give an empty tile.
func (h *Handler) serve(self node.Node, rect tg.IRect, level int, data func(level int) (*tg.Tile, error)) *tg.Tile {
	if !h.open || rect.HasNaNs() || !h.Enabled() {
		return tg.NullTile(rect)
	}
	t := h.scratch(rect)
	if !rect.Intersects(h.Bounds(level)) {
		return t
	}
	src, err := data(level)
	if err != nil {
		tg.Errorf("%s %q: unable to decode %s at level %d: %v\n", self.TypeName(), h.path, rect, level, err)
		return t
	}
	t.CopyFrom(src)
	t.ValidateStatus()
	return t
}

func (h *Handler) saveState(k tg.KWL, prefix string) {
	k.Add(prefix, "filename", h.path)
	if len(h.decimations) > 0 {
		k.Add(prefix, "decimations", h.decimations)
	}
}

func (h *Handler) loadDecimations(k tg.KWL, prefix string) error {
	if _, found := k.Find(prefix, "decimations"); !found {
		return nil
	}
	factors, err := k.FindFloats(prefix, "decimations")
	if err != nil {
		return err
	}
	return h.SetDecimations(factors)
}

// raster holds a decoded R0 image and its reduced levels.  It is safe for concurrent
// use so duplicated sources can share one copy of the pixels.
type raster struct {
	mu     sync.Mutex
	load   func() (*tg.Tile, error)
	full   *tg.Tile
	err    error
	levels map[int]*tg.Tile
}

func newRaster(load func() (*tg.Tile, error)) *raster {
	return &raster{load: load, levels: make(map[int]*tg.Tile)}
}

// level returns the image at a resolution level, decoding on first use.  A failed
// decode is not retried.
func (r *raster) level(level int, decimation float64) (*tg.Tile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full == nil && r.err == nil {
		timedLog := tg.NewTimeLog()
		r.full, r.err = r.load()
		if r.err == nil {
			timedLog.Debugf("decoded %s", r.full)
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	if level == 0 || decimation == 1 {
		return r.full, nil
	}
	if t, found := r.levels[level]; found {
		return t, nil
	}
	t := reduce(r.full, decimation)
	r.levels[level] = t
	return t, nil
}

// reduce box-filters an image by a decimation factor, averaging only non-null pixels.
func reduce(full *tg.Tile, decimation float64) *tg.Tile {
	bands := full.NumBands()
	out := tg.NewTile(full.Rect().Scale(decimation), bands, full.ScalarType())
	for b := 0; b < bands; b++ {
		out.SetNullPixel(b, full.NullPixel(b))
		out.SetMinPixel(b, full.MinPixel(b))
		out.SetMaxPixel(b, full.MaxPixel(b))
	}
	out.MakeBlank()
	fMinX, fMinY, fMaxX, fMaxY := full.Rect().Bounds()
	minX, minY, maxX, maxY := out.Rect().Bounds()
	inv := 1 / decimation
	span := func(v, lo, hi int) (int, int) {
		v0 := int(math.Floor(float64(v) * inv))
		v1 := int(math.Floor(float64(v+1)*inv)) - 1
		if v1 < v0 {
			v1 = v0
		}
		if v0 < lo {
			v0 = lo
		}
		if v1 > hi {
			v1 = hi
		}
		return v0, v1
	}
	for y := minY; y <= maxY; y++ {
		y0, y1 := span(y, fMinY, fMaxY)
		for x := minX; x <= maxX; x++ {
			x0, x1 := span(x, fMinX, fMaxX)
			i := out.Index(x, y)
			for b := 0; b < bands; b++ {
				var sum float64
				var n int
				for sy := y0; sy <= y1; sy++ {
					for sx := x0; sx <= x1; sx++ {
						si := full.Index(sx, sy)
						if !full.IsNull(b, si) {
							sum += full.Value(b, si)
							n++
						}
					}
				}
				if n > 0 {
					out.SetValue(b, i, sum/float64(n))
				}
			}
		}
	}
	out.ValidateStatus()
	return out
}
