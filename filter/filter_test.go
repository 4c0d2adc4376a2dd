package filter

import (
	"errors"
	"testing"

	. "github.com/janelia-flyem/go/gocheck"
	"github.com/klauspost/compress/zstd"

	"github.com/janelia-flyem/tilegraph/node"
	"github.com/janelia-flyem/tilegraph/source"
	"github.com/janelia-flyem/tilegraph/tg"
)

// Hook up gocheck into the "go test" runner.
func Test(t *testing.T) { TestingT(t) }

type FilterSuite struct{}

var _ = Suite(&FilterSuite{})

// countingSource counts the requests that reach an in-memory image.
type countingSource struct {
	*source.Memory
	calls int
}

func (s *countingSource) GetTile(rect tg.IRect, level int) *tg.Tile {
	s.calls++
	return s.Memory.GetTile(rect, level)
}

// image returns a w x h tile whose bands hold value(b, x, y).
func image(w, h, bands int, scalar tg.ScalarType, value func(b, x, y int) float64) *tg.Tile {
	t := tg.NewBlankTile(tg.NewIRectWH(0, 0, w, h), bands, scalar)
	for b := 0; b < bands; b++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				t.SetValue(b, t.Index(x, y), value(b, x, y))
			}
		}
	}
	t.ValidateStatus()
	return t
}

// pipeline connects the nodes in order and returns the graph.
func pipeline(c *C, nodes ...node.Node) *node.Graph {
	g := node.NewGraph()
	var prev tg.NodeID
	for i, n := range nodes {
		id, err := g.Add(n)
		c.Assert(err, IsNil)
		if i > 0 {
			c.Assert(g.Connect(id, prev), IsNil)
		}
		prev = id
	}
	return g
}

func roundTrip(c *C, n node.Node) node.Node {
	reg := node.NewRegistry()
	c.Assert(RegisterTypes(reg), IsNil)
	k := tg.NewKWL()
	c.Assert(n.SaveState(k, "f."), IsNil)
	loaded, err := reg.New(n.TypeName())
	c.Assert(err, IsNil)
	c.Assert(loaded.LoadState(k, "f."), IsNil)
	return loaded
}

func (s *FilterSuite) TestBandSelector(c *C) {
	src := source.NewMemory(image(4, 4, 3, tg.Uint8, func(b, x, y int) float64 {
		return float64(10 * (b + 1))
	}))
	sel := NewBandSelector(2, 0)
	pipeline(c, src, sel)

	c.Assert(sel.NumBands(), Equals, 2)
	t := sel.GetTile(tg.NewIRectWH(0, 0, 4, 4), 0)
	c.Assert(t.NumBands(), Equals, 2)
	c.Assert(t.Value(0, 5), Equals, 30.0)
	c.Assert(t.Value(1, 5), Equals, 10.0)

	sel.ForceBands(4, false)
	c.Assert(sel.Bands(), DeepEquals, []int{2, 0, 0, 0})
	sel.ForceBands(3, true)
	c.Assert(sel.Bands(), DeepEquals, []int{0, 0, 2})

	// past the input's last band
	sel.SetBands([]int{7})
	t = sel.GetTile(tg.NewIRectWH(0, 0, 2, 2), 0)
	c.Assert(t.Value(0, 0), Equals, 30.0)

	loaded := roundTrip(c, sel).(*BandSelector)
	c.Assert(loaded.Bands(), DeepEquals, []int{7})

	sel.SetEnabled(false)
	c.Assert(sel.NumBands(), Equals, 3)
}

func (s *FilterSuite) TestBandSelectorNegativeBands(c *C) {
	src := source.NewMemory(image(4, 4, 3, tg.Uint8, func(b, x, y int) float64 {
		return float64(10 * (b + 1))
	}))
	sel := NewBandSelector(-1, 1)
	pipeline(c, src, sel)
	c.Assert(sel.Bands(), DeepEquals, []int{1})
	t := sel.GetTile(tg.NewIRectWH(0, 0, 4, 4), 0)
	c.Assert(t.NumBands(), Equals, 1)
	c.Assert(t.Value(0, 3), Equals, 20.0)

	sel.SetBands([]int{2, -3, 0})
	c.Assert(sel.Bands(), DeepEquals, []int{2, 0})
	t = sel.GetTile(tg.NewIRectWH(0, 0, 4, 4), 0)
	c.Assert(t.Value(0, 0), Equals, 30.0)
	c.Assert(t.Value(1, 0), Equals, 10.0)

	// nothing left selects every band
	sel.SetBands([]int{-1})
	c.Assert(sel.Bands(), HasLen, 0)
	c.Assert(sel.NumBands(), Equals, 3)
}

func (s *FilterSuite) TestHistogramStretch(c *C) {
	src := source.NewMemory(image(10, 10, 1, tg.Uint8, func(b, x, y int) float64 {
		return float64(1 + x + 10*y)
	}))
	remap := NewHistogramRemapper()
	pipeline(c, src, remap)

	h, err := ComputeHistogram(src, 0, 4)
	c.Assert(err, IsNil)
	c.Assert(h.Bands, HasLen, 1)
	c.Assert(h.Bands[0].Total(), Equals, 100.0)

	rect := tg.NewIRectWH(0, 0, 10, 10)
	in := src.GetTile(rect, 0).Clone()

	// no stretch mode: pass through
	remap.SetHistogram(h)
	c.Assert(remap.GetTile(rect, 0), Equals, src.GetTile(rect, 0))

	remap.SetStretchMode(StretchAutoMinMax)
	lo, hi, ok := remap.Clips(0)
	c.Assert(ok, Equals, true)
	c.Assert(lo, Equals, 1.0)
	c.Assert(hi, Equals, 100.0)
	t := remap.GetTile(rect, 0)
	c.Assert(t.Value(0, t.Index(0, 0)), Equals, 1.0)
	c.Assert(t.Value(0, t.Index(9, 9)), Equals, 255.0)
	c.Assert(t.Status(), Equals, tg.StatusFull)

	remap.SetStretchMode(StretchStd1)
	lo, hi, _ = remap.Clips(0)
	c.Assert(lo > 1 && hi < 100, Equals, true)
	t = remap.GetTile(rect, 0)
	for i := 0; i < t.NumPixels(); i++ {
		if in.Value(0, i) <= lo {
			c.Assert(t.Value(0, i), Equals, 1.0)
		}
		if in.Value(0, i) >= hi {
			c.Assert(t.Value(0, i), Equals, 255.0)
		}
	}

	loaded := roundTrip(c, remap).(*HistogramRemapper)
	c.Assert(loaded.StretchMode(), Equals, StretchStd1)
	llo, lhi, _ := loaded.Clips(0)
	c.Assert(llo, Equals, lo)
	c.Assert(lhi, Equals, hi)
}

func (s *FilterSuite) TestStretchModeNames(c *C) {
	for m := StretchNone; m <= StretchStd3; m++ {
		parsed, err := ParseStretchMode(m.String())
		c.Assert(err, IsNil)
		c.Assert(parsed, Equals, m)
	}
	_, err := ParseStretchMode("std9")
	c.Assert(err, NotNil)
}

func (s *FilterSuite) TestScalarRemapper(c *C) {
	img := image(2, 2, 1, tg.Uint16, func(b, x, y int) float64 {
		return []float64{0, 1, 65535, 65535}[x+2*y]
	})
	src := source.NewMemory(img)
	remap := NewScalarRemapper(tg.Uint8)
	pipeline(c, src, remap)

	c.Assert(remap.ScalarType(), Equals, tg.Uint8)
	c.Assert(remap.MaxPixel(0), Equals, 255.0)
	t := remap.GetTile(tg.NewIRectWH(0, 0, 2, 2), 0)
	c.Assert(t.ScalarType(), Equals, tg.Uint8)
	c.Assert(t.IsNull(0, 0), Equals, true)
	c.Assert(t.Value(0, 1), Equals, 1.0)
	c.Assert(t.Value(0, 2), Equals, 255.0)
	c.Assert(t.Status(), Equals, tg.StatusPartial)

	// same type: inactive
	remap.SetOutputType(tg.Uint16)
	c.Assert(remap.GetTile(tg.NewIRectWH(0, 0, 2, 2), 0).ScalarType(), Equals, tg.Uint16)

	loaded := roundTrip(c, remap).(*ScalarRemapper)
	c.Assert(loaded.OutputType(), Equals, tg.Uint16)
}

func (s *FilterSuite) TestConvolution(c *C) {
	src := source.NewMemory(image(6, 6, 1, tg.Uint8, func(b, x, y int) float64 { return 9 }))
	conv := NewConvolution(SmoothingKernel)
	pipeline(c, src, conv)

	t := conv.GetTile(tg.NewIRectWH(0, 0, 6, 6), 0)
	c.Assert(t.Status(), Equals, tg.StatusPartial)
	c.Assert(t.IsNull(0, t.Index(0, 0)), Equals, true)
	c.Assert(t.Value(0, t.Index(2, 3)), Equals, 9.0)

	t = conv.GetTile(tg.NewIRectWH(100, 100, 4, 4), 0)
	c.Assert(t.Status(), Equals, tg.StatusEmpty)

	conv.SetKernel(SharpenKernel)
	loaded := roundTrip(c, conv).(*Convolution)
	c.Assert(loaded.Kernel(), Equals, SharpenKernel)
}

func (s *FilterSuite) TestMemoryCache(c *C) {
	src := &countingSource{Memory: source.NewMemory(image(16, 16, 1, tg.Uint8, func(b, x, y int) float64 {
		return float64(1 + x + y)
	}))}
	cache := NewCache(DefaultCacheConfig())
	g := pipeline(c, src, cache)

	rect := tg.NewIRectWH(0, 0, 8, 8)
	a := cache.GetTile(rect, 0)
	b := cache.GetTile(rect, 0)
	c.Assert(src.calls, Equals, 1)
	c.Assert(a, Equals, b)
	st := cache.Stats()
	c.Assert(st.Hits, Equals, int64(1))
	c.Assert(st.Misses, Equals, int64(1))
	c.Assert(st.Entries, Equals, int64(1))
	c.Assert(st.Bytes > 0, Equals, true)

	cache.GetTile(rect, 1)
	c.Assert(src.calls, Equals, 2)

	// anything upstream changing empties the cache
	g.Notify(src.ID(), node.EventRefresh)
	c.Assert(cache.Stats().Entries, Equals, int64(0))
	cache.GetTile(rect, 0)
	c.Assert(src.calls, Equals, 3)
}

func (s *FilterSuite) TestMemoryCacheEviction(c *C) {
	src := &countingSource{Memory: source.NewMemory(image(64, 64, 1, tg.Uint8, func(b, x, y int) float64 {
		return 7
	}))}
	cache := NewCache(CacheConfig{Backend: MemoryBackend, MaxBytes: 1})
	pipeline(c, src, cache)

	cache.GetTile(tg.NewIRectWH(0, 0, 8, 8), 0)
	cache.GetTile(tg.NewIRectWH(8, 0, 8, 8), 0)
	c.Assert(cache.Stats().Entries, Equals, int64(1))
	cache.GetTile(tg.NewIRectWH(0, 0, 8, 8), 0)
	c.Assert(src.calls, Equals, 3)
}

func (s *FilterSuite) TestCompressedCache(c *C) {
	for _, compression := range []string{SnappyCompression, ZstdCompression, NoCompression} {
		src := &countingSource{Memory: source.NewMemory(image(16, 16, 2, tg.Int16, func(b, x, y int) float64 {
			return float64(100*b + x - y)
		}))}
		cache := NewCache(CacheConfig{Backend: CompressedBackend, Compression: compression, MaxBytes: 4 << 20})
		pipeline(c, src, cache)

		rect := tg.NewIRectWH(4, 4, 8, 8)
		want := cache.GetTile(rect, 0).Clone()
		got := cache.GetTile(rect, 0)
		c.Assert(src.calls, Equals, 1, Commentf("compression %s", compression))
		c.Assert(got.Rect().Equal(want.Rect()), Equals, true)
		c.Assert(got.NumBands(), Equals, 2)
		c.Assert(got.Data(), DeepEquals, want.Data())
		c.Assert(got.Status(), Equals, want.Status())

		loaded := roundTrip(c, cache).(*Cache)
		c.Assert(loaded.Config().Compression, Equals, compression)
		c.Assert(loaded.Config().Backend, Equals, CompressedBackend)
	}
}

func (s *FilterSuite) TestCompressedCacheWithoutEncoder(c *C) {
	saved := newZstdWriter
	newZstdWriter = func() (*zstd.Encoder, error) { return nil, errors.New("no encoder") }
	defer func() { newZstdWriter = saved }()

	src := &countingSource{Memory: source.NewMemory(image(16, 16, 1, tg.Uint8, func(b, x, y int) float64 {
		return float64(x * y)
	}))}
	cache := NewCache(CacheConfig{Backend: CompressedBackend, Compression: ZstdCompression, MaxBytes: 4 << 20})
	pipeline(c, src, cache)

	rect := tg.NewIRectWH(0, 0, 8, 8)
	want := cache.GetTile(rect, 0).Clone()
	got := cache.GetTile(rect, 0)
	c.Assert(src.calls, Equals, 1)
	c.Assert(got.Data(), DeepEquals, want.Data())
	c.Assert(cache.Stats().Hits, Equals, int64(1))
}

func (s *FilterSuite) TestResamplerIdentity(c *C) {
	src := source.NewMemory(image(4, 4, 1, tg.Uint8, func(b, x, y int) float64 { return 5 }))
	r := NewResampler()
	pipeline(c, src, r)

	c.Assert(r.IsIdentity(), Equals, true)
	rect := tg.NewIRectWH(0, 0, 4, 4)
	c.Assert(r.GetTile(rect, 0), Equals, src.GetTile(rect, 0))
	c.Assert(r.Bounds(0).Equal(src.Bounds(0)), Equals, true)
}

func (s *FilterSuite) TestResamplerScale(c *C) {
	src := source.NewMemory(image(4, 4, 1, tg.Uint8, func(b, x, y int) float64 {
		return float64(10 * (x + 1))
	}))
	src.SetGeometry(tg.NewNorthUpGeometry(100, 200, 1, 1, tg.UnitsMeters))
	r := NewResampler()
	pipeline(c, src, r)

	c.Assert(r.SetTransform(2, 2, 0, 0), IsNil)
	b := r.Bounds(0)
	minX, minY, maxX, maxY := b.Bounds()
	c.Assert([]int{minX, minY, maxX, maxY}, DeepEquals, []int{-1, -1, 6, 6})

	t := r.GetTile(tg.NewIRectWH(0, 0, 8, 1), 0)
	c.Assert(t.Value(0, t.Index(4, 0)), Equals, 30.0)
	c.Assert(t.Value(0, t.Index(6, 0)), Equals, 40.0)
	c.Assert(t.IsNull(0, t.Index(7, 0)), Equals, true)

	r.SetInterpolation(Bilinear)
	t = r.GetTile(tg.NewIRectWH(0, 0, 4, 1), 0)
	c.Assert(t.Value(0, t.Index(1, 0)), Equals, 15.0)
	c.Assert(t.Value(0, t.Index(2, 0)), Equals, 20.0)

	sp := r.Geometry().PixelSpacing()
	c.Assert(sp.X, Equals, 0.5)
	gp := r.Geometry().PixelToGround(tg.DPoint{X: 2, Y: 0})
	c.Assert(gp, Equals, src.Geometry().PixelToGround(tg.DPoint{X: 1, Y: 0}))

	c.Assert(r.SetTransform(0, 1, 0, 0), NotNil)

	loaded := roundTrip(c, r).(*Resampler)
	sx, sy, ox, oy := loaded.Transform()
	c.Assert([]float64{sx, sy, ox, oy}, DeepEquals, []float64{2, 2, 0, 0})
}

func (s *FilterSuite) TestResamplerOffset(c *C) {
	src := source.NewMemory(image(4, 4, 1, tg.Uint8, func(b, x, y int) float64 {
		return float64(1 + x + 4*y)
	}))
	r := NewResampler()
	pipeline(c, src, r)
	c.Assert(r.SetTransform(1, 1, 10, 0), IsNil)

	minX, _, maxX, _ := r.Bounds(0).Bounds()
	c.Assert(minX, Equals, 10)
	c.Assert(maxX, Equals, 13)
	t := r.GetTile(tg.NewIRectWH(10, 0, 4, 4), 0)
	c.Assert(t.Status(), Equals, tg.StatusFull)
	c.Assert(t.Value(0, t.Index(12, 1)), Equals, float64(1+2+4))

	// offsets shrink with the level
	minX, _, _, _ = r.Bounds(1).Bounds()
	c.Assert(minX, Equals, 5)
}
