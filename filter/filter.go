// Package filter implements the single input nodes of a processing chain: band
// selection, histogram stretching, scalar type remapping, convolution, tile caching and
// resampling.
package filter

import (
	"github.com/janelia-flyem/tilegraph/node"
	"github.com/janelia-flyem/tilegraph/tg"
)

// reuse returns cur if it already has the requested layout, else a new tile.  The
// result is allocated and moved to rect but its contents are undefined.
func reuse(cur *tg.Tile, rect tg.IRect, bands int, scalar tg.ScalarType) *tg.Tile {
	if cur == nil || cur.NumBands() != bands || cur.ScalarType() != scalar {
		cur = tg.NewTile(rect, bands, scalar)
	} else {
		cur.SetRect(rect)
	}
	cur.Allocate()
	return cur
}

// like copies per-band null, min and max values from in to t.
func like(t, in *tg.Tile) {
	for b := 0; b < t.NumBands() && b < in.NumBands(); b++ {
		t.SetNullPixel(b, in.NullPixel(b))
		t.SetMinPixel(b, in.MinPixel(b))
		t.SetMaxPixel(b, in.MaxPixel(b))
	}
}

// unusable returns true for tiles with nothing to transform.
func unusable(t *tg.Tile) bool {
	return t == nil || t.Status() == tg.StatusNull || t.Status() == tg.StatusEmpty
}

// RegisterTypes adds every filter type to a node registry.
func RegisterTypes(reg *node.Registry) error {
	types := map[string]node.Factory{
		"band_selector":      func() node.Node { return NewBandSelector() },
		"histogram_remapper": func() node.Node { return NewHistogramRemapper() },
		"scalar_remapper":    func() node.Node { return NewScalarRemapper(tg.Uint8) },
		"convolution":        func() node.Node { return NewConvolution(SmoothingKernel) },
		"cache":              func() node.Node { return NewCache(DefaultCacheConfig()) },
		"resampler":          func() node.Node { return NewResampler() },
	}
	for name, f := range types {
		if err := reg.Register(name, f); err != nil {
			return err
		}
	}
	return nil
}
