package filter

import (
	"fmt"

	"github.com/janelia-flyem/tilegraph/node"
	"github.com/janelia-flyem/tilegraph/tg"
)

// ScalarRemapper converts pixels to another scalar type through normalized space.
// Null pixels stay null.
type ScalarRemapper struct {
	node.Filter
	output tg.ScalarType
	tile   *tg.Tile
}

// NewScalarRemapper returns a remapper to the given output type.
func NewScalarRemapper(output tg.ScalarType) *ScalarRemapper {
	return &ScalarRemapper{output: output}
}

func (r *ScalarRemapper) TypeName() string { return "scalar_remapper" }

// OutputType returns the scalar type produced when active.
func (r *ScalarRemapper) OutputType() tg.ScalarType { return r.output }

// SetOutputType changes the output scalar type.
func (r *ScalarRemapper) SetOutputType(s tg.ScalarType) {
	r.output = s
	node.Changed(r, node.EventProperty)
}

func (r *ScalarRemapper) active() bool {
	return r.Enabled() && r.output != tg.UnknownScalar && r.Filter.ScalarType() != r.output
}

func (r *ScalarRemapper) ScalarType() tg.ScalarType {
	if !r.active() {
		return r.Filter.ScalarType()
	}
	return r.output
}

func (r *ScalarRemapper) NullPixel(band int) float64 {
	if !r.active() {
		return r.Filter.NullPixel(band)
	}
	return r.output.DefaultNull()
}

func (r *ScalarRemapper) MinPixel(band int) float64 {
	if !r.active() {
		return r.Filter.MinPixel(band)
	}
	return r.output.DefaultMin()
}

func (r *ScalarRemapper) MaxPixel(band int) float64 {
	if !r.active() {
		return r.Filter.MaxPixel(band)
	}
	return r.output.DefaultMax()
}

func (r *ScalarRemapper) GetTile(rect tg.IRect, level int) *tg.Tile {
	in := r.Filter.GetTile(rect, level)
	if !r.active() || in == nil || !in.IsAllocated() || in.ScalarType() == r.output {
		return in
	}
	bands := in.NumBands()
	r.tile = reuse(r.tile, in.Rect(), bands, r.output)
	for b := 0; b < bands; b++ {
		r.tile.SetNullPixel(b, r.output.DefaultNull())
		r.tile.SetMinPixel(b, r.output.DefaultMin())
		r.tile.SetMaxPixel(b, r.output.DefaultMax())
	}
	n := in.NumPixels()
	for b := 0; b < bands; b++ {
		for i := 0; i < n; i++ {
			if in.IsNull(b, i) {
				r.tile.SetValue(b, i, r.tile.NullPixel(b))
			} else {
				r.tile.SetNormalized(b, i, in.Normalized(b, i))
			}
		}
	}
	r.tile.ValidateStatus()
	return r.tile
}

func (r *ScalarRemapper) SaveState(k tg.KWL, prefix string) error {
	k.Add(prefix, "output_scalar_type", r.output)
	return nil
}

func (r *ScalarRemapper) LoadState(k tg.KWL, prefix string) error {
	v, found := k.Find(prefix, "output_scalar_type")
	if !found {
		return fmt.Errorf("scalar remapper state has no output_scalar_type")
	}
	s, err := tg.ParseScalarType(v)
	if err != nil {
		return err
	}
	r.output = s
	return nil
}
