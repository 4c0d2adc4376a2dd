package filter

import (
	"fmt"

	"github.com/janelia-flyem/tilegraph/node"
	"github.com/janelia-flyem/tilegraph/tg"
)

// BandSelector outputs a chosen list of input bands in a chosen order.  Bands past the
// input's last band replicate the last band.  An empty list passes every band through.
type BandSelector struct {
	node.Filter
	bands []int
	tile  *tg.Tile
}

// NewBandSelector returns a selector for the given zero-based input bands.  Negative
// bands are dropped.
func NewBandSelector(bands ...int) *BandSelector {
	return &BandSelector{bands: validBands(bands)}
}

// validBands copies bands without the negative entries.
func validBands(bands []int) []int {
	var valid []int
	for _, b := range bands {
		if b < 0 {
			tg.Warningf("dropping negative band %d from selection\n", b)
			continue
		}
		valid = append(valid, b)
	}
	return valid
}

func (s *BandSelector) TypeName() string { return "band_selector" }

// Bands returns the selected input bands.
func (s *BandSelector) Bands() []int {
	return append([]int(nil), s.bands...)
}

// SetBands changes the selection, less any negative bands, and reinitializes downstream
// nodes.
func (s *BandSelector) SetBands(bands []int) {
	s.bands = validBands(bands)
	node.Changed(s, node.EventProperty)
}

// ForceBands makes the output exactly n bands: the current selection (or every input
// band) is truncated or padded by repeating its last band, then optionally reversed.
func (s *BandSelector) ForceBands(n int, reversed bool) {
	cur := s.bands
	if len(cur) == 0 {
		in := s.Filter.NumBands()
		for b := 0; b < in; b++ {
			cur = append(cur, b)
		}
		if len(cur) == 0 {
			cur = []int{0}
		}
	}
	out := make([]int, n)
	for i := range out {
		if i < len(cur) {
			out[i] = cur[i]
		} else {
			out[i] = cur[len(cur)-1]
		}
	}
	if reversed {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	s.SetBands(out)
}

func (s *BandSelector) active() bool {
	return s.Enabled() && len(s.bands) > 0
}

// inputBand maps an output band to the input band it reads.
func (s *BandSelector) inputBand(b int) int {
	if !s.active() {
		return b
	}
	if b >= len(s.bands) {
		b = len(s.bands) - 1
	}
	ib := s.bands[b]
	if in := s.Filter.NumBands(); in > 0 && ib >= in {
		ib = in - 1
	}
	if ib < 0 {
		ib = 0
	}
	return ib
}

func (s *BandSelector) NumBands() int {
	if !s.active() {
		return s.Filter.NumBands()
	}
	return len(s.bands)
}

func (s *BandSelector) NullPixel(band int) float64 { return s.Filter.NullPixel(s.inputBand(band)) }
func (s *BandSelector) MinPixel(band int) float64  { return s.Filter.MinPixel(s.inputBand(band)) }
func (s *BandSelector) MaxPixel(band int) float64  { return s.Filter.MaxPixel(s.inputBand(band)) }

func (s *BandSelector) GetTile(rect tg.IRect, level int) *tg.Tile {
	in := s.Filter.GetTile(rect, level)
	if !s.active() || in == nil || !in.IsAllocated() {
		return in
	}
	n := len(s.bands)
	s.tile = reuse(s.tile, in.Rect(), n, in.ScalarType())
	for b := 0; b < n; b++ {
		ib := s.bands[b]
		if ib >= in.NumBands() {
			ib = in.NumBands() - 1
		}
		s.tile.SetNullPixel(b, in.NullPixel(ib))
		s.tile.SetMinPixel(b, in.MinPixel(ib))
		s.tile.SetMaxPixel(b, in.MaxPixel(ib))
		copy(s.tile.Band(b), in.Band(ib))
	}
	s.tile.ValidateStatus()
	return s.tile
}

func (s *BandSelector) SaveState(k tg.KWL, prefix string) error {
	k.Add(prefix, "bands", s.bands)
	return nil
}

func (s *BandSelector) LoadState(k tg.KWL, prefix string) error {
	if _, found := k.Find(prefix, "bands"); !found {
		s.bands = nil
		return nil
	}
	bands, err := k.FindInts(prefix, "bands")
	if err != nil {
		return err
	}
	for _, b := range bands {
		if b < 0 {
			return fmt.Errorf("negative band %d in selection", b)
		}
	}
	s.bands = bands
	return nil
}
