package filter

import (
	"fmt"
	"math"
	"strings"

	"github.com/janelia-flyem/tilegraph/node"
	"github.com/janelia-flyem/tilegraph/tg"
)

// StretchMode selects how a histogram remapper picks each band's clip points.
type StretchMode uint8

const (
	StretchNone StretchMode = iota
	StretchAutoMinMax
	StretchStd1
	StretchStd2
	StretchStd3
)

var stretchNames = []string{"none", "auto-min-max", "std1", "std2", "std3"}

func (m StretchMode) String() string {
	if int(m) < len(stretchNames) {
		return stretchNames[m]
	}
	return fmt.Sprintf("stretch(%d)", uint8(m))
}

// ParseStretchMode parses the output of StretchMode.String.
func ParseStretchMode(s string) (StretchMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range stretchNames {
		if s == name {
			return StretchMode(i), nil
		}
	}
	return StretchNone, fmt.Errorf("unknown stretch mode %q", s)
}

// HistogramRemapper linearly stretches each band between clip points derived from a
// histogram.  It passes tiles through until it has both a histogram and a stretch mode.
type HistogramRemapper struct {
	node.Filter
	hist      *Histogram
	mode      StretchMode
	low, high []float64
	tile      *tg.Tile
}

// NewHistogramRemapper returns an inactive remapper.
func NewHistogramRemapper() *HistogramRemapper {
	return &HistogramRemapper{}
}

func (r *HistogramRemapper) TypeName() string { return "histogram_remapper" }

// SetHistogram installs the histogram used to derive clip points.
func (r *HistogramRemapper) SetHistogram(h *Histogram) {
	r.hist = h
	r.computeClips()
	node.Changed(r, node.EventProperty)
}

// SetStretchMode picks the stretch.  StretchNone makes the remapper a pass-through.
func (r *HistogramRemapper) SetStretchMode(m StretchMode) {
	r.mode = m
	r.computeClips()
	node.Changed(r, node.EventProperty)
}

func (r *HistogramRemapper) StretchMode() StretchMode { return r.mode }
func (r *HistogramRemapper) Histogram() *Histogram    { return r.hist }

// Clips returns the low and high clip points of a band.
func (r *HistogramRemapper) Clips(band int) (low, high float64, ok bool) {
	if band < 0 || band >= len(r.low) {
		return 0, 0, false
	}
	return r.low[band], r.high[band], true
}

func (r *HistogramRemapper) active() bool {
	return r.Enabled() && r.mode != StretchNone && len(r.low) > 0
}

func (r *HistogramRemapper) computeClips() {
	r.low, r.high = nil, nil
	if r.hist == nil || r.mode == StretchNone {
		return
	}
	for _, bh := range r.hist.Bands {
		lo, hi := math.NaN(), math.NaN()
		switch r.mode {
		case StretchAutoMinMax:
			if l, h, ok := bh.Populated(); ok {
				lo, hi = l, h
			}
		case StretchStd1, StretchStd2, StretchStd3:
			k := float64(r.mode - StretchStd1 + 1)
			mean, std := bh.MeanStdDev()
			lo, hi = math.Max(mean-k*std, bh.Min), math.Min(mean+k*std, bh.Max)
		}
		r.low = append(r.low, lo)
		r.high = append(r.high, hi)
	}
}

func (r *HistogramRemapper) GetTile(rect tg.IRect, level int) *tg.Tile {
	in := r.Filter.GetTile(rect, level)
	if !r.active() || unusable(in) {
		return in
	}
	bands := in.NumBands()
	r.tile = reuse(r.tile, in.Rect(), bands, in.ScalarType())
	like(r.tile, in)
	n := in.NumPixels()
	for b := 0; b < bands; b++ {
		cb := b
		if cb >= len(r.low) {
			cb = len(r.low) - 1
		}
		lo, hi := r.low[cb], r.high[cb]
		if math.IsNaN(lo) || math.IsNaN(hi) || hi <= lo {
			copy(r.tile.Band(b), in.Band(b))
			continue
		}
		for i := 0; i < n; i++ {
			if in.IsNull(b, i) {
				r.tile.SetValue(b, i, r.tile.NullPixel(b))
				continue
			}
			v := (in.Value(b, i) - lo) / (hi - lo)
			r.tile.SetNormalized(b, i, math.Max(0, math.Min(1, v)))
		}
	}
	r.tile.ValidateStatus()
	return r.tile
}

func (r *HistogramRemapper) SaveState(k tg.KWL, prefix string) error {
	k.Add(prefix, "stretch_mode", r.mode)
	if r.hist != nil {
		r.hist.Save(k, prefix)
	}
	if len(r.low) > 0 {
		k.Add(prefix, "low_clips", r.low)
		k.Add(prefix, "high_clips", r.high)
	}
	return nil
}

func (r *HistogramRemapper) LoadState(k tg.KWL, prefix string) error {
	r.mode = StretchNone
	if v, found := k.Find(prefix, "stretch_mode"); found {
		m, err := ParseStretchMode(v)
		if err != nil {
			return err
		}
		r.mode = m
	}
	h, err := LoadHistogram(k, prefix)
	if err != nil {
		return err
	}
	r.hist = h
	r.computeClips()
	if r.hist == nil && r.mode != StretchNone {
		if _, found := k.Find(prefix, "low_clips"); found {
			if r.low, err = k.FindFloats(prefix, "low_clips"); err != nil {
				return err
			}
			if r.high, err = k.FindFloats(prefix, "high_clips"); err != nil {
				return err
			}
			if len(r.low) != len(r.high) {
				return fmt.Errorf("%d low clips but %d high clips", len(r.low), len(r.high))
			}
		}
	}
	return nil
}
