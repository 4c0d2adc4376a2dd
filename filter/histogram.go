package filter

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/janelia-flyem/tilegraph/node"
	"github.com/janelia-flyem/tilegraph/tg"
)

const maxBins = 4096

// BandHistogram counts the non-null pixels of one band in equal width bins spanning
// [Min, Max].
type BandHistogram struct {
	Min, Max float64
	Counts   []float64
}

// NewBandHistogram returns an empty histogram with the given number of bins.
func NewBandHistogram(min, max float64, bins int) *BandHistogram {
	if bins < 1 {
		bins = 1
	}
	return &BandHistogram{Min: min, Max: max, Counts: make([]float64, bins)}
}

// binsFor picks one bin per integer value, up to maxBins.
func binsFor(scalar tg.ScalarType, min, max float64) int {
	if scalar.IsFloat() {
		return 1024
	}
	n := int(max-min) + 1
	if n > maxBins || n < 1 {
		return maxBins
	}
	return n
}

func (h *BandHistogram) binWidth() float64 {
	return (h.Max - h.Min) / float64(len(h.Counts))
}

// Add counts one value.  Values outside [Min, Max] fall in the end bins.
func (h *BandHistogram) Add(v float64) {
	w := h.binWidth()
	i := 0
	if w > 0 {
		i = int((v - h.Min) / w)
	}
	if i < 0 {
		i = 0
	}
	if i >= len(h.Counts) {
		i = len(h.Counts) - 1
	}
	h.Counts[i]++
}

// Center returns the value at the center of bin i.
func (h *BandHistogram) Center(i int) float64 {
	return h.Min + (float64(i)+0.5)*h.binWidth()
}

// Total returns the number of counted values.
func (h *BandHistogram) Total() float64 {
	return floats.Sum(h.Counts)
}

// MeanStdDev returns the weighted mean and standard deviation of the bin centers.
func (h *BandHistogram) MeanStdDev() (mean, std float64) {
	if h.Total() == 0 {
		return math.NaN(), math.NaN()
	}
	centers := make([]float64, len(h.Counts))
	for i := range centers {
		centers[i] = h.Center(i)
	}
	return stat.MeanStdDev(centers, h.Counts)
}

// Populated returns the centers of the lowest and highest non-empty bins.
func (h *BandHistogram) Populated() (low, high float64, ok bool) {
	first, last := -1, -1
	for i, c := range h.Counts {
		if c > 0 {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return 0, 0, false
	}
	return h.Center(first), h.Center(last), true
}

// Histogram holds one BandHistogram per band.
type Histogram struct {
	Bands []*BandHistogram
}

// ComputeHistogram scans a node at a resolution level in tileSize square tiles.
func ComputeHistogram(n node.Node, level, tileSize int) (*Histogram, error) {
	bounds := n.Bounds(level)
	if bounds.HasNaNs() {
		return nil, fmt.Errorf("node %s (%s) has no bounds at level %d", n.ID(), n.TypeName(), level)
	}
	if tileSize <= 0 {
		tileSize = 256
	}
	h := &Histogram{Bands: make([]*BandHistogram, n.NumBands())}
	for b := range h.Bands {
		lo, hi := n.MinPixel(b), n.MaxPixel(b)
		bins := binsFor(n.ScalarType(), lo, hi)
		if !n.ScalarType().IsFloat() && bins == int(hi-lo)+1 {
			// one bin per integer value, centered on it
			lo, hi = lo-0.5, hi+0.5
		}
		h.Bands[b] = NewBandHistogram(lo, hi, bins)
	}
	timedLog := tg.NewTimeLog()
	minX, minY, maxX, maxY := bounds.Bounds()
	for y := minY; y <= maxY; y += tileSize {
		for x := minX; x <= maxX; x += tileSize {
			rect := tg.NewIRectWH(x, y, tileSize, tileSize).Intersection(bounds)
			t := n.GetTile(rect, level)
			if unusable(t) {
				continue
			}
			bands := t.NumBands()
			if bands > len(h.Bands) {
				bands = len(h.Bands)
			}
			for b := 0; b < bands; b++ {
				for i := 0; i < t.NumPixels(); i++ {
					if !t.IsNull(b, i) {
						h.Bands[b].Add(t.Value(b, i))
					}
				}
			}
		}
	}
	timedLog.Debugf("histogram of %s at level %d over %s", n.TypeName(), level, bounds)
	return h, nil
}

// Save writes the histogram under prefix.
func (h *Histogram) Save(k tg.KWL, prefix string) {
	k.Add(prefix, "histogram.bands", len(h.Bands))
	for b, bh := range h.Bands {
		p := fmt.Sprintf("%shistogram.band%d.", prefix, b)
		k.Add(p, "min", bh.Min)
		k.Add(p, "max", bh.Max)
		k.Add(p, "counts", bh.Counts)
	}
}

// LoadHistogram reads a histogram written by Save.  A missing histogram returns nil.
func LoadHistogram(k tg.KWL, prefix string) (*Histogram, error) {
	if _, found := k.Find(prefix, "histogram.bands"); !found {
		return nil, nil
	}
	n, err := k.FindInt(prefix, "histogram.bands")
	if err != nil {
		return nil, err
	}
	h := &Histogram{Bands: make([]*BandHistogram, n)}
	for b := range h.Bands {
		p := fmt.Sprintf("%shistogram.band%d.", prefix, b)
		bh := &BandHistogram{}
		if bh.Min, err = k.FindFloat(p, "min"); err != nil {
			return nil, err
		}
		if bh.Max, err = k.FindFloat(p, "max"); err != nil {
			return nil, err
		}
		if bh.Counts, err = k.FindFloats(p, "counts"); err != nil {
			return nil, err
		}
		if len(bh.Counts) == 0 {
			return nil, fmt.Errorf("histogram band %d has no bins", b)
		}
		h.Bands[b] = bh
	}
	return h, nil
}
