package filter

import (
	"fmt"
	"math"
	"strings"

	"github.com/janelia-flyem/tilegraph/node"
	"github.com/janelia-flyem/tilegraph/tg"
)

// Interpolation selects how a resampler samples its input.
type Interpolation uint8

const (
	NearestNeighbor Interpolation = iota
	Bilinear
)

func (m Interpolation) String() string {
	if m == Bilinear {
		return "bilinear"
	}
	return "nearest"
}

// ParseInterpolation parses the output of Interpolation.String.
func ParseInterpolation(s string) (Interpolation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nearest", "nearest_neighbor":
		return NearestNeighbor, nil
	case "bilinear":
		return Bilinear, nil
	}
	return NearestNeighbor, fmt.Errorf("unknown interpolation %q", s)
}

// Resampler maps its input through a scale and offset.  With pixel coordinates
// addressing pixel centers, input pixel p lands on output p*scale + offset.  The
// identity transform passes tiles through untouched.  Offsets are in R0 output pixels.
type Resampler struct {
	node.Filter
	scaleX, scaleY   float64
	offsetX, offsetY float64
	method           Interpolation
	tile             *tg.Tile
}

// NewResampler returns an identity resampler.
func NewResampler() *Resampler {
	return &Resampler{scaleX: 1, scaleY: 1}
}

func (r *Resampler) TypeName() string { return "resampler" }

// SetTransform sets the scale and offset.  Scales must be positive.
func (r *Resampler) SetTransform(scaleX, scaleY, offsetX, offsetY float64) error {
	if !(scaleX > 0) || !(scaleY > 0) || math.IsInf(scaleX, 0) || math.IsInf(scaleY, 0) {
		return fmt.Errorf("bad resampler scale (%g, %g)", scaleX, scaleY)
	}
	r.scaleX, r.scaleY, r.offsetX, r.offsetY = scaleX, scaleY, offsetX, offsetY
	node.Changed(r, node.EventProperty)
	return nil
}

// Transform returns the scale and offset.
func (r *Resampler) Transform() (scaleX, scaleY, offsetX, offsetY float64) {
	return r.scaleX, r.scaleY, r.offsetX, r.offsetY
}

func (r *Resampler) SetInterpolation(m Interpolation) {
	r.method = m
	node.Changed(r, node.EventProperty)
}

// IsIdentity returns true if the resampler does not move pixels.
func (r *Resampler) IsIdentity() bool {
	return r.scaleX == 1 && r.scaleY == 1 && r.offsetX == 0 && r.offsetY == 0
}

func (r *Resampler) active() bool {
	return r.Enabled() && !r.IsIdentity()
}

func (r *Resampler) offsets(level int) (float64, float64) {
	d := r.Decimation(level)
	return r.offsetX * d, r.offsetY * d
}

// forward maps an input pixel to the output at a level.
func (r *Resampler) forward(p tg.DPoint, level int) tg.DPoint {
	ox, oy := r.offsets(level)
	return tg.DPoint{X: p.X*r.scaleX + ox, Y: p.Y*r.scaleY + oy}
}

// inverse maps an output pixel to the input at a level.
func (r *Resampler) inverse(p tg.DPoint, level int) tg.DPoint {
	ox, oy := r.offsets(level)
	return tg.DPoint{X: (p.X - ox) / r.scaleX, Y: (p.Y - oy) / r.scaleY}
}

func (r *Resampler) Bounds(level int) tg.IRect {
	in := r.Filter.Bounds(level)
	if !r.active() || in.HasNaNs() {
		return in
	}
	minX, minY, maxX, maxY := in.Bounds()
	lo := r.forward(tg.DPoint{X: float64(minX) - 0.5, Y: float64(minY) - 0.5}, level)
	hi := r.forward(tg.DPoint{X: float64(maxX) + 0.5, Y: float64(maxY) + 0.5}, level)
	// output pixels whose centers fall inside the input footprint
	x0, y0 := int(math.Ceil(lo.X)), int(math.Ceil(lo.Y))
	x1, y1 := int(math.Ceil(hi.X))-1, int(math.Ceil(hi.Y))-1
	if x1 < x0 || y1 < y0 {
		return tg.UndefinedIRect()
	}
	return tg.NewIRectOriented(x0, y0, x1, y1, in.Orient)
}

// inputRect returns the input region needed to fill an output rectangle.
func (r *Resampler) inputRect(rect tg.IRect, level int) tg.IRect {
	minX, minY, maxX, maxY := rect.Bounds()
	lo := r.inverse(tg.DPoint{X: float64(minX), Y: float64(minY)}, level)
	hi := r.inverse(tg.DPoint{X: float64(maxX), Y: float64(maxY)}, level)
	return tg.NewIRectOriented(int(math.Floor(lo.X))-1, int(math.Floor(lo.Y))-1,
		int(math.Ceil(hi.X))+1, int(math.Ceil(hi.Y))+1, rect.Orient)
}

func (r *Resampler) GetTile(rect tg.IRect, level int) *tg.Tile {
	if !r.active() || rect.HasNaNs() {
		return r.Filter.GetTile(rect, level)
	}
	in := r.Filter.GetTile(r.inputRect(rect, level), level)
	if in == nil || in.Status() == tg.StatusNull {
		return tg.NullTile(rect)
	}
	bands := in.NumBands()
	r.tile = reuse(r.tile, rect, bands, in.ScalarType())
	like(r.tile, in)
	r.tile.MakeBlank()
	if in.Status() == tg.StatusEmpty {
		return r.tile
	}
	minX, minY, maxX, maxY := rect.Bounds()
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			p := r.inverse(tg.DPoint{X: float64(x), Y: float64(y)}, level)
			di := r.tile.Index(x, y)
			if r.method == Bilinear && r.bilinear(in, p, di) {
				continue
			}
			si := in.Index(int(math.Round(p.X)), int(math.Round(p.Y)))
			if si < 0 {
				continue
			}
			for b := 0; b < bands; b++ {
				if !in.IsNull(b, si) {
					r.tile.SetValue(b, di, in.Value(b, si))
				}
			}
		}
	}
	r.tile.ValidateStatus()
	return r.tile
}

// bilinear interpolates every band at p.  It returns false if any of the four
// neighbors is missing or null, leaving the pixel to nearest neighbor sampling.
func (r *Resampler) bilinear(in *tg.Tile, p tg.DPoint, di int) bool {
	x0, y0 := int(math.Floor(p.X)), int(math.Floor(p.Y))
	fx, fy := p.X-float64(x0), p.Y-float64(y0)
	idx := [4]int{in.Index(x0, y0), in.Index(x0+1, y0), in.Index(x0, y0+1), in.Index(x0+1, y0+1)}
	for _, i := range idx {
		if i < 0 {
			return false
		}
	}
	w := [4]float64{(1 - fx) * (1 - fy), fx * (1 - fy), (1 - fx) * fy, fx * fy}
	for b := 0; b < in.NumBands(); b++ {
		for _, i := range idx {
			if in.IsNull(b, i) {
				return false
			}
		}
	}
	for b := 0; b < in.NumBands(); b++ {
		var v float64
		for k, i := range idx {
			v += w[k] * in.Value(b, i)
		}
		r.tile.SetValue(b, di, v)
	}
	return true
}

// Geometry returns the input geometry seen through the resampler.
func (r *Resampler) Geometry() tg.ImageGeometry {
	g := r.Filter.Geometry()
	if g == nil || !r.active() {
		return g
	}
	return resampledGeometry{base: g, r: r}
}

type resampledGeometry struct {
	base tg.ImageGeometry
	r    *Resampler
}

func (g resampledGeometry) PixelToGround(p tg.DPoint) tg.DPoint {
	return g.base.PixelToGround(g.r.inverse(p, 0))
}

func (g resampledGeometry) GroundToPixel(p tg.DPoint) tg.DPoint {
	return g.r.forward(g.base.GroundToPixel(p), 0)
}

func (g resampledGeometry) PixelSpacing() tg.DPoint {
	s := g.base.PixelSpacing()
	return tg.DPoint{X: s.X / g.r.scaleX, Y: s.Y / g.r.scaleY}
}

func (g resampledGeometry) Units() tg.GroundUnits {
	return g.base.Units()
}

func (r *Resampler) SaveState(k tg.KWL, prefix string) error {
	k.Add(prefix, "scale", []float64{r.scaleX, r.scaleY})
	k.Add(prefix, "offset", []float64{r.offsetX, r.offsetY})
	k.Add(prefix, "interpolation", r.method)
	return nil
}

func (r *Resampler) LoadState(k tg.KWL, prefix string) error {
	r.scaleX, r.scaleY, r.offsetX, r.offsetY = 1, 1, 0, 0
	r.method = NearestNeighbor
	if _, found := k.Find(prefix, "scale"); found {
		s, err := k.FindFloats(prefix, "scale")
		if err != nil {
			return err
		}
		if len(s) != 2 || !(s[0] > 0) || !(s[1] > 0) {
			return fmt.Errorf("bad resampler scale %v", s)
		}
		r.scaleX, r.scaleY = s[0], s[1]
	}
	if _, found := k.Find(prefix, "offset"); found {
		o, err := k.FindFloats(prefix, "offset")
		if err != nil {
			return err
		}
		if len(o) != 2 {
			return fmt.Errorf("bad resampler offset %v", o)
		}
		r.offsetX, r.offsetY = o[0], o[1]
	}
	if v, found := k.Find(prefix, "interpolation"); found {
		m, err := ParseInterpolation(v)
		if err != nil {
			return err
		}
		r.method = m
	}
	return nil
}
