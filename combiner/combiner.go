// Package combiner implements the multi-input nodes that merge overlapping tiles: the
// shared bounding-rect cache and contributing-tile scan, and the mosaic, closest to
// center, maximum and weighted blend policies.
package combiner

import (
	"fmt"

	"github.com/janelia-flyem/tilegraph/node"
	"github.com/janelia-flyem/tilegraph/tg"
)

// State is the lifecycle of a combiner's bounding-rect cache.
type State uint8

const (
	StateUninitialized State = iota
	StateBoundsCached
	StateServing
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateBoundsCached:
		return "bounds cached"
	case StateServing:
		return "serving"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Base is embedded by every combiner.  The R0 bounds of each input are fetched once
// per cache epoch and scaled for every level, so overlap decisions stay consistent until
// an event reinitializes the combiner.
type Base struct {
	node.Base
	state  State
	bounds []tg.IRect
	tile   *tg.Tile
}

func (c *Base) Kind() node.Kind { return node.KindCombiner }
func (c *Base) MaxInputs() int  { return -1 }
func (c *Base) State() State    { return c.state }

// Initialize starts a new cache epoch.
func (c *Base) Initialize() {
	c.state = StateUninitialized
	c.bounds = nil
}

func (c *Base) cacheBounds() {
	if c.state != StateUninitialized {
		return
	}
	n := c.NumInputs()
	c.bounds = make([]tg.IRect, n)
	for i := 0; i < n; i++ {
		if in := c.Input(i); in != nil {
			c.bounds[i] = in.Bounds(0)
		} else {
			c.bounds[i] = tg.UndefinedIRect()
		}
	}
	c.state = StateBoundsCached
}

// InputBounds returns the cached R0 extent of input i.
func (c *Base) InputBounds(i int) tg.IRect {
	c.cacheBounds()
	if i < 0 || i >= len(c.bounds) {
		return tg.UndefinedIRect()
	}
	return c.bounds[i]
}

// inputBounds scales the cached extent of input i to a level.
func (c *Base) inputBounds(i, level int) tg.IRect {
	r := c.InputBounds(i)
	if level == 0 || r.HasNaNs() {
		return r
	}
	in := c.Input(i)
	if in == nil {
		return tg.UndefinedIRect()
	}
	return r.Scale(in.Decimation(level))
}

// Bounds returns the union of every input's extent at a level.
func (c *Base) Bounds(level int) tg.IRect {
	c.cacheBounds()
	out := tg.UndefinedIRect()
	for i := range c.bounds {
		out = out.Combine(c.inputBounds(i, level))
	}
	return out
}

// first returns the first connected input.
func (c *Base) first() node.Node {
	for i := 0; i < c.NumInputs(); i++ {
		if in := c.Input(i); in != nil {
			return in
		}
	}
	return nil
}

// NumBands returns the largest band count of any input.
func (c *Base) NumBands() int {
	var n int
	for i := 0; i < c.NumInputs(); i++ {
		if in := c.Input(i); in != nil && in.NumBands() > n {
			n = in.NumBands()
		}
	}
	return n
}

func (c *Base) ScalarType() tg.ScalarType {
	if in := c.first(); in != nil {
		return in.ScalarType()
	}
	return tg.UnknownScalar
}

// band clamps a band to the first input's bands so extra output bands reuse the
// last band's pixel values.
func (c *Base) band(in node.Node, b int) int {
	if n := in.NumBands(); b >= n && n > 0 {
		return n - 1
	}
	return b
}

func (c *Base) NullPixel(band int) float64 {
	if in := c.first(); in != nil {
		return in.NullPixel(c.band(in, band))
	}
	return 0
}

func (c *Base) MinPixel(band int) float64 {
	if in := c.first(); in != nil {
		return in.MinPixel(c.band(in, band))
	}
	return 0
}

func (c *Base) MaxPixel(band int) float64 {
	if in := c.first(); in != nil {
		return in.MaxPixel(c.band(in, band))
	}
	return 0
}

func (c *Base) NumLevels() int {
	var n int
	for i := 0; i < c.NumInputs(); i++ {
		if in := c.Input(i); in != nil && in.NumLevels() > n {
			n = in.NumLevels()
		}
	}
	return n
}

func (c *Base) Decimation(level int) float64 {
	if in := c.first(); in != nil {
		return in.Decimation(level)
	}
	return tg.LevelDecimation(level)
}

func (c *Base) Geometry() tg.ImageGeometry {
	if in := c.first(); in != nil {
		return in.Geometry()
	}
	return nil
}

func (c *Base) SaveState(k tg.KWL, prefix string) error { return nil }
func (c *Base) LoadState(k tg.KWL, prefix string) error { return nil }

// serving moves the combiner into the serving state and returns false if a request
// for rect cannot be served at all.
func (c *Base) serving(rect tg.IRect) bool {
	c.cacheBounds()
	c.state = StateServing
	return !rect.HasNaNs() && len(c.bounds) > 0
}

// contributing returns input i's tile for the request, or nil if the input does not
// overlap rect or has no data there.
func (c *Base) contributing(i int, rect tg.IRect, level int) *tg.Tile {
	in := c.Input(i)
	if in == nil || !c.inputBounds(i, level).Intersects(rect) {
		return nil
	}
	t := in.GetTile(rect, level)
	if t == nil || t.Status() == tg.StatusNull || t.Status() == tg.StatusEmpty {
		return nil
	}
	return aligned(t, rect)
}

// NextContributingTile scans inputs from start and returns the first tile with data for
// the request along with the index to resume the scan from.  The tile is nil once the
// inputs are exhausted.
func (c *Base) NextContributingTile(start int, rect tg.IRect, level int) (*tg.Tile, int) {
	c.cacheBounds()
	for i := start; i < len(c.bounds); i++ {
		if t := c.contributing(i, rect, level); t != nil {
			return t, i + 1
		}
	}
	return nil, len(c.bounds)
}

// passThrough serves a disabled combiner: the tile of the first input overlapping rect,
// or a null tile when none does.
func (c *Base) passThrough(rect tg.IRect, level int) *tg.Tile {
	for i := range c.bounds {
		if in := c.Input(i); in != nil && c.inputBounds(i, level).Intersects(rect) {
			return in.GetTile(rect, level)
		}
	}
	return tg.NullTile(rect)
}

// blank returns the scratch output tile moved to rect and filled with nulls.
func (c *Base) blank(rect tg.IRect) *tg.Tile {
	bands, scalar := c.NumBands(), c.ScalarType()
	if bands == 0 || scalar == tg.UnknownScalar {
		return tg.NullTile(rect)
	}
	if c.tile == nil || c.tile.NumBands() != bands || c.tile.ScalarType() != scalar {
		c.tile = tg.NewTile(rect, bands, scalar)
	} else {
		c.tile.SetRect(rect)
	}
	for b := 0; b < bands; b++ {
		c.tile.SetNullPixel(b, c.NullPixel(b))
		c.tile.SetMinPixel(b, c.MinPixel(b))
		c.tile.SetMaxPixel(b, c.MaxPixel(b))
	}
	c.tile.MakeBlank()
	return c.tile
}

// matches returns true if t can be handed out in place of the output tile.
func (c *Base) matches(t *tg.Tile) bool {
	if t.NumBands() != c.NumBands() || t.ScalarType() != c.ScalarType() {
		return false
	}
	for b := 0; b < t.NumBands(); b++ {
		if t.NullPixel(b) != c.NullPixel(b) {
			return false
		}
	}
	return true
}

// aligned returns t or a copy of it covering exactly rect.
func aligned(t *tg.Tile, rect tg.IRect) *tg.Tile {
	if t.Rect().Equal(rect) {
		return t
	}
	out := tg.NewTile(rect, t.NumBands(), t.ScalarType())
	for b := 0; b < t.NumBands(); b++ {
		out.SetNullPixel(b, t.NullPixel(b))
		out.SetMinPixel(b, t.MinPixel(b))
		out.SetMaxPixel(b, t.MaxPixel(b))
	}
	out.MakeBlank()
	out.CopyFrom(t)
	out.ValidateStatus()
	return out
}

// srcBand maps an output band to the source band that fills it.
func srcBand(src *tg.Tile, b int) int {
	if b >= src.NumBands() {
		return src.NumBands() - 1
	}
	return b
}

// valueIn returns src's pixel i of band sb expressed in dst's band b.  Tiles of the same
// scalar type exchange raw values; otherwise values go through normalized space.
func valueIn(dst *tg.Tile, b int, src *tg.Tile, sb, i int) float64 {
	if src.ScalarType() == dst.ScalarType() {
		return src.Value(sb, i)
	}
	n := src.Normalized(sb, i)
	if dst.ScalarType().IsNormalized() {
		return n
	}
	return dst.MinPixel(b) + n*(dst.MaxPixel(b)-dst.MinPixel(b))
}

// fill copies src pixels into the null pixels of dst and returns the number of band
// pixels still null.
func fill(dst, src *tg.Tile) int {
	var remaining int
	n := dst.NumPixels()
	for b := 0; b < dst.NumBands(); b++ {
		sb := srcBand(src, b)
		for i := 0; i < n; i++ {
			if !dst.IsNull(b, i) {
				continue
			}
			if src.IsNull(sb, i) {
				remaining++
				continue
			}
			dst.SetValue(b, i, valueIn(dst, b, src, sb, i))
		}
	}
	return remaining
}

// RegisterTypes adds every combiner type to a node registry.
func RegisterTypes(reg *node.Registry) error {
	types := map[string]node.Factory{
		"mosaic":            func() node.Node { return NewMosaic() },
		"closest_to_center": func() node.Node { return NewClosestToCenter() },
		"maximum":           func() node.Node { return NewMaximum() },
		"blend":             func() node.Node { return NewBlend() },
	}
	for name, f := range types {
		if err := reg.Register(name, f); err != nil {
			return err
		}
	}
	return nil
}
