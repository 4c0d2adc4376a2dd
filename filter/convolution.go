package filter

import (
	"fmt"

	"github.com/janelia-flyem/tilegraph/node"
	"github.com/janelia-flyem/tilegraph/tg"
)

// Kernel is a 3x3 convolution kernel in row major order.
type Kernel [9]float64

var (
	// SmoothingKernel averages each pixel with its neighbors.
	SmoothingKernel = Kernel{1.0 / 9, 1.0 / 9, 1.0 / 9, 1.0 / 9, 1.0 / 9, 1.0 / 9, 1.0 / 9, 1.0 / 9, 1.0 / 9}

	// SharpenKernel boosts each pixel against its four neighbors.
	SharpenKernel = Kernel{0, -1, 0, -1, 5, -1, 0, -1, 0}
)

// Convolution applies a 3x3 kernel.  It asks its input for the requested rectangle
// grown by one pixel on each side; an output pixel is null if any pixel under the
// kernel is null.  Bounds are those of the input.
type Convolution struct {
	node.Filter
	kernel Kernel
	tile   *tg.Tile
}

// NewConvolution returns a convolution with the given kernel.
func NewConvolution(k Kernel) *Convolution {
	return &Convolution{kernel: k}
}

func (c *Convolution) TypeName() string { return "convolution" }

func (c *Convolution) Kernel() Kernel { return c.kernel }

func (c *Convolution) SetKernel(k Kernel) {
	c.kernel = k
	node.Changed(c, node.EventProperty)
}

func (c *Convolution) GetTile(rect tg.IRect, level int) *tg.Tile {
	if !c.Enabled() || rect.HasNaNs() {
		return c.Filter.GetTile(rect, level)
	}
	in := c.Filter.GetTile(rect.Expand(1), level)
	if unusable(in) {
		if in != nil && in.Status() == tg.StatusEmpty {
			c.tile = reuse(c.tile, rect, in.NumBands(), in.ScalarType())
			like(c.tile, in)
			c.tile.MakeBlank()
			return c.tile
		}
		return tg.NullTile(rect)
	}
	bands := in.NumBands()
	c.tile = reuse(c.tile, rect, bands, in.ScalarType())
	like(c.tile, in)
	minX, minY, maxX, maxY := rect.Bounds()
	for b := 0; b < bands; b++ {
		for y := minY; y <= maxY; y++ {
			for x := minX; x <= maxX; x++ {
				di := c.tile.Index(x, y)
				var sum float64
				null := false
				for ky := -1; ky <= 1 && !null; ky++ {
					for kx := -1; kx <= 1; kx++ {
						si := in.Index(x+kx, y+ky)
						if si < 0 || in.IsNull(b, si) {
							null = true
							break
						}
						sum += c.kernel[(ky+1)*3+kx+1] * in.Value(b, si)
					}
				}
				if null {
					c.tile.SetValue(b, di, c.tile.NullPixel(b))
					continue
				}
				// keep valid results out of the null value
				if sum < c.tile.MinPixel(b) {
					sum = c.tile.MinPixel(b)
				} else if sum > c.tile.MaxPixel(b) {
					sum = c.tile.MaxPixel(b)
				}
				c.tile.SetValue(b, di, sum)
			}
		}
	}
	c.tile.ValidateStatus()
	return c.tile
}

func (c *Convolution) SaveState(k tg.KWL, prefix string) error {
	k.Add(prefix, "kernel", c.kernel[:])
	return nil
}

func (c *Convolution) LoadState(k tg.KWL, prefix string) error {
	v, err := k.FindFloats(prefix, "kernel")
	if err != nil {
		return err
	}
	if len(v) != 9 {
		return fmt.Errorf("convolution kernel has %d weights, expected 9", len(v))
	}
	copy(c.kernel[:], v)
	return nil
}
