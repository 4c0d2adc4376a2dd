package tg

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"math"
)

// TileStatus describes the validity of a tile's pixels.
type TileStatus uint8

const (
	// StatusNull is an unallocated tile or one with unknown content.
	StatusNull TileStatus = iota

	// StatusEmpty is an allocated tile whose pixels are all null.
	StatusEmpty

	// StatusPartial is a tile with both null and valid pixels.
	StatusPartial

	// StatusFull is a tile with no null pixels.
	StatusFull
)

func (s TileStatus) String() string {
	switch s {
	case StatusNull:
		return "null"
	case StatusEmpty:
		return "empty"
	case StatusPartial:
		return "partial"
	case StatusFull:
		return "full"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Tile is a rectangular, banded buffer of one scalar type.  Pixels are stored band
// sequential: all of band 0, then all of band 1, and so on, each in little endian
// byte order.  Tiles handed back by a node are usually that node's scratch tile and
// are only valid until the next request to the same node; use Clone to retain one.
type Tile struct {
	rect   IRect
	bands  int
	scalar ScalarType
	nulls  []float64
	mins   []float64
	maxs   []float64
	buf    []byte
	status TileStatus
}

// NewTile returns an unallocated tile using the scalar type's default null, min, and
// max pixel values for every band.
func NewTile(rect IRect, bands int, scalar ScalarType) *Tile {
	t := &Tile{
		rect:   rect,
		bands:  bands,
		scalar: scalar,
		nulls:  make([]float64, bands),
		mins:   make([]float64, bands),
		maxs:   make([]float64, bands),
	}
	for b := 0; b < bands; b++ {
		t.nulls[b] = scalar.DefaultNull()
		t.mins[b] = scalar.DefaultMin()
		t.maxs[b] = scalar.DefaultMax()
	}
	return t
}

// NewBlankTile returns an allocated tile filled with null pixels.
func NewBlankTile(rect IRect, bands int, scalar ScalarType) *Tile {
	t := NewTile(rect, bands, scalar)
	t.MakeBlank()
	return t
}

// NullTile returns an unallocated tile with status StatusNull for the given rectangle.
func NullTile(rect IRect) *Tile {
	return &Tile{rect: rect, scalar: UnknownScalar}
}

func (t *Tile) Rect() IRect            { return t.rect }
func (t *Tile) NumBands() int          { return t.bands }
func (t *Tile) ScalarType() ScalarType { return t.scalar }
func (t *Tile) Width() int             { return t.rect.Width() }
func (t *Tile) Height() int            { return t.rect.Height() }
func (t *Tile) Status() TileStatus     { return t.status }

// NumPixels returns the number of pixels in one band.
func (t *Tile) NumPixels() int {
	return t.rect.Area()
}

func (t *Tile) NullPixel(band int) float64 { return t.nulls[band] }
func (t *Tile) MinPixel(band int) float64  { return t.mins[band] }
func (t *Tile) MaxPixel(band int) float64  { return t.maxs[band] }

func (t *Tile) SetNullPixel(band int, v float64) { t.nulls[band] = v }
func (t *Tile) SetMinPixel(band int, v float64)  { t.mins[band] = v }
func (t *Tile) SetMaxPixel(band int, v float64)  { t.maxs[band] = v }

// SetStatus overrides the status.  Most callers should use ValidateStatus.
func (t *Tile) SetStatus(s TileStatus) {
	t.status = s
}

// IsAllocated returns true if the tile has a pixel buffer.
func (t *Tile) IsAllocated() bool {
	return t.buf != nil
}

// Allocate makes sure the pixel buffer matches the tile's rectangle, band count and
// scalar type, reusing the current buffer when large enough.
func (t *Tile) Allocate() {
	if t.rect.HasNaNs() || t.bands <= 0 || t.scalar.BytesPerPixel() == 0 {
		t.buf = nil
		t.status = StatusNull
		return
	}
	n := t.NumPixels() * t.bands * t.scalar.BytesPerPixel()
	if cap(t.buf) >= n {
		t.buf = t.buf[:n]
	} else {
		t.buf = make([]byte, n)
	}
}

// SetRect moves the tile to a new rectangle.  The buffer is resized if allocated but
// the pixel contents are not preserved.
func (t *Tile) SetRect(r IRect) {
	t.rect = r
	if t.buf != nil {
		t.Allocate()
	}
}

// MakeBlank allocates the tile and fills every band with its null value.
func (t *Tile) MakeBlank() {
	t.Allocate()
	if t.buf == nil {
		return
	}
	for b := 0; b < t.bands; b++ {
		t.Fill(b, t.nulls[b])
	}
	t.status = StatusEmpty
}

// Fill sets every pixel of a band to v.
func (t *Tile) Fill(band int, v float64) {
	n := t.NumPixels()
	for i := 0; i < n; i++ {
		t.SetValue(band, i, v)
	}
}

// Band returns the raw little endian bytes of one band.
func (t *Tile) Band(band int) []byte {
	if t.buf == nil {
		return nil
	}
	sz := t.NumPixels() * t.scalar.BytesPerPixel()
	return t.buf[band*sz : (band+1)*sz]
}

// Data returns the raw pixel buffer.
func (t *Tile) Data() []byte {
	return t.buf
}

// Index returns the pixel offset within a band of image coordinate (x, y), or -1 if
// the coordinate lies outside the tile.
func (t *Tile) Index(x, y int) int {
	if !t.rect.ContainsPoint(IPoint{x, y}) {
		return -1
	}
	o := t.rect.Origin()
	return (y-o.Y)*t.Width() + (x - o.X)
}

func (t *Tile) offset(band, i int) int {
	bpp := t.scalar.BytesPerPixel()
	return (band*t.NumPixels() + i) * bpp
}

// Value returns the pixel value at band offset i.
func (t *Tile) Value(band, i int) float64 {
	p := t.buf[t.offset(band, i):]
	switch t.scalar {
	case Uint8:
		return float64(p[0])
	case Int8:
		return float64(int8(p[0]))
	case Uint16:
		return float64(binary.LittleEndian.Uint16(p))
	case Int16:
		return float64(int16(binary.LittleEndian.Uint16(p)))
	case Uint32:
		return float64(binary.LittleEndian.Uint32(p))
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(p)))
	case Uint64:
		return float64(binary.LittleEndian.Uint64(p))
	case Int64:
		return float64(int64(binary.LittleEndian.Uint64(p)))
	case Float32, NormalizedFloat:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(p)))
	case Float64, NormalizedDouble:
		return math.Float64frombits(binary.LittleEndian.Uint64(p))
	}
	return math.NaN()
}

// SetValue stores v at band offset i, rounding and clamping for integer types.
func (t *Tile) SetValue(band, i int, v float64) {
	p := t.buf[t.offset(band, i):]
	v = t.scalar.Clamp(v)
	switch t.scalar {
	case Uint8:
		p[0] = uint8(v)
	case Int8:
		p[0] = uint8(int8(v))
	case Uint16:
		binary.LittleEndian.PutUint16(p, uint16(v))
	case Int16:
		binary.LittleEndian.PutUint16(p, uint16(int16(v)))
	case Uint32:
		binary.LittleEndian.PutUint32(p, uint32(v))
	case Int32:
		binary.LittleEndian.PutUint32(p, uint32(int32(v)))
	case Uint64:
		if v >= math.MaxUint64 {
			binary.LittleEndian.PutUint64(p, math.MaxUint64)
		} else {
			binary.LittleEndian.PutUint64(p, uint64(v))
		}
	case Int64:
		if v >= math.MaxInt64 {
			binary.LittleEndian.PutUint64(p, math.MaxInt64)
		} else {
			binary.LittleEndian.PutUint64(p, uint64(int64(v)))
		}
	case Float32, NormalizedFloat:
		binary.LittleEndian.PutUint32(p, math.Float32bits(float32(v)))
	case Float64, NormalizedDouble:
		binary.LittleEndian.PutUint64(p, math.Float64bits(v))
	}
}

// IsNull returns true if band offset i holds the band's null value.
func (t *Tile) IsNull(band, i int) bool {
	return t.Value(band, i) == t.nulls[band]
}

// IsPixelNull returns true if every band at offset i is null.
func (t *Tile) IsPixelNull(i int) bool {
	for b := 0; b < t.bands; b++ {
		if !t.IsNull(b, i) {
			return false
		}
	}
	return true
}

// Normalized returns the value at band offset i mapped to [0,1] using the band's min
// and max.  Null pixels return 0.
func (t *Tile) Normalized(band, i int) float64 {
	v := t.Value(band, i)
	if v == t.nulls[band] {
		return 0
	}
	if t.scalar.IsNormalized() {
		return v
	}
	lo, hi := t.mins[band], t.maxs[band]
	if hi <= lo {
		return 0
	}
	n := (v - lo) / (hi - lo)
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

// SetNormalized stores a [0,1] value mapped into the band's min and max.
func (t *Tile) SetNormalized(band, i int, n float64) {
	if t.scalar.IsNormalized() {
		t.SetValue(band, i, n)
		return
	}
	lo, hi := t.mins[band], t.maxs[band]
	t.SetValue(band, i, lo+n*(hi-lo))
}

// ValidateStatus scans the buffer and sets the status: StatusEmpty if every value is
// its band's null, StatusFull if none are, StatusPartial otherwise.
func (t *Tile) ValidateStatus() TileStatus {
	if t.buf == nil {
		t.status = StatusNull
		return t.status
	}
	n := t.NumPixels()
	total := n * t.bands
	var nulls int
	for b := 0; b < t.bands; b++ {
		for i := 0; i < n; i++ {
			if t.IsNull(b, i) {
				nulls++
			}
		}
	}
	switch {
	case nulls == total:
		t.status = StatusEmpty
	case nulls == 0:
		t.status = StatusFull
	default:
		t.status = StatusPartial
	}
	return t.status
}

// CopyFrom copies the region where src overlaps t.  Values are converted through
// normalized space when scalar types differ and src null pixels become t's null.  If
// src has fewer bands, its last band is replicated.  The status of t is not updated.
func (t *Tile) CopyFrom(src *Tile) {
	if t.buf == nil || src == nil || src.buf == nil {
		return
	}
	clip := t.rect.Intersection(src.rect)
	if clip.HasNaNs() {
		return
	}
	sameType := src.scalar == t.scalar
	minX, minY, maxX, maxY := clip.Bounds()
	for b := 0; b < t.bands; b++ {
		sb := b
		if sb >= src.bands {
			sb = src.bands - 1
		}
		for y := minY; y <= maxY; y++ {
			for x := minX; x <= maxX; x++ {
				di := t.Index(x, y)
				si := src.Index(x, y)
				switch {
				case src.IsNull(sb, si):
					t.SetValue(b, di, t.nulls[b])
				case sameType:
					t.SetValue(b, di, src.Value(sb, si))
				default:
					t.SetNormalized(b, di, src.Normalized(sb, si))
				}
			}
		}
	}
}

// Clone returns a deep copy of the tile.
func (t *Tile) Clone() *Tile {
	c := &Tile{
		rect:   t.rect,
		bands:  t.bands,
		scalar: t.scalar,
		nulls:  append([]float64(nil), t.nulls...),
		mins:   append([]float64(nil), t.mins...),
		maxs:   append([]float64(nil), t.maxs...),
		status: t.status,
	}
	if t.buf != nil {
		c.buf = append([]byte(nil), t.buf...)
	}
	return c
}

// SameCharacteristics returns true if o has the same band count, scalar type and
// per-band null/min/max values as t.
func (t *Tile) SameCharacteristics(o *Tile) bool {
	if o == nil || t.bands != o.bands || t.scalar != o.scalar {
		return false
	}
	for b := 0; b < t.bands; b++ {
		if t.nulls[b] != o.nulls[b] || t.mins[b] != o.mins[b] || t.maxs[b] != o.maxs[b] {
			return false
		}
	}
	return true
}

func (t *Tile) String() string {
	return fmt.Sprintf("tile %s, %d bands of %s, %s", t.rect, t.bands, t.scalar, t.status)
}

// ToImage renders the tile as an 8-bit Go image for display.  One or two band tiles
// become image.Gray, three or more become image.NRGBA using the first three bands with
// fully transparent null pixels.
func (t *Tile) ToImage() image.Image {
	w, h := t.Width(), t.Height()
	bounds := image.Rect(0, 0, w, h)
	if t.buf == nil {
		return image.NewGray(bounds)
	}
	eight := func(b, i int) uint8 {
		if t.scalar == Uint8 {
			return uint8(t.Value(b, i))
		}
		return uint8(math.Round(t.Normalized(b, i) * 255))
	}
	if t.bands < 3 {
		img := image.NewGray(bounds)
		for i := 0; i < w*h; i++ {
			img.Pix[i] = eight(0, i)
		}
		return img
	}
	img := image.NewNRGBA(bounds)
	for i := 0; i < w*h; i++ {
		a := uint8(255)
		if t.IsPixelNull(i) {
			a = 0
		}
		img.SetNRGBA(i%w, i/w, color.NRGBA{eight(0, i), eight(1, i), eight(2, i), a})
	}
	return img
}
