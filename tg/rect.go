package tg

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Orientation tells which way the Y axis of a rectangle increases.
type Orientation uint8

const (
	// TopDown rectangles have Y increasing downward, like image lines.
	TopDown Orientation = iota

	// BottomUp rectangles have Y increasing upward, like northings.
	BottomUp
)

func (o Orientation) String() string {
	switch o {
	case TopDown:
		return "top_down"
	case BottomUp:
		return "bottom_up"
	default:
		return fmt.Sprintf("orientation(%d)", uint8(o))
	}
}

func parseOrientation(s string) (Orientation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "top_down", "":
		return TopDown, nil
	case "bottom_up":
		return BottomUp, nil
	default:
		return TopDown, fmt.Errorf("unknown rectangle orientation %q", s)
	}
}

// IntNaN is the integer coordinate used for an undefined rectangle.
const IntNaN = math.MinInt32

// IPoint is an integer image coordinate.
type IPoint struct {
	X, Y int
}

func (p IPoint) HasNaN() bool {
	return p.X == IntNaN || p.Y == IntNaN
}

func (p IPoint) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// DPoint is a floating point coordinate.
type DPoint struct {
	X, Y float64
}

func (p DPoint) HasNaN() bool {
	return math.IsNaN(p.X) || math.IsNaN(p.Y)
}

func (p DPoint) Distance(q DPoint) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// IRect is an integer, axis-aligned rectangle with inclusive corners.  For a TopDown
// rectangle UL holds the minimum y; for BottomUp it holds the maximum y.  A rectangle
// with any IntNaN coordinate is undefined and never intersects, contains, or clips
// anything.
type IRect struct {
	UL, LR IPoint
	Orient Orientation
}

// NewIRect returns a TopDown rectangle spanning the two corners in any order.
func NewIRect(x0, y0, x1, y1 int) IRect {
	return NewIRectOriented(x0, y0, x1, y1, TopDown)
}

// NewIRectOriented returns a rectangle spanning the two corners using orientation o.
func NewIRectOriented(x0, y0, x1, y1 int, o Orientation) IRect {
	if x0 == IntNaN || y0 == IntNaN || x1 == IntNaN || y1 == IntNaN {
		return UndefinedIRect()
	}
	minX, maxX := minmax(x0, x1)
	minY, maxY := minmax(y0, y1)
	return fromBounds(minX, minY, maxX, maxY, o)
}

// NewIRectWH returns a TopDown rectangle with the given origin and size.
func NewIRectWH(x, y, width, height int) IRect {
	if width <= 0 || height <= 0 {
		return UndefinedIRect()
	}
	return NewIRect(x, y, x+width-1, y+height-1)
}

// UndefinedIRect returns the canonical undefined rectangle.
func UndefinedIRect() IRect {
	return IRect{UL: IPoint{IntNaN, IntNaN}, LR: IPoint{IntNaN, IntNaN}}
}

func fromBounds(minX, minY, maxX, maxY int, o Orientation) IRect {
	if o == BottomUp {
		return IRect{UL: IPoint{minX, maxY}, LR: IPoint{maxX, minY}, Orient: o}
	}
	return IRect{UL: IPoint{minX, minY}, LR: IPoint{maxX, maxY}, Orient: o}
}

func minmax(a, b int) (int, int) {
	if a < b {
		return a, b
	}
	return b, a
}

// HasNaNs returns true if the rectangle is undefined.
func (r IRect) HasNaNs() bool {
	return r.UL.HasNaN() || r.LR.HasNaN()
}

// Bounds returns the minimum and maximum coordinates regardless of orientation.
func (r IRect) Bounds() (minX, minY, maxX, maxY int) {
	minX, maxX = minmax(r.UL.X, r.LR.X)
	minY, maxY = minmax(r.UL.Y, r.LR.Y)
	return
}

func (r IRect) Width() int {
	if r.HasNaNs() {
		return 0
	}
	minX, _, maxX, _ := r.Bounds()
	return maxX - minX + 1
}

func (r IRect) Height() int {
	if r.HasNaNs() {
		return 0
	}
	_, minY, _, maxY := r.Bounds()
	return maxY - minY + 1
}

func (r IRect) Area() int {
	return r.Width() * r.Height()
}

// Origin returns the minimum x, minimum y corner.
func (r IRect) Origin() IPoint {
	if r.HasNaNs() {
		return IPoint{IntNaN, IntNaN}
	}
	minX, minY, _, _ := r.Bounds()
	return IPoint{minX, minY}
}

// Center returns the geometric center of the rectangle in pixel space.
func (r IRect) Center() DPoint {
	if r.HasNaNs() {
		return DPoint{math.NaN(), math.NaN()}
	}
	minX, minY, maxX, maxY := r.Bounds()
	return DPoint{float64(minX+maxX) / 2, float64(minY+maxY) / 2}
}

// Equal returns true if both rectangles describe the same region.  Two undefined
// rectangles are equal.
func (r IRect) Equal(o IRect) bool {
	if r.HasNaNs() || o.HasNaNs() {
		return r.HasNaNs() && o.HasNaNs()
	}
	return r == o
}

// ContainsPoint returns true if the point lies inside the rectangle.
func (r IRect) ContainsPoint(p IPoint) bool {
	if r.HasNaNs() || p.HasNaN() {
		return false
	}
	minX, minY, maxX, maxY := r.Bounds()
	return p.X >= minX && p.X <= maxX && p.Y >= minY && p.Y <= maxY
}

// Contains returns true if o lies completely within r.
func (r IRect) Contains(o IRect) bool {
	if r.HasNaNs() || o.HasNaNs() {
		return false
	}
	minX, minY, maxX, maxY := r.Bounds()
	oMinX, oMinY, oMaxX, oMaxY := o.Bounds()
	return oMinX >= minX && oMaxX <= maxX && oMinY >= minY && oMaxY <= maxY
}

// Intersects returns true if the rectangles share at least one pixel.
func (r IRect) Intersects(o IRect) bool {
	if r.HasNaNs() || o.HasNaNs() {
		return false
	}
	minX, minY, maxX, maxY := r.Bounds()
	oMinX, oMinY, oMaxX, oMaxY := o.Bounds()
	return minX <= oMaxX && oMinX <= maxX && minY <= oMaxY && oMinY <= maxY
}

// Intersection returns the clip of r against o, or an undefined rectangle if they don't
// intersect.  The result keeps the orientation of r.
func (r IRect) Intersection(o IRect) IRect {
	if !r.Intersects(o) {
		return UndefinedIRect()
	}
	minX, minY, maxX, maxY := r.Bounds()
	oMinX, oMinY, oMaxX, oMaxY := o.Bounds()
	return fromBounds(maxInt(minX, oMinX), maxInt(minY, oMinY), minInt(maxX, oMaxX), minInt(maxY, oMaxY), r.Orient)
}

// Combine returns the smallest rectangle holding both r and o.  If either is undefined
// the other is returned unchanged.
func (r IRect) Combine(o IRect) IRect {
	if r.HasNaNs() {
		return o
	}
	if o.HasNaNs() {
		return r
	}
	minX, minY, maxX, maxY := r.Bounds()
	oMinX, oMinY, oMaxX, oMaxY := o.Bounds()
	return fromBounds(minInt(minX, oMinX), minInt(minY, oMinY), maxInt(maxX, oMaxX), maxInt(maxY, oMaxY), r.Orient)
}

// Expand grows the rectangle by n pixels on every side.  Negative n shrinks it.
func (r IRect) Expand(n int) IRect {
	if r.HasNaNs() {
		return r
	}
	minX, minY, maxX, maxY := r.Bounds()
	if maxX-minX+2*n < 0 || maxY-minY+2*n < 0 {
		return UndefinedIRect()
	}
	return fromBounds(minX-n, minY-n, maxX+n, maxY+n, r.Orient)
}

// Translate shifts the rectangle by (dx, dy).
func (r IRect) Translate(dx, dy int) IRect {
	if r.HasNaNs() {
		return r
	}
	return IRect{
		UL:     IPoint{r.UL.X + dx, r.UL.Y + dy},
		LR:     IPoint{r.LR.X + dx, r.LR.Y + dy},
		Orient: r.Orient,
	}
}

// Scale multiplies the rectangle by a decimation factor.  The result covers every
// pixel of the scaled footprint, e.g., a 100 pixel wide rectangle at factor 0.5 is 50
// pixels wide.
func (r IRect) Scale(factor float64) IRect {
	if r.HasNaNs() || factor <= 0 || math.IsNaN(factor) {
		return UndefinedIRect()
	}
	minX, minY, maxX, maxY := r.Bounds()
	sMinX := int(math.Floor(float64(minX) * factor))
	sMinY := int(math.Floor(float64(minY) * factor))
	sMaxX := int(math.Ceil(float64(maxX+1)*factor)) - 1
	sMaxY := int(math.Ceil(float64(maxY+1)*factor)) - 1
	if sMaxX < sMinX {
		sMaxX = sMinX
	}
	if sMaxY < sMinY {
		sMaxY = sMinY
	}
	return fromBounds(sMinX, sMinY, sMaxX, sMaxY, r.Orient)
}

// ScaleLevel scales a full resolution rectangle to resolution level n using the power
// of two decimation.
func (r IRect) ScaleLevel(level int) IRect {
	return r.Scale(LevelDecimation(level))
}

// LevelDecimation returns 2^-level.
func LevelDecimation(level int) float64 {
	if level <= 0 {
		return 1.0
	}
	return math.Ldexp(1.0, -level)
}

// String returns "(x, y, width, height, orientation)" using the minimum corner.
func (r IRect) String() string {
	if r.HasNaNs() {
		return fmt.Sprintf("(nan, nan, nan, nan, %s)", r.Orient)
	}
	o := r.Origin()
	return fmt.Sprintf("(%d, %d, %d, %d, %s)", o.X, o.Y, r.Width(), r.Height(), r.Orient)
}

// ParseIRect parses the output of IRect.String().
func ParseIRect(s string) (IRect, error) {
	fields, err := rectFields(s)
	if err != nil {
		return UndefinedIRect(), err
	}
	o, err := parseOrientation(fields[4])
	if err != nil {
		return UndefinedIRect(), err
	}
	if strings.EqualFold(fields[0], "nan") {
		r := UndefinedIRect()
		r.Orient = o
		return r, nil
	}
	var v [4]int
	for i := 0; i < 4; i++ {
		if v[i], err = strconv.Atoi(fields[i]); err != nil {
			return UndefinedIRect(), fmt.Errorf("bad rectangle component %q: %v", fields[i], err)
		}
	}
	if v[2] <= 0 || v[3] <= 0 {
		return UndefinedIRect(), fmt.Errorf("rectangle %q has non-positive size", s)
	}
	return fromBounds(v[0], v[1], v[0]+v[2]-1, v[1]+v[3]-1, o), nil
}

func rectFields(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, ")")
	fields := strings.Split(s, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	switch len(fields) {
	case 4:
		fields = append(fields, "top_down")
	case 5:
	default:
		return nil, fmt.Errorf("rectangle %q needs 4 or 5 comma separated components", s)
	}
	return fields, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// DRect is the floating point counterpart of IRect, used for ground regions.  Edges are
// not inclusive so Width is simply max - min.
type DRect struct {
	UL, LR DPoint
	Orient Orientation
}

// NewDRect returns a rectangle spanning two corners with the given orientation.
func NewDRect(x0, y0, x1, y1 float64, o Orientation) DRect {
	if math.IsNaN(x0) || math.IsNaN(y0) || math.IsNaN(x1) || math.IsNaN(y1) {
		return UndefinedDRect()
	}
	return dFromBounds(math.Min(x0, x1), math.Min(y0, y1), math.Max(x0, x1), math.Max(y0, y1), o)
}

// UndefinedDRect returns the canonical undefined floating rectangle.
func UndefinedDRect() DRect {
	nan := math.NaN()
	return DRect{UL: DPoint{nan, nan}, LR: DPoint{nan, nan}}
}

func dFromBounds(minX, minY, maxX, maxY float64, o Orientation) DRect {
	if o == BottomUp {
		return DRect{UL: DPoint{minX, maxY}, LR: DPoint{maxX, minY}, Orient: o}
	}
	return DRect{UL: DPoint{minX, minY}, LR: DPoint{maxX, maxY}, Orient: o}
}

func (r DRect) HasNaNs() bool {
	return r.UL.HasNaN() || r.LR.HasNaN()
}

func (r DRect) Bounds() (minX, minY, maxX, maxY float64) {
	return math.Min(r.UL.X, r.LR.X), math.Min(r.UL.Y, r.LR.Y), math.Max(r.UL.X, r.LR.X), math.Max(r.UL.Y, r.LR.Y)
}

func (r DRect) Width() float64 {
	if r.HasNaNs() {
		return math.NaN()
	}
	return math.Abs(r.LR.X - r.UL.X)
}

func (r DRect) Height() float64 {
	if r.HasNaNs() {
		return math.NaN()
	}
	return math.Abs(r.LR.Y - r.UL.Y)
}

func (r DRect) Center() DPoint {
	if r.HasNaNs() {
		return DPoint{math.NaN(), math.NaN()}
	}
	return DPoint{(r.UL.X + r.LR.X) / 2, (r.UL.Y + r.LR.Y) / 2}
}

func (r DRect) ContainsPoint(p DPoint) bool {
	if r.HasNaNs() || p.HasNaN() {
		return false
	}
	minX, minY, maxX, maxY := r.Bounds()
	return p.X >= minX && p.X <= maxX && p.Y >= minY && p.Y <= maxY
}

func (r DRect) Contains(o DRect) bool {
	if r.HasNaNs() || o.HasNaNs() {
		return false
	}
	minX, minY, maxX, maxY := r.Bounds()
	oMinX, oMinY, oMaxX, oMaxY := o.Bounds()
	return oMinX >= minX && oMaxX <= maxX && oMinY >= minY && oMaxY <= maxY
}

func (r DRect) Intersects(o DRect) bool {
	if r.HasNaNs() || o.HasNaNs() {
		return false
	}
	minX, minY, maxX, maxY := r.Bounds()
	oMinX, oMinY, oMaxX, oMaxY := o.Bounds()
	return minX <= oMaxX && oMinX <= maxX && minY <= oMaxY && oMinY <= maxY
}

func (r DRect) Intersection(o DRect) DRect {
	if !r.Intersects(o) {
		return UndefinedDRect()
	}
	minX, minY, maxX, maxY := r.Bounds()
	oMinX, oMinY, oMaxX, oMaxY := o.Bounds()
	return dFromBounds(math.Max(minX, oMinX), math.Max(minY, oMinY), math.Min(maxX, oMaxX), math.Min(maxY, oMaxY), r.Orient)
}

// Combine returns the union of both rectangles.  An undefined operand returns the other.
func (r DRect) Combine(o DRect) DRect {
	if r.HasNaNs() {
		return o
	}
	if o.HasNaNs() {
		return r
	}
	minX, minY, maxX, maxY := r.Bounds()
	oMinX, oMinY, oMaxX, oMaxY := o.Bounds()
	return dFromBounds(math.Min(minX, oMinX), math.Min(minY, oMinY), math.Max(maxX, oMaxX), math.Max(maxY, oMaxY), r.Orient)
}

// String returns "(minx, miny, width, height, orientation)".
func (r DRect) String() string {
	if r.HasNaNs() {
		return fmt.Sprintf("(nan, nan, nan, nan, %s)", r.Orient)
	}
	minX, minY, _, _ := r.Bounds()
	return fmt.Sprintf("(%s, %s, %s, %s, %s)", formatFloat(minX), formatFloat(minY),
		formatFloat(r.Width()), formatFloat(r.Height()), r.Orient)
}

// ParseDRect parses the output of DRect.String().
func ParseDRect(s string) (DRect, error) {
	fields, err := rectFields(s)
	if err != nil {
		return UndefinedDRect(), err
	}
	o, err := parseOrientation(fields[4])
	if err != nil {
		return UndefinedDRect(), err
	}
	var v [4]float64
	for i := 0; i < 4; i++ {
		if v[i], err = strconv.ParseFloat(fields[i], 64); err != nil {
			return UndefinedDRect(), fmt.Errorf("bad rectangle component %q: %v", fields[i], err)
		}
	}
	if math.IsNaN(v[0]) {
		r := UndefinedDRect()
		r.Orient = o
		return r, nil
	}
	return dFromBounds(v[0], v[1], v[0]+v[2], v[1]+v[3], o), nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
