package tg

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// GroundUnits identifies the units of ground coordinates.
type GroundUnits uint8

const (
	UnitsUnknown GroundUnits = iota
	UnitsDegrees
	UnitsMeters
)

func (u GroundUnits) String() string {
	switch u {
	case UnitsDegrees:
		return "degrees"
	case UnitsMeters:
		return "meters"
	default:
		return "unknown"
	}
}

// ParseGroundUnits parses the output of GroundUnits.String.
func ParseGroundUnits(s string) GroundUnits {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "degrees":
		return UnitsDegrees
	case "meters":
		return UnitsMeters
	default:
		return UnitsUnknown
	}
}

// ImageGeometry maps full resolution image space to ground space.  Pixel coordinates
// address pixel centers.
type ImageGeometry interface {
	PixelToGround(p DPoint) DPoint
	GroundToPixel(g DPoint) DPoint

	// PixelSpacing returns the absolute ground distance covered by one pixel in x and y.
	PixelSpacing() DPoint

	Units() GroundUnits
}

// AffineGeometry is a six parameter affine transform in world-file order:
//
//	gx = A*col + B*row + C
//	gy = D*col + E*row + F
type AffineGeometry struct {
	A, B, C float64
	D, E, F float64
	Unit    GroundUnits
}

// NewNorthUpGeometry returns an unrotated geometry whose pixel (0,0) center lies at
// (originX, originY) with the given spacing.  Rows increase southward.
func NewNorthUpGeometry(originX, originY, spacingX, spacingY float64, units GroundUnits) *AffineGeometry {
	return &AffineGeometry{A: spacingX, C: originX, E: -spacingY, F: originY, Unit: units}
}

func (g *AffineGeometry) PixelToGround(p DPoint) DPoint {
	return DPoint{
		X: g.A*p.X + g.B*p.Y + g.C,
		Y: g.D*p.X + g.E*p.Y + g.F,
	}
}

func (g *AffineGeometry) GroundToPixel(gp DPoint) DPoint {
	det := g.A*g.E - g.B*g.D
	if det == 0 {
		return DPoint{math.NaN(), math.NaN()}
	}
	dx, dy := gp.X-g.C, gp.Y-g.F
	return DPoint{
		X: (g.E*dx - g.B*dy) / det,
		Y: (g.A*dy - g.D*dx) / det,
	}
}

func (g *AffineGeometry) PixelSpacing() DPoint {
	return DPoint{math.Hypot(g.A, g.D), math.Hypot(g.B, g.E)}
}

func (g *AffineGeometry) Units() GroundUnits {
	return g.Unit
}

// Decimated returns the geometry of an image reduced by factor, e.g., 0.5 for R1.
func (g *AffineGeometry) Decimated(factor float64) *AffineGeometry {
	if factor <= 0 {
		factor = 1
	}
	// Pixel centers of the reduced image sit at the center of the full resolution
	// block they cover.
	shift := (1/factor - 1) / 2
	origin := g.PixelToGround(DPoint{shift, shift})
	return &AffineGeometry{
		A: g.A / factor, B: g.B / factor, C: origin.X,
		D: g.D / factor, E: g.E / factor, F: origin.Y,
		Unit: g.Unit,
	}
}

// MetersPerDegree is the length of a degree along the WGS84 equator.
const MetersPerDegree = 6378137 * math.Pi / 180

// InUnits returns g with ground coordinates in u.  Meter grounds are taken as equidistant
// cylindrical coordinates on the WGS84 equatorial radius, so the conversion is a uniform
// scale.  It fails when either unit is unknown.
func InUnits(g ImageGeometry, u GroundUnits) (ImageGeometry, bool) {
	from := g.Units()
	switch {
	case from == u:
		return g, true
	case from == UnitsUnknown || u == UnitsUnknown:
		return nil, false
	}
	k := MetersPerDegree
	if u == UnitsDegrees {
		k = 1 / MetersPerDegree
	}
	if a, ok := g.(*AffineGeometry); ok {
		return &AffineGeometry{
			A: k * a.A, B: k * a.B, C: k * a.C,
			D: k * a.D, E: k * a.E, F: k * a.F,
			Unit: u,
		}, true
	}
	return scaledGeometry{g, k, u}, true
}

// scaledGeometry multiplies the ground coordinates of another geometry by k.
type scaledGeometry struct {
	g    ImageGeometry
	k    float64
	unit GroundUnits
}

func (s scaledGeometry) PixelToGround(p DPoint) DPoint {
	gp := s.g.PixelToGround(p)
	return DPoint{gp.X * s.k, gp.Y * s.k}
}

func (s scaledGeometry) GroundToPixel(gp DPoint) DPoint {
	return s.g.GroundToPixel(DPoint{gp.X / s.k, gp.Y / s.k})
}

func (s scaledGeometry) PixelSpacing() DPoint {
	sp := s.g.PixelSpacing()
	return DPoint{sp.X * s.k, sp.Y * s.k}
}

func (s scaledGeometry) Units() GroundUnits { return s.unit }

// GroundRect returns the ground extent covered by rect, including the outer half pixels.
func GroundRect(g ImageGeometry, rect IRect) DRect {
	if g == nil || rect.HasNaNs() {
		return UndefinedDRect()
	}
	minX, minY, maxX, maxY := rect.Bounds()
	corners := []DPoint{
		g.PixelToGround(DPoint{float64(minX) - 0.5, float64(minY) - 0.5}),
		g.PixelToGround(DPoint{float64(maxX) + 0.5, float64(minY) - 0.5}),
		g.PixelToGround(DPoint{float64(maxX) + 0.5, float64(maxY) + 0.5}),
		g.PixelToGround(DPoint{float64(minX) - 0.5, float64(maxY) + 0.5}),
	}
	out := UndefinedDRect()
	for _, c := range corners {
		out = out.Combine(NewDRect(c.X, c.Y, c.X, c.Y, BottomUp))
	}
	return out
}

// ParseWorldFile reads the six lines of an ESRI world file (A, D, B, E, C, F).  World
// files reference the center of the upper left pixel.
func ParseWorldFile(r io.Reader, units GroundUnits) (*AffineGeometry, error) {
	var vals []float64
	scanner := bufio.NewScanner(r)
	for scanner.Scan() && len(vals) < 6 {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		f, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("bad world file value %q: %v", line, err)
		}
		vals = append(vals, f)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(vals) != 6 {
		return nil, fmt.Errorf("world file has %d values, expected 6", len(vals))
	}
	g := &AffineGeometry{A: vals[0], D: vals[1], B: vals[2], E: vals[3], C: vals[4], F: vals[5], Unit: units}
	if units == UnitsUnknown {
		if math.Abs(g.C) <= 180 && math.Abs(g.F) <= 90 && math.Abs(g.A) < 1 {
			g.Unit = UnitsDegrees
		} else {
			g.Unit = UnitsMeters
		}
	}
	return g, nil
}

// SaveGeometry writes an affine geometry into a keyword list.
func SaveGeometry(k KWL, prefix string, g *AffineGeometry) {
	if g == nil {
		return
	}
	k.Add(prefix, "geometry.affine", []float64{g.A, g.B, g.C, g.D, g.E, g.F})
	k.Add(prefix, "geometry.units", g.Unit)
}

// LoadGeometry reads a geometry written by SaveGeometry.  A missing geometry returns nil.
func LoadGeometry(k KWL, prefix string) (*AffineGeometry, error) {
	if _, found := k.Find(prefix, "geometry.affine"); !found {
		return nil, nil
	}
	v, err := k.FindFloats(prefix, "geometry.affine")
	if err != nil {
		return nil, err
	}
	if len(v) != 6 {
		return nil, fmt.Errorf("geometry has %d coefficients, expected 6", len(v))
	}
	units, _ := k.Find(prefix, "geometry.units")
	return &AffineGeometry{A: v[0], B: v[1], C: v[2], D: v[3], E: v[4], F: v[5], Unit: ParseGroundUnits(units)}, nil
}
