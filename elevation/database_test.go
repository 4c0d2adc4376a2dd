package elevation

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/janelia-flyem/tilegraph/source"
	"github.com/janelia-flyem/tilegraph/tg"
)

// writeHGT writes a cell of posts x posts big endian heights.
func writeHGT(t *testing.T, dir, name string, posts int, height func(row, col int) int16) {
	buf := make([]byte, 2*posts*posts)
	for r := 0; r < posts; r++ {
		for c := 0; c < posts; c++ {
			binary.BigEndian.PutUint16(buf[2*(r*posts+c):], uint16(height(r, c)))
		}
	}
	if err := os.WriteFile(filepath.Join(dir, name), buf, 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func testDir(t *testing.T) string {
	dir := t.TempDir()
	writeHGT(t, dir, "N21E034.hgt", 11, func(r, c int) int16 { return int16(100 + 10*r + c) })
	writeHGT(t, dir, "N21E035.hgt", 11, func(r, c int) int16 { return int16(1000 + 10*r + c) })
	// finer spacing than the first accepted cell
	writeHGT(t, dir, "N22E034.hgt", 21, func(r, c int) int16 { return 7 })
	if err := os.WriteFile(filepath.Join(dir, "N23E034.hgt"), []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a raster"), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestMapRegion(t *testing.T) {
	d := NewDatabase(testDir(t), nil, ConstantGeoid(20))
	if h := d.HeightAboveMSL(34.3, 21.8); !math.IsNaN(h) {
		t.Errorf("expected NaN before mapping, got %f", h)
	}
	region := tg.NewDRect(34, 21, 36, 22.5, tg.BottomUp)
	if err := d.MapRegion(context.Background(), region); err != nil {
		t.Fatalf("map region: %v", err)
	}
	g := d.Grid()
	if g.Width != 21 || g.Height != 16 {
		t.Errorf("expected 21 x 16 posts, got %d x %d", g.Width, g.Height)
	}
	if g.Units != tg.UnitsDegrees {
		t.Errorf("expected degrees, got %s", g.Units)
	}

	tests := []struct {
		lon, lat float64
		want     float64
	}{
		{34.3, 21.8, 123},
		{34.35, 21.8, 123.5},
		{35.5, 21.5, 1055},
		{35.0, 21.5, 160}, // shared edge comes from the first cell
		{34.0, 22.0, 100},
		{36.0, 21.0, 1110},
	}
	for _, tc := range tests {
		if h := d.HeightAboveMSL(tc.lon, tc.lat); !near(h, tc.want) {
			t.Errorf("height at (%g, %g): expected %g, got %g", tc.lon, tc.lat, tc.want, h)
		}
	}
	if h := d.HeightAboveEllipsoid(34.3, 21.8); !near(h, 143) {
		t.Errorf("expected ellipsoid height 143, got %f", h)
	}

	// the finer cell north of 22 was rejected
	for _, p := range [][2]float64{{34.5, 22.3}, {40, 21.5}, {34.5, 20.5}} {
		if h := d.HeightAboveMSL(p[0], p[1]); !math.IsNaN(h) {
			t.Errorf("expected NaN at %v, got %f", p, h)
		}
		if h := d.HeightAboveEllipsoid(p[0], p[1]); !math.IsNaN(h) {
			t.Errorf("expected NaN ellipsoid height at %v, got %f", p, h)
		}
	}
}

func TestMapRegionFailures(t *testing.T) {
	d := NewDatabase(testDir(t), nil, nil)
	ctx := context.Background()
	if err := d.MapRegion(ctx, tg.NewDRect(0, 0, 1, 1, tg.BottomUp)); err == nil {
		t.Errorf("expected error for a region without data")
	}
	if err := d.MapRegion(ctx, tg.UndefinedDRect()); err == nil {
		t.Errorf("expected error for an undefined region")
	}
	if d.Grid() != nil {
		t.Errorf("failed mapping should not leave a grid")
	}

	region := tg.NewDRect(34, 21, 35, 22, tg.BottomUp)
	if err := d.MapRegion(ctx, region); err != nil {
		t.Fatalf("map region: %v", err)
	}
	if h := d.HeightAboveEllipsoid(34.5, 21.5); !near(h, 155) {
		t.Errorf("nil geoid should add nothing, got %f", h)
	}
	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if err := d.MapRegion(canceled, region); err == nil {
		t.Errorf("expected error from a canceled context")
	}
	if d.Grid() == nil {
		t.Errorf("failed mapping replaced the previous grid")
	}

	empty := NewDatabase(t.TempDir(), nil, nil)
	if err := empty.MapRegion(ctx, region); err == nil {
		t.Errorf("expected error for an empty directory")
	}
	missing := NewDatabase(filepath.Join(t.TempDir(), "missing"), nil, nil)
	if err := missing.MapRegion(ctx, region); err == nil {
		t.Errorf("expected error for a missing directory")
	}
}

// flatCandidate returns a 10 x 10 raster of height v on geom.
func flatCandidate(name string, v float64, geom *tg.AffineGeometry) *candidate {
	tile := tg.NewBlankTile(tg.NewIRectWH(0, 0, 10, 10), 1, tg.Int16)
	tile.Fill(0, v)
	tile.ValidateStatus()
	src := source.NewMemory(tile)
	src.SetGeometry(geom)
	return &candidate{path: name, src: src, geom: geom}
}

func TestCompatibleAcrossUnits(t *testing.T) {
	deg := flatCandidate("deg", 100, tg.NewNorthUpGeometry(34, 22, 0.1, 0.1, tg.UnitsDegrees))
	meters := flatCandidate("meters", 200, tg.NewNorthUpGeometry(35*tg.MetersPerDegree, 22*tg.MetersPerDegree,
		0.1*tg.MetersPerDegree, 0.1*tg.MetersPerDegree, tg.UnitsMeters))
	coarse := flatCandidate("coarse", 300, tg.NewNorthUpGeometry(36*tg.MetersPerDegree, 22*tg.MetersPerDegree,
		30, 30, tg.UnitsMeters))
	unknown := flatCandidate("unknown", 400, tg.NewNorthUpGeometry(0, 0, 0.1, 0.1, tg.UnitsUnknown))

	accepted := compatible([]*candidate{deg, nil, meters, coarse, unknown})
	if len(accepted) != 2 || accepted[0] != deg || accepted[1] != meters {
		t.Fatalf("expected the degree and matching meter rasters, got %d", len(accepted))
	}
	if meters.geom.Units() != tg.UnitsDegrees {
		t.Errorf("accepted meter raster should be converted to degrees, got %s", meters.geom.Units())
	}
	if sp := meters.geom.PixelSpacing(); !near(sp.X, 0.1) || !near(sp.Y, 0.1) {
		t.Errorf("converted spacing %v", sp)
	}

	grid, err := resample(accepted, tg.NewDRect(34, 21.1, 35.9, 22, tg.BottomUp))
	if err != nil {
		t.Fatalf("resample: %v", err)
	}
	if grid.Units != tg.UnitsDegrees {
		t.Errorf("expected a degree grid, got %s", grid.Units)
	}
	if h := grid.Interpolate(34.5, 21.5); !near(h, 100) {
		t.Errorf("expected 100 from the degree raster, got %f", h)
	}
	if h := grid.Interpolate(35.5, 21.5); !near(h, 200) {
		t.Errorf("expected 200 from the meter raster, got %f", h)
	}

	// meters first: degree rasters are compared in meters
	m2 := flatCandidate("m2", 200, tg.NewNorthUpGeometry(0, 0, 0.1*tg.MetersPerDegree, 0.1*tg.MetersPerDegree, tg.UnitsMeters))
	d2 := flatCandidate("d2", 100, tg.NewNorthUpGeometry(0, 0, 0.1, 0.1, tg.UnitsDegrees))
	if got := compatible([]*candidate{m2, d2}); len(got) != 2 || d2.geom.Units() != tg.UnitsMeters {
		t.Errorf("matching meters per pixel should accept the degree raster")
	}
}

func TestGridInterpolate(t *testing.T) {
	g := &Grid{West: 0, North: 2, SpacingX: 1, SpacingY: 1, Width: 3, Height: 3,
		Posts: []float64{0, 1, 2, 10, 11, 12, 20, math.NaN(), 22}}
	if h := g.Interpolate(0.5, 1.5); !near(h, 5.5) {
		t.Errorf("expected 5.5, got %f", h)
	}
	if h := g.Interpolate(2, 0); !near(h, 22) {
		t.Errorf("expected corner post 22, got %f", h)
	}
	if h := g.Interpolate(1.5, 0.5); !math.IsNaN(h) {
		t.Errorf("expected NaN next to a no-data post, got %f", h)
	}
	if h := g.Interpolate(2, 1); !near(h, 12) {
		t.Errorf("unweighted no-data posts should be ignored, got %f", h)
	}
	if h := g.Interpolate(3.5, 1); !math.IsNaN(h) {
		t.Errorf("expected NaN outside the grid, got %f", h)
	}
}
