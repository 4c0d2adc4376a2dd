// Package elevation answers height queries from a directory of elevation rasters.  A
// region is mapped once into a regular grid of height posts; queries interpolate
// between posts.
package elevation

import (
	"context"
	"fmt"
	"io/fs"
	"math"
	"path/filepath"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/tilegraph/combiner"
	"github.com/janelia-flyem/tilegraph/filter"
	"github.com/janelia-flyem/tilegraph/node"
	"github.com/janelia-flyem/tilegraph/source"
	"github.com/janelia-flyem/tilegraph/tg"
)

// MaxPosts bounds the size of a mapped grid.
const MaxPosts = 4096 * 4096

// relative tolerance for matching pixel spacings and snapping to posts
const (
	spacingTolerance = 1e-6
	snapTolerance    = 1e-6
)

// Geoid gives the height of the geoid above the ellipsoid.
type Geoid interface {
	Offset(lon, lat float64) float64
}

// ConstantGeoid is a geoid with the same offset everywhere.
type ConstantGeoid float64

func (g ConstantGeoid) Offset(lon, lat float64) float64 { return float64(g) }

// Grid is a north-up grid of height posts.  Post (0, 0) sits at (West, North).  No-data
// posts hold NaN.
type Grid struct {
	West, North        float64
	SpacingX, SpacingY float64
	Width, Height      int
	Units              tg.GroundUnits
	Posts              []float64
}

// At returns the post at column c and row r, or NaN outside the grid.
func (g *Grid) At(c, r int) float64 {
	if c < 0 || r < 0 || c >= g.Width || r >= g.Height {
		return math.NaN()
	}
	return g.Posts[r*g.Width+c]
}

// snap rounds v to the nearest integer when it is within the snapping tolerance.
func snap(v float64) float64 {
	if r := math.Round(v); math.Abs(v-r) < snapTolerance {
		return r
	}
	return v
}

// Interpolate returns the bilinear height at a ground point.  Posts with no weight are
// ignored; any weighted no-data post gives NaN.
func (g *Grid) Interpolate(x, y float64) float64 {
	col := snap((x - g.West) / g.SpacingX)
	row := snap((g.North - y) / g.SpacingY)
	if math.IsNaN(col) || math.IsNaN(row) || col < 0 || row < 0 ||
		col > float64(g.Width-1) || row > float64(g.Height-1) {
		return math.NaN()
	}
	c0, r0 := int(math.Floor(col)), int(math.Floor(row))
	fx, fy := col-float64(c0), row-float64(r0)
	var h float64
	for _, p := range []struct {
		c, r int
		w    float64
	}{
		{c0, r0, (1 - fx) * (1 - fy)},
		{c0 + 1, r0, fx * (1 - fy)},
		{c0, r0 + 1, (1 - fx) * fy},
		{c0 + 1, r0 + 1, fx * fy},
	} {
		if p.w == 0 {
			continue
		}
		v := g.At(p.c, p.r)
		if math.IsNaN(v) {
			return math.NaN()
		}
		h += p.w * v
	}
	return h
}

// Database maps regions of the elevation rasters found under Dir.
type Database struct {
	Dir    string
	Opener *source.Opener
	Geoid  Geoid

	mu   sync.RWMutex
	grid *Grid
}

// NewDatabase returns a database over dir.  A nil opener uses source.NewOpener().
func NewDatabase(dir string, opener *source.Opener, geoid Geoid) *Database {
	if opener == nil {
		opener = source.NewOpener()
	}
	return &Database{Dir: dir, Opener: opener, Geoid: geoid}
}

// Grid returns the last mapped grid, or nil.
func (d *Database) Grid() *Grid {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.grid
}

// candidate is an opened raster overlapping the mapped region.
type candidate struct {
	path string
	src  node.TileSource
	geom tg.ImageGeometry
}

// MapRegion builds the height grid for a ground region given in the rasters' ground
// units, normally degrees.  The previous grid is replaced only on success.
func (d *Database) MapRegion(ctx context.Context, region tg.DRect) error {
	if region.HasNaNs() {
		return fmt.Errorf("mapping undefined region")
	}
	timedLog := tg.NewTimeLog()
	paths, err := d.walk(ctx)
	if err != nil {
		return err
	}
	cands, err := d.open(ctx, paths, region)
	defer func() {
		for _, c := range cands {
			if c != nil {
				c.src.Close()
			}
		}
	}()
	if err != nil {
		return err
	}
	accepted := compatible(cands)
	if len(accepted) == 0 {
		return fmt.Errorf("no elevation data under %q covers %s", d.Dir, region)
	}
	grid, err := resample(accepted, region)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.grid = grid
	d.mu.Unlock()
	timedLog.Infof("mapped %s from %d of %d rasters under %q into %d x %d posts",
		region, len(accepted), len(paths), d.Dir, grid.Width, grid.Height)
	return nil
}

// walk lists the files under Dir the opener can read, in lexical order.
func (d *Database) walk(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(d.Dir, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !e.IsDir() && d.Opener.Handles(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking elevation directory %q: %v", d.Dir, err)
	}
	return paths, nil
}

// open opens every path concurrently and keeps those whose footprint overlaps region.
// Unreadable files are skipped.  The result is indexed like paths.
func (d *Database) open(ctx context.Context, paths []string, region tg.DRect) ([]*candidate, error) {
	cands := make([]*candidate, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			src, err := d.Opener.Open(path)
			if err != nil {
				tg.Debugf("skipping elevation file %q: %v\n", path, err)
				return nil
			}
			geom := src.Geometry()
			if geom == nil || !overlaps(geom, src.Bounds(0), region) {
				src.Close()
				return nil
			}
			cands[i] = &candidate{path: path, src: src, geom: geom}
			return nil
		})
	}
	return cands, g.Wait()
}

// overlaps reports whether the raster footprint meets region, with the footprint in its
// own ground units or converted to the other known units.
func overlaps(geom tg.ImageGeometry, bounds tg.IRect, region tg.DRect) bool {
	if tg.GroundRect(geom, bounds).Intersects(region) {
		return true
	}
	for _, u := range []tg.GroundUnits{tg.UnitsDegrees, tg.UnitsMeters} {
		if u == geom.Units() {
			continue
		}
		if g, ok := tg.InUnits(geom, u); ok && tg.GroundRect(g, bounds).Intersects(region) {
			return true
		}
	}
	return false
}

func sameSpacing(a, b float64) bool {
	return math.Abs(a-b) <= spacingTolerance*math.Max(math.Abs(a), math.Abs(b))
}

// compatible returns the candidates matching the first one: same scalar type, band
// count and pixel spacing.  Spacings in other ground units are compared after
// conversion, and accepted candidates keep the converted geometry.
func compatible(cands []*candidate) []*candidate {
	var out []*candidate
	for _, c := range cands {
		if c == nil {
			continue
		}
		if len(out) == 0 {
			out = append(out, c)
			continue
		}
		ref := out[0]
		geom, converted := tg.InUnits(c.geom, ref.geom.Units())
		switch {
		case c.src.ScalarType() != ref.src.ScalarType(), c.src.NumBands() != ref.src.NumBands():
			tg.Warningf("elevation file %q: %d bands of %s do not match %q\n", c.path,
				c.src.NumBands(), c.src.ScalarType(), ref.path)
		case !converted:
			tg.Warningf("elevation file %q: %s ground units do not match %s of %q\n", c.path,
				c.geom.Units(), ref.geom.Units(), ref.path)
		case !sameSpacing(ref.geom.PixelSpacing().X, geom.PixelSpacing().X),
			!sameSpacing(ref.geom.PixelSpacing().Y, geom.PixelSpacing().Y):
			cs := c.geom.PixelSpacing()
			tg.Warningf("elevation file %q: spacing %g x %g %s does not match %q\n", c.path,
				cs.X, cs.Y, c.geom.Units(), ref.path)
		default:
			if geom != c.geom {
				tg.Debugf("elevation file %q: %s converted to %s\n", c.path, c.geom.Units(), geom.Units())
			}
			c.geom = geom
			out = append(out, c)
		}
	}
	return out
}

// resample mosaics the rasters on the first one's pixel grid and samples the mosaic at
// every post of region.
func resample(rasters []*candidate, region tg.DRect) (*Grid, error) {
	ref := rasters[0].geom
	spacing := ref.PixelSpacing()
	minX, minY, maxX, maxY := region.Bounds()
	grid := &Grid{
		West:     minX,
		North:    maxY,
		SpacingX: spacing.X,
		SpacingY: spacing.Y,
		Width:    int(math.Floor(snap((maxX-minX)/spacing.X))) + 1,
		Height:   int(math.Floor(snap((maxY-minY)/spacing.Y))) + 1,
		Units:    ref.Units(),
	}
	if grid.Width*grid.Height > MaxPosts {
		return nil, fmt.Errorf("region %s needs %d x %d posts", region, grid.Width, grid.Height)
	}

	g := node.NewGraph()
	mosaic := combiner.NewMosaic()
	mosaicID, err := g.Add(mosaic)
	if err != nil {
		return nil, err
	}
	for _, c := range rasters {
		if err := place(g, mosaicID, c, ref); err != nil {
			return nil, err
		}
	}

	// pixel rectangle covering every post, plus a margin for interpolation
	corners := []tg.DPoint{
		ref.GroundToPixel(tg.DPoint{X: minX, Y: minY}),
		ref.GroundToPixel(tg.DPoint{X: maxX, Y: maxY}),
		ref.GroundToPixel(tg.DPoint{X: minX, Y: maxY}),
		ref.GroundToPixel(tg.DPoint{X: maxX, Y: minY}),
	}
	lo, hi := corners[0], corners[0]
	for _, p := range corners[1:] {
		lo.X, lo.Y = math.Min(lo.X, p.X), math.Min(lo.Y, p.Y)
		hi.X, hi.Y = math.Max(hi.X, p.X), math.Max(hi.Y, p.Y)
	}
	rect := tg.NewIRect(int(math.Floor(lo.X))-1, int(math.Floor(lo.Y))-1,
		int(math.Ceil(hi.X))+1, int(math.Ceil(hi.Y))+1)
	t := mosaic.GetTile(rect, 0)

	// the mosaic tile as a unit spaced grid with y = -row
	pixels := &Grid{Width: t.Width(), Height: t.Height(), SpacingX: 1, SpacingY: 1,
		Posts: make([]float64, t.NumPixels())}
	pixels.West, pixels.North = float64(rect.Origin().X), -float64(rect.Origin().Y)
	for i := range pixels.Posts {
		if !t.IsAllocated() || t.IsNull(0, i) {
			pixels.Posts[i] = math.NaN()
		} else {
			pixels.Posts[i] = t.Value(0, i)
		}
	}

	grid.Posts = make([]float64, grid.Width*grid.Height)
	for r := 0; r < grid.Height; r++ {
		for c := 0; c < grid.Width; c++ {
			p := ref.GroundToPixel(tg.DPoint{
				X: grid.West + float64(c)*grid.SpacingX,
				Y: grid.North - float64(r)*grid.SpacingY,
			})
			grid.Posts[r*grid.Width+c] = pixels.Interpolate(p.X, -p.Y)
		}
	}
	return grid, nil
}

// place connects a raster to the mosaic through a resampler onto ref's pixel grid.
func place(g *node.Graph, mosaicID tg.NodeID, c *candidate, ref tg.ImageGeometry) error {
	srcID, err := g.Add(c.src)
	if err != nil {
		return err
	}
	r := filter.NewResampler()
	rID, err := g.Add(r)
	if err != nil {
		return err
	}
	if err := g.Connect(rID, srcID); err != nil {
		return err
	}
	if err := g.Connect(mosaicID, rID); err != nil {
		return err
	}
	origin := ref.GroundToPixel(c.geom.PixelToGround(tg.DPoint{}))
	rs, cs := ref.PixelSpacing(), c.geom.PixelSpacing()
	return r.SetTransform(snap(cs.X/rs.X), snap(cs.Y/rs.Y), snap(origin.X), snap(origin.Y))
}

// HeightAboveMSL returns the height at a ground point, or NaN without coverage.
func (d *Database) HeightAboveMSL(lon, lat float64) float64 {
	g := d.Grid()
	if g == nil {
		return math.NaN()
	}
	return g.Interpolate(lon, lat)
}

// HeightAboveEllipsoid adds the geoid offset to the height above mean sea level.
func (d *Database) HeightAboveEllipsoid(lon, lat float64) float64 {
	h := d.HeightAboveMSL(lon, lat)
	if math.IsNaN(h) || d.Geoid == nil {
		return h
	}
	return h + d.Geoid.Offset(lon, lat)
}
