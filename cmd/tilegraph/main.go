// Command-line front end for tilegraph: builds a chain over an image, replicates it
// across worker threads and renders its tiles.

package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/image/draw"

	"github.com/janelia-flyem/tilegraph"
	"github.com/janelia-flyem/tilegraph/chain"
	"github.com/janelia-flyem/tilegraph/config"
	"github.com/janelia-flyem/tilegraph/elevation"
	"github.com/janelia-flyem/tilegraph/replicate"
	"github.com/janelia-flyem/tilegraph/tg"
)

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("verbose", false, "")

	// TOML configuration file.  Defaults are used when unset.
	configFile = flag.String("config", "", "")

	// Overrides of the [pipeline] section.
	threads  = flag.Int("threads", 1, "")
	share    = flag.Bool("share", false, "")
	tileSize = flag.Int("tile", config.DefaultTileSize, "")
	level    = flag.Int("level", 0, "")

	// Longest side of a rendered preview in pixels.  Zero keeps the full size.
	preview = flag.Int("preview", 0, "")
)

const helpMessage = `
tilegraph pulls tiles through a raster processing graph

Usage: tilegraph [options] <command>

      -config     =string   TOML configuration file.
      -threads    =number   Number of graph clones pulling tiles concurrently.
      -share      (flag)    Share one serialized reader per source across clones.
      -tile       =number   Tile side in pixels.
      -level      =number   Resolution level to render.
      -preview    =number   Scale the rendered image so its longest side fits.
      -verbose    (flag)    Run in verbose mode.
  -h, -help       (flag)    Show help message

Commands:

	render <image> <output.png>
	state  <image>
	height <lon> <lat>
	types
	version
`

var usage = func() {
	fmt.Print(helpMessage)
}

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() >= 1 && strings.ToLower(flag.Args()[0]) == "help" {
		*showHelp = true
	}
	if *showHelp || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	if *runVerbose {
		tg.Verbose = true
		tg.SetLogMode(tg.DebugMode)
	}
	cfg.Logging.SetLogger()
	defer tg.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := DoCommand(ctx, cfg, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		tg.Shutdown()
		os.Exit(1)
	}
}

// loadConfig reads the configuration file, then applies any pipeline flags given
// explicitly on the command line.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			return cfg, err
		}
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "threads":
			cfg.Pipeline.Threads = *threads
		case "share":
			cfg.Pipeline.ShareSources = *share
		case "tile":
			cfg.Pipeline.TileSize = *tileSize
		case "level":
			cfg.Pipeline.Level = *level
		}
	})
	return cfg, cfg.Validate()
}

// DoCommand serves as a switchboard for commands.
func DoCommand(ctx context.Context, cfg config.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("blank command")
	}
	name, args := args[0], args[1:]
	switch name {
	case "render":
		if len(args) != 2 {
			return fmt.Errorf("usage: render <image> <output.png>")
		}
		return DoRender(ctx, cfg, args[0], args[1])
	case "state":
		if len(args) != 1 {
			return fmt.Errorf("usage: state <image>")
		}
		return DoState(cfg, args[0])
	case "height":
		if len(args) != 2 {
			return fmt.Errorf("usage: height <lon> <lat>")
		}
		return DoHeight(ctx, cfg, args[0], args[1])
	case "types":
		reg, err := tilegraph.NewRegistry()
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(reg.Names(), "\n"))
	case "version":
		fmt.Printf("tilegraph %s\n", tilegraph.Version)
	default:
		return fmt.Errorf("unknown command %q", name)
	}
	return nil
}

func buildChain(cfg config.Config, path string) (*chain.Chain, error) {
	opts, err := cfg.ChainOptions()
	if err != nil {
		return nil, err
	}
	return chain.NewBuilder(nil, opts).Build(path)
}

// DoState prints the saved state of the chain built over an image.
func DoState(cfg config.Config, path string) error {
	c, err := buildChain(cfg, path)
	if err != nil {
		return err
	}
	defer c.Close()
	k, err := c.State()
	if err != nil {
		return err
	}
	fmt.Print(k.String())
	return nil
}

// tileRequests covers bounds with square tiles of the given side, row by row.
func tileRequests(bounds tg.IRect, side, level int) []replicate.Request {
	minX, minY, maxX, maxY := bounds.Bounds()
	var reqs []replicate.Request
	for y := minY; y <= maxY; y += side {
		for x := minX; x <= maxX; x += side {
			rect := tg.NewIRect(x, y, x+side-1, y+side-1).Intersection(bounds)
			reqs = append(reqs, replicate.Request{Rect: rect, Level: level})
		}
	}
	return reqs
}

// DoRender pulls every tile of an image's chain through the replicated graph and writes
// the mosaic of them as a PNG.
func DoRender(ctx context.Context, cfg config.Config, path, output string) error {
	timedLog := tg.NewTimeLog()
	c, err := buildChain(cfg, path)
	if err != nil {
		return err
	}
	defer c.Close()

	reg, err := tilegraph.NewRegistry()
	if err != nil {
		return err
	}
	a := replicate.NewAdaptor(reg)
	if err := a.SetOriginal(c.Graph(), c.TerminalID()); err != nil {
		return err
	}
	a.SetShareSources(cfg.Pipeline.ShareSources)
	defer a.Reset()
	if err := a.SetThreadCount(cfg.Pipeline.Threads); err != nil {
		tg.Warningf("replication failed, rendering with one thread: %v\n", err)
	}

	pool, err := replicate.NewPool(a)
	if err != nil {
		return err
	}
	bounds := c.Terminal().Bounds(cfg.Pipeline.Level)
	if bounds.HasNaNs() {
		return fmt.Errorf("%q has no data at level %d", path, cfg.Pipeline.Level)
	}
	reqs := tileRequests(bounds, cfg.Pipeline.TileSize, cfg.Pipeline.Level)
	tiles, err := pool.Process(ctx, reqs)
	if err != nil {
		return err
	}

	origin := bounds.Origin()
	canvas := image.NewNRGBA(image.Rect(0, 0, bounds.Width(), bounds.Height()))
	for _, t := range tiles {
		o := t.Rect().Origin()
		r := image.Rect(o.X-origin.X, o.Y-origin.Y, o.X-origin.X+t.Width(), o.Y-origin.Y+t.Height())
		draw.Draw(canvas, r, t.ToImage(), image.Point{}, draw.Src)
	}
	var img image.Image = canvas
	if *preview > 0 {
		img = scalePreview(canvas, *preview)
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encoding %s: %v", output, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	timedLog.Infof("rendered %d tiles of %s at level %d with %d threads into %s",
		len(tiles), path, cfg.Pipeline.Level, pool.Workers(), output)
	return nil
}

// scalePreview shrinks img so that its longest side is at most side pixels.
func scalePreview(img image.Image, side int) image.Image {
	b := img.Bounds()
	longest := b.Dx()
	if b.Dy() > longest {
		longest = b.Dy()
	}
	if longest <= side {
		return img
	}
	w, h := b.Dx()*side/longest, b.Dy()*side/longest
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// elevation regions are mapped this far around a queried point, in degrees
const heightMargin = 0.05

// DoHeight reports the heights at a point from the configured elevation directory.
func DoHeight(ctx context.Context, cfg config.Config, lonStr, latStr string) error {
	if cfg.Elevation.Dir == "" {
		return fmt.Errorf("no [elevation] dir configured")
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return fmt.Errorf("bad longitude %q: %v", lonStr, err)
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return fmt.Errorf("bad latitude %q: %v", latStr, err)
	}
	db := elevation.NewDatabase(cfg.Elevation.Dir, nil, elevation.ConstantGeoid(cfg.Elevation.GeoidOffset))
	region := tg.NewDRect(lon-heightMargin, lat-heightMargin, lon+heightMargin, lat+heightMargin, tg.BottomUp)
	if err := db.MapRegion(ctx, region); err != nil {
		return err
	}
	fmt.Printf("lon %g lat %g: %g m above MSL, %g m above ellipsoid\n",
		lon, lat, db.HeightAboveMSL(lon, lat), db.HeightAboveEllipsoid(lon, lat))
	return nil
}
