// Package chain assembles the standard single-source processing chain: a tile source
// followed by optional band selection, histogram stretch, caching, scalar remapping
// and resampling stages in a fixed order.
package chain

import (
	"fmt"

	"github.com/janelia-flyem/tilegraph/filter"
	"github.com/janelia-flyem/tilegraph/node"
	"github.com/janelia-flyem/tilegraph/source"
	"github.com/janelia-flyem/tilegraph/tg"
)

// Stage names a position in a chain.
type Stage uint8

const (
	StageSource Stage = iota
	StageBandSelector
	StageHistogramRemapper
	StageResamplerCache
	StageScalarRemapper
	StageResampler
	StageChainCache
)

var stageNames = []string{"source", "band selector", "histogram remapper", "resampler cache",
	"scalar remapper", "resampler", "chain cache"}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", uint8(s))
}

// histogramPixels bounds the largest side of the level scanned for a histogram.
const histogramPixels = 1024

// Options selects the optional stages of a chain.
type Options struct {
	// Bands picks and orders source bands.  Empty keeps every band.
	Bands []int

	// AddHistogram computes a histogram of the source and adds a histogram remapper
	// using StretchMode.
	AddHistogram bool
	StretchMode  filter.StretchMode

	AddResamplerCache bool
	AddChainCache     bool

	// RemapTo8Bit adds a scalar remapper unless the source is already 8-bit.
	RemapTo8Bit bool

	// ForceThreeBand makes the output exactly three bands using the band selector.
	ForceThreeBand bool
	ReverseBands   bool

	// CacheBytes and Compression configure the chain cache.
	CacheBytes  int
	Compression string
}

// Builder opens sources and wraps them in chains.
type Builder struct {
	Opener  *source.Opener
	Options Options
}

// NewBuilder returns a builder.  A nil opener uses source.NewOpener().
func NewBuilder(opener *source.Opener, opts Options) *Builder {
	if opener == nil {
		opener = source.NewOpener()
	}
	return &Builder{Opener: opener, Options: opts}
}

// Chain is a single-source graph and the stages it holds.
type Chain struct {
	graph    *node.Graph
	src      node.TileSource
	stages   []Stage
	ids      map[Stage]tg.NodeID
	terminal tg.NodeID
}

// Build opens path and returns a chain around it.
func (b *Builder) Build(path string) (*Chain, error) {
	src, err := b.Opener.Open(path)
	if err != nil {
		return nil, fmt.Errorf("building chain for %q: %v", path, err)
	}
	c, err := b.BuildFrom(src)
	if err != nil {
		src.Close()
		return nil, err
	}
	return c, nil
}

// BuildFrom returns a chain around an opened source.
func (b *Builder) BuildFrom(src node.TileSource) (*Chain, error) {
	if !src.IsOpen() {
		return nil, fmt.Errorf("building chain for %q: %w", src.Path(), tg.ErrNotOpen)
	}
	timedLog := tg.NewTimeLog()
	opts := b.Options
	c := &Chain{
		graph: node.NewGraph(),
		src:   src,
		ids:   make(map[Stage]tg.NodeID),
	}
	if err := c.append(StageSource, src); err != nil {
		return nil, err
	}

	// a forced band count reuses the selector right after the source
	if src.NumBands() > 1 || len(opts.Bands) > 0 || opts.ForceThreeBand || opts.ReverseBands {
		sel := filter.NewBandSelector(opts.Bands...)
		if err := c.append(StageBandSelector, sel); err != nil {
			return nil, err
		}
		if opts.ForceThreeBand || opts.ReverseBands {
			n := sel.NumBands()
			if opts.ForceThreeBand {
				n = 3
			}
			sel.ForceBands(n, opts.ReverseBands)
		}
	}
	if opts.AddHistogram {
		remap := filter.NewHistogramRemapper()
		if err := c.append(StageHistogramRemapper, remap); err != nil {
			return nil, err
		}
		h, err := filter.ComputeHistogram(c.Terminal(), histogramLevel(src), 256)
		if err != nil {
			return nil, err
		}
		remap.SetHistogram(h)
		remap.SetStretchMode(opts.StretchMode)
	}
	if opts.AddResamplerCache {
		cfg := filter.DefaultCacheConfig()
		if err := c.append(StageResamplerCache, filter.NewCache(cfg)); err != nil {
			return nil, err
		}
	}
	if opts.RemapTo8Bit && src.ScalarType() != tg.Uint8 {
		if err := c.append(StageScalarRemapper, filter.NewScalarRemapper(tg.Uint8)); err != nil {
			return nil, err
		}
	}
	if err := c.append(StageResampler, filter.NewResampler()); err != nil {
		return nil, err
	}
	if opts.AddChainCache {
		cfg := filter.CacheConfig{
			Backend:     filter.CompressedBackend,
			Compression: opts.Compression,
			MaxBytes:    opts.CacheBytes,
		}
		if err := c.append(StageChainCache, filter.NewCache(cfg)); err != nil {
			return nil, err
		}
	}
	timedLog.Debugf("built %d stage chain for %s %q", len(c.stages), src.TypeName(), src.Path())
	return c, nil
}

// histogramLevel returns the first level no larger than histogramPixels on a side.
func histogramLevel(src node.Node) int {
	for level := 0; level < 32; level++ {
		b := src.Bounds(level)
		if b.HasNaNs() || (b.Width() <= histogramPixels && b.Height() <= histogramPixels) {
			return level
		}
	}
	return 0
}

func (c *Chain) append(s Stage, n node.Node) error {
	id, err := c.graph.Add(n)
	if err != nil {
		return err
	}
	if c.terminal != tg.InvalidNodeID {
		if err := c.graph.Connect(id, c.terminal); err != nil {
			return err
		}
	}
	c.terminal = id
	c.ids[s] = id
	c.stages = append(c.stages, s)
	return nil
}

// Graph returns the graph holding the chain.
func (c *Chain) Graph() *node.Graph { return c.graph }

// Source returns the chain's tile source.
func (c *Chain) Source() node.TileSource { return c.src }

// Terminal returns the last node of the chain.
func (c *Chain) Terminal() node.Node { return c.graph.Node(c.terminal) }

func (c *Chain) TerminalID() tg.NodeID { return c.terminal }

// Stage returns the node of a stage, or nil if the chain does not have it.
func (c *Chain) Stage(s Stage) node.Node {
	id, found := c.ids[s]
	if !found {
		return nil
	}
	return c.graph.Node(id)
}

// Stages returns the chain's stages from the source on.
func (c *Chain) Stages() []Stage {
	return append([]Stage(nil), c.stages...)
}

// State returns the keyword list describing the chain.
func (c *Chain) State() (tg.KWL, error) {
	return node.SaveGraph(c.graph, c.terminal)
}

// GetTile requests a tile from the end of the chain.
func (c *Chain) GetTile(rect tg.IRect, level int) *tg.Tile {
	return c.Terminal().GetTile(rect, level)
}

// Close closes the chain's source.
func (c *Chain) Close() {
	c.src.Close()
}
