package chain

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/janelia-flyem/tilegraph/filter"
	"github.com/janelia-flyem/tilegraph/node"
	"github.com/janelia-flyem/tilegraph/source"
	"github.com/janelia-flyem/tilegraph/tg"
)

func memorySource(bands int, scalar tg.ScalarType) *source.Memory {
	t := tg.NewBlankTile(tg.NewIRectWH(0, 0, 32, 32), bands, scalar)
	for b := 0; b < bands; b++ {
		for i := 0; i < t.NumPixels(); i++ {
			t.SetValue(b, i, float64(1+(i+b*7)%250))
		}
	}
	t.ValidateStatus()
	return source.NewMemory(t)
}

func TestEightBitThreeBand(t *testing.T) {
	src := memorySource(3, tg.Uint8)
	c, err := NewBuilder(nil, Options{RemapTo8Bit: true, ForceThreeBand: true}).BuildFrom(src)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := []Stage{StageSource, StageBandSelector, StageResampler}
	if got := c.Stages(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected stages %v, got %v", want, got)
	}
	if c.Stage(StageScalarRemapper) != nil {
		t.Errorf("8-bit source should not get a scalar remapper")
	}
	var selectors int
	for _, n := range c.Graph().Nodes() {
		if _, ok := node.AsBandSelector(n); ok {
			selectors++
		}
	}
	if selectors != 1 {
		t.Errorf("expected exactly one band selector, found %d", selectors)
	}
	sel := c.Stage(StageBandSelector)
	if ins := c.Graph().Inputs(sel.ID()); len(ins) != 1 || ins[0] != src.ID() {
		t.Errorf("band selector should follow the source directly, inputs %v", ins)
	}
	if c.Terminal().NumBands() != 3 {
		t.Errorf("expected 3 output bands, got %d", c.Terminal().NumBands())
	}
}

func TestFullChain(t *testing.T) {
	src := memorySource(1, tg.Uint16)
	opts := Options{
		AddHistogram:      true,
		StretchMode:       filter.StretchAutoMinMax,
		AddResamplerCache: true,
		AddChainCache:     true,
		RemapTo8Bit:       true,
		ForceThreeBand:    true,
		ReverseBands:      true,
		CacheBytes:        8 << 20,
		Compression:       filter.ZstdCompression,
	}
	c, err := NewBuilder(nil, opts).BuildFrom(src)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := []Stage{StageSource, StageBandSelector, StageHistogramRemapper, StageResamplerCache,
		StageScalarRemapper, StageResampler, StageChainCache}
	if got := c.Stages(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected stages %v, got %v", want, got)
	}
	order := c.Graph().TopoOrder(c.TerminalID())
	if len(order) != len(want) {
		t.Fatalf("expected %d nodes upstream of the terminal, got %d", len(want), len(order))
	}
	for i, n := range order {
		if n.ID() != c.Stage(want[i]).ID() {
			t.Errorf("stage %s out of order", want[i])
		}
	}
	if c.Terminal().TypeName() != "cache" {
		t.Errorf("chain should end with the cache, got %s", c.Terminal().TypeName())
	}
	remap := c.Stage(StageHistogramRemapper).(*filter.HistogramRemapper)
	if _, _, ok := remap.Clips(0); !ok {
		t.Errorf("histogram remapper has no clip points")
	}

	tile := c.GetTile(tg.NewIRectWH(0, 0, 16, 16), 0)
	if tile.ScalarType() != tg.Uint8 || tile.NumBands() != 3 {
		t.Errorf("expected 3 band uint8 tile, got %d bands of %s", tile.NumBands(), tile.ScalarType())
	}
	if tile.Status() != tg.StatusFull {
		t.Errorf("expected full tile, got %s", tile.Status())
	}

	k, err := c.State()
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	reg := node.NewRegistry()
	if err := source.RegisterTypes(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := filter.RegisterTypes(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	g, terminal, err := node.LoadGraph(k, reg)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if terminal != c.TerminalID() || g.Len() != len(want) {
		t.Errorf("loaded graph differs: terminal %s, %d nodes", terminal, g.Len())
	}
}

func TestBuildFailure(t *testing.T) {
	b := NewBuilder(nil, Options{})
	if c, err := b.Build(filepath.Join(t.TempDir(), "missing.png")); err == nil || c != nil {
		t.Errorf("expected failure for a missing file")
	}
	if c, err := b.Build("notes.txt"); err == nil || c != nil {
		t.Errorf("expected failure for an unsupported file")
	}
	closed := memorySource(1, tg.Uint8)
	closed.Close()
	if _, err := b.BuildFrom(closed); err == nil {
		t.Errorf("expected failure for a closed source")
	}
}

func TestBuildFromFile(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 20; x++ {
			img.Set(x, y, color.RGBA{R: uint8(10 * x), G: 100, B: 200, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "rgb.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	f.Close()

	c, err := NewBuilder(nil, Options{Bands: []int{2}}).Build(path)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer c.Close()
	if c.Source().Path() != path {
		t.Errorf("bad source path %q", c.Source().Path())
	}
	tile := c.GetTile(tg.NewIRectWH(0, 0, 4, 4), 0)
	if tile.NumBands() != 1 || tile.Value(0, 0) != 200 {
		t.Errorf("expected the blue band, got %d bands value %f", tile.NumBands(), tile.Value(0, 0))
	}
}

func TestBandSelectorOnlyWhenNeeded(t *testing.T) {
	single, err := NewBuilder(nil, Options{}).BuildFrom(memorySource(1, tg.Uint8))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if want := []Stage{StageSource, StageResampler}; !reflect.DeepEqual(single.Stages(), want) {
		t.Errorf("single band chain: expected %v, got %v", want, single.Stages())
	}
	multi, err := NewBuilder(nil, Options{}).BuildFrom(memorySource(4, tg.Uint8))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if multi.Stage(StageBandSelector) == nil {
		t.Errorf("multi band source should get a band selector")
	}
	if n := multi.Terminal().NumBands(); n != 4 {
		t.Errorf("selector without a band list should keep all 4 bands, got %d", n)
	}
}
