package combiner

import (
	"math"
	"testing"

	"github.com/janelia-flyem/tilegraph/node"
	"github.com/janelia-flyem/tilegraph/source"
	"github.com/janelia-flyem/tilegraph/tg"
)

// boundsCounter counts upstream extent queries.
type boundsCounter struct {
	*source.Memory
	queries int
}

func (s *boundsCounter) Bounds(level int) tg.IRect {
	s.queries++
	return s.Memory.Bounds(level)
}

// uniform returns a memory source covering rect with every band set to v.
func uniform(rect tg.IRect, bands int, scalar tg.ScalarType, v float64) *source.Memory {
	t := tg.NewBlankTile(rect, bands, scalar)
	for b := 0; b < bands; b++ {
		t.Fill(b, v)
	}
	t.ValidateStatus()
	return source.NewMemory(t)
}

// combine adds the combiner and its inputs to a new graph.
func combine(t *testing.T, c node.Node, inputs ...node.Node) *node.Graph {
	g := node.NewGraph()
	cid, err := g.Add(c)
	if err != nil {
		t.Fatalf("add combiner: %v", err)
	}
	for _, in := range inputs {
		id, err := g.Add(in)
		if err != nil {
			t.Fatalf("add input: %v", err)
		}
		if err := g.Connect(cid, id); err != nil {
			t.Fatalf("connect: %v", err)
		}
	}
	return g
}

func TestBoundsCache(t *testing.T) {
	a := &boundsCounter{Memory: uniform(tg.NewIRectWH(0, 0, 10, 10), 1, tg.Uint8, 5)}
	b := &boundsCounter{Memory: uniform(tg.NewIRectWH(20, 0, 10, 10), 1, tg.Uint8, 5)}
	m := NewMosaic()
	g := combine(t, m, a, b)

	if m.State() != StateUninitialized {
		t.Errorf("expected uninitialized combiner after connect, got %s", m.State())
	}
	r1 := m.Bounds(0)
	r2 := m.Bounds(0)
	if !r1.Equal(r2) {
		t.Errorf("bounds changed between calls: %s vs %s", r1, r2)
	}
	if minX, _, maxX, _ := r1.Bounds(); minX != 0 || maxX != 29 {
		t.Errorf("bad union bounds %s", r1)
	}
	if r := m.Bounds(1); r.Width() != 15 {
		t.Errorf("bad R1 bounds %s", r)
	}
	if a.queries != 1 || b.queries != 1 {
		t.Errorf("expected one bounds query per input, got %d and %d", a.queries, b.queries)
	}
	if m.State() != StateBoundsCached {
		t.Errorf("expected cached bounds, got %s", m.State())
	}

	m.GetTile(tg.NewIRectWH(0, 0, 4, 4), 0)
	if m.State() != StateServing {
		t.Errorf("expected serving combiner, got %s", m.State())
	}

	g.Notify(a.ID(), node.EventRefresh)
	if m.State() != StateUninitialized {
		t.Errorf("refresh should reset the bounds cache, got %s", m.State())
	}
	m.Bounds(0)
	if a.queries != 2 || b.queries != 2 {
		t.Errorf("expected a second bounds query per input, got %d and %d", a.queries, b.queries)
	}
	if ib := m.InputBounds(1); !ib.Equal(tg.NewIRectWH(20, 0, 10, 10)) {
		t.Errorf("bad cached input bounds %s", ib)
	}
}

func TestBlendUniform(t *testing.T) {
	rect := tg.NewIRectWH(0, 0, 16, 16)
	m := NewBlend()
	combine(t, m,
		uniform(rect, 1, tg.Uint8, 100),
		uniform(rect, 1, tg.Uint8, 100),
		uniform(rect, 1, tg.Uint8, 100))

	tile := m.GetTile(rect, 0)
	if tile.Status() != tg.StatusFull {
		t.Fatalf("expected full tile, got %s", tile.Status())
	}
	for i := 0; i < tile.NumPixels(); i++ {
		if v := tile.Value(0, i); v != 100 {
			t.Fatalf("pixel %d blended to %f, expected 100", i, v)
		}
	}
}

func TestBlendNulls(t *testing.T) {
	rect := tg.NewIRectWH(0, 0, 2, 1)
	a := tg.NewBlankTile(rect, 1, tg.Uint8)
	a.SetValue(0, 1, 40) // pixel 0 null
	a.ValidateStatus()
	b := tg.NewBlankTile(rect, 1, tg.Uint8)
	b.SetValue(0, 0, 80) // pixel 1 null
	b.ValidateStatus()

	m := NewBlend()
	combine(t, m, source.NewMemory(a), source.NewMemory(b))
	tile := m.GetTile(rect, 0)
	if v := tile.Value(0, 0); v != 80 {
		t.Errorf("null destination should take the source value, got %f", v)
	}
	if v := tile.Value(0, 1); v != 40 {
		t.Errorf("null source should leave the destination alone, got %f", v)
	}
	if tile.Status() != tg.StatusFull {
		t.Errorf("expected full tile, got %s", tile.Status())
	}
}

func TestBlendDecayingWeight(t *testing.T) {
	rect := tg.NewIRectWH(0, 0, 4, 4)
	m := NewBlend()
	combine(t, m,
		uniform(rect, 1, tg.Float64, 10),
		uniform(rect, 1, tg.Float64, 20),
		uniform(rect, 1, tg.Float64, 40))
	if err := m.SetWeight(0, 2); err != nil {
		t.Fatalf("set weight: %v", err)
	}

	// P=2: (10*2 + 20*1)/3, then P=(2+1)/2: (40/3*1.5 + 40*1)/2.5
	p := 2.0
	want := (10*p + 20*1) / (p + 1)
	p = (p + 1) / 2
	want = (want*p + 40*1) / (p + 1)

	tile := m.GetTile(rect, 0)
	if v := tile.Value(0, 5); math.Abs(v-want) > 1e-9 || math.Abs(v-24) > 1e-9 {
		t.Errorf("expected decayed blend %f (24), got %f", want, v)
	}
	// not the weighted mean
	if mean := (10*2 + 20 + 40) / 4.0; math.Abs(tile.Value(0, 5)-mean) < 1e-9 {
		t.Errorf("blend unexpectedly produced the weighted mean %f", mean)
	}

	if err := m.SetWeight(1, 0); err == nil {
		t.Errorf("expected error for zero weight")
	}
}

func TestBlendMixedTypes(t *testing.T) {
	rect := tg.NewIRectWH(0, 0, 2, 2)
	m := NewBlend()
	combine(t, m,
		uniform(rect, 1, tg.Uint8, 255),
		uniform(rect, 1, tg.Uint16, 1))

	tile := m.GetTile(rect, 0)
	if tile.ScalarType() != tg.Uint8 {
		t.Fatalf("expected output type of input 0, got %s", tile.ScalarType())
	}
	// normalized 1.0 and 0.0 average to 0.5
	if v := tile.Value(0, 0); v != 128 {
		t.Errorf("expected 128, got %f", v)
	}
}

func TestMosaic(t *testing.T) {
	a := uniform(tg.NewIRectWH(0, 0, 4, 4), 1, tg.Uint8, 10)
	b := uniform(tg.NewIRectWH(4, 0, 4, 4), 1, tg.Uint8, 20)
	m := NewMosaic()
	combine(t, m, a, b)

	tile := m.GetTile(tg.NewIRectWH(0, 0, 8, 4), 0)
	if tile.Status() != tg.StatusFull {
		t.Fatalf("expected full mosaic, got %s", tile.Status())
	}
	if tile.Value(0, tile.Index(1, 1)) != 10 || tile.Value(0, tile.Index(6, 2)) != 20 {
		t.Errorf("bad mosaic pixels")
	}

	// a full tile from one input is passed through untouched
	rect := tg.NewIRectWH(0, 0, 2, 2)
	if got := m.GetTile(rect, 0); got != a.GetTile(rect, 0) {
		t.Errorf("expected the first input's tile")
	}

	tile = m.GetTile(tg.NewIRectWH(100, 100, 4, 4), 0)
	if tile.Status() != tg.StatusEmpty {
		t.Errorf("expected empty tile off every input, got %s", tile.Status())
	}
}

func TestMosaicPriority(t *testing.T) {
	rect := tg.NewIRectWH(0, 0, 4, 4)
	top := tg.NewBlankTile(rect, 1, tg.Uint8)
	for i := 4; i < 16; i++ {
		top.SetValue(0, i, 1)
	}
	top.ValidateStatus()
	m := NewMosaic()
	combine(t, m, source.NewMemory(top), uniform(rect, 1, tg.Uint8, 2))

	tile := m.GetTile(rect, 0)
	if v := tile.Value(0, tile.Index(0, 0)); v != 2 {
		t.Errorf("null pixel should come from the second input, got %f", v)
	}
	if v := tile.Value(0, tile.Index(0, 3)); v != 1 {
		t.Errorf("first input should win where it has data, got %f", v)
	}
}

func TestClosestToCenter(t *testing.T) {
	a := uniform(tg.NewIRectWH(0, 0, 10, 10), 1, tg.Uint8, 1)
	b := uniform(tg.NewIRectWH(6, 0, 10, 10), 1, tg.Uint8, 2)
	m := NewClosestToCenter()
	combine(t, m, a, b)

	if tile := m.GetTile(tg.NewIRectWH(8, 4, 2, 2), 0); tile.Value(0, 0) != 2 {
		t.Errorf("expected the input centered nearest the tile")
	}
	if tile := m.GetTile(tg.NewIRectWH(6, 4, 2, 2), 0); tile.Value(0, 0) != 1 {
		t.Errorf("expected the first input for a tile near its center")
	}
}

func TestMaximumBandReplication(t *testing.T) {
	rect := tg.NewIRectWH(0, 0, 2, 2)
	single := uniform(rect, 1, tg.Uint8, 50)
	rgb := tg.NewBlankTile(rect, 3, tg.Uint8)
	rgb.Fill(0, 10)
	rgb.Fill(1, 60)
	rgb.Fill(2, 70)
	rgb.SetValue(2, 0, 0) // null
	rgb.ValidateStatus()

	m := NewMaximum()
	combine(t, m, single, source.NewMemory(rgb))
	if m.NumBands() != 3 {
		t.Fatalf("expected 3 output bands, got %d", m.NumBands())
	}
	tile := m.GetTile(rect, 0)
	want := []float64{50, 60, 70}
	for b, w := range want {
		if v := tile.Value(b, 1); v != w {
			t.Errorf("band %d: expected %f, got %f", b, w, v)
		}
	}
	if v := tile.Value(2, 0); v != 50 {
		t.Errorf("null pixel should not win, got %f", v)
	}
}

func TestDisabledCombiner(t *testing.T) {
	a := uniform(tg.NewIRectWH(0, 0, 4, 4), 1, tg.Uint8, 10)
	b := uniform(tg.NewIRectWH(0, 0, 4, 4), 1, tg.Uint8, 30)
	m := NewBlend()
	combine(t, m, a, b)
	m.SetEnabled(false)

	rect := tg.NewIRectWH(0, 0, 4, 4)
	if tile := m.GetTile(rect, 0); tile != a.GetTile(rect, 0) {
		t.Errorf("disabled combiner should return its first input's tile")
	}
	if tile := NewMosaic().GetTile(rect, 0); tile.Status() != tg.StatusNull {
		t.Errorf("combiner without inputs should give a null tile")
	}

	mosaic := NewMosaic()
	combine(t, mosaic, uniform(tg.NewIRectWH(0, 0, 4, 4), 1, tg.Uint8, 10))
	mosaic.SetEnabled(false)
	outside := tg.NewIRectWH(100, 100, 4, 4)
	tile := mosaic.GetTile(outside, 0)
	if tile == nil || tile.Status() != tg.StatusNull {
		t.Fatalf("disabled combiner missing every input should give a null tile")
	}
	if !tile.Rect().Equal(outside) {
		t.Errorf("null tile has rect %v, want %v", tile.Rect(), outside)
	}
}

func TestBlendState(t *testing.T) {
	reg := node.NewRegistry()
	if err := RegisterTypes(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	m := NewBlend()
	m.SetWeight(2, 0.25)
	k := tg.NewKWL()
	if err := m.SaveState(k, "blend."); err != nil {
		t.Fatalf("save: %v", err)
	}
	n, err := reg.New("blend")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := n.LoadState(k, "blend."); err != nil {
		t.Fatalf("load: %v", err)
	}
	loaded := n.(*Blend)
	if loaded.Weight(0) != 1 || loaded.Weight(2) != 0.25 || loaded.Weight(7) != 1 {
		t.Errorf("bad loaded weights %v", loaded.Weights())
	}
	if _, ok := node.AsCombiner(loaded); !ok {
		t.Errorf("blend should report the combiner capability")
	}

	k = tg.NewKWL()
	k.Add("blend.", "weights", "1 -2")
	if err := n.LoadState(k, "blend."); err == nil {
		t.Errorf("expected error for negative weight")
	}
}
