package source

import (
	"archive/zip"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/janelia-flyem/tilegraph/node"
	"github.com/janelia-flyem/tilegraph/tg"
)

func gradient(w, h int) *tg.Tile {
	t := tg.NewBlankTile(tg.NewIRectWH(0, 0, w, h), 1, tg.Uint8)
	for i := 0; i < w*h; i++ {
		t.SetValue(0, i, float64(1+i%200))
	}
	t.ValidateStatus()
	return t
}

func TestMemoryTiles(t *testing.T) {
	m := NewMemory(gradient(64, 32))
	if !m.IsOpen() {
		t.Fatalf("memory source should be open")
	}
	if b := m.Bounds(0); b.Width() != 64 || b.Height() != 32 {
		t.Errorf("bad R0 bounds %s", b)
	}
	if b := m.Bounds(2); b.Width() != 16 || b.Height() != 8 {
		t.Errorf("bad R2 bounds %s", b)
	}
	tile := m.GetTile(tg.NewIRectWH(0, 0, 16, 16), 0)
	if tile.Status() != tg.StatusFull {
		t.Errorf("expected full tile, got %s", tile.Status())
	}
	if v := tile.Value(0, tile.Index(3, 1)); v != float64(1+67) {
		t.Errorf("bad pixel value %f", v)
	}
	tile = m.GetTile(tg.NewIRectWH(56, 24, 16, 16), 0)
	if tile.Status() != tg.StatusPartial {
		t.Errorf("expected partial tile, got %s", tile.Status())
	}
	tile = m.GetTile(tg.NewIRectWH(1000, 1000, 16, 16), 0)
	if tile.Status() != tg.StatusEmpty {
		t.Errorf("expected empty tile off the image, got %s", tile.Status())
	}
	if tile := m.GetTile(tg.UndefinedIRect(), 0); tile.Status() != tg.StatusNull {
		t.Errorf("expected null tile for undefined rect, got %s", tile.Status())
	}
}

func TestReduceIgnoresNulls(t *testing.T) {
	img := tg.NewBlankTile(tg.NewIRectWH(0, 0, 2, 2), 1, tg.Uint8)
	img.SetValue(0, 0, 10)
	img.SetValue(0, 1, 20)
	img.SetValue(0, 2, 30)
	m := NewMemory(img)
	tile := m.GetTile(tg.NewIRectWH(0, 0, 1, 1), 1)
	if v := tile.Value(0, 0); v != 20 {
		t.Errorf("expected mean of non-null pixels 20, got %f", v)
	}
	if err := m.SetDecimations([]float64{1, 0.5, 0.25}); err != nil {
		t.Fatalf("bad decimations: %v", err)
	}
	if m.NumLevels() != 3 {
		t.Errorf("expected 3 levels, got %d", m.NumLevels())
	}
	if err := m.SetDecimations([]float64{1, 2}); err == nil {
		t.Errorf("expected error for magnifying decimation")
	}
}

func TestMemoryDuplicate(t *testing.T) {
	m := NewMemory(gradient(8, 8))
	d, err := m.Duplicate()
	if err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	dm := d.(*Memory)
	if dm.data != m.data {
		t.Errorf("duplicate should share pixels")
	}
	a := m.GetTile(tg.NewIRectWH(0, 0, 8, 8), 0)
	b := dm.GetTile(tg.NewIRectWH(0, 0, 8, 8), 0)
	if a == b {
		t.Errorf("duplicates should not share scratch tiles")
	}
	if string(a.Data()) != string(b.Data()) {
		t.Errorf("duplicate serves different pixels")
	}
}

// exclusiveSource fails the test if GetTile is ever entered while another call is
// still running.
type exclusiveSource struct {
	*Memory
	t        *testing.T
	inFlight int32
	calls    int32
}

func (s *exclusiveSource) GetTile(rect tg.IRect, level int) *tg.Tile {
	if n := atomic.AddInt32(&s.inFlight, 1); n != 1 {
		s.t.Errorf("re-entrant decode: %d calls in flight", n)
	}
	atomic.AddInt32(&s.calls, 1)
	time.Sleep(100 * time.Microsecond)
	tile := s.Memory.GetTile(rect, level)
	atomic.AddInt32(&s.inFlight, -1)
	return tile
}

func TestSharedSerializesDecodes(t *testing.T) {
	src := &exclusiveSource{Memory: NewMemory(gradient(128, 128)), t: t}
	shared := NewShared(src)
	defer shared.Close()

	const workers, requests = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for r := 0; r < requests; r++ {
				rect := tg.NewIRectWH((w*16)%128, (r*8)%128, 16, 16)
				tile := shared.GetTile(rect, 0)
				if !tile.Rect().Equal(rect) {
					t.Errorf("got tile for %s, requested %s", tile.Rect(), rect)
					return
				}
				if v := tile.Value(0, 0); v != float64(1+(rect.UL.Y*128+rect.UL.X)%200) {
					t.Errorf("bad value %f for %s", v, rect)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	if got := atomic.LoadInt32(&src.calls); got != workers*requests {
		t.Errorf("expected %d decodes, got %d", workers*requests, got)
	}
	if shared.Served() != workers*requests {
		t.Errorf("served count %d", shared.Served())
	}
	if shared.NumBands() != 1 || shared.ScalarType() != tg.Uint8 {
		t.Errorf("metadata not forwarded")
	}
	if err := shared.Open("x"); !errors.Is(err, ErrShared) {
		t.Errorf("expected ErrShared, got %v", err)
	}
	shared.Close()
	if tile := shared.GetTile(tg.NewIRectWH(0, 0, 4, 4), 0); tile.Status() != tg.StatusNull {
		t.Errorf("closed wrapper should return null tiles")
	}
}

func writeHGT(t *testing.T, w *os.File, posts int) {
	buf := make([]byte, 2*posts*posts)
	for i := 0; i < posts*posts; i++ {
		v := int16(100 * i)
		if i == 4 {
			v = srtmNull
		}
		binary.BigEndian.PutUint16(buf[2*i:], uint16(v))
	}
	if _, err := w.Write(buf); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestSRTM(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "S21W034.hgt")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	writeHGT(t, f, 3)
	f.Close()

	s := NewSRTM()
	if err := s.Open(path); err != nil {
		t.Fatalf("open: %v", err)
	}
	if b := s.Bounds(0); b.Width() != 3 || b.Height() != 3 {
		t.Errorf("bad bounds %s", b)
	}
	g := s.Geometry()
	ul := g.PixelToGround(tg.DPoint{X: 0, Y: 0})
	if ul.X != -34 || ul.Y != -20 {
		t.Errorf("bad upper left post %v", ul)
	}
	if sp := g.PixelSpacing(); sp.X != 0.5 {
		t.Errorf("bad spacing %v", sp)
	}
	tile := s.GetTile(s.Bounds(0), 0)
	if tile.Status() != tg.StatusPartial {
		t.Errorf("expected partial, got %s", tile.Status())
	}
	if v := tile.Value(0, 8); v != 800 {
		t.Errorf("bad post value %f", v)
	}
	if !tile.IsNull(0, 4) {
		t.Errorf("void post should be null")
	}

	zpath := filepath.Join(dir, "N21E034.hgt.zip")
	zf, err := os.Create(zpath)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	zw := zip.NewWriter(zf)
	junk, _ := zw.Create("._N21E034.hgt")
	junk.Write([]byte("junk"))
	member, _ := zw.Create("N21E034.hgt")
	tmp := filepath.Join(dir, "member")
	mf, _ := os.Create(tmp)
	writeHGT(t, mf, 3)
	mf.Close()
	data, _ := os.ReadFile(tmp)
	member.Write(data)
	zw.Close()
	zf.Close()

	src, err := NewOpener().Open(zpath)
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	if src.TypeName() != "srtm_source" {
		t.Errorf("opener picked %s", src.TypeName())
	}
	tile = src.GetTile(src.Bounds(0), 0)
	if v := tile.Value(0, 2); v != 200 {
		t.Errorf("bad zipped post value %f", v)
	}
}

func TestImageFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scene.png")
	img := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(10 * x), uint8(10 * y), 77, 255})
		}
	}
	img.SetNRGBA(3, 2, color.NRGBA{})
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	f.Close()
	if err := os.WriteFile(filepath.Join(dir, "scene.pgw"), []byte("2\n0\n0\n-2\n500001\n4100001\n"), 0644); err != nil {
		t.Fatalf("world file: %v", err)
	}

	reg := node.NewRegistry()
	if err := RegisterTypes(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	src, err := NewOpener().Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if src.NumBands() != 3 || src.ScalarType() != tg.Uint8 {
		t.Errorf("bad description: %d bands of %s", src.NumBands(), src.ScalarType())
	}
	if g := src.Geometry(); g == nil || g.Units() != tg.UnitsMeters {
		t.Errorf("world file geometry not loaded")
	}
	tile := src.GetTile(tg.NewIRectWH(0, 0, 4, 3), 0)
	if tile.Status() != tg.StatusPartial {
		t.Errorf("expected partial tile, got %s", tile.Status())
	}
	i := tile.Index(2, 1)
	if tile.Value(0, i) != 20 || tile.Value(1, i) != 10 || tile.Value(2, i) != 77 {
		t.Errorf("bad pixel at (2,1)")
	}
	if !tile.IsPixelNull(tile.Index(3, 2)) {
		t.Errorf("transparent pixel should be null")
	}

	k := tg.NewKWL()
	if err := src.SaveState(k, "src."); err != nil {
		t.Fatalf("save: %v", err)
	}
	n, _ := reg.New("image_file")
	if err := n.LoadState(k, "src."); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !n.(TileSource).IsOpen() || n.(TileSource).Path() != path {
		t.Errorf("loaded source not reopened")
	}
}

func TestOpenerRejectsUnknown(t *testing.T) {
	o := NewOpener()
	if _, err := o.Open("notes.txt"); !errors.Is(err, tg.ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
	if !o.Handles("/data/N10W100.HGT.ZIP") {
		t.Errorf("zipped srtm cells should be handled")
	}
}
