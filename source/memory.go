package source

import (
	"fmt"

	"github.com/janelia-flyem/tilegraph/node"
	"github.com/janelia-flyem/tilegraph/tg"
)

// Memory serves an image held in memory.  Reduced levels are averaged on demand and
// shared with every duplicate.
type Memory struct {
	Handler
	data *raster
}

// NewMemory returns a source serving a copy of img.  The tile's rect is the R0 extent.
func NewMemory(img *tg.Tile) *Memory {
	m := &Memory{}
	full := img.Clone()
	m.setInfo(full.Rect(), full.NumBands(), full.ScalarType())
	for b := 0; b < full.NumBands(); b++ {
		m.nulls[b] = full.NullPixel(b)
		m.mins[b] = full.MinPixel(b)
		m.maxs[b] = full.MaxPixel(b)
	}
	m.data = newRaster(func() (*tg.Tile, error) { return full, nil })
	m.open = full.IsAllocated()
	m.path = ""
	return m
}

func (m *Memory) TypeName() string { return "memory_source" }

// Open always fails: a memory source has no backing file.
func (m *Memory) Open(path string) error {
	return fmt.Errorf("memory source cannot open %q", path)
}

func (m *Memory) Close() {
	m.reset()
	m.data = nil
}

func (m *Memory) GetTile(rect tg.IRect, level int) *tg.Tile {
	return m.serve(m, rect, level, func(level int) (*tg.Tile, error) {
		return m.data.level(level, m.Decimation(level))
	})
}

// Duplicate returns a memory source sharing this one's pixels.
func (m *Memory) Duplicate() (node.Node, error) {
	d := &Memory{data: m.data}
	d.setInfo(m.rect, m.bands, m.scalar)
	copy(d.nulls, m.nulls)
	copy(d.mins, m.mins)
	copy(d.maxs, m.maxs)
	d.geom = m.geom
	d.decimations = append([]float64(nil), m.decimations...)
	d.open = m.open
	return d, nil
}

// SaveState records the image description.  Pixels are not persisted, so a memory
// source loaded from state serves null tiles.
func (m *Memory) SaveState(k tg.KWL, prefix string) error {
	k.Add(prefix, "rect", m.rect)
	k.Add(prefix, "bands", m.bands)
	k.Add(prefix, "scalar_type", m.scalar)
	if len(m.decimations) > 0 {
		k.Add(prefix, "decimations", m.decimations)
	}
	tg.SaveGeometry(k, prefix, m.geom)
	return nil
}

func (m *Memory) LoadState(k tg.KWL, prefix string) error {
	m.reset()
	if err := m.loadDecimations(k, prefix); err != nil {
		return err
	}
	geom, err := tg.LoadGeometry(k, prefix)
	if err != nil {
		return err
	}
	m.geom = geom
	return nil
}
