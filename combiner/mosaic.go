package combiner

import (
	"sort"

	"github.com/janelia-flyem/tilegraph/tg"
)

// Mosaic fills each pixel from the first input, in input order, that has data there.
type Mosaic struct {
	Base
}

func NewMosaic() *Mosaic { return &Mosaic{} }

func (m *Mosaic) TypeName() string { return "mosaic" }

func (m *Mosaic) GetTile(rect tg.IRect, level int) *tg.Tile {
	if !m.serving(rect) {
		return tg.NullTile(rect)
	}
	if !m.Enabled() {
		return m.passThrough(rect, level)
	}
	order := make([]int, len(m.bounds))
	for i := range order {
		order[i] = i
	}
	return m.priorityFill(order, rect, level)
}

// priorityFill fills the output from inputs in the given order.  A full first contributor
// that looks like the output is returned as is.
func (c *Base) priorityFill(order []int, rect tg.IRect, level int) *tg.Tile {
	var out *tg.Tile
	for _, i := range order {
		t := c.contributing(i, rect, level)
		if t == nil {
			continue
		}
		if out == nil {
			if t.Status() == tg.StatusFull && c.matches(t) {
				return t
			}
			out = c.blank(rect)
			if out.Status() == tg.StatusNull {
				return out
			}
		}
		if fill(out, t) == 0 {
			break
		}
	}
	if out == nil {
		return c.blank(rect)
	}
	out.ValidateStatus()
	return out
}

// ClosestToCenter fills each pixel from the input whose extent is centered nearest the
// requested tile.  Ties keep input order.
type ClosestToCenter struct {
	Base
}

func NewClosestToCenter() *ClosestToCenter { return &ClosestToCenter{} }

func (m *ClosestToCenter) TypeName() string { return "closest_to_center" }

func (m *ClosestToCenter) GetTile(rect tg.IRect, level int) *tg.Tile {
	if !m.serving(rect) {
		return tg.NullTile(rect)
	}
	if !m.Enabled() {
		return m.passThrough(rect, level)
	}
	center := rect.Center()
	var order []int
	dist := map[int]float64{}
	for i := range m.bounds {
		b := m.inputBounds(i, level)
		if !b.Intersects(rect) {
			continue
		}
		order = append(order, i)
		dist[i] = b.Center().Distance(center)
	}
	sort.SliceStable(order, func(a, b int) bool {
		return dist[order[a]] < dist[order[b]]
	})
	return m.priorityFill(order, rect, level)
}
