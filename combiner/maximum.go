package combiner

import "github.com/janelia-flyem/tilegraph/tg"

// Maximum outputs the per-pixel, per-band maximum over every input with data.
type Maximum struct {
	Base
}

func NewMaximum() *Maximum { return &Maximum{} }

func (m *Maximum) TypeName() string { return "maximum" }

func (m *Maximum) GetTile(rect tg.IRect, level int) *tg.Tile {
	if !m.serving(rect) {
		return tg.NullTile(rect)
	}
	if !m.Enabled() {
		return m.passThrough(rect, level)
	}
	out := m.blank(rect)
	if out.Status() == tg.StatusNull {
		return out
	}
	n := out.NumPixels()
	for next := 0; ; {
		var t *tg.Tile
		if t, next = m.NextContributingTile(next, rect, level); t == nil {
			break
		}
		for b := 0; b < out.NumBands(); b++ {
			sb := srcBand(t, b)
			for i := 0; i < n; i++ {
				if t.IsNull(sb, i) {
					continue
				}
				v := valueIn(out, b, t, sb, i)
				if out.IsNull(b, i) || v > out.Value(b, i) {
					out.SetValue(b, i, v)
				}
			}
		}
	}
	out.ValidateStatus()
	return out
}
