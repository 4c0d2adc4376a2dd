package combiner

import (
	"fmt"

	"github.com/janelia-flyem/tilegraph/node"
	"github.com/janelia-flyem/tilegraph/tg"
)

// Blend averages overlapping inputs by weight.  Each contributing tile with weight C is
// folded into the output as dst = (dst*P + src*C) / (P+C), after which the running
// weight becomes P = (P+C)/2.  P starts at the first contributor's weight.  With more
// than two contributors this is not a true weighted mean: later inputs count for more.
//
// A null source pixel leaves the output alone and a null output pixel takes the source
// value.  Inputs of different scalar types blend in normalized space.
type Blend struct {
	Base
	weights []float64
}

func NewBlend() *Blend { return &Blend{} }

func (m *Blend) TypeName() string { return "blend" }

// Weight returns the weight of input i, 1.0 unless set.
func (m *Blend) Weight(i int) float64 {
	if i >= 0 && i < len(m.weights) {
		return m.weights[i]
	}
	return 1.0
}

// SetWeight changes the weight of input i.  Weights must be positive.
func (m *Blend) SetWeight(i int, w float64) error {
	if i < 0 {
		return fmt.Errorf("bad blend input %d", i)
	}
	if !(w > 0) {
		return fmt.Errorf("blend weight %g for input %d is not positive", w, i)
	}
	for len(m.weights) <= i {
		m.weights = append(m.weights, 1.0)
	}
	m.weights[i] = w
	node.Changed(m, node.EventProperty)
	return nil
}

// Weights returns the explicitly set weights.
func (m *Blend) Weights() []float64 {
	return append([]float64(nil), m.weights...)
}

func (m *Blend) GetTile(rect tg.IRect, level int) *tg.Tile {
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
	var prev float64
	first := true
	for next := 0; ; {
		var t *tg.Tile
		if t, next = m.NextContributingTile(next, rect, level); t == nil {
			break
		}
		cur := m.Weight(next - 1)
		if first {
			fill(out, t)
			prev, first = cur, false
			continue
		}
		blendInto(out, t, prev, cur)
		prev = (prev + cur) / 2
	}
	out.ValidateStatus()
	return out
}

// blendInto folds src with weight cur into dst, whose pixels carry weight prev.
func blendInto(dst, src *tg.Tile, prev, cur float64) {
	n := dst.NumPixels()
	sameType := dst.ScalarType() == src.ScalarType()
	for b := 0; b < dst.NumBands(); b++ {
		sb := srcBand(src, b)
		for i := 0; i < n; i++ {
			if src.IsNull(sb, i) {
				continue
			}
			if dst.IsNull(b, i) {
				dst.SetValue(b, i, valueIn(dst, b, src, sb, i))
				continue
			}
			if sameType {
				v := (dst.Value(b, i)*prev + src.Value(sb, i)*cur) / (prev + cur)
				dst.SetValue(b, i, v)
				continue
			}
			v := (dst.Normalized(b, i)*prev + src.Normalized(sb, i)*cur) / (prev + cur)
			dst.SetNormalized(b, i, v)
		}
	}
}

func (m *Blend) SaveState(k tg.KWL, prefix string) error {
	if len(m.weights) > 0 {
		k.Add(prefix, "weights", m.weights)
	}
	return nil
}

func (m *Blend) LoadState(k tg.KWL, prefix string) error {
	m.weights = nil
	if _, found := k.Find(prefix, "weights"); !found {
		return nil
	}
	w, err := k.FindFloats(prefix, "weights")
	if err != nil {
		return err
	}
	for i, v := range w {
		if !(v > 0) {
			return fmt.Errorf("blend weight %g for input %d is not positive", v, i)
		}
	}
	m.weights = w
	return nil
}
