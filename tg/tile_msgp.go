package tg

import (
	"fmt"

	"github.com/tinylib/msgp/msgp"
)

const tileFields = 8

// MarshalMsg appends the msgpack encoding of the tile to b.  Per-band null, min and max
// values are written as arrays followed by the raw pixel buffer.
func (t *Tile) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, t.Msgsize())
	o = msgp.AppendArrayHeader(o, tileFields)
	minX, minY, maxX, maxY := t.rect.Bounds()
	o = msgp.AppendArrayHeader(o, 5)
	o = msgp.AppendInt(o, minX)
	o = msgp.AppendInt(o, minY)
	o = msgp.AppendInt(o, maxX)
	o = msgp.AppendInt(o, maxY)
	o = msgp.AppendUint8(o, uint8(t.rect.Orient))
	o = msgp.AppendInt(o, t.bands)
	o = msgp.AppendUint8(o, uint8(t.scalar))
	o = msgp.AppendUint8(o, uint8(t.status))
	for _, vals := range [][]float64{t.nulls, t.mins, t.maxs} {
		o = msgp.AppendArrayHeader(o, uint32(len(vals)))
		for _, v := range vals {
			o = msgp.AppendFloat64(o, v)
		}
	}
	o = msgp.AppendBytes(o, t.buf)
	return
}

// UnmarshalMsg decodes a tile written by MarshalMsg and returns the remaining bytes.
func (t *Tile) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var sz uint32
	if sz, bts, err = msgp.ReadArrayHeaderBytes(bts); err != nil {
		return
	}
	if sz != tileFields {
		return bts, fmt.Errorf("tile encoding has %d fields, expected %d", sz, tileFields)
	}
	if sz, bts, err = msgp.ReadArrayHeaderBytes(bts); err != nil {
		return
	}
	if sz != 5 {
		return bts, fmt.Errorf("tile rect encoding has %d fields, expected 5", sz)
	}
	var coords [4]int
	for i := range coords {
		if coords[i], bts, err = msgp.ReadIntBytes(bts); err != nil {
			return
		}
	}
	var u8 uint8
	if u8, bts, err = msgp.ReadUint8Bytes(bts); err != nil {
		return
	}
	if coords[0] == IntNaN {
		t.rect = UndefinedIRect()
	} else {
		t.rect = fromBounds(coords[0], coords[1], coords[2], coords[3], Orientation(u8))
	}
	if t.bands, bts, err = msgp.ReadIntBytes(bts); err != nil {
		return
	}
	if u8, bts, err = msgp.ReadUint8Bytes(bts); err != nil {
		return
	}
	t.scalar = ScalarType(u8)
	if u8, bts, err = msgp.ReadUint8Bytes(bts); err != nil {
		return
	}
	t.status = TileStatus(u8)
	lists := make([][]float64, 3)
	for l := range lists {
		if sz, bts, err = msgp.ReadArrayHeaderBytes(bts); err != nil {
			return
		}
		if int(sz) != t.bands {
			return bts, fmt.Errorf("tile has %d bands but %d per-band values", t.bands, sz)
		}
		lists[l] = make([]float64, sz)
		for i := range lists[l] {
			if lists[l][i], bts, err = msgp.ReadFloat64Bytes(bts); err != nil {
				return
			}
		}
	}
	t.nulls, t.mins, t.maxs = lists[0], lists[1], lists[2]
	var buf []byte
	if buf, bts, err = msgp.ReadBytesBytes(bts, nil); err != nil {
		return
	}
	if len(buf) == 0 {
		t.buf = nil
	} else {
		t.buf = buf
	}
	return bts, nil
}

// Msgsize returns an upper bound on the encoded size of the tile.
func (t *Tile) Msgsize() int {
	s := 2*msgp.ArrayHeaderSize + 5*msgp.IntSize + 3*msgp.Uint8Size
	s += 3 * (msgp.ArrayHeaderSize + t.bands*msgp.Float64Size)
	s += msgp.BytesPrefixSize + len(t.buf)
	return s
}
