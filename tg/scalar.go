package tg

import (
	"fmt"
	"math"
	"strings"
)

const (
	// float32Null is -1/FLT_EPSILON and float64Null is -1/DBL_EPSILON, both exactly
	// representable in their types.
	float32Null = -8388608.0
	float64Null = -4503599627370496.0
)

// ScalarType is the pixel value type of a tile.
type ScalarType uint8

const (
	UnknownScalar ScalarType = iota
	Uint8
	Int8
	Uint16
	Int16
	Uint32
	Int32
	Uint64
	Int64
	Float32
	Float64

	// NormalizedFloat and NormalizedDouble hold values within [0,1].
	NormalizedFloat
	NormalizedDouble
)

var scalarNames = map[ScalarType]string{
	UnknownScalar:    "unknown",
	Uint8:            "uint8",
	Int8:             "int8",
	Uint16:           "uint16",
	Int16:            "int16",
	Uint32:           "uint32",
	Int32:            "int32",
	Uint64:           "uint64",
	Int64:            "int64",
	Float32:          "float32",
	Float64:          "float64",
	NormalizedFloat:  "normalized_float",
	NormalizedDouble: "normalized_double",
}

func (s ScalarType) String() string {
	if name, found := scalarNames[s]; found {
		return name
	}
	return fmt.Sprintf("scalar(%d)", uint8(s))
}

// ParseScalarType returns the scalar type for a name produced by ScalarType.String().
func ParseScalarType(name string) (ScalarType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, n := range scalarNames {
		if n == name && s != UnknownScalar {
			return s, nil
		}
	}
	return UnknownScalar, fmt.Errorf("unknown scalar type %q", name)
}

// BytesPerPixel returns the number of bytes per pixel value, or 0 for unknown types.
func (s ScalarType) BytesPerPixel() int {
	switch s {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32, Float32, NormalizedFloat:
		return 4
	case Uint64, Int64, Float64, NormalizedDouble:
		return 8
	default:
		return 0
	}
}

// IsFloat returns true for the floating point types, including normalized ones.
func (s ScalarType) IsFloat() bool {
	switch s {
	case Float32, Float64, NormalizedFloat, NormalizedDouble:
		return true
	}
	return false
}

func (s ScalarType) IsNormalized() bool {
	return s == NormalizedFloat || s == NormalizedDouble
}

// DefaultNull returns the null pixel value conventionally used for the type.
// Integer types use their lowest value; floats use a large negative sentinel.
func (s ScalarType) DefaultNull() float64 {
	switch s {
	case Uint8, Uint16, Uint32, Uint64:
		return 0
	case Int8:
		return math.MinInt8
	case Int16:
		return math.MinInt16
	case Int32:
		return math.MinInt32
	case Int64:
		return math.MinInt64
	case Float32:
		return float32Null
	case Float64:
		return float64Null
	case NormalizedFloat, NormalizedDouble:
		return 0
	}
	return 0
}

// DefaultMin returns the smallest valid (non-null) pixel value for the type.
func (s ScalarType) DefaultMin() float64 {
	switch s {
	case Uint8, Uint16, Uint32, Uint64:
		return 1
	case Int8:
		return math.MinInt8 + 1
	case Int16:
		return math.MinInt16 + 1
	case Int32:
		return math.MinInt32 + 1
	case Int64:
		return math.MinInt64 + 1
	case Float32:
		return float32Null + 1
	case Float64:
		return float64Null + 1
	case NormalizedFloat, NormalizedDouble:
		return math.SmallestNonzeroFloat32
	}
	return 0
}

// DefaultMax returns the largest valid pixel value for the type.
func (s ScalarType) DefaultMax() float64 {
	switch s {
	case Uint8:
		return math.MaxUint8
	case Int8:
		return math.MaxInt8
	case Uint16:
		return math.MaxUint16
	case Int16:
		return math.MaxInt16
	case Uint32:
		return math.MaxUint32
	case Int32:
		return math.MaxInt32
	case Uint64:
		return math.MaxUint64
	case Int64:
		return math.MaxInt64
	case Float32:
		return -float32Null
	case Float64:
		return -float64Null
	case NormalizedFloat, NormalizedDouble:
		return 1
	}
	return 0
}

// Clamp forces v into the representable range of the type, rounding integer types.
func (s ScalarType) Clamp(v float64) float64 {
	if s.IsFloat() {
		if s == Float32 || s == NormalizedFloat {
			return float64(float32(v))
		}
		return v
	}
	if math.IsNaN(v) {
		return s.DefaultNull()
	}
	v = math.Round(v)
	lo, hi := s.DefaultNull(), s.DefaultMax()
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
