// Package domain contains core business entities.
package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Value is a tagged union over the six supported data types. The zero Value
// is invalid; construct through the typed constructors or ParseValue. A Value
// always carries its type, so conversion decisions live in the codec only.
type Value struct {
	Type  DataType `json:"type"`
	Bool  bool     `json:"-"`
	Int   int64    `json:"-"` // int16, int32
	Uint  uint64   `json:"-"` // uint16, uint32
	Float float32  `json:"-"` // float
}

// Typed constructors.

func FloatValue(v float32) Value { return Value{Type: DataTypeFloat, Float: v} }
func Int32Value(v int32) Value { return Value{Type: DataTypeInt32, Int: int64(v)} }
func UInt32Value(v uint32) Value { return Value{Type: DataTypeUInt32, Uint: uint64(v)} }
func Int16Value(v int16) Value { return Value{Type: DataTypeInt16, Int: int64(v)} }
func UInt16Value(v uint16) Value { return Value{Type: DataTypeUInt16, Uint: uint64(v)} }
func BoolValue(v bool) Value { return Value{Type: DataTypeBool, Bool: v} }

// Float64 returns the numeric value widened to float64. Booleans map to 0/1.
func (v Value) Float64() float64 {
	switch v.Type {
	case DataTypeFloat:
		return float64(v.Float)
	case DataTypeInt32, DataTypeInt16:
		return float64(v.Int)
	case DataTypeUInt32, DataTypeUInt16:
		return float64(v.Uint)
	case DataTypeBool:
		if v.Bool {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// Interface exposes the value as its natural Go type, for JSON encoding and
// the OPC UA variant layer.
func (v Value) Interface() interface{} {
	switch v.Type {
	case DataTypeFloat:
		return v.Float
	case DataTypeInt32:
		return int32(v.Int)
	case DataTypeUInt32:
		return uint32(v.Uint)
	case DataTypeInt16:
		return int16(v.Int)
	case DataTypeUInt16:
		return uint16(v.Uint)
	case DataTypeBool:
		return v.Bool
	default:
		return nil
	}
}

// MarshalJSON encodes just the payload, not the discriminator. The tag
// metadata already names the type.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// String implements fmt.Stringer.
func (v Value) String() string {
	switch v.Type {
	case DataTypeFloat:
		return strconv.FormatFloat(float64(v.Float), 'g', -1, 32)
	case DataTypeInt32, DataTypeInt16:
		return strconv.FormatInt(v.Int, 10)
	case DataTypeUInt32, DataTypeUInt16:
		return strconv.FormatUint(v.Uint, 10)
	case DataTypeBool:
		return strconv.FormatBool(v.Bool)
	default:
		return "<invalid>"
	}
}

// Equal reports value equality. Floats compare bit-exact.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case DataTypeFloat:
		return math.Float32bits(v.Float) == math.Float32bits(o.Float)
	case DataTypeInt32, DataTypeInt16:
		return v.Int == o.Int
	case DataTypeUInt32, DataTypeUInt16:
		return v.Uint == o.Uint
	case DataTypeBool:
		return v.Bool == o.Bool
	default:
		return false
	}
}

// ParseValue converts an untyped input (JSON number, bool, or string form of
// either) into a Value of the declared type. Out-of-range numerics fail with
// ErrValueOutOfRange, everything else unparseable with ErrValidation.
func ParseValue(raw interface{}, dt DataType) (Value, error) {
	switch x := raw.(type) {
	case string:
		return parseString(x, dt)
	case bool:
		if dt != DataTypeBool {
			return numericFromFloat(boolToFloat(x), dt)
		}
		return BoolValue(x), nil
	case float64:
		return numericFromFloat(x, dt)
	case float32:
		return numericFromFloat(float64(x), dt)
	case int:
		return numericFromFloat(float64(x), dt)
	case int64:
		return numericFromFloat(float64(x), dt)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not numeric", ErrValidation, x.String())
		}
		return numericFromFloat(f, dt)
	default:
		return Value{}, fmt.Errorf("%w: unsupported value of type %T", ErrValidation, raw)
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func parseString(s string, dt DataType) (Value, error) {
	if dt == DataTypeBool {
		switch s {
		case "true", "1", "on":
			return BoolValue(true), nil
		case "false", "0", "off":
			return BoolValue(false), nil
		}
		return Value{}, fmt.Errorf("%w: %q is not a boolean", ErrValidation, s)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %q is not numeric", ErrValidation, s)
	}
	return numericFromFloat(f, dt)
}

func numericFromFloat(f float64, dt DataType) (Value, error) {
	switch dt {
	case DataTypeFloat:
		return FloatValue(float32(f)), nil
	case DataTypeInt32:
		if f < math.MinInt32 || f > math.MaxInt32 {
			return Value{}, fmt.Errorf("%w: %v does not fit int32", ErrValueOutOfRange, f)
		}
		return Int32Value(int32(f)), nil
	case DataTypeUInt32:
		if f < 0 || f > math.MaxUint32 {
			return Value{}, fmt.Errorf("%w: %v does not fit uint32", ErrValueOutOfRange, f)
		}
		return UInt32Value(uint32(f)), nil
	case DataTypeInt16:
		if f < math.MinInt16 || f > math.MaxInt16 {
			return Value{}, fmt.Errorf("%w: %v does not fit int16", ErrValueOutOfRange, f)
		}
		return Int16Value(int16(f)), nil
	case DataTypeUInt16:
		if f < 0 || f > math.MaxUint16 {
			return Value{}, fmt.Errorf("%w: %v does not fit uint16", ErrValueOutOfRange, f)
		}
		return UInt16Value(uint16(f)), nil
	case DataTypeBool:
		return BoolValue(f != 0), nil
	default:
		return Value{}, fmt.Errorf("%w: unknown data type %q", ErrValidation, dt)
	}
}
