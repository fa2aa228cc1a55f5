// Package codec converts between Modbus register words and typed tag values.
// All multi-register types use big-endian word order (word 0 carries the high
// half); there is no configurable word swap.
package codec

import (
	"fmt"
	"math"

	"github.com/nexus-edge/fieldbridge/internal/domain"
)

// Decode interprets an ordered sequence of 16-bit register words as a value
// of the given data type.
func Decode(words []uint16, dt domain.DataType) (domain.Value, error) {
	if len(words) < int(dt.RegisterCount()) {
		return domain.Value{}, fmt.Errorf("%w: %s needs %d registers, got %d",
			domain.ErrInvalidLength, dt, dt.RegisterCount(), len(words))
	}

	switch dt {
	case domain.DataTypeFloat:
		bits := uint32(words[0])<<16 | uint32(words[1])
		return domain.FloatValue(math.Float32frombits(bits)), nil

	case domain.DataTypeInt32:
		raw := uint32(words[0])<<16 | uint32(words[1])
		return domain.Int32Value(int32(raw)), nil

	case domain.DataTypeUInt32:
		return domain.UInt32Value(uint32(words[0])<<16 | uint32(words[1])), nil

	case domain.DataTypeInt16:
		// Two's complement with the 65536-bias convention.
		v := int32(words[0])
		if v > math.MaxInt16 {
			v -= 65536
		}
		return domain.Int16Value(int16(v)), nil

	case domain.DataTypeUInt16:
		return domain.UInt16Value(words[0]), nil

	case domain.DataTypeBool:
		return domain.BoolValue(words[0]&1 == 1), nil

	default:
		return domain.Value{}, fmt.Errorf("%w: unknown data type %q", domain.ErrValidation, dt)
	}
}

// Encode converts a typed value back to register words (length 1 or 2),
// symmetric to Decode. The value's own type selects the encoding.
func Encode(v domain.Value) ([]uint16, error) {
	switch v.Type {
	case domain.DataTypeFloat:
		bits := math.Float32bits(v.Float)
		return []uint16{uint16(bits >> 16), uint16(bits & 0xFFFF)}, nil

	case domain.DataTypeInt32:
		if v.Int < math.MinInt32 || v.Int > math.MaxInt32 {
			return nil, fmt.Errorf("%w: %d does not fit int32", domain.ErrValueOutOfRange, v.Int)
		}
		raw := uint32(int32(v.Int))
		return []uint16{uint16(raw >> 16), uint16(raw & 0xFFFF)}, nil

	case domain.DataTypeUInt32:
		if v.Uint > math.MaxUint32 {
			return nil, fmt.Errorf("%w: %d does not fit uint32", domain.ErrValueOutOfRange, v.Uint)
		}
		raw := uint32(v.Uint)
		return []uint16{uint16(raw >> 16), uint16(raw & 0xFFFF)}, nil

	case domain.DataTypeInt16:
		if v.Int < math.MinInt16 || v.Int > math.MaxInt16 {
			return nil, fmt.Errorf("%w: %d does not fit int16", domain.ErrValueOutOfRange, v.Int)
		}
		return []uint16{uint16(uint32(int32(v.Int)) & 0xFFFF)}, nil

	case domain.DataTypeUInt16:
		if v.Uint > math.MaxUint16 {
			return nil, fmt.Errorf("%w: %d does not fit uint16", domain.ErrValueOutOfRange, v.Uint)
		}
		return []uint16{uint16(v.Uint)}, nil

	case domain.DataTypeBool:
		if v.Bool {
			return []uint16{1}, nil
		}
		return []uint16{0}, nil

	default:
		return nil, fmt.Errorf("%w: unknown data type %q", domain.ErrValidation, v.Type)
	}
}

// RegisterCount returns how many 16-bit registers the data type occupies.
func RegisterCount(dt domain.DataType) uint16 {
	return dt.RegisterCount()
}

// IsWritable reports whether a register class accepts writes (holding or coil).
func IsWritable(rt domain.RegisterType) bool {
	return rt.IsWritable()
}

// BytesToWords reassembles big-endian response bytes into register words.
func BytesToWords(data []byte) ([]uint16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", domain.ErrInvalidLength, len(data))
	}
	words := make([]uint16, len(data)/2)
	for i := range words {
		words[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return words, nil
}

// WordsToBytes flattens register words into big-endian request bytes.
func WordsToBytes(words []uint16) []byte {
	data := make([]byte, len(words)*2)
	for i, w := range words {
		data[2*i] = byte(w >> 8)
		data[2*i+1] = byte(w)
	}
	return data
}
