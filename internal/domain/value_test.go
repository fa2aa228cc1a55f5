package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		name string
		raw  interface{}
		dt   DataType
		want Value
	}{
		{"string uint16", "65", DataTypeUInt16, UInt16Value(65)},
		{"string float", "3.14", DataTypeFloat, FloatValue(3.14)},
		{"string bool one", "1", DataTypeBool, BoolValue(true)},
		{"string bool word", "false", DataTypeBool, BoolValue(false)},
		{"number int16", float64(-42), DataTypeInt16, Int16Value(-42)},
		{"number uint32", float64(70000), DataTypeUInt32, UInt32Value(70000)},
		{"bool native", true, DataTypeBool, BoolValue(true)},
		{"number as bool", float64(0), DataTypeBool, BoolValue(false)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseValue(tt.raw, tt.dt)
			if err != nil {
				t.Fatalf("ParseValue() error = %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseValue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseValue_OutOfRange(t *testing.T) {
	tests := []struct {
		raw interface{}
		dt  DataType
	}{
		{float64(70000), DataTypeUInt16},
		{float64(-1), DataTypeUInt16},
		{float64(40000), DataTypeInt16},
		{float64(-5e9), DataTypeInt32},
		{float64(5e9), DataTypeUInt32},
	}
	for _, tt := range tests {
		if _, err := ParseValue(tt.raw, tt.dt); !errors.Is(err, ErrValueOutOfRange) {
			t.Errorf("ParseValue(%v, %s) error = %v, want ErrValueOutOfRange", tt.raw, tt.dt, err)
		}
	}
}

func TestParseValue_Invalid(t *testing.T) {
	if _, err := ParseValue("banana", DataTypeUInt16); !errors.Is(err, ErrValidation) {
		t.Errorf("ParseValue() error = %v, want ErrValidation", err)
	}
	if _, err := ParseValue("maybe", DataTypeBool); !errors.Is(err, ErrValidation) {
		t.Errorf("ParseValue() error = %v, want ErrValidation", err)
	}
	if _, err := ParseValue([]int{1}, DataTypeUInt16); !errors.Is(err, ErrValidation) {
		t.Errorf("ParseValue() error = %v, want ErrValidation", err)
	}
}

func TestValueJSON(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{UInt16Value(65), "65"},
		{Int32Value(-7), "-7"},
		{BoolValue(true), "true"},
	}
	for _, tt := range tests {
		data, err := json.Marshal(tt.v)
		if err != nil {
			t.Fatalf("Marshal(%v) error = %v", tt.v, err)
		}
		if string(data) != tt.want {
			t.Errorf("Marshal(%v) = %s, want %s", tt.v, data, tt.want)
		}
	}
}

func TestValueString(t *testing.T) {
	if s := UInt16Value(42).String(); s != "42" {
		t.Errorf("String() = %q", s)
	}
	if s := BoolValue(false).String(); s != "false" {
		t.Errorf("String() = %q", s)
	}
}

func TestValueFloat64(t *testing.T) {
	if f := Int16Value(-3).Float64(); f != -3 {
		t.Errorf("Float64() = %v", f)
	}
	if f := BoolValue(true).Float64(); f != 1 {
		t.Errorf("Float64() = %v", f)
	}
}
