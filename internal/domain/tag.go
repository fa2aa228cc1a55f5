// Package domain contains core business entities.
package domain

import (
	"encoding/json"
	"fmt"
)

// RegisterType represents the Modbus register class a tag maps onto.
type RegisterType string

const (
	RegisterTypeHolding  RegisterType = "holding"  // Read/Write, 16 bits
	RegisterTypeInput    RegisterType = "input"    // Read-only, 16 bits
	RegisterTypeCoil     RegisterType = "coil"     // Read/Write, 1 bit
	RegisterTypeDiscrete RegisterType = "discrete" // Read-only, 1 bit
)

// DataType represents the typed interpretation of a tag's registers.
type DataType string

const (
	DataTypeFloat  DataType = "float"
	DataTypeInt32  DataType = "int32"
	DataTypeUInt32 DataType = "uint32"
	DataTypeInt16  DataType = "int16"
	DataTypeUInt16 DataType = "uint16"
	DataTypeBool   DataType = "boolean"
)

// Tag represents a named, typed view onto one (or a pair of) Modbus
// register(s) for a given device. Tags never mutate structurally after the
// device is added; only the stored value changes.
type Tag struct {
	// Name is unique within the device and forms the OPC UA browse name.
	Name string `json:"name" yaml:"name"`

	// Address is the 0-based Modbus register address.
	Address uint16 `json:"address" yaml:"address"`

	// RegisterType is the Modbus register class.
	RegisterType RegisterType `json:"registerType" yaml:"register_type"`

	// DataType is the typed interpretation of the raw registers.
	DataType DataType `json:"dataType" yaml:"data_type"`

	// CurrentValue is the last value seen on the wire, if any. Transient.
	CurrentValue *Value `json:"currentValue,omitempty" yaml:"current_value,omitempty"`
}

// UnmarshalJSON decodes a tag, parsing a seeded currentValue as the tag's
// declared data type. Modem devices carry their initial values this way.
func (t *Tag) UnmarshalJSON(data []byte) error {
	type alias Tag
	aux := struct {
		*alias
		CurrentValue json.RawMessage `json:"currentValue"`
	}{alias: (*alias)(t)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.CurrentValue) == 0 || string(aux.CurrentValue) == "null" {
		return nil
	}

	var raw interface{}
	if err := json.Unmarshal(aux.CurrentValue, &raw); err != nil {
		return err
	}
	v, err := ParseValue(raw, t.DataType)
	if err != nil {
		return err
	}
	t.CurrentValue = &v
	return nil
}

// IsWritable reports whether the register class accepts writes.
// Holding registers and coils are read/write; inputs and discretes are not.
func (rt RegisterType) IsWritable() bool {
	return rt == RegisterTypeHolding || rt == RegisterTypeCoil
}

// IsBit reports whether the register class is a single-bit class.
func (rt RegisterType) IsBit() bool {
	return rt == RegisterTypeCoil || rt == RegisterTypeDiscrete
}

// RegisterCount returns the number of 16-bit registers the data type occupies.
func (dt DataType) RegisterCount() uint16 {
	switch dt {
	case DataTypeFloat, DataTypeInt32, DataTypeUInt32:
		return 2
	default:
		return 1
	}
}

// Validate checks the (registerType, dataType) pairing. Returned errors wrap
// ErrValidation.
func (t *Tag) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: tag name is required", ErrValidation)
	}

	switch t.RegisterType {
	case RegisterTypeHolding, RegisterTypeInput, RegisterTypeCoil, RegisterTypeDiscrete:
	default:
		return fmt.Errorf("%w: unknown register type %q", ErrValidation, t.RegisterType)
	}

	switch t.DataType {
	case DataTypeBool:
		if !t.RegisterType.IsBit() {
			return fmt.Errorf("%w: boolean requires coil or discrete, got %s", ErrValidation, t.RegisterType)
		}
	case DataTypeFloat, DataTypeInt32, DataTypeUInt32:
		if t.RegisterType.IsBit() {
			return fmt.Errorf("%w: %s occupies two registers and requires holding or input", ErrValidation, t.DataType)
		}
	case DataTypeInt16, DataTypeUInt16:
		if t.RegisterType.IsBit() {
			return fmt.Errorf("%w: %s requires holding or input, got %s", ErrValidation, t.DataType, t.RegisterType)
		}
	default:
		return fmt.Errorf("%w: unknown data type %q", ErrValidation, t.DataType)
	}

	return nil
}
