// Package opcua exposes the bridge's devices as an OPC UA address space on
// top of the gopcua server stack.
package opcua

import (
	"errors"
	"time"

	"github.com/gopcua/opcua/ua"

	"github.com/nexus-edge/fieldbridge/internal/domain"
)

// dataValueFromValue wraps a typed tag value in an OPC UA DataValue with a
// fresh source timestamp.
func dataValueFromValue(v domain.Value) *ua.DataValue {
	return &ua.DataValue{
		EncodingMask:    ua.DataValueValue | ua.DataValueSourceTimestamp | ua.DataValueServerTimestamp,
		Value:           ua.MustVariant(v.Interface()),
		SourceTimestamp: time.Now(),
		ServerTimestamp: time.Now(),
	}
}

// valueFromVariant converts a client-written variant into a Value of the
// tag's declared type.
func valueFromVariant(variant *ua.Variant, dt domain.DataType) (domain.Value, error) {
	if variant == nil {
		return domain.Value{}, domain.ErrValidation
	}
	return domain.ParseValue(variant.Value(), dt)
}

// statusFromError maps domain errors onto OPC UA status codes.
func statusFromError(err error) ua.StatusCode {
	switch {
	case err == nil:
		return ua.StatusOK
	case errors.Is(err, domain.ErrNotWritable):
		return ua.StatusBadNotWritable
	case errors.Is(err, domain.ErrValueOutOfRange):
		return ua.StatusBadOutOfRange
	case errors.Is(err, domain.ErrValidation):
		return ua.StatusBadTypeMismatch
	case errors.Is(err, domain.ErrNotFound):
		return ua.StatusBadNodeIDUnknown
	default:
		// Connect, timeout and transport failures on the Modbus side.
		return ua.StatusBadCommunicationError
	}
}

// accessLevel returns the variable access mask for a register class.
func accessLevel(writable bool) byte {
	level := ua.AccessLevelTypeCurrentRead
	if writable {
		level |= ua.AccessLevelTypeCurrentWrite
	}
	return byte(level)
}
