// Package domain contains core business entities.
package domain

import "context"

// ClientPool is the outbound Modbus side of the engine: one logical client
// per tcp/rtu device with serialized transactions per device.
type ClientPool interface {
	// EnsureConnected opens the transport when disconnected and assigns the
	// unit id. Failures wrap ErrConnectFailed or ErrTimeout.
	EnsureConnected(ctx context.Context, device *Device) error

	// ReadTag reads the tag's register region and returns the decoded value.
	ReadTag(ctx context.Context, device *Device, tag *Tag) (Value, error)

	// WriteTag writes a value to the tag's register region. Non-writable
	// register classes fail with ErrNotWritable.
	WriteTag(ctx context.Context, device *Device, tag *Tag, value Value) error

	// Connected reports the current transport state for a device.
	Connected(deviceID string) bool

	// Remove closes and drops the client for a device, best-effort.
	Remove(deviceID string)

	// Close disconnects every client and stops the pool.
	Close() error
}

// AddressSpace is the facade over the OPC UA server namespace. The bridge
// holds identifier-keyed handles only; the implementation looks values up in
// the tag store on every read.
type AddressSpace interface {
	// AddDevice creates the device folder and one variable per tag.
	AddDevice(device *Device) error

	// RemoveDevice disposes the device folder and its variables.
	RemoveDevice(deviceID string) error

	// Publish pushes a fresh sample to the tag's variable so subscriptions
	// observe it.
	Publish(deviceID, tagName string, value Value)

	// Close shuts the underlying server down.
	Close() error
}

// Catalog persists the full device array on every admin mutation and loads it
// at startup.
type Catalog interface {
	Load() ([]*Device, error)
	Save(devices []*Device) error
}
