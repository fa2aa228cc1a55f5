// Package domain contains the core business entities and interfaces.
// These are transport-agnostic and represent the core concepts of the bridge.
package domain

import (
	"fmt"
	"time"
)

// DeviceType selects how the bridge reaches (or is reached by) a device.
type DeviceType string

const (
	// DeviceTypeTCP is an outbound Modbus/TCP device the bridge dials and polls.
	DeviceTypeTCP DeviceType = "tcp"

	// DeviceTypeRTU is an outbound Modbus RTU device on a local serial port.
	DeviceTypeRTU DeviceType = "rtu"

	// DeviceTypeTCPModem is an inbound device: the device dials the bridge and
	// the bridge answers its Modbus queries from cached values.
	DeviceTypeTCPModem DeviceType = "tcp-modem"
)

// Device represents one field device and its tag list.
type Device struct {
	// ID is the unique identifier for this device. Assigned at insert time
	// when absent.
	ID string `json:"id" yaml:"id"`

	// Name is a human-readable name, also used as the OPC UA folder browse name.
	Name string `json:"name" yaml:"name"`

	// Type selects the transport branch (tcp, rtu, tcp-modem).
	Type DeviceType `json:"type" yaml:"type"`

	// Connection holds type-specific transport parameters.
	Connection ConnectionConfig `json:"connection" yaml:"connection"`

	// UnitID is the Modbus unit (slave) id. Defaults to 1.
	UnitID uint8 `json:"deviceId" yaml:"device_id"`

	// PollInterval is the polling period for outbound devices. Defaults to 2s.
	PollInterval time.Duration `json:"pollInterval" yaml:"poll_interval"`

	// Tags is the ordered list of data points on this device.
	Tags []Tag `json:"tags" yaml:"tags"`

	// Connected reports current transport state. Transient, never persisted.
	Connected bool `json:"connected" yaml:"-"`
}

// ConnectionConfig holds transport parameters for one device.
type ConnectionConfig struct {
	// Host and Port address an outbound Modbus/TCP device.
	Host string `json:"address,omitempty" yaml:"host,omitempty"`
	Port int    `json:"port,omitempty" yaml:"port,omitempty"`

	// SerialPort is the device path for RTU (e.g. "/dev/ttyUSB0").
	SerialPort string `json:"serialPort,omitempty" yaml:"serial_port,omitempty"`

	// Serial parameters for RTU. Defaults: 9600 baud, 8 data bits, no parity,
	// 1 stop bit.
	BaudRate int    `json:"baudRate,omitempty" yaml:"baud_rate,omitempty"`
	DataBits int    `json:"dataBits,omitempty" yaml:"data_bits,omitempty"`
	Parity   string `json:"parity,omitempty" yaml:"parity,omitempty"`
	StopBits int    `json:"stopBits,omitempty" yaml:"stop_bits,omitempty"`

	// ListenPort is the local port a tcp-modem device dials into. Must lie
	// within the configured listener range.
	ListenPort int `json:"listenPort,omitempty" yaml:"listen_port,omitempty"`

	// Timeout bounds connects and Modbus request/response exchanges.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// DefaultPollInterval is applied when a device omits its poll interval.
const DefaultPollInterval = 2 * time.Second

// Serial defaults (8-N-1 at 9600 baud).
const (
	DefaultBaudRate = 9600
	DefaultDataBits = 8
	DefaultParity   = "N"
	DefaultStopBits = 1
)

// ApplyDefaults fills zero-valued optional fields.
func (d *Device) ApplyDefaults() {
	if d.UnitID == 0 {
		d.UnitID = 1
	}
	if d.PollInterval <= 0 {
		d.PollInterval = DefaultPollInterval
	}
	if d.Type == DeviceTypeRTU {
		if d.Connection.BaudRate == 0 {
			d.Connection.BaudRate = DefaultBaudRate
		}
		if d.Connection.DataBits == 0 {
			d.Connection.DataBits = DefaultDataBits
		}
		if d.Connection.Parity == "" {
			d.Connection.Parity = DefaultParity
		}
		if d.Connection.StopBits == 0 {
			d.Connection.StopBits = DefaultStopBits
		}
	}
}

// IsModem reports whether the device is an inbound tcp-modem device.
func (d *Device) IsModem() bool {
	return d.Type == DeviceTypeTCPModem
}

// Validate checks the device and all of its tags. Returned errors wrap
// ErrValidation.
func (d *Device) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: device name is required", ErrValidation)
	}
	switch d.Type {
	case DeviceTypeTCP:
		if d.Connection.Host == "" {
			return fmt.Errorf("%w: tcp device %q requires an address", ErrValidation, d.Name)
		}
		if d.Connection.Port <= 0 || d.Connection.Port > 65535 {
			return fmt.Errorf("%w: tcp device %q has invalid port %d", ErrValidation, d.Name, d.Connection.Port)
		}
	case DeviceTypeRTU:
		if d.Connection.SerialPort == "" {
			return fmt.Errorf("%w: rtu device %q requires a serial port", ErrValidation, d.Name)
		}
	case DeviceTypeTCPModem:
		if d.Connection.ListenPort <= 0 || d.Connection.ListenPort > 65535 {
			return fmt.Errorf("%w: modem device %q has invalid listen port %d", ErrValidation, d.Name, d.Connection.ListenPort)
		}
	default:
		return fmt.Errorf("%w: unknown device type %q", ErrValidation, d.Type)
	}

	if len(d.Tags) == 0 {
		return fmt.Errorf("%w: device %q defines no tags", ErrValidation, d.Name)
	}

	seen := make(map[string]struct{}, len(d.Tags))
	for i := range d.Tags {
		t := &d.Tags[i]
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("%w: duplicate tag name %q on device %q", ErrValidation, t.Name, d.Name)
		}
		seen[t.Name] = struct{}{}
		if err := t.Validate(); err != nil {
			return fmt.Errorf("tag %q on device %q: %w", t.Name, d.Name, err)
		}
	}
	return nil
}

// Tag returns the tag with the given name, or nil.
func (d *Device) Tag(name string) *Tag {
	for i := range d.Tags {
		if d.Tags[i].Name == name {
			return &d.Tags[i]
		}
	}
	return nil
}
