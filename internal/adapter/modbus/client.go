// Package modbus provides the outbound Modbus client side of the bridge:
// one logical client per tcp/rtu device with lazy connect, reconnect on
// failure, and serialized request issuance per device.
package modbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goburrow/modbus"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/fieldbridge/internal/codec"
	"github.com/nexus-edge/fieldbridge/internal/domain"
)

// DefaultTimeout bounds connects and request/response exchanges when the
// device does not configure its own.
const DefaultTimeout = 2 * time.Second

// transport is the subset of goburrow's client handlers the Client needs.
// Both TCPClientHandler and RTUClientHandler satisfy it.
type transport interface {
	Connect() error
	Close() error
}

// Client wraps a single device's Modbus connection. The mutex serializes
// transactions: at most one request is in flight per device, which also
// keeps poll ticks and writes linearizable per device.
type Client struct {
	device         *domain.Device
	defaultTimeout time.Duration
	logger         zerolog.Logger
	mu             sync.Mutex
	handler        transport
	client         modbus.Client
	connected      atomic.Bool
}

// NewClient creates a client for an outbound device. No I/O happens until
// the first request.
func NewClient(device *domain.Device, defaultTimeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		device:         device,
		defaultTimeout: defaultTimeout,
		logger:         logger.With().Str("device_id", device.ID).Str("type", string(device.Type)).Logger(),
	}
}

func (c *Client) timeout() time.Duration {
	if t := c.device.Connection.Timeout; t > 0 {
		return t
	}
	if c.defaultTimeout > 0 {
		return c.defaultTimeout
	}
	return DefaultTimeout
}

// newHandler builds the transport for the device's branch.
func (c *Client) newHandler() (transport, modbus.Client, error) {
	switch c.device.Type {
	case domain.DeviceTypeTCP:
		addr := fmt.Sprintf("%s:%d", c.device.Connection.Host, c.device.Connection.Port)
		h := modbus.NewTCPClientHandler(addr)
		h.Timeout = c.timeout()
		h.SlaveId = c.device.UnitID
		return h, modbus.NewClient(h), nil

	case domain.DeviceTypeRTU:
		h := modbus.NewRTUClientHandler(c.device.Connection.SerialPort)
		h.BaudRate = c.device.Connection.BaudRate
		h.DataBits = c.device.Connection.DataBits
		h.Parity = c.device.Connection.Parity
		h.StopBits = c.device.Connection.StopBits
		h.Timeout = c.timeout()
		h.SlaveId = c.device.UnitID
		return h, modbus.NewClient(h), nil

	default:
		return nil, nil, fmt.Errorf("%w: device type %q has no outbound transport", domain.ErrValidation, c.device.Type)
	}
}

// Connect opens the transport when disconnected. The dial is bounded by the
// device timeout and the caller's context.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.connected.Load() {
		return nil
	}

	handler, client, err := c.newHandler()
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- handler.Connect() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrConnectFailed, err)
		}
	case <-ctx.Done():
		// Leave the dial goroutine to finish and close behind itself.
		go func() {
			if <-done == nil {
				handler.Close()
			}
		}()
		return fmt.Errorf("%w: %v", domain.ErrTimeout, ctx.Err())
	case <-time.After(c.timeout()):
		go func() {
			if <-done == nil {
				handler.Close()
			}
		}()
		return fmt.Errorf("%w: dial exceeded %s", domain.ErrTimeout, c.timeout())
	}

	c.handler = handler
	c.client = client
	c.connected.Store(true)
	c.logger.Info().Msg("connected to device")
	return nil
}

// Disconnect closes the transport best-effort.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
}

func (c *Client) disconnectLocked() {
	if !c.connected.Load() {
		return
	}
	if c.handler != nil {
		if err := c.handler.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("error closing transport")
		}
	}
	c.handler = nil
	c.client = nil
	c.connected.Store(false)
	c.logger.Debug().Msg("disconnected from device")
}

// IsConnected reports the transport state.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// ReadRegion reads the tag's register region and returns the raw words.
// FC03 for holding, FC04 for input, FC01 for coil, FC02 for discrete; the
// count for numeric types equals the data type's register count. Any
// transport error disconnects; the next request re-dials.
func (c *Client) ReadRegion(ctx context.Context, tag *domain.Tag) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	var (
		data []byte
		err  error
	)
	switch tag.RegisterType {
	case domain.RegisterTypeHolding:
		data, err = c.client.ReadHoldingRegisters(tag.Address, tag.DataType.RegisterCount())
	case domain.RegisterTypeInput:
		data, err = c.client.ReadInputRegisters(tag.Address, tag.DataType.RegisterCount())
	case domain.RegisterTypeCoil:
		data, err = c.client.ReadCoils(tag.Address, 1)
	case domain.RegisterTypeDiscrete:
		data, err = c.client.ReadDiscreteInputs(tag.Address, 1)
	default:
		return nil, fmt.Errorf("%w: unknown register type %q", domain.ErrValidation, tag.RegisterType)
	}
	if err != nil {
		c.disconnectLocked()
		return nil, translateError(err)
	}

	if tag.RegisterType.IsBit() {
		if len(data) == 0 {
			return nil, domain.ErrInvalidLength
		}
		if data[0]&1 == 1 {
			return []uint16{1}, nil
		}
		return []uint16{0}, nil
	}
	return codec.BytesToWords(data)
}

// Write issues the Modbus write for a tag. Holding 16-bit types go out as
// FC06, 32-bit and float as FC16 with two words, coils as FC05. Any other
// combination fails with ErrNotWritable.
func (c *Client) Write(ctx context.Context, tag *domain.Tag, value domain.Value) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return err
	}

	var err error
	switch {
	case tag.RegisterType == domain.RegisterTypeCoil:
		var v uint16
		if value.Bool {
			v = 0xFF00
		}
		_, err = c.client.WriteSingleCoil(tag.Address, v)

	case tag.RegisterType == domain.RegisterTypeHolding:
		var words []uint16
		words, err = codec.Encode(value)
		if err != nil {
			return err
		}
		if len(words) == 1 {
			_, err = c.client.WriteSingleRegister(tag.Address, words[0])
		} else {
			_, err = c.client.WriteMultipleRegisters(tag.Address, uint16(len(words)), codec.WordsToBytes(words))
		}

	default:
		return fmt.Errorf("%w: register type %s", domain.ErrNotWritable, tag.RegisterType)
	}

	if err != nil {
		c.disconnectLocked()
		return translateError(err)
	}
	return nil
}

// translateError maps transport failures onto the domain error kinds.
func translateError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrTransport, err)
}
