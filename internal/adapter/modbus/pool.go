// Package modbus provides the client pool for outbound devices.
package modbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/nexus-edge/fieldbridge/internal/codec"
	"github.com/nexus-edge/fieldbridge/internal/domain"
	"github.com/nexus-edge/fieldbridge/internal/metrics"
)

// PoolConfig holds pool-wide defaults applied to devices that do not
// configure their own.
type PoolConfig struct {
	// RequestTimeout bounds connects and request/response exchanges.
	RequestTimeout time.Duration
}

// Pool manages one Client per outbound device. It implements
// domain.ClientPool.
type Pool struct {
	config  PoolConfig
	mu      sync.RWMutex
	clients map[string]*pooledClient
	logger  zerolog.Logger
	metrics *metrics.Registry
	closed  bool
}

// pooledClient pairs a client with its per-device circuit breaker. Per-device
// breakers isolate failures: one misbehaving device cannot starve the rest.
type pooledClient struct {
	client  *Client
	breaker *gobreaker.CircuitBreaker
}

// NewPool creates an empty pool.
func NewPool(config PoolConfig, logger zerolog.Logger, metricsReg *metrics.Registry) *Pool {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultTimeout
	}
	return &Pool{
		config:  config,
		clients: make(map[string]*pooledClient),
		logger:  logger.With().Str("component", "modbus-pool").Logger(),
		metrics: metricsReg,
	}
}

func (p *Pool) breakerFor(deviceID string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        fmt.Sprintf("modbus-%s", deviceID),
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			p.logger.Info().
				Str("device", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
}

// get returns the pooled client for a device, creating it when absent.
func (p *Pool) get(device *domain.Device) (*pooledClient, error) {
	p.mu.RLock()
	pc, ok := p.clients[device.ID]
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, domain.ErrStopped
	}
	if ok {
		return pc, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, domain.ErrStopped
	}
	if pc, ok = p.clients[device.ID]; ok {
		return pc, nil
	}
	pc = &pooledClient{
		client:  NewClient(device, p.config.RequestTimeout, p.logger),
		breaker: p.breakerFor(device.ID),
	}
	p.clients[device.ID] = pc
	p.logger.Info().Str("device_id", device.ID).Int("pool_size", len(p.clients)).Msg("created modbus client")
	return pc, nil
}

// EnsureConnected opens the device transport when disconnected.
func (p *Pool) EnsureConnected(ctx context.Context, device *domain.Device) error {
	pc, err := p.get(device)
	if err != nil {
		return err
	}
	if pc.client.IsConnected() {
		return nil
	}

	start := time.Now()
	_, err = pc.breaker.Execute(func() (interface{}, error) {
		return nil, pc.client.Connect(ctx)
	})
	if p.metrics != nil {
		p.metrics.RecordConnection(err == nil, time.Since(start).Seconds())
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return fmt.Errorf("%w: circuit breaker open", domain.ErrConnectFailed)
	}
	return err
}

// ReadTag reads and decodes one tag.
func (p *Pool) ReadTag(ctx context.Context, device *domain.Device, tag *domain.Tag) (domain.Value, error) {
	pc, err := p.get(device)
	if err != nil {
		return domain.Value{}, err
	}

	res, err := pc.breaker.Execute(func() (interface{}, error) {
		return pc.client.ReadRegion(ctx, tag)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return domain.Value{}, fmt.Errorf("%w: circuit breaker open", domain.ErrConnectFailed)
	}
	if err != nil {
		return domain.Value{}, err
	}
	return codec.Decode(res.([]uint16), tag.DataType)
}

// WriteTag writes a value to one tag.
func (p *Pool) WriteTag(ctx context.Context, device *domain.Device, tag *domain.Tag, value domain.Value) error {
	if !tag.RegisterType.IsWritable() {
		return fmt.Errorf("%w: register type %s", domain.ErrNotWritable, tag.RegisterType)
	}

	pc, err := p.get(device)
	if err != nil {
		return err
	}

	_, err = pc.breaker.Execute(func() (interface{}, error) {
		return nil, pc.client.Write(ctx, tag, value)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return fmt.Errorf("%w: circuit breaker open", domain.ErrConnectFailed)
	}
	if p.metrics != nil {
		p.metrics.RecordWrite(err == nil)
	}
	return err
}

// Connected reports the transport state of a device, false for unknown ids.
func (p *Pool) Connected(deviceID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pc, ok := p.clients[deviceID]
	return ok && pc.client.IsConnected()
}

// Remove disconnects and drops the client for a device, best-effort.
func (p *Pool) Remove(deviceID string) {
	p.mu.Lock()
	pc, ok := p.clients[deviceID]
	delete(p.clients, deviceID)
	p.mu.Unlock()

	if ok {
		pc.client.Disconnect()
		p.logger.Info().Str("device_id", deviceID).Msg("removed modbus client")
	}
}

// Close disconnects every client and stops the pool.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	clients := p.clients
	p.clients = make(map[string]*pooledClient)
	p.mu.Unlock()

	for _, pc := range clients {
		pc.client.Disconnect()
	}
	p.logger.Info().Msg("modbus pool closed")
	return nil
}

// ActiveConnections counts currently connected clients.
func (p *Pool) ActiveConnections() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := 0
	for _, pc := range p.clients {
		if pc.client.IsConnected() {
			n++
		}
	}
	return n
}

// HealthCheck implements the health.Checker interface. The pool is healthy
// as long as it is operational; individual devices may still be down.
func (p *Pool) HealthCheck(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return domain.ErrStopped
	}
	return nil
}
