// Package service contains the device-integration engine: the pollers that
// keep the tag store fresh and the admin operations that mutate the fleet.
package service

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/fieldbridge/internal/domain"
	"github.com/nexus-edge/fieldbridge/internal/metrics"
	"github.com/nexus-edge/fieldbridge/internal/store"
)

// Poller drives the client pool to refresh every tag of every outbound
// device on its poll interval and publishes the results into the tag store.
type Poller struct {
	pool    domain.ClientPool
	values  *store.TagStore
	logger  zerolog.Logger
	metrics *metrics.Registry

	mu      sync.Mutex
	devices map[string]*devicePoller
	started atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// devicePoller manages the polling loop for a single device.
type devicePoller struct {
	device   *domain.Device
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
	// busy enforces that ticks for the same device never overlap: a tick
	// firing while the previous one still runs is skipped, not queued.
	busy atomic.Bool
}

// NewPoller creates an idle poller.
func NewPoller(pool domain.ClientPool, values *store.TagStore, logger zerolog.Logger, metricsReg *metrics.Registry) *Poller {
	return &Poller{
		pool:    pool,
		values:  values,
		logger:  logger.With().Str("component", "poller").Logger(),
		metrics: metricsReg,
		devices: make(map[string]*devicePoller),
	}
}

// Start begins polling all registered devices.
func (p *Poller) Start(ctx context.Context) {
	if p.started.Load() {
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.started.Store(true)

	p.mu.Lock()
	for _, dp := range p.devices {
		p.startDevicePoller(dp)
	}
	count := len(p.devices)
	p.mu.Unlock()

	p.logger.Info().Int("devices", count).Msg("poller started")
}

// Stop cancels every poll loop and waits for them to drain, bounded by ctx.
func (p *Poller) Stop(ctx context.Context) {
	if !p.started.Load() {
		return
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info().Msg("all pollers stopped")
	case <-ctx.Done():
		p.logger.Warn().Msg("timeout waiting for pollers to stop")
	}
	p.started.Store(false)
}

// Register adds a device. Modem devices have no poll loop and are ignored.
func (p *Poller) Register(device *domain.Device) {
	if device.IsModem() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.devices[device.ID]; exists {
		return
	}
	dp := &devicePoller{device: device, stopChan: make(chan struct{})}
	p.devices[device.ID] = dp

	p.logger.Info().
		Str("device_id", device.ID).
		Int("tags", len(device.Tags)).
		Dur("interval", device.PollInterval).
		Msg("registered device for polling")

	if p.started.Load() {
		p.startDevicePoller(dp)
	}
}

// Unregister stops and removes a device's poll loop. No-op for unknown ids.
func (p *Poller) Unregister(deviceID string) {
	p.mu.Lock()
	dp, exists := p.devices[deviceID]
	delete(p.devices, deviceID)
	p.mu.Unlock()

	if !exists {
		return
	}
	dp.stopOnce.Do(func() { close(dp.stopChan) })
	p.logger.Info().Str("device_id", deviceID).Msg("unregistered device")
}

// startDevicePoller launches the loop for one device. A small startup jitter
// spreads device polls so a large fleet does not tick in lockstep.
func (p *Poller) startDevicePoller(dp *devicePoller) {
	if dp.running.Load() {
		return
	}
	dp.running.Store(true)
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		defer dp.running.Store(false)

		if jitterMax := dp.device.PollInterval / 10; jitterMax > 0 {
			select {
			case <-time.After(time.Duration(rand.Int63n(int64(jitterMax)))):
			case <-p.ctx.Done():
				return
			case <-dp.stopChan:
				return
			}
		}

		ticker := time.NewTicker(dp.device.PollInterval)
		defer ticker.Stop()

		p.pollDevice(dp)
		for {
			select {
			case <-p.ctx.Done():
				return
			case <-dp.stopChan:
				return
			case <-ticker.C:
				p.pollDevice(dp)
			}
		}
	}()
}

// pollDevice performs one tick: connect if needed, then read every tag in
// declared order. Any tag error recycles the transport and aborts the rest
// of the tick; the next tick retries.
func (p *Poller) pollDevice(dp *devicePoller) {
	if !dp.busy.CompareAndSwap(false, true) {
		if p.metrics != nil {
			p.metrics.RecordPollError(dp.device.ID, "overlap_skipped")
		}
		return
	}
	defer dp.busy.Store(false)

	device := dp.device
	start := time.Now()

	timeout := device.Connection.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(p.ctx, timeout)
	err := p.pool.EnsureConnected(connectCtx, device)
	cancel()
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordPollError(device.ID, "connect")
		}
		p.logger.Debug().Err(err).Str("device_id", device.ID).Msg("skipping tick, device unreachable")
		return
	}

	read := 0
	for i := range device.Tags {
		tag := &device.Tags[i]

		readCtx, cancel := context.WithTimeout(p.ctx, timeout)
		value, err := p.pool.ReadTag(readCtx, device, tag)
		cancel()
		if err != nil {
			if p.metrics != nil {
				p.metrics.RecordPollError(device.ID, "read")
			}
			p.logger.Debug().Err(err).
				Str("device_id", device.ID).
				Str("tag", tag.Name).
				Msg("tag read failed, aborting tick")
			return
		}

		p.values.SetFromWire(device.ID, tag.Name, value)
		read++
	}

	if p.metrics != nil {
		p.metrics.RecordPollSuccess(device.ID, time.Since(start).Seconds(), read)
	}
}
