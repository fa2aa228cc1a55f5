package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/fieldbridge/internal/domain"
	"github.com/nexus-edge/fieldbridge/internal/metrics"
	"github.com/nexus-edge/fieldbridge/internal/modem"
	"github.com/nexus-edge/fieldbridge/internal/store"
)

// Config holds the engine's invariants that come from the bridge
// configuration rather than the catalog.
type Config struct {
	// ModemPortLo and ModemPortHi bound the listen ports modem devices may
	// claim (inclusive).
	ModemPortLo int
	ModemPortHi int
}

// Engine owns the device catalog at runtime and implements the admin
// operations: add device, remove device, write tag. It is also the routing
// target for the modem listener bank.
type Engine struct {
	config   Config
	values   *store.TagStore
	pool     domain.ClientPool
	space    domain.AddressSpace
	catalog  domain.Catalog
	poller   *Poller
	sessions *modem.ConnRegistry
	logger   zerolog.Logger
	metrics  *metrics.Registry

	mu      sync.Mutex
	devices map[string]*domain.Device
	order   []string
}

// NewEngine wires the engine's collaborators together.
func NewEngine(
	config Config,
	values *store.TagStore,
	pool domain.ClientPool,
	space domain.AddressSpace,
	catalog domain.Catalog,
	poller *Poller,
	sessions *modem.ConnRegistry,
	logger zerolog.Logger,
	metricsReg *metrics.Registry,
) *Engine {
	return &Engine{
		config:   config,
		values:   values,
		pool:     pool,
		space:    space,
		catalog:  catalog,
		poller:   poller,
		sessions: sessions,
		logger:   logger.With().Str("component", "engine").Logger(),
		metrics:  metricsReg,
		devices:  make(map[string]*domain.Device),
	}
}

// Load reads the catalog and materializes every device. Invalid entries are
// logged and skipped so one bad record cannot take the whole fleet down.
func (e *Engine) Load(ctx context.Context) error {
	devices, err := e.catalog.Load()
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	for _, device := range devices {
		device.ApplyDefaults()
		if device.ID == "" {
			device.ID = uuid.NewString()
		}
		if err := e.validate(device, false); err != nil {
			e.logger.Error().Err(err).Str("device", device.Name).Msg("skipping invalid catalog entry")
			continue
		}
		if err := e.materialize(device); err != nil {
			e.logger.Error().Err(err).Str("device_id", device.ID).Msg("skipping device")
			continue
		}
	}

	e.updateDeviceGauge()
	e.logger.Info().Int("devices", len(e.order)).Msg("catalog loaded")
	return nil
}

// materialize installs a validated device into the store, address space and
// (for outbound devices) the poller. Caller must have validated first.
func (e *Engine) materialize(device *domain.Device) error {
	if err := e.values.Install(device); err != nil {
		return err
	}
	if err := e.space.AddDevice(device); err != nil {
		e.values.Uninstall(device.ID)
		return err
	}

	e.mu.Lock()
	e.devices[device.ID] = device
	e.order = append(e.order, device.ID)
	e.mu.Unlock()

	if !device.IsModem() {
		e.poller.Register(device)
	}
	return nil
}

// validate applies the catalog-wide invariants on top of Device.Validate.
func (e *Engine) validate(device *domain.Device, lock bool) error {
	if err := device.Validate(); err != nil {
		return err
	}

	if lock {
		e.mu.Lock()
		defer e.mu.Unlock()
	}

	if _, exists := e.devices[device.ID]; exists {
		return fmt.Errorf("%w: device id %q already in use", domain.ErrValidation, device.ID)
	}

	if device.IsModem() {
		port := device.Connection.ListenPort
		if port < e.config.ModemPortLo || port > e.config.ModemPortHi {
			return fmt.Errorf("%w: listen port %d outside [%d, %d]",
				domain.ErrValidation, port, e.config.ModemPortLo, e.config.ModemPortHi)
		}
		for _, other := range e.devices {
			if other.IsModem() &&
				other.Connection.ListenPort == port &&
				other.UnitID == device.UnitID {
				return fmt.Errorf("%w: listen port %d with unit id %d already claimed by %q",
					domain.ErrValidation, port, device.UnitID, other.ID)
			}
		}
	}
	return nil
}

// AddDevice validates, persists and materializes a new device. If any step
// fails, every previous step is rolled back.
func (e *Engine) AddDevice(ctx context.Context, device *domain.Device) (*domain.Device, error) {
	device.ApplyDefaults()
	if device.ID == "" {
		device.ID = uuid.NewString()
	}
	if err := e.validate(device, true); err != nil {
		return nil, err
	}

	// Stage the catalog with the new device and persist it first; the
	// in-memory materialization only proceeds once the device survives a
	// restart.
	e.mu.Lock()
	e.devices[device.ID] = device
	e.order = append(e.order, device.ID)
	snapshot := e.snapshotLocked()
	e.mu.Unlock()

	if err := e.catalog.Save(snapshot); err != nil {
		e.drop(device.ID)
		return nil, fmt.Errorf("persisting catalog: %w", err)
	}

	if err := e.values.Install(device); err != nil {
		e.drop(device.ID)
		e.persistBestEffort()
		return nil, err
	}
	if err := e.space.AddDevice(device); err != nil {
		e.values.Uninstall(device.ID)
		e.drop(device.ID)
		e.persistBestEffort()
		return nil, err
	}
	if !device.IsModem() {
		e.poller.Register(device)
	}

	e.updateDeviceGauge()
	e.logger.Info().Str("device_id", device.ID).Str("type", string(device.Type)).Msg("device added")
	return device, nil
}

// RemoveDevice drains and deletes a device. Unknown ids fail with
// ErrNotFound.
func (e *Engine) RemoveDevice(ctx context.Context, deviceID string) error {
	e.mu.Lock()
	device, exists := e.devices[deviceID]
	e.mu.Unlock()
	if !exists {
		return fmt.Errorf("%w: device %q", domain.ErrNotFound, deviceID)
	}

	if !device.IsModem() {
		e.poller.Unregister(deviceID)
		e.pool.Remove(deviceID)
	}
	if err := e.space.RemoveDevice(deviceID); err != nil {
		e.logger.Warn().Err(err).Str("device_id", deviceID).Msg("error removing address space nodes")
	}
	e.values.Uninstall(deviceID)
	e.drop(deviceID)

	e.mu.Lock()
	snapshot := e.snapshotLocked()
	e.mu.Unlock()
	if err := e.catalog.Save(snapshot); err != nil {
		return fmt.Errorf("persisting catalog: %w", err)
	}

	e.updateDeviceGauge()
	e.logger.Info().Str("device_id", deviceID).Msg("device removed")
	return nil
}

// WriteTag parses a raw admin value as the tag's declared type and runs the
// shared write path.
func (e *Engine) WriteTag(ctx context.Context, deviceID, tagName string, raw interface{}) error {
	e.mu.Lock()
	device, exists := e.devices[deviceID]
	e.mu.Unlock()
	if !exists {
		return fmt.Errorf("%w: device %q", domain.ErrNotFound, deviceID)
	}

	tag := device.Tag(tagName)
	if tag == nil {
		return fmt.Errorf("%w: tag %q on device %q", domain.ErrNotFound, tagName, deviceID)
	}
	if device.IsModem() {
		return fmt.Errorf("%w: modem devices have no write path", domain.ErrNotWritable)
	}
	if !tag.RegisterType.IsWritable() {
		return fmt.Errorf("%w: register type %s", domain.ErrNotWritable, tag.RegisterType)
	}

	value, err := domain.ParseValue(raw, tag.DataType)
	if err != nil {
		return err
	}
	return e.writeValue(ctx, device, tag, value)
}

// WriteParsed is the write entry for the address-space bridge: the value is
// already typed, the identifiers still need resolving.
func (e *Engine) WriteParsed(ctx context.Context, deviceID, tagName string, value domain.Value) error {
	e.mu.Lock()
	device, exists := e.devices[deviceID]
	e.mu.Unlock()
	if !exists {
		return fmt.Errorf("%w: device %q", domain.ErrNotFound, deviceID)
	}

	tag := device.Tag(tagName)
	if tag == nil {
		return fmt.Errorf("%w: tag %q on device %q", domain.ErrNotFound, tagName, deviceID)
	}
	if device.IsModem() {
		return fmt.Errorf("%w: modem devices have no write path", domain.ErrNotWritable)
	}
	if !tag.RegisterType.IsWritable() {
		return fmt.Errorf("%w: register type %s", domain.ErrNotWritable, tag.RegisterType)
	}
	if value.Type != tag.DataType {
		converted, err := domain.ParseValue(value.Interface(), tag.DataType)
		if err != nil {
			return err
		}
		value = converted
	}
	return e.writeValue(ctx, device, tag, value)
}

// writeValue is the single write path all writers converge on: Modbus write
// first, then the tag store update, whose hooks republish to the address
// space. Between the write and the update no other observer sees a third
// value, because the per-device client mutex serializes the wire and the
// store mutex serializes the update.
func (e *Engine) writeValue(ctx context.Context, device *domain.Device, tag *domain.Tag, value domain.Value) error {
	if err := e.pool.WriteTag(ctx, device, tag, value); err != nil {
		return err
	}
	e.values.SetFromWire(device.ID, tag.Name, value)
	return nil
}

// ReadValue exposes the store to the address-space getters.
func (e *Engine) ReadValue(deviceID, tagName string) (domain.Value, bool) {
	entry, ok := e.values.Get(deviceID, tagName)
	if !ok || entry.Value == nil {
		return domain.Value{}, false
	}
	return *entry.Value, true
}

// Devices returns a copy of the catalog in insertion order with the
// transient Connected flag filled in.
func (e *Engine) Devices() []*domain.Device {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*domain.Device, 0, len(e.order))
	for _, id := range e.order {
		device, ok := e.devices[id]
		if !ok {
			continue
		}
		copied := *device
		if device.IsModem() {
			copied.Connected = e.sessions.HasPort(device.Connection.ListenPort)
		} else {
			copied.Connected = e.pool.Connected(device.ID)
		}
		out = append(out, &copied)
	}
	return out
}

// Values returns the tag store snapshot for the HTTP read endpoint.
func (e *Engine) Values() map[string]store.DeviceSnapshot {
	return e.values.Snapshot()
}

// Connections enumerates live modem sessions.
func (e *Engine) Connections() []modem.ConnectionInfo {
	return e.sessions.List()
}

// FindModemDevice implements modem.Router: the unique tcp-modem device whose
// listen port and unit id match the inbound frame.
func (e *Engine) FindModemDevice(listenPort int, unitID uint8) (*domain.Device, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, device := range e.devices {
		if device.IsModem() &&
			device.Connection.ListenPort == listenPort &&
			device.UnitID == unitID {
			return device, true
		}
	}
	return nil, false
}

func (e *Engine) snapshotLocked() []*domain.Device {
	out := make([]*domain.Device, 0, len(e.order))
	for _, id := range e.order {
		if device, ok := e.devices[id]; ok {
			out = append(out, device)
		}
	}
	return out
}

func (e *Engine) drop(deviceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.devices, deviceID)
	for i, id := range e.order {
		if id == deviceID {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

func (e *Engine) persistBestEffort() {
	e.mu.Lock()
	snapshot := e.snapshotLocked()
	e.mu.Unlock()
	if err := e.catalog.Save(snapshot); err != nil {
		e.logger.Error().Err(err).Msg("failed to restore catalog after rollback")
	}
}

func (e *Engine) updateDeviceGauge() {
	if e.metrics == nil {
		return
	}
	e.mu.Lock()
	n := len(e.devices)
	e.mu.Unlock()
	e.metrics.UpdateDeviceCount(n)
}
