package service

import (
	"context"
	"sync"

	"github.com/nexus-edge/fieldbridge/internal/domain"
)

// mockPool is a scriptable domain.ClientPool.
type mockPool struct {
	mu            sync.Mutex
	connectErr    error
	readFunc      func(device *domain.Device, tag *domain.Tag) (domain.Value, error)
	writeErr      error
	writes        []writeCall
	reads         int
	removed       []string
	connectedSet  map[string]bool
}

type writeCall struct {
	DeviceID string
	TagName  string
	Value    domain.Value
}

func newMockPool() *mockPool {
	return &mockPool{connectedSet: make(map[string]bool)}
}

func (m *mockPool) EnsureConnected(ctx context.Context, device *domain.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connectedSet[device.ID] = true
	return nil
}

func (m *mockPool) ReadTag(ctx context.Context, device *domain.Device, tag *domain.Tag) (domain.Value, error) {
	m.mu.Lock()
	m.reads++
	fn := m.readFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(device, tag)
	}
	return domain.UInt16Value(0), nil
}

func (m *mockPool) WriteTag(ctx context.Context, device *domain.Device, tag *domain.Tag, value domain.Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes = append(m.writes, writeCall{DeviceID: device.ID, TagName: tag.Name, Value: value})
	return nil
}

func (m *mockPool) Connected(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectedSet[deviceID]
}

func (m *mockPool) Remove(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, deviceID)
	delete(m.connectedSet, deviceID)
}

func (m *mockPool) Close() error { return nil }

func (m *mockPool) readCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// mockSpace is a scriptable domain.AddressSpace.
type mockSpace struct {
	mu        sync.Mutex
	addErr    error
	added     []string
	removed   []string
	published []publishCall
}

type publishCall struct {
	DeviceID string
	TagName  string
	Value    domain.Value
}

func (m *mockSpace) AddDevice(device *domain.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	m.added = append(m.added, device.ID)
	return nil
}

func (m *mockSpace) RemoveDevice(deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, deviceID)
	return nil
}

func (m *mockSpace) Publish(deviceID, tagName string, value domain.Value) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishCall{DeviceID: deviceID, TagName: tagName, Value: value})
}

func (m *mockSpace) Close() error { return nil }

func (m *mockSpace) has(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	present := false
	for _, id := range m.added {
		if id == deviceID {
			present = true
		}
	}
	for _, id := range m.removed {
		if id == deviceID {
			present = false
		}
	}
	return present
}

// mockCatalog is an in-memory domain.Catalog.
type mockCatalog struct {
	mu      sync.Mutex
	devices []*domain.Device
	saveErr error
	saves   int
}

func (m *mockCatalog) Load() ([]*domain.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.devices, nil
}

func (m *mockCatalog) Save(devices []*domain.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.devices = append([]*domain.Device(nil), devices...)
	m.saves++
	return nil
}

func (m *mockCatalog) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.devices)
}
