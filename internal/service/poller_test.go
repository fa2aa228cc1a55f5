package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/fieldbridge/internal/domain"
	"github.com/nexus-edge/fieldbridge/internal/store"
)

func pollDeviceFixture(interval time.Duration) *domain.Device {
	return &domain.Device{
		ID:           "d1",
		Name:         "Boiler",
		Type:         domain.DeviceTypeTCP,
		UnitID:       1,
		PollInterval: interval,
		Connection: domain.ConnectionConfig{
			Host:    "127.0.0.1",
			Port:    5020,
			Timeout: 100 * time.Millisecond,
		},
		Tags: []domain.Tag{
			{Name: "a", Address: 1, RegisterType: domain.RegisterTypeHolding, DataType: domain.DataTypeUInt16},
			{Name: "b", Address: 2, RegisterType: domain.RegisterTypeHolding, DataType: domain.DataTypeUInt16},
		},
	}
}

func TestPoller_RefreshesStore(t *testing.T) {
	values := store.New()
	device := pollDeviceFixture(20 * time.Millisecond)
	if err := values.Install(device); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	pool := newMockPool()
	pool.readFunc = func(_ *domain.Device, tag *domain.Tag) (domain.Value, error) {
		if tag.Name == "a" {
			return domain.UInt16Value(65), nil
		}
		return domain.UInt16Value(66), nil
	}

	p := NewPoller(pool, values, zerolog.Nop(), nil)
	p.Register(device)
	p.Start(context.Background())
	defer p.Stop(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ea, _ := values.Get("d1", "a")
		eb, _ := values.Get("d1", "b")
		if ea.Value != nil && eb.Value != nil {
			if !ea.Value.Equal(domain.UInt16Value(65)) || !eb.Value.Equal(domain.UInt16Value(66)) {
				t.Fatalf("store = %v, %v", ea.Value, eb.Value)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("poller never refreshed the store")
}

func TestPoller_SkipsTickWhenDisconnected(t *testing.T) {
	values := store.New()
	device := pollDeviceFixture(10 * time.Millisecond)
	if err := values.Install(device); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	pool := newMockPool()
	pool.connectErr = domain.ErrConnectFailed

	p := NewPoller(pool, values, zerolog.Nop(), nil)
	p.Register(device)
	p.Start(context.Background())
	defer p.Stop(context.Background())

	time.Sleep(100 * time.Millisecond)
	if n := pool.readCount(); n != 0 {
		t.Errorf("poller issued %d reads while disconnected, want 0", n)
	}
}

func TestPoller_AbortsTickOnReadError(t *testing.T) {
	values := store.New()
	device := pollDeviceFixture(500 * time.Millisecond)
	if err := values.Install(device); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	pool := newMockPool()
	pool.readFunc = func(_ *domain.Device, tag *domain.Tag) (domain.Value, error) {
		if tag.Name == "a" {
			return domain.Value{}, domain.ErrTransport
		}
		return domain.UInt16Value(1), nil
	}

	p := NewPoller(pool, values, zerolog.Nop(), nil)
	p.Register(device)
	p.Start(context.Background())
	defer p.Stop(context.Background())

	// Give the initial tick time to run: tag "a" fails, so tag "b" must
	// never be read or published.
	time.Sleep(200 * time.Millisecond)
	eb, _ := values.Get("d1", "b")
	if eb.Value != nil {
		t.Errorf("tag after failed read was still published: %v", eb.Value)
	}
}

func TestPoller_UnregisterStopsLoop(t *testing.T) {
	values := store.New()
	device := pollDeviceFixture(10 * time.Millisecond)
	if err := values.Install(device); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	pool := newMockPool()
	var reads atomic.Int64
	pool.readFunc = func(*domain.Device, *domain.Tag) (domain.Value, error) {
		reads.Add(1)
		return domain.UInt16Value(1), nil
	}

	p := NewPoller(pool, values, zerolog.Nop(), nil)
	p.Register(device)
	p.Start(context.Background())
	defer p.Stop(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for reads.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if reads.Load() == 0 {
		t.Fatal("poller never polled")
	}

	p.Unregister(device.ID)
	settled := reads.Load()
	time.Sleep(100 * time.Millisecond)
	// One in-flight tick may still complete; afterwards the loop is gone.
	if reads.Load() > settled+int64(len(device.Tags)) {
		t.Errorf("poller kept reading after Unregister: %d -> %d", settled, reads.Load())
	}
}

func TestPoller_ModemDevicesIgnored(t *testing.T) {
	values := store.New()
	p := NewPoller(newMockPool(), values, zerolog.Nop(), nil)

	p.Register(&domain.Device{
		ID:   "m1",
		Name: "Modem",
		Type: domain.DeviceTypeTCPModem,
		Connection: domain.ConnectionConfig{
			ListenPort: 8000,
		},
		Tags: []domain.Tag{
			{Name: "x", Address: 10, RegisterType: domain.RegisterTypeHolding, DataType: domain.DataTypeUInt16},
		},
	})

	p.mu.Lock()
	n := len(p.devices)
	p.mu.Unlock()
	if n != 0 {
		t.Errorf("poller registered %d modem devices, want 0", n)
	}
}
