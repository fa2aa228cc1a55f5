package store

import (
	"errors"
	"sync"
	"testing"

	"github.com/nexus-edge/fieldbridge/internal/domain"
)

func testDevice() *domain.Device {
	return &domain.Device{
		ID:   "d1",
		Name: "Boiler",
		Type: domain.DeviceTypeTCP,
		Tags: []domain.Tag{
			{Name: "temp", Address: 100, RegisterType: domain.RegisterTypeHolding, DataType: domain.DataTypeUInt16},
			{Name: "pressure", Address: 200, RegisterType: domain.RegisterTypeInput, DataType: domain.DataTypeFloat},
			{Name: "pump", Address: 0, RegisterType: domain.RegisterTypeCoil, DataType: domain.DataTypeBool},
		},
	}
}

func TestInstallAndGet(t *testing.T) {
	s := New()
	if err := s.Install(testDevice()); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	e, ok := s.Get("d1", "temp")
	if !ok {
		t.Fatal("Get() returned ok = false")
	}
	if e.Tag.Address != 100 || e.Tag.RegisterType != domain.RegisterTypeHolding {
		t.Errorf("Get() metadata = %+v", e.Tag)
	}
	if e.Value != nil {
		t.Errorf("Get() value = %v, want unset", e.Value)
	}

	if _, ok := s.Get("d1", "missing"); ok {
		t.Error("Get() found a tag that does not exist")
	}
	if _, ok := s.Get("other", "temp"); ok {
		t.Error("Get() found a device that does not exist")
	}
}

func TestInstall_Duplicate(t *testing.T) {
	s := New()
	if err := s.Install(testDevice()); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if err := s.Install(testDevice()); !errors.Is(err, domain.ErrDeviceExists) {
		t.Errorf("Install() error = %v, want ErrDeviceExists", err)
	}
}

func TestInstall_SeededValue(t *testing.T) {
	v := domain.UInt16Value(42)
	dev := &domain.Device{
		ID:   "m1",
		Name: "Pump Skid",
		Type: domain.DeviceTypeTCPModem,
		Tags: []domain.Tag{
			{Name: "x", Address: 10, RegisterType: domain.RegisterTypeHolding, DataType: domain.DataTypeUInt16, CurrentValue: &v},
		},
	}
	s := New()
	if err := s.Install(dev); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	e, ok := s.Get("m1", "x")
	if !ok || e.Value == nil {
		t.Fatal("Get() returned no seeded value")
	}
	if !e.Value.Equal(domain.UInt16Value(42)) {
		t.Errorf("seeded value = %v, want 42", e.Value)
	}
}

func TestSetFromWire(t *testing.T) {
	s := New()
	if err := s.Install(testDevice()); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	var gotDevice, gotTag string
	var gotValue domain.Value
	calls := 0
	s.OnUpdate(func(deviceID, tagName string, value domain.Value) {
		calls++
		gotDevice, gotTag, gotValue = deviceID, tagName, value
	})

	s.SetFromWire("d1", "temp", domain.UInt16Value(65))

	e, _ := s.Get("d1", "temp")
	if e.Value == nil || !e.Value.Equal(domain.UInt16Value(65)) {
		t.Errorf("value after SetFromWire = %v, want 65", e.Value)
	}
	if calls != 1 || gotDevice != "d1" || gotTag != "temp" || !gotValue.Equal(domain.UInt16Value(65)) {
		t.Errorf("hook saw (%q, %q, %v) in %d calls", gotDevice, gotTag, gotValue, calls)
	}

	// Unknown keys are ignored and do not fire hooks.
	s.SetFromWire("d1", "missing", domain.UInt16Value(1))
	if calls != 1 {
		t.Errorf("hook fired %d times for unknown tag", calls-1)
	}
}

func TestUninstall(t *testing.T) {
	s := New()
	if err := s.Install(testDevice()); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	s.Uninstall("d1")

	if _, ok := s.Get("d1", "temp"); ok {
		t.Error("Get() found tag after Uninstall")
	}
	if len(s.Snapshot()) != 0 {
		t.Error("Snapshot() not empty after Uninstall")
	}

	// Uninstalling twice is harmless.
	s.Uninstall("d1")
}

func TestSnapshot(t *testing.T) {
	s := New()
	if err := s.Install(testDevice()); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	s.SetFromWire("d1", "temp", domain.UInt16Value(65))
	s.SetFromWire("d1", "pump", domain.BoolValue(true))

	snap := s.Snapshot()
	dev, ok := snap["d1"]
	if !ok {
		t.Fatal("Snapshot() missing device d1")
	}
	if dev.Name != "Boiler" {
		t.Errorf("Snapshot() name = %q", dev.Name)
	}
	if len(dev.Tags) != 3 {
		t.Fatalf("Snapshot() has %d tags, want 3", len(dev.Tags))
	}

	if ts := dev.Tags["temp"]; !ts.Writable || ts.Value == nil || !ts.Value.Equal(domain.UInt16Value(65)) {
		t.Errorf("temp snapshot = %+v", ts)
	}
	if ts := dev.Tags["pressure"]; ts.Writable || ts.Value != nil {
		t.Errorf("pressure snapshot = %+v, want read-only unset", ts)
	}
	if ts := dev.Tags["pump"]; !ts.Writable || ts.Value == nil || !ts.Value.Equal(domain.BoolValue(true)) {
		t.Errorf("pump snapshot = %+v", ts)
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := New()
	if err := s.Install(testDevice()); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			s.SetFromWire("d1", "temp", domain.UInt16Value(uint16(n)))
		}(i)
		go func() {
			defer wg.Done()
			if e, ok := s.Get("d1", "temp"); ok && e.Value != nil {
				if e.Value.Type != domain.DataTypeUInt16 {
					t.Errorf("observed value of wrong type %s", e.Value.Type)
				}
			}
			_ = s.Snapshot()
		}()
	}
	wg.Wait()

	e, _ := s.Get("d1", "temp")
	if e.Value == nil || e.Value.Uint > 49 {
		t.Errorf("final value = %v, want one of the written values", e.Value)
	}
}
