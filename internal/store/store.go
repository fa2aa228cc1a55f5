// Package store holds the authoritative in-memory tag values for every
// device. All access is serialized under a single mutex; operations never
// perform I/O, so the lock is held only for map work.
package store

import (
	"fmt"
	"sync"

	"github.com/nexus-edge/fieldbridge/internal/domain"
)

// UpdateFunc observes value changes after they land in the store. Hooks run
// outside the store lock.
type UpdateFunc func(deviceID, tagName string, value domain.Value)

// Entry is the stored record for one tag: immutable metadata plus the current
// value.
type Entry struct {
	DeviceID   string
	DeviceName string
	Tag        domain.Tag
	Value      *domain.Value
}

// TagStore maps (device-id, tag-name) to its entry.
type TagStore struct {
	mu      sync.Mutex
	entries map[key]*Entry
	order   map[string][]string // device-id -> tag names in declared order
	names   map[string]string   // device-id -> device name
	hooks   []UpdateFunc
}

type key struct {
	deviceID string
	tagName  string
}

// New creates an empty tag store.
func New() *TagStore {
	return &TagStore{
		entries: make(map[key]*Entry),
		order:   make(map[string][]string),
		names:   make(map[string]string),
	}
}

// OnUpdate registers a hook invoked after every SetFromWire that lands on an
// installed tag. Must be called before concurrent use begins.
func (s *TagStore) OnUpdate(fn UpdateFunc) {
	s.hooks = append(s.hooks, fn)
}

// Install atomically inserts all tags of a device. Seeded current values on
// the tags are carried over.
func (s *TagStore) Install(device *domain.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.names[device.ID]; exists {
		return fmt.Errorf("%w: device %q already installed", domain.ErrDeviceExists, device.ID)
	}

	names := make([]string, 0, len(device.Tags))
	for i := range device.Tags {
		t := device.Tags[i]
		e := &Entry{DeviceID: device.ID, DeviceName: device.Name, Tag: t}
		if t.CurrentValue != nil {
			v := *t.CurrentValue
			e.Value = &v
		}
		e.Tag.CurrentValue = nil
		s.entries[key{device.ID, t.Name}] = e
		names = append(names, t.Name)
	}
	s.order[device.ID] = names
	s.names[device.ID] = device.Name
	return nil
}

// Uninstall atomically removes all tags of a device.
func (s *TagStore) Uninstall(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range s.order[deviceID] {
		delete(s.entries, key{deviceID, name})
	}
	delete(s.order, deviceID)
	delete(s.names, deviceID)
}

// Get returns a copy of the entry for (device-id, tag-name).
func (s *TagStore) Get(deviceID, tagName string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key{deviceID, tagName}]
	if !ok {
		return Entry{}, false
	}
	out := *e
	if e.Value != nil {
		v := *e.Value
		out.Value = &v
	}
	return out, true
}

// SetFromWire updates the current value for a tag. Unknown keys are ignored
// (the device may have been removed while a poll was in flight). Idempotent.
func (s *TagStore) SetFromWire(deviceID, tagName string, value domain.Value) {
	s.mu.Lock()
	e, ok := s.entries[key{deviceID, tagName}]
	if ok {
		v := value
		e.Value = &v
	}
	hooks := s.hooks
	s.mu.Unlock()

	if !ok {
		return
	}
	for _, fn := range hooks {
		fn(deviceID, tagName, value)
	}
}

// TagSnapshot is one tag's view in a Snapshot.
type TagSnapshot struct {
	Value    *domain.Value `json:"value"`
	Writable bool          `json:"writable"`
}

// DeviceSnapshot is one device's view in a Snapshot.
type DeviceSnapshot struct {
	Name string                 `json:"name"`
	Tags map[string]TagSnapshot `json:"tags"`
}

// Snapshot returns a point-in-time copy of every device's values, shaped for
// the HTTP read endpoint.
func (s *TagStore) Snapshot() map[string]DeviceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]DeviceSnapshot, len(s.order))
	for deviceID, tagNames := range s.order {
		ds := DeviceSnapshot{
			Name: s.names[deviceID],
			Tags: make(map[string]TagSnapshot, len(tagNames)),
		}
		for _, name := range tagNames {
			e := s.entries[key{deviceID, name}]
			ts := TagSnapshot{Writable: e.Tag.RegisterType.IsWritable()}
			if e.Value != nil {
				v := *e.Value
				ts.Value = &v
			}
			ds.Tags[name] = ts
		}
		out[deviceID] = ds
	}
	return out
}
