package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/fieldbridge/internal/domain"
	"github.com/nexus-edge/fieldbridge/internal/modem"
	"github.com/nexus-edge/fieldbridge/internal/service"
	"github.com/nexus-edge/fieldbridge/internal/store"
)

// stubPool accepts every write and never dials anything.
type stubPool struct {
	writeErr error
	writes   int
}

func (s *stubPool) EnsureConnected(ctx context.Context, device *domain.Device) error { return nil }
func (s *stubPool) ReadTag(ctx context.Context, device *domain.Device, tag *domain.Tag) (domain.Value, error) {
	return domain.UInt16Value(0), nil
}
func (s *stubPool) WriteTag(ctx context.Context, device *domain.Device, tag *domain.Tag, value domain.Value) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes++
	return nil
}
func (s *stubPool) Connected(deviceID string) bool { return false }
func (s *stubPool) Remove(deviceID string) {}
func (s *stubPool) Close() error { return nil }

type stubSpace struct{}

func (stubSpace) AddDevice(device *domain.Device) error { return nil }
func (stubSpace) RemoveDevice(deviceID string) error { return nil }
func (stubSpace) Publish(deviceID, tagName string, value domain.Value) {}
func (stubSpace) Close() error { return nil }

type stubCatalog struct{}

func (stubCatalog) Load() ([]*domain.Device, error) { return nil, nil }
func (stubCatalog) Save(devices []*domain.Device) error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *service.Engine, *stubPool) {
	t.Helper()

	values := store.New()
	pool := &stubPool{}
	poller := service.NewPoller(pool, values, zerolog.Nop(), nil)
	engine := service.NewEngine(
		service.Config{ModemPortLo: 8000, ModemPortHi: 8100},
		values, pool, stubSpace{}, stubCatalog{}, poller, modem.NewConnRegistry(),
		zerolog.Nop(), nil,
	)

	mux := http.NewServeMux()
	NewHandler(engine, zerolog.Nop()).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, engine, pool
}

func deviceBody() []byte {
	return []byte(`{
		"name": "Boiler",
		"type": "tcp",
		"connection": {"address": "127.0.0.1", "port": 5020},
		"deviceId": 1,
		"tags": [
			{"name": "t", "address": 100, "registerType": "holding", "dataType": "uint16"},
			{"name": "ro", "address": 7, "registerType": "input", "dataType": "uint16"}
		]
	}`)
}

func TestDevicesCRUD(t *testing.T) {
	srv, _, _ := newTestServer(t)

	// Create.
	resp, err := http.Post(srv.URL+"/api/devices", "application/json", bytes.NewReader(deviceBody()))
	if err != nil {
		t.Fatalf("POST /api/devices: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /api/devices status = %d, want 201", resp.StatusCode)
	}
	var created domain.Device
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decoding created device: %v", err)
	}
	resp.Body.Close()
	if created.ID == "" {
		t.Error("created device has no assigned id")
	}

	// List.
	resp, err = http.Get(srv.URL + "/api/devices")
	if err != nil {
		t.Fatalf("GET /api/devices: %v", err)
	}
	var listed []domain.Device
	if err := json.NewDecoder(resp.Body).Decode(&listed); err != nil {
		t.Fatalf("decoding device list: %v", err)
	}
	resp.Body.Close()
	if len(listed) != 1 || listed[0].ID != created.ID {
		t.Errorf("GET /api/devices = %+v", listed)
	}

	// Delete.
	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/devices/"+created.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /api/devices/{id}: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("DELETE status = %d, want 200", resp.StatusCode)
	}

	// Delete again: 404.
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /api/devices/{id}: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want 404", resp.StatusCode)
	}
}

func TestCreateDevice_Invalid(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body := []byte(`{"name": "NoTags", "type": "tcp", "connection": {"address": "h", "port": 1}, "tags": []}`)
	resp, err := http.Post(srv.URL+"/api/devices", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/devices: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestValuesEndpoint(t *testing.T) {
	srv, engine, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/devices", "application/json", bytes.NewReader(deviceBody()))
	if err != nil {
		t.Fatalf("POST /api/devices: %v", err)
	}
	var created domain.Device
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()

	// Land a value through the write path, then read it back over HTTP.
	if err := engine.WriteTag(context.Background(), created.ID, "t", "65"); err != nil {
		t.Fatalf("WriteTag() error = %v", err)
	}

	resp, err = http.Get(srv.URL + "/api/values")
	if err != nil {
		t.Fatalf("GET /api/values: %v", err)
	}
	defer resp.Body.Close()

	var values map[string]struct {
		Name string `json:"name"`
		Tags map[string]struct {
			Value    *float64 `json:"value"`
			Writable bool     `json:"writable"`
		} `json:"tags"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&values); err != nil {
		t.Fatalf("decoding values: %v", err)
	}

	dev, ok := values[created.ID]
	if !ok {
		t.Fatalf("values missing device %s: %+v", created.ID, values)
	}
	tag := dev.Tags["t"]
	if tag.Value == nil || *tag.Value != 65 || !tag.Writable {
		t.Errorf("tag t = %+v, want value 65 writable", tag)
	}
	if ro := dev.Tags["ro"]; ro.Writable {
		t.Error("input register reported writable")
	}
}

func TestWriteEndpoint(t *testing.T) {
	srv, _, pool := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/devices", "application/json", bytes.NewReader(deviceBody()))
	if err != nil {
		t.Fatalf("POST /api/devices: %v", err)
	}
	var created domain.Device
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()

	post := func(body string) *http.Response {
		t.Helper()
		resp, err := http.Post(srv.URL+"/api/write", "application/json", bytes.NewReader([]byte(body)))
		if err != nil {
			t.Fatalf("POST /api/write: %v", err)
		}
		resp.Body.Close()
		return resp
	}

	// Happy path.
	resp = post(`{"deviceId": "` + created.ID + `", "tagName": "t", "value": "65"}`)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("write status = %d, want 200", resp.StatusCode)
	}
	if pool.writes != 1 {
		t.Errorf("pool writes = %d, want 1", pool.writes)
	}

	// Unknown device: 404.
	resp = post(`{"deviceId": "ghost", "tagName": "t", "value": "1"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", resp.StatusCode)
	}

	// Read-only register: 400, and no frame sent.
	before := pool.writes
	resp = post(`{"deviceId": "` + created.ID + `", "tagName": "ro", "value": "1"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("read-only write status = %d, want 400", resp.StatusCode)
	}
	if pool.writes != before {
		t.Error("a Modbus write was issued for a read-only register")
	}

	// Out of range: 400.
	resp = post(`{"deviceId": "` + created.ID + `", "tagName": "t", "value": 70000}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("out-of-range status = %d, want 400", resp.StatusCode)
	}

	// Device error: 500.
	pool.writeErr = domain.ErrTransport
	resp = post(`{"deviceId": "` + created.ID + `", "tagName": "t", "value": "1"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("device-error status = %d, want 500", resp.StatusCode)
	}
}

func TestConnectionsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/connections")
	if err != nil {
		t.Fatalf("GET /api/connections: %v", err)
	}
	defer resp.Body.Close()

	var conns []modem.ConnectionInfo
	if err := json.NewDecoder(resp.Body).Decode(&conns); err != nil {
		t.Fatalf("decoding connections: %v", err)
	}
	if len(conns) != 0 {
		t.Errorf("connections = %+v, want empty", conns)
	}
}
