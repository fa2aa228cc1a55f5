// Package config also owns the persisted device catalog: the full device
// array, loaded at startup and rewritten on every admin mutation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nexus-edge/fieldbridge/internal/domain"
)

// Catalog persists devices as a YAML file. Writes land in a temp file that
// is atomically renamed over the catalog, so a crash mid-write never leaves
// a torn file behind. Implements domain.Catalog.
type Catalog struct {
	path string
}

// NewCatalog creates a catalog bound to a file path.
func NewCatalog(path string) *Catalog {
	return &Catalog{path: path}
}

// catalogFile is the on-disk shape.
type catalogFile struct {
	Version string         `yaml:"version"`
	Devices []deviceRecord `yaml:"devices"`
}

// deviceRecord is the YAML DTO for one device.
type deviceRecord struct {
	ID           string      `yaml:"id"`
	Name         string      `yaml:"name"`
	Type         string      `yaml:"type"`
	UnitID       uint8       `yaml:"device_id"`
	PollInterval string      `yaml:"poll_interval,omitempty"`
	Connection   connRecord  `yaml:"connection"`
	Tags         []tagRecord `yaml:"tags"`
}

type connRecord struct {
	Host       string `yaml:"host,omitempty"`
	Port       int    `yaml:"port,omitempty"`
	SerialPort string `yaml:"serial_port,omitempty"`
	BaudRate   int    `yaml:"baud_rate,omitempty"`
	DataBits   int    `yaml:"data_bits,omitempty"`
	Parity     string `yaml:"parity,omitempty"`
	StopBits   int    `yaml:"stop_bits,omitempty"`
	ListenPort int    `yaml:"listen_port,omitempty"`
	Timeout    string `yaml:"timeout,omitempty"`
}

type tagRecord struct {
	Name         string `yaml:"name"`
	Address      uint16 `yaml:"address"`
	RegisterType string `yaml:"register_type"`
	DataType     string `yaml:"data_type"`
}

// Load reads the full device array. A missing file is an empty catalog, not
// an error: devices can be added over the admin API.
func (c *Catalog) Load() ([]*domain.Device, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	devices := make([]*domain.Device, 0, len(file.Devices))
	for _, rec := range file.Devices {
		device, err := fromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("catalog entry %q: %w", rec.ID, err)
		}
		devices = append(devices, device)
	}
	return devices, nil
}

// Save persists the full device array atomically.
func (c *Catalog) Save(devices []*domain.Device) error {
	file := catalogFile{Version: "1"}
	for _, device := range devices {
		file.Devices = append(file.Devices, toRecord(device))
	}

	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create catalog directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".devices-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp catalog: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close catalog: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace catalog: %w", err)
	}
	return nil
}

func fromRecord(rec deviceRecord) (*domain.Device, error) {
	pollInterval := time.Duration(0)
	if rec.PollInterval != "" {
		var err error
		pollInterval, err = time.ParseDuration(rec.PollInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid poll interval: %w", err)
		}
	}

	timeout := time.Duration(0)
	if rec.Connection.Timeout != "" {
		var err error
		timeout, err = time.ParseDuration(rec.Connection.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout: %w", err)
		}
	}

	tags := make([]domain.Tag, 0, len(rec.Tags))
	for _, t := range rec.Tags {
		tags = append(tags, domain.Tag{
			Name:         t.Name,
			Address:      t.Address,
			RegisterType: domain.RegisterType(t.RegisterType),
			DataType:     domain.DataType(t.DataType),
		})
	}

	return &domain.Device{
		ID:           rec.ID,
		Name:         rec.Name,
		Type:         domain.DeviceType(rec.Type),
		UnitID:       rec.UnitID,
		PollInterval: pollInterval,
		Tags:         tags,
		Connection: domain.ConnectionConfig{
			Host:       rec.Connection.Host,
			Port:       rec.Connection.Port,
			SerialPort: rec.Connection.SerialPort,
			BaudRate:   rec.Connection.BaudRate,
			DataBits:   rec.Connection.DataBits,
			Parity:     rec.Connection.Parity,
			StopBits:   rec.Connection.StopBits,
			ListenPort: rec.Connection.ListenPort,
			Timeout:    timeout,
		},
	}, nil
}

func toRecord(device *domain.Device) deviceRecord {
	tags := make([]tagRecord, 0, len(device.Tags))
	for _, t := range device.Tags {
		tags = append(tags, tagRecord{
			Name:         t.Name,
			Address:      t.Address,
			RegisterType: string(t.RegisterType),
			DataType:     string(t.DataType),
		})
	}

	rec := deviceRecord{
		ID:           device.ID,
		Name:         device.Name,
		Type:         string(device.Type),
		UnitID:       device.UnitID,
		PollInterval: device.PollInterval.String(),
		Tags:         tags,
		Connection: connRecord{
			Host:       device.Connection.Host,
			Port:       device.Connection.Port,
			SerialPort: device.Connection.SerialPort,
			BaudRate:   device.Connection.BaudRate,
			DataBits:   device.Connection.DataBits,
			Parity:     device.Connection.Parity,
			StopBits:   device.Connection.StopBits,
			ListenPort: device.Connection.ListenPort,
		},
	}
	if device.Connection.Timeout > 0 {
		rec.Connection.Timeout = device.Connection.Timeout.String()
	}
	return rec
}
