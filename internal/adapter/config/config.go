// Package config provides configuration management for the bridge.
// It supports environment variables, an optional YAML config file, and
// defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the bridge.
type Config struct {
	// Environment is the deployment environment (development, production).
	Environment string `mapstructure:"environment"`

	// CatalogPath is the path to the persisted device catalog.
	CatalogPath string `mapstructure:"catalog_path"`

	HTTP    HTTPConfig    `mapstructure:"http"`
	OPCUA   OPCUAConfig   `mapstructure:"opcua"`
	Modem   ModemConfig   `mapstructure:"modem"`
	Modbus  ModbusConfig  `mapstructure:"modbus"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// HTTPConfig holds the admin HTTP server configuration.
type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	WebRoot      string        `mapstructure:"web_root"`
}

// OPCUAConfig holds the OPC UA endpoint configuration.
type OPCUAConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// ModemConfig holds the inbound listener bank configuration.
type ModemConfig struct {
	PortLo int `mapstructure:"port_lo"`
	PortHi int `mapstructure:"port_hi"`
}

// ModbusConfig holds outbound Modbus client defaults.
type ModbusConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// MQTTConfig holds the optional value-mirror publisher configuration. The
// mirror is disabled when BrokerURL is empty.
type MQTTConfig struct {
	BrokerURL      string        `mapstructure:"broker_url"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	QoS            byte          `mapstructure:"qos"`
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// Load loads configuration from files and environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/fieldbridge")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file: defaults and env vars apply.
	}

	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("catalog_path", "./config/devices.yaml")

	v.SetDefault("http.port", 3000)
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 10*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.web_root", "./web")

	v.SetDefault("opcua.host", "0.0.0.0")
	v.SetDefault("opcua.port", 52000)

	v.SetDefault("modem.port_lo", 8000)
	v.SetDefault("modem.port_hi", 8100)

	v.SetDefault("modbus.request_timeout", 2*time.Second)

	v.SetDefault("mqtt.broker_url", "")
	v.SetDefault("mqtt.client_id", "fieldbridge")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.topic_prefix", "fieldbridge")
	v.SetDefault("mqtt.connect_timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.OPCUA.Port <= 0 || c.OPCUA.Port > 65535 {
		return fmt.Errorf("invalid OPC UA port: %d", c.OPCUA.Port)
	}
	if c.Modem.PortLo <= 0 || c.Modem.PortHi > 65535 || c.Modem.PortLo > c.Modem.PortHi {
		return fmt.Errorf("invalid modem port range [%d, %d]", c.Modem.PortLo, c.Modem.PortHi)
	}
	if c.Modbus.RequestTimeout < time.Second || c.Modbus.RequestTimeout > 10*time.Second {
		return fmt.Errorf("modbus request timeout %s outside sane bounds", c.Modbus.RequestTimeout)
	}
	if c.CatalogPath == "" {
		return fmt.Errorf("catalog path is required")
	}
	return nil
}
