// Package mqtt provides an optional northbound mirror: every tag value that
// lands in the store is republished to an MQTT broker as a compact JSON
// payload. The mirror is disabled unless a broker URL is configured.
package mqtt

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/fieldbridge/internal/domain"
)

// Config holds the mirror publisher configuration.
type Config struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	TopicPrefix    string
	ConnectTimeout time.Duration
}

// payload is the compact wire format: value and millisecond timestamp.
type payload struct {
	Value     interface{} `json:"v"`
	Timestamp int64       `json:"ts"`
}

// Mirror publishes tag updates to an MQTT broker.
type Mirror struct {
	config    Config
	client    pahomqtt.Client
	logger    zerolog.Logger
	connected atomic.Bool
}

// NewMirror creates the mirror publisher. Call Connect before use.
func NewMirror(config Config, logger zerolog.Logger) *Mirror {
	if config.ClientID == "" {
		config.ClientID = "fieldbridge"
	}
	if config.TopicPrefix == "" {
		config.TopicPrefix = "fieldbridge"
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}

	m := &Mirror{
		config: config,
		logger: logger.With().Str("component", "mqtt-mirror").Logger(),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(config.BrokerURL).
		SetClientID(config.ClientID).
		SetUsername(config.Username).
		SetPassword(config.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(config.ConnectTimeout).
		SetOnConnectHandler(func(pahomqtt.Client) {
			m.connected.Store(true)
			m.logger.Info().Str("broker", config.BrokerURL).Msg("mqtt mirror connected")
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			m.connected.Store(false)
			m.logger.Warn().Err(err).Msg("mqtt mirror connection lost")
		})

	m.client = pahomqtt.NewClient(opts)
	return m
}

// Connect dials the broker.
func (m *Mirror) Connect() error {
	token := m.client.Connect()
	if !token.WaitTimeout(m.config.ConnectTimeout) {
		return fmt.Errorf("%w: mqtt connect timed out", domain.ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectFailed, err)
	}
	return nil
}

// Disconnect closes the broker connection.
func (m *Mirror) Disconnect() {
	m.client.Disconnect(250)
	m.connected.Store(false)
}

// Publish mirrors one tag update. Failures are logged, never propagated:
// the mirror must not interfere with the store's write path.
func (m *Mirror) Publish(deviceID, tagName string, value domain.Value) {
	if !m.connected.Load() {
		return
	}

	body, err := json.Marshal(payload{Value: value.Interface(), Timestamp: time.Now().UnixMilli()})
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to marshal mirror payload")
		return
	}

	topic := fmt.Sprintf("%s/%s/%s", m.config.TopicPrefix, deviceID, tagName)
	token := m.client.Publish(topic, m.config.QoS, false, body)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			m.logger.Warn().Err(err).Str("topic", topic).Msg("mirror publish failed")
		}
	}()
}
