// Package emitter publishes pipeline telemetry to an MQTT broker.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/visiona/retina/internal/config"
)

// MQTTEmitter publishes stats and health messages. Telemetry is best-effort:
// publish failures are counted, never propagated into the pipeline.
type MQTTEmitter struct {
	cfg    *config.Config
	client mqtt.Client

	mu        sync.RWMutex
	published uint64
	errors    uint64
	connected bool
}

// Stats contains emitter counters.
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

// NewMQTTEmitter creates an emitter bound to the daemon configuration.
func NewMQTTEmitter(cfg *config.Config) *MQTTEmitter {
	return &MQTTEmitter{cfg: cfg}
}

// Connect establishes the broker connection with auto-reconnect.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(e.cfg.MQTT.Broker)
	opts.SetClientID(e.cfg.InstanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		slog.Info("mqtt connection established",
			"broker", e.cfg.MQTT.Broker,
			"client_id", e.cfg.InstanceID,
		)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.MQTT.Broker,
		)
	}

	e.client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", e.cfg.MQTT.Broker)

	token := e.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()
	return nil
}

// PublishStats marshals the payload to JSON and publishes it on the stats
// topic at QoS 0.
func (e *MQTTEmitter) PublishStats(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	return e.publish(e.cfg.MQTT.Topics.Stats, data)
}

// PublishHealth publishes a health message on the health topic.
func (e *MQTTEmitter) PublishHealth(payload []byte) error {
	return e.publish(e.cfg.MQTT.Topics.Health, payload)
}

func (e *MQTTEmitter) publish(topic string, payload []byte) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	token := e.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()

	slog.Debug("telemetry published", "topic", topic, "size", len(payload))
	return nil
}

// Disconnect closes the broker connection.
func (e *MQTTEmitter) Disconnect() error {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250) // 250ms grace period
		slog.Info("mqtt disconnected")
	}

	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()
	return nil
}

// Stats returns emitter counters.
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{Connected: e.connected, Published: e.published, Errors: e.errors}
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
