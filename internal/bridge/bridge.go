package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/blesim-core/internal/device"
	"github.com/nerrad567/blesim-core/internal/infrastructure/config"
	"github.com/nerrad567/blesim-core/internal/infrastructure/mqtt"
)

// transport is the subset of *mqtt.Client the bridge uses.
type transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	ClearRetained(topic string) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
	Close() error
}

// connectionNotifier is implemented by transports that report connection
// changes.
type connectionNotifier interface {
	SetOnConnect(func())
	SetOnDisconnect(func(error))
	SetLogger(mqtt.Logger)
}

// Registry is the subset of the device registry the bridge needs.
type Registry interface {
	IsTombstoned(id string) bool
	Update(id string, u device.Update) bool
	Get(id string) (*device.Device, error)
}

// Broadcaster pushes events to live consumers.
type Broadcaster interface {
	Broadcast(msg any)
}

// HistoryWriter records reported values.
type HistoryWriter interface {
	WriteDeviceValues(deviceID string, values map[string]any)
}

// Logger defines the logging interface used by the Bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Deps holds the bridge's collaborators. Registry is required.
type Deps struct {
	Config      config.MQTTConfig
	Registry    Registry
	Broadcaster Broadcaster
	History     HistoryWriter
	Logger      Logger
}

// Bridge owns the broker connection and the inbound message handlers.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Bridge struct {
	cfg    config.MQTTConfig
	topics mqtt.Topics
	router *mqtt.Router

	registry    Registry
	broadcaster Broadcaster
	history     HistoryWriter
	logger      Logger

	dial func(config.MQTTConfig) (transport, error)

	mu       sync.RWMutex
	client   transport
	closing  bool
	inflight sync.WaitGroup
}

// New creates a Bridge with its inbound handlers registered. It does not
// connect; call Start.
func New(deps Deps) *Bridge {
	b := &Bridge{
		cfg:         deps.Config,
		topics:      mqtt.Topics{Namespace: deps.Config.Namespace},
		router:      mqtt.NewRouter(),
		registry:    deps.Registry,
		broadcaster: deps.Broadcaster,
		history:     deps.History,
		logger:      deps.Logger,
		dial:        dialMQTT,
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}
	b.router.SetLogger(b.logger)

	b.router.Handle(b.topics.AllDeviceStatus(), b.handleStatus)
	b.router.Handle(b.topics.AllDeviceValues(), b.handleValues)

	return b
}

func dialMQTT(cfg config.MQTTConfig) (transport, error) {
	c, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Start connects to the broker and subscribes to device telemetry.
//
// Connection or subscription failures are logged and leave the bridge
// disconnected; they are not returned. Only a cancelled ctx is an error.
func (b *Bridge) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	closing := b.closing
	b.mu.RUnlock()
	if closing {
		return nil
	}

	client, err := b.dial(b.cfg)
	if err != nil {
		b.logger.Warn("MQTT broker unavailable, running disconnected",
			"broker", b.cfg.BrokerAddress(),
			"error", err,
		)
		return nil
	}

	if n, ok := client.(connectionNotifier); ok {
		n.SetLogger(b.logger)
		n.SetOnConnect(func() {
			b.logger.Info("MQTT connected", "broker", b.cfg.BrokerAddress())
		})
		n.SetOnDisconnect(func(err error) {
			b.logger.Warn("MQTT connection lost", "error", err)
		})
	}

	qos := byte(b.cfg.QoS)
	for _, pattern := range []string{b.topics.AllDeviceStatus(), b.topics.AllDeviceValues()} {
		if err := client.Subscribe(pattern, qos, b.onMessage); err != nil {
			b.logger.Error("MQTT subscribe failed, running disconnected",
				"topic", pattern,
				"error", err,
			)
			_ = client.Close()
			return nil
		}
	}

	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		_ = client.Close()
		return nil
	}
	b.client = client
	b.mu.Unlock()

	b.logger.Info("MQTT bridge started",
		"broker", b.cfg.BrokerAddress(),
		"patterns", b.router.Patterns(),
	)
	return nil
}

// Stop disconnects from the broker and waits for in-flight message
// handlers to finish. Safe to call more than once and without Start.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		return
	}
	b.closing = true
	client := b.client
	b.client = nil
	b.mu.Unlock()

	if client != nil {
		if err := client.Close(); err != nil {
			b.logger.Warn("closing MQTT client", "error", err)
		}
	}
	b.inflight.Wait()
	b.logger.Info("MQTT bridge stopped")
}

// IsConnected reports whether the broker connection is currently up.
func (b *Bridge) IsConnected() bool {
	client := b.currentClient()
	return client != nil && client.IsConnected()
}

func (b *Bridge) currentClient() transport {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client
}

// onMessage feeds one inbound message to the router. Messages that arrive
// once Stop has begun are dropped.
func (b *Bridge) onMessage(topic string, payload []byte) error {
	b.mu.RLock()
	if b.closing {
		b.mu.RUnlock()
		return nil
	}
	b.inflight.Add(1)
	b.mu.RUnlock()
	defer b.inflight.Done()

	if n := b.router.Dispatch(topic, payload); n == 0 {
		b.logger.Debug("no handler for topic", "topic", topic)
	}
	return nil
}

// Publish sends payload to topic. []byte and string payloads are sent
// verbatim; anything else is JSON encoded.
func (b *Bridge) Publish(topic string, payload any, retain bool) error {
	data, err := encodePayload(payload)
	if err != nil {
		return err
	}

	client := b.currentClient()
	if client == nil || !client.IsConnected() {
		return fmt.Errorf("%w: %w", ErrNotConnected, mqtt.ErrNotConnected)
	}

	if err := client.Publish(topic, data, byte(b.cfg.QoS), retain); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			return fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// ClearRetained removes the broker's retained message for topic. Failures
// are logged, not returned.
func (b *Bridge) ClearRetained(topic string) {
	client := b.currentClient()
	if client == nil || !client.IsConnected() {
		b.logger.Debug("not connected, retained message left in place", "topic", topic)
		return
	}
	if err := client.ClearRetained(topic); err != nil {
		b.logger.Warn("clearing retained message failed", "topic", topic, "error", err)
	}
}

// ClearDeviceRetained clears a device's retained status and values.
func (b *Bridge) ClearDeviceRetained(deviceID string) {
	b.ClearRetained(b.topics.DeviceStatus(deviceID))
	b.ClearRetained(b.topics.DeviceValues(deviceID))
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncodePayload, err)
		}
		return data, nil
	}
}
