package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-scripts/internal/device"
	"github.com/nerrad567/gray-logic-scripts/internal/engine"
	"github.com/nerrad567/gray-logic-scripts/internal/events"
	"github.com/nerrad567/gray-logic-scripts/internal/infrastructure/mqtt"
)

// subscribeQoS is the QoS used for every inbound subscription.
const subscribeQoS = 1

// registryTimeout bounds catalog writes made from a message handler.
const registryTimeout = 5 * time.Second

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MQTTClient is the subset of *mqtt.Client the bridge needs.
type MQTTClient interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	PublishJSON(topic string, v any, retained bool) error
}

// DeviceRegistry is the device catalog. Satisfied by *device.Registry.
type DeviceRegistry interface {
	Exists(id uint64) bool
	AddDevice(ctx context.Context, d *device.Device) (bool, error)
	RemoveDevice(ctx context.Context, id uint64) error
}

// Executor starts scripts. Satisfied by *engine.Engine.
type Executor interface {
	ExecuteAsync(ctx context.Context, req engine.Request) error
}

// Options holds the collaborators of a Bridge.
type Options struct {
	MQTT     MQTTClient
	Router   *events.Router
	Registry DeviceRegistry

	// Executor is optional; without it graylogic/scripts/run is not
	// subscribed.
	Executor Executor
}

// Bridge routes MQTT device traffic into the event router.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt     MQTTClient
	router   *events.Router
	registry DeviceRegistry
	executor Executor

	mu         sync.Mutex
	subscribed []string

	// ctx is the lifetime of scripts started from the bus.
	ctx    context.Context
	cancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a bridge. Call Start to subscribe.
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, errors.New("MQTT client is required")
	}
	if opts.Router == nil {
		return nil, errors.New("event router is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("device registry is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		mqtt:     opts.MQTT,
		router:   opts.Router,
		registry: opts.Registry,
		executor: opts.Executor,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start subscribes to the device topics and, when an executor is set, the
// script run topic.
func (b *Bridge) Start() error {
	topics := mqtt.Topics{}
	routes := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{topics.AllDeviceEvents(), b.handleDeviceEvent},
		{topics.AllDeviceUpdates(), b.handleDeviceUpdate},
		{topics.DeviceAdded(), b.handleDevicesAdded},
		{topics.DeviceRemoved(), b.handleDevicesRemoved},
	}
	if b.executor != nil {
		routes = append(routes, struct {
			topic   string
			handler mqtt.MessageHandler
		}{topics.ScriptsRun(), b.handleRun})
	}

	for _, r := range routes {
		if err := b.mqtt.Subscribe(r.topic, subscribeQoS, r.handler); err != nil {
			b.Stop()
			return fmt.Errorf("subscribe to %s: %w", r.topic, err)
		}
		b.mu.Lock()
		b.subscribed = append(b.subscribed, r.topic)
		b.mu.Unlock()
		b.logInfo("subscribed", "topic", r.topic)
	}
	return nil
}

// Stop unsubscribes from every topic and cancels scripts started from the bus.
func (b *Bridge) Stop() {
	b.mu.Lock()
	topics := b.subscribed
	b.subscribed = nil
	b.mu.Unlock()

	for _, topic := range topics {
		if err := b.mqtt.Unsubscribe(topic); err != nil {
			b.logWarn("unsubscribe failed", "topic", topic, "error", err)
		}
	}
	b.cancel()
}

func (b *Bridge) handleDeviceEvent(topic string, payload []byte) error {
	id, err := deviceFromTopic(topic, mqtt.KindEvent)
	if err != nil {
		return err
	}
	var msg EventMessage
	if err := decode(payload, &msg); err != nil {
		return err
	}
	if len(msg.Values) == 0 {
		return fmt.Errorf("%w: event without values", ErrInvalidMessage)
	}

	n := b.router.PublishValues(id, msg.Channel, msg.Values)
	b.logDebug("device event routed", "device_id", id, "channel", msg.Channel,
		"variables", len(msg.Values), "deliveries", n)
	return nil
}

func (b *Bridge) handleDeviceUpdate(topic string, payload []byte) error {
	id, err := deviceFromTopic(topic, mqtt.KindUpdate)
	if err != nil {
		return err
	}
	var msg UpdateMessage
	if err := decode(payload, &msg); err != nil {
		return err
	}

	b.router.Publish(events.Event{
		Kind:     events.KindDeviceUpdated,
		DeviceID: id,
		Channel:  msg.Channel,
		Hint:     msg.Hint,
	})
	return nil
}

func (b *Bridge) handleDevicesAdded(_ string, payload []byte) error {
	var msg DevicesMessage
	if err := decode(payload, &msg); err != nil {
		return err
	}
	ids := msg.ids()
	if len(ids) == 0 {
		return fmt.Errorf("%w: no devices", ErrInvalidMessage)
	}

	ctx, cancel := context.WithTimeout(b.ctx, registryTimeout)
	defer cancel()

	described := make(map[uint64]bool, len(msg.Devices))
	for i := range msg.Devices {
		d := msg.Devices[i]
		described[d.ID] = true
		if _, err := b.registry.AddDevice(ctx, &d); err != nil {
			b.logError("failed to register device", "device_id", d.ID, "error", err)
		}
	}
	for _, id := range msg.DeviceIDs {
		if described[id] || b.registry.Exists(id) {
			continue
		}
		if _, err := b.registry.AddDevice(ctx, &device.Device{ID: id}); err != nil {
			b.logError("failed to register device", "device_id", id, "error", err)
		}
	}

	b.router.Publish(events.Event{Kind: events.KindDeviceAdded, DeviceIDs: ids})
	b.logInfo("devices added", "count", len(ids))
	return nil
}

func (b *Bridge) handleDevicesRemoved(_ string, payload []byte) error {
	var msg DevicesMessage
	if err := decode(payload, &msg); err != nil {
		return err
	}
	ids := msg.ids()
	if len(ids) == 0 {
		return fmt.Errorf("%w: no devices", ErrInvalidMessage)
	}

	ctx, cancel := context.WithTimeout(b.ctx, registryTimeout)
	defer cancel()

	for _, id := range ids {
		err := b.registry.RemoveDevice(ctx, id)
		if err != nil && !errors.Is(err, device.ErrDeviceNotFound) {
			b.logError("failed to remove device", "device_id", id, "error", err)
		}
	}

	b.router.Publish(events.Event{Kind: events.KindDeviceRemoved, DeviceIDs: ids})
	b.logInfo("devices removed", "count", len(ids))
	return nil
}

func (b *Bridge) handleRun(_ string, payload []byte) error {
	var msg RunMessage
	if err := decode(payload, &msg); err != nil {
		return err
	}
	if err := msg.validate(); err != nil {
		return err
	}

	err := b.executor.ExecuteAsync(b.ctx, engine.Request{
		Path:      msg.Script,
		Args:      msg.Args,
		DeviceID:  msg.DeviceID,
		KeepAlive: msg.KeepAlive,
		Interval:  time.Duration(msg.IntervalMS) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("starting %s: %w", msg.Script, err)
	}
	b.logInfo("script started from bus", "script", msg.Script, "device_id", msg.DeviceID)
	return nil
}

func deviceFromTopic(topic, want string) (uint64, error) {
	id, kind, err := mqtt.ParseDeviceTopic(topic)
	if err != nil {
		return 0, err
	}
	if kind != want {
		return 0, fmt.Errorf("%w: %s", ErrUnexpectedTopic, topic)
	}
	return id, nil
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logDebug(msg string, args ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, args...)
	}
}

func (b *Bridge) logInfo(msg string, args ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, args...)
	}
}

func (b *Bridge) logWarn(msg string, args ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, args...)
	}
}

func (b *Bridge) logError(msg string, args ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, args...)
	}
}
