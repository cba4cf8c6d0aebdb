//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"domestia-go-home/internal/coordinator"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker          string
	Username        string
	Password        string
	ClientID        string
	TopicPrefix     string
	DiscoveryPrefix string
}

// Home is the part of the coordinator the bridge needs.
type Home interface {
	Events() *coordinator.EventBus
	Devices() []coordinator.DeviceView
	Device(id int) (coordinator.DeviceView, error)
	Info() coordinator.ControllerView
	Execute(ctx context.Context, id int, cmd coordinator.Command) error
}

const commandTimeout = 10 * time.Second

// Bridge connects the coordinator to MQTT with HA autodiscovery.
type Bridge struct {
	client pahomqtt.Client
	home   Home
	cfg    Config
	logger *slog.Logger
	unsub  func()
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	topics map[int]string      // output ID -> topic name
	byName map[string]int      // topic name -> output ID
	config map[string]struct{} // discovery topics currently published
}

func newBridge(home Home, cfg Config, logger *slog.Logger) *Bridge {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "domestia"
	}
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = "homeassistant"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "domestia-go-home"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		home:   home,
		cfg:    cfg,
		logger: logger.With("component", "mqtt"),
		ctx:    ctx,
		cancel: cancel,
		topics: make(map[int]string),
		byName: make(map[string]int),
		config: make(map[string]struct{}),
	}
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(home Home, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(home, cfg, logger)

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(b.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(b.availabilityTopic(), "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.onConnect()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	b.client = pahomqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		b.cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		b.cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to coordinator events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.home.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.cfg.TopicPrefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	b.cancel()
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) availabilityTopic() string {
	return b.cfg.TopicPrefix + "/bridge/state"
}

func (b *Bridge) onConnect() {
	b.publishBridgeState("online")
	b.publishAllDiscovery()
	b.subscribeCommands()
	b.publishAllStates()
}

func (b *Bridge) handleEvent(event coordinator.Event) {
	switch event.Type {
	case coordinator.EventStateChanged:
		if v, ok := event.Data.(coordinator.DeviceView); ok {
			b.publishState(v)
		}
	case coordinator.EventDevicesLoaded:
		b.publishAllDiscovery()
		b.publishAllStates()
	case coordinator.EventDeviceRenamed:
		if v, ok := event.Data.(coordinator.DeviceView); ok {
			b.handleRename(v)
		}
	}
}

// refreshTopics recomputes the topic names of all outputs.
func (b *Bridge) refreshTopics(views []coordinator.DeviceView) {
	names := topicNames(views)
	byName := make(map[string]int, len(names))
	for id, name := range names {
		byName[name] = id
	}
	b.mu.Lock()
	b.topics = names
	b.byName = byName
	b.mu.Unlock()
}

func (b *Bridge) topicName(id int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if name, ok := b.topics[id]; ok {
		return name
	}
	return fmt.Sprintf("output_%d", id)
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.availabilityTopic(), []byte(state), true)
}

// publishAllDiscovery publishes the config of every exposed output and
// clears configs of outputs that disappeared.
func (b *Bridge) publishAllDiscovery() {
	views := b.home.Devices()
	b.refreshTopics(views)
	info := b.home.Info()

	current := make(map[string]struct{}, len(views))
	for _, v := range views {
		msg, ok := buildDiscovery(v, b.topicName(v.ID), b.cfg, info)
		if !ok {
			continue
		}
		current[msg.Topic] = struct{}{}
		b.publish(msg.Topic, msg.Payload, true)
	}

	b.mu.Lock()
	var stale []string
	for t := range b.config {
		if _, ok := current[t]; !ok {
			stale = append(stale, t)
		}
	}
	b.config = current
	b.mu.Unlock()

	for _, msg := range buildRemoveDiscovery(stale) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.logger.Info("published HA discovery", "entities", len(current), "removed", len(stale))
}

func (b *Bridge) publishAllStates() {
	for _, v := range b.home.Devices() {
		b.publishState(v)
	}
}

// handleRename moves the output to its new topic name and republishes its
// discovery config.
func (b *Bridge) handleRename(v coordinator.DeviceView) {
	b.refreshTopics(b.home.Devices())
	msg, ok := buildDiscovery(v, b.topicName(v.ID), b.cfg, b.home.Info())
	if !ok {
		return
	}
	b.mu.Lock()
	b.config[msg.Topic] = struct{}{}
	b.mu.Unlock()
	b.publish(msg.Topic, msg.Payload, true)
	b.publishState(v)
	b.logger.Info("republished HA discovery", "id", v.ID, "name", v.Name)
}

func (b *Bridge) publishState(v coordinator.DeviceView) {
	state, ok := statePayload(v)
	if !ok {
		return
	}
	b.publish(b.cfg.TopicPrefix+"/"+b.topicName(v.ID), mustJSON(state), true)
}

// subscribeCommands subscribes to the set topics of all outputs with a
// single wildcard so renames need no resubscription.
func (b *Bridge) subscribeCommands() {
	topic := b.cfg.TopicPrefix + "/+/set"
	token := b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleCommand(msg.Topic(), msg.Payload())
	})
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT subscribe timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT subscribe error", "topic", topic, "err", err)
		}
	}()
}

// commandTarget extracts the output ID addressed by a set topic.
func (b *Bridge) commandTarget(topic string) (int, bool) {
	name, ok := strings.CutPrefix(topic, b.cfg.TopicPrefix+"/")
	if !ok {
		return 0, false
	}
	name, ok = strings.CutSuffix(name, "/set")
	if !ok || name == "" || strings.Contains(name, "/") {
		return 0, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.byName[name]
	return id, ok
}

func (b *Bridge) handleCommand(topic string, payload []byte) {
	id, ok := b.commandTarget(topic)
	if !ok {
		b.logger.Warn("command for unknown output", "topic", topic)
		return
	}

	cmd, err := parseCommand(payload)
	if err != nil {
		b.logger.Warn("invalid command", "topic", topic, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()
	if err := b.home.Execute(ctx, id, cmd); err != nil {
		b.logger.Warn("command failed", "id", id, "err", err)
		return
	}
	if v, err := b.home.Device(id); err == nil {
		b.publishState(v)
	}
}

// parseCommand decodes a set payload. Plain ON, OFF and TOGGLE are accepted
// besides JSON.
func parseCommand(payload []byte) (coordinator.Command, error) {
	var cmd coordinator.Command
	text := strings.TrimSpace(string(payload))
	switch strings.ToUpper(text) {
	case "ON", "OFF", "TOGGLE":
		cmd.State = strings.ToUpper(text)
		return cmd, nil
	}
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return cmd, fmt.Errorf("decode command: %w", err)
	}
	if cmd.Empty() {
		return cmd, fmt.Errorf("empty command")
	}
	return cmd, nil
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}
