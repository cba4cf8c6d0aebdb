package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"domestia-go-home/internal/discovery"
	"domestia-go-home/internal/metrics"
	"domestia-go-home/internal/network"
	"domestia-go-home/internal/store"
)

var (
	// ErrDeviceNotFound is returned for an unknown output ID or name.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrUnsupported is returned when an operation does not fit the output's category.
	ErrUnsupported = errors.New("operation not supported by device")
	// ErrInvalidValue is returned for out-of-range command values.
	ErrInvalidValue = errors.New("invalid value")
)

// Controller is the link to the controller. *network.Client satisfies it.
type Controller interface {
	Send(ctx context.Context, cmd []byte) error
	SendAwait(ctx context.Context, cmd []byte, timeout time.Duration) ([]byte, error)
	ReadStatus(ctx context.Context, timeout time.Duration) ([]byte, error)
}

// linkStats is implemented by controllers that can report connection health.
type linkStats interface {
	State() network.State
	Reconnects() uint64
	Pending() int
}

// Config holds coordinator configuration.
type Config struct {
	Host           string
	Port           int
	MAC            string
	RequestTimeout time.Duration
	PollInterval   time.Duration
	StatusTimeout  time.Duration
}

// NormalizeMAC upper-cases a MAC address and uses colons as separators.
func NormalizeMAC(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", ":"))
}

// thermostat is the locally held state of a relay-with-sensor output. The
// controller does not report it back.
type thermostat struct {
	Mode   string
	Target float64
}

const (
	ModeHeat = "heat"
	ModeOff  = "off"

	defaultTarget     = 20.0
	defaultBrightness = 255
)

// Coordinator owns the controller link and the discovered outputs.
type Coordinator struct {
	client     Controller
	discoverer *discovery.Discoverer
	store      store.Store
	events     *EventBus
	metrics    *metrics.Metrics
	logger     *slog.Logger
	config     Config

	mu          sync.RWMutex
	devices     []discovery.Device
	byID        map[int]discovery.Device
	friendly    map[int]string
	brightness  map[int]uint8
	targets     map[int]int
	thermostats map[int]*thermostat
	lastPoll    time.Time
	lastPollErr string
	linkState   string
	// undiscovered is set when Start found neither the controller nor a
	// cache. The poller retries discovery until it succeeds.
	undiscovered bool

	refresh chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a Coordinator. m may be nil.
func New(client Controller, st store.Store, events *EventBus, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Coordinator {
	if cfg.Port == 0 {
		cfg.Port = network.DefaultPort
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = network.DefaultStatusTimeout
	}
	cfg.MAC = NormalizeMAC(cfg.MAC)

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		client:      client,
		discoverer:  discovery.New(client, cfg.RequestTimeout, logger),
		store:       st,
		events:      events,
		metrics:     m,
		logger:      logger,
		config:      cfg,
		byID:        make(map[int]discovery.Device),
		friendly:    make(map[int]string),
		brightness:  make(map[int]uint8),
		targets:     make(map[int]int),
		thermostats: make(map[int]*thermostat),
		refresh:     make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Context returns the coordinator's context, which is cancelled on Stop().
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// Start discovers the controller outputs. When discovery fails or finds
// nothing, the outputs cached in the store are used instead.
func (c *Coordinator) Start(ctx context.Context) error {
	c.logger.Info("discovering outputs...", "addr", network.Addr(c.config.Host, c.config.Port))
	devs, err := c.discoverer.LoadAll(ctx)
	if err == nil && len(devs) > 0 {
		c.persist(devs)
		c.setDevices(devs, "controller")
		return nil
	}

	if err != nil {
		c.logger.Warn("discovery failed, trying cached outputs", "err", err)
	} else {
		c.logger.Warn("controller reported no outputs, trying cached outputs")
	}
	cached, cerr := c.loadCached()
	if cerr != nil {
		c.logger.Error("load cached outputs", "err", cerr)
	}
	if len(cached) > 0 {
		c.setDevices(cached, "store")
		return nil
	}
	if err != nil {
		c.mu.Lock()
		c.undiscovered = true
		c.mu.Unlock()
		return fmt.Errorf("discover outputs: %w", err)
	}
	c.setDevices(nil, "controller")
	return nil
}

// Rediscover runs discovery again and replaces the output table. A failed or
// empty discovery keeps the current table.
func (c *Coordinator) Rediscover(ctx context.Context) error {
	devs, err := c.discoverer.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("rediscover: %w", err)
	}
	if len(devs) == 0 {
		return fmt.Errorf("rediscover: %w", discovery.ErrShortResponse)
	}
	c.persist(devs)
	c.setDevices(devs, "controller")
	c.mu.Lock()
	c.undiscovered = false
	c.mu.Unlock()
	c.RequestRefresh()
	return nil
}

// Stop cancels the coordinator context, which ends the poller.
func (c *Coordinator) Stop() {
	c.cancel()
}

// setDevices installs a new output table. Outputs whose ID and type did not
// change keep their existing object and state.
func (c *Coordinator) setDevices(devs []discovery.Device, source string) {
	c.mu.Lock()
	byID := make(map[int]discovery.Device, len(devs))
	for i, d := range devs {
		if old, ok := c.byID[d.DeviceID()]; ok && old.OutputType() == d.OutputType() {
			d = adopt(old, d.DisplayName())
			devs[i] = d
		}
		byID[d.DeviceID()] = d
	}
	c.devices = devs
	c.byID = byID
	for _, d := range devs {
		if d.OutputType().IsThermostat() && c.thermostats[d.DeviceID()] == nil {
			c.thermostats[d.DeviceID()] = &thermostat{Mode: ModeHeat, Target: defaultTarget}
		}
	}
	counts := c.countsLocked()
	c.mu.Unlock()

	c.metrics.SetDevices(counts)
	c.logger.Info("outputs loaded", "count", len(devs), "source", source)
	c.events.Emit(Event{Type: EventDevicesLoaded, Data: map[string]any{
		"count":  len(devs),
		"source": source,
	}})
}

// adopt renames an existing output in place and returns it.
func adopt(d discovery.Device, name string) discovery.Device {
	switch dev := d.(type) {
	case *discovery.Light:
		dev.Name = name
	case *discovery.Cover:
		dev.Name = name
	case *discovery.Ignored:
		dev.Name = name
	}
	return d
}

func (c *Coordinator) countsLocked() map[string]int {
	counts := map[string]int{
		string(discovery.CategoryLight):   0,
		string(discovery.CategoryCover):   0,
		string(discovery.CategoryIgnored): 0,
	}
	for _, d := range c.devices {
		counts[string(d.Category())]++
	}
	return counts
}

// persist stores a fresh discovery and the controller info, and loads the
// friendly names kept for the new outputs.
func (c *Coordinator) persist(devs []discovery.Device) {
	now := time.Now()
	records := make([]*store.Device, 0, len(devs))
	for _, d := range devs {
		records = append(records, &store.Device{
			ID:           d.DeviceID(),
			Type:         uint8(d.OutputType()),
			Category:     string(d.Category()),
			Name:         d.DisplayName(),
			DiscoveredAt: now,
			LastSeen:     now,
		})
	}
	if err := c.store.ReplaceDevices(records); err != nil {
		c.logger.Error("save outputs", "err", err)
	}
	if err := c.store.SaveControllerInfo(&store.ControllerInfo{
		Host:          c.config.Host,
		Port:          c.config.Port,
		MAC:           c.config.MAC,
		DeviceCount:   len(devs),
		LastDiscovery: now,
	}); err != nil {
		c.logger.Error("save controller info", "err", err)
	}

	c.mu.Lock()
	c.friendly = make(map[int]string)
	for _, r := range records {
		if r.FriendlyName != "" {
			c.friendly[r.ID] = r.FriendlyName
		}
	}
	c.mu.Unlock()
}

func (c *Coordinator) loadCached() ([]discovery.Device, error) {
	records, err := c.store.ListDevices()
	if err != nil {
		return nil, err
	}
	devs := make([]discovery.Device, 0, len(records))
	friendly := make(map[int]string)
	for _, r := range records {
		devs = append(devs, discovery.NewDevice(r.ID, discovery.OutputType(r.Type), r.Name))
		if r.FriendlyName != "" {
			friendly[r.ID] = r.FriendlyName
		}
	}
	c.mu.Lock()
	c.friendly = friendly
	c.mu.Unlock()
	return devs, nil
}

// Events returns the event bus.
func (c *Coordinator) Events() *EventBus {
	return c.events
}

// Store returns the store.
func (c *Coordinator) Store() store.Store {
	return c.store
}

// Rename sets a friendly name for an output. An empty name restores the
// controller name.
func (c *Coordinator) Rename(id int, name string) error {
	name = strings.TrimSpace(name)
	c.mu.RLock()
	_, ok := c.byID[id]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("output %d: %w", id, ErrDeviceNotFound)
	}

	if err := c.saveFriendlyName(id, name); err != nil {
		return fmt.Errorf("rename output %d: %w", id, err)
	}

	c.mu.Lock()
	if name == "" {
		delete(c.friendly, id)
	} else {
		c.friendly[id] = name
	}
	view := c.viewLocked(c.byID[id])
	c.mu.Unlock()

	c.logger.Info("output renamed", "id", id, "name", view.Name)
	c.events.Emit(Event{Type: EventDeviceRenamed, Data: view})
	return nil
}

// saveFriendlyName stores name for output id, creating the record when the
// output was never persisted.
func (c *Coordinator) saveFriendlyName(id int, name string) error {
	if _, err := c.store.GetDevice(id); errors.Is(err, store.ErrNotFound) {
		c.mu.RLock()
		d, ok := c.byID[id]
		c.mu.RUnlock()
		if !ok {
			return ErrDeviceNotFound
		}
		now := time.Now()
		return c.store.SaveDevice(&store.Device{
			ID:           id,
			Type:         uint8(d.OutputType()),
			Category:     string(d.Category()),
			Name:         d.DisplayName(),
			FriendlyName: name,
			DiscoveredAt: now,
			LastSeen:     now,
		})
	}
	return c.store.UpdateDevice(id, func(dev *store.Device) error {
		dev.FriendlyName = name
		return nil
	})
}
