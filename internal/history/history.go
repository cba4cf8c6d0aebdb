// Package history records output state changes in InfluxDB.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"domestia-go-home/internal/coordinator"
	"domestia-go-home/internal/discovery"
)

// Measurement is the InfluxDB measurement state changes are written to.
const Measurement = "domestia_output"

const pingTimeout = 5 * time.Second

// ErrUnhealthy is returned when the server answers the ping as not ready.
var ErrUnhealthy = errors.New("influxdb not healthy")

// Config holds the InfluxDB connection settings.
type Config struct {
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     uint
	FlushInterval time.Duration
}

// pointWriter is the non-blocking write API.
type pointWriter interface {
	WritePoint(p *write.Point)
	Flush()
}

// Recorder writes a point for every state_changed event.
type Recorder struct {
	events *coordinator.EventBus
	writer pointWriter
	client influxdb2.Client
	logger *slog.Logger
	now    func() time.Time

	unsub func()
	wg    sync.WaitGroup
}

func newRecorder(events *coordinator.EventBus, w pointWriter, logger *slog.Logger) *Recorder {
	return &Recorder{
		events: events,
		writer: w,
		logger: logger.With("component", "history"),
		now:    time.Now,
	}
}

// New connects to InfluxDB and verifies the server with a ping.
func New(ctx context.Context, events *coordinator.EventBus, cfg Config, logger *slog.Logger) (*Recorder, error) {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(cfg.BatchSize).
			SetFlushInterval(uint(cfg.FlushInterval.Milliseconds())))

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb ping %s: %w", cfg.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, ErrUnhealthy
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	r := newRecorder(events, writeAPI, logger)
	r.client = client

	errCh := writeAPI.Errors()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for err := range errCh {
			r.logger.Warn("influxdb write failed", "err", err)
		}
	}()
	return r, nil
}

// Start subscribes to state changes.
func (r *Recorder) Start() {
	r.unsub = r.events.On(coordinator.EventStateChanged, r.handleEvent)
	r.logger.Info("history recorder started")
}

// Stop flushes pending points and closes the client.
func (r *Recorder) Stop() {
	if r.unsub != nil {
		r.unsub()
	}
	r.writer.Flush()
	if r.client != nil {
		r.client.Close()
	}
	r.wg.Wait()
}

func (r *Recorder) handleEvent(event coordinator.Event) {
	v, ok := event.Data.(coordinator.DeviceView)
	if !ok {
		return
	}
	if p, ok := buildPoint(v, r.now()); ok {
		r.writer.WritePoint(p)
	}
}

// buildPoint converts an output view into a point. Outputs without state
// are skipped.
func buildPoint(v coordinator.DeviceView, ts time.Time) (*write.Point, bool) {
	fields := make(map[string]any)
	switch {
	case v.Category == string(discovery.CategoryLight):
		fields["on"] = v.State["on"]
		if b, ok := v.State["brightness"]; ok && v.Dimmer {
			fields["brightness"] = b
		}
	case v.Category == string(discovery.CategoryCover):
		fields["position"] = v.State["position"]
		fields["closing"] = v.State["closing"]
		fields["opening"] = v.State["opening"]
	case v.Thermostat:
		fields["hvac_mode"] = v.State["hvac_mode"]
		fields["temperature"] = v.State["temperature"]
	}
	for k, val := range fields {
		if val == nil {
			delete(fields, k)
		}
	}
	if len(fields) == 0 {
		return nil, false
	}

	tags := map[string]string{
		"id":       strconv.Itoa(v.ID),
		"name":     v.Name,
		"category": v.Category,
	}
	return write.NewPoint(Measurement, tags, fields, ts), true
}
