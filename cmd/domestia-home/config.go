package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"domestia-go-home/internal/coordinator"
	"domestia-go-home/internal/network"
)

type Config struct {
	Controller struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
		MAC  string `yaml:"mac"`
	} `yaml:"controller"`
	Request struct {
		Timeout   time.Duration `yaml:"timeout"`
		RateLimit float64       `yaml:"rate_limit"` // commands per second, 0 = off
		Burst     int           `yaml:"burst"`
	} `yaml:"request"`
	Poll struct {
		Interval      time.Duration `yaml:"interval"`
		StatusTimeout time.Duration `yaml:"status_timeout"`
	} `yaml:"poll"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled         bool   `yaml:"enabled"`
		Broker          string `yaml:"broker"`
		Username        string `yaml:"username"`
		Password        string `yaml:"password"`
		ClientID        string `yaml:"client_id"`
		TopicPrefix     string `yaml:"topic_prefix"`
		DiscoveryPrefix string `yaml:"discovery_prefix"`
	} `yaml:"mqtt"`
	InfluxDB struct {
		Enabled       bool          `yaml:"enabled"`
		URL           string        `yaml:"url"`
		Token         string        `yaml:"token"`
		Org           string        `yaml:"org"`
		Bucket        string        `yaml:"bucket"`
		BatchSize     uint          `yaml:"batch_size"`
		FlushInterval time.Duration `yaml:"flush_interval"`
	} `yaml:"influxdb"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   struct {
			Path       string `yaml:"path"`
			MaxSizeMB  int    `yaml:"max_size_mb"`
			MaxBackups int    `yaml:"max_backups"`
			MaxAgeDays int    `yaml:"max_age_days"`
			Compress   bool   `yaml:"compress"`
		} `yaml:"file"`
	} `yaml:"log"`
	ScriptsDir string `yaml:"scripts_dir"`
}

func (c *Config) validate() error {
	if c.Controller.Host == "" {
		return fmt.Errorf("controller.host is required")
	}
	if c.Controller.Port < 1 || c.Controller.Port > 65535 {
		return fmt.Errorf("controller.port must be 1-65535, got %d", c.Controller.Port)
	}
	if c.Request.Timeout <= 0 {
		return fmt.Errorf("request.timeout must be positive")
	}
	if c.Request.RateLimit < 0 {
		return fmt.Errorf("request.rate_limit must not be negative")
	}
	if c.Poll.Interval < 100*time.Millisecond {
		return fmt.Errorf("poll.interval must be at least 100ms, got %s", c.Poll.Interval)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		return fmt.Errorf("influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Controller.Port == 0 {
		cfg.Controller.Port = network.DefaultPort
	}
	cfg.Controller.MAC = coordinator.NormalizeMAC(cfg.Controller.MAC)
	if cfg.Request.Timeout == 0 {
		cfg.Request.Timeout = 3 * time.Second
	}
	if cfg.Request.RateLimit > 0 && cfg.Request.Burst <= 0 {
		cfg.Request.Burst = 1
	}
	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = 5 * time.Second
	}
	if cfg.Poll.StatusTimeout == 0 {
		cfg.Poll.StatusTimeout = network.DefaultStatusTimeout
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "domestia-home.db"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "domestia"
	}
	if cfg.MQTT.DiscoveryPrefix == "" {
		cfg.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if cfg.InfluxDB.BatchSize == 0 {
		cfg.InfluxDB.BatchSize = 100
	}
	if cfg.InfluxDB.FlushInterval == 0 {
		cfg.InfluxDB.FlushInterval = 10 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "scripts"
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger builds the daemon logger. With log.file.path set, records also
// go to a rotated file. The returned func closes that file.
func newLogger(cfg *Config, stdout io.Writer) (*slog.Logger, func()) {
	out := stdout
	closeFn := func() {}
	if cfg.Log.File.Path != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.Log.File.Path,
			MaxSize:    cfg.Log.File.MaxSizeMB,
			MaxBackups: cfg.Log.File.MaxBackups,
			MaxAge:     cfg.Log.File.MaxAgeDays,
			Compress:   cfg.Log.File.Compress,
		}
		out = io.MultiWriter(stdout, lj)
		closeFn = func() { _ = lj.Close() }
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), closeFn
}
