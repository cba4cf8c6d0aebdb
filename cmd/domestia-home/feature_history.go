package main

import (
	"context"
	"log/slog"

	"domestia-go-home/internal/coordinator"
	"domestia-go-home/internal/history"
)

type historyStopper struct {
	rec *history.Recorder
}

func (h *historyStopper) Stop() {
	if h.rec != nil {
		h.rec.Stop()
	}
}

func initHistory(ctx context.Context, coord *coordinator.Coordinator, cfg *Config, logger *slog.Logger) *historyStopper {
	if !cfg.InfluxDB.Enabled {
		return &historyStopper{}
	}
	rec, err := history.New(ctx, coord.Events(), history.Config{
		URL:           cfg.InfluxDB.URL,
		Token:         cfg.InfluxDB.Token,
		Org:           cfg.InfluxDB.Org,
		Bucket:        cfg.InfluxDB.Bucket,
		BatchSize:     cfg.InfluxDB.BatchSize,
		FlushInterval: cfg.InfluxDB.FlushInterval,
	}, logger)
	if err != nil {
		logger.Error("influxdb history", "err", err)
		return &historyStopper{}
	}
	rec.Start()
	return &historyStopper{rec: rec}
}
