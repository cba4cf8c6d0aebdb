package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"domestia-go-home/internal/coordinator"
	"domestia-go-home/internal/metrics"
	"domestia-go-home/internal/network"
	"domestia-go-home/internal/store"
	"domestia-go-home/internal/web"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the bridge daemon",
		Example: `  domestia-home serve --config /etc/domestia-home/config.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			if err := cfg.validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "config.yaml", "Path to the YAML config file")
	return cmd
}

func runServe(parent context.Context, cfg *Config) error {
	logger, closeLog := newLogger(cfg, os.Stdout)
	defer closeLog()
	logger.Info("domestia-home starting", "version", version)

	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	netOpts := []network.Option{network.WithMetrics(m)}
	if cfg.Request.RateLimit > 0 {
		netOpts = append(netOpts, network.WithRateLimit(cfg.Request.RateLimit, cfg.Request.Burst))
	}
	addr := network.Addr(cfg.Controller.Host, cfg.Controller.Port)
	client := network.New(addr, logger.With("component", "network"), netOpts...)

	defer client.Close()

	connectCtx, cancel := context.WithTimeout(parent, 10*time.Second)
	err = client.Connect(connectCtx)
	cancel()
	if err != nil {
		logger.Warn("controller unreachable, retrying in the background", "addr", addr, "err", err)
		client.Start()
	}

	events := coordinator.NewEventBus(logger)
	coord := coordinator.New(client, db, events, coordinator.Config{
		Host:           cfg.Controller.Host,
		Port:           cfg.Controller.Port,
		MAC:            cfg.Controller.MAC,
		RequestTimeout: cfg.Request.Timeout,
		PollInterval:   cfg.Poll.Interval,
		StatusTimeout:  cfg.Poll.StatusTimeout,
	}, m, logger.With("component", "coordinator"))

	// Subscribers attach before Start so they see devices_loaded.
	auto, autoWebOpts := initAutomation(coord, cfg, logger)
	history := initHistory(parent, coord, cfg, logger)

	startCtx, cancel := context.WithTimeout(parent, 30*time.Second)
	err = coord.Start(startCtx)
	cancel()
	if err != nil {
		logger.Warn("starting without outputs, the poller retries discovery", "err", err)
	}

	webOpts := []web.ServerOption{
		web.WithVersion(version),
		web.WithMetrics(reg),
	}
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, autoWebOpts...)
	webServer := web.NewServer(coord, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	mqtt := initMQTT(coord, cfg, logger)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return coord.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	auto.Stop()
	mqtt.Stop()
	history.Stop()
	webServer.Stop()
	coord.Stop()

	logger.Info("goodbye")
	return err
}
