// Package main is the entry point for the fieldbridge service. It wires the
// tag store, client pool, OPC UA address space, modem listener bank and HTTP
// admin server together and manages the application lifecycle.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexus-edge/fieldbridge/internal/adapter/config"
	"github.com/nexus-edge/fieldbridge/internal/adapter/modbus"
	"github.com/nexus-edge/fieldbridge/internal/adapter/mqtt"
	"github.com/nexus-edge/fieldbridge/internal/adapter/opcua"
	"github.com/nexus-edge/fieldbridge/internal/api"
	"github.com/nexus-edge/fieldbridge/internal/domain"
	"github.com/nexus-edge/fieldbridge/internal/health"
	"github.com/nexus-edge/fieldbridge/internal/metrics"
	"github.com/nexus-edge/fieldbridge/internal/modem"
	"github.com/nexus-edge/fieldbridge/internal/service"
	"github.com/nexus-edge/fieldbridge/internal/store"
	"github.com/nexus-edge/fieldbridge/pkg/logging"
)

const (
	serviceName    = "fieldbridge"
	serviceVersion = "1.0.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(serviceName, serviceVersion, cfg.Logging.Level, cfg.Logging.Format)
	logger.Info().Str("env", cfg.Environment).Msg("starting fieldbridge")

	metricsRegistry := metrics.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core state: tag store and outbound client pool.
	values := store.New()
	pool := modbus.NewPool(modbus.PoolConfig{RequestTimeout: cfg.Modbus.RequestTimeout}, logger, metricsRegistry)
	defer pool.Close()

	// Poller and engine.
	poller := service.NewPoller(pool, values, logger, metricsRegistry)
	catalog := config.NewCatalog(cfg.CatalogPath)
	sessions := modem.NewConnRegistry()

	// The engine and the address space reference each other: the bridge's
	// getters and setters resolve through the engine by identifier. Wire the
	// bridge with engine-backed closures once the engine exists.
	var engine *service.Engine

	space, err := opcua.NewBridge(
		opcua.Config{Host: cfg.OPCUA.Host, Port: cfg.OPCUA.Port},
		func(deviceID, tagName string) (domain.Value, bool) {
			return engine.ReadValue(deviceID, tagName)
		},
		func(ctx context.Context, deviceID, tagName string, value domain.Value) error {
			return engine.WriteParsed(ctx, deviceID, tagName, value)
		},
		logger,
		metricsRegistry,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build opcua address space")
	}

	engine = service.NewEngine(
		service.Config{ModemPortLo: cfg.Modem.PortLo, ModemPortHi: cfg.Modem.PortHi},
		values, pool, space, catalog, poller, sessions, logger, metricsRegistry,
	)

	// The address space republishes every value that lands in the store;
	// OPC UA subscriptions observe poll updates and writes the same way.
	values.OnUpdate(space.Publish)

	// Optional MQTT mirror.
	var mirror *mqtt.Mirror
	if cfg.MQTT.BrokerURL != "" {
		mirror = mqtt.NewMirror(mqtt.Config{
			BrokerURL:      cfg.MQTT.BrokerURL,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			QoS:            cfg.MQTT.QoS,
			TopicPrefix:    cfg.MQTT.TopicPrefix,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
		}, logger)
		if err := mirror.Connect(); err != nil {
			logger.Warn().Err(err).Msg("mqtt mirror unavailable, continuing without it")
		} else {
			values.OnUpdate(mirror.Publish)
			defer mirror.Disconnect()
		}
	}

	// A failure to bind the OPC UA endpoint is the one fatal startup error.
	if err := space.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start opcua server")
	}
	defer space.Close()

	// Load the catalog and materialize every device. An unreadable catalog is
	// not fatal: the bridge comes up empty and devices are re-added over the
	// admin API.
	if err := engine.Load(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to load device catalog, starting with no devices")
	}

	// Inbound listener bank.
	bank := modem.NewBank(cfg.Modem.PortLo, cfg.Modem.PortHi, engine, values, sessions, logger, metricsRegistry)
	if err := bank.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("modem listener bank unavailable")
	} else {
		defer bank.Stop()
	}

	// Outbound pollers.
	poller.Start(ctx)

	// Health checks.
	healthChecker := health.NewChecker(health.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
	})
	healthChecker.AddCheck("modbus_pool", pool)

	// HTTP admin server.
	mux := http.NewServeMux()
	api.NewHandler(engine, logger).Register(mux)
	mux.HandleFunc("/health", healthChecker.Handler)
	mux.HandleFunc("/health/live", healthChecker.LivenessHandler)
	mux.HandleFunc("/health/ready", healthChecker.ReadinessHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", http.FileServer(http.Dir(cfg.HTTP.WebRoot)))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
	go func() {
		logger.Info().Int("port", cfg.HTTP.Port).Msg("starting http server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	logger.Info().
		Int("http_port", cfg.HTTP.Port).
		Int("opcua_port", cfg.OPCUA.Port).
		Int("modem_port_lo", cfg.Modem.PortLo).
		Int("modem_port_hi", cfg.Modem.PortHi).
		Msg("fieldbridge started")

	// Wait for shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	poller.Stop(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error shutting down http server")
	}
	cancel()

	logger.Info().Msg("fieldbridge shutdown complete")
}
