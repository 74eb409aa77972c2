package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/gaia-relay/backend/api/handlers"
	"github.com/gaia-relay/backend/internal/auth"
	"github.com/gaia-relay/backend/internal/config"
	"github.com/gaia-relay/backend/internal/db"
	"github.com/gaia-relay/backend/internal/logger"
	"github.com/gaia-relay/backend/internal/relay"
	"github.com/gaia-relay/backend/internal/repository"
	"github.com/gaia-relay/backend/internal/session"
	"github.com/gaia-relay/backend/internal/ws"
)

func main() {
	os.Exit(run())
}

// run wires the relay and serves until SIGINT or SIGTERM. It returns the
// process exit code so deferred cleanup always runs.
func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return 1
	}

	rootLogger, logCloser, err := logger.Setup(cfg.Log)
	if err != nil {
		log.Error().Err(err).Msg("failed to set up logging")
		return 1
	}
	defer logCloser.Close()

	// Ensure the sqlite directory exists
	if cfg.Store.Driver == db.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.DSN), 0755); err != nil {
			log.Error().Err(err).Msg("failed to create database directory")
			return 1
		}
	}

	database, err := db.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		log.Error().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open database")
		return 1
	}
	defer database.Close()

	users := repository.NewUserRepository(database)
	devices := repository.NewDeviceRepository(database)
	connections := repository.NewConnectionRepository(database)
	resolver := auth.NewResolver(users, devices, connections)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := ws.NewMetrics(promRegistry)

	registry := ws.NewRegistry(rootLogger, metrics)
	supervisor := session.NewSupervisor(registry, resolver, resolver, metrics, rootLogger, session.Config{
		ReadLimit: cfg.Relay.ReadLimit,
		Conn: ws.ConnOptions{
			SendBuffer: cfg.Relay.SendBuffer,
			WriteWait:  cfg.Relay.WriteWait,
			PingPeriod: cfg.Relay.PingPeriod,
		},
	})

	engine := handlers.NewEngine(handlers.RouterConfig{
		Mode:      cfg.Mode,
		RelayPath: cfg.Relay.Path,
	}, handlers.Router{
		Relay:    handlers.NewRelayHandler(supervisor),
		Devices:  handlers.NewDeviceHandler(resolver, connections, devices, rootLogger),
		Stats:    registry,
		Gatherer: promRegistry,
		Logger:   rootLogger,
	})

	server := relay.NewServer(relay.Config{
		ListenAddress:   cfg.Relay.ListenAddress,
		ShutdownTimeout: cfg.Relay.ShutdownTimeout,
	}, engine, registry, rootLogger)

	log.Info().
		Str("addr", cfg.Relay.ListenAddress).
		Str("path", cfg.Relay.Path).
		Str("store", cfg.Store.Driver).
		Msg("starting relay")

	if err := server.Run(ctx); err != nil {
		log.Error().Err(err).Msg("relay failed")
		return 1
	}
	log.Info().Msg("relay exited")
	return 0
}
