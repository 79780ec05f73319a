package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-scripts/internal/api"
	"github.com/nerrad567/gray-logic-scripts/internal/bridge"
	"github.com/nerrad567/gray-logic-scripts/internal/engine"
	"github.com/nerrad567/gray-logic-scripts/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-scripts/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-scripts/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-scripts/internal/infrastructure/mqtt"
)

const (
	// shutdownTimeout bounds how long serve waits for running scripts.
	shutdownTimeout = 30 * time.Second

	// sessionExpiryInterval is how often stale web sessions are deleted.
	sessionExpiryInterval = time.Hour
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the script engine service",
		Long: `Run the script engine with its HTTP API, WebSocket event stream and
MQTT bridge until interrupted.

On SIGINT or SIGTERM new work is refused and running scripts are given
time to finish before the database is closed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// serve is the long-running service, separated from the command for
// testability.
func serve(ctx context.Context, cfg *config.Config) error {
	log := logging.New(cfg.Logging, version)
	log.Info("starting Gray Logic script engine",
		"site_id", cfg.Site.ID,
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return WrapExitError(ExitCommandError, "initialising engine", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("stopping script engine")
		a.close(shutdownCtx)
		log.Info("Gray Logic script engine stopped")
	}()
	log.Info("engine initialised",
		"scripts", cfg.Scripts.Path,
		"thread_max", cfg.Scripts.ThreadMax,
		"devices", a.devices.GetDeviceCount(),
	)

	var sinks engine.MultiMetrics

	// Connect to InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(cfg.InfluxDB, influxdb.WithTag("site", cfg.Site.ID))
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		sinks = append(sinks, influxMetrics{client: influxClient})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to MQTT broker (optional)
	var health api.HealthChecker
	if cfg.MQTT.Enabled {
		mqttClient, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		health = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		b, err := bridge.New(bridge.Options{
			MQTT:     mqttClient,
			Router:   a.router,
			Registry: a.devices,
			Executor: a.engine,
		})
		if err != nil {
			return fmt.Errorf("creating MQTT bridge: %w", err)
		}
		b.SetLogger(log.Component("bridge"))
		if err := b.Start(); err != nil {
			return fmt.Errorf("starting MQTT bridge: %w", err)
		}
		defer b.Stop()

		stats := bridge.NewStatsPublisher(mqttClient)
		stats.SetLogger(log.Component("stats"))
		sinks = append(sinks, stats)
	} else {
		log.Info("MQTT disabled")
	}

	if len(sinks) > 0 {
		a.engine.SetMetrics(sinks)
	}

	srv, err := api.New(api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		WebRoot: cfg.Scripts.WebRoot,
		Logger:  log,
		Engine:  a.engine,
		Router:  a.router,
		Devices: a.devices,
		MQTT:    health,
		DB:      a.db.DB,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	go a.engine.Run(ctx)
	if ttl := cfg.GetSessionTTL(); ttl > 0 {
		go expireSessions(ctx, a, ttl)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API server, MQTT bridge, MQTT,
	// InfluxDB, then the engine drain and database.
	return nil
}

// expireSessions deletes web sessions not touched within ttl, once at start
// and then every sessionExpiryInterval.
func expireSessions(ctx context.Context, a *app, ttl time.Duration) {
	ticker := time.NewTicker(sessionExpiryInterval)
	defer ticker.Stop()

	for {
		n, err := a.sessions.Expire(ctx, time.Now().Add(-ttl))
		switch {
		case err != nil && ctx.Err() == nil:
			a.log.Warn("session expiry failed", "error", err)
		case n > 0:
			a.log.Info("expired web sessions", "count", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
