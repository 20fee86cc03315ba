package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/lhkeeper/internal/api"
	"github.com/nerrad567/lhkeeper/internal/bridges/bluetooth"
	"github.com/nerrad567/lhkeeper/internal/history"
	"github.com/nerrad567/lhkeeper/internal/infrastructure/config"
	"github.com/nerrad567/lhkeeper/internal/infrastructure/database"
	"github.com/nerrad567/lhkeeper/internal/infrastructure/influxdb"
	"github.com/nerrad567/lhkeeper/internal/infrastructure/logging"
	"github.com/nerrad567/lhkeeper/internal/infrastructure/mqtt"
	"github.com/nerrad567/lhkeeper/internal/keepalive"
	"github.com/nerrad567/lhkeeper/internal/lighthouse"
	"github.com/nerrad567/lhkeeper/internal/link"
	"github.com/nerrad567/lhkeeper/internal/telemetry"
	"github.com/nerrad567/lhkeeper/migrations"
)

// linkOpener provides the BLE transport and a function releasing it.
type linkOpener func(log *logging.Logger) (link.Link, func() error, error)

// openBluetoothLink opens the host adapter and a GATT link on it.
func openBluetoothLink(log *logging.Logger) (link.Link, func() error, error) {
	adapter, err := bluetooth.OpenAdapter()
	if err != nil {
		return nil, nil, err
	}
	return bluetooth.NewLink(bluetooth.Options{Logger: log}), adapter.Close, nil
}

// run wires the optional sinks around the keep-alive loop and blocks until
// the loop ends.
//
// Parameters:
//   - ctx: Cancelled on SIGINT/SIGTERM; cancellation is a normal stop
//   - cfg: Validated configuration
//   - log: Configured logger
//   - open: Provides the BLE link
//
// Returns:
//   - error: nil on normal termination, or the first fatal error
func run(ctx context.Context, cfg *config.Config, log *logging.Logger, open linkOpener) error {
	runID := uuid.NewString()
	lighthouseID := cfg.DeviceID().String()
	log = log.With("run_id", runID, "lighthouse_id", lighthouseID)
	log.Info("starting lhkeeper",
		"version", version,
		"commit", commit,
		"address", cfg.Lighthouse.Address,
		"command", cfg.WakeCommand().String(),
	)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	observers := lighthouse.Observers{telemetry.NewConsole(log, cfg.KeepAlive.Verbosity)}

	var db *database.DB
	var repo history.Repository
	if cfg.Database.Enabled {
		var err error
		db, err = database.Open(database.ConfigFrom(cfg.Database))
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}

		sqliteRepo := history.NewSQLiteRepository(db.DB)
		pruned, err := telemetry.PruneHistory(ctx, sqliteRepo, cfg.HistoryRetention())
		if err != nil {
			return fmt.Errorf("pruning history: %w", err)
		}
		log.Info("history database ready", "path", db.Path(), "pruned", pruned)

		repo = sqliteRepo
		observers = append(observers, telemetry.NewHistory(repo, runID, lighthouseID, cfg.Lighthouse.Address, log))
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		var err error
		mqttClient, err = mqtt.Connect(cfg.MQTT, mqtt.Identity{LighthouseID: lighthouseID, RunID: runID})
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })

		if err := telemetry.HandleCommands(mqttClient, lighthouseID, func() {
			log.Info("stop requested over MQTT")
			stop()
		}); err != nil {
			return fmt.Errorf("subscribing to commands: %w", err)
		}
		observers = append(observers, telemetry.NewMQTT(mqttClient, lighthouseID, runID, log))
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		var err error
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) { log.Error("InfluxDB write error", "error", err) })
		observers = append(observers, telemetry.NewInflux(influxClient, influxdb.Tags{
			LighthouseID: lighthouseID,
			Address:      cfg.Lighthouse.Address,
			RunID:        runID,
		}))
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	bleLink, closeLink, err := open(log)
	if err != nil {
		return fmt.Errorf("opening bluetooth adapter: %w", err)
	}
	defer func() {
		if closeErr := closeLink(); closeErr != nil {
			log.Warn("error closing bluetooth adapter", "error", closeErr)
		}
	}()

	scheduler, err := keepalive.New(keepalive.Options{
		Config:   keepaliveConfig(cfg),
		Link:     bleLink,
		Observer: observers,
		RunID:    runID,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		// The API has nothing to report once the loop is done.
		defer stop()
		return scheduler.Run(gctx)
	})

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Status:  scheduler,
			History: repo,
			Version: version,
		}
		if stats, ok := bleLink.(api.LinkStatsSource); ok {
			deps.Link = stats
		}
		server, err := api.New(deps)
		if err != nil {
			stop()
			g.Wait() //nolint:errcheck // Returning the construction error instead
			return fmt.Errorf("creating API server: %w", err)
		}
		g.Go(func() error { return server.Serve(gctx) })
	}

	if repo != nil {
		g.Go(func() error {
			return telemetry.RunPruner(gctx, repo, cfg.HistoryRetention(), telemetry.DefaultPruneInterval, log)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	st := scheduler.Status()
	log.Info("lhkeeper stopped", "reason", st.StopReason, "cycles", st.Cycles)
	return nil
}

// keepaliveConfig converts the validated configuration for the scheduler.
func keepaliveConfig(cfg *config.Config) keepalive.Config {
	return keepalive.Config{
		LighthouseID:   cfg.DeviceID(),
		Address:        cfg.Lighthouse.Address,
		Handle:         uint16(cfg.Lighthouse.Handle), // #nosec G115 -- validated to fit 16 bits
		Command:        cfg.WakeCommand(),
		DeviceTimeout:  cfg.DeviceTimeout(),
		PingInterval:   cfg.PingInterval(),
		GlobalTimeout:  cfg.GlobalTimeout(),
		ConnectTimeout: cfg.ConnectTimeout(),
		Retry: link.RetryPolicy{
			MaxAttempts: cfg.KeepAlive.Retry.Count,
			Pause:       cfg.RetryPause(),
		},
		Verbosity: cfg.KeepAlive.Verbosity,
	}
}

// healthCheck verifies the enabled infrastructure before the loop starts.
// Nil clients are disabled features and are skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
