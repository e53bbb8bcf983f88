// Gatekeeper - session authority for account login, privilege levels and
// service stop control.
//
// This is the main entry point. It wires the SQLite stores, the in-memory
// session registry, the reconciliation sweeper, the HTTP API and the
// optional MQTT and InfluxDB sinks, then runs until stopped.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gatekeeper/internal/api"
	"github.com/nerrad567/gatekeeper/internal/audit"
	"github.com/nerrad567/gatekeeper/internal/auth"
	"github.com/nerrad567/gatekeeper/internal/infrastructure/config"
	"github.com/nerrad567/gatekeeper/internal/infrastructure/database"
	"github.com/nerrad567/gatekeeper/internal/infrastructure/influxdb"
	"github.com/nerrad567/gatekeeper/internal/infrastructure/logging"
	"github.com/nerrad567/gatekeeper/internal/infrastructure/metrics"
	"github.com/nerrad567/gatekeeper/internal/infrastructure/mqtt"
	"github.com/nerrad567/gatekeeper/internal/reconcile"
	"github.com/nerrad567/gatekeeper/internal/shutdown"
	_ "github.com/nerrad567/gatekeeper/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// registryScrapeInterval is how often registry gauges are refreshed.
const registryScrapeInterval = 15 * time.Second

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Cancelling ctx has the same effect as SIGTERM: a graceful stop.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gatekeeper",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if cfg.Database.ResetOnStart {
		log.Warn("database.reset_on_start is set, dropping all accounts and sessions")
		if resetErr := db.Reset(ctx); resetErr != nil {
			return fmt.Errorf("resetting database: %w", resetErr)
		}
	}
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	users := auth.NewUserRepository(db.DB)
	store := auth.NewSessionRepository(db.DB, cfg.SessionTTL())

	if _, seedErr := auth.SeedSuper(ctx, users, auth.SuperCredentials{
		Username: cfg.SuperUser.Username,
		Email:    cfg.SuperUser.Email,
		Password: cfg.SuperUser.Password,
	}, log.Component("seed")); seedErr != nil {
		return fmt.Errorf("seeding super user: %w", seedErr)
	}

	registry := auth.NewRegistry()
	registry.SetLogger(log.Component("registry"))
	accounts, err := users.List(ctx)
	if err != nil {
		return fmt.Errorf("listing accounts: %w", err)
	}
	if bootErr := registry.Bootstrap(ctx, accounts, store); bootErr != nil {
		return bootErr
	}

	collector := metrics.New()
	events := auth.Observers{collector}
	sweeps := reconcile.SweepObservers{collector}

	// Connect to MQTT broker (optional)
	var (
		mqttClient *mqtt.Client
		publisher  *mqtt.EventPublisher
	)
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT connected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		publisher = mqtt.NewEventPublisher(mqttClient)
		defer func() {
			if closeErr := publisher.Close(); closeErr != nil {
				log.Error("error closing MQTT event publisher", "error", closeErr)
			}
		}()
		events = append(events, publisher)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.Service.ID)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		events = append(events, influxClient)
		sweeps = append(sweeps, influxClient)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	coordinator := shutdown.New()
	defer coordinator.Close()

	sessions := auth.NewSessions(store, registry, events)
	sweeper := reconcile.New(store, users, registry,
		reconcile.WithInterval(cfg.SweepInterval()),
		reconcile.WithEventObserver(events),
		reconcile.WithSweepObserver(sweeps),
		reconcile.WithLogger(log.Component("reconcile")),
	)

	server, err := api.New(api.Deps{
		Config:      cfg.API,
		Metrics:     cfg.Metrics,
		Logger:      log,
		DB:          db,
		Users:       users,
		Store:       store,
		Sessions:    sessions,
		Coordinator: coordinator,
		Audit:       audit.NewSQLiteRepository(db.DB),
		Collector:   collector,
		MQTT:        mqttClient,
		Events:      publisher,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	sweepStop, unsubscribeSweep := coordinator.Subscribe()
	defer unsubscribeSweep()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sweeper.Run(gctx, sweepStop)
	})

	g.Go(func() error {
		err := server.Wait()
		if err != nil {
			// The listener died on its own; stop the rest.
			coordinator.RequestStop(shutdown.Immediate)
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		bridgeSignals(gctx, coordinator, server.Done(), log)
		return nil
	})

	g.Go(func() error {
		collector.TrackRegistry(registry, registryScrapeInterval, server.Done())
		return nil
	})

	if publisher != nil {
		noticeStop, unsubscribeNotice := coordinator.Subscribe()
		defer unsubscribeNotice()
		g.Go(func() error {
			select {
			case mode, ok := <-noticeStop:
				if err := publisher.Shutdown(shutdown.Receive(mode, ok)); err != nil {
					log.Warn("publishing shutdown notice", "error", err)
				}
			case <-server.Done():
			}
			return nil
		})
	}

	log.Info("initialisation complete",
		"address", server.Addr(),
		"session_ttl", cfg.SessionTTL(),
		"sweep_interval", cfg.SweepInterval(),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	// Deferred Close() calls will run in reverse order:
	// 1. API server (flushes audit entries)
	// 2. InfluxDB (if enabled)
	// 3. MQTT event publisher and client (if enabled)
	// 4. Database

	log.Info("Gatekeeper stopped")
	return nil
}

// bridgeSignals turns SIGINT and SIGTERM into stop requests. The first
// signal, or ctx ending, asks for a graceful stop; a second signal
// escalates to immediate. It returns once the listener has stopped.
func bridgeSignals(ctx context.Context, coordinator *shutdown.Coordinator, serverDone <-chan struct{}, log *logging.Logger) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctxDone := ctx.Done()
	for {
		select {
		case sig := <-sigCh:
			mode := shutdown.Graceful
			if coordinator.IsStopping() {
				mode = shutdown.Immediate
			}
			log.Info("signal received, stopping", "signal", sig.String(), "mode", mode.String())
			coordinator.RequestStop(mode)
		case <-ctxDone:
			ctxDone = nil
			coordinator.RequestStop(shutdown.Graceful)
		case <-serverDone:
			return
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses GATEKEEPER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GATEKEEPER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
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
