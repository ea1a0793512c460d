// HisSrv - Historical Telemetry Service
//
// This is the main entry point for the HisSrv historical data service.
// HisSrv watches live telemetry feeds (Redis keyspace notifications,
// optionally MQTT topics), filters the stream against configurable
// storage rules, batches admitted points and persists them to a
// time-series or relational backend for later querying.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EvanL1/VoltageEMS-sub007/internal/collector"
	"github.com/EvanL1/VoltageEMS-sub007/internal/filter"
	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/config"
	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/database"
	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/influxdb"
	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/logging"
	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/mqtt"
	"github.com/EvanL1/VoltageEMS-sub007/internal/infrastructure/redis"
	"github.com/EvanL1/VoltageEMS-sub007/internal/ingest"
	"github.com/EvanL1/VoltageEMS-sub007/internal/pipeline"
	"github.com/EvanL1/VoltageEMS-sub007/internal/point"
	"github.com/EvanL1/VoltageEMS-sub007/internal/query"
	"github.com/EvanL1/VoltageEMS-sub007/internal/retention"
	"github.com/EvanL1/VoltageEMS-sub007/internal/rules"
	"github.com/EvanL1/VoltageEMS-sub007/internal/storage"
	influxbackend "github.com/EvanL1/VoltageEMS-sub007/internal/storage/influx"
	sqlitebackend "github.com/EvanL1/VoltageEMS-sub007/internal/storage/sqlite"
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

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting HisSrv",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Load storage rules
	ruleStore, err := rules.NewStore(cfg.Rules.Path)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	channels, points, filters := ruleStore.Current().RuleCounts()
	log.Info("rules loaded",
		"path", cfg.Rules.Path,
		"channel_rules", channels,
		"point_rules", points,
		"filters", filters,
	)

	mode, err := point.ParseRoundMode(cfg.Rules.PrecisionMode)
	if err != nil {
		return fmt.Errorf("parsing precision mode: %w", err)
	}

	// Open the storage backend
	backend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing storage backend", "backend", backend.Name())
		if closeErr := backend.Close(); closeErr != nil {
			log.Error("error closing backend", "error", closeErr)
		}
	}()

	// Assemble the pipeline stages
	engine := filter.New(ruleStore, mode)

	coll, err := collector.New(backend, cfg.Collector, log)
	if err != nil {
		return fmt.Errorf("creating collector: %w", err)
	}

	queries := query.New(backend, cfg.Query, log)
	keeper := retention.New(backend, cfg.Retention, log)

	svc := pipeline.New(pipeline.Deps{
		Logger:    log,
		Rules:     ruleStore,
		Engine:    engine,
		Collector: coll,
		Retention: keeper,
		Queries:   queries,
		Backend:   backend,
	})

	// Connect telemetry sources
	subscribers, cleanup, err := connectSources(ctx, cfg, svc.Sink(), log)
	if err != nil {
		return err
	}
	defer cleanup()
	if len(subscribers) == 0 {
		return fmt.Errorf("no telemetry sources enabled")
	}
	svc.SetSubscribers(subscribers)

	// Start the pipeline
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("starting pipeline: %w", err)
	}
	defer svc.Stop()

	// Reload rules on SIGHUP
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			log.Info("SIGHUP received, reloading rules")
			_ = svc.ReloadRules()
		}
	}()
	defer signal.Stop(hup)

	// Verify all connections are healthy
	healthCtx, healthCancel := context.WithTimeout(ctx, 10*time.Second)
	defer healthCancel()
	for name, herr := range svc.Health(healthCtx) {
		if herr != nil {
			log.Warn("component unhealthy at startup", "component", name, "error", herr)
		}
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls unwind in reverse order:
	// 1. Pipeline (subscribers stop, collector drains, retention stops)
	// 2. Source clients (Redis / MQTT)
	// 3. Storage backend

	log.Info("HisSrv stopped")
	return nil
}

// openBackend constructs the configured storage backend.
func openBackend(ctx context.Context, cfg *config.Config, log *logging.Logger) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case "influxdb":
		client, err := influxdb.Connect(ctx, cfg.Storage.InfluxDB)
		if err != nil {
			return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		log.Info("InfluxDB connected",
			"url", cfg.Storage.InfluxDB.URL,
			"org", cfg.Storage.InfluxDB.Org,
			"bucket", cfg.Storage.InfluxDB.Bucket,
		)
		return influxbackend.New(client), nil

	case "sqlite":
		db, err := database.Open(database.Config{
			Path:        cfg.Storage.SQLite.Path,
			WALMode:     cfg.Storage.SQLite.WALMode,
			BusyTimeout: cfg.Storage.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		backend, err := sqlitebackend.New(db)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("initialising sqlite backend: %w", err)
		}
		log.Info("SQLite connected", "path", cfg.Storage.SQLite.Path)
		return backend, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// connectSources connects the enabled telemetry sources and returns
// their subscribers plus a cleanup closing the underlying clients.
func connectSources(ctx context.Context, cfg *config.Config, sink ingest.Sink, log *logging.Logger) ([]ingest.Subscriber, func(), error) {
	var (
		subscribers []ingest.Subscriber
		closers     []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Redis.Enabled {
		redisClient, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connecting to Redis: %w", err)
		}
		closers = append(closers, func() {
			log.Info("closing Redis connection")
			if closeErr := redisClient.Close(); closeErr != nil {
				log.Error("error closing Redis", "error", closeErr)
			}
		})
		log.Info("Redis connected", "addr", cfg.Redis.Addr, "db", cfg.Redis.DB)
		subscribers = append(subscribers, ingest.NewRedisSubscriber(redisClient, cfg.Redis, sink, log))
	}

	if cfg.MQTT.Enabled {
		mqttClient, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log)
		closers = append(closers, func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		subscribers = append(subscribers, ingest.NewMQTTSubscriber(mqttClient, cfg.MQTT, sink, log))
	}

	return subscribers, cleanup, nil
}

// getConfigPath returns the configuration file path.
// Uses HISSRV_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HISSRV_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
