// CasaLink - cloud-to-cloud smart home bridge
//
// This is the main entry point for the CasaLink bridge. CasaLink sits
// between an assistant platform's fulfillment calls and a third-party
// device-management platform: it terminates SYNC/QUERY/EXECUTE/DISCONNECT
// envelopes, translates registry devices into assistant descriptors, and
// relays commands as platform RPCs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/casalink/casalink/migrations"

	"github.com/casalink/casalink/internal/api"
	"github.com/casalink/casalink/internal/audit"
	"github.com/casalink/casalink/internal/auth"
	"github.com/casalink/casalink/internal/device"
	"github.com/casalink/casalink/internal/infrastructure/config"
	"github.com/casalink/casalink/internal/infrastructure/database"
	"github.com/casalink/casalink/internal/infrastructure/influxdb"
	"github.com/casalink/casalink/internal/infrastructure/logging"
	"github.com/casalink/casalink/internal/infrastructure/mqtt"
	"github.com/casalink/casalink/internal/link"
	"github.com/casalink/casalink/internal/platform"
	"github.com/casalink/casalink/internal/smarthome"
	"github.com/casalink/casalink/internal/telemetry"
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
	log.Info("starting CasaLink bridge",
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

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database and run migrations
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Repositories
	userRepo := auth.NewUserRepository(db.DB)
	deviceRepo := device.NewSQLiteRepository(db.DB)
	linkRepo := link.NewSQLiteRepository(db.DB)
	codeRepo := link.NewSQLiteCodeRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	// Gateway to the device-management platform
	gateway := platform.NewClient(cfg.Platform, log)
	log.Info("platform gateway initialised",
		"base_url", cfg.Platform.BaseURL,
		"rpc_timeout_ms", cfg.Platform.RPCTimeout,
	)

	// Intent dispatcher
	dispatcher := smarthome.NewDispatcher(
		smarthome.NewRepositoryRegistry(deviceRepo, linkRepo),
		gateway,
		log,
	)

	// InfluxDB telemetry history (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
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
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT telemetry ingest (optional)
	var mqttClient *mqtt.Client
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
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		var recorder telemetry.Recorder
		if influxClient != nil {
			recorder = influxClient
		}
		ingest := telemetry.NewIngest(deviceRepo, recorder, log)
		if startErr := ingest.Start(mqttClient, byte(cfg.MQTT.QoS)); startErr != nil {
			return fmt.Errorf("starting telemetry ingest: %w", startErr)
		}
		log.Info("telemetry ingest started", "qos", cfg.MQTT.QoS)
	} else {
		log.Info("MQTT disabled; device liveness relies on QUERY reads only")
	}

	// HTTP server
	server, err := api.New(api.Deps{
		Config:     cfg.API,
		Security:   cfg.Security,
		Logger:     log,
		Users:      userRepo,
		Devices:    deviceRepo,
		Links:      linkRepo,
		Codes:      codeRepo,
		Audit:      auditRepo,
		Dispatcher: dispatcher,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	if err := healthCheck(ctx, db, mqttClient, influxClient, server); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	log.Info("CasaLink bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses CASALINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CASALINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all running components respond. Optional components
// are skipped when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, server *api.Server) error {
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

	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	return nil
}
