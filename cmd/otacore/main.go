// OTA Core - device group and update policy service
//
// This is the main entry point for the OTA Core application. OTA Core keeps
// the authoritative record of which devices belong to which group, which
// packages each group should run and the policy that decides when a device
// updates. Device agents learn about changes over MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	_ "github.com/nerrad567/ota-core/migrations"

	"github.com/nerrad567/ota-core/internal/api"
	"github.com/nerrad567/ota-core/internal/events"
	"github.com/nerrad567/ota-core/internal/group"
	"github.com/nerrad567/ota-core/internal/infrastructure/config"
	"github.com/nerrad567/ota-core/internal/infrastructure/database"
	"github.com/nerrad567/ota-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/ota-core/internal/infrastructure/logging"
	"github.com/nerrad567/ota-core/internal/infrastructure/metrics"
	"github.com/nerrad567/ota-core/internal/infrastructure/mqtt"
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

// errVersionRequested stops run after --version has been printed.
var errVersionRequested = errors.New("version requested")

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, errVersionRequested) || errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options holds the parsed command line.
type options struct {
	configPath  string
	migrateOnly bool
}

// parseFlags reads the command line. The config path falls back to
// OTACORE_CONFIG and then to the default path.
func parseFlags(args []string) (options, error) {
	fs := pflag.NewFlagSet("otacore", pflag.ContinueOnError)

	var opts options
	var showVersion bool
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration file (env OTACORE_CONFIG)")
	fs.BoolVar(&opts.migrateOnly, "migrate-only", false, "apply database migrations and exit")
	fs.BoolVarP(&showVersion, "version", "v", false, "print version information and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if showVersion {
		fmt.Printf("otacore %s (commit %s, built %s)\n", version, commit, date)
		return options{}, errVersionRequested
	}

	if opts.configPath == "" {
		opts.configPath = os.Getenv("OTACORE_CONFIG")
	}
	if opts.configPath == "" {
		opts.configPath = defaultConfigPath
	}
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: Command line arguments without the program name
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string) error { //nolint:gocognit,gocyclo,funlen // sequential startup wiring
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}

	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting OTA Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", opts.configPath)

	// Reinitialise logger with config settings
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")
	if opts.migrateOnly {
		return nil
	}

	var sinks events.Fanout
	components := map[string]api.HealthChecker{}

	// Connect to MQTT broker (optional)
	if cfg.MQTT.Enabled {
		mqttClient, connErr := mqtt.Connect(cfg.MQTT)
		if connErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", connErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		sinks = append(sinks, events.NewMQTTSink(mqttClient, byte(cfg.MQTT.QoS))) //nolint:gosec // qos validated to 0..2
		components["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled, group changes will not be announced")
	}

	// Connect to InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		sinks = append(sinks, events.NewInfluxSink(influxClient))
		components["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	m := metrics.New(cfg.Metrics)
	if m.Enabled() {
		if regErr := m.RegisterDBStats(db.DB); regErr != nil {
			return fmt.Errorf("registering database metrics: %w", regErr)
		}
	}

	groups := group.NewService(group.Deps{
		DB:      db,
		Sink:    sinks,
		Metrics: m,
		Logger:  log.With("component", "group"),
	})

	server, err := api.New(api.Deps{
		Config:     cfg.API,
		Logger:     log,
		DB:         db,
		Groups:     groups,
		Metrics:    m,
		Components: components,
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

	if err := healthCheck(ctx, db, components); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. InfluxDB (if enabled)
	// 3. MQTT (if enabled)
	// 4. Database

	log.Info("OTA Core stopped")
	return nil
}

// healthCheck verifies the database and every optional connection.
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, components map[string]api.HealthChecker) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	for name, c := range components {
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
