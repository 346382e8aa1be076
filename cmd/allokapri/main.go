// Allokapri Workspace Core
//
// This is the main entry point of the workspace core service. It serves
// the login, session and user administration API that every other
// workspace component authenticates against.
//
// Startup order: configuration, logging, database and migrations, seed
// owner, optional MQTT and InfluxDB sinks, then the HTTP API. Shutdown runs
// in reverse.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/allokapri/workspace-core/internal/api"
	"github.com/allokapri/workspace-core/internal/audit"
	"github.com/allokapri/workspace-core/internal/auth"
	"github.com/allokapri/workspace-core/internal/infrastructure/config"
	"github.com/allokapri/workspace-core/internal/infrastructure/database"
	"github.com/allokapri/workspace-core/internal/infrastructure/influxdb"
	"github.com/allokapri/workspace-core/internal/infrastructure/logging"
	"github.com/allokapri/workspace-core/internal/infrastructure/mqtt"
	"github.com/allokapri/workspace-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path. When it does not exist the service
// runs on defaults and environment variables alone.
const defaultConfigPath = "configs/config.yaml"

// startupHealthTimeout bounds the post-start dependency check.
const startupHealthTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Allokapri Workspace Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"environment", cfg.Environment,
		"level", cfg.Logging.Level,
	)
	if cfg.Security.JWT.UsingDevSecret {
		log.Warn("using the built-in development JWT secret; set ALLOKAPRI_JWT_SECRET before exposing this service")
	}

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
	log.Info("database connected", "path", db.Path())

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete", "applied", applied)

	users := auth.NewUserRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	if cfg.Seed.Enabled {
		if err := seedOwner(ctx, cfg, users, auditRepo, log); err != nil {
			return err
		}
	}

	deps := api.Deps{
		Config:        cfg.API,
		Security:      cfg.Security,
		Logger:        log,
		Users:         users,
		Audit:         auditRepo,
		Health:        []api.Dependency{{Name: "database", Check: db, Critical: true}},
		SweepInterval: cfg.Security.Sessions.Interval(),
		Version:       version,
	}

	// Optional sinks are only assigned when connected so a nil client never
	// hides behind a non-nil interface.
	if mqttClient := connectMQTT(cfg.MQTT, log); mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		deps.Events = mqttClient
		deps.Health = append(deps.Health, api.Dependency{Name: "mqtt", Check: mqttClient})
	}
	if influxClient := connectInfluxDB(cfg.InfluxDB, log); influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		deps.TimeSeries = influxClient
		deps.Health = append(deps.Health, api.Dependency{Name: "influxdb", Check: influxClient})
	}

	deps.Issuer, err = auth.NewTokenIssuer(cfg.Security.JWT.Secret, cfg.Security.JWT.AccessTTL())
	if err != nil {
		return fmt.Errorf("creating token issuer: %w", err)
	}
	deps.Sessions = auth.NewSessionStore(
		auth.NewSessionRepository(db.DB),
		cfg.Security.JWT.RefreshWindow(),
		log.Logger,
	)

	server, err := api.New(deps)
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

	checks := append(deps.Health, api.Dependency{Name: "api", Check: server, Critical: true})
	if err := healthCheck(ctx, checks, log); err != nil {
		return err
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"access_ttl", cfg.Security.JWT.AccessTTL(),
		"session_window", cfg.Security.JWT.RefreshWindow(),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// healthCheck verifies every dependency once start-up is complete. Optional
// sinks only log a warning; a failing critical dependency aborts start-up.
func healthCheck(ctx context.Context, checks []api.Dependency, log *logging.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, startupHealthTimeout)
	defer cancel()

	report := api.CheckDependencies(ctx, checks)
	for _, c := range checks {
		err := report.Errors[c.Name]
		switch {
		case err == nil:
			continue
		case c.Critical:
			return fmt.Errorf("health check failed: %s: %w", c.Name, err)
		default:
			log.Warn("dependency unhealthy at start-up", "component", c.Name, "error", err)
		}
	}
	log.Info("health check complete", "status", report.Status)
	return nil
}

// getConfigPath returns the configuration file path.
//
// ALLOKAPRI_CONFIG wins when set. Otherwise defaultConfigPath is used if it
// exists, and "" (defaults plus environment) if it does not.
func getConfigPath() string {
	if path := os.Getenv("ALLOKAPRI_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

// seedOwner ensures the configured owner account exists and records an
// audit entry when it had to be created or repaired.
func seedOwner(ctx context.Context, cfg *config.Config, users auth.UserRepository, auditRepo audit.Repository, log *logging.Logger) error {
	outcome, err := auth.SeedOwner(ctx, users, auth.SeedOwnerParams{
		Email:      cfg.Seed.OwnerEmail,
		Password:   cfg.Seed.OwnerPassword,
		Name:       cfg.Seed.OwnerName,
		BcryptCost: cfg.Security.Password.BcryptCost,
	}, log.Logger)
	if err != nil {
		return fmt.Errorf("seeding owner: %w", err)
	}
	if outcome == auth.SeedUnchanged {
		return nil
	}

	owner, err := users.GetByEmail(ctx, cfg.Seed.OwnerEmail)
	if err != nil {
		return fmt.Errorf("loading seeded owner: %w", err)
	}
	if err := auditRepo.Create(ctx, &audit.Log{
		Action:     audit.ActionSeedOwner,
		EntityType: audit.EntityUser,
		EntityID:   owner.ID,
		Source:     "system",
		Details:    map[string]any{"outcome": string(outcome)},
	}); err != nil {
		log.Warn("seed audit entry not written", "error", err)
	}
	return nil
}

// connectMQTT returns a connected client, or nil when MQTT is disabled or
// the broker is unreachable. Auth keeps working without fan-out.
func connectMQTT(cfg config.MQTTConfig, log *logging.Logger) *mqtt.Client {
	if !cfg.Enabled {
		log.Info("MQTT disabled")
		return nil
	}

	client, err := mqtt.Connect(cfg)
	if err != nil {
		log.Warn("MQTT unavailable, auth events will not be published",
			"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
			"error", err,
		)
		return nil
	}
	client.SetLogger(log.Logger)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)
	return client
}

// connectInfluxDB returns a connected client, or nil when InfluxDB is
// disabled or unreachable.
func connectInfluxDB(cfg config.InfluxDBConfig, log *logging.Logger) *influxdb.Client {
	client, err := influxdb.Connect(cfg)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
		return nil
	case err != nil:
		log.Warn("InfluxDB unavailable, auth metrics will not be recorded", "url", cfg.URL, "error", err)
		return nil
	}

	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return client
}
