// sessiond - session and authorization service
//
// This is the main entry point for sessiond. It issues and rotates refresh
// credentials, mints short-lived access credentials, validates security
// stamps on every authenticated request, and fans revocations out to
// peer nodes over MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/sessiond/migrations"

	"github.com/nerrad567/sessiond/internal/api"
	"github.com/nerrad567/sessiond/internal/audit"
	"github.com/nerrad567/sessiond/internal/auth"
	"github.com/nerrad567/sessiond/internal/infrastructure/cache"
	"github.com/nerrad567/sessiond/internal/infrastructure/config"
	"github.com/nerrad567/sessiond/internal/infrastructure/database"
	"github.com/nerrad567/sessiond/internal/infrastructure/influxdb"
	"github.com/nerrad567/sessiond/internal/infrastructure/logging"
	"github.com/nerrad567/sessiond/internal/infrastructure/metrics"
	"github.com/nerrad567/sessiond/internal/infrastructure/mqtt"
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

// startupCheckTimeout bounds the initial health checks.
const startupCheckTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence with one branch per optional backend
	log := logging.Default()
	log.Info("starting sessiond",
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

	log = logging.New(cfg.Logging, version).With("node_id", cfg.Service.NodeID)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
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

	checks := map[string]api.HealthChecker{"database": db}

	// Revocation cache: Redis when configured, otherwise per-process
	var (
		revocationCache auth.RevocationCache
		memCache        *auth.MemoryRevocationCache
	)
	redisClient, err := cache.Connect(ctx, cfg.Redis)
	switch {
	case errors.Is(err, cache.ErrDisabled):
		memCache = auth.NewMemoryRevocationCache()
		revocationCache = memCache
		log.Info("Redis disabled, using in-process revocation cache")
	case err != nil:
		return fmt.Errorf("connecting to Redis: %w", err)
	default:
		defer func() {
			log.Info("closing Redis connection")
			if closeErr := redisClient.Close(); closeErr != nil {
				log.Error("error closing Redis", "error", closeErr)
			}
		}()
		revocationCache = auth.NewRedisRevocationCache(redisClient)
		checks["redis"] = redisClient
		log.Info("Redis connected")
	}

	// Connect to MQTT broker (optional)
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
		checks["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled, revocations stay local to this node")
	}

	// Security event sinks: the audit trail always, InfluxDB when enabled
	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorders := auth.MultiRecorder{audit.NewRecorder(auditRepo, cfg.Service.NodeID, log)}

	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Warn("InfluxDB write error", "error", err)
		})
		recorders = append(recorders, auth.NewPointEventRecorder(influxClient))
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	metrics.Init()

	// Auth components
	identity := auth.NewIdentityStore(db.DB)
	tokens := auth.NewTokenStore(db.DB)

	hasher, err := auth.NewHasher(cfg.Security.Hashing.Key)
	if err != nil {
		return fmt.Errorf("creating credential hasher: %w", err)
	}
	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		Secret: cfg.Security.JWT.Secret,
		Issuer: cfg.Security.JWT.Issuer,
		TTL:    cfg.Security.JWT.AccessTokenTTL,
	})
	if err != nil {
		return fmt.Errorf("creating issuer: %w", err)
	}

	coordOpts := []auth.CoordinatorOption{
		auth.WithCoordinatorLogger(log),
		auth.WithCoordinatorEventRecorder(recorders),
		auth.WithCoordinatorTimeout(cfg.Security.Stamp.LookupTimeout),
	}
	if mqttClient != nil {
		coordOpts = append(coordOpts, auth.WithNoticePublisher(mqttClient, cfg.Service.NodeID))
	}
	coordinator := auth.NewCoordinator(identity, revocationCache, tokens, coordOpts...)

	manager := auth.NewManager(tokens, identity, issuer, hasher, coordinator,
		auth.WithSessionTTL(cfg.Security.Sessions.SessionTTL),
		auth.WithPersistentTTL(cfg.Security.Sessions.PersistentTTL),
		auth.WithLookupTimeout(cfg.Security.Stamp.LookupTimeout),
		auth.WithLogger(log),
		auth.WithEventRecorder(recorders),
	)
	stamp := auth.NewStampValidator(identity, revocationCache, hasher,
		auth.WithStampCacheTTL(cfg.Security.Stamp.CacheTTL),
		auth.WithStampLookupTimeout(cfg.Security.Stamp.LookupTimeout),
		auth.WithStampLogger(log),
		auth.WithStampEventRecorder(recorders),
	)
	admin := auth.NewAdmin(identity, coordinator,
		auth.WithAdminLogger(log),
		auth.WithAdminEventRecorder(recorders),
	)

	// Peers evict their cached fingerprint hash when another node revokes
	if mqttClient != nil {
		topic := mqtt.Topics{}.AllRevocations()
		if subErr := mqttClient.Subscribe(topic, byte(cfg.MQTT.QoS), coordinator.HandleNotice); subErr != nil {
			return fmt.Errorf("subscribing to revocations: %w", subErr)
		}
		log.Info("subscribed to revocation notices", "topic", topic)
	}

	if _, seedErr := auth.SeedSuperAdmin(ctx, identity, cfg.Bootstrap.Username, cfg.Bootstrap.Password, log); seedErr != nil {
		return fmt.Errorf("seeding superadmin: %w", seedErr)
	}

	// Verify all connections are healthy
	checkCtx, cancelChecks := context.WithTimeout(ctx, startupCheckTimeout)
	err = healthCheck(checkCtx, checks)
	cancelChecks()
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		RateLimit:   cfg.Security.RateLimit,
		Logger:      log,
		Version:     version,
		Manager:     manager,
		Issuer:      issuer,
		Stamp:       stamp,
		Admin:       admin,
		Directory:   identity,
		Coordinator: coordinator,
		Audit:       auditRepo,
		Events:      recorders,
		Checks:      checks,
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

	if interval := cfg.Security.Sessions.CleanupInterval; interval > 0 {
		go cleanupLoop(ctx, interval, manager, memCache, log)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, InfluxDB, MQTT, Redis, database.

	log.Info("sessiond stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SESSIOND_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SESSIOND_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies every configured connection, returning the first failure.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, check := range checks {
		if err := check.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// purger is the slice of the lifecycle manager the cleanup loop needs.
type purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// cleanupLoop purges expired refresh credentials and, when the in-process
// revocation cache is in use, its expired entries.
func cleanupLoop(ctx context.Context, interval time.Duration, p purger, memCache *auth.MemoryRevocationCache, log *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleanupOnce(ctx, p, memCache, log)
		}
	}
}

func cleanupOnce(ctx context.Context, p purger, memCache *auth.MemoryRevocationCache, log *logging.Logger) {
	if _, err := p.PurgeExpired(ctx); err != nil {
		log.Warn("purging expired credentials failed", "error", err)
	}
	if memCache != nil {
		if n := memCache.Cleanup(); n > 0 {
			log.Debug("revocation cache entries expired", "count", n)
		}
	}
}
