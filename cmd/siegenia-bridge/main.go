// Gray Logic Siegenia Bridge
//
// This is the entry point for the Siegenia window bridge. It keeps an
// authenticated session open to one Siegenia controller and exposes the
// window on the Gray Logic MQTT bus and on a small HTTP control API.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-siegenia/internal/api"
	"github.com/nerrad567/gray-logic-siegenia/internal/bridges/window"
	"github.com/nerrad567/gray-logic-siegenia/internal/history"
	"github.com/nerrad567/gray-logic-siegenia/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-siegenia/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-siegenia/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-siegenia/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-siegenia/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-siegenia/internal/siegenia"
	"github.com/nerrad567/gray-logic-siegenia/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// historyPruneInterval is how often rows older than the retention window are removed.
const historyPruneInterval = time.Hour

func main() {
	// siegenia-bridge hash-password < password.txt
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		if err := hashPassword(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting Siegenia bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := config.PathFromEnv()
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

	// Window history (optional)
	var db *database.DB
	var historyRepo *history.SQLiteRepository
	if cfg.Database.Enabled {
		db, err = database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		historyRepo = history.NewSQLiteRepository(db.DB)
		log.Info("database ready", "path", cfg.Database.Path)

		if retention := cfg.GetRetention(); retention > 0 {
			go pruneHistory(ctx, historyRepo, retention, log)
		}
	} else {
		log.Info("window history disabled")
	}

	// The broker announces the bridge offline if it disappears uncleanly.
	lwt, err := json.Marshal(window.NewLWTMessage(cfg.Bridge.ID))
	if err != nil {
		return fmt.Errorf("building LWT payload: %w", err)
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT, mqtt.Will{Topic: window.HealthTopic(), Payload: lwt})
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
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", mqttClient.ClientID(),
	)

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

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// Device session
	opts := cfg.DeviceOptions()
	opts.Logger = log.Component("siegenia")
	client, err := siegenia.New(opts)
	if err != nil {
		return fmt.Errorf("creating session client: %w", err)
	}
	defer func() {
		log.Info("closing device session")
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing device session", "error", closeErr)
		}
	}()

	bridge, err := window.NewBridge(bridgeOptions(cfg, client, mqttClient, historyRepo, influxClient, log))
	if err != nil {
		return fmt.Errorf("creating window bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting window bridge: %w", err)
	}
	defer func() {
		log.Info("stopping window bridge")
		bridge.Stop()
	}()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to device: %w", err)
	}
	log.Info("device session started", "url", client.URL())

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log,
			Session:  client,
			Window:   bridge,
			Version:  version,
		}
		if historyRepo != nil {
			deps.History = historyRepo
		}
		apiServer, err := api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API, bridge, session, InfluxDB, MQTT, database.
	return nil
}

// bridgeOptions assembles the window bridge options. Optional sinks are only
// set when present so the bridge never sees a typed nil.
func bridgeOptions(cfg *config.Config, client *siegenia.Client, mqttClient *mqtt.Client,
	historyRepo *history.SQLiteRepository, influxClient *influxdb.Client, log *logging.Logger) window.Options {
	opts := window.Options{
		Config: cfg.Bridge,
		Credentials: window.Credentials{
			Username: cfg.Device.Username,
			Password: cfg.Device.Password,
			Token:    cfg.Device.Token,
		},
		Version: version,
		MQTT:    mqttClient,
		Session: client,
		Logger:  log.Component("window"),
	}
	if historyRepo != nil {
		opts.History = historyRepo
	}
	if influxClient != nil {
		opts.Telemetry = influxClient
	}
	return opts
}

// pruneHistory removes history older than retention until ctx is cancelled.
func pruneHistory(ctx context.Context, repo history.Repository, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(historyPruneInterval)
	defer ticker.Stop()

	for {
		removed, err := repo.Prune(ctx, retention)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("pruning window history failed", "error", err)
		case removed > 0:
			log.Info("pruned window history", "rows", removed, "retention", retention.String())
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// hashPassword reads one line from in and writes its Argon2id hash to out,
// for use as security.api.password.
func hashPassword(in io.Reader, out io.Writer) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return fmt.Errorf("password is empty")
	}
	hash, err := api.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}

// healthCheck verifies infrastructure connections before the bridge starts.
// db and influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
