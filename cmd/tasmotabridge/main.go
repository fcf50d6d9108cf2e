// Tasmota Bridge
//
// This is the main entry point for the Tasmota bridge. It discovers Tasmota
// devices over MQTT and mirrors their relays into an upstream smart-home
// gateway, which controls them back through the bridge's HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/tasmota-bridge/migrations"

	"github.com/nerrad567/tasmota-bridge/internal/api"
	"github.com/nerrad567/tasmota-bridge/internal/bridges/tasmota"
	"github.com/nerrad567/tasmota-bridge/internal/device"
	"github.com/nerrad567/tasmota-bridge/internal/gateway"
	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/config"
	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/database"
	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/tasmota-bridge/internal/mirror"
	"github.com/nerrad567/tasmota-bridge/internal/notify"
	"github.com/nerrad567/tasmota-bridge/internal/settings"
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

// tokenPollInterval is the wait between gateway token requests.
const tokenPollInterval = 5 * time.Second

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
	log.Info("starting Tasmota bridge",
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

	db, err := database.Open(cfg.Database)
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

	store := settings.NewStore(settings.NewSQLiteRepository(db.DB), cfg)

	registry := device.NewRegistry()
	registry.SetLogger(log.Component("registry"))

	// Upstream gateway
	gw := gateway.New(cfg.Gateway)
	token, err := store.GatewayToken(ctx)
	if err != nil {
		return fmt.Errorf("reading gateway token: %w", err)
	}
	gw.SetToken(token)
	if !gw.HasToken() {
		go acquireGatewayToken(ctx, cfg, gw, store, log)
	}
	mirrorEngine := mirror.New(gw, registry, cfg.Gateway.ServiceAddress, log.Component("mirror"))
	log.Info("gateway configured", "url", cfg.Gateway.URL, "token", gw.HasToken())

	// Notifications: WebSocket hub always, NATS when enabled
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	notifier := notify.NewFanout(hub)
	if cfg.NATS.Enabled {
		natsSink, natsErr := notify.ConnectNATS(cfg.NATS, log)
		if natsErr != nil {
			return fmt.Errorf("connecting to NATS: %w", natsErr)
		}
		defer func() {
			log.Info("closing NATS connection")
			if closeErr := natsSink.Close(); closeErr != nil {
				log.Error("error closing NATS", "error", closeErr)
			}
		}()
		notifier.Add(natsSink)
		log.Info("NATS notifications enabled", "url", cfg.NATS.URL)
	}

	// State history (optional)
	var recorder tasmota.Recorder
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
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
		recorder = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	bridge, err := tasmota.NewBridge(tasmota.BridgeOptions{
		Config: tasmota.Config{
			DiscoveryTopic:   cfg.Bridge.DiscoveryTopic,
			QoS:              byte(cfg.MQTT.QoS),
			MaxConcurrency:   cfg.Bridge.MaxConcurrency,
			RetryPeriod:      time.Duration(cfg.MQTT.Reconnect.Period) * time.Second,
			LivenessInterval: cfg.GetLivenessInterval(),
		},
		Registry: registry,
		Dialer:   mqttDialer(cfg.MQTT, log.Component("mqtt")),
		Settings: store,
		Mirror:   mirrorEngine,
		Notifier: notifier,
		Recorder: recorder,
		Logger:   log.Component("tasmota"),
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping Tasmota bridge")
		bridge.Stop()
	}()

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log.Component("api"),
		Registry: registry,
		Bridge:   bridge,
		Mirror:   mirrorEngine,
		Settings: store,
		Hub:      hub,
		Version:  version,
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

	if err := healthCheck(ctx, db, server); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server
	// 2. Tasmota bridge
	// 3. InfluxDB, NATS (if enabled)
	// 4. Database

	log.Info("Tasmota bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses TASMOTABRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TASMOTABRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the local services came up. The broker and the
// gateway are allowed to be absent at startup.
func healthCheck(ctx context.Context, db *database.DB, server *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// acquireGatewayToken polls the gateway for an access token for up to
// gateway.token_wait seconds and stores the granted token.
func acquireGatewayToken(ctx context.Context, cfg *config.Config, gw *gateway.Client, store *settings.Store, log *logging.Logger) {
	log.Info("waiting for gateway token grant, press the gateway's pairing button",
		"app_name", cfg.Gateway.AppName,
		"wait", cfg.Gateway.TokenWait)

	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Gateway.TokenWait)*time.Second)
	defer cancel()

	token, err := gw.WaitForToken(waitCtx, cfg.Gateway.AppName, tokenPollInterval)
	if err != nil {
		if !errors.Is(ctx.Err(), context.Canceled) {
			log.Warn("gateway token not granted, gateway requests will be rejected until one is configured", "error", err)
		}
		return
	}
	if err := store.SetGatewayToken(ctx, token); err != nil {
		log.Error("storing gateway token failed", "error", err)
		return
	}
	log.Info("gateway token granted")
}

// mqttDialer builds the bridge's Dialer on the infrastructure MQTT client.
// Each call is one connect attempt with the broker settings merged over cfg.
func mqttDialer(cfg config.MQTTConfig, log *logging.Logger) tasmota.Dialer {
	return func(broker settings.Broker, handlers tasmota.SessionHandlers) (tasmota.Session, error) {
		client := mqtt.New(broker.Apply(cfg))
		client.SetLogger(log)

		session := &mqttSession{client: client}
		client.SetOnConnect(func() {
			if handlers.OnConnect != nil {
				handlers.OnConnect(session)
			}
		})
		client.SetOnDisconnect(func(err error) {
			if handlers.OnConnectionLost != nil {
				handlers.OnConnectionLost(err)
			}
		})

		if err := client.Connect(); err != nil {
			return nil, err
		}
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", broker.Host, broker.Port),
			"client_id", client.ClientID(),
		)
		return session, nil
	}
}

// mqttSession adapts the infrastructure MQTT client to tasmota.Session.
// The difference is the Subscribe handler signature:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - Tasmota bridge expects: func(topic, payload []byte)
type mqttSession struct {
	client *mqtt.Client
}

// Publish implements tasmota.MQTTClient.
func (s *mqttSession) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return s.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements tasmota.MQTTClient.
func (s *mqttSession) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return s.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// Unsubscribe implements tasmota.MQTTClient.
func (s *mqttSession) Unsubscribe(topic string) error {
	return s.client.Unsubscribe(topic)
}

// IsConnected implements tasmota.MQTTClient.
func (s *mqttSession) IsConnected() bool {
	return s.client.IsConnected()
}

// IsReconnecting implements tasmota.Session.
func (s *mqttSession) IsReconnecting() bool {
	return s.client.IsReconnecting()
}

// Close implements tasmota.Session.
func (s *mqttSession) Close() error {
	return s.client.Close()
}
