package settings

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/config"
	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/database"
	_ "github.com/nerrad567/tasmota-bridge/migrations" // registers the settings schema
)

func testDefaults() *config.Config {
	return &config.Config{
		Bridge:  config.BridgeConfig{AutoSync: true},
		Gateway: config.GatewayConfig{Token: "from-yaml"},
		MQTT: config.MQTTConfig{
			Broker: config.MQTTBrokerConfig{Host: "yaml-broker", Port: 1883},
		},
	}
}

func openSQLiteRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "settings.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func TestRepositories(t *testing.T) {
	repos := map[string]Repository{
		"memory": NewMemoryRepository(),
		"sqlite": openSQLiteRepo(t),
	}

	for name, repo := range repos {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var missing string
			if err := repo.Get(ctx, "nope", &missing); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
			}

			if err := repo.Set(ctx, KeyBroker, Broker{Host: "a", Port: 1}); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			if err := repo.Set(ctx, KeyBroker, Broker{Host: "b", Port: 2}); err != nil {
				t.Fatalf("Set() overwrite error = %v", err)
			}

			var got Broker
			if err := repo.Get(ctx, KeyBroker, &got); err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.Host != "b" || got.Port != 2 {
				t.Errorf("Get() = %+v, want host b port 2", got)
			}
		})
	}
}

func TestStore_Fallbacks(t *testing.T) {
	store := NewStore(NewMemoryRepository(), testDefaults())
	ctx := context.Background()

	b, err := store.Broker(ctx)
	if err != nil || b.Host != "yaml-broker" {
		t.Errorf("Broker() = %+v, %v, want yaml-broker", b, err)
	}
	if on, err := store.AutoSync(ctx); err != nil || !on {
		t.Errorf("AutoSync() = %v, %v, want true", on, err)
	}
	if tok, err := store.GatewayToken(ctx); err != nil || tok != "from-yaml" {
		t.Errorf("GatewayToken() = %q, %v, want from-yaml", tok, err)
	}
}

func TestStore_StoredValuesWin(t *testing.T) {
	store := NewStore(NewMemoryRepository(), testDefaults())
	ctx := context.Background()

	if err := store.SetBroker(ctx, Broker{Host: "10.0.0.9", Port: 1884, Username: "u", Password: "p"}); err != nil {
		t.Fatalf("SetBroker() error = %v", err)
	}
	if err := store.SetAutoSync(ctx, false); err != nil {
		t.Fatalf("SetAutoSync() error = %v", err)
	}
	if err := store.SetGatewayToken(ctx, "granted"); err != nil {
		t.Fatalf("SetGatewayToken() error = %v", err)
	}

	if b, _ := store.Broker(ctx); b.Host != "10.0.0.9" || b.Password != "p" {
		t.Errorf("Broker() = %+v, want stored broker", b)
	}
	if on, _ := store.AutoSync(ctx); on {
		t.Error("AutoSync() = true, want stored false")
	}
	if tok, _ := store.GatewayToken(ctx); tok != "granted" {
		t.Errorf("GatewayToken() = %q, want granted", tok)
	}
}

func TestBroker_Validate(t *testing.T) {
	tests := []struct {
		name    string
		broker  Broker
		wantErr bool
	}{
		{"valid", Broker{Host: "broker.local", Port: 1883}, false},
		{"missing host", Broker{Port: 1883}, true},
		{"port zero", Broker{Host: "h"}, true},
		{"port too high", Broker{Host: "h", Port: 70000}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.broker.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidBroker) {
				t.Errorf("Validate() error = %v, want ErrInvalidBroker", err)
			}
		})
	}
}

func TestStore_SetBrokerRejectsInvalid(t *testing.T) {
	store := NewStore(NewMemoryRepository(), testDefaults())
	if err := store.SetBroker(context.Background(), Broker{}); !errors.Is(err, ErrInvalidBroker) {
		t.Errorf("SetBroker() error = %v, want ErrInvalidBroker", err)
	}
}

func TestBroker_Apply(t *testing.T) {
	base := config.MQTTConfig{QoS: 1, Broker: config.MQTTBrokerConfig{Host: "old", Port: 1, ClientIDPrefix: "p"}}
	got := Broker{Host: "new", Port: 1884, Username: "u", Password: "pw"}.Apply(base)

	if got.Broker.Host != "new" || got.Broker.Port != 1884 {
		t.Errorf("Apply() broker = %+v", got.Broker)
	}
	if got.Auth.Username != "u" || got.Auth.Password != "pw" {
		t.Errorf("Apply() auth = %+v", got.Auth)
	}
	if got.QoS != 1 || got.Broker.ClientIDPrefix != "p" {
		t.Error("Apply() clobbered unrelated fields")
	}
}
