package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
bridge:
  discovery_topic: "tasmota/discovery/#"
  max_concurrency: 4
gateway:
  url: "http://192.168.1.50/open-api/v1/rest"
  service_address: "http://192.168.1.60:8325"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id_prefix: "test-bridge"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8325
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Gateway.URL != "http://192.168.1.50/open-api/v1/rest" {
		t.Errorf("Gateway.URL = %q, want %q", cfg.Gateway.URL, "http://192.168.1.50/open-api/v1/rest")
	}
	if cfg.Bridge.MaxConcurrency != 4 {
		t.Errorf("Bridge.MaxConcurrency = %d, want 4", cfg.Bridge.MaxConcurrency)
	}
	if cfg.MQTT.Broker.ClientIDPrefix != "test-bridge" {
		t.Errorf("MQTT.Broker.ClientIDPrefix = %q, want %q", cfg.MQTT.Broker.ClientIDPrefix, "test-bridge")
	}
	// Unset keys keep their defaults.
	if cfg.MQTT.Reconnect.Period != 1 {
		t.Errorf("MQTT.Reconnect.Period = %d, want 1", cfg.MQTT.Reconnect.Period)
	}
	if cfg.Bridge.LivenessInterval != 10 {
		t.Errorf("Bridge.LivenessInterval = %d, want 10", cfg.Bridge.LivenessInterval)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
gateway:
  url: ""
mqtt:
  qos: 5
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	for _, want := range []string{"gateway.url is required", "mqtt.qos must be 0, 1, or 2"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Load() error = %v, want it to mention %q", err, want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing discovery topic",
			mutate:  func(c *Config) { c.Bridge.DiscoveryTopic = "" },
			wantErr: true,
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Bridge.MaxConcurrency = 0 },
			wantErr: true,
		},
		{
			name:    "relative gateway url",
			mutate:  func(c *Config) { c.Gateway.URL = "ihost/open-api" },
			wantErr: true,
		},
		{
			name:    "missing service address",
			mutate:  func(c *Config) { c.Gateway.ServiceAddress = "" },
			wantErr: true,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "invalid broker port",
			mutate:  func(c *Config) { c.MQTT.Broker.Port = 0 },
			wantErr: true,
		},
		{
			name:    "zero reconnect period",
			mutate:  func(c *Config) { c.MQTT.Reconnect.Period = 0 },
			wantErr: true,
		},
		{
			name:    "invalid api port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "influx enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.URL = "" },
			wantErr: true,
		},
		{
			name:    "nats enabled without url",
			mutate:  func(c *Config) { c.NATS.Enabled = true; c.NATS.URL = "" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
		Gateway: GatewayConfig{Timeout: 7},
		Bridge:  BridgeConfig{LivenessInterval: 10},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := cfg.GetGatewayTimeout().Seconds(); got != 7 {
		t.Errorf("GetGatewayTimeout() = %v, want 7", got)
	}
	if got := cfg.GetLivenessInterval().Seconds(); got != 10 {
		t.Errorf("GetLivenessInterval() = %v, want 10", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("TASMOTABRIDGE_AUTO_SYNC", "true")
	t.Setenv("TASMOTABRIDGE_GATEWAY_URL", "http://10.0.0.2/open-api/v1/rest")
	t.Setenv("TASMOTABRIDGE_GATEWAY_TOKEN", "gw-token")
	t.Setenv("TASMOTABRIDGE_DATABASE_PATH", "/custom/path.db")
	t.Setenv("TASMOTABRIDGE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("TASMOTABRIDGE_MQTT_PORT", "8883")
	t.Setenv("TASMOTABRIDGE_MQTT_USERNAME", "testuser")
	t.Setenv("TASMOTABRIDGE_MQTT_PASSWORD", "testpass")
	t.Setenv("TASMOTABRIDGE_API_HOST", "192.168.1.1")
	t.Setenv("TASMOTABRIDGE_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("TASMOTABRIDGE_NATS_URL", "nats://bus:4222")

	applyEnvOverrides(cfg)

	if !cfg.Bridge.AutoSync {
		t.Error("Bridge.AutoSync = false, want true")
	}
	if cfg.Gateway.URL != "http://10.0.0.2/open-api/v1/rest" {
		t.Errorf("Gateway.URL = %q, want override", cfg.Gateway.URL)
	}
	if cfg.Gateway.Token != "gw-token" {
		t.Errorf("Gateway.Token = %q, want %q", cfg.Gateway.Token, "gw-token")
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.NATS.URL != "nats://bus:4222" {
		t.Errorf("NATS.URL = %q, want %q", cfg.NATS.URL, "nats://bus:4222")
	}
}

func TestApplyEnvOverrides_IgnoresMalformedNumbers(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("TASMOTABRIDGE_MQTT_PORT", "not-a-port")
	t.Setenv("TASMOTABRIDGE_AUTO_SYNC", "maybe")

	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Bridge.AutoSync {
		t.Error("Bridge.AutoSync = true, want default false")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Bridge.DiscoveryTopic != "tasmota/discovery/#" {
		t.Errorf("defaultConfig Bridge.DiscoveryTopic = %q, want %q", cfg.Bridge.DiscoveryTopic, "tasmota/discovery/#")
	}
	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 8325 {
		t.Errorf("defaultConfig API.Port = %d, want 8325", cfg.API.Port)
	}
}
