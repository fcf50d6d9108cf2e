package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/config"
)

// Setting keys.
const (
	KeyBroker       = "mqtt_setting"
	KeyAutoSync     = "auto_sync"
	KeyGatewayToken = "gateway_token"
)

// Broker is the operator-editable part of the MQTT connection.
type Broker struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"pwd,omitempty"`
}

// Validate checks the broker address is usable.
func (b Broker) Validate() error {
	if b.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidBroker)
	}
	if b.Port < 1 || b.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidBroker, b.Port)
	}
	return nil
}

// Apply overlays the broker onto a full MQTT config.
func (b Broker) Apply(cfg config.MQTTConfig) config.MQTTConfig {
	cfg.Broker.Host = b.Host
	cfg.Broker.Port = b.Port
	cfg.Auth.Username = b.Username
	cfg.Auth.Password = b.Password
	return cfg
}

// BrokerFromConfig extracts the editable broker fields from config.
func BrokerFromConfig(cfg config.MQTTConfig) Broker {
	return Broker{
		Host:     cfg.Broker.Host,
		Port:     cfg.Broker.Port,
		Username: cfg.Auth.Username,
		Password: cfg.Auth.Password,
	}
}

// Store provides typed access to settings with config fallbacks.
type Store struct {
	repo     Repository
	defaults *config.Config
}

// NewStore wraps repo; defaults supplies values for keys never written.
func NewStore(repo Repository, defaults *config.Config) *Store {
	return &Store{repo: repo, defaults: defaults}
}

// Broker returns the stored broker, or the one from config.yaml.
func (s *Store) Broker(ctx context.Context) (Broker, error) {
	var b Broker
	err := s.repo.Get(ctx, KeyBroker, &b)
	if errors.Is(err, ErrNotFound) {
		return BrokerFromConfig(s.defaults.MQTT), nil
	}
	if err != nil {
		return Broker{}, err
	}
	return b, nil
}

// SetBroker validates and stores b.
func (s *Store) SetBroker(ctx context.Context, b Broker) error {
	if err := b.Validate(); err != nil {
		return err
	}
	return s.repo.Set(ctx, KeyBroker, b)
}

// AutoSync reports whether newly discovered switches are mirrored upstream.
func (s *Store) AutoSync(ctx context.Context) (bool, error) {
	var enabled bool
	err := s.repo.Get(ctx, KeyAutoSync, &enabled)
	if errors.Is(err, ErrNotFound) {
		return s.defaults.Bridge.AutoSync, nil
	}
	return enabled, err
}

// SetAutoSync stores the auto-sync flag.
func (s *Store) SetAutoSync(ctx context.Context, enabled bool) error {
	return s.repo.Set(ctx, KeyAutoSync, enabled)
}

// GatewayToken returns the stored gateway token, or the configured one.
// An empty string means no token has been granted yet.
func (s *Store) GatewayToken(ctx context.Context) (string, error) {
	var token string
	err := s.repo.Get(ctx, KeyGatewayToken, &token)
	if errors.Is(err, ErrNotFound) {
		return s.defaults.Gateway.Token, nil
	}
	return token, err
}

// SetGatewayToken stores a newly granted gateway token.
func (s *Store) SetGatewayToken(ctx context.Context, token string) error {
	return s.repo.Set(ctx, KeyGatewayToken, token)
}
