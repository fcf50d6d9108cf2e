package notify

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/config"
)

// ErrNATSDisabled is returned by ConnectNATS when the sink is not enabled.
var ErrNATSDisabled = errors.New("notify: nats disabled in configuration")

// defaultSubjectPrefix is used when the config leaves it empty.
const defaultSubjectPrefix = "tasmota.events"

// Logger interface for optional logging.
type Logger interface {
	Warn(msg string, args ...any)
}

// publisher is the part of *nats.Conn the sink uses.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes each event as JSON on <prefix>.<event name>.
type NATSSink struct {
	conn   *nats.Conn
	pub    publisher
	prefix string
	logger Logger
}

// ConnectNATS connects to the configured server. The initial connect is
// retried in the background, so an absent server does not block startup;
// events published before it comes up are buffered by the client.
func ConnectNATS(cfg config.NATSConfig, logger Logger) (*NATSSink, error) {
	if !cfg.Enabled {
		return nil, ErrNATSDisabled
	}
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url,
		nats.Name("tasmota-bridge"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: nats connect: %w", err)
	}

	s := newNATSSink(nc, cfg.SubjectPrefix, logger)
	s.conn = nc
	return s, nil
}

func newNATSSink(pub publisher, prefix string, logger Logger) *NATSSink {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	return &NATSSink{pub: pub, prefix: prefix, logger: logger}
}

// Subject returns the subject an event name is published on.
func (s *NATSSink) Subject(name string) string {
	return s.prefix + "." + name
}

// Notify implements Notifier.
func (s *NATSSink) Notify(e Event) {
	data, err := e.Marshal()
	if err != nil {
		s.warn("encoding event", e.Name, err)
		return
	}
	if err := s.pub.Publish(s.Subject(e.Name), data); err != nil {
		s.warn("publishing event", e.Name, err)
	}
}

// Close drains and closes the connection.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}

func (s *NATSSink) warn(msg, name string, err error) {
	if s.logger != nil {
		s.logger.Warn("nats sink: "+msg, "event", name, "error", err)
	}
}
