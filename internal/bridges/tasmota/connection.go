package tasmota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/tasmota-bridge/internal/settings"
)

// Connection manager defaults.
const (
	defaultRetryPeriod      = time.Second
	defaultLivenessInterval = 10 * time.Second
)

// ConnState is the broker connection state.
type ConnState int

const (
	// StateDisconnected means no session exists.
	StateDisconnected ConnState = iota

	// StateConnecting means the first session is being established.
	StateConnecting

	// StateConnected means a session is up.
	StateConnected

	// StateReconnecting means the session dropped and the client is
	// retrying on its own.
	StateReconnecting
)

// String returns the lowercase state name.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Session is one broker connection produced by a Dialer. It reconnects by
// itself after a loss, presenting a fresh client id each time.
type Session interface {
	MQTTClient

	// IsReconnecting reports whether an automatic reconnect is underway.
	IsReconnecting() bool

	// Close disconnects and stops reconnecting.
	Close() error
}

// SessionHandlers are the callbacks a Dialer must install on the session
// before its first connect attempt.
type SessionHandlers struct {
	// OnConnect runs after every successful connect, including the first.
	OnConnect func(s Session)

	// OnConnectionLost runs when an established connection drops.
	OnConnectionLost func(err error)
}

// Dialer makes one connect attempt to broker.
type Dialer func(broker settings.Broker, handlers SessionHandlers) (Session, error)

type connectionOptions struct {
	dial     Dialer
	settings Settings
	retry    time.Duration
	liveness time.Duration
	onUp     func(s Session, becameReachable bool)
	onDown   func(err error, becameUnreachable bool)
	logger   Logger
}

// Connection owns the broker session.
//
// It tracks whether the broker is reachable and reports transitions of that
// flag to the bridge exactly once each way. Sessions are numbered; callbacks
// from a session that has been replaced are ignored.
type Connection struct {
	opts connectionOptions

	// dialMu serialises connect attempts.
	dialMu sync.Mutex

	session   Session
	gen       uint64 // generation of session
	nextGen   uint64
	up        bool // the OnConnect of the current generation has run
	reachable bool
	state     ConnState
	mu        sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newConnection(opts connectionOptions) *Connection {
	if opts.logger == nil {
		opts.logger = noopLogger{}
	}
	if opts.retry <= 0 {
		opts.retry = defaultRetryPeriod
	}
	if opts.liveness <= 0 {
		opts.liveness = defaultLivenessInterval
	}
	return &Connection{
		opts:  opts,
		state: StateDisconnected,
		stop:  make(chan struct{}),
	}
}

// Start launches the connect loop and the liveness ticker.
func (c *Connection) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.connectLoop(ctx)
	go c.livenessLoop(ctx)
}

// Close stops the liveness ticker, then disconnects the session.
func (c *Connection) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.wg.Wait()

		c.mu.Lock()
		s := c.session
		c.session = nil
		c.nextGen++
		c.gen = c.nextGen
		c.up = false
		c.state = StateDisconnected
		c.mu.Unlock()

		if s != nil {
			if err := s.Close(); err != nil {
				c.opts.logger.Warn("closing broker session", "error", err)
			}
		}
	})
}

// State returns the current connection state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reachable reports whether the broker is currently reachable.
func (c *Connection) Reachable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reachable
}

// Session returns the current session, or nil.
func (c *Connection) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Reconfigure makes one attempt against broker. On success the new session
// replaces the old one and broker is persisted; on failure nothing changes.
func (c *Connection) Reconfigure(ctx context.Context, broker settings.Broker) error {
	if err := broker.Validate(); err != nil {
		return err
	}
	if err := c.connect(broker); err != nil {
		return err
	}
	if err := c.opts.settings.SetBroker(ctx, broker); err != nil {
		return fmt.Errorf("persisting broker: %w", err)
	}
	c.opts.logger.Info("broker reconfigured", "host", broker.Host, "port", broker.Port)
	return nil
}

func (c *Connection) connectLoop(ctx context.Context) {
	defer c.wg.Done()

	for attempt := 1; ; attempt++ {
		if c.Session() != nil {
			// An operator reconfigure got there first.
			return
		}

		broker, err := c.opts.settings.Broker(ctx)
		if err == nil {
			err = c.connect(broker)
			if err == nil {
				return
			}
		}
		c.opts.logger.Warn("broker connect failed, retrying",
			"attempt", attempt,
			"retry_in", c.opts.retry,
			"error", err)

		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-time.After(c.opts.retry):
		}
	}
}

// connect dials broker and installs the resulting session.
func (c *Connection) connect(broker settings.Broker) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	select {
	case <-c.stop:
		return ErrNotConnected
	default:
	}

	c.mu.Lock()
	c.nextGen++
	gen := c.nextGen
	if c.session == nil {
		c.state = StateConnecting
	}
	c.mu.Unlock()

	s, err := c.opts.dial(broker, SessionHandlers{
		OnConnect:        func(s Session) { c.handleUp(gen, s) },
		OnConnectionLost: func(err error) { c.handleDown(gen, err) },
	})
	if err != nil {
		c.mu.Lock()
		if c.session == nil {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	old := c.session
	c.session = s
	c.gen = gen
	c.up = false
	c.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			c.opts.logger.Warn("closing previous broker session", "error", err)
		}
	}

	c.opts.logger.Info("connected to broker", "host", broker.Host, "port", broker.Port)

	// The session's own OnConnect may have fired before it was installed
	// and been ignored; handleUp runs at most once per generation.
	c.handleUp(gen, s)
	return nil
}

func (c *Connection) handleUp(gen uint64, s Session) {
	c.mu.Lock()
	if gen != c.gen || c.session == nil || c.up {
		c.mu.Unlock()
		return
	}
	c.up = true
	c.state = StateConnected
	became := !c.reachable
	c.reachable = true
	c.mu.Unlock()

	if c.opts.onUp != nil {
		c.opts.onUp(s, became)
	}
}

func (c *Connection) handleDown(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen || c.session == nil {
		c.mu.Unlock()
		return
	}
	c.up = false
	c.state = StateReconnecting
	became := c.reachable
	c.reachable = false
	c.mu.Unlock()

	if c.opts.onDown != nil {
		c.opts.onDown(err, became)
	}
}

// livenessLoop warns while the session is stuck reconnecting.
func (c *Connection) livenessLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.liveness)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.checkLiveness()
		}
	}
}

func (c *Connection) checkLiveness() {
	c.mu.Lock()
	state := c.state
	s := c.session
	c.mu.Unlock()

	if state == StateReconnecting || (s != nil && s.IsReconnecting()) {
		c.opts.logger.Warn("broker unreachable, reconnect in progress", "state", state.String())
	}
}
