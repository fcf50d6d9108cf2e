package tasmota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/tasmota-bridge/internal/device"
	"github.com/nerrad567/tasmota-bridge/internal/notify"
	"github.com/nerrad567/tasmota-bridge/internal/settings"
)

// Bridge operation constants.
const (
	// publishQoS is used for polls and commands sent to devices.
	publishQoS byte = 1

	// upstreamTimeout bounds the background bulk reports to the gateway.
	upstreamTimeout = 30 * time.Second
)

// Bridge discovers Tasmota devices over MQTT and keeps their model in sync
// with the upstream gateway. It handles:
//   - Decoding discovery announcements into device settings
//   - Routing state, result, power and LWT messages to the registry
//   - Mirroring state and availability changes upstream
//   - Broker connection lifecycle and subscription regeneration
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg      Config
	registry *device.Registry
	subs     *Subscriptions
	queue    *Queue
	conn     *Connection

	mirror   Mirror          // Optional upstream mirror
	notifier notify.Notifier // Optional event sink
	settings Settings
	recorder Recorder // Optional state history

	// topoMu serialises registry membership changes with subscription
	// changes so the two never disagree.
	topoMu sync.Mutex

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// Unsubscribe removes a topic subscription.
	Unsubscribe(topic string) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Mirror is the upstream gateway copy of the registry.
// It is satisfied by *mirror.Engine.
type Mirror interface {
	// Lookup resolves the upstream serial of the device tagged with mac.
	Lookup(ctx context.Context, mac string) (serial string, mirrored bool, err error)

	// Create mirrors a switch upstream.
	Create(ctx context.Context, sw *device.Switch) error

	// ReportState pushes the full state of sw if it is mirrored.
	ReportState(ctx context.Context, sw *device.Switch) error

	// ReportOnline pushes the availability of mac if it is mirrored.
	ReportOnline(ctx context.Context, mac string, online bool) error

	// ReportOnlineAll pushes one availability for every mirrored mac.
	ReportOnlineAll(ctx context.Context, macs []string, online bool) error

	// Delete removes the upstream device with serial.
	Delete(ctx context.Context, serial string) error
}

// Settings provides the operator-editable configuration.
// It is satisfied by *settings.Store.
type Settings interface {
	AutoSync(ctx context.Context) (bool, error)
	Broker(ctx context.Context) (settings.Broker, error)
	SetBroker(ctx context.Context, b settings.Broker) error
}

// Recorder keeps a history of device state. It is optional.
type Recorder interface {
	RecordSwitchState(sw *device.Switch)
	RecordAvailability(mac string, online bool)
}

// Config holds the bridge tunables.
type Config struct {
	// DiscoveryTopic is the announcement subscription.
	// Default: tasmota/discovery/#.
	DiscoveryTopic string

	// QoS is used for every subscription. Default: 1.
	QoS byte

	// MaxConcurrency bounds message handling across devices. Default: 8.
	MaxConcurrency int

	// RetryPeriod is the wait between initial connect attempts.
	// Default: 1 second.
	RetryPeriod time.Duration

	// LivenessInterval is how often a stuck reconnect is reported.
	// Default: 10 seconds.
	LivenessInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.DiscoveryTopic == "" {
		c.DiscoveryTopic = DiscoveryTopic
	}
	if c.QoS == 0 {
		c.QoS = defaultSubscribeQoS
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = defaultMaxConcurrency
	}
	if c.RetryPeriod <= 0 {
		c.RetryPeriod = defaultRetryPeriod
	}
	if c.LivenessInterval <= 0 {
		c.LivenessInterval = defaultLivenessInterval
	}
	return c
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config holds the bridge tunables. Zero values take defaults.
	Config Config

	// Registry is the device registry shared with the API.
	Registry *device.Registry

	// Dialer opens broker sessions.
	Dialer Dialer

	// Settings supplies broker credentials and the auto-sync flag.
	Settings Settings

	// Mirror is the upstream gateway. If nil, nothing is mirrored.
	Mirror Mirror

	// Notifier receives connectivity and discovery events. Optional.
	Notifier notify.Notifier

	// Recorder stores state history. Optional.
	Recorder Recorder

	// Logger is optional structured logger.
	Logger Logger
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.Dialer == nil {
		return nil, fmt.Errorf("dialer is required")
	}
	if opts.Settings == nil {
		return nil, fmt.Errorf("settings are required")
	}

	cfg := opts.Config.withDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:       cfg,
		registry:  opts.Registry,
		mirror:    opts.Mirror,   // May be nil (optional)
		notifier:  opts.Notifier, // May be nil (optional)
		settings:  opts.Settings,
		recorder:  opts.Recorder, // May be nil (optional)
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    logger,
	}

	b.subs = NewSubscriptions(cfg.QoS, b.handleMessage, logger)
	b.queue = NewQueue(ctx, cfg.MaxConcurrency, logger)
	b.conn = newConnection(connectionOptions{
		dial:     opts.Dialer,
		settings: opts.Settings,
		retry:    cfg.RetryPeriod,
		liveness: cfg.LivenessInterval,
		onUp:     b.sessionUp,
		onDown:   b.sessionDown,
		logger:   logger,
	})

	return b, nil
}

// Start begins connecting to the broker in the background and returns
// immediately. Connect failures are retried every RetryPeriod until ctx is
// cancelled or Stop is called.
func (b *Bridge) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer cancel()
		select {
		case <-b.done:
		case <-runCtx.Done():
		}
	}()

	b.conn.Start(runCtx)

	b.logInfo("bridge started",
		"discovery_topic", b.cfg.DiscoveryTopic,
		"devices", b.registry.Count())
	return nil
}

// Stop gracefully shuts down the bridge. The liveness ticker is stopped
// before the broker session is closed.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)

		// Cancel bridge context to abort in-flight upstream calls
		b.ctxCancel()

		b.conn.Close()
		b.queue.Close()

		// Wait for pending background reports
		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// SetLogger sets the logger for this bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

// Registry returns the device registry the bridge maintains.
func (b *Bridge) Registry() *device.Registry {
	return b.registry
}

// Connected reports whether a broker session is established.
func (b *Bridge) Connected() bool {
	return b.conn.State() == StateConnected
}

// ConnectionState returns the broker connection state.
func (b *Bridge) ConnectionState() ConnState {
	return b.conn.State()
}

// SubscribedTopics returns the device topics currently subscribed.
func (b *Bridge) SubscribedTopics() []string {
	return b.subs.Topics()
}

// Reconfigure connects to broker and, only once that succeeds, replaces
// the current session and stores broker as the new setting. On failure the
// existing session is kept.
func (b *Bridge) Reconfigure(ctx context.Context, broker settings.Broker) error {
	return b.conn.Reconfigure(ctx, broker)
}

// sessionUp runs for every established session. Bulk online and the
// connected event only fire when the broker was previously unreachable.
func (b *Bridge) sessionUp(s Session, becameReachable bool) {
	if becameReachable {
		b.notify(notify.EventMQTTConnected, nil)
		n := b.registry.SetAllOnline(true)
		b.logInfo("broker reachable, devices marked online", "changed", n)
		b.reportOnlineAll(true)
	}

	if err := s.Subscribe(b.cfg.DiscoveryTopic, b.cfg.QoS, b.handleMessage); err != nil {
		b.logError("failed to subscribe to discovery", err, "topic", b.cfg.DiscoveryTopic)
	}

	b.topoMu.Lock()
	b.subs.Restore(s, b.registry.List())
	b.topoMu.Unlock()
}

// sessionDown runs when an established session is lost.
func (b *Bridge) sessionDown(err error, becameUnreachable bool) {
	b.subs.Detach()
	if !becameUnreachable {
		return
	}

	b.logWarn("broker connection lost", "error", err)
	b.notify(notify.EventMQTTDisconnected, nil)
	n := b.registry.SetAllOnline(false)
	b.logInfo("devices marked offline", "changed", n)
	b.reportOnlineAll(false)
}

// reportOnlineAll mirrors a bulk availability change upstream without
// blocking the connection callback.
func (b *Bridge) reportOnlineAll(online bool) {
	if b.mirror == nil {
		return
	}

	var macs []string
	for _, s := range b.registry.List() {
		if s.Category() == device.CategorySwitch {
			macs = append(macs, s.Ident().MAC)
		}
	}
	if len(macs) == 0 {
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(b.ctx, upstreamTimeout)
		defer cancel()
		if err := b.mirror.ReportOnlineAll(ctx, macs, online); err != nil {
			b.logError("bulk online report failed", err, "online", online)
		}
	}()
}

// publish sends to a device over the current session.
func (b *Bridge) publish(topic string, payload []byte) error {
	s := b.conn.Session()
	if s == nil || !s.IsConnected() {
		return ErrNotConnected
	}
	return s.Publish(topic, payload, publishQoS, false)
}

func (b *Bridge) notify(name string, data any) {
	if b.notifier == nil {
		return
	}
	b.notifier.Notify(notify.Event{Name: name, Data: data})
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.getLogger().Debug(msg, keysAndValues...)
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.getLogger().Info(msg, keysAndValues...)
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	b.getLogger().Warn(msg, keysAndValues...)
}

func (b *Bridge) logError(msg string, err error, keysAndValues ...any) {
	args := append([]any{"error", err}, keysAndValues...)
	b.getLogger().Error(msg, args...)
}
