package tasmota

import (
	"sort"
	"sync"

	"github.com/nerrad567/tasmota-bridge/internal/device"
)

// defaultSubscribeQoS is at-least-once, which the broker delivers in order
// per topic.
const defaultSubscribeQoS byte = 1

// Subscriptions keeps the broker subscription set equal to the union of
// the topic bundles of every registered device.
//
// Topics are reference counted because two devices may share one (a
// misconfigured fleet with identical topics, or a device mid re-announce).
// A topic is unsubscribed only when no device needs it any more. While no
// session is attached the counts are still maintained and the next Restore
// subscribes everything.
type Subscriptions struct {
	client  MQTTClient
	qos     byte
	handler func(topic string, payload []byte)

	refs map[string]int
	mu   sync.Mutex

	logger Logger
}

// NewSubscriptions creates a manager that routes every message to handler.
func NewSubscriptions(qos byte, handler func(topic string, payload []byte), logger Logger) *Subscriptions {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Subscriptions{
		qos:     qos,
		handler: handler,
		refs:    make(map[string]int),
		logger:  logger,
	}
}

// SubscribeAll adds s's topic bundle.
func (m *Subscriptions) SubscribeAll(s device.Setting) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.add(s)
}

// UnsubscribeAll removes s's topic bundle.
func (m *Subscriptions) UnsubscribeAll(s device.Setting) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remove(s)
}

// Resubscribe swaps old's bundle for next's in one step. Topics present in
// both keep their broker subscription.
func (m *Subscriptions) Resubscribe(old, next device.Setting) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Add first so shared topics never drop to zero.
	m.add(next)
	m.remove(old)
}

// Restore attaches a fresh session and subscribes the bundles of settings.
// Sessions are clean, so nothing from a previous connection survives on the
// broker and the counts are rebuilt from settings alone.
func (m *Subscriptions) Restore(client MQTTClient, settings []device.Setting) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.client = client
	m.refs = make(map[string]int)
	for _, s := range settings {
		m.add(s)
	}
	m.logger.Info("device subscriptions restored", "devices", len(settings), "topics", len(m.refs))
}

// Detach drops the session after a connection loss. Counts are kept.
func (m *Subscriptions) Detach() {
	m.mu.Lock()
	m.client = nil
	m.mu.Unlock()
}

// Topics returns the subscribed topics, sorted.
func (m *Subscriptions) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	topics := make([]string, 0, len(m.refs))
	for t := range m.refs {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Count returns the number of distinct subscribed topics.
func (m *Subscriptions) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refs)
}

func (m *Subscriptions) add(s device.Setting) {
	if s == nil {
		return
	}
	for _, topic := range device.Topics(s) {
		if topic == "" {
			continue
		}
		m.refs[topic]++
		if m.refs[topic] > 1 {
			continue
		}
		if !m.online() {
			continue
		}
		if err := m.client.Subscribe(topic, m.qos, m.handler); err != nil {
			m.logger.Warn("subscribe failed", "topic", topic, "mac", s.Ident().MAC, "error", err)
		}
	}
}

func (m *Subscriptions) remove(s device.Setting) {
	if s == nil {
		return
	}
	for _, topic := range device.Topics(s) {
		n, ok := m.refs[topic]
		if !ok {
			continue
		}
		if n > 1 {
			m.refs[topic] = n - 1
			continue
		}
		delete(m.refs, topic)
		if !m.online() {
			continue
		}
		if err := m.client.Unsubscribe(topic); err != nil {
			m.logger.Warn("unsubscribe failed", "topic", topic, "mac", s.Ident().MAC, "error", err)
		}
	}
}

func (m *Subscriptions) online() bool {
	return m.client != nil && m.client.IsConnected()
}
