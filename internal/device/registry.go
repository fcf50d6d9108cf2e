package device

import (
	"fmt"
	"strings"
	"sync"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the in-memory catalogue of announced devices, keyed by mac and
// kept in first-announcement order. It lives for the process lifetime.
//
// Entries are never shared with callers: every read returns a deep copy and
// every write replaces the stored value. All public methods are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]Setting
	logger  Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Setting),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// Get returns a copy of the device with mac.
func (r *Registry) Get(mac string) (Setting, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.entries[mac]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// Upsert inserts s, or replaces the entry with the same mac wholesale.
// It returns a copy of the replaced entry, if any.
func (r *Registry) Upsert(s Setting) (previous Setting, err error) {
	mac := s.Ident().MAC
	if mac == "" {
		return nil, fmt.Errorf("%w: empty mac", ErrInvalidDevice)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.entries[mac]; ok {
		previous = old
	} else {
		r.order = append(r.order, mac)
	}
	r.entries[mac] = s.Clone()

	if previous != nil {
		r.logger.Debug("device replaced", "mac", mac, "category", s.Category())
	} else {
		r.logger.Info("device registered", "mac", mac, "category", s.Category())
	}
	return previous, nil
}

// Update applies fn to a copy of the device with mac under the write lock.
// When fn reports a change the copy replaces the stored entry. The returned
// setting is a copy of the resulting entry.
func (r *Registry) Update(mac string, fn func(Setting) bool) (Setting, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.entries[mac]
	if !ok {
		return nil, false, ErrDeviceNotFound
	}

	next := cur.Clone()
	if !fn(next) {
		return cur.Clone(), false, nil
	}
	next.Ident().MAC = mac
	r.entries[mac] = next
	return next.Clone(), true, nil
}

// List returns copies of every device in registration order.
func (r *Registry) List() []Setting {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Setting, 0, len(r.order))
	for _, mac := range r.order {
		out = append(out, r.entries[mac].Clone())
	}
	return out
}

// IndexOf returns the registration position of mac.
func (r *Registry) IndexOf(mac string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.entries[mac]; !ok {
		return -1, false
	}
	for i, m := range r.order {
		if m == mac {
			return i, true
		}
	}
	return -1, false
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// SetAllOnline sets the online flag of every device in one step and returns
// the number of devices whose flag changed.
func (r *Registry) SetAllOnline(online bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := 0
	for mac, s := range r.entries {
		if s.Ident().Online == online {
			continue
		}
		next := s.Clone()
		next.Ident().Online = online
		r.entries[mac] = next
		changed++
	}
	return changed
}

// MatchTopic returns the macs of devices subscribed to topic. Comparison
// ignores case, since devices may report topics in either case.
func (r *Registry) MatchTopic(topic string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var macs []string
	for _, mac := range r.order {
		for _, t := range Topics(r.entries[mac]) {
			if strings.EqualFold(t, topic) {
				macs = append(macs, mac)
				break
			}
		}
	}
	return macs
}
