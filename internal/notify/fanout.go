package notify

import "sync"

// Fanout delivers every event to each of its sinks in order.
type Fanout struct {
	mu    sync.RWMutex
	sinks []Notifier
}

// NewFanout creates a fanout over sinks. Nil sinks are skipped.
func NewFanout(sinks ...Notifier) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		f.Add(s)
	}
	return f
}

// Add registers another sink.
func (f *Fanout) Add(s Notifier) {
	if s == nil {
		return
	}
	f.mu.Lock()
	f.sinks = append(f.sinks, s)
	f.mu.Unlock()
}

// Len returns the number of sinks.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sinks)
}

// Notify implements Notifier.
func (f *Fanout) Notify(e Event) {
	f.mu.RLock()
	sinks := f.sinks
	f.mu.RUnlock()

	for _, s := range sinks {
		s.Notify(e)
	}
}
