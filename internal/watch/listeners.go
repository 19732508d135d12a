package watch

import (
	"sync"

	"github.com/nerrad567/adbmux/internal/device"
)

// Handle identifies a listener registered with Listeners.
type Handle int

type listenerEntry struct {
	handle Handle
	name   string
	fn     Listener
}

// Listeners fans a single changeset out to several listeners.
//
// Listeners are called sequentially in registration order. A listener that
// panics is logged and skipped; the others still run. Use Notify as the
// Scheduler's listener.
type Listeners struct {
	mu      sync.RWMutex
	entries []listenerEntry
	next    Handle
	logger  Logger
}

// NewListeners creates an empty fan-out. A nil logger disables logging.
func NewListeners(logger Logger) *Listeners {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Listeners{logger: logger}
}

// Add registers fn under name and returns a handle for Remove.
func (l *Listeners) Add(name string, fn Listener) Handle {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.next++
	l.entries = append(l.entries, listenerEntry{handle: l.next, name: name, fn: fn})
	return l.next
}

// Remove unregisters the listener. It reports whether the handle was known.
func (l *Listeners) Remove(h Handle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, e := range l.entries {
		if e.handle == h {
			l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered listeners.
func (l *Listeners) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Notify delivers cs to every registered listener.
func (l *Listeners) Notify(cs device.Changeset) {
	l.mu.RLock()
	entries := make([]listenerEntry, len(l.entries))
	copy(entries, l.entries)
	l.mu.RUnlock()

	for _, e := range entries {
		l.call(e, cs)
	}
}

func (l *Listeners) call(e listenerEntry, cs device.Changeset) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("change listener panicked", "listener", e.name, "panic", r)
		}
	}()
	e.fn(cs)
}
