// Package notify keeps listener registrations that may be added or removed
// while they are being fired.
package notify

import "sync"

type entry[F any] struct {
	id uint64
	fn F
}

// List is an ordered set of listeners. The zero value is ready to use.
type List[F any] struct {
	mu      sync.Mutex
	next    uint64
	entries []entry[F]
}

// Add registers fn and returns a function that removes it. Calling the
// returned function more than once is harmless.
func (l *List[F]) Add(fn F) func() {
	l.mu.Lock()
	l.next++
	id := l.next
	l.entries = append(l.entries, entry[F]{id: id, fn: fn})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, e := range l.entries {
			if e.id == id {
				l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
				return
			}
		}
	}
}

// Snapshot returns the listeners registered right now, in registration
// order. Fire from the snapshot, never while holding a lock.
func (l *List[F]) Snapshot() []F {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]F, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.fn
	}
	return out
}

// Len returns the number of registered listeners.
func (l *List[F]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
