// Package memory provides the bounded short-term conversation window used to
// build generation context.
package memory

import (
	"sync"
)

// DefaultCapacity is the number of turns kept when no capacity is given.
const DefaultCapacity = 20

// Turn is one role/content pair in the window.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Window is a fixed-size circular buffer of turns.
// When full, appending overwrites the oldest turn.
type Window struct {
	buf  []Turn
	size int
	head int // write position
	tail int // read position
	full bool
	mu   sync.RWMutex
}

// NewWindow creates a window holding at most capacity turns.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{
		buf:  make([]Turn, capacity),
		size: capacity,
	}
}

// Append adds a turn, evicting the oldest one when the window is full.
func (w *Window) Append(t Turn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.appendLocked(t)
}

func (w *Window) appendLocked(t Turn) {
	if w.full {
		w.tail = (w.tail + 1) % w.size
	}
	w.buf[w.head] = t
	w.head = (w.head + 1) % w.size
	if w.head == w.tail {
		w.full = true
	}
}

// Load replaces the contents with turns, keeping only the newest ones that fit.
func (w *Window) Load(turns []Turn) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.head, w.tail, w.full = 0, 0, false
	if len(turns) > w.size {
		turns = turns[len(turns)-w.size:]
	}
	for _, t := range turns {
		w.appendLocked(t)
	}
}

// Turns returns the buffered turns oldest first.
func (w *Window) Turns() []Turn {
	w.mu.RLock()
	defer w.mu.RUnlock()

	n := w.lenLocked()
	out := make([]Turn, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, w.buf[(w.tail+i)%w.size])
	}
	return out
}

func (w *Window) lenLocked() int {
	if w.full {
		return w.size
	}
	if w.head >= w.tail {
		return w.head - w.tail
	}
	return (w.size - w.tail) + w.head
}

// Capacity returns the maximum number of turns.
func (w *Window) Capacity() int {
	return w.size
}

// ContentsByRole returns the content of every buffered turn authored by role,
// oldest first.
func ContentsByRole(turns []Turn, role string) []string {
	var out []string
	for _, t := range turns {
		if t.Role == role {
			out = append(out, t.Content)
		}
	}
	return out
}
