// Package logbuf keeps a bounded, timestamped line buffer that the host
// application polls for console output.
package logbuf

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultCapacity = 100

// Buffer is a fixed-capacity FIFO of formatted log lines. Appends from any
// goroutine are safe, as are concurrent snapshots.
type Buffer struct {
	mu       sync.Mutex
	lines    []string
	capacity int
	now      func() time.Time
}

// New returns a buffer holding at most the last 100 lines.
func New() *Buffer {
	return NewWithCapacity(defaultCapacity)
}

// NewWithCapacity returns a buffer holding at most capacity lines.
func NewWithCapacity(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Buffer{
		capacity: capacity,
		now:      time.Now,
	}
}

// Append prefixes the line with the current Unix timestamp and pushes it to
// the back, evicting the oldest line when the buffer is full.
func (b *Buffer) Append(line string) {
	formatted := fmt.Sprintf("[%d] %s", b.now().Unix(), line)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines = append(b.lines, formatted)
	if len(b.lines) > b.capacity {
		b.lines = b.lines[len(b.lines)-b.capacity:]
	}
}

// Appendf formats and appends a line.
func (b *Buffer) Appendf(format string, args ...any) {
	b.Append(fmt.Sprintf(format, args...))
}

// Snapshot returns all buffered lines joined by newlines without clearing
// the buffer.
func (b *Buffer) Snapshot() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "\n")
}

// Len returns the current number of buffered lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// SetNowFunc overrides the timestamp source. Used by tests.
func (b *Buffer) SetNowFunc(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}
