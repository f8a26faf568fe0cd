package logbuf

import (
	"github.com/sirupsen/logrus"
)

// Hook mirrors Info and above log entries into a Buffer so the host console
// view stays in sync with the structured log output.
type Hook struct {
	buffer *Buffer
}

// NewHook instantiate a new buffer hook
func NewHook(buffer *Buffer) *Hook {
	return &Hook{buffer: buffer}
}

// Levels set the supported levels for this hook
func (h *Hook) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.PanicLevel,
		logrus.FatalLevel,
		logrus.ErrorLevel,
		logrus.WarnLevel,
		logrus.InfoLevel,
	}
}

// Fire appends the entry message to the buffer
func (h *Hook) Fire(entry *logrus.Entry) error {
	h.buffer.Append(entry.Message)
	return nil
}
