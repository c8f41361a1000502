// Package calllog keeps a bounded in-memory event log for diagnosing
// signaling and connection failures. Entries are retained in a fixed-capacity
// ring (oldest evicted first) and exportable as a snapshot. Logging here is
// best-effort: no failure in the logger ever propagates to callers.
package calllog

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Level is the severity of a logged event.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Entry is one recorded event.
type Entry struct {
	Time    time.Time `json:"time"`
	Level   Level     `json:"level"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
}

// Log is a fixed-capacity ring of diagnostic entries, optionally teed into a
// zap logger. All methods are safe for concurrent use.
type Log struct {
	mu    sync.RWMutex
	buf   []Entry
	head  int
	count int
	tee   *zap.Logger
}

// New creates a Log with the given capacity. Capacity values below 1 fall
// back to 500.
func New(capacity int) *Log {
	if capacity < 1 {
		capacity = 500
	}
	return &Log{buf: make([]Entry, capacity)}
}

// WithTee mirrors entries into the given zap logger in addition to the ring.
func (l *Log) WithTee(logger *zap.Logger) *Log {
	l.mu.Lock()
	l.tee = logger
	l.mu.Unlock()
	return l
}

// Debug records a DEBUG entry.
func (l *Log) Debug(source, format string, args ...any) { l.append(LevelDebug, source, format, args...) }

// Info records an INFO entry.
func (l *Log) Info(source, format string, args ...any) { l.append(LevelInfo, source, format, args...) }

// Warn records a WARN entry.
func (l *Log) Warn(source, format string, args ...any) { l.append(LevelWarn, source, format, args...) }

// Error records an ERROR entry.
func (l *Log) Error(source, format string, args ...any) { l.append(LevelError, source, format, args...) }

func (l *Log) append(level Level, source, format string, args ...any) {
	defer func() {
		// A diagnostic log must never take the call down with it.
		_ = recover()
	}()

	e := Entry{
		Time:    time.Now(),
		Level:   level,
		Source:  source,
		Message: fmt.Sprintf(format, args...),
	}

	l.mu.Lock()
	idx := (l.head + l.count) % len(l.buf)
	l.buf[idx] = e
	if l.count == len(l.buf) {
		l.head = (l.head + 1) % len(l.buf)
	} else {
		l.count++
	}
	tee := l.tee
	l.mu.Unlock()

	if tee != nil {
		msg := e.Source + ": " + e.Message
		switch level {
		case LevelDebug:
			tee.Debug(msg)
		case LevelWarn:
			tee.Warn(msg)
		case LevelError:
			tee.Error(msg)
		default:
			tee.Info(msg)
		}
	}
}

// Snapshot returns a copy of all entries in order, oldest first.
func (l *Log) Snapshot() []Entry {
	l.mu.RLock()
	out := make([]Entry, l.count)
	for i := 0; i < l.count; i++ {
		out[i] = l.buf[(l.head+i)%len(l.buf)]
	}
	l.mu.RUnlock()
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	n := l.count
	l.mu.RUnlock()
	return n
}

// Nop returns a small throwaway log for components that require one but whose
// caller does not care about diagnostics.
func Nop() *Log {
	return New(1)
}
