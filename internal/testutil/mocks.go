package testutil

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
)

// LogBuffer is an io.Writer safe for concurrent use, intended as the sink
// of a test logger shared by several goroutines.
type LogBuffer struct {
	mu         sync.Mutex
	buf        bytes.Buffer
	writeCount int
}

// NewLogBuffer creates an empty LogBuffer.
func NewLogBuffer() *LogBuffer {
	return &LogBuffer{}
}

// Write implements io.Writer.
func (lb *LogBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.writeCount++
	return lb.buf.Write(p)
}

// String returns everything written so far.
func (lb *LogBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

// Contains reports whether substr has been written.
func (lb *LogBuffer) Contains(substr string) bool {
	return strings.Contains(lb.String(), substr)
}

// Count returns the number of lines containing substr.
func (lb *LogBuffer) Count(substr string) int {
	n := 0
	for _, line := range strings.Split(lb.String(), "\n") {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

// WriteCount returns the number of Write calls.
func (lb *LogBuffer) WriteCount() int {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.writeCount
}

// NewLogger returns a debug-level text logger writing into lb.
func NewLogger(lb *LogBuffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(lb, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// CallbackTracker records invocations of a callback from any goroutine.
type CallbackTracker struct {
	mu    sync.Mutex
	count int
	value interface{}
}

// NewCallbackTracker creates a CallbackTracker.
func NewCallbackTracker() *CallbackTracker {
	return &CallbackTracker{}
}

// Mark records one call, optionally storing the last value passed.
func (ct *CallbackTracker) Mark(value ...interface{}) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.count++
	if len(value) > 0 {
		ct.value = value[0]
	}
}

// CallCount returns the number of calls recorded.
func (ct *CallbackTracker) CallCount() int {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.count
}

// Value returns the last value recorded.
func (ct *CallbackTracker) Value() interface{} {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.value
}
