package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// RequestLog represents a single pipeline event: one EPP orchestrator run
// or one ERS poll tick. The two subsystems share a shape so both can log
// through the same Logger and land in the same file/stream.
type RequestLog struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"` // job id (EPP) or empty (ERS tick)
	TraceID    string    `json:"trace_id,omitempty"`
	SpanID     string    `json:"span_id,omitempty"`
	Component  string    `json:"component"` // "orchestrator", "poller", "slasher"
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Segments   int       `json:"segments,omitempty"`   // EPP: segments produced
	Retries    int       `json:"retries,omitempty"`
	BlockRange string    `json:"block_range,omitempty"` // ERS: "from-to" scanned this tick
	Slashed    int       `json:"slashed,omitempty"`     // ERS: orders slashed this tick
}

// Logger handles request logging
type Logger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultLogger = &Logger{enabled: true, console: true}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}

// SetOutput sets the log output file
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes a request log entry
func (l *Logger) Log(entry *RequestLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	// Console output (human-readable)
	if l.console {
		status := "✓"
		if !entry.Success {
			status = "✗"
		}
		retry := ""
		if entry.Retries > 0 {
			retry = fmt.Sprintf(" [retry:%d]", entry.Retries)
		}
		extra := ""
		switch {
		case entry.BlockRange != "":
			extra = fmt.Sprintf(" blocks=%s slashed=%d", entry.BlockRange, entry.Slashed)
		case entry.Segments > 0:
			extra = fmt.Sprintf(" segments=%d", entry.Segments)
		}
		fmt.Printf("[%s] %s %s %dms%s%s\n",
			entry.Component, status, entry.RequestID, entry.DurationMs, extra, retry)
		if entry.Error != "" {
			fmt.Printf("[%s]   error: %s\n", entry.Component, entry.Error)
		}
	}

	// File output (JSON)
	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
