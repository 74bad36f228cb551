package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// logTimestampLayout is Go's reference-time equivalent of Python's
// "%Y-%m-%d %H:%M:%S", matching percebe_server.py's log line format.
const logTimestampLayout = "2006-01-02 15:04:05"

// EventLog is an append-only plain-text sink. Concurrent appenders may
// interleave whole lines but a single Write call is never split across
// writers because every append goes through a held mutex and the
// underlying file is opened in O_APPEND mode.
type EventLog struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// OpenEventLog opens (creating if needed) an append-only log file.
func OpenEventLog(path string) (*EventLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open event log %s: %w", path, err)
	}
	return &EventLog{path: path, file: f}, nil
}

// Append writes a single "[timestamp] text\n" line.
func (l *EventLog) Append(text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("[%s] %s\n", time.Now().Format(logTimestampLayout), text)
	_, err := l.file.WriteString(line)
	return err
}

// Lines returns every line currently in the sink, oldest first. Missing
// files are reported as an empty slice, matching percebe_server.py's
// get_logs behavior of returning [] rather than erroring.
func (l *EventLog) Lines() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read event log %s: %w", l.path, err)
	}
	return splitLines(string(data)), nil
}

// Close releases the underlying file handle.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

func splitLines(s string) []string {
	if s == "" {
		return []string{}
	}
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

// EventLogType identifies which of the three fixed sinks a get_logs
// request targets.
type EventLogType string

const (
	EventLogForwarded   EventLogType = "reenvios"
	EventLogErrors      EventLogType = "errores"
	EventLogProcessing  EventLogType = "procesamiento"
)

// EventLogFileName returns the on-disk filename for a sink type,
// defaulting to the forwarded-events log for unrecognized values —
// mirroring percebe_server.py's get_logs default branch.
func EventLogFileName(t EventLogType) string {
	switch t {
	case EventLogErrors:
		return "errores.log"
	case EventLogProcessing:
		return "procesamiento.log"
	default:
		return "reenvios.log"
	}
}

// EventLogPath joins a config directory with a sink's filename.
func EventLogPath(dir string, t EventLogType) string {
	return filepath.Join(dir, EventLogFileName(t))
}

// LogSet bundles the three fixed-purpose event sinks so callers can
// thread a single value through the polling pipeline instead of three
// separate *EventLog parameters.
type LogSet struct {
	Forwarded  *EventLog
	Errors     *EventLog
	Processing *EventLog
}

// AppendForwarded records a successful forward, matching
// percebe_server.py's logging of each completed reenvio.
func (l *LogSet) AppendForwarded(text string) {
	if l == nil || l.Forwarded == nil {
		return
	}
	_ = l.Forwarded.Append(text)
}

// AppendError records a delivery failure or a dropped retry item as an
// "ERROR: text" line.
func (l *LogSet) AppendError(text string) {
	if l == nil || l.Errors == nil {
		return
	}
	_ = l.Errors.Append("ERROR: " + text)
}

// AppendProcessing records a per-message trace line. Callers gate this
// on the account/configuration's verbose-logging flag (logs_completos)
// before calling it.
func (l *LogSet) AppendProcessing(text string) {
	if l == nil || l.Processing == nil {
		return
	}
	_ = l.Processing.Append(text)
}
