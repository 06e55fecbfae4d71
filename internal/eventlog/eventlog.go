package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// MaxEventSize is the largest single NDJSON line written (256 KiB).
const MaxEventSize = 256 * 1024

// Event is one line of the log.
type Event struct {
	Time  time.Time      `json:"ts"`
	RunID string         `json:"run_id"`
	Seq   int            `json:"seq"`
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// EventLog appends run events to an NDJSON file
type EventLog struct {
	file   *os.File
	writer *bufio.Writer
	logger *slog.Logger
	runID  string

	mu  sync.Mutex
	seq int
}

// Path returns the standard log location for a run.
func Path(workspaceRoot, runID string) string {
	return filepath.Join(workspaceRoot, "events", runID+".ndjson")
}

// NewEventLog opens logPath for appending, creating it if needed.
func NewEventLog(logPath, runID string, logger *slog.Logger) (*EventLog, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &EventLog{
		file:   file,
		writer: bufio.NewWriter(file),
		logger: logger,
		runID:  runID,
	}, nil
}

// Write appends one event, stamping run id, sequence and time.
func (l *EventLog) Write(event string, data map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errors.New("event log is closed")
	}

	l.seq++
	line, err := json.Marshal(Event{
		Time:  time.Now().UTC(),
		RunID: l.runID,
		Seq:   l.seq,
		Event: event,
		Data:  data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if len(line) > MaxEventSize {
		return fmt.Errorf("event size %d exceeds limit %d", len(line), MaxEventSize)
	}

	if _, err := l.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush event log: %w", err)
	}
	return nil
}

// Record writes the event and logs, rather than returns, any failure. It
// lets agents report progress without handling log errors.
func (l *EventLog) Record(event string, data map[string]any) {
	if err := l.Write(event, data); err != nil {
		l.logger.Warn("failed to record event", "event", event, "error", err)
	}
}

// Close closes the event log file
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadEvents decodes every event in the file at path.
func ReadEvents(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads NDJSON events from r, skipping blank lines.
func Decode(r io.Reader) ([]Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), MaxEventSize+1)

	var events []Event
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, fmt.Errorf("failed to decode event on line %d: %w", line, err)
		}
		events = append(events, evt)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event log: %w", err)
	}
	return events, nil
}
