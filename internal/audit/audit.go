// Package audit provides structured event logging for sandbox lifecycle events.
// Events are stored as JSON Lines (JSONL) files, one per sandbox.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// EventType classifies a lifecycle event.
type EventType string

const (
	EventCreate        EventType = "create"
	EventEnsureRunning EventType = "ensure_running"
	EventStop          EventType = "stop"
	EventDelete        EventType = "delete"
	EventProvision     EventType = "provision"
	EventTeardown      EventType = "teardown"
	EventExpire        EventType = "expire"
	EventOrphan        EventType = "orphan"
)

// Outcome values recorded on events.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

const eventSuffix = ".events.jsonl"

// Event represents a single audit log entry.
type Event struct {
	Timestamp time.Time     `json:"timestamp" yaml:"timestamp"`
	Type      EventType     `json:"type" yaml:"type"`
	Sandbox   string        `json:"sandbox" yaml:"sandbox"`
	Runtime   string        `json:"runtime,omitempty" yaml:"runtime,omitempty"`
	Outcome   string        `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	Duration  time.Duration `json:"durationNs,omitempty" yaml:"durationNs,omitempty"`
	Details   string        `json:"details,omitempty" yaml:"details,omitempty"`
}

// Logger writes and reads audit events for sandboxes.
// Events are stored in {dir}/sandboxes/{id}.events.jsonl.
type Logger struct {
	dir string
	mu  sync.Mutex
}

// NewLogger creates a new audit logger rooted at dir.
func NewLogger(dir string) *Logger {
	return &Logger{dir: dir}
}

func (l *Logger) sandboxesDir() string {
	return filepath.Join(l.dir, "sandboxes")
}

// eventPath returns the path to the JSONL event log for a sandbox. The id is
// joined with securejoin so it can never name a file outside the log dir.
func (l *Logger) eventPath(sandbox string) (string, error) {
	if sandbox == "" {
		return "", fmt.Errorf("audit event has no sandbox id")
	}
	return securejoin.SecureJoin(l.sandboxesDir(), sandbox+eventSuffix)
}

// Log appends an event to the sandbox's audit log.
func (l *Logger) Log(event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	path, err := l.eventPath(event.Sandbox)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create audit log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	return nil
}

// LogEvent is a convenience method that creates and logs an event.
func (l *Logger) LogEvent(eventType EventType, sandbox, details string) error {
	return l.Log(Event{
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Sandbox:   sandbox,
		Outcome:   OutcomeOK,
		Details:   details,
	})
}

// Events reads all events for a sandbox in chronological order.
func (l *Logger) Events(sandbox string) ([]Event, error) {
	path, err := l.eventPath(sandbox)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue // Skip malformed lines
		}
		events = append(events, event)
	}

	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("error reading audit log: %w", err)
	}

	return events, nil
}

// Sandboxes lists the ids that have an audit log, sorted.
func (l *Logger) Sandboxes() ([]string, error) {
	entries, err := os.ReadDir(l.sandboxesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), eventSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), eventSuffix))
	}
	sort.Strings(ids)
	return ids, nil
}

// Remove deletes the audit log for a sandbox.
func (l *Logger) Remove(sandbox string) error {
	path, err := l.eventPath(sandbox)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
