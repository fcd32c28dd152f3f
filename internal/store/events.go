package store

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// eventLogName is the JSON-lines lifecycle log kept inside the
// working tree so it travels with the documents. Each mutation stages
// it alongside the documents it changes: once the file is tracked, an
// unstaged copy would block the next rebase pull.
const eventLogName = "events.log"

// maxEvents caps the log at the most recent entries.
const maxEvents = 1000

type logEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	TaskID    string    `json:"task_id,omitempty"`
	Message   string    `json:"message"`
}

// appendEvent appends one line to the event log, trimming it to the
// newest maxEvents entries. Log failures are reported but never block
// a mutation. Returns whether the log file was written, so the caller
// knows to stage it. Caller holds the write lock.
func (s *Store) appendEvent(eventType, taskID, message string) bool {
	path := filepath.Join(s.repo.Root(), eventLogName)

	var lines [][]byte
	if data, err := os.ReadFile(path); err == nil {
		lines = bytes.Split(bytes.TrimSpace(data), []byte("\n"))
		if len(lines) == 1 && len(lines[0]) == 0 {
			lines = nil
		}
	}

	entry, err := json.Marshal(logEvent{
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		TaskID:    taskID,
		Message:   message,
	})
	if err != nil {
		s.logger.Printf("failed to marshal event: %v", err)
		return false
	}

	lines = append(lines, entry)
	if len(lines) > maxEvents {
		lines = lines[len(lines)-maxEvents:]
	}

	out := append(bytes.Join(lines, []byte("\n")), '\n')
	if err := os.WriteFile(path, out, 0644); err != nil {
		s.logger.Printf("failed to write event log: %v", err)
		return false
	}
	return true
}

// Events returns the most recent lifecycle log entries, newest last.
func (s *Store) Events(limit int) ([]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.repo.Root(), eventLogName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var events []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(data), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var e map[string]any
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		events = append(events, e)
	}

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}
