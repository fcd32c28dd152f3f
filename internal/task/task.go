// Package task defines the document types persisted in the working tree.
//
// Each task and each project is a single JSON file (tasks/{id}.json,
// projects/{slug}.json). Fields are flat and every document is written
// whole, so version-control diffs stay readable and a re-create of the
// same (project, name) pair cleanly overwrites the previous document.
package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Task is one work item stored as tasks/{id}.json.
type Task struct {
	ID string `json:"id"`

	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	ActionRequired string `json:"action_required,omitempty"`

	// DueDate is a calendar date in YYYY-MM-DD form, empty if none.
	DueDate  string `json:"due_date,omitempty"`
	Category string `json:"category"`
	Status   Status `json:"status"`

	// Project is the slug of the owning project, empty for unscoped tasks.
	Project string `json:"project,omitempty"`

	// ParentID references another task when this is a subtask.
	// The hierarchy is exactly one level deep: a subtask is never a parent.
	ParentID string `json:"parent_id,omitempty"`

	// Priority orders listings; higher means more urgent.
	Priority int `json:"priority"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	SessionID string         `json:"session_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// CompletionReport is set only while Status is completed.
	CompletionReport string `json:"completion_report,omitempty"`
}

// Validate checks required fields and enumerations.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !t.Status.Valid() {
		return fmt.Errorf("invalid status %q", t.Status)
	}
	if t.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if t.Status == StatusCompleted && t.CompletedAt == nil {
		return fmt.Errorf("completed task missing completed_at")
	}
	return nil
}

// SetDefaults fills optional fields so partially built tasks round-trip.
func (t *Task) SetDefaults() {
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Category == "" {
		t.Category = CategoryGeneral
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
}

// IsSubtask reports whether the task has a parent.
func (t *Task) IsSubtask() bool {
	return t.ParentID != ""
}

// Filename returns the canonical filename for this task: {id}.json
func (t *Task) Filename() string {
	return t.ID + ".json"
}

// ReadTask reads and parses a single task document.
func ReadTask(path string) (*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file %s: %w", path, err)
	}

	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse task file %s: %w", path, err)
	}

	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task file %s: %w", path, err)
	}

	return &t, nil
}

// WriteTask writes a task document to dir/{id}.json with indented JSON.
func WriteTask(dir string, t *Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("cannot write invalid task: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create tasks directory: %w", err)
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", t.ID, err)
	}

	path := filepath.Join(dir, t.Filename())
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write task file %s: %w", path, err)
	}

	return nil
}

// ReadAllTasks reads every task document in dir. Documents that fail to
// parse are skipped and counted, never silently dropped: the second
// return value is the number of skipped files.
func ReadAllTasks(dir string) ([]*Task, int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to read tasks directory: %w", err)
	}

	var tasks []*Task
	skipped := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		t, err := ReadTask(filepath.Join(dir, entry.Name()))
		if err != nil {
			skipped++
			continue
		}
		tasks = append(tasks, t)
	}

	return tasks, skipped, nil
}
