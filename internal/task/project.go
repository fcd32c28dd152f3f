package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Counts is a per-project status breakdown. Counts are derived data:
// they are recomputed from task documents on every read, and the copy
// written into a project document is only a snapshot for diff purposes.
type Counts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
}

// Add folds a task's status into the counts.
func (c *Counts) Add(status Status) {
	c.Total++
	switch status {
	case StatusPending:
		c.Pending++
	case StatusInProgress:
		c.InProgress++
	case StatusCompleted:
		c.Completed++
	}
}

// Project is one project stored as projects/{slug}.json.
type Project struct {
	// Path is the project slug, also the document filename stem.
	Path        string    `json:"path"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastActive  time.Time `json:"last_active"`

	// Counts is the snapshot written at the last mutation. Readers must
	// recompute from task documents instead of trusting this field.
	Counts Counts `json:"counts"`
}

// Validate checks required project fields.
func (p *Project) Validate() error {
	if p.Path == "" {
		return fmt.Errorf("path is required")
	}
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

// Filename returns the canonical filename for this project: {slug}.json
func (p *Project) Filename() string {
	return p.Path + ".json"
}

// Slugify derives a project slug from a human name.
func Slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	return slug
}

// ReadProject reads and parses a single project document.
func ReadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project file %s: %w", path, err)
	}

	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse project file %s: %w", path, err)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid project file %s: %w", path, err)
	}

	return &p, nil
}

// WriteProject writes a project document to dir/{slug}.json.
func WriteProject(dir string, p *Project) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("cannot write invalid project: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create projects directory: %w", err)
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal project %s: %w", p.Path, err)
	}

	path := filepath.Join(dir, p.Filename())
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write project file %s: %w", path, err)
	}

	return nil
}

// ReadAllProjects reads every project document in dir, skipping and
// counting files that fail to parse.
func ReadAllProjects(dir string) ([]*Project, int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to read projects directory: %w", err)
	}

	var projects []*Project
	skipped := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		p, err := ReadProject(filepath.Join(dir, entry.Name()))
		if err != nil {
			skipped++
			continue
		}
		projects = append(projects, p)
	}

	return projects, skipped, nil
}
