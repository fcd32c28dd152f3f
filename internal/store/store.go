// Package store implements the document store over a git working
// tree: task and project CRUD, the one-level parent/subtask hierarchy,
// and per-project statistics.
//
// Every mutating operation runs pull -> mutate files -> commit -> push
// under a single write lock, so concurrent callers and the background
// sync scheduler share one serialization domain and a read-modify-
// write on the same document can never interleave. Read operations
// take the read lock and always recompute derived data (stats,
// project counts) from the documents themselves.
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tasksmith/tasksmith/internal/gitx"
	"github.com/tasksmith/tasksmith/internal/task"
)

// Sentinel errors for expected, local conditions.
var (
	// ErrNotFound is returned when an id resolves to no document.
	ErrNotFound = errors.New("task not found")

	// ErrParentNotFound is returned when a subtask references a parent
	// that does not exist.
	ErrParentNotFound = errors.New("parent task not found")

	// ErrParentIsSubtask is returned when a subtask would nest below
	// another subtask. The hierarchy is exactly one level deep.
	ErrParentIsSubtask = errors.New("parent is itself a subtask")
)

// Event describes a store change, delivered to the OnChange hook.
type Event struct {
	// Action is one of created, updated, deleted, synced.
	Action string

	// TaskID is set for task-level events.
	TaskID string

	// Task is the document after the change, nil for deletes and syncs.
	Task *task.Task
}

// Options configures a Store.
type Options struct {
	// AutoPush pushes after every mutation commit. Push failures are
	// logged, never fatal: the next sync cycle retries.
	AutoPush bool

	// Logger for store activity. Default: stderr with [store] prefix.
	Logger *log.Logger

	// OnChange, when set, is invoked synchronously after each
	// successful mutation and sync. Handlers must not call back into
	// the store.
	OnChange func(Event)
}

// Store is the document store over one working tree.
type Store struct {
	mu   sync.RWMutex
	repo *gitx.Repo

	tasksDir    string
	projectsDir string

	autoPush bool
	logger   *log.Logger
	onChange func(Event)

	// skipped counts corrupt documents encountered during scans.
	skipped atomic.Int64
}

// Open creates a Store over an initialized repository.
func Open(repo *gitx.Repo, opts *Options) (*Store, error) {
	if repo == nil {
		return nil, fmt.Errorf("repo cannot be nil")
	}

	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.Logger == nil {
		o.Logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	s := &Store{
		repo:        repo,
		tasksDir:    filepath.Join(repo.Root(), "tasks"),
		projectsDir: filepath.Join(repo.Root(), "projects"),
		autoPush:    o.AutoPush,
		logger:      o.Logger,
		onChange:    o.OnChange,
	}

	for _, dir := range []string{s.tasksDir, s.projectsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	return s, nil
}

// Repo exposes the underlying sync engine, primarily for status
// reporting. Mutations must go through the store.
func (s *Store) Repo() *gitx.Repo {
	return s.repo
}

// SkippedCount returns the number of corrupt documents skipped by
// scans since the store was opened.
func (s *Store) SkippedCount() int64 {
	return s.skipped.Load()
}

// CreateOptions are the caller-supplied fields for a new task.
type CreateOptions struct {
	Name           string
	Description    string
	ActionRequired string

	// DueDate accepts the YYYY-MM-DD layout or natural language
	// ("tomorrow", "in 2 days").
	DueDate string

	// Category is inferred from name and description when empty.
	Category string

	Project  string
	ParentID string
	Priority int

	// SessionID is generated when empty.
	SessionID string

	Metadata map[string]any
}

// Create writes a new task document and returns its id. The id is
// derived from (project, name): re-creating the same pair overwrites
// the previous document in full.
func (s *Store) Create(ctx context.Context, opts CreateOptions) (string, error) {
	if opts.Name == "" {
		return "", fmt.Errorf("task name is required")
	}

	now := time.Now().UTC()

	dueDate, err := task.ParseDueDate(opts.DueDate, now)
	if err != nil {
		return "", err
	}

	category := opts.Category
	if category == "" {
		category = task.InferCategory(opts.Name + " " + opts.Description)
	}

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pullBestEffort(ctx, "create")

	if opts.ParentID != "" {
		parent, err := s.readTask(opts.ParentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return "", ErrParentNotFound
			}
			return "", err
		}
		if parent.IsSubtask() {
			return "", ErrParentIsSubtask
		}
	}

	t := &task.Task{
		ID:             task.DeriveID(opts.Project, opts.Name),
		Name:           opts.Name,
		Description:    opts.Description,
		ActionRequired: opts.ActionRequired,
		DueDate:        dueDate,
		Category:       category,
		Status:         task.StatusPending,
		Project:        opts.Project,
		ParentID:       opts.ParentID,
		Priority:       opts.Priority,
		CreatedAt:      now,
		SessionID:      sessionID,
		Metadata:       opts.Metadata,
	}

	if err := task.WriteTask(s.tasksDir, t); err != nil {
		return "", err
	}

	paths := []string{taskRelPath(t.ID)}
	if rel, err := s.refreshProjectSnapshot(t.Project, now); err != nil {
		s.logger.Printf("failed to refresh project snapshot for %s: %v", t.Project, err)
	} else if rel != "" {
		paths = append(paths, rel)
	}

	if s.appendEvent("created", t.ID, fmt.Sprintf("Created task: %s", t.Name)) {
		paths = append(paths, eventLogName)
	}

	if err := s.repo.Commit(ctx, paths, fmt.Sprintf("Create task: %s", t.Name)); err != nil {
		return "", err
	}
	s.pushBestEffort(ctx)

	s.notify(Event{Action: "created", TaskID: t.ID, Task: t})
	return t.ID, nil
}

// Get returns the task document for id, or ErrNotFound.
func (s *Store) Get(id string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.readTask(id)
}

// ListFilter narrows and bounds a listing.
type ListFilter struct {
	Status   task.Status
	Project  string
	Category string

	// Limit bounds the result after sorting; <= 0 means no limit.
	Limit int

	// IncludeSubtasks includes documents that have a parent. Off by
	// default: top-level listings show only root tasks.
	IncludeSubtasks bool
}

// List scans all task documents, applies the filter, and orders the
// result by priority descending, then created_at descending: most
// urgent first, most recent first among equals.
func (s *Store) List(filter ListFilter) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks, err := s.scanTasks()
	if err != nil {
		return nil, err
	}

	filtered := tasks[:0]
	for _, t := range tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Project != "" && t.Project != filter.Project {
			continue
		}
		if filter.Category != "" && t.Category != filter.Category {
			continue
		}
		if !filter.IncludeSubtasks && t.IsSubtask() {
			continue
		}
		filtered = append(filtered, t)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Priority != filtered[j].Priority {
			return filtered[i].Priority > filtered[j].Priority
		}
		if !filtered[i].CreatedAt.Equal(filtered[j].CreatedAt) {
			return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
		}
		return filtered[i].ID < filtered[j].ID
	})

	if filter.Limit > 0 && len(filtered) > filter.Limit {
		filtered = filtered[:filter.Limit]
	}

	return filtered, nil
}

// Subtasks returns the direct children of parentID, oldest first.
func (s *Store) Subtasks(parentID string) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks, err := s.scanTasks()
	if err != nil {
		return nil, err
	}

	var subs []*task.Task
	for _, t := range tasks {
		if t.ParentID == parentID {
			subs = append(subs, t)
		}
	}

	sort.SliceStable(subs, func(i, j int) bool {
		if !subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].CreatedAt.Before(subs[j].CreatedAt)
		}
		return subs[i].ID < subs[j].ID
	})

	return subs, nil
}

// UpdateStatus rewrites the status of a task. The second pair of the
// completion invariant is enforced here: completed_at and the
// completion report are set exactly when the task transitions to
// completed, and cleared when it transitions away.
//
// Returns false with a nil error when the task does not exist.
func (s *Store) UpdateStatus(ctx context.Context, id string, status task.Status, report string) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("invalid status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pullBestEffort(ctx, "update")

	t, err := s.readTask(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	now := time.Now().UTC()
	t.Status = status
	if status == task.StatusCompleted {
		t.CompletedAt = &now
		t.CompletionReport = report
	} else {
		t.CompletedAt = nil
		t.CompletionReport = ""
	}

	if err := task.WriteTask(s.tasksDir, t); err != nil {
		return false, err
	}

	paths := []string{taskRelPath(t.ID)}
	if rel, err := s.refreshProjectSnapshot(t.Project, now); err != nil {
		s.logger.Printf("failed to refresh project snapshot for %s: %v", t.Project, err)
	} else if rel != "" {
		paths = append(paths, rel)
	}

	if s.appendEvent("status_update", t.ID, fmt.Sprintf("Status updated to %s", status)) {
		paths = append(paths, eventLogName)
	}

	message := fmt.Sprintf("Update task status to %s: %s", status, t.Name)
	if report != "" {
		message += "\n\n" + report
	}
	if err := s.repo.Commit(ctx, paths, message); err != nil {
		return false, err
	}
	s.pushBestEffort(ctx)

	s.notify(Event{Action: "updated", TaskID: t.ID, Task: t})
	return true, nil
}

// Delete removes a task and cascades to its direct subtasks, so no
// document is ever orphaned out of every listing. Returns false with
// a nil error when the task does not exist.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pullBestEffort(ctx, "delete")

	t, err := s.readTask(id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		// Corrupt documents can still be deleted; all we lose is the
		// name in the commit message.
		if _, statErr := os.Stat(filepath.Join(s.tasksDir, id+".json")); statErr != nil {
			return false, nil
		}
		t = &task.Task{ID: id, Name: id}
	} else if err != nil {
		return false, nil
	}

	doomed := []*task.Task{t}
	if all, scanErr := s.scanTasks(); scanErr == nil {
		for _, sub := range all {
			if sub.ParentID == id {
				doomed = append(doomed, sub)
			}
		}
	}

	var paths []string
	projects := map[string]bool{}
	for _, d := range doomed {
		if err := os.Remove(filepath.Join(s.tasksDir, d.ID+".json")); err != nil && !os.IsNotExist(err) {
			return false, fmt.Errorf("failed to remove task %s: %w", d.ID, err)
		}
		paths = append(paths, taskRelPath(d.ID))
		if d.Project != "" {
			projects[d.Project] = true
		}
	}

	now := time.Now().UTC()
	for project := range projects {
		if rel, err := s.refreshProjectSnapshot(project, now); err != nil {
			s.logger.Printf("failed to refresh project snapshot for %s: %v", project, err)
		} else if rel != "" {
			paths = append(paths, rel)
		}
	}

	if s.appendEvent("deleted", id, fmt.Sprintf("Deleted task: %s (%d subtasks)", t.Name, len(doomed)-1)) {
		paths = append(paths, eventLogName)
	}

	if err := s.repo.Commit(ctx, paths, fmt.Sprintf("Delete task: %s", t.Name)); err != nil {
		return false, err
	}
	s.pushBestEffort(ctx)

	s.notify(Event{Action: "deleted", TaskID: id})
	return true, nil
}

// Stats recomputes status counts over current task documents. With an
// empty project, all tasks are counted. Never served from a snapshot.
func (s *Store) Stats(project string) (task.Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.countTasks(project)
}

// Projects returns every known project with freshly recomputed task
// counts, ordered by total count descending. Projects are discovered
// both from project documents and from tasks referencing a project
// that has no document yet.
func (s *Store) Projects() ([]*task.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs, skipped, err := task.ReadAllProjects(s.projectsDir)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		s.skipped.Add(int64(skipped))
	}

	byPath := make(map[string]*task.Project, len(docs))
	for _, p := range docs {
		fresh := *p
		fresh.Counts = task.Counts{}
		byPath[p.Path] = &fresh
	}

	tasks, err := s.scanTasks()
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.Project == "" {
			continue
		}
		p, ok := byPath[t.Project]
		if !ok {
			p = &task.Project{Path: t.Project, Name: t.Project}
			byPath[t.Project] = p
		}
		p.Counts.Add(t.Status)
	}

	projects := make([]*task.Project, 0, len(byPath))
	for _, p := range byPath {
		projects = append(projects, p)
	}
	sort.SliceStable(projects, func(i, j int) bool {
		if projects[i].Counts.Total != projects[j].Counts.Total {
			return projects[i].Counts.Total > projects[j].Counts.Total
		}
		return projects[i].Path < projects[j].Path
	})

	return projects, nil
}

// CreateProject writes a project document and returns its slug.
func (s *Store) CreateProject(ctx context.Context, name, description string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("project name is required")
	}

	slug := task.Slugify(name)
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pullBestEffort(ctx, "create project")

	counts, err := s.countTasks(slug)
	if err != nil {
		return "", err
	}

	p := &task.Project{
		Path:        slug,
		Name:        name,
		Description: description,
		CreatedAt:   now,
		LastActive:  now,
		Counts:      counts,
	}
	if err := task.WriteProject(s.projectsDir, p); err != nil {
		return "", err
	}

	if err := s.repo.Commit(ctx, []string{projectRelPath(slug)}, fmt.Sprintf("Create project: %s", name)); err != nil {
		return "", err
	}
	s.pushBestEffort(ctx)

	return slug, nil
}

// Sync runs one pull/push cycle in the store's serialization domain.
// With sweep set, any uncommitted stray changes in the tree are folded
// into a single maintenance commit before the push. Errors from pull
// and push are joined so the caller sees both; all of them leave local
// state committed and retryable.
func (s *Store) Sync(ctx context.Context, sweep bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pullErr := s.repo.Pull(ctx)
	if pullErr != nil {
		s.logger.Printf("pull failed: %v", pullErr)
	}

	if sweep {
		dirty, err := s.repo.HasChanges()
		if err != nil {
			return errors.Join(pullErr, err)
		}
		if dirty {
			message := "Auto-sync: " + time.Now().UTC().Format(time.RFC3339)
			if err := s.repo.Commit(ctx, nil, message); err != nil {
				return errors.Join(pullErr, err)
			}
		}
	}

	pushErr := s.repo.Push(ctx)
	if pushErr != nil {
		s.logger.Printf("push failed: %v", pushErr)
	}

	if pullErr == nil && pushErr == nil {
		s.notify(Event{Action: "synced"})
	}
	return errors.Join(pullErr, pushErr)
}

// ===================
// Internal helpers
// ===================

func taskRelPath(id string) string {
	return filepath.Join("tasks", id+".json")
}

func projectRelPath(slug string) string {
	return filepath.Join("projects", slug+".json")
}

// readTask loads one task document by id. Caller holds a lock.
func (s *Store) readTask(id string) (*task.Task, error) {
	path := filepath.Join(s.tasksDir, id+".json")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, ErrNotFound
	}

	return task.ReadTask(path)
}

// scanTasks reads all task documents, folding the corrupt-file count
// into the observable skipped counter. Caller holds a lock.
func (s *Store) scanTasks() ([]*task.Task, error) {
	tasks, skipped, err := task.ReadAllTasks(s.tasksDir)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		s.skipped.Add(int64(skipped))
	}
	return tasks, nil
}

// countTasks recomputes status counts for a project ("" = all).
// Caller holds a lock.
func (s *Store) countTasks(project string) (task.Counts, error) {
	var counts task.Counts

	tasks, err := s.scanTasks()
	if err != nil {
		return counts, err
	}
	for _, t := range tasks {
		if project != "" && t.Project != project {
			continue
		}
		counts.Add(t.Status)
	}
	return counts, nil
}

// refreshProjectSnapshot rewrites the project document's count
// snapshot and last-active time after a mutation. The snapshot exists
// so project files show activity in diffs; reads never trust it.
// Returns the relative path of the written document for staging.
func (s *Store) refreshProjectSnapshot(project string, now time.Time) (string, error) {
	if project == "" {
		return "", nil
	}

	counts, err := s.countTasks(project)
	if err != nil {
		return "", err
	}

	p, err := task.ReadProject(filepath.Join(s.projectsDir, project+".json"))
	if err != nil {
		// Implicit project: first task arrived before create_project.
		p = &task.Project{Path: project, Name: project, CreatedAt: now}
	}
	p.LastActive = now
	p.Counts = counts

	if err := task.WriteProject(s.projectsDir, p); err != nil {
		return "", err
	}
	return projectRelPath(project), nil
}

// pullBestEffort pulls before a mutation so the write lands on top of
// the freshest remote state. Failures are logged and the mutation
// proceeds on local state: a conflict leaves the tree at its last
// good commit, which is exactly what we want to mutate.
func (s *Store) pullBestEffort(ctx context.Context, op string) {
	if err := s.repo.Pull(ctx); err != nil {
		s.logger.Printf("pull before %s failed (continuing locally): %v", op, err)
	}
}

// pushBestEffort pushes after a mutation commit. Failures are logged;
// the next sync cycle retries.
func (s *Store) pushBestEffort(ctx context.Context) {
	if !s.autoPush {
		return
	}
	if err := s.repo.Push(ctx); err != nil {
		s.logger.Printf("push failed (will retry on next sync): %v", err)
	}
}

func (s *Store) notify(e Event) {
	if s.onChange != nil {
		s.onChange(e)
	}
}
