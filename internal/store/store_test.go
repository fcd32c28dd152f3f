package store

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/tasksmith/tasksmith/internal/gitx"
	"github.com/tasksmith/tasksmith/internal/task"
)

// setupStore creates a store over a fresh local-only repository.
func setupStore(t *testing.T) *Store {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	quiet := log.New(io.Discard, "", 0)
	repo, err := gitx.Ensure(filepath.Join(t.TempDir(), "work"), "", &gitx.Options{Logger: quiet})
	if err != nil {
		t.Fatalf("Ensure() failed: %v", err)
	}

	s, err := Open(repo, &Options{Logger: quiet})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return s
}

func mustCreate(t *testing.T, s *Store, opts CreateOptions) string {
	t.Helper()

	id, err := s.Create(context.Background(), opts)
	if err != nil {
		t.Fatalf("Create(%q) failed: %v", opts.Name, err)
	}
	return id
}

func TestCreateIdempotent(t *testing.T) {
	s := setupStore(t)

	first := mustCreate(t, s, CreateOptions{Name: "Fix login bug", Project: "app", Description: "old"})
	second := mustCreate(t, s, CreateOptions{Name: "Fix login bug", Project: "app", Description: "new", Priority: 3})

	if first != second {
		t.Fatalf("ids differ for identical (project, name): %q vs %q", first, second)
	}

	got, err := s.Get(first)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Description != "new" || got.Priority != 3 {
		t.Errorf("second create did not supersede: %+v", got)
	}

	tasks, err := s.List(ListFilter{Project: "app"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Errorf("len(tasks) = %d, want 1 (overwrite, not duplicate)", len(tasks))
	}
}

func TestListOrdering(t *testing.T) {
	s := setupStore(t)

	// Created in this real-time order, so among equal priorities the
	// later creation is the more recent one.
	mustCreate(t, s, CreateOptions{Name: "p2", Priority: 2})
	mustCreate(t, s, CreateOptions{Name: "p5 older", Priority: 5})
	mustCreate(t, s, CreateOptions{Name: "p5 newer", Priority: 5})
	mustCreate(t, s, CreateOptions{Name: "p1", Priority: 1})

	tasks, err := s.List(ListFilter{})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}

	var names []string
	for _, tk := range tasks {
		names = append(names, tk.Name)
	}

	want := []string{"p5 newer", "p5 older", "p2", "p1"}
	if len(names) != len(want) {
		t.Fatalf("got %d tasks, want %d", len(names), len(want))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("order = %v, want %v", names, want)
		}
	}
}

func TestListLimit(t *testing.T) {
	s := setupStore(t)

	for _, name := range []string{"a", "b", "c"} {
		mustCreate(t, s, CreateOptions{Name: name})
	}

	tasks, err := s.List(ListFilter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 {
		t.Errorf("len(tasks) = %d, want 2", len(tasks))
	}
}

func TestSubtaskExcludedByDefault(t *testing.T) {
	s := setupStore(t)

	parent := mustCreate(t, s, CreateOptions{Name: "parent", Project: "app"})
	sub := mustCreate(t, s, CreateOptions{Name: "child", Project: "app", ParentID: parent})

	tasks, err := s.List(ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	for _, tk := range tasks {
		if tk.ID == sub {
			t.Error("subtask appeared in default listing")
		}
	}

	all, err := s.List(ListFilter{IncludeSubtasks: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("include_subtasks listing has %d tasks, want 2", len(all))
	}

	subs, err := s.Subtasks(parent)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 || subs[0].ID != sub {
		t.Errorf("Subtasks() = %+v, want the one child", subs)
	}
}

func TestSubtasksOrderedOldestFirst(t *testing.T) {
	s := setupStore(t)

	parent := mustCreate(t, s, CreateOptions{Name: "parent"})
	first := mustCreate(t, s, CreateOptions{Name: "step one", ParentID: parent})
	second := mustCreate(t, s, CreateOptions{Name: "step two", ParentID: parent})

	subs, err := s.Subtasks(parent)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 2 || subs[0].ID != first || subs[1].ID != second {
		t.Errorf("subtasks not in creation order: %+v", subs)
	}
}

func TestHierarchyDepthEnforced(t *testing.T) {
	s := setupStore(t)

	parent := mustCreate(t, s, CreateOptions{Name: "parent"})
	sub := mustCreate(t, s, CreateOptions{Name: "child", ParentID: parent})

	_, err := s.Create(context.Background(), CreateOptions{Name: "grandchild", ParentID: sub})
	if !errors.Is(err, ErrParentIsSubtask) {
		t.Errorf("nesting under a subtask: err = %v, want ErrParentIsSubtask", err)
	}

	_, err = s.Create(context.Background(), CreateOptions{Name: "orphan", ParentID: "doesnotexist"})
	if !errors.Is(err, ErrParentNotFound) {
		t.Errorf("missing parent: err = %v, want ErrParentNotFound", err)
	}
}

func TestCompletionInvariant(t *testing.T) {
	s := setupStore(t)
	id := mustCreate(t, s, CreateOptions{Name: "ship it", Project: "app"})

	ok, err := s.UpdateStatus(context.Background(), id, task.StatusCompleted, "x")
	if err != nil || !ok {
		t.Fatalf("UpdateStatus(completed) = %v, %v", ok, err)
	}

	got, err := s.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set on completion")
	}
	if got.CompletionReport != "x" {
		t.Errorf("completion_report = %q, want %q", got.CompletionReport, "x")
	}

	ok, err = s.UpdateStatus(context.Background(), id, task.StatusPending, "")
	if err != nil || !ok {
		t.Fatalf("UpdateStatus(pending) = %v, %v", ok, err)
	}

	got, err = s.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.CompletedAt != nil {
		t.Error("completed_at not cleared on transition away from completed")
	}
	if got.CompletionReport != "" {
		t.Errorf("completion_report not cleared: %q", got.CompletionReport)
	}
}

func TestUpdateStatusNotFound(t *testing.T) {
	s := setupStore(t)

	ok, err := s.UpdateStatus(context.Background(), "missing", task.StatusCompleted, "")
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if ok {
		t.Error("UpdateStatus() on missing id = true, want false")
	}
}

func TestCascadingDelete(t *testing.T) {
	s := setupStore(t)

	parent := mustCreate(t, s, CreateOptions{Name: "parent", Project: "app"})
	sub := mustCreate(t, s, CreateOptions{Name: "child", Project: "app", ParentID: parent})

	ok, err := s.Delete(context.Background(), parent)
	if err != nil || !ok {
		t.Fatalf("Delete() = %v, %v", ok, err)
	}

	all, err := s.List(ListFilter{IncludeSubtasks: true})
	if err != nil {
		t.Fatal(err)
	}
	for _, tk := range all {
		if tk.ID == parent || tk.ID == sub {
			t.Errorf("task %s survived cascading delete", tk.ID)
		}
	}

	if _, err := s.Get(sub); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(subtask) after cascade = %v, want ErrNotFound", err)
	}
}

func TestDeleteNotFound(t *testing.T) {
	s := setupStore(t)

	ok, err := s.Delete(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if ok {
		t.Error("Delete() on missing id = true, want false")
	}
}

func TestStatsConsistency(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	a := mustCreate(t, s, CreateOptions{Name: "a", Project: "app"})
	b := mustCreate(t, s, CreateOptions{Name: "b", Project: "app"})
	mustCreate(t, s, CreateOptions{Name: "c", Project: "other"})

	if _, err := s.UpdateStatus(ctx, a, task.StatusCompleted, "done"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpdateStatus(ctx, b, task.StatusInProgress, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Delete(ctx, b); err != nil {
		t.Fatal(err)
	}

	stats, err := s.Stats("app")
	if err != nil {
		t.Fatal(err)
	}

	// Recompute from scratch over the surviving documents.
	var want task.Counts
	all, err := s.List(ListFilter{Project: "app", IncludeSubtasks: true})
	if err != nil {
		t.Fatal(err)
	}
	for _, tk := range all {
		want.Add(tk.Status)
	}

	if stats != want {
		t.Errorf("Stats() = %+v, want recomputation %+v", stats, want)
	}
	if stats.Total != 1 || stats.Completed != 1 {
		t.Errorf("Stats() = %+v, want total=1 completed=1", stats)
	}
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	id := mustCreate(t, s, CreateOptions{Name: "contended", Project: "app"})

	before, err := s.Repo().CommitCount()
	if err != nil {
		t.Fatal(err)
	}

	statuses := []task.Status{
		task.StatusInProgress,
		task.StatusCompleted,
		task.StatusPending,
		task.StatusInProgress,
		task.StatusCompleted,
	}

	// Each goroutine issues its update only after the previous one
	// returned, fixing the real-time order while every call still
	// races through the store's serialization domain.
	gates := make([]chan struct{}, len(statuses)+1)
	for i := range gates {
		gates[i] = make(chan struct{})
	}
	errs := make([]error, len(statuses))

	for i, status := range statuses {
		go func(i int, status task.Status) {
			<-gates[i]
			_, errs[i] = s.UpdateStatus(ctx, id, status, "")
			close(gates[i+1])
		}(i, status)
	}
	close(gates[0])
	<-gates[len(statuses)]

	for i, err := range errs {
		if err != nil {
			t.Fatalf("update %d failed: %v", i, err)
		}
	}

	after, err := s.Repo().CommitCount()
	if err != nil {
		t.Fatal(err)
	}
	if after-before != len(statuses) {
		t.Errorf("commit count grew by %d, want %d", after-before, len(statuses))
	}

	got, err := s.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != statuses[len(statuses)-1] {
		t.Errorf("final status = %q, want %q", got.Status, statuses[len(statuses)-1])
	}
}

func TestCorruptDocumentSkippedAndCounted(t *testing.T) {
	s := setupStore(t)
	mustCreate(t, s, CreateOptions{Name: "good"})

	bad := filepath.Join(s.tasksDir, "deadbeef0000.json")
	if err := os.WriteFile(bad, []byte("{corrupt"), 0644); err != nil {
		t.Fatal(err)
	}

	tasks, err := s.List(ListFilter{})
	if err != nil {
		t.Fatalf("List() failed despite corrupt file: %v", err)
	}
	if len(tasks) != 1 {
		t.Errorf("len(tasks) = %d, want 1 (corrupt file excluded)", len(tasks))
	}
	if s.SkippedCount() == 0 {
		t.Error("SkippedCount() = 0, want > 0 after scanning a corrupt file")
	}
}

func TestProjects(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if _, err := s.CreateProject(ctx, "My App", "demo"); err != nil {
		t.Fatal(err)
	}

	mustCreate(t, s, CreateOptions{Name: "a", Project: "my-app"})
	mustCreate(t, s, CreateOptions{Name: "b", Project: "my-app"})
	// Implicit project: tasks only, no project document.
	mustCreate(t, s, CreateOptions{Name: "c", Project: "side"})

	projects, err := s.Projects()
	if err != nil {
		t.Fatal(err)
	}
	if len(projects) != 2 {
		t.Fatalf("len(projects) = %d, want 2", len(projects))
	}
	if projects[0].Path != "my-app" || projects[0].Counts.Total != 2 {
		t.Errorf("projects[0] = %+v, want my-app with 2 tasks", projects[0])
	}
	if projects[0].Name != "My App" {
		t.Errorf("project name = %q, want %q", projects[0].Name, "My App")
	}
	if projects[1].Path != "side" || projects[1].Counts.Total != 1 {
		t.Errorf("projects[1] = %+v, want side with 1 task", projects[1])
	}
}

func TestProjectCountsNeverStale(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	id := mustCreate(t, s, CreateOptions{Name: "a", Project: "app"})

	// Corrupt the persisted snapshot; reads must not trust it.
	snapshot := filepath.Join(s.projectsDir, "app.json")
	p, err := task.ReadProject(snapshot)
	if err != nil {
		t.Fatal(err)
	}
	p.Counts = task.Counts{Total: 99, Pending: 99}
	if err := task.WriteProject(s.projectsDir, p); err != nil {
		t.Fatal(err)
	}

	stats, err := s.Stats("app")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 1 {
		t.Errorf("Stats() total = %d, want 1 (must recompute, not read snapshot)", stats.Total)
	}

	projects, err := s.Projects()
	if err != nil {
		t.Fatal(err)
	}
	if projects[0].Counts.Total != 1 {
		t.Errorf("Projects() total = %d, want 1 (must recompute, not read snapshot)", projects[0].Counts.Total)
	}

	if _, err := s.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}
	stats, err = s.Stats("app")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 0 {
		t.Errorf("Stats() after delete = %+v, want empty", stats)
	}
}

// setupStoreWithRemote backs the store with a local bare remote so
// pull and push exercise the real network paths.
func setupStoreWithRemote(t *testing.T) *Store {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	bare := filepath.Join(t.TempDir(), "remote.git")
	if out, err := exec.Command("git", "init", "--bare", bare).CombinedOutput(); err != nil {
		t.Fatalf("git init --bare failed: %v\n%s", err, out)
	}

	quiet := log.New(io.Discard, "", 0)
	repo, err := gitx.Ensure(filepath.Join(t.TempDir(), "work"), bare, &gitx.Options{Logger: quiet})
	if err != nil {
		t.Fatalf("Ensure() failed: %v", err)
	}

	s, err := Open(repo, &Options{Logger: quiet})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return s
}

func TestMutationsLeaveTreeClean(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	// A sweep makes the event log tracked; subsequent mutations must
	// not leave it dangling as an unstaged modification.
	mustCreate(t, s, CreateOptions{Name: "first"})
	if err := s.Sync(ctx, true); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}

	id := mustCreate(t, s, CreateOptions{Name: "second"})
	dirty, err := s.Repo().HasChanges()
	if err != nil {
		t.Fatal(err)
	}
	if dirty {
		t.Error("working tree dirty after create")
	}

	if _, err := s.UpdateStatus(ctx, id, task.StatusCompleted, "done"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}
	dirty, err = s.Repo().HasChanges()
	if err != nil {
		t.Fatal(err)
	}
	if dirty {
		t.Error("working tree dirty after update and delete")
	}
}

func TestPullAfterSweepAndMutation(t *testing.T) {
	s := setupStoreWithRemote(t)
	ctx := context.Background()

	mustCreate(t, s, CreateOptions{Name: "first"})
	if err := s.Sync(ctx, true); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}
	mustCreate(t, s, CreateOptions{Name: "second"})

	// A rebase pull refuses to run over unstaged changes, so a dirty
	// event log here would wedge every later cycle.
	if err := s.Repo().Pull(ctx); err != nil {
		t.Fatalf("Pull() after sweep and mutation failed: %v", err)
	}

	if err := s.Sync(ctx, true); err != nil {
		t.Fatalf("second Sync() failed: %v", err)
	}
}

func TestSyncSweepsStrayChanges(t *testing.T) {
	s := setupStore(t)

	// A stray file, as left behind by an external edit or the event log.
	stray := filepath.Join(s.repo.Root(), "events.log")
	if err := os.WriteFile(stray, []byte(`{"type":"stray"}`+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	before, _ := s.Repo().CommitCount()
	if err := s.Sync(context.Background(), true); err != nil {
		t.Fatalf("Sync() failed: %v", err)
	}
	after, _ := s.Repo().CommitCount()

	if after != before+1 {
		t.Errorf("sweep commit count %d -> %d, want exactly one maintenance commit", before, after)
	}

	dirty, err := s.Repo().HasChanges()
	if err != nil {
		t.Fatal(err)
	}
	if dirty {
		t.Error("working tree still dirty after sweep")
	}
}

func TestEndToEndScenario(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	slug, err := s.CreateProject(ctx, "app", "")
	if err != nil {
		t.Fatal(err)
	}
	if slug != "app" {
		t.Fatalf("slug = %q, want %q", slug, "app")
	}

	t1 := mustCreate(t, s, CreateOptions{Name: "Fix login bug", Project: "app"})

	tasks, err := s.List(ListFilter{Project: "app"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].Status != task.StatusPending {
		t.Fatalf("List() = %+v, want one pending task", tasks)
	}
	if tasks[0].Category != task.CategoryBug {
		t.Errorf("inferred category = %q, want %q", tasks[0].Category, task.CategoryBug)
	}

	ok, err := s.UpdateStatus(ctx, t1, task.StatusCompleted, "shipped")
	if err != nil || !ok {
		t.Fatalf("UpdateStatus() = %v, %v", ok, err)
	}

	got, err := s.Get(t1)
	if err != nil {
		t.Fatal(err)
	}
	if got.CompletedAt == nil || got.CompletionReport != "shipped" {
		t.Errorf("completion not recorded: %+v", got)
	}

	stats, err := s.Stats("app")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 1 || stats.Completed != 1 {
		t.Errorf("Stats() = %+v, want total=1 completed=1", stats)
	}
}

func TestOnChangeNotifications(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	quiet := log.New(io.Discard, "", 0)
	repo, err := gitx.Ensure(filepath.Join(t.TempDir(), "work"), "", &gitx.Options{Logger: quiet})
	if err != nil {
		t.Fatal(err)
	}

	var actions []string
	s, err := Open(repo, &Options{
		Logger:   quiet,
		OnChange: func(e Event) { actions = append(actions, e.Action) },
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	id := mustCreate(t, s, CreateOptions{Name: "x"})
	if _, err := s.UpdateStatus(ctx, id, task.StatusCompleted, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}

	want := []string{"created", "updated", "deleted"}
	if len(actions) != len(want) {
		t.Fatalf("actions = %v, want %v", actions, want)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Fatalf("actions = %v, want %v", actions, want)
		}
	}
}

// Timestamps written through JSON keep nanosecond precision, which the
// ordering contract relies on for distinct created_at tie-breaks.
func TestCreatedAtRoundTripPrecision(t *testing.T) {
	s := setupStore(t)

	id := mustCreate(t, s, CreateOptions{Name: "precise"})
	got, err := s.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("created_at lost in round trip")
	}
	if time.Since(got.CreatedAt) > time.Minute {
		t.Errorf("created_at implausibly old: %v", got.CreatedAt)
	}
}
