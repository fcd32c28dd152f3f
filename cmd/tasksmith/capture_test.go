package main

import (
	"context"
	"io"
	"log"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/tasksmith/tasksmith/internal/gitx"
	"github.com/tasksmith/tasksmith/internal/store"
	"github.com/tasksmith/tasksmith/internal/task"
)

func setupCaptureStore(t *testing.T) *store.Store {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	quiet := log.New(io.Discard, "", 0)
	repo, err := gitx.Ensure(filepath.Join(t.TempDir(), "work"), "", &gitx.Options{Logger: quiet})
	if err != nil {
		t.Fatalf("Ensure() failed: %v", err)
	}
	st, err := store.Open(repo, &store.Options{Logger: quiet})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return st
}

func TestParseCapturePayload(t *testing.T) {
	payload, err := parseCapturePayload([]byte(`
project: my-app
todos:
  - content: Fix login bug
    activeForm: Fixing login bug
    status: completed
`))
	if err != nil {
		t.Fatalf("parseCapturePayload() failed: %v", err)
	}
	if payload.Project != "my-app" || len(payload.Todos) != 1 {
		t.Fatalf("payload = %+v", payload)
	}
	if payload.Todos[0].ActiveForm != "Fixing login bug" {
		t.Errorf("activeForm = %q", payload.Todos[0].ActiveForm)
	}

	// Bare JSON list form.
	payload, err = parseCapturePayload([]byte(`[{"content":"a"},{"content":"b"}]`))
	if err != nil {
		t.Fatalf("bare list failed: %v", err)
	}
	if len(payload.Todos) != 2 {
		t.Errorf("len(todos) = %d, want 2", len(payload.Todos))
	}
}

func TestCaptureTodos(t *testing.T) {
	st := setupCaptureStore(t)
	ctx := context.Background()

	payload := &capturePayload{
		SessionID: "sess-1",
		Todos: []captureItem{
			{Content: "Fix login bug", Status: "completed", ActiveForm: "Fixing login bug"},
			{Content: "Write release notes", Status: "in_progress"},
			{Content: "Update deps"},
		},
	}

	result, err := captureTodos(ctx, st, payload, "app")
	if err != nil {
		t.Fatalf("captureTodos() failed: %v", err)
	}
	if result.Created != 3 || result.Completed != 1 {
		t.Errorf("result = %+v, want 3 created, 1 completed", result)
	}

	done, err := st.Get(task.DeriveID("app", "Fix login bug"))
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != task.StatusCompleted {
		t.Errorf("status = %q, want completed", done.Status)
	}
	if done.CompletionReport != "Fixing login bug" {
		t.Errorf("completion_report = %q, want the active form", done.CompletionReport)
	}
	if done.SessionID != "sess-1" {
		t.Errorf("session_id = %q, want sess-1", done.SessionID)
	}
}

func TestCaptureTodosConverges(t *testing.T) {
	st := setupCaptureStore(t)
	ctx := context.Background()

	payload := &capturePayload{
		Todos: []captureItem{
			{Content: "Fix login bug", Status: "in_progress"},
		},
	}

	if _, err := captureTodos(ctx, st, payload, "app"); err != nil {
		t.Fatal(err)
	}
	first, err := st.Get(task.DeriveID("app", "Fix login bug"))
	if err != nil {
		t.Fatal(err)
	}

	// Same list again: nothing changed, so nothing should be touched.
	result, err := captureTodos(ctx, st, payload, "app")
	if err != nil {
		t.Fatal(err)
	}
	if result.Created != 0 || result.Updated != 0 {
		t.Errorf("re-capture result = %+v, want all zeros", result)
	}

	// The todo progressed: only the status moves, created_at survives.
	payload.Todos[0].Status = "completed"
	payload.Todos[0].ActiveForm = "Fixing login bug"
	result, err = captureTodos(ctx, st, payload, "app")
	if err != nil {
		t.Fatal(err)
	}
	if result.Created != 0 || result.Updated != 1 || result.Completed != 1 {
		t.Errorf("progress result = %+v, want 1 updated, 1 completed", result)
	}

	after, err := st.Get(task.DeriveID("app", "Fix login bug"))
	if err != nil {
		t.Fatal(err)
	}
	if !after.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at reset by re-capture: %v -> %v", first.CreatedAt, after.CreatedAt)
	}
	if after.CompletionReport != "Fixing login bug" {
		t.Errorf("completion_report = %q, want the active form", after.CompletionReport)
	}
}
