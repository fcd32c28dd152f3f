package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tasksmith/tasksmith/internal/store"
	"github.com/tasksmith/tasksmith/internal/task"
)

// capturePayload is the document read from stdin. YAML is a superset
// of JSON, so both encodings land here.
type capturePayload struct {
	SessionID string        `yaml:"session_id"`
	Project   string        `yaml:"project"`
	Todos     []captureItem `yaml:"todos"`
}

type captureItem struct {
	Name        string `yaml:"name"`
	Content     string `yaml:"content"` // alias for name
	Description string `yaml:"description"`
	Status      string `yaml:"status"`
	Priority    int    `yaml:"priority"`

	// ActiveForm is the in-progress phrasing of the todo ("Fixing the
	// login bug"); it becomes the completion report.
	ActiveForm string `yaml:"activeForm"`
}

// captureResult summarizes one ingestion run.
type captureResult struct {
	Created   int
	Updated   int
	Completed int
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Ingest a todo list from stdin",
	Long: `Read a YAML or JSON todo list from stdin and upsert each entry
as a task. New entries are created; entries whose task already exists
only get a status update, so feeding the same list repeatedly converges
instead of duplicating or resetting anything.

Payload shape:
  session_id: abc123        # optional
  project: my-app           # optional, --project overrides
  todos:
    - content: Fix login bug
      activeForm: Fixing login bug
      status: in_progress
    - content: Write release notes`,
	Run: func(cmd *cobra.Command, args []string) {
		st, _, err := openStore()
		if err != nil {
			fatalf("%v", err)
		}

		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			fatalf("failed to read stdin: %v", err)
		}

		payload, err := parseCapturePayload(raw)
		if err != nil {
			fatalf("%v", err)
		}
		if len(payload.Todos) == 0 {
			fmt.Println("Nothing to capture")
			return
		}

		project, _ := cmd.Flags().GetString("project")
		if project == "" {
			project = payload.Project
		}

		result, err := captureTodos(cmd.Context(), st, payload, project)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Captured %d new task(s), %d updated, %d completed\n",
			result.Created, result.Updated, result.Completed)
	},
}

func parseCapturePayload(raw []byte) (*capturePayload, error) {
	var payload capturePayload
	if err := yaml.Unmarshal(raw, &payload); err != nil {
		// A bare list works too.
		var items []captureItem
		if err2 := yaml.Unmarshal(raw, &items); err2 != nil {
			return nil, fmt.Errorf("failed to parse payload: %w", err)
		}
		payload.Todos = items
	}
	return &payload, nil
}

// captureTodos upserts each todo. Tasks that already exist keep their
// document and only get a status transition when the todo's status
// moved; new ones are created first. On completion the active form
// becomes the completion report.
func captureTodos(ctx context.Context, st *store.Store, payload *capturePayload, project string) (captureResult, error) {
	var result captureResult

	for _, item := range payload.Todos {
		name := item.Name
		if name == "" {
			name = item.Content
		}
		if name == "" {
			continue
		}

		status := task.Status(item.Status)
		if status == "" {
			status = task.StatusPending
		}
		if !status.Valid() {
			return result, fmt.Errorf("todo %q has invalid status %q", name, item.Status)
		}

		id := task.DeriveID(project, name)
		existing, err := st.Get(id)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return result, err
		}

		if existing == nil {
			if _, err := st.Create(ctx, store.CreateOptions{
				Name:        name,
				Description: item.Description,
				Project:     project,
				Priority:    item.Priority,
				SessionID:   payload.SessionID,
			}); err != nil {
				return result, fmt.Errorf("failed to capture %q: %w", name, err)
			}
			result.Created++
		} else if existing.Status == status {
			continue
		}

		if status != task.StatusPending || existing != nil {
			report := ""
			if status == task.StatusCompleted {
				report = item.ActiveForm
				if report == "" {
					report = name
				}
			}
			if _, err := st.UpdateStatus(ctx, id, status, report); err != nil {
				return result, fmt.Errorf("failed to set status for %q: %w", name, err)
			}
			if existing != nil {
				result.Updated++
			}
			if status == task.StatusCompleted {
				result.Completed++
			}
		}
	}

	return result, nil
}

func init() {
	captureCmd.Flags().StringP("project", "p", "", "Project for captured tasks")
	rootCmd.AddCommand(captureCmd)
}
