package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tasksmith/tasksmith/internal/store"
	"github.com/tasksmith/tasksmith/internal/task"
)

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a task",
	Long: `Create a task. The id is derived from the project and name, so
creating the same task twice updates it in place instead of duplicating it.

Due dates accept YYYY-MM-DD or natural language:
  tasksmith create "File taxes" --due "in 2 weeks"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		st, _, err := openStore()
		if err != nil {
			fatalf("%v", err)
		}

		project, _ := cmd.Flags().GetString("project")
		description, _ := cmd.Flags().GetString("description")
		parentID, _ := cmd.Flags().GetString("parent")
		priority, _ := cmd.Flags().GetInt("priority")
		due, _ := cmd.Flags().GetString("due")
		action, _ := cmd.Flags().GetString("action")

		id, err := st.Create(cmd.Context(), store.CreateOptions{
			Name:           args[0],
			Description:    description,
			Project:        project,
			ParentID:       parentID,
			Priority:       priority,
			DueDate:        due,
			ActionRequired: action,
		})
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Created task %s: %s\n", id, args[0])
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Run: func(cmd *cobra.Command, args []string) {
		st, _, err := openStore()
		if err != nil {
			fatalf("%v", err)
		}

		status, _ := cmd.Flags().GetString("status")
		project, _ := cmd.Flags().GetString("project")
		category, _ := cmd.Flags().GetString("category")
		limit, _ := cmd.Flags().GetInt("limit")
		all, _ := cmd.Flags().GetBool("all")

		tasks, err := st.List(store.ListFilter{
			Status:          task.Status(status),
			Project:         project,
			Category:        category,
			Limit:           limit,
			IncludeSubtasks: all,
		})
		if err != nil {
			fatalf("%v", err)
		}

		if len(tasks) == 0 {
			fmt.Println("No tasks found")
			return
		}
		for _, t := range tasks {
			printTaskLine(t)
		}
		if skipped := st.SkippedCount(); skipped > 0 {
			fmt.Printf("(%d corrupt document(s) skipped)\n", skipped)
		}
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a task and its subtasks",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		st, _, err := openStore()
		if err != nil {
			fatalf("%v", err)
		}

		t, err := st.Get(args[0])
		if err != nil {
			fatalf("%v", err)
		}

		fmt.Printf("%s  %s\n", t.ID, t.Name)
		fmt.Printf("  status:   %s\n", t.Status)
		fmt.Printf("  project:  %s\n", t.Project)
		fmt.Printf("  category: %s\n", t.Category)
		fmt.Printf("  priority: %d\n", t.Priority)
		fmt.Printf("  created:  %s\n", t.CreatedAt.Format("2006-01-02 15:04"))
		if t.DueDate != "" {
			fmt.Printf("  due:      %s\n", t.DueDate)
		}
		if t.Description != "" {
			fmt.Printf("  %s\n", t.Description)
		}
		if t.CompletedAt != nil {
			fmt.Printf("  completed: %s\n", t.CompletedAt.Format("2006-01-02 15:04"))
			if t.CompletionReport != "" {
				fmt.Printf("  report:    %s\n", t.CompletionReport)
			}
		}

		subs, err := st.Subtasks(t.ID)
		if err != nil {
			fatalf("%v", err)
		}
		if len(subs) > 0 {
			fmt.Println("  subtasks:")
			for _, sub := range subs {
				fmt.Printf("    %s %s  %s\n", statusMark(sub.Status), sub.ID, sub.Name)
			}
		}
	},
}

var doneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a task completed",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		st, _, err := openStore()
		if err != nil {
			fatalf("%v", err)
		}

		report, _ := cmd.Flags().GetString("report")
		ok, err := st.UpdateStatus(cmd.Context(), args[0], task.StatusCompleted, report)
		if err != nil {
			fatalf("%v", err)
		}
		if !ok {
			fatalf("task %s not found", args[0])
		}
		fmt.Printf("Completed %s\n", args[0])
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <id> <status>",
	Short: "Set a task's status (pending, in_progress, completed)",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		st, _, err := openStore()
		if err != nil {
			fatalf("%v", err)
		}

		report, _ := cmd.Flags().GetString("report")
		ok, err := st.UpdateStatus(cmd.Context(), args[0], task.Status(args[1]), report)
		if err != nil {
			fatalf("%v", err)
		}
		if !ok {
			fatalf("task %s not found", args[0])
		}
		fmt.Printf("Updated %s to %s\n", args[0], args[1])
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a task and its subtasks",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		st, _, err := openStore()
		if err != nil {
			fatalf("%v", err)
		}

		ok, err := st.Delete(cmd.Context(), args[0])
		if err != nil {
			fatalf("%v", err)
		}
		if !ok {
			fatalf("task %s not found", args[0])
		}
		fmt.Printf("Deleted %s\n", args[0])
	},
}

func printTaskLine(t *task.Task) {
	var extras []string
	if t.Project != "" {
		extras = append(extras, t.Project)
	}
	if t.DueDate != "" {
		extras = append(extras, "due "+t.DueDate)
	}
	suffix := ""
	if len(extras) > 0 {
		suffix = "  (" + strings.Join(extras, ", ") + ")"
	}
	fmt.Printf("%s %s  p%d  %s%s\n", statusMark(t.Status), t.ID, t.Priority, t.Name, suffix)
}

func statusMark(s task.Status) string {
	switch s {
	case task.StatusCompleted:
		return "[x]"
	case task.StatusInProgress:
		return "[~]"
	default:
		return "[ ]"
	}
}

func init() {
	createCmd.Flags().StringP("project", "p", "", "Project the task belongs to")
	createCmd.Flags().StringP("description", "d", "", "Task description")
	createCmd.Flags().String("parent", "", "Parent task id (makes this a subtask)")
	createCmd.Flags().Int("priority", 0, "Priority (higher sorts first)")
	createCmd.Flags().String("due", "", "Due date (YYYY-MM-DD or natural language)")
	createCmd.Flags().String("action", "", "Action required from the user")

	listCmd.Flags().StringP("status", "s", "", "Filter by status")
	listCmd.Flags().StringP("project", "p", "", "Filter by project")
	listCmd.Flags().StringP("category", "c", "", "Filter by category")
	listCmd.Flags().IntP("limit", "n", 0, "Limit results")
	listCmd.Flags().BoolP("all", "a", false, "Include subtasks")

	doneCmd.Flags().StringP("report", "r", "", "Completion report")
	statusCmd.Flags().StringP("report", "r", "", "Completion report (only for completed)")

	rootCmd.AddCommand(createCmd, listCmd, showCmd, doneCmd, statusCmd, deleteCmd)
}
