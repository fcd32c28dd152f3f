package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tasksmith/tasksmith/internal/gitx"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync the task repository with its remote",
	Long: `Pull remote changes, commit anything outstanding, and push.

Requires remote_url to be set:
  tasksmith config set remote_url git@github.com:you/tasks.git`,
	Run: func(cmd *cobra.Command, args []string) {
		st, _, err := openStore()
		if err != nil {
			fatalf("%v", err)
		}

		if !st.Repo().HasRemote() {
			fatalf("no remote configured; run: tasksmith config set remote_url <url>")
		}

		if err := st.Sync(cmd.Context(), true); err != nil {
			if errors.Is(err, gitx.ErrConflict) {
				fatalf("sync conflict: remote changes clashed with local ones; the rebase was aborted, rerun after resolving")
			}
			fatalf("sync failed: %v", err)
		}
		fmt.Println("Sync complete")
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync configuration and repository state",
	Run: func(cmd *cobra.Command, args []string) {
		st, settings, err := openStore()
		if err != nil {
			fatalf("%v", err)
		}

		s, err := settings.Settings()
		if err != nil {
			fatalf("%v", err)
		}

		repo := st.Repo()
		fmt.Printf("repository:  %s\n", repo.Root())
		if url, err := repo.RemoteURL(); err == nil && url != "" {
			fmt.Printf("remote:      %s\n", url)
		} else {
			fmt.Println("remote:      (not configured)")
		}

		dirty, err := repo.HasChanges()
		if err != nil {
			fatalf("%v", err)
		}
		if dirty {
			fmt.Println("working tree: has uncommitted changes")
		} else {
			fmt.Println("working tree: clean")
		}

		if count, err := repo.CommitCount(); err == nil {
			fmt.Printf("commits:     %d\n", count)
		}

		fmt.Printf("auto-sync:   enabled=%v every %d minutes\n", s.AutoSyncEnabled, s.AutoSyncIntervalMins)
	},
}

func init() {
	syncCmd.AddCommand(syncStatusCmd)
	rootCmd.AddCommand(syncCmd)
}
