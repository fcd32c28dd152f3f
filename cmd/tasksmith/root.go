package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/tasksmith/tasksmith/internal/config"
	"github.com/tasksmith/tasksmith/internal/gitx"
	"github.com/tasksmith/tasksmith/internal/store"
)

var (
	flagConfigDir string
	flagRepoPath  string
	flagQuiet     bool
)

var rootCmd = &cobra.Command{
	Use:   "tasksmith",
	Short: "Git-backed task tracker",
	Long: `tasksmith keeps tasks as JSON files in a git repository.

Every mutation is a commit, so the full history of your task list is
the repository history. Point remote_url at any git remote and the
same task list follows you across machines.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "Config directory (default ~/.config/tasksmith)")
	rootCmd.PersistentFlags().StringVar(&flagRepoPath, "repo", "", "Task repository path (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress progress logging")
}

func loadSettings() (*config.Manager, error) {
	return config.Load(flagConfigDir)
}

// openStore builds the store from config plus flags. Most commands go
// through here.
func openStore() (*store.Store, *config.Manager, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, nil, err
	}
	s, err := settings.Settings()
	if err != nil {
		return nil, nil, err
	}

	repoPath := s.RepoPath
	if flagRepoPath != "" {
		repoPath = flagRepoPath
	}

	logger := log.New(os.Stderr, "", 0)
	if flagQuiet {
		logger = log.New(io.Discard, "", 0)
	}

	repo, err := gitx.Ensure(repoPath, s.RemoteURL, &gitx.Options{Logger: logger})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open task repository: %w", err)
	}

	st, err := store.Open(repo, &store.Options{
		AutoPush: s.AutoPushOnChange,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return st, settings, nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
