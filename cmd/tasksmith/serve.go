package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tasksmith/tasksmith/internal/gitx"
	"github.com/tasksmith/tasksmith/internal/scheduler"
	"github.com/tasksmith/tasksmith/internal/server"
	"github.com/tasksmith/tasksmith/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and background sync loop",
	Long: `Run the HTTP API, WebSocket broadcasts, and the auto-sync loop
in the foreground until interrupted.

Example usage:
  tasksmith serve                # Listen on default port 8377
  tasksmith serve --port 9000    # Custom port

Connect a WebSocket client to receive real-time task updates:
  ws://localhost:8377/ws`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")
		logFile, _ := cmd.Flags().GetString("log-file")

		settings, err := loadSettings()
		if err != nil {
			fatalf("%v", err)
		}
		s, err := settings.Settings()
		if err != nil {
			fatalf("%v", err)
		}

		logWriter := io.Writer(os.Stderr)
		if logFile != "" {
			if logFile == "auto" {
				logFile = filepath.Join(filepath.Dir(settings.Path()), "serve.log")
			}
			logWriter = &lumberjack.Logger{
				Filename:   logFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     30, // days
			}
		}
		logger := log.New(logWriter, "[serve] ", log.LstdFlags)

		repoPath := s.RepoPath
		if flagRepoPath != "" {
			repoPath = flagRepoPath
		}
		repo, err := gitx.Ensure(repoPath, s.RemoteURL, &gitx.Options{Logger: logger})
		if err != nil {
			fatalf("failed to open task repository: %v", err)
		}

		// The server is created after the store, so changes route
		// through this indirection.
		var srv *server.Server
		st, err := store.Open(repo, &store.Options{
			AutoPush: s.AutoPushOnChange,
			Logger:   logger,
			OnChange: func(e store.Event) {
				if srv != nil {
					srv.OnStoreChange(e)
				}
			},
		})
		if err != nil {
			fatalf("%v", err)
		}

		sched, err := scheduler.New(st, &scheduler.Config{
			Interval:      settings.Interval(),
			SyncOnStartup: s.SyncOnStartup && repo.HasRemote(),
			Logger:        logger,
		})
		if err != nil {
			fatalf("%v", err)
		}

		// Assign srv before the scheduler starts: its first cycle can
		// fire the store's change hook, which reads srv.
		srv = server.NewServer(st, sched, settings, &server.Config{
			Port:   port,
			Logger: logger,
		})

		if s.AutoSyncEnabled {
			if err := sched.Start(); err != nil {
				fatalf("failed to start sync loop: %v", err)
			}
		}
		if err := srv.Start(); err != nil {
			fatalf("failed to start server: %v", err)
		}

		fmt.Printf("Server started on http://localhost:%d\n", port)
		fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", port)
		fmt.Printf("Health check: http://localhost:%d/health\n", port)
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		<-ctx.Done()

		fmt.Println("\nShutting down...")
		if err := srv.Stop(); err != nil {
			logger.Printf("Error during server shutdown: %v", err)
		}
		if err := sched.Stop(); err != nil {
			logger.Printf("Error during scheduler shutdown: %v", err)
		}

		// One last sweep so nothing is left uncommitted.
		if repo.HasRemote() || s.AutoSyncEnabled {
			shutdownCtx, cancelSweep := context.WithTimeout(context.Background(), 30*time.Second)
			if err := st.Sync(shutdownCtx, true); err != nil {
				logger.Printf("Final sync failed: %v", err)
			}
			cancelSweep()
		}

		fmt.Println("Server stopped")
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8377, "Port to listen on")
	serveCmd.Flags().String("log-file", "", "Rotate logs to this file instead of stderr (\"auto\" for the config dir)")

	rootCmd.AddCommand(serveCmd)
}
