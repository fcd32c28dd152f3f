// Package scheduler runs the background sync loop.
//
// The scheduler:
// 1. Triggers a repository sync on a fixed interval
// 2. Watches tasks/ and projects/ for stray edits and sweeps them up
// 3. Isolates per-cycle failures so one bad sync never kills the loop
// 4. Handles graceful shutdown with a bounded grace period
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tasksmith/tasksmith/internal/gitx"
	"github.com/tasksmith/tasksmith/internal/store"
)

// Config holds configuration for the scheduler.
type Config struct {
	// Interval is how often to run a full sync cycle.
	Interval time.Duration

	// DebounceInterval is how long to wait before reacting to file changes.
	// This batches rapid external edits together.
	DebounceInterval time.Duration

	// StopGrace bounds how long Stop waits for an in-flight cycle.
	StopGrace time.Duration

	// SyncOnStartup runs one cycle immediately when the loop starts.
	SyncOnStartup bool

	// Logger for scheduler activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:         2 * time.Hour,
		DebounceInterval: 2 * time.Second,
		StopGrace:        5 * time.Second,
		SyncOnStartup:    true,
		Logger:           log.New(os.Stderr, "[scheduler] ", log.LstdFlags),
	}
}

// Status is a point-in-time report of the scheduler's state.
type Status struct {
	Running          bool      `json:"running"`
	RemoteConfigured bool      `json:"remote_configured"`
	Interval         string    `json:"interval"`
	LastSync         time.Time `json:"last_sync,omitzero"`
	LastError        string    `json:"last_error,omitempty"`
}

// Scheduler drives periodic repository syncs for a store.
type Scheduler struct {
	store  *store.Store
	config *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> timestamp
	changeQueueMu sync.Mutex

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastSync time.Time
	lastErr  error
}

// New creates a scheduler for the given store.
func New(st *store.Store, config *Config) (*Scheduler, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Interval <= 0 {
		config.Interval = 2 * time.Hour
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = 2 * time.Second
	}
	if config.StopGrace <= 0 {
		config.StopGrace = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[scheduler] ", log.LstdFlags)
	}

	return &Scheduler{
		store:       st,
		config:      config,
		changeQueue: make(map[string]time.Time),
	}, nil
}

// Start launches the background loop. Calling Start on a running
// scheduler is a no-op, so repeated starts never stack loops.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	root := s.store.Repo().Root()
	for _, dir := range []string{"tasks", "projects"} {
		if err := watcher.Add(filepath.Join(root, dir)); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch %s directory: %w", dir, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.watcher = watcher
	s.cancel = cancel
	s.running = true

	s.config.Logger.Printf("Starting sync loop (interval %s)", s.config.Interval)

	s.wg.Add(3)
	go s.runCycles(ctx)
	go s.watchFileEvents(ctx)
	go s.processChangeQueue(ctx)

	return nil
}

// Stop asks the loop to finish and waits up to StopGrace for it. A cycle
// that outlives the grace period is abandoned, not killed; Stop reports
// the timeout and returns.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.config.Logger.Println("Stopping sync loop")
	s.cancel()
	if err := s.watcher.Close(); err != nil {
		s.config.Logger.Printf("Error closing watcher: %v", err)
	}
	s.running = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.config.Logger.Println("Sync loop stopped")
		return nil
	case <-time.After(s.config.StopGrace):
		s.config.Logger.Printf("Sync loop did not stop within %s", s.config.StopGrace)
		return fmt.Errorf("scheduler stop timed out after %s", s.config.StopGrace)
	}
}

// SyncNow runs one sync cycle immediately. Unlike background cycles it
// fails loudly when no remote is configured.
func (s *Scheduler) SyncNow(ctx context.Context) error {
	if !s.store.Repo().HasRemote() {
		return gitx.ErrNoRemote
	}
	return s.runSync(ctx)
}

// Status reports the scheduler's current state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:          s.running,
		RemoteConfigured: s.store.Repo().HasRemote(),
		Interval:         s.config.Interval.String(),
		LastSync:         s.lastSync,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// runCycles is the main loop: one cycle per tick, failures logged and
// recorded but never fatal to the loop.
func (s *Scheduler) runCycles(ctx context.Context) {
	defer s.wg.Done()

	if s.config.SyncOnStartup {
		s.cycle(ctx)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

func (s *Scheduler) cycle(ctx context.Context) {
	if err := s.runSync(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.config.Logger.Printf("Sync cycle failed: %v", err)
	}
}

func (s *Scheduler) runSync(ctx context.Context) error {
	err := s.store.Sync(ctx, true)

	s.mu.Lock()
	s.lastErr = err
	if err == nil {
		s.lastSync = time.Now().UTC()
	}
	s.mu.Unlock()

	return err
}

// watchFileEvents monitors filesystem events and queues changes.
func (s *Scheduler) watchFileEvents(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}

			s.queueChange(event.Name)

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (s *Scheduler) queueChange(path string) {
	s.changeQueueMu.Lock()
	defer s.changeQueueMu.Unlock()

	s.changeQueue[path] = time.Now()
}

// processChangeQueue waits for queued edits to settle, then runs one
// sweep cycle to commit and push them.
func (s *Scheduler) processChangeQueue(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if s.drainSettledChanges() {
				s.cycle(ctx)
			}
		}
	}
}

// drainSettledChanges removes entries that have been quiet for a full
// debounce interval and reports whether any were drained.
func (s *Scheduler) drainSettledChanges() bool {
	s.changeQueueMu.Lock()
	defer s.changeQueueMu.Unlock()

	now := time.Now()
	drained := false
	for path, queuedAt := range s.changeQueue {
		if now.Sub(queuedAt) < s.config.DebounceInterval {
			continue
		}
		delete(s.changeQueue, path)
		drained = true
	}
	return drained
}
