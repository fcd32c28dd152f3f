// Package gitx wraps the git subprocess operations behind the task
// store: init or clone, pull with rebase, stage and commit, push, and
// conflict recovery. Every command runs with a bounded timeout and
// errors are classified into the sentinel errors in errors.go so that
// callers can tell retryable sync failures from real ones.
package gitx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Directories created inside a fresh working tree.
var baseLayout = []string{"tasks", "projects"}

// ignoreFile excludes build and editor artifacts from the tree.
const ignoreFile = "*.log.bak\n*.swp\n.DS_Store\n"

// Options configures a Repo.
type Options struct {
	// Timeout bounds local git commands. Default 30s.
	Timeout time.Duration

	// NetTimeout bounds commands that touch the network
	// (clone, fetch, pull, push). Default 60s.
	NetTimeout time.Duration

	// Logger for engine activity. Default: stderr with [gitx] prefix.
	Logger *log.Logger
}

func (o *Options) withDefaults() *Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.Timeout <= 0 {
		out.Timeout = 30 * time.Second
	}
	if out.NetTimeout <= 0 {
		out.NetTimeout = 60 * time.Second
	}
	if out.Logger == nil {
		out.Logger = log.New(os.Stderr, "[gitx] ", log.LstdFlags)
	}
	return &out
}

// Repo is a git working tree holding task documents. All methods issue
// git subprocess calls rooted at the tree; Repo itself holds no
// mutable state, so serialization is the caller's responsibility.
type Repo struct {
	root       string
	timeout    time.Duration
	netTimeout time.Duration
	logger     *log.Logger
}

// Root returns the working tree path.
func (r *Repo) Root() string {
	return r.root
}

// Ensure opens the working tree at root, creating it if needed.
//
// If root is not yet a repository and remoteURL is set, the remote is
// cloned; when the clone fails (or no remote is known) a fresh
// repository is initialized with the base layout, an ignore file, and
// an initial commit. An already existing repository is left as is,
// except that origin is pointed at remoteURL when the two differ.
func Ensure(root, remoteURL string, opts *Options) (*Repo, error) {
	o := opts.withDefaults()
	r := &Repo{
		root:       root,
		timeout:    o.Timeout,
		netTimeout: o.NetTimeout,
		logger:     o.Logger,
	}

	if r.isRepo() {
		if err := r.ensureIdentity(); err != nil {
			return nil, err
		}
		if remoteURL != "" {
			if current, _ := r.RemoteURL(); current != remoteURL {
				if err := r.SetRemote(remoteURL); err != nil {
					return nil, err
				}
			}
		}
		return r, nil
	}

	if remoteURL != "" {
		if err := r.clone(remoteURL); err == nil {
			if err := r.ensureIdentity(); err != nil {
				return nil, err
			}
			// A clone of an empty remote has an unborn HEAD; seed it
			// so pull --rebase has a root to build on.
			if _, err := r.Head(); err != nil {
				if err := r.seedInitialCommit(); err != nil {
					return nil, err
				}
			}
			return r, nil
		} else {
			r.logger.Printf("clone of %s failed, initializing fresh repository: %v", remoteURL, err)
		}
	}

	if err := r.initFresh(); err != nil {
		return nil, err
	}
	if remoteURL != "" {
		if err := r.SetRemote(remoteURL); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// isRepo reports whether root contains a git repository.
func (r *Repo) isRepo() bool {
	info, err := os.Stat(filepath.Join(r.root, ".git"))
	return err == nil && info.IsDir()
}

// clone clones remoteURL into root. Root must not already contain a
// repository; an existing non-empty directory makes clone fail and the
// caller falls back to init.
func (r *Repo) clone(remoteURL string) error {
	parent := filepath.Dir(r.root)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", parent, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.netTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "clone", remoteURL, r.root)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return classifyRemoteErr(ctx, fmt.Errorf("git clone failed: %w\n%s", err, output), string(output))
	}

	// A cloned tree may predate the base layout.
	for _, dir := range baseLayout {
		if err := os.MkdirAll(filepath.Join(r.root, dir), 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// initFresh initializes a new repository with the base layout and an
// initial commit so that pull --rebase has a root to build on.
func (r *Repo) initFresh() error {
	if err := os.MkdirAll(r.root, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", r.root, err)
	}

	if _, err := r.run(context.Background(), r.timeout, "init"); err != nil {
		return fmt.Errorf("git init failed: %w", err)
	}
	if err := r.ensureIdentity(); err != nil {
		return err
	}

	return r.seedInitialCommit()
}

// seedInitialCommit lays down the base directories and ignore file and
// commits them as the repository's first commit.
func (r *Repo) seedInitialCommit() error {
	for _, dir := range baseLayout {
		if err := os.MkdirAll(filepath.Join(r.root, dir), 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	ignorePath := filepath.Join(r.root, ".gitignore")
	if _, err := os.Stat(ignorePath); os.IsNotExist(err) {
		if err := os.WriteFile(ignorePath, []byte(ignoreFile), 0644); err != nil {
			return fmt.Errorf("failed to write .gitignore: %w", err)
		}
	}

	if _, err := r.run(context.Background(), r.timeout, "add", ".gitignore"); err != nil {
		return fmt.Errorf("git add failed: %w", err)
	}
	if _, err := r.run(context.Background(), r.timeout,
		"commit", "--no-gpg-sign", "-m", "Initial commit: task repository setup"); err != nil {
		return fmt.Errorf("initial commit failed: %w", err)
	}

	return nil
}

// ensureIdentity sets a repo-local committer identity when the
// environment provides none, so commits never fail on fresh machines.
func (r *Repo) ensureIdentity() error {
	if out, err := r.run(context.Background(), r.timeout, "config", "user.email"); err == nil && len(bytes.TrimSpace(out)) > 0 {
		return nil
	}

	if _, err := r.run(context.Background(), r.timeout, "config", "user.email", "tasksmith@localhost"); err != nil {
		return fmt.Errorf("failed to set user.email: %w", err)
	}
	if _, err := r.run(context.Background(), r.timeout, "config", "user.name", "tasksmith"); err != nil {
		return fmt.Errorf("failed to set user.name: %w", err)
	}
	return nil
}

// run executes a git command rooted at the working tree with the given
// timeout. Stderr is folded into the returned error.
func (r *Repo) run(ctx context.Context, timeout time.Duration, args ...string) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.root

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("git %s: %w", args[0], ErrTimeout)
		}
		if stderr.Len() > 0 {
			return stdout.Bytes(), fmt.Errorf("git %s failed: %w: %s",
				strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
		}
		return stdout.Bytes(), fmt.Errorf("git %s failed: %w", strings.Join(args, " "), err)
	}

	return stdout.Bytes(), nil
}

// HasRemote reports whether any remote is configured.
func (r *Repo) HasRemote() bool {
	output, err := r.run(context.Background(), r.timeout, "remote")
	if err != nil {
		return false
	}
	return len(bytes.TrimSpace(output)) > 0
}

// RemoteURL returns the fetch URL of origin, or "" when unset.
func (r *Repo) RemoteURL() (string, error) {
	output, err := r.run(context.Background(), r.timeout, "remote", "get-url", "origin")
	if err != nil {
		return "", nil
	}
	return strings.TrimSpace(string(output)), nil
}

// SetRemote points origin at url, replacing any existing origin.
func (r *Repo) SetRemote(url string) error {
	// Removal fails when origin does not exist yet; that is fine.
	_, _ = r.run(context.Background(), r.timeout, "remote", "remove", "origin")

	if _, err := r.run(context.Background(), r.timeout, "remote", "add", "origin", url); err != nil {
		return fmt.Errorf("failed to add remote: %w", err)
	}
	return nil
}

// HasChanges reports whether the working tree has uncommitted changes.
func (r *Repo) HasChanges() (bool, error) {
	output, err := r.run(context.Background(), r.timeout, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return len(bytes.TrimSpace(output)) > 0, nil
}

// CommitCount returns the number of commits on the current branch.
func (r *Repo) CommitCount() (int, error) {
	output, err := r.run(context.Background(), r.timeout, "rev-list", "--count", "HEAD")
	if err != nil {
		return 0, err
	}

	var n int
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%d", &n); err != nil {
		return 0, fmt.Errorf("unexpected rev-list output %q: %w", output, err)
	}
	return n, nil
}

// Head returns the commit hash of HEAD.
func (r *Repo) Head() (string, error) {
	output, err := r.run(context.Background(), r.timeout, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// currentBranch returns the checked-out branch name.
func (r *Repo) currentBranch() (string, error) {
	output, err := r.run(context.Background(), r.timeout, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// inRebase reports whether an in-progress rebase was left behind.
func (r *Repo) inRebase() bool {
	for _, dir := range []string{"rebase-merge", "rebase-apply"} {
		if _, err := os.Stat(filepath.Join(r.root, ".git", dir)); err == nil {
			return true
		}
	}
	return false
}

// abortRebase discards an in-progress rebase, restoring the tree to
// its pre-rebase committed state.
func (r *Repo) abortRebase() {
	if _, err := r.run(context.Background(), r.timeout, "rebase", "--abort"); err != nil {
		r.logger.Printf("rebase --abort failed: %v", err)
	}
}

// classifyRemoteErr maps network-ish git failures to sentinel errors.
func classifyRemoteErr(ctx context.Context, err error, output string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	lower := strings.ToLower(output)
	for _, marker := range []string{
		"could not resolve",
		"unable to access",
		"connection refused",
		"connection timed out",
		"could not read from remote",
		"operation timed out",
	} {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
		}
	}
	return err
}
