package gitx

import (
	"context"
	"fmt"
	"strings"
)

// Pull fetches the remote and rebases local commits on top of it.
//
// With no remote configured, or no matching branch on the remote yet,
// Pull is a no-op. When the rebase hits a conflict it is aborted
// before returning, so the tree is always left at its pre-pull
// committed state; the returned ErrConflict is retryable.
func (r *Repo) Pull(ctx context.Context) error {
	// A leftover rebase from a crashed run would wedge every later
	// pull; clear it first.
	if r.inRebase() {
		r.logger.Printf("clearing leftover in-progress rebase")
		r.abortRebase()
	}

	if !r.HasRemote() {
		return nil
	}

	branch, err := r.currentBranch()
	if err != nil {
		return err
	}

	pullCtx, cancel := context.WithTimeout(ctx, r.netTimeout)
	defer cancel()

	output, err := r.run(pullCtx, 0, "pull", "--rebase", "origin", branch)
	if err != nil {
		text := string(output) + err.Error()
		lower := strings.ToLower(text)

		if strings.Contains(lower, "conflict") {
			r.abortRebase()
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		// The remote exists but has never seen this branch; nothing
		// to rebase onto.
		if strings.Contains(lower, "couldn't find remote ref") ||
			strings.Contains(lower, "no tracking information") {
			return nil
		}
		return classifyRemoteErr(pullCtx, err, text)
	}

	return nil
}

// Commit stages the given paths (relative to the tree root) and
// commits them. With no paths, all pending changes are staged.
// Nothing staged is not an error: the commit is skipped.
func (r *Repo) Commit(ctx context.Context, paths []string, message string) error {
	if message == "" {
		return fmt.Errorf("commit message is required")
	}

	addArgs := []string{"add", "-A"}
	if len(paths) > 0 {
		addArgs = append([]string{"add", "--"}, paths...)
	}
	if _, err := r.run(ctx, r.timeout, addArgs...); err != nil {
		return fmt.Errorf("failed to stage changes: %w", err)
	}

	// Exit status 1 from diff --cached --quiet means there is
	// something to commit.
	if _, err := r.run(ctx, r.timeout, "diff", "--cached", "--quiet"); err == nil {
		return nil
	}

	if _, err := r.run(ctx, r.timeout, "commit", "--no-gpg-sign", "-m", message); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}

	return nil
}

// Push pushes the current branch to origin. With no remote configured
// Push succeeds as a no-op. Rejections and network failures are
// classified but never roll back local commits; the next sync cycle
// retries.
func (r *Repo) Push(ctx context.Context) error {
	if !r.HasRemote() {
		return nil
	}

	pushCtx, cancel := context.WithTimeout(ctx, r.netTimeout)
	defer cancel()

	output, err := r.run(pushCtx, 0, "push", "origin", "HEAD")
	if err != nil {
		text := string(output) + err.Error()
		lower := strings.ToLower(text)

		if strings.Contains(lower, "rejected") || strings.Contains(lower, "non-fast-forward") {
			return fmt.Errorf("%w: %v", ErrPushRejected, err)
		}
		return classifyRemoteErr(pushCtx, err, text)
	}

	return nil
}
