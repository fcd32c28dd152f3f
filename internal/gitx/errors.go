package gitx

import "errors"

// Sentinel errors returned by sync engine operations. Check with
// errors.Is; most callers only need to distinguish retryable
// conditions from real failures.
var (
	// ErrNotRepo is returned when the directory is not a git repository.
	ErrNotRepo = errors.New("not a git repository")

	// ErrNoRemote is returned when an operation explicitly requires a
	// remote but none is configured.
	ErrNoRemote = errors.New("no remote configured")

	// ErrConflict is returned when a rebase could not be completed
	// automatically. The rebase is aborted before returning, leaving
	// the working tree at its last good commit.
	ErrConflict = errors.New("rebase conflict")

	// ErrPushRejected is returned when the remote refuses a push,
	// typically a non-fast-forward update. Local commits are kept.
	ErrPushRejected = errors.New("push rejected by remote")

	// ErrRemoteUnavailable is returned when the remote cannot be
	// reached. Local state stays committed and the next cycle retries.
	ErrRemoteUnavailable = errors.New("remote unavailable")

	// ErrTimeout is returned when a git command exceeds its deadline.
	ErrTimeout = errors.New("git operation timed out")
)

// IsRetryable reports whether the error is expected to clear on a
// later sync cycle without user intervention beyond, at most,
// resolving divergent history.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrPushRejected) ||
		errors.Is(err, ErrRemoteUnavailable) ||
		errors.Is(err, ErrTimeout)
}
