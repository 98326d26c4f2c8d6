package domain

import "errors"

// Error taxonomy for the export core.
var (
	// ErrFormat marks a malformed filename or path. Local and never
	// fatal: loud when constructing from trusted input, a skip when
	// scanning unrecognized junk.
	ErrFormat = errors.New("format error")

	// ErrInvariant marks a programmer error, e.g. formatting a filename
	// for a kind that was never recorded, or an activity ID mismatch.
	ErrInvariant = errors.New("invariant violation")

	// ErrNotTracked is returned by operations that require the activity
	// to have been observed first.
	ErrNotTracked = errors.New("activity not tracked")

	// ErrRateLimited signals upstream throttling. The current pass
	// aborts; the next scheduled run retries from the unchanged
	// watermark. There is no in-pass retry or backoff.
	ErrRateLimited = errors.New("rate limited by upstream")
)

// AuthError reports a failed or expired upstream session. The activity
// source recovers from it by re-authenticating below the FetchPage /
// FetchTrackBytes boundary; if it still surfaces, the session could
// not be re-established.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return "auth failure during " + e.Op + ": " + e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
