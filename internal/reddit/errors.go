package reddit

import (
	"errors"
	"fmt"
)

var (
	// ErrNetworkUnavailable marks transport failures where no response was
	// received at all. The queue halts its pass on this instead of burning a
	// retry on the job.
	ErrNetworkUnavailable = errors.New("network unavailable")

	// ErrTimeout marks an attempt aborted by the per-request deadline.
	ErrTimeout = errors.New("request timed out")

	// ErrRateLimited marks a 429 that survived every local retry.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// StatusError is a terminal non-2xx response other than 429.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from listing API", e.Code)
}
