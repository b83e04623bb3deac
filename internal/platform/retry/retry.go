// Package retry runs calls with bounded retries and exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy controls attempts and backoff. Attempts counts the first call.
type Policy struct {
	Attempts  int
	Backoff   time.Duration // delay before the second attempt
	MaxDelay  time.Duration // cap on a single delay; 0 = uncapped
	Retryable func(error) bool
}

func (p Policy) attempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

func (p Policy) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// Delay returns the wait before attempt n (n >= 1 is the first retry).
func (p Policy) Delay(n int) time.Duration {
	if p.Backoff <= 0 || n < 1 {
		return 0
	}
	d := p.Backoff << (n - 1)
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		d = p.MaxDelay
	}
	return d
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts are used up. It returns the number of calls made and the last error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) (int, error) {
	var err error
	n := p.attempts()
	for i := 0; i < n; i++ {
		if i > 0 {
			if werr := Sleep(ctx, p.Delay(i)); werr != nil {
				return i, werr
			}
		}
		if err = fn(ctx); err == nil {
			return i + 1, nil
		}
		if !p.retryable(err) {
			return i + 1, err
		}
	}
	return n, err
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Batch outcome statuses.
const (
	StatusSucceeded = "succeeded"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// Outcome summarises a batched run.
type Outcome struct {
	Status    string `json:"status"`
	Succeeded int    `json:"succeeded"` // items in batches that eventually succeeded
	Failed    int    `json:"failed"`
	Batches   int    `json:"batches"`
	Attempts  int    `json:"attempts"`
	Err       error  `json:"-"` // last batch error, if any
}

// Batches splits [0, total) into batches of size and runs fn on each under
// policy p. A batch that keeps failing is counted and skipped; the run only
// stops early when ctx is done.
func Batches(ctx context.Context, p Policy, total, size int, fn func(ctx context.Context, lo, hi int) error) Outcome {
	var out Outcome
	if size <= 0 {
		size = total
	}
	for lo := 0; lo < total; lo += size {
		hi := min(lo+size, total)
		if ctx.Err() != nil {
			out.Failed += total - lo
			out.Err = ctx.Err()
			break
		}
		out.Batches++
		calls, err := Do(ctx, p, func(ctx context.Context) error { return fn(ctx, lo, hi) })
		out.Attempts += calls
		if err != nil {
			out.Failed += hi - lo
			out.Err = err
			continue
		}
		out.Succeeded += hi - lo
	}

	switch {
	case out.Failed == 0:
		out.Status = StatusSucceeded
	case out.Succeeded == 0:
		out.Status = StatusFailed
	default:
		out.Status = StatusPartial
	}
	return out
}
