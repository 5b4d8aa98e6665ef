package object

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	minPollDelay = 10 * time.Millisecond
	// minReadTimeout is the budget a read gets even when it starts at the
	// deadline, so a version that appears just before the bound is seen.
	minReadTimeout = 50 * time.Millisecond
)

// Backoff controls the sleep between metadata reads.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

// DefaultBackoff starts at 50ms and doubles up to one second.
var DefaultBackoff = Backoff{
	Initial: 50 * time.Millisecond,
	Max:     time.Second,
	Factor:  2,
}

func (b Backoff) normalized() Backoff {
	if b.Initial < minPollDelay {
		b.Initial = minPollDelay
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.Factor < 1 {
		b.Factor = 1
	}
	return b
}

func (b Backoff) next(d time.Duration) time.Duration {
	d = time.Duration(float64(d) * b.Factor)
	if d > b.Max {
		return b.Max
	}
	return d
}

// ReadFunc reads the current metadata for a single key.
type ReadFunc func(ctx context.Context) (Metadata, error)

// Poll calls read until it returns metadata that differs from baseline or
// bound elapses. The first read happens immediately. Read errors other than ErrNotFound do
// not stop polling; the last one is reported alongside ErrTimeout.
func Poll(ctx context.Context, bound time.Duration, b Backoff, baseline *Metadata, read ReadFunc) (*Metadata, error) {
	b = b.normalized()
	deadline := time.Now().Add(bound)

	var (
		last    *Metadata
		lastErr error
		delay   = b.Initial
	)
	for {
		readCtx, cancel := context.WithTimeout(ctx, max(time.Until(deadline), minReadTimeout))
		m, err := read(readCtx)
		readErr := readCtx.Err()
		cancel()
		switch {
		case err == nil:
			last = &m
			if Changed(baseline, last) {
				return last, nil
			}
		case errors.Is(err, ErrNotFound):
			// absence never confirms a write
			last = nil
		default:
			if readErr == nil {
				lastErr = err
			}
		}

		if ctx.Err() != nil {
			return last, ctx.Err()
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return last, timeoutError(lastErr)
		}
		sleep := min(delay, remaining)

		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return last, ctx.Err()
		case <-t.C:
		}
		delay = b.next(delay)
	}
}

func timeoutError(lastErr error) error {
	if lastErr == nil {
		return ErrTimeout
	}
	return fmt.Errorf("%w (last read error: %v)", ErrTimeout, lastErr)
}
