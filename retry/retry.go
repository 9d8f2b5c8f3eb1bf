// Package retry retries backing-store calls with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// ErrExhausted is matched by errors returned once every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy describes how an operation is retried. The zero value makes one
// attempt.
type Policy struct {
	// Attempts is the total number of calls, including the first.
	Attempts int
	// Base is the delay before the second attempt; it doubles afterwards.
	Base time.Duration
	// Max caps the delay between attempts.
	Max time.Duration
	// Jitter randomizes each delay by up to +/- Jitter of its value.
	Jitter float64
}

// Default is used by the cluster package for reconciliation.
var Default = Policy{
	Attempts: 3,
	Base:     100 * time.Millisecond,
	Max:      5 * time.Second,
	Jitter:   0.2,
}

// Error reports the last failure of an exhausted or permanent operation.
type Error struct {
	Attempts int
	Last     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempt(s): %v", e.Attempts, e.Last)
}

func (e *Error) Unwrap() []error {
	return []error{ErrExhausted, e.Last}
}

// Permanent marks err so that Do stops retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err}
}

type permanentError struct {
	error
}

func (e *permanentError) Unwrap() error { return e.error }

// Do calls fn until it succeeds, returns a Permanent error, ctx is done or
// the attempts are used up.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)
	var last error
	for i := range attempts {
		if i > 0 {
			t := time.NewTimer(p.delay(i))
			select {
			case <-ctx.Done():
				t.Stop()
				return &Error{Attempts: i, Last: errors.Join(last, ctx.Err())}
			case <-t.C:
			}
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		last = err
		var perm *permanentError
		if errors.As(err, &perm) {
			return &Error{Attempts: i + 1, Last: perm.error}
		}
	}
	return &Error{Attempts: attempts, Last: last}
}

// delay returns the wait before attempt i (i >= 1).
func (p Policy) delay(i int) time.Duration {
	d := p.Base << (i - 1)
	if d <= 0 || (p.Max > 0 && d > p.Max) {
		d = p.Max
	}
	if p.Jitter > 0 && d > 0 {
		j := float64(d) * min(p.Jitter, 1)
		d = time.Duration(float64(d) - j + rand.Float64()*2*j)
	}
	return d
}
