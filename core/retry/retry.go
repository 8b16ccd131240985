// retry.go - Bounded retry with exponential backoff.
// Copyright (C) 2026  The onionrelay authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package retry provides an explicit, bounded retry loop with exponential
// backoff for network operations such as the registry key fetch probe.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"github.com/katzenpost/hpqc/rand"
)

const (
	// DefaultMaxAttempts is the default attempt budget.
	DefaultMaxAttempts = 5

	// DefaultBaseDelay is the default delay after the first failed attempt.
	DefaultBaseDelay = 200 * time.Millisecond

	// DefaultMaxDelay caps the delay between attempts.
	DefaultMaxDelay = 2 * time.Second

	// DefaultJitter is the default jitter factor (0.0 to 1.0).
	DefaultJitter = 0.2
)

// ErrExhausted is wrapped by the error returned from Do when every attempt
// failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy is a retry policy.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay after the first failure, doubled after each
	// subsequent failure.
	BaseDelay time.Duration

	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration

	// Jitter is the jitter factor applied to each delay.
	Jitter float64
}

// DefaultPolicy returns the default Policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Jitter:      DefaultJitter,
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.  Do returns it unwrapped
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err}
}

// Do calls fn until it succeeds, returns a Permanent error, ctx is done, or
// the attempt budget is spent.  fn is passed the zero based attempt number.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if attempt == p.MaxAttempts-1 {
			break
		}
		t := time.NewTimer(Delay(p.BaseDelay, p.MaxDelay, p.Jitter, attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("retry: %w (last error: %v)", ctx.Err(), lastErr)
		case <-t.C:
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.MaxAttempts, lastErr)
}

// Delay calculates the delay for a given retry attempt using exponential
// backoff with jitter.
func Delay(baseDelay, maxDelay time.Duration, jitter float64, attempt int) time.Duration {
	delay := float64(baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	if jitter > 0 {
		r := rand.NewMath()
		delay *= 1 - jitter + r.Float64()*2*jitter
	}

	return time.Duration(delay)
}

// IsTransientError returns true if the error is likely transient, such as
// a refused connection or a timeout.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	transientPatterns := []string{
		"connection refused",
		"connection reset",
		"connection timed out",
		"timeout",
		"no route to host",
		"network is unreachable",
		"eof",
		"broken pipe",
	}
	lowerErr := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(lowerErr, pattern) {
			return true
		}
	}
	return false
}
