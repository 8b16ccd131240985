// retry_test.go - Retry loop tests.
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

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastPolicy(n int) Policy {
	return Policy{MaxAttempts: n, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func TestDelay(t *testing.T) {
	require := require.New(t)

	baseDelay := 100 * time.Millisecond
	maxDelay := 1 * time.Second

	t.Run("exponential growth", func(t *testing.T) {
		require.Equal(100*time.Millisecond, Delay(baseDelay, maxDelay, 0, 0))
		require.Equal(200*time.Millisecond, Delay(baseDelay, maxDelay, 0, 1))
		require.Equal(400*time.Millisecond, Delay(baseDelay, maxDelay, 0, 2))
	})

	t.Run("max delay cap", func(t *testing.T) {
		require.Equal(maxDelay, Delay(baseDelay, maxDelay, 0, 10))
	})

	t.Run("jitter range", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			d := Delay(baseDelay, maxDelay, 0.2, 0)
			require.GreaterOrEqual(d, 80*time.Millisecond)
			require.LessOrEqual(d, 120*time.Millisecond)
		}
	})
}

func TestDoAttemptBudget(t *testing.T) {
	require := require.New(t)
	errProbe := errors.New("connection refused")

	t.Run("exhausted", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastPolicy(5), func(_ context.Context, attempt int) error {
			require.Equal(calls, attempt)
			calls++
			return errProbe
		})
		require.Equal(5, calls)
		require.ErrorIs(err, ErrExhausted)
		require.ErrorIs(err, errProbe)
	})

	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fastPolicy(5), func(context.Context, int) error {
			calls++
			if calls < 3 {
				return errProbe
			}
			return nil
		})
		require.NoError(err)
		require.Equal(3, calls)
	})

	t.Run("permanent stops early", func(t *testing.T) {
		errBad := errors.New("bad key")
		calls := 0
		err := Do(context.Background(), fastPolicy(5), func(context.Context, int) error {
			calls++
			return Permanent(errBad)
		})
		require.Equal(1, calls)
		require.Equal(errBad, err)
	})

	t.Run("context cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		p := Policy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}
		err := Do(ctx, p, func(context.Context, int) error { return errProbe })
		require.ErrorIs(err, context.Canceled)
	})
}

func TestIsTransientError(t *testing.T) {
	require := require.New(t)

	require.False(IsTransientError(nil))
	require.True(IsTransientError(errors.New("dial tcp 127.0.0.1:8080: connect: connection refused")))
	require.True(IsTransientError(errors.New("unexpected EOF")))
	require.True(IsTransientError(context.DeadlineExceeded))
	require.False(IsTransientError(errors.New("invalid certificate")))
}
