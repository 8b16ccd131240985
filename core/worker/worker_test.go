// worker_test.go - Background worker tests.
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

package worker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerHalt(t *testing.T) {
	require := require.New(t)

	var w Worker
	var stopped int32
	for i := 0; i < 4; i++ {
		w.Go(func() {
			<-w.HaltCh()
			atomic.AddInt32(&stopped, 1)
		})
	}
	w.Halt()
	require.Equal(int32(4), atomic.LoadInt32(&stopped))

	// A second Halt is harmless.
	w.Halt()
}

func TestWorkerSleepAndContext(t *testing.T) {
	require := require.New(t)

	var w Worker
	require.True(w.Sleep(time.Millisecond))

	ctx, cancel := w.Context()
	defer cancel()

	done := make(chan bool, 1)
	w.Go(func() {
		done <- w.Sleep(time.Hour)
	})
	w.Halt()
	require.False(<-done)

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context was not cancelled by Halt")
	}
}
