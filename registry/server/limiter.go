// limiter.go - Per caller rate limiting.
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

package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

// hostLimiter applies a token bucket per caller host, and periodically
// evicts idle buckets.
type hostLimiter struct {
	sync.Mutex

	limit  rate.Limit
	burst  int
	byHost map[string]*limiterEntry
	hits   uint64
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newHostLimiter returns nil, which allows everything, if rps or burst is
// not positive.
func newHostLimiter(rps float64, burst int) *hostLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &hostLimiter{
		limit:  rate.Limit(rps),
		burst:  burst,
		byHost: make(map[string]*limiterEntry),
	}
}

func (l *hostLimiter) allow(host string, now time.Time) bool {
	if l == nil {
		return true
	}

	l.Lock()
	defer l.Unlock()

	e, ok := l.byHost[host]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byHost[host] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-limiterIdleTTL)
		for k, v := range l.byHost {
			if v.lastSeen.Before(cutoff) {
				delete(l.byHost, k)
			}
		}
	}
	return allowed
}
