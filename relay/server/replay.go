// replay.go - Replay detection.
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
	"crypto/sha512"
	"sync"

	"github.com/katzenpost/hpqc/rand"
	"github.com/yawning/bloom"
	"gopkg.in/op/go-logging.v1"
)

const replayFilterFalsePositiveRate = 0.001

// replayFilter remembers the session keys of the onions the relay has
// processed.  A fresh session key is generated for every layer, so a
// repeated session key means a replayed onion, however the wrapped key
// was re-encoded.  Only a hash of each key is stored.
type replayFilter struct {
	sync.Mutex

	log  *logging.Logger
	f    *bloom.Filter
	mLn2 int
}

func newReplayFilter(log *logging.Logger, mLn2 int) (*replayFilter, error) {
	f, err := bloom.New(rand.Reader, mLn2, replayFilterFalsePositiveRate)
	if err != nil {
		return nil, err
	}
	return &replayFilter{log: log, f: f, mLn2: mLn2}, nil
}

// isReplay records tag, and returns true iff it was (probably) seen before.
func (r *replayFilter) isReplay(tag []byte) bool {
	h := sha512.Sum512_256(tag)

	r.Lock()
	defer r.Unlock()

	if r.f.Entries() >= r.f.MaxEntries() {
		// Saturated filters have an unacceptable false positive rate.
		f, err := bloom.New(rand.Reader, r.mLn2, replayFilterFalsePositiveRate)
		if err != nil {
			r.log.Errorf("Failed to replace replay filter: %v", err)
		} else {
			r.log.Noticef("Replay filter saturated after %d entries, replaced.", r.f.Entries())
			r.f = f
		}
	}
	return r.f.TestAndSet(h[:])
}
