// path.go - Relay path selection.
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

// Package path selects the relays an onion travels through.
package path

import (
	"errors"
	"fmt"
	mRand "math/rand"
	"strings"

	"github.com/onionrelay/onionrelay/core/pki"
)

// DefaultLength is the default number of relays in a path.
const DefaultLength = 3

// ErrInsufficientNodes is the error returned when there are fewer distinct
// relays than the requested path length.
var ErrInsufficientNodes = errors.New("path: insufficient nodes")

// Path is an ordered list of distinct relays, entry first and exit last.
type Path []*pki.Node

// Entry returns the relay the onion is sent to.
func (p Path) Entry() *pki.Node {
	return p[0]
}

// Exit returns the relay that delivers the payload.
func (p Path) Exit() *pki.Node {
	return p[len(p)-1]
}

// String returns the hop addresses, suitable for debugging.
func (p Path) String() string {
	s := make([]string, 0, len(p))
	for _, n := range p {
		s = append(s, n.Address.String())
	}
	return "[" + strings.Join(s, " -> ") + "]"
}

// Build samples n distinct relays uniformly at random from nodes.  Entries
// sharing an address count once.  rng should be a CSPRNG backed source such
// as the one returned by hpqc/rand.NewMath.
func Build(rng *mRand.Rand, nodes []*pki.Node, n int) (Path, error) {
	if n < 1 {
		return nil, fmt.Errorf("path: invalid length %d", n)
	}

	seen := make(map[pki.Address]bool, len(nodes))
	pool := make([]*pki.Node, 0, len(nodes))
	for _, v := range nodes {
		if v == nil || seen[v.Address] {
			continue
		}
		seen[v.Address] = true
		pool = append(pool, v)
	}
	if len(pool) < n {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientNodes, len(pool), n)
	}

	// Partial Fisher-Yates: the first n slots end up holding a uniform
	// sample without replacement.
	for i := 0; i < n; i++ {
		j := i + rng.Intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return Path(pool[:n:n]), nil
}
