// path_test.go - Path selection tests.
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

package path

import (
	"testing"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/onionrelay/onionrelay/core/pki"
)

func testNodes(n int) []*pki.Node {
	nodes := make([]*pki.Node, 0, n)
	for i := 0; i < n; i++ {
		nodes = append(nodes, &pki.Node{
			Address: pki.Address{Host: "127.0.0.1", Port: uint16(8001 + i)},
		})
	}
	return nodes
}

func TestBuild(t *testing.T) {
	require := require.New(t)
	rng := rand.NewMath()

	nodes := testNodes(5)
	for i := 0; i < 100; i++ {
		p, err := Build(rng, nodes, DefaultLength)
		require.NoError(err)
		require.Len(p, DefaultLength)

		seen := make(map[pki.Address]bool)
		for _, n := range p {
			require.False(seen[n.Address], "duplicate hop %v", n.Address)
			seen[n.Address] = true
		}
		require.Equal(p[0], p.Entry())
		require.Equal(p[2], p.Exit())
	}

	p, err := Build(rng, nodes[:3], 3)
	require.NoError(err)
	require.Len(p, 3)
}

func TestBuildCoversAllNodes(t *testing.T) {
	require := require.New(t)
	rng := rand.NewMath()

	nodes := testNodes(4)
	counts := make(map[pki.Address]int)
	for i := 0; i < 400; i++ {
		p, err := Build(rng, nodes, 1)
		require.NoError(err)
		counts[p[0].Address]++
	}
	require.Len(counts, 4)
}

func TestBuildInsufficient(t *testing.T) {
	require := require.New(t)
	rng := rand.NewMath()

	_, err := Build(rng, testNodes(2), 3)
	require.ErrorIs(err, ErrInsufficientNodes)

	// Duplicated addresses only count once.
	nodes := testNodes(2)
	nodes = append(nodes, &pki.Node{Address: nodes[0].Address})
	_, err = Build(rng, nodes, 3)
	require.ErrorIs(err, ErrInsufficientNodes)

	_, err = Build(rng, nil, 1)
	require.ErrorIs(err, ErrInsufficientNodes)

	_, err = Build(rng, testNodes(3), 0)
	require.Error(err)
	require.NotErrorIs(err, ErrInsufficientNodes)
}
