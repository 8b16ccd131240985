// pki_test.go - Relay identity tests.
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

package pki

import (
	"testing"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/onionrelay/onionrelay/core/crypto/hybrid"
)

func TestParseAddress(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want string
		ok   bool
	}{
		{"127.0.0.1:8001", "127.0.0.1:8001", true},
		{"[::1]:443", "[::1]:443", true},
		{"relay.example.com:80", "relay.example.com:80", true},
		{"127.0.0.1", "", false},
		{"127.0.0.1:0", "", false},
		{"127.0.0.1:70000", "", false},
		{":8001", "", false},
		{"bad\nhost:8001", "", false},
		{"relay_1.internal:8001", "relay_1.internal:8001", true},
		{"Relay.Example.COM:80", "relay.example.com:80", true},
	} {
		t.Run(tc.in, func(t *testing.T) {
			a, err := ParseAddress(tc.in)
			if !tc.ok {
				require.ErrorIs(t, err, ErrInvalidAddress)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, a.String())
		})
	}
}

func TestListing(t *testing.T) {
	require := require.New(t)

	k, err := hybrid.GenerateKeypair(rand.Reader)
	require.NoError(err)

	nodes := []*Node{
		{Address: Address{Host: "127.0.0.1", Port: 8002}, PublicKey: k.PublicKey().PEM()},
		{Address: Address{Host: "127.0.0.1", Port: 8001}, PublicKey: k.PublicKey().PEM()},
	}
	for _, n := range nodes {
		require.NoError(n.Validate())
	}

	b, err := NewListing(nodes).Marshal()
	require.NoError(err)
	require.Contains(string(b), "127.0.0.1:8001")

	got, bad, err := ParseListing(b)
	require.NoError(err)
	require.Zero(bad)
	require.Len(got, 2)
	require.Equal(uint16(8001), got[0].Address.Port)
	require.Equal(nodes[1].PublicKey, got[0].PublicKey)

	_, bad, err = ParseListing([]byte(`{"127.0.0.1:9000": "not a key", "nonsense": "x"}`))
	require.NoError(err)
	require.Equal(2, bad)

	_, _, err = ParseListing([]byte("<html>"))
	require.Error(err)

	t.Run("cbor", func(t *testing.T) {
		blob, err := nodes[0].MarshalBinary()
		require.NoError(err)
		n := new(Node)
		require.NoError(n.UnmarshalBinary(blob))
		require.Equal(nodes[0].Address, n.Address)
		require.Equal(nodes[0].PublicKey, n.PublicKey)
		require.NoError(n.Validate())

		require.Error(new(Node).UnmarshalBinary([]byte{0xff, 0x00}))
	})
}
