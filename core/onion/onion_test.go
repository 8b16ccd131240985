// onion_test.go - Onion construction tests.
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

package onion

import (
	"testing"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/onionrelay/onionrelay/core/crypto/hybrid"
	"github.com/onionrelay/onionrelay/core/pki"
)

type testRelay struct {
	node *pki.Node
	key  *hybrid.PrivateKey
}

func newTestRelays(t *testing.T, n int) []*testRelay {
	relays := make([]*testRelay, 0, n)
	for i := 0; i < n; i++ {
		k, err := hybrid.GenerateKeypair(rand.Reader)
		require.NoError(t, err)
		relays = append(relays, &testRelay{
			node: &pki.Node{
				Address:   pki.Address{Host: "127.0.0.1", Port: uint16(8001 + i)},
				PublicKey: k.PublicKey().PEM(),
			},
			key: k,
		})
	}
	return relays
}

// route runs an onion through relays the way the relay engine does, and
// returns the response as seen by the client along with the number of
// decryptions performed.
func route(t *testing.T, relays []*testRelay, wire []byte, mode ResponseMode, deliver func([]byte) []byte) ([]byte, int) {
	require := require.New(t)

	byAddr := make(map[pki.Address]*testRelay)
	for _, r := range relays {
		byAddr[r.node.Address] = r
	}

	var hop func(r *testRelay, b []byte) []byte
	decrypts := 0
	hop = func(r *testRelay, b []byte) []byte {
		pt, sk, err := hybrid.Decrypt(b, r.key)
		require.NoError(err)
		decrypts++
		env, err := Decode(pt)
		require.NoError(err)

		if env.IsFinal() {
			resp, err := sk.Seal(rand.Reader, deliver(env.Payload))
			require.NoError(err)
			return resp
		}
		next, ok := byAddr[*env.NextHop]
		require.True(ok)
		resp := hop(next, env.Payload)
		if mode == ResponsePassthrough {
			return resp
		}
		resp, err = sk.Seal(rand.Reader, resp)
		require.NoError(err)
		return resp
	}
	return hop(relays[0], wire), decrypts
}

func TestConstructPeel(t *testing.T) {
	relays := newTestRelays(t, 3)
	path := []*pki.Node{relays[0].node, relays[1].node, relays[2].node}
	echo := func(b []byte) []byte { return append([]byte("echo:"), b...) }

	for _, mode := range []ResponseMode{ResponseLayered, ResponsePassthrough} {
		t.Run(mode.String(), func(t *testing.T) {
			require := require.New(t)

			wire, keys, err := Construct(rand.Reader, path, []byte("GET /\n"))
			require.NoError(err)
			require.Len(keys, 3)

			resp, decrypts := route(t, relays, wire, mode, echo)
			require.Equal(3, decrypts)

			pt, err := Peel(resp, keys, mode)
			require.NoError(err)
			require.Equal([]byte("echo:GET /\n"), pt)
		})
	}

	t.Run("wrong order", func(t *testing.T) {
		require := require.New(t)

		wire, keys, err := Construct(rand.Reader, path, []byte("x"))
		require.NoError(err)
		resp, _ := route(t, relays, wire, ResponseLayered, echo)

		reversed := []*hybrid.SessionKey{keys[2], keys[1], keys[0]}
		_, err = Peel(resp, reversed, ResponseLayered)
		require.ErrorIs(err, hybrid.ErrDecryption)

		_, err = Peel(resp, keys, ResponsePassthrough)
		require.ErrorIs(err, hybrid.ErrDecryption)
	})

	t.Run("entry cannot read payload", func(t *testing.T) {
		require := require.New(t)

		wire, _, err := Construct(rand.Reader, path, []byte("secret"))
		require.NoError(err)
		pt, _, err := hybrid.Decrypt(wire, relays[0].key)
		require.NoError(err)
		env, err := Decode(pt)
		require.NoError(err)
		require.Equal(relays[1].node.Address, *env.NextHop)
		require.NotContains(string(env.Payload), "secret")

		_, _, err = hybrid.Decrypt(wire, relays[1].key)
		require.ErrorIs(err, hybrid.ErrDecryption)
	})

	t.Run("single hop", func(t *testing.T) {
		require := require.New(t)

		wire, keys, err := Construct(rand.Reader, path[:1], []byte("direct"))
		require.NoError(err)
		resp, decrypts := route(t, relays[:1], wire, ResponseLayered, echo)
		require.Equal(1, decrypts)
		pt, err := Peel(resp, keys, ResponseLayered)
		require.NoError(err)
		require.Equal([]byte("echo:direct"), pt)
	})

	t.Run("empty path", func(t *testing.T) {
		_, _, err := Construct(rand.Reader, nil, []byte("x"))
		require.Error(t, err)
		_, err = Peel([]byte("x"), nil, ResponseLayered)
		require.ErrorIs(t, err, hybrid.ErrDecryption)
	})
}

func TestParseResponseMode(t *testing.T) {
	require := require.New(t)

	m, err := ParseResponseMode("")
	require.NoError(err)
	require.Equal(ResponseLayered, m)
	m, err = ParseResponseMode("Passthrough")
	require.NoError(err)
	require.Equal(ResponsePassthrough, m)
	_, err = ParseResponseMode("plaintext")
	require.Error(err)
}
