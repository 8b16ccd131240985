// server_test.go - Relay server tests.
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
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/onionrelay/onionrelay/core/crypto/hybrid"
	"github.com/onionrelay/onionrelay/core/onion"
	"github.com/onionrelay/onionrelay/core/pki"
	"github.com/onionrelay/onionrelay/core/wire"
	"github.com/onionrelay/onionrelay/relay/deliver"
	"github.com/onionrelay/onionrelay/relay/server/config"
	"github.com/onionrelay/onionrelay/transport"
)

var echo = deliver.Func(func(_ context.Context, b []byte) ([]byte, error) {
	return append([]byte("echo:"), b...), nil
})

func newTestRelay(t *testing.T, d deliver.Deliverer, fn func(*config.Relay)) *Server {
	cfg := &config.Config{
		Relay: &config.Relay{
			Address:          "127.0.0.1:0",
			ForwardTimeout:   2000,
			ReplayFilterBits: 16,
		},
		Logging: &config.Logging{Disable: true},
	}
	if fn != nil {
		fn(cfg.Relay)
	}
	require.NoError(t, cfg.FixupAndValidate())

	s, err := New(cfg, d)
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)
	return s
}

func nodeOf(s *Server) *pki.Node {
	return &pki.Node{
		Address:   pki.Address{Host: "127.0.0.1", Port: s.Port()},
		PublicKey: s.PublicKey().PEM(),
	}
}

func send(t *testing.T, entry *pki.Node, b []byte) ([]byte, error) {
	tr, err := transport.New(transport.HTTP)
	require.NoError(t, err)
	defer tr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return tr.Post(ctx, entry.Address, "/", b)
}

func requireHopError(t *testing.T, err error, kind wire.Kind, status int) {
	e, ok := wire.AsHopError(err)
	require.True(t, ok, "expected a hop error, got: %v", err)
	require.Equal(t, kind, e.Kind)
	require.Equal(t, status, e.Status)
}

func TestRelayChain(t *testing.T) {
	for _, mode := range []onion.ResponseMode{onion.ResponseLayered, onion.ResponsePassthrough} {
		t.Run(mode.String(), func(t *testing.T) {
			require := require.New(t)

			path := make([]*pki.Node, 0, 3)
			for i := 0; i < 3; i++ {
				s := newTestRelay(t, echo, func(cfg *config.Relay) {
					cfg.ResponseMode = mode.String()
				})
				path = append(path, nodeOf(s))
			}

			b, keys, err := onion.Construct(rand.Reader, path, []byte("GET /\n"))
			require.NoError(err)
			resp, err := send(t, path[0], b)
			require.NoError(err)

			pt, err := onion.Peel(resp, keys, mode)
			require.NoError(err)
			require.Equal([]byte("echo:GET /\n"), pt)
		})
	}
}

func TestRelayErrors(t *testing.T) {
	r1 := newTestRelay(t, echo, nil)
	r2 := newTestRelay(t, nil, nil)
	n1, n2 := nodeOf(r1), nodeOf(r2)

	t.Run("decrypt", func(t *testing.T) {
		_, err := send(t, n1, bytes.Repeat([]byte("ab"), 400))
		requireHopError(t, err, wire.KindDecrypt, http.StatusBadRequest)

		// An onion for somebody else.
		b, _, err := onion.Construct(rand.Reader, []*pki.Node{n2}, []byte("x"))
		require.NoError(t, err)
		_, err = send(t, n1, b)
		requireHopError(t, err, wire.KindDecrypt, http.StatusBadRequest)
	})

	t.Run("malformed", func(t *testing.T) {
		env, _, err := hybrid.Encrypt(rand.Reader, []byte("2\nwhat"), r1.PublicKey())
		require.NoError(t, err)
		_, err = send(t, n1, env.Bytes())
		requireHopError(t, err, wire.KindMalformed, http.StatusBadRequest)
	})

	t.Run("replay", func(t *testing.T) {
		b, _, err := onion.Construct(rand.Reader, []*pki.Node{n1}, []byte("once"))
		require.NoError(t, err)
		_, err = send(t, n1, b)
		require.NoError(t, err)
		_, err = send(t, n1, b)
		requireHopError(t, err, wire.KindReplay, http.StatusBadRequest)

		// The hex wrapped key decodes the same in either case.
		hexLen := r1.PublicKey().WrappedKeyHexLength()
		for _, recase := range []func([]byte) []byte{
			bytes.ToUpper,
			func(h []byte) []byte {
				h = bytes.Clone(h)
				copy(h[:64], bytes.ToUpper(h[:64]))
				return h
			},
		} {
			recased := append(recase(b[:hexLen]), b[hexLen:]...)
			require.NotEqual(t, b, recased)
			_, err = send(t, n1, recased)
			requireHopError(t, err, wire.KindReplay, http.StatusBadRequest)
		}
	})

	t.Run("delivery relayed upstream", func(t *testing.T) {
		b, _, err := onion.Construct(rand.Reader, []*pki.Node{n1, n2}, []byte("x"))
		require.NoError(t, err)
		_, err = send(t, n1, b)
		requireHopError(t, err, wire.KindDelivery, http.StatusBadGateway)
	})

	t.Run("delivery failure", func(t *testing.T) {
		failing := deliver.Func(func(context.Context, []byte) ([]byte, error) {
			return nil, errors.New("origin down")
		})
		n := nodeOf(newTestRelay(t, failing, nil))
		b, _, err := onion.Construct(rand.Reader, []*pki.Node{n}, []byte("x"))
		require.NoError(t, err)
		_, err = send(t, n, b)
		requireHopError(t, err, wire.KindDelivery, http.StatusBadGateway)
	})

	t.Run("forward", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		dead := &pki.Node{
			Address:   pki.Address{Host: "127.0.0.1", Port: uint16(ln.Addr().(*net.TCPAddr).Port)},
			PublicKey: n2.PublicKey,
		}
		ln.Close()

		b, _, err := onion.Construct(rand.Reader, []*pki.Node{n1, dead}, []byte("x"))
		require.NoError(t, err)
		_, err = send(t, n1, b)
		requireHopError(t, err, wire.KindForward, http.StatusBadGateway)
	})

	t.Run("too large", func(t *testing.T) {
		small := newTestRelay(t, echo, func(cfg *config.Relay) {
			cfg.MaxMessageSize = 1024
		})
		_, err := send(t, nodeOf(small), make([]byte, 4096))
		requireHopError(t, err, wire.KindTooLarge, http.StatusRequestEntityTooLarge)
	})
}

func TestRelayForwardTimeout(t *testing.T) {
	require := require.New(t)

	slow := deliver.Func(func(ctx context.Context, b []byte) ([]byte, error) {
		select {
		case <-ctx.Done():
		case <-time.After(2 * time.Second):
		}
		return b, nil
	})
	exit := nodeOf(newTestRelay(t, slow, nil))
	entry := nodeOf(newTestRelay(t, nil, func(cfg *config.Relay) {
		cfg.ForwardTimeout = 100
	}))

	b, _, err := onion.Construct(rand.Reader, []*pki.Node{entry, exit}, []byte("x"))
	require.NoError(err)
	_, err = send(t, entry, b)
	requireHopError(t, err, wire.KindForward, http.StatusGatewayTimeout)
}

func TestRelayKey(t *testing.T) {
	require := require.New(t)

	s := newTestRelay(t, nil, nil)
	resp, err := http.Get("http://" + s.Addr().String() + "/key")
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusOK, resp.StatusCode)
	require.Equal("application/x-pem-file", resp.Header.Get("Content-Type"))

	b, err := io.ReadAll(resp.Body)
	require.NoError(err)
	pub, err := hybrid.PublicKeyFromPEM(b)
	require.NoError(err)
	require.True(pub.Equal(s.PublicKey()))
}

func TestGenerateOnly(t *testing.T) {
	require := require.New(t)

	dataDir := filepath.Join(t.TempDir(), "relay")
	cfg := &config.Config{
		Relay:   &config.Relay{Address: "127.0.0.1:0", DataDir: dataDir},
		Logging: &config.Logging{Disable: true},
		Debug:   &config.Debug{GenerateOnly: true},
	}
	require.NoError(cfg.FixupAndValidate())

	_, err := New(cfg, nil)
	require.ErrorIs(err, ErrGenerateOnly)
	_, err = os.Stat(filepath.Join(dataDir, "relay.private.pem"))
	require.NoError(err)
	pubPEM, err := os.ReadFile(filepath.Join(dataDir, "relay.public.pem"))
	require.NoError(err)

	cfg.Debug.GenerateOnly = false
	s, err := New(cfg, nil)
	require.NoError(err)
	defer s.Shutdown()
	require.Equal(pubPEM, s.PublicKey().PEM())
}
