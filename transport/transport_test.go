// transport_test.go - Transport tests.
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

package transport

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onionrelay/onionrelay/core/pki"
	"github.com/onionrelay/onionrelay/core/wire"
)

func echoHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{$}", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		w.Write(append([]byte("echo:"), b...))
	})
	mux.HandleFunc("POST /fail", func(w http.ResponseWriter, r *http.Request) {
		wire.WriteError(w, wire.NewHopError(wire.KindDecrypt, "nope"))
	})
	return mux
}

func startServer(t *testing.T, enableHTTP3 bool) pki.Address {
	s, err := Listen("127.0.0.1:0", echoHandler(), enableHTTP3, nil)
	require.NoError(t, err)
	s.Start(func(err error) { t.Errorf("listener failed: %v", err) })
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return pki.Address{Host: "127.0.0.1", Port: s.Port()}
}

func TestTransport(t *testing.T) {
	for _, kind := range []Kind{HTTP, HTTP3} {
		t.Run(string(kind), func(t *testing.T) {
			require := require.New(t)

			addr := startServer(t, kind == HTTP3)
			tr, err := New(kind)
			require.NoError(err)
			defer tr.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			b, err := tr.Post(ctx, addr, "/", []byte("onion"))
			require.NoError(err)
			require.Equal([]byte("echo:onion"), b)

			_, err = tr.Post(ctx, addr, "fail", nil)
			e, ok := wire.AsHopError(err)
			require.True(ok)
			require.Equal(wire.KindDecrypt, e.Kind)
		})
	}
}

func TestTransportUnreachable(t *testing.T) {
	require := require.New(t)

	s, err := Listen("127.0.0.1:0", echoHandler(), false, nil)
	require.NoError(err)
	addr := pki.Address{Host: "127.0.0.1", Port: s.Port()}
	s.Shutdown(context.Background())

	tr, err := New(HTTP)
	require.NoError(err)
	_, err = tr.Post(context.Background(), addr, "/", []byte("x"))
	require.ErrorIs(err, ErrUnreachable)
}

func TestParseKind(t *testing.T) {
	require := require.New(t)

	k, err := ParseKind("")
	require.NoError(err)
	require.Equal(HTTP, k)
	k, err = ParseKind("HTTP3")
	require.NoError(err)
	require.Equal(HTTP3, k)
	_, err = ParseKind("carrier-pigeon")
	require.Error(err)

	tr, err := New(HTTP3)
	require.NoError(err)
	require.Equal("https://127.0.0.1:443/key", tr.URL(pki.Address{Host: "127.0.0.1", Port: 443}, "key"))
}
