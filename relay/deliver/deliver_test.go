// deliver_test.go - Exit delivery tests.
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

package deliver

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onionrelay/onionrelay/core/log"
)

func newTestDeliverer(t *testing.T, allowed ...string) *HTTPDeliverer {
	logBackend, err := log.New("", "DEBUG", true)
	require.NoError(t, err)
	return NewHTTPDeliverer(logBackend.GetLogger("deliver"), allowed, 5*time.Second)
}

func TestHTTPDeliverer(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Path", r.URL.Path)
		fmt.Fprintf(w, "hello %v", r.Method)
	}))
	defer origin.Close()
	u, err := url.Parse(origin.URL)
	require.NoError(t, err)

	payload := []byte("GET /index.html HTTP/1.1\r\nHost: " + u.Host + "\r\n\r\n")

	t.Run("allowed", func(t *testing.T) {
		require := require.New(t)

		d := newTestDeliverer(t, "*")
		raw, err := d.Deliver(context.Background(), payload)
		require.NoError(err)

		resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), nil)
		require.NoError(err)
		defer resp.Body.Close()
		require.Equal(http.StatusOK, resp.StatusCode)
		require.Equal("/index.html", resp.Header.Get("X-Path"))
		body, err := io.ReadAll(resp.Body)
		require.NoError(err)
		require.Equal("hello GET", string(body))
	})

	t.Run("host list", func(t *testing.T) {
		d := newTestDeliverer(t, "127.0.0.1")
		_, err := d.Deliver(context.Background(), payload)
		require.NoError(t, err)
	})

	t.Run("not allowed", func(t *testing.T) {
		d := newTestDeliverer(t, "example.org")
		_, err := d.Deliver(context.Background(), payload)
		require.ErrorIs(t, err, ErrHostNotAllowed)
	})

	t.Run("malformed", func(t *testing.T) {
		d := newTestDeliverer(t, "*")
		_, err := d.Deliver(context.Background(), []byte("GET /\n"))
		require.Error(t, err)
	})
}

func TestSchemeFor(t *testing.T) {
	require := require.New(t)
	require.Equal("https", schemeFor("example.com:443"))
	require.Equal("http", schemeFor("example.com:80"))
	require.Equal("http", schemeFor("example.com"))
}

func TestFunc(t *testing.T) {
	var d Deliverer = Func(func(_ context.Context, b []byte) ([]byte, error) {
		return bytes.ToUpper(b), nil
	})
	b, err := d.Deliver(context.Background(), []byte("abc"))
	require.NoError(t, err)
	require.Equal(t, []byte("ABC"), b)
}
