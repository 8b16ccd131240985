// register_test.go - Relay self-registration tests.
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
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onionrelay/onionrelay/relay/server/config"
)

// slowRegistry never answers /add before the caller gives up, and records
// the ports passed to /remove.
type slowRegistry struct {
	sync.Mutex

	adds    int
	removes []string
}

func (r *slowRegistry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /add/{port}", func(w http.ResponseWriter, req *http.Request) {
		r.Lock()
		r.adds++
		r.Unlock()
		select {
		case <-req.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	mux.HandleFunc("GET /remove/{port}", func(w http.ResponseWriter, req *http.Request) {
		r.Lock()
		r.removes = append(r.removes, req.PathValue("port"))
		r.Unlock()
	})
	mux.ServeHTTP(w, req)
}

func TestRegisterTimeout(t *testing.T) {
	require := require.New(t)

	reg := new(slowRegistry)
	srv := httptest.NewServer(reg)
	defer srv.Close()

	s := newTestRelay(t, echo, func(cfg *config.Relay) {
		cfg.RegistryAddress = srv.Listener.Addr().String()
		cfg.RegisterDelay = 1
		cfg.RegisterTimeout = 100
	})
	require.Eventually(func() bool {
		reg.Lock()
		defer reg.Unlock()
		return reg.adds == 1
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	require.False(s.IsRegistered())

	// The registry may have accepted the relay after the client gave up,
	// so shutting down still withdraws it.
	port := strconv.Itoa(int(s.Port()))
	s.Shutdown()
	reg.Lock()
	defer reg.Unlock()
	require.Equal([]string{port}, reg.removes)
}
