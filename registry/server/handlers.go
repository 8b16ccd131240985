// handlers.go - Registry HTTP API.
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
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/onionrelay/onionrelay/core/pki"
	"github.com/onionrelay/onionrelay/internal/instrument"
)

func (s *Server) newHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.onList)
	mux.HandleFunc("POST /add/{port}", s.onAdd)
	mux.HandleFunc("GET /remove/{port}", s.onRemove)
	mux.HandleFunc("GET /check/{addr}", s.onCheck)
	return mux
}

func (s *Server) onList(w http.ResponseWriter, r *http.Request) {
	b, err := pki.NewListing(s.state.List()).Marshal()
	if err != nil {
		s.log.Errorf("Failed to serialize listing: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

// callerAddress returns the address formed by the caller's observed host and
// the port named in the request path.
func callerAddress(r *http.Request) (pki.Address, error) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return pki.Address{}, err
	}
	port, err := strconv.ParseUint(r.PathValue("port"), 10, 16)
	if err != nil {
		return pki.Address{}, fmt.Errorf("invalid port: %v", err)
	}
	return pki.NewAddress(host, uint16(port))
}

func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if s.limiter.allow(host, time.Now()) {
		return true
	}
	instrument.RegistryRateLimited()
	s.log.Debugf("Rate limited %v %v from %v.", r.Method, r.URL.Path, host)
	http.Error(w, "too many requests", http.StatusTooManyRequests)
	return false
}

func (s *Server) onAdd(w http.ResponseWriter, r *http.Request) {
	addr, err := callerAddress(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.allow(w, r) {
		return
	}
	if _, err = s.state.Add(r.Context(), addr); err != nil {
		s.log.Warningf("Failed to register %v: %v", addr, err)
		http.Error(w, "node unreachable", http.StatusBadGateway)
		return
	}
	fmt.Fprintln(w, "OK")
}

func (s *Server) onRemove(w http.ResponseWriter, r *http.Request) {
	addr, err := callerAddress(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.state.Remove(addr)
	fmt.Fprintln(w, "OK")
}

func (s *Server) onCheck(w http.ResponseWriter, r *http.Request) {
	addr, err := pki.ParseAddress(r.PathValue("addr"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.allow(w, r) {
		return
	}
	if !s.state.Check(r.Context(), addr) {
		http.Error(w, "node removed", http.StatusGone)
		return
	}
	fmt.Fprintln(w, "OK")
}
