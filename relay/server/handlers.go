// handlers.go - Relay HTTP API.
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
	"io"
	"net/http"

	"github.com/onionrelay/onionrelay/core/wire"
)

func (s *Server) newHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{$}", s.onOnion)
	mux.HandleFunc("GET /key", s.onKey)
	return mux
}

func (s *Server) onOnion(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.Relay.MaxMessageSize))
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		if isTooLarge(err) {
			wire.WriteError(w, s.engine.fail(wire.NewHopError(wire.KindTooLarge, "")))
			return
		}
		s.log.Debugf("Failed to read onion: %v", err)
		http.Error(w, "failed to read request", http.StatusBadRequest)
		return
	}

	resp, he := s.engine.process(r.Context(), raw)
	if he != nil {
		wire.WriteError(w, he)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(resp)
}

func (s *Server) onKey(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Write(s.publicKeyPEM)
}
