// server.go - HTTP listeners for relays and the registry.
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
	"errors"
	goLog "log"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go/http3"

	"github.com/onionrelay/onionrelay/core/worker"
)

const readHeaderTimeout = 10 * time.Second

// Server serves a handler over HTTP/1.1 on TCP, and optionally over HTTP/3
// on the UDP port with the same number.
type Server struct {
	worker.Worker

	ln  net.Listener
	srv *http.Server

	pc net.PacketConn
	h3 *http3.Server

	closing atomic.Bool
}

// Listen binds addr.  Binding port 0 picks a free port, and the HTTP/3
// listener, if enabled, uses the same one.
func Listen(addr string, handler http.Handler, enableHTTP3 bool, errLog *goLog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln: ln,
		srv: &http.Server{
			Handler:           handler,
			ErrorLog:          errLog,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
	if !enableHTTP3 {
		return s, nil
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		ln.Close()
		return nil, err
	}
	port := ln.Addr().(*net.TCPAddr).Port
	pc, err := net.ListenPacket("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		ln.Close()
		return nil, err
	}
	tlsConf, err := GenerateTLSConfig()
	if err != nil {
		ln.Close()
		pc.Close()
		return nil, err
	}
	s.pc = pc
	s.h3 = &http3.Server{
		Handler:   handler,
		TLSConfig: http3.ConfigureTLSConfig(tlsConf),
	}
	return s, nil
}

// Addr returns the bound TCP address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Port returns the bound port.
func (s *Server) Port() uint16 {
	return uint16(s.ln.Addr().(*net.TCPAddr).Port)
}

// Start begins serving.  onErr is invoked if a listener fails for any
// reason other than Shutdown.
func (s *Server) Start(onErr func(error)) {
	s.Go(func() {
		if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) && !s.closing.Load() {
			onErr(err)
		}
	})
	if s.h3 == nil {
		return
	}
	s.Go(func() {
		if err := s.h3.Serve(s.pc); err != nil && !errors.Is(err, http.ErrServerClosed) && !s.closing.Load() {
			onErr(err)
		}
	})
}

// Shutdown stops the listeners, waiting up to the context deadline for in
// flight requests.
func (s *Server) Shutdown(ctx context.Context) {
	s.closing.Store(true)
	s.srv.Shutdown(ctx)
	s.ln.Close()
	if s.h3 != nil {
		s.h3.Close()
		s.pc.Close()
	}
	s.Halt()
}
