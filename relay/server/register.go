// register.go - Registry self-registration.
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
	"context"
	"time"
)

// registerWorker announces the relay to the registry once the listener has
// had time to come up.  Failures are logged and not retried.  A registration
// that timed out may still have been accepted, so it is withdrawn on
// shutdown like a successful one.
func (s *Server) registerWorker() {
	if !s.Sleep(time.Duration(s.cfg.Relay.RegisterDelay) * time.Millisecond) {
		return
	}

	ctx, cancel := s.Context()
	defer cancel()
	timeout := time.Duration(s.cfg.Relay.RegisterTimeout) * time.Millisecond
	ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()

	port := s.announcedPort()
	s.registerAttempted.Store(true)
	if err := s.registry.Add(ctx, port); err != nil {
		s.log.Errorf("Failed to register with %v: %v", s.registry.Address(), err)
		return
	}
	s.registered.Store(true)
	s.log.Noticef("Registered with %v.", s.registry.Address())
}

// unregister withdraws the relay from the registry on a best effort basis.
func (s *Server) unregister() {
	if !s.registerAttempted.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.registry.Remove(ctx, s.announcedPort()); err != nil {
		s.log.Warningf("Failed to unregister from %v: %v", s.registry.Address(), err)
		return
	}
	s.log.Noticef("Unregistered from %v.", s.registry.Address())
}

func (s *Server) announcedPort() uint16 {
	if s.cfg.Relay.PublicPort != 0 {
		return s.cfg.Relay.PublicPort
	}
	return s.listener.Port()
}
