// server.go - Registry server.
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

// Package server implements the registry: the single trusted directory of
// live relays and their public keys.
package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/onionrelay/onionrelay/core/log"
	"github.com/onionrelay/onionrelay/core/pki"
	"github.com/onionrelay/onionrelay/core/retry"
	"github.com/onionrelay/onionrelay/internal/instrument"
	"github.com/onionrelay/onionrelay/registry/server/config"
	"github.com/onionrelay/onionrelay/transport"
)

const shutdownTimeout = 5 * time.Second

// Server is a registry server instance.
type Server struct {
	cfg *config.Config

	logBackend *log.Backend
	log        *logging.Logger

	state     *state
	limiter   *hostLimiter
	transport *transport.Transport
	listener  *transport.Server
	metrics   *instrument.Server

	fatalErrCh chan error
	haltedCh   chan interface{}
	haltOnce   sync.Once
}

type httpKeyFetcher struct {
	t *transport.Transport
}

func (f *httpKeyFetcher) FetchKey(ctx context.Context, addr pki.Address) ([]byte, error) {
	return f.t.Get(ctx, addr, "/key")
}

func (s *Server) initDataDir() error {
	const dirMode = os.ModeDir | 0700
	d := s.cfg.Registry.DataDir
	if d == "" {
		return nil
	}

	// Initialize the data directory, by ensuring that it exists (or can be
	// created), and that it has the appropriate permissions.
	if fi, err := os.Lstat(d); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("registry: failed to stat() DataDir: %v", err)
		}
		if err = os.MkdirAll(d, dirMode); err != nil {
			return fmt.Errorf("registry: failed to create DataDir: %v", err)
		}
	} else {
		if !fi.IsDir() {
			return fmt.Errorf("registry: DataDir '%v' is not a directory", d)
		}
		if fi.Mode() != dirMode {
			return fmt.Errorf("registry: DataDir '%v' has invalid permissions '%v', should be '%v'", d, fi.Mode(), dirMode)
		}
	}
	return nil
}

func (s *Server) initLogging() error {
	p := s.cfg.Logging.File
	if !s.cfg.Logging.Disable && p != "" && !filepath.IsAbs(p) && s.cfg.Registry.DataDir != "" {
		p = filepath.Join(s.cfg.Registry.DataDir, p)
	}

	var err error
	s.logBackend, err = log.New(p, s.cfg.Logging.Level, s.cfg.Logging.Disable)
	if err == nil {
		s.log = s.logBackend.GetLogger("registry")
	}
	return err
}

// Addr returns the address the registry API is bound to.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// List returns a snapshot of the registered relays.
func (s *Server) List() []*pki.Node {
	return s.state.List()
}

// Add registers the relay at addr after fetching its key from it.
func (s *Server) Add(ctx context.Context, addr pki.Address) (*pki.Node, error) {
	return s.state.Add(ctx, addr)
}

// Remove unregisters the relay at addr, if present.
func (s *Server) Remove(addr pki.Address) bool {
	return s.state.Remove(addr)
}

// Check probes the relay at addr, unregistering it if it does not answer.
func (s *Server) Check(ctx context.Context, addr pki.Address) bool {
	return s.state.Check(ctx, addr)
}

// RotateLog rotates the log file if logging to a file is enabled.
func (s *Server) RotateLog() {
	if err := s.logBackend.Rotate(); err != nil {
		s.fatal(fmt.Errorf("failed to rotate log file, shutting down server"))
		return
	}
	s.log.Notice("Log rotated.")
}

// fatal requests a shutdown due to err.  Only the first error is acted on.
func (s *Server) fatal(err error) {
	select {
	case s.fatalErrCh <- err:
	default:
	}
}

// Wait waits till the server is terminated for any reason.
func (s *Server) Wait() {
	<-s.haltedCh
}

// Shutdown cleanly shuts down a given Server instance.
func (s *Server) Shutdown() {
	s.haltOnce.Do(func() { s.halt() })
}

func (s *Server) halt() {
	s.log.Notice("Starting graceful shutdown.")

	if s.listener != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		s.listener.Shutdown(ctx)
		cancel()
		s.listener = nil
	}
	if s.metrics != nil {
		s.metrics.Stop()
		s.metrics = nil
	}
	if s.state != nil {
		s.state.Halt()
		s.state = nil
	}
	if s.transport != nil {
		s.transport.Close()
	}

	s.log.Notice("Shutdown complete.")
	close(s.haltedCh)
}

// New returns a new Server instance parameterized with the specified
// configuration.
func New(cfg *config.Config) (*Server, error) {
	s := new(Server)
	s.cfg = cfg
	s.fatalErrCh = make(chan error, 1)
	s.haltedCh = make(chan interface{})

	if err := s.initDataDir(); err != nil {
		return nil, err
	}
	if err := s.initLogging(); err != nil {
		return nil, err
	}
	if s.cfg.Logging.Level == "DEBUG" {
		s.log.Warning("Debug logging is enabled, relay addresses will be logged.")
	}

	var err error
	if s.transport, err = transport.New(transport.HTTP); err != nil {
		return nil, err
	}

	// Past this point, failures need to call s.Shutdown() to do cleanup.
	isOk := false
	defer func() {
		if !isOk {
			s.Shutdown()
		}
	}()

	go func() {
		select {
		case err := <-s.fatalErrCh:
			s.log.Warningf("Shutting down due to error: %v", err)
			s.Shutdown()
		case <-s.haltedCh:
		}
	}()

	rCfg := s.cfg.Registry
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = rCfg.MaxAttempts
	fetchTimeout := time.Duration(rCfg.FetchTimeout) * time.Millisecond
	checkInterval := time.Duration(rCfg.CheckInterval) * time.Millisecond
	fetcher := &httpKeyFetcher{t: s.transport}
	if s.state, err = newState(s.logBackend.GetLogger("registry/state"), fetcher, rCfg.DataDir, policy, fetchTimeout, checkInterval); err != nil {
		s.log.Errorf("Failed to initialize state: %v", err)
		return nil, err
	}
	s.limiter = newHostLimiter(rCfg.RateLimit, rCfg.RateBurst)

	if rCfg.MetricsAddress != "" {
		if s.metrics, err = instrument.Start(rCfg.MetricsAddress, s.log); err != nil {
			s.log.Errorf("Failed to start metrics listener: %v", err)
			return nil, err
		}
	}

	errLog := s.logBackend.GetGoLogger("registry/http", "WARNING")
	if s.listener, err = transport.Listen(rCfg.Address, s.newHandler(), false, errLog); err != nil {
		s.log.Errorf("Failed to start listener '%v': %v", rCfg.Address, err)
		return nil, err
	}
	s.listener.Start(func(err error) {
		s.fatal(fmt.Errorf("listener failed: %v", err))
	})
	s.log.Noticef("Listening on: %v", s.listener.Addr())

	isOk = true
	return s, nil
}
