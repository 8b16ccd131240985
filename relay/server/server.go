// server.go - Relay server.
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

// Package server implements the relay: it strips one onion layer per
// request, forwards or delivers the result, and protects the response on
// the way back.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"gopkg.in/op/go-logging.v1"

	"github.com/onionrelay/onionrelay/core/crypto/hybrid"
	"github.com/onionrelay/onionrelay/core/log"
	"github.com/onionrelay/onionrelay/core/onion"
	"github.com/onionrelay/onionrelay/core/worker"
	"github.com/onionrelay/onionrelay/internal/instrument"
	regclient "github.com/onionrelay/onionrelay/registry/client"
	"github.com/onionrelay/onionrelay/relay/deliver"
	"github.com/onionrelay/onionrelay/relay/server/config"
	"github.com/onionrelay/onionrelay/transport"
)

const shutdownTimeout = 5 * time.Second

// ErrGenerateOnly is the error returned when the server initialization
// terminates due to the GenerateOnly debug config option.
var ErrGenerateOnly = errors.New("server: GenerateOnly set")

// Server is a relay server instance.
type Server struct {
	worker.Worker

	cfg *config.Config

	key          *hybrid.PrivateKey
	publicKeyPEM []byte

	logBackend *log.Backend
	log        *logging.Logger

	engine    *engine
	transport *transport.Transport
	listener  *transport.Server
	registry  *regclient.Client
	metrics   *instrument.Server

	registered        atomic.Bool
	registerAttempted atomic.Bool

	fatalErrCh chan error
	haltedCh   chan interface{}
	haltOnce   sync.Once
}

func (s *Server) initDataDir() error {
	const dirMode = os.ModeDir | 0700
	d := s.cfg.Relay.DataDir
	if d == "" {
		return nil
	}

	// Initialize the data directory, by ensuring that it exists (or can be
	// created), and that it has the appropriate permissions.
	if fi, err := os.Lstat(d); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("relay: failed to stat() DataDir: %v", err)
		}
		if err = os.MkdirAll(d, dirMode); err != nil {
			return fmt.Errorf("relay: failed to create DataDir: %v", err)
		}
	} else {
		if !fi.IsDir() {
			return fmt.Errorf("relay: DataDir '%v' is not a directory", d)
		}
		if fi.Mode() != dirMode {
			return fmt.Errorf("relay: DataDir '%v' has invalid permissions '%v', should be '%v'", d, fi.Mode(), dirMode)
		}
	}
	return nil
}

func (s *Server) initLogging() error {
	p := s.cfg.Logging.File
	if !s.cfg.Logging.Disable && p != "" && !filepath.IsAbs(p) && s.cfg.Relay.DataDir != "" {
		p = filepath.Join(s.cfg.Relay.DataDir, p)
	}

	var err error
	s.logBackend, err = log.New(p, s.cfg.Logging.Level, s.cfg.Logging.Disable)
	if err == nil {
		s.log = s.logBackend.GetLogger("relay")
	}
	return err
}

func (s *Server) initKey() error {
	var err error
	if s.cfg.Relay.DataDir == "" {
		s.log.Notice("No DataDir configured, using an ephemeral keypair.")
		s.key, err = hybrid.GenerateKeypair(rand.Reader)
	} else {
		privFile := filepath.Join(s.cfg.Relay.DataDir, "relay.private.pem")
		pubFile := filepath.Join(s.cfg.Relay.DataDir, "relay.public.pem")
		s.key, err = hybrid.LoadOrGenerate(privFile, pubFile)
	}
	if err != nil {
		return err
	}
	s.publicKeyPEM = s.key.PublicKey().PEM()
	s.log.Noticef("Relay public key is: %v", s.key.PublicKey())
	return nil
}

// PublicKey returns the relay's public key.
func (s *Server) PublicKey() *hybrid.PublicKey {
	return s.key.PublicKey()
}

// Addr returns the address the relay is bound to.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Port returns the port the relay is bound to.
func (s *Server) Port() uint16 {
	return s.listener.Port()
}

// IsRegistered returns true iff self-registration has succeeded.
func (s *Server) IsRegistered() bool {
	return s.registered.Load()
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

	// Stop the registration worker before withdrawing from the registry.
	s.Halt()
	if s.registry != nil {
		s.unregister()
		s.registry.Close()
	}

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
	if s.transport != nil {
		s.transport.Close()
	}
	if s.key != nil {
		s.key.Reset()
	}

	s.log.Notice("Shutdown complete.")
	close(s.haltedCh)
}

// New returns a new Server instance parameterized with the specified
// configuration.  If d is nil, exit delivery is performed by a
// deliver.HTTPDeliverer built from the Delivery section, or disabled when
// no hosts are allowed.
func New(cfg *config.Config, d deliver.Deliverer) (*Server, error) {
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
		s.log.Warning("Unsafe Debug logging is enabled, next hops will be logged.")
	}
	if err := s.initKey(); err != nil {
		s.log.Errorf("Failed to initialize keypair: %v", err)
		return nil, err
	}
	if s.cfg.Debug.GenerateOnly {
		return nil, ErrGenerateOnly
	}

	rCfg := s.cfg.Relay
	mode, err := onion.ParseResponseMode(rCfg.ResponseMode)
	if err != nil {
		return nil, err
	}
	kind, err := transport.ParseKind(rCfg.Transport)
	if err != nil {
		return nil, err
	}
	if s.transport, err = transport.New(kind); err != nil {
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

	if d == nil && len(s.cfg.Delivery.AllowedHosts) > 0 {
		timeout := time.Duration(s.cfg.Delivery.Timeout) * time.Millisecond
		d = deliver.NewHTTPDeliverer(s.logBackend.GetLogger("relay/deliver"), s.cfg.Delivery.AllowedHosts, timeout)
	}
	if d == nil {
		s.log.Notice("Exit delivery is disabled.")
	}

	replay, err := newReplayFilter(s.log, rCfg.ReplayFilterBits)
	if err != nil {
		return nil, err
	}
	s.engine = &engine{
		log:            s.logBackend.GetLogger("relay/engine"),
		key:            s.key,
		deliverer:      d,
		next:           s.transport,
		replay:         replay,
		mode:           mode,
		forwardTimeout: time.Duration(rCfg.ForwardTimeout) * time.Millisecond,
	}

	if rCfg.MetricsAddress != "" {
		if s.metrics, err = instrument.Start(rCfg.MetricsAddress, s.log); err != nil {
			s.log.Errorf("Failed to start metrics listener: %v", err)
			return nil, err
		}
	}

	errLog := s.logBackend.GetGoLogger("relay/http", "WARNING")
	if s.listener, err = transport.Listen(rCfg.Address, s.newHandler(), rCfg.EnableHTTP3, errLog); err != nil {
		s.log.Errorf("Failed to start listener '%v': %v", rCfg.Address, err)
		return nil, err
	}
	s.listener.Start(func(err error) {
		s.fatal(fmt.Errorf("listener failed: %v", err))
	})
	s.log.Noticef("Listening on: %v (response mode: %v)", s.listener.Addr(), mode)

	if rCfg.RegistryAddress != "" {
		if s.registry, err = regclient.New(s.logBackend.GetLogger("relay/registry"), rCfg.RegistryAddress); err != nil {
			return nil, err
		}
		s.Go(s.registerWorker)
	}

	isOk = true
	return s, nil
}
