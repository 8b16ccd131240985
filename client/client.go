// client.go - Onion routing client session.
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

// Package client implements the onion routing client: it fetches the relay
// listing from the registry, picks a path and sends requests through it.
package client

import (
	"context"
	"errors"
	"fmt"
	mRand "math/rand"
	"sync"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"gopkg.in/op/go-logging.v1"

	"github.com/onionrelay/onionrelay/client/config"
	"github.com/onionrelay/onionrelay/core/crypto/hybrid"
	"github.com/onionrelay/onionrelay/core/log"
	"github.com/onionrelay/onionrelay/core/onion"
	"github.com/onionrelay/onionrelay/core/path"
	"github.com/onionrelay/onionrelay/core/wire"
	regclient "github.com/onionrelay/onionrelay/registry/client"
	"github.com/onionrelay/onionrelay/transport"
)

// ErrNoPath is the error returned by Send when the session has no path and
// one could not be built.
var ErrNoPath = errors.New("client: no path available")

// Session is a client session.  It holds the current path, which is reused
// for every request until the next Refresh.
type Session struct {
	sync.Mutex

	cfg        *config.Config
	logBackend *log.Backend
	log        *logging.Logger

	registry  *regclient.Client
	transport *transport.Transport
	rng       *mRand.Rand
	mode      onion.ResponseMode
	timeout   time.Duration

	path path.Path
}

// LogBackend returns the session's log backend.
func (s *Session) LogBackend() *log.Backend {
	return s.logBackend
}

// Path returns the current path, or nil if there is none.
func (s *Session) Path() path.Path {
	s.Lock()
	defer s.Unlock()
	if s.path == nil {
		return nil
	}
	return append(path.Path{}, s.path...)
}

// Refresh fetches a fresh relay listing from the registry and replaces the
// current path with a newly sampled one.
func (s *Session) Refresh(ctx context.Context) error {
	nodes, err := s.registry.List(ctx)
	if err != nil {
		return fmt.Errorf("client: failed to fetch listing: %w", err)
	}

	s.Lock()
	defer s.Unlock()

	p, err := path.Build(s.rng, nodes, s.cfg.Client.PathLength)
	if err != nil {
		s.path = nil
		return err
	}
	s.path = p
	s.log.Debugf("New path: %v", p)
	return nil
}

// Send sends payload through the current path and returns the exit relay's
// response with every response layer removed.  A path is built first if
// the session has none.  Failures are never retried.
func (s *Session) Send(ctx context.Context, payload []byte) ([]byte, error) {
	p := s.Path()
	if p == nil {
		if err := s.Refresh(ctx); err != nil {
			return nil, err
		}
		if p = s.Path(); p == nil {
			return nil, ErrNoPath
		}
	}

	wireBytes, keys, err := onion.Construct(rand.Reader, p, payload)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, k := range keys {
			k.Reset()
		}
	}()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resp, err := s.transport.Post(ctx, p.Entry().Address, "/", wireBytes)
	if err != nil {
		if e, ok := wire.AsHopError(err); ok {
			s.log.Debugf("Path %v failed: %v", p, e)
		}
		return nil, err
	}
	return onion.Peel(resp, keys, s.mode)
}

// SendWithRefresh is Send, followed by a single Refresh and retry if the
// first attempt failed in a way that a new path may fix.
func (s *Session) SendWithRefresh(ctx context.Context, payload []byte) ([]byte, error) {
	resp, err := s.Send(ctx, payload)
	if err == nil || !IsRefreshable(err) {
		return resp, err
	}
	s.log.Noticef("Request failed, refreshing path: %v", err)
	if rerr := s.Refresh(ctx); rerr != nil {
		return nil, fmt.Errorf("%w (refresh: %v)", err, rerr)
	}
	return s.Send(ctx, payload)
}

// IsRefreshable returns true iff err indicates that the current path or
// its keys are stale, so that a Refresh may succeed where a retry would not.
func IsRefreshable(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := wire.AsHopError(err); ok {
		switch e.Kind {
		case wire.KindDecrypt, wire.KindReplay, wire.KindForward:
			return true
		default:
			return false
		}
	}
	return errors.Is(err, hybrid.ErrDecryption) || errors.Is(err, transport.ErrUnreachable)
}

// Close releases the session's resources.
func (s *Session) Close() error {
	s.Lock()
	s.path = nil
	s.Unlock()
	s.registry.Close()
	return s.transport.Close()
}

// New returns a new Session built from cfg.  No network traffic happens
// until the first Refresh or Send.
func New(cfg *config.Config) (*Session, error) {
	logBackend, err := log.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return nil, err
	}
	return NewWithBackend(cfg, logBackend)
}

// NewWithBackend is New, logging to an existing backend.
func NewWithBackend(cfg *config.Config, logBackend *log.Backend) (*Session, error) {
	mode, err := onion.ParseResponseMode(cfg.Client.ResponseMode)
	if err != nil {
		return nil, err
	}
	kind, err := transport.ParseKind(cfg.Client.Transport)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:        cfg,
		logBackend: logBackend,
		log:        logBackend.GetLogger("client"),
		rng:        rand.NewMath(),
		mode:       mode,
		timeout:    time.Duration(cfg.Client.RequestTimeout) * time.Millisecond,
	}
	if s.registry, err = regclient.New(logBackend.GetLogger("client/registry"), cfg.Client.RegistryAddress); err != nil {
		return nil, err
	}
	if s.transport, err = transport.New(kind); err != nil {
		s.registry.Close()
		return nil, err
	}
	return s, nil
}
