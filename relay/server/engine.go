// engine.go - Onion processing.
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
	"errors"
	"net/http"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"gopkg.in/op/go-logging.v1"

	"github.com/onionrelay/onionrelay/core/crypto/hybrid"
	"github.com/onionrelay/onionrelay/core/onion"
	"github.com/onionrelay/onionrelay/core/pki"
	"github.com/onionrelay/onionrelay/core/wire"
	"github.com/onionrelay/onionrelay/internal/instrument"
	"github.com/onionrelay/onionrelay/relay/deliver"
	"github.com/onionrelay/onionrelay/transport"
)

// forwarder sends an onion to the next hop and returns its response.
type forwarder interface {
	Post(ctx context.Context, addr pki.Address, path string, body []byte) ([]byte, error)
}

// engine strips one layer off each onion, and either delivers the payload
// or forwards the inner onion, protecting the response on the way back.
type engine struct {
	log *logging.Logger

	key       *hybrid.PrivateKey
	deliverer deliver.Deliverer
	next      forwarder
	replay    *replayFilter

	mode           onion.ResponseMode
	forwardTimeout time.Duration
}

// process handles a single onion.  A non-nil HopError is returned on any
// failure, and the response is never partially produced.
func (e *engine) process(ctx context.Context, raw []byte) ([]byte, *wire.HopError) {
	instrument.OnionReceived()

	pt, sk, err := hybrid.Decrypt(raw, e.key)
	if err != nil {
		e.log.Debugf("Failed to decrypt onion: %v", err)
		return nil, e.fail(wire.NewHopError(wire.KindDecrypt, ""))
	}
	defer sk.Reset()

	if e.replay != nil && e.replay.isReplay(sk.Bytes()) {
		e.log.Debugf("Rejecting replayed onion.")
		return nil, e.fail(wire.NewHopError(wire.KindReplay, ""))
	}

	env, err := onion.Decode(pt)
	if err != nil {
		e.log.Debugf("Failed to decode layer: %v", err)
		return nil, e.fail(wire.NewHopError(wire.KindMalformed, ""))
	}

	if env.IsFinal() {
		return e.deliver(ctx, sk, env.Payload)
	}
	return e.forward(ctx, sk, *env.NextHop, env.Payload)
}

func (e *engine) deliver(ctx context.Context, sk *hybrid.SessionKey, payload []byte) ([]byte, *wire.HopError) {
	if e.deliverer == nil {
		return nil, e.fail(wire.NewHopError(wire.KindDelivery, "delivery disabled"))
	}
	resp, err := e.deliverer.Deliver(ctx, payload)
	if err != nil {
		e.log.Infof("Delivery failed: %v", err)
		return nil, e.fail(wire.NewHopError(wire.KindDelivery, ""))
	}
	instrument.OnionDelivered()
	return e.seal(sk, resp)
}

func (e *engine) forward(ctx context.Context, sk *hybrid.SessionKey, next pki.Address, inner []byte) ([]byte, *wire.HopError) {
	ctx, cancel := context.WithTimeout(ctx, e.forwardTimeout)
	defer cancel()

	e.log.Debugf("Forwarding %d bytes to %v.", len(inner), next)
	start := time.Now()
	resp, err := e.next.Post(ctx, next, "/", inner)
	if err != nil {
		if he, ok := wire.AsHopError(err); ok {
			// Downstream failures are relayed unchanged.
			return nil, e.fail(&wire.HopError{Kind: he.Kind, Status: he.Status})
		}
		e.log.Debugf("Failed to forward to %v: %v", next, err)
		he := wire.NewHopError(wire.KindForward, "")
		if transport.IsTimeout(err) {
			he.Status = http.StatusGatewayTimeout
		}
		return nil, e.fail(he)
	}
	instrument.OnionForwarded(time.Since(start))

	if e.mode == onion.ResponsePassthrough {
		return resp, nil
	}
	return e.seal(sk, resp)
}

func (e *engine) seal(sk *hybrid.SessionKey, b []byte) ([]byte, *wire.HopError) {
	out, err := sk.Seal(rand.Reader, b)
	if err != nil {
		e.log.Errorf("Failed to seal response: %v", err)
		return nil, e.fail(&wire.HopError{Kind: wire.KindUnknown, Status: http.StatusInternalServerError})
	}
	return out, nil
}

func (e *engine) fail(he *wire.HopError) *wire.HopError {
	instrument.HopError(string(he.Kind))
	return he
}

// isTooLarge returns true iff err is a http.MaxBytesReader limit error.
func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
