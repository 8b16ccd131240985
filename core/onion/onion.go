// onion.go - Onion construction and response peeling.
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

// Package onion builds layered onions for a path of relays, and peels the
// layered responses that come back.
package onion

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/onionrelay/onionrelay/core/crypto/hybrid"
	"github.com/onionrelay/onionrelay/core/pki"
)

// ResponseMode selects how relays protect the response on the way back.
type ResponseMode int

const (
	// ResponseLayered has every relay seal the response with its session
	// key, so the client peels one layer per hop.
	ResponseLayered ResponseMode = iota

	// ResponsePassthrough has only the exit relay seal the response.
	ResponsePassthrough
)

func (m ResponseMode) String() string {
	switch m {
	case ResponseLayered:
		return "layered"
	case ResponsePassthrough:
		return "passthrough"
	default:
		return fmt.Sprintf("[unknown mode: %d]", int(m))
	}
}

// ParseResponseMode parses the configuration name of a ResponseMode.  The
// empty string selects ResponseLayered.
func ParseResponseMode(s string) (ResponseMode, error) {
	switch strings.ToLower(s) {
	case "", "layered":
		return ResponseLayered, nil
	case "passthrough":
		return ResponsePassthrough, nil
	default:
		return 0, fmt.Errorf("onion: invalid response mode: '%v'", s)
	}
}

// Construct wraps plaintext in one hybrid encryption layer per relay in
// path, innermost (exit) first.  It returns the wire form to send to the
// entry relay, and the session keys ordered exit to entry.
func Construct(rng io.Reader, path []*pki.Node, plaintext []byte) ([]byte, []*hybrid.SessionKey, error) {
	if len(path) == 0 {
		return nil, nil, errors.New("onion: empty path")
	}

	keys := make([]*hybrid.SessionKey, 0, len(path))
	fail := func(err error) ([]byte, []*hybrid.SessionKey, error) {
		for _, k := range keys {
			k.Reset()
		}
		return nil, nil, err
	}

	layer := EncodeFinal(plaintext)
	for i := len(path) - 1; i >= 0; i-- {
		if i < len(path)-1 {
			var err error
			if layer, err = EncodeIntermediate(layer, path[i+1].Address); err != nil {
				return fail(err)
			}
		}
		pub, err := path[i].Key()
		if err != nil {
			return fail(err)
		}
		env, sk, err := hybrid.Encrypt(rng, layer, pub)
		if err != nil {
			return fail(err)
		}
		keys = append(keys, sk)
		layer = env.Bytes()
	}
	return layer, keys, nil
}

// Peel removes the response layers added by the relays.  keys must be the
// slice returned by Construct.  Every failure wraps hybrid.ErrDecryption.
func Peel(response []byte, keys []*hybrid.SessionKey, mode ResponseMode) ([]byte, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no session keys", hybrid.ErrDecryption)
	}
	switch mode {
	case ResponsePassthrough:
		return keys[0].Open(response)
	case ResponseLayered:
	default:
		return nil, fmt.Errorf("onion: invalid response mode: %v", mode)
	}

	b := response
	for i := len(keys) - 1; i >= 0; i-- {
		var err error
		if b, err = keys[i].Open(b); err != nil {
			return nil, fmt.Errorf("hop %d: %w", len(keys)-1-i, err)
		}
	}
	return b, nil
}
