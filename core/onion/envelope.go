// envelope.go - Onion layer plaintext codec.
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

package onion

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/onionrelay/onionrelay/core/pki"
)

const (
	kindIntermediate = '0'
	kindFinal        = '1'
	delim            = '\n'
)

// ErrMalformedEnvelope is the error returned when a decrypted layer is not a
// valid envelope.
var ErrMalformedEnvelope = errors.New("onion: malformed envelope")

// Envelope is the plaintext of a single onion layer.  A final envelope
// carries the application payload, an intermediate envelope carries the next
// hop and the still encrypted inner onion.
type Envelope struct {
	// NextHop is the relay to forward Payload to, or nil for the final hop.
	NextHop *pki.Address

	// Payload is the application payload of a final envelope, or the
	// encrypted inner onion of an intermediate one.
	Payload []byte
}

// IsFinal returns true iff the envelope is addressed to the exit relay.
func (e *Envelope) IsFinal() bool {
	return e.NextHop == nil
}

// EncodeFinal returns the encoding of a final envelope.
func EncodeFinal(payload []byte) []byte {
	out := make([]byte, 0, 2+len(payload))
	out = append(out, kindFinal, delim)
	return append(out, payload...)
}

// EncodeIntermediate returns the encoding of an envelope instructing a relay
// to forward inner to next.
func EncodeIntermediate(inner []byte, next pki.Address) ([]byte, error) {
	if err := next.Validate(); err != nil {
		return nil, err
	}
	hop := next.String()
	out := make([]byte, 0, 3+len(hop)+len(inner))
	out = append(out, kindIntermediate, delim)
	out = append(out, hop...)
	out = append(out, delim)
	return append(out, inner...), nil
}

// Decode parses a decrypted layer.  The payload of the returned envelope
// aliases raw.
func Decode(raw []byte) (*Envelope, error) {
	if len(raw) < 2 || raw[1] != delim {
		return nil, fmt.Errorf("%w: missing discriminator", ErrMalformedEnvelope)
	}
	switch raw[0] {
	case kindFinal:
		return &Envelope{Payload: raw[2:]}, nil
	case kindIntermediate:
	default:
		return nil, fmt.Errorf("%w: unknown discriminator 0x%02x", ErrMalformedEnvelope, raw[0])
	}

	rest := raw[2:]
	idx := bytes.IndexByte(rest, delim)
	if idx < 0 {
		return nil, fmt.Errorf("%w: missing next hop delimiter", ErrMalformedEnvelope)
	}
	next, err := pki.ParseAddress(string(rest[:idx]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return &Envelope{NextHop: &next, Payload: rest[idx+1:]}, nil
}
