// errors.go - Hop error signalling.
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

// Package wire defines how relays signal per hop failures to the previous
// hop and, ultimately, to the client.
package wire

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrorHeader is the response header carrying the Kind of a hop failure.
const ErrorHeader = "Onion-Error"

// maxErrorBody bounds how much of an error response body is retained.
const maxErrorBody = 512

// Kind classifies a hop failure.
type Kind string

const (
	// KindDecrypt means a relay could not decrypt its layer.
	KindDecrypt Kind = "decrypt"

	// KindMalformed means a decrypted layer was not a valid envelope.
	KindMalformed Kind = "malformed"

	// KindReplay means a relay has already processed this layer.
	KindReplay Kind = "replay"

	// KindForward means a relay could not reach the next hop.
	KindForward Kind = "forward"

	// KindDelivery means the exit relay could not deliver the payload.
	KindDelivery Kind = "delivery"

	// KindTooLarge means the message exceeded a relay's size limit.
	KindTooLarge Kind = "too-large"

	// KindUnknown is used for failures that carried no (or an unknown)
	// ErrorHeader.
	KindUnknown Kind = "unknown"
)

// Status returns the HTTP status code a relay responds with for k.
func (k Kind) Status() int {
	switch k {
	case KindDecrypt, KindMalformed, KindReplay:
		return http.StatusBadRequest
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindForward, KindDelivery:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ParseKind parses an ErrorHeader value.
func ParseKind(s string) Kind {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindDecrypt, KindMalformed, KindReplay, KindForward, KindDelivery, KindTooLarge:
		return k
	default:
		return KindUnknown
	}
}

// HopError is a failure reported by some relay on the path.  Relays do not
// say which hop failed, only what went wrong.
type HopError struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *HopError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("wire: hop error: %v (%d)", e.Kind, e.Status)
	}
	return fmt.Sprintf("wire: hop error: %v (%d): %v", e.Kind, e.Status, e.Message)
}

// NewHopError returns a HopError with the default status for kind.
func NewHopError(kind Kind, msg string) *HopError {
	return &HopError{Kind: kind, Status: kind.Status(), Message: msg}
}

// AsHopError returns the HopError wrapped by err, if any.
func AsHopError(err error) (*HopError, bool) {
	var e *HopError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// WriteError writes e as an HTTP error response.
func WriteError(w http.ResponseWriter, e *HopError) {
	w.Header().Set(ErrorHeader, string(e.Kind))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(e.Status)
	if e.Message != "" {
		fmt.Fprintln(w, e.Message)
	}
}

// FromResponse returns nil for a successful hop response, and the HopError
// it carries otherwise.  The body of a failed response is consumed.
func FromResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &HopError{
		Kind:    ParseKind(resp.Header.Get(ErrorHeader)),
		Status:  resp.StatusCode,
		Message: strings.TrimSpace(string(b)),
	}
}
