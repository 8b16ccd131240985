// transport.go - Hop to hop HTTP transports.
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

// Package transport carries onions between the client and relays, and
// between relays, over HTTP/1.1 on TCP or HTTP/3 on QUIC.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"github.com/onionrelay/onionrelay/core/pki"
	"github.com/onionrelay/onionrelay/core/wire"
)

// Kind selects the wire transport.
type Kind string

const (
	// HTTP is plain HTTP/1.1 over TCP.
	HTTP Kind = "http"

	// HTTP3 is HTTP/3 over QUIC, with ephemeral certificates.
	HTTP3 Kind = "http3"
)

// DefaultMaxResponseSize bounds response bodies read by a Transport.
const DefaultMaxResponseSize = 16 << 20

// ErrUnreachable is the error returned when a hop could not be reached or
// did not answer in time.
var ErrUnreachable = errors.New("transport: hop unreachable")

// ParseKind parses the configuration name of a Kind.  The empty string
// selects HTTP.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(s)) {
	case "", HTTP:
		return HTTP, nil
	case HTTP3:
		return HTTP3, nil
	default:
		return "", fmt.Errorf("transport: invalid kind: '%v'", s)
	}
}

// Transport issues requests to relays and the registry.
type Transport struct {
	kind   Kind
	client *http.Client
	closer io.Closer

	maxResponseSize int64
}

// New returns a Transport of the given kind.
func New(kind Kind) (*Transport, error) {
	t := &Transport{
		kind:            kind,
		maxResponseSize: DefaultMaxResponseSize,
	}
	switch kind {
	case HTTP, "":
		t.kind = HTTP
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.Proxy = nil
		t.client = &http.Client{Transport: tr}
		t.closer = closerFunc(func() error {
			tr.CloseIdleConnections()
			return nil
		})
	case HTTP3:
		tr := &http3.Transport{
			TLSClientConfig: clientTLSConfig(),
			QUICConfig: &quic.Config{
				MaxIdleTimeout:  30 * time.Second,
				KeepAlivePeriod: 10 * time.Second,
			},
		}
		t.client = &http.Client{Transport: tr}
		t.closer = tr
	default:
		return nil, fmt.Errorf("transport: invalid kind: '%v'", kind)
	}
	return t, nil
}

// Kind returns the transport kind.
func (t *Transport) Kind() Kind {
	return t.kind
}

// URL returns the URL for path on the relay or registry at addr.
func (t *Transport) URL(addr pki.Address, path string) string {
	scheme := "http"
	if t.kind == HTTP3 {
		scheme = "https"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return scheme + "://" + addr.String() + path
}

// Post sends body to path on addr, and returns the response body.  Hop
// failures are returned as *wire.HopError, and network failures wrap
// ErrUnreachable.
func (t *Transport) Post(ctx context.Context, addr pki.Address, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL(addr, path), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	return t.do(req)
}

// Get fetches path on addr, and returns the response body.
func (t *Transport) Get(ctx context.Context, addr pki.Address, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL(addr, path), nil)
	if err != nil {
		return nil, err
	}
	return t.do(req)
}

func (t *Transport) do(req *http.Request) ([]byte, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %w", ErrUnreachable, req.URL.Host, err)
	}
	defer resp.Body.Close()

	if err = wire.FromResponse(resp); err != nil {
		return nil, err
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, t.maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %w", ErrUnreachable, req.URL.Host, err)
	}
	if int64(len(b)) > t.maxResponseSize {
		return nil, wire.NewHopError(wire.KindTooLarge, "response exceeds size limit")
	}
	return b, nil
}

// Close releases idle connections.
func (t *Transport) Close() error {
	return t.closer.Close()
}

// IsTimeout returns true iff err is a deadline expiry.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
