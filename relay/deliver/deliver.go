// deliver.go - Exit relay payload delivery.
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

// Package deliver performs the application request carried by an onion
// once it reaches the exit relay.
package deliver

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"gopkg.in/op/go-logging.v1"
)

const (
	// DefaultTimeout bounds a single origin request.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResponseSize bounds an origin response body.
	DefaultMaxResponseSize = 8 << 20
)

// ErrHostNotAllowed is the error returned when a request targets a host
// outside of the allowed list.
var ErrHostNotAllowed = errors.New("deliver: requested host not allowed")

// Deliverer hands a final payload to its destination and returns the raw
// response.
type Deliverer interface {
	Deliver(ctx context.Context, payload []byte) ([]byte, error)
}

// Func adapts an ordinary function to a Deliverer.
type Func func(ctx context.Context, payload []byte) ([]byte, error)

// Deliver implements Deliverer.
func (f Func) Deliver(ctx context.Context, payload []byte) ([]byte, error) {
	return f(ctx, payload)
}

// HTTPDeliverer treats the payload as a raw HTTP/1.1 request, performs it
// against the origin named in the Host header, and returns the raw
// HTTP/1.1 response.
type HTTPDeliverer struct {
	log *logging.Logger

	allowedHost     map[string]struct{}
	timeout         time.Duration
	maxResponseSize int64
	rt              http.RoundTripper
}

// NewHTTPDeliverer returns a HTTPDeliverer restricted to allowedHosts, where
// "*" allows any host.
func NewHTTPDeliverer(log *logging.Logger, allowedHosts []string, timeout time.Duration) *HTTPDeliverer {
	d := &HTTPDeliverer{
		log:             log,
		allowedHost:     make(map[string]struct{}),
		timeout:         timeout,
		maxResponseSize: DefaultMaxResponseSize,
		rt:              http.DefaultTransport,
	}
	if d.timeout <= 0 {
		d.timeout = DefaultTimeout
	}
	for _, h := range allowedHosts {
		d.allowedHost[strings.ToLower(h)] = struct{}{}
	}
	return d
}

func (d *HTTPDeliverer) isAllowed(host string) bool {
	if _, ok := d.allowedHost["*"]; ok {
		return true
	}
	host = strings.ToLower(host)
	if _, ok := d.allowedHost[host]; ok {
		return true
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		_, ok := d.allowedHost[h]
		return ok
	}
	return false
}

// Deliver implements Deliverer.
func (d *HTTPDeliverer) Deliver(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(payload)))
	if err != nil {
		return nil, fmt.Errorf("deliver: malformed request: %w", err)
	}
	if req.Host == "" {
		return nil, fmt.Errorf("deliver: request has no Host")
	}
	if !d.isAllowed(req.Host) {
		return nil, fmt.Errorf("%w: '%v'", ErrHostNotAllowed, req.Host)
	}

	// http.ReadRequest does not populate an absolute URL.
	req.URL.Scheme = schemeFor(req.Host)
	req.URL.Host = req.Host
	req.RequestURI = ""

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	req = req.WithContext(ctx)

	d.log.Debugf("Delivering %v request to %v", req.Method, req.URL.Host)
	resp, err := d.rt.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("deliver: round trip: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("deliver: reading response: %w", err)
	}
	if int64(len(body)) > d.maxResponseSize {
		return nil, fmt.Errorf("deliver: response exceeds %d bytes", d.maxResponseSize)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.TransferEncoding = nil

	raw := new(bytes.Buffer)
	if err = resp.Write(raw); err != nil {
		return nil, fmt.Errorf("deliver: serializing response: %w", err)
	}
	return raw.Bytes(), nil
}

func schemeFor(host string) string {
	if _, port, err := net.SplitHostPort(host); err == nil && port == "443" {
		return "https"
	}
	return "http"
}
