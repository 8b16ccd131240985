// client.go - Registry client.
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

// Package client implements the client side of the registry HTTP API, as
// used by relays to register themselves and by clients to build paths.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"gopkg.in/op/go-logging.v1"

	"github.com/onionrelay/onionrelay/core/pki"
	"github.com/onionrelay/onionrelay/core/wire"
	"github.com/onionrelay/onionrelay/transport"
)

// ErrRejected is the error returned when the registry answers a request
// with a failure status.
var ErrRejected = errors.New("registry: request rejected")

// Client talks to a single registry.
type Client struct {
	log  *logging.Logger
	t    *transport.Transport
	addr pki.Address
}

// New returns a Client for the registry at addr.
func New(log *logging.Logger, addr string) (*Client, error) {
	a, err := pki.ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	t, err := transport.New(transport.HTTP)
	if err != nil {
		return nil, err
	}
	return &Client{log: log, t: t, addr: a}, nil
}

// Address returns the registry address.
func (c *Client) Address() pki.Address {
	return c.addr
}

func (c *Client) wrap(path string, err error) error {
	if e, ok := wire.AsHopError(err); ok {
		return &StatusError{Path: path, Status: e.Status}
	}
	return fmt.Errorf("registry: %v: %w", path, err)
}

// StatusError is a non success registry response.
type StatusError struct {
	Path   string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("registry: %v: %d %v", e.Path, e.Status, http.StatusText(e.Status))
}

// Unwrap makes every StatusError match ErrRejected.
func (e *StatusError) Unwrap() error {
	return ErrRejected
}

// List fetches the listing of live relays.  Malformed entries are skipped.
func (c *Client) List(ctx context.Context) ([]*pki.Node, error) {
	b, err := c.t.Get(ctx, c.addr, "/")
	if err != nil {
		return nil, c.wrap("/", err)
	}
	nodes, bad, err := pki.ParseListing(b)
	if err != nil {
		return nil, err
	}
	if bad > 0 {
		c.log.Warningf("Registry listing had %d malformed entries.", bad)
	}
	return nodes, nil
}

// Add asks the registry to register the caller's host with port.
func (c *Client) Add(ctx context.Context, port uint16) error {
	path := "/add/" + strconv.Itoa(int(port))
	if _, err := c.t.Post(ctx, c.addr, path, nil); err != nil {
		return c.wrap(path, err)
	}
	return nil
}

// Remove asks the registry to unregister the caller's host with port.
func (c *Client) Remove(ctx context.Context, port uint16) error {
	path := "/remove/" + strconv.Itoa(int(port))
	if _, err := c.t.Get(ctx, c.addr, path); err != nil {
		return c.wrap(path, err)
	}
	return nil
}

// Check asks the registry to probe the relay at addr.  It returns false if
// the registry found the relay dead and removed it.
func (c *Client) Check(ctx context.Context, addr pki.Address) (bool, error) {
	path := "/check/" + addr.String()
	_, err := c.t.Get(ctx, c.addr, path)
	if err == nil {
		return true, nil
	}
	err = c.wrap(path, err)
	var se *StatusError
	if errors.As(err, &se) && se.Status == http.StatusGone {
		return false, nil
	}
	return false, err
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.t.Close()
}
