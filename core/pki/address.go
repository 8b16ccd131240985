// address.go - Node network addresses.
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

package pki

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

// ErrInvalidAddress is the error returned when an address can not be parsed
// or is not usable as a next hop.
var ErrInvalidAddress = errors.New("pki: invalid address")

// hostProfile is idna.Lookup without the STD3 restriction, so that host
// names with underscores, common on container networks, are accepted.
var hostProfile = idna.New(
	idna.MapForLookup(),
	idna.BidiRule(),
	idna.StrictDomainName(false),
)

// Address is the network location of a relay.  Two nodes are the same node
// iff their Addresses are equal.
type Address struct {
	Host string
	Port uint16
}

// String returns the host:port form of the address, with IPv6 hosts
// bracketed.
func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.FormatUint(uint64(a.Port), 10))
}

// Validate returns an error iff the address is not usable.
func (a Address) Validate() error {
	if a.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidAddress)
	}
	if strings.ContainsAny(a.Host, "\n\r") {
		return fmt.Errorf("%w: host contains a line break", ErrInvalidAddress)
	}
	if a.Port == 0 {
		return fmt.Errorf("%w: port is 0", ErrInvalidAddress)
	}
	if net.ParseIP(a.Host) == nil {
		if _, err := hostProfile.ToASCII(a.Host); err != nil {
			return fmt.Errorf("%w: '%v': %v", ErrInvalidAddress, a.Host, err)
		}
	}
	return nil
}

// NewAddress returns a validated Address for host and port, normalising
// host names to their ASCII form.
func NewAddress(host string, port uint16) (Address, error) {
	a := Address{Host: host, Port: port}
	if err := a.Validate(); err != nil {
		return Address{}, err
	}
	if ip := net.ParseIP(host); ip != nil {
		a.Host = ip.String()
	} else {
		h, _ := hostProfile.ToASCII(host)
		a.Host = h
	}
	return a, nil
}

// ParseAddress parses a host:port string.
func ParseAddress(s string) (Address, error) {
	h, p, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: '%v': %v", ErrInvalidAddress, s, err)
	}
	port, err := strconv.ParseUint(p, 10, 16)
	if err != nil {
		return Address{}, fmt.Errorf("%w: '%v': %v", ErrInvalidAddress, s, err)
	}
	return NewAddress(h, uint16(port))
}
