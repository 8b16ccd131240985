// pki.go - Relay identities and the registry listing.
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

// Package pki provides the relay identity records published by the
// registry, and the listing document clients build paths from.
package pki

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/onionrelay/onionrelay/core/crypto/hybrid"
)

// Node is a relay as known to the registry.
type Node struct {
	// Address is where the relay accepts onions.
	Address Address

	// PublicKey is the PEM text encoding of the relay's public key.
	PublicKey []byte
}

// Key parses the node's public key.
func (n *Node) Key() (*hybrid.PublicKey, error) {
	return hybrid.PublicKeyFromPEM(n.PublicKey)
}

// Validate returns an error iff the node is not usable in a path.
func (n *Node) Validate() error {
	if err := n.Address.Validate(); err != nil {
		return err
	}
	if _, err := n.Key(); err != nil {
		return fmt.Errorf("pki: node %v: %w", n.Address, err)
	}
	return nil
}

func (n *Node) String() string {
	return n.Address.String()
}

// node has Node's fields without its methods, so that the CBOR codec does
// not dispatch back into MarshalBinary.
type node Node

// MarshalBinary returns the CBOR encoding of the node, as persisted by the
// registry.
func (n *Node) MarshalBinary() ([]byte, error) {
	return cbor.Marshal((*node)(n))
}

// UnmarshalBinary decodes a MarshalBinary output.
func (n *Node) UnmarshalBinary(b []byte) error {
	return cbor.Unmarshal(b, (*node)(n))
}

// Listing is the registry document: a mapping of host:port to the PEM
// public key of every live relay.
type Listing map[string]string

// NewListing builds a Listing from nodes.
func NewListing(nodes []*Node) Listing {
	l := make(Listing, len(nodes))
	for _, n := range nodes {
		l[n.Address.String()] = string(n.PublicKey)
	}
	return l
}

// Marshal returns the JSON encoding of the listing.
func (l Listing) Marshal() ([]byte, error) {
	return json.Marshal(l)
}

// ParseListing decodes a JSON listing and returns the nodes it names, sorted
// by address.  Entries with an unparsable address or key are skipped, and
// reported via the returned error count.
func ParseListing(b []byte) ([]*Node, int, error) {
	var l Listing
	if err := json.Unmarshal(b, &l); err != nil {
		return nil, 0, fmt.Errorf("pki: malformed listing: %v", err)
	}
	nodes := make([]*Node, 0, len(l))
	bad := 0
	for k, v := range l {
		addr, err := ParseAddress(k)
		if err != nil {
			bad++
			continue
		}
		n := &Node{Address: addr, PublicKey: []byte(v)}
		if _, err = n.Key(); err != nil {
			bad++
			continue
		}
		nodes = append(nodes, n)
	}
	SortNodes(nodes)
	return nodes, bad, nil
}

// SortNodes sorts nodes by address.
func SortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Address.String() < nodes[j].Address.String()
	})
}
