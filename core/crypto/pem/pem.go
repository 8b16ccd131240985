// pem.go - PEM encoding and file write barrier for key material.
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

// Package pem serializes key material to and from PEM blocks and files.
package pem

import (
	"crypto/subtle"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// KeyMaterial is key material that can round trip through a PEM block.
type KeyMaterial interface {
	FromBytes([]byte) error

	Bytes() []byte

	KeyType() string
}

// Exists returns true iff the file f exists.
func Exists(f string) bool {
	_, err := os.Stat(f)
	return err == nil
}

// BothExists returns true iff both a and b exist.
func BothExists(a, b string) bool {
	return Exists(a) && Exists(b)
}

// BothNotExists returns true iff neither a nor b exist.
func BothNotExists(a, b string) bool {
	return !Exists(a) && !Exists(b)
}

// ToPEMBytes returns the PEM encoding of key.
func ToPEMBytes(key KeyMaterial) ([]byte, error) {
	keyType := strings.ToUpper(key.KeyType())
	b := key.Bytes()
	if isZero(b) {
		return nil, fmt.Errorf("pem/%s: attempted to serialize scrubbed key", keyType)
	}
	return pem.EncodeToMemory(&pem.Block{Type: keyType, Bytes: b}), nil
}

// FromPEMBytes decodes the first PEM block in buf into key, which must
// match the key's type.
func FromPEMBytes(buf []byte, key KeyMaterial) error {
	keyType := strings.ToUpper(key.KeyType())

	blk, _ := pem.Decode(buf)
	if blk == nil {
		return errors.New("pem: no PEM block found")
	}
	if blk.Type != keyType {
		return fmt.Errorf("pem: wrong key type %v != %v", blk.Type, keyType)
	}
	return key.FromBytes(blk.Bytes)
}

// ToFile writes key to the file f with 0600 permissions.
func ToFile(f string, key KeyMaterial) error {
	buf, err := ToPEMBytes(key)
	if err != nil {
		return err
	}
	out, err := os.OpenFile(f, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	n, err := out.Write(buf)
	if err != nil {
		out.Close()
		return err
	}
	if n != len(buf) {
		out.Close()
		return errors.New("pem: partial write failure")
	}
	if err = out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// FromFile reads the PEM file f into key.
func FromFile(f string, key KeyMaterial) error {
	buf, err := os.ReadFile(f)
	if err != nil {
		return fmt.Errorf("pem: failed to read %v: %w", f, err)
	}
	if err = FromPEMBytes(buf, key); err != nil {
		return fmt.Errorf("pem: %v: %w", f, err)
	}
	return nil
}

func isZero(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	return subtle.ConstantTimeCompare(b, make([]byte, len(b))) == 1
}
