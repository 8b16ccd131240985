// session.go - Symmetric session keys.
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

package hybrid

import (
	"crypto/cipher"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// SessionKeySize is the size of a SessionKey in bytes.
const SessionKeySize = chacha20poly1305.KeySize

// SessionKey is a fresh symmetric key generated for a single hybrid
// encryption.  The same key protects the forward layer and the matching
// response layer.
type SessionKey struct {
	key  [SessionKeySize]byte
	aead cipher.AEAD
}

// NewSessionKey generates a new random SessionKey.
func NewSessionKey(rng io.Reader) (*SessionKey, error) {
	k := new(SessionKey)
	if _, err := io.ReadFull(rng, k.key[:]); err != nil {
		return nil, err
	}
	if err := k.init(); err != nil {
		return nil, err
	}
	return k, nil
}

// SessionKeyFromBytes returns a SessionKey built from raw key bytes.
func SessionKeyFromBytes(b []byte) (*SessionKey, error) {
	if len(b) != SessionKeySize {
		return nil, fmt.Errorf("hybrid: invalid session key length: %d", len(b))
	}
	k := new(SessionKey)
	copy(k.key[:], b)
	if err := k.init(); err != nil {
		return nil, err
	}
	return k, nil
}

func (k *SessionKey) init() error {
	aead, err := chacha20poly1305.NewX(k.key[:])
	if err != nil {
		return err
	}
	k.aead = aead
	return nil
}

// Bytes returns the raw key bytes.
func (k *SessionKey) Bytes() []byte {
	return k.key[:]
}

// Equal returns true iff k and other hold the same key.
func (k *SessionKey) Equal(other *SessionKey) bool {
	return subtle.ConstantTimeCompare(k.key[:], other.key[:]) == 1
}

// Seal encrypts and authenticates plaintext, returning nonce || ciphertext.
func (k *SessionKey) Seal(rng io.Reader, plaintext []byte) ([]byte, error) {
	if k.aead == nil {
		return nil, fmt.Errorf("hybrid: session key has been reset")
	}
	nonceSize := k.aead.NonceSize()
	out := make([]byte, nonceSize, nonceSize+len(plaintext)+k.aead.Overhead())
	if _, err := io.ReadFull(rng, out); err != nil {
		return nil, err
	}
	return k.aead.Seal(out, out[:nonceSize], plaintext, nil), nil
}

// Open authenticates and decrypts a Seal output.  All failures return
// ErrDecryption.
func (k *SessionKey) Open(ciphertext []byte) ([]byte, error) {
	if k.aead == nil {
		return nil, fmt.Errorf("%w: session key has been reset", ErrDecryption)
	}
	nonceSize := k.aead.NonceSize()
	if len(ciphertext) < nonceSize+k.aead.Overhead() {
		return nil, fmt.Errorf("%w: truncated ciphertext", ErrDecryption)
	}
	pt, err := k.aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return pt, nil
}

// Reset clears the key material.  A reset key can neither seal nor open.
func (k *SessionKey) Reset() {
	if k == nil {
		return
	}
	for i := range k.key {
		k.key[i] = 0
	}
	k.aead = nil
}
