// hybrid.go - RSA-OAEP + XChaCha20-Poly1305 hybrid encryption.
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

// Package hybrid implements the node identity keys and the hybrid
// public key encryption used for every onion layer.
//
// The wire form of an encrypted message is the hex encoding of the RSA-OAEP
// (SHA-256) wrapped session key, followed immediately by the session key's
// XChaCha20-Poly1305 output.  The hex field is exactly twice the modulus
// size of the recipient key, 512 characters for KeyBits keys.
package hybrid

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/katzenpost/hpqc/rand"
)

// WrappedKeyHexLength is the width of the wrapped key field for KeyBits keys.
const WrappedKeyHexLength = KeyBits / 8 * 2

// Envelope is a single hybrid encrypted message.
type Envelope struct {
	// WrappedKey is the raw RSA-OAEP ciphertext of the session key.
	WrappedKey []byte

	// Ciphertext is the session key's Seal output.
	Ciphertext []byte
}

// Bytes returns the wire form of the envelope.
func (e *Envelope) Bytes() []byte {
	out := make([]byte, hex.EncodedLen(len(e.WrappedKey)), hex.EncodedLen(len(e.WrappedKey))+len(e.Ciphertext))
	hex.Encode(out, e.WrappedKey)
	return append(out, e.Ciphertext...)
}

// WrappedKeyField returns the hexLen byte wrapped key prefix of raw, or nil
// if raw is too short.
func WrappedKeyField(raw []byte, hexLen int) []byte {
	if len(raw) < hexLen {
		return nil
	}
	return raw[:hexLen]
}

// Encrypt encrypts plaintext to pub with a fresh session key, and returns
// the envelope along with the session key so that the caller can open the
// matching response layer.
func Encrypt(rng io.Reader, plaintext []byte, pub *PublicKey) (*Envelope, *SessionKey, error) {
	if pub == nil || pub.k == nil {
		return nil, nil, fmt.Errorf("%w: missing public key", ErrKeyFormat)
	}
	sk, err := NewSessionKey(rng)
	if err != nil {
		return nil, nil, err
	}
	ct, err := sk.Seal(rng, plaintext)
	if err != nil {
		sk.Reset()
		return nil, nil, err
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rng, pub.k, sk.Bytes(), nil)
	if err != nil {
		sk.Reset()
		return nil, nil, err
	}
	return &Envelope{WrappedKey: wrapped, Ciphertext: ct}, sk, nil
}

// Decrypt opens the wire form of an envelope with priv, and returns the
// plaintext and the session key it was sealed with.  Every failure wraps
// ErrDecryption.
func Decrypt(raw []byte, priv *PrivateKey) ([]byte, *SessionKey, error) {
	if priv == nil || priv.k == nil {
		return nil, nil, fmt.Errorf("%w: missing private key", ErrDecryption)
	}
	field := WrappedKeyField(raw, priv.k.Size()*2)
	if field == nil {
		return nil, nil, fmt.Errorf("%w: message shorter than wrapped key", ErrDecryption)
	}
	wrapped := make([]byte, priv.k.Size())
	if _, err := hex.Decode(wrapped, field); err != nil {
		return nil, nil, fmt.Errorf("%w: wrapped key: %v", ErrDecryption, err)
	}
	keyBytes, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv.k, wrapped, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: unwrap: %v", ErrDecryption, err)
	}
	sk, err := SessionKeyFromBytes(keyBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	pt, err := sk.Open(raw[len(field):])
	if err != nil {
		sk.Reset()
		return nil, nil, err
	}
	return pt, sk, nil
}
