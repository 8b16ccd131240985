// keys.go - RSA node keys.
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
	"bytes"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/katzenpost/hpqc/rand"

	"github.com/onionrelay/onionrelay/core/crypto/pem"
)

const (
	// KeyBits is the size of freshly generated node keys.
	KeyBits = 2048

	publicKeyType  = "PUBLIC KEY"
	privateKeyType = "PRIVATE KEY"
)

// PublicKey is a node's public key, as published in the registry.
type PublicKey struct {
	k *rsa.PublicKey
}

// KeyType implements pem.KeyMaterial.
func (p *PublicKey) KeyType() string { return publicKeyType }

// Bytes returns the PKIX DER encoding of the key.
func (p *PublicKey) Bytes() []byte {
	if p.k == nil {
		return nil
	}
	b, err := x509.MarshalPKIXPublicKey(p.k)
	if err != nil {
		panic("hybrid: failed to marshal public key: " + err.Error())
	}
	return b
}

// FromBytes deserializes a PKIX DER encoded RSA public key.
func (p *PublicKey) FromBytes(b []byte) error {
	raw, err := x509.ParsePKIXPublicKey(b)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	k, ok := raw.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: not an RSA public key", ErrKeyFormat)
	}
	if k.N.BitLen() < KeyBits {
		return fmt.Errorf("%w: %d bit modulus is too small", ErrKeyFormat, k.N.BitLen())
	}
	p.k = k
	return nil
}

// PEM returns the PEM text encoding of the key, as served on GET /key.
func (p *PublicKey) PEM() []byte {
	b, err := pem.ToPEMBytes(p)
	if err != nil {
		panic(err)
	}
	return b
}

// Equal returns true iff p and other are the same key.
func (p *PublicKey) Equal(other *PublicKey) bool {
	if p == nil || other == nil || p.k == nil || other.k == nil {
		return false
	}
	return p.k.Equal(other.k)
}

// WrappedKeyHexLength returns the width of the hex encoded wrapped session
// key field for envelopes addressed to this key.
func (p *PublicKey) WrappedKeyHexLength() int {
	return p.k.Size() * 2
}

// String returns a short fingerprint suitable for logging.
func (p *PublicKey) String() string {
	h := sha256.Sum256(p.Bytes())
	return hex.EncodeToString(h[:8])
}

// PublicKeyFromPEM parses the PEM text encoding of a public key.
func PublicKeyFromPEM(b []byte) (*PublicKey, error) {
	p := new(PublicKey)
	if err := pem.FromPEMBytes(b, p); err != nil {
		if errors.Is(err, ErrKeyFormat) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	return p, nil
}

// PrivateKey is a node's private key.  It is only ever held in process
// memory, or in a 0600 PEM file when the node is configured to persist it.
type PrivateKey struct {
	k   *rsa.PrivateKey
	pub PublicKey
}

// KeyType implements pem.KeyMaterial.
func (k *PrivateKey) KeyType() string { return privateKeyType }

// Bytes returns the PKCS#8 DER encoding of the key.
func (k *PrivateKey) Bytes() []byte {
	if k.k == nil {
		return nil
	}
	b, err := x509.MarshalPKCS8PrivateKey(k.k)
	if err != nil {
		panic("hybrid: failed to marshal private key: " + err.Error())
	}
	return b
}

// FromBytes deserializes a PKCS#8 DER encoded RSA private key.
func (k *PrivateKey) FromBytes(b []byte) error {
	raw, err := x509.ParsePKCS8PrivateKey(b)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	rk, ok := raw.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("%w: not an RSA private key", ErrKeyFormat)
	}
	if rk.N.BitLen() < KeyBits {
		return fmt.Errorf("%w: %d bit modulus is too small", ErrKeyFormat, rk.N.BitLen())
	}
	k.k = rk
	k.pub.k = &rk.PublicKey
	return nil
}

// PublicKey returns the public half of the keypair.
func (k *PrivateKey) PublicKey() *PublicKey {
	return &k.pub
}

// Reset clears the private exponent and primes.
func (k *PrivateKey) Reset() {
	if k.k == nil {
		return
	}
	k.k.D.SetInt64(0)
	for _, p := range k.k.Primes {
		p.SetInt64(0)
	}
	k.k = nil
}

// GenerateKeypair generates a fresh KeyBits RSA keypair.
func GenerateKeypair(rng io.Reader) (*PrivateKey, error) {
	rk, err := rsa.GenerateKey(rng, KeyBits)
	if err != nil {
		return nil, err
	}
	k := &PrivateKey{k: rk}
	k.pub.k = &rk.PublicKey
	return k, nil
}

// Load parses a PEM encoded public and private key, and ensures that they
// form a pair by running an encrypt/decrypt probe.
func Load(publicPEM, privatePEM []byte) (*PrivateKey, error) {
	pub, err := PublicKeyFromPEM(publicPEM)
	if err != nil {
		return nil, err
	}
	k := new(PrivateKey)
	if err = pem.FromPEMBytes(privatePEM, k); err != nil {
		if errors.Is(err, ErrKeyFormat) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	if err = checkPair(pub, k); err != nil {
		return nil, err
	}
	return k, nil
}

// LoadOrGenerate loads the keypair from privFile and pubFile if both exist,
// generates and writes a new keypair if neither does, and fails otherwise.
func LoadOrGenerate(privFile, pubFile string) (*PrivateKey, error) {
	switch {
	case pem.BothExists(privFile, pubFile):
		k := new(PrivateKey)
		if err := pem.FromFile(privFile, k); err != nil {
			return nil, err
		}
		pub := new(PublicKey)
		if err := pem.FromFile(pubFile, pub); err != nil {
			return nil, err
		}
		if err := checkPair(pub, k); err != nil {
			return nil, err
		}
		return k, nil
	case pem.BothNotExists(privFile, pubFile):
		k, err := GenerateKeypair(rand.Reader)
		if err != nil {
			return nil, err
		}
		if err = pem.ToFile(privFile, k); err != nil {
			return nil, err
		}
		if err = pem.ToFile(pubFile, k.PublicKey()); err != nil {
			return nil, err
		}
		return k, nil
	default:
		return nil, fmt.Errorf("%w: only one of %v and %v exists", ErrKeyFormat, privFile, pubFile)
	}
}

func checkPair(pub *PublicKey, k *PrivateKey) error {
	if !pub.Equal(k.PublicKey()) {
		return fmt.Errorf("%w: public key does not match private key", ErrKeyFormat)
	}
	probe := []byte("onionrelay keypair probe")
	env, sk, err := Encrypt(rand.Reader, probe, pub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	defer sk.Reset()
	pt, sk2, err := Decrypt(env.Bytes(), k)
	if err != nil || !bytes.Equal(pt, probe) {
		return fmt.Errorf("%w: encrypt/decrypt probe failed", ErrKeyFormat)
	}
	sk2.Reset()
	return nil
}
