// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package xtz

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/edwards/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Signer signs operation digests for a single account.
type Signer interface {
	PublicKey() *PublicKey
	// Sign returns the 64-byte signature of a 32-byte digest.
	Sign(digest []byte) ([]byte, error)
}

const ed25519SeedSize = 32

type edSigner struct {
	priv *edwards.PrivateKey
	pub  *PublicKey
}

// NewEd25519Signer creates a tz1 account signer from a 32-byte seed.
func NewEd25519Signer(seed []byte) (Signer, error) {
	if len(seed) != ed25519SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519SeedSize, len(seed))
	}
	priv, pub := edwards.PrivKeyFromSecret(seed)
	if priv == nil {
		return nil, fmt.Errorf("invalid ed25519 seed")
	}
	return &edSigner{
		priv: priv,
		pub:  &PublicKey{Curve: CurveEd25519, Key: pub.SerializeCompressed()},
	}, nil
}

func (s *edSigner) PublicKey() *PublicKey { return s.pub }

func (s *edSigner) Sign(digest []byte) ([]byte, error) {
	sig, err := s.priv.Sign(digest)
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

type secpSigner struct {
	priv *secp256k1.PrivateKey
	pub  *PublicKey
}

// NewSecp256k1Signer creates a tz2 account signer from a private key.
func NewSecp256k1Signer(privKey []byte) (Signer, error) {
	if len(privKey) != secp256k1.PrivKeyBytesLen {
		return nil, fmt.Errorf("secp256k1 key must be %d bytes, got %d", secp256k1.PrivKeyBytesLen, len(privKey))
	}
	priv := secp256k1.PrivKeyFromBytes(privKey)
	return &secpSigner{
		priv: priv,
		pub:  &PublicKey{Curve: CurveSecp256k1, Key: priv.PubKey().SerializeCompressed()},
	}, nil
}

func (s *secpSigner) PublicKey() *PublicKey { return s.pub }

// Sign produces r || s. The compact form's leading recovery byte is dropped.
func (s *secpSigner) Sign(digest []byte) ([]byte, error) {
	return ecdsa.SignCompact(s.priv, digest, true)[1:], nil
}

// NewSigner creates a signer for the curve.
func NewSigner(c Curve, key []byte) (Signer, error) {
	switch c {
	case CurveEd25519:
		return NewEd25519Signer(key)
	case CurveSecp256k1:
		return NewSecp256k1Signer(key)
	}
	return nil, fmt.Errorf("unsupported signing curve %s", c)
}
