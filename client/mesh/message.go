// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package mesh

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/ugorji/go/codec"
)

// PeerIDLength is the length of a compressed secp256k1 public key.
const PeerIDLength = secp256k1.PubKeyBytesLenCompressed

// PeerID identifies a node on the mesh. It is the compressed serialized
// secp256k1 public key that the node signs its messages with.
type PeerID [PeerIDLength]byte

func (p PeerID) String() string {
	return hex.EncodeToString(p[:])
}

// PeerIDFromPubKey converts the public key to a PeerID.
func PeerIDFromPubKey(pub *secp256k1.PublicKey) (id PeerID) {
	copy(id[:], pub.SerializeCompressed())
	return
}

// ParsePeerID decodes a hex-encoded PeerID and checks that it is a valid
// public key.
func ParsePeerID(s string) (PeerID, error) {
	var id PeerID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != PeerIDLength {
		return id, fmt.Errorf("wrong peer id length %d", len(b))
	}
	if _, err := secp256k1.ParsePubKey(b); err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}

// SignedMessage is the envelope for everything sent over the mesh. The
// signature is a DER-encoded ecdsa signature of the sha256 hash of Payload.
type SignedMessage struct {
	Payload   []byte `codec:"payload"`
	Signature []byte `codec:"sig"`
	PubKey    []byte `codec:"pubkey"`
}

// Sign creates a SignedMessage for the payload.
func Sign(priv *secp256k1.PrivateKey, payload []byte) *SignedMessage {
	h := sha256.Sum256(payload)
	return &SignedMessage{
		Payload:   payload,
		Signature: ecdsa.Sign(priv, h[:]).Serialize(),
		PubKey:    priv.PubKey().SerializeCompressed(),
	}
}

// Verify checks the signature against the embedded public key and returns the
// signer's PeerID.
func (m *SignedMessage) Verify() (PeerID, error) {
	var id PeerID
	pub, err := secp256k1.ParsePubKey(m.PubKey)
	if err != nil {
		return id, fmt.Errorf("error parsing pubkey: %w", err)
	}
	sig, err := ecdsa.ParseDERSignature(m.Signature)
	if err != nil {
		return id, fmt.Errorf("error decoding secp256k1 Signature from bytes: %w", err)
	}
	h := sha256.Sum256(m.Payload)
	if !sig.Verify(h[:], pub) {
		return id, errors.New("secp256k1 signature verification failed")
	}
	return PeerIDFromPubKey(pub), nil
}

var msgpackHandle = &codec.MsgpackHandle{}

// Encode serializes the envelope.
func (m *SignedMessage) Encode() ([]byte, error) {
	var b []byte
	if err := codec.NewEncoderBytes(&b, msgpackHandle).Encode(m); err != nil {
		return nil, err
	}
	return b, nil
}

// DecodeSignedMessage parses and verifies a serialized envelope.
func DecodeSignedMessage(b []byte) (*SignedMessage, PeerID, error) {
	m := new(SignedMessage)
	if err := codec.NewDecoderBytes(b, msgpackHandle).Decode(m); err != nil {
		return nil, PeerID{}, fmt.Errorf("error decoding signed message: %w", err)
	}
	from, err := m.Verify()
	if err != nil {
		return nil, PeerID{}, err
	}
	return m, from, nil
}
