// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package mpt implements a Merkle-Patricia trie over a reference-counted,
// content-addressed node store. Node hashes are 8-byte blake2b digests, which
// keeps roots small enough to gossip for every pubkey and market on every
// keep-alive.
package mpt

import (
	"encoding/hex"
	"fmt"

	"github.com/dchest/blake2b"
)

// HashSize is the length of a node hash.
const HashSize = 8

// Hash is a trie node hash or a trie root.
type Hash [HashSize]byte

// String returns the hex encoding of the Hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero is true for the zero hash, which is used as a "no trie" sentinel.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText encodes the hash as hex so that it can key JSON maps.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText decodes a hex hash.
func (h *Hash) UnmarshalText(b []byte) error {
	if len(b) != HashSize*2 {
		return fmt.Errorf("wrong hash length %d", len(b))
	}
	_, err := hex.Decode(h[:], b)
	return err
}

var hashConfig = &blake2b.Config{Size: HashSize}

// HashData is the 8-byte blake2b digest of b.
func HashData(b []byte) (h Hash) {
	hasher, err := blake2b.New(hashConfig)
	if err != nil {
		// Only possible with an invalid static config.
		panic("blake2b: " + err.Error())
	}
	hasher.Write(b)
	copy(h[:], hasher.Sum(nil))
	return
}

// EmptyRoot is the root of a trie with no entries.
var EmptyRoot = HashData(encodeEmpty())

// NormalizeRoot maps the zero hash to EmptyRoot.
func NormalizeRoot(root Hash) Hash {
	if root.IsZero() {
		return EmptyRoot
	}
	return root
}
