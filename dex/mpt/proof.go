// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package mpt

import (
	"bytes"
	"fmt"
	"sort"
)

// Proof is the set of encoded nodes visited while looking up a set of keys.
type Proof [][]byte

// GenerateProof collects the nodes on the lookup path of every key. Absent
// keys produce a proof of absence.
func GenerateProof(db *MemoryDB, root Hash, keys [][]byte) (Proof, error) {
	root = NormalizeRoot(root)
	seen := make(map[Hash][]byte)
	load := func(h Hash) (node, error) {
		if h == EmptyRoot {
			return nil, nil
		}
		b, found := db.Get(h)
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrMissingNode, h)
		}
		seen[h] = b
		return decodeNode(b)
	}
	for _, k := range keys {
		if _, err := lookup(load, root, keyToNibbles(k)); err != nil {
			return nil, err
		}
	}
	proof := make(Proof, 0, len(seen))
	for _, b := range seen {
		proof = append(proof, b)
	}
	sort.Slice(proof, func(i, j int) bool {
		return bytes.Compare(proof[i], proof[j]) < 0
	})
	return proof, nil
}

// VerifyProof checks that every change's key has exactly the change's value
// in the trie at root, using only the nodes in the proof. A nil Value asserts
// that the key is absent.
func VerifyProof(root Hash, proof Proof, items []Change) error {
	root = NormalizeRoot(root)
	nodes := make(map[Hash][]byte, len(proof))
	for _, b := range proof {
		nodes[HashData(b)] = b
	}
	load := func(h Hash) (node, error) {
		if h == EmptyRoot {
			return nil, nil
		}
		b, found := nodes[h]
		if !found {
			return nil, fmt.Errorf("%w: %s not in proof", ErrMissingNode, h)
		}
		return decodeNode(b)
	}
	for _, item := range items {
		v, err := lookup(load, root, keyToNibbles(item.Key))
		if err != nil {
			return fmt.Errorf("key %x: %w", item.Key, err)
		}
		switch {
		case item.Value == nil && v != nil:
			return fmt.Errorf("key %x: expected absent, found a value", item.Key)
		case item.Value != nil && v == nil:
			return fmt.Errorf("key %x: not in trie", item.Key)
		case !bytes.Equal(item.Value, v):
			return fmt.Errorf("key %x: value mismatch", item.Key)
		}
	}
	return nil
}
