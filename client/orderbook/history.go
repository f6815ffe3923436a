// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package orderbook

import (
	"fmt"

	"decred.org/mmswap/dex/mpt"
	"github.com/google/uuid"
)

// OrderChange is a change to one order in a pair trie. A nil Item is a
// removal.
type OrderChange struct {
	UUID uuid.UUID `codec:"uuid"`
	Item *Item     `codec:"item"`
}

// TrieDiff is the set of changes that take a pair trie to NextRoot.
type TrieDiff struct {
	Delta    []*OrderChange
	NextRoot mpt.Hash
}

// TrieDiffHistory maps a pair trie root to the diff that advances it. The
// diffs form chains from older roots toward the current root.
type TrieDiffHistory struct {
	diffs map[mpt.Hash]*TrieDiff
}

// NewTrieDiffHistory is the constructor for an empty TrieDiffHistory.
func NewTrieDiffHistory() *TrieDiffHistory {
	return &TrieDiffHistory{diffs: make(map[mpt.Hash]*TrieDiff)}
}

// InsertNewDiff records the diff from insertAt. A diff that does not change
// the root is ignored. If the diff returns to a root that is already in the
// history, the chain starting at that root is dropped instead, since every
// state along it has been superseded.
func (h *TrieDiffHistory) InsertNewDiff(insertAt mpt.Hash, diff *TrieDiff) {
	if insertAt == diff.NextRoot {
		return
	}
	next, found := h.diffs[diff.NextRoot]
	if !found {
		h.diffs[insertAt] = diff
		return
	}
	delete(h.diffs, diff.NextRoot)
	for {
		d, found := h.diffs[next.NextRoot]
		if !found {
			return
		}
		delete(h.diffs, next.NextRoot)
		next = d
	}
}

// Get is the diff recorded at root.
func (h *TrieDiffHistory) Get(root mpt.Hash) (*TrieDiff, bool) {
	d, found := h.diffs[root]
	return d, found
}

// Len is the number of recorded diffs.
func (h *TrieDiffHistory) Len() int {
	return len(h.diffs)
}

// Purge forgets every diff.
func (h *TrieDiffHistory) Purge() {
	h.diffs = make(map[mpt.Hash]*TrieDiff)
}

// combine merges the chain of diffs from fromRoot. ok is false if the chain
// does not end at toRoot.
func (h *TrieDiffHistory) combine(fromRoot, toRoot mpt.Hash) (delta []*OrderChange, ok bool) {
	d, found := h.Get(fromRoot)
	if !found {
		return nil, false
	}
	total := make(map[uuid.UUID]*Item)
	var ids []uuid.UUID
	seen := map[mpt.Hash]bool{fromRoot: true}
	for {
		for _, c := range d.Delta {
			if _, exists := total[c.UUID]; !exists {
				ids = append(ids, c.UUID)
			}
			total[c.UUID] = c.Item
		}
		if d.NextRoot == toRoot {
			break
		}
		if seen[d.NextRoot] {
			return nil, false
		}
		seen[d.NextRoot] = true
		if d, found = h.Get(d.NextRoot); !found {
			return nil, false
		}
	}
	delta = make([]*OrderChange, 0, len(ids))
	for _, id := range ids {
		delta = append(delta, &OrderChange{UUID: id, Item: total[id]})
	}
	return delta, true
}

// DeltaOrFullTrie is a pair's sync payload. Exactly one of Delta and
// FullTrie is set, unless both are empty. Delta is the combined set of
// changes since the requested root, FullTrie is every order in the current
// trie.
type DeltaOrFullTrie struct {
	Delta    []*OrderChange `codec:"delta,omitempty"`
	FullTrie []*Item        `codec:"full,omitempty"`
	IsDelta  bool           `codec:"is_delta"`
}

// deltaOrFullTrie walks the history from fromRoot. If the history has no
// chain from fromRoot to currentRoot, the whole trie at currentRoot is dumped.
func deltaOrFullTrie(h *TrieDiffHistory, fromRoot, currentRoot mpt.Hash, db *mpt.MemoryDB) (*DeltaOrFullTrie, error) {
	if fromRoot == currentRoot {
		return &DeltaOrFullTrie{IsDelta: true}, nil
	}
	if delta, ok := h.combine(fromRoot, currentRoot); ok {
		return &DeltaOrFullTrie{Delta: delta, IsDelta: true}, nil
	}

	var items []*Item
	err := mpt.New(db, currentRoot).Iterate(func(k, v []byte) error {
		item, err := decodeItem(v)
		if err != nil {
			return fmt.Errorf("error decoding trie value for key %x: %w", k, err)
		}
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &DeltaOrFullTrie{FullTrie: items}, nil
}
