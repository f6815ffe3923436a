// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package orderbook

import (
	"fmt"

	"decred.org/mmswap/dex"
	"decred.org/mmswap/dex/mpt"
	"github.com/google/uuid"
)

// ProcessKeepAlive compares the advertised roots of subscribed pairs with the
// roots we hold for the pubkey. If any differ, a request for the changes since
// our roots is returned, to be sent to the peer that propagated the
// keep-alive. Otherwise the pubkey's keep-alive time is refreshed.
func (ob *Orderbook) ProcessKeepAlive(pubkey string, ka *PubkeyKeepAlive) *SyncPubkeyOrderbookState {
	ob.mtx.Lock()
	defer ob.mtx.Unlock()
	state := ob.pubkeyState(pubkey)
	if ka.Timestamp > state.KeepAliveTimestamp {
		state.KeepAliveTimestamp = ka.Timestamp
	}
	toRequest := make(map[string]mpt.Hash)
	for pair, root := range ka.TrieRoots {
		if _, subscribed := ob.topics[TopicFromPair(pair)]; !subscribed {
			continue
		}
		if ours := state.root(pair); ours != mpt.NormalizeRoot(root) {
			toRequest[pair] = ours
		}
	}
	if len(toRequest) == 0 {
		state.LastKeepAlive = ob.stamp()
		return nil
	}
	return &SyncPubkeyOrderbookState{
		Pubkey:    pubkey,
		TrieRoots: toRequest,
	}
}

// ProcessSyncRequest answers a sync request with a delta or the full trie for
// every requested pair. The response is nil if the pubkey is unknown.
func (ob *Orderbook) ProcessSyncRequest(req *SyncPubkeyOrderbookState) (*SyncPubkeyOrderbookStateResponse, error) {
	ob.mtx.RLock()
	defer ob.mtx.RUnlock()
	state, found := ob.pubkeysState[req.Pubkey]
	if !found {
		return nil, nil
	}
	resp := &SyncPubkeyOrderbookStateResponse{
		PairOrdersDiff: make(map[string]*DeltaOrFullTrie, len(req.TrieRoots)),
	}
	for pair, fromRoot := range req.TrieRoots {
		current, found := state.trieRoots[pair]
		if !found {
			return nil, fmt.Errorf("no trie root for pair %s", pair)
		}
		diff, err := deltaOrFullTrie(state.history, mpt.NormalizeRoot(fromRoot), mpt.NormalizeRoot(current), ob.db)
		if err != nil {
			return nil, fmt.Errorf("error building %s diff: %w", pair, err)
		}
		resp.PairOrdersDiff[pair] = diff
	}
	return resp, nil
}

// ApplySyncResponse applies the sync response to the pubkey's tries and the
// book. advertised, if not nil, holds the roots from the keep-alive that
// triggered the sync. Reaching a different root is logged but not an error.
func (ob *Orderbook) ApplySyncResponse(pubkey string, resp *SyncPubkeyOrderbookStateResponse, advertised map[string]mpt.Hash) error {
	ob.mtx.Lock()
	defer ob.mtx.Unlock()
	state, found := ob.pubkeysState[pubkey]
	if !found {
		return dex.NewError(dex.ErrUnknownPubkey, pubkey)
	}
	for pair, diff := range resp.PairOrdersDiff {
		if err := checkSyncItems(pubkey, pair, diff); err != nil {
			return err
		}
		var newRoot mpt.Hash
		var err error
		if diff.IsDelta {
			newRoot, err = ob.applyDelta(state, pair, diff.Delta)
		} else {
			newRoot, err = ob.applyFullTrie(state, pair, diff.FullTrie)
		}
		if err != nil {
			return fmt.Errorf("error syncing %s orders of %s: %w", pair, pubkey, err)
		}
		if want, found := advertised[pair]; found && mpt.NormalizeRoot(want) != newRoot {
			ob.log.Warnf("Sync of %s orders of %s reached root %s, not the advertised %s", pair, pubkey, newRoot, want)
		}
	}
	state.LastKeepAlive = ob.stamp()
	return nil
}

// checkSyncItems verifies that the orders of a sync response belong to the
// pubkey and pair they are synced for.
func checkSyncItems(pubkey, pair string, diff *DeltaOrFullTrie) error {
	check := func(item *Item) error {
		if item.Pubkey != pubkey {
			return fmt.Errorf("order %s of %s in the %s sync", item.UUID, item.Pubkey, pubkey)
		}
		if item.Pair() != pair {
			return fmt.Errorf("order %s of pair %s in the %s sync", item.UUID, item.Pair(), pair)
		}
		return nil
	}
	for _, c := range diff.Delta {
		if c.Item == nil {
			continue
		}
		if c.Item.UUID != c.UUID {
			return fmt.Errorf("delta key %s holds order %s", c.UUID, c.Item.UUID)
		}
		if err := check(c.Item); err != nil {
			return err
		}
	}
	for _, item := range diff.FullTrie {
		if err := check(item); err != nil {
			return err
		}
	}
	return nil
}

func (ob *Orderbook) applyDelta(state *PubkeyState, pair string, delta []*OrderChange) (mpt.Hash, error) {
	oldRoot := state.root(pair)
	changes := make([]mpt.Change, 0, len(delta))
	for _, c := range delta {
		ch := mpt.Change{Key: c.UUID[:]}
		if c.Item != nil && c.Item.valid() {
			v, err := c.Item.trieValue()
			if err != nil {
				return oldRoot, err
			}
			ch.Value = v
		}
		changes = append(changes, ch)
	}
	newRoot, err := mpt.DeltaRoot(ob.db, oldRoot, changes)
	state.trieRoots[pair] = newRoot
	if err != nil {
		return newRoot, err
	}
	for _, c := range delta {
		if c.Item == nil || !c.Item.valid() {
			if _, owned := state.ordersUUIDs[c.UUID]; owned {
				ob.removeOrder(c.UUID)
				delete(state.ordersUUIDs, c.UUID)
			}
			continue
		}
		ob.insertOrUpdate(c.Item.Copy())
		state.ordersUUIDs[c.UUID] = pair
	}
	// Relays answer sync requests for pubkeys they only know through syncs.
	state.history.InsertNewDiff(oldRoot, &TrieDiff{Delta: delta, NextRoot: newRoot})
	return newRoot, nil
}

func (ob *Orderbook) applyFullTrie(state *PubkeyState, pair string, items []*Item) (mpt.Hash, error) {
	ob.db.Purge(state.root(pair))
	for id, p := range state.ordersUUIDs {
		if p == pair {
			ob.removeOrder(id)
			delete(state.ordersUUIDs, id)
		}
	}
	t := mpt.New(ob.db, mpt.EmptyRoot)
	for _, item := range items {
		if !item.valid() {
			continue
		}
		v, err := item.trieValue()
		if err != nil {
			return mpt.EmptyRoot, err
		}
		if err := t.Insert(item.UUID[:], v); err != nil {
			state.trieRoots[pair] = t.Root()
			return t.Root(), err
		}
		ob.insertOrUpdate(item.Copy())
		state.ordersUUIDs[item.UUID] = pair
	}
	state.trieRoots[pair] = t.Root()
	return t.Root(), nil
}

// ProcessGetOrderbook collects every order on the pair, in both directions,
// grouped by pubkey, with a proof of each pubkey's orders against its trie
// root.
func (ob *Orderbook) ProcessGetOrderbook(base, rel string) (*GetOrderbookResponse, error) {
	ob.mtx.RLock()
	defer ob.mtx.RUnlock()
	byPubkey := make(map[string][]*Item)
	for _, bp := range []basePair{{base, rel}, {rel, base}} {
		for id := range ob.unordered[bp] {
			item, found := ob.orderSet[id]
			if !found {
				return nil, dex.NewError(dex.ErrInvariant, fmt.Sprintf("indexed order %s is not in the order set", id))
			}
			byPubkey[item.Pubkey] = append(byPubkey[item.Pubkey], item.Copy())
		}
	}

	pair := AlbOrderedPair(base, rel)
	resp := &GetOrderbookResponse{PubkeyOrders: make(map[string]*GetOrderbookPubkeyItem, len(byPubkey))}
	for pubkey, items := range byPubkey {
		state, found := ob.pubkeysState[pubkey]
		if !found {
			return nil, dex.NewError(dex.ErrInvariant, "no state for order owner "+pubkey)
		}
		root, found := state.trieRoots[pair]
		if !found {
			return nil, dex.NewError(dex.ErrInvariant, fmt.Sprintf("no %s trie root for %s", pair, pubkey))
		}
		keys := make([][]byte, 0, len(items))
		for _, item := range items {
			keys = append(keys, item.UUID[:])
		}
		proof, err := mpt.GenerateProof(ob.db, root, keys)
		if err != nil {
			return nil, fmt.Errorf("error generating proof for %s: %w", pubkey, err)
		}
		resp.PubkeyOrders[pubkey] = &GetOrderbookPubkeyItem{
			LastKeepAlive: state.LastKeepAlive,
			TrieRoot:      root,
			Proof:         proof,
			Orders:        items,
		}
	}
	return resp, nil
}

// VerifyPubkeyOrderbook checks the proof of the pubkey's orders.
func VerifyPubkeyOrderbook(item *GetOrderbookPubkeyItem) error {
	changes := make([]mpt.Change, 0, len(item.Orders))
	for _, order := range item.Orders {
		v, err := order.trieValue()
		if err != nil {
			return err
		}
		changes = append(changes, mpt.Change{Key: order.UUID[:], Value: v})
	}
	if err := mpt.VerifyProof(item.TrieRoot, item.Proof, changes); err != nil {
		return fmt.Errorf("error verifying trie root %s: %w", item.TrieRoot, err)
	}
	return nil
}

// FillFromGetOrderbook adds the orders of a relay's GetOrderbook response.
// Pubkeys whose proof fails or whose orders are not on the pair are skipped.
// When a pubkey's orders rebuild its advertised trie exactly, the trie is
// adopted, so that the next keep-alive needs no sync. Pubkeys that we already
// hold a trie for are left alone. The number of orders added is returned.
func (ob *Orderbook) FillFromGetOrderbook(base, rel string, resp *GetOrderbookResponse) int {
	pair := AlbOrderedPair(base, rel)
	verified := make(map[string]*GetOrderbookPubkeyItem, len(resp.PubkeyOrders))
	for pubkey, pubkeyItem := range resp.PubkeyOrders {
		if err := VerifyPubkeyOrderbook(pubkeyItem); err != nil {
			ob.log.Warnf("Discarding %s orders of %s: %v", pair, pubkey, err)
			continue
		}
		if err := checkSyncItems(pubkey, pair, &DeltaOrFullTrie{FullTrie: pubkeyItem.Orders}); err != nil {
			ob.log.Warnf("Discarding %s orders of %s: %v", pair, pubkey, err)
			continue
		}
		verified[pubkey] = pubkeyItem
	}

	ob.mtx.Lock()
	defer ob.mtx.Unlock()
	var n int
	for pubkey, pubkeyItem := range verified {
		if pubkey == ob.myPubkey {
			continue
		}
		state := ob.pubkeyState(pubkey)
		if state.root(pair) != mpt.EmptyRoot {
			continue
		}
		newRoot, err := ob.applyFullTrie(state, pair, pubkeyItem.Orders)
		if err != nil {
			ob.log.Errorf("Error building %s trie of %s: %v", pair, pubkey, err)
			continue
		}
		if newRoot != mpt.NormalizeRoot(pubkeyItem.TrieRoot) {
			// The relay sent a subset of the trie. Keep the orders, but not the
			// trie, so the next keep-alive syncs it.
			ob.db.Purge(newRoot)
			state.trieRoots[pair] = mpt.EmptyRoot
		}
		n += len(pubkeyItem.Orders)
	}
	if sub, found := ob.topics[TopicFromPair(pair)]; found {
		sub.requested = true
	}
	return n
}

// PubkeyOrders lists the uuids of the pubkey's orders.
func (ob *Orderbook) PubkeyOrders(pubkey string) []uuid.UUID {
	ob.mtx.RLock()
	defer ob.mtx.RUnlock()
	state, found := ob.pubkeysState[pubkey]
	if !found {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(state.ordersUUIDs))
	for id := range state.ordersUUIDs {
		ids = append(ids, id)
	}
	return ids
}
