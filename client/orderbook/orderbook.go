// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package orderbook

import (
	"bytes"
	"fmt"
	"math/big"
	"sync"
	"time"

	"decred.org/mmswap/dex"
	"decred.org/mmswap/dex/mpt"
	"github.com/google/uuid"
	"github.com/huandu/skiplist"
)

const (
	// MinOrderKeepAliveInterval is how often a node broadcasts its trie
	// roots.
	MinOrderKeepAliveInterval = 30 * time.Second
	// MakerOrderTimeout is how long a pubkey's orders stay in the book
	// without a keep-alive.
	MakerOrderTimeout = MinOrderKeepAliveInterval * 3
	// OrderbookRequestingTimeout is how long after subscribing to a pair's
	// topic the book is considered filled by keep-alive syncs alone.
	OrderbookRequestingTimeout = MinOrderKeepAliveInterval * 2
)

// priceKey orders a pair's index by price, then uuid.
type priceKey struct {
	price *big.Rat
	uuid  uuid.UUID
}

type priceComparable struct{}

var _ skiplist.Comparable = priceComparable{}

func (priceComparable) Compare(lhs, rhs any) int {
	l, r := lhs.(*priceKey), rhs.(*priceKey)
	if c := l.price.Cmp(r.price); c != 0 {
		return c
	}
	return bytes.Compare(l.uuid[:], r.uuid[:])
}

func (priceComparable) CalcScore(key any) float64 {
	f, _ := key.(*priceKey).price.Float64()
	return f
}

type basePair struct {
	base, rel string
}

// PubkeyState is what the book knows about one pubkey's orders.
type PubkeyState struct {
	// LastKeepAlive is when we processed the latest keep-alive, by our clock,
	// in unix seconds. Staleness is judged by it, not by the sender's clock.
	LastKeepAlive uint64
	// KeepAliveTimestamp is the sender's timestamp in that keep-alive.
	KeepAliveTimestamp uint64
	history       *TrieDiffHistory
	// ordersUUIDs maps the pubkey's order uuids to their ordered pair.
	ordersUUIDs map[uuid.UUID]string
	trieRoots   map[string]mpt.Hash
}

func newPubkeyState(now uint64) *PubkeyState {
	return &PubkeyState{
		LastKeepAlive: now,
		history:       NewTrieDiffHistory(),
		ordersUUIDs:   make(map[uuid.UUID]string),
		trieRoots:     make(map[string]mpt.Hash),
	}
}

func (s *PubkeyState) root(pair string) mpt.Hash {
	return mpt.NormalizeRoot(s.trieRoots[pair])
}

// subscription is the requesting state of a topic. Until the orderbook is
// requested from the relays, subscribedAt is when we subscribed.
type subscription struct {
	requested    bool
	subscribedAt time.Time
}

// Config is the configuration for an Orderbook.
type Config struct {
	// MyPubkey is the local node's pubkey. Its state is never purged.
	MyPubkey string
	Logger   dex.Logger
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Orderbook is the replicated orderbook. Every field is guarded by mtx and
// every exported method is a single atomic operation on the book.
type Orderbook struct {
	log      dex.Logger
	myPubkey string
	now      func() time.Time

	mtx          sync.RWMutex
	orderSet     map[uuid.UUID]*Item
	ordered      map[basePair]*skiplist.SkipList
	unordered    map[basePair]map[uuid.UUID]struct{}
	pubkeysState map[string]*PubkeyState
	topics       map[string]*subscription
	db           *mpt.MemoryDB
}

// New is the constructor for an empty Orderbook.
func New(cfg *Config) *Orderbook {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Orderbook{
		log:          cfg.Logger,
		myPubkey:     cfg.MyPubkey,
		now:          now,
		orderSet:     make(map[uuid.UUID]*Item),
		ordered:      make(map[basePair]*skiplist.SkipList),
		unordered:    make(map[basePair]map[uuid.UUID]struct{}),
		pubkeysState: make(map[string]*PubkeyState),
		topics:       make(map[string]*subscription),
		db:           mpt.NewMemoryDB(),
	}
}

func (ob *Orderbook) stamp() uint64 {
	return uint64(ob.now().Unix())
}

func (ob *Orderbook) pubkeyState(pubkey string) *PubkeyState {
	s, found := ob.pubkeysState[pubkey]
	if !found {
		s = newPubkeyState(ob.stamp())
		ob.pubkeysState[pubkey] = s
	}
	return s
}

// InsertOrUpdate adds the order to the book and to its owner's pair trie,
// recording the trie change in the owner's history. Orders with a zero or
// negative price or max volume are removed instead.
func (ob *Orderbook) InsertOrUpdate(item *Item) error {
	ob.mtx.Lock()
	defer ob.mtx.Unlock()
	return ob.insertOrUpdateUpdateTrie(item.Copy())
}

func (ob *Orderbook) insertOrUpdateUpdateTrie(item *Item) error {
	if !item.valid() {
		_, err := ob.removeOrderUpdateTrie(item.UUID)
		return err
	}
	if existing, found := ob.orderSet[item.UUID]; found && existing.Pubkey != item.Pubkey {
		return fmt.Errorf("order %s belongs to %s, not %s", item.UUID, existing.Pubkey, item.Pubkey)
	}
	ob.insertOrUpdate(item)

	state := ob.pubkeyState(item.Pubkey)
	pair := item.Pair()
	prevRoot := state.root(pair)
	state.ordersUUIDs[item.UUID] = pair

	v, err := item.trieValue()
	if err != nil {
		return fmt.Errorf("error encoding order %s: %w", item.UUID, err)
	}
	t := mpt.New(ob.db, prevRoot)
	if err := t.Insert(item.UUID[:], v); err != nil {
		return fmt.Errorf("error inserting order %s into trie %s: %w", item.UUID, prevRoot, err)
	}
	state.trieRoots[pair] = t.Root()

	if prevRoot != mpt.EmptyRoot {
		state.history.InsertNewDiff(prevRoot, &TrieDiff{
			Delta:    []*OrderChange{{UUID: item.UUID, Item: item.Copy()}},
			NextRoot: t.Root(),
		})
	}
	return nil
}

// insertOrUpdate updates the indexes without touching the tries.
func (ob *Orderbook) insertOrUpdate(item *Item) {
	if !item.valid() {
		ob.removeOrder(item.UUID)
		return
	}
	// A price update moves the order in the price index.
	if existing, found := ob.orderSet[item.UUID]; found {
		ob.removeOrder(existing.UUID)
	}
	bp := basePair{item.Base, item.Rel}
	list, found := ob.ordered[bp]
	if !found {
		list = skiplist.New(priceComparable{})
		ob.ordered[bp] = list
	}
	list.Set(&priceKey{price: item.Price.Big(), uuid: item.UUID}, item.UUID)

	uuids, found := ob.unordered[bp]
	if !found {
		uuids = make(map[uuid.UUID]struct{})
		ob.unordered[bp] = uuids
	}
	uuids[item.UUID] = struct{}{}
	ob.orderSet[item.UUID] = item
}

// removeOrder removes the order from the indexes without touching the tries.
func (ob *Orderbook) removeOrder(id uuid.UUID) *Item {
	item, found := ob.orderSet[id]
	if !found {
		return nil
	}
	delete(ob.orderSet, id)
	bp := basePair{item.Base, item.Rel}
	if list, found := ob.ordered[bp]; found {
		list.Remove(&priceKey{price: item.Price.Big(), uuid: id})
		if list.Len() == 0 {
			delete(ob.ordered, bp)
		}
	}
	if uuids, found := ob.unordered[bp]; found {
		delete(uuids, id)
		if len(uuids) == 0 {
			delete(ob.unordered, bp)
		}
	}
	return item
}

// RemoveOrder removes the order from the book and its owner's trie.
func (ob *Orderbook) RemoveOrder(id uuid.UUID) (*Item, error) {
	ob.mtx.Lock()
	defer ob.mtx.Unlock()
	return ob.removeOrderUpdateTrie(id)
}

// DeleteOrder removes the order only if it belongs to pubkey.
func (ob *Orderbook) DeleteOrder(pubkey string, id uuid.UUID) (*Item, error) {
	ob.mtx.Lock()
	defer ob.mtx.Unlock()
	item, found := ob.orderSet[id]
	if !found {
		return nil, nil
	}
	if item.Pubkey != pubkey {
		return nil, fmt.Errorf("order %s is not owned by %s", id, pubkey)
	}
	return ob.removeOrderUpdateTrie(id)
}

func (ob *Orderbook) removeOrderUpdateTrie(id uuid.UUID) (*Item, error) {
	item := ob.removeOrder(id)
	if item == nil {
		return nil, nil
	}
	state := ob.pubkeyState(item.Pubkey)
	pair := item.Pair()
	delete(state.ordersUUIDs, id)
	prevRoot := state.root(pair)
	t := mpt.New(ob.db, prevRoot)
	if err := t.Remove(id[:]); err != nil {
		return item, fmt.Errorf("error removing order %s from trie %s: %w", id, prevRoot, err)
	}
	state.trieRoots[pair] = t.Root()
	state.history.InsertNewDiff(prevRoot, &TrieDiff{
		Delta:    []*OrderChange{{UUID: id}},
		NextRoot: t.Root(),
	})
	return item, nil
}

// ApplyUpdate updates the pubkey's order. The order is not found if it
// belongs to a different pubkey, in which case the caller should wait for the
// next keep-alive sync.
func (ob *Orderbook) ApplyUpdate(pubkey string, upd *MakerOrderUpdated) error {
	ob.mtx.Lock()
	defer ob.mtx.Unlock()
	item, found := ob.orderSet[upd.UUID]
	if !found || (pubkey != "" && item.Pubkey != pubkey) {
		return dex.NewError(dex.ErrUnknownOrder, upd.UUID.String())
	}
	updated := item.Copy()
	updated.ApplyUpdate(upd)
	return ob.insertOrUpdateUpdateTrie(updated)
}

// Order is a copy of the order.
func (ob *Orderbook) Order(id uuid.UUID) (*Item, bool) {
	ob.mtx.RLock()
	defer ob.mtx.RUnlock()
	item, found := ob.orderSet[id]
	if !found {
		return nil, false
	}
	return item.Copy(), true
}

// Len is the number of orders in the book.
func (ob *Orderbook) Len() int {
	ob.mtx.RLock()
	defer ob.mtx.RUnlock()
	return len(ob.orderSet)
}

// Orders are copies of the orders that sell base for rel, best price
// first. n <= 0 returns all orders.
func (ob *Orderbook) Orders(base, rel string, n int) []*Item {
	ob.mtx.RLock()
	defer ob.mtx.RUnlock()
	list, found := ob.ordered[basePair{base, rel}]
	if !found {
		return nil
	}
	items := make([]*Item, 0, list.Len())
	for e := list.Front(); e != nil; e = e.Next() {
		if n > 0 && len(items) == n {
			break
		}
		items = append(items, ob.orderSet[e.Value.(uuid.UUID)].Copy())
	}
	return items
}

// Find iterates the orders that sell base for rel, best price first, until
// check returns true. The items passed to check must not be modified or
// retained.
func (ob *Orderbook) Find(base, rel string, check func(*Item) (done bool)) {
	ob.mtx.RLock()
	defer ob.mtx.RUnlock()
	list, found := ob.ordered[basePair{base, rel}]
	if !found {
		return
	}
	for e := list.Front(); e != nil; e = e.Next() {
		if check(ob.orderSet[e.Value.(uuid.UUID)]) {
			return
		}
	}
}

// Asks are the orders selling base for rel, lowest price first.
func (ob *Orderbook) Asks(base, rel string) []*Item {
	return ob.Orders(base, rel, 0)
}

// Bids are the orders buying base with rel. Their price is in base per rel,
// so the best bid is the one with the lowest price.
func (ob *Orderbook) Bids(base, rel string) []*Item {
	return ob.Orders(rel, base, 0)
}

// BestOrders are the n best orders on each pair the ticker trades on that
// a taker can fill. When buying, these are the orders selling the ticker,
// keyed by the coin they sell it for. When selling, the orders buying the
// ticker, keyed by the coin they pay with.
func (ob *Orderbook) BestOrders(ticker string, buy bool, n int) map[string][]*Item {
	ob.mtx.RLock()
	defer ob.mtx.RUnlock()
	best := make(map[string][]*Item)
	for bp, list := range ob.ordered {
		var other string
		switch {
		case buy && bp.base == ticker:
			other = bp.rel
		case !buy && bp.rel == ticker:
			other = bp.base
		default:
			continue
		}
		for e := list.Front(); e != nil; e = e.Next() {
			if n > 0 && len(best[other]) == n {
				break
			}
			best[other] = append(best[other], ob.orderSet[e.Value.(uuid.UUID)].Copy())
		}
	}
	return best
}

// TrieRoots is a copy of the pubkey's non-empty pair trie roots.
func (ob *Orderbook) TrieRoots(pubkey string) map[string]mpt.Hash {
	ob.mtx.RLock()
	defer ob.mtx.RUnlock()
	state, found := ob.pubkeysState[pubkey]
	if !found {
		return nil
	}
	roots := make(map[string]mpt.Hash, len(state.trieRoots))
	for pair, root := range state.trieRoots {
		if mpt.NormalizeRoot(root) != mpt.EmptyRoot {
			roots[pair] = root
		}
	}
	return roots
}

// PubkeyState returns the pubkey's last keep-alive and a copy of its trie
// roots.
func (ob *Orderbook) PubkeyState(pubkey string) (lastKeepAlive uint64, roots map[string]mpt.Hash, found bool) {
	ob.mtx.RLock()
	defer ob.mtx.RUnlock()
	state, found := ob.pubkeysState[pubkey]
	if !found {
		return 0, nil, false
	}
	roots = make(map[string]mpt.Hash, len(state.trieRoots))
	for pair, root := range state.trieRoots {
		roots[pair] = root
	}
	return state.LastKeepAlive, roots, true
}

// KeepAlive builds the keep-alive message for the pubkey's non-empty tries
// and the topics to broadcast it on. The message is nil if the pubkey has no
// orders.
func (ob *Orderbook) KeepAlive(pubkey string) (*PubkeyKeepAlive, []string) {
	ob.mtx.RLock()
	defer ob.mtx.RUnlock()
	state, found := ob.pubkeysState[pubkey]
	if !found {
		return nil, nil
	}
	roots := make(map[string]mpt.Hash)
	var topics []string
	for pair, root := range state.trieRoots {
		if mpt.NormalizeRoot(root) == mpt.EmptyRoot {
			continue
		}
		roots[pair] = root
		topics = append(topics, TopicFromPair(pair))
	}
	if len(roots) == 0 {
		return nil, nil
	}
	return &PubkeyKeepAlive{TrieRoots: roots, Timestamp: ob.stamp()}, topics
}

// PurgeStale removes every pubkey, except ours, whose last keep-alive is older
// than MakerOrderTimeout, along with its orders and tries.
func (ob *Orderbook) PurgeStale() []string {
	ob.mtx.Lock()
	defer ob.mtx.Unlock()
	cutoff := ob.now().Add(-MakerOrderTimeout).Unix()
	var purged []string
	for pubkey, state := range ob.pubkeysState {
		if pubkey == ob.myPubkey || int64(state.LastKeepAlive) >= cutoff {
			continue
		}
		for id := range state.ordersUUIDs {
			ob.removeOrder(id)
		}
		for _, root := range state.trieRoots {
			ob.db.Purge(root)
		}
		delete(ob.pubkeysState, pubkey)
		purged = append(purged, pubkey)
	}
	return purged
}

// Subscribe records a subscription to the topic. newSub is true if we were
// not subscribed yet, in which case the caller subscribes on the mesh.
// needRequest is true if the orderbook should be requested from the relays.
func (ob *Orderbook) Subscribe(topic string) (newSub, needRequest bool) {
	ob.mtx.Lock()
	defer ob.mtx.Unlock()
	sub, found := ob.topics[topic]
	if !found {
		ob.topics[topic] = &subscription{subscribedAt: ob.now()}
		return true, true
	}
	if sub.requested {
		return false, false
	}
	filled := ob.now().Sub(sub.subscribedAt) > OrderbookRequestingTimeout
	return false, !filled
}

// SetRequested marks the topic's orderbook as requested.
func (ob *Orderbook) SetRequested(topic string) {
	ob.mtx.Lock()
	defer ob.mtx.Unlock()
	if sub, found := ob.topics[topic]; found {
		sub.requested = true
	}
}

// IsSubscribed checks for a subscription to the topic.
func (ob *Orderbook) IsSubscribed(topic string) bool {
	ob.mtx.RLock()
	defer ob.mtx.RUnlock()
	_, found := ob.topics[topic]
	return found
}
