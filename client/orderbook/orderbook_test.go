package orderbook

import (
	"math/big"
	"testing"
	"time"

	"decred.org/mmswap/client/asset"
	"decred.org/mmswap/dex"
	"decred.org/mmswap/dex/mpt"
	"github.com/decred/slog"
	"github.com/google/uuid"
)

var tLogger = dex.StdOutLogger("T", slog.LevelTrace)

func rat(s string) *dex.Rational {
	r, err := dex.RatFromString(s)
	if err != nil {
		panic(err)
	}
	return dex.NewRational(r)
}

func newItem(pubkey, base, rel, price, maxVol string) *Item {
	return &Item{
		Pubkey:    pubkey,
		Base:      base,
		Rel:       rel,
		Price:     rat(price),
		MaxVolume: rat(maxVol),
		MinVolume: rat("0.00777"),
		UUID:      uuid.New(),
		CreatedAt: 1700000000,
	}
}

type tClock struct {
	t time.Time
}

func (c *tClock) now() time.Time {
	return c.t
}

func newTestBook(pubkey string) (*Orderbook, *tClock) {
	clock := &tClock{t: time.Unix(1700000000, 0)}
	return New(&Config{MyPubkey: pubkey, Logger: tLogger, Now: clock.now}), clock
}

func TestAlbOrderedPairAndTopics(t *testing.T) {
	for _, tt := range []struct{ base, rel, want string }{
		{"KMD", "BTC", "BTC:KMD"},
		{"KMD", "BTCH", "BTCH:KMD"},
		{"QTUM", "KMD", "KMD:QTUM"},
		{"BTC", "KMD", "BTC:KMD"},
	} {
		if got := AlbOrderedPair(tt.base, tt.rel); got != tt.want {
			t.Fatalf("%s/%s: got %s, wanted %s", tt.base, tt.rel, got, tt.want)
		}
	}
	if Topic("KMD", "BTC") != "orbk/BTC:KMD" {
		t.Fatalf("wrong topic %s", Topic("KMD", "BTC"))
	}
	base, rel, ok := ParsePairFromTopic("orbk/BTC:KMD")
	if !ok || base != "BTC" || rel != "KMD" {
		t.Fatalf("wrong parse %s %s %t", base, rel, ok)
	}
	for _, bad := range []string{"orbk/BTC:", "orbk/:KMD", "orbk/BTCKMD", "swap/BTC:KMD", "orbk"} {
		if _, _, ok := ParsePairFromTopic(bad); ok {
			t.Fatalf("parsed %q", bad)
		}
	}
}

func TestTrieDiffHistory(t *testing.T) {
	root := func(b byte) mpt.Hash { return mpt.Hash{b} }
	diff := func(next byte) *TrieDiff {
		return &TrieDiff{Delta: []*OrderChange{{UUID: uuid.New()}}, NextRoot: root(next)}
	}

	h := NewTrieDiffHistory()
	h.InsertNewDiff(root(1), diff(1))
	if h.Len() != 0 {
		t.Fatal("diff to the same root was recorded")
	}

	d12 := diff(2)
	h.InsertNewDiff(root(1), d12)
	h.InsertNewDiff(root(1), d12)
	if h.Len() != 1 {
		t.Fatalf("%d diffs after a repeated insert", h.Len())
	}
	if got, _ := h.Get(root(1)); got != d12 {
		t.Fatal("wrong diff")
	}

	h.InsertNewDiff(root(2), diff(3))
	h.InsertNewDiff(root(3), diff(4))
	if h.Len() != 3 {
		t.Fatalf("%d diffs in a 1-2-3-4 chain", h.Len())
	}
	delta, ok := h.combine(root(1), root(4))
	if !ok || len(delta) != 3 {
		t.Fatalf("combined delta of %d changes, ok = %t", len(delta), ok)
	}
	if _, ok := h.combine(root(1), root(5)); ok {
		t.Fatal("combined a chain that does not reach the target")
	}

	// Returning to root 2 drops the chain starting there.
	h.InsertNewDiff(root(4), diff(2))
	if h.Len() != 1 {
		t.Fatalf("%d diffs after the collapse", h.Len())
	}
	if _, found := h.Get(root(1)); !found {
		t.Fatal("diff before the collapsed chain was dropped")
	}
	if _, found := h.Get(root(4)); found {
		t.Fatal("collapsing diff was inserted")
	}
}

func TestInsertAndRemove(t *testing.T) {
	ob, _ := newTestBook("me")
	item := newItem("alice", "BTC", "KMD", "2", "10")
	if err := ob.InsertOrUpdate(item); err != nil {
		t.Fatal(err)
	}
	if ob.Len() != 1 {
		t.Fatal("order not added")
	}
	_, roots, found := ob.PubkeyState("alice")
	if !found || roots["BTC:KMD"] == mpt.EmptyRoot {
		t.Fatal("no trie for the order")
	}

	// A zero volume update removes the order from every index and the trie.
	upd := &MakerOrderUpdated{UUID: item.UUID, NewMaxVolume: rat("0")}
	if err := ob.ApplyUpdate("alice", upd); err != nil {
		t.Fatal(err)
	}
	if _, found := ob.Order(item.UUID); found {
		t.Fatal("order still in the order set")
	}
	if len(ob.Orders("BTC", "KMD", 0)) != 0 {
		t.Fatal("order still in the price index")
	}
	ob.mtx.RLock()
	_, inUnordered := ob.unordered[basePair{"BTC", "KMD"}]
	state := ob.pubkeysState["alice"]
	v, err := mpt.New(ob.db, state.root("BTC:KMD")).Get(item.UUID[:])
	ob.mtx.RUnlock()
	if inUnordered {
		t.Fatal("order still in the pair index")
	}
	if err != nil || v != nil {
		t.Fatalf("order still in the trie: %v", err)
	}
	if state.root("BTC:KMD") != mpt.EmptyRoot {
		t.Fatal("trie not empty")
	}

	// Negative volumes are removed too, and are never inserted.
	neg := newItem("alice", "BTC", "KMD", "2", "-1")
	if err := ob.InsertOrUpdate(neg); err != nil {
		t.Fatal(err)
	}
	if ob.Len() != 0 {
		t.Fatal("invalid order added")
	}

	if err := ob.ApplyUpdate("bob", &MakerOrderUpdated{UUID: uuid.New()}); err == nil {
		t.Fatal("no error updating an unknown order")
	}

	other := newItem("alice", "BTC", "KMD", "3", "1")
	ob.InsertOrUpdate(other)
	if _, err := ob.DeleteOrder("bob", other.UUID); err == nil {
		t.Fatal("deleted another pubkey's order")
	}
	if removed, err := ob.DeleteOrder("alice", other.UUID); err != nil || removed == nil {
		t.Fatalf("order not deleted: %v", err)
	}
}

func TestPriceIndex(t *testing.T) {
	ob, _ := newTestBook("me")
	prices := []string{"3", "1/3", "2", "0.5", "2"}
	for _, p := range prices {
		ob.InsertOrUpdate(newItem("alice", "BTC", "KMD", p, "1"))
	}
	ob.InsertOrUpdate(newItem("alice", "KMD", "BTC", "1", "1"))

	items := ob.Orders("BTC", "KMD", 0)
	if len(items) != len(prices) {
		t.Fatalf("%d orders", len(items))
	}
	for i := 1; i < len(items); i++ {
		if items[i-1].Price.Cmp(&items[i].Price.Rat) > 0 {
			t.Fatalf("orders not sorted at %d", i)
		}
	}
	if items[0].Price.Cmp(big.NewRat(1, 3)) != 0 {
		t.Fatalf("best price %s", items[0].Price.Big())
	}
	if len(ob.Orders("BTC", "KMD", 2)) != 2 {
		t.Fatal("limit not applied")
	}

	// A price update moves the order.
	upd := &MakerOrderUpdated{UUID: items[0].UUID, NewPrice: rat("10")}
	if err := ob.ApplyUpdate("alice", upd); err != nil {
		t.Fatal(err)
	}
	items = ob.Orders("BTC", "KMD", 0)
	if items[len(items)-1].Price.Cmp(big.NewRat(10, 1)) != 0 || len(items) != len(prices) {
		t.Fatal("updated order not moved to the end")
	}

	var seen int
	ob.Find("BTC", "KMD", func(*Item) bool {
		seen++
		return seen == 2
	})
	if seen != 2 {
		t.Fatalf("find visited %d orders", seen)
	}

	if len(ob.Asks("BTC", "KMD")) != len(prices) || len(ob.Bids("BTC", "KMD")) != 1 {
		t.Fatal("wrong asks or bids")
	}
	ob.InsertOrUpdate(newItem("bob", "BTC", "ETH", "5", "1"))
	best := ob.BestOrders("BTC", true, 2)
	if len(best) != 2 || len(best["KMD"]) != 2 || len(best["ETH"]) != 1 {
		t.Fatalf("wrong best orders for buying BTC: %v", best)
	}
	best = ob.BestOrders("BTC", false, 0)
	if len(best) != 1 || len(best["KMD"]) != 1 {
		t.Fatalf("wrong best orders for selling BTC: %v", best)
	}
	if roots := ob.TrieRoots("alice"); len(roots) != 1 || roots["BTC:KMD"].IsZero() {
		t.Fatalf("wrong trie roots %v", roots)
	}
	if ob.TrieRoots("carol") != nil {
		t.Fatal("roots for unknown pubkey")
	}
}

func keepAlive(t *testing.T, ob *Orderbook, pubkey string) *PubkeyKeepAlive {
	t.Helper()
	ka, topics := ob.KeepAlive(pubkey)
	if ka == nil {
		t.Fatal("no keep-alive")
	}
	if len(topics) != len(ka.TrieRoots) {
		t.Fatal("wrong topics")
	}
	return ka
}

// syncBooks performs a keep-alive round from origin to replica, returning whether
// the sync response was a delta.
func syncBooks(t *testing.T, origin, replica *Orderbook, pubkey string) (synced, isDelta bool) {
	t.Helper()
	ka := keepAlive(t, origin, pubkey)
	req := replica.ProcessKeepAlive(pubkey, ka)
	if req == nil {
		return false, false
	}
	// The request goes over the wire.
	b, err := NewMessage(SyncPubkeyOrderbookStateRoute, req)
	if err != nil {
		t.Fatal(err)
	}
	msg, err := DecodeMessage(b)
	if err != nil {
		t.Fatal(err)
	}
	var wireReq SyncPubkeyOrderbookState
	if err := msg.Unmarshal(&wireReq); err != nil {
		t.Fatal(err)
	}
	resp, err := origin.ProcessSyncRequest(&wireReq)
	if err != nil {
		t.Fatal(err)
	}
	rb, err := Encode(resp)
	if err != nil {
		t.Fatal(err)
	}
	var wireResp SyncPubkeyOrderbookStateResponse
	if err := Decode(rb, &wireResp); err != nil {
		t.Fatal(err)
	}
	if err := replica.ApplySyncResponse(pubkey, &wireResp, ka.TrieRoots); err != nil {
		t.Fatal(err)
	}
	for _, d := range wireResp.PairOrdersDiff {
		isDelta = d.IsDelta
	}
	_, originRoots, _ := origin.PubkeyState(pubkey)
	_, replicaRoots, _ := replica.PubkeyState(pubkey)
	for pair := range wireResp.PairOrdersDiff {
		root := ka.TrieRoots[pair]
		if replicaRoots[pair] != root || originRoots[pair] != root {
			t.Fatalf("%s roots differ after sync: %s != %s", pair, replicaRoots[pair], root)
		}
	}
	return true, isDelta
}

func TestKeepAliveSync(t *testing.T) {
	const alice = "alice"
	origin, _ := newTestBook(alice)
	replica, _ := newTestBook("bob")

	a1 := newItem(alice, "BTC", "KMD", "2", "10")
	a2 := newItem(alice, "KMD", "BTC", "1/2", "4")
	a3 := newItem(alice, "ETH", "XTZ", "5", "1")
	for _, item := range []*Item{a1, a2, a3} {
		if err := origin.InsertOrUpdate(item); err != nil {
			t.Fatal(err)
		}
	}

	// Not subscribed, nothing to sync.
	ka := keepAlive(t, origin, alice)
	ka.Timestamp = 1_600_000_000
	if req := replica.ProcessKeepAlive(alice, ka); req != nil {
		t.Fatal("sync requested for unsubscribed pairs")
	}
	// The sender's timestamp is kept apart from our receipt time.
	state := replica.pubkeysState[alice]
	if state.KeepAliveTimestamp != ka.Timestamp {
		t.Fatalf("wrong sender timestamp %d", state.KeepAliveTimestamp)
	}
	if state.LastKeepAlive == ka.Timestamp {
		t.Fatal("sender timestamp used as the receipt time")
	}
	ka.Timestamp = 5
	replica.ProcessKeepAlive(alice, ka)
	if state.KeepAliveTimestamp != 1_600_000_000 {
		t.Fatal("older sender timestamp replaced a newer one")
	}

	replica.Subscribe(Topic("BTC", "KMD"))
	synced, isDelta := syncBooks(t, origin, replica, alice)
	if !synced || isDelta {
		t.Fatalf("first sync: synced = %t, delta = %t", synced, isDelta)
	}
	if replica.Len() != 2 {
		t.Fatalf("replica has %d orders", replica.Len())
	}
	if synced, _ = syncBooks(t, origin, replica, alice); synced {
		t.Fatal("synced with matching roots")
	}

	// Changes are sent as a delta.
	if err := origin.ApplyUpdate(alice, &MakerOrderUpdated{UUID: a1.UUID, NewPrice: rat("3")}); err != nil {
		t.Fatal(err)
	}
	a4 := newItem(alice, "BTC", "KMD", "7", "1")
	origin.InsertOrUpdate(a4)
	origin.RemoveOrder(a2.UUID)
	synced, isDelta = syncBooks(t, origin, replica, alice)
	if !synced || !isDelta {
		t.Fatalf("second sync: synced = %t, delta = %t", synced, isDelta)
	}
	if _, found := replica.Order(a2.UUID); found {
		t.Fatal("removed order still on the replica")
	}
	item, found := replica.Order(a1.UUID)
	if !found || item.Price.Cmp(big.NewRat(3, 1)) != 0 {
		t.Fatal("update not synced")
	}
	if replica.Len() != 2 {
		t.Fatalf("replica has %d orders", replica.Len())
	}

	// A third node syncs from the replica, which has history from the
	// delta it applied.
	third, _ := newTestBook("carol")
	third.Subscribe(Topic("BTC", "KMD"))
	syncBooks(t, replica, third, alice)
	origin.RemoveOrder(a4.UUID)
	syncBooks(t, origin, replica, alice)
	if _, isDelta = syncBooks(t, replica, third, alice); !isDelta {
		t.Fatal("relayed sync was not a delta")
	}
	if third.Len() != 1 {
		t.Fatalf("third node has %d orders", third.Len())
	}

	// Unknown pubkeys get no response.
	resp, err := origin.ProcessSyncRequest(&SyncPubkeyOrderbookState{Pubkey: "dave"})
	if err != nil || resp != nil {
		t.Fatalf("response for an unknown pubkey: %v", err)
	}
	// Orders of other pubkeys are refused.
	bad := &SyncPubkeyOrderbookStateResponse{PairOrdersDiff: map[string]*DeltaOrFullTrie{
		"BTC:KMD": {FullTrie: []*Item{newItem("mallory", "BTC", "KMD", "1", "1")}},
	}}
	if err := replica.ApplySyncResponse(alice, bad, nil); err == nil {
		t.Fatal("no error for another pubkey's order")
	}
	if err := replica.ApplySyncResponse("dave", bad, nil); err == nil {
		t.Fatal("no error for an unknown pubkey")
	}
}

func TestGetOrderbook(t *testing.T) {
	relay, _ := newTestBook("relay")
	for _, pk := range []string{"alice", "bob"} {
		relay.InsertOrUpdate(newItem(pk, "BTC", "KMD", "2", "10"))
		relay.InsertOrUpdate(newItem(pk, "KMD", "BTC", "1/3", "10"))
		relay.InsertOrUpdate(newItem(pk, "ETH", "KMD", "1", "1"))
	}
	resp, err := relay.ProcessGetOrderbook("BTC", "KMD")
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.PubkeyOrders) != 2 {
		t.Fatalf("%d pubkeys", len(resp.PubkeyOrders))
	}
	b, _ := Encode(resp)
	var wireResp GetOrderbookResponse
	if err := Decode(b, &wireResp); err != nil {
		t.Fatal(err)
	}
	for pk, item := range wireResp.PubkeyOrders {
		if len(item.Orders) != 2 {
			t.Fatalf("%s: %d orders", pk, len(item.Orders))
		}
		if err := VerifyPubkeyOrderbook(item); err != nil {
			t.Fatalf("%s: %v", pk, err)
		}
	}

	// A tampered order fails verification and is not added.
	alice := wireResp.PubkeyOrders["alice"]
	alice.Orders[0].Price = rat("1000")
	if err := VerifyPubkeyOrderbook(alice); err == nil {
		t.Fatal("no error for a tampered order")
	}

	ob, _ := newTestBook("me")
	ob.Subscribe(Topic("BTC", "KMD"))
	if n := ob.FillFromGetOrderbook("BTC", "KMD", &wireResp); n != 2 {
		t.Fatalf("%d orders added", n)
	}
	if ob.Len() != 2 {
		t.Fatalf("book has %d orders", ob.Len())
	}
	// bob's trie was rebuilt exactly, so a keep-alive needs no sync.
	if req := ob.ProcessKeepAlive("bob", keepAlive(t, relay, "bob")); req != nil {
		t.Fatal("sync requested after a verified fill")
	}
	if _, needRequest := ob.Subscribe(Topic("BTC", "KMD")); needRequest {
		t.Fatal("orderbook not marked requested")
	}
}

func TestSubscribeAndPurge(t *testing.T) {
	ob, clock := newTestBook("me")
	topic := Topic("BTC", "KMD")
	newSub, needRequest := ob.Subscribe(topic)
	if !newSub || !needRequest {
		t.Fatal("first subscription should request the orderbook")
	}
	if newSub, needRequest = ob.Subscribe(topic); newSub || !needRequest {
		t.Fatal("unrequested book should still be requested")
	}
	clock.t = clock.t.Add(OrderbookRequestingTimeout + time.Second)
	if _, needRequest = ob.Subscribe(topic); needRequest {
		t.Fatal("book should be filled by keep-alives by now")
	}
	if !ob.IsSubscribed(topic) || ob.IsSubscribed(Topic("A", "B")) {
		t.Fatal("wrong subscriptions")
	}

	mine := newItem("me", "BTC", "KMD", "1", "1")
	theirs := newItem("alice", "BTC", "KMD", "1", "1")
	ob.InsertOrUpdate(mine)
	ob.InsertOrUpdate(theirs)
	clock.t = clock.t.Add(MakerOrderTimeout / 2)
	if purged := ob.PurgeStale(); len(purged) != 0 {
		t.Fatalf("purged %v too soon", purged)
	}
	clock.t = clock.t.Add(MakerOrderTimeout)
	purged := ob.PurgeStale()
	if len(purged) != 1 || purged[0] != "alice" {
		t.Fatalf("purged %v", purged)
	}
	if _, found := ob.Order(theirs.UUID); found {
		t.Fatal("stale order not purged")
	}
	if _, found := ob.Order(mine.UUID); !found {
		t.Fatal("our order was purged")
	}
}

func TestMessages(t *testing.T) {
	created := &MakerOrderCreated{
		UUID:         uuid.New(),
		Base:         "BTC",
		Rel:          "XTZ",
		Price:        rat("1/3"),
		MaxVolume:    rat("2.5"),
		MinVolume:    rat("0.00777"),
		ConfSettings: &asset.OrderConfirmationsSettings{BaseConfs: 2, BaseNota: true, RelConfs: 1},
		CreatedAt:    1700000000,
	}
	b, err := NewMessage(MakerOrderCreatedRoute, created)
	if err != nil {
		t.Fatal(err)
	}
	msg, err := DecodeMessage(b)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Route != MakerOrderCreatedRoute {
		t.Fatalf("wrong route %s", msg.Route)
	}
	var back MakerOrderCreated
	if err := msg.Unmarshal(&back); err != nil {
		t.Fatal(err)
	}
	if back.UUID != created.UUID || back.Price.Cmp(big.NewRat(1, 3)) != 0 || back.MaxVolume.Cmp(big.NewRat(5, 2)) != 0 {
		t.Fatalf("wrong decoding %+v", back)
	}
	if *back.ConfSettings != *created.ConfSettings {
		t.Fatal("wrong conf settings")
	}
	item := back.Item("alice")
	if item.Pubkey != "alice" || item.Pair() != "BTC:XTZ" {
		t.Fatal("wrong item")
	}
	if _, err := DecodeMessage([]byte{0x93, 0x01}); err == nil {
		t.Fatal("no error for garbage")
	}
}

func TestCanonicalEncoding(t *testing.T) {
	fwd := &PubkeyKeepAlive{TrieRoots: make(map[string]mpt.Hash), Timestamp: 1}
	rev := &PubkeyKeepAlive{TrieRoots: make(map[string]mpt.Hash), Timestamp: 1}
	pairs := []string{"BTC:KMD", "ETH:XTZ", "DOGE:LTC", "KMD:QTUM", "BCH:XTZ", "A:B", "USDTZ:XTZ"}
	for i, pair := range pairs {
		fwd.TrieRoots[pair] = mpt.Hash{byte(i + 1)}
	}
	for i := len(pairs) - 1; i >= 0; i-- {
		rev.TrieRoots[pairs[i]] = mpt.Hash{byte(i + 1)}
	}
	want, err := Encode(fwd)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		for _, ka := range []*PubkeyKeepAlive{fwd, rev} {
			b, err := Encode(ka)
			if err != nil {
				t.Fatal(err)
			}
			if string(b) != string(want) {
				t.Fatalf("encoding %d differs: %x != %x", i, b, want)
			}
		}
	}
}
