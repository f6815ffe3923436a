// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package orderbook

import (
	"fmt"

	"decred.org/mmswap/client/asset"
	"decred.org/mmswap/dex"
	"decred.org/mmswap/dex/mpt"
	"github.com/google/uuid"
)

// Routes of the orderbook gossip messages and peer requests.
const (
	MakerOrderCreatedRoute   = "maker_order_created"
	MakerOrderUpdatedRoute   = "maker_order_updated"
	MakerOrderCancelledRoute = "maker_order_cancelled"
	PubkeyKeepAliveRoute     = "pubkey_keep_alive"

	GetOrderbookRoute             = "get_orderbook"
	SyncPubkeyOrderbookStateRoute = "sync_pubkey_orderbook_state"
)

// Message is the envelope of every gossip message and peer request. The
// payload is the MessagePack encoding of the route's type. Messages are
// signed one layer down, by the mesh.
type Message struct {
	Route   string `codec:"route"`
	Payload []byte `codec:"payload"`
}

// NewMessage encodes the payload into a serialized Message.
func NewMessage(route string, payload any) ([]byte, error) {
	b, err := Encode(payload)
	if err != nil {
		return nil, fmt.Errorf("error encoding %s payload: %w", route, err)
	}
	return Encode(&Message{Route: route, Payload: b})
}

// DecodeMessage parses the envelope.
func DecodeMessage(b []byte) (*Message, error) {
	msg := new(Message)
	if err := Decode(b, msg); err != nil {
		return nil, fmt.Errorf("error decoding message: %w", err)
	}
	if msg.Route == "" {
		return nil, fmt.Errorf("message has no route")
	}
	return msg, nil
}

// Unmarshal decodes the payload into v.
func (msg *Message) Unmarshal(v any) error {
	if err := Decode(msg.Payload, v); err != nil {
		return fmt.Errorf("error decoding %s payload: %w", msg.Route, err)
	}
	return nil
}

// MakerOrderCreated announces a new maker order.
type MakerOrderCreated struct {
	UUID         uuid.UUID                         `codec:"uuid"`
	Base         string                            `codec:"base"`
	Rel          string                            `codec:"rel"`
	Price        *dex.Rational                     `codec:"price"`
	MaxVolume    *dex.Rational                     `codec:"max_volume"`
	MinVolume    *dex.Rational                     `codec:"min_volume"`
	ConfSettings *asset.OrderConfirmationsSettings `codec:"conf_settings"`
	CreatedAt    uint64                            `codec:"created_at"`
}

// Item converts the message to an orderbook Item owned by pubkey.
func (m *MakerOrderCreated) Item(pubkey string) *Item {
	return &Item{
		Pubkey:    pubkey,
		Base:      m.Base,
		Rel:       m.Rel,
		Price:     NewRational(m.Price),
		MaxVolume: NewRational(m.MaxVolume),
		MinVolume: NewRational(m.MinVolume),
		UUID:      m.UUID,
		CreatedAt: m.CreatedAt,
	}
}

// MakerOrderUpdated changes the price or volumes of a maker order. Nil fields
// are unchanged.
type MakerOrderUpdated struct {
	UUID         uuid.UUID     `codec:"uuid"`
	NewPrice     *dex.Rational `codec:"new_price"`
	NewMaxVolume *dex.Rational `codec:"new_max_volume"`
	NewMinVolume *dex.Rational `codec:"new_min_volume"`
	Timestamp    uint64        `codec:"timestamp"`
}

// MakerOrderCancelled removes a maker order.
type MakerOrderCancelled struct {
	UUID uuid.UUID `codec:"uuid"`
}

// PubkeyKeepAlive advertises the current trie root of every pair the sender
// has orders on.
type PubkeyKeepAlive struct {
	TrieRoots map[string]mpt.Hash `codec:"trie_roots"`
	Timestamp uint64              `codec:"timestamp"`
}

// GetOrderbook requests every order of the pair.
type GetOrderbook struct {
	Base string `codec:"base"`
	Rel  string `codec:"rel"`
}

// SyncPubkeyOrderbookState requests the changes to the pubkey's pair tries
// since the roots the requester knows.
type SyncPubkeyOrderbookState struct {
	Pubkey    string              `codec:"pubkey"`
	TrieRoots map[string]mpt.Hash `codec:"trie_roots"`
}

// GetOrderbookPubkeyItem is one pubkey's part of a GetOrderbook response.
// The proof shows that every one of Orders is in the trie at TrieRoot.
type GetOrderbookPubkeyItem struct {
	LastKeepAlive uint64    `codec:"last_keep_alive"`
	TrieRoot      mpt.Hash  `codec:"trie_root"`
	Proof         mpt.Proof `codec:"proof"`
	Orders        []*Item   `codec:"orders"`
}

// GetOrderbookResponse is the response to GetOrderbook.
type GetOrderbookResponse struct {
	PubkeyOrders map[string]*GetOrderbookPubkeyItem `codec:"pubkey_orders"`
}

// SyncPubkeyOrderbookStateResponse is the response to
// SyncPubkeyOrderbookState.
type SyncPubkeyOrderbookStateResponse struct {
	PairOrdersDiff map[string]*DeltaOrFullTrie `codec:"pair_orders_diff"`
}
