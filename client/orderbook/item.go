// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package orderbook

import (
	"fmt"
	"math/big"
	"strings"

	"decred.org/mmswap/dex"
	"github.com/google/uuid"
	"github.com/ugorji/go/codec"
)

const (
	// TopicPrefix is the prefix of all orderbook gossip topics.
	TopicPrefix = "orbk"
	// topicSeparator separates the prefix from the pair.
	topicSeparator = "/"
)

// Item is an order in the orderbook. Every order belongs to the pubkey that
// signed its MakerOrderCreated message.
type Item struct {
	Pubkey    string        `codec:"pubkey" json:"pubkey"`
	Base      string        `codec:"base" json:"base"`
	Rel       string        `codec:"rel" json:"rel"`
	Price     *dex.Rational `codec:"price" json:"price"`
	MaxVolume *dex.Rational `codec:"max_volume" json:"max_volume"`
	MinVolume *dex.Rational `codec:"min_volume" json:"min_volume"`
	UUID      uuid.UUID     `codec:"uuid" json:"uuid"`
	CreatedAt uint64        `codec:"created_at" json:"created_at"`
}

// valid is false for orders that should be removed from the book: a zero or
// negative price or max volume, or a negative min volume.
func (item *Item) valid() bool {
	return item.Price != nil && item.MaxVolume != nil && item.MinVolume != nil &&
		item.Price.Sign() > 0 && item.MaxVolume.Sign() > 0 && item.MinVolume.Sign() >= 0
}

// Copy is a deep copy of the item.
func (item *Item) Copy() *Item {
	c := *item
	c.Price = NewRational(item.Price)
	c.MaxVolume = NewRational(item.MaxVolume)
	c.MinVolume = NewRational(item.MinVolume)
	return &c
}

// NewRational copies q.
func NewRational(q *dex.Rational) *dex.Rational {
	if q == nil {
		return nil
	}
	return dex.NewRational(&q.Rat)
}

// ApplyUpdate replaces the price and volumes that are set in the update.
func (item *Item) ApplyUpdate(upd *MakerOrderUpdated) {
	if upd.NewPrice != nil {
		item.Price = NewRational(upd.NewPrice)
	}
	if upd.NewMaxVolume != nil {
		item.MaxVolume = NewRational(upd.NewMaxVolume)
	}
	if upd.NewMinVolume != nil {
		item.MinVolume = NewRational(upd.NewMinVolume)
	}
}

// Pair is the alphabetically ordered pair of the item.
func (item *Item) Pair() string {
	return AlbOrderedPair(item.Base, item.Rel)
}

// MaxRelVolume is the max volume expressed in the rel coin.
func (item *Item) MaxRelVolume() *big.Rat {
	return new(big.Rat).Mul(&item.MaxVolume.Rat, &item.Price.Rat)
}

// Trie values are hashed, so map keys are written in sorted order.
var msgpackHandle = func() *codec.MsgpackHandle {
	h := new(codec.MsgpackHandle)
	h.Canonical = true
	return h
}()

// Encode serializes v as MessagePack.
func Encode(v any) ([]byte, error) {
	var b []byte
	if err := codec.NewEncoderBytes(&b, msgpackHandle).Encode(v); err != nil {
		return nil, err
	}
	return b, nil
}

// Decode parses MessagePack-encoded b into v.
func Decode(b []byte, v any) error {
	return codec.NewDecoderBytes(b, msgpackHandle).Decode(v)
}

// trieValue is the serialized item stored in the pubkey's pair trie.
func (item *Item) trieValue() ([]byte, error) {
	return Encode(item)
}

// decodeItem decodes a trie value.
func decodeItem(b []byte) (*Item, error) {
	item := new(Item)
	if err := Decode(b, item); err != nil {
		return nil, err
	}
	if item.Price == nil || item.MaxVolume == nil || item.MinVolume == nil {
		return nil, fmt.Errorf("item %s is missing a price or volume", item.UUID)
	}
	return item, nil
}

// AlbOrderedPair is the "A:B" name of the pair with the tickers in
// alphabetical order, so that both sides of a market share a name.
func AlbOrderedPair(base, rel string) string {
	if base < rel {
		return base + ":" + rel
	}
	return rel + ":" + base
}

// Topic is the orderbook gossip topic of the pair.
func Topic(base, rel string) string {
	return TopicFromPair(AlbOrderedPair(base, rel))
}

// TopicFromPair is the topic of an already ordered pair.
func TopicFromPair(pair string) string {
	return TopicPrefix + topicSeparator + pair
}

// ParsePairFromTopic splits an orderbook topic into its tickers. ok is false
// if the topic is not an orderbook topic or either ticker is empty.
func ParsePairFromTopic(topic string) (base, rel string, ok bool) {
	prefix, pair, found := strings.Cut(topic, topicSeparator)
	if !found || prefix != TopicPrefix {
		return "", "", false
	}
	base, rel, found = strings.Cut(pair, ":")
	if !found || base == "" || rel == "" {
		return "", "", false
	}
	return base, rel, true
}
