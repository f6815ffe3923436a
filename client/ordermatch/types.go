// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package ordermatch

import (
	"encoding/json"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"time"

	"decred.org/mmswap/client/asset"
	"decred.org/mmswap/dex"
	"github.com/google/uuid"
)

const (
	// TakerOrderTimeout is how long a taker order waits for a maker before
	// it is converted to a maker order or dropped.
	TakerOrderTimeout = 30 * time.Second
	// OrderMatchTimeout is how long a maker match waits for the taker to
	// connect.
	OrderMatchTimeout = 30 * time.Second

	loopInterval   = 777 * time.Millisecond
	requestTimeout = 30 * time.Second
)

var (
	minTradingVol = big.NewRat(777, 100000)
	minPrice      = big.NewRat(1, 100000000)
)

// MinTradingVol is the smallest volume of either coin an order may trade.
func MinTradingVol() *big.Rat {
	return new(big.Rat).Set(minTradingVol)
}

// MinPrice is the smallest price a maker order may have.
func MinPrice() *big.Rat {
	return new(big.Rat).Set(minPrice)
}

// TakerAction is the side of a taker request.
type TakerAction string

const (
	Buy  TakerAction = "Buy"
	Sell TakerAction = "Sell"
)

// MatchByType selects how a taker restricts its counterparties.
type MatchByType string

const (
	MatchAny     MatchByType = "Any"
	MatchOrders  MatchByType = "Orders"
	MatchPubkeys MatchByType = "Pubkeys"
)

// MatchBy restricts the maker orders a taker request can match. Data is a
// list of order uuids for MatchOrders and of maker pubkeys for MatchPubkeys.
// A nil *MatchBy matches anything.
type MatchBy struct {
	Type MatchByType `json:"type" codec:"type"`
	Data []string    `json:"data,omitempty" codec:"data"`
}

// normalize validates the type and puts the data in canonical form.
func (m *MatchBy) normalize() error {
	switch m.Type {
	case MatchAny:
		m.Data = nil
	case MatchOrders:
		for i, s := range m.Data {
			id, err := uuid.Parse(s)
			if err != nil {
				return fmt.Errorf("invalid order uuid %q: %w", s, err)
			}
			m.Data[i] = id.String()
		}
	case MatchPubkeys:
		for i, s := range m.Data {
			m.Data[i] = strings.ToLower(s)
		}
	default:
		return fmt.Errorf("unknown match_by type %q", m.Type)
	}
	return nil
}

func (m *MatchBy) canMatchWithPubkey(pubkey string) bool {
	if m == nil || m.Type != MatchPubkeys {
		return true
	}
	return slices.Contains(m.Data, pubkey)
}

func (m *MatchBy) canMatchWithUUID(id uuid.UUID) bool {
	if m == nil || m.Type != MatchOrders {
		return true
	}
	return slices.Contains(m.Data, id.String())
}

// OrderType is the time in force of a taker order.
type OrderType string

const (
	// GoodTillCancelled taker orders that are not matched in time become
	// maker orders.
	GoodTillCancelled OrderType = "GoodTillCancelled"
	// FillOrKill taker orders that are not matched in time are dropped.
	FillOrKill OrderType = "FillOrKill"
)

// MarshalJSON encodes the type as {"type": "..."}.
func (t OrderType) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
	}{string(t)})
}

// UnmarshalJSON accepts both the object form and a bare string.
func (t *OrderType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var obj struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return fmt.Errorf("invalid order type %s", string(b))
		}
		s = obj.Type
	}
	switch OrderType(s) {
	case GoodTillCancelled, FillOrKill:
		*t = OrderType(s)
	default:
		return fmt.Errorf("unknown order type %q", s)
	}
	return nil
}

// TakerRequest is broadcast by a taker looking for a maker. The sender is
// the signer of the message and is not part of the encoding.
type TakerRequest struct {
	Base         string                            `json:"base" codec:"base"`
	Rel          string                            `json:"rel" codec:"rel"`
	BaseAmount   *dex.Rational                     `json:"base_amount" codec:"base_amount"`
	RelAmount    *dex.Rational                     `json:"rel_amount" codec:"rel_amount"`
	Action       TakerAction                       `json:"action" codec:"action"`
	UUID         uuid.UUID                         `json:"uuid" codec:"uuid"`
	SenderPubkey string                            `json:"sender_pubkey" codec:"-"`
	DestPubkey   string                            `json:"dest_pub_key" codec:"dest_pub_key"`
	MatchBy      *MatchBy                          `json:"match_by" codec:"match_by"`
	ConfSettings *asset.OrderConfirmationsSettings `json:"conf_settings" codec:"conf_settings"`
}

// MakerReserved is the maker's offer to fill a taker request with one of its
// orders.
type MakerReserved struct {
	Base           string                            `json:"base" codec:"base"`
	Rel            string                            `json:"rel" codec:"rel"`
	BaseAmount     *dex.Rational                     `json:"base_amount" codec:"base_amount"`
	RelAmount      *dex.Rational                     `json:"rel_amount" codec:"rel_amount"`
	TakerOrderUUID uuid.UUID                         `json:"taker_order_uuid" codec:"taker_order_uuid"`
	MakerOrderUUID uuid.UUID                         `json:"maker_order_uuid" codec:"maker_order_uuid"`
	SenderPubkey   string                            `json:"sender_pubkey" codec:"-"`
	DestPubkey     string                            `json:"dest_pub_key" codec:"dest_pub_key"`
	ConfSettings   *asset.OrderConfirmationsSettings `json:"conf_settings" codec:"conf_settings"`
}

// TakerConnect is the taker's acceptance of a MakerReserved.
type TakerConnect struct {
	TakerOrderUUID uuid.UUID `json:"taker_order_uuid" codec:"taker_order_uuid"`
	MakerOrderUUID uuid.UUID `json:"maker_order_uuid" codec:"maker_order_uuid"`
	SenderPubkey   string    `json:"sender_pubkey" codec:"-"`
	DestPubkey     string    `json:"dest_pub_key" codec:"dest_pub_key"`
}

// MakerConnected completes the handshake. Both sides start the swap.
type MakerConnected struct {
	TakerOrderUUID uuid.UUID `json:"taker_order_uuid" codec:"taker_order_uuid"`
	MakerOrderUUID uuid.UUID `json:"maker_order_uuid" codec:"maker_order_uuid"`
	SenderPubkey   string    `json:"sender_pubkey" codec:"-"`
	DestPubkey     string    `json:"dest_pub_key" codec:"dest_pub_key"`
}

// MakerMatch is a maker order's match with a taker request. LastUpdated is
// in unix milliseconds.
type MakerMatch struct {
	Request     *TakerRequest   `json:"request"`
	Reserved    *MakerReserved  `json:"reserved"`
	Connect     *TakerConnect   `json:"connect"`
	Connected   *MakerConnected `json:"connected"`
	LastUpdated uint64          `json:"last_updated"`
}

// TakerMatch is a taker order's match with a maker's reservation.
type TakerMatch struct {
	Reserved    *MakerReserved  `json:"reserved"`
	Connect     *TakerConnect   `json:"connect"`
	Connected   *MakerConnected `json:"connected"`
	LastUpdated uint64          `json:"last_updated"`
}

// MakerOrder is one of our standing orders, selling up to MaxBaseVol of Base
// for Rel at Price, in Rel per Base. CreatedAt is in unix milliseconds.
type MakerOrder struct {
	MaxBaseVol   *dex.Rational                     `json:"max_base_vol"`
	MinBaseVol   *dex.Rational                     `json:"min_base_vol"`
	Price        *dex.Rational                     `json:"price"`
	CreatedAt    uint64                            `json:"created_at"`
	Base         string                            `json:"base"`
	Rel          string                            `json:"rel"`
	Matches      map[uuid.UUID]*MakerMatch         `json:"matches"`
	StartedSwaps []uuid.UUID                       `json:"started_swaps"`
	UUID         uuid.UUID                         `json:"uuid"`
	ConfSettings *asset.OrderConfirmationsSettings `json:"conf_settings"`
}

// TakerOrder is one of our taker requests waiting for a maker. Matches are
// keyed by maker order uuid.
type TakerOrder struct {
	CreatedAt uint64                    `json:"created_at"`
	Request   *TakerRequest             `json:"request"`
	Matches   map[uuid.UUID]*TakerMatch `json:"matches"`
	OrderType OrderType                 `json:"order_type"`
}

// AvailableAmount is the max volume less the volume reserved by matches.
func (o *MakerOrder) AvailableAmount() *big.Rat {
	reserved := new(big.Rat)
	for _, m := range o.Matches {
		reserved.Add(reserved, &m.Reserved.BaseAmount.Rat)
	}
	return reserved.Sub(o.MaxBaseVol.Big(), reserved)
}

// HasOngoingMatches is true if any match is still in the handshake.
func (o *MakerOrder) HasOngoingMatches() bool {
	for _, m := range o.Matches {
		if m.Connected == nil && m.Connect == nil {
			return true
		}
	}
	return false
}

// IsCancellable is true unless a match is in the handshake.
func (o *MakerOrder) IsCancellable() bool {
	return !o.HasOngoingMatches()
}

// IsCancellable is true until a maker is matched.
func (o *TakerOrder) IsCancellable() bool {
	return len(o.Matches) == 0
}

// MatchWithRequest checks whether the taker request can be filled by the
// order. If so, the base and rel amounts of the fill are returned in the
// order's terms.
func (o *MakerOrder) MatchWithRequest(req *TakerRequest) (baseAmt, relAmt *big.Rat, matched bool) {
	takerBase, takerRel := req.BaseAmount.Big(), req.RelAmount.Big()
	if takerBase.Sign() <= 0 || takerRel.Sign() <= 0 {
		return nil, nil, false
	}
	price := o.Price.Big()
	available := o.AvailableAmount()
	minVol := o.MinBaseVol.Big()
	switch req.Action {
	case Buy:
		takerPrice := new(big.Rat).Quo(takerRel, takerBase)
		if o.Base == req.Base && o.Rel == req.Rel &&
			takerBase.Cmp(available) <= 0 && takerBase.Cmp(minVol) >= 0 &&
			takerPrice.Cmp(price) >= 0 {
			return takerBase, new(big.Rat).Mul(takerBase, price), true
		}
	case Sell:
		takerPrice := new(big.Rat).Quo(takerBase, takerRel)
		if o.Base == req.Rel && o.Rel == req.Base &&
			takerRel.Cmp(available) <= 0 && takerRel.Cmp(minVol) >= 0 &&
			takerPrice.Cmp(price) >= 0 {
			return new(big.Rat).Quo(takerBase, price), takerBase, true
		}
	}
	return nil, nil, false
}

// MatchReserved checks whether the maker's reservation fills the request.
func (o *TakerOrder) MatchReserved(reserved *MakerReserved) bool {
	req := o.Request
	if !req.MatchBy.canMatchWithUUID(reserved.MakerOrderUUID) ||
		!req.MatchBy.canMatchWithPubkey(reserved.SenderPubkey) {
		return false
	}
	myBase, myRel := &req.BaseAmount.Rat, &req.RelAmount.Rat
	otherBase, otherRel := &reserved.BaseAmount.Rat, &reserved.RelAmount.Rat
	switch req.Action {
	case Buy:
		return req.Base == reserved.Base && req.Rel == reserved.Rel &&
			myBase.Cmp(otherBase) == 0 && otherRel.Cmp(myRel) <= 0
	case Sell:
		return req.Base == reserved.Rel && req.Rel == reserved.Base &&
			myBase.Cmp(otherRel) == 0 && myRel.Cmp(otherBase) <= 0
	}
	return false
}

// IntoMakerOrder converts an unmatched taker order into a maker order with the
// same uuid, offering what the taker wanted to give.
func (o *TakerOrder) IntoMakerOrder(nowMs uint64) *MakerOrder {
	req := o.Request
	mo := &MakerOrder{
		MinBaseVol: dex.NewRational(nil),
		CreatedAt:  nowMs,
		Matches:    make(map[uuid.UUID]*MakerMatch),
		UUID:       req.UUID,
	}
	switch req.Action {
	case Sell:
		mo.Price = dex.NewRational(new(big.Rat).Quo(&req.RelAmount.Rat, &req.BaseAmount.Rat))
		mo.MaxBaseVol = dex.NewRational(&req.BaseAmount.Rat)
		mo.Base, mo.Rel = req.Base, req.Rel
		mo.ConfSettings = req.ConfSettings
	case Buy:
		mo.Price = dex.NewRational(new(big.Rat).Quo(&req.BaseAmount.Rat, &req.RelAmount.Rat))
		mo.MaxBaseVol = dex.NewRational(&req.RelAmount.Rat)
		mo.Base, mo.Rel = req.Rel, req.Base
		if req.ConfSettings != nil {
			mo.ConfSettings = req.ConfSettings.Reversed()
		}
	}
	return mo
}

// ChooseMakerConfsAndNotas resolves the maker's view of the swap's
// confirmation settings. The maker coin gets the lower of the two sides'
// requirements, the taker coin the maker's own.
func ChooseMakerConfsAndNotas(makerConfs *asset.OrderConfirmationsSettings, req *TakerRequest,
	makerCoin, takerCoin asset.Coin) asset.SwapConfirmations {

	maker := makerConfs
	if maker == nil {
		maker = asset.DefaultConfSettings(makerCoin, takerCoin)
	}
	confs := asset.SwapConfirmations{
		MakerCoinConfs: maker.BaseConfs,
		MakerCoinNota:  maker.BaseNota,
		TakerCoinConfs: maker.RelConfs,
		TakerCoinNota:  maker.RelNota,
	}
	taker := req.ConfSettings
	if taker == nil {
		return confs
	}
	// The taker's setting for the maker coin.
	takerConfs, takerNota := taker.BaseConfs, taker.BaseNota
	if req.Action == Sell {
		takerConfs, takerNota = taker.RelConfs, taker.RelNota
	}
	if takerConfs < confs.MakerCoinConfs {
		confs.MakerCoinConfs = takerConfs
	}
	if !takerNota {
		confs.MakerCoinNota = false
	}
	return confs
}

// ChooseTakerConfsAndNotas resolves the taker's view of the swap's
// confirmation settings. The maker coin gets the taker's requirement, the
// taker coin the lower of the two sides'.
func ChooseTakerConfsAndNotas(req *TakerRequest, reserved *MakerReserved,
	makerCoin, takerCoin asset.Coin) asset.SwapConfirmations {

	confs := asset.SwapConfirmations{
		MakerCoinConfs: makerCoin.RequiredConfirmations(),
		MakerCoinNota:  makerCoin.RequiresNotarization(),
		TakerCoinConfs: takerCoin.RequiredConfirmations(),
		TakerCoinNota:  takerCoin.RequiresNotarization(),
	}
	if s := req.ConfSettings; s != nil {
		switch req.Action {
		case Buy:
			confs = asset.SwapConfirmations{
				MakerCoinConfs: s.BaseConfs,
				MakerCoinNota:  s.BaseNota,
				TakerCoinConfs: s.RelConfs,
				TakerCoinNota:  s.RelNota,
			}
		case Sell:
			confs = asset.SwapConfirmations{
				MakerCoinConfs: s.RelConfs,
				MakerCoinNota:  s.RelNota,
				TakerCoinConfs: s.BaseConfs,
				TakerCoinNota:  s.BaseNota,
			}
		}
	}
	if s := reserved.ConfSettings; s != nil {
		if s.RelConfs < confs.TakerCoinConfs {
			confs.TakerCoinConfs = s.RelConfs
		}
		if !s.RelNota {
			confs.TakerCoinNota = false
		}
	}
	return confs
}
