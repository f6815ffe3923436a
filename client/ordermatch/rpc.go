// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package ordermatch

import (
	"context"
	"encoding/hex"
	"math/big"
	"slices"
	"strings"

	"decred.org/mmswap/client/asset"
	"decred.org/mmswap/client/orderbook"
	"decred.org/mmswap/dex"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// ErrInsufficientBalance is returned when an order is larger than the
	// balance that would fund it.
	ErrInsufficientBalance = dex.ErrorKind("balance too low")
	// ErrInvalidArgs is returned for missing or malformed command arguments.
	ErrInvalidArgs = dex.ErrorKind("invalid arguments")
)

// ConfsForm holds the optional confirmation settings of the order commands.
// Unset values default to the coins' own settings.
type ConfsForm struct {
	BaseConfs *uint64 `json:"base_confs"`
	BaseNota  *bool   `json:"base_nota"`
	RelConfs  *uint64 `json:"rel_confs"`
	RelNota   *bool   `json:"rel_nota"`
}

func (f *ConfsForm) settings(base, rel asset.Coin) *asset.OrderConfirmationsSettings {
	s := asset.DefaultConfSettings(base, rel)
	if f.BaseConfs != nil {
		s.BaseConfs = *f.BaseConfs
	}
	if f.BaseNota != nil {
		s.BaseNota = *f.BaseNota
	}
	if f.RelConfs != nil {
		s.RelConfs = *f.RelConfs
	}
	if f.RelNota != nil {
		s.RelNota = *f.RelNota
	}
	return s
}

// TradeForm is the input of the buy and sell commands. Price is in rel per
// base and Volume is the amount of base.
type TradeForm struct {
	Base      string        `json:"base"`
	Rel       string        `json:"rel"`
	Price     *dex.Rational `json:"price"`
	Volume    *dex.Rational `json:"volume"`
	MatchBy   *MatchBy      `json:"match_by"`
	OrderType *OrderType    `json:"order_type"`
	ConfsForm
}

// SetPriceForm is the input of the setprice command. If Max is set, the whole
// base balance is offered and Volume is ignored. MinVolume defaults to
// MinTradingVol and CancelPrevious to true.
type SetPriceForm struct {
	Base           string        `json:"base"`
	Rel            string        `json:"rel"`
	Price          *dex.Rational `json:"price"`
	Max            bool          `json:"max"`
	Volume         *dex.Rational `json:"volume"`
	MinVolume      *dex.Rational `json:"min_volume"`
	CancelPrevious *bool         `json:"cancel_previous"`
	ConfsForm
}

// Buy requests Volume of Base for up to Volume*Price of Rel.
func (e *Engine) Buy(ctx context.Context, form *TradeForm) (*TakerRequest, error) {
	return e.takerOrder(ctx, Buy, form)
}

// Sell offers Volume of Base for at least Volume*Price of Rel.
func (e *Engine) Sell(ctx context.Context, form *TradeForm) (*TakerRequest, error) {
	return e.takerOrder(ctx, Sell, form)
}

func (e *Engine) takerOrder(ctx context.Context, action TakerAction, form *TradeForm) (*TakerRequest, error) {
	if form.Base == form.Rel {
		return nil, ErrBaseEqualRel
	}
	if form.Price == nil || form.Volume == nil {
		return nil, dex.NewError(ErrInvalidArgs, "price and volume are required")
	}
	baseCoin, err := e.coin(form.Base)
	if err != nil {
		return nil, err
	}
	relCoin, err := e.coin(form.Rel)
	if err != nil {
		return nil, err
	}
	price, volume := form.Price.Big(), form.Volume.Big()
	relVolume := new(big.Rat).Mul(volume, price)

	// The taker pays with rel when buying and with base when selling.
	payCoin, required := relCoin, relVolume
	if action == Sell {
		payCoin, required = baseCoin, volume
	}
	balance, err := payCoin.Balance(ctx)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(required) < 0 {
		return nil, dex.NewError(ErrInsufficientBalance, "balance "+ratString(balance)+
			" "+payCoin.Ticker()+" is too low, required "+ratString(required))
	}
	if price.Cmp(minPrice) < 0 {
		return nil, &TakerRequestBuildError{buildError{ErrPriceTooLow, price, minPrice}}
	}
	if form.MatchBy != nil {
		if err := form.MatchBy.normalize(); err != nil {
			return nil, dex.NewError(ErrInvalidArgs, err.Error())
		}
	}
	orderType := GoodTillCancelled
	if form.OrderType != nil {
		orderType = *form.OrderType
	}

	e.subscribeToOrderbookTopic(form.Base, form.Rel)
	req, err := (&TakerRequestBuilder{
		Base:         form.Base,
		Rel:          form.Rel,
		BaseAmount:   volume,
		RelAmount:    relVolume,
		SenderPubkey: e.myPubkey,
		Action:       action,
		MatchBy:      form.MatchBy,
		ConfSettings: form.settings(baseCoin, relCoin),
	}).Build()
	if err != nil {
		return nil, err
	}
	o := &TakerOrder{
		CreatedAt: e.nowMs(),
		Request:   req,
		Matches:   make(map[uuid.UUID]*TakerMatch),
		OrderType: orderType,
	}

	e.takerMtx.Lock()
	defer e.takerMtx.Unlock()
	e.saveTakerOrder(o)
	e.takerOrders[req.UUID] = o
	e.log.Infof("%s %s %s at %s %s/%s, order %s", action, ratString(volume), form.Base,
		ratString(price), form.Rel, form.Base, req.UUID)
	e.broadcast(orderbook.Topic(form.Base, form.Rel), TakerRequestRoute, req)
	return req, nil
}

// SetPrice creates a maker order. Unless CancelPrevious is false, our other
// cancellable orders on the same base and rel are cancelled.
func (e *Engine) SetPrice(ctx context.Context, form *SetPriceForm) (*MakerOrder, error) {
	if form.Base == form.Rel {
		return nil, ErrBaseEqualRel
	}
	if form.Price == nil || (!form.Max && form.Volume == nil) {
		return nil, dex.NewError(ErrInvalidArgs, "price and volume are required")
	}
	baseCoin, err := e.coin(form.Base)
	if err != nil {
		return nil, err
	}
	relCoin, err := e.coin(form.Rel)
	if err != nil {
		return nil, err
	}
	balance, err := baseCoin.Balance(ctx)
	if err != nil {
		return nil, err
	}
	maxVol := e.maxMakerVol(form.Base, balance)
	volume := maxVol
	if !form.Max {
		volume = form.Volume.Big()
		if volume.Cmp(maxVol) > 0 {
			return nil, dex.NewError(ErrInsufficientBalance, "balance "+ratString(balance)+
				" "+form.Base+" is too low, required "+ratString(volume)+" plus fees")
		}
	}
	var minVol *big.Rat
	if form.MinVolume != nil {
		minVol = form.MinVolume.Big()
	}
	o, err := (&MakerOrderBuilder{
		Base:         form.Base,
		Rel:          form.Rel,
		Price:        form.Price.Big(),
		MaxBaseVol:   volume,
		MinBaseVol:   minVol,
		ConfSettings: form.settings(baseCoin, relCoin),
	}).Build(e.nowMs())
	if err != nil {
		return nil, err
	}

	e.subscribeToOrderbookTopic(o.Base, o.Rel)

	e.makerMtx.Lock()
	defer e.makerMtx.Unlock()
	e.saveMakerOrder(o)
	e.makerOrderCreatedNotify(o)
	if form.CancelPrevious == nil || *form.CancelPrevious {
		for _, prev := range e.makerOrders {
			if prev.Base == o.Base && prev.Rel == o.Rel && prev.IsCancellable() {
				e.log.Infof("Cancelling previous %s/%s order %s", prev.Base, prev.Rel, prev.UUID)
				e.removeMakerOrder(prev)
			}
		}
	}
	e.makerOrders[o.UUID] = o
	e.log.Infof("Created maker order %s selling %s %s at %s %s/%s", o.UUID,
		ratString(volume), o.Base, ratString(&o.Price.Rat), o.Rel, o.Base)
	return copyMakerOrder(o), nil
}

// MakerOrderForRPC is a maker order with its derived state.
type MakerOrderForRPC struct {
	*MakerOrder
	Cancellable     bool          `json:"cancellable"`
	AvailableAmount *dex.Rational `json:"available_amount"`
}

func makerOrderForRPC(o *MakerOrder) *MakerOrderForRPC {
	return &MakerOrderForRPC{
		MakerOrder:      copyMakerOrder(o),
		Cancellable:     o.IsCancellable(),
		AvailableAmount: dex.NewRational(o.AvailableAmount()),
	}
}

// TakerOrderForRPC is a taker order with its derived state.
type TakerOrderForRPC struct {
	*TakerOrder
	Cancellable bool `json:"cancellable"`
}

func takerOrderForRPC(o *TakerOrder) *TakerOrderForRPC {
	return &TakerOrderForRPC{
		TakerOrder:  copyTakerOrder(o),
		Cancellable: o.IsCancellable(),
	}
}

// copyMakerOrder copies the order and its matches, so that the copy can be
// encoded without holding the makerMtx.
func copyMakerOrder(o *MakerOrder) *MakerOrder {
	c := *o
	c.Matches = make(map[uuid.UUID]*MakerMatch, len(o.Matches))
	for id, m := range o.Matches {
		mc := *m
		c.Matches[id] = &mc
	}
	c.StartedSwaps = slices.Clone(o.StartedSwaps)
	return &c
}

func copyTakerOrder(o *TakerOrder) *TakerOrder {
	c := *o
	c.Matches = make(map[uuid.UUID]*TakerMatch, len(o.Matches))
	for id, m := range o.Matches {
		mc := *m
		c.Matches[id] = &mc
	}
	return &c
}

// OrderStatus is the result of the order_status command. Type is "Maker" or
// "Taker".
type OrderStatus struct {
	Type  string `json:"type"`
	Order any    `json:"order"`
}

// OrderStatus looks up one of our orders.
func (e *Engine) OrderStatus(id uuid.UUID) (*OrderStatus, error) {
	e.makerMtx.Lock()
	o, found := e.makerOrders[id]
	var status *OrderStatus
	if found {
		status = &OrderStatus{Type: "Maker", Order: makerOrderForRPC(o)}
	}
	e.makerMtx.Unlock()
	if status != nil {
		return status, nil
	}

	e.takerMtx.Lock()
	defer e.takerMtx.Unlock()
	if t, found := e.takerOrders[id]; found {
		return &OrderStatus{Type: "Taker", Order: takerOrderForRPC(t)}, nil
	}
	return nil, dex.NewError(dex.ErrUnknownOrder, id.String())
}

// CancelOrder cancels one of our orders. Orders in the middle of a handshake
// cannot be cancelled.
func (e *Engine) CancelOrder(id uuid.UUID) error {
	e.makerMtx.Lock()
	defer e.makerMtx.Unlock()
	if o, found := e.makerOrders[id]; found {
		if !o.IsCancellable() {
			return dex.NewError(dex.ErrNotCancellable, id.String())
		}
		e.removeMakerOrder(o)
		return nil
	}

	e.takerMtx.Lock()
	defer e.takerMtx.Unlock()
	if o, found := e.takerOrders[id]; found {
		if !o.IsCancellable() {
			return dex.NewError(dex.ErrNotCancellable, id.String())
		}
		delete(e.takerOrders, id)
		e.deleteTakerOrder(id)
		return nil
	}
	return dex.NewError(dex.ErrUnknownOrder, id.String())
}

// CancelByType selects the orders of the cancel_all_orders command.
type CancelByType string

const (
	CancelAll  CancelByType = "All"
	CancelPair CancelByType = "Pair"
	CancelCoin CancelByType = "Coin"
)

// CancelBy selects orders to cancel. Data holds Base and Rel for CancelPair
// and Ticker for CancelCoin.
type CancelBy struct {
	Type CancelByType  `json:"type"`
	Data *CancelByData `json:"data,omitempty"`
}

// CancelByData is the argument of a CancelBy.
type CancelByData struct {
	Base   string `json:"base,omitempty"`
	Rel    string `json:"rel,omitempty"`
	Ticker string `json:"ticker,omitempty"`
}

func (c *CancelBy) validate() error {
	switch c.Type {
	case CancelAll:
		return nil
	case CancelPair:
		if c.Data == nil || c.Data.Base == "" || c.Data.Rel == "" {
			return dex.NewError(ErrInvalidArgs, "pair requires base and rel")
		}
	case CancelCoin:
		if c.Data == nil || c.Data.Ticker == "" {
			return dex.NewError(ErrInvalidArgs, "coin requires a ticker")
		}
	default:
		return dex.NewError(ErrInvalidArgs, "unknown cancel_by type "+string(c.Type))
	}
	return nil
}

func (c *CancelBy) matches(base, rel string) bool {
	switch c.Type {
	case CancelAll:
		return true
	case CancelPair:
		return base == c.Data.Base && rel == c.Data.Rel
	case CancelCoin:
		return base == c.Data.Ticker || rel == c.Data.Ticker
	}
	return false
}

// CancelAllResult lists the cancelled orders and the selected orders that
// could not be cancelled because they are matching.
type CancelAllResult struct {
	Cancelled         []uuid.UUID `json:"cancelled"`
	CurrentlyMatching []uuid.UUID `json:"currently_matching"`
}

// CancelAllOrders cancels every cancellable order selected by cancelBy.
func (e *Engine) CancelAllOrders(cancelBy *CancelBy) (*CancelAllResult, error) {
	if err := cancelBy.validate(); err != nil {
		return nil, err
	}
	res := &CancelAllResult{
		Cancelled:         []uuid.UUID{},
		CurrentlyMatching: []uuid.UUID{},
	}
	e.makerMtx.Lock()
	defer e.makerMtx.Unlock()
	for id, o := range e.makerOrders {
		if !cancelBy.matches(o.Base, o.Rel) {
			continue
		}
		if !o.IsCancellable() {
			res.CurrentlyMatching = append(res.CurrentlyMatching, id)
			continue
		}
		e.removeMakerOrder(o)
		res.Cancelled = append(res.Cancelled, id)
	}

	e.takerMtx.Lock()
	defer e.takerMtx.Unlock()
	for id, o := range e.takerOrders {
		if !cancelBy.matches(o.Request.Base, o.Request.Rel) {
			continue
		}
		if !o.IsCancellable() {
			res.CurrentlyMatching = append(res.CurrentlyMatching, id)
			continue
		}
		delete(e.takerOrders, id)
		e.deleteTakerOrder(id)
		res.Cancelled = append(res.Cancelled, id)
	}
	sortUUIDs(res.Cancelled)
	sortUUIDs(res.CurrentlyMatching)
	return res, nil
}

func sortUUIDs(ids []uuid.UUID) {
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return strings.Compare(a.String(), b.String())
	})
}

// MyOrders is the result of the my_orders command.
type MyOrders struct {
	MakerOrders map[uuid.UUID]*MakerOrderForRPC `json:"maker_orders"`
	TakerOrders map[uuid.UUID]*TakerOrderForRPC `json:"taker_orders"`
}

// MyOrders lists all of our orders.
func (e *Engine) MyOrders() *MyOrders {
	res := &MyOrders{
		MakerOrders: make(map[uuid.UUID]*MakerOrderForRPC),
		TakerOrders: make(map[uuid.UUID]*TakerOrderForRPC),
	}
	e.makerMtx.Lock()
	for id, o := range e.makerOrders {
		res.MakerOrders[id] = makerOrderForRPC(o)
	}
	e.makerMtx.Unlock()
	e.takerMtx.Lock()
	for id, o := range e.takerOrders {
		res.TakerOrders[id] = takerOrderForRPC(o)
	}
	e.takerMtx.Unlock()
	return res
}

// Fraction is a rational as decimal integer strings.
type Fraction struct {
	Numer string `json:"numer"`
	Denom string `json:"denom"`
}

func newFraction(r *big.Rat) *Fraction {
	return &Fraction{Numer: r.Num().String(), Denom: r.Denom().String()}
}

// OrderbookEntry is an order as shown by the orderbook command. Prices are
// in rel per base of the requested pair. MaxVolume and MinVolume are in the
// coin that the order sells, Coin.
type OrderbookEntry struct {
	Coin              string          `json:"coin"`
	Address           string          `json:"address"`
	Price             decimal.Decimal `json:"price"`
	PriceRat          *dex.Rational   `json:"price_rat"`
	PriceFraction     *Fraction       `json:"price_fraction"`
	MaxVolume         decimal.Decimal `json:"maxvolume"`
	MaxVolumeRat      *dex.Rational   `json:"max_volume_rat"`
	MaxVolumeFraction *Fraction       `json:"max_volume_fraction"`
	MinVolume         decimal.Decimal `json:"min_volume"`
	MinVolumeRat      *dex.Rational   `json:"min_volume_rat"`
	MinVolumeFraction *Fraction       `json:"min_volume_fraction"`
	BaseMaxVolume     decimal.Decimal `json:"base_max_volume"`
	BaseMinVolume     decimal.Decimal `json:"base_min_volume"`
	RelMaxVolume      decimal.Decimal `json:"rel_max_volume"`
	RelMinVolume      decimal.Decimal `json:"rel_min_volume"`
	Pubkey            string          `json:"pubkey"`
	Age               uint64          `json:"age"`
	UUID              uuid.UUID       `json:"uuid"`
	IsMine            bool            `json:"is_mine"`

	price, baseMax, relMax *big.Rat
}

// OrderbookResult is the result of the orderbook command. Asks sell base,
// bids buy it. Both are sorted by price, highest first.
type OrderbookResult struct {
	Base             string            `json:"base"`
	Rel              string            `json:"rel"`
	NumAsks          int               `json:"numasks"`
	NumBids          int               `json:"numbids"`
	Asks             []*OrderbookEntry `json:"asks"`
	Bids             []*OrderbookEntry `json:"bids"`
	Timestamp        uint64            `json:"timestamp"`
	TotalAsksBaseVol decimal.Decimal   `json:"total_asks_base_vol"`
	TotalAsksRelVol  decimal.Decimal   `json:"total_asks_rel_vol"`
	TotalBidsBaseVol decimal.Decimal   `json:"total_bids_base_vol"`
	TotalBidsRelVol  decimal.Decimal   `json:"total_bids_rel_vol"`
}

// addressOf derives the order owner's address on the coin, if the coin can.
func (e *Engine) addressOf(ticker, pubkey string) string {
	c, found := e.coins[ticker]
	if !found {
		return ""
	}
	addresser, is := c.(asset.PubkeyAddresser)
	if !is {
		return ""
	}
	pk, err := hex.DecodeString(pubkey)
	if err != nil {
		return ""
	}
	addr, err := addresser.AddressFromPubkey(pk)
	if err != nil {
		e.log.Debugf("Cannot derive %s address of %s: %v", ticker, pubkey, err)
		return ""
	}
	return addr
}

// orderbookEntry renders the book item. For a bid, the item sells the pair's
// rel, so its price and volumes are inverted into the pair's terms.
func (e *Engine) orderbookEntry(item *orderbook.Item, bid bool, nowSec uint64) *OrderbookEntry {
	price := item.Price.Big()
	baseMax, baseMin := item.MaxVolume.Big(), item.MinVolume.Big()
	relMax := new(big.Rat).Mul(baseMax, price)
	relMin := new(big.Rat).Mul(baseMin, price)
	if bid {
		price.Inv(price)
		baseMax, relMax = relMax, baseMax
		baseMin, relMin = relMin, baseMin
	}
	var age uint64
	if nowSec > item.CreatedAt {
		age = nowSec - item.CreatedAt
	}
	return &OrderbookEntry{
		Coin:              item.Base,
		Address:           e.addressOf(item.Base, item.Pubkey),
		Price:             ratDecimal(price),
		PriceRat:          dex.NewRational(price),
		PriceFraction:     newFraction(price),
		MaxVolume:         ratDecimal(&item.MaxVolume.Rat),
		MaxVolumeRat:      dex.NewRational(&item.MaxVolume.Rat),
		MaxVolumeFraction: newFraction(&item.MaxVolume.Rat),
		MinVolume:         ratDecimal(&item.MinVolume.Rat),
		MinVolumeRat:      dex.NewRational(&item.MinVolume.Rat),
		MinVolumeFraction: newFraction(&item.MinVolume.Rat),
		BaseMaxVolume:     ratDecimal(baseMax),
		BaseMinVolume:     ratDecimal(baseMin),
		RelMaxVolume:      ratDecimal(relMax),
		RelMinVolume:      ratDecimal(relMin),
		Pubkey:            item.Pubkey,
		Age:               age,
		UUID:              item.UUID,
		IsMine:            item.Pubkey == e.myPubkey,
		price:             price,
		baseMax:           baseMax,
		relMax:            relMax,
	}
}

// Orderbook subscribes to the pair and lists its orders. The first call for a
// pair fills the book from the relays.
func (e *Engine) Orderbook(ctx context.Context, base, rel string) (*OrderbookResult, error) {
	if base == rel {
		return nil, ErrBaseEqualRel
	}
	if _, err := e.coin(base); err != nil {
		return nil, err
	}
	if _, err := e.coin(rel); err != nil {
		return nil, err
	}
	if e.subscribeToOrderbookTopic(base, rel) {
		if err := e.requestAndFillOrderbook(ctx, base, rel); err != nil {
			e.log.Warnf("Error requesting the %s/%s orderbook: %v", base, rel, err)
		}
	}

	nowSec := uint64(e.now().Unix())
	res := &OrderbookResult{
		Base:      base,
		Rel:       rel,
		Asks:      []*OrderbookEntry{},
		Bids:      []*OrderbookEntry{},
		Timestamp: nowSec,
	}
	var asksBase, asksRel, bidsBase, bidsRel big.Rat
	for _, item := range e.book.Asks(base, rel) {
		entry := e.orderbookEntry(item, false, nowSec)
		asksBase.Add(&asksBase, entry.baseMax)
		asksRel.Add(&asksRel, entry.relMax)
		res.Asks = append(res.Asks, entry)
	}
	for _, item := range e.book.Bids(base, rel) {
		entry := e.orderbookEntry(item, true, nowSec)
		bidsBase.Add(&bidsBase, entry.baseMax)
		bidsRel.Add(&bidsRel, entry.relMax)
		res.Bids = append(res.Bids, entry)
	}
	// The book yields asks lowest price first.
	slices.Reverse(res.Asks)
	res.NumAsks, res.NumBids = len(res.Asks), len(res.Bids)
	res.TotalAsksBaseVol, res.TotalAsksRelVol = ratDecimal(&asksBase), ratDecimal(&asksRel)
	res.TotalBidsBaseVol, res.TotalBidsRelVol = ratDecimal(&bidsBase), ratDecimal(&bidsRel)
	return res, nil
}

// BestOrders lists, for every coin the ticker trades against, the n best
// orders that a taker buying or selling the ticker can fill.
func (e *Engine) BestOrders(ticker string, action TakerAction, n int) map[string][]*OrderbookEntry {
	nowSec := uint64(e.now().Unix())
	best := e.book.BestOrders(ticker, action == Buy, n)
	res := make(map[string][]*OrderbookEntry, len(best))
	for coin, items := range best {
		entries := make([]*OrderbookEntry, 0, len(items))
		for _, item := range items {
			entries = append(entries, e.orderbookEntry(item, action == Sell, nowSec))
		}
		res[coin] = entries
	}
	return res
}
