// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package ordermatch is the order-matching state machine. Takers broadcast
// requests on a pair's topic, makers reserve one of their orders for the
// request, the taker connects to the first matching reservation and the maker
// confirms. Both sides then hand the match to the swap engine.
package ordermatch

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"time"

	"decred.org/mmswap/client/asset"
	"decred.org/mmswap/client/mesh"
	"decred.org/mmswap/client/orderbook"
	"decred.org/mmswap/dex"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Routes of the order-matching handshake messages.
const (
	TakerRequestRoute   = "taker_request"
	MakerReservedRoute  = "maker_reserved"
	TakerConnectRoute   = "taker_connect"
	MakerConnectedRoute = "maker_connected"
)

// Config is the configuration for an Engine.
type Config struct {
	Gossip mesh.Gossip
	// Coins are the enabled coins. Orders on other coins are never matched.
	Coins []asset.Coin
	Swaps asset.SwapEngine
	// DBDir is where our orders are saved.
	DBDir  string
	Logger dex.Logger
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Engine is the order-matching engine of one node.
type Engine struct {
	log      dex.Logger
	gossip   mesh.Gossip
	myPubkey string
	coins    map[string]asset.Coin
	swaps    asset.SwapEngine
	store    *orderStore
	now      func() time.Time
	book     *orderbook.Orderbook

	// ctx is canceled when Run returns. It bounds swaps and peer requests.
	ctx    context.Context
	cancel context.CancelFunc
	swapWG sync.WaitGroup

	// makerMtx is locked before takerMtx, and both before the orderbook.
	makerMtx    sync.Mutex
	makerOrders map[uuid.UUID]*MakerOrder

	takerMtx    sync.Mutex
	takerOrders map[uuid.UUID]*TakerOrder
}

// New is the constructor for an Engine.
func New(cfg *Config) (*Engine, error) {
	if cfg.Gossip == nil || cfg.Swaps == nil {
		return nil, errors.New("gossip and swap engine are required")
	}
	store, err := newOrderStore(cfg.DBDir)
	if err != nil {
		return nil, err
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	coins := make(map[string]asset.Coin, len(cfg.Coins))
	for _, c := range cfg.Coins {
		coins[c.Ticker()] = c
	}
	myPubkey := cfg.Gossip.ID().String()
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		log:      cfg.Logger,
		gossip:   cfg.Gossip,
		myPubkey: myPubkey,
		coins:    coins,
		swaps:    cfg.Swaps,
		store:    store,
		now:      now,
		book: orderbook.New(&orderbook.Config{
			MyPubkey: myPubkey,
			Logger:   cfg.Logger.SubLogger("BOOK"),
			Now:      now,
		}),
		ctx:         ctx,
		cancel:      cancel,
		makerOrders: make(map[uuid.UUID]*MakerOrder),
		takerOrders: make(map[uuid.UUID]*TakerOrder),
	}
	cfg.Gossip.RegisterHandlers(&mesh.Handlers{
		HandleMessage: e.handleMessage,
		HandleRequest: e.handleRequest,
	})
	return e, nil
}

// Pubkey is our mesh pubkey.
func (e *Engine) Pubkey() string {
	return e.myPubkey
}

// Book is the replicated orderbook.
func (e *Engine) Book() *orderbook.Orderbook {
	return e.book
}

func (e *Engine) nowMs() uint64 {
	return uint64(e.now().UnixMilli())
}

func (e *Engine) coin(ticker string) (asset.Coin, error) {
	c, found := e.coins[ticker]
	if !found {
		return nil, dex.NewError(dex.ErrUnknownCoin, ticker)
	}
	return c, nil
}

// KickStart loads the saved orders and subscribes to the topics of their
// pairs. The tickers of every coin the orders trade are returned.
func (e *Engine) KickStart() (map[string]bool, error) {
	bad := func(path string, err error) {
		e.log.Errorf("Skipping unreadable order file %s: %v", path, err)
	}
	makers, err := e.store.loadMakerOrders(bad)
	if err != nil {
		return nil, fmt.Errorf("error loading maker orders: %w", err)
	}
	takers, err := e.store.loadTakerOrders(bad)
	if err != nil {
		return nil, fmt.Errorf("error loading taker orders: %w", err)
	}

	coins := make(map[string]bool)
	e.makerMtx.Lock()
	for _, o := range makers {
		coins[o.Base], coins[o.Rel] = true, true
		e.makerOrders[o.UUID] = o
		e.subscribeToOrderbookTopic(o.Base, o.Rel)
	}
	e.makerMtx.Unlock()

	e.takerMtx.Lock()
	for _, o := range takers {
		coins[o.Request.Base], coins[o.Request.Rel] = true, true
		e.takerOrders[o.Request.UUID] = o
		e.subscribeToOrderbookTopic(o.Request.Base, o.Request.Rel)
	}
	e.takerMtx.Unlock()

	e.log.Infof("Loaded %d maker and %d taker orders", len(makers), len(takers))
	return coins, nil
}

// Run runs the maintenance and keep-alive loops until the context is
// canceled. Swaps started by the engine are canceled and waited on before
// returning.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runEvery(ctx, loopInterval, e.tick)
		return nil
	})
	g.Go(func() error {
		runEvery(ctx, orderbook.MinOrderKeepAliveInterval, e.broadcastKeepAlive)
		return nil
	})
	err := g.Wait()
	e.cancel()
	e.swapWG.Wait()
	return err
}

func runEvery(ctx context.Context, d time.Duration, f func()) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			f()
		case <-ctx.Done():
			return
		}
	}
}

// broadcast encodes and broadcasts the message on the topic.
func (e *Engine) broadcast(topic, route string, payload any) {
	msg, err := orderbook.NewMessage(route, payload)
	if err != nil {
		e.log.Errorf("Error encoding %s message: %v", route, err)
		return
	}
	if err := e.gossip.Broadcast([]string{topic}, msg); err != nil {
		e.log.Errorf("Error broadcasting %s message on %s: %v", route, topic, err)
	}
}

func (e *Engine) handleMessage(msg *mesh.Message) {
	from := msg.From.String()
	if from == e.myPubkey {
		return
	}
	m, err := orderbook.DecodeMessage(msg.Payload)
	if err != nil {
		e.log.Warnf("Invalid message from %s: %v", from, err)
		return
	}
	switch m.Route {
	case orderbook.MakerOrderCreatedRoute:
		created := new(orderbook.MakerOrderCreated)
		if err = m.Unmarshal(created); err == nil {
			err = e.processMakerOrderCreated(from, created)
		}
	case orderbook.MakerOrderUpdatedRoute:
		upd := new(orderbook.MakerOrderUpdated)
		if err = m.Unmarshal(upd); err == nil {
			err = e.processMakerOrderUpdated(from, upd)
		}
	case orderbook.MakerOrderCancelledRoute:
		cancelled := new(orderbook.MakerOrderCancelled)
		if err = m.Unmarshal(cancelled); err == nil {
			err = e.processMakerOrderCancelled(from, cancelled)
		}
	case orderbook.PubkeyKeepAliveRoute:
		ka := new(orderbook.PubkeyKeepAlive)
		if err = m.Unmarshal(ka); err == nil {
			err = e.processKeepAlive(from, msg.Via, ka)
		}
	case TakerRequestRoute:
		req := new(TakerRequest)
		if err = m.Unmarshal(req); err == nil {
			req.SenderPubkey = from
			e.processTakerRequest(req)
		}
	case MakerReservedRoute:
		reserved := new(MakerReserved)
		if err = m.Unmarshal(reserved); err == nil {
			reserved.SenderPubkey = from
			e.processMakerReserved(reserved)
		}
	case TakerConnectRoute:
		connect := new(TakerConnect)
		if err = m.Unmarshal(connect); err == nil {
			connect.SenderPubkey = from
			e.processTakerConnect(connect)
		}
	case MakerConnectedRoute:
		connected := new(MakerConnected)
		if err = m.Unmarshal(connected); err == nil {
			connected.SenderPubkey = from
			e.processMakerConnected(connected)
		}
	default:
		e.log.Debugf("Ignoring message with unknown route %q from %s", m.Route, from)
	}
	if err != nil {
		e.log.Warnf("Error processing %s message from %s: %v", m.Route, from, err)
	}
}

func (e *Engine) processMakerOrderCreated(from string, created *orderbook.MakerOrderCreated) error {
	return e.book.InsertOrUpdate(created.Item(from))
}

// processMakerOrderUpdated applies a volume or price change to a known order.
// Updates for orders we have not seen are dropped.
func (e *Engine) processMakerOrderUpdated(from string, upd *orderbook.MakerOrderUpdated) error {
	err := e.book.ApplyUpdate(from, upd)
	if errors.Is(err, dex.ErrUnknownOrder) {
		e.log.Debugf("Update for unknown order %s from %s", upd.UUID, from)
		return nil
	}
	return err
}

func (e *Engine) processMakerOrderCancelled(from string, cancelled *orderbook.MakerOrderCancelled) error {
	_, err := e.book.DeleteOrder(from, cancelled.UUID)
	return err
}

// handleRequest answers the orderbook requests of peers.
func (e *Engine) handleRequest(from mesh.PeerID, b []byte) ([]byte, error) {
	m, err := orderbook.DecodeMessage(b)
	if err != nil {
		return nil, err
	}
	switch m.Route {
	case orderbook.GetOrderbookRoute:
		req := new(orderbook.GetOrderbook)
		if err := m.Unmarshal(req); err != nil {
			return nil, err
		}
		resp, err := e.book.ProcessGetOrderbook(req.Base, req.Rel)
		if err != nil {
			return nil, err
		}
		return orderbook.Encode(resp)
	case orderbook.SyncPubkeyOrderbookStateRoute:
		req := new(orderbook.SyncPubkeyOrderbookState)
		if err := m.Unmarshal(req); err != nil {
			return nil, err
		}
		resp, err := e.book.ProcessSyncRequest(req)
		if err != nil || resp == nil {
			return nil, err
		}
		return orderbook.Encode(resp)
	}
	return nil, fmt.Errorf("unknown request route %q from %s", m.Route, from)
}

// processKeepAlive syncs the pubkey's orders from the peer that propagated the
// keep-alive if our tries differ from the advertised ones.
func (e *Engine) processKeepAlive(pubkey string, via mesh.PeerID, ka *orderbook.PubkeyKeepAlive) error {
	syncReq := e.book.ProcessKeepAlive(pubkey, ka)
	if syncReq == nil {
		return nil
	}
	req, err := orderbook.NewMessage(orderbook.SyncPubkeyOrderbookStateRoute, syncReq)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(e.ctx, requestTimeout)
	defer cancel()
	b, err := e.gossip.RequestPeer(ctx, via, req)
	if err != nil {
		return fmt.Errorf("error requesting %s orders from %s: %w", pubkey, via, err)
	}
	if len(b) == 0 {
		e.log.Debugf("Peer %s has no orders of %s", via, pubkey)
		return nil
	}
	resp := new(orderbook.SyncPubkeyOrderbookStateResponse)
	if err := orderbook.Decode(b, resp); err != nil {
		return fmt.Errorf("error decoding sync response from %s: %w", via, err)
	}
	return e.book.ApplySyncResponse(pubkey, resp, ka.TrieRoots)
}

// subscribeToOrderbookTopic subscribes to the pair's topic. It reports
// whether the orderbook still needs to be requested from the relays.
func (e *Engine) subscribeToOrderbookTopic(base, rel string) (needRequest bool) {
	topic := orderbook.Topic(base, rel)
	newSub, needRequest := e.book.Subscribe(topic)
	if newSub {
		if err := e.gossip.Subscribe(topic); err != nil {
			e.log.Errorf("Error subscribing to %s: %v", topic, err)
		}
	}
	return needRequest
}

// requestAndFillOrderbook fills the book with the pair's orders from the
// first relay that answers.
func (e *Engine) requestAndFillOrderbook(ctx context.Context, base, rel string) error {
	req, err := orderbook.NewMessage(orderbook.GetOrderbookRoute, &orderbook.GetOrderbook{Base: base, Rel: rel})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	resps, err := e.gossip.RequestRelays(ctx, req)
	if err != nil {
		return err
	}
	for _, r := range resps {
		if r.Err != nil {
			e.log.Warnf("Relay %s failed to send the %s/%s orderbook: %v", r.Peer, base, rel, r.Err)
			continue
		}
		resp := new(orderbook.GetOrderbookResponse)
		if err := orderbook.Decode(r.Response, resp); err != nil {
			e.log.Warnf("Invalid orderbook from relay %s: %v", r.Peer, err)
			continue
		}
		n := e.book.FillFromGetOrderbook(base, rel, resp)
		e.log.Debugf("Filled %d %s/%s orders from relay %s", n, base, rel, r.Peer)
		return nil
	}
	return fmt.Errorf("no relay sent the %s/%s orderbook", base, rel)
}

// makerOrderCreatedNotify adds the order to our book and announces it. The
// announced max volume is the available amount.
func (e *Engine) makerOrderCreatedNotify(o *MakerOrder) {
	msg := &orderbook.MakerOrderCreated{
		UUID:         o.UUID,
		Base:         o.Base,
		Rel:          o.Rel,
		Price:        dex.NewRational(o.Price.Big()),
		MaxVolume:    dex.NewRational(o.AvailableAmount()),
		MinVolume:    dex.NewRational(o.MinBaseVol.Big()),
		ConfSettings: o.ConfSettings,
		CreatedAt:    uint64(e.now().Unix()),
	}
	if err := e.book.InsertOrUpdate(msg.Item(e.myPubkey)); err != nil {
		e.log.Errorf("Error adding order %s to the orderbook: %v", o.UUID, err)
	}
	e.broadcast(orderbook.Topic(o.Base, o.Rel), orderbook.MakerOrderCreatedRoute, msg)
}

func (e *Engine) makerOrderUpdatedNotify(o *MakerOrder, upd *orderbook.MakerOrderUpdated) {
	upd.UUID = o.UUID
	upd.Timestamp = uint64(e.now().Unix())
	if err := e.book.ApplyUpdate(e.myPubkey, upd); err != nil {
		e.log.Errorf("Error updating order %s in the orderbook: %v", o.UUID, err)
	}
	e.broadcast(orderbook.Topic(o.Base, o.Rel), orderbook.MakerOrderUpdatedRoute, upd)
}

func (e *Engine) makerOrderCancelledNotify(o *MakerOrder) {
	if _, err := e.book.RemoveOrder(o.UUID); err != nil {
		e.log.Errorf("Error removing order %s from the orderbook: %v", o.UUID, err)
	}
	e.broadcast(orderbook.Topic(o.Base, o.Rel), orderbook.MakerOrderCancelledRoute,
		&orderbook.MakerOrderCancelled{UUID: o.UUID})
}

// removeMakerOrder deletes the order and announces its cancellation. The
// makerMtx must be held.
func (e *Engine) removeMakerOrder(o *MakerOrder) {
	delete(e.makerOrders, o.UUID)
	if err := e.store.deleteMakerOrder(o.UUID); err != nil {
		e.log.Errorf("Error deleting maker order %s: %v", o.UUID, err)
	}
	e.makerOrderCancelledNotify(o)
}

func (e *Engine) saveMakerOrder(o *MakerOrder) {
	if err := e.store.saveMakerOrder(o); err != nil {
		e.log.Errorf("Error saving maker order %s: %v", o.UUID, err)
	}
}

func (e *Engine) saveTakerOrder(o *TakerOrder) {
	if err := e.store.saveTakerOrder(o); err != nil {
		e.log.Errorf("Error saving taker order %s: %v", o.Request.UUID, err)
	}
}

func (e *Engine) deleteTakerOrder(id uuid.UUID) {
	if err := e.store.deleteTakerOrder(id); err != nil {
		e.log.Errorf("Error deleting taker order %s: %v", id, err)
	}
}

// makerCandidates are our orders on the side of the pair that could fill the
// request, best price first. The makerMtx must be held.
func (e *Engine) makerCandidates(req *TakerRequest) []*MakerOrder {
	base, rel := req.Base, req.Rel
	if req.Action == Sell {
		base, rel = rel, base
	}
	seen := make(map[uuid.UUID]bool)
	var candidates []*MakerOrder
	e.book.Find(base, rel, func(item *orderbook.Item) bool {
		if item.Pubkey != e.myPubkey {
			return false
		}
		if o, found := e.makerOrders[item.UUID]; found {
			candidates = append(candidates, o)
			seen[o.UUID] = true
		}
		return false
	})
	// Orders that are not in the book yet, e.g. just after a restart.
	var rest []*MakerOrder
	for id, o := range e.makerOrders {
		if !seen[id] && o.Base == base && o.Rel == rel {
			rest = append(rest, o)
		}
	}
	slices.SortFunc(rest, func(a, b *MakerOrder) int {
		return a.Price.Cmp(&b.Price.Rat)
	})
	return append(candidates, rest...)
}

// processTakerRequest reserves the first of our orders that matches the
// request.
func (e *Engine) processTakerRequest(req *TakerRequest) {
	if !req.MatchBy.canMatchWithPubkey(e.myPubkey) {
		return
	}
	if req.BaseAmount == nil || req.RelAmount == nil {
		e.log.Warnf("Taker request %s from %s has no amounts", req.UUID, req.SenderPubkey)
		return
	}
	e.makerMtx.Lock()
	defer e.makerMtx.Unlock()
	for _, o := range e.makerCandidates(req) {
		if !req.MatchBy.canMatchWithUUID(o.UUID) {
			continue
		}
		baseAmt, relAmt, matched := o.MatchWithRequest(req)
		if !matched {
			continue
		}
		baseCoin, err := e.coin(o.Base)
		if err != nil {
			e.log.Errorf("Cannot reserve order %s: %v", o.UUID, err)
			return
		}
		relCoin, err := e.coin(o.Rel)
		if err != nil {
			e.log.Errorf("Cannot reserve order %s: %v", o.UUID, err)
			return
		}
		if _, found := o.Matches[req.UUID]; found {
			return
		}
		confs := o.ConfSettings
		if confs == nil {
			confs = asset.DefaultConfSettings(baseCoin, relCoin)
		}
		reserved := &MakerReserved{
			Base:           o.Base,
			Rel:            o.Rel,
			BaseAmount:     dex.NewRational(baseAmt),
			RelAmount:      dex.NewRational(relAmt),
			TakerOrderUUID: req.UUID,
			MakerOrderUUID: o.UUID,
			SenderPubkey:   e.myPubkey,
			DestPubkey:     req.SenderPubkey,
			ConfSettings:   confs,
		}
		e.log.Infof("Reserving %s %s of order %s for taker request %s from %s",
			ratString(baseAmt), o.Base, o.UUID, req.UUID, req.SenderPubkey)
		e.broadcast(orderbook.Topic(o.Base, o.Rel), MakerReservedRoute, reserved)
		o.Matches[req.UUID] = &MakerMatch{
			Request:     req,
			Reserved:    reserved,
			LastUpdated: e.nowMs(),
		}
		e.saveMakerOrder(o)
		return
	}
}

// processMakerReserved connects to the first matching reservation of one of
// our taker orders.
func (e *Engine) processMakerReserved(reserved *MakerReserved) {
	if reserved.BaseAmount == nil || reserved.RelAmount == nil {
		e.log.Warnf("Reservation for %s from %s has no amounts", reserved.TakerOrderUUID, reserved.SenderPubkey)
		return
	}
	e.takerMtx.Lock()
	defer e.takerMtx.Unlock()
	o, found := e.takerOrders[reserved.TakerOrderUUID]
	if !found {
		return
	}
	if !o.MatchReserved(reserved) {
		e.log.Debugf("Reservation of order %s by %s does not match taker order %s",
			reserved.MakerOrderUUID, reserved.SenderPubkey, o.Request.UUID)
		return
	}
	if len(o.Matches) > 0 {
		return
	}
	connect := &TakerConnect{
		TakerOrderUUID: reserved.TakerOrderUUID,
		MakerOrderUUID: reserved.MakerOrderUUID,
		SenderPubkey:   e.myPubkey,
		DestPubkey:     reserved.SenderPubkey,
	}
	e.log.Infof("Connecting taker order %s to maker order %s of %s",
		o.Request.UUID, reserved.MakerOrderUUID, reserved.SenderPubkey)
	e.broadcast(orderbook.Topic(o.Request.Base, o.Request.Rel), TakerConnectRoute, connect)
	o.Matches[reserved.MakerOrderUUID] = &TakerMatch{
		Reserved:    reserved,
		Connect:     connect,
		LastUpdated: e.nowMs(),
	}
	e.saveTakerOrder(o)
}

// processTakerConnect confirms the taker's connection and starts the maker
// side of the swap.
func (e *Engine) processTakerConnect(connect *TakerConnect) {
	e.makerMtx.Lock()
	defer e.makerMtx.Unlock()
	o, found := e.makerOrders[connect.MakerOrderUUID]
	if !found {
		return
	}
	match, found := o.Matches[connect.TakerOrderUUID]
	if !found {
		return
	}
	if match.Request.SenderPubkey != connect.SenderPubkey {
		e.log.Warnf("Connect to order %s from %s, not the taker %s",
			o.UUID, connect.SenderPubkey, match.Request.SenderPubkey)
		return
	}
	if match.Connected != nil || match.Connect != nil {
		return
	}
	connected := &MakerConnected{
		TakerOrderUUID: connect.TakerOrderUUID,
		MakerOrderUUID: connect.MakerOrderUUID,
		SenderPubkey:   e.myPubkey,
		DestPubkey:     connect.SenderPubkey,
	}
	e.broadcast(orderbook.Topic(o.Base, o.Rel), MakerConnectedRoute, connected)
	match.Connect = connect
	match.Connected = connected
	match.LastUpdated = e.nowMs()
	o.StartedSwaps = append(o.StartedSwaps, match.Request.UUID)
	e.startMakerSwap(o, match)

	if available := o.AvailableAmount(); available.Cmp(&o.MinBaseVol.Rat) >= 0 {
		e.makerOrderUpdatedNotify(o, &orderbook.MakerOrderUpdated{NewMaxVolume: dex.NewRational(available)})
	}
	e.saveMakerOrder(o)
}

// processMakerConnected starts the taker side of the swap. The taker order is
// done.
func (e *Engine) processMakerConnected(connected *MakerConnected) {
	e.takerMtx.Lock()
	defer e.takerMtx.Unlock()
	o, found := e.takerOrders[connected.TakerOrderUUID]
	if !found {
		return
	}
	match, found := o.Matches[connected.MakerOrderUUID]
	if !found {
		return
	}
	if match.Reserved.SenderPubkey != connected.SenderPubkey {
		e.log.Warnf("Maker order %s connected by %s, not the maker %s",
			connected.MakerOrderUUID, connected.SenderPubkey, match.Reserved.SenderPubkey)
		return
	}
	match.Connected = connected
	match.LastUpdated = e.nowMs()
	e.startTakerSwap(o, match)
	delete(e.takerOrders, o.Request.UUID)
	e.deleteTakerOrder(o.Request.UUID)
}

func (e *Engine) swapParams(swapID uuid.UUID, reserved *MakerReserved, otherPubkey string) (*asset.SwapParams, asset.Coin, asset.Coin, error) {
	makerCoin, err := e.coin(reserved.Base)
	if err != nil {
		return nil, nil, nil, err
	}
	takerCoin, err := e.coin(reserved.Rel)
	if err != nil {
		return nil, nil, nil, err
	}
	myPub, err := hex.DecodeString(e.myPubkey)
	if err != nil {
		return nil, nil, nil, err
	}
	otherPub, err := hex.DecodeString(otherPubkey)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid counterparty pubkey %q: %w", otherPubkey, err)
	}
	return &asset.SwapParams{
		UUID:        swapID.String(),
		MakerCoin:   reserved.Base,
		TakerCoin:   reserved.Rel,
		MakerAmount: reserved.BaseAmount.Big(),
		TakerAmount: reserved.RelAmount.Big(),
		MyPubkey:    myPub,
		OtherPubkey: otherPub,
	}, makerCoin, takerCoin, nil
}

func (e *Engine) startMakerSwap(o *MakerOrder, match *MakerMatch) {
	p, makerCoin, takerCoin, err := e.swapParams(match.Request.UUID, match.Reserved, match.Request.SenderPubkey)
	if err != nil {
		e.log.Errorf("Cannot start maker swap %s: %v", match.Request.UUID, err)
		return
	}
	p.Confs = ChooseMakerConfsAndNotas(o.ConfSettings, match.Request, makerCoin, takerCoin)
	e.log.Infof("Starting maker swap %s: %s %s for %s %s", p.UUID,
		ratString(p.MakerAmount), p.MakerCoin, ratString(p.TakerAmount), p.TakerCoin)
	e.runSwap(p, e.swaps.StartMakerSwap)
}

func (e *Engine) startTakerSwap(o *TakerOrder, match *TakerMatch) {
	p, makerCoin, takerCoin, err := e.swapParams(match.Reserved.TakerOrderUUID, match.Reserved, match.Reserved.SenderPubkey)
	if err != nil {
		e.log.Errorf("Cannot start taker swap %s: %v", match.Reserved.TakerOrderUUID, err)
		return
	}
	p.Confs = ChooseTakerConfsAndNotas(o.Request, match.Reserved, makerCoin, takerCoin)
	e.log.Infof("Starting taker swap %s: %s %s for %s %s", p.UUID,
		ratString(p.TakerAmount), p.TakerCoin, ratString(p.MakerAmount), p.MakerCoin)
	e.runSwap(p, e.swaps.StartTakerSwap)
}

func (e *Engine) runSwap(p *asset.SwapParams, start func(context.Context, *asset.SwapParams) error) {
	e.swapWG.Add(1)
	go func() {
		defer e.swapWG.Done()
		if err := start(e.ctx, p); err != nil {
			e.log.Errorf("Swap %s failed: %v", p.UUID, err)
		}
	}()
}

// tick is the maintenance pass. Timed out taker orders are dropped or
// converted to maker orders, stale maker matches are forgotten, exhausted
// maker orders are cancelled, stale pubkeys are purged from the book and our
// maker orders missing from the book are announced again.
func (e *Engine) tick() {
	e.makerMtx.Lock()
	defer e.makerMtx.Unlock()
	now := e.nowMs()

	e.takerMtx.Lock()
	for id, o := range e.takerOrders {
		if o.CreatedAt+uint64(TakerOrderTimeout.Milliseconds()) >= now {
			continue
		}
		delete(e.takerOrders, id)
		e.deleteTakerOrder(id)
		if len(o.Matches) > 0 || o.OrderType != GoodTillCancelled {
			e.log.Infof("Taker order %s timed out", id)
			continue
		}
		mo := o.IntoMakerOrder(now)
		e.log.Infof("Converting timed out taker order %s to a maker order", id)
		e.saveMakerOrder(mo)
		e.makerOrderCreatedNotify(mo)
		e.makerOrders[mo.UUID] = mo
	}
	e.takerMtx.Unlock()

	for _, o := range e.makerOrders {
		var changed bool
		for id, m := range o.Matches {
			if m.Connected == nil && m.LastUpdated+uint64(OrderMatchTimeout.Milliseconds()) <= now {
				delete(o.Matches, id)
				changed = true
			}
		}
		if changed {
			e.saveMakerOrder(o)
		}
		if e.exhausted(o) && !o.HasOngoingMatches() {
			e.log.Infof("Maker order %s is exhausted", o.UUID)
			e.removeMakerOrder(o)
		}
	}

	for _, pubkey := range e.book.PurgeStale() {
		e.log.Debugf("Purged the orders of %s", pubkey)
	}

	for id, o := range e.makerOrders {
		if _, found := e.book.Order(id); found {
			continue
		}
		if _, err := e.coin(o.Base); err != nil {
			continue
		}
		if _, err := e.coin(o.Rel); err != nil {
			continue
		}
		if !e.book.IsSubscribed(orderbook.Topic(o.Base, o.Rel)) {
			continue
		}
		e.makerOrderCreatedNotify(o)
	}
}

// exhausted is true if the order's available amount can no longer fill
// anything.
func (e *Engine) exhausted(o *MakerOrder) bool {
	available := o.AvailableAmount()
	return available.Cmp(&o.MinBaseVol.Rat) < 0 || available.Cmp(minTradingVol) < 0
}

func (e *Engine) broadcastKeepAlive() {
	ka, topics := e.book.KeepAlive(e.myPubkey)
	if ka == nil {
		return
	}
	msg, err := orderbook.NewMessage(orderbook.PubkeyKeepAliveRoute, ka)
	if err != nil {
		e.log.Errorf("Error encoding keep-alive: %v", err)
		return
	}
	if err := e.gossip.Broadcast(topics, msg); err != nil {
		e.log.Errorf("Error broadcasting keep-alive: %v", err)
	}
}

// BalanceUpdated adjusts our maker orders selling the coin to a new balance.
// Orders that the balance can no longer fill to their min volume are
// cancelled, the others are reduced to what the balance covers.
func (e *Engine) BalanceUpdated(ticker string, balance *big.Rat) {
	maxVol := e.maxMakerVol(ticker, balance)
	e.makerMtx.Lock()
	defer e.makerMtx.Unlock()
	for _, o := range e.makerOrders {
		if o.Base != ticker {
			continue
		}
		available := o.AvailableAmount()
		switch {
		case maxVol.Cmp(&o.MinBaseVol.Rat) < 0:
			e.log.Infof("Cancelling maker order %s. %s max volume %s is below the min volume", o.UUID, ticker, ratString(maxVol))
			e.removeMakerOrder(o)
		case maxVol.Cmp(available) < 0:
			// Peers see the new max volume as the order's available amount,
			// so the local order is shrunk to match.
			reserved := new(big.Rat).Sub(o.MaxBaseVol.Big(), available)
			o.MaxBaseVol = dex.NewRational(reserved.Add(reserved, maxVol))
			e.saveMakerOrder(o)
			e.makerOrderUpdatedNotify(o, &orderbook.MakerOrderUpdated{NewMaxVolume: dex.NewRational(maxVol)})
		}
	}
}

// maxMakerVol is the volume a maker can offer from balance. A swap
// transaction fee paid in the same coin is deducted.
func (e *Engine) maxMakerVol(ticker string, balance *big.Rat) *big.Rat {
	vol := new(big.Rat).Set(balance)
	c, found := e.coins[ticker]
	if !found {
		return vol
	}
	feer, is := c.(asset.TradeFeer)
	if !is {
		return vol
	}
	fee := feer.TradeFee()
	if fee == nil || fee.Amount == nil || fee.Coin != ticker {
		return vol
	}
	if vol.Sub(vol, fee.Amount).Sign() < 0 {
		vol.SetInt64(0)
	}
	return vol
}
