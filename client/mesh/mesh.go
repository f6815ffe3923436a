// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"decred.org/mmswap/dex"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	// ErrPeerNotFound is returned from requests to peers that are not on the
	// mesh.
	ErrPeerNotFound = dex.ErrorKind("peer not found")
	// ErrNoHandler is returned when a peer has not registered a request
	// handler.
	ErrNoHandler = dex.ErrorKind("peer has no request handler")

	inboxCapacity = 1024
)

// Message is a verified broadcast message.
type Message struct {
	Topics []string
	// From is the peer that signed the message.
	From PeerID
	// Via is the peer that the message was received from, which is not
	// necessarily the originator.
	Via     PeerID
	Payload []byte
}

// PeerResponse is one peer's response to a relay request.
type PeerResponse struct {
	Peer     PeerID
	Response []byte
	Err      error
}

// Handlers are the callbacks a Gossip consumer registers.
type Handlers struct {
	// HandleMessage is called serially for every broadcast received on a
	// subscribed topic.
	HandleMessage func(*Message)
	// HandleRequest answers a direct request from a peer. A nil response
	// with a nil error is a valid empty response.
	HandleRequest func(from PeerID, req []byte) ([]byte, error)
}

// Gossip is the peer-to-peer messaging capability consumed by the
// orderbook and ordermatch packages.
type Gossip interface {
	ID() PeerID
	RegisterHandlers(*Handlers)
	Broadcast(topics []string, payload []byte) error
	Subscribe(topics ...string) error
	RequestPeer(ctx context.Context, peer PeerID, req []byte) ([]byte, error)
	RequestRelays(ctx context.Context, req []byte) ([]*PeerResponse, error)
}

// Hub is an in-process gossip fabric. Every Node created by the Hub can reach
// every other Node directly.
type Hub struct {
	log dex.Logger

	mtx   sync.RWMutex
	nodes map[PeerID]*Node
}

// NewHub is the constructor for a Hub.
func NewHub(log dex.Logger) *Hub {
	return &Hub{
		log:   log,
		nodes: make(map[PeerID]*Node),
	}
}

// NodeConfig is the configuration for a Node.
type NodeConfig struct {
	PrivateKey *secp256k1.PrivateKey
	// IsRelay nodes answer RequestRelays queries.
	IsRelay bool
	Logger  dex.Logger
}

// NewNode adds a Node to the Hub.
func (h *Hub) NewNode(cfg *NodeConfig) (*Node, error) {
	if cfg.PrivateKey == nil {
		return nil, errors.New("no private key")
	}
	id := PeerIDFromPubKey(cfg.PrivateKey.PubKey())
	log := cfg.Logger
	if log == nil {
		log = h.log.SubLogger(id.String()[:8])
	}
	n := &Node{
		hub:     h,
		priv:    cfg.PrivateKey,
		id:      id,
		isRelay: cfg.IsRelay,
		log:     log,
		subs:    make(map[string]bool),
		inbox:   make(chan *delivery, inboxCapacity),
	}
	h.mtx.Lock()
	defer h.mtx.Unlock()
	if _, exists := h.nodes[id]; exists {
		return nil, fmt.Errorf("node %s already on the hub", id)
	}
	h.nodes[id] = n
	return n, nil
}

func (h *Hub) node(id PeerID) *Node {
	h.mtx.RLock()
	defer h.mtx.RUnlock()
	return h.nodes[id]
}

func (h *Hub) others(id PeerID) []*Node {
	h.mtx.RLock()
	defer h.mtx.RUnlock()
	nodes := make([]*Node, 0, len(h.nodes))
	for peerID, n := range h.nodes {
		if peerID != id {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

func (h *Hub) remove(id PeerID) {
	h.mtx.Lock()
	delete(h.nodes, id)
	h.mtx.Unlock()
}

type delivery struct {
	topics []string
	via    PeerID
	raw    []byte
}

// Node is a Hub participant. Node satisfies Gossip and dex.Connector.
type Node struct {
	hub     *Hub
	priv    *secp256k1.PrivateKey
	id      PeerID
	isRelay bool
	log     dex.Logger
	inbox   chan *delivery

	mtx      sync.RWMutex
	subs     map[string]bool
	handlers *Handlers
}

var _ Gossip = (*Node)(nil)
var _ dex.Connector = (*Node)(nil)

// ID is the node's PeerID.
func (n *Node) ID() PeerID {
	return n.id
}

// RegisterHandlers sets the message and request handlers.
func (n *Node) RegisterHandlers(h *Handlers) {
	n.mtx.Lock()
	n.handlers = h
	n.mtx.Unlock()
}

func (n *Node) getHandlers() *Handlers {
	n.mtx.RLock()
	defer n.mtx.RUnlock()
	return n.handlers
}

// Connect starts processing the inbox. The node leaves the hub when the
// context is canceled.
func (n *Node) Connect(ctx context.Context) (*sync.WaitGroup, error) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer n.hub.remove(n.id)
		for {
			select {
			case d := <-n.inbox:
				n.handleDelivery(d)
			case <-ctx.Done():
				return
			}
		}
	}()
	return &wg, nil
}

func (n *Node) handleDelivery(d *delivery) {
	m, from, err := DecodeSignedMessage(d.raw)
	if err != nil {
		n.log.Warnf("Dropping message from %s: %v", d.via, err)
		return
	}
	h := n.getHandlers()
	if h == nil || h.HandleMessage == nil {
		return
	}
	h.HandleMessage(&Message{
		Topics:  d.topics,
		From:    from,
		Via:     d.via,
		Payload: m.Payload,
	})
}

// Subscribe adds the topics to the node's subscriptions.
func (n *Node) Subscribe(topics ...string) error {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	for _, t := range topics {
		n.subs[t] = true
	}
	return nil
}

func (n *Node) subscribedTopics(topics []string) []string {
	n.mtx.RLock()
	defer n.mtx.RUnlock()
	var subbed []string
	for _, t := range topics {
		if n.subs[t] {
			subbed = append(subbed, t)
		}
	}
	return subbed
}

// Broadcast signs the payload and delivers it to every other node subscribed
// to any of the topics. Delivery is asynchronous. Messages to a node with a
// full inbox are dropped.
func (n *Node) Broadcast(topics []string, payload []byte) error {
	raw, err := Sign(n.priv, payload).Encode()
	if err != nil {
		return err
	}
	for _, peer := range n.hub.others(n.id) {
		subbed := peer.subscribedTopics(topics)
		if len(subbed) == 0 {
			continue
		}
		select {
		case peer.inbox <- &delivery{topics: subbed, via: n.id, raw: raw}:
		default:
			n.log.Warnf("Inbox full for peer %s. Dropping message.", peer.id)
		}
	}
	return nil
}

// RequestPeer sends a signed request to the peer and waits for the response.
func (n *Node) RequestPeer(ctx context.Context, peerID PeerID, req []byte) ([]byte, error) {
	peer := n.hub.node(peerID)
	if peer == nil {
		return nil, dex.NewError(ErrPeerNotFound, peerID.String())
	}
	raw, err := Sign(n.priv, req).Encode()
	if err != nil {
		return nil, err
	}

	type result struct {
		resp []byte
		err  error
	}
	resC := make(chan *result, 1)
	go func() {
		resp, err := peer.handleRequest(raw)
		resC <- &result{resp, err}
	}()
	select {
	case r := <-resC:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (n *Node) handleRequest(raw []byte) ([]byte, error) {
	m, from, err := DecodeSignedMessage(raw)
	if err != nil {
		return nil, err
	}
	h := n.getHandlers()
	if h == nil || h.HandleRequest == nil {
		return nil, dex.NewError(ErrNoHandler, n.id.String())
	}
	return h.HandleRequest(from, m.Payload)
}

// RequestRelays sends the request to every relay node concurrently and
// collects the responses. Per-peer failures are reported in the
// PeerResponse.
func (n *Node) RequestRelays(ctx context.Context, req []byte) ([]*PeerResponse, error) {
	var relays []*Node
	for _, peer := range n.hub.others(n.id) {
		if peer.isRelay {
			relays = append(relays, peer)
		}
	}
	if len(relays) == 0 {
		return nil, errors.New("no relays")
	}
	resps := make([]*PeerResponse, len(relays))
	var wg sync.WaitGroup
	for i, relay := range relays {
		wg.Add(1)
		go func(i int, id PeerID) {
			defer wg.Done()
			resp, err := n.RequestPeer(ctx, id, req)
			resps[i] = &PeerResponse{Peer: id, Response: resp, Err: err}
		}(i, relay.id)
	}
	wg.Wait()
	return resps, nil
}
