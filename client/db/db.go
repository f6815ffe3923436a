// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package db is the swap event log. It stands in for the swap engine,
// recording every swap that the order-matching engine hands off.
package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"decred.org/mmswap/client/asset"
	"decred.org/mmswap/dex"
	"decred.org/mmswap/dex/encode"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ugorji/go/codec"
)

// DBVersion is the version of the database layout.
const DBVersion = 0

// eventVersion is the version byte of the stored event blob.
const eventVersion = 0

var (
	versionKey  = []byte("dbver")
	seqKey      = []byte("evseq")
	eventPrefix = []byte("ev")
)

// EventKind is the kind of a SwapEvent.
type EventKind string

// SwapStarted is recorded when the engine hands a match to the swap engine.
const SwapStarted EventKind = "SwapStarted"

// Role is our side of a swap.
type Role string

const (
	Maker Role = "Maker"
	Taker Role = "Taker"
)

// SwapEvent is an entry in a swap's log. Stamp is in unix milliseconds.
type SwapEvent struct {
	Kind        EventKind               `codec:"kind" json:"kind"`
	UUID        uuid.UUID               `codec:"uuid" json:"uuid"`
	Role        Role                    `codec:"role" json:"role"`
	MakerCoin   string                  `codec:"maker_coin" json:"maker_coin"`
	TakerCoin   string                  `codec:"taker_coin" json:"taker_coin"`
	MakerAmount *dex.Rational           `codec:"maker_amount" json:"maker_amount"`
	TakerAmount *dex.Rational           `codec:"taker_amount" json:"taker_amount"`
	Confs       asset.SwapConfirmations `codec:"confs" json:"confs"`
	OtherPubkey dex.Bytes               `codec:"other_pubkey" json:"other_pubkey"`
	Stamp       uint64                  `codec:"stamp" json:"stamp"`
}

var msgpackHandle = &codec.MsgpackHandle{}

// MarshalBinary encodes the event as a versioned blob with a single
// MessagePack push.
func (ev *SwapEvent) MarshalBinary() ([]byte, error) {
	var b []byte
	if err := codec.NewEncoderBytes(&b, msgpackHandle).Encode(ev); err != nil {
		return nil, err
	}
	return encode.BuildyBytes{eventVersion}.AddData(b), nil
}

// UnmarshalBinary decodes an event blob.
func (ev *SwapEvent) UnmarshalBinary(b []byte) error {
	ver, pushes, err := encode.DecodeBlob(b)
	if err != nil {
		return err
	}
	if ver != eventVersion {
		return fmt.Errorf("unknown event version %d", ver)
	}
	if len(pushes) != 1 {
		return fmt.Errorf("expected 1 push for event, got %d", len(pushes))
	}
	return codec.NewDecoderBytes(pushes[0], msgpackHandle).Decode(ev)
}

// Config is the configuration for a SwapLog.
type Config struct {
	// Dir is the badger directory. It is created if needed.
	Dir    string
	Logger dex.Logger
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// SwapLog is a badger-backed log of swap events. SwapLog satisfies
// asset.SwapEngine and dex.Connector.
type SwapLog struct {
	db  *badger.DB
	log dex.Logger
	now func() time.Time
	seq *badger.Sequence

	mtx  sync.RWMutex
	subs map[chan *SwapEvent]struct{}
}

var _ asset.SwapEngine = (*SwapLog)(nil)
var _ dex.Connector = (*SwapLog)(nil)

// New opens or creates the log.
func New(cfg *Config) (*SwapLog, error) {
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("error creating db dir: %w", err)
	}
	opts := badger.DefaultOptions(cfg.Dir).WithLogger(&badgerLoggerWrapper{cfg.Logger.SubLogger("BADG")})
	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("error opening badger db: %w", err)
	}
	if err := checkVersion(bdb, cfg.Logger); err != nil {
		bdb.Close()
		return nil, err
	}
	seq, err := bdb.GetSequence(seqKey, 100)
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("error getting event sequence: %w", err)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &SwapLog{
		db:   bdb,
		log:  cfg.Logger,
		now:  now,
		seq:  seq,
		subs: make(map[chan *SwapEvent]struct{}),
	}, nil
}

func checkVersion(bdb *badger.DB, log dex.Logger) error {
	return bdb.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(versionKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			// fresh install
			return txn.Set(versionKey, []byte{DBVersion})
		}
		if err != nil {
			return fmt.Errorf("error getting version: %w", err)
		}
		return item.Value(func(b []byte) error {
			if len(b) != 1 {
				return fmt.Errorf("bad version length %d", len(b))
			}
			if b[0] > DBVersion {
				return fmt.Errorf("database reporting version %d from the future", b[0])
			}
			if b[0] < DBVersion {
				log.Warnf("Database version %d is older than %d", b[0], DBVersion)
			}
			return nil
		})
	})
}

// Connect runs value log garbage collection until the context is canceled,
// then closes the database.
func (l *SwapLog) Connect(ctx context.Context) (*sync.WaitGroup, error) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer func() {
			ticker.Stop()
			if err := l.seq.Release(); err != nil {
				l.log.Errorf("Error releasing sequence: %v", err)
			}
			if err := l.db.Close(); err != nil {
				l.log.Errorf("Error closing db: %v", err)
			}
		}()
		for {
			select {
			case <-ticker.C:
				err := l.db.RunValueLogGC(0.5)
				if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
					l.log.Errorf("garbage collection error: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return &wg, nil
}

// eventKey is the prefix, the swap uuid and a sequence number, so that a
// swap's events iterate in the order they were recorded.
func eventKey(id uuid.UUID, n uint64) []byte {
	k := make([]byte, 0, len(eventPrefix)+16+8)
	k = append(k, eventPrefix...)
	k = append(k, id[:]...)
	return append(k, encode.Uint64Bytes(n)...)
}

func swapPrefix(id uuid.UUID) []byte {
	return append(append([]byte{}, eventPrefix...), id[:]...)
}

// Record appends the event to its swap's log. A zero Stamp is set to now.
func (l *SwapLog) Record(ev *SwapEvent) error {
	if ev.Stamp == 0 {
		ev.Stamp = uint64(l.now().UnixMilli())
	}
	b, err := ev.MarshalBinary()
	if err != nil {
		return fmt.Errorf("error encoding event: %w", err)
	}
	n, err := l.seq.Next()
	if err != nil {
		return fmt.Errorf("error getting sequence number: %w", err)
	}
	if err := l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(eventKey(ev.UUID, n), b)
	}); err != nil {
		return err
	}
	l.mtx.RLock()
	for c := range l.subs {
		select {
		case c <- ev:
		default:
			l.log.Warnf("Dropping %s event for a slow subscriber", ev.Kind)
		}
	}
	l.mtx.RUnlock()
	return nil
}

// Events lists the swap's events, oldest first.
func (l *SwapLog) Events(id uuid.UUID) ([]*SwapEvent, error) {
	var evs []*SwapEvent
	return evs, l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = swapPrefix(id)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			ev := new(SwapEvent)
			if err := it.Item().Value(ev.UnmarshalBinary); err != nil {
				return fmt.Errorf("error decoding event %x: %w", it.Item().Key(), err)
			}
			evs = append(evs, ev)
		}
		return nil
	})
}

// Swaps lists the uuids of every swap with an event.
func (l *SwapLog) Swaps() ([]uuid.UUID, error) {
	var ids []uuid.UUID
	return ids, l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = eventPrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().Key()
			if len(k) != len(eventPrefix)+16+8 {
				continue
			}
			id, _ := uuid.FromBytes(k[len(eventPrefix) : len(eventPrefix)+16])
			if len(ids) == 0 || ids[len(ids)-1] != id {
				ids = append(ids, id)
			}
		}
		return nil
	})
}

// Subscribe returns a channel that receives every recorded event until the
// returned function is called.
func (l *SwapLog) Subscribe() (<-chan *SwapEvent, func()) {
	c := make(chan *SwapEvent, 16)
	l.mtx.Lock()
	l.subs[c] = struct{}{}
	l.mtx.Unlock()
	return c, func() {
		l.mtx.Lock()
		delete(l.subs, c)
		l.mtx.Unlock()
	}
}

func (l *SwapLog) started(role Role, p *asset.SwapParams) error {
	id, err := uuid.Parse(p.UUID)
	if err != nil {
		return fmt.Errorf("invalid swap uuid %q: %w", p.UUID, err)
	}
	ev := &SwapEvent{
		Kind:        SwapStarted,
		UUID:        id,
		Role:        role,
		MakerCoin:   p.MakerCoin,
		TakerCoin:   p.TakerCoin,
		MakerAmount: dex.NewRational(p.MakerAmount),
		TakerAmount: dex.NewRational(p.TakerAmount),
		Confs:       p.Confs,
		OtherPubkey: p.OtherPubkey,
	}
	if err := l.Record(ev); err != nil {
		return err
	}
	l.log.Infof("%s swap %s started: maker %s %s, taker %s %s", role, id,
		p.MakerAmount.FloatString(8), p.MakerCoin, p.TakerAmount.FloatString(8), p.TakerCoin)
	return nil
}

// StartMakerSwap records the start of a swap where we are the maker.
func (l *SwapLog) StartMakerSwap(_ context.Context, p *asset.SwapParams) error {
	return l.started(Maker, p)
}

// StartTakerSwap records the start of a swap where we are the taker.
func (l *SwapLog) StartTakerSwap(_ context.Context, p *asset.SwapParams) error {
	return l.started(Taker, p)
}
