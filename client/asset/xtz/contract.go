// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package xtz

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Swap contract and token entrypoints.
const (
	EntrypointInitTezosSwap  Entrypoint = "init_tezos_swap"
	EntrypointInitErcSwap    Entrypoint = "init_erc_swap"
	EntrypointReceiverSpends Entrypoint = "receiver_spends"
	EntrypointSenderRefunds  Entrypoint = "sender_refunds"
	EntrypointTransfer       Entrypoint = "transfer"
	EntrypointApprove        Entrypoint = "approve"
	EntrypointMint           Entrypoint = "mint"
)

// Entrypoint paths of the swap contract's Or-typed parameter, used by legacy
// transactions that carry no entrypoint.
var (
	pathInitTezosSwap  = []Side{L}
	pathInitErcSwap    = []Side{R, L}
	pathReceiverSpends = []Side{R, R, L}
	pathSenderRefunds  = []Side{R, R, R}
)

// SecretLength is the required length of a swap secret.
const SecretLength = 32

// CallArgs folds args into a right-nested Pair chain and wraps the chain in
// the Left/Right constructors of path.
func CallArgs(path []Side, args ...Value) Value {
	return WrapPath(path, FoldArgs(args...))
}

func addrValue(a Address) Value {
	return String(a.String())
}

func natValue(n *big.Int) Value {
	return &Int{new(big.Int).Set(n)}
}

func timestampValue(t time.Time) Value {
	return String(t.UTC().Format(time.RFC3339))
}

// TransferCall moves token amount from one account to another.
func TransferCall(from, to Address, amount *big.Int) *Parameters {
	return &Parameters{
		Entrypoint: EntrypointTransfer,
		Value:      CallArgs(nil, addrValue(from), addrValue(to), natValue(amount)),
	}
}

// ApproveCall sets spender's token allowance.
func ApproveCall(spender Address, amount *big.Int) *Parameters {
	return &Parameters{
		Entrypoint: EntrypointApprove,
		Value:      CallArgs(nil, addrValue(spender), natValue(amount)),
	}
}

// MintCall mints tokens. Only the token owner can call it.
func MintCall(to Address, amount *big.Int) *Parameters {
	return &Parameters{
		Entrypoint: EntrypointMint,
		Value:      CallArgs(nil, addrValue(to), natValue(amount)),
	}
}

// InitTezosSwapCall locks the transaction amount for receiver.
func InitTezosSwapCall(id []byte, lockTime uint32, secretHash []byte, algo SecretHashAlgo, receiver Address) *Parameters {
	return &Parameters{
		Entrypoint: EntrypointInitTezosSwap,
		Value: CallArgs(nil, Bytes(id), timestampValue(time.Unix(int64(lockTime), 0)),
			Bytes(secretHash), algo.Value(), addrValue(receiver)),
	}
}

// InitErcSwapCall locks amount of the token at tokenAddr for receiver.
func InitErcSwapCall(id []byte, lockTime uint32, secretHash []byte, algo SecretHashAlgo, receiver Address,
	amount *big.Int, tokenAddr Address) *Parameters {

	return &Parameters{
		Entrypoint: EntrypointInitErcSwap,
		Value: CallArgs(nil, Bytes(id), timestampValue(time.Unix(int64(lockTime), 0)),
			Bytes(secretHash), algo.Value(), addrValue(receiver), natValue(amount), addrValue(tokenAddr)),
	}
}

// ReceiverSpendsCall reveals the secret and sends the funds to sendTo.
func ReceiverSpendsCall(id, secret []byte, sendTo Address) *Parameters {
	return &Parameters{
		Entrypoint: EntrypointReceiverSpends,
		Value:      CallArgs(nil, Bytes(id), Bytes(secret), addrValue(sendTo)),
	}
}

// SenderRefundsCall returns the locked funds to sendTo after the lock time.
func SenderRefundsCall(id []byte, sendTo Address) *Parameters {
	return &Parameters{
		Entrypoint: EntrypointSenderRefunds,
		Value:      CallArgs(nil, Bytes(id), addrValue(sendTo)),
	}
}

// TaggedSwapID distinguishes the maker's and the taker's payment of the same
// swap.
func TaggedSwapID(uuid []byte, isMaker bool) []byte {
	id := make([]byte, len(uuid), len(uuid)+1)
	copy(id, uuid)
	if isMaker {
		return append(id, 0)
	}
	return append(id, 1)
}

// SecretHashAlgo is the hash function applied to a swap secret.
type SecretHashAlgo byte

const (
	SecretHashSha256 SecretHashAlgo = iota
	SecretHashSha512
	SecretHashBlake2b256
)

func (a SecretHashAlgo) String() string {
	switch a {
	case SecretHashSha256:
		return "sha256"
	case SecretHashSha512:
		return "sha512"
	case SecretHashBlake2b256:
		return "blake2b256"
	}
	return fmt.Sprintf("SecretHashAlgo(%d)", byte(a))
}

// Value is the Or-encoded algo.
func (a SecretHashAlgo) Value() Value {
	switch a {
	case SecretHashSha512:
		return Right(Left(Unit()))
	case SecretHashBlake2b256:
		return Right(Right(Unit()))
	}
	return Left(Unit())
}

// Hash applies the algo to secret.
func (a SecretHashAlgo) Hash(secret []byte) []byte {
	switch a {
	case SecretHashSha512:
		h := sha512.Sum512(secret)
		return h[:]
	case SecretHashBlake2b256:
		h := blake2b.Sum256(secret)
		return h[:]
	}
	h := sha256.Sum256(secret)
	return h[:]
}

// ParseSecretHashAlgo decodes the Or-encoded algo.
func ParseSecretHashAlgo(v Value) (SecretHashAlgo, error) {
	path, _ := PathAndPayload(v)
	switch {
	case len(path) >= 1 && path[0] == L:
		return SecretHashSha256, nil
	case len(path) >= 2 && path[1] == L:
		return SecretHashSha512, nil
	case len(path) >= 2 && path[1] == R:
		return SecretHashBlake2b256, nil
	}
	return 0, fmt.Errorf("invalid secret hash algo value")
}

// SwapState is the on-chain state of an atomic swap. It only moves from
// Initialized to one of the two terminal states.
type SwapState byte

const (
	SwapInitialized SwapState = iota
	SwapReceiverSpent
	SwapSenderRefunded
)

func (s SwapState) String() string {
	switch s {
	case SwapInitialized:
		return "Initialized"
	case SwapReceiverSpent:
		return "ReceiverSpent"
	case SwapSenderRefunded:
		return "SenderRefunded"
	}
	return fmt.Sprintf("SwapState(%d)", byte(s))
}

func parseSwapState(v Value) (SwapState, error) {
	path, _ := PathAndPayload(v)
	switch {
	case len(path) >= 1 && path[0] == L:
		return SwapInitialized, nil
	case len(path) >= 2 && path[1] == L:
		return SwapReceiverSpent, nil
	case len(path) >= 2 && path[1] == R:
		return SwapSenderRefunded, nil
	}
	return 0, fmt.Errorf("invalid swap state value")
}

// AtomicSwap is the swap contract's record of a swap, stored in a big map
// keyed by the tagged swap id.
type AtomicSwap struct {
	Amount          *big.Int
	AmountNat       *big.Int
	ContractAddress *Address
	CreatedAt       time.Time
	LockTime        time.Time
	Receiver        Address
	SecretHash      []byte
	SecretHashType  SecretHashAlgo
	Sender          Address
	SpentAt         *time.Time
	State           SwapState
	UUID            []byte
}

func valueAsAddress(v Value) (Address, error) {
	s, err := valueAsString(v)
	if err != nil {
		return Address{}, err
	}
	return ParseAddress(s)
}

func valueAsTime(v Value) (time.Time, error) {
	switch tv := v.(type) {
	case String:
		return time.Parse(time.RFC3339, string(tv))
	case *Int:
		if !tv.IsInt64() {
			return time.Time{}, fmt.Errorf("timestamp %s out of range", tv)
		}
		return time.Unix(tv.Int64(), 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("expected timestamp, got %T", v)
}

// ParseAtomicSwap decodes a swap record.
func ParseAtomicSwap(v Value) (*AtomicSwap, error) {
	r := &argsReader{next: v}
	s := new(AtomicSwap)
	var fields = []struct {
		name string
		set  func(Value) error
	}{
		{"amount", func(v Value) (err error) { s.Amount, err = valueAsNat(v); return }},
		{"amount_nat", func(v Value) (err error) { s.AmountNat, err = valueAsNat(v); return }},
		{"contract_address", func(v Value) error {
			inner, err := valueAsOption(v)
			if err != nil || inner == nil {
				return err
			}
			addr, err := valueAsAddress(inner)
			if err != nil {
				return err
			}
			s.ContractAddress = &addr
			return nil
		}},
		{"created_at", func(v Value) (err error) { s.CreatedAt, err = valueAsTime(v); return }},
		{"lock_time", func(v Value) (err error) { s.LockTime, err = valueAsTime(v); return }},
		{"receiver", func(v Value) (err error) { s.Receiver, err = valueAsAddress(v); return }},
		{"secret_hash", func(v Value) (err error) { s.SecretHash, err = valueAsBytes(v); return }},
		{"secret_hash_type", func(v Value) (err error) { s.SecretHashType, err = ParseSecretHashAlgo(v); return }},
		{"sender", func(v Value) (err error) { s.Sender, err = valueAsAddress(v); return }},
		{"spent_at", func(v Value) error {
			inner, err := valueAsOption(v)
			if err != nil || inner == nil {
				return err
			}
			t, err := valueAsTime(inner)
			if err != nil {
				return err
			}
			s.SpentAt = &t
			return nil
		}},
		{"state", func(v Value) (err error) { s.State, err = parseSwapState(v); return }},
		{"uuid", func(v Value) (err error) { s.UUID, err = valueAsBytes(v); return }},
	}
	for _, f := range fields {
		v, err := r.read()
		if err != nil {
			return nil, fmt.Errorf("swap field %s: %w", f.name, err)
		}
		if err := f.set(v); err != nil {
			return nil, fmt.Errorf("swap field %s: %w", f.name, err)
		}
	}
	return s, nil
}

// TokenStorage is the storage of an MLA-style token contract.
type TokenStorage struct {
	Accounts    *big.Int // big map id
	Owner       string
	IsPaused    bool
	TotalSupply *big.Int
}

// ParseTokenStorage decodes token contract storage.
func ParseTokenStorage(v Value) (*TokenStorage, error) {
	r := &argsReader{next: v}
	s := new(TokenStorage)
	var err error
	var field Value
	if field, err = r.read(); err == nil {
		s.Accounts, err = valueAsNat(field)
	}
	if err == nil {
		if field, err = r.read(); err == nil {
			s.Owner, err = valueAsString(field)
		}
	}
	if err == nil {
		if field, err = r.read(); err == nil {
			s.IsPaused, err = valueAsBool(field)
		}
	}
	if err == nil {
		if field, err = r.read(); err == nil {
			s.TotalSupply, err = valueAsNat(field)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("token storage: %w", err)
	}
	return s, nil
}

// TokenAccount is a holder's entry in the token's accounts big map.
type TokenAccount struct {
	Balance    *big.Int
	Allowances map[Address]*big.Int
}

// Allowance is the amount spender may transfer, zero if none was approved.
func (a *TokenAccount) Allowance(spender Address) *big.Int {
	if amt, found := a.Allowances[spender]; found {
		return amt
	}
	return new(big.Int)
}

// ParseTokenAccount decodes a Pair(balance, {Elt spender allowance; ...}).
func ParseTokenAccount(v Value) (*TokenAccount, error) {
	r := &argsReader{next: v}
	acct := &TokenAccount{Allowances: make(map[Address]*big.Int)}
	field, err := r.read()
	if err != nil {
		return nil, err
	}
	if acct.Balance, err = valueAsNat(field); err != nil {
		return nil, fmt.Errorf("account balance: %w", err)
	}
	if field, err = r.read(); err != nil {
		return nil, err
	}
	list, ok := field.(List)
	if !ok {
		return nil, fmt.Errorf("allowances: expected list, got %T", field)
	}
	for _, item := range list {
		elt, ok := item.(*Prim)
		if !ok || elt.Kind != PrimElt {
			return nil, fmt.Errorf("allowances: unexpected item %T", item)
		}
		spender, err := valueAsAddress(elt.Args[0])
		if err != nil {
			return nil, fmt.Errorf("allowance spender: %w", err)
		}
		amt, err := valueAsNat(elt.Args[1])
		if err != nil {
			return nil, fmt.Errorf("allowance amount: %w", err)
		}
		acct.Allowances[spender] = amt
	}
	return acct, nil
}

// ErrNoSecret is returned by ExtractSecret for operations that are not a
// receiver_spends call.
var ErrNoSecret = errors.New("operation does not reveal a secret")

// ExtractSecret returns the secret revealed by a receiver_spends call, the
// second argument of the call.
func ExtractSecret(op *Operation) ([]byte, error) {
	if len(op.Contents) == 0 {
		return nil, ErrNoSecret
	}
	var args Value
	switch tx := op.Contents[0].(type) {
	case *Transaction:
		if tx.Parameters == nil {
			return nil, fmt.Errorf("%w: parameters are empty", ErrNoSecret)
		}
		var ok bool
		if args, ok = StripPath(tx.Parameters, pathReceiverSpends); !ok {
			return nil, fmt.Errorf("%w: not a receiver_spends call", ErrNoSecret)
		}
	case *BabylonTransaction:
		if tx.Parameters == nil {
			return nil, fmt.Errorf("%w: parameters are empty", ErrNoSecret)
		}
		_, args = PathAndPayload(tx.Parameters.Value)
	default:
		return nil, fmt.Errorf("%w: first content is a %T", ErrNoSecret, tx)
	}
	vals := FlattenArgs(args)
	if len(vals) < 2 {
		return nil, fmt.Errorf("%w: no argument at index 1", ErrNoSecret)
	}
	secret, ok := vals[1].(Bytes)
	if !ok {
		return nil, fmt.Errorf("%w: argument at index 1 is a %T", ErrNoSecret, vals[1])
	}
	return append([]byte{}, secret...), nil
}

// callID returns the swap id argument of a swap contract call, or nil if the
// call is not to one of the wanted entrypoints.
func callID(c Content, entrypoint Entrypoint, legacyPaths ...[]Side) []byte {
	var args Value
	switch tx := c.(type) {
	case *BabylonTransaction:
		if tx.Parameters == nil || tx.Parameters.Entrypoint != entrypoint {
			return nil
		}
		args = tx.Parameters.Value
	case *Transaction:
		if tx.Parameters == nil {
			return nil
		}
		path, payload := PathAndPayload(tx.Parameters)
		for _, lp := range legacyPaths {
			if PathEqual(path, lp) {
				args = payload
			}
		}
		if args == nil {
			return nil
		}
	default:
		return nil
	}
	head, _ := SplitPair(args)
	id, ok := head.(Bytes)
	if !ok {
		return nil
	}
	return id
}

func sameID(a, b []byte) bool {
	return a != nil && bytes.Equal(a, b)
}
