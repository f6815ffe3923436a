// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package xtz is the Tezos chain adapter. It encodes and decodes operations
// and contract values locally, talks to a node over its RPC API, and drives
// the atomic swap contract for XTZ and FA tokens.
package xtz

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"decred.org/mmswap/client/asset"
	"decred.org/mmswap/dex"
)

const (
	// Ticker is the native coin.
	Ticker = "XTZ"

	txFee          = 100_000
	txGasLimit     = 800_000
	txStorageLimit = 60_000

	revealFee          = 1269
	revealGasLimit     = 10_000
	revealStorageLimit = 0

	withdrawFee          = 1420
	withdrawGasLimit     = 10_600
	withdrawStorageLimit = 300

	confirmWait       = 2 * time.Minute
	confirmCheckEvery = 10 * time.Second
	spendCheckEvery   = 10 * time.Second
	counterPollEvery  = time.Second
	counterWait       = 2 * time.Minute
	balancePollEvery  = 15 * time.Second
)

// counterMtx serializes operation building and injection for all wallets in
// the process. An account's counter must be consumed strictly in order, so
// the lock is held from reading the counter until the node reports the
// operation's counter as used.
var counterMtx sync.Mutex

type driver struct{}

// Open creates the XTZ or FA token wallet.
func (d *driver) Open(cfg *asset.WalletConfig, logger dex.Logger) (asset.Wallet, error) {
	return NewWallet(cfg, logger)
}

// Info returns basic information about the wallet and asset.
func (d *driver) Info() *asset.WalletInfo {
	return &asset.WalletInfo{
		Name:       "Tezos",
		Units:      "mutez",
		Decimals:   defaultDecimals,
		ConfigOpts: configOpts,
	}
}

func init() {
	asset.Register(Ticker, &driver{})
}

type txCosts struct {
	fee, gasLimit, storageLimit int64
}

var (
	defaultCosts  = txCosts{txFee, txGasLimit, txStorageLimit}
	withdrawCosts = txCosts{withdrawFee, withdrawGasLimit, withdrawStorageLimit}
)

// Wallet is an XTZ or FA token wallet. FA wallets pay fees in XTZ from the
// same account.
type Wallet struct {
	log           dex.Logger
	ticker        string
	decimals      uint8
	requiredConfs uint64
	requiresNota  bool
	node          NodeRPC
	signer        Signer
	addr          Address
	pkh           *PubkeyHash
	swapContract  Address
	token         *Address
	onBalance     func(string, *big.Rat)

	counterPoll    time.Duration
	counterWait    time.Duration
	confirmEvery   time.Duration
	spendPollEvery time.Duration

	balMtx  sync.Mutex
	lastBal *big.Rat
}

var _ asset.Wallet = (*Wallet)(nil)
var _ asset.PubkeyAddresser = (*Wallet)(nil)

// NewWallet is the constructor for a Wallet.
func NewWallet(cfg *asset.WalletConfig, logger dex.Logger) (*Wallet, error) {
	p, err := parseWalletConfig(cfg.Settings)
	if err != nil {
		return nil, err
	}
	signer, err := NewSigner(p.curve, p.privKey)
	if err != nil {
		return nil, err
	}
	node, err := newRPCClient(p.nodeURL, p.rps)
	if err != nil {
		return nil, err
	}
	ticker := strings.ToUpper(cfg.Ticker)
	if ticker == "" {
		ticker = Ticker
	}
	if ticker != Ticker && p.token == nil {
		return nil, fmt.Errorf("%s wallet requires a token contract", ticker)
	}
	return newWallet(ticker, p, node, signer, cfg.BalanceUpdated, logger)
}

func newWallet(ticker string, p *walletParams, node NodeRPC, signer Signer,
	onBalance func(string, *big.Rat), logger dex.Logger) (*Wallet, error) {

	addr, err := AddressFromPubKey(signer.PublicKey())
	if err != nil {
		return nil, err
	}
	pkh, err := PubkeyHashFromAddress(addr)
	if err != nil {
		return nil, err
	}
	return &Wallet{
		log:            logger,
		ticker:         ticker,
		decimals:       p.decimals,
		requiredConfs:  p.requiredConfs,
		requiresNota:   p.requiresNota,
		node:           node,
		signer:         signer,
		addr:           addr,
		pkh:            pkh,
		swapContract:   p.swapContract,
		token:          p.token,
		onBalance:      onBalance,
		counterPoll:    counterPollEvery,
		counterWait:    counterWait,
		confirmEvery:   confirmCheckEvery,
		spendPollEvery: spendCheckEvery,
	}, nil
}

// Connect checks the token contract and starts the balance monitor.
func (w *Wallet) Connect(ctx context.Context) (*sync.WaitGroup, error) {
	if w.token != nil {
		storage, err := w.node.Storage(ctx, *w.token)
		if err != nil {
			return nil, fmt.Errorf("error reading token storage: %w", err)
		}
		ts, err := ParseTokenStorage(storage)
		if err != nil {
			return nil, err
		}
		if ts.IsPaused {
			return nil, fmt.Errorf("token contract %s is paused", w.token)
		}
	}
	if _, err := w.checkBalance(ctx); err != nil {
		return nil, fmt.Errorf("error getting initial balance: %w", err)
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(balancePollEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := w.checkBalance(ctx); err != nil {
					w.log.Errorf("balance check error: %v", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	w.log.Infof("%s wallet connected, address %s", w.ticker, w.addr)
	return &wg, nil
}

// checkBalance fetches the balance and reports it if it changed.
func (w *Wallet) checkBalance(ctx context.Context) (*big.Rat, error) {
	bal, err := w.Balance(ctx)
	if err != nil {
		return nil, err
	}
	w.balMtx.Lock()
	changed := w.lastBal == nil || w.lastBal.Cmp(bal) != 0
	w.lastBal = bal
	w.balMtx.Unlock()
	if changed && w.onBalance != nil {
		w.onBalance(w.ticker, bal)
	}
	return bal, nil
}

// Ticker is the coin's symbol.
func (w *Wallet) Ticker() string { return w.ticker }

// Info returns basic information about the wallet.
func (w *Wallet) Info() *asset.WalletInfo {
	info := &asset.WalletInfo{
		Name:       "Tezos",
		Units:      "mutez",
		Decimals:   w.decimals,
		ConfigOpts: configOpts,
	}
	if w.token != nil {
		info.Name = w.ticker + " on Tezos"
		info.Units = "token units"
	}
	return info
}

// RequiredConfirmations is the default confirmations setting.
func (w *Wallet) RequiredConfirmations() uint64 { return w.requiredConfs }

// RequiresNotarization is the default notarization setting.
func (w *Wallet) RequiresNotarization() bool { return w.requiresNota }

// Address is the wallet's implicit account.
func (w *Wallet) Address() Address { return w.addr }

// AddressFromPubkey is the tz2 address of a compressed secp256k1 pubkey.
func (w *Wallet) AddressFromPubkey(pubkey []byte) (string, error) {
	pk := &PublicKey{Curve: CurveSecp256k1, Key: pubkey}
	if len(pubkey) != pubKeyLen(CurveSecp256k1) {
		return "", fmt.Errorf("invalid secp256k1 pubkey length %d", len(pubkey))
	}
	addr, err := AddressFromPubKey(pk)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

// Balance is the spendable balance in whole coins.
func (w *Wallet) Balance(ctx context.Context) (*big.Rat, error) {
	if w.token == nil {
		bal, err := w.node.Balance(ctx, w.addr)
		if err != nil {
			return nil, err
		}
		return w.toCoins(bal), nil
	}
	acct, err := w.tokenAccount(ctx)
	if err != nil {
		return nil, err
	}
	return w.toCoins(acct.Balance), nil
}

// CurrentLevel is the level of the head block.
func (w *Wallet) CurrentLevel(ctx context.Context) (int64, error) {
	head, err := w.node.BlockHeader(ctx, "head")
	if err != nil {
		return 0, err
	}
	return head.Level, nil
}

// TradeFee is the fee of a swap contract call. It is always paid in XTZ, even
// by token wallets.
func (w *Wallet) TradeFee() *asset.TradeFee {
	return &asset.TradeFee{
		Coin:   Ticker,
		Amount: new(big.Rat).SetFrac(big.NewInt(txFee), new(big.Int).Exp(big.NewInt(10), big.NewInt(defaultDecimals), nil)),
	}
}

// toAtoms converts whole coins to base units, truncating.
func (w *Wallet) toAtoms(amt *big.Rat) (*big.Int, error) {
	if amt == nil || amt.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %v", amt)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(w.decimals)), nil)
	num := new(big.Int).Mul(amt.Num(), scale)
	return num.Quo(num, amt.Denom()), nil
}

func (w *Wallet) toCoins(atoms *big.Int) *big.Rat {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(w.decimals)), nil)
	return new(big.Rat).SetFrac(atoms, scale)
}

// tokenAccount is our entry in the token's accounts big map.
func (w *Wallet) tokenAccount(ctx context.Context) (*TokenAccount, error) {
	v, err := w.node.BigMapGet(ctx, *w.token, addrValue(w.addr), "address")
	if err != nil {
		return nil, err
	}
	if v == nil {
		return &TokenAccount{Balance: new(big.Int), Allowances: map[Address]*big.Int{}}, nil
	}
	return ParseTokenAccount(v)
}

// preparedOp is a forged and signed operation that has not been injected.
type preparedOp struct {
	head     *BlockHeader
	contents []*RPCContent
	forged   []byte
	sig      []byte
	counter  *big.Int
}

func (p *preparedOp) signedBytes() []byte {
	b := make([]byte, 0, len(p.forged)+len(p.sig))
	return append(append(b, p.forged...), p.sig...)
}

// prepareOperation builds, forges and signs a transaction. The caller must
// hold counterMtx.
func (w *Wallet) prepareOperation(ctx context.Context, amount *big.Int, dest Address,
	params *Parameters, costs txCosts) (*preparedOp, error) {

	counter, err := w.node.Counter(ctx, w.addr)
	if err != nil {
		return nil, fmt.Errorf("error getting counter: %w", err)
	}
	counter.Add(counter, big.NewInt(1))
	head, err := w.node.BlockHeader(ctx, "head")
	if err != nil {
		return nil, fmt.Errorf("error getting head: %w", err)
	}
	branch, err := DecodeBlockHash(head.Hash)
	if err != nil {
		return nil, err
	}
	managerKey, err := w.node.ManagerKey(ctx, w.addr)
	if err != nil {
		return nil, fmt.Errorf("error getting manager key: %w", err)
	}

	op := &Operation{Branch: branch}
	if managerKey == "" {
		op.Contents = append(op.Contents, &Reveal{
			Source:       w.pkh,
			Fee:          big.NewInt(revealFee),
			Counter:      new(big.Int).Set(counter),
			GasLimit:     big.NewInt(revealGasLimit),
			StorageLimit: big.NewInt(revealStorageLimit),
			PublicKey:    w.signer.PublicKey(),
		})
		counter.Add(counter, big.NewInt(1))
	}
	destID, err := ContractIDFromAddress(dest)
	if err != nil {
		return nil, err
	}
	op.Contents = append(op.Contents, &BabylonTransaction{
		Source:       w.pkh,
		Fee:          big.NewInt(costs.fee),
		Counter:      new(big.Int).Set(counter),
		GasLimit:     big.NewInt(costs.gasLimit),
		StorageLimit: big.NewInt(costs.storageLimit),
		Amount:       amount,
		Destination:  destID,
		Parameters:   params,
	})

	local, err := op.Bytes()
	if err != nil {
		return nil, err
	}
	contents := make([]*RPCContent, 0, len(op.Contents))
	for _, c := range op.Contents {
		rc, err := rpcContent(c)
		if err != nil {
			return nil, err
		}
		contents = append(contents, rc)
	}
	forged, err := w.node.ForgeOperations(ctx, head.ChainID, head.Hash, &ForgeRequest{
		Branch:   head.Hash,
		Contents: contents,
	})
	if err != nil {
		return nil, fmt.Errorf("error forging operation: %w", err)
	}
	if !bytes.Equal(forged, local) {
		return nil, fmt.Errorf("node forged %x, expected %x", forged, local)
	}
	digest := SigningHash(forged)
	sig, err := w.signer.Sign(digest[:])
	if err != nil {
		return nil, err
	}
	return &preparedOp{
		head:     head,
		contents: contents,
		forged:   forged,
		sig:      sig,
		counter:  counter,
	}, nil
}

func checkApplied(contents []*RPCContent) error {
	for i, c := range contents {
		if c.Metadata == nil || c.Metadata.OperationResult == nil {
			return fmt.Errorf("content %d (%s) has no operation result", i, c.Kind)
		}
		if status := c.Metadata.OperationResult.Status; status != StatusApplied {
			return fmt.Errorf("content %d (%s) status is %q: %s", i, c.Kind, status, c.Metadata.OperationResult.Errors)
		}
	}
	return nil
}

// SignAndSendOperation builds, forges, signs, preapplies and injects a
// transaction, then waits until the node has consumed its counter.
func (w *Wallet) SignAndSendOperation(ctx context.Context, amount *big.Int, dest Address, params *Parameters) (*Operation, error) {
	return w.signAndSend(ctx, amount, dest, params, defaultCosts)
}

func (w *Wallet) signAndSend(ctx context.Context, amount *big.Int, dest Address, params *Parameters, costs txCosts) (*Operation, error) {
	counterMtx.Lock()
	defer counterMtx.Unlock()

	p, err := w.prepareOperation(ctx, amount, dest, params, costs)
	if err != nil {
		return nil, err
	}
	applied, err := w.node.PreapplyOperations(ctx, []*PreapplyRequest{{
		Protocol:  p.head.Protocol,
		Branch:    p.head.Hash,
		Contents:  p.contents,
		Signature: EncodeSignature(w.signer.PublicKey().Curve, p.sig),
	}})
	if err != nil {
		return nil, fmt.Errorf("preapply error: %w", err)
	}
	if len(applied) != 1 {
		return nil, fmt.Errorf("preapply returned %d operations, expected 1", len(applied))
	}
	if err := checkApplied(applied[0].Contents); err != nil {
		return nil, fmt.Errorf("preapply: %w", err)
	}
	signed := p.signedBytes()
	opHash, err := w.node.InjectOperation(ctx, hex.EncodeToString(signed))
	if err != nil {
		return nil, fmt.Errorf("inject error: %w", err)
	}
	w.log.Debugf("Injected operation %s with counter %s", opHash, p.counter)

	// The counter can move past ours if another client shares the account.
	waitUntil := time.Now().Add(w.counterWait)
	for {
		c, err := w.node.Counter(ctx, w.addr)
		if err != nil {
			w.log.Errorf("error getting counter after injecting %s: %v", opHash, err)
		} else if c.Cmp(p.counter) >= 0 {
			break
		}
		if time.Now().After(waitUntil) {
			return nil, dex.NewError(dex.ErrTimeout, fmt.Sprintf("counter for %s did not reach %s after injecting %s", w.addr, p.counter, opHash))
		}
		select {
		case <-time.After(w.counterPoll):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return DecodeOperation(signed)
}

// SendRawTx injects a signed operation.
func (w *Wallet) SendRawTx(ctx context.Context, signedHex string) (string, error) {
	if _, err := hex.DecodeString(signedHex); err != nil {
		return "", fmt.Errorf("invalid operation hex: %w", err)
	}
	return w.node.InjectOperation(ctx, signedHex)
}

// Withdraw builds and signs a transfer to addr without sending it. The signed
// operation hex and its hash are returned.
func (w *Wallet) Withdraw(ctx context.Context, to Address, amount *big.Rat) (signedHex, opHash string, err error) {
	atoms, err := w.toAtoms(amount)
	if err != nil {
		return "", "", err
	}
	counterMtx.Lock()
	defer counterMtx.Unlock()

	var p *preparedOp
	if w.token == nil {
		p, err = w.prepareOperation(ctx, atoms, to, nil, withdrawCosts)
	} else {
		p, err = w.prepareOperation(ctx, new(big.Int), *w.token, TransferCall(w.addr, to, atoms), defaultCosts)
	}
	if err != nil {
		return "", "", err
	}
	signed := p.signedBytes()
	op, err := DecodeOperation(signed)
	if err != nil {
		return "", "", err
	}
	if opHash, err = op.OpHash(); err != nil {
		return "", "", err
	}
	return hex.EncodeToString(signed), opHash, nil
}

type foundOp struct {
	level      int64
	validation int
	offset     int
}

// WaitForConfirmations waits until the operation is included and has at least
// confirmations blocks on top, counting its own block. It fails at waitUntil,
// or if any content of the included operation was not applied.
func (w *Wallet) WaitForConfirmations(ctx context.Context, op *Operation, confirmations uint64,
	waitUntil time.Time, checkEvery time.Duration) error {

	opHash, err := op.OpHash()
	if err != nil {
		return err
	}
	since, err := w.node.BlockHeader(ctx, EncodeBlockHash(op.Branch))
	if err != nil {
		return fmt.Errorf("error getting branch header: %w", err)
	}
	var found *foundOp
	scanned := since.Level - 1
	for {
		if time.Now().After(waitUntil) {
			return dex.NewError(dex.ErrTimeout, fmt.Sprintf("waited until %s for %d confirmations of %s", waitUntil, confirmations, opHash))
		}
		if done, err := w.checkConfirmations(ctx, opHash, confirmations, &found, &scanned); err != nil {
			if errors.Is(err, errNotApplied) {
				return err
			}
			w.log.Errorf("error checking confirmations of %s: %v", opHash, err)
		} else if done {
			return nil
		}
		select {
		case <-time.After(checkEvery):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

var errNotApplied = errors.New("operation not applied")

func (w *Wallet) checkConfirmations(ctx context.Context, opHash string, confirmations uint64, found **foundOp, scanned *int64) (bool, error) {
	head, err := w.node.BlockHeader(ctx, "head")
	if err != nil {
		return false, err
	}
	for *found == nil && *scanned < head.Level {
		level := *scanned + 1
		passes, err := w.node.OperationHashes(ctx, level)
		if err != nil {
			return false, err
		}
		for v, hashes := range passes {
			for o, h := range hashes {
				if h == opHash {
					*found = &foundOp{level: level, validation: v, offset: o}
				}
			}
		}
		*scanned = level
	}
	if *found == nil {
		return false, nil
	}
	f := *found
	rop, err := w.node.SingleOperation(ctx, f.level, f.validation, f.offset)
	if err != nil {
		return false, err
	}
	if err := checkApplied(rop.Contents); err != nil {
		return false, fmt.Errorf("%w: %s in block %d: %v", errNotApplied, opHash, f.level, err)
	}
	return uint64(head.Level-f.level+1) >= confirmations, nil
}

// CheckAndUpdateAllowance raises spender's token allowance to our full
// balance if it is less than amount, and waits for the approval to confirm.
// It never lowers an allowance.
func (w *Wallet) CheckAndUpdateAllowance(ctx context.Context, spender Address, amount *big.Int) error {
	if w.token == nil {
		return fmt.Errorf("%s is not a token", w.ticker)
	}
	acct, err := w.tokenAccount(ctx)
	if err != nil {
		return err
	}
	if acct.Allowance(spender).Cmp(amount) >= 0 {
		return nil
	}
	op, err := w.SignAndSendOperation(ctx, new(big.Int), *w.token, ApproveCall(spender, acct.Balance))
	if err != nil {
		return fmt.Errorf("approve error: %w", err)
	}
	return w.WaitForConfirmations(ctx, op, 1, time.Now().Add(confirmWait), w.confirmEvery)
}

// SendTakerFee pays the dex fee to feeAddr.
func (w *Wallet) SendTakerFee(ctx context.Context, feeAddr Address, amount *big.Rat) (*Operation, error) {
	atoms, err := w.toAtoms(amount)
	if err != nil {
		return nil, err
	}
	if w.token == nil {
		return w.SignAndSendOperation(ctx, atoms, feeAddr, nil)
	}
	return w.SignAndSendOperation(ctx, new(big.Int), *w.token, TransferCall(w.addr, feeAddr, atoms))
}

func (w *Wallet) sendHTLCPayment(ctx context.Context, id []byte, timeLock uint32, receiver Address, secretHash []byte,
	amount *big.Rat) (*Operation, error) {

	atoms, err := w.toAtoms(amount)
	if err != nil {
		return nil, err
	}
	if w.token == nil {
		return w.SignAndSendOperation(ctx, atoms, w.swapContract,
			InitTezosSwapCall(id, timeLock, secretHash, SecretHashSha256, receiver))
	}
	if err := w.CheckAndUpdateAllowance(ctx, w.swapContract, atoms); err != nil {
		return nil, err
	}
	return w.SignAndSendOperation(ctx, new(big.Int), w.swapContract,
		InitErcSwapCall(id, timeLock, secretHash, SecretHashSha256, receiver, atoms, *w.token))
}

// SendMakerPayment locks the maker's funds for the taker.
func (w *Wallet) SendMakerPayment(ctx context.Context, timeLock uint32, taker Address, secretHash []byte,
	amount *big.Rat, swapUUID []byte) (*Operation, error) {

	return w.sendHTLCPayment(ctx, TaggedSwapID(swapUUID, true), timeLock, taker, secretHash, amount)
}

// SendTakerPayment locks the taker's funds for the maker.
func (w *Wallet) SendTakerPayment(ctx context.Context, timeLock uint32, maker Address, secretHash []byte,
	amount *big.Rat, swapUUID []byte) (*Operation, error) {

	return w.sendHTLCPayment(ctx, TaggedSwapID(swapUUID, false), timeLock, maker, secretHash, amount)
}

// spendCall sends a sender_refunds call to the contract that received
// payment.
func (w *Wallet) spendCall(ctx context.Context, payment *Operation, params *Parameters) (*Operation, error) {
	dest, ok := payment.FirstTxDestination()
	if !ok {
		return nil, fmt.Errorf("payment has no transaction content")
	}
	return w.SignAndSendOperation(ctx, new(big.Int), dest.Address(), params)
}

// receiverSpend checks the secret against the contract's record of the swap
// and sends the receiver_spends call. The record must be Initialized and the
// secret must hash to the recorded secret hash with the recorded algo.
func (w *Wallet) receiverSpend(ctx context.Context, payment *Operation, id, secret []byte) (*Operation, error) {
	if len(secret) != SecretLength {
		return nil, fmt.Errorf("secret must be %d bytes, got %d", SecretLength, len(secret))
	}
	dest, ok := payment.FirstTxDestination()
	if !ok {
		return nil, fmt.Errorf("payment has no transaction content")
	}
	contract := dest.Address()
	v, err := w.node.BigMapGet(ctx, contract, Bytes(id), "bytes")
	if err != nil {
		return nil, fmt.Errorf("error reading swap %x: %w", id, err)
	}
	if v == nil {
		return nil, dex.NewError(asset.CoinNotFoundError, fmt.Sprintf("swap %x not found in %s", id, contract))
	}
	swap, err := ParseAtomicSwap(v)
	if err != nil {
		return nil, fmt.Errorf("error decoding swap %x: %w", id, err)
	}
	if swap.State != SwapInitialized {
		return nil, fmt.Errorf("swap %x is %s", id, swap.State)
	}
	if h := swap.SecretHashType.Hash(secret); !bytes.Equal(h, swap.SecretHash) {
		return nil, fmt.Errorf("%s of secret is %x, swap %x expects %x", swap.SecretHashType, h, id, swap.SecretHash)
	}
	return w.SignAndSendOperation(ctx, new(big.Int), contract, ReceiverSpendsCall(id, secret, w.addr))
}

// SendMakerSpendsTakerPayment claims the taker's payment, revealing the
// secret.
func (w *Wallet) SendMakerSpendsTakerPayment(ctx context.Context, takerPayment *Operation, secret, swapUUID []byte) (*Operation, error) {
	return w.receiverSpend(ctx, takerPayment, TaggedSwapID(swapUUID, false), secret)
}

// SendTakerSpendsMakerPayment claims the maker's payment with the secret the
// maker revealed.
func (w *Wallet) SendTakerSpendsMakerPayment(ctx context.Context, makerPayment *Operation, secret, swapUUID []byte) (*Operation, error) {
	return w.receiverSpend(ctx, makerPayment, TaggedSwapID(swapUUID, true), secret)
}

// SendMakerRefund reclaims the maker's payment after its lock time.
func (w *Wallet) SendMakerRefund(ctx context.Context, makerPayment *Operation, swapUUID []byte) (*Operation, error) {
	return w.spendCall(ctx, makerPayment, SenderRefundsCall(TaggedSwapID(swapUUID, true), w.addr))
}

// SendTakerRefund reclaims the taker's payment after its lock time.
func (w *Wallet) SendTakerRefund(ctx context.Context, takerPayment *Operation, swapUUID []byte) (*Operation, error) {
	return w.spendCall(ctx, takerPayment, SenderRefundsCall(TaggedSwapID(swapUUID, false), w.addr))
}

func firstBabylonTx(op *Operation) (*BabylonTransaction, error) {
	for _, c := range op.Contents {
		if tx, ok := c.(*BabylonTransaction); ok {
			return tx, nil
		}
	}
	return nil, fmt.Errorf("operation has no transaction content")
}

func sameCall(a, b *Parameters) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Entrypoint == b.Entrypoint && ValuesEqual(a.Value, b.Value)
}

func (w *Wallet) validateHTLCPayment(payment *Operation, id []byte, timeLock uint32, sender Address,
	secretHash []byte, amount *big.Rat) error {

	atoms, err := w.toAtoms(amount)
	if err != nil {
		return err
	}
	tx, err := firstBabylonTx(payment)
	if err != nil {
		return err
	}
	if src := tx.Source.Address(); src != sender {
		return fmt.Errorf("payment source %s, expected %s", src, sender)
	}
	if dst := tx.Destination.Address(); dst != w.swapContract {
		return fmt.Errorf("payment destination %s, expected swap contract %s", dst, w.swapContract)
	}
	var expected *Parameters
	if w.token == nil {
		if tx.Amount.Cmp(atoms) != 0 {
			return fmt.Errorf("payment amount %s, expected %s", tx.Amount, atoms)
		}
		expected = InitTezosSwapCall(id, timeLock, secretHash, SecretHashSha256, w.addr)
	} else {
		expected = InitErcSwapCall(id, timeLock, secretHash, SecretHashSha256, w.addr, atoms, *w.token)
	}
	if !sameCall(tx.Parameters, expected) {
		return fmt.Errorf("payment parameters don't match the expected %s call", expected.Entrypoint)
	}
	return nil
}

// ValidateMakerPayment checks the maker's payment to us.
func (w *Wallet) ValidateMakerPayment(payment *Operation, timeLock uint32, maker Address, secretHash []byte,
	amount *big.Rat, swapUUID []byte) error {

	return w.validateHTLCPayment(payment, TaggedSwapID(swapUUID, true), timeLock, maker, secretHash, amount)
}

// ValidateTakerPayment checks the taker's payment to us.
func (w *Wallet) ValidateTakerPayment(payment *Operation, timeLock uint32, taker Address, secretHash []byte,
	amount *big.Rat, swapUUID []byte) error {

	return w.validateHTLCPayment(payment, TaggedSwapID(swapUUID, false), timeLock, taker, secretHash, amount)
}

// ValidateFee checks the taker's fee payment and waits for the required
// confirmations.
func (w *Wallet) ValidateFee(ctx context.Context, feeOp *Operation, taker, feeAddr Address, amount *big.Rat) error {
	atoms, err := w.toAtoms(amount)
	if err != nil {
		return err
	}
	tx, err := firstBabylonTx(feeOp)
	if err != nil {
		return err
	}
	if src := tx.Source.Address(); src != taker {
		return fmt.Errorf("fee source %s, expected %s", src, taker)
	}
	dst := tx.Destination.Address()
	if w.token == nil {
		if dst != feeAddr {
			return fmt.Errorf("fee destination %s, expected %s", dst, feeAddr)
		}
		if tx.Amount.Cmp(atoms) != 0 {
			return fmt.Errorf("fee amount %s, expected %s", tx.Amount, atoms)
		}
	} else {
		if dst != *w.token {
			return fmt.Errorf("fee destination %s, expected token %s", dst, w.token)
		}
		if !sameCall(tx.Parameters, TransferCall(taker, feeAddr, atoms)) {
			return fmt.Errorf("fee parameters are not the expected transfer")
		}
	}
	return w.WaitForConfirmations(ctx, feeOp, w.requiredConfs, time.Now().Add(confirmWait), w.confirmEvery)
}

// contentCallID is the swap id argument of a call to entrypoint. Calls to the
// default entrypoint are matched against the legacy Or paths.
func contentCallID(tx *BabylonTransaction, entrypoint Entrypoint, legacyPaths ...[]Side) []byte {
	if id := callID(tx, entrypoint); id != nil {
		return id
	}
	if tx.Parameters != nil && tx.Parameters.Entrypoint == EntrypointDefault && len(legacyPaths) > 0 {
		return callID(&Transaction{Parameters: tx.Parameters.Value}, entrypoint, legacyPaths...)
	}
	return nil
}

type callMatcher func(tx *BabylonTransaction) bool

// findOperation scans blocks from fromLevel to the head for a transaction to
// contract accepted by match.
func (w *Wallet) findOperation(ctx context.Context, contract Address, fromLevel int64, match callMatcher) (*Operation, error) {
	head, err := w.node.BlockHeader(ctx, "head")
	if err != nil {
		return nil, err
	}
	for level := fromLevel; level <= head.Level; level++ {
		passes, err := w.node.Operations(ctx, level)
		if err != nil {
			return nil, fmt.Errorf("error getting operations of block %d: %w", level, err)
		}
		for _, ops := range passes {
			for _, rop := range ops {
				for _, rc := range rop.Contents {
					if rc.Kind != "transaction" || rc.Destination != contract.String() {
						continue
					}
					tx, err := babylonFromRPC(rc)
					if err != nil {
						w.log.Tracef("skipping transaction in %s: %v", rop.Hash, err)
						continue
					}
					if match(tx) {
						return operationFromRPC(rop, tx)
					}
				}
			}
		}
	}
	return nil, nil
}

// CheckIfMyPaymentSent looks for our payment of a swap, scanning from
// fromLevel. nil is returned if the swap is not in the contract yet.
func (w *Wallet) CheckIfMyPaymentSent(ctx context.Context, swapUUID []byte, isMaker bool, fromLevel int64) (*Operation, error) {
	id := TaggedSwapID(swapUUID, isMaker)
	v, err := w.node.BigMapGet(ctx, w.swapContract, Bytes(id), "bytes")
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	op, err := w.findOperation(ctx, w.swapContract, fromLevel, func(tx *BabylonTransaction) bool {
		if tx.Source.Address() != w.addr {
			return false
		}
		return sameID(contentCallID(tx, EntrypointInitTezosSwap, pathInitTezosSwap, pathInitErcSwap), id) ||
			sameID(contentCallID(tx, EntrypointInitErcSwap, pathInitTezosSwap, pathInitErcSwap), id)
	})
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, dex.NewError(asset.CoinNotFoundError, fmt.Sprintf("swap %x is in the contract but its payment was not found", id))
	}
	return op, nil
}

// SwapSpend is a resolved swap and the operation that resolved it.
type SwapSpend struct {
	State     SwapState
	Operation *Operation
}

func paymentID(tx *BabylonTransaction) []byte {
	if id := contentCallID(tx, EntrypointInitTezosSwap, pathInitTezosSwap, pathInitErcSwap); id != nil {
		return id
	}
	return contentCallID(tx, EntrypointInitErcSwap, pathInitTezosSwap, pathInitErcSwap)
}

// SearchForSwapTxSpend reads the swap record of a payment. It returns nil if
// the swap is still Initialized, and otherwise the spend or refund operation,
// scanning from fromLevel.
func (w *Wallet) SearchForSwapTxSpend(ctx context.Context, payment *Operation, fromLevel int64) (*SwapSpend, error) {
	tx, err := firstBabylonTx(payment)
	if err != nil {
		return nil, err
	}
	id := paymentID(tx)
	if id == nil {
		return nil, fmt.Errorf("payment is not a swap init call")
	}
	contract := tx.Destination.Address()
	v, err := w.node.BigMapGet(ctx, contract, Bytes(id), "bytes")
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, dex.NewError(asset.CoinNotFoundError, fmt.Sprintf("swap %x not found in %s", id, contract))
	}
	swap, err := ParseAtomicSwap(v)
	if err != nil {
		return nil, err
	}
	var entrypoint Entrypoint
	var path []Side
	switch swap.State {
	case SwapInitialized:
		return nil, nil
	case SwapReceiverSpent:
		entrypoint, path = EntrypointReceiverSpends, pathReceiverSpends
	case SwapSenderRefunded:
		entrypoint, path = EntrypointSenderRefunds, pathSenderRefunds
	}
	op, err := w.findOperation(ctx, contract, fromLevel, func(tx *BabylonTransaction) bool {
		return sameID(contentCallID(tx, entrypoint, path), id)
	})
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, fmt.Errorf("swap %x is %s but no %s operation was found since block %d", id, swap.State, entrypoint, fromLevel)
	}
	return &SwapSpend{State: swap.State, Operation: op}, nil
}

// WaitForTxSpend waits for the payment to be spent by the receiver. A refund
// is an error.
func (w *Wallet) WaitForTxSpend(ctx context.Context, payment *Operation, fromLevel int64, waitUntil time.Time) (*Operation, error) {
	for {
		spend, err := w.SearchForSwapTxSpend(ctx, payment, fromLevel)
		switch {
		case err != nil:
			w.log.Errorf("error searching for payment spend: %v", err)
		case spend == nil:
		case spend.State == SwapSenderRefunded:
			return nil, fmt.Errorf("payment was refunded")
		default:
			return spend.Operation, nil
		}
		if time.Now().After(waitUntil) {
			return nil, dex.NewError(dex.ErrTimeout, fmt.Sprintf("payment not spent by %s", waitUntil))
		}
		select {
		case <-time.After(w.spendPollEvery):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ExtractSecret returns the secret revealed by a receiver_spends operation.
func (w *Wallet) ExtractSecret(spend *Operation) ([]byte, error) {
	return ExtractSecret(spend)
}
