package xtz

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"decred.org/mmswap/client/asset"
	"decred.org/mmswap/dex"
	"decred.org/mmswap/dex/encode"
	"github.com/decred/slog"
	"golang.org/x/crypto/blake2b"
)

var tLogger = dex.StdOutLogger("T", slog.LevelTrace)

type tBlock struct {
	hdr *BlockHeader
	ops []*RPCOperation
}

// tRPC is an in-memory node. Injected operations are mined into a new block
// immediately.
type tRPC struct {
	mtx             sync.Mutex
	blocks          []*tBlock
	counter         int64
	managerKey      string
	balance         *big.Int
	bigMaps         map[string]Value
	storage         map[Address]Value
	preapplyStatus  string
	inclusionStatus string
	forgeTweak      bool
	injected        []string
	counterJump     int64
	counterStall    bool
}

var _ NodeRPC = (*tRPC)(nil)

func blockHash(level int64) string {
	return EncodeBlockHash(blake2b.Sum256(binary.BigEndian.AppendUint64(nil, uint64(level))))
}

func newTRPC() *tRPC {
	node := &tRPC{
		counter:         5,
		balance:         big.NewInt(10_000_000),
		bigMaps:         make(map[string]Value),
		storage:         make(map[Address]Value),
		preapplyStatus:  StatusApplied,
		inclusionStatus: StatusApplied,
	}
	for i := 0; i < 3; i++ {
		node.mine()
	}
	return node
}

// mine adds a block. The caller must not hold mtx.
func (n *tRPC) mine(ops ...*RPCOperation) int64 {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return n.mineLocked(ops...)
}

func (n *tRPC) mineLocked(ops ...*RPCOperation) int64 {
	level := int64(len(n.blocks))
	n.blocks = append(n.blocks, &tBlock{
		hdr: &BlockHeader{Protocol: "PtTest", ChainID: "NetXtest", Hash: blockHash(level), Level: level},
		ops: ops,
	})
	return level
}

func bigMapKey(contract Address, key Value) string {
	return contract.String() + hex.EncodeToString(EncodeValue(key))
}

func (n *tRPC) Counter(ctx context.Context, addr Address) (*big.Int, error) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return big.NewInt(n.counter), nil
}

func (n *tRPC) BlockHeader(ctx context.Context, ref string) (*BlockHeader, error) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if ref == "head" {
		return n.blocks[len(n.blocks)-1].hdr, nil
	}
	for _, b := range n.blocks {
		if b.hdr.Hash == ref {
			return b.hdr, nil
		}
	}
	return nil, fmt.Errorf("unknown block %s", ref)
}

func (n *tRPC) ManagerKey(ctx context.Context, addr Address) (string, error) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return n.managerKey, nil
}

func forgeRPC(branchHash string, contents []*RPCContent) ([]byte, error) {
	branch, err := DecodeBlockHash(branchHash)
	if err != nil {
		return nil, err
	}
	op := &Operation{Branch: branch}
	for _, rc := range contents {
		switch rc.Kind {
		case "reveal":
			addr, err := ParseAddress(rc.Source)
			if err != nil {
				return nil, err
			}
			pkh, err := PubkeyHashFromAddress(addr)
			if err != nil {
				return nil, err
			}
			pk, err := ParsePublicKey(rc.PublicKey)
			if err != nil {
				return nil, err
			}
			rv := &Reveal{Source: pkh, PublicKey: pk}
			if rv.Fee, err = parseBigString(rc.Fee); err != nil {
				return nil, err
			}
			if rv.Counter, err = parseBigString(rc.Counter); err != nil {
				return nil, err
			}
			if rv.GasLimit, err = parseBigString(rc.GasLimit); err != nil {
				return nil, err
			}
			if rv.StorageLimit, err = parseBigString(rc.StorageLimit); err != nil {
				return nil, err
			}
			op.Contents = append(op.Contents, rv)
		case "transaction":
			tx, err := babylonFromRPC(rc)
			if err != nil {
				return nil, err
			}
			op.Contents = append(op.Contents, tx)
		default:
			return nil, fmt.Errorf("unknown kind %s", rc.Kind)
		}
	}
	return op.Bytes()
}

func (n *tRPC) ForgeOperations(ctx context.Context, chainID, blockHash string, req *ForgeRequest) ([]byte, error) {
	b, err := forgeRPC(req.Branch, req.Contents)
	if err != nil {
		return nil, err
	}
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if n.forgeTweak {
		b[len(b)-1]++
	}
	return b, nil
}

func withStatus(contents []*RPCContent, status string) []*RPCContent {
	out := make([]*RPCContent, 0, len(contents))
	for _, c := range contents {
		cc := *c
		cc.Metadata = &ContentMetadata{OperationResult: &OperationResult{Status: status}}
		out = append(out, &cc)
	}
	return out
}

func (n *tRPC) PreapplyOperations(ctx context.Context, reqs []*PreapplyRequest) ([]*RPCOperation, error) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	ops := make([]*RPCOperation, 0, len(reqs))
	for _, req := range reqs {
		ops = append(ops, &RPCOperation{
			Branch:    req.Branch,
			Contents:  withStatus(req.Contents, n.preapplyStatus),
			Signature: req.Signature,
		})
	}
	return ops, nil
}

func (n *tRPC) InjectOperation(ctx context.Context, signedHex string) (string, error) {
	b, err := hex.DecodeString(signedHex)
	if err != nil {
		return "", err
	}
	op, err := DecodeOperation(b)
	if err != nil {
		return "", err
	}
	opHash, err := op.OpHash()
	if err != nil {
		return "", err
	}
	rop := &RPCOperation{Hash: opHash, Branch: EncodeBlockHash(op.Branch), Signature: EncodeSignature(CurveEd25519, op.Signature)}
	for _, c := range op.Contents {
		rc, err := rpcContent(c)
		if err != nil {
			return "", err
		}
		rop.Contents = append(rop.Contents, rc)
	}
	n.mtx.Lock()
	defer n.mtx.Unlock()
	n.injected = append(n.injected, signedHex)
	if !n.counterStall {
		n.counter += int64(len(op.Contents)) + n.counterJump
	}
	n.managerKey = "revealed"
	n.mineLocked(rop)
	return opHash, nil
}

func (n *tRPC) Operations(ctx context.Context, level int64) ([][]*RPCOperation, error) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if level < 0 || level >= int64(len(n.blocks)) {
		return nil, fmt.Errorf("no block %d", level)
	}
	return [][]*RPCOperation{nil, nil, nil, n.blocks[level].ops}, nil
}

func (n *tRPC) OperationHashes(ctx context.Context, level int64) ([][]string, error) {
	ops, err := n.Operations(ctx, level)
	if err != nil {
		return nil, err
	}
	hashes := make([][]string, len(ops))
	for v, pass := range ops {
		for _, op := range pass {
			hashes[v] = append(hashes[v], op.Hash)
		}
	}
	return hashes, nil
}

func (n *tRPC) SingleOperation(ctx context.Context, level int64, validation, offset int) (*RPCOperation, error) {
	ops, err := n.Operations(ctx, level)
	if err != nil {
		return nil, err
	}
	n.mtx.Lock()
	defer n.mtx.Unlock()
	op := *ops[validation][offset]
	op.Contents = withStatus(op.Contents, n.inclusionStatus)
	return &op, nil
}

func (n *tRPC) BigMapGet(ctx context.Context, contract Address, key Value, keyType string) (Value, error) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return n.bigMaps[bigMapKey(contract, key)], nil
}

func (n *tRPC) Storage(ctx context.Context, contract Address) (Value, error) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	v, found := n.storage[contract]
	if !found {
		return nil, fmt.Errorf("no storage for %s", contract)
	}
	return v, nil
}

func (n *tRPC) Balance(ctx context.Context, addr Address) (*big.Int, error) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return new(big.Int).Set(n.balance), nil
}

func (n *tRPC) injectedCount() int {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return len(n.injected)
}

var tSwapContract = testContract(0x51).Address()

func tNewWallet(t *testing.T, node NodeRPC, token *Address) *Wallet {
	t.Helper()
	signer, err := NewEd25519Signer(encode.RandomBytes(32))
	if err != nil {
		t.Fatal(err)
	}
	ticker := Ticker
	if token != nil {
		ticker = "USDTZ"
	}
	p := &walletParams{
		swapContract:  tSwapContract,
		token:         token,
		requiredConfs: 1,
		decimals:      defaultDecimals,
	}
	w, err := newWallet(ticker, p, node, signer, nil, tLogger)
	if err != nil {
		t.Fatal(err)
	}
	w.counterPoll = time.Millisecond
	w.counterWait = time.Second
	w.confirmEvery = time.Millisecond
	w.spendPollEvery = time.Millisecond
	return w
}

func TestSignAndSendOperation(t *testing.T) {
	ctx := t.Context()
	node := newTRPC()
	w := tNewWallet(t, node, nil)
	dest := testPKH(0x77).Address()

	// Unrevealed account: the reveal is prepended.
	op, err := w.SignAndSendOperation(ctx, big.NewInt(1234), dest, nil)
	if err != nil {
		t.Fatalf("SignAndSendOperation error: %v", err)
	}
	if len(op.Contents) != 2 {
		t.Fatalf("expected reveal and transaction, got %d contents", len(op.Contents))
	}
	rv, ok := op.Contents[0].(*Reveal)
	if !ok || rv.Counter.Int64() != 6 {
		t.Fatalf("wrong reveal %+v", op.Contents[0])
	}
	tx, ok := op.Contents[1].(*BabylonTransaction)
	if !ok || tx.Counter.Int64() != 7 || tx.Amount.Int64() != 1234 || tx.Destination.Address() != dest {
		t.Fatalf("wrong transaction %+v", op.Contents[1])
	}
	if len(op.Signature) != signatureSize {
		t.Fatal("operation not signed")
	}

	// Revealed now.
	op, err = w.SignAndSendOperation(ctx, big.NewInt(1), dest, TransferCall(w.Address(), dest, big.NewInt(3)))
	if err != nil {
		t.Fatalf("SignAndSendOperation error: %v", err)
	}
	if len(op.Contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(op.Contents))
	}
	if tx := op.Contents[0].(*BabylonTransaction); tx.Counter.Int64() != 8 || tx.Parameters.Entrypoint != EntrypointTransfer {
		t.Fatalf("wrong transaction %+v", tx)
	}
	if node.injectedCount() != 2 {
		t.Fatalf("%d operations injected", node.injectedCount())
	}

	// Preapply failure aborts before injection.
	node.preapplyStatus = "failed"
	if _, err = w.SignAndSendOperation(ctx, big.NewInt(1), dest, nil); err == nil {
		t.Fatal("no error for a failed preapply")
	}
	node.preapplyStatus = StatusApplied

	// The node's forged bytes must match ours.
	node.forgeTweak = true
	if _, err = w.SignAndSendOperation(ctx, big.NewInt(1), dest, nil); err == nil {
		t.Fatal("no error for mismatched forge")
	}
	node.forgeTweak = false

	if node.injectedCount() != 2 {
		t.Fatalf("%d operations injected after failures", node.injectedCount())
	}
}

func TestSendCounterWait(t *testing.T) {
	ctx := t.Context()
	node := newTRPC()
	node.managerKey = "revealed"
	w := tNewWallet(t, node, nil)
	dest := testPKH(0x78).Address()

	// Another client used the account, so the node is ahead of us.
	node.counterJump = 3
	if _, err := w.SignAndSendOperation(ctx, big.NewInt(1), dest, nil); err != nil {
		t.Fatalf("error with a counter past ours: %v", err)
	}

	node.counterJump = 0
	node.counterStall = true
	w.counterWait = 20 * time.Millisecond
	_, err := w.SignAndSendOperation(ctx, big.NewInt(1), dest, nil)
	if !errors.Is(err, dex.ErrTimeout) {
		t.Fatalf("expected timeout for a stalled counter, got %v", err)
	}

	// The counter lock was released.
	node.counterStall = false
	if _, err := w.SignAndSendOperation(ctx, big.NewInt(1), dest, nil); err != nil {
		t.Fatalf("send after timeout: %v", err)
	}
}

func TestWaitForConfirmations(t *testing.T) {
	ctx := t.Context()
	node := newTRPC()
	w := tNewWallet(t, node, nil)
	op, err := w.SignAndSendOperation(ctx, big.NewInt(1), testPKH(1).Address(), nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := w.WaitForConfirmations(ctx, op, 1, time.Now().Add(time.Second), time.Millisecond); err != nil {
		t.Fatalf("1 confirmation: %v", err)
	}

	// Two confirmations need another block.
	go func() {
		time.Sleep(20 * time.Millisecond)
		node.mine()
	}()
	if err := w.WaitForConfirmations(ctx, op, 2, time.Now().Add(5*time.Second), time.Millisecond); err != nil {
		t.Fatalf("2 confirmations: %v", err)
	}

	err = w.WaitForConfirmations(ctx, op, 100, time.Now().Add(20*time.Millisecond), time.Millisecond)
	if !errors.Is(err, dex.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	node.inclusionStatus = "backtracked"
	err = w.WaitForConfirmations(ctx, op, 1, time.Now().Add(time.Second), time.Millisecond)
	if !errors.Is(err, errNotApplied) {
		t.Fatalf("expected not applied error, got %v", err)
	}
}

func TestCheckAndUpdateAllowance(t *testing.T) {
	ctx := t.Context()
	node := newTRPC()
	token := testContract(0x61).Address()
	w := tNewWallet(t, node, &token)

	setAccount := func(balance, allowance int64) {
		node.mtx.Lock()
		node.bigMaps[bigMapKey(token, addrValue(w.Address()))] = Pair(NewInt(balance),
			List{Elt(String(tSwapContract.String()), NewInt(allowance))})
		node.mtx.Unlock()
	}

	setAccount(1000, 500)
	if err := w.CheckAndUpdateAllowance(ctx, tSwapContract, big.NewInt(500)); err != nil {
		t.Fatal(err)
	}
	if node.injectedCount() != 0 {
		t.Fatal("approved with sufficient allowance")
	}

	if err := w.CheckAndUpdateAllowance(ctx, tSwapContract, big.NewInt(501)); err != nil {
		t.Fatal(err)
	}
	if node.injectedCount() != 1 {
		t.Fatal("no approval sent")
	}
	b, _ := hex.DecodeString(node.injected[0])
	op, _ := DecodeOperation(b)
	tx := op.Contents[len(op.Contents)-1].(*BabylonTransaction)
	if tx.Destination.Address() != token || !sameCall(tx.Parameters, ApproveCall(tSwapContract, big.NewInt(1000))) {
		t.Fatal("approval is not for the full balance")
	}

	bal, err := w.Balance(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if bal.Cmp(big.NewRat(1000, 1_000_000)) != 0 {
		t.Fatalf("wrong token balance %s", bal.RatString())
	}
}

func TestSwapPaymentsAndSpends(t *testing.T) {
	ctx := t.Context()
	node := newTRPC()
	maker := tNewWallet(t, node, nil)
	taker := tNewWallet(t, node, nil)

	uuid := encode.RandomBytes(16)
	secret := encode.RandomBytes(SecretLength)
	secretHash := SecretHashSha256.Hash(secret)
	amount := big.NewRat(3, 2)
	lockTime := uint32(time.Now().Add(time.Hour).Unix())
	startLevel, _ := maker.CurrentLevel(ctx)

	// Nothing sent yet.
	if op, err := maker.CheckIfMyPaymentSent(ctx, uuid, true, startLevel); err != nil || op != nil {
		t.Fatalf("expected no payment, got %v, %v", op, err)
	}

	payment, err := maker.SendMakerPayment(ctx, lockTime, taker.Address(), secretHash, amount, uuid)
	if err != nil {
		t.Fatal(err)
	}
	tx := payment.Contents[len(payment.Contents)-1].(*BabylonTransaction)
	if tx.Amount.Int64() != 1_500_000 {
		t.Fatalf("wrong payment amount %s", tx.Amount)
	}

	if err := taker.ValidateMakerPayment(payment, lockTime, maker.Address(), secretHash, amount, uuid); err != nil {
		t.Fatalf("valid payment rejected: %v", err)
	}
	if err := taker.ValidateMakerPayment(payment, lockTime, maker.Address(), secretHash, big.NewRat(1, 1), uuid); err == nil {
		t.Fatal("wrong amount accepted")
	}
	if err := taker.ValidateTakerPayment(payment, lockTime, maker.Address(), secretHash, amount, uuid); err == nil {
		t.Fatal("maker payment accepted as a taker payment")
	}
	if err := taker.ValidateMakerPayment(payment, lockTime, taker.Address(), secretHash, amount, uuid); err == nil {
		t.Fatal("wrong sender accepted")
	}

	makerID := TaggedSwapID(uuid, true)
	swapKey := bigMapKey(tSwapContract, Bytes(makerID))
	setState := func(state Value) {
		node.mtx.Lock()
		node.bigMaps[swapKey] = testSwapRecordHash(state, None(), secretHash, SecretHashSha256)
		node.mtx.Unlock()
	}

	if _, err := taker.SearchForSwapTxSpend(ctx, payment, startLevel); !errors.Is(err, asset.CoinNotFoundError) {
		t.Fatalf("expected not found, got %v", err)
	}

	setState(Left(Unit()))
	found, err := maker.CheckIfMyPaymentSent(ctx, uuid, true, startLevel)
	if err != nil || found == nil {
		t.Fatalf("payment not found: %v", err)
	}
	if foundTx := found.Contents[0].(*BabylonTransaction); !sameCall(foundTx.Parameters, tx.Parameters) {
		t.Fatal("found the wrong payment")
	}
	if spend, err := taker.SearchForSwapTxSpend(ctx, payment, startLevel); err != nil || spend != nil {
		t.Fatalf("initialized swap reported spent: %v, %v", spend, err)
	}

	spendOp, err := taker.SendTakerSpendsMakerPayment(ctx, payment, secret, uuid)
	if err != nil {
		t.Fatal(err)
	}
	if dest, _ := spendOp.FirstTxDestination(); dest.Address() != tSwapContract {
		t.Fatal("spend not sent to the swap contract")
	}
	setState(Right(Left(Unit())))

	spend, err := maker.SearchForSwapTxSpend(ctx, payment, startLevel)
	if err != nil {
		t.Fatal(err)
	}
	if spend == nil || spend.State != SwapReceiverSpent {
		t.Fatalf("wrong spend %+v", spend)
	}
	got, err := maker.ExtractSecret(spend.Operation)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, secret) {
		t.Fatal("wrong secret extracted")
	}

	waited, err := maker.WaitForTxSpend(ctx, payment, startLevel, time.Now().Add(time.Second))
	if err != nil || waited == nil {
		t.Fatalf("WaitForTxSpend: %v", err)
	}

	setState(Right(Right(Unit())))
	if _, err := maker.WaitForTxSpend(ctx, payment, startLevel, time.Now().Add(50*time.Millisecond)); err == nil {
		t.Fatal("refunded swap treated as spent")
	}

	if _, err := taker.SendTakerSpendsMakerPayment(ctx, payment, secret[:31], uuid); err == nil {
		t.Fatal("short secret accepted")
	}
}

func TestReceiverSpendChecksSwapRecord(t *testing.T) {
	ctx := t.Context()
	node := newTRPC()
	maker := tNewWallet(t, node, nil)
	taker := tNewWallet(t, node, nil)

	uuid := encode.RandomBytes(16)
	secret := encode.RandomBytes(SecretLength)
	secretHash := SecretHashSha256.Hash(secret)
	lockTime := uint32(time.Now().Add(time.Hour).Unix())
	payment, err := maker.SendMakerPayment(ctx, lockTime, taker.Address(), secretHash, big.NewRat(1, 1), uuid)
	if err != nil {
		t.Fatal(err)
	}
	swapKey := bigMapKey(tSwapContract, Bytes(TaggedSwapID(uuid, true)))
	setRecord := func(rec Value) {
		node.mtx.Lock()
		defer node.mtx.Unlock()
		if rec == nil {
			delete(node.bigMaps, swapKey)
			return
		}
		node.bigMaps[swapKey] = rec
	}

	tests := []struct {
		name   string
		record Value
		secret []byte
	}{{
		name:   "no record",
		secret: secret,
	}, {
		name:   "wrong secret",
		record: testSwapRecordHash(Left(Unit()), None(), secretHash, SecretHashSha256),
		secret: encode.RandomBytes(SecretLength),
	}, {
		name:   "hash algo mismatch",
		record: testSwapRecordHash(Left(Unit()), None(), secretHash, SecretHashSha512),
		secret: secret,
	}, {
		name:   "blake2b algo mismatch",
		record: testSwapRecordHash(Left(Unit()), None(), secretHash, SecretHashBlake2b256),
		secret: secret,
	}, {
		name:   "already spent",
		record: testSwapRecordHash(Right(Left(Unit())), Some(NewInt(1704171600)), secretHash, SecretHashSha256),
		secret: secret,
	}, {
		name:   "refunded",
		record: testSwapRecordHash(Right(Right(Unit())), Some(NewInt(1704171600)), secretHash, SecretHashSha256),
		secret: secret,
	}}
	for _, tt := range tests {
		setRecord(tt.record)
		before := node.injectedCount()
		if _, err := taker.SendTakerSpendsMakerPayment(ctx, payment, tt.secret, uuid); err == nil {
			t.Fatalf("%s: no error", tt.name)
		}
		if n := node.injectedCount(); n != before {
			t.Fatalf("%s: %d operations injected", tt.name, n-before)
		}
	}

	// The record's algo decides how the secret is hashed.
	blakeHash := SecretHashBlake2b256.Hash(secret)
	setRecord(testSwapRecordHash(Left(Unit()), None(), blakeHash, SecretHashBlake2b256))
	before := node.injectedCount()
	if _, err := taker.SendTakerSpendsMakerPayment(ctx, payment, secret, uuid); err != nil {
		t.Fatalf("valid blake2b spend rejected: %v", err)
	}
	if node.injectedCount() != before+1 {
		t.Fatal("valid spend not injected")
	}

	// The maker spends the taker's payment under the taker's tagged id.
	if _, err := maker.SendMakerSpendsTakerPayment(ctx, payment, secret, uuid); !errors.Is(err, asset.CoinNotFoundError) {
		t.Fatalf("expected not found for the taker-tagged id, got %v", err)
	}
}

func TestValidateFee(t *testing.T) {
	ctx := t.Context()
	node := newTRPC()
	taker := tNewWallet(t, node, nil)
	validator := tNewWallet(t, node, nil)
	feeAddr := testPKH(0x33).Address()

	feeOp, err := taker.SendTakerFee(ctx, feeAddr, big.NewRat(1, 100))
	if err != nil {
		t.Fatal(err)
	}
	if err := validator.ValidateFee(ctx, feeOp, taker.Address(), feeAddr, big.NewRat(1, 100)); err != nil {
		t.Fatalf("valid fee rejected: %v", err)
	}
	if err := validator.ValidateFee(ctx, feeOp, taker.Address(), feeAddr, big.NewRat(2, 100)); err == nil {
		t.Fatal("wrong fee amount accepted")
	}
	if err := validator.ValidateFee(ctx, feeOp, taker.Address(), testPKH(0x34).Address(), big.NewRat(1, 100)); err == nil {
		t.Fatal("wrong fee address accepted")
	}
}

func TestWithdraw(t *testing.T) {
	ctx := t.Context()
	node := newTRPC()
	node.managerKey = "edpk"
	w := tNewWallet(t, node, nil)
	to := testPKH(0x44).Address()

	signedHex, opHash, err := w.Withdraw(ctx, to, big.NewRat(1, 3))
	if err != nil {
		t.Fatal(err)
	}
	if node.injectedCount() != 0 {
		t.Fatal("withdraw injected")
	}
	b, _ := hex.DecodeString(signedHex)
	op, err := DecodeOperation(b)
	if err != nil {
		t.Fatal(err)
	}
	if h, _ := op.OpHash(); h != opHash {
		t.Fatal("wrong op hash")
	}
	tx := op.Contents[0].(*BabylonTransaction)
	if tx.Amount.Int64() != 333_333 || tx.Fee.Int64() != withdrawFee || tx.Parameters != nil {
		t.Fatalf("wrong withdraw %+v", tx)
	}
	sent, err := w.SendRawTx(ctx, signedHex)
	if err != nil || sent != opHash {
		t.Fatalf("SendRawTx: %s, %v", sent, err)
	}
}

func TestAmountConversion(t *testing.T) {
	w := &Wallet{decimals: 6}
	tests := []struct {
		amt  *big.Rat
		want int64
	}{
		{big.NewRat(1, 1), 1_000_000},
		{big.NewRat(1, 3), 333_333},
		{big.NewRat(2, 3), 666_666},
		{big.NewRat(1, 10_000_000), 0},
		{new(big.Rat), 0},
	}
	for _, tt := range tests {
		got, err := w.toAtoms(tt.amt)
		if err != nil {
			t.Fatal(err)
		}
		if got.Int64() != tt.want {
			t.Fatalf("%s converted to %s, wanted %d", tt.amt.RatString(), got, tt.want)
		}
	}
	if _, err := w.toAtoms(big.NewRat(-1, 1)); err == nil {
		t.Fatal("negative amount accepted")
	}
	if w.toCoins(big.NewInt(2_500_000)).Cmp(big.NewRat(5, 2)) != 0 {
		t.Fatal("wrong coin conversion")
	}
}

func TestTradeFee(t *testing.T) {
	node := newTRPC()
	token := testContract(0x62).Address()
	for _, w := range []*Wallet{tNewWallet(t, node, nil), tNewWallet(t, node, &token)} {
		fee := w.TradeFee()
		if fee.Coin != Ticker {
			t.Fatalf("%s fee paid in %s", w.Ticker(), fee.Coin)
		}
		if fee.Amount.Cmp(big.NewRat(1, 10)) != 0 {
			t.Fatalf("%s fee is %s", w.Ticker(), fee.Amount.RatString())
		}
	}
}
