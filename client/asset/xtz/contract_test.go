package xtz

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"math/big"
	"testing"
	"time"

	"decred.org/mmswap/dex/encode"
)

func TestTaggedSwapID(t *testing.T) {
	uuid := encode.RandomBytes(16)
	maker, taker := TaggedSwapID(uuid, true), TaggedSwapID(uuid, false)
	if len(maker) != 17 || maker[16] != 0 || taker[16] != 1 {
		t.Fatalf("wrong tags %x %x", maker, taker)
	}
	if !bytes.Equal(maker[:16], uuid) || !bytes.Equal(taker[:16], uuid) {
		t.Fatal("uuid not preserved")
	}
	maker[0]++
	if maker[0] == uuid[0] {
		t.Fatal("tagged id shares memory with the uuid")
	}
}

func TestCallBuilders(t *testing.T) {
	receiver := testPKH(5).Address()
	token := testContract(6).Address()
	id, secretHash := encode.RandomBytes(17), encode.RandomBytes(32)

	p := InitErcSwapCall(id, 1700000000, secretHash, SecretHashSha512, receiver, big.NewInt(100), token)
	if p.Entrypoint != EntrypointInitErcSwap {
		t.Fatalf("wrong entrypoint %s", p.Entrypoint)
	}
	args := FlattenArgs(p.Value)
	if len(args) != 7 {
		t.Fatalf("%d args", len(args))
	}
	if !ValuesEqual(args[0], Bytes(id)) {
		t.Fatal("wrong id arg")
	}
	if !ValuesEqual(args[1], String("2023-11-14T22:13:20Z")) {
		t.Fatalf("wrong lock time arg %v", args[1])
	}
	if algo, err := ParseSecretHashAlgo(args[3]); err != nil || algo != SecretHashSha512 {
		t.Fatalf("wrong algo %v, %v", algo, err)
	}
	if !ValuesEqual(args[4], String(receiver.String())) || !ValuesEqual(args[6], String(token.String())) {
		t.Fatal("wrong address args")
	}
	if !ValuesEqual(args[5], NewInt(100)) {
		t.Fatal("wrong amount arg")
	}

	for _, algo := range []SecretHashAlgo{SecretHashSha256, SecretHashSha512, SecretHashBlake2b256} {
		got, err := ParseSecretHashAlgo(algo.Value())
		if err != nil || got != algo {
			t.Fatalf("%s round trip gave %s, %v", algo, got, err)
		}
	}
	secret := encode.RandomBytes(32)
	if h := sha256.Sum256(secret); !bytes.Equal(SecretHashSha256.Hash(secret), h[:]) {
		t.Fatal("wrong sha256 secret hash")
	}
	if len(SecretHashSha512.Hash(secret)) != 64 || len(SecretHashBlake2b256.Hash(secret)) != 32 {
		t.Fatal("wrong secret hash lengths")
	}

	tr := TransferCall(receiver, token, big.NewInt(7))
	if tr.Entrypoint != EntrypointTransfer || len(FlattenArgs(tr.Value)) != 3 {
		t.Fatal("wrong transfer call")
	}
	if ap := ApproveCall(receiver, big.NewInt(7)); ap.Entrypoint != EntrypointApprove || len(FlattenArgs(ap.Value)) != 2 {
		t.Fatal("wrong approve call")
	}
	if rf := SenderRefundsCall(id, receiver); rf.Entrypoint != EntrypointSenderRefunds || len(FlattenArgs(rf.Value)) != 2 {
		t.Fatal("wrong refund call")
	}
}

func TestExtractSecret(t *testing.T) {
	id, secret := encode.RandomBytes(17), encode.RandomBytes(32)
	sendTo := testPKH(8).Address()

	babylon := &Operation{Contents: []Content{testBabylonTx(ReceiverSpendsCall(id, secret, sendTo))}}
	got, err := ExtractSecret(babylon)
	if err != nil {
		t.Fatalf("babylon: %v", err)
	}
	if !bytes.Equal(got, secret) {
		t.Fatal("babylon: wrong secret")
	}

	legacy := &Operation{Contents: []Content{testLegacyTx(CallArgs(pathReceiverSpends, Bytes(id), Bytes(secret), String(sendTo.String())))}}
	if got, err = ExtractSecret(legacy); err != nil || !bytes.Equal(got, secret) {
		t.Fatalf("legacy: %x, %v", got, err)
	}

	for name, op := range map[string]*Operation{
		"refund path": {Contents: []Content{testLegacyTx(CallArgs(pathSenderRefunds, Bytes(id), String(sendTo.String())))}},
		"no params":   {Contents: []Content{testBabylonTx(nil)}},
		"reveal":      {Contents: []Content{testReveal()}},
		"empty":       {},
		"one arg":     {Contents: []Content{testBabylonTx(&Parameters{Entrypoint: EntrypointReceiverSpends, Value: Bytes(id)})}},
	} {
		if _, err := ExtractSecret(op); !errors.Is(err, ErrNoSecret) {
			t.Fatalf("%s: expected ErrNoSecret, got %v", name, err)
		}
	}
}

func testSwapRecord(state Value, spentAt Value) Value {
	return testSwapRecordHash(state, spentAt, bytes.Repeat([]byte{3}, 32), SecretHashSha256)
}

func testSwapRecordHash(state, spentAt Value, secretHash []byte, algo SecretHashAlgo) Value {
	return FoldArgs(
		NewInt(1000),
		NewInt(0),
		None(),
		String("2024-01-02T03:04:05Z"),
		NewInt(1704168245),
		String(testPKH(1).Address().String()),
		Bytes(secretHash),
		algo.Value(),
		String(testPKH(2).Address().String()),
		spentAt,
		state,
		Bytes([]byte{9, 9, 0}),
	)
}

func TestParseAtomicSwap(t *testing.T) {
	tests := []struct {
		name    string
		state   Value
		spentAt Value
		want    SwapState
		spent   bool
	}{
		{"initialized", Left(Unit()), None(), SwapInitialized, false},
		{"spent", Right(Left(Unit())), Some(String("2024-01-02T04:00:00Z")), SwapReceiverSpent, true},
		{"refunded", Right(Right(Unit())), Some(NewInt(1704171600)), SwapSenderRefunded, true},
	}
	for _, tt := range tests {
		s, err := ParseAtomicSwap(testSwapRecord(tt.state, tt.spentAt))
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if s.State != tt.want {
			t.Fatalf("%s: state %s", tt.name, s.State)
		}
		if (s.SpentAt != nil) != tt.spent {
			t.Fatalf("%s: spent at %v", tt.name, s.SpentAt)
		}
		if s.Amount.Int64() != 1000 || s.ContractAddress != nil {
			t.Fatalf("%s: wrong amount fields", tt.name)
		}
		if !s.LockTime.Equal(time.Unix(1704168245, 0)) || !s.CreatedAt.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)) {
			t.Fatalf("%s: wrong times %s, %s", tt.name, s.CreatedAt, s.LockTime)
		}
		if s.Receiver != testPKH(1).Address() || s.Sender != testPKH(2).Address() {
			t.Fatalf("%s: wrong addresses", tt.name)
		}
		if !bytes.Equal(s.UUID, []byte{9, 9, 0}) {
			t.Fatalf("%s: wrong uuid", tt.name)
		}
	}

	if _, err := ParseAtomicSwap(FoldArgs(NewInt(1), NewInt(2))); err == nil {
		t.Fatal("no error for a short record")
	}
}

func TestParseTokenAccount(t *testing.T) {
	spender := testContract(7).Address()
	v := Pair(NewInt(500), List{Elt(String(spender.String()), NewInt(20))})
	acct, err := ParseTokenAccount(v)
	if err != nil {
		t.Fatal(err)
	}
	if acct.Balance.Int64() != 500 || acct.Allowance(spender).Int64() != 20 {
		t.Fatalf("wrong account %v %v", acct.Balance, acct.Allowances)
	}
	if acct.Allowance(testContract(8).Address()).Sign() != 0 {
		t.Fatal("unknown spender should have no allowance")
	}

	storage := FoldArgs(NewInt(31), String(testPKH(1).Address().String()), Bool(true), NewInt(1_000_000))
	ts, err := ParseTokenStorage(storage)
	if err != nil {
		t.Fatal(err)
	}
	if ts.Accounts.Int64() != 31 || !ts.IsPaused || ts.TotalSupply.Int64() != 1_000_000 {
		t.Fatalf("wrong storage %+v", ts)
	}
}
