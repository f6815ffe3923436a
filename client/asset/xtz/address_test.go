package xtz

import (
	"bytes"
	"strings"
	"testing"

	"decred.org/mmswap/dex/encode"
)

func TestAddresses(t *testing.T) {
	tests := []struct {
		pk     *PublicKey
		prefix string
	}{
		{&PublicKey{Curve: CurveEd25519, Key: encode.RandomBytes(32)}, "tz1"},
		{&PublicKey{Curve: CurveSecp256k1, Key: append([]byte{2}, encode.RandomBytes(32)...)}, "tz2"},
		{&PublicKey{Curve: CurveP256, Key: append([]byte{3}, encode.RandomBytes(32)...)}, "tz3"},
	}
	for _, tt := range tests {
		addr, err := AddressFromPubKey(tt.pk)
		if err != nil {
			t.Fatal(err)
		}
		s := addr.String()
		if !strings.HasPrefix(s, tt.prefix) || len(s) != 36 {
			t.Fatalf("unexpected address %q", s)
		}
		back, err := ParseAddress(s)
		if err != nil {
			t.Fatalf("error parsing %s: %v", s, err)
		}
		if back != addr || back.IsOriginated() {
			t.Fatalf("%s did not round trip", s)
		}
		id, err := ContractIDFromAddress(addr)
		if err != nil {
			t.Fatal(err)
		}
		dec, err := DecodeContractID(id.encode(nil))
		if err != nil || dec.Address() != addr {
			t.Fatalf("contract id round trip failed: %v", err)
		}

		pkStr := tt.pk.String()
		pk, err := ParsePublicKey(pkStr)
		if err != nil {
			t.Fatalf("error parsing %s: %v", pkStr, err)
		}
		if pk.Curve != tt.pk.Curve || !bytes.Equal(pk.Key, tt.pk.Key) {
			t.Fatalf("%s did not round trip", pkStr)
		}
	}

	kt := testContract(0x42).Address()
	if s := kt.String(); !strings.HasPrefix(s, "KT1") {
		t.Fatalf("unexpected contract address %q", s)
	}
	if !kt.IsOriginated() {
		t.Fatal("KT1 not originated")
	}

	s := kt.String()
	corrupt := s[:10] + string(rune(s[10]^1)) + s[11:]
	if _, err := ParseAddress(corrupt); err == nil {
		t.Fatal("no error for a bad checksum")
	}
	if _, err := DecodeContractID(append([]byte{1}, make([]byte, 20)...)); err == nil {
		t.Fatal("no error for a short originated id")
	}
	padded := append(append([]byte{1}, make([]byte, 20)...), 1)
	if _, err := DecodeContractID(padded); err == nil {
		t.Fatal("no error for non-zero padding")
	}
}

func TestEntrypointEncoding(t *testing.T) {
	for _, ep := range []Entrypoint{EntrypointDefault, EntrypointDo, EntrypointRemoveDelegate, "init_tezos_swap"} {
		b, err := ep.encode(nil)
		if err != nil {
			t.Fatal(err)
		}
		got, err := readEntrypoint(NewReader(b))
		if err != nil || got != ep {
			t.Fatalf("%s round trip gave %q, %v", ep, got, err)
		}
	}
	if b, _ := EntrypointRoot.encode(nil); !bytes.Equal(b, []byte{1}) {
		t.Fatalf("root encoded to %x", b)
	}
	if _, err := readEntrypoint(NewReader([]byte{255, 4, 'r', 'o', 'o', 't'})); err == nil {
		t.Fatal("no error for a reserved name in the long form")
	}
	if _, err := Entrypoint(strings.Repeat("a", 256)).encode(nil); err == nil {
		t.Fatal("no error for a long entrypoint")
	}
}
