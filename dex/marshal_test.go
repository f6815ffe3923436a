// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package dex

import (
	"encoding/json"
	"math/big"
	"testing"
)

func TestBytes_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		encHex  string
		wantErr bool
	}{
		{
			name:    "ok",
			encHex:  `"0f0e"`,
			wantErr: false,
		},
		{
			name:    "odd, 1",
			encHex:  `"f"`,
			wantErr: true,
		},
		{
			name:    "odd, 3",
			encHex:  `"fff"`,
			wantErr: true,
		},
		{
			name:    "bad hex",
			encHex:  `"adsf"`, // s not valid hex
			wantErr: true,
		},
		{
			name:    "too short",
			encHex:  `2`,
			wantErr: true,
		},
		{
			name:    "ok empty",
			encHex:  `""`,
			wantErr: false,
		},
		{
			name: "not quoted (also invalid hex to demo error printing)",
			encHex: `abc
			abc`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := new(Bytes)
			err := b.UnmarshalJSON([]byte(tt.encHex))
			if (err != nil) != tt.wantErr {
				t.Errorf("Bytes.UnmarshalJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRational(t *testing.T) {
	for _, s := range []string{"1/3", "0.5", "7", "-2/4", "0"} {
		r, err := RatFromString(s)
		if err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		q := NewRational(r)
		b, err := json.Marshal(q)
		if err != nil {
			t.Fatal(err)
		}
		back := new(Rational)
		if err := json.Unmarshal(b, back); err != nil {
			t.Fatalf("%s: %v", b, err)
		}
		if back.Cmp(r) != 0 {
			t.Fatalf("%s round tripped to %s", s, back.Big())
		}
		bin, _ := q.MarshalBinary()
		back = new(Rational)
		if err := back.UnmarshalBinary(bin); err != nil || back.Cmp(r) != 0 {
			t.Fatalf("%s binary round trip failed: %v", s, err)
		}
	}
	if string(mustMarshal(t, NewRational(big.NewRat(2, 4)))) != `"1/2"` {
		t.Fatal("not reduced")
	}
	if _, err := RatFromString("1/0"); err == nil {
		t.Fatal("no error for a zero denominator")
	}
	if NewRational(nil).Sign() != 0 {
		t.Fatal("nil is not zero")
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestRationalJSONForms(t *testing.T) {
	tests := []struct {
		in      string
		want    *big.Rat
		wantErr bool
	}{
		{`"0.25"`, big.NewRat(1, 4), false},
		{`"3/9"`, big.NewRat(1, 3), false},
		{`1.5`, big.NewRat(3, 2), false},
		{`1e-8`, big.NewRat(1, 100_000_000), false},
		{` 12 `, big.NewRat(12, 1), false},
		{`{"numer":"2","denom":"6"}`, big.NewRat(1, 3), false},
		{`{"numer":"2","denom":"0"}`, nil, true},
		{`{"numer":"x","denom":"1"}`, nil, true},
		{`"abc"`, nil, true},
		{`true`, nil, true},
	}
	for _, tt := range tests {
		q := new(Rational)
		err := json.Unmarshal([]byte(tt.in), q)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%s: wanted error %t, got %v", tt.in, tt.wantErr, err)
		}
		if err == nil && q.Cmp(tt.want) != 0 {
			t.Fatalf("%s: wanted %s, got %s", tt.in, tt.want, q.Big())
		}
	}
}
