// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package dex

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Bytes is a byte slice that marshals to and unmarshals from a hexadecimal
// string. The default go behavior is to marshal []byte to a base-64 string.
type Bytes []byte

// String return the hex encoding of the Bytes.
func (b Bytes) String() string {
	return hex.EncodeToString(b)
}

// MarshalJSON satisfies the json.Marshaller interface, and will marshal the
// bytes to a hex string.
func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(b))
}

// UnmarshalJSON satisfies the json.Unmarshaler interface, and expects a UTF-8
// encoding of a hex string.
func (b *Bytes) UnmarshalJSON(encHex []byte) (err error) {
	if len(encHex) < 2 {
		return fmt.Errorf("marshalled Bytes, '%s', not valid", string(encHex))
	}
	*b, err = hex.DecodeString(string(encHex[1 : len(encHex)-1]))
	return err
}

// Rational is an exact rational number. It serializes as the "num/denom"
// string of the reduced fraction, both as JSON and through
// encoding.BinaryMarshaler, which binary codecs such as MessagePack use.
type Rational struct {
	big.Rat
}

// NewRational copies r into a new Rational. A nil r gives zero.
func NewRational(r *big.Rat) *Rational {
	q := new(Rational)
	if r != nil {
		q.Set(r)
	}
	return q
}

// RatFromString parses "a/b", "a" or a decimal string like "0.5".
func RatFromString(s string) (*big.Rat, error) {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("invalid rational %q", s)
	}
	return r, nil
}

// Big returns a copy of the value as a *big.Rat.
func (q *Rational) Big() *big.Rat {
	if q == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(&q.Rat)
}

// MarshalBinary satisfies encoding.BinaryMarshaler.
func (q *Rational) MarshalBinary() ([]byte, error) {
	return []byte(q.Rat.String()), nil
}

// UnmarshalBinary satisfies encoding.BinaryUnmarshaler.
func (q *Rational) UnmarshalBinary(b []byte) error {
	r, err := RatFromString(string(b))
	if err != nil {
		return err
	}
	q.Set(r)
	return nil
}

// MarshalJSON encodes the Rational as a JSON string.
func (q *Rational) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.Rat.String())
}

// UnmarshalJSON accepts the string forms of RatFromString, a bare JSON
// number, or a {"numer": "1", "denom": "3"} fraction object.
func (q *Rational) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return errors.New("empty rational")
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		return q.UnmarshalBinary([]byte(s))
	case '{':
		var f struct {
			Numer string `json:"numer"`
			Denom string `json:"denom"`
		}
		if err := json.Unmarshal(b, &f); err != nil {
			return err
		}
		num, ok := new(big.Int).SetString(f.Numer, 10)
		if !ok {
			return fmt.Errorf("invalid numerator %q", f.Numer)
		}
		den, ok := new(big.Int).SetString(f.Denom, 10)
		if !ok || den.Sign() == 0 {
			return fmt.Errorf("invalid denominator %q", f.Denom)
		}
		q.SetFrac(num, den)
		return nil
	}
	d, err := decimal.NewFromString(string(b))
	if err != nil {
		return fmt.Errorf("invalid rational %s: %w", b, err)
	}
	q.Set(d.Rat())
	return nil
}
