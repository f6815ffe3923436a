// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package xtz

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"
)

// ErrMalformed is wrapped by every decoding error in this package.
var ErrMalformed = errors.New("malformed data")

// maxZarithBytes bounds the length of a decoded zarith number. No amount or
// counter on chain comes close.
const maxZarithBytes = 128

var (
	big64  = big.NewInt(64)
	big128 = big.NewInt(128)
)

// Reader is a cursor over a byte slice. Mark and Reset allow a decoder to
// attempt a parse and rewind on failure.
type Reader struct {
	b   []byte
	pos int
}

// NewReader creates a Reader for b.
func NewReader(b []byte) *Reader {
	return &Reader{b: b}
}

// Mark returns the current position.
func (r *Reader) Mark() int {
	return r.pos
}

// Reset rewinds the reader to a position returned by Mark.
func (r *Reader) Reset(mark int) {
	r.pos = mark
}

// Len is the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.b) - r.pos
}

// Remaining returns the unread bytes without consuming them.
func (r *Reader) Remaining() []byte {
	return r.b[r.pos:]
}

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, io.ErrUnexpectedEOF)
	}
	b := r.b[r.pos]
	r.pos++
	return b, nil
}

// ReadBytes reads n bytes. The returned slice is a copy.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.Len() < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrMalformed, n, r.Len())
	}
	b := make([]byte, n)
	copy(b, r.b[r.pos:r.pos+n])
	r.pos += n
	return b, nil
}

// ReadUint32 reads a big-endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// EncodeZarithUint encodes a non-negative integer as little-endian groups of
// seven bits, with the high bit of every byte but the last set.
func EncodeZarithUint(n *big.Int) ([]byte, error) {
	if n.Sign() < 0 {
		return nil, fmt.Errorf("cannot encode negative number %s as an unsigned zarith", n)
	}
	num := new(big.Int).Set(n)
	rem := new(big.Int)
	var b []byte
	for {
		num.QuoRem(num, big128, rem)
		v := byte(rem.Uint64())
		if num.Sign() == 0 {
			return append(b, v), nil
		}
		b = append(b, v|0x80)
	}
}

// EncodeZarithInt encodes a signed integer. The first byte carries six value
// bits and a sign flag at bit 6. Subsequent bytes carry seven value bits.
func EncodeZarithInt(n *big.Int) []byte {
	num := new(big.Int).Abs(n)
	rem := new(big.Int)
	var b []byte
	divisor := big64
	for {
		num.QuoRem(num, divisor, rem)
		v := byte(rem.Uint64())
		if divisor == big64 && n.Sign() < 0 {
			v |= 0x40
		}
		if num.Sign() == 0 {
			return append(b, v)
		}
		b = append(b, v|0x80)
		divisor = big128
	}
}

// DecodeZarithUint reads an unsigned zarith number.
func DecodeZarithUint(r *Reader) (*big.Int, error) {
	n := new(big.Int)
	var shift uint
	for i := 0; ; i++ {
		if i >= maxZarithBytes {
			return nil, fmt.Errorf("%w: zarith number too long", ErrMalformed)
		}
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		n.Or(n, new(big.Int).Lsh(big.NewInt(int64(b&0x7f)), shift))
		shift += 7
		if b&0x80 == 0 {
			if i > 0 && b == 0 {
				return nil, fmt.Errorf("%w: non-canonical zarith number", ErrMalformed)
			}
			return n, nil
		}
	}
}

// DecodeZarithInt reads a signed zarith number.
func DecodeZarithInt(r *Reader) (*big.Int, error) {
	n := new(big.Int)
	var shift uint
	var negative bool
	for i := 0; ; i++ {
		if i >= maxZarithBytes {
			return nil, fmt.Errorf("%w: zarith number too long", ErrMalformed)
		}
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		var v byte
		if i == 0 {
			negative = b&0x40 != 0
			v = b & 0x3f
		} else {
			v = b & 0x7f
		}
		n.Or(n, new(big.Int).Lsh(big.NewInt(int64(v)), shift))
		if i == 0 {
			shift += 6
		} else {
			shift += 7
		}
		if b&0x80 == 0 {
			if i > 0 && b == 0 {
				return nil, fmt.Errorf("%w: non-canonical zarith number", ErrMalformed)
			}
			break
		}
	}
	if negative && n.Sign() == 0 {
		return nil, fmt.Errorf("%w: negative zero", ErrMalformed)
	}
	if negative {
		n.Neg(n)
	}
	return n, nil
}
