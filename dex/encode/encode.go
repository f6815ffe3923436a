// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package encode has byte-level helpers for database keys and values.
package encode

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
)

// IntCoder is the integer byte order. It must be big-endian so that encoded
// integers sort like the integers do.
var IntCoder = binary.BigEndian

// MaxDataLen is the largest push accepted by (BuildyBytes).AddData.
const MaxDataLen = 1<<32 - 1

// longPush marks a push with a 4-byte length.
const longPush = 0xff

// Uint64Bytes converts the uint64 to a length-8, big-endian encoded byte slice.
func Uint64Bytes(i uint64) []byte {
	b := make([]byte, 8)
	IntCoder.PutUint64(b, i)
	return b
}

// RandomBytes returns a byte slice with the specified length of random bytes.
func RandomBytes(len int) []byte {
	bytes := make([]byte, len)
	_, err := rand.Read(bytes)
	if err != nil {
		panic("error reading random bytes: " + err.Error())
	}
	return bytes
}

// BuildyBytes is a byte-slice with an AddData method for building linearly
// encoded 2D byte slices. A "versioned blob" is a BuildyBytes started with a
// single version byte:
//
//	b := BuildyBytes{version}.AddData(data1).AddData(data2)
//
// The blob is decoded with DecodeBlob.
type BuildyBytes []byte

// AddData adds a push of d, and returns the new BuildyBytes. Pushes shorter
// than 255 bytes have a 1-byte length. Longer pushes are 0xff followed by a
// 4-byte length.
func (b BuildyBytes) AddData(d []byte) BuildyBytes {
	if len(d) < longPush {
		b = append(b, byte(len(d)))
		return append(b, d...)
	}
	if uint64(len(d)) > MaxDataLen {
		panic(fmt.Sprintf("push of %d bytes is too long", len(d)))
	}
	b = append(b, longPush)
	b = IntCoder.AppendUint32(b, uint32(len(d)))
	return append(b, d...)
}

// ExtractPushes parses the linearly-encoded 2D byte slice into a slice of
// slices. Empty pushes are nil slices.
func ExtractPushes(b []byte) ([][]byte, error) {
	var pushes [][]byte
	for len(b) > 0 {
		l := int(b[0])
		b = b[1:]
		if l == longPush {
			if len(b) < 4 {
				return nil, errors.New("4 bytes not available for data length")
			}
			l = int(IntCoder.Uint32(b))
			b = b[4:]
		}
		if len(b) < l {
			return nil, fmt.Errorf("data too short for pop of %d bytes", l)
		}
		if l == 0 {
			pushes = append(pushes, nil)
			continue
		}
		pushes = append(pushes, b[:l])
		b = b[l:]
	}
	return pushes, nil
}

// DecodeBlob decodes a versioned blob into its version and the pushes extracted
// from its data. Empty pushes will be nil.
func DecodeBlob(b []byte) (byte, [][]byte, error) {
	if len(b) == 0 {
		return 0, nil, errors.New("zero length blob not allowed")
	}
	pushes, err := ExtractPushes(b[1:])
	return b[0], pushes, err
}
