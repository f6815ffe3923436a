// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package mpt

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	nodeEmpty  byte = 0
	nodeLeaf   byte = 1
	nodeExt    byte = 2
	nodeBranch byte = 3
)

// maxKeyNibbles bounds the decoded key path so that adversarial proofs can't
// force huge allocations.
const maxKeyNibbles = 512

var errCorruptNode = errors.New("corrupt trie node")

type node any

type leafNode struct {
	path  []byte // nibbles
	value []byte
}

type extNode struct {
	path  []byte // nibbles
	child Hash
}

type branchNode struct {
	children [16]Hash
	value    []byte // nil when absent
}

func encodeEmpty() []byte {
	return []byte{nodeEmpty}
}

func appendPath(b, path []byte) []byte {
	b = binary.AppendUvarint(b, uint64(len(path)))
	// Two nibbles per byte. An odd final nibble is stored in the high half.
	for i := 0; i < len(path); i += 2 {
		v := path[i] << 4
		if i+1 < len(path) {
			v |= path[i+1]
		}
		b = append(b, v)
	}
	return b
}

func encodeNode(n node) []byte {
	switch nt := n.(type) {
	case *leafNode:
		b := appendPath([]byte{nodeLeaf}, nt.path)
		b = binary.AppendUvarint(b, uint64(len(nt.value)))
		return append(b, nt.value...)
	case *extNode:
		b := appendPath([]byte{nodeExt}, nt.path)
		return append(b, nt.child[:]...)
	case *branchNode:
		var bitmap uint16
		for i, c := range nt.children {
			if !c.IsZero() {
				bitmap |= 1 << i
			}
		}
		b := []byte{nodeBranch, byte(bitmap >> 8), byte(bitmap)}
		for _, c := range nt.children {
			if !c.IsZero() {
				b = append(b, c[:]...)
			}
		}
		if nt.value == nil {
			return append(b, 0)
		}
		b = append(b, 1)
		b = binary.AppendUvarint(b, uint64(len(nt.value)))
		return append(b, nt.value...)
	}
	return encodeEmpty()
}

type nodeReader struct {
	b []byte
}

func (r *nodeReader) byte() (byte, error) {
	if len(r.b) == 0 {
		return 0, errCorruptNode
	}
	v := r.b[0]
	r.b = r.b[1:]
	return v, nil
}

func (r *nodeReader) bytes(n uint64) ([]byte, error) {
	if uint64(len(r.b)) < n {
		return nil, errCorruptNode
	}
	v := r.b[:n]
	r.b = r.b[n:]
	return v, nil
}

func (r *nodeReader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.b)
	if n <= 0 {
		return 0, errCorruptNode
	}
	r.b = r.b[n:]
	return v, nil
}

func (r *nodeReader) path() ([]byte, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if n > maxKeyNibbles {
		return nil, fmt.Errorf("%w: path of %d nibbles", errCorruptNode, n)
	}
	packed, err := r.bytes((n + 1) / 2)
	if err != nil {
		return nil, err
	}
	path := make([]byte, n)
	for i := range path {
		if i%2 == 0 {
			path[i] = packed[i/2] >> 4
		} else {
			path[i] = packed[i/2] & 0x0f
		}
	}
	return path, nil
}

func (r *nodeReader) hash() (h Hash, err error) {
	b, err := r.bytes(HashSize)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

func decodeNode(b []byte) (node, error) {
	r := &nodeReader{b: b}
	typ, err := r.byte()
	if err != nil {
		return nil, err
	}
	var n node
	switch typ {
	case nodeEmpty:
		n = nil
	case nodeLeaf:
		leaf := new(leafNode)
		if leaf.path, err = r.path(); err != nil {
			return nil, err
		}
		vLen, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		v, err := r.bytes(vLen)
		if err != nil {
			return nil, err
		}
		leaf.value = append([]byte{}, v...)
		n = leaf
	case nodeExt:
		ext := new(extNode)
		if ext.path, err = r.path(); err != nil {
			return nil, err
		}
		if len(ext.path) == 0 {
			return nil, fmt.Errorf("%w: empty extension", errCorruptNode)
		}
		if ext.child, err = r.hash(); err != nil {
			return nil, err
		}
		n = ext
	case nodeBranch:
		br := new(branchNode)
		hi, err := r.byte()
		if err != nil {
			return nil, err
		}
		lo, err := r.byte()
		if err != nil {
			return nil, err
		}
		bitmap := uint16(hi)<<8 | uint16(lo)
		for i := range br.children {
			if bitmap&(1<<i) == 0 {
				continue
			}
			if br.children[i], err = r.hash(); err != nil {
				return nil, err
			}
		}
		hasValue, err := r.byte()
		if err != nil {
			return nil, err
		}
		if hasValue == 1 {
			vLen, err := r.uvarint()
			if err != nil {
				return nil, err
			}
			v, err := r.bytes(vLen)
			if err != nil {
				return nil, err
			}
			br.value = append([]byte{}, v...)
		}
		n = br
	default:
		return nil, fmt.Errorf("%w: unknown node type %d", errCorruptNode, typ)
	}
	if len(r.b) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", errCorruptNode, len(r.b))
	}
	return n, nil
}

func keyToNibbles(k []byte) []byte {
	nibbles := make([]byte, len(k)*2)
	for i, b := range k {
		nibbles[i*2] = b >> 4
		nibbles[i*2+1] = b & 0x0f
	}
	return nibbles
}

func nibblesToKey(nibbles []byte) []byte {
	k := make([]byte, len(nibbles)/2)
	for i := range k {
		k[i] = nibbles[i*2]<<4 | nibbles[i*2+1]
	}
	return k
}

func commonPrefix(a, b []byte) int {
	i := 0
	for i < len(a) && i < len(b) && a[i] == b[i] {
		i++
	}
	return i
}

func concat(parts ...[]byte) []byte {
	var n int
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
