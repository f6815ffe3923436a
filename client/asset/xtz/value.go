// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package xtz

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
	"unicode/utf8"
)

// Value is a Michelson data value in its binary form. The concrete types are
// *Int, String, Bytes, List and *Prim.
type Value interface {
	encode(b []byte) []byte
}

// Int is an arbitrary precision integer value.
type Int struct {
	*big.Int
}

// NewInt creates an Int value.
func NewInt(i int64) *Int {
	return &Int{big.NewInt(i)}
}

// String is a UTF-8 string value.
type String string

// Bytes is a byte string value.
type Bytes []byte

// List is a sequence of values.
type List []Value

// PrimKind identifies a primitive application.
type PrimKind byte

// Primitive kinds. The numeric values are the sub-tags of the binary
// encoding.
const (
	PrimFalse PrimKind = 3
	PrimElt   PrimKind = 4
	PrimLeft  PrimKind = 5
	PrimNone  PrimKind = 6
	PrimPair  PrimKind = 7
	PrimRight PrimKind = 8
	PrimSome  PrimKind = 9
	PrimTrue  PrimKind = 10
	PrimUnit  PrimKind = 11
)

func (k PrimKind) String() string {
	switch k {
	case PrimFalse:
		return "False"
	case PrimElt:
		return "Elt"
	case PrimLeft:
		return "Left"
	case PrimNone:
		return "None"
	case PrimPair:
		return "Pair"
	case PrimRight:
		return "Right"
	case PrimSome:
		return "Some"
	case PrimTrue:
		return "True"
	case PrimUnit:
		return "Unit"
	}
	return fmt.Sprintf("PrimKind(%d)", byte(k))
}

func (k PrimKind) arity() int {
	switch k {
	case PrimPair, PrimElt:
		return 2
	case PrimLeft, PrimRight, PrimSome:
		return 1
	}
	return 0
}

// Prim is a primitive applied to zero, one or two arguments.
type Prim struct {
	Kind PrimKind
	Args []Value
}

// Value tags.
const (
	tagInt       byte = 0
	tagString    byte = 1
	tagList      byte = 2
	tagPrim0     byte = 3
	tagPrim1     byte = 5
	tagPrim2     byte = 7
	tagBytes     byte = 10
	maxValueSize      = 1 << 24
)

// Convenience constructors.

func Pair(a, b Value) *Prim  { return &Prim{Kind: PrimPair, Args: []Value{a, b}} }
func Elt(k, v Value) *Prim   { return &Prim{Kind: PrimElt, Args: []Value{k, v}} }
func Left(v Value) *Prim     { return &Prim{Kind: PrimLeft, Args: []Value{v}} }
func Right(v Value) *Prim    { return &Prim{Kind: PrimRight, Args: []Value{v}} }
func Some(v Value) *Prim     { return &Prim{Kind: PrimSome, Args: []Value{v}} }
func Unit() *Prim            { return &Prim{Kind: PrimUnit} }
func None() *Prim            { return &Prim{Kind: PrimNone} }
func Bool(b bool) *Prim {
	if b {
		return &Prim{Kind: PrimTrue}
	}
	return &Prim{Kind: PrimFalse}
}

func (v *Int) encode(b []byte) []byte {
	return append(append(b, tagInt), EncodeZarithInt(v.Int)...)
}

func (v String) encode(b []byte) []byte {
	b = append(b, tagString)
	b = binary.BigEndian.AppendUint32(b, uint32(len(v)))
	return append(b, v...)
}

func (v Bytes) encode(b []byte) []byte {
	b = append(b, tagBytes)
	b = binary.BigEndian.AppendUint32(b, uint32(len(v)))
	return append(b, v...)
}

func (v List) encode(b []byte) []byte {
	var items []byte
	for _, item := range v {
		items = item.encode(items)
	}
	b = append(b, tagList)
	b = binary.BigEndian.AppendUint32(b, uint32(len(items)))
	return append(b, items...)
}

func (v *Prim) encode(b []byte) []byte {
	switch v.Kind.arity() {
	case 0:
		return append(b, tagPrim0, byte(v.Kind))
	case 1:
		b = append(b, tagPrim1, byte(v.Kind))
		return v.Args[0].encode(b)
	default:
		b = append(b, tagPrim2, byte(v.Kind))
		b = v.Args[0].encode(b)
		return v.Args[1].encode(b)
	}
}

// EncodeValue serializes the value.
func EncodeValue(v Value) []byte {
	return v.encode(nil)
}

// DecodeValue deserializes a value that must span all of b.
func DecodeValue(b []byte) (Value, error) {
	r := NewReader(b)
	v, err := ReadValue(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d unread bytes after value", ErrMalformed, r.Len())
	}
	return v, nil
}

// ReadValue reads the next value from the reader.
func ReadValue(r *Reader) (Value, error) {
	return readValue(r, 0)
}

// maxValueDepth keeps adversarial nesting from exhausting the stack.
const maxValueDepth = 512

func readLengthPrefixed(r *Reader) ([]byte, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if n > maxValueSize {
		return nil, fmt.Errorf("%w: length %d too large", ErrMalformed, n)
	}
	return r.ReadBytes(int(n))
}

func readValue(r *Reader, depth int) (Value, error) {
	if depth > maxValueDepth {
		return nil, fmt.Errorf("%w: value nested too deeply", ErrMalformed)
	}
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagInt:
		i, err := DecodeZarithInt(r)
		if err != nil {
			return nil, err
		}
		return &Int{i}, nil
	case tagString:
		b, err := readLengthPrefixed(r)
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(b) {
			return nil, fmt.Errorf("%w: string is not valid UTF-8", ErrMalformed)
		}
		return String(b), nil
	case tagBytes:
		b, err := readLengthPrefixed(r)
		if err != nil {
			return nil, err
		}
		return Bytes(b), nil
	case tagList:
		b, err := readLengthPrefixed(r)
		if err != nil {
			return nil, err
		}
		lr := NewReader(b)
		list := List{}
		for lr.Len() > 0 {
			item, err := readValue(lr, depth+1)
			if err != nil {
				return nil, err
			}
			list = append(list, item)
		}
		return list, nil
	case tagPrim0, tagPrim1, tagPrim2:
		sub, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		kind := PrimKind(sub)
		var arity int
		switch {
		case tag == tagPrim0 && (kind == PrimFalse || kind == PrimNone || kind == PrimTrue || kind == PrimUnit):
			arity = 0
		case tag == tagPrim1 && (kind == PrimLeft || kind == PrimRight || kind == PrimSome):
			arity = 1
		case tag == tagPrim2 && (kind == PrimPair || kind == PrimElt):
			arity = 2
		default:
			return nil, fmt.Errorf("%w: unsupported tag %d and sub-tag %d combination", ErrMalformed, tag, sub)
		}
		p := &Prim{Kind: kind}
		for i := 0; i < arity; i++ {
			arg, err := readValue(r, depth+1)
			if err != nil {
				return nil, err
			}
			p.Args = append(p.Args, arg)
		}
		return p, nil
	}
	return nil, fmt.Errorf("%w: unsupported value tag %d", ErrMalformed, tag)
}

// ValuesEqual compares values by their encodings.
func ValuesEqual(a, b Value) bool {
	return bytes.Equal(EncodeValue(a), EncodeValue(b))
}

// SplitPair splits a Pair into its head and the rest. Any other value is
// returned as the head with a nil rest.
func SplitPair(v Value) (head, rest Value) {
	if p, ok := v.(*Prim); ok && p.Kind == PrimPair {
		return p.Args[0], p.Args[1]
	}
	return v, nil
}

// FlattenArgs unrolls a right-nested chain of Pairs into a slice.
func FlattenArgs(v Value) []Value {
	var vals []Value
	for v != nil {
		var head Value
		head, v = SplitPair(v)
		vals = append(vals, head)
	}
	return vals
}

// FoldArgs builds the right-nested Pair chain for the args. A single arg is
// returned as is.
func FoldArgs(args ...Value) Value {
	if len(args) == 0 {
		return Unit()
	}
	v := args[len(args)-1]
	for i := len(args) - 2; i >= 0; i-- {
		v = Pair(args[i], v)
	}
	return v
}

// Side is a branch of an Or type.
type Side byte

const (
	L Side = iota
	R
)

func (s Side) String() string {
	if s == L {
		return "L"
	}
	return "R"
}

// WrapPath wraps v in Left and Right constructors so that the outermost
// constructor corresponds to path[0].
func WrapPath(path []Side, v Value) Value {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == L {
			v = Left(v)
		} else {
			v = Right(v)
		}
	}
	return v
}

// PathAndPayload strips the Left and Right constructors off v, returning the
// path taken and the payload.
func PathAndPayload(v Value) ([]Side, Value) {
	var path []Side
	for {
		p, ok := v.(*Prim)
		if !ok {
			return path, v
		}
		switch p.Kind {
		case PrimLeft:
			path = append(path, L)
		case PrimRight:
			path = append(path, R)
		default:
			return path, v
		}
		v = p.Args[0]
	}
}

// StripPath removes exactly the given Left/Right prefix from v. The bool is
// false if v does not start with that path.
func StripPath(v Value, path []Side) (Value, bool) {
	for _, side := range path {
		p, ok := v.(*Prim)
		if !ok {
			return nil, false
		}
		switch {
		case side == L && p.Kind == PrimLeft, side == R && p.Kind == PrimRight:
			v = p.Args[0]
		default:
			return nil, false
		}
	}
	return v, true
}

// PathEqual compares two paths.
func PathEqual(a, b []Side) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Typed accessors used when reading contract storage.

func valueAsBytes(v Value) ([]byte, error) {
	b, ok := v.(Bytes)
	if !ok {
		return nil, fmt.Errorf("expected bytes, got %T", v)
	}
	return b, nil
}

func valueAsString(v Value) (string, error) {
	s, ok := v.(String)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", v)
	}
	return string(s), nil
}

func valueAsInt(v Value) (*big.Int, error) {
	i, ok := v.(*Int)
	if !ok {
		return nil, fmt.Errorf("expected int, got %T", v)
	}
	return i.Int, nil
}

func valueAsNat(v Value) (*big.Int, error) {
	i, err := valueAsInt(v)
	if err != nil {
		return nil, err
	}
	if i.Sign() < 0 {
		return nil, fmt.Errorf("expected a natural number, got %s", i)
	}
	return i, nil
}

func valueAsBool(v Value) (bool, error) {
	p, ok := v.(*Prim)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", v)
	}
	switch p.Kind {
	case PrimTrue:
		return true, nil
	case PrimFalse:
		return false, nil
	}
	return false, fmt.Errorf("expected bool, got %s", p.Kind)
}

// valueAsOption returns the inner value of Some, or nil for None.
func valueAsOption(v Value) (Value, error) {
	p, ok := v.(*Prim)
	if !ok {
		return nil, fmt.Errorf("expected option, got %T", v)
	}
	switch p.Kind {
	case PrimSome:
		return p.Args[0], nil
	case PrimNone:
		return nil, nil
	}
	return nil, fmt.Errorf("expected option, got %s", p.Kind)
}

// argsReader reads successive fields from a right-nested Pair chain.
type argsReader struct {
	next Value
}

func (r *argsReader) read() (Value, error) {
	if r.next == nil {
		return nil, fmt.Errorf("%w: value chain exhausted", ErrMalformed)
	}
	var v Value
	v, r.next = SplitPair(r.next)
	return v, nil
}
