// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package xtz

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"golang.org/x/crypto/blake2b"
)

// Content tags.
const (
	TagTransaction        byte = 8
	TagReveal             byte = 107
	TagBabylonTransaction byte = 108
)

const (
	branchSize    = 32
	signatureSize = 64

	paramsAbsent  byte = 0
	paramsPresent byte = 255

	// watermarkGenericOperation prefixes forged bytes before signing.
	watermarkGenericOperation byte = 3
)

// Content is one operation in an Operation's contents list. The concrete
// types are *Transaction, *Reveal and *BabylonTransaction.
type Content interface {
	Tag() byte
	encode(b []byte) ([]byte, error)
}

// Transaction is the legacy transaction content. Its parameters are
// length-prefixed with an extra zero byte inside the blob.
type Transaction struct {
	Source       *ContractID
	Fee          *big.Int
	Counter      *big.Int
	GasLimit     *big.Int
	StorageLimit *big.Int
	Amount       *big.Int
	Destination  *ContractID
	Parameters   Value
}

// Tag is the content tag.
func (*Transaction) Tag() byte { return TagTransaction }

// Parameters is a call's entrypoint and argument value.
type Parameters struct {
	Entrypoint Entrypoint
	Value      Value
}

// BabylonTransaction is the transaction content with explicit entrypoints.
type BabylonTransaction struct {
	Source       *PubkeyHash
	Fee          *big.Int
	Counter      *big.Int
	GasLimit     *big.Int
	StorageLimit *big.Int
	Amount       *big.Int
	Destination  *ContractID
	Parameters   *Parameters
}

// Tag is the content tag.
func (*BabylonTransaction) Tag() byte { return TagBabylonTransaction }

// Reveal publishes the manager public key of an implicit account.
type Reveal struct {
	Source       *PubkeyHash
	Fee          *big.Int
	Counter      *big.Int
	GasLimit     *big.Int
	StorageLimit *big.Int
	PublicKey    *PublicKey
}

// Tag is the content tag.
func (*Reveal) Tag() byte { return TagReveal }

func appendUints(b []byte, nums ...*big.Int) ([]byte, error) {
	for _, n := range nums {
		if n == nil {
			n = new(big.Int)
		}
		z, err := EncodeZarithUint(n)
		if err != nil {
			return nil, err
		}
		b = append(b, z...)
	}
	return b, nil
}

func readUints(r *Reader, nums ...**big.Int) error {
	for _, n := range nums {
		v, err := DecodeZarithUint(r)
		if err != nil {
			return err
		}
		*n = v
	}
	return nil
}

func (tx *Transaction) encode(b []byte) ([]byte, error) {
	b = tx.Source.encode(b)
	b, err := appendUints(b, tx.Fee, tx.Counter, tx.GasLimit, tx.StorageLimit, tx.Amount)
	if err != nil {
		return nil, err
	}
	b = tx.Destination.encode(b)
	if tx.Parameters == nil {
		return append(b, paramsAbsent), nil
	}
	v := EncodeValue(tx.Parameters)
	b = append(b, paramsPresent)
	b = binary.BigEndian.AppendUint32(b, uint32(len(v)+1))
	b = append(b, 0)
	return append(b, v...), nil
}

func readTransaction(r *Reader) (*Transaction, error) {
	tx := new(Transaction)
	var err error
	if tx.Source, err = readContractID(r); err != nil {
		return nil, err
	}
	if err = readUints(r, &tx.Fee, &tx.Counter, &tx.GasLimit, &tx.StorageLimit, &tx.Amount); err != nil {
		return nil, err
	}
	if tx.Destination, err = readContractID(r); err != nil {
		return nil, err
	}
	flag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch flag {
	case paramsAbsent:
		return tx, nil
	case paramsPresent:
	default:
		return nil, fmt.Errorf("%w: invalid parameters flag %d", ErrMalformed, flag)
	}
	blob, err := readLengthPrefixed(r)
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 || blob[0] != 0 {
		return nil, fmt.Errorf("%w: legacy parameters must start with a zero byte", ErrMalformed)
	}
	if tx.Parameters, err = DecodeValue(blob[1:]); err != nil {
		return nil, err
	}
	return tx, nil
}

func (tx *BabylonTransaction) encode(b []byte) ([]byte, error) {
	b = tx.Source.encode(b)
	b, err := appendUints(b, tx.Fee, tx.Counter, tx.GasLimit, tx.StorageLimit, tx.Amount)
	if err != nil {
		return nil, err
	}
	b = tx.Destination.encode(b)
	if tx.Parameters == nil {
		return append(b, paramsAbsent), nil
	}
	b = append(b, paramsPresent)
	if b, err = tx.Parameters.Entrypoint.encode(b); err != nil {
		return nil, err
	}
	v := EncodeValue(tx.Parameters.Value)
	b = binary.BigEndian.AppendUint32(b, uint32(len(v)))
	return append(b, v...), nil
}

func readBabylonTransaction(r *Reader) (*BabylonTransaction, error) {
	tx := new(BabylonTransaction)
	var err error
	if tx.Source, err = readPubkeyHash(r); err != nil {
		return nil, err
	}
	if err = readUints(r, &tx.Fee, &tx.Counter, &tx.GasLimit, &tx.StorageLimit, &tx.Amount); err != nil {
		return nil, err
	}
	if tx.Destination, err = readContractID(r); err != nil {
		return nil, err
	}
	flag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch flag {
	case paramsAbsent:
		return tx, nil
	case paramsPresent:
	default:
		return nil, fmt.Errorf("%w: invalid parameters flag %d", ErrMalformed, flag)
	}
	params := new(Parameters)
	if params.Entrypoint, err = readEntrypoint(r); err != nil {
		return nil, err
	}
	blob, err := readLengthPrefixed(r)
	if err != nil {
		return nil, err
	}
	if params.Value, err = DecodeValue(blob); err != nil {
		return nil, err
	}
	tx.Parameters = params
	return tx, nil
}

func (rv *Reveal) encode(b []byte) ([]byte, error) {
	b = rv.Source.encode(b)
	b, err := appendUints(b, rv.Fee, rv.Counter, rv.GasLimit, rv.StorageLimit)
	if err != nil {
		return nil, err
	}
	return rv.PublicKey.encode(b), nil
}

func readReveal(r *Reader) (*Reveal, error) {
	rv := new(Reveal)
	var err error
	if rv.Source, err = readPubkeyHash(r); err != nil {
		return nil, err
	}
	if err = readUints(r, &rv.Fee, &rv.Counter, &rv.GasLimit, &rv.StorageLimit); err != nil {
		return nil, err
	}
	if rv.PublicKey, err = readPublicKey(r); err != nil {
		return nil, err
	}
	return rv, nil
}

func readContent(tag byte, r *Reader) (Content, error) {
	switch tag {
	case TagTransaction:
		return readTransaction(r)
	case TagReveal:
		return readReveal(r)
	case TagBabylonTransaction:
		return readBabylonTransaction(r)
	}
	return nil, fmt.Errorf("%w: unsupported operation tag %d", ErrMalformed, tag)
}

// Operation is a signed group of contents on a branch.
type Operation struct {
	Branch    [branchSize]byte
	Contents  []Content
	Signature []byte // nil or 64 bytes
}

// Bytes serializes the operation, with the signature if there is one.
func (op *Operation) Bytes() ([]byte, error) {
	if op.Signature != nil && len(op.Signature) != signatureSize {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", signatureSize, len(op.Signature))
	}
	b := append([]byte{}, op.Branch[:]...)
	for _, c := range op.Contents {
		var err error
		b = append(b, c.Tag())
		if b, err = c.encode(b); err != nil {
			return nil, err
		}
	}
	return append(b, op.Signature...), nil
}

// DecodeOperation deserializes an operation. The contents count is not
// encoded, so after every content the decoder tries to read another one. If
// that fails and exactly 64 bytes remain, they are the signature.
func DecodeOperation(b []byte) (*Operation, error) {
	r := NewReader(b)
	branch, err := r.ReadBytes(branchSize)
	if err != nil {
		return nil, err
	}
	op := new(Operation)
	copy(op.Branch[:], branch)
	if r.Len() == 0 {
		return nil, fmt.Errorf("%w: operation has no contents", ErrMalformed)
	}
	for {
		mark := r.Mark()
		tag, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		c, err := readContent(tag, r)
		if err != nil {
			r.Reset(mark)
			if r.Len() != signatureSize {
				return nil, err
			}
			if len(op.Contents) == 0 {
				return nil, fmt.Errorf("%w: signed operation has no contents", ErrMalformed)
			}
			op.Signature, _ = r.ReadBytes(signatureSize)
			return op, nil
		}
		op.Contents = append(op.Contents, c)
		if r.Len() == 0 {
			return op, nil
		}
	}
}

// Hash is the blake2b-256 digest of the serialized operation.
func (op *Operation) Hash() ([32]byte, error) {
	b, err := op.Bytes()
	if err != nil {
		return [32]byte{}, err
	}
	return blake2b.Sum256(b), nil
}

// OpHash is the base58 operation hash as reported by the node.
func (op *Operation) OpHash() (string, error) {
	h, err := op.Hash()
	if err != nil {
		return "", err
	}
	return EncodeOpHash(h), nil
}

// FirstTxDestination is the destination of the first transaction content.
func (op *Operation) FirstTxDestination() (*ContractID, bool) {
	for _, c := range op.Contents {
		switch tx := c.(type) {
		case *BabylonTransaction:
			return tx.Destination, true
		case *Transaction:
			return tx.Destination, true
		}
	}
	return nil, false
}

// SigningHash is the digest signed for forged operation bytes.
func SigningHash(forged []byte) [32]byte {
	b := make([]byte, 0, len(forged)+1)
	b = append(b, watermarkGenericOperation)
	return blake2b.Sum256(append(b, forged...))
}
