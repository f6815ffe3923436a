// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package xtz

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"unicode/utf8"

	"github.com/decred/base58"
	"golang.org/x/crypto/blake2b"
)

// Base58 prefixes.
var (
	PrefixTZ1 = [3]byte{6, 161, 159}
	PrefixTZ2 = [3]byte{6, 161, 161}
	PrefixTZ3 = [3]byte{6, 161, 164}
	PrefixKT1 = [3]byte{2, 90, 121}

	prefixEdPK = []byte{13, 15, 37, 217}
	prefixSpPK = []byte{3, 254, 226, 86}
	prefixP2PK = []byte{3, 178, 139, 127}

	prefixEdSig  = []byte{9, 245, 205, 134, 18}
	prefixSpSig  = []byte{13, 115, 101, 19, 63}
	prefixGenSig = []byte{4, 130, 43}

	prefixOpHash    = []byte{5, 116}
	prefixBlockHash = []byte{1, 52}
)

const hash160Size = 20

// checksum is the first 4 bytes of a double sha256 of the input.
func checksum(input []byte) (cksum [4]byte) {
	h := sha256.Sum256(input)
	h2 := sha256.Sum256(h[:])
	copy(cksum[:], h2[:4])
	return
}

func b58CheckEncode(prefix, data []byte) string {
	b := make([]byte, 0, len(prefix)+len(data)+4)
	b = append(b, prefix...)
	b = append(b, data...)
	cksum := checksum(b)
	return base58.Encode(append(b, cksum[:]...))
}

// b58CheckDecode decodes s and strips the checksum, returning prefix and
// payload together.
func b58CheckDecode(s string) ([]byte, error) {
	b := base58.Decode(s)
	if len(b) < 5 {
		return nil, fmt.Errorf("invalid base58 string %q", s)
	}
	payload, cksum := b[:len(b)-4], b[len(b)-4:]
	if sum := checksum(payload); !bytes.Equal(sum[:], cksum) {
		return nil, fmt.Errorf("invalid checksum for %q", s)
	}
	return payload, nil
}

// Curve is a signature curve.
type Curve byte

const (
	CurveEd25519   Curve = 0
	CurveSecp256k1 Curve = 1
	CurveP256      Curve = 2
)

func (c Curve) String() string {
	switch c {
	case CurveEd25519:
		return "ed25519"
	case CurveSecp256k1:
		return "secp256k1"
	case CurveP256:
		return "p256"
	}
	return fmt.Sprintf("Curve(%d)", byte(c))
}

func (c Curve) addrPrefix() ([3]byte, error) {
	switch c {
	case CurveEd25519:
		return PrefixTZ1, nil
	case CurveSecp256k1:
		return PrefixTZ2, nil
	case CurveP256:
		return PrefixTZ3, nil
	}
	return [3]byte{}, fmt.Errorf("unknown curve %d", c)
}

// Address is a base58check account or contract address.
type Address struct {
	Prefix [3]byte
	Hash   [hash160Size]byte
}

// String encodes the address, e.g. tz1... or KT1...
func (a Address) String() string {
	return b58CheckEncode(a.Prefix[:], a.Hash[:])
}

// IsOriginated is true for contract (KT1) addresses.
func (a Address) IsOriginated() bool {
	return a.Prefix == PrefixKT1
}

// ParseAddress decodes a base58check address.
func ParseAddress(s string) (Address, error) {
	var a Address
	b, err := b58CheckDecode(s)
	if err != nil {
		return a, err
	}
	if len(b) != 3+hash160Size {
		return a, fmt.Errorf("address %q has wrong length %d", s, len(b))
	}
	copy(a.Prefix[:], b[:3])
	copy(a.Hash[:], b[3:])
	switch a.Prefix {
	case PrefixTZ1, PrefixTZ2, PrefixTZ3, PrefixKT1:
	default:
		return a, fmt.Errorf("unknown address prefix %v", a.Prefix)
	}
	return a, nil
}

// hash160 is the 20-byte blake2b digest used for key hashes.
func hash160(b []byte) (h [hash160Size]byte) {
	hasher, _ := blake2b.New(hash160Size, nil)
	hasher.Write(b)
	copy(h[:], hasher.Sum(nil))
	return
}

// AddressFromPubKey derives the implicit account address of a public key.
func AddressFromPubKey(pk *PublicKey) (Address, error) {
	prefix, err := pk.Curve.addrPrefix()
	if err != nil {
		return Address{}, err
	}
	return Address{Prefix: prefix, Hash: hash160(pk.Key)}, nil
}

// PubkeyHash is an implicit account: a curve tag and key hash.
type PubkeyHash struct {
	Curve Curve
	Hash  [hash160Size]byte
}

func (h *PubkeyHash) encode(b []byte) []byte {
	return append(append(b, byte(h.Curve)), h.Hash[:]...)
}

func readPubkeyHash(r *Reader) (*PubkeyHash, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if tag > byte(CurveP256) {
		return nil, fmt.Errorf("%w: unknown curve tag %d", ErrMalformed, tag)
	}
	b, err := r.ReadBytes(hash160Size)
	if err != nil {
		return nil, err
	}
	h := &PubkeyHash{Curve: Curve(tag)}
	copy(h.Hash[:], b)
	return h, nil
}

// Address converts the key hash to its tz address.
func (h *PubkeyHash) Address() Address {
	prefix, _ := h.Curve.addrPrefix()
	return Address{Prefix: prefix, Hash: h.Hash}
}

// PubkeyHashFromAddress converts an implicit account address.
func PubkeyHashFromAddress(a Address) (*PubkeyHash, error) {
	var c Curve
	switch a.Prefix {
	case PrefixTZ1:
		c = CurveEd25519
	case PrefixTZ2:
		c = CurveSecp256k1
	case PrefixTZ3:
		c = CurveP256
	default:
		return nil, fmt.Errorf("address %s is not an implicit account", a)
	}
	return &PubkeyHash{Curve: c, Hash: a.Hash}, nil
}

// ContractID is either an implicit account (PubkeyHash set) or an originated
// contract (PubkeyHash nil).
type ContractID struct {
	PubkeyHash *PubkeyHash
	Originated [hash160Size]byte
}

func (id *ContractID) encode(b []byte) []byte {
	if id.PubkeyHash != nil {
		return id.PubkeyHash.encode(append(b, 0))
	}
	b = append(append(b, 1), id.Originated[:]...)
	return append(b, 0)
}

func readContractID(r *Reader) (*ContractID, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case 0:
		h, err := readPubkeyHash(r)
		if err != nil {
			return nil, err
		}
		return &ContractID{PubkeyHash: h}, nil
	case 1:
		b, err := r.ReadBytes(hash160Size + 1)
		if err != nil {
			return nil, err
		}
		if b[hash160Size] != 0 {
			return nil, fmt.Errorf("%w: non-zero contract id padding", ErrMalformed)
		}
		id := new(ContractID)
		copy(id.Originated[:], b)
		return id, nil
	}
	return nil, fmt.Errorf("%w: unknown contract id tag %d", ErrMalformed, tag)
}

// DecodeContractID decodes a contract id that spans all of b.
func DecodeContractID(b []byte) (*ContractID, error) {
	r := NewReader(b)
	id, err := readContractID(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d bytes after contract id", ErrMalformed, r.Len())
	}
	return id, nil
}

// Address converts the contract id to an address.
func (id *ContractID) Address() Address {
	if id.PubkeyHash != nil {
		return id.PubkeyHash.Address()
	}
	return Address{Prefix: PrefixKT1, Hash: id.Originated}
}

// Equal compares two contract ids.
func (id *ContractID) Equal(other *ContractID) bool {
	if id == nil || other == nil {
		return id == other
	}
	return bytes.Equal(id.encode(nil), other.encode(nil))
}

// ContractIDFromAddress converts an address of either kind.
func ContractIDFromAddress(a Address) (*ContractID, error) {
	if a.IsOriginated() {
		return &ContractID{Originated: a.Hash}, nil
	}
	h, err := PubkeyHashFromAddress(a)
	if err != nil {
		return nil, err
	}
	return &ContractID{PubkeyHash: h}, nil
}

// PublicKey is a curve-tagged public key.
type PublicKey struct {
	Curve Curve
	Key   []byte
}

func pubKeyLen(c Curve) int {
	if c == CurveEd25519 {
		return 32
	}
	return 33
}

func (pk *PublicKey) b58Prefix() []byte {
	switch pk.Curve {
	case CurveSecp256k1:
		return prefixSpPK
	case CurveP256:
		return prefixP2PK
	}
	return prefixEdPK
}

// String is the base58check encoding, e.g. edpk...
func (pk *PublicKey) String() string {
	return b58CheckEncode(pk.b58Prefix(), pk.Key)
}

func (pk *PublicKey) encode(b []byte) []byte {
	return append(append(b, byte(pk.Curve)), pk.Key...)
}

func readPublicKey(r *Reader) (*PublicKey, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if tag > byte(CurveP256) {
		return nil, fmt.Errorf("%w: unknown public key tag %d", ErrMalformed, tag)
	}
	c := Curve(tag)
	key, err := r.ReadBytes(pubKeyLen(c))
	if err != nil {
		return nil, err
	}
	return &PublicKey{Curve: c, Key: key}, nil
}

// ParsePublicKey decodes an edpk, sppk or p2pk string.
func ParsePublicKey(s string) (*PublicKey, error) {
	b, err := b58CheckDecode(s)
	if err != nil {
		return nil, err
	}
	for _, c := range []Curve{CurveEd25519, CurveSecp256k1, CurveP256} {
		pk := &PublicKey{Curve: c}
		prefix := pk.b58Prefix()
		if bytes.HasPrefix(b, prefix) && len(b) == len(prefix)+pubKeyLen(c) {
			pk.Key = b[len(prefix):]
			return pk, nil
		}
	}
	return nil, fmt.Errorf("unrecognized public key %q", s)
}

// EncodeSignature renders a raw 64-byte signature with the curve's prefix.
func EncodeSignature(c Curve, sig []byte) string {
	switch c {
	case CurveEd25519:
		return b58CheckEncode(prefixEdSig, sig)
	case CurveSecp256k1:
		return b58CheckEncode(prefixSpSig, sig)
	}
	return b58CheckEncode(prefixGenSig, sig)
}

// EncodeOpHash renders an operation hash, o...
func EncodeOpHash(h [32]byte) string {
	return b58CheckEncode(prefixOpHash, h[:])
}

// EncodeBlockHash renders a block hash, B...
func EncodeBlockHash(h [32]byte) string {
	return b58CheckEncode(prefixBlockHash, h[:])
}

// DecodeBlockHash parses a B... block hash.
func DecodeBlockHash(s string) (h [32]byte, err error) {
	b, err := b58CheckDecode(s)
	if err != nil {
		return h, err
	}
	if !bytes.HasPrefix(b, prefixBlockHash) || len(b) != len(prefixBlockHash)+32 {
		return h, fmt.Errorf("invalid block hash %q", s)
	}
	copy(h[:], b[len(prefixBlockHash):])
	return h, nil
}

// Entrypoint selects the contract entrypoint of a transaction.
type Entrypoint string

const (
	EntrypointDefault        Entrypoint = "default"
	EntrypointRoot           Entrypoint = "root"
	EntrypointDo             Entrypoint = "do"
	EntrypointSetDelegate    Entrypoint = "set_delegate"
	EntrypointRemoveDelegate Entrypoint = "remove_delegate"
)

var entrypointTags = map[Entrypoint]byte{
	EntrypointDefault:        0,
	EntrypointRoot:           1,
	EntrypointDo:             2,
	EntrypointSetDelegate:    3,
	EntrypointRemoveDelegate: 4,
}

func (e Entrypoint) encode(b []byte) ([]byte, error) {
	if tag, found := entrypointTags[e]; found {
		return append(b, tag), nil
	}
	if len(e) == 0 || len(e) > 255 {
		return nil, fmt.Errorf("invalid entrypoint name length %d", len(e))
	}
	b = append(b, 255, byte(len(e)))
	return append(b, e...), nil
}

func readEntrypoint(r *Reader) (Entrypoint, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	for e, t := range entrypointTags {
		if t == tag {
			return e, nil
		}
	}
	if tag != 255 {
		return "", fmt.Errorf("%w: unknown entrypoint tag %d", ErrMalformed, tag)
	}
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	name, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(name) {
		return "", fmt.Errorf("%w: entrypoint name is not valid UTF-8", ErrMalformed)
	}
	e := Entrypoint(name)
	if _, reserved := entrypointTags[e]; reserved || len(e) == 0 {
		return "", fmt.Errorf("%w: entrypoint %q must use its short tag", ErrMalformed, e)
	}
	return e, nil
}
