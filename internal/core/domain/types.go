package domain

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

// Slot is a position in the ledger. Slots strictly increase along any fork.
type Slot uint64

// String returns the decimal representation used in file names.
func (s Slot) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// ParseSlot parses a decimal slot number.
func ParseSlot(s string) (Slot, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse slot %q: %w", s, err)
	}
	return Slot(v), nil
}

// HashSize is the byte length of a Hash.
const HashSize = 32

// Hash is a blake2b-256 digest.
type Hash [HashSize]byte

// ZeroHash is the all-zero hash.
var ZeroHash Hash

// String returns the lowercase hex encoding.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == ZeroHash
}

// ParseHash decodes a hex-encoded hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("parse hash: %w", err)
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("parse hash: want %d bytes, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// HashFromBytes copies b into a Hash. b must be HashSize bytes long.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("hash: want %d bytes, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// HashBytes returns blake2b-256 over the concatenation of parts.
func HashBytes(parts ...[]byte) Hash {
	d, _ := blake2b.New256(nil)
	for _, p := range parts {
		d.Write(p)
	}
	var h Hash
	copy(h[:], d.Sum(nil))
	return h
}

// Pubkey identifies an account.
type Pubkey [32]byte

// String returns the lowercase hex encoding.
func (p Pubkey) String() string {
	return hex.EncodeToString(p[:])
}

// Compare orders pubkeys bytewise.
func (p Pubkey) Compare(o Pubkey) int {
	return bytes.Compare(p[:], o[:])
}

// PubkeyFromBytes copies b into a Pubkey.
func PubkeyFromBytes(b []byte) (Pubkey, error) {
	var p Pubkey
	if len(b) != len(p) {
		return p, fmt.Errorf("pubkey: want %d bytes, got %d", len(p), len(b))
	}
	copy(p[:], b)
	return p, nil
}

// NewPubkey derives a deterministic pubkey from a seed string.
func NewPubkey(seed string) Pubkey {
	return Pubkey(HashBytes([]byte("pubkey:"), []byte(seed)))
}

// Signature identifies a transaction for replay protection.
type Signature [64]byte

// String returns the lowercase hex encoding.
func (s Signature) String() string {
	return hex.EncodeToString(s[:])
}

// SignatureFromBytes copies b into a Signature.
func SignatureFromBytes(b []byte) (Signature, error) {
	var s Signature
	if len(b) != len(s) {
		return s, fmt.Errorf("signature: want %d bytes, got %d", len(s), len(b))
	}
	copy(s[:], b)
	return s, nil
}

// NewSignature derives a deterministic signature from a seed string.
func NewSignature(seed string) Signature {
	var s Signature
	a := HashBytes([]byte("sig:0:"), []byte(seed))
	b := HashBytes([]byte("sig:1:"), []byte(seed))
	copy(s[:32], a[:])
	copy(s[32:], b[:])
	return s
}

// Account is the state stored under a pubkey.
type Account struct {
	Lamports uint64
	Owner    Pubkey
	Data     []byte
}

// IsZeroLamport reports whether the account holds no lamports. Such accounts
// are treated as deleted.
func (a Account) IsZeroLamport() bool {
	return a.Lamports == 0
}

// Hash returns the hash of the account stored under pubkey.
func (a Account) Hash(pubkey Pubkey) Hash {
	var lamports [8]byte
	binary.LittleEndian.PutUint64(lamports[:], a.Lamports)
	return HashBytes(lamports[:], a.Owner[:], a.Data, pubkey[:])
}

// Equal reports whether two accounts hold identical state.
func (a Account) Equal(o Account) bool {
	return a.Lamports == o.Lamports && a.Owner == o.Owner && bytes.Equal(a.Data, o.Data)
}
