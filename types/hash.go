package types

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// HashSize is the expected size of a hash in bytes
const HashSize = 32

// SignatureSize is the expected size of a signature in bytes
const SignatureSize = 64

// PublicKeySize is the expected size of a public key in bytes
const PublicKeySize = 32

// Hash is a 32-byte BLAKE3 digest.
type Hash struct {
	Data []byte `cbor:"1,keyasint"`
}

// Signature is an ed25519 signature.
type Signature struct {
	Data []byte `cbor:"1,keyasint"`
}

// PublicKey is an ed25519 public key.
type PublicKey struct {
	Data []byte `cbor:"1,keyasint"`
}

// Domain keys for BLAKE3 keyed hashing. Readable ASCII, zero-padded to 32
// bytes. Changing one invalidates every hash in that domain.
var (
	txDomainKey = [32]byte{
		'm', 'e', 'r', 'i', 't', 'b', 'e', 'r', 'r', 'y', '.', 't', 'x',
	}
	appDomainKey = [32]byte{
		'm', 'e', 'r', 'i', 't', 'b', 'e', 'r', 'r', 'y', '.', 'a', 'p', 'p',
	}
	addressDomainKey = [32]byte{
		'm', 'e', 'r', 'i', 't', 'b', 'e', 'r', 'r', 'y', '.', 'a', 'd', 'd', 'r',
	}
	commitDomainKey = [32]byte{
		'm', 'e', 'r', 'i', 't', 'b', 'e', 'r', 'r', 'y', '.', 'c', 'o', 'm', 'm', 'i', 't',
	}
)

// NewHash creates a Hash from bytes, returning error if invalid.
// Copies input data so the caller cannot modify it afterwards.
func NewHash(data []byte) (Hash, error) {
	if len(data) != HashSize {
		return Hash{}, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(data))
	}
	copied := make([]byte, HashSize)
	copy(copied, data)
	return Hash{Data: copied}, nil
}

// MustNewHash creates a Hash, panicking if invalid.
// Use only for trusted internal data.
func MustNewHash(data []byte) Hash {
	h, err := NewHash(data)
	if err != nil {
		panic(err)
	}
	return h
}

// HashBytes computes the unkeyed BLAKE3 hash of data
func HashBytes(data []byte) Hash {
	h := blake3.Sum256(data)
	return Hash{Data: h[:]}
}

// HashTxBytes hashes the encoded form of a transaction.
func HashTxBytes(data []byte) Hash {
	return keyedHash(txDomainKey, data)
}

// HashAppState hashes the encoded form of an application snapshot.
func HashAppState(data []byte) Hash {
	return keyedHash(appDomainKey, data)
}

// ChainAppHash extends the app hash prev with one committed transaction:
// its sequence, its hash and the encoding of the events it emitted.
func ChainAppHash(prev Hash, seq uint64, txHash Hash, events []byte) Hash {
	hasher, err := blake3.NewKeyed(commitDomainKey[:])
	if err != nil {
		panic(fmt.Sprintf("types: blake3 keyed hasher: %v", err))
	}
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)

	hasher.Write(prev.Data)
	hasher.Write(seqBytes[:])
	hasher.Write(txHash.Data)
	hasher.Write(events)
	return Hash{Data: hasher.Sum(nil)}
}

func keyedHash(key [32]byte, data []byte) Hash {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		// Only fails on a key that is not 32 bytes.
		panic(fmt.Sprintf("types: blake3 keyed hasher: %v", err))
	}
	hasher.Write(data)
	return Hash{Data: hasher.Sum(nil)}
}

// HashEmpty returns an empty (zero) hash
func HashEmpty() Hash {
	return Hash{Data: make([]byte, HashSize)}
}

// IsHashEmpty returns true if hash is nil or all zeros
func IsHashEmpty(h *Hash) bool {
	if h == nil {
		return true
	}
	for _, b := range h.Data {
		if b != 0 {
			return false
		}
	}
	return true
}

// HashEqual compares two hashes
func HashEqual(a, b Hash) bool {
	return bytes.Equal(a.Data, b.Data)
}

// HashString returns hex-encoded hash
func HashString(h Hash) string {
	return hex.EncodeToString(h.Data)
}

// ParseHash decodes a hex-encoded hash.
func ParseHash(s string) (Hash, error) {
	data, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("invalid hash hex: %w", err)
	}
	return NewHash(data)
}

// CopyHash returns a deep copy of h, or nil for nil.
func CopyHash(h *Hash) *Hash {
	if h == nil {
		return nil
	}
	data := make([]byte, len(h.Data))
	copy(data, h.Data)
	return &Hash{Data: data}
}

// NewSignature creates a Signature from bytes, returning error if invalid.
func NewSignature(data []byte) (Signature, error) {
	if len(data) != SignatureSize {
		return Signature{}, fmt.Errorf("signature must be %d bytes, got %d", SignatureSize, len(data))
	}
	copied := make([]byte, SignatureSize)
	copy(copied, data)
	return Signature{Data: copied}, nil
}

// MustNewSignature creates a Signature, panicking if invalid.
// Use only for trusted internal data (e.g., crypto library output).
func MustNewSignature(data []byte) Signature {
	s, err := NewSignature(data)
	if err != nil {
		panic(err)
	}
	return s
}

// NewPublicKey creates a PublicKey from bytes, returning error if invalid.
func NewPublicKey(data []byte) (PublicKey, error) {
	if len(data) != PublicKeySize {
		return PublicKey{}, fmt.Errorf("public key must be %d bytes, got %d", PublicKeySize, len(data))
	}
	copied := make([]byte, PublicKeySize)
	copy(copied, data)
	return PublicKey{Data: copied}, nil
}

// MustNewPublicKey creates a PublicKey, panicking if invalid.
// Use only for trusted internal data.
func MustNewPublicKey(data []byte) PublicKey {
	p, err := NewPublicKey(data)
	if err != nil {
		panic(err)
	}
	return p
}

// PublicKeyEqual compares two public keys
func PublicKeyEqual(a, b PublicKey) bool {
	return bytes.Equal(a.Data, b.Data)
}

// MarshalText encodes the hash as lowercase hex (JSON and CLI output).
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(HashString(h)), nil
}

// UnmarshalText decodes a hex hash. Empty text decodes to an empty hash.
func (h *Hash) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*h = Hash{}
		return nil
	}
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
