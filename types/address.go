package types

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressSize is the number of digest bytes kept in an address.
const AddressSize = 20

// Address identifies an account. It is opaque to the state machines; the
// engine derives it from the caller's public key.
type Address string

// ZeroAddress is the empty address. It is never a valid recipient.
const ZeroAddress Address = ""

// AddressFromPubKey derives the address for an ed25519 public key.
func AddressFromPubKey(pubKey PublicKey) Address {
	digest := keyedHash(addressDomainKey, pubKey.Data)
	return Address("0x" + hex.EncodeToString(digest.Data[:AddressSize]))
}

// ParseAddress validates a textual address. Hex addresses are normalized to
// lower case; any other non-empty string is accepted as an opaque name.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ZeroAddress, ErrInvalidAddress
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		raw := s[2:]
		if len(raw) != AddressSize*2 {
			return ZeroAddress, fmt.Errorf("%w: want %d hex digits, got %d", ErrInvalidAddress, AddressSize*2, len(raw))
		}
		if _, err := hex.DecodeString(raw); err != nil {
			return ZeroAddress, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		return Address("0x" + strings.ToLower(raw)), nil
	}
	return Address(s), nil
}

// String returns the address text
func (a Address) String() string {
	return string(a)
}

// IsEmpty returns true if the address is the zero address
func (a Address) IsEmpty() bool {
	return strings.TrimSpace(string(a)) == ""
}

// ValidateAddress returns ErrInvalidAddress for the zero address.
func ValidateAddress(a Address) error {
	if a.IsEmpty() {
		return ErrInvalidAddress
	}
	return nil
}

// VerifySignature verifies an Ed25519 signature
func VerifySignature(pubKey PublicKey, message []byte, sig Signature) bool {
	if len(pubKey.Data) != ed25519.PublicKeySize {
		return false
	}
	if len(sig.Data) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pubKey.Data, message, sig.Data)
}

// RequireAuthority is the guard for privileged mutations: it returns
// ErrUnauthorized unless caller is the authority. Call it before touching
// any state.
func RequireAuthority(caller, authority Address) error {
	if caller.IsEmpty() || caller != authority {
		return fmt.Errorf("%w: caller %s is not %s", ErrUnauthorized, caller, authority)
	}
	return nil
}
