package types

import (
	"fmt"
	"math/big"
)

// Amount is an arbitrary-precision token quantity. The zero value is 0.
// Methods never mutate the receiver.
type Amount struct {
	i *big.Int
}

// NewAmount returns an Amount for v.
func NewAmount(v int64) Amount {
	return Amount{i: big.NewInt(v)}
}

// AmountFromBig copies b into a new Amount. nil reads as zero.
func AmountFromBig(b *big.Int) Amount {
	if b == nil {
		return Amount{}
	}
	return Amount{i: new(big.Int).Set(b)}
}

// ParseAmount parses a base-10 integer string.
func ParseAmount(s string) (Amount, error) {
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("%w: %q is not an integer", ErrInvalidAmount, s)
	}
	return Amount{i: b}, nil
}

func (a Amount) big() *big.Int {
	if a.i == nil {
		return new(big.Int)
	}
	return a.i
}

// Big returns a copy of the underlying integer.
func (a Amount) Big() *big.Int {
	return new(big.Int).Set(a.big())
}

// Add returns a + b
func (a Amount) Add(b Amount) Amount {
	return Amount{i: new(big.Int).Add(a.big(), b.big())}
}

// Sub returns a - b
func (a Amount) Sub(b Amount) Amount {
	return Amount{i: new(big.Int).Sub(a.big(), b.big())}
}

// Cmp compares a and b and returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	return a.big().Cmp(b.big())
}

// Equal reports whether a == b
func (a Amount) Equal(b Amount) bool {
	return a.Cmp(b) == 0
}

// LessThan reports whether a < b
func (a Amount) LessThan(b Amount) bool {
	return a.Cmp(b) < 0
}

// IsZero reports whether a == 0
func (a Amount) IsZero() bool {
	return a.big().Sign() == 0
}

// IsNegative reports whether a < 0
func (a Amount) IsNegative() bool {
	return a.big().Sign() < 0
}

// String returns the base-10 representation
func (a Amount) String() string {
	return a.big().String()
}

// MarshalCBOR encodes the amount as a CBOR bignum (or plain integer when it
// fits), so snapshots and sign bytes stay deterministic.
func (a Amount) MarshalCBOR() ([]byte, error) {
	return encMode.Marshal(a.big())
}

// UnmarshalCBOR decodes an amount written by MarshalCBOR.
func (a *Amount) UnmarshalCBOR(data []byte) error {
	b := new(big.Int)
	if err := decMode.Unmarshal(data, b); err != nil {
		return err
	}
	a.i = b
	return nil
}

// MarshalText implements encoding.TextMarshaler (used for YAML and JSON).
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ValidateNonNegative returns ErrInvalidAmount for negative amounts.
func ValidateNonNegative(a Amount) error {
	if a.IsNegative() {
		return fmt.Errorf("%w: %s is negative", ErrInvalidAmount, a)
	}
	return nil
}
