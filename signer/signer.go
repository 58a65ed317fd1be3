package signer

import (
	"errors"

	"github.com/blockberries/meritberry/types"
)

// Errors
var (
	ErrDoubleSign      = errors.New("double sign attempt")
	ErrNonceRegression = errors.New("nonce regression")
	ErrKeyNotFound     = errors.New("key file not found")
	ErrKeyExists       = errors.New("key file already exists")
	ErrSenderMismatch  = errors.New("tx sender does not match signer")
)

// Signer signs transactions for one caller identity.
type Signer interface {
	// PubKey returns the public key
	PubKey() types.PublicKey

	// Address returns the caller address derived from the public key
	Address() types.Address

	// SignTx fills in the public key and signature of tx, refusing to sign
	// a second, different transaction at a nonce already used.
	SignTx(chainID string, tx *types.Tx) error
}

// LastSignState tracks the last signed transaction for double-sign
// prevention.
type LastSignState struct {
	ChainID   string
	Nonce     uint64
	Signed    bool
	Signature types.Signature
	// Hash of the complete sign bytes, so re-signing the identical
	// transaction returns the cached signature.
	SignBytesHash *types.Hash
}

// CheckNonce checks whether signing at nonce on chainID is allowed.
// Returns nil if signing is allowed, an error otherwise. A different chain
// starts a fresh sequence.
func (lss *LastSignState) CheckNonce(chainID string, nonce uint64) error {
	if !lss.Signed || lss.ChainID != chainID {
		return nil
	}
	if nonce < lss.Nonce {
		return ErrNonceRegression
	}
	if nonce == lss.Nonce {
		// Same nonce - this would be a double sign unless it's the same tx
		return ErrDoubleSign
	}
	return nil
}

// isSameTx reports whether signBytes are exactly what was last signed.
func (lss *LastSignState) isSameTx(signBytes []byte) bool {
	if lss.SignBytesHash == nil {
		return false
	}
	return types.HashEqual(*lss.SignBytesHash, types.HashBytes(signBytes))
}
