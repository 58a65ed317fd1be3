package types

import "errors"

// Rejection taxonomy. Every module wraps one of these; callers match with
// errors.Is. A rejected operation has no effect on state.
var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidAddress        = errors.New("invalid address")
	ErrDuplicateBadge        = errors.New("recipient already holds a badge")
	ErrTransferProhibited    = errors.New("badge transfer prohibited")
	ErrUnknownProposal       = errors.New("unknown proposal")
	ErrUnknownToken          = errors.New("unknown token")
	ErrAlreadyVoted          = errors.New("already voted")
)

// Transaction-level errors raised before a module sees the operation.
var (
	ErrInvalidTx        = errors.New("invalid transaction")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidNonce     = errors.New("invalid nonce")
	ErrUnknownTxKind    = errors.New("unknown transaction kind")
	ErrChainIDMismatch  = errors.New("chain id mismatch")
)

// Reason codes reported in receipts.
const (
	ReasonOK                    = "OK"
	ReasonUnauthorized          = "Unauthorized"
	ReasonInsufficientBalance   = "InsufficientBalance"
	ReasonInsufficientAllowance = "InsufficientAllowance"
	ReasonInvalidAmount         = "InvalidAmount"
	ReasonInvalidAddress        = "InvalidAddress"
	ReasonDuplicateBadge        = "DuplicateBadge"
	ReasonTransferProhibited    = "TransferProhibited"
	ReasonUnknownProposal       = "UnknownProposal"
	ReasonUnknownToken          = "UnknownToken"
	ReasonAlreadyVoted          = "AlreadyVoted"
	ReasonInvalidTx             = "InvalidTx"
	ReasonInvalidSignature      = "InvalidSignature"
	ReasonInvalidNonce          = "InvalidNonce"
	ReasonUnknownTxKind         = "UnknownTxKind"
	ReasonChainIDMismatch       = "ChainIDMismatch"
	ReasonInternal              = "Internal"
)

var reasons = []struct {
	err    error
	reason string
}{
	{ErrUnauthorized, ReasonUnauthorized},
	{ErrInsufficientBalance, ReasonInsufficientBalance},
	{ErrInsufficientAllowance, ReasonInsufficientAllowance},
	{ErrInvalidAmount, ReasonInvalidAmount},
	{ErrInvalidAddress, ReasonInvalidAddress},
	{ErrDuplicateBadge, ReasonDuplicateBadge},
	{ErrTransferProhibited, ReasonTransferProhibited},
	{ErrUnknownProposal, ReasonUnknownProposal},
	{ErrUnknownToken, ReasonUnknownToken},
	{ErrAlreadyVoted, ReasonAlreadyVoted},
	{ErrInvalidSignature, ReasonInvalidSignature},
	{ErrInvalidNonce, ReasonInvalidNonce},
	{ErrUnknownTxKind, ReasonUnknownTxKind},
	{ErrChainIDMismatch, ReasonChainIDMismatch},
	{ErrInvalidTx, ReasonInvalidTx},
}

// ReasonOf maps err to its reason code. nil maps to ReasonOK and anything
// outside the taxonomy to ReasonInternal.
func ReasonOf(err error) string {
	if err == nil {
		return ReasonOK
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ReasonInternal
}
