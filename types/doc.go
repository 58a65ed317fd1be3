// Package types defines the core data structures shared by the Meritberry
// ledger, governance and badge registry state machines.
//
// # Core Types
//
// Address: Opaque account identity. Addresses derived from keys are the
// hex of a domain-keyed BLAKE3 digest of the ed25519 public key; opaque
// names are accepted for tests and tooling.
//
// Amount: Arbitrary-precision token quantity backed by math/big. Methods
// never mutate the receiver, so amounts can be shared freely.
//
// Tx: A signed request from one caller identity. Every Tx names its chain,
// its sender, a per-sender nonce and a typed message (MsgMint, MsgVote,
// MsgMintBadge and so on) carried as an encoded payload.
//
// Proposal: A governance proposal with its yes/no tallies and voter set.
//
// Badge: Metadata for one learning badge (course, recipient name, hours).
//
// Receipt: Outcome of one submitted transaction, with a reason code and the
// events emitted by the mutation.
//
// # Errors
//
// The rejection taxonomy (ErrUnauthorized, ErrInsufficientBalance,
// ErrDuplicateBadge, ...) is shared by every module. ReasonOf maps any
// wrapped error to the stable reason code reported in receipts.
//
// # Serialization
//
// All persisted and signed types are encoded with deterministic CBOR
// (github.com/fxamacker/cbor/v2, core deterministic options) using integer
// map keys. Identical values always produce identical bytes, which sign
// bytes, tx hashes and the app hash depend on.
//
// # Hashing
//
// Hashes are 32-byte BLAKE3 digests. Transactions, application state and
// addresses are hashed under separate domain keys so a digest from one
// domain can never be confused with another.
//
// # Immutability
//
// Types that cross package boundaries are copied on the way out (CopyHash,
// CopyProposal, CopyReceipt). Callers may keep and modify what they receive
// without affecting engine state.
package types
