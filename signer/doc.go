// Package signer holds caller identities used to sign transactions.
//
// A caller identity is an Ed25519 key pair. The address the modules see is
// derived from the public key, so whoever holds the key file can act as
// that caller.
//
// # Replay Protection
//
// The engine enforces strictly increasing nonces per sender. The signer
// adds a local guard: LastSignState records the last nonce signed and the
// hash of its sign bytes, and SignTx refuses to sign a different
// transaction at a nonce it already used or at a lower one. Re-signing
// the identical transaction returns the cached signature.
//
// # File Format
//
// FileSigner keeps two JSON files, both written with write-then-rename and
// mode 0600:
//
//	key.json:       {"address": "0x3fa1...", "pub_key": "...", "priv_key": "..."}
//	key.json.state: {"chain_id": "merit-1", "nonce": 4, "signed": true, ...}
//
// The state file is persisted before SignTx returns.
//
// # Usage Example
//
//	s, err := signer.LoadFileSigner("alice.json", signer.StatePath("alice.json"))
//	if err != nil {
//	    return err
//	}
//	tx, _ := types.NewTx("merit-1", s.Address(), nonce, &types.MsgTransfer{To: bob, Amount: amt})
//	if err := s.SignTx("merit-1", tx); err != nil {
//	    return err // ErrDoubleSign or ErrNonceRegression
//	}
package signer
