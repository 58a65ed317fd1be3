// Package ledger implements the fungible credit ledger.
//
// A Ledger tracks balances, total supply and spending allowances for one
// token. Issuance is controlled: only the owner fixed at construction may
// Mint. Any holder may Burn or Transfer its own balance, and may Approve a
// spender to move part of it with TransferFrom.
//
// Invariants held after every call, successful or not:
//
//	TotalSupply() == sum of BalanceOf(a) over all addresses
//	BalanceOf(a) >= 0 for every address
//
// Each mutating method has a Check counterpart that runs the same guards
// under a read lock. The engine uses the Check methods to reject a
// transaction before anything is written to the log.
package ledger
