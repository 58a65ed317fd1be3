// Package governance implements the proposal and voting process.
//
// Any address may open a proposal. Proposals are numbered from 0 in
// creation order, are never deleted, and stay open indefinitely: there is
// no quorum, deadline or closing transition. Each address may vote once per
// proposal, yes or no, and the tally is a raw count of votes.
//
// A Process is bound at construction to an authority address and a
// read-only handle on the token ledger. Neither is consulted when creating
// proposals or voting; they are exposed for callers that build weighting
// or execution on top.
package governance
