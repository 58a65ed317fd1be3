// Package registry implements the learning-badge credential registry.
//
// Badges are minted by a single issuer, numbered from 1, and carry the
// course name, the recipient's display name and the study hours. An
// address holds at most one badge.
//
// Transfer capability is a property of the registry's token class rather
// than of individual call sites. TransferFrom is the one entry point for
// moving a badge and asks the class whether the move is allowed:
//
//	Soulbound      every transfer fails with ErrTransferProhibited
//	Transferable   the owner may move its badge to an address without one
//
// Registries are Soulbound unless built with WithClass.
package registry
