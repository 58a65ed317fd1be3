// Package snapshot stores point-in-time copies of application state.
//
// A snapshot taken after sequence N lets the engine restart without
// replaying the log from genesis: it restores the snapshot and replays
// only the commits after N. Once a snapshot is saved, log segments before
// it can be checkpointed away.
//
// Files are deterministic CBOR compressed with zstd, written to a temp
// file and renamed into place. Each snapshot carries the hash of its
// state, checked on load; a corrupt newest file falls back to the one
// before it.
package snapshot
