// Package wal implements the write-ahead log that makes committed
// transactions durable.
//
// The engine appends every transaction that passed its guards before
// applying it, then appends a commit record carrying the resulting app
// hash. After a restart the log is replayed to rebuild application state,
// and each replayed commit is checked against the recorded app hash.
//
// # Core Interface
//
// WAL defines the interface for writing and reading log records:
//
//	type WAL interface {
//	    Write(msg *Message) error
//	    WriteSync(msg *Message) error
//	    SearchForCommit(seq uint64) (Reader, bool, error)
//	    OpenReader() (Reader, error)
//	    Checkpoint(seq uint64) error
//	    ...
//	}
//
// # Implementation
//
// FileWAL: Disk-based WAL using length-prefixed messages with CRC32 checksums.
// Messages are buffered for performance and fsync'd on commit records.
// NopWAL: Discards everything, for tests and in-memory engines.
//
// # Message Types
//
//	- MsgTypeGenesis: First record of a fresh log, carries the genesis hash
//	- MsgTypeTx: A transaction that passed every guard, at sequence Seq
//	- MsgTypeCommit: Transaction Seq was applied; carries the app hash
//	- MsgTypeSnapshot: State up to Seq was written to a snapshot
//
// A transaction record with no commit after it was never applied and is
// discarded on replay.
//
// # File Format
//
// Each entry is encoded as:
//
//	[4 bytes: length][N bytes: CBOR-encoded message][4 bytes: CRC32]
//
// CRC32 detects corruption from incomplete writes or disk errors. On
// Start, a torn record at the end of the newest segment is truncated.
//
// # Rotation and Cleanup
//
// Segments are named wal-00000, wal-00001, ... and rotate once they exceed
// the configured size. Checkpoint(seq) deletes old segments whose records
// all precede seq, after a snapshot at seq has been persisted.
//
// # Thread Safety
//
// FileWAL uses internal locking to ensure thread-safe writes from multiple
// goroutines. However, only one WAL instance should write to a directory.
package wal
