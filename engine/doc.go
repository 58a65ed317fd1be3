// Package engine implements the single-writer transaction executor.
//
// The engine owns the composed application (token ledger, governance
// process and credential registry, plus per-sender nonces) and applies
// signed transactions to it one at a time:
//
//	verify → decode → nonce + guards → WAL tx → apply → WAL commit → receipt
//
// # Core Components
//
// Engine: Serializes Submit, keeps the WAL ahead of the in-memory state and
// records a receipt for every submission, committed or rejected.
//
// App: The composed state. CheckTx runs the nonce check and the guards of
// the operation a transaction carries; DeliverTx applies it. Its
// deterministic CBOR encoding is hashed into the app hash.
//
// Replay: Crash recovery from the write-ahead log. Start restores the
// latest snapshot (or genesis), then re-applies every committed
// transaction after it, checking each against the app hash logged in its
// commit record.
//
// Config: YAML configuration with the genesis that fixes the initial
// state. The genesis hash is the first WAL record and is carried by every
// snapshot, so a node cannot replay a log under a different genesis.
//
// # Usage Example
//
//	cfg, err := engine.LoadConfig("config.yaml")
//	if err != nil {
//	    return err
//	}
//	w, _ := wal.NewFileWAL(cfg.WALPath())
//	snaps, _ := snapshot.NewFileStore(cfg.SnapshotPath(), cfg.SnapshotRetain, logger)
//	eng, err := engine.NewEngine(cfg, w, snaps, logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.Start(); err != nil {
//	    return err
//	}
//	defer eng.Stop()
//
//	receipt, err := eng.Submit(tx)
//	if engine.IsRejection(err) {
//	    fmt.Println(receipt.Code) // e.g. InsufficientBalance
//	}
//
// # Failure Model
//
// A rejected transaction leaves no WAL record, does not consume a nonce
// and does not change the app hash. If the commit record of an applied
// transaction cannot be written, the engine halts: the in-memory state may
// be ahead of the log, and every later Submit fails with ErrHalted until
// the process restarts and replays.
//
// # Thread Safety
//
// All public methods are thread-safe. Submit holds the write lock for the
// whole verify-to-commit sequence; queries take the read lock.
package engine
