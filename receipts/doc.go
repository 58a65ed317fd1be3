// Package receipts keeps the outcome of recent transaction submissions.
//
// Every submission, committed or rejected, produces a types.Receipt. The
// engine records it here so a client can confirm its own transaction by
// hash after the fact. The pool is bounded two ways: MaxReceipts caps the
// count (oldest evicted first) and MaxAge drops receipts on Prune.
//
// Receipts are not part of the application state and are not replayed
// from the write-ahead log; a restart starts with an empty pool.
//
// All methods are safe for concurrent use. Stored receipts are copies, and
// Get returns a copy.
package receipts
