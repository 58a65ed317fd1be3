package engine

import "errors"

// Engine errors
var (
	ErrAlreadyStarted  = errors.New("engine already started")
	ErrNotStarted      = errors.New("engine not started")
	ErrHalted          = errors.New("engine halted")
	ErrInvalidConfig   = errors.New("invalid config")
	ErrInvalidGenesis  = errors.New("invalid genesis")
	ErrGenesisMismatch = errors.New("genesis mismatch")
	ErrWALWrite        = errors.New("WAL write failed")
	ErrReplayFailed    = errors.New("WAL replay failed")
	ErrSnapshotFailed  = errors.New("snapshot failed")
	ErrNoSnapshotStore = errors.New("no snapshot store configured")
)
