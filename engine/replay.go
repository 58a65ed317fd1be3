package engine

import (
	"errors"
	"fmt"
	"io"

	"github.com/blockberries/meritberry/snapshot"
	"github.com/blockberries/meritberry/types"
	"github.com/blockberries/meritberry/wal"
)

// ReplayResult contains the result of recovering state at startup
type ReplayResult struct {
	// Sequence of the snapshot restored, 0 if replay started at genesis
	SnapshotSeq uint64
	// Sequence of the last committed transaction after replay
	LastSeq uint64
	// Number of committed transactions replayed from the WAL
	TxsReplayed int
	// Transactions written without a commit and discarded
	OrphansDiscarded int
	// Whether the genesis record was written to a fresh WAL
	WroteGenesis bool
}

// recover rebuilds the application from the latest snapshot and the WAL.
// Caller must hold e.mu.
func (e *Engine) recover() (*ReplayResult, error) {
	result := &ReplayResult{}

	app, appHash, err := e.loadBase()
	if err != nil {
		return nil, err
	}
	base := app.Seq()
	result.SnapshotSeq = base

	reader, err := e.openReplayReader(base, appHash, result)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	appHash, err = e.replayFrom(reader, app, appHash, base, result)
	if err != nil {
		return nil, err
	}

	e.app = app
	e.appHash = appHash
	e.lastSnapshotSeq = base
	result.LastSeq = app.Seq()
	return result, nil
}

// loadBase returns the state replay starts from and the app hash at it:
// the latest snapshot if there is one, genesis otherwise.
func (e *Engine) loadBase() (*App, types.Hash, error) {
	if e.snapshots == nil {
		return e.genesisBase()
	}

	snap, err := e.snapshots.LoadLatest()
	if errors.Is(err, snapshot.ErrNotFound) {
		return e.genesisBase()
	}
	if err != nil {
		return nil, types.Hash{}, fmt.Errorf("loading snapshot: %w", err)
	}

	if !types.HashEqual(snap.GenesisHash, e.genesisHash) {
		return nil, types.Hash{}, fmt.Errorf("%w: snapshot %d was taken under genesis %s, running %s",
			ErrGenesisMismatch, snap.Seq,
			types.HashString(snap.GenesisHash), types.HashString(e.genesisHash))
	}

	app, err := DecodeAppState(snap.State)
	if err != nil {
		return nil, types.Hash{}, fmt.Errorf("%w: snapshot %d: %v", ErrReplayFailed, snap.Seq, err)
	}
	if app.Seq() != snap.Seq {
		return nil, types.Hash{}, fmt.Errorf("%w: snapshot %d holds state at seq %d", ErrReplayFailed, snap.Seq, app.Seq())
	}
	if app.chainID != e.config.ChainID {
		return nil, types.Hash{}, fmt.Errorf("%w: snapshot chain %q, running %q", ErrGenesisMismatch, app.chainID, e.config.ChainID)
	}

	e.logger.Info("restored snapshot", "seq", snap.Seq,
		"app_hash", types.HashString(snap.AppHash),
		"state_hash", types.HashString(snap.StateHash))
	return app, *types.CopyHash(&snap.AppHash), nil
}

// genesisBase returns the genesis state. Its state hash starts the app
// hash chain.
func (e *Engine) genesisBase() (*App, types.Hash, error) {
	app, err := NewApp(e.genesis)
	if err != nil {
		return nil, types.Hash{}, err
	}
	appHash, err := app.StateHash()
	if err != nil {
		return nil, types.Hash{}, fmt.Errorf("%w: %v", ErrReplayFailed, err)
	}
	return app, appHash, nil
}

// openReplayReader positions a reader just after the commit of base.
func (e *Engine) openReplayReader(base uint64, appHash types.Hash, result *ReplayResult) (wal.Reader, error) {
	if base > 0 {
		reader, found, err := e.wal.SearchForCommit(base)
		if err != nil {
			return nil, fmt.Errorf("%w: searching for commit %d: %v", ErrReplayFailed, base, err)
		}
		if found {
			return reader, nil
		}
		return e.anchorEmptyWAL(base, appHash, result)
	}

	reader, err := e.wal.OpenReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReplayFailed, err)
	}

	first, err := reader.Read()
	if err == io.EOF {
		reader.Close()
		if err := e.wal.WriteSync(wal.NewGenesisMessage(e.genesisHash)); err != nil {
			return nil, fmt.Errorf("%w: genesis: %v", ErrWALWrite, err)
		}
		result.WroteGenesis = true
		return &wal.NopReader{}, nil
	}
	if err != nil {
		reader.Close()
		return nil, fmt.Errorf("%w: %v", ErrReplayFailed, err)
	}

	if err := e.checkGenesisRecord(first); err != nil {
		reader.Close()
		return nil, err
	}
	return reader, nil
}

// anchorEmptyWAL handles a snapshot whose commit is not in the WAL. That is
// only consistent with an empty WAL, which is then re-anchored at base so
// later restarts can find it.
func (e *Engine) anchorEmptyWAL(base uint64, appHash types.Hash, result *ReplayResult) (wal.Reader, error) {
	reader, err := e.wal.OpenReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReplayFailed, err)
	}
	_, err = reader.Read()
	reader.Close()
	if err != io.EOF {
		return nil, fmt.Errorf("%w: WAL has no commit for snapshot seq %d", ErrReplayFailed, base)
	}

	if err := e.wal.Write(wal.NewGenesisMessage(e.genesisHash)); err != nil {
		return nil, fmt.Errorf("%w: genesis: %v", ErrWALWrite, err)
	}
	if err := e.wal.WriteSync(wal.NewCommitMessage(base, appHash)); err != nil {
		return nil, fmt.Errorf("%w: anchor commit: %v", ErrWALWrite, err)
	}

	e.logger.Warn("WAL empty, anchored at snapshot", "seq", base)
	result.WroteGenesis = true
	return &wal.NopReader{}, nil
}

// checkGenesisRecord verifies that msg is the genesis record of this
// engine's genesis.
func (e *Engine) checkGenesisRecord(msg *wal.Message) error {
	if msg.Type != wal.MsgTypeGenesis {
		return fmt.Errorf("%w: WAL starts with %s record", ErrGenesisMismatch, msg.Type)
	}
	h, err := wal.DecodeHash(msg.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReplayFailed, err)
	}
	if !types.HashEqual(h, e.genesisHash) {
		return fmt.Errorf("%w: WAL genesis %s, running %s",
			ErrGenesisMismatch, types.HashString(h), types.HashString(e.genesisHash))
	}
	return nil
}

// replayFrom applies every committed transaction after base, extending
// appHash with each, and returns the app hash it ends at. A transaction
// record is held until its commit arrives; one with no commit was never
// applied and is discarded.
func (e *Engine) replayFrom(reader wal.Reader, app *App, appHash types.Hash, base uint64, result *ReplayResult) (types.Hash, error) {
	var pending *wal.Message

	for {
		msg, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return types.Hash{}, fmt.Errorf("%w: reading WAL: %v", ErrReplayFailed, err)
		}

		switch msg.Type {
		case wal.MsgTypeTx:
			if msg.Seq <= base {
				continue
			}
			if msg.Seq != app.Seq()+1 {
				return types.Hash{}, fmt.Errorf("%w: tx at seq %d follows commit %d", ErrReplayFailed, msg.Seq, app.Seq())
			}
			if pending != nil {
				// Earlier write of the same seq never committed
				result.OrphansDiscarded++
			}
			pending = msg

		case wal.MsgTypeCommit:
			if msg.Seq <= base {
				continue
			}
			if pending == nil || pending.Seq != msg.Seq {
				return types.Hash{}, fmt.Errorf("%w: commit %d without its transaction", ErrReplayFailed, msg.Seq)
			}
			receipt, err := e.replayCommit(app, appHash, pending, msg)
			if err != nil {
				return types.Hash{}, err
			}
			e.record(receipt)
			appHash = receipt.AppHash
			pending = nil
			result.TxsReplayed++

		case wal.MsgTypeGenesis:
			if err := e.checkGenesisRecord(msg); err != nil {
				return types.Hash{}, err
			}

		case wal.MsgTypeSnapshot:
			// Informational; snapshots are found through the store

		default:
			return types.Hash{}, fmt.Errorf("%w: unknown record type %d at seq %d", ErrReplayFailed, msg.Type, msg.Seq)
		}
	}

	if pending != nil {
		result.OrphansDiscarded++
	}
	if result.OrphansDiscarded > 0 {
		e.logger.Warn("discarded uncommitted transactions", "count", result.OrphansDiscarded)
	}
	return appHash, nil
}

// replayCommit re-applies the transaction in txMsg, extends prev with it
// and checks the result against the app hash in commitMsg. The returned
// receipt is rebuilt from the replayed events; its time is the replay time.
func (e *Engine) replayCommit(app *App, prev types.Hash, txMsg, commitMsg *wal.Message) (*types.Receipt, error) {
	seq := commitMsg.Seq

	tx, err := wal.DecodeTx(txMsg.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding tx %d: %v", ErrReplayFailed, seq, err)
	}
	msg, err := types.DecodeMsg(tx)
	if err != nil {
		return nil, fmt.Errorf("%w: tx %d: %v", ErrReplayFailed, seq, err)
	}
	events, err := app.DeliverTx(seq, tx, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: applying tx %d: %v", ErrReplayFailed, seq, err)
	}

	want, err := wal.DecodeHash(commitMsg.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: commit %d: %v", ErrReplayFailed, seq, err)
	}
	got, err := chainAppHash(prev, seq, tx, events)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReplayFailed, err)
	}
	if !types.HashEqual(got, want) {
		return nil, fmt.Errorf("%w: app hash mismatch at seq %d: replayed %s, logged %s",
			ErrReplayFailed, seq, types.HashString(got), types.HashString(want))
	}

	return &types.Receipt{
		TxHash:  types.TxHash(tx),
		Seq:     seq,
		Sender:  tx.Sender,
		Kind:    tx.Kind,
		Code:    types.ReasonOK,
		Events:  events,
		AppHash: got,
		Time:    e.now().UnixNano(),
	}, nil
}
