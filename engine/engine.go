package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/blockberries/meritberry/ledger"
	"github.com/blockberries/meritberry/receipts"
	"github.com/blockberries/meritberry/snapshot"
	"github.com/blockberries/meritberry/types"
	"github.com/blockberries/meritberry/wal"
)

// Engine is the single writer for the composed application. Submit
// applies transactions one at a time in submission order, writing each to
// the WAL before it is applied.
//
// If a commit record cannot be written the engine halts: Submit returns
// ErrHalted and Halted reports the cause. The transaction that failed to
// commit has already been applied in memory, so queries on a halted engine
// may reflect it even though it is not durable. Restarting replays the WAL,
// which discards it.
type Engine struct {
	mu sync.RWMutex

	// Configuration
	config      *Config
	genesis     Genesis
	genesisHash types.Hash

	// Components
	app       *App
	wal       wal.WAL
	snapshots snapshot.Store
	receipts  *receipts.Pool
	logger    *slog.Logger

	// Chained app hash after the last commit. Genesis starts the chain
	// with the hash of the genesis state.
	appHash         types.Hash
	lastSnapshotSeq uint64

	// Counters
	txsCommitted uint64
	txsRejected  uint64
	replay       *ReplayResult

	// State
	started bool
	// Set when a commit could not be made durable. In-memory state may
	// then be ahead of the log, so no further transactions are accepted.
	halted error

	now func() time.Time
}

// NewEngine creates a new engine. A nil WAL keeps nothing on disk, a nil
// snapshot store disables snapshots and a nil logger uses slog.Default().
func NewEngine(
	config *Config,
	w wal.WAL,
	snapshots snapshot.Store,
	logger *slog.Logger,
) (*Engine, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if err := config.ValidateBasic(); err != nil {
		return nil, err
	}
	if w == nil {
		w = &wal.NopWAL{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	genesis := config.Genesis.withDefaults()
	app, err := NewApp(genesis)
	if err != nil {
		return nil, err
	}
	appHash, err := app.StateHash()
	if err != nil {
		return nil, err
	}

	return &Engine{
		config:      config,
		genesis:     genesis,
		genesisHash: genesis.Hash(),
		app:         app,
		wal:         w,
		snapshots:   snapshots,
		receipts:    receipts.NewPool(config.Receipts),
		logger:      logger.With("component", "engine", "chain_id", config.ChainID),
		appHash:     appHash,
		now:         time.Now,
	}, nil
}

// Start starts the WAL, restores the latest snapshot and replays the
// committed transactions after it.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return ErrAlreadyStarted
	}

	if err := e.wal.Start(); err != nil {
		return fmt.Errorf("failed to start WAL: %w", err)
	}

	result, err := e.recover()
	if err != nil {
		e.wal.Stop()
		return err
	}
	e.replay = result

	e.logger.Info("engine started",
		"seq", e.app.Seq(),
		"snapshot_seq", result.SnapshotSeq,
		"replayed", result.TxsReplayed,
		"app_hash", types.HashString(e.appHash))

	e.started = true
	return nil
}

// Stop flushes and stops the WAL
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return ErrNotStarted
	}
	e.started = false

	if err := e.wal.FlushAndSync(); err != nil {
		e.logger.Error("failed to flush WAL on stop", "error", err)
	}
	if err := e.wal.Stop(); err != nil {
		return fmt.Errorf("failed to stop WAL: %w", err)
	}
	return nil
}

// ChainID returns the chain ID
func (e *Engine) ChainID() string {
	return e.config.ChainID
}

// Halted returns why the engine stopped accepting transactions, or nil.
func (e *Engine) Halted() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.halted
}

// GenesisHash returns the hash of the genesis the engine runs
func (e *Engine) GenesisHash() types.Hash {
	return *types.CopyHash(&e.genesisHash)
}

// Submit verifies, checks and commits tx. The receipt is returned for
// committed and rejected transactions alike; a rejected transaction also
// returns an error wrapping its reason, and leaves the WAL, nonces and
// state untouched.
func (e *Engine) Submit(tx *types.Tx) (*types.Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return nil, ErrNotStarted
	}
	if e.halted != nil {
		return nil, fmt.Errorf("%w: %v", ErrHalted, e.halted)
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: nil transaction", types.ErrInvalidTx)
	}

	receipt := &types.Receipt{
		TxHash: types.TxHash(tx),
		Sender: tx.Sender,
		Kind:   tx.Kind,
		Time:   e.now().UnixNano(),
	}

	msg, err := e.checkTx(tx)
	if err != nil {
		return e.reject(receipt, err)
	}

	seq := e.app.Seq() + 1
	events, err := e.commit(seq, tx, msg)
	if err != nil {
		return e.reject(receipt, err)
	}

	receipt.Seq = seq
	receipt.Code = types.ReasonOK
	receipt.Events = events
	receipt.AppHash = *types.CopyHash(&e.appHash)
	e.record(receipt)
	e.txsCommitted++

	e.logger.Debug("committed tx",
		"seq", seq, "kind", tx.Kind, "sender", tx.Sender,
		"tx_hash", types.HashString(receipt.TxHash))

	e.maybeSnapshot()
	return receipt, nil
}

// checkTx runs the stateless checks, decodes the payload and runs the
// nonce check and module guards.
func (e *Engine) checkTx(tx *types.Tx) (types.Msg, error) {
	if err := types.VerifyTx(e.config.ChainID, tx); err != nil {
		return nil, err
	}
	msg, err := types.DecodeMsg(tx)
	if err != nil {
		return nil, err
	}
	if err := e.app.CheckTx(tx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// commit writes tx to the WAL, applies it and writes the commit marker.
// Caller must hold e.mu.
func (e *Engine) commit(seq uint64, tx *types.Tx, msg types.Msg) ([]types.Event, error) {
	txMsg, err := wal.NewTxMessage(seq, tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWALWrite, err)
	}
	// Nothing applied yet. A tx record without a commit is discarded on
	// replay, so a failure here leaves the engine usable.
	if err := e.wal.Write(txMsg); err != nil {
		e.logger.Error("failed to write tx to WAL", "seq", seq, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrWALWrite, err)
	}

	events, err := e.app.DeliverTx(seq, tx, msg)
	if err != nil {
		// Guards passed in checkTx, so this is an invariant breach
		e.halt(fmt.Errorf("deliver failed after check at seq %d: %w", seq, err))
		return nil, fmt.Errorf("%w: %v", ErrHalted, err)
	}

	appHash, err := chainAppHash(e.appHash, seq, tx, events)
	if err != nil {
		e.halt(fmt.Errorf("computing app hash at seq %d: %w", seq, err))
		return nil, fmt.Errorf("%w: %v", ErrHalted, err)
	}

	commitMsg := wal.NewCommitMessage(seq, appHash)
	if e.config.WALSync {
		err = e.wal.WriteSync(commitMsg)
	} else {
		err = e.wal.Write(commitMsg)
	}
	if err != nil {
		e.halt(fmt.Errorf("writing commit %d: %w", seq, err))
		return nil, fmt.Errorf("%w: commit %d: %v", ErrWALWrite, seq, err)
	}

	e.appHash = appHash
	return events, nil
}

// reject records a receipt for a rejected transaction.
// Caller must hold e.mu.
func (e *Engine) reject(receipt *types.Receipt, err error) (*types.Receipt, error) {
	receipt.Code = types.ReasonOf(err)
	receipt.Log = err.Error()
	receipt.AppHash = *types.CopyHash(&e.appHash)
	e.record(receipt)
	e.txsRejected++

	e.logger.Debug("rejected tx",
		"kind", receipt.Kind, "sender", receipt.Sender, "reason", receipt.Code)
	return receipt, err
}

// record stores a receipt and prunes expired ones.
// Caller must hold e.mu.
func (e *Engine) record(receipt *types.Receipt) {
	if err := e.receipts.Add(receipt); err != nil {
		e.logger.Warn("failed to record receipt", "error", err)
	}
	e.receipts.Prune(e.now())
}

// halt stops the engine accepting transactions.
// Caller must hold e.mu.
func (e *Engine) halt(err error) {
	e.halted = err
	e.logger.Error("engine halted", "error", err)
}

// maybeSnapshot takes a snapshot when the interval has elapsed. Failures
// are logged; the WAL still holds everything.
// Caller must hold e.mu.
func (e *Engine) maybeSnapshot() {
	if e.snapshots == nil || e.config.SnapshotInterval == 0 {
		return
	}
	if e.app.Seq()-e.lastSnapshotSeq < e.config.SnapshotInterval {
		return
	}
	if err := e.snapshot(); err != nil {
		e.logger.Warn("snapshot failed", "seq", e.app.Seq(), "error", err)
	}
}

// Snapshot saves the current state and checkpoints the WAL up to it.
func (e *Engine) Snapshot() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return ErrNotStarted
	}
	if e.snapshots == nil {
		return ErrNoSnapshotStore
	}
	return e.snapshot()
}

// snapshot saves the current state.
// Caller must hold e.mu.
func (e *Engine) snapshot() error {
	seq := e.app.Seq()

	// The commit of seq must be durable before the WAL is checkpointed
	if err := e.wal.FlushAndSync(); err != nil {
		return fmt.Errorf("%w: flushing WAL: %v", ErrSnapshotFailed, err)
	}

	state, err := e.app.EncodeState()
	if err != nil {
		return fmt.Errorf("%w: encoding state: %v", ErrSnapshotFailed, err)
	}
	if err := e.snapshots.Save(snapshot.New(seq, e.genesisHash, e.appHash, state)); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotFailed, err)
	}
	e.lastSnapshotSeq = seq

	if err := e.wal.WriteSync(wal.NewSnapshotMessage(seq)); err != nil {
		e.logger.Warn("failed to write snapshot marker", "seq", seq, "error", err)
	}
	if err := e.wal.Checkpoint(seq); err != nil {
		e.logger.Warn("failed to checkpoint WAL", "seq", seq, "error", err)
	}
	return nil
}

// --- Queries ---

// BalanceOf returns the token balance of addr
func (e *Engine) BalanceOf(addr types.Address) types.Amount {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.app.Ledger().BalanceOf(addr)
}

// TotalSupply returns the token supply
func (e *Engine) TotalSupply() types.Amount {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.app.Ledger().TotalSupply()
}

// Owner returns the token issuance authority
func (e *Engine) Owner() types.Address {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.app.Ledger().Owner()
}

// TokenMetadata returns the token metadata
func (e *Engine) TokenMetadata() ledger.Metadata {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.app.Ledger().Metadata()
}

// Allowance returns what spender may move on behalf of owner
func (e *Engine) Allowance(owner, spender types.Address) types.Amount {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.app.Ledger().Allowance(owner, spender)
}

// GetVoteStats returns the tally of a proposal
func (e *Engine) GetVoteStats(id types.ProposalID) (types.VoteStats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.app.Governance().GetVoteStats(id)
}

// GetProposal returns a copy of a proposal
func (e *Engine) GetProposal(id types.ProposalID) (*types.Proposal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.app.Governance().GetProposal(id)
}

// GetBadgeMetadata returns a minted badge
func (e *Engine) GetBadgeMetadata(tokenID types.TokenID) (types.Badge, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.app.Registry().GetBadgeMetadata(tokenID)
}

// BadgeBalanceOf returns the number of badges addr holds, 0 or 1
func (e *Engine) BadgeBalanceOf(addr types.Address) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.app.Registry().BalanceOf(addr)
}

// BadgeOf returns the badge held by addr, if any
func (e *Engine) BadgeOf(addr types.Address) (types.Badge, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.app.Registry().BadgeOf(addr)
}

// NextNonce returns the nonce the next transaction from sender must carry
func (e *Engine) NextNonce(sender types.Address) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.app.NextNonce(sender)
}

// LastSeq returns the sequence of the last committed transaction
func (e *Engine) LastSeq() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.app.Seq()
}

// AppHash returns the chained app hash after the last commit
func (e *Engine) AppHash() types.Hash {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return *types.CopyHash(&e.appHash)
}

// Receipt returns the receipt of a recently submitted transaction
func (e *Engine) Receipt(txHash types.Hash) (*types.Receipt, error) {
	return e.receipts.Get(txHash)
}

// --- Metrics and Monitoring ---

// Metrics holds engine metrics
type Metrics struct {
	ChainID         string `json:"chain_id"`
	LastSeq         uint64 `json:"last_seq"`
	AppHash         string `json:"app_hash"`
	TxsCommitted    uint64 `json:"txs_committed"`
	TxsRejected     uint64 `json:"txs_rejected"`
	TxsReplayed     int    `json:"txs_replayed"`
	LastSnapshotSeq uint64 `json:"last_snapshot_seq"`
	Receipts        int    `json:"receipts"`
	TotalSupply     string `json:"total_supply"`
	Holders         int    `json:"holders"`
	Proposals       int    `json:"proposals"`
	Badges          uint64 `json:"badges"`
	Halted          bool   `json:"halted"`
}

// GetMetrics returns current engine metrics
func (e *Engine) GetMetrics() (*Metrics, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.started {
		return nil, ErrNotStarted
	}

	m := &Metrics{
		ChainID:         e.config.ChainID,
		LastSeq:         e.app.Seq(),
		AppHash:         types.HashString(e.appHash),
		TxsCommitted:    e.txsCommitted,
		TxsRejected:     e.txsRejected,
		LastSnapshotSeq: e.lastSnapshotSeq,
		Receipts:        e.receipts.Size(),
		TotalSupply:     e.app.Ledger().TotalSupply().String(),
		Holders:         len(e.app.Ledger().Holders()),
		Proposals:       e.app.Governance().ProposalCount(),
		Badges:          e.app.Registry().TotalBadges(),
		Halted:          e.halted != nil,
	}
	if e.replay != nil {
		m.TxsReplayed = e.replay.TxsReplayed
	}
	return m, nil
}

// IsRejection reports whether err from Submit is a rejection of the
// transaction itself rather than an engine failure.
func IsRejection(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrWALWrite) || errors.Is(err, ErrHalted) || errors.Is(err, ErrNotStarted) {
		return false
	}
	return types.ReasonOf(err) != types.ReasonInternal
}
