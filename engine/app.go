package engine

import (
	"fmt"

	"github.com/blockberries/meritberry/governance"
	"github.com/blockberries/meritberry/ledger"
	"github.com/blockberries/meritberry/registry"
	"github.com/blockberries/meritberry/types"
)

// App composes the three state machines with per-sender nonces. It is not
// safe for concurrent mutation; the engine serializes access.
type App struct {
	chainID  string
	ledger   *ledger.Ledger
	gov      *governance.Process
	registry *registry.Registry

	// Next expected nonce per sender. Missing keys read as zero.
	nonces map[types.Address]uint64

	// Sequence of the last committed transaction, 0 at genesis
	seq uint64
}

// AppState is the serializable form of an App. Its deterministic encoding
// is what the app hash commits to.
type AppState struct {
	ChainID    string                   `cbor:"1,keyasint"`
	Seq        uint64                   `cbor:"2,keyasint"`
	Ledger     *ledger.State            `cbor:"3,keyasint"`
	Governance *governance.State        `cbor:"4,keyasint"`
	Registry   *registry.State          `cbor:"5,keyasint"`
	Nonces     map[types.Address]uint64 `cbor:"6,keyasint"`
}

// NewApp builds the application state described by g.
func NewApp(g Genesis) (*App, error) {
	if err := g.ValidateBasic(); err != nil {
		return nil, err
	}
	g = g.withDefaults()

	class, err := registry.ParseClass(g.BadgeClass)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGenesis, err)
	}

	l, err := ledger.New(g.Deployer, g.InitialSupply, g.Token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGenesis, err)
	}

	return &App{
		chainID:  g.ChainID,
		ledger:   l,
		gov:      governance.New(g.GovernanceAuthority, l),
		registry: registry.New(g.Issuer, registry.WithClass(class)),
		nonces:   make(map[types.Address]uint64),
	}, nil
}

// RestoreApp rebuilds an App from an exported state.
func RestoreApp(st *AppState) (*App, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: nil app state", ErrReplayFailed)
	}

	l, err := ledger.Restore(st.Ledger)
	if err != nil {
		return nil, err
	}
	gov, err := governance.Restore(st.Governance, l)
	if err != nil {
		return nil, err
	}
	reg, err := registry.Restore(st.Registry)
	if err != nil {
		return nil, err
	}

	nonces := make(map[types.Address]uint64, len(st.Nonces))
	for addr, n := range st.Nonces {
		nonces[addr] = n
	}

	return &App{
		chainID:  st.ChainID,
		ledger:   l,
		gov:      gov,
		registry: reg,
		nonces:   nonces,
		seq:      st.Seq,
	}, nil
}

// DecodeAppState decodes an App from its encoded state.
func DecodeAppState(data []byte) (*App, error) {
	st := &AppState{}
	if err := types.UnmarshalState(data, st); err != nil {
		return nil, fmt.Errorf("decoding app state: %w", err)
	}
	return RestoreApp(st)
}

// Export returns a copy of the application state
func (a *App) Export() *AppState {
	nonces := make(map[types.Address]uint64, len(a.nonces))
	for addr, n := range a.nonces {
		nonces[addr] = n
	}
	return &AppState{
		ChainID:    a.chainID,
		Seq:        a.seq,
		Ledger:     a.ledger.Export(),
		Governance: a.gov.Export(),
		Registry:   a.registry.Export(),
		Nonces:     nonces,
	}
}

// EncodeState returns the deterministic encoding of the application state
func (a *App) EncodeState() ([]byte, error) {
	return types.Marshal(a.Export())
}

// StateHash returns the hash of the encoded application state. It walks
// the whole state; the engine only needs it at genesis and for snapshots.
func (a *App) StateHash() (types.Hash, error) {
	data, err := a.EncodeState()
	if err != nil {
		return types.Hash{}, err
	}
	return types.HashAppState(data), nil
}

// chainAppHash returns the app hash after tx committed at seq with events,
// given the app hash prev before it.
func chainAppHash(prev types.Hash, seq uint64, tx *types.Tx, events []types.Event) (types.Hash, error) {
	encoded, err := types.Marshal(events)
	if err != nil {
		return types.Hash{}, fmt.Errorf("encoding events: %w", err)
	}
	return types.ChainAppHash(prev, seq, types.TxHash(tx), encoded), nil
}

// Seq returns the sequence of the last committed transaction
func (a *App) Seq() uint64 {
	return a.seq
}

// NextNonce returns the nonce the next transaction from sender must carry
func (a *App) NextNonce(sender types.Address) uint64 {
	return a.nonces[sender]
}

// CheckTx runs the nonce check and the guards of the operation msg
// carries, without mutating anything.
func (a *App) CheckTx(tx *types.Tx, msg types.Msg) error {
	if want := a.nonces[tx.Sender]; tx.Nonce != want {
		return fmt.Errorf("%w: expected %d, got %d", types.ErrInvalidNonce, want, tx.Nonce)
	}
	return a.checkMsg(tx.Sender, msg)
}

func (a *App) checkMsg(sender types.Address, msg types.Msg) error {
	switch m := msg.(type) {
	case *types.MsgMint:
		return a.ledger.CheckMint(sender, m.To, m.Amount)
	case *types.MsgBurn:
		return a.ledger.CheckBurn(sender, m.Amount)
	case *types.MsgTransfer:
		return a.ledger.CheckTransfer(sender, m.To, m.Amount)
	case *types.MsgApprove:
		return a.ledger.CheckApprove(sender, m.Spender, m.Amount)
	case *types.MsgTransferFrom:
		return a.ledger.CheckTransferFrom(sender, m.From, m.To, m.Amount)
	case *types.MsgCreateProposal:
		// Any caller may propose
		return nil
	case *types.MsgVote:
		return a.gov.CheckVote(sender, m.ProposalID)
	case *types.MsgMintBadge:
		return a.registry.CheckMintBadge(sender, m.Recipient)
	case *types.MsgTransferBadge:
		return a.registry.CheckTransferFrom(sender, m.From, m.To, m.TokenID)
	default:
		return fmt.Errorf("%w: %T", types.ErrUnknownTxKind, msg)
	}
}

// DeliverTx applies tx as the transaction at seq. The sender's nonce is
// bumped only if the operation succeeds.
func (a *App) DeliverTx(seq uint64, tx *types.Tx, msg types.Msg) ([]types.Event, error) {
	if err := a.CheckTx(tx, msg); err != nil {
		return nil, err
	}
	if seq != a.seq+1 {
		return nil, fmt.Errorf("%w: expected seq %d, got %d", ErrReplayFailed, a.seq+1, seq)
	}

	events, err := a.deliverMsg(seq, tx.Sender, msg)
	if err != nil {
		return nil, err
	}

	a.nonces[tx.Sender] = tx.Nonce + 1
	a.seq = seq
	return events, nil
}

func (a *App) deliverMsg(seq uint64, sender types.Address, msg types.Msg) ([]types.Event, error) {
	switch m := msg.(type) {
	case *types.MsgMint:
		return a.ledger.Mint(sender, m.To, m.Amount)
	case *types.MsgBurn:
		return a.ledger.Burn(sender, m.Amount)
	case *types.MsgTransfer:
		return a.ledger.Transfer(sender, m.To, m.Amount)
	case *types.MsgApprove:
		return a.ledger.Approve(sender, m.Spender, m.Amount)
	case *types.MsgTransferFrom:
		return a.ledger.TransferFrom(sender, m.From, m.To, m.Amount)
	case *types.MsgCreateProposal:
		_, events := a.gov.CreateProposalAt(sender, m.Description, seq)
		return events, nil
	case *types.MsgVote:
		return a.gov.Vote(sender, m.ProposalID, m.Support)
	case *types.MsgMintBadge:
		_, events, err := a.registry.MintBadgeAt(sender, m.Recipient, m.CourseName, m.RecipientName, m.Hours, seq)
		return events, err
	case *types.MsgTransferBadge:
		return a.registry.TransferFrom(sender, m.From, m.To, m.TokenID)
	default:
		return nil, fmt.Errorf("%w: %T", types.ErrUnknownTxKind, msg)
	}
}

// Ledger returns the token ledger
func (a *App) Ledger() *ledger.Ledger {
	return a.ledger
}

// Governance returns the governance process
func (a *App) Governance() *governance.Process {
	return a.gov
}

// Registry returns the credential registry
func (a *App) Registry() *registry.Registry {
	return a.registry
}
