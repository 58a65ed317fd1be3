package governance

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/blockberries/meritberry/types"
)

// ErrCorruptState is returned when restoring a state whose tallies do not
// match its voter sets.
var ErrCorruptState = errors.New("corrupt governance state")

// TokenReader is the read-only view of the token ledger a governance
// process is bound to.
type TokenReader interface {
	BalanceOf(addr types.Address) types.Amount
	TotalSupply() types.Amount
}

// Process is an append-only set of proposals accepting one vote per
// address. Tallies are raw counts; token holdings do not weight votes.
type Process struct {
	mu sync.RWMutex

	authority types.Address
	token     TokenReader

	// Indexed by ProposalID. IDs are dense and never reused.
	proposals []*types.Proposal
}

// New creates an empty governance process. The token handle is recorded
// for callers that want it; voting never consults it.
func New(authority types.Address, token TokenReader) *Process {
	return &Process{
		authority: authority,
		token:     token,
	}
}

// Authority returns the address recorded at construction
func (p *Process) Authority() types.Address {
	return p.authority
}

// Token returns the token handle recorded at construction
func (p *Process) Token() TokenReader {
	return p.token
}

// CreateProposal opens a new proposal and returns its id. Any caller may
// propose, and identical descriptions yield distinct proposals.
func (p *Process) CreateProposal(caller types.Address, description string) (types.ProposalID, []types.Event) {
	return p.CreateProposalAt(caller, description, 0)
}

// CreateProposalAt is CreateProposal stamping the proposal with the
// engine sequence that created it.
func (p *Process) CreateProposalAt(caller types.Address, description string, seq uint64) (types.ProposalID, []types.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := types.ProposalID(len(p.proposals))
	prop := types.NewProposal(id, description, caller)
	prop.CreatedAt = seq
	p.proposals = append(p.proposals, prop)

	return id, []types.Event{
		types.NewEvent(types.EventProposalCreated,
			"proposal_id", formatID(id), "proposer", caller.String()),
	}
}

// NextProposalID returns the id the next CreateProposal will assign.
func (p *Process) NextProposalID() types.ProposalID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return types.ProposalID(len(p.proposals))
}

// CheckVote runs the Vote guards without applying anything.
func (p *Process) CheckVote(caller types.Address, id types.ProposalID) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, err := p.checkVote(caller, id)
	return err
}

// Vote records caller's single vote on proposal id.
func (p *Process) Vote(caller types.Address, id types.ProposalID, support bool) ([]types.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	prop, err := p.checkVote(caller, id)
	if err != nil {
		return nil, err
	}

	prop.Voters[caller] = true
	if support {
		prop.YesVotes++
	} else {
		prop.NoVotes++
	}

	return []types.Event{
		types.NewEvent(types.EventVoted,
			"proposal_id", formatID(id), "voter", caller.String(),
			"support", strconv.FormatBool(support)),
	}, nil
}

func (p *Process) checkVote(caller types.Address, id types.ProposalID) (*types.Proposal, error) {
	prop, err := p.lookup(id)
	if err != nil {
		return nil, err
	}
	if prop.HasVoted(caller) {
		return nil, fmt.Errorf("%w: %s on proposal %d", types.ErrAlreadyVoted, caller, id)
	}
	return prop, nil
}

// GetVoteStats returns the current tally of proposal id.
func (p *Process) GetVoteStats(id types.ProposalID) (types.VoteStats, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	prop, err := p.lookup(id)
	if err != nil {
		return types.VoteStats{}, err
	}
	return prop.Stats(), nil
}

// GetProposal returns a copy of proposal id.
func (p *Process) GetProposal(id types.ProposalID) (*types.Proposal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	prop, err := p.lookup(id)
	if err != nil {
		return nil, err
	}
	return types.CopyProposal(prop), nil
}

// ProposalCount returns how many proposals exist
func (p *Process) ProposalCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.proposals)
}

// HasVoted reports whether addr voted on proposal id. Unknown proposals
// report false.
func (p *Process) HasVoted(id types.ProposalID, addr types.Address) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	prop, err := p.lookup(id)
	if err != nil {
		return false
	}
	return prop.HasVoted(addr)
}

func (p *Process) lookup(id types.ProposalID) (*types.Proposal, error) {
	if uint64(id) >= uint64(len(p.proposals)) {
		return nil, fmt.Errorf("%w: %d", types.ErrUnknownProposal, id)
	}
	return p.proposals[id], nil
}

// State is the serializable form of a governance process.
type State struct {
	Authority types.Address     `cbor:"1,keyasint"`
	Proposals []*types.Proposal `cbor:"2,keyasint"`
}

// Export returns a deep copy of the process state.
func (p *Process) Export() *State {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st := &State{
		Authority: p.authority,
		Proposals: make([]*types.Proposal, len(p.proposals)),
	}
	for i, prop := range p.proposals {
		st.Proposals[i] = types.CopyProposal(prop)
	}
	return st
}

// Restore rebuilds a process from an exported state, binding it to token.
func Restore(st *State, token TokenReader) (*Process, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: nil state", ErrCorruptState)
	}

	p := New(st.Authority, token)
	p.proposals = make([]*types.Proposal, len(st.Proposals))
	for i, prop := range st.Proposals {
		if prop == nil || prop.ID != types.ProposalID(i) {
			return nil, fmt.Errorf("%w: proposal at index %d has wrong id", ErrCorruptState, i)
		}
		for voter, voted := range prop.Voters {
			if !voted {
				return nil, fmt.Errorf("%w: proposal %d lists %s as a voter without a vote",
					ErrCorruptState, i, voter)
			}
		}
		if prop.YesVotes+prop.NoVotes != uint64(len(prop.Voters)) {
			return nil, fmt.Errorf("%w: proposal %d tallies %d votes from %d voters",
				ErrCorruptState, i, prop.YesVotes+prop.NoVotes, len(prop.Voters))
		}
		p.proposals[i] = types.CopyProposal(prop)
	}
	return p, nil
}

func formatID(id types.ProposalID) string {
	return strconv.FormatUint(uint64(id), 10)
}
