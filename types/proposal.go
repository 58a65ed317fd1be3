package types

import "sort"

// ProposalID identifies a governance proposal. IDs start at 0.
type ProposalID uint64

// Proposal is a governance item accepting yes/no votes. Proposals are open
// from creation onward; there is no closing transition.
type Proposal struct {
	ID          ProposalID       `cbor:"1,keyasint"`
	Description string           `cbor:"2,keyasint"`
	Proposer    Address          `cbor:"3,keyasint"`
	YesVotes    uint64           `cbor:"4,keyasint"`
	NoVotes     uint64           `cbor:"5,keyasint"`
	Voters      map[Address]bool `cbor:"6,keyasint"`
	CreatedAt   uint64           `cbor:"7,keyasint"` // engine sequence, 0 outside the engine
}

// VoteStats is the raw tally of a proposal.
type VoteStats struct {
	Yes uint64 `cbor:"1,keyasint" json:"yes"`
	No  uint64 `cbor:"2,keyasint" json:"no"`
}

// Total returns the number of votes cast
func (s VoteStats) Total() uint64 {
	return s.Yes + s.No
}

// NewProposal creates an open proposal with an empty tally
func NewProposal(id ProposalID, description string, proposer Address) *Proposal {
	return &Proposal{
		ID:          id,
		Description: description,
		Proposer:    proposer,
		Voters:      make(map[Address]bool),
	}
}

// Stats returns the tally of p
func (p *Proposal) Stats() VoteStats {
	return VoteStats{Yes: p.YesVotes, No: p.NoVotes}
}

// HasVoted reports whether addr already voted on p
func (p *Proposal) HasVoted(addr Address) bool {
	return p.Voters[addr]
}

// VoterList returns the voters sorted for deterministic output
func (p *Proposal) VoterList() []Address {
	voters := make([]Address, 0, len(p.Voters))
	for v := range p.Voters {
		voters = append(voters, v)
	}
	sort.Slice(voters, func(i, j int) bool { return voters[i] < voters[j] })
	return voters
}

// CopyProposal returns a deep copy of p
func CopyProposal(p *Proposal) *Proposal {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Voters = make(map[Address]bool, len(p.Voters))
	for v, voted := range p.Voters {
		if voted {
			cp.Voters[v] = true
		}
	}
	return &cp
}
