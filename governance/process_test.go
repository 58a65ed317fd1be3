package governance_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/blockberries/meritberry/governance"
	"github.com/blockberries/meritberry/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	authority types.Address = "dao"
	alice     types.Address = "alice"
	bob       types.Address = "bob"
	carol     types.Address = "carol"
)

type fakeToken struct{ calls int }

func (f *fakeToken) BalanceOf(types.Address) types.Amount { f.calls++; return types.NewAmount(0) }
func (f *fakeToken) TotalSupply() types.Amount            { f.calls++; return types.NewAmount(0) }

func TestProcess_Scenario(t *testing.T) {
	token := &fakeToken{}
	p := governance.New(authority, token)

	id, events := p.CreateProposal(alice, "Test Proposal")
	assert.Equal(t, types.ProposalID(0), id)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventProposalCreated, events[0].Type)

	_, err := p.Vote(alice, id, true)
	require.NoError(t, err)

	stats, err := p.GetVoteStats(id)
	require.NoError(t, err)
	assert.Equal(t, types.VoteStats{Yes: 1, No: 0}, stats)

	_, err = p.Vote(alice, id, false)
	assert.ErrorIs(t, err, types.ErrAlreadyVoted)

	stats, err = p.GetVoteStats(id)
	require.NoError(t, err)
	assert.Equal(t, types.VoteStats{Yes: 1, No: 0}, stats)

	assert.Zero(t, token.calls, "voting must not consult the token")
	assert.Same(t, token, p.Token())
	assert.Equal(t, authority, p.Authority())
}

func TestProcess_UnknownProposal(t *testing.T) {
	p := governance.New(authority, nil)

	_, err := p.Vote(alice, 0, true)
	assert.ErrorIs(t, err, types.ErrUnknownProposal)

	_, err = p.GetVoteStats(3)
	assert.ErrorIs(t, err, types.ErrUnknownProposal)

	_, err = p.GetProposal(0)
	assert.ErrorIs(t, err, types.ErrUnknownProposal)

	assert.ErrorIs(t, p.CheckVote(alice, 0), types.ErrUnknownProposal)
	assert.False(t, p.HasVoted(0, alice))
}

func TestProcess_SequentialIDs(t *testing.T) {
	p := governance.New(authority, nil)

	for i := 0; i < 5; i++ {
		assert.Equal(t, types.ProposalID(i), p.NextProposalID())
		id, _ := p.CreateProposal(bob, "same text")
		assert.Equal(t, types.ProposalID(i), id)
	}
	assert.Equal(t, 5, p.ProposalCount())

	prop, err := p.GetProposal(4)
	require.NoError(t, err)
	assert.Equal(t, bob, prop.Proposer)
	assert.Equal(t, "same text", prop.Description)
}

func TestProcess_VoteSingularity(t *testing.T) {
	p := governance.New(authority, nil)
	id, _ := p.CreateProposal(alice, "budget")

	voters := []types.Address{"v1", "v2", "v3", "v4"}
	for i, v := range voters {
		_, err := p.Vote(v, id, i%2 == 0)
		require.NoError(t, err)
	}
	for _, v := range voters {
		assert.ErrorIs(t, p.CheckVote(v, id), types.ErrAlreadyVoted)
		_, err := p.Vote(v, id, true)
		assert.ErrorIs(t, err, types.ErrAlreadyVoted)
	}

	stats, err := p.GetVoteStats(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Yes)
	assert.Equal(t, uint64(2), stats.No)
	assert.Equal(t, uint64(len(voters)), stats.Total())

	prop, err := p.GetProposal(id)
	require.NoError(t, err)
	assert.Equal(t, voters, prop.VoterList())
}

func TestProcess_VotesArePerProposal(t *testing.T) {
	p := governance.New(authority, nil)
	first, _ := p.CreateProposal(alice, "a")
	second, _ := p.CreateProposal(alice, "b")

	_, err := p.Vote(bob, first, true)
	require.NoError(t, err)
	_, err = p.Vote(bob, second, false)
	require.NoError(t, err)

	assert.True(t, p.HasVoted(first, bob))
	assert.True(t, p.HasVoted(second, bob))
	assert.False(t, p.HasVoted(first, alice))
}

func TestProcess_GetProposalReturnsCopy(t *testing.T) {
	p := governance.New(authority, nil)
	id, _ := p.CreateProposal(alice, "copy")

	prop, err := p.GetProposal(id)
	require.NoError(t, err)
	prop.YesVotes = 100
	prop.Voters[bob] = true

	stats, _ := p.GetVoteStats(id)
	assert.Zero(t, stats.Total())
	assert.False(t, p.HasVoted(id, bob))
}

func TestProcess_ConcurrentVotes(t *testing.T) {
	p := governance.New(authority, nil)
	id, _ := p.CreateProposal(alice, "concurrent")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			voter := types.Address(fmt.Sprintf("voter-%d", i%10))
			_, _ = p.Vote(voter, id, true)
		}(i)
	}
	wg.Wait()

	stats, err := p.GetVoteStats(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), stats.Yes)
}

func TestProcess_ExportRestore(t *testing.T) {
	p := governance.New(authority, nil)
	id, _ := p.CreateProposalAt(alice, "snap", 7)
	_, err := p.Vote(bob, id, false)
	require.NoError(t, err)

	data, err := types.Marshal(p.Export())
	require.NoError(t, err)

	var st governance.State
	require.NoError(t, types.Unmarshal(data, &st))

	restored, err := governance.Restore(&st, nil)
	require.NoError(t, err)

	prop, err := restored.GetProposal(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), prop.CreatedAt)
	assert.True(t, restored.HasVoted(id, bob))
	_, err = restored.Vote(bob, id, true)
	assert.ErrorIs(t, err, types.ErrAlreadyVoted)

	st.Proposals[0].YesVotes = 5
	_, err = governance.Restore(&st, nil)
	assert.ErrorIs(t, err, governance.ErrCorruptState)
}

func TestProcess_RestoreRejectsVoterWithoutVote(t *testing.T) {
	p := governance.New(authority, nil)
	id, _ := p.CreateProposal(alice, "ghost")
	_, err := p.Vote(bob, id, true)
	require.NoError(t, err)

	st := p.Export()
	// One tallied vote, but two entries: bob's and a false one for carol
	st.Proposals[0].Voters[carol] = false
	st.Proposals[0].YesVotes = 1

	_, err = governance.Restore(st, nil)
	assert.ErrorIs(t, err, governance.ErrCorruptState)

	// Dropping the false entry makes the state consistent again
	delete(st.Proposals[0].Voters, carol)
	restored, err := governance.Restore(st, nil)
	require.NoError(t, err)
	assert.False(t, restored.HasVoted(id, carol))
}
