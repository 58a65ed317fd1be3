package ledger_test

import (
	"testing"

	"github.com/blockberries/meritberry/ledger"
	"github.com/blockberries/meritberry/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	owner types.Address = "owner"
	alice types.Address = "alice"
	bob   types.Address = "bob"
	carol types.Address = "carol"
)

func amt(v int64) types.Amount { return types.NewAmount(v) }

func newLedger(t *testing.T, supply int64) *ledger.Ledger {
	t.Helper()
	l, err := ledger.New(owner, amt(supply), ledger.DefaultMetadata())
	require.NoError(t, err)
	return l
}

// assertConserved checks totalSupply == sum(balances) and non-negativity.
func assertConserved(t *testing.T, l *ledger.Ledger) {
	t.Helper()
	var sum types.Amount
	for _, addr := range l.Holders() {
		bal := l.BalanceOf(addr)
		assert.False(t, bal.IsNegative(), "negative balance for %s", addr)
		sum = sum.Add(bal)
	}
	assert.True(t, sum.Equal(l.TotalSupply()), "sum %s != supply %s", sum, l.TotalSupply())
}

func TestLedger_InitialSupplyScenario(t *testing.T) {
	l := newLedger(t, 1_000_000)

	assert.True(t, l.BalanceOf(owner).Equal(amt(1_000_000)))
	assert.True(t, l.TotalSupply().Equal(amt(1_000_000)))

	_, err := l.Mint(owner, alice, amt(500))
	require.NoError(t, err)
	assert.True(t, l.BalanceOf(alice).Equal(amt(500)))
	assert.True(t, l.TotalSupply().Equal(amt(1_000_500)))

	_, err = l.Mint(alice, alice, amt(1))
	assert.ErrorIs(t, err, types.ErrUnauthorized)
	assert.True(t, l.BalanceOf(alice).Equal(amt(500)))
	assert.True(t, l.TotalSupply().Equal(amt(1_000_500)))

	_, err = l.Transfer(alice, bob, amt(600))
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)
	assert.True(t, l.BalanceOf(alice).Equal(amt(500)))
	assert.True(t, l.BalanceOf(bob).IsZero())

	assertConserved(t, l)
}

func TestLedger_New(t *testing.T) {
	_, err := ledger.New(types.ZeroAddress, amt(1), ledger.DefaultMetadata())
	assert.ErrorIs(t, err, types.ErrInvalidAddress)

	_, err = ledger.New(owner, amt(-1), ledger.DefaultMetadata())
	assert.ErrorIs(t, err, types.ErrInvalidAmount)

	l := newLedger(t, 0)
	assert.True(t, l.TotalSupply().IsZero())
	assert.Empty(t, l.Holders())
	assert.Equal(t, owner, l.Owner())
	assert.Equal(t, "MRT", l.Metadata().Symbol)
}

func TestLedger_Mint(t *testing.T) {
	l := newLedger(t, 100)

	events, err := l.Mint(owner, alice, amt(50))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventMint, events[0].Type)
	assert.Equal(t, "50", events[0].Attributes["amount"])

	_, err = l.Mint(owner, alice, amt(-5))
	assert.ErrorIs(t, err, types.ErrInvalidAmount)

	_, err = l.Mint(owner, types.ZeroAddress, amt(5))
	assert.ErrorIs(t, err, types.ErrInvalidAddress)

	// Unauthorized takes precedence over every other guard.
	_, err = l.Mint(bob, types.ZeroAddress, amt(-5))
	assert.ErrorIs(t, err, types.ErrUnauthorized)

	_, err = l.Mint(owner, alice, amt(0))
	require.NoError(t, err)

	assert.True(t, l.TotalSupply().Equal(amt(150)))
	assertConserved(t, l)
}

func TestLedger_Burn(t *testing.T) {
	l := newLedger(t, 100)

	_, err := l.Burn(owner, amt(40))
	require.NoError(t, err)
	assert.True(t, l.BalanceOf(owner).Equal(amt(60)))
	assert.True(t, l.TotalSupply().Equal(amt(60)))

	_, err = l.Burn(owner, amt(61))
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)

	_, err = l.Burn(alice, amt(1))
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)

	_, err = l.Burn(owner, amt(60))
	require.NoError(t, err)
	assert.True(t, l.TotalSupply().IsZero())
	assert.Empty(t, l.Holders())
	assertConserved(t, l)
}

func TestLedger_Transfer(t *testing.T) {
	l := newLedger(t, 100)

	events, err := l.Transfer(owner, alice, amt(30))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventTransfer, events[0].Type)
	assert.Equal(t, string(owner), events[0].Attributes["from"])
	assert.Equal(t, string(alice), events[0].Attributes["to"])

	assert.True(t, l.BalanceOf(owner).Equal(amt(70)))
	assert.True(t, l.BalanceOf(alice).Equal(amt(30)))
	assert.True(t, l.TotalSupply().Equal(amt(100)))

	_, err = l.Transfer(alice, bob, amt(31))
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)

	_, err = l.Transfer(alice, types.ZeroAddress, amt(1))
	assert.ErrorIs(t, err, types.ErrInvalidAddress)

	_, err = l.Transfer(alice, bob, amt(-1))
	assert.ErrorIs(t, err, types.ErrInvalidAmount)

	assertConserved(t, l)
}

func TestLedger_TransferEdgeCases(t *testing.T) {
	l := newLedger(t, 100)

	// Zero amount is a successful no-op, even from an empty account.
	_, err := l.Transfer(carol, bob, amt(0))
	require.NoError(t, err)
	assert.True(t, l.BalanceOf(bob).IsZero())

	// Self-transfer leaves the balance unchanged.
	_, err = l.Transfer(owner, owner, amt(100))
	require.NoError(t, err)
	assert.True(t, l.BalanceOf(owner).Equal(amt(100)))

	_, err = l.Transfer(owner, owner, amt(101))
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)

	assertConserved(t, l)
}

func TestLedger_ApproveAndTransferFrom(t *testing.T) {
	l := newLedger(t, 100)

	events, err := l.Approve(owner, alice, amt(40))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventApproval, events[0].Type)
	assert.True(t, l.Allowance(owner, alice).Equal(amt(40)))

	_, err = l.TransferFrom(alice, owner, bob, amt(41))
	assert.ErrorIs(t, err, types.ErrInsufficientAllowance)

	_, err = l.TransferFrom(bob, owner, bob, amt(1))
	assert.ErrorIs(t, err, types.ErrInsufficientAllowance)

	_, err = l.TransferFrom(alice, owner, bob, amt(25))
	require.NoError(t, err)
	assert.True(t, l.BalanceOf(bob).Equal(amt(25)))
	assert.True(t, l.BalanceOf(owner).Equal(amt(75)))
	assert.True(t, l.Allowance(owner, alice).Equal(amt(15)))

	// Approve replaces the allowance.
	_, err = l.Approve(owner, alice, amt(500))
	require.NoError(t, err)
	_, err = l.TransferFrom(alice, owner, bob, amt(80))
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)
	assert.True(t, l.Allowance(owner, alice).Equal(amt(500)), "failed transfer must not spend allowance")

	_, err = l.Approve(owner, types.ZeroAddress, amt(1))
	assert.ErrorIs(t, err, types.ErrInvalidAddress)

	assertConserved(t, l)
}

func TestLedger_CheckMatchesApply(t *testing.T) {
	l := newLedger(t, 10)

	assert.ErrorIs(t, l.CheckMint(alice, alice, amt(1)), types.ErrUnauthorized)
	assert.ErrorIs(t, l.CheckBurn(alice, amt(1)), types.ErrInsufficientBalance)
	assert.ErrorIs(t, l.CheckTransfer(owner, bob, amt(11)), types.ErrInsufficientBalance)
	assert.ErrorIs(t, l.CheckApprove(owner, bob, amt(-1)), types.ErrInvalidAmount)
	assert.ErrorIs(t, l.CheckTransferFrom(bob, owner, bob, amt(1)), types.ErrInsufficientAllowance)

	assert.NoError(t, l.CheckMint(owner, alice, amt(1)))
	assert.NoError(t, l.CheckTransfer(owner, bob, amt(10)))

	// Checks never mutate.
	assert.True(t, l.BalanceOf(owner).Equal(amt(10)))
	assert.True(t, l.TotalSupply().Equal(amt(10)))
}

func TestLedger_ConservationUnderRandomOps(t *testing.T) {
	l := newLedger(t, 1000)
	addrs := []types.Address{owner, alice, bob, carol}

	for i := 0; i < 200; i++ {
		from := addrs[i%len(addrs)]
		to := addrs[(i*7+1)%len(addrs)]
		n := amt(int64((i * 37) % 150))

		switch i % 4 {
		case 0:
			_, _ = l.Mint(from, to, n)
		case 1:
			_, _ = l.Burn(from, n)
		case 2:
			_, _ = l.Transfer(from, to, n)
		case 3:
			_, _ = l.Approve(from, to, n)
			_, _ = l.TransferFrom(to, from, addrs[i%3], n)
		}
		assertConserved(t, l)
	}
}

func TestLedger_ExportRestore(t *testing.T) {
	l := newLedger(t, 100)
	_, err := l.Transfer(owner, alice, amt(30))
	require.NoError(t, err)
	_, err = l.Approve(alice, bob, amt(5))
	require.NoError(t, err)

	st := l.Export()
	data, err := types.Marshal(st)
	require.NoError(t, err)

	var decoded ledger.State
	require.NoError(t, types.Unmarshal(data, &decoded))

	restored, err := ledger.Restore(&decoded)
	require.NoError(t, err)
	assert.True(t, restored.BalanceOf(alice).Equal(amt(30)))
	assert.True(t, restored.Allowance(alice, bob).Equal(amt(5)))
	assert.True(t, restored.TotalSupply().Equal(amt(100)))
	assert.Equal(t, owner, restored.Owner())

	again, err := types.Marshal(restored.Export())
	require.NoError(t, err)
	assert.Equal(t, data, again, "export should be canonical")

	decoded.TotalSupply = amt(99)
	_, err = ledger.Restore(&decoded)
	assert.ErrorIs(t, err, ledger.ErrCorruptState)
}
