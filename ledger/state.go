package ledger

import (
	"errors"
	"fmt"

	"github.com/blockberries/meritberry/types"
)

// ErrCorruptState is returned when restoring a state that breaks the
// ledger invariants.
var ErrCorruptState = errors.New("corrupt ledger state")

// State is the serializable form of a ledger. Zero balances and
// allowances are never present, so equal ledgers export equal states.
type State struct {
	Owner       types.Address                                   `cbor:"1,keyasint"`
	Metadata    Metadata                                        `cbor:"2,keyasint"`
	TotalSupply types.Amount                                    `cbor:"3,keyasint"`
	Balances    map[types.Address]types.Amount                  `cbor:"4,keyasint"`
	Allowances  map[types.Address]map[types.Address]types.Amount `cbor:"5,keyasint"`
}

// Export returns a copy of the ledger state.
func (l *Ledger) Export() *State {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st := &State{
		Owner:       l.owner,
		Metadata:    l.meta,
		TotalSupply: l.totalSupply,
		Balances:    make(map[types.Address]types.Amount, len(l.balances)),
		Allowances:  make(map[types.Address]map[types.Address]types.Amount, len(l.allowances)),
	}
	for addr, bal := range l.balances {
		st.Balances[addr] = bal
	}
	for owner, spenders := range l.allowances {
		m := make(map[types.Address]types.Amount, len(spenders))
		for spender, amt := range spenders {
			m[spender] = amt
		}
		st.Allowances[owner] = m
	}
	return st
}

// Restore rebuilds a ledger from an exported state. The state must satisfy
// conservation: TotalSupply equals the sum of all balances.
func Restore(st *State) (*Ledger, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: nil state", ErrCorruptState)
	}
	if err := types.ValidateAddress(st.Owner); err != nil {
		return nil, fmt.Errorf("%w: empty owner", ErrCorruptState)
	}

	l := &Ledger{
		owner:       st.Owner,
		meta:        st.Metadata,
		totalSupply: st.TotalSupply,
		balances:    make(map[types.Address]types.Amount, len(st.Balances)),
		allowances:  make(map[types.Address]map[types.Address]types.Amount, len(st.Allowances)),
	}

	var sum types.Amount
	for addr, bal := range st.Balances {
		if bal.IsNegative() {
			return nil, fmt.Errorf("%w: negative balance for %s", ErrCorruptState, addr)
		}
		l.setBalance(addr, bal)
		sum = sum.Add(bal)
	}
	if !sum.Equal(st.TotalSupply) {
		return nil, fmt.Errorf("%w: balances sum to %s, total supply is %s",
			ErrCorruptState, sum, st.TotalSupply)
	}

	for owner, spenders := range st.Allowances {
		for spender, amt := range spenders {
			if amt.IsNegative() {
				return nil, fmt.Errorf("%w: negative allowance %s -> %s", ErrCorruptState, owner, spender)
			}
			l.setAllowance(owner, spender, amt)
		}
	}
	return l, nil
}
