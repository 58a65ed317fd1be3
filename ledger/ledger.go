package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/blockberries/meritberry/types"
)

// Metadata describes the token. It is fixed at construction.
type Metadata struct {
	Name     string `cbor:"1,keyasint" yaml:"name" json:"name"`
	Symbol   string `cbor:"2,keyasint" yaml:"symbol" json:"symbol"`
	Decimals uint8  `cbor:"3,keyasint" yaml:"decimals" json:"decimals"`
}

// DefaultMetadata returns the metadata used when genesis names none.
func DefaultMetadata() Metadata {
	return Metadata{Name: "Merit Token", Symbol: "MRT", Decimals: 18}
}

// Ledger is a fungible token ledger with owner-controlled issuance.
//
// All methods are safe for concurrent use. Mutations hold the write lock
// for the whole guard-then-apply sequence, so every operation either fully
// applies or leaves the ledger untouched.
type Ledger struct {
	mu sync.RWMutex

	owner       types.Address
	meta        Metadata
	totalSupply types.Amount

	// Missing keys read as zero. Zero balances are removed.
	balances   map[types.Address]types.Amount
	allowances map[types.Address]map[types.Address]types.Amount
}

// New creates a ledger owned by owner and credits it with initialSupply.
func New(owner types.Address, initialSupply types.Amount, meta Metadata) (*Ledger, error) {
	if err := types.ValidateAddress(owner); err != nil {
		return nil, fmt.Errorf("%w: owner must not be empty", err)
	}
	if err := types.ValidateNonNegative(initialSupply); err != nil {
		return nil, err
	}

	l := &Ledger{
		owner:      owner,
		meta:       meta,
		balances:   make(map[types.Address]types.Amount),
		allowances: make(map[types.Address]map[types.Address]types.Amount),
	}
	l.setBalance(owner, initialSupply)
	l.totalSupply = initialSupply
	return l, nil
}

// Owner returns the issuance authority
func (l *Ledger) Owner() types.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.owner
}

// Metadata returns the token metadata
func (l *Ledger) Metadata() Metadata {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.meta
}

// BalanceOf returns the balance of addr. Unknown addresses hold zero.
func (l *Ledger) BalanceOf(addr types.Address) types.Amount {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceOf(addr)
}

// TotalSupply returns the sum of all balances
func (l *Ledger) TotalSupply() types.Amount {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalSupply
}

// Allowance returns how much spender may still move out of owner's balance.
func (l *Ledger) Allowance(owner, spender types.Address) types.Amount {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.allowance(owner, spender)
}

// Holders returns every address with a non-zero balance, sorted.
func (l *Ledger) Holders() []types.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()

	holders := make([]types.Address, 0, len(l.balances))
	for addr := range l.balances {
		holders = append(holders, addr)
	}
	sort.Slice(holders, func(i, j int) bool { return holders[i] < holders[j] })
	return holders
}

// CheckMint runs the Mint guards without applying anything.
func (l *Ledger) CheckMint(caller, to types.Address, amount types.Amount) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.checkMint(caller, to, amount)
}

// Mint creates amount new tokens and credits them to to. Owner only.
func (l *Ledger) Mint(caller, to types.Address, amount types.Amount) ([]types.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkMint(caller, to, amount); err != nil {
		return nil, err
	}

	l.setBalance(to, l.balanceOf(to).Add(amount))
	l.totalSupply = l.totalSupply.Add(amount)

	return []types.Event{
		types.NewEvent(types.EventMint, "to", to.String(), "amount", amount.String()),
	}, nil
}

func (l *Ledger) checkMint(caller, to types.Address, amount types.Amount) error {
	if err := types.RequireAuthority(caller, l.owner); err != nil {
		return err
	}
	if err := types.ValidateNonNegative(amount); err != nil {
		return err
	}
	if err := types.ValidateAddress(to); err != nil {
		return fmt.Errorf("%w: mint recipient", err)
	}
	return nil
}

// CheckBurn runs the Burn guards without applying anything.
func (l *Ledger) CheckBurn(caller types.Address, amount types.Amount) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.checkBurn(caller, amount)
}

// Burn destroys amount of caller's own balance.
func (l *Ledger) Burn(caller types.Address, amount types.Amount) ([]types.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkBurn(caller, amount); err != nil {
		return nil, err
	}

	l.setBalance(caller, l.balanceOf(caller).Sub(amount))
	l.totalSupply = l.totalSupply.Sub(amount)

	return []types.Event{
		types.NewEvent(types.EventBurn, "from", caller.String(), "amount", amount.String()),
	}, nil
}

func (l *Ledger) checkBurn(caller types.Address, amount types.Amount) error {
	if err := types.ValidateNonNegative(amount); err != nil {
		return err
	}
	return l.requireBalance(caller, amount)
}

// CheckTransfer runs the Transfer guards without applying anything.
func (l *Ledger) CheckTransfer(caller, to types.Address, amount types.Amount) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.checkTransfer(caller, to, amount)
}

// Transfer moves amount from caller to to. A zero amount succeeds without
// changing any balance, and so does a transfer to oneself.
func (l *Ledger) Transfer(caller, to types.Address, amount types.Amount) ([]types.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkTransfer(caller, to, amount); err != nil {
		return nil, err
	}

	l.move(caller, to, amount)

	return []types.Event{
		types.NewEvent(types.EventTransfer,
			"from", caller.String(), "to", to.String(), "amount", amount.String()),
	}, nil
}

func (l *Ledger) checkTransfer(caller, to types.Address, amount types.Amount) error {
	if err := types.ValidateNonNegative(amount); err != nil {
		return err
	}
	if err := types.ValidateAddress(to); err != nil {
		return fmt.Errorf("%w: transfer recipient", err)
	}
	return l.requireBalance(caller, amount)
}

// CheckApprove runs the Approve guards without applying anything.
func (l *Ledger) CheckApprove(caller, spender types.Address, amount types.Amount) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return checkApprove(spender, amount)
}

// Approve sets the allowance spender may move out of caller's balance.
// The previous allowance is replaced, not added to.
func (l *Ledger) Approve(caller, spender types.Address, amount types.Amount) ([]types.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := checkApprove(spender, amount); err != nil {
		return nil, err
	}

	l.setAllowance(caller, spender, amount)

	return []types.Event{
		types.NewEvent(types.EventApproval,
			"owner", caller.String(), "spender", spender.String(), "amount", amount.String()),
	}, nil
}

func checkApprove(spender types.Address, amount types.Amount) error {
	if err := types.ValidateNonNegative(amount); err != nil {
		return err
	}
	if err := types.ValidateAddress(spender); err != nil {
		return fmt.Errorf("%w: spender", err)
	}
	return nil
}

// CheckTransferFrom runs the TransferFrom guards without applying anything.
func (l *Ledger) CheckTransferFrom(caller, from, to types.Address, amount types.Amount) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.checkTransferFrom(caller, from, to, amount)
}

// TransferFrom moves amount from from to to, spending caller's allowance.
func (l *Ledger) TransferFrom(caller, from, to types.Address, amount types.Amount) ([]types.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkTransferFrom(caller, from, to, amount); err != nil {
		return nil, err
	}

	l.setAllowance(from, caller, l.allowance(from, caller).Sub(amount))
	l.move(from, to, amount)

	return []types.Event{
		types.NewEvent(types.EventTransfer,
			"from", from.String(), "to", to.String(), "amount", amount.String(),
			"spender", caller.String()),
	}, nil
}

func (l *Ledger) checkTransferFrom(caller, from, to types.Address, amount types.Amount) error {
	if err := types.ValidateNonNegative(amount); err != nil {
		return err
	}
	if err := types.ValidateAddress(to); err != nil {
		return fmt.Errorf("%w: transfer recipient", err)
	}
	if allowed := l.allowance(from, caller); allowed.LessThan(amount) {
		return fmt.Errorf("%w: %s may spend %s of %s, requested %s",
			types.ErrInsufficientAllowance, caller, allowed, from, amount)
	}
	return l.requireBalance(from, amount)
}

// Caller must hold l.mu and have checked the balance.
func (l *Ledger) move(from, to types.Address, amount types.Amount) {
	if amount.IsZero() || from == to {
		return
	}
	l.setBalance(from, l.balanceOf(from).Sub(amount))
	l.setBalance(to, l.balanceOf(to).Add(amount))
}

func (l *Ledger) requireBalance(addr types.Address, amount types.Amount) error {
	if bal := l.balanceOf(addr); bal.LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", types.ErrInsufficientBalance, addr, bal, amount)
	}
	return nil
}

func (l *Ledger) balanceOf(addr types.Address) types.Amount {
	return l.balances[addr]
}

func (l *Ledger) setBalance(addr types.Address, amount types.Amount) {
	if amount.IsZero() {
		delete(l.balances, addr)
		return
	}
	l.balances[addr] = amount
}

func (l *Ledger) allowance(owner, spender types.Address) types.Amount {
	return l.allowances[owner][spender]
}

func (l *Ledger) setAllowance(owner, spender types.Address, amount types.Amount) {
	if amount.IsZero() {
		if m := l.allowances[owner]; m != nil {
			delete(m, spender)
			if len(m) == 0 {
				delete(l.allowances, owner)
			}
		}
		return
	}
	m := l.allowances[owner]
	if m == nil {
		m = make(map[types.Address]types.Amount)
		l.allowances[owner] = m
	}
	m[spender] = amount
}
