package registry

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/blockberries/meritberry/types"
)

// ErrCorruptState is returned when restoring a state that breaks the
// one-badge-per-holder invariant.
var ErrCorruptState = errors.New("corrupt registry state")

// Registry issues learning badges. Only the issuer fixed at construction
// may mint, and each address holds at most one badge.
type Registry struct {
	mu sync.RWMutex

	issuer types.Address
	class  Class

	nextID  types.TokenID
	badges  map[types.TokenID]*types.Badge
	byOwner map[types.Address]types.TokenID
}

// New creates an empty registry. Badge ids start at 1.
func New(issuer types.Address, opts ...Option) *Registry {
	r := &Registry{
		issuer:  issuer,
		class:   Soulbound,
		nextID:  1,
		badges:  make(map[types.TokenID]*types.Badge),
		byOwner: make(map[types.Address]types.TokenID),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Issuer returns the minting authority
func (r *Registry) Issuer() types.Address {
	return r.issuer
}

// Class returns the transfer capability of the registry's tokens
func (r *Registry) Class() Class {
	return r.class
}

// CheckMintBadge runs the MintBadge guards without applying anything.
func (r *Registry) CheckMintBadge(caller, recipient types.Address) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.checkMint(caller, recipient)
}

// MintBadge issues a badge to recipient and returns its token id.
func (r *Registry) MintBadge(
	caller, recipient types.Address,
	courseName, recipientName string,
	hours uint64,
) (types.TokenID, []types.Event, error) {
	return r.MintBadgeAt(caller, recipient, courseName, recipientName, hours, 0)
}

// MintBadgeAt is MintBadge stamping the badge with the engine sequence
// that issued it.
func (r *Registry) MintBadgeAt(
	caller, recipient types.Address,
	courseName, recipientName string,
	hours uint64,
	seq uint64,
) (types.TokenID, []types.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkMint(caller, recipient); err != nil {
		return 0, nil, err
	}

	id := r.nextID
	r.nextID++
	r.badges[id] = &types.Badge{
		TokenID:       id,
		Owner:         recipient,
		CourseName:    courseName,
		RecipientName: recipientName,
		Hours:         hours,
		IssuedAt:      seq,
	}
	r.byOwner[recipient] = id

	return id, []types.Event{
		types.NewEvent(types.EventBadgeMinted,
			"token_id", formatID(id), "recipient", recipient.String(),
			"course_name", courseName, "hours", strconv.FormatUint(hours, 10)),
	}, nil
}

func (r *Registry) checkMint(caller, recipient types.Address) error {
	if err := types.RequireAuthority(caller, r.issuer); err != nil {
		return err
	}
	if err := types.ValidateAddress(recipient); err != nil {
		return fmt.Errorf("%w: badge recipient", err)
	}
	if id, held := r.byOwner[recipient]; held {
		return fmt.Errorf("%w: %s holds badge %d", types.ErrDuplicateBadge, recipient, id)
	}
	return nil
}

// GetBadgeMetadata returns a copy of the badge with tokenID.
func (r *Registry) GetBadgeMetadata(tokenID types.TokenID) (types.Badge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	badge, err := r.lookup(tokenID)
	if err != nil {
		return types.Badge{}, err
	}
	return *badge, nil
}

// OwnerOf returns the holder of tokenID
func (r *Registry) OwnerOf(tokenID types.TokenID) (types.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	badge, err := r.lookup(tokenID)
	if err != nil {
		return types.ZeroAddress, err
	}
	return badge.Owner, nil
}

// BalanceOf returns 1 if addr holds a badge and 0 otherwise.
func (r *Registry) BalanceOf(addr types.Address) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, held := r.byOwner[addr]; held {
		return 1
	}
	return 0
}

// BadgeOf returns the badge held by addr, if any.
func (r *Registry) BadgeOf(addr types.Address) (types.Badge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, held := r.byOwner[addr]
	if !held {
		return types.Badge{}, false
	}
	return *r.badges[id], true
}

// TotalBadges returns how many badges have been minted
func (r *Registry) TotalBadges() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return uint64(len(r.badges))
}

// CheckTransferFrom runs the TransferFrom guards without applying anything.
func (r *Registry) CheckTransferFrom(caller, from, to types.Address, tokenID types.TokenID) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, err := r.checkTransfer(caller, from, to, tokenID)
	return err
}

// TransferFrom moves tokenID from from to to when the registry's class
// allows it. For Soulbound registries every call on an existing badge
// fails with ErrTransferProhibited.
func (r *Registry) TransferFrom(caller, from, to types.Address, tokenID types.TokenID) ([]types.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	badge, err := r.checkTransfer(caller, from, to, tokenID)
	if err != nil {
		return nil, err
	}
	if from == to {
		return nil, nil
	}

	delete(r.byOwner, from)
	badge.Owner = to
	r.byOwner[to] = tokenID

	return []types.Event{
		types.NewEvent(types.EventTransfer,
			"from", from.String(), "to", to.String(), "token_id", formatID(tokenID)),
	}, nil
}

func (r *Registry) checkTransfer(caller, from, to types.Address, tokenID types.TokenID) (*types.Badge, error) {
	badge, err := r.lookup(tokenID)
	if err != nil {
		return nil, err
	}
	if err := r.class.checkTransfer(r, caller, from, to, badge); err != nil {
		return nil, err
	}
	return badge, nil
}

func (r *Registry) lookup(tokenID types.TokenID) (*types.Badge, error) {
	badge, ok := r.badges[tokenID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", types.ErrUnknownToken, tokenID)
	}
	return badge, nil
}

func formatID(id types.TokenID) string {
	return strconv.FormatUint(uint64(id), 10)
}
