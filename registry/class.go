package registry

import (
	"fmt"

	"github.com/blockberries/meritberry/types"
)

// Class is the transfer capability of every token in a registry.
type Class uint8

const (
	// Soulbound tokens stay with the address they were minted to.
	Soulbound Class = iota
	// Transferable tokens may be moved by their owner.
	Transferable
)

// String returns the class name
func (c Class) String() string {
	switch c {
	case Soulbound:
		return "soulbound"
	case Transferable:
		return "transferable"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// ParseClass parses a class name as written by String.
func ParseClass(s string) (Class, error) {
	switch s {
	case "", "soulbound":
		return Soulbound, nil
	case "transferable":
		return Transferable, nil
	default:
		return 0, fmt.Errorf("unknown token class %q", s)
	}
}

// checkTransfer decides whether caller may move badge from from to to.
// Caller must hold the registry lock.
func (c Class) checkTransfer(r *Registry, caller, from, to types.Address, badge *types.Badge) error {
	switch c {
	case Transferable:
	case Soulbound:
		return fmt.Errorf("%w: badge %d is bound to %s", types.ErrTransferProhibited, badge.TokenID, badge.Owner)
	default:
		return fmt.Errorf("%w: unknown token class %d", types.ErrTransferProhibited, uint8(c))
	}

	if caller != badge.Owner || from != badge.Owner {
		return fmt.Errorf("%w: only %s may move badge %d", types.ErrUnauthorized, badge.Owner, badge.TokenID)
	}
	if err := types.ValidateAddress(to); err != nil {
		return fmt.Errorf("%w: badge recipient", err)
	}
	if to != from {
		if _, held := r.byOwner[to]; held {
			return fmt.Errorf("%w: %s", types.ErrDuplicateBadge, to)
		}
	}
	return nil
}

// Option configures a Registry.
type Option func(*Registry)

// WithClass sets the transfer capability of the registry's tokens. The
// default is Soulbound.
func WithClass(c Class) Option {
	return func(r *Registry) {
		r.class = c
	}
}
