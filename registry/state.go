package registry

import (
	"fmt"
	"sort"

	"github.com/blockberries/meritberry/types"
)

// State is the serializable form of a registry. Badges are sorted by
// token id.
type State struct {
	Issuer types.Address `cbor:"1,keyasint"`
	Class  Class         `cbor:"2,keyasint"`
	NextID types.TokenID `cbor:"3,keyasint"`
	Badges []types.Badge `cbor:"4,keyasint"`
}

// Export returns a copy of the registry state.
func (r *Registry) Export() *State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := &State{
		Issuer: r.issuer,
		Class:  r.class,
		NextID: r.nextID,
		Badges: make([]types.Badge, 0, len(r.badges)),
	}
	for _, b := range r.badges {
		st.Badges = append(st.Badges, *b)
	}
	sort.Slice(st.Badges, func(i, j int) bool { return st.Badges[i].TokenID < st.Badges[j].TokenID })
	return st
}

// Restore rebuilds a registry from an exported state.
func Restore(st *State) (*Registry, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: nil state", ErrCorruptState)
	}
	if st.NextID == 0 {
		return nil, fmt.Errorf("%w: next token id is 0", ErrCorruptState)
	}

	r := New(st.Issuer, WithClass(st.Class))
	r.nextID = st.NextID
	for i := range st.Badges {
		b := st.Badges[i]
		if b.TokenID == 0 || b.TokenID >= st.NextID {
			return nil, fmt.Errorf("%w: token id %d outside [1, %d)", ErrCorruptState, b.TokenID, st.NextID)
		}
		if _, dup := r.badges[b.TokenID]; dup {
			return nil, fmt.Errorf("%w: token id %d appears twice", ErrCorruptState, b.TokenID)
		}
		if _, held := r.byOwner[b.Owner]; held {
			return nil, fmt.Errorf("%w: %s holds more than one badge", ErrCorruptState, b.Owner)
		}
		r.badges[b.TokenID] = &b
		r.byOwner[b.Owner] = b.TokenID
	}
	return r, nil
}
