package receipts

import (
	"errors"
	"sync"
	"time"

	"github.com/blockberries/meritberry/types"
)

// Errors
var (
	ErrReceiptNotFound = errors.New("receipt not found")
	ErrInvalidReceipt  = errors.New("invalid receipt")
)

// Config holds receipt pool configuration
type Config struct {
	// MaxReceipts bounds the number of receipts held. Oldest are evicted first.
	MaxReceipts int `yaml:"max_receipts"`
	// MaxAge is how long a receipt stays queryable. Zero disables age pruning.
	MaxAge time.Duration `yaml:"max_age"`
}

// DefaultConfig returns default receipt pool configuration
func DefaultConfig() Config {
	return Config{
		MaxReceipts: 10000,
		MaxAge:      24 * time.Hour,
	}
}

// ValidateBasic checks the configuration
func (c Config) ValidateBasic() error {
	if c.MaxReceipts <= 0 {
		return errors.New("max_receipts must be positive")
	}
	if c.MaxAge < 0 {
		return errors.New("max_age must be non-negative")
	}
	return nil
}

// Pool holds the receipts of recent submissions, keyed by tx hash.
// A later receipt for the same hash replaces the earlier one, so a
// transaction rejected and then resubmitted reports its latest outcome.
type Pool struct {
	mu     sync.RWMutex
	config Config

	receipts map[string]held
	// Insertion order for eviction, oldest first. May hold stale entries
	// for receipts that were replaced; those are skipped on eviction.
	order   []entry
	nextGen uint64
}

type held struct {
	receipt *types.Receipt
	gen     uint64
}

type entry struct {
	key  string
	gen  uint64
	time int64
}

// NewPool creates a new receipt pool
func NewPool(config Config) *Pool {
	if config.MaxReceipts <= 0 {
		config.MaxReceipts = DefaultConfig().MaxReceipts
	}
	return &Pool{
		config:   config,
		receipts: make(map[string]held),
	}
}

// Add stores a copy of r, evicting the oldest receipts beyond MaxReceipts.
func (p *Pool) Add(r *types.Receipt) error {
	if r == nil || types.IsHashEmpty(&r.TxHash) {
		return ErrInvalidReceipt
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := receiptKey(r.TxHash)
	p.nextGen++
	p.receipts[key] = held{receipt: types.CopyReceipt(r), gen: p.nextGen}
	p.order = append(p.order, entry{key: key, gen: p.nextGen, time: r.Time})

	for len(p.receipts) > p.config.MaxReceipts {
		p.evictOldest()
	}
	p.compact()
	return nil
}

// Get returns a copy of the receipt for txHash
func (p *Pool) Get(txHash types.Hash) (*types.Receipt, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	h, ok := p.receipts[receiptKey(txHash)]
	if !ok {
		return nil, ErrReceiptNotFound
	}
	return types.CopyReceipt(h.receipt), nil
}

// Has reports whether a receipt for txHash is held
func (p *Pool) Has(txHash types.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.receipts[receiptKey(txHash)]
	return ok
}

// Size returns the number of receipts held
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.receipts)
}

// Prune removes receipts older than MaxAge relative to now. Returns the
// number removed.
func (p *Pool) Prune(now time.Time) int {
	if p.config.MaxAge <= 0 {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := now.Add(-p.config.MaxAge).UnixNano()
	removed := 0
	for len(p.order) > 0 && p.order[0].time < cutoff {
		e := p.order[0]
		p.order = p.order[1:]
		if p.live(e) {
			delete(p.receipts, e.key)
			removed++
		}
	}
	return removed
}

// evictOldest drops the oldest live receipt.
// Caller must hold p.mu.
func (p *Pool) evictOldest() {
	for len(p.order) > 0 {
		e := p.order[0]
		p.order = p.order[1:]
		if p.live(e) {
			delete(p.receipts, e.key)
			return
		}
	}
}

// compact drops stale order entries once they dominate the slice.
// Caller must hold p.mu.
func (p *Pool) compact() {
	if len(p.order) <= 2*len(p.receipts)+16 {
		return
	}
	live := make([]entry, 0, len(p.receipts))
	for _, e := range p.order {
		if p.live(e) {
			live = append(live, e)
		}
	}
	p.order = live
}

// live reports whether e is the current entry for its key.
// A replaced receipt leaves a stale entry behind.
func (p *Pool) live(e entry) bool {
	h, ok := p.receipts[e.key]
	return ok && h.gen == e.gen
}

func receiptKey(h types.Hash) string {
	return string(h.Data)
}
