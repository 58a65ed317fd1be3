package receipts

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/blockberries/meritberry/types"
)

func makeReceipt(name string, code string, at time.Time) *types.Receipt {
	return &types.Receipt{
		TxHash: types.HashBytes([]byte(name)),
		Sender: "alice",
		Kind:   types.TxTransfer,
		Code:   code,
		Events: []types.Event{types.NewEvent(types.EventTransfer, "from", "alice", "to", "bob")},
		Time:   at.UnixNano(),
	}
}

func TestPoolNew(t *testing.T) {
	pool := NewPool(DefaultConfig())
	if pool == nil {
		t.Fatal("NewPool should not return nil")
	}
	if pool.Size() != 0 {
		t.Errorf("new pool should have size 0, got %d", pool.Size())
	}

	// Non-positive limit falls back to default
	pool = NewPool(Config{})
	if pool.config.MaxReceipts != DefaultConfig().MaxReceipts {
		t.Errorf("expected default max receipts, got %d", pool.config.MaxReceipts)
	}
}

func TestPoolAddGet(t *testing.T) {
	pool := NewPool(DefaultConfig())
	r := makeReceipt("tx1", types.ReasonOK, time.Now())

	if err := pool.Add(r); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if !pool.Has(r.TxHash) {
		t.Error("pool should have receipt")
	}

	got, err := pool.Get(r.TxHash)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Code != types.ReasonOK || got.Sender != "alice" {
		t.Errorf("unexpected receipt: %+v", got)
	}

	if _, err := pool.Get(types.HashBytes([]byte("missing"))); !errors.Is(err, ErrReceiptNotFound) {
		t.Errorf("expected ErrReceiptNotFound, got %v", err)
	}
}

func TestPoolAddInvalid(t *testing.T) {
	pool := NewPool(DefaultConfig())
	if err := pool.Add(nil); !errors.Is(err, ErrInvalidReceipt) {
		t.Errorf("expected ErrInvalidReceipt for nil, got %v", err)
	}
	if err := pool.Add(&types.Receipt{Code: types.ReasonOK}); !errors.Is(err, ErrInvalidReceipt) {
		t.Errorf("expected ErrInvalidReceipt for empty hash, got %v", err)
	}
}

func TestPoolStoresCopies(t *testing.T) {
	pool := NewPool(DefaultConfig())
	r := makeReceipt("tx1", types.ReasonOK, time.Now())
	if err := pool.Add(r); err != nil {
		t.Fatal(err)
	}

	// Mutating the original must not affect the stored receipt
	r.Code = types.ReasonInternal
	r.Events[0].Attributes["to"] = "mallory"

	got, _ := pool.Get(r.TxHash)
	if got.Code != types.ReasonOK {
		t.Error("stored receipt aliased caller's receipt")
	}
	if got.Events[0].Attributes["to"] != "bob" {
		t.Error("stored events aliased caller's events")
	}

	// Mutating the returned copy must not affect the stored receipt
	got.Events[0].Attributes["to"] = "carol"
	again, _ := pool.Get(r.TxHash)
	if again.Events[0].Attributes["to"] != "bob" {
		t.Error("Get returned an alias")
	}
}

func TestPoolReplace(t *testing.T) {
	pool := NewPool(DefaultConfig())
	now := time.Now()

	rejected := makeReceipt("tx1", types.ReasonInsufficientBalance, now)
	if err := pool.Add(rejected); err != nil {
		t.Fatal(err)
	}
	committed := makeReceipt("tx1", types.ReasonOK, now.Add(time.Second))
	if err := pool.Add(committed); err != nil {
		t.Fatal(err)
	}

	if pool.Size() != 1 {
		t.Errorf("expected size 1 after replace, got %d", pool.Size())
	}
	got, _ := pool.Get(committed.TxHash)
	if !got.IsOK() {
		t.Errorf("expected latest outcome, got %s", got.Code)
	}
}

func TestPoolEvictsOldest(t *testing.T) {
	pool := NewPool(Config{MaxReceipts: 3})
	now := time.Now()

	for i := 0; i < 5; i++ {
		r := makeReceipt(fmt.Sprintf("tx%d", i), types.ReasonOK, now.Add(time.Duration(i)*time.Second))
		if err := pool.Add(r); err != nil {
			t.Fatal(err)
		}
	}

	if pool.Size() != 3 {
		t.Fatalf("expected size 3, got %d", pool.Size())
	}
	for i := 0; i < 2; i++ {
		if pool.Has(types.HashBytes([]byte(fmt.Sprintf("tx%d", i)))) {
			t.Errorf("tx%d should have been evicted", i)
		}
	}
	for i := 2; i < 5; i++ {
		if !pool.Has(types.HashBytes([]byte(fmt.Sprintf("tx%d", i)))) {
			t.Errorf("tx%d should be held", i)
		}
	}
}

func TestPoolEvictionSkipsReplaced(t *testing.T) {
	pool := NewPool(Config{MaxReceipts: 2})
	now := time.Now()

	// tx0 is added then replaced, so its first entry is stale
	pool.Add(makeReceipt("tx0", types.ReasonInsufficientBalance, now))
	pool.Add(makeReceipt("tx1", types.ReasonOK, now.Add(1*time.Second)))
	pool.Add(makeReceipt("tx0", types.ReasonOK, now.Add(2*time.Second)))
	pool.Add(makeReceipt("tx2", types.ReasonOK, now.Add(3*time.Second)))

	if pool.Size() != 2 {
		t.Fatalf("expected size 2, got %d", pool.Size())
	}
	if pool.Has(types.HashBytes([]byte("tx1"))) {
		t.Error("tx1 is the oldest live receipt and should have been evicted")
	}
	if !pool.Has(types.HashBytes([]byte("tx0"))) {
		t.Error("replaced tx0 should survive")
	}
}

func TestPoolPrune(t *testing.T) {
	pool := NewPool(Config{MaxReceipts: 100, MaxAge: time.Hour})
	now := time.Now()

	pool.Add(makeReceipt("old", types.ReasonOK, now.Add(-2*time.Hour)))
	pool.Add(makeReceipt("recent", types.ReasonOK, now.Add(-time.Minute)))

	if removed := pool.Prune(now); removed != 1 {
		t.Errorf("expected 1 pruned, got %d", removed)
	}
	if pool.Has(types.HashBytes([]byte("old"))) {
		t.Error("old receipt should be pruned")
	}
	if !pool.Has(types.HashBytes([]byte("recent"))) {
		t.Error("recent receipt should remain")
	}
}

func TestPoolPruneDisabled(t *testing.T) {
	pool := NewPool(Config{MaxReceipts: 100})
	pool.Add(makeReceipt("old", types.ReasonOK, time.Unix(0, 0)))

	if removed := pool.Prune(time.Now()); removed != 0 {
		t.Errorf("zero MaxAge should disable pruning, removed %d", removed)
	}
}

func TestPoolCompactsStaleEntries(t *testing.T) {
	pool := NewPool(Config{MaxReceipts: 10})
	now := time.Now()

	for i := 0; i < 200; i++ {
		pool.Add(makeReceipt("same", types.ReasonOK, now.Add(time.Duration(i))))
	}

	if pool.Size() != 1 {
		t.Errorf("expected size 1, got %d", pool.Size())
	}
	if len(pool.order) > 2*pool.Size()+16 {
		t.Errorf("order should be compacted, has %d entries", len(pool.order))
	}
}

func TestConfigValidateBasic(t *testing.T) {
	if err := DefaultConfig().ValidateBasic(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
	if err := (Config{MaxReceipts: 0}).ValidateBasic(); err == nil {
		t.Error("zero max receipts should be invalid")
	}
	if err := (Config{MaxReceipts: 1, MaxAge: -time.Second}).ValidateBasic(); err == nil {
		t.Error("negative max age should be invalid")
	}
}
