package engine

import (
	"crypto/ed25519"
	"crypto/sha256"
	"testing"

	"github.com/blockberries/meritberry/snapshot"
	"github.com/blockberries/meritberry/types"
	"github.com/blockberries/meritberry/wal"
)

const testChainID = "test-chain"

// testKey is a deterministic caller identity.
type testKey struct {
	priv ed25519.PrivateKey
	pub  types.PublicKey
	addr types.Address
}

func newTestKey(name string) *testKey {
	seed := sha256.Sum256([]byte(name))
	priv := ed25519.NewKeyFromSeed(seed[:])
	pub := types.MustNewPublicKey(priv.Public().(ed25519.PublicKey))
	return &testKey{priv: priv, pub: pub, addr: types.AddressFromPubKey(pub)}
}

func (k *testKey) sign(t *testing.T, nonce uint64, msg types.Msg) *types.Tx {
	t.Helper()
	return k.signChain(t, testChainID, nonce, msg)
}

func (k *testKey) signChain(t *testing.T, chainID string, nonce uint64, msg types.Msg) *types.Tx {
	t.Helper()
	tx, err := types.NewTx(chainID, k.addr, nonce, msg)
	if err != nil {
		t.Fatalf("failed to build tx: %v", err)
	}
	tx.PubKey = k.pub
	tx.Signature = types.MustNewSignature(ed25519.Sign(k.priv, types.TxSignBytes(chainID, tx)))
	return tx
}

var (
	alice = newTestKey("alice")
	bob   = newTestKey("bob")
	carol = newTestKey("carol")
)

func newTestConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ChainID = testChainID
	cfg.Home = t.TempDir()
	cfg.SnapshotInterval = 0
	cfg.Genesis = Genesis{
		ChainID:       testChainID,
		Deployer:      alice.addr,
		InitialSupply: types.NewAmount(1_000_000),
	}
	return cfg
}

// startEngine opens the WAL and snapshot store under cfg.Home and starts
// an engine on them.
func startEngine(t *testing.T, cfg *Config) (*Engine, *wal.FileWAL) {
	t.Helper()

	w, err := wal.NewFileWALWithOptions(cfg.WALPath(), cfg.WALMaxSegmentBytes, nil)
	if err != nil {
		t.Fatalf("failed to create WAL: %v", err)
	}

	var e *Engine
	if cfg.SnapshotInterval > 0 {
		store := newTestSnapshotStore(t, cfg)
		e, err = NewEngine(cfg, w, store, nil)
	} else {
		e, err = NewEngine(cfg, w, nil, nil)
	}
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("failed to start engine: %v", err)
	}
	return e, w
}

func mustSubmit(t *testing.T, e *Engine, tx *types.Tx) *types.Receipt {
	t.Helper()
	r, err := e.Submit(tx)
	if err != nil {
		t.Fatalf("Submit(%s) failed: %v", tx.Kind, err)
	}
	if !r.IsOK() {
		t.Fatalf("Submit(%s) returned code %s", tx.Kind, r.Code)
	}
	return r
}

func countRecords(t *testing.T, w *wal.FileWAL) int {
	t.Helper()
	r, err := w.OpenReader()
	if err != nil {
		t.Fatalf("failed to open WAL reader: %v", err)
	}
	defer r.Close()

	n := 0
	for {
		if _, err := r.Read(); err != nil {
			break
		}
		n++
	}
	return n
}

func newTestSnapshotStore(t *testing.T, cfg *Config) *snapshot.FileStore {
	t.Helper()
	store, err := snapshot.NewFileStore(cfg.SnapshotPath(), cfg.SnapshotRetain, nil)
	if err != nil {
		t.Fatalf("failed to create snapshot store: %v", err)
	}
	return store
}
