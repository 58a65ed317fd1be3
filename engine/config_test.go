package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blockberries/meritberry/ledger"
	"github.com/blockberries/meritberry/types"
)

func TestDefaultConfigNeedsDeployer(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.ValidateBasic(); !errors.Is(err, ErrInvalidGenesis) {
		t.Errorf("expected ErrInvalidGenesis without deployer, got %v", err)
	}

	cfg.Genesis.Deployer = alice.addr
	if err := cfg.ValidateBasic(); err != nil {
		t.Errorf("default config with deployer should be valid: %v", err)
	}
}

func TestConfigValidateBasic(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr error
	}{
		{"valid", func(*Config) {}, nil},
		{"no chain", func(c *Config) { c.ChainID = "" }, ErrInvalidConfig},
		{"no wal dir", func(c *Config) { c.WALDir = "" }, ErrInvalidConfig},
		{"negative segment size", func(c *Config) { c.WALMaxSegmentBytes = -1 }, ErrInvalidConfig},
		{"snapshots without dir", func(c *Config) { c.SnapshotInterval = 10; c.SnapshotDir = "" }, ErrInvalidConfig},
		{"bad receipts", func(c *Config) { c.Receipts.MaxReceipts = -1 }, ErrInvalidConfig},
		{"chain mismatch", func(c *Config) { c.Genesis.ChainID = "other" }, ErrInvalidConfig},
		{"negative supply", func(c *Config) { c.Genesis.InitialSupply = types.NewAmount(-1) }, ErrInvalidGenesis},
		{"bad badge class", func(c *Config) { c.Genesis.BadgeClass = "sticky" }, ErrInvalidGenesis},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(t)
			tt.modify(cfg)
			if err := cfg.ValidateBasic(); !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateBasic() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenesisDefaults(t *testing.T) {
	g := Genesis{ChainID: "c", Deployer: alice.addr}.withDefaults()

	if g.Token != ledger.DefaultMetadata() {
		t.Errorf("expected default token metadata, got %+v", g.Token)
	}
	if g.GovernanceAuthority != alice.addr || g.Issuer != alice.addr {
		t.Error("roles should default to the deployer")
	}
	if g.BadgeClass != "soulbound" {
		t.Errorf("expected soulbound class, got %q", g.BadgeClass)
	}
}

func TestGenesisHash(t *testing.T) {
	g := newTestConfig(t).Genesis

	if !types.HashEqual(g.Hash(), g.Hash()) {
		t.Error("genesis hash is not stable")
	}

	// Explicit defaults hash the same as implicit ones
	explicit := g
	explicit.Issuer = g.Deployer
	explicit.BadgeClass = "soulbound"
	if !types.HashEqual(g.Hash(), explicit.Hash()) {
		t.Error("explicit defaults changed the genesis hash")
	}

	other := g
	other.InitialSupply = types.NewAmount(999)
	if types.HashEqual(g.Hash(), other.Hash()) {
		t.Error("different supply should change the genesis hash")
	}
}

func TestConfigPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Home = "/srv/merit"

	if got := cfg.WALPath(); got != filepath.Join("/srv/merit", "data/wal") {
		t.Errorf("WALPath() = %s", got)
	}
	cfg.SnapshotDir = "/var/snapshots"
	if got := cfg.SnapshotPath(); got != "/var/snapshots" {
		t.Errorf("absolute SnapshotPath() = %s", got)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	data := []byte(`chain_id: campus-1
wal_dir: wal
wal_sync: false
snapshot_interval: 50
receipts:
  max_receipts: 10
  max_age: 1h
genesis:
  deployer: ` + string(alice.addr) + `
  initial_supply: "500"
  badge_class: transferable
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Home != dir {
		t.Errorf("home should default to the config directory, got %s", cfg.Home)
	}
	if cfg.WALPath() != filepath.Join(dir, "wal") {
		t.Errorf("WALPath() = %s", cfg.WALPath())
	}
	if cfg.WALSync {
		t.Error("wal_sync not applied")
	}
	if cfg.SnapshotInterval != 50 || cfg.SnapshotDir != "data/snapshots" {
		t.Errorf("snapshot settings: interval %d dir %s", cfg.SnapshotInterval, cfg.SnapshotDir)
	}
	if cfg.Receipts.MaxReceipts != 10 || cfg.Receipts.MaxAge != time.Hour {
		t.Errorf("receipts config: %+v", cfg.Receipts)
	}
	if cfg.Genesis.ChainID != "campus-1" {
		t.Errorf("genesis chain should inherit top-level, got %q", cfg.Genesis.ChainID)
	}
	if !cfg.Genesis.InitialSupply.Equal(types.NewAmount(500)) {
		t.Errorf("initial supply = %s", cfg.Genesis.InitialSupply)
	}
	if cfg.Genesis.BadgeClass != "transferable" {
		t.Errorf("badge class = %q", cfg.Genesis.BadgeClass)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("chain_id: [unterminated"), 0o644)
	if _, err := LoadConfig(bad); err == nil {
		t.Error("expected parse error")
	}

	noDeployer := filepath.Join(dir, "nodeployer.yaml")
	os.WriteFile(noDeployer, []byte("chain_id: x\n"), 0o644)
	if _, err := LoadConfig(noDeployer); !errors.Is(err, ErrInvalidGenesis) {
		t.Errorf("expected ErrInvalidGenesis, got %v", err)
	}
}

func TestWriteConfigRoundTrip(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Genesis.Issuer = bob.addr
	cfg.Receipts.MaxAge = 90 * time.Minute
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if err := WriteConfig(path, cfg); err != nil {
		t.Fatalf("WriteConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Home != cfg.Home {
		t.Errorf("home = %s, want %s", loaded.Home, cfg.Home)
	}
	if loaded.Receipts.MaxAge != cfg.Receipts.MaxAge {
		t.Errorf("max_age = %v", loaded.Receipts.MaxAge)
	}
	if !types.HashEqual(loaded.Genesis.Hash(), cfg.Genesis.Hash()) {
		t.Error("genesis changed across write and load")
	}
}
