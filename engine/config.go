package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/blockberries/meritberry/ledger"
	"github.com/blockberries/meritberry/receipts"
	"github.com/blockberries/meritberry/registry"
	"github.com/blockberries/meritberry/types"
)

// Genesis fixes the initial application state. Every node replaying the
// same log must start from the same genesis.
type Genesis struct {
	ChainID       string          `cbor:"1,keyasint" yaml:"chain_id"`
	Deployer      types.Address   `cbor:"2,keyasint" yaml:"deployer"`
	InitialSupply types.Amount    `cbor:"3,keyasint" yaml:"initial_supply"`
	Token         ledger.Metadata `cbor:"4,keyasint" yaml:"token"`
	// GovernanceAuthority and Issuer default to Deployer.
	GovernanceAuthority types.Address `cbor:"5,keyasint" yaml:"governance_authority,omitempty"`
	Issuer              types.Address `cbor:"6,keyasint" yaml:"issuer,omitempty"`
	BadgeClass          string        `cbor:"7,keyasint" yaml:"badge_class,omitempty"`
}

// withDefaults returns a copy of g with empty fields filled in.
func (g Genesis) withDefaults() Genesis {
	if g.Token == (ledger.Metadata{}) {
		g.Token = ledger.DefaultMetadata()
	}
	if g.GovernanceAuthority.IsEmpty() {
		g.GovernanceAuthority = g.Deployer
	}
	if g.Issuer.IsEmpty() {
		g.Issuer = g.Deployer
	}
	if g.BadgeClass == "" {
		g.BadgeClass = registry.Soulbound.String()
	}
	return g
}

// ValidateBasic checks the genesis for obvious errors
func (g Genesis) ValidateBasic() error {
	if g.ChainID == "" {
		return fmt.Errorf("%w: chain_id is required", ErrInvalidGenesis)
	}
	if err := types.ValidateAddress(g.Deployer); err != nil {
		return fmt.Errorf("%w: deployer is required", ErrInvalidGenesis)
	}
	if err := types.ValidateNonNegative(g.InitialSupply); err != nil {
		return fmt.Errorf("%w: initial_supply: %v", ErrInvalidGenesis, err)
	}
	if g.BadgeClass != "" {
		if _, err := registry.ParseClass(g.BadgeClass); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidGenesis, err)
		}
	}
	return nil
}

// Hash returns the hash identifying this genesis, defaults applied.
func (g Genesis) Hash() types.Hash {
	data, err := types.Marshal(g.withDefaults())
	if err != nil {
		panic(fmt.Sprintf("failed to marshal genesis: %v", err))
	}
	return types.HashBytes(data)
}

// Config holds configuration for the engine
type Config struct {
	// ChainID identifies the deployment. Transactions must carry it.
	ChainID string `yaml:"chain_id"`

	// Home is the base directory relative paths resolve against
	Home string `yaml:"home"`

	// WAL configuration
	WALDir             string `yaml:"wal_dir"`
	WALSync            bool   `yaml:"wal_sync"` // Force sync on every commit
	WALMaxSegmentBytes int64  `yaml:"wal_max_segment_bytes"`

	// Snapshots every SnapshotInterval commits; 0 disables them
	SnapshotDir      string `yaml:"snapshot_dir"`
	SnapshotInterval uint64 `yaml:"snapshot_interval"`
	SnapshotRetain   int    `yaml:"snapshot_retain"`

	Receipts receipts.Config `yaml:"receipts"`

	Genesis Genesis `yaml:"genesis"`
}

// DefaultConfig returns a default configuration. Genesis.Deployer must
// still be set.
func DefaultConfig() *Config {
	return &Config{
		ChainID:            "meritberry-1",
		Home:               ".",
		WALDir:             "data/wal",
		WALSync:            true,
		WALMaxSegmentBytes: 64 * 1024 * 1024, // 64MB
		SnapshotDir:        "data/snapshots",
		SnapshotInterval:   1000,
		SnapshotRetain:     3,
		Receipts:           receipts.DefaultConfig(),
		Genesis: Genesis{
			ChainID:       "meritberry-1",
			InitialSupply: types.NewAmount(1_000_000),
			Token:         ledger.DefaultMetadata(),
		},
	}
}

// ValidateBasic performs basic validation of the config
func (cfg *Config) ValidateBasic() error {
	if cfg.ChainID == "" {
		return fmt.Errorf("%w: chain_id is required", ErrInvalidConfig)
	}
	if cfg.WALDir == "" {
		return fmt.Errorf("%w: wal_dir is required", ErrInvalidConfig)
	}
	if cfg.WALMaxSegmentBytes < 0 {
		return fmt.Errorf("%w: wal_max_segment_bytes must be non-negative", ErrInvalidConfig)
	}
	if cfg.SnapshotInterval > 0 && cfg.SnapshotDir == "" {
		return fmt.Errorf("%w: snapshot_dir is required when snapshot_interval is set", ErrInvalidConfig)
	}
	if err := cfg.Receipts.ValidateBasic(); err != nil {
		return fmt.Errorf("%w: receipts: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Genesis.ValidateBasic(); err != nil {
		return err
	}
	if cfg.Genesis.ChainID != cfg.ChainID {
		return fmt.Errorf("%w: genesis chain_id %q does not match %q",
			ErrInvalidConfig, cfg.Genesis.ChainID, cfg.ChainID)
	}
	return nil
}

// WALPath returns the WAL directory resolved against Home
func (cfg *Config) WALPath() string {
	return cfg.resolve(cfg.WALDir)
}

// SnapshotPath returns the snapshot directory resolved against Home
func (cfg *Config) SnapshotPath() string {
	return cfg.resolve(cfg.SnapshotDir)
}

func (cfg *Config) resolve(dir string) string {
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(cfg.Home, dir)
}

// LoadConfig reads a YAML config file over the defaults. An empty home
// resolves to the directory holding the file, and an empty genesis
// chain_id inherits the top-level one.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	cfg.Home = ""
	cfg.Genesis.ChainID = ""
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Home == "" {
		cfg.Home = filepath.Dir(path)
	}
	if cfg.Genesis.ChainID == "" {
		cfg.Genesis.ChainID = cfg.ChainID
	}

	if err := cfg.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// WriteConfig writes cfg as YAML to path, creating parent directories.
func WriteConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
