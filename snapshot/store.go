package snapshot

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/blockberries/meritberry/types"
)

var (
	ErrNotFound = errors.New("snapshot not found")
	ErrCorrupt  = errors.New("snapshot corrupt")
)

const (
	filePattern    = "snapshot-%020d.cbor.zst"
	dirPerm        = 0700
	defaultRetain  = 3
	currentVersion = 1
)

// zstd encoders and decoders are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("snapshot: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("snapshot: zstd decoder initialization failed: " + err.Error())
	}
}

// Snapshot is the application state after the transaction at Seq was
// committed. State is the encoded application state and StateHash its
// hash. AppHash is the chained app hash at Seq, which replay continues from.
type Snapshot struct {
	Version     uint8      `cbor:"1,keyasint"`
	Seq         uint64     `cbor:"2,keyasint"`
	GenesisHash types.Hash `cbor:"3,keyasint"`
	AppHash     types.Hash `cbor:"4,keyasint"`
	State       []byte     `cbor:"5,keyasint"`
	StateHash   types.Hash `cbor:"6,keyasint"`
}

// Verify checks that State hashes to StateHash.
func (s *Snapshot) Verify() error {
	if s.Version != currentVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorrupt, s.Version)
	}
	if len(s.AppHash.Data) != types.HashSize {
		return fmt.Errorf("%w: app hash is %d bytes", ErrCorrupt, len(s.AppHash.Data))
	}
	if got := types.HashAppState(s.State); !types.HashEqual(got, s.StateHash) {
		return fmt.Errorf("%w: state hashes to %s, expected %s",
			ErrCorrupt, types.HashString(got), types.HashString(s.StateHash))
	}
	return nil
}

// Store persists snapshots.
type Store interface {
	// Save writes a snapshot. Older snapshots may be pruned.
	Save(s *Snapshot) error

	// LoadLatest returns the newest valid snapshot, or ErrNotFound.
	LoadLatest() (*Snapshot, error)
}

// FileStore keeps zstd-compressed snapshots in a directory, one file per
// sequence number.
type FileStore struct {
	mu     sync.Mutex
	dir    string
	retain int
	logger *slog.Logger
}

// NewFileStore creates a store in dir keeping the newest retain snapshots.
// retain <= 0 uses the default of 3. A nil logger uses slog.Default().
func NewFileStore(dir string, retain int, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if retain <= 0 {
		retain = defaultRetain
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		dir:    dir,
		retain: retain,
		logger: logger.With("component", "snapshot"),
	}, nil
}

// New builds a verified snapshot of state at seq, whose chained app hash
// is appHash.
func New(seq uint64, genesisHash, appHash types.Hash, state []byte) *Snapshot {
	data := make([]byte, len(state))
	copy(data, state)
	return &Snapshot{
		Version:     currentVersion,
		Seq:         seq,
		GenesisHash: *types.CopyHash(&genesisHash),
		AppHash:     *types.CopyHash(&appHash),
		State:       data,
		StateHash:   types.HashAppState(data),
	}
}

// Save atomically writes s and prunes snapshots beyond the retain limit.
func (fs *FileStore) Save(s *Snapshot) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := s.Verify(); err != nil {
		return err
	}

	encoded, err := types.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding snapshot %d: %w", s.Seq, err)
	}
	compressed := zstdEncoder.EncodeAll(encoded, nil)

	finalPath := fs.path(s.Seq)
	tmpFile, err := os.CreateTemp(fs.dir, "tmp-snapshot-*")
	if err != nil {
		return fmt.Errorf("creating temp snapshot file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(compressed); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing snapshot data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("syncing snapshot data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp snapshot file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming snapshot file to %s: %w", finalPath, err)
	}
	success = true

	fs.logger.Info("saved snapshot",
		"seq", s.Seq, "state_bytes", len(s.State), "file_bytes", len(compressed))

	fs.prune()
	return nil
}

// LoadLatest returns the newest snapshot that decodes and verifies.
// Corrupt files are skipped with a warning.
func (fs *FileStore) LoadLatest() (*Snapshot, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	seqs := fs.list()
	for i := len(seqs) - 1; i >= 0; i-- {
		s, err := fs.load(seqs[i])
		if err != nil {
			fs.logger.Warn("skipping unreadable snapshot", "seq", seqs[i], "error", err)
			continue
		}
		return s, nil
	}
	return nil, ErrNotFound
}

// Load returns the snapshot at seq.
func (fs *FileStore) Load(seq uint64) (*Snapshot, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.load(seq)
}

// List returns the sequence numbers of stored snapshots, oldest first.
func (fs *FileStore) List() []uint64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.list()
}

func (fs *FileStore) load(seq uint64) (*Snapshot, error) {
	compressed, err := os.ReadFile(fs.path(seq))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: seq %d", ErrNotFound, seq)
		}
		return nil, err
	}

	encoded, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd decompress: %v", ErrCorrupt, err)
	}

	s := &Snapshot{}
	if err := types.UnmarshalState(encoded, s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if s.Seq != seq {
		return nil, fmt.Errorf("%w: file for seq %d holds seq %d", ErrCorrupt, seq, s.Seq)
	}
	if err := s.Verify(); err != nil {
		return nil, err
	}
	return s, nil
}

func (fs *FileStore) list() []uint64 {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil
	}

	var seqs []uint64
	for _, entry := range entries {
		var seq uint64
		if n, err := fmt.Sscanf(entry.Name(), filePattern, &seq); n == 1 && err == nil {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs
}

func (fs *FileStore) prune() {
	seqs := fs.list()
	for len(seqs) > fs.retain {
		if err := os.Remove(fs.path(seqs[0])); err != nil && !os.IsNotExist(err) {
			fs.logger.Warn("failed to prune snapshot", "seq", seqs[0], "error", err)
		}
		seqs = seqs[1:]
	}
}

func (fs *FileStore) path(seq uint64) string {
	return filepath.Join(fs.dir, fmt.Sprintf(filePattern, seq))
}

var _ Store = (*FileStore)(nil)
