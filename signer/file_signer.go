package signer

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/blockberries/meritberry/types"
)

const (
	keyFilePerm   = 0600
	stateFilePerm = 0600
	dirPerm       = 0700
)

// FileSigner is a file-backed ed25519 caller identity
type FileSigner struct {
	mu sync.Mutex

	keyFilePath   string
	stateFilePath string

	pubKey  types.PublicKey
	privKey ed25519.PrivateKey
	address types.Address

	lastSignState LastSignState
}

// FileSignerKey represents the key file structure
type FileSignerKey struct {
	Address types.Address `json:"address"`
	PubKey  []byte        `json:"pub_key"`
	PrivKey []byte        `json:"priv_key"`
}

// FileSignerState represents the state file structure
type FileSignerState struct {
	ChainID       string `json:"chain_id,omitempty"`
	Nonce         uint64 `json:"nonce"`
	Signed        bool   `json:"signed"`
	Signature     []byte `json:"signature,omitempty"`
	SignBytesHash []byte `json:"sign_bytes_hash,omitempty"`
}

// StatePath returns the default state file path for a key file.
func StatePath(keyFilePath string) string {
	return keyFilePath + ".state"
}

// NewFileSigner loads the key at keyFilePath, generating one if it does
// not exist yet.
func NewFileSigner(keyFilePath, stateFilePath string) (*FileSigner, error) {
	s := &FileSigner{
		keyFilePath:   keyFilePath,
		stateFilePath: stateFilePath,
	}

	if err := s.loadKey(true); err != nil {
		return nil, err
	}
	if err := s.loadState(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadFileSigner loads an existing key. It fails with ErrKeyNotFound if
// the key file is missing.
func LoadFileSigner(keyFilePath, stateFilePath string) (*FileSigner, error) {
	s := &FileSigner{
		keyFilePath:   keyFilePath,
		stateFilePath: stateFilePath,
	}

	if err := s.loadKey(false); err != nil {
		return nil, err
	}
	if err := s.loadState(); err != nil {
		return nil, err
	}
	return s, nil
}

// GenerateFileSigner creates a new key pair. It refuses to overwrite an
// existing key file.
func GenerateFileSigner(keyFilePath, stateFilePath string) (*FileSigner, error) {
	if _, err := os.Stat(keyFilePath); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyExists, keyFilePath)
	}

	s := &FileSigner{
		keyFilePath:   keyFilePath,
		stateFilePath: stateFilePath,
	}
	if err := s.generate(); err != nil {
		return nil, err
	}
	if err := s.saveState(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSigner) generate() error {
	pubKey, privKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	s.setKey(types.MustNewPublicKey(pubKey), privKey)
	return s.saveKey()
}

func (s *FileSigner) setKey(pubKey types.PublicKey, privKey ed25519.PrivateKey) {
	s.pubKey = pubKey
	s.privKey = privKey
	s.address = types.AddressFromPubKey(pubKey)
}

// loadKey loads the key from file, generating one if allowed and missing
func (s *FileSigner) loadKey(generateMissing bool) error {
	data, err := os.ReadFile(s.keyFilePath)
	if os.IsNotExist(err) {
		if !generateMissing {
			return fmt.Errorf("%w: %s", ErrKeyNotFound, s.keyFilePath)
		}
		return s.generate()
	}
	if err != nil {
		return fmt.Errorf("failed to read key file: %w", err)
	}

	var key FileSignerKey
	if err := json.Unmarshal(data, &key); err != nil {
		return fmt.Errorf("failed to parse key file: %w", err)
	}

	pubKey, err := types.NewPublicKey(key.PubKey)
	if err != nil {
		return fmt.Errorf("invalid key file: %w", err)
	}
	if len(key.PrivKey) != ed25519.PrivateKeySize {
		return fmt.Errorf("invalid key file: private key must be %d bytes", ed25519.PrivateKeySize)
	}
	priv := ed25519.PrivateKey(key.PrivKey)
	if !types.PublicKeyEqual(pubKey, types.MustNewPublicKey(priv.Public().(ed25519.PublicKey))) {
		return fmt.Errorf("invalid key file: public key does not match private key")
	}

	s.setKey(pubKey, priv)
	return nil
}

// saveKey saves the key to file
func (s *FileSigner) saveKey() error {
	key := FileSignerKey{
		Address: s.address,
		PubKey:  s.pubKey.Data,
		PrivKey: s.privKey,
	}

	data, err := json.MarshalIndent(key, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal key: %w", err)
	}
	if err := writeFileAtomic(s.keyFilePath, data, keyFilePerm); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}

// loadState loads the state from file
func (s *FileSigner) loadState() error {
	data, err := os.ReadFile(s.stateFilePath)
	if os.IsNotExist(err) {
		s.lastSignState = LastSignState{}
		return s.saveState()
	}
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var state FileSignerState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}

	s.lastSignState = LastSignState{
		ChainID: state.ChainID,
		Nonce:   state.Nonce,
		Signed:  state.Signed,
	}
	if len(state.Signature) > 0 {
		sig, err := types.NewSignature(state.Signature)
		if err != nil {
			return fmt.Errorf("invalid state file: %w", err)
		}
		s.lastSignState.Signature = sig
	}
	if len(state.SignBytesHash) > 0 {
		h, err := types.NewHash(state.SignBytesHash)
		if err != nil {
			return fmt.Errorf("invalid state file: %w", err)
		}
		s.lastSignState.SignBytesHash = &h
	}
	return nil
}

// saveState saves the state to file
func (s *FileSigner) saveState() error {
	state := FileSignerState{
		ChainID: s.lastSignState.ChainID,
		Nonce:   s.lastSignState.Nonce,
		Signed:  s.lastSignState.Signed,
	}
	if len(s.lastSignState.Signature.Data) > 0 {
		state.Signature = s.lastSignState.Signature.Data
	}
	if s.lastSignState.SignBytesHash != nil {
		state.SignBytesHash = s.lastSignState.SignBytesHash.Data
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := writeFileAtomic(s.stateFilePath, data, stateFilePerm); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// PubKey returns the public key
func (s *FileSigner) PubKey() types.PublicKey {
	return s.pubKey
}

// Address returns the caller address
func (s *FileSigner) Address() types.Address {
	return s.address
}

// LastSignState returns a copy of the last sign state
func (s *FileSigner) LastSignState() LastSignState {
	s.mu.Lock()
	defer s.mu.Unlock()

	lss := s.lastSignState
	lss.SignBytesHash = types.CopyHash(s.lastSignState.SignBytesHash)
	return lss
}

// SignTx signs tx, checking for double-sign. An empty sender is filled in
// with the signer's address.
func (s *FileSigner) SignTx(chainID string, tx *types.Tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.Sender.IsEmpty() {
		tx.Sender = s.address
	}
	if tx.Sender != s.address {
		return fmt.Errorf("%w: tx sender %s, signer %s", ErrSenderMismatch, tx.Sender, s.address)
	}
	if tx.ChainID != chainID {
		return fmt.Errorf("%w: expected %q, got %q", types.ErrChainIDMismatch, chainID, tx.ChainID)
	}
	tx.PubKey = s.pubKey

	signBytes := types.TxSignBytes(chainID, tx)

	if err := s.lastSignState.CheckNonce(chainID, tx.Nonce); err != nil {
		// Check if it's the same tx (idempotent re-signing)
		if err == ErrDoubleSign && s.lastSignState.isSameTx(signBytes) {
			tx.Signature = s.lastSignState.Signature
			return nil
		}
		return fmt.Errorf("%w: nonce %d, last signed %d", err, tx.Nonce, s.lastSignState.Nonce)
	}

	sig := ed25519.Sign(s.privKey, signBytes)
	tx.Signature = types.MustNewSignature(sig)

	signBytesHash := types.HashBytes(signBytes)
	s.lastSignState = LastSignState{
		ChainID:       chainID,
		Nonce:         tx.Nonce,
		Signed:        true,
		Signature:     tx.Signature,
		SignBytesHash: &signBytesHash,
	}

	return s.saveState()
}

// Reset resets the last sign state (use with caution!)
func (s *FileSigner) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSignState = LastSignState{}
	return s.saveState()
}

// writeFileAtomic writes data to a temp file beside path and renames it
// into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	success = true
	return nil
}

// Ensure FileSigner implements Signer
var _ Signer = (*FileSigner)(nil)
