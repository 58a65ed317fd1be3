package main

import (
	"errors"
	"fmt"

	"github.com/blockberries/meritberry/engine"
	"github.com/blockberries/meritberry/signer"
	"github.com/blockberries/meritberry/snapshot"
	"github.com/blockberries/meritberry/types"
	"github.com/blockberries/meritberry/wal"
)

// openEngine loads the config under the home directory and starts an
// engine on its WAL and snapshot store. The caller must Stop it.
func openEngine(env *env) (*engine.Engine, error) {
	cfg, err := engine.LoadConfig(env.opts.configPath())
	if err != nil {
		return nil, err
	}

	w, err := wal.NewFileWALWithOptions(cfg.WALPath(), cfg.WALMaxSegmentBytes, env.logger)
	if err != nil {
		return nil, fmt.Errorf("opening WAL: %w", err)
	}

	// The store is opened even with automatic snapshots off so the
	// snapshot command still works.
	var store snapshot.Store
	if cfg.SnapshotDir != "" {
		fs, err := snapshot.NewFileStore(cfg.SnapshotPath(), cfg.SnapshotRetain, env.logger)
		if err != nil {
			return nil, fmt.Errorf("opening snapshot store: %w", err)
		}
		store = fs
	}

	e, err := engine.NewEngine(cfg, w, store, env.logger)
	if err != nil {
		return nil, err
	}
	if err := e.Start(); err != nil {
		return nil, err
	}
	return e, nil
}

func loadSigner(env *env) (*signer.FileSigner, error) {
	keyPath := env.opts.keyPath()
	s, err := signer.LoadFileSigner(keyPath, signer.StatePath(keyPath))
	if errors.Is(err, signer.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s (run 'meritberry keygen' first)", err, keyPath)
	}
	return s, err
}

// submit signs msg with the caller key at the next expected nonce, submits
// it and prints the receipt.
func submit(env *env, msg types.Msg) error {
	s, err := loadSigner(env)
	if err != nil {
		return err
	}

	e, err := openEngine(env)
	if err != nil {
		return err
	}
	defer e.Stop()

	tx, err := types.NewTx(e.ChainID(), s.Address(), e.NextNonce(s.Address()), msg)
	if err != nil {
		return usagef("%v", err)
	}
	if err := s.SignTx(e.ChainID(), tx); err != nil {
		if errors.Is(err, signer.ErrDoubleSign) {
			return fmt.Errorf("%w (a different transaction was already signed at this nonce; "+
				"run 'meritberry unsafe-reset-signer' if it was never submitted)", err)
		}
		return err
	}

	receipt, err := e.Submit(tx)
	if receipt != nil {
		if perr := printJSON(env.stdout, receipt); perr != nil {
			return perr
		}
	}
	if err != nil {
		if engine.IsRejection(err) {
			// The nonce was not consumed, so the next command signs at it again
			if rerr := s.Reset(); rerr != nil {
				env.logger.Warn("failed to release signer nonce", "nonce", tx.Nonce, "error", rerr)
			}
			return fmt.Errorf("transaction rejected: %s", types.ReasonOf(err))
		}
		return err
	}
	return nil
}

// callerOr returns addr when set, otherwise the address of the caller key.
func callerOr(env *env, addr string) (types.Address, error) {
	if addr != "" {
		a, err := types.ParseAddress(addr)
		if err != nil {
			return types.ZeroAddress, usagef("%v", err)
		}
		return a, nil
	}
	s, err := loadSigner(env)
	if err != nil {
		return types.ZeroAddress, err
	}
	return s.Address(), nil
}
