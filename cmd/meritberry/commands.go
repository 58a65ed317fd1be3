package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/blockberries/meritberry/engine"
	"github.com/blockberries/meritberry/signer"
	"github.com/blockberries/meritberry/types"
)

func init() {
	register("keygen", "generate a caller key", keygenCmd)
	register("init", "write a config with a fresh genesis", initCmd)
	register("address", "print the caller address", addressCmd)
	register("unsafe-reset-signer", "forget the last signed nonce of the caller key", resetSignerCmd)

	register("mint", "mint tokens (owner only)", mintCmd)
	register("burn", "burn tokens from the caller", burnCmd)
	register("transfer", "transfer tokens", transferCmd)
	register("approve", "set a spender allowance", approveCmd)
	register("transfer-from", "spend an allowance", transferFromCmd)
	register("propose", "create a governance proposal", proposeCmd)
	register("vote", "vote on a proposal", voteCmd)
	register("mint-badge", "issue a course badge (issuer only)", mintBadgeCmd)
	register("transfer-badge", "attempt to move a badge", transferBadgeCmd)

	register("balance", "print a token balance", balanceCmd)
	register("token", "print token metadata and supply", tokenCmd)
	register("allowance", "print an allowance", allowanceCmd)
	register("nonce", "print the next nonce of an address", nonceCmd)
	register("proposal", "print a proposal", proposalCmd)
	register("stats", "print the vote tally of a proposal", statsCmd)
	register("badge", "print a badge by token id or owner", badgeCmd)
	register("receipt", "print the receipt of a transaction", receiptCmd)
	register("status", "print node metrics", statusCmd)
	register("snapshot", "save a snapshot and checkpoint the WAL", snapshotCmd)
}

// --- Keys and setup ---

func keygenCmd(fs *pflag.FlagSet) func(*env) error {
	return func(env *env) error {
		keyPath := env.opts.keyPath()
		s, err := signer.GenerateFileSigner(keyPath, signer.StatePath(keyPath))
		if err != nil {
			return err
		}
		env.logger.Info("generated key", "path", keyPath)
		return printJSON(env.stdout, map[string]string{
			"address": s.Address().String(),
			"key":     keyPath,
		})
	}
}

func addressCmd(fs *pflag.FlagSet) func(*env) error {
	return func(env *env) error {
		s, err := loadSigner(env)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(env.stdout, s.Address())
		return err
	}
}

func resetSignerCmd(fs *pflag.FlagSet) func(*env) error {
	return func(env *env) error {
		s, err := loadSigner(env)
		if err != nil {
			return err
		}
		if err := s.Reset(); err != nil {
			return err
		}
		env.logger.Warn("reset signer state", "address", s.Address())
		return nil
	}
}

func initCmd(fs *pflag.FlagSet) func(*env) error {
	var (
		chainID          = fs.String("chain-id", engine.DefaultConfig().ChainID, "chain id")
		deployer         = fs.String("deployer", "", "deployer address (default: caller key, generated if missing)")
		supply           = fs.String("supply", "1000000", "initial supply credited to the deployer")
		authority        = fs.String("governance-authority", "", "governance authority (default: deployer)")
		issuer           = fs.String("issuer", "", "badge issuer (default: deployer)")
		badgeClass       = fs.String("badge-class", "soulbound", "badge class: soulbound or transferable")
		snapshotInterval = fs.Uint64("snapshot-interval", engine.DefaultConfig().SnapshotInterval, "commits between snapshots, 0 disables")
		force            = fs.Bool("force", false, "overwrite an existing config")
	)

	return func(env *env) error {
		path := env.opts.configPath()
		if _, err := os.Stat(path); err == nil && !*force {
			return fmt.Errorf("config %s already exists (use --force to overwrite)", path)
		}

		amount, err := types.ParseAmount(*supply)
		if err != nil {
			return usagef("--supply: %v", err)
		}

		deployerAddr, err := deployerAddress(env, *deployer)
		if err != nil {
			return err
		}

		cfg := engine.DefaultConfig()
		cfg.ChainID = *chainID
		// Empty home resolves against the config file's directory
		cfg.Home = ""
		cfg.SnapshotInterval = *snapshotInterval
		cfg.Genesis.ChainID = *chainID
		cfg.Genesis.Deployer = deployerAddr
		cfg.Genesis.InitialSupply = amount
		cfg.Genesis.BadgeClass = *badgeClass
		if *authority != "" {
			if cfg.Genesis.GovernanceAuthority, err = types.ParseAddress(*authority); err != nil {
				return usagef("--governance-authority: %v", err)
			}
		}
		if *issuer != "" {
			if cfg.Genesis.Issuer, err = types.ParseAddress(*issuer); err != nil {
				return usagef("--issuer: %v", err)
			}
		}

		if err := cfg.ValidateBasic(); err != nil {
			return usagef("%v", err)
		}
		if err := engine.WriteConfig(path, cfg); err != nil {
			return err
		}

		env.logger.Info("wrote config", "path", path, "chain_id", cfg.ChainID)
		return printJSON(env.stdout, map[string]string{
			"config":       path,
			"chain_id":     cfg.ChainID,
			"deployer":     deployerAddr.String(),
			"genesis_hash": types.HashString(cfg.Genesis.Hash()),
		})
	}
}

func deployerAddress(env *env, flag string) (types.Address, error) {
	if flag != "" {
		a, err := types.ParseAddress(flag)
		if err != nil {
			return types.ZeroAddress, usagef("--deployer: %v", err)
		}
		return a, nil
	}
	keyPath := env.opts.keyPath()
	s, err := signer.NewFileSigner(keyPath, signer.StatePath(keyPath))
	if err != nil {
		return types.ZeroAddress, err
	}
	return s.Address(), nil
}

// --- Transactions ---

func addressFlag(fs *pflag.FlagSet, name, usage string) func() (types.Address, error) {
	v := fs.String(name, "", usage)
	return func() (types.Address, error) {
		a, err := types.ParseAddress(*v)
		if err != nil {
			return types.ZeroAddress, usagef("--%s: %v", name, err)
		}
		return a, nil
	}
}

func amountFlag(fs *pflag.FlagSet) func() (types.Amount, error) {
	v := fs.String("amount", "", "token amount")
	return func() (types.Amount, error) {
		a, err := types.ParseAmount(*v)
		if err != nil {
			return types.Amount{}, usagef("--amount: %v", err)
		}
		return a, nil
	}
}

func mintCmd(fs *pflag.FlagSet) func(*env) error {
	to := addressFlag(fs, "to", "recipient address")
	amount := amountFlag(fs)
	return func(env *env) error {
		if err := requireFlags(fs, "to", "amount"); err != nil {
			return err
		}
		msg := &types.MsgMint{}
		var err error
		if msg.To, err = to(); err != nil {
			return err
		}
		if msg.Amount, err = amount(); err != nil {
			return err
		}
		return submit(env, msg)
	}
}

func burnCmd(fs *pflag.FlagSet) func(*env) error {
	amount := amountFlag(fs)
	return func(env *env) error {
		if err := requireFlags(fs, "amount"); err != nil {
			return err
		}
		a, err := amount()
		if err != nil {
			return err
		}
		return submit(env, &types.MsgBurn{Amount: a})
	}
}

func transferCmd(fs *pflag.FlagSet) func(*env) error {
	to := addressFlag(fs, "to", "recipient address")
	amount := amountFlag(fs)
	return func(env *env) error {
		if err := requireFlags(fs, "to", "amount"); err != nil {
			return err
		}
		msg := &types.MsgTransfer{}
		var err error
		if msg.To, err = to(); err != nil {
			return err
		}
		if msg.Amount, err = amount(); err != nil {
			return err
		}
		return submit(env, msg)
	}
}

func approveCmd(fs *pflag.FlagSet) func(*env) error {
	spender := addressFlag(fs, "spender", "spender address")
	amount := amountFlag(fs)
	return func(env *env) error {
		if err := requireFlags(fs, "spender", "amount"); err != nil {
			return err
		}
		msg := &types.MsgApprove{}
		var err error
		if msg.Spender, err = spender(); err != nil {
			return err
		}
		if msg.Amount, err = amount(); err != nil {
			return err
		}
		return submit(env, msg)
	}
}

func transferFromCmd(fs *pflag.FlagSet) func(*env) error {
	from := addressFlag(fs, "from", "address whose allowance is spent")
	to := addressFlag(fs, "to", "recipient address")
	amount := amountFlag(fs)
	return func(env *env) error {
		if err := requireFlags(fs, "from", "to", "amount"); err != nil {
			return err
		}
		msg := &types.MsgTransferFrom{}
		var err error
		if msg.From, err = from(); err != nil {
			return err
		}
		if msg.To, err = to(); err != nil {
			return err
		}
		if msg.Amount, err = amount(); err != nil {
			return err
		}
		return submit(env, msg)
	}
}

func proposeCmd(fs *pflag.FlagSet) func(*env) error {
	description := fs.String("description", "", "proposal text")
	return func(env *env) error {
		return submit(env, &types.MsgCreateProposal{Description: *description})
	}
}

func voteCmd(fs *pflag.FlagSet) func(*env) error {
	id := fs.Uint64("id", 0, "proposal id")
	against := fs.Bool("no", false, "vote against (default votes in favor)")
	return func(env *env) error {
		if err := requireFlags(fs, "id"); err != nil {
			return err
		}
		return submit(env, &types.MsgVote{ProposalID: types.ProposalID(*id), Support: !*against})
	}
}

func mintBadgeCmd(fs *pflag.FlagSet) func(*env) error {
	recipient := addressFlag(fs, "recipient", "badge recipient")
	course := fs.String("course", "", "course name")
	name := fs.String("name", "", "recipient name")
	hours := fs.Uint64("hours", 0, "course hours")
	return func(env *env) error {
		if err := requireFlags(fs, "recipient"); err != nil {
			return err
		}
		r, err := recipient()
		if err != nil {
			return err
		}
		return submit(env, &types.MsgMintBadge{
			Recipient:     r,
			CourseName:    *course,
			RecipientName: *name,
			Hours:         *hours,
		})
	}
}

func transferBadgeCmd(fs *pflag.FlagSet) func(*env) error {
	from := addressFlag(fs, "from", "current owner")
	to := addressFlag(fs, "to", "new owner")
	token := fs.Uint64("token", 0, "badge token id")
	return func(env *env) error {
		if err := requireFlags(fs, "from", "to", "token"); err != nil {
			return err
		}
		msg := &types.MsgTransferBadge{TokenID: types.TokenID(*token)}
		var err error
		if msg.From, err = from(); err != nil {
			return err
		}
		if msg.To, err = to(); err != nil {
			return err
		}
		return submit(env, msg)
	}
}

// --- Queries ---

// query opens the engine, runs fn and stops it again.
func query(env *env, fn func(e *engine.Engine) (any, error)) error {
	e, err := openEngine(env)
	if err != nil {
		return err
	}
	defer e.Stop()

	v, err := fn(e)
	if err != nil {
		return err
	}
	return printJSON(env.stdout, v)
}

func balanceCmd(fs *pflag.FlagSet) func(*env) error {
	addr := fs.String("address", "", "account (default: caller key)")
	return func(env *env) error {
		a, err := callerOr(env, *addr)
		if err != nil {
			return err
		}
		return query(env, func(e *engine.Engine) (any, error) {
			return map[string]any{
				"address": a,
				"balance": e.BalanceOf(a),
				"badges":  e.BadgeBalanceOf(a),
			}, nil
		})
	}
}

func tokenCmd(fs *pflag.FlagSet) func(*env) error {
	return func(env *env) error {
		return query(env, func(e *engine.Engine) (any, error) {
			return map[string]any{
				"metadata":     e.TokenMetadata(),
				"owner":        e.Owner(),
				"total_supply": e.TotalSupply(),
			}, nil
		})
	}
}

func allowanceCmd(fs *pflag.FlagSet) func(*env) error {
	owner := fs.String("owner", "", "allowance owner (default: caller key)")
	spender := addressFlag(fs, "spender", "spender address")
	return func(env *env) error {
		if err := requireFlags(fs, "spender"); err != nil {
			return err
		}
		o, err := callerOr(env, *owner)
		if err != nil {
			return err
		}
		s, err := spender()
		if err != nil {
			return err
		}
		return query(env, func(e *engine.Engine) (any, error) {
			return map[string]any{"owner": o, "spender": s, "allowance": e.Allowance(o, s)}, nil
		})
	}
}

func nonceCmd(fs *pflag.FlagSet) func(*env) error {
	addr := fs.String("address", "", "account (default: caller key)")
	return func(env *env) error {
		a, err := callerOr(env, *addr)
		if err != nil {
			return err
		}
		return query(env, func(e *engine.Engine) (any, error) {
			return map[string]any{"address": a, "next_nonce": e.NextNonce(a)}, nil
		})
	}
}

// proposalView is the printed form of a proposal.
type proposalView struct {
	ID          types.ProposalID `json:"id"`
	Description string           `json:"description"`
	Proposer    types.Address    `json:"proposer"`
	Yes         uint64           `json:"yes"`
	No          uint64           `json:"no"`
	Voters      []types.Address  `json:"voters"`
	CreatedAt   uint64           `json:"created_at"`
}

func proposalCmd(fs *pflag.FlagSet) func(*env) error {
	id := fs.Uint64("id", 0, "proposal id")
	return func(env *env) error {
		if err := requireFlags(fs, "id"); err != nil {
			return err
		}
		return query(env, func(e *engine.Engine) (any, error) {
			p, err := e.GetProposal(types.ProposalID(*id))
			if err != nil {
				return nil, err
			}
			return proposalView{
				ID:          p.ID,
				Description: p.Description,
				Proposer:    p.Proposer,
				Yes:         p.YesVotes,
				No:          p.NoVotes,
				Voters:      p.VoterList(),
				CreatedAt:   p.CreatedAt,
			}, nil
		})
	}
}

func statsCmd(fs *pflag.FlagSet) func(*env) error {
	id := fs.Uint64("id", 0, "proposal id")
	return func(env *env) error {
		if err := requireFlags(fs, "id"); err != nil {
			return err
		}
		return query(env, func(e *engine.Engine) (any, error) {
			stats, err := e.GetVoteStats(types.ProposalID(*id))
			if err != nil {
				return nil, err
			}
			return stats, nil
		})
	}
}

func badgeCmd(fs *pflag.FlagSet) func(*env) error {
	token := fs.Uint64("token", 0, "badge token id")
	owner := fs.String("owner", "", "badge holder")
	return func(env *env) error {
		if fs.Changed("token") == fs.Changed("owner") {
			return usagef("exactly one of --token and --owner is required")
		}
		var ownerAddr types.Address
		if fs.Changed("owner") {
			var err error
			if ownerAddr, err = types.ParseAddress(*owner); err != nil {
				return usagef("--owner: %v", err)
			}
		}
		return query(env, func(e *engine.Engine) (any, error) {
			if ownerAddr.IsEmpty() {
				return e.GetBadgeMetadata(types.TokenID(*token))
			}
			b, ok := e.BadgeOf(ownerAddr)
			if !ok {
				return nil, fmt.Errorf("%s holds no badge", ownerAddr)
			}
			return b, nil
		})
	}
}

func receiptCmd(fs *pflag.FlagSet) func(*env) error {
	hash := fs.String("hash", "", "transaction hash (hex)")
	return func(env *env) error {
		if err := requireFlags(fs, "hash"); err != nil {
			return err
		}
		h, err := types.ParseHash(*hash)
		if err != nil {
			return usagef("--hash: %v", err)
		}
		return query(env, func(e *engine.Engine) (any, error) {
			return e.Receipt(h)
		})
	}
}

func statusCmd(fs *pflag.FlagSet) func(*env) error {
	return func(env *env) error {
		return query(env, func(e *engine.Engine) (any, error) {
			return e.GetMetrics()
		})
	}
}

func snapshotCmd(fs *pflag.FlagSet) func(*env) error {
	return func(env *env) error {
		return query(env, func(e *engine.Engine) (any, error) {
			if err := e.Snapshot(); err != nil {
				if errors.Is(err, engine.ErrNoSnapshotStore) {
					return nil, fmt.Errorf("%w: snapshot_dir is not configured", err)
				}
				return nil, err
			}
			return map[string]any{"seq": e.LastSeq(), "app_hash": e.AppHash()}, nil
		})
	}
}
