package engine

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/blockberries/meritberry/registry"
	"github.com/blockberries/meritberry/types"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	app, err := NewApp(newTestConfig(t).Genesis)
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	return app
}

func deliver(t *testing.T, app *App, tx *types.Tx) []types.Event {
	t.Helper()
	msg, err := types.DecodeMsg(tx)
	if err != nil {
		t.Fatalf("DecodeMsg failed: %v", err)
	}
	events, err := app.DeliverTx(app.Seq()+1, tx, msg)
	if err != nil {
		t.Fatalf("DeliverTx(%s) failed: %v", tx.Kind, err)
	}
	return events
}

func TestNewAppDefaults(t *testing.T) {
	app := newTestApp(t)

	if app.Governance().Authority() != alice.addr {
		t.Errorf("governance authority should default to deployer, got %s", app.Governance().Authority())
	}
	if app.Registry().Issuer() != alice.addr {
		t.Errorf("issuer should default to deployer, got %s", app.Registry().Issuer())
	}
	if app.Registry().Class() != registry.Soulbound {
		t.Errorf("badge class should default to soulbound, got %s", app.Registry().Class())
	}
	if app.Governance().Token() == nil {
		t.Error("governance should hold the token handle")
	}
}

func TestNewAppGenesisRoles(t *testing.T) {
	g := newTestConfig(t).Genesis
	g.GovernanceAuthority = bob.addr
	g.Issuer = carol.addr
	g.BadgeClass = "transferable"

	app, err := NewApp(g)
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	if app.Governance().Authority() != bob.addr || app.Registry().Issuer() != carol.addr {
		t.Error("genesis roles not applied")
	}
	if app.Registry().Class() != registry.Transferable {
		t.Error("badge class not applied")
	}

	g.BadgeClass = "glued"
	if _, err := NewApp(g); !errors.Is(err, ErrInvalidGenesis) {
		t.Errorf("expected ErrInvalidGenesis, got %v", err)
	}
}

func TestAppCheckTxDoesNotMutate(t *testing.T) {
	app := newTestApp(t)
	before, _ := app.StateHash()

	tx := alice.sign(t, 0, &types.MsgTransfer{To: bob.addr, Amount: types.NewAmount(10)})
	msg, _ := types.DecodeMsg(tx)
	if err := app.CheckTx(tx, msg); err != nil {
		t.Fatalf("CheckTx failed: %v", err)
	}

	after, _ := app.StateHash()
	if !types.HashEqual(before, after) {
		t.Error("CheckTx mutated state")
	}
	if app.NextNonce(alice.addr) != 0 {
		t.Error("CheckTx bumped the nonce")
	}
}

func TestAppDeliverTx(t *testing.T) {
	app := newTestApp(t)

	events := deliver(t, app, alice.sign(t, 0, &types.MsgMint{To: bob.addr, Amount: types.NewAmount(5)}))
	if len(events) != 1 || events[0].Type != types.EventMint {
		t.Errorf("expected mint event, got %+v", events)
	}
	if app.NextNonce(alice.addr) != 1 || app.Seq() != 1 {
		t.Errorf("expected nonce 1 and seq 1, got %d and %d", app.NextNonce(alice.addr), app.Seq())
	}

	// Failing guard leaves nonce and seq alone
	tx := bob.sign(t, 0, &types.MsgBurn{Amount: types.NewAmount(6)})
	msg, _ := types.DecodeMsg(tx)
	if _, err := app.DeliverTx(2, tx, msg); !errors.Is(err, types.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	if app.NextNonce(bob.addr) != 0 || app.Seq() != 1 {
		t.Error("failed delivery changed nonce or seq")
	}

	// Sequence gaps are refused
	tx = bob.sign(t, 0, &types.MsgBurn{Amount: types.NewAmount(1)})
	msg, _ = types.DecodeMsg(tx)
	if _, err := app.DeliverTx(5, tx, msg); !errors.Is(err, ErrReplayFailed) {
		t.Errorf("expected ErrReplayFailed for seq gap, got %v", err)
	}
}

func TestAppCheckTxEveryKind(t *testing.T) {
	app := newTestApp(t)
	deliver(t, app, bob.sign(t, 0, &types.MsgCreateProposal{Description: "p"}))
	deliver(t, app, alice.sign(t, 0, &types.MsgMintBadge{Recipient: bob.addr}))

	tests := []struct {
		name    string
		tx      *types.Tx
		wantErr error
	}{
		{"mint", carol.sign(t, 0, &types.MsgMint{To: carol.addr, Amount: types.NewAmount(1)}), types.ErrUnauthorized},
		{"burn", carol.sign(t, 0, &types.MsgBurn{Amount: types.NewAmount(1)}), types.ErrInsufficientBalance},
		{"transfer", carol.sign(t, 0, &types.MsgTransfer{To: bob.addr, Amount: types.NewAmount(1)}), types.ErrInsufficientBalance},
		{"approve", carol.sign(t, 0, &types.MsgApprove{Spender: bob.addr, Amount: types.NewAmount(-1)}), types.ErrInvalidAmount},
		{"transfer_from", carol.sign(t, 0, &types.MsgTransferFrom{From: alice.addr, To: carol.addr, Amount: types.NewAmount(1)}), types.ErrInsufficientAllowance},
		{"create_proposal", carol.sign(t, 0, &types.MsgCreateProposal{Description: "p"}), nil},
		{"vote", carol.sign(t, 0, &types.MsgVote{ProposalID: 3}), types.ErrUnknownProposal},
		{"mint_badge", carol.sign(t, 0, &types.MsgMintBadge{Recipient: carol.addr}), types.ErrUnauthorized},
		{"transfer_badge", bob.sign(t, 1, &types.MsgTransferBadge{From: bob.addr, To: carol.addr, TokenID: 1}), types.ErrTransferProhibited},
		{"bad nonce", carol.sign(t, 4, &types.MsgCreateProposal{Description: "p"}), types.ErrInvalidNonce},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := types.DecodeMsg(tt.tx)
			if err != nil {
				t.Fatalf("DecodeMsg failed: %v", err)
			}
			if err := app.CheckTx(tt.tx, msg); !errors.Is(err, tt.wantErr) {
				t.Errorf("CheckTx = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAppExportRestore(t *testing.T) {
	app := newTestApp(t)
	deliver(t, app, alice.sign(t, 0, &types.MsgTransfer{To: bob.addr, Amount: types.NewAmount(7)}))
	deliver(t, app, alice.sign(t, 1, &types.MsgApprove{Spender: carol.addr, Amount: types.NewAmount(3)}))
	deliver(t, app, bob.sign(t, 0, &types.MsgCreateProposal{Description: "p"}))
	deliver(t, app, carol.sign(t, 0, &types.MsgVote{ProposalID: 0, Support: true}))
	deliver(t, app, alice.sign(t, 2, &types.MsgMintBadge{Recipient: carol.addr, CourseName: "c", Hours: 1}))

	data, err := app.EncodeState()
	if err != nil {
		t.Fatalf("EncodeState failed: %v", err)
	}

	restored, err := DecodeAppState(data)
	if err != nil {
		t.Fatalf("DecodeAppState failed: %v", err)
	}

	again, err := restored.EncodeState()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, again) {
		t.Error("restored app encodes differently")
	}
	if restored.Seq() != 5 || restored.NextNonce(alice.addr) != 3 {
		t.Errorf("restored seq %d nonce %d", restored.Seq(), restored.NextNonce(alice.addr))
	}
	if restored.Governance().Token() == nil {
		t.Error("restored governance lost its token handle")
	}

	if _, err := DecodeAppState([]byte("garbage")); err == nil {
		t.Error("expected error decoding garbage")
	}
}

func TestAppExportRestoreBeyondDefaultDecodeLimits(t *testing.T) {
	app := newTestApp(t)

	// One more holder than a CBOR map may hold under the default limits
	const holders = 131073
	for i := 0; i < holders; i++ {
		to := types.Address(fmt.Sprintf("holder-%06d", i))
		if _, err := app.Ledger().Mint(alice.addr, to, types.NewAmount(1)); err != nil {
			t.Fatalf("Mint to %s failed: %v", to, err)
		}
	}

	data, err := app.EncodeState()
	if err != nil {
		t.Fatalf("EncodeState failed: %v", err)
	}
	restored, err := DecodeAppState(data)
	if err != nil {
		t.Fatalf("DecodeAppState failed: %v", err)
	}
	if n := len(restored.Ledger().Holders()); n != holders+1 {
		t.Errorf("expected %d holders, got %d", holders+1, n)
	}
	if !restored.Ledger().BalanceOf("holder-131072").Equal(types.NewAmount(1)) {
		t.Error("last holder lost its balance")
	}
}
