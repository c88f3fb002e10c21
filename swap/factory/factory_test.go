// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package factory

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/xcswap/xcswap/swap"
	"github.com/xcswap/xcswap/swap/escrow"
	"github.com/xcswap/xcswap/swap/ledger"
	"github.com/xcswap/xcswap/swap/timelocks"
)

var (
	tMaker       = common.HexToAddress("0x1111111111111111111111111111111111111111")
	tTaker       = common.HexToAddress("0x2222222222222222222222222222222222222222")
	tResolver    = common.HexToAddress("0x3333333333333333333333333333333333333333")
	tTokenAddr   = common.HexToAddress("0x4444444444444444444444444444444444444444")
	tFactoryAddr = common.HexToAddress("0x5555555555555555555555555555555555555555")
	tSrcImpl     = common.HexToAddress("0x6666666666666666666666666666666666666666")
	tDstImpl     = common.HexToAddress("0x7777777777777777777777777777777777777777")

	tStart = time.Unix(1_700_000_000, 0).UTC()
)

type testRig struct {
	ldgr    *ledger.SimLedger
	token   *ledger.SimToken
	factory *Factory
	imm     *escrow.Immutables
}

func newTestRig(t *testing.T, creators ...common.Address) *testRig {
	t.Helper()
	ldgr := ledger.NewSimLedger(tStart)
	token := ldgr.DeployToken(tTokenAddr)
	f, err := New(&Config{
		Ledger:                    ldgr,
		Address:                   tFactoryAddr,
		SourceImplementation:      tSrcImpl,
		DestinationImplementation: tDstImpl,
		RescueDelay:               7 * 24 * time.Hour,
		Tolerance:                 30 * time.Second,
		AuthorizedCreators:        creators,
	})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	tl, err := timelocks.Pack(0, &timelocks.Schedule{
		SrcWithdrawal:         10,
		SrcPublicWithdrawal:   120,
		SrcCancellation:       600,
		SrcPublicCancellation: 900,
		DstWithdrawal:         10,
		DstPublicWithdrawal:   120,
		DstCancellation:       480,
	})
	if err != nil {
		t.Fatalf("Pack error: %v", err)
	}
	secret := [32]byte{1}
	rig := &testRig{
		ldgr:    ldgr,
		token:   token,
		factory: f,
		imm: &escrow.Immutables{
			OrderHash:     common.HexToHash("0x01"),
			Hashlock:      crypto.Keccak256Hash(secret[:]),
			Maker:         tMaker,
			Taker:         tTaker,
			Token:         tTokenAddr,
			Amount:        big.NewInt(10),
			SafetyDeposit: big.NewInt(1),
			Timelocks:     tl,
			Factory:       tFactoryAddr,
		},
	}
	// Both creators hold funds and a factory allowance covering a few
	// deployments.
	for _, addr := range []common.Address{tMaker, tResolver} {
		token.Mint(addr, big.NewInt(100))
		token.Approve(addr, tFactoryAddr, big.NewInt(100))
		ldgr.Fund(addr, big.NewInt(10))
	}
	return rig
}

func TestCreateSource(t *testing.T) {
	rig := newTestRig(t)
	esc, stamped, err := rig.factory.CreateSource(tMaker, rig.imm)
	if err != nil {
		t.Fatalf("CreateSource error: %v", err)
	}
	// The stamped deployment timestamp is the ledger clock.
	if stamped.Timelocks.DeployedAt() != uint64(tStart.Unix()) {
		t.Fatalf("deployedAt = %d, wanted %d", stamped.Timelocks.DeployedAt(), tStart.Unix())
	}
	// Prediction over the stamped immutables agrees with the deployment.
	if predicted := rig.factory.PredictAddress(stamped, escrow.RoleSource); predicted != esc.Address() {
		t.Fatalf("predicted %s, deployed %s", predicted, esc.Address())
	}
	// The escrow is funded: principal from the caller's allowance, deposit
	// from the caller's native balance.
	if bal := rig.token.BalanceOf(esc.Address()); bal.Int64() != 10 {
		t.Fatalf("escrow holds %s tokens, wanted 10", bal)
	}
	if bal := rig.ldgr.NativeBalance(esc.Address()); bal.Int64() != 1 {
		t.Fatalf("escrow holds %s native, wanted 1", bal)
	}
	if got := rig.factory.SourceEscrow(esc.Address()); got != esc {
		t.Fatalf("lookup returned wrong escrow")
	}
	// The stamped immutables drive the escrow's action gates.
	rig.ldgr.AdvanceTime(11 * time.Second)
	secret := [32]byte{1}
	if err := esc.Withdraw(tTaker, secret, stamped); err != nil {
		t.Fatalf("Withdraw on created escrow: %v", err)
	}
}

func TestCreateSourceReplay(t *testing.T) {
	rig := newTestRig(t)
	if _, _, err := rig.factory.CreateSource(tMaker, rig.imm); err != nil {
		t.Fatalf("CreateSource error: %v", err)
	}
	// Identical parameters at the same clock derive the same address, which
	// is already occupied.
	if _, _, err := rig.factory.CreateSource(tMaker, rig.imm); !errors.Is(err, swap.ErrEscrowExists) {
		t.Fatalf("wanted exists error for replay, got %v", err)
	}
	// A later clock stamps different timelocks, so the replay lands at a
	// fresh address.
	rig.ldgr.AdvanceTime(time.Second)
	if _, _, err := rig.factory.CreateSource(tMaker, rig.imm); err != nil {
		t.Fatalf("CreateSource at later clock: %v", err)
	}
}

func TestCreateSourceValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(imm *escrow.Immutables)
		wantErr error
	}{{
		name:    "wrong factory identity",
		mutate:  func(imm *escrow.Immutables) { imm.Factory = tResolver },
		wantErr: swap.ErrInvalidImmutables,
	}, {
		name:    "zero amount",
		mutate:  func(imm *escrow.Immutables) { imm.Amount = new(big.Int) },
		wantErr: swap.ErrInvalidImmutables,
	}, {
		name:    "nil safety deposit",
		mutate:  func(imm *escrow.Immutables) { imm.SafetyDeposit = nil },
		wantErr: swap.ErrInvalidImmutables,
	}, {
		name: "unordered stages",
		mutate: func(imm *escrow.Immutables) {
			imm.Timelocks, _ = timelocks.Pack(0, &timelocks.Schedule{
				SrcWithdrawal:         120,
				SrcPublicWithdrawal:   120, // not strictly after
				SrcCancellation:       600,
				SrcPublicCancellation: 900,
				DstWithdrawal:         10,
				DstPublicWithdrawal:   120,
				DstCancellation:       480,
			})
		},
		wantErr: swap.ErrStageOrder,
	}}

	for _, tt := range tests {
		rig := newTestRig(t)
		tt.mutate(rig.imm)
		_, _, err := rig.factory.CreateSource(tMaker, rig.imm)
		if !errors.Is(err, tt.wantErr) {
			t.Fatalf("%s: wanted error %q, got %v", tt.name, tt.wantErr, err)
		}
	}
}

func TestCreateDestinationOrdering(t *testing.T) {
	rig := newTestRig(t)
	// Destination cancellation lands at deploy+480s. A source cancellation
	// far enough in the future passes.
	srcCancellation := tStart.Add(600 * time.Second)
	if _, _, err := rig.factory.CreateDestination(tResolver, rig.imm, srcCancellation); err != nil {
		t.Fatalf("CreateDestination error: %v", err)
	}
	// With the source cancelling earlier, the destination would outlive it:
	// deploy+480s > src+30s tolerance.
	rig.ldgr.AdvanceTime(time.Second)
	srcCancellation = tStart.Add(300 * time.Second)
	_, _, err := rig.factory.CreateDestination(tResolver, rig.imm, srcCancellation)
	if !errors.Is(err, swap.ErrInvalidCreationTime) {
		t.Fatalf("wanted creation-time error, got %v", err)
	}
	// The tolerance is honored exactly: dst cancellation at src+tolerance is
	// still acceptable.
	srcCancellation = rig.ldgr.Now().Add(480*time.Second - 30*time.Second)
	if _, _, err := rig.factory.CreateDestination(tResolver, rig.imm, srcCancellation); err != nil {
		t.Fatalf("CreateDestination at exact tolerance boundary: %v", err)
	}
}

func TestCreateDestinationAllowList(t *testing.T) {
	rig := newTestRig(t, tResolver)
	srcCancellation := tStart.Add(600 * time.Second)
	if _, _, err := rig.factory.CreateDestination(tMaker, rig.imm, srcCancellation); !errors.Is(err, swap.ErrUnauthorized) {
		t.Fatalf("wanted unauthorized error, got %v", err)
	}
	if _, _, err := rig.factory.CreateDestination(tResolver, rig.imm, srcCancellation); err != nil {
		t.Fatalf("CreateDestination by allowed creator: %v", err)
	}
	// Source creation is not gated by the allow-list.
	if _, _, err := rig.factory.CreateSource(tMaker, rig.imm); err != nil {
		t.Fatalf("CreateSource error: %v", err)
	}
}

func TestRoleAddressesDiffer(t *testing.T) {
	// The same immutables deploy to different addresses per role, since the
	// role implementations differ.
	rig := newTestRig(t)
	stamped, err := rig.imm.Timelocks.WithDeployedAt(uint64(tStart.Unix()))
	if err != nil {
		t.Fatalf("WithDeployedAt error: %v", err)
	}
	imm := rig.imm.Copy()
	imm.Timelocks = stamped
	src := rig.factory.PredictAddress(imm, escrow.RoleSource)
	dst := rig.factory.PredictAddress(imm, escrow.RoleDestination)
	if src == dst {
		t.Fatalf("role addresses collide at %s", src)
	}
}

func TestInsufficientFunding(t *testing.T) {
	rig := newTestRig(t)
	// Without an allowance, funding fails and no escrow is registered.
	rig.token.Approve(tMaker, tFactoryAddr, new(big.Int))
	_, _, err := rig.factory.CreateSource(tMaker, rig.imm)
	if err == nil {
		t.Fatalf("no error for unfunded creation")
	}
	tl, err := rig.imm.Timelocks.WithDeployedAt(uint64(tStart.Unix()))
	if err != nil {
		t.Fatalf("WithDeployedAt error: %v", err)
	}
	stamped := rig.imm.Copy()
	stamped.Timelocks = tl
	addr := rig.factory.PredictAddress(stamped, escrow.RoleSource)
	if rig.factory.SourceEscrow(addr) != nil {
		t.Fatalf("escrow registered despite failed funding")
	}
	if rig.ldgr.HasCode(addr) {
		t.Fatalf("code set despite failed funding")
	}
}

func TestFailedDepositRefundsPrincipal(t *testing.T) {
	rig := newTestRig(t)
	// An allowance covers the principal, but the maker has no native balance
	// for the safety deposit, so funding fails after the principal has
	// already been pulled. The principal must come back: the derived address
	// is never registered, and tokens left there would be unrecoverable.
	if err := rig.ldgr.TransferNative(tMaker, tTaker, big.NewInt(10)); err != nil {
		t.Fatalf("drain error: %v", err)
	}
	if _, _, err := rig.factory.CreateSource(tMaker, rig.imm); err == nil {
		t.Fatalf("no error with no deposit balance")
	}
	if bal := rig.token.BalanceOf(tMaker); bal.Int64() != 100 {
		t.Fatalf("maker holds %s tokens after failed creation, wanted 100", bal)
	}
	tl, err := rig.imm.Timelocks.WithDeployedAt(uint64(tStart.Unix()))
	if err != nil {
		t.Fatalf("WithDeployedAt error: %v", err)
	}
	stamped := rig.imm.Copy()
	stamped.Timelocks = tl
	addr := rig.factory.PredictAddress(stamped, escrow.RoleSource)
	if bal := rig.token.BalanceOf(addr); bal.Sign() != 0 {
		t.Fatalf("%s tokens stranded at unregistered address %s", bal, addr)
	}
	if rig.factory.SourceEscrow(addr) != nil || rig.ldgr.HasCode(addr) {
		t.Fatalf("escrow registered despite failed funding")
	}
	// With the deposit restored, the same creation succeeds.
	rig.ldgr.Fund(tMaker, big.NewInt(1))
	if _, _, err := rig.factory.CreateSource(tMaker, rig.imm); err != nil {
		t.Fatalf("CreateSource after refunding deposit: %v", err)
	}
}
