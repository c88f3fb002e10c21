// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package factory deploys escrow instances as address-deterministic clones of
// fixed role implementations. The factory is the trust anchor every escrow
// validates itself against: the deployed address is a pure function of the
// immutables hash and the factory identity, so any party can recompute it
// without querying the factory.
package factory

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xcswap/xcswap/swap"
	"github.com/xcswap/xcswap/swap/escrow"
	"github.com/xcswap/xcswap/swap/ledger"
	"github.com/xcswap/xcswap/swap/timelocks"
)

// Config is the factory configuration.
type Config struct {
	// Ledger is the chain the factory deploys to.
	Ledger ledger.Ledger
	// Address is the factory's own identity, embedded in every immutables
	// set it deploys.
	Address common.Address
	// SourceImplementation and DestinationImplementation are the fixed
	// implementation addresses the role clones derive from.
	SourceImplementation      common.Address
	DestinationImplementation common.Address
	// RescueDelay is the fixed delay before escrow rescue opens.
	RescueDelay time.Duration
	// Tolerance bounds the cross-chain timestamp comparison when a
	// destination escrow is created against an observed source cancellation
	// time. Chains drift, so the comparison cannot assume equal clocks. The
	// right value is deployment-specific and empirically contested, which is
	// why it is configuration rather than a constant.
	Tolerance time.Duration
	// AuthorizedCreators restricts destination escrow creation when
	// non-empty. Source creation is driven by order settlement and stays
	// open.
	AuthorizedCreators []common.Address
}

// Factory deploys escrows at deterministic addresses on one ledger.
type Factory struct {
	ldgr        ledger.Ledger
	addr        common.Address
	srcImpl     common.Address
	dstImpl     common.Address
	rescueDelay time.Duration
	tolerance   time.Duration
	creators    map[common.Address]bool

	mtx  sync.RWMutex
	srcs map[common.Address]*escrow.SourceEscrow
	dsts map[common.Address]*escrow.DestinationEscrow
}

// New constructs a Factory.
func New(cfg *Config) (*Factory, error) {
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("no ledger provided")
	}
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("factory address unset")
	}
	if cfg.SourceImplementation == cfg.DestinationImplementation {
		return nil, fmt.Errorf("role implementations must differ")
	}
	var creators map[common.Address]bool
	if len(cfg.AuthorizedCreators) > 0 {
		creators = make(map[common.Address]bool, len(cfg.AuthorizedCreators))
		for _, addr := range cfg.AuthorizedCreators {
			creators[addr] = true
		}
	}
	cfg.Ledger.SetCode(cfg.Address)
	return &Factory{
		ldgr:        cfg.Ledger,
		addr:        cfg.Address,
		srcImpl:     cfg.SourceImplementation,
		dstImpl:     cfg.DestinationImplementation,
		rescueDelay: cfg.RescueDelay,
		tolerance:   cfg.Tolerance,
		creators:    creators,
		srcs:        make(map[common.Address]*escrow.SourceEscrow),
		dsts:        make(map[common.Address]*escrow.DestinationEscrow),
	}, nil
}

// Address is the factory's identity.
func (f *Factory) Address() common.Address {
	return f.addr
}

// IsAuthorizedCreator reports whether the address may create destination
// escrows. An empty allow-list leaves creation open. This is the policy
// boundary to the external whitelisting subsystem.
func (f *Factory) IsAuthorizedCreator(addr common.Address) bool {
	if f.creators == nil {
		return true
	}
	return f.creators[addr]
}

// PredictAddress computes the address a deployment of the given immutables
// will produce for the role. Pure: repeated calls with equal input give equal
// output, and the result agrees bit-for-bit with the deployment itself. The
// supplied timelocks must already carry the deployment timestamp the creation
// call will stamp.
func (f *Factory) PredictAddress(imm *escrow.Immutables, role escrow.Role) common.Address {
	impl := f.srcImpl
	if role == escrow.RoleDestination {
		impl = f.dstImpl
	}
	return escrow.PredictAddress(impl, imm.Hash(), f.addr)
}

// checkImmutables validates the parts of an immutables set common to both
// creation paths.
func (f *Factory) checkImmutables(imm *escrow.Immutables) error {
	if imm.Factory != f.addr {
		return swap.NewError(swap.ErrInvalidImmutables,
			fmt.Sprintf("immutables name factory %s, not %s", imm.Factory, f.addr))
	}
	if imm.Amount == nil || imm.Amount.Sign() <= 0 {
		return swap.NewError(swap.ErrInvalidImmutables, "non-positive amount")
	}
	if imm.SafetyDeposit == nil || imm.SafetyDeposit.Sign() < 0 {
		return swap.NewError(swap.ErrInvalidImmutables, "missing safety deposit")
	}
	return imm.Timelocks.Validate()
}

// stamp returns a copy of the immutables with the deployment timestamp set to
// the ledger clock.
func (f *Factory) stamp(imm *escrow.Immutables) (*escrow.Immutables, error) {
	now := f.ldgr.Now()
	tl, err := imm.Timelocks.WithDeployedAt(uint64(now.Unix()))
	if err != nil {
		return nil, swap.NewError(swap.ErrInvalidCreationTime, err.Error())
	}
	stamped := imm.Copy()
	stamped.Timelocks = tl
	return stamped, nil
}

// fund pulls the principal from the caller's token allowance and the native
// safety deposit from the caller's balance into the escrow address.
func (f *Factory) fund(caller, escrowAddr common.Address, imm *escrow.Immutables) error {
	tkn, err := f.ldgr.Token(imm.Token)
	if err != nil {
		return fmt.Errorf("token %s unavailable: %w", imm.Token, err)
	}
	if err := tkn.TransferFrom(f.addr, caller, escrowAddr, imm.Amount); err != nil {
		return fmt.Errorf("funding transfer failed: %w", err)
	}
	if err := f.ldgr.TransferNative(caller, escrowAddr, imm.SafetyDeposit); err != nil {
		// Return the principal so a failed creation moves no funds. The
		// escrow address is never registered, so without the refund the
		// tokens would be stranded.
		if refundErr := tkn.Transfer(escrowAddr, caller, imm.Amount); refundErr != nil {
			log.Errorf("principal refund of %s from %s to %s failed: %v",
				imm.Amount, escrowAddr, caller, refundErr)
		}
		return fmt.Errorf("safety deposit transfer failed: %w", err)
	}
	return nil
}

// CreateSource deploys and funds a source-role escrow. The caller must hold
// the principal with an allowance for the factory, plus the native safety
// deposit. The returned immutables carry the stamped deployment timestamp
// and are what every later call on the escrow must resupply.
func (f *Factory) CreateSource(caller common.Address, imm *escrow.Immutables) (*escrow.SourceEscrow, *escrow.Immutables, error) {
	if err := f.checkImmutables(imm); err != nil {
		return nil, nil, err
	}
	stamped, err := f.stamp(imm)
	if err != nil {
		return nil, nil, err
	}
	immHash := stamped.Hash()
	addr := escrow.PredictAddress(f.srcImpl, immHash, f.addr)

	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.ldgr.HasCode(addr) {
		return nil, nil, swap.NewError(swap.ErrEscrowExists, addr.String())
	}
	if err := f.fund(caller, addr, stamped); err != nil {
		return nil, nil, err
	}
	esc := escrow.NewSource(&escrow.Config{
		Address:        addr,
		Implementation: f.srcImpl,
		ImmutablesHash: immHash,
		Ledger:         f.ldgr,
		RescueDelay:    f.rescueDelay,
	})
	f.ldgr.SetCode(addr)
	f.srcs[addr] = esc
	f.ldgr.Emit(&ledger.Event{
		Type:           ledger.EventEscrowCreated,
		Emitter:        f.addr,
		Escrow:         addr,
		ImmutablesHash: immHash,
		OrderHash:      stamped.OrderHash,
		Source:         true,
	})
	log.Infof("source escrow %s created for order %s by %s", addr, stamped.OrderHash, caller)
	return esc, stamped, nil
}

// CreateDestination deploys and funds a destination-role escrow. The
// srcCancellation argument is the paired source escrow's absolute
// cancellation time as observed on the other chain; the destination's own
// cancellation must not outlive it beyond the configured tolerance, or the
// source side could be cancelled while the destination is still
// withdrawable.
func (f *Factory) CreateDestination(caller common.Address, imm *escrow.Immutables, srcCancellation time.Time) (*escrow.DestinationEscrow, *escrow.Immutables, error) {
	if !f.IsAuthorizedCreator(caller) {
		return nil, nil, swap.NewError(swap.ErrUnauthorized, caller.String())
	}
	if err := f.checkImmutables(imm); err != nil {
		return nil, nil, err
	}
	stamped, err := f.stamp(imm)
	if err != nil {
		return nil, nil, err
	}
	dstCancellation := stamped.Timelocks.StageTime(timelocks.DstCancellation)
	if dstCancellation.After(srcCancellation.Add(f.tolerance)) {
		return nil, nil, swap.NewError(swap.ErrInvalidCreationTime,
			fmt.Sprintf("destination cancellation %s outlives source cancellation %s + tolerance %s",
				dstCancellation, srcCancellation, f.tolerance))
	}
	immHash := stamped.Hash()
	addr := escrow.PredictAddress(f.dstImpl, immHash, f.addr)

	f.mtx.Lock()
	defer f.mtx.Unlock()
	if f.ldgr.HasCode(addr) {
		return nil, nil, swap.NewError(swap.ErrEscrowExists, addr.String())
	}
	if err := f.fund(caller, addr, stamped); err != nil {
		return nil, nil, err
	}
	esc := escrow.NewDestination(&escrow.Config{
		Address:        addr,
		Implementation: f.dstImpl,
		ImmutablesHash: immHash,
		Ledger:         f.ldgr,
		RescueDelay:    f.rescueDelay,
	})
	f.ldgr.SetCode(addr)
	f.dsts[addr] = esc
	f.ldgr.Emit(&ledger.Event{
		Type:           ledger.EventEscrowCreated,
		Emitter:        f.addr,
		Escrow:         addr,
		ImmutablesHash: immHash,
		OrderHash:      stamped.OrderHash,
	})
	log.Infof("destination escrow %s created for order %s by %s", addr, stamped.OrderHash, caller)
	return esc, stamped, nil
}

// SourceEscrow looks up a deployed source escrow by address.
func (f *Factory) SourceEscrow(addr common.Address) *escrow.SourceEscrow {
	f.mtx.RLock()
	defer f.mtx.RUnlock()
	return f.srcs[addr]
}

// DestinationEscrow looks up a deployed destination escrow by address.
func (f *Factory) DestinationEscrow(addr common.Address) *escrow.DestinationEscrow {
	f.mtx.RLock()
	defer f.mtx.RUnlock()
	return f.dsts[addr]
}
