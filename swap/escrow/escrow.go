// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package escrow implements the HTLC escrow state machine. One escrow holds
// one side of a cross-chain swap: a token amount plus a native safety
// deposit, unlockable by the swap secret inside stage windows resolved from
// its packed timelocks, returnable by cancellation after the windows close,
// and sweepable by rescue after a long fixed delay.
package escrow

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/xcswap/xcswap/swap"
	"github.com/xcswap/xcswap/swap/ledger"
	"github.com/xcswap/xcswap/swap/timelocks"
)

// State is the lifecycle state of an escrow. StateCreated is initial; the
// other three are terminal, and at most one terminal transition ever
// succeeds.
type State uint8

const (
	// StateCreated is the funded, address-validated initial state.
	StateCreated State = iota
	// StateWithdrawn means the secret was consumed and the principal paid to
	// the taker.
	StateWithdrawn
	// StateCancelled means the principal was returned to the maker.
	StateCancelled
	// StateRescued means funds were swept by the depositor after the rescue
	// delay without a normal resolution.
	StateRescued
)

// String satisfies the Stringer interface.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateWithdrawn:
		return "withdrawn"
	case StateCancelled:
		return "cancelled"
	case StateRescued:
		return "rescued"
	}
	return "unknown"
}

// Role selects the stage schedule an escrow resolves its windows from.
type Role uint8

const (
	// RoleSource escrows hold the maker's principal on the chain the swap
	// originates from.
	RoleSource Role = iota
	// RoleDestination escrows hold the resolver's principal on the far
	// chain. They have no public cancellation stage.
	RoleDestination
)

// String satisfies the Stringer interface.
func (r Role) String() string {
	if r == RoleSource {
		return "source"
	}
	return "destination"
}

// Config is the per-instance escrow configuration, set once by the deploying
// factory.
type Config struct {
	// Address is the escrow's deployed address.
	Address common.Address
	// Implementation is the implementation address the escrow is a clone of.
	Implementation common.Address
	// ImmutablesHash is the content hash of the escrow's immutables.
	ImmutablesHash common.Hash
	// Ledger is the hosting chain.
	Ledger ledger.Ledger
	// RescueDelay is the fixed delay after deployment before Rescue opens.
	RescueDelay time.Duration
}

// Escrow is the role-shared state machine base. The only mutable state is the
// four-valued lifecycle flag; everything else is resupplied by the caller and
// proven against the immutables hash on every call.
type Escrow struct {
	role        Role
	addr        common.Address
	impl        common.Address
	immHash     common.Hash
	ledger      ledger.Ledger
	rescueDelay time.Duration

	mtx   sync.Mutex
	state State
}

// SourceEscrow is the source-role escrow. It adds the public cancellation
// stage to the shared action set.
type SourceEscrow struct {
	*Escrow
}

// DestinationEscrow is the destination-role escrow. Only the depositing
// resolver may cancel it, so there is no public cancellation.
type DestinationEscrow struct {
	*Escrow
}

// NewSource constructs a source-role escrow in StateCreated.
func NewSource(cfg *Config) *SourceEscrow {
	return &SourceEscrow{Escrow: newEscrow(RoleSource, cfg)}
}

// NewDestination constructs a destination-role escrow in StateCreated.
func NewDestination(cfg *Config) *DestinationEscrow {
	return &DestinationEscrow{Escrow: newEscrow(RoleDestination, cfg)}
}

func newEscrow(role Role, cfg *Config) *Escrow {
	return &Escrow{
		role:        role,
		addr:        cfg.Address,
		impl:        cfg.Implementation,
		immHash:     cfg.ImmutablesHash,
		ledger:      cfg.Ledger,
		rescueDelay: cfg.RescueDelay,
		state:       StateCreated,
	}
}

// Address is the escrow's deployed address.
func (e *Escrow) Address() common.Address {
	return e.addr
}

// Role is the escrow's role.
func (e *Escrow) Role() Role {
	return e.role
}

// ImmutablesHash is the content hash the escrow was deployed under.
func (e *Escrow) ImmutablesHash() common.Hash {
	return e.immHash
}

// State is the current lifecycle state.
func (e *Escrow) State() State {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.state
}

// validate re-derives the deterministic address from the caller-supplied
// immutables and the escrow's implementation, and rejects any divergence from
// the escrow's own address. This is the anti-spoofing core: crafted
// immutables cannot name this escrow, because the derived address would not
// match.
func (e *Escrow) validate(imm *Immutables) error {
	if imm == nil {
		return swap.NewError(swap.ErrInvalidImmutables, "nil immutables")
	}
	if PredictAddress(e.impl, imm.Hash(), imm.Factory) != e.addr {
		return swap.NewError(swap.ErrInvalidImmutables,
			fmt.Sprintf("derived address does not match escrow %s", e.addr))
	}
	return nil
}

// stages returns the stage indices gating this escrow's windows. The
// destination role has no public cancellation; callers must not use the
// returned publicCancellation stage for that role.
func (e *Escrow) stages() (withdrawal, publicWithdrawal, cancellation, publicCancellation timelocks.Stage) {
	if e.role == RoleSource {
		return timelocks.SrcWithdrawal, timelocks.SrcPublicWithdrawal,
			timelocks.SrcCancellation, timelocks.SrcPublicCancellation
	}
	return timelocks.DstWithdrawal, timelocks.DstPublicWithdrawal,
		timelocks.DstCancellation, timelocks.DstCancellation
}

// beginTerminal moves the escrow from StateCreated to the terminal state,
// failing if a terminal state was already reached. State is set strictly
// before any funds move so a transfer that could call back in observes the
// already-terminal flag.
func (e *Escrow) beginTerminal(terminal State) error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.state != StateCreated {
		return swap.NewError(swap.ErrAlreadyResolved, e.state.String())
	}
	e.state = terminal
	return nil
}

// abortTerminal returns the escrow to StateCreated after a failed payout, so
// a transfer failure does not leave the escrow terminally resolved with the
// funds still in place.
func (e *Escrow) abortTerminal() {
	e.mtx.Lock()
	e.state = StateCreated
	e.mtx.Unlock()
}

// Withdraw pays the principal to the taker and the safety deposit to the
// caller, consuming the secret. Only the taker may call, inside
// [withdrawal, cancellation).
func (e *Escrow) Withdraw(caller common.Address, secret [32]byte, imm *Immutables) error {
	return e.withdraw(caller, secret, imm, false)
}

// PublicWithdraw is Withdraw for any caller, inside
// [publicWithdrawal, cancellation). The safety deposit pays the caller for
// completing a swap the taker went silent on.
func (e *Escrow) PublicWithdraw(caller common.Address, secret [32]byte, imm *Immutables) error {
	return e.withdraw(caller, secret, imm, true)
}

func (e *Escrow) withdraw(caller common.Address, secret [32]byte, imm *Immutables, public bool) error {
	if err := e.validate(imm); err != nil {
		return err
	}
	withdrawal, publicWithdrawal, cancellation, _ := e.stages()
	openStage, closeStage := withdrawal, cancellation
	if public {
		openStage = publicWithdrawal
	}
	now := e.ledger.Now()
	if now.Before(imm.Timelocks.StageTime(openStage)) {
		return swap.NewError(swap.ErrTooEarly,
			fmt.Sprintf("%s opens at %s, now %s", openStage, imm.Timelocks.StageTime(openStage), now))
	}
	if !now.Before(imm.Timelocks.StageTime(closeStage)) {
		return swap.NewError(swap.ErrWindowClosed,
			fmt.Sprintf("withdrawal closed at %s, now %s", imm.Timelocks.StageTime(closeStage), now))
	}
	if !public && caller != imm.Taker {
		return swap.NewError(swap.ErrInvalidCaller, fmt.Sprintf("withdraw caller %s is not the taker", caller))
	}
	if crypto.Keccak256Hash(secret[:]) != imm.Hashlock {
		return swap.ErrInvalidSecret
	}
	if err := e.beginTerminal(StateWithdrawn); err != nil {
		return err
	}
	if err := e.payOut(imm, imm.Taker, caller); err != nil {
		e.abortTerminal()
		return err
	}
	e.ledger.Emit(&ledger.Event{
		Type:      ledger.EventWithdrawal,
		Emitter:   e.addr,
		OrderHash: imm.OrderHash,
		Secret:    secret,
	})
	log.Debugf("%s escrow %s withdrawn by %s, %s of token %s to %s",
		e.role, e.addr, caller, imm.Amount, imm.Token, imm.Taker)
	return nil
}

// Cancel returns the principal and the safety deposit to the maker after the
// cancellation stage opens. Only the maker may call.
func (e *Escrow) Cancel(caller common.Address, imm *Immutables) error {
	return e.cancel(caller, imm, false)
}

func (e *Escrow) cancel(caller common.Address, imm *Immutables, public bool) error {
	if err := e.validate(imm); err != nil {
		return err
	}
	_, _, cancellation, publicCancellation := e.stages()
	openStage := cancellation
	if public {
		openStage = publicCancellation
	}
	now := e.ledger.Now()
	if now.Before(imm.Timelocks.StageTime(openStage)) {
		return swap.NewError(swap.ErrTooEarly,
			fmt.Sprintf("%s opens at %s, now %s", openStage, imm.Timelocks.StageTime(openStage), now))
	}
	if !public && caller != imm.Maker {
		return swap.NewError(swap.ErrInvalidCaller, fmt.Sprintf("cancel caller %s is not the maker", caller))
	}
	if err := e.beginTerminal(StateCancelled); err != nil {
		return err
	}
	if err := e.payOut(imm, imm.Maker, caller); err != nil {
		e.abortTerminal()
		return err
	}
	e.ledger.Emit(&ledger.Event{
		Type:      ledger.EventEscrowCancelled,
		Emitter:   e.addr,
		OrderHash: imm.OrderHash,
	})
	log.Debugf("%s escrow %s cancelled by %s, %s of token %s returned to %s",
		e.role, e.addr, caller, imm.Amount, imm.Token, imm.Maker)
	return nil
}

// payOut sends the principal to beneficiary and the safety deposit to caller.
// The terminal state is already set when payOut runs.
func (e *Escrow) payOut(imm *Immutables, beneficiary, caller common.Address) error {
	tkn, err := e.ledger.Token(imm.Token)
	if err != nil {
		return fmt.Errorf("token %s unavailable: %w", imm.Token, err)
	}
	if err := tkn.Transfer(e.addr, beneficiary, imm.Amount); err != nil {
		return fmt.Errorf("principal transfer failed: %w", err)
	}
	if err := e.ledger.TransferNative(e.addr, caller, imm.SafetyDeposit); err != nil {
		// Pull the principal back so a failed payout leaves the escrow whole
		// and the action retryable.
		if refundErr := tkn.Transfer(beneficiary, e.addr, imm.Amount); refundErr != nil {
			log.Errorf("principal refund of %s from %s to escrow %s failed: %v",
				imm.Amount, beneficiary, e.addr, refundErr)
		}
		return fmt.Errorf("safety deposit transfer failed: %w", err)
	}
	return nil
}

// Rescue sweeps amount of token back to the maker after the fixed rescue
// delay from deployment. It is the dead-letter escape hatch for funds
// stranded past every stage window, including wrong-token deposits. Passing
// the zero address for token sweeps native balance. A terminal primary state
// is left untouched.
func (e *Escrow) Rescue(caller common.Address, token common.Address, amount *big.Int, imm *Immutables) error {
	if err := e.validate(imm); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("invalid rescue amount %v", amount)
	}
	now := e.ledger.Now()
	if rescueStart := imm.Timelocks.RescueStart(e.rescueDelay); now.Before(rescueStart) {
		return swap.NewError(swap.ErrTooEarly,
			fmt.Sprintf("rescue opens at %s, now %s", rescueStart, now))
	}
	if caller != imm.Maker {
		return swap.NewError(swap.ErrUnauthorized, fmt.Sprintf("rescue caller %s is not the depositor", caller))
	}
	e.mtx.Lock()
	fromCreated := e.state == StateCreated
	if fromCreated {
		e.state = StateRescued
	}
	e.mtx.Unlock()
	sweep := func() error {
		if token == (common.Address{}) {
			if err := e.ledger.TransferNative(e.addr, imm.Maker, amount); err != nil {
				return fmt.Errorf("native rescue transfer failed: %w", err)
			}
			return nil
		}
		tkn, err := e.ledger.Token(token)
		if err != nil {
			return fmt.Errorf("token %s unavailable: %w", token, err)
		}
		if err := tkn.Transfer(e.addr, imm.Maker, amount); err != nil {
			return fmt.Errorf("rescue transfer failed: %w", err)
		}
		return nil
	}
	if err := sweep(); err != nil {
		if fromCreated {
			e.abortTerminal()
		}
		return err
	}
	e.ledger.Emit(&ledger.Event{
		Type:      ledger.EventFundsRescued,
		Emitter:   e.addr,
		OrderHash: imm.OrderHash,
		Token:     token,
		Amount:    new(big.Int).Set(amount),
	})
	log.Infof("%s escrow %s rescued %s of token %s to %s", e.role, e.addr, amount, token, imm.Maker)
	return nil
}

// PublicCancel returns the principal to the maker and pays the safety deposit
// to any caller, after the public cancellation stage opens. Source role only.
func (e *SourceEscrow) PublicCancel(caller common.Address, imm *Immutables) error {
	return e.cancel(caller, imm, true)
}
