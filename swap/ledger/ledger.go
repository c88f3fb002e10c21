// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package ledger defines the boundary between the escrow protocol and the
// chains that host it. Each Ledger is one independently progressing chain
// with its own clock; the two ledgers in a swap never observe each other, so
// every cross-ledger comparison in the protocol goes through an explicit
// tolerance rather than assuming synchronized clocks.
package ledger

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType distinguishes protocol events in a ledger's event log.
type EventType string

const (
	// EventEscrowCreated is emitted by a factory when an escrow is deployed.
	EventEscrowCreated = EventType("EscrowCreated")
	// EventWithdrawal is emitted by an escrow on withdrawal and carries the
	// revealed secret, making it observable by anyone monitoring the log.
	EventWithdrawal = EventType("Withdrawal")
	// EventEscrowCancelled is emitted by an escrow on cancellation.
	EventEscrowCancelled = EventType("EscrowCancelled")
	// EventFundsRescued is emitted by an escrow when funds are swept after
	// the rescue delay.
	EventFundsRescued = EventType("FundsRescued")
)

// Event is one entry in a ledger's event log. Fields beyond Type, Emitter and
// Time are populated per event type.
type Event struct {
	Type    EventType
	Emitter common.Address
	Time    time.Time

	// EscrowCreated
	Escrow         common.Address
	ImmutablesHash common.Hash
	Source         bool

	// Withdrawal, EscrowCancelled
	OrderHash common.Hash
	Secret    [32]byte

	// FundsRescued
	Token  common.Address
	Amount *big.Int
}

// Token is an allowance-based fungible token on a ledger.
type Token interface {
	BalanceOf(addr common.Address) *big.Int
	// Transfer moves value from the from address, which the caller must
	// control, to the to address.
	Transfer(from, to common.Address, value *big.Int) error
	// TransferFrom moves value from owner to recipient, spending spender's
	// allowance.
	TransferFrom(spender, owner, to common.Address, value *big.Int) error
	Approve(owner, spender common.Address, value *big.Int)
	Allowance(owner, spender common.Address) *big.Int
}

// Ledger is one chain hosting escrows. Calls to a single contract address are
// serialized by the hosting ledger, so implementations must be safe for
// concurrent use but need not provide any cross-address ordering.
type Ledger interface {
	// Now is the ledger's current block time. Clocks drift between ledgers.
	Now() time.Time
	// NativeBalance is the native-asset balance of the address.
	NativeBalance(addr common.Address) *big.Int
	// TransferNative moves native value between addresses.
	TransferNative(from, to common.Address, value *big.Int) error
	// Token resolves a token contract address.
	Token(addr common.Address) (Token, error)
	// HasCode reports whether contract code exists at the address.
	HasCode(addr common.Address) bool
	// SetCode marks the address as hosting contract code. Factories call
	// this when deploying an escrow.
	SetCode(addr common.Address)
	// Emit appends an event to the ledger's event log.
	Emit(ev *Event)
	// Subscribe registers for future events. The returned function cancels
	// the subscription.
	Subscribe() (<-chan *Event, func())
}
