// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package ledger

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SimLedger is an in-memory Ledger with an adjustable clock. It backs tests
// and the simnet coordinator harness. The clock only moves when told to, so
// stage-window behavior is fully deterministic.
type SimLedger struct {
	mtx    sync.RWMutex
	now    time.Time
	native map[common.Address]*big.Int
	tokens map[common.Address]*SimToken
	code   map[common.Address]bool
	events []*Event
	subs   map[uint64]chan *Event
	subID  uint64
}

var _ Ledger = (*SimLedger)(nil)

// NewSimLedger creates a SimLedger with its clock set to start.
func NewSimLedger(start time.Time) *SimLedger {
	return &SimLedger{
		now:    start.UTC(),
		native: make(map[common.Address]*big.Int),
		tokens: make(map[common.Address]*SimToken),
		code:   make(map[common.Address]bool),
		subs:   make(map[uint64]chan *Event),
	}
}

// Now is the ledger's current block time.
func (l *SimLedger) Now() time.Time {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	return l.now
}

// AdvanceTime moves the clock forward by d.
func (l *SimLedger) AdvanceTime(d time.Duration) {
	l.mtx.Lock()
	l.now = l.now.Add(d)
	l.mtx.Unlock()
}

// SetNow sets the clock.
func (l *SimLedger) SetNow(t time.Time) {
	l.mtx.Lock()
	l.now = t.UTC()
	l.mtx.Unlock()
}

// Fund credits the address with native value.
func (l *SimLedger) Fund(addr common.Address, value *big.Int) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.creditNative(addr, value)
}

// creditNative adds value to the address balance. Callers must hold mtx.
func (l *SimLedger) creditNative(addr common.Address, value *big.Int) {
	bal, found := l.native[addr]
	if !found {
		bal = new(big.Int)
		l.native[addr] = bal
	}
	bal.Add(bal, value)
}

// NativeBalance is the native-asset balance of the address.
func (l *SimLedger) NativeBalance(addr common.Address) *big.Int {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	if bal, found := l.native[addr]; found {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// TransferNative moves native value between addresses.
func (l *SimLedger) TransferNative(from, to common.Address, value *big.Int) error {
	if value.Sign() < 0 {
		return fmt.Errorf("negative native transfer value %s", value)
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()
	bal, found := l.native[from]
	if !found || bal.Cmp(value) < 0 {
		return fmt.Errorf("insufficient native balance at %s for transfer of %s", from, value)
	}
	bal.Sub(bal, value)
	l.creditNative(to, value)
	return nil
}

// DeployToken creates a token at the address.
func (l *SimLedger) DeployToken(addr common.Address) *SimToken {
	tkn := &SimToken{
		addr:       addr,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
	l.mtx.Lock()
	l.tokens[addr] = tkn
	l.code[addr] = true
	l.mtx.Unlock()
	return tkn
}

// Token resolves a token contract address.
func (l *SimLedger) Token(addr common.Address) (Token, error) {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	tkn, found := l.tokens[addr]
	if !found {
		return nil, fmt.Errorf("no token at %s", addr)
	}
	return tkn, nil
}

// HasCode reports whether contract code exists at the address.
func (l *SimLedger) HasCode(addr common.Address) bool {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	return l.code[addr]
}

// SetCode marks the address as hosting contract code.
func (l *SimLedger) SetCode(addr common.Address) {
	l.mtx.Lock()
	l.code[addr] = true
	l.mtx.Unlock()
}

// Emit appends the event to the log and delivers it to subscribers. The
// event's Time is stamped with the ledger clock if unset.
func (l *SimLedger) Emit(ev *Event) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if ev.Time.IsZero() {
		ev.Time = l.now
	}
	l.events = append(l.events, ev)
	for id, sub := range l.subs {
		select {
		case sub <- ev:
		default:
			log.Warnf("subscriber %d event channel full. dropping %s event", id, ev.Type)
		}
	}
}

// Events returns a copy of the event log.
func (l *SimLedger) Events() []*Event {
	l.mtx.RLock()
	defer l.mtx.RUnlock()
	evs := make([]*Event, len(l.events))
	copy(evs, l.events)
	return evs
}

// Subscribe registers for future events.
func (l *SimLedger) Subscribe() (<-chan *Event, func()) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.subID++
	id := l.subID
	c := make(chan *Event, 64)
	l.subs[id] = c
	return c, func() {
		l.mtx.Lock()
		delete(l.subs, id)
		l.mtx.Unlock()
	}
}

// SimToken is an in-memory allowance-based token.
type SimToken struct {
	addr       common.Address
	mtx        sync.RWMutex
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

var _ Token = (*SimToken)(nil)

// Address is the token's contract address.
func (t *SimToken) Address() common.Address {
	return t.addr
}

// Mint credits the address with tokens.
func (t *SimToken) Mint(addr common.Address, value *big.Int) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.credit(addr, value)
}

// credit adds value to the address balance. Callers must hold mtx.
func (t *SimToken) credit(addr common.Address, value *big.Int) {
	bal, found := t.balances[addr]
	if !found {
		bal = new(big.Int)
		t.balances[addr] = bal
	}
	bal.Add(bal, value)
}

// BalanceOf is the token balance of the address.
func (t *SimToken) BalanceOf(addr common.Address) *big.Int {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	if bal, found := t.balances[addr]; found {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Transfer moves value from from to to.
func (t *SimToken) Transfer(from, to common.Address, value *big.Int) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.transfer(from, to, value)
}

// transfer moves value between balances. Callers must hold mtx.
func (t *SimToken) transfer(from, to common.Address, value *big.Int) error {
	if value.Sign() < 0 {
		return fmt.Errorf("negative token transfer value %s", value)
	}
	bal, found := t.balances[from]
	if !found || bal.Cmp(value) < 0 {
		return fmt.Errorf("insufficient token balance at %s for transfer of %s", from, value)
	}
	bal.Sub(bal, value)
	t.credit(to, value)
	return nil
}

// TransferFrom moves value from owner to recipient, spending spender's
// allowance.
func (t *SimToken) TransferFrom(spender, owner, to common.Address, value *big.Int) error {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	allowance := t.allowance(owner, spender)
	if allowance.Cmp(value) < 0 {
		return fmt.Errorf("allowance %s for spender %s below transfer of %s", allowance, spender, value)
	}
	if err := t.transfer(owner, to, value); err != nil {
		return err
	}
	allowance.Sub(allowance, value)
	return nil
}

// allowance returns the mutable allowance entry. Callers must hold mtx.
func (t *SimToken) allowance(owner, spender common.Address) *big.Int {
	spenders, found := t.allowances[owner]
	if !found {
		spenders = make(map[common.Address]*big.Int)
		t.allowances[owner] = spenders
	}
	a, found := spenders[spender]
	if !found {
		a = new(big.Int)
		spenders[spender] = a
	}
	return a
}

// Approve sets spender's allowance over owner's balance.
func (t *SimToken) Approve(owner, spender common.Address, value *big.Int) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.allowance(owner, spender).Set(value)
}

// Allowance is spender's remaining allowance over owner's balance.
func (t *SimToken) Allowance(owner, spender common.Address) *big.Int {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return new(big.Int).Set(t.allowance(owner, spender))
}
