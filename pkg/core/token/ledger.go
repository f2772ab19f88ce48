// Package token implements a fungible token ledger: per-owner balances with
// direct transfers and delegated (approve / transferFrom) transfers. The
// whole supply is minted to the issuer at construction and is conserved
// forever after; balances only move, they are never created or destroyed.
package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/minjcho/tokendex/pkg/core/amount"
	"github.com/minjcho/tokendex/pkg/util"
)

var (
	// ErrInsufficientBalance means the sender holds less than the transfer amount.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInsufficientAllowance means the spender's approved allowance is too small.
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	// ErrInvalidRecipient means the recipient or spender is the zero identity.
	ErrInvalidRecipient = errors.New("invalid recipient")
)

// Ledger is a single token's balance store. All mutations are serialized
// behind one mutex; every operation either fully applies or leaves the
// ledger untouched.
type Ledger struct {
	mu sync.RWMutex

	name        string
	symbol      string
	totalSupply amount.Amount

	balances   map[common.Address]amount.Amount
	allowances map[common.Address]map[common.Address]amount.Amount

	clock  util.Clock
	events []Event
	sink   func(Event)
}

// NewLedger creates a ledger and assigns the entire supply to the issuer.
func NewLedger(name, symbol string, supply amount.Amount, issuer common.Address, clock util.Clock) *Ledger {
	if clock == nil {
		clock = util.RealClock{}
	}
	l := &Ledger{
		name:        name,
		symbol:      symbol,
		totalSupply: supply,
		balances:    make(map[common.Address]amount.Amount),
		allowances:  make(map[common.Address]map[common.Address]amount.Amount),
		clock:       clock,
	}
	l.balances[issuer] = supply
	return l
}

// SetEventSink registers a callback invoked for every emitted event.
// The callback runs with the ledger lock held; it must not call back in.
func (l *Ledger) SetEventSink(sink func(Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sink = sink
}

func (l *Ledger) Name() string               { return l.name }
func (l *Ledger) Symbol() string             { return l.symbol }
func (l *Ledger) Decimals() uint8            { return amount.Decimals }
func (l *Ledger) TotalSupply() amount.Amount { return l.totalSupply }

// BalanceOf returns the balance of owner, zero for unknown owners.
func (l *Ledger) BalanceOf(owner common.Address) amount.Amount {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[owner]
}

// Allowance returns what spender may move out of owner's balance.
func (l *Ledger) Allowance(owner, spender common.Address) amount.Amount {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.allowances[owner][spender]
}

// Transfer moves amt from `from` to `to`.
func (l *Ledger) Transfer(from, to common.Address, amt amount.Amount) error {
	if to == (common.Address{}) {
		return fmt.Errorf("transfer to zero address: %w", ErrInvalidRecipient)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.move(from, to, amt); err != nil {
		return err
	}
	l.emit(Event{
		Type:      EventTransfer,
		From:      from,
		To:        to,
		Value:     amt,
		Timestamp: l.clock.Now().Unix(),
	})
	return nil
}

// Approve sets spender's allowance over the caller's balance to exactly amt.
// The allowance is an absolute overwrite, not an increment.
func (l *Ledger) Approve(owner, spender common.Address, amt amount.Amount) error {
	if spender == (common.Address{}) {
		return fmt.Errorf("approve zero address: %w", ErrInvalidRecipient)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	byOwner, ok := l.allowances[owner]
	if !ok {
		byOwner = make(map[common.Address]amount.Amount)
		l.allowances[owner] = byOwner
	}
	byOwner[spender] = amt

	l.emit(Event{
		Type:      EventApproval,
		From:      owner,
		To:        spender,
		Value:     amt,
		Timestamp: l.clock.Now().Unix(),
	})
	return nil
}

// TransferFrom moves amt from `from` to `to` on behalf of spender,
// consuming spender's allowance.
func (l *Ledger) TransferFrom(spender, from, to common.Address, amt amount.Amount) error {
	if to == (common.Address{}) {
		return fmt.Errorf("transfer to zero address: %w", ErrInvalidRecipient)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	allowed := l.allowances[from][spender]
	if allowed.Lt(amt) {
		return fmt.Errorf("spender %s allowed %s, needs %s: %w",
			spender.Hex(), allowed, amt, ErrInsufficientAllowance)
	}

	// Balance check happens inside move; run it before touching the
	// allowance so a failed transfer leaves the allowance intact.
	if err := l.move(from, to, amt); err != nil {
		return err
	}

	remaining, err := allowed.Sub(amt)
	if err != nil {
		// Unreachable after the Lt check above.
		return err
	}
	l.allowances[from][spender] = remaining

	l.emit(Event{
		Type:      EventTransfer,
		From:      from,
		To:        to,
		Value:     amt,
		Timestamp: l.clock.Now().Unix(),
	})
	return nil
}

// move debits from and credits to. Caller holds the lock.
// Computes both new balances before writing either, so a failure
// cannot leave a half-applied transfer.
func (l *Ledger) move(from, to common.Address, amt amount.Amount) error {
	fromBal := l.balances[from]
	if fromBal.Lt(amt) {
		return fmt.Errorf("%s holds %s, needs %s: %w",
			from.Hex(), fromBal, amt, ErrInsufficientBalance)
	}

	// A self-transfer is a no-op once the balance check passes. Computing
	// the credit from the pre-debit balance would mint amt out of thin air.
	if from == to {
		return nil
	}

	newFrom, err := fromBal.Sub(amt)
	if err != nil {
		return err
	}
	newTo, err := l.balances[to].Add(amt)
	if err != nil {
		return err
	}

	l.balances[from] = newFrom
	l.balances[to] = newTo
	return nil
}

// Events returns a snapshot of the event log in emission order.
func (l *Ledger) Events() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

func (l *Ledger) emit(ev Event) {
	l.events = append(l.events, ev)
	if l.sink != nil {
		l.sink(ev)
	}
}
