// Package exchange implements the custodial exchange engine: per (asset,
// user) balances deposited out of token ledgers, an append-only order table
// with cancelled/filled marker sets, and fee-on-fill settlement between
// custodial balances. Every mutating operation is a single serialized
// all-or-nothing state transition.
package exchange

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/minjcho/tokendex/pkg/core/amount"
	"github.com/minjcho/tokendex/pkg/core/token"
	"github.com/minjcho/tokendex/pkg/util"
)

var (
	// ErrInsufficientBalance means a custodial balance is too small for the operation.
	ErrInsufficientBalance = errors.New("insufficient custodial balance")
	// ErrOrderNotFound means the order id is absent from the order table.
	ErrOrderNotFound = errors.New("order not found")
	// ErrUnauthorized means the caller is not allowed to act on the order.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAlreadyFinalized means the order is already cancelled or filled.
	ErrAlreadyFinalized = errors.New("order already finalized")
	// ErrUnknownAsset means the asset identifier has no registered ledger.
	ErrUnknownAsset = errors.New("unknown asset")
)

// Engine owns all exchange state. Ledger calls happen only inside
// Deposit/Withdraw; order settlement moves custodial balances exclusively.
type Engine struct {
	mu sync.RWMutex

	registry   *token.Registry
	self       common.Address // engine's custody identity on the ledgers
	feeAccount common.Address
	feePercent uint64

	balances   map[common.Address]map[common.Address]amount.Amount // asset -> user -> amount
	orders     map[uint64]*Order
	cancelled  map[uint64]struct{}
	filled     map[uint64]struct{}
	orderCount uint64

	clock  util.Clock
	store  Storer
	seq    uint64
	events []Event
	trades []Trade
	sink   func(Event)
}

// Storer is the persistence surface the engine writes through; *Store is
// the pebble implementation.
type Storer interface {
	Load() (*State, error)
	NewBatch() *Batch
}

// NewEngine creates an engine with empty state.
func NewEngine(registry *token.Registry, self, feeAccount common.Address, feePercent uint64, clock util.Clock) *Engine {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Engine{
		registry:   registry,
		self:       self,
		feeAccount: feeAccount,
		feePercent: feePercent,
		balances:   make(map[common.Address]map[common.Address]amount.Amount),
		orders:     make(map[uint64]*Order),
		cancelled:  make(map[uint64]struct{}),
		filled:     make(map[uint64]struct{}),
		clock:      clock,
	}
}

// AttachStore wires a pebble store: persisted state is loaded into the
// engine and every subsequent mutation is written back.
func (e *Engine) AttachStore(s Storer) error {
	state, err := s.Load()
	if err != nil {
		return fmt.Errorf("load engine state: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.store = s
	e.orderCount = state.OrderCount
	e.seq = state.EventSeq
	for id, o := range state.Orders {
		e.orders[id] = o
	}
	for _, id := range state.Cancelled {
		e.cancelled[id] = struct{}{}
	}
	for _, id := range state.Filled {
		e.filled[id] = struct{}{}
	}
	for asset, users := range state.Balances {
		byUser := make(map[common.Address]amount.Amount, len(users))
		for user, amt := range users {
			byUser[user] = amt
		}
		e.balances[asset] = byUser
	}
	e.events = append(e.events, state.Events...)
	e.trades = append(e.trades, state.Trades...)
	return nil
}

// SetEventSink registers a callback invoked for every emitted event.
// The callback runs with the engine lock held; it must not call back in.
func (e *Engine) SetEventSink(sink func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
}

func (e *Engine) FeeAccount() common.Address { return e.feeAccount }
func (e *Engine) FeePercent() uint64         { return e.feePercent }
func (e *Engine) Custodian() common.Address  { return e.self }

// Deposit pulls amt of asset from the user's ledger balance into engine
// custody. The user must have approved the engine for at least amt; the
// ledger call happens first, custody is credited only after it succeeds.
func (e *Engine) Deposit(user, asset common.Address, amt amount.Amount) error {
	ledger, ok := e.registry.Get(asset)
	if !ok {
		return fmt.Errorf("asset %s: %w", asset.Hex(), ErrUnknownAsset)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	newBal, err := e.custodyOf(asset, user).Add(amt)
	if err != nil {
		return err
	}

	// External custody transfer is the last failure point before commit.
	if err := ledger.TransferFrom(e.self, user, e.self, amt); err != nil {
		return fmt.Errorf("deposit custody transfer: %w", err)
	}

	ev := Event{
		Type:      EventDeposit,
		Timestamp: e.clock.Now().Unix(),
		User:      user,
		Asset:     asset,
		Amount:    amt,
		Balance:   newBal,
	}
	return e.commit(func(b *Batch) {
		b.SetBalance(asset, user, newBal)
	}, func() {
		e.setCustody(asset, user, newBal)
	}, ev, nil)
}

// Withdraw returns amt of asset from engine custody to the user's ledger
// balance. The ledger transfer runs first; the custody debit is committed
// only after it succeeds.
func (e *Engine) Withdraw(user, asset common.Address, amt amount.Amount) error {
	ledger, ok := e.registry.Get(asset)
	if !ok {
		return fmt.Errorf("asset %s: %w", asset.Hex(), ErrUnknownAsset)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	bal := e.custodyOf(asset, user)
	if bal.Lt(amt) {
		return fmt.Errorf("user %s holds %s of %s, needs %s: %w",
			user.Hex(), bal, asset.Hex(), amt, ErrInsufficientBalance)
	}
	newBal, err := bal.Sub(amt)
	if err != nil {
		return err
	}

	if err := ledger.Transfer(e.self, user, amt); err != nil {
		return fmt.Errorf("withdraw custody transfer: %w", err)
	}

	ev := Event{
		Type:      EventWithdraw,
		Timestamp: e.clock.Now().Unix(),
		User:      user,
		Asset:     asset,
		Amount:    amt,
		Balance:   newBal,
	}
	return e.commit(func(b *Batch) {
		b.SetBalance(asset, user, newBal)
	}, func() {
		e.setCustody(asset, user, newBal)
	}, ev, nil)
}

// BalanceOf returns the custodial balance for (asset, user), zero for
// unknown pairs.
func (e *Engine) BalanceOf(asset, user common.Address) amount.Amount {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.custodyOf(asset, user)
}

// MakeOrder creates a new open order. The caller must hold at least
// amountGive of tokenGive in custody; the funds are checked but not
// reserved, so a later withdrawal can still invalidate the order at fill
// time.
func (e *Engine) MakeOrder(user, tokenGet common.Address, amountGet amount.Amount, tokenGive common.Address, amountGive amount.Amount) (*Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	bal := e.custodyOf(tokenGive, user)
	if bal.Lt(amountGive) {
		return nil, fmt.Errorf("user %s holds %s of %s, order gives %s: %w",
			user.Hex(), bal, tokenGive.Hex(), amountGive, ErrInsufficientBalance)
	}

	id := e.orderCount + 1
	o := &Order{
		ID:         id,
		User:       user,
		TokenGet:   tokenGet,
		AmountGet:  amountGet,
		TokenGive:  tokenGive,
		AmountGive: amountGive,
		Timestamp:  e.clock.Now().Unix(),
	}

	ev := Event{
		Type:       EventOrder,
		Timestamp:  o.Timestamp,
		User:       user,
		OrderID:    id,
		TokenGet:   tokenGet,
		AmountGet:  amountGet,
		TokenGive:  tokenGive,
		AmountGive: amountGive,
	}
	if err := e.commit(func(b *Batch) {
		b.SetOrder(o)
		b.SetOrderCount(id)
	}, func() {
		e.orderCount = id
		e.orders[id] = o
	}, ev, nil); err != nil {
		return nil, err
	}
	return o, nil
}

// CancelOrder marks an open order cancelled. Only the owner may cancel,
// and a finalized order (cancelled or filled) cannot be cancelled again.
func (e *Engine) CancelOrder(user common.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[id]
	if !ok {
		return fmt.Errorf("order %d: %w", id, ErrOrderNotFound)
	}
	if o.User != user {
		return fmt.Errorf("order %d belongs to %s, caller %s: %w",
			id, o.User.Hex(), user.Hex(), ErrUnauthorized)
	}
	if e.isFinalized(id) {
		return fmt.Errorf("order %d: %w", id, ErrAlreadyFinalized)
	}

	ev := Event{
		Type:       EventCancel,
		Timestamp:  e.clock.Now().Unix(),
		User:       o.User,
		OrderID:    id,
		TokenGet:   o.TokenGet,
		AmountGet:  o.AmountGet,
		TokenGive:  o.TokenGive,
		AmountGive: o.AmountGive,
	}
	return e.commit(func(b *Batch) {
		b.MarkCancelled(id)
	}, func() {
		e.cancelled[id] = struct{}{}
	}, ev, nil)
}

// FillOrder settles an open order against the filler's custodial balances.
// The filler pays AmountGet plus a fee of AmountGet*feePercent/100 in
// TokenGet; the fee goes to the fee account. The owner's TokenGive balance
// is re-validated here, not assumed from order creation. All five balance
// movements apply atomically or not at all.
func (e *Engine) FillOrder(filler common.Address, id uint64) (*Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, ErrOrderNotFound)
	}
	if e.isFinalized(id) {
		return nil, fmt.Errorf("order %d: %w", id, ErrAlreadyFinalized)
	}

	fee, err := o.AmountGet.FeePortion(e.feePercent)
	if err != nil {
		return nil, err
	}
	cost, err := o.AmountGet.Add(fee)
	if err != nil {
		return nil, err
	}

	// Stage all five legs against a working view so nothing is applied
	// until every debit and credit has been validated. The view keys on
	// (asset, user), which keeps a self-fill consistent as well.
	view := newBalanceView(e)
	if err := view.debit(o.TokenGet, filler, cost); err != nil {
		return nil, fmt.Errorf("filler %s: %w", filler.Hex(), err)
	}
	if err := view.credit(o.TokenGet, o.User, o.AmountGet); err != nil {
		return nil, err
	}
	if err := view.credit(o.TokenGet, e.feeAccount, fee); err != nil {
		return nil, err
	}
	if err := view.debit(o.TokenGive, o.User, o.AmountGive); err != nil {
		return nil, fmt.Errorf("owner %s: %w", o.User.Hex(), err)
	}
	if err := view.credit(o.TokenGive, filler, o.AmountGive); err != nil {
		return nil, err
	}

	now := e.clock.Now().Unix()
	trade := Trade{
		OrderID:    id,
		Filler:     filler,
		TokenGet:   o.TokenGet,
		AmountGet:  o.AmountGet,
		TokenGive:  o.TokenGive,
		AmountGive: o.AmountGive,
		Creator:    o.User,
		Fee:        fee,
		Timestamp:  now,
	}
	ev := Event{
		Type:       EventTrade,
		Timestamp:  now,
		User:       filler,
		OrderID:    id,
		TokenGet:   o.TokenGet,
		AmountGet:  o.AmountGet,
		TokenGive:  o.TokenGive,
		AmountGive: o.AmountGive,
		Creator:    o.User,
	}
	if err := e.commit(func(b *Batch) {
		b.MarkFilled(id)
		for key, val := range view.dirty {
			b.SetBalance(key.asset, key.user, val)
		}
	}, func() {
		view.apply()
		e.filled[id] = struct{}{}
	}, ev, &trade); err != nil {
		return nil, err
	}
	return &trade, nil
}

// Status returns the derived lifecycle state of an order.
func (e *Engine) Status(id uint64) (OrderStatus, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, ok := e.orders[id]; !ok {
		return StatusOpen, fmt.Errorf("order %d: %w", id, ErrOrderNotFound)
	}
	if _, ok := e.cancelled[id]; ok {
		return StatusCancelled, nil
	}
	if _, ok := e.filled[id]; ok {
		return StatusFilled, nil
	}
	return StatusOpen, nil
}

// OrderCount returns the number of orders ever created.
func (e *Engine) OrderCount() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.orderCount
}

// Orders returns a snapshot of the full order table sorted by id.
func (e *Engine) Orders() []Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ordersLocked(func(uint64) bool { return true })
}

// OpenOrders returns orders in neither terminal set, sorted by id.
func (e *Engine) OpenOrders() []Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ordersLocked(func(id uint64) bool { return !e.isFinalized(id) })
}

// Order returns one order by id.
func (e *Engine) Order(id uint64) (Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	o, ok := e.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("order %d: %w", id, ErrOrderNotFound)
	}
	return *o, nil
}

// CancelledIDs returns the cancelled-id set in ascending order.
func (e *Engine) CancelledIDs() []uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return sortedIDs(e.cancelled)
}

// FilledIDs returns the filled-id set in ascending order.
func (e *Engine) FilledIDs() []uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return sortedIDs(e.filled)
}

// Events returns a snapshot of the event log in emission order.
func (e *Engine) Events() []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Event, len(e.events))
	copy(out, e.events)
	return out
}

// Trades returns all settled trades in execution order.
func (e *Engine) Trades() []Trade {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Trade, len(e.trades))
	copy(out, e.trades)
	return out
}

// Balances returns a deep copy of the custodial balance table.
func (e *Engine) Balances() map[common.Address]map[common.Address]amount.Amount {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[common.Address]map[common.Address]amount.Amount, len(e.balances))
	for asset, users := range e.balances {
		byUser := make(map[common.Address]amount.Amount, len(users))
		for user, amt := range users {
			byUser[user] = amt
		}
		out[asset] = byUser
	}
	return out
}

// ---- internals (callers hold e.mu) ----

func (e *Engine) custodyOf(asset, user common.Address) amount.Amount {
	return e.balances[asset][user]
}

func (e *Engine) setCustody(asset, user common.Address, amt amount.Amount) {
	byUser, ok := e.balances[asset]
	if !ok {
		byUser = make(map[common.Address]amount.Amount)
		e.balances[asset] = byUser
	}
	byUser[user] = amt
}

func (e *Engine) isFinalized(id uint64) bool {
	if _, ok := e.cancelled[id]; ok {
		return true
	}
	_, ok := e.filled[id]
	return ok
}

// commit stamps the event sequence and persists the mutation before any of
// it becomes visible: the batch commits first, apply then runs the staged
// in-memory writes, and the event (and trade) are journaled and handed to
// the sink. A store failure leaves the engine exactly as it was.
func (e *Engine) commit(write func(*Batch), apply func(), ev Event, trade *Trade) error {
	seq := e.seq + 1
	ev.Seq = seq

	if e.store != nil {
		b := e.store.NewBatch()
		write(b)
		b.SetEventSeq(seq)
		b.AppendEvent(ev)
		if trade != nil {
			b.AppendTrade(seq, *trade)
		}
		if err := b.Commit(); err != nil {
			return fmt.Errorf("persist engine state: %w", err)
		}
	}

	e.seq = seq
	apply()
	e.events = append(e.events, ev)
	if trade != nil {
		e.trades = append(e.trades, *trade)
	}

	if e.sink != nil {
		e.sink(ev)
	}
	return nil
}

func (e *Engine) ordersLocked(keep func(uint64) bool) []Order {
	out := make([]Order, 0, len(e.orders))
	for id, o := range e.orders {
		if keep(id) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedIDs(set map[uint64]struct{}) []uint64 {
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// balanceView stages balance mutations so a multi-leg settlement can be
// validated in full before any of it lands in the engine's table.
type balanceView struct {
	engine *Engine
	dirty  map[balanceKey]amount.Amount
}

type balanceKey struct {
	asset common.Address
	user  common.Address
}

func newBalanceView(e *Engine) *balanceView {
	return &balanceView{engine: e, dirty: make(map[balanceKey]amount.Amount)}
}

func (v *balanceView) get(asset, user common.Address) amount.Amount {
	key := balanceKey{asset, user}
	if amt, ok := v.dirty[key]; ok {
		return amt
	}
	return v.engine.custodyOf(asset, user)
}

func (v *balanceView) debit(asset, user common.Address, amt amount.Amount) error {
	bal := v.get(asset, user)
	if bal.Lt(amt) {
		return fmt.Errorf("holds %s of %s, needs %s: %w",
			bal, asset.Hex(), amt, ErrInsufficientBalance)
	}
	next, err := bal.Sub(amt)
	if err != nil {
		return err
	}
	v.dirty[balanceKey{asset, user}] = next
	return nil
}

func (v *balanceView) credit(asset, user common.Address, amt amount.Amount) error {
	next, err := v.get(asset, user).Add(amt)
	if err != nil {
		return err
	}
	v.dirty[balanceKey{asset, user}] = next
	return nil
}

func (v *balanceView) apply() {
	for key, amt := range v.dirty {
		v.engine.setCustody(key.asset, key.user, amt)
	}
}
