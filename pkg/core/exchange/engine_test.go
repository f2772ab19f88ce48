package exchange

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/minjcho/tokendex/pkg/core/amount"
	"github.com/minjcho/tokendex/pkg/core/token"
	"github.com/minjcho/tokendex/pkg/util"
)

var (
	deployer   = common.HexToAddress("0xD000000000000000000000000000000000000001")
	feeAccount = common.HexToAddress("0xF000000000000000000000000000000000000001")
	user1      = common.HexToAddress("0xA000000000000000000000000000000000000001")
	user2      = common.HexToAddress("0xA000000000000000000000000000000000000002")
	custodian  = common.HexToAddress("0xE000000000000000000000000000000000000001")

	dappAddr = common.HexToAddress("0x1000000000000000000000000000000000000001")
	methAddr = common.HexToAddress("0x1000000000000000000000000000000000000002")
)

const feePercent = 10

type fixture struct {
	clock  *util.FixedClock
	dapp   *token.Ledger
	meth   *token.Ledger
	engine *Engine
}

// newFixture builds two 1,000,000-token ledgers issued to the deployer and
// an engine charging 10% fees, mirroring the seed deployment.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &util.FixedClock{T: time.Unix(1_700_000_000, 0)}
	dapp := token.NewLedger("DApp Token", "DAPP", amount.Tokens(1_000_000), deployer, clock)
	meth := token.NewLedger("Mock Ether", "mETH", amount.Tokens(1_000_000), deployer, clock)

	reg := token.NewRegistry()
	if err := reg.Register(dappAddr, dapp); err != nil {
		t.Fatalf("register dapp: %v", err)
	}
	if err := reg.Register(methAddr, meth); err != nil {
		t.Fatalf("register meth: %v", err)
	}

	return &fixture{
		clock:  clock,
		dapp:   dapp,
		meth:   meth,
		engine: NewEngine(reg, custodian, feeAccount, feePercent, clock),
	}
}

// fund transfers n tokens to user, approves the engine and deposits them.
func (f *fixture) fund(t *testing.T, l *token.Ledger, asset, user common.Address, n uint64) {
	t.Helper()
	if err := l.Transfer(deployer, user, amount.Tokens(n)); err != nil {
		t.Fatalf("fund transfer: %v", err)
	}
	if err := l.Approve(user, custodian, amount.Tokens(n)); err != nil {
		t.Fatalf("fund approve: %v", err)
	}
	if err := f.engine.Deposit(user, asset, amount.Tokens(n)); err != nil {
		t.Fatalf("fund deposit: %v", err)
	}
}

func TestEngineConfig(t *testing.T) {
	f := newFixture(t)

	if f.engine.FeeAccount() != feeAccount {
		t.Errorf("fee account = %s", f.engine.FeeAccount().Hex())
	}
	if f.engine.FeePercent() != feePercent {
		t.Errorf("fee percent = %d", f.engine.FeePercent())
	}
}

func TestDeposit(t *testing.T) {
	f := newFixture(t)
	amt := amount.Tokens(10)

	f.dapp.Transfer(deployer, user1, amount.Tokens(100))
	f.dapp.Approve(user1, custodian, amt)

	if err := f.engine.Deposit(user1, dappAddr, amt); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	if f.engine.BalanceOf(dappAddr, user1) != amt {
		t.Errorf("custody = %s, want 10", f.engine.BalanceOf(dappAddr, user1))
	}
	if f.dapp.BalanceOf(custodian) != amt {
		t.Errorf("engine ledger balance = %s, want 10", f.dapp.BalanceOf(custodian))
	}
	if f.dapp.BalanceOf(user1) != amount.Tokens(90) {
		t.Errorf("user ledger balance = %s, want 90", f.dapp.BalanceOf(user1))
	}

	events := f.engine.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Type != EventDeposit || ev.Asset != dappAddr || ev.User != user1 ||
		ev.Amount != amt || ev.Balance != amt {
		t.Errorf("deposit event = %+v", ev)
	}
	if ev.Seq != 1 || ev.Timestamp != 1_700_000_000 {
		t.Errorf("seq/timestamp = %d/%d", ev.Seq, ev.Timestamp)
	}
}

func TestDepositWithoutApproval(t *testing.T) {
	f := newFixture(t)
	f.dapp.Transfer(deployer, user1, amount.Tokens(100))

	err := f.engine.Deposit(user1, dappAddr, amount.Tokens(10))
	if !errors.Is(err, token.ErrInsufficientAllowance) {
		t.Errorf("expected ledger allowance error, got %v", err)
	}
	if !f.engine.BalanceOf(dappAddr, user1).IsZero() {
		t.Error("failed deposit credited custody")
	}
	if len(f.engine.Events()) != 0 {
		t.Error("failed deposit emitted an event")
	}
}

func TestDepositUnknownAsset(t *testing.T) {
	f := newFixture(t)

	err := f.engine.Deposit(user1, common.HexToAddress("0xBEEF"), amount.Tokens(1))
	if !errors.Is(err, ErrUnknownAsset) {
		t.Errorf("expected ErrUnknownAsset, got %v", err)
	}
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t)
	f.fund(t, f.dapp, dappAddr, user1, 10)

	if err := f.engine.Withdraw(user1, dappAddr, amount.Tokens(10)); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}

	if !f.engine.BalanceOf(dappAddr, user1).IsZero() {
		t.Errorf("custody = %s, want 0", f.engine.BalanceOf(dappAddr, user1))
	}
	if !f.dapp.BalanceOf(custodian).IsZero() {
		t.Errorf("engine ledger balance = %s, want 0", f.dapp.BalanceOf(custodian))
	}
	if f.dapp.BalanceOf(user1) != amount.Tokens(10) {
		t.Errorf("user ledger balance = %s, want 10", f.dapp.BalanceOf(user1))
	}

	events := f.engine.Events()
	last := events[len(events)-1]
	if last.Type != EventWithdraw || !last.Balance.IsZero() || last.Amount != amount.Tokens(10) {
		t.Errorf("withdraw event = %+v", last)
	}
}

func TestWithdrawInsufficientCustody(t *testing.T) {
	f := newFixture(t)

	err := f.engine.Withdraw(user1, dappAddr, amount.Tokens(10))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestMakeOrderIDsMonotonic(t *testing.T) {
	f := newFixture(t)
	f.fund(t, f.dapp, dappAddr, user1, 10)
	f.fund(t, f.meth, methAddr, user2, 10)

	o1, err := f.engine.MakeOrder(user1, methAddr, amount.Tokens(1), dappAddr, amount.Tokens(1))
	if err != nil {
		t.Fatalf("make order 1: %v", err)
	}
	// A different caller still continues the same sequence
	o2, err := f.engine.MakeOrder(user2, dappAddr, amount.Tokens(1), methAddr, amount.Tokens(1))
	if err != nil {
		t.Fatalf("make order 2: %v", err)
	}
	o3, err := f.engine.MakeOrder(user1, methAddr, amount.Tokens(2), dappAddr, amount.Tokens(2))
	if err != nil {
		t.Fatalf("make order 3: %v", err)
	}

	if o1.ID != 1 || o2.ID != 2 || o3.ID != 3 {
		t.Errorf("order ids = %d, %d, %d, want 1, 2, 3", o1.ID, o2.ID, o3.ID)
	}
	if f.engine.OrderCount() != 3 {
		t.Errorf("order count = %d, want 3", f.engine.OrderCount())
	}
}

func TestMakeOrderWithoutBalance(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.MakeOrder(user1, methAddr, amount.Tokens(1), dappAddr, amount.Tokens(1))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	if f.engine.OrderCount() != 0 {
		t.Error("failed makeOrder consumed an id")
	}
}

func TestMakeOrderEvent(t *testing.T) {
	f := newFixture(t)
	f.fund(t, f.dapp, dappAddr, user1, 1)

	o, err := f.engine.MakeOrder(user1, methAddr, amount.Tokens(1), dappAddr, amount.Tokens(1))
	if err != nil {
		t.Fatalf("make order: %v", err)
	}

	events := f.engine.Events()
	ev := events[len(events)-1]
	if ev.Type != EventOrder || ev.OrderID != o.ID || ev.User != user1 ||
		ev.TokenGet != methAddr || ev.AmountGet != amount.Tokens(1) ||
		ev.TokenGive != dappAddr || ev.AmountGive != amount.Tokens(1) {
		t.Errorf("order event = %+v", ev)
	}
	if ev.Timestamp < 1 {
		t.Error("order event missing timestamp")
	}
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	f.fund(t, f.dapp, dappAddr, user1, 1)
	o, _ := f.engine.MakeOrder(user1, methAddr, amount.Tokens(1), dappAddr, amount.Tokens(1))

	if err := f.engine.CancelOrder(user1, o.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	ids := f.engine.CancelledIDs()
	if len(ids) != 1 || ids[0] != o.ID {
		t.Errorf("cancelled ids = %v, want [%d]", ids, o.ID)
	}
	status, _ := f.engine.Status(o.ID)
	if status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", status)
	}

	events := f.engine.Events()
	ev := events[len(events)-1]
	if ev.Type != EventCancel || ev.OrderID != o.ID || ev.User != user1 {
		t.Errorf("cancel event = %+v", ev)
	}
}

func TestCancelOrderFailures(t *testing.T) {
	f := newFixture(t)
	f.fund(t, f.dapp, dappAddr, user1, 1)
	o, _ := f.engine.MakeOrder(user1, methAddr, amount.Tokens(1), dappAddr, amount.Tokens(1))

	// Unknown id
	if err := f.engine.CancelOrder(user1, 9999); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
	// Non-owner
	if err := f.engine.CancelOrder(user2, o.ID); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if len(f.engine.CancelledIDs()) != 0 {
		t.Error("failed cancel touched the cancelled set")
	}

	// Re-cancel
	f.engine.CancelOrder(user1, o.ID)
	if err := f.engine.CancelOrder(user1, o.ID); !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("expected ErrAlreadyFinalized, got %v", err)
	}
}

func TestCancelFilledOrder(t *testing.T) {
	f := newFixture(t)
	f.fund(t, f.dapp, dappAddr, user1, 1)
	f.fund(t, f.meth, methAddr, user2, 2)
	o, _ := f.engine.MakeOrder(user1, methAddr, amount.Tokens(1), dappAddr, amount.Tokens(1))

	if _, err := f.engine.FillOrder(user2, o.ID); err != nil {
		t.Fatalf("fill failed: %v", err)
	}
	if err := f.engine.CancelOrder(user1, o.ID); !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("cancel of filled order: expected ErrAlreadyFinalized, got %v", err)
	}
}

func TestFillOrderSettlement(t *testing.T) {
	f := newFixture(t)
	f.fund(t, f.dapp, dappAddr, user1, 10)
	f.fund(t, f.meth, methAddr, user2, 20)

	// user1 wants 10 mETH for 10 DAPP; fee = 10% of amountGet = 1 mETH
	o, err := f.engine.MakeOrder(user1, methAddr, amount.Tokens(10), dappAddr, amount.Tokens(10))
	if err != nil {
		t.Fatalf("make order: %v", err)
	}

	f.clock.Advance(5 * time.Second)
	trade, err := f.engine.FillOrder(user2, o.ID)
	if err != nil {
		t.Fatalf("fill failed: %v", err)
	}

	// Filler pays amountGet + fee = 11 mETH
	if f.engine.BalanceOf(methAddr, user2) != amount.Tokens(9) {
		t.Errorf("filler mETH = %s, want 9", f.engine.BalanceOf(methAddr, user2))
	}
	if f.engine.BalanceOf(methAddr, user1) != amount.Tokens(10) {
		t.Errorf("owner mETH = %s, want 10", f.engine.BalanceOf(methAddr, user1))
	}
	if f.engine.BalanceOf(methAddr, feeAccount) != amount.Tokens(1) {
		t.Errorf("fee account mETH = %s, want 1", f.engine.BalanceOf(methAddr, feeAccount))
	}
	// Give leg
	if !f.engine.BalanceOf(dappAddr, user1).IsZero() {
		t.Errorf("owner DAPP = %s, want 0", f.engine.BalanceOf(dappAddr, user1))
	}
	if f.engine.BalanceOf(dappAddr, user2) != amount.Tokens(10) {
		t.Errorf("filler DAPP = %s, want 10", f.engine.BalanceOf(dappAddr, user2))
	}

	if trade.Fee != amount.Tokens(1) || trade.Filler != user2 || trade.Creator != user1 {
		t.Errorf("trade = %+v", trade)
	}
	if trade.Timestamp != 1_700_000_005 {
		t.Errorf("trade timestamp = %d", trade.Timestamp)
	}

	ids := f.engine.FilledIDs()
	if len(ids) != 1 || ids[0] != o.ID {
		t.Errorf("filled ids = %v", ids)
	}

	events := f.engine.Events()
	ev := events[len(events)-1]
	if ev.Type != EventTrade || ev.User != user2 || ev.Creator != user1 || ev.OrderID != o.ID {
		t.Errorf("trade event = %+v", ev)
	}
}

func TestFillOrderFailures(t *testing.T) {
	f := newFixture(t)
	f.fund(t, f.dapp, dappAddr, user1, 10)
	f.fund(t, f.meth, methAddr, user2, 20)

	if _, err := f.engine.FillOrder(user2, 42); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}

	o, _ := f.engine.MakeOrder(user1, methAddr, amount.Tokens(10), dappAddr, amount.Tokens(10))
	f.engine.CancelOrder(user1, o.ID)
	if _, err := f.engine.FillOrder(user2, o.ID); !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("fill of cancelled order: expected ErrAlreadyFinalized, got %v", err)
	}

	o2, _ := f.engine.MakeOrder(user1, methAddr, amount.Tokens(10), dappAddr, amount.Tokens(10))
	f.engine.FillOrder(user2, o2.ID)
	if _, err := f.engine.FillOrder(user2, o2.ID); !errors.Is(err, ErrAlreadyFinalized) {
		t.Errorf("double fill: expected ErrAlreadyFinalized, got %v", err)
	}
}

func TestFillOrderInsufficientFillerFunds(t *testing.T) {
	f := newFixture(t)
	f.fund(t, f.dapp, dappAddr, user1, 10)
	// user2 deposits exactly amountGet but not the fee on top
	f.fund(t, f.meth, methAddr, user2, 10)

	o, _ := f.engine.MakeOrder(user1, methAddr, amount.Tokens(10), dappAddr, amount.Tokens(10))
	_, err := f.engine.FillOrder(user2, o.ID)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}

	// Nothing moved, order still open
	if f.engine.BalanceOf(methAddr, user2) != amount.Tokens(10) {
		t.Error("failed fill mutated filler balance")
	}
	if len(f.engine.FilledIDs()) != 0 {
		t.Error("failed fill marked the order filled")
	}
	status, _ := f.engine.Status(o.ID)
	if status != StatusOpen {
		t.Errorf("status = %s, want open", status)
	}
}

// The owner's give-side balance is re-validated at fill time: withdrawing
// after placing the order must fail the fill, not corrupt balances.
func TestFillOrderOwnerWithdrewFunds(t *testing.T) {
	f := newFixture(t)
	f.fund(t, f.dapp, dappAddr, user1, 10)
	f.fund(t, f.meth, methAddr, user2, 20)

	o, _ := f.engine.MakeOrder(user1, methAddr, amount.Tokens(10), dappAddr, amount.Tokens(10))
	if err := f.engine.Withdraw(user1, dappAddr, amount.Tokens(10)); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}

	_, err := f.engine.FillOrder(user2, o.ID)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	// Filler untouched despite the get-leg debit being validatable
	if f.engine.BalanceOf(methAddr, user2) != amount.Tokens(20) {
		t.Errorf("filler mETH = %s, want 20 (unchanged)", f.engine.BalanceOf(methAddr, user2))
	}
	if !f.engine.BalanceOf(methAddr, feeAccount).IsZero() {
		t.Error("failed fill credited the fee account")
	}
}

func TestOpenOrdersSetDifference(t *testing.T) {
	f := newFixture(t)
	f.fund(t, f.dapp, dappAddr, user1, 10)
	f.fund(t, f.meth, methAddr, user2, 20)

	o1, _ := f.engine.MakeOrder(user1, methAddr, amount.Tokens(1), dappAddr, amount.Tokens(1))
	o2, _ := f.engine.MakeOrder(user1, methAddr, amount.Tokens(2), dappAddr, amount.Tokens(2))
	o3, _ := f.engine.MakeOrder(user1, methAddr, amount.Tokens(3), dappAddr, amount.Tokens(3))

	f.engine.CancelOrder(user1, o1.ID)
	f.engine.FillOrder(user2, o2.ID)

	open := f.engine.OpenOrders()
	if len(open) != 1 || open[0].ID != o3.ID {
		t.Errorf("open orders = %+v, want only id %d", open, o3.ID)
	}
	if len(f.engine.Orders()) != 3 {
		t.Errorf("order table = %d rows, want 3 (orders are never deleted)", len(f.engine.Orders()))
	}
}

// Full walkthrough: supply, funding, deposit, order, cancel, re-cancel,
// second order filled with a 10% fee.
func TestExchangeScenario(t *testing.T) {
	f := newFixture(t)

	if f.dapp.TotalSupply() != amount.Tokens(1_000_000) {
		t.Fatalf("total supply = %s", f.dapp.TotalSupply())
	}

	// deployer -> user1: 100 DAPP; user1 approves and deposits 10
	f.dapp.Transfer(deployer, user1, amount.Tokens(100))
	f.dapp.Approve(user1, custodian, amount.Tokens(10))
	if err := f.engine.Deposit(user1, dappAddr, amount.Tokens(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if f.engine.BalanceOf(dappAddr, user1) != amount.Tokens(10) {
		t.Fatalf("custody = %s, want 10", f.engine.BalanceOf(dappAddr, user1))
	}
	if f.dapp.BalanceOf(custodian) != amount.Tokens(10) {
		t.Fatalf("engine ledger balance = %s, want 10", f.dapp.BalanceOf(custodian))
	}

	// order 1: want 1 mETH for 1 DAPP, then cancel it
	o1, err := f.engine.MakeOrder(user1, methAddr, amount.Tokens(1), dappAddr, amount.Tokens(1))
	if err != nil {
		t.Fatalf("make order: %v", err)
	}
	if o1.ID != 1 {
		t.Fatalf("first order id = %d, want 1", o1.ID)
	}
	if err := f.engine.CancelOrder(user1, o1.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if ids := f.engine.CancelledIDs(); len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("cancelled set = %v, want {1}", ids)
	}
	if err := f.engine.CancelOrder(user1, o1.ID); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("re-cancel: expected ErrAlreadyFinalized, got %v", err)
	}

	// order 2 filled by user2: amountGet 10 mETH, 10% fee -> total debit 11
	f.fund(t, f.meth, methAddr, user2, 11)
	o2, err := f.engine.MakeOrder(user1, methAddr, amount.Tokens(10), dappAddr, amount.Tokens(10))
	if err != nil {
		t.Fatalf("make order 2: %v", err)
	}
	if o2.ID != 2 {
		t.Fatalf("second order id = %d, want 2", o2.ID)
	}
	trade, err := f.engine.FillOrder(user2, o2.ID)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	if trade.Fee != amount.Tokens(1) {
		t.Errorf("fee = %s, want 1", trade.Fee)
	}
	if !f.engine.BalanceOf(methAddr, user2).IsZero() {
		t.Errorf("filler debit = 11 expected, balance = %s", f.engine.BalanceOf(methAddr, user2))
	}
}

func TestSelfFillAllowed(t *testing.T) {
	f := newFixture(t)
	f.fund(t, f.dapp, dappAddr, user1, 10)
	f.fund(t, f.meth, methAddr, user1, 11)

	o, _ := f.engine.MakeOrder(user1, methAddr, amount.Tokens(10), dappAddr, amount.Tokens(10))
	trade, err := f.engine.FillOrder(user1, o.ID)
	if err != nil {
		t.Fatalf("self fill failed: %v", err)
	}

	// Both legs net out for the user; only the fee leaves
	if f.engine.BalanceOf(methAddr, user1) != amount.Tokens(10) {
		t.Errorf("user mETH = %s, want 10", f.engine.BalanceOf(methAddr, user1))
	}
	if f.engine.BalanceOf(dappAddr, user1) != amount.Tokens(10) {
		t.Errorf("user DAPP = %s, want 10", f.engine.BalanceOf(dappAddr, user1))
	}
	if f.engine.BalanceOf(methAddr, feeAccount) != trade.Fee {
		t.Errorf("fee account = %s, want %s", f.engine.BalanceOf(methAddr, feeAccount), trade.Fee)
	}
}

// brokenStore fails every batch commit, standing in for a full or dying disk.
type brokenStore struct{}

var errDiskFull = errors.New("disk full")

func (brokenStore) Load() (*State, error) { return &State{}, nil }
func (brokenStore) NewBatch() *Batch      { return &Batch{err: errDiskFull} }

// A persistence failure must surface as an error without any of the
// mutation, its event, or its sequence number landing in memory.
func TestStoreFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	f.fund(t, f.dapp, dappAddr, user1, 10)

	if err := f.engine.AttachStore(brokenStore{}); err != nil {
		t.Fatalf("attach store: %v", err)
	}

	_, err := f.engine.MakeOrder(user1, methAddr, amount.Tokens(1), dappAddr, amount.Tokens(1))
	if !errors.Is(err, errDiskFull) {
		t.Fatalf("expected store error, got %v", err)
	}
	if f.engine.OrderCount() != 0 {
		t.Errorf("failed make order consumed id, count = %d", f.engine.OrderCount())
	}
	if len(f.engine.Orders()) != 0 {
		t.Error("failed make order landed in the order table")
	}

	err = f.engine.Withdraw(user1, dappAddr, amount.Tokens(1))
	if !errors.Is(err, errDiskFull) {
		t.Fatalf("expected store error, got %v", err)
	}
	if f.engine.BalanceOf(dappAddr, user1) != amount.Tokens(10) {
		t.Errorf("failed withdraw debited custody, balance = %s", f.engine.BalanceOf(dappAddr, user1))
	}

	// Only the funding deposit is journaled; the failed operations left no
	// events and did not advance the sequence.
	events := f.engine.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Seq != 1 {
		t.Errorf("seq = %d, want 1", events[0].Seq)
	}
}

func TestEventSequenceMonotonic(t *testing.T) {
	f := newFixture(t)
	f.fund(t, f.dapp, dappAddr, user1, 10)
	f.fund(t, f.meth, methAddr, user2, 20)

	o, _ := f.engine.MakeOrder(user1, methAddr, amount.Tokens(1), dappAddr, amount.Tokens(1))
	f.engine.FillOrder(user2, o.ID)
	f.engine.Withdraw(user2, dappAddr, amount.Tokens(1))

	events := f.engine.Events()
	for i, ev := range events {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("event %d has seq %d", i, ev.Seq)
		}
	}
}
