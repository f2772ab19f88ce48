// Command seed populates a fresh exchange database with demo state: funded
// users, a cancelled order, three filled orders and twenty open orders on
// both sides of the DAPP/mETH pair. Run it once before starting the node to
// get a non-empty order book.
package main

import (
	"log"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/minjcho/tokendex/params"
	"github.com/minjcho/tokendex/pkg/core/amount"
	"github.com/minjcho/tokendex/pkg/core/exchange"
	"github.com/minjcho/tokendex/pkg/core/token"
	"github.com/minjcho/tokendex/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
		log.Fatalf("data dir: %v", err)
	}

	logger, err := util.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	clock := util.RealClock{}
	registry := token.NewRegistry()
	for _, tg := range cfg.Tokens {
		ledger := token.NewLedger(tg.Name, tg.Symbol, amount.Tokens(tg.Supply), tg.Issuer, clock)
		if err := registry.Register(tg.Address, ledger); err != nil {
			sugar.Fatalw("token registration failed", "symbol", tg.Symbol, "err", err)
		}
	}

	dappAddr, _, ok := registry.BySymbol("DAPP")
	if !ok {
		sugar.Fatal("DAPP token missing from config")
	}
	methAddr, _, ok := registry.BySymbol("mETH")
	if !ok {
		sugar.Fatal("mETH token missing from config")
	}

	engine := exchange.NewEngine(
		registry,
		cfg.Exchange.Custodian,
		cfg.Exchange.FeeAccount,
		cfg.Exchange.FeePercent,
		clock,
	)

	store, err := exchange.NewStore(filepath.Join(cfg.Node.DataDir, "exchange.db"))
	if err != nil {
		sugar.Fatalw("store open failed", "err", err)
	}
	defer store.Close()

	if err := engine.AttachStore(store); err != nil {
		sugar.Fatalw("state restore failed", "err", err)
	}
	if engine.OrderCount() != 0 {
		sugar.Fatalw("database already seeded", "orders", engine.OrderCount())
	}

	user1 := cfg.Deployer
	user2 := common.HexToAddress("0x0000000000000000000000000000000000000B02")

	dapp, _ := registry.Get(dappAddr)
	meth, _ := registry.Get(methAddr)

	// Give user2 starting mETH; the deployer already holds everything else.
	must(sugar, "transfer mETH", meth.Transfer(user1, user2, amount.Tokens(10_000)))

	// Both users move 10k into custody.
	must(sugar, "approve DAPP", dapp.Approve(user1, cfg.Exchange.Custodian, amount.Tokens(10_000)))
	must(sugar, "deposit DAPP", engine.Deposit(user1, dappAddr, amount.Tokens(10_000)))
	must(sugar, "approve mETH", meth.Approve(user2, cfg.Exchange.Custodian, amount.Tokens(10_000)))
	must(sugar, "deposit mETH", engine.Deposit(user2, methAddr, amount.Tokens(10_000)))
	sugar.Infow("users funded", "user1", user1.Hex(), "user2", user2.Hex())

	// A cancelled order
	o, err := engine.MakeOrder(user1, methAddr, amount.Tokens(100), dappAddr, amount.Tokens(5))
	must(sugar, "make order", err)
	must(sugar, "cancel order", engine.CancelOrder(user1, o.ID))
	sugar.Infow("seeded cancelled order", "id", o.ID)

	// Three filled orders
	for _, legs := range [][2]uint64{{100, 10}, {50, 15}, {200, 20}} {
		o, err = engine.MakeOrder(user1, methAddr, amount.Tokens(legs[0]), dappAddr, amount.Tokens(legs[1]))
		must(sugar, "make order", err)
		trade, err := engine.FillOrder(user2, o.ID)
		must(sugar, "fill order", err)
		sugar.Infow("seeded filled order", "id", o.ID, "fee", trade.Fee.String())
	}

	// Ten open orders per side
	for i := uint64(1); i <= 10; i++ {
		_, err = engine.MakeOrder(user1, methAddr, amount.Tokens(i*10), dappAddr, amount.Tokens(10))
		must(sugar, "make order", err)
	}
	for i := uint64(1); i <= 10; i++ {
		_, err = engine.MakeOrder(user2, dappAddr, amount.Tokens(10), methAddr, amount.Tokens(10*i))
		must(sugar, "make order", err)
	}

	sugar.Infow("seeding complete",
		"orders", engine.OrderCount(),
		"open", len(engine.OpenOrders()),
		"trades", len(engine.Trades()),
		"events", len(engine.Events()))
}

func must(sugar *zap.SugaredLogger, op string, err error) {
	if err != nil {
		sugar.Fatalw("seed step failed", "op", op, "err", err)
	}
}
