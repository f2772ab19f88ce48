package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/minjcho/tokendex/params"
	"github.com/minjcho/tokendex/pkg/api"
	"github.com/minjcho/tokendex/pkg/core/amount"
	"github.com/minjcho/tokendex/pkg/core/exchange"
	"github.com/minjcho/tokendex/pkg/core/token"
	"github.com/minjcho/tokendex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
		log.Fatalf("data dir: %v", err)
	}

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger initialized", "log_file", cfg.Node.LogFile)

	// ---- Token ledgers ----
	clock := util.RealClock{}
	registry := token.NewRegistry()
	for _, tg := range cfg.Tokens {
		ledger := token.NewLedger(tg.Name, tg.Symbol, amount.Tokens(tg.Supply), tg.Issuer, clock)
		if err := registry.Register(tg.Address, ledger); err != nil {
			sugar.Fatalw("token registration failed", "symbol", tg.Symbol, "err", err)
		}
		sugar.Infow("token deployed",
			"symbol", tg.Symbol,
			"address", tg.Address.Hex(),
			"supply", ledger.TotalSupply().String(),
			"issuer", tg.Issuer.Hex())
	}

	// ---- Exchange engine ----
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
	sugar.Infow("exchange ready",
		"fee_account", cfg.Exchange.FeeAccount.Hex(),
		"fee_percent", cfg.Exchange.FeePercent,
		"orders", engine.OrderCount(),
		"events", len(engine.Events()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	apiServer := api.NewServer(engine, registry, sugar)

	// Fan engine events out to WebSocket subscribers and the node log.
	engine.SetEventSink(func(ev exchange.Event) {
		apiServer.Hub().BroadcastEvent(ev)
		sugar.Debugw("event",
			"seq", ev.Seq,
			"type", ev.Type,
			"user", ev.User.Hex(),
			"order_id", ev.OrderID)
	})

	// Ledger transfers and approvals go to subscribers too.
	for _, asset := range registry.List() {
		ledger, _ := registry.Get(asset)
		ledger.SetEventSink(func(ev token.Event) {
			apiServer.Hub().BroadcastTokenEvent(asset, ev)
		})
	}

	go func() {
		if err := apiServer.Start(cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api server failed", "err", err)
		}
	}()

	sugar.Infow("node started", "api_addr", cfg.Node.APIAddr, "tokens", registry.Count())

	<-ctx.Done()
	sugar.Info("shutting down")
}
