// Package api exposes the exchange over REST and WebSocket: read-side
// snapshots (orders, balances, events, trades) and mutating endpoints
// driving the engine. Callers identify themselves by address in the request
// body; signature verification is out of scope for this node.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/minjcho/tokendex/pkg/core/exchange"
	"github.com/minjcho/tokendex/pkg/core/token"
)

// Server handles REST API and WebSocket connections.
type Server struct {
	engine   *exchange.Engine
	registry *token.Registry
	router   *mux.Router
	hub      *Hub
	log      *zap.SugaredLogger
}

// NewServer creates a new API server over an engine and its asset registry.
func NewServer(engine *exchange.Engine, registry *token.Registry, log *zap.SugaredLogger) *Server {
	s := &Server{
		engine:   engine,
		registry: registry,
		router:   mux.NewRouter(),
		hub:      NewHub(log),
		log:      log,
	}
	s.setupRoutes()
	return s
}

// Hub returns the WebSocket hub so the node can wire event sinks into it.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Token endpoints
	api.HandleFunc("/tokens", s.handleGetTokens).Methods("GET")
	api.HandleFunc("/tokens/{asset}", s.handleGetToken).Methods("GET")

	// Order endpoints
	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders/open", s.handleGetOpenOrders).Methods("GET")
	api.HandleFunc("/orders/cancelled", s.handleGetCancelledOrders).Methods("GET")
	api.HandleFunc("/orders/filled", s.handleGetFilledOrders).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")

	// Balance and history endpoints
	api.HandleFunc("/balances/{asset}/{user}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")
	api.HandleFunc("/trades", s.handleGetTrades).Methods("GET")

	// Mutations
	api.HandleFunc("/deposits", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdrawals", s.handleWithdraw).Methods("POST")
	api.HandleFunc("/orders", s.handleMakeOrder).Methods("POST")
	api.HandleFunc("/orders/{id:[0-9]+}/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{id:[0-9]+}/fill", s.handleFillOrder).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the WebSocket hub and serves HTTP on addr. Blocks.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	// CORS configuration
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	handler := c.Handler(s.router)

	s.log.Infow("api server starting", "addr", addr)
	return http.ListenAndServe(addr, handler)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	assets := s.registry.List()

	response := make([]TokenInfo, 0, len(assets))
	for _, asset := range assets {
		ledger, ok := s.registry.Get(asset)
		if !ok {
			continue
		}
		response = append(response, tokenInfo(asset, ledger))
	}

	respondJSON(w, response)
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	asset, ok := parseAddress(vars["asset"])
	if !ok {
		// Fall back to symbol lookup so /tokens/DAPP works too
		if addr, _, found := s.registry.BySymbol(vars["asset"]); found {
			asset, ok = addr, true
		}
	}
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid asset", vars["asset"])
		return
	}

	ledger, found := s.registry.Get(asset)
	if !found {
		respondError(w, http.StatusNotFound, "token not found", asset.Hex())
		return
	}

	respondJSON(w, tokenInfo(asset, ledger))
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("status") {
	case "", "all":
		s.respondOrders(w, s.engine.Orders())
	case "open":
		s.respondOrders(w, s.engine.OpenOrders())
	case "cancelled":
		s.respondOrders(w, s.ordersByID(s.engine.CancelledIDs()))
	case "filled":
		s.respondOrders(w, s.ordersByID(s.engine.FilledIDs()))
	default:
		respondError(w, http.StatusBadRequest, "invalid status filter",
			"expected all, open, cancelled or filled")
	}
}

func (s *Server) handleGetOpenOrders(w http.ResponseWriter, r *http.Request) {
	s.respondOrders(w, s.engine.OpenOrders())
}

func (s *Server) handleGetCancelledOrders(w http.ResponseWriter, r *http.Request) {
	s.respondOrders(w, s.ordersByID(s.engine.CancelledIDs()))
}

func (s *Server) handleGetFilledOrders(w http.ResponseWriter, r *http.Request) {
	s.respondOrders(w, s.ordersByID(s.engine.FilledIDs()))
}

func (s *Server) ordersByID(ids []uint64) []exchange.Order {
	out := make([]exchange.Order, 0, len(ids))
	for _, id := range ids {
		if o, err := s.engine.Order(id); err == nil {
			out = append(out, o)
		}
	}
	return out
}

func (s *Server) respondOrders(w http.ResponseWriter, orders []exchange.Order) {
	response := OrdersSnapshot{
		Orders:    make([]OrderInfo, len(orders)),
		Cancelled: s.engine.CancelledIDs(),
		Filled:    s.engine.FilledIDs(),
	}
	for i, o := range orders {
		status, _ := s.engine.Status(o.ID)
		response.Orders[i] = OrderInfo{Order: o, Status: status.String()}
	}
	respondJSON(w, response)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}

	o, err := s.engine.Order(id)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	status, _ := s.engine.Status(id)

	respondJSON(w, OrderInfo{Order: o, Status: status.String()})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	asset, ok := parseAddress(vars["asset"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid asset address", vars["asset"])
		return
	}
	user, ok := parseAddress(vars["user"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid user address", vars["user"])
		return
	}

	ledger, found := s.registry.Get(asset)
	if !found {
		respondError(w, http.StatusNotFound, "unknown asset", asset.Hex())
		return
	}

	respondJSON(w, BalanceInfo{
		Asset:     asset.Hex(),
		User:      user.Hex(),
		Custodial: s.engine.BalanceOf(asset, user),
		Wallet:    ledger.BalanceOf(user),
	})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.engine.Events())
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.engine.Trades())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Mutation Handlers
// ==============================

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	user, asset, ok := parseUserAsset(w, req.User, req.Asset)
	if !ok {
		return
	}

	if err := s.engine.Deposit(user, asset, req.Amount); err != nil {
		respondEngineError(w, err)
		return
	}

	s.log.Infow("deposit accepted",
		"user", user.Hex(), "asset", asset.Hex(), "amount", req.Amount.String())
	respondJSON(w, BalanceInfo{
		Asset:     asset.Hex(),
		User:      user.Hex(),
		Custodial: s.engine.BalanceOf(asset, user),
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	user, asset, ok := parseUserAsset(w, req.User, req.Asset)
	if !ok {
		return
	}

	if err := s.engine.Withdraw(user, asset, req.Amount); err != nil {
		respondEngineError(w, err)
		return
	}

	s.log.Infow("withdrawal accepted",
		"user", user.Hex(), "asset", asset.Hex(), "amount", req.Amount.String())
	respondJSON(w, BalanceInfo{
		Asset:     asset.Hex(),
		User:      user.Hex(),
		Custodial: s.engine.BalanceOf(asset, user),
	})
}

func (s *Server) handleMakeOrder(w http.ResponseWriter, r *http.Request) {
	var req MakeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	user, ok := parseAddress(req.User)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid user address", req.User)
		return
	}
	tokenGet, ok := parseAddress(req.TokenGet)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid tokenGet address", req.TokenGet)
		return
	}
	tokenGive, ok := parseAddress(req.TokenGive)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid tokenGive address", req.TokenGive)
		return
	}

	o, err := s.engine.MakeOrder(user, tokenGet, req.AmountGet, tokenGive, req.AmountGive)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	s.log.Infow("order created", "id", o.ID, "user", user.Hex())
	respondJSON(w, OrderInfo{Order: *o, Status: exchange.StatusOpen.String()})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	user, id, ok := s.parseOrderAction(w, r)
	if !ok {
		return
	}

	if err := s.engine.CancelOrder(user, id); err != nil {
		respondEngineError(w, err)
		return
	}

	s.log.Infow("order cancelled", "id", id, "user", user.Hex())
	respondJSON(w, map[string]interface{}{
		"id":     id,
		"status": exchange.StatusCancelled.String(),
	})
}

func (s *Server) handleFillOrder(w http.ResponseWriter, r *http.Request) {
	user, id, ok := s.parseOrderAction(w, r)
	if !ok {
		return
	}

	trade, err := s.engine.FillOrder(user, id)
	if err != nil {
		respondEngineError(w, err)
		return
	}

	s.log.Infow("order filled", "id", id, "filler", user.Hex(), "fee", trade.Fee.String())
	respondJSON(w, trade)
}

// ==============================
// Helper Functions
// ==============================

func tokenInfo(asset common.Address, l *token.Ledger) TokenInfo {
	return TokenInfo{
		Address:     asset.Hex(),
		Name:        l.Name(),
		Symbol:      l.Symbol(),
		Decimals:    l.Decimals(),
		TotalSupply: l.TotalSupply(),
	}
}

func (s *Server) parseOrderAction(w http.ResponseWriter, r *http.Request) (common.Address, uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return common.Address{}, 0, false
	}

	var req OrderActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return common.Address{}, 0, false
	}
	user, ok := parseAddress(req.User)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid user address", req.User)
		return common.Address{}, 0, false
	}
	return user, id, true
}

func parseUserAsset(w http.ResponseWriter, userStr, assetStr string) (common.Address, common.Address, bool) {
	user, ok := parseAddress(userStr)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid user address", userStr)
		return common.Address{}, common.Address{}, false
	}
	asset, ok := parseAddress(assetStr)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid asset address", assetStr)
		return common.Address{}, common.Address{}, false
	}
	return user, asset, true
}

func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// respondEngineError maps typed core errors onto HTTP status codes.
func respondEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, exchange.ErrOrderNotFound),
		errors.Is(err, exchange.ErrUnknownAsset):
		status = http.StatusNotFound
	case errors.Is(err, exchange.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, exchange.ErrAlreadyFinalized):
		status = http.StatusConflict
	case errors.Is(err, exchange.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, token.ErrInvalidRecipient):
		status = http.StatusBadRequest
	}
	respondError(w, status, "operation rejected", err.Error())
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
