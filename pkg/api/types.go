package api

// REST and WebSocket payload types. Addresses travel as 0x-hex strings;
// amounts as raw 10^18-scaled decimal strings.

import (
	"github.com/minjcho/tokendex/pkg/core/amount"
	"github.com/minjcho/tokendex/pkg/core/exchange"
	"github.com/minjcho/tokendex/pkg/core/token"
)

// TokenInfo describes one registered ledger.
type TokenInfo struct {
	Address     string        `json:"address"`
	Name        string        `json:"name"`
	Symbol      string        `json:"symbol"`
	Decimals    uint8         `json:"decimals"`
	TotalSupply amount.Amount `json:"totalSupply"`
}

// OrderInfo is one order row plus its derived lifecycle status.
type OrderInfo struct {
	exchange.Order
	Status string `json:"status"` // "open", "cancelled", "filled"
}

// OrdersSnapshot carries the whole order table and both terminal id sets,
// enough for a consumer to derive the open set and the order book.
type OrdersSnapshot struct {
	Orders    []OrderInfo `json:"orders"`
	Cancelled []uint64    `json:"cancelled"`
	Filled    []uint64    `json:"filled"`
}

// BalanceInfo is one custodial balance cell plus the user's wallet-side
// ledger balance for the same asset.
type BalanceInfo struct {
	Asset     string        `json:"asset"`
	User      string        `json:"user"`
	Custodial amount.Amount `json:"custodial"`
	Wallet    amount.Amount `json:"wallet"`
}

// DepositRequest is the payload for POST /api/v1/deposits (and, with the
// same shape, /api/v1/withdrawals).
type DepositRequest struct {
	User   string        `json:"user"`
	Asset  string        `json:"asset"`
	Amount amount.Amount `json:"amount"`
}

// MakeOrderRequest is the payload for POST /api/v1/orders.
type MakeOrderRequest struct {
	User       string        `json:"user"`
	TokenGet   string        `json:"tokenGet"`
	AmountGet  amount.Amount `json:"amountGet"`
	TokenGive  string        `json:"tokenGive"`
	AmountGive amount.Amount `json:"amountGive"`
}

// OrderActionRequest identifies the caller for cancel/fill endpoints.
type OrderActionRequest struct {
	User string `json:"user"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// TokenEventMessage tags a ledger event with the asset it belongs to.
type TokenEventMessage struct {
	Asset string `json:"asset"`
	token.Event
}

// WSMessage wraps a broadcast payload with the channel it was published on.
type WSMessage struct {
	Channel string      `json:"channel"`
	Data    interface{} `json:"data"`
}

// WSSubscribeRequest is sent by a client to manage channel subscriptions.
// Channels: "events", "trades", "orders", or "user:0x...".
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}
