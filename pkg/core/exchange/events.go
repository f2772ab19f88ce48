package exchange

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/minjcho/tokendex/pkg/core/amount"
)

// EventType discriminates exchange events.
type EventType string

const (
	EventDeposit  EventType = "deposit"
	EventWithdraw EventType = "withdraw"
	EventOrder    EventType = "order"
	EventCancel   EventType = "cancel"
	EventTrade    EventType = "trade"
)

// Event is one entry of the exchange's append-only event log. It is a flat
// record mirroring the on-wire shape consumers see: custody events populate
// Asset/Amount/Balance, order events populate the order fields, and trades
// additionally carry Creator (the order owner) while User is the filler.
type Event struct {
	Seq       uint64    `json:"seq"`
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"` // Unix seconds

	User common.Address `json:"user"`

	// Custody movement (deposit / withdraw)
	Asset   common.Address `json:"asset"`
	Amount  amount.Amount  `json:"amount"`
	Balance amount.Amount  `json:"balance"` // resulting custodial balance

	// Order detail (order / cancel / trade)
	OrderID    uint64         `json:"orderId"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  amount.Amount  `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive amount.Amount  `json:"amountGive"`
	Creator    common.Address `json:"creator"`
}
