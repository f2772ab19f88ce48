package exchange

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/minjcho/tokendex/pkg/core/amount"
)

// Order is an immutable exchange order. TokenGet/AmountGet is what the
// owner wants to receive; TokenGive/AmountGive is what the owner pays
// out of custody when the order fills.
type Order struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  amount.Amount  `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive amount.Amount  `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"` // Unix seconds at creation
}

// OrderStatus is the derived lifecycle state of an order. An order has no
// stored "open" flag: open means present in the table and in neither
// terminal set.
type OrderStatus int8

const (
	StatusOpen OrderStatus = iota
	StatusCancelled
	StatusFilled
)

func (s OrderStatus) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusCancelled:
		return "cancelled"
	case StatusFilled:
		return "filled"
	default:
		return "unknown"
	}
}

// Trade records one settled fill with full detail, including the fee the
// filler paid on top of AmountGet.
type Trade struct {
	OrderID    uint64         `json:"orderId"`
	Filler     common.Address `json:"filler"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  amount.Amount  `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive amount.Amount  `json:"amountGive"`
	Creator    common.Address `json:"creator"` // order owner
	Fee        amount.Amount  `json:"fee"`
	Timestamp  int64          `json:"timestamp"`
}
