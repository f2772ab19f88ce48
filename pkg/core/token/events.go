package token

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/minjcho/tokendex/pkg/core/amount"
)

// EventType discriminates ledger events.
type EventType string

const (
	EventTransfer EventType = "transfer"
	EventApproval EventType = "approval"
)

// Event is a ledger log entry. For transfers, From/To are sender and
// recipient; for approvals, From is the owner and To the spender.
type Event struct {
	Type      EventType      `json:"type"`
	From      common.Address `json:"from"`
	To        common.Address `json:"to"`
	Value     amount.Amount  `json:"value"`
	Timestamp int64          `json:"timestamp"` // Unix seconds
}
