// Package orderstore persists the Expiry Reconciliation Service's local
// view of the on-chain request market: the outstanding order set (request
// id to deadline block), the last fully processed block, and an audit
// trail of slash attempts.
package orderstore

import (
	"context"
	"time"
)

// Order is one outstanding locked request awaiting fulfillment or expiry.
type Order struct {
	RequestID string
	Deadline  uint64
}

// SlashAttempt records one classified slash outcome, kept as an audit
// trail independent of the order set itself (an order can be removed
// while the attempt that removed it stays on record).
type SlashAttempt struct {
	RequestID   string
	AttemptedAt time.Time
	Outcome     string
	TxHash      string
	Error       string
}

// Store is the Local ERS database contract from the external interfaces
// section: order upsert/delete, expiry lookup, and the scan cursor.
type Store interface {
	AddOrder(ctx context.Context, order Order) error
	RemoveOrder(ctx context.Context, requestID string) error
	ExpiredOrders(ctx context.Context, currentBlock uint64) ([]Order, error)

	LastProcessedBlock(ctx context.Context) (uint64, bool, error)
	SetLastProcessedBlock(ctx context.Context, block uint64) error

	RecordSlashAttempt(ctx context.Context, attempt SlashAttempt) error

	Close() error
}
