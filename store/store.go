// Package store defines the storage contracts the transfer engine runs on.
package store

import (
	"context"
	"errors"

	"github.com/yashasviy/guarded-transfers-api/models"
)

// ErrAccountMissing is returned when a write targets an account row that does not exist.
var ErrAccountMissing = errors.New("store: account row missing")

// BalanceStore holds per-account balances in minor currency units.
type BalanceStore interface {
	// FetchBalances returns the balance of every existing account in ids.
	// Unknown ids are absent from the result. Lock-based stores hold the
	// returned rows until the unit ends, acquired in account id order.
	FetchBalances(ctx context.Context, ids []string) (map[string]int64, error)

	// ConditionalDebit subtracts amount only if the balance covers it, as one
	// atomic operation. It reports whether the debit applied.
	ConditionalDebit(ctx context.Context, id string, amount int64) (bool, error)

	// Credit adds amount unconditionally.
	Credit(ctx context.Context, id string, amount int64) error
}

// Ledger is the append-only record of completed transfers.
type Ledger interface {
	Append(ctx context.Context, rec models.TransferRecord) error
}

// Tx is a single all-or-nothing unit over balances and the ledger.
type Tx interface {
	BalanceStore
	Ledger
}

// Store opens atomic units.
type Store interface {
	// WithinTx commits iff fn returns nil. Any error from fn, a failed commit,
	// or a panic leaves no trace of the unit's writes.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Ping(ctx context.Context) error
}
