package db

import (
	"context"
	"database/sql"
	"fmt"
)

const (
	// balance is kept in minor units; the CHECK is a second line behind the guarded debit
	queryBalances = `
	CREATE TABLE IF NOT EXISTS balances (
		account_no TEXT PRIMARY KEY,
		balance BIGINT NOT NULL CHECK (balance >= 0)
	);`

	// only the debit leg of each transfer is recorded
	queryTransactions = `
	CREATE TABLE IF NOT EXISTS transactions (
		id UUID PRIMARY KEY,
		amount BIGINT NOT NULL CHECK (amount > 0),
		account_no TEXT NOT NULL REFERENCES balances (account_no),
		initiate_ts TIMESTAMPTZ NOT NULL,
		complete_ts TIMESTAMPTZ NOT NULL
	);`

	querySeed = `
	INSERT INTO balances (account_no, balance) VALUES ($1, $2)
	ON CONFLICT (account_no) DO UPDATE SET balance = EXCLUDED.balance`
)

// Initialize creates the schema if it does not exist yet.
func Initialize(ctx context.Context, db *sql.DB) error {
	// 1. Create Balances Table
	if _, err := db.ExecContext(ctx, queryBalances); err != nil {
		return fmt.Errorf("create balances table: %w", err)
	}

	// 2. Create Transactions Table
	if _, err := db.ExecContext(ctx, queryTransactions); err != nil {
		return fmt.Errorf("create transactions table: %w", err)
	}
	return nil
}

// Seed upserts the given account balances. Provisioning is normally done
// outside this service; this exists for local runs and load tests.
func Seed(ctx context.Context, db *sql.DB, balances map[string]int64) error {
	for acc, bal := range balances {
		if _, err := db.ExecContext(ctx, querySeed, acc, bal); err != nil {
			return fmt.Errorf("seed account %s: %w", acc, err)
		}
	}
	return nil
}
