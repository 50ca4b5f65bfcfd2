// Package postgres implements the store contracts on database/sql with the
// pgx driver. The conditional debit is a single guarded UPDATE, so the row
// lock it takes is what serializes concurrent debits of one account.
//
// Balance reads lock the rows they return in account_no order. A transfer
// therefore holds both of its rows before it writes either, and two
// transfers in opposite directions queue instead of deadlocking.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v4/stdlib"

	"github.com/yashasviy/guarded-transfers-api/models"
	"github.com/yashasviy/guarded-transfers-api/store"
)

const (
	// DriverName is the database/sql driver registered by pgx
	DriverName = "pgx"

	selectBalancesPrefix = "SELECT account_no, balance FROM balances WHERE account_no IN ("

	// rows are locked in the order they are returned
	lockInOrderSuffix = ") ORDER BY account_no FOR UPDATE"

	conditionalDebitSQL = "UPDATE balances SET balance = balance - $1 WHERE account_no = $2 AND balance >= $1"

	creditSQL = "UPDATE balances SET balance = balance + $1 WHERE account_no = $2"

	insertTransferSQL = "INSERT INTO transactions (id, amount, account_no, initiate_ts, complete_ts) VALUES ($1, $2, $3, $4, $5)"
)

// Open connects and pings the database.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Store runs each unit as one database transaction.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op if already committed

	if err := fn(ctx, &sqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type sqlTx struct {
	tx *sql.Tx
}

func selectBalancesSQL(n int) string {
	var b strings.Builder
	b.WriteString(selectBalancesPrefix)
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", i)
	}
	b.WriteString(lockInOrderSuffix)
	return b.String()
}

func (t *sqlTx) FetchBalances(ctx context.Context, ids []string) (map[string]int64, error) {
	out := make(map[string]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := t.tx.QueryContext(ctx, selectBalancesSQL(len(ids)), args...)
	if err != nil {
		return nil, fmt.Errorf("select balances: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  string
			bal int64
		)
		if err := rows.Scan(&id, &bal); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		out[id] = bal
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balances: %w", err)
	}
	return out, nil
}

func (t *sqlTx) ConditionalDebit(ctx context.Context, id string, amount int64) (bool, error) {
	res, err := t.tx.ExecContext(ctx, conditionalDebitSQL, amount, id)
	if err != nil {
		return false, fmt.Errorf("debit %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("debit %s rows affected: %w", id, err)
	}
	return n > 0, nil
}

func (t *sqlTx) Credit(ctx context.Context, id string, amount int64) error {
	res, err := t.tx.ExecContext(ctx, creditSQL, amount, id)
	if err != nil {
		return fmt.Errorf("credit %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("credit %s rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("credit %s: %w", id, store.ErrAccountMissing)
	}
	return nil
}

func (t *sqlTx) Append(ctx context.Context, rec models.TransferRecord) error {
	_, err := t.tx.ExecContext(ctx, insertTransferSQL,
		rec.ID, rec.Amount, rec.AccountNo, rec.InitiateTS, rec.CompleteTS)
	if err != nil {
		return fmt.Errorf("record transfer %s: %w", rec.ID, err)
	}
	return nil
}
