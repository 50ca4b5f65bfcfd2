package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashasviy/guarded-transfers-api/models"
	"github.com/yashasviy/guarded-transfers-api/store"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	return New(db), mock
}

func TestSelectBalancesSQL(t *testing.T) {
	assert.Equal(t, "SELECT account_no, balance FROM balances WHERE account_no IN ($1) ORDER BY account_no FOR UPDATE", selectBalancesSQL(1))
	assert.Equal(t, "SELECT account_no, balance FROM balances WHERE account_no IN ($1, $2) ORDER BY account_no FOR UPDATE", selectBalancesSQL(2))
}

func TestWithinTxCommitsFullTransfer(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC)
	rec := models.TransferRecord{ID: "4a1c", Amount: 30, AccountNo: "A", InitiateTS: now, CompleteTS: now}

	mock.ExpectBegin()
	mock.ExpectQuery(selectBalancesSQL(2)).
		WithArgs("A", "B").
		WillReturnRows(sqlmock.NewRows([]string{"account_no", "balance"}).AddRow("A", 100).AddRow("B", 50))
	mock.ExpectExec(conditionalDebitSQL).WithArgs(int64(30), "A").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(creditSQL).WithArgs(int64(30), "B").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertTransferSQL).WithArgs("4a1c", int64(30), "A", now, now).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		bal, err := tx.FetchBalances(ctx, []string{"A", "B"})
		require.NoError(t, err)
		assert.Equal(t, map[string]int64{"A": 100, "B": 50}, bal)

		ok, err := tx.ConditionalDebit(ctx, "A", 30)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, tx.Credit(ctx, "B", 30))
		return tx.Append(ctx, rec)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Opposite-direction transfers must lock A before B in both units.
func TestFetchBalancesLocksRowsInAccountOrder(t *testing.T) {
	s, mock := newMock(t)
	const lockBoth = "SELECT account_no, balance FROM balances WHERE account_no IN ($1, $2) ORDER BY account_no FOR UPDATE"

	for _, pair := range [][]string{{"A", "B"}, {"B", "A"}} {
		mock.ExpectBegin()
		mock.ExpectQuery(lockBoth).
			WithArgs(pair[0], pair[1]).
			WillReturnRows(sqlmock.NewRows([]string{"account_no", "balance"}).AddRow("A", 100).AddRow("B", 50))
		mock.ExpectExec(conditionalDebitSQL).WithArgs(int64(10), pair[0]).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(creditSQL).WithArgs(int64(10), pair[1]).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			if _, err := tx.FetchBalances(ctx, pair); err != nil {
				return err
			}
			if _, err := tx.ConditionalDebit(ctx, pair[0], 10); err != nil {
				return err
			}
			return tx.Credit(ctx, pair[1], 10)
		})
		require.NoError(t, err)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchBalancesEmptySkipsQuery(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		bal, err := tx.FetchBalances(ctx, nil)
		assert.Empty(t, bal)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConditionalDebitNoRowAffected(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(conditionalDebitSQL).WithArgs(int64(999), "A").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		ok, err := tx.ConditionalDebit(ctx, "A", 999)
		assert.False(t, ok)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditMissingRow(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(creditSQL).WithArgs(int64(5), "gone").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Credit(ctx, "gone", 5)
	})
	assert.ErrorIs(t, err, store.ErrAccountMissing)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerFailureRollsBack(t *testing.T) {
	s, mock := newMock(t)
	insertErr := errors.New("unique violation")

	mock.ExpectBegin()
	mock.ExpectExec(conditionalDebitSQL).WithArgs(int64(10), "A").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(creditSQL).WithArgs(int64(10), "B").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(insertTransferSQL).WillReturnError(insertErr)
	mock.ExpectRollback()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.ConditionalDebit(ctx, "A", 10); err != nil {
			return err
		}
		if err := tx.Credit(ctx, "B", 10); err != nil {
			return err
		}
		return tx.Append(ctx, models.TransferRecord{ID: "x", Amount: 10, AccountNo: "A"})
	})
	assert.ErrorIs(t, err, insertErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitFailureSurfaces(t *testing.T) {
	s, mock := newMock(t)
	commitErr := errors.New("connection reset")

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(commitErr)

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return nil
	})
	assert.ErrorIs(t, err, commitErr)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginFailure(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	called := false
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)
}
