package db

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize(t *testing.T) {
	conn, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec(queryBalances).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(queryTransactions).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Initialize(context.Background(), conn))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInitializeStopsOnError(t *testing.T) {
	conn, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec(queryBalances).WillReturnError(errors.New("permission denied"))

	err = Initialize(context.Background(), conn)
	assert.ErrorContains(t, err, "create balances table")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeed(t *testing.T) {
	conn, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec(querySeed).WithArgs("A", int64(100)).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, Seed(context.Background(), conn, map[string]int64{"A": 100}))
	require.NoError(t, mock.ExpectationsWereMet())
}
