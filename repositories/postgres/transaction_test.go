package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/assistant-backend/repositories"
	"go.uber.org/zap"
)

func TestInTransaction_CommitsOnSuccess(t *testing.T) {
	db, mock := newMockDB(t)
	tm := NewTransactionManager(db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE proposals").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := tm.InTransaction(context.Background(), func(txCtx context.Context, _ repositories.Transaction) error {
		_, err := GetExecutor(txCtx, db).ExecContext(txCtx, "UPDATE proposals SET status = 'validated'")
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTransaction_RollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	tm := NewTransactionManager(db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := tm.InTransaction(context.Background(), func(context.Context, repositories.Transaction) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTransaction_ContextCarriesTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	tm := NewTransactionManager(db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := tm.InTransaction(context.Background(), func(txCtx context.Context, tx repositories.Transaction) error {
		carried, ok := GetTransactionFromContext(txCtx)
		assert.True(t, ok)
		assert.Same(t, tx, carried)

		// Repositories running inside the transaction must use it, not the pool
		assert.NotEqual(t, Executor(db.DB), GetExecutor(txCtx, db))
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetExecutor_FallsBackToPool(t *testing.T) {
	db, _ := newMockDB(t)

	assert.Equal(t, Executor(db.DB), GetExecutor(context.Background(), db))
}

func TestTransaction_RollbackAfterCommitIsQuiet(t *testing.T) {
	db, mock := newMockDB(t)
	tm := NewTransactionManager(db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectCommit()

	tx, err := tm.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	// sql.ErrTxDone is swallowed so deferred rollbacks stay silent
	assert.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}
