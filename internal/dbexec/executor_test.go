package dbexec

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockExecutor(t *testing.T) (*StandardExecutor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStandardExecutor(db), mock
}

func TestRunInTx_CommitsOnSuccess(t *testing.T) {
	exec, mock := newMockExecutor(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE category").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := RunInTx(context.Background(), exec, func(tx Querier) error {
		_, err := tx.ExecContext(context.Background(), "UPDATE category SET name = ?", "x")
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTx_RollsBackOnError(t *testing.T) {
	exec, mock := newMockExecutor(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := RunInTx(context.Background(), exec, func(Querier) error { return boom })
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func savepointExec(stmt string) string {
	return "^" + regexp.QuoteMeta(stmt) + "$"
}

func TestRunInTx_FailedBatchRollsBackToSavepoint(t *testing.T) {
	exec, mock := newMockExecutor(t)
	mock.ExpectBegin()
	tx, err := exec.BeginTx(context.Background())
	require.NoError(t, err)

	mc := NewMutationContext(tx)
	ctx := WithMutationContext(context.Background(), mc)

	mock.ExpectExec(savepointExec("SAVEPOINT batch_1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO category").WillReturnError(errors.New("boom"))
	mock.ExpectExec(savepointExec("ROLLBACK TO SAVEPOINT batch_1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(savepointExec("SAVEPOINT batch_2")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO subject").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(savepointExec("RELEASE SAVEPOINT batch_2")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	var used Querier
	err = RunInTx(ctx, exec, func(q Querier) error {
		used = q
		_, err := q.ExecContext(ctx, "INSERT INTO category (id) VALUES (?)", "c1")
		return err
	})
	require.Error(t, err)
	assert.Same(t, tx, used)
	assert.False(t, mc.HasError())

	err = RunInTx(ctx, exec, func(q Querier) error {
		_, err := q.ExecContext(ctx, "INSERT INTO subject (id) VALUES (?)", "s1")
		return err
	})
	require.NoError(t, err)

	require.NoError(t, mc.Finalize())
	// Finalize is idempotent.
	require.NoError(t, mc.Finalize())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTx_BrokenSavepointRollsBackRequest(t *testing.T) {
	exec, mock := newMockExecutor(t)
	mock.ExpectBegin()
	tx, err := exec.BeginTx(context.Background())
	require.NoError(t, err)

	mc := NewMutationContext(tx)
	ctx := WithMutationContext(context.Background(), mc)

	mock.ExpectExec(savepointExec("SAVEPOINT batch_1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(savepointExec("ROLLBACK TO SAVEPOINT batch_1")).WillReturnError(errors.New("connection lost"))
	mock.ExpectRollback()

	err = RunInTx(ctx, exec, func(Querier) error { return errors.New("row failed") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row failed")
	assert.Contains(t, err.Error(), "connection lost")
	assert.True(t, mc.HasError())

	require.NoError(t, mc.Finalize())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMutationContext_CommitsWithoutErrors(t *testing.T) {
	exec, mock := newMockExecutor(t)
	mock.ExpectBegin()
	mock.ExpectCommit()
	tx, err := exec.BeginTx(context.Background())
	require.NoError(t, err)

	mc := NewMutationContext(tx)
	require.NoError(t, mc.Finalize())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQuerierForContext(t *testing.T) {
	exec, mock := newMockExecutor(t)
	assert.Same(t, exec, QuerierForContext(context.Background(), exec))

	mock.ExpectBegin()
	tx, err := exec.BeginTx(context.Background())
	require.NoError(t, err)
	ctx := WithMutationContext(context.Background(), NewMutationContext(tx))
	assert.Same(t, tx, QuerierForContext(ctx, exec))
}

func TestStandardExecutor_NilDB(t *testing.T) {
	exec := NewStandardExecutor(nil)
	_, err := exec.QueryContext(context.Background(), "SELECT 1")
	assert.Error(t, err)
	_, err = exec.BeginTx(context.Background())
	assert.Error(t, err)
}
