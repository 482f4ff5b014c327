package leader

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestElector(t *testing.T) (*Elector, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, "titan-aas-leader", "host1", time.Minute), mock
}

func TestIdentityIncludesHostname(t *testing.T) {
	e, _ := newTestElector(t)
	assert.Contains(t, e.Identity(), "host1-")
}

func TestTryAcquireSucceedsWhenRowsAffected(t *testing.T) {
	e, mock := newTestElector(t)
	mock.ExpectExec("INSERT INTO leader_lease").
		WillReturnResult(sqlmock.NewResult(1, 1))

	ok, err := e.tryAcquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTryAcquireFailsWhenNoRowsAffected(t *testing.T) {
	e, mock := newTestElector(t)
	mock.ExpectExec("INSERT INTO leader_lease").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := e.tryAcquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseOnlyDeletesOwnLease(t *testing.T) {
	e, mock := newTestElector(t)
	mock.ExpectExec("DELETE FROM leader_lease").
		WithArgs("titan-aas-leader", e.Identity()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, e.release(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRenewExtendsLeaseForCurrentHolder(t *testing.T) {
	e, mock := newTestElector(t)
	mock.ExpectExec("UPDATE leader_lease SET expires_at").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := e.renew(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
