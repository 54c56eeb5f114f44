package kvstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLBackend_SQLite(t *testing.T) {
	backend, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "portal.db"))
	require.NoError(t, err)
	defer backend.Close()

	exerciseBackend(t, backend, immediate)
}

func TestSQLBackend_Upsert(t *testing.T) {
	ctx := context.Background()
	backend, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "portal.db"))
	require.NoError(t, err)
	defer backend.Close()

	store := NewStore(backend, "", "tab")
	require.NoError(t, store.Set(ctx, "auth_token", "first"))
	require.NoError(t, store.Set(ctx, "auth_token", "second"))

	value, err := store.Get(ctx, "auth_token")
	require.NoError(t, err)
	assert.Equal(t, "second", value)
}

func TestNewSQLBackend_CreatesTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS kv_entries").WillReturnResult(sqlmock.NewResult(0, 0))

	backend, err := NewSQLBackend(context.Background(), db)
	require.NoError(t, err)
	assert.Same(t, db, backend.DB())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewSQLBackend_CreateTableError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS kv_entries").WillReturnError(errors.New("disk I/O error"))

	_, err = NewSQLBackend(context.Background(), db)
	assert.Error(t, err)
}

func TestSQLBackend_Errors(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS kv_entries").WillReturnResult(sqlmock.NewResult(0, 0))
	backend, err := NewSQLBackend(ctx, db)
	require.NoError(t, err)

	var seen recorder
	defer backend.Watch(seen.record)()

	t.Run("write failure is returned and not published", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO kv_entries").WillReturnError(errors.New("database or disk is full"))

		err := backend.Set(ctx, "tab", "auth_token", "abc")
		assert.ErrorContains(t, err, "database or disk is full")
		assert.Empty(t, seen.snapshot())
	})

	t.Run("read failure is not ErrNotFound", func(t *testing.T) {
		mock.ExpectQuery("SELECT entry_value FROM kv_entries").WillReturnError(errors.New("locked"))

		_, err := backend.Get(ctx, "auth_token")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
	})

	t.Run("missing row", func(t *testing.T) {
		mock.ExpectQuery("SELECT entry_value FROM kv_entries").
			WillReturnRows(sqlmock.NewRows([]string{"entry_value"}))

		_, err := backend.Get(ctx, "auth_token")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete rolls back on failure", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM kv_entries").WithArgs("auth_token").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("DELETE FROM kv_entries").WithArgs("user_data").WillReturnError(errors.New("boom"))
		mock.ExpectRollback()

		err := backend.Delete(ctx, "tab", "auth_token", "user_data")
		assert.Error(t, err)
		assert.Empty(t, seen.snapshot())
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
