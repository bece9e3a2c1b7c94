package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *PostgresStore) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)
	return mockPool, NewPostgresStore(mockPool)
}

func TestPostgresStore_LookupRole(t *testing.T) {
	t.Run("Should return the highest ranked role", func(t *testing.T) {
		mockPool, store := newMockStore(t)
		mockPool.ExpectQuery("SELECT ur.role").
			WithArgs(testMakerID).
			WillReturnRows(mockPool.NewRows([]string{"role"}).AddRow("content_maker"))

		role, err := store.LookupRole(context.Background(), testMakerID)

		require.NoError(t, err)
		assert.Equal(t, RoleContentMaker, role)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should return viewer when no row exists", func(t *testing.T) {
		mockPool, store := newMockStore(t)
		mockPool.ExpectQuery("SELECT ur.role").
			WithArgs(testViewerID).
			WillReturnRows(mockPool.NewRows([]string{"role"}))

		role, err := store.LookupRole(context.Background(), testViewerID)

		require.NoError(t, err)
		assert.Equal(t, RoleViewer, role)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should surface query failures as unknown", func(t *testing.T) {
		mockPool, store := newMockStore(t)
		mockPool.ExpectQuery("SELECT ur.role").
			WithArgs(testMakerID).
			WillReturnError(errStoreDown)

		role, err := store.LookupRole(context.Background(), testMakerID)

		assert.ErrorIs(t, err, errStoreDown)
		assert.Equal(t, RoleUnknown, role)
	})
}

func TestPostgresStore_Grant(t *testing.T) {
	t.Run("Should insert a row when none exists", func(t *testing.T) {
		mockPool, store := newMockStore(t)
		mockPool.ExpectBegin()
		mockPool.ExpectQuery("SELECT role FROM user_roles WHERE user_id = \\$1 FOR UPDATE").
			WithArgs(testViewerID).
			WillReturnRows(mockPool.NewRows([]string{"role"}))
		mockPool.ExpectExec("INSERT INTO user_roles").
			WithArgs(testViewerID, "content_maker").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()

		granted, err := store.Grant(context.Background(), testViewerID, RoleContentMaker)

		require.NoError(t, err)
		assert.True(t, granted)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should upgrade a viewer row in place", func(t *testing.T) {
		mockPool, store := newMockStore(t)
		mockPool.ExpectBegin()
		mockPool.ExpectQuery("FOR UPDATE").
			WithArgs(testViewerID).
			WillReturnRows(mockPool.NewRows([]string{"role"}).AddRow("viewer"))
		mockPool.ExpectExec("UPDATE user_roles SET role").
			WithArgs(testViewerID, "content_maker", "viewer").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectCommit()

		granted, err := store.Grant(context.Background(), testViewerID, RoleContentMaker)

		require.NoError(t, err)
		assert.True(t, granted)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should leave an existing assignment untouched", func(t *testing.T) {
		mockPool, store := newMockStore(t)
		mockPool.ExpectBegin()
		mockPool.ExpectQuery("FOR UPDATE").
			WithArgs(testMakerID).
			WillReturnRows(mockPool.NewRows([]string{"role"}).AddRow("content_maker"))
		mockPool.ExpectCommit()

		granted, err := store.Grant(context.Background(), testMakerID, RoleContentMaker)

		require.NoError(t, err)
		assert.False(t, granted)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should report a concurrent insert as not granted", func(t *testing.T) {
		mockPool, store := newMockStore(t)
		mockPool.ExpectBegin()
		mockPool.ExpectQuery("FOR UPDATE").
			WithArgs(testViewerID).
			WillReturnRows(mockPool.NewRows([]string{"role"}))
		mockPool.ExpectExec("INSERT INTO user_roles").
			WithArgs(testViewerID, "content_maker").
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mockPool.ExpectCommit()

		granted, err := store.Grant(context.Background(), testViewerID, RoleContentMaker)

		require.NoError(t, err)
		assert.False(t, granted)
	})
	t.Run("Should roll back when the write fails", func(t *testing.T) {
		mockPool, store := newMockStore(t)
		mockPool.ExpectBegin()
		mockPool.ExpectQuery("FOR UPDATE").
			WithArgs(testViewerID).
			WillReturnRows(mockPool.NewRows([]string{"role"}))
		mockPool.ExpectExec("INSERT INTO user_roles").
			WithArgs(testViewerID, "content_maker").
			WillReturnError(errors.New("insert or update on table violates foreign key constraint"))
		mockPool.ExpectRollback()

		granted, err := store.Grant(context.Background(), testViewerID, RoleContentMaker)

		assert.Error(t, err)
		assert.False(t, granted)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresStore_Downgrade(t *testing.T) {
	t.Run("Should collapse duplicates and downgrade the survivor", func(t *testing.T) {
		mockPool, store := newMockStore(t)
		mockPool.ExpectBegin()
		mockPool.ExpectQuery("FOR UPDATE").
			WithArgs(testMakerID).
			WillReturnRows(mockPool.NewRows([]string{"role"}).AddRow("viewer").AddRow("content_maker"))
		mockPool.ExpectExec("DELETE FROM user_roles").
			WithArgs(testMakerID, "content_maker").
			WillReturnResult(pgxmock.NewResult("DELETE", 1))
		mockPool.ExpectExec("UPDATE user_roles SET role").
			WithArgs(testMakerID, "viewer").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectCommit()

		require.NoError(t, store.Downgrade(context.Background(), testMakerID))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should insert a viewer row when none exists", func(t *testing.T) {
		mockPool, store := newMockStore(t)
		mockPool.ExpectBegin()
		mockPool.ExpectQuery("FOR UPDATE").
			WithArgs(testViewerID).
			WillReturnRows(mockPool.NewRows([]string{"role"}))
		mockPool.ExpectExec("INSERT INTO user_roles").
			WithArgs(testViewerID, "viewer").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()

		require.NoError(t, store.Downgrade(context.Background(), testViewerID))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
	t.Run("Should do nothing for an existing viewer", func(t *testing.T) {
		mockPool, store := newMockStore(t)
		mockPool.ExpectBegin()
		mockPool.ExpectQuery("FOR UPDATE").
			WithArgs(testViewerID).
			WillReturnRows(mockPool.NewRows([]string{"role"}).AddRow("viewer"))
		mockPool.ExpectCommit()

		require.NoError(t, store.Downgrade(context.Background(), testViewerID))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresStore_Assignments(t *testing.T) {
	t.Run("Should map each user to its highest role", func(t *testing.T) {
		mockPool, store := newMockStore(t)
		mockPool.ExpectQuery("SELECT DISTINCT ON").
			WillReturnRows(mockPool.NewRows([]string{"user_id", "role"}).
				AddRow(testMakerID, "content_maker").
				AddRow(testViewerID, "viewer").
				AddRow(testAdminID, "retired"))

		assignments, err := store.Assignments(context.Background())

		require.NoError(t, err)
		assert.Equal(t, map[string]Role{testMakerID: RoleContentMaker, testViewerID: RoleViewer}, assignments)
	})
}
