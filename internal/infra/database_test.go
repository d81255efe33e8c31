package infra

import (
	"bytes"
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestOpenDatabaseSQLite(t *testing.T) {
	t.Parallel()

	db, err := OpenDatabase(" SQLite ", "file:open_database_test?mode=memory&cache=shared")
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
}

func TestOpenDatabaseUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := OpenDatabase("mysql", "root@/ledger")
	require.ErrorContains(t, err, "unsupported database driver")
}

func TestGormLoggerSkipsRecordNotFound(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	gormLogger := newGormLogger(log.New(&buf, "", 0))
	query := func() (string, int64) { return "SELECT * FROM alert_states", 0 }

	gormLogger.Trace(context.Background(), time.Now(), query, gorm.ErrRecordNotFound)
	require.Empty(t, buf.String())

	gormLogger.Trace(context.Background(), time.Now(), query, errors.New("connection reset"))
	require.Contains(t, buf.String(), "connection reset")
}
