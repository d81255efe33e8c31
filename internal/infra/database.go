package infra

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	slowQueryThreshold = 200 * time.Millisecond
)

type poolSettings struct {
	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
}

// SQLite serialises writers, so its pool is pinned to one connection and the
// ledger never sees SQLITE_BUSY.
var (
	postgresPool = poolSettings{maxOpen: 25, maxIdle: 5, maxLifetime: time.Hour}
	sqlitePool   = poolSettings{maxOpen: 1, maxIdle: 1}
)

// OpenDatabase opens and pings the configured gorm backend.
func OpenDatabase(driver, dsn string) (*gorm.DB, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPostgres, "postgresql":
		return open(DriverPostgres, postgres.Open(dsn), postgresPool)
	case DriverSQLite:
		return open(DriverSQLite, sqlite.Open(dsn), sqlitePool)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func open(name string, dialector gorm.Dialector, pool poolSettings) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 newGormLogger(log.New(os.Stderr, "\r\n", log.LstdFlags)),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(pool.maxOpen)
	sqlDB.SetMaxIdleConns(pool.maxIdle)
	sqlDB.SetConnMaxLifetime(pool.maxLifetime)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", name, err)
	}
	return db, nil
}

// newGormLogger reports slow queries and errors. Lookups that are expected to
// miss, like idempotency keys and first-start alert state, stay quiet.
func newGormLogger(w logger.Writer) logger.Interface {
	return logger.New(w, logger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}
