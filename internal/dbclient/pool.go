// Package dbclient plays the narrow role spec.md §1 assigns to "the
// database wire protocol client" collaborator: a connection-pinned
// pool the Database Bridge drives directly, not an ORM. It adapts the
// teacher's gorm-backed postgres/sqlite pooling and dial code
// (database/postgres, database/sqlite) to hand out raw *sql.Conn
// acquisitions, because the ABI's prepare/execute/transaction
// operations need a connection pinned to one Query or Transaction
// handle at a time (spec.md §5's "the bridge treats a connection as
// owned by exactly one active handle").
package dbclient

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/forbearing/wasmrt/config"
	"github.com/forbearing/wasmrt/logger"
	pgdriver "gorm.io/driver/postgres"
	sqlitedriver "gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Pool is the per-database connection pool spec.md §3's Client Pool
// entity describes: "database connection pool; one per database;
// created lazily; lives for the tenant's lifetime."
type Pool struct {
	database string
	gormDB   *gorm.DB
	sqlDB    *sql.DB
}

// Open dials a pool for database using the process-wide Postgres or
// Sqlite configuration selected by config.App.Database.Type. database
// selects a schema/catalog within that server for Postgres, or a
// sibling file next to config.App.Sqlite.Path for Sqlite.
func Open(database string) (*Pool, error) {
	switch config.App.Database.Type {
	case config.DBPostgres:
		return openPostgres(database)
	case config.DBSqlite:
		return openSqlite(database)
	default:
		return nil, errors.Newf("dbclient: unsupported database type %q", config.App.Database.Type)
	}
}

func openPostgres(database string) (*Pool, error) {
	cfg := config.App.Postgres
	if len(database) > 0 {
		cfg.Database = database
	}
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s connect_timeout=5",
		cfg.Host, cfg.Username, cfg.Password, cfg.Database, cfg.Port, cfg.SSLMode, cfg.TimeZone,
	)
	gormDB, err := gorm.Open(pgdriver.Open(dsn), &gorm.Config{Logger: logger.Gorm})
	if err != nil {
		return nil, errors.Wrapf(err, "dbclient: connect to postgres database %q", database)
	}
	return finishOpen(database, gormDB)
}

func openSqlite(database string) (*Pool, error) {
	cfg := config.App.Sqlite
	dsn := cfg.Path
	switch {
	case cfg.IsMemory || len(dsn) == 0:
		dsn = "file::memory:?cache=shared"
	default:
		if len(database) > 0 {
			dsn = strings.TrimSuffix(dsn, ".db") + "_" + database + ".db"
		}
		params := []string{
			"_journal_mode=WAL",
			"_busy_timeout=5000",
			"_synchronous=NORMAL",
			"_temp_store=MEMORY",
			"_cache_size=-32000",
			"_foreign_keys=ON",
		}
		dsn = dsn + "?" + strings.Join(params, "&")
	}
	gormDB, err := gorm.Open(sqlitedriver.Open(dsn), &gorm.Config{Logger: logger.Gorm})
	if err != nil {
		return nil, errors.Wrapf(err, "dbclient: connect to sqlite database %q", database)
	}
	return finishOpen(database, gormDB)
}

func finishOpen(database string, gormDB *gorm.DB) (*Pool, error) {
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, errors.Wrap(err, "dbclient: underlying sql.DB")
	}
	sqlDB.SetMaxOpenConns(config.App.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.App.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(config.App.Database.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.App.Database.ConnMaxIdleTime)

	logger.Database.Infow("opened database pool", "database", database, "type", config.App.Database.Type)
	return &Pool{database: database, gormDB: gormDB, sqlDB: sqlDB}, nil
}

// Conn acquires a connection pinned for the life of a Query or
// Transaction handle, per spec.md §4.5's client.prepare /
// client.transaction.
func (p *Pool) Conn(ctx context.Context) (*sql.Conn, error) {
	conn, err := p.sqlDB.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "dbclient: acquire connection")
	}
	return conn, nil
}

// Stats exposes the pool's sql.DBStats. The metrics.DBConnectionsOpen
// gauge is not fed from it.
func (p *Pool) Stats() sql.DBStats {
	return p.sqlDB.Stats()
}

// Close releases the pool for good (tenant shutdown only; spec.md §3
// says a Client Pool "lives for the tenant's lifetime").
func (p *Pool) Close() error {
	return p.sqlDB.Close()
}
