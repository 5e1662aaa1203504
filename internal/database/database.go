// Package database implements the release catalog on top of database/sql.
// It hides the differences between the supported SQL dialects from the rest
// of the codebase.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib" // database/sql compatible driver for pgx
	sqldblogger "github.com/simukti/sqldb-logger"
	"github.com/simukti/sqldb-logger/logadapter/zerologadapter"
	sqlitedriver "modernc.org/sqlite"

	"github.com/console-helpers/svn-buddy-updater/internal/config"
	"github.com/console-helpers/svn-buddy-updater/internal/logging"
	"github.com/console-helpers/svn-buddy-updater/internal/migrations"
)

const (
	sqlite = iota
	postgres
	mysql
)

const SQLiteMemoryOnlyDSN = "file::memory:?cache=shared"

type Database struct {
	db     *sql.DB
	config *config.Database
	kind   int
	log    *logging.Logger
}

func New() *Database {
	return &Database{log: logging.NopLogger()}
}

func (d *Database) WithConfig(config *config.Database) *Database {
	d.config = config
	return d
}

func (d *Database) WithLogger(log *logging.Logger) *Database {
	d.log = log
	return d
}

func (d *Database) DB() *sql.DB {
	return d.db
}

func (d *Database) Dialect() (string, error) {
	switch d.kind {
	case sqlite:
		return "sqlite", nil
	case postgres:
		return "postgresql", nil
	case mysql:
		return "mysql", nil
	default:
		return "", fmt.Errorf("unknown kind: %d", d.kind)
	}
}

// InitDB opens the configured database connection. With no configuration at
// all, a memory-only SQLite database is used.
func (d *Database) InitDB(ctx context.Context) error {
	var debug bool
	if d.config != nil && d.config.SQL != nil {
		debug = d.config.SQL.Debug
	}

	switch {
	case d.config == nil || d.config.SQL == nil:
		fallthrough
	case d.config.SQL.Driver == "" || d.config.SQL.Driver == "sqlite3" || d.config.SQL.Driver == "sqlite":
		dsn := SQLiteMemoryOnlyDSN
		if d.config != nil && d.config.SQL != nil && d.config.SQL.DSN != "" {
			dsn = os.ExpandEnv(d.config.SQL.DSN)
		}
		d.kind = sqlite
		if debug {
			d.db = sqldblogger.OpenDriver(dsn, &sqlitedriver.Driver{}, zerologadapter.New(d.log.Zerolog()))
		} else {
			var err error
			d.db, err = sql.Open("sqlite", dsn)
			if err != nil {
				return err
			}
		}

	case d.config.SQL.Driver == "postgres" || d.config.SQL.Driver == "pgx":
		dsn := os.ExpandEnv(d.config.SQL.DSN)
		d.kind = postgres
		if debug {
			d.db = sqldblogger.OpenDriver(dsn, stdlib.GetDefaultDriver(), zerologadapter.New(d.log.Zerolog()))
		} else {
			cfg, err := pgx.ParseConfig(dsn)
			if err != nil {
				return err
			}
			d.db = sql.OpenDB(stdlib.GetConnector(*cfg))
		}

	case d.config.SQL.Driver == "mysql":
		dsn := os.ExpandEnv(d.config.SQL.DSN)
		d.kind = mysql
		if debug {
			d.db = sqldblogger.OpenDriver(dsn, &mysqldriver.MySQLDriver{}, zerologadapter.New(d.log.Zerolog()))
		} else {
			cfg, err := mysqldriver.ParseDSN(dsn)
			if err != nil {
				return err
			}
			conn, err := mysqldriver.NewConnector(cfg)
			if err != nil {
				return err
			}
			d.db = sql.OpenDB(conn)
		}

	default:
		return fmt.Errorf("unsupported database driver: %s", d.config.SQL.Driver)
	}

	return d.db.PingContext(ctx)
}

// Migrate brings the catalog schema up to date.
func (d *Database) Migrate(context.Context) error {
	dialect, err := d.Dialect()
	if err != nil {
		return err
	}
	return migrations.Apply(d.db, dialect)
}

func (d *Database) CloseDB() {
	d.db.Close()
}

func (d *Database) arg(i int) string {
	if d.kind == postgres {
		return "$" + strconv.Itoa(i+1)
	}
	return "?"
}

func tx1(ctx context.Context, db *Database, f func(*sql.Tx) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if err := f(tx); err != nil {
		return err
	}

	return tx.Commit()
}

func tx2[T any](ctx context.Context, db *Database, f func(*sql.Tx) (T, error)) (T, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		var t T
		return t, err
	}

	defer func() {
		_ = tx.Rollback()
	}()

	result, err := f(tx)
	if err != nil {
		var t T
		return t, err
	}

	if err := tx.Commit(); err != nil {
		var t T
		return t, err
	}

	return result, nil
}

func tx3[T any, U bool | string](ctx context.Context, db *Database, f func(*sql.Tx) (T, U, error)) (T, U, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		var t T
		var u U
		return t, u, err
	}

	defer func() {
		_ = tx.Rollback()
	}()

	result, result2, err := f(tx)
	if err != nil {
		var t T
		var u U
		return t, u, err
	}

	if err := tx.Commit(); err != nil {
		var t T
		var u U
		return t, u, err
	}

	return result, result2, nil
}
