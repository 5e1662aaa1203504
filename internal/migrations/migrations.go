// Package migrations creates and upgrades the catalog schema. DDL is
// generated per dialect from the table definitions in tables.go and applied
// through golang-migrate.
package migrations

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"testing/fstest"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Apply brings the schema of db up to date. Dialect is one of "sqlite",
// "postgresql" or "mysql". The migrator is deliberately not closed: its
// Close would close the shared db handle.
func Apply(db *sql.DB, dialect string) error {
	m, err := New(db, dialect)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func New(db *sql.DB, dialect string) (*migrate.Migrate, error) {
	var driver database.Driver
	var err error

	switch dialect {
	case "sqlite":
		driver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	case "postgresql":
		driver, err = migratepostgres.WithInstance(db, &migratepostgres.Config{})
	case "mysql":
		driver, err = migratemysql.WithInstance(db, &migratemysql.Config{})
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}
	if err != nil {
		return nil, err
	}

	src, err := iofs.New(schemaFS(dialect), ".")
	if err != nil {
		return nil, err
	}

	return migrate.NewWithInstance("iofs", src, dialect, driver)
}

func schemaFS(dialect string) fs.FS {
	var kind int
	switch dialect {
	case "postgresql":
		kind = postgres
	case "mysql":
		kind = mysql
	case "sqlite":
		kind = sqlite
	}

	m := make(map[string]*fstest.MapFile, len(schema))
	for i, tbl := range schema {
		f := fmt.Sprintf("%03d_%s.up.sql", i+1, tbl.name)
		m[f] = &fstest.MapFile{Data: []byte(tbl.SQL(kind))}
	}
	return fstest.MapFS(m)
}
