//go:build cgo

package storage

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

func openSQLite3(cfg Config) (*sql.DB, dialect, error) {
	path, err := sqlitePath(cfg)
	if err != nil {
		return nil, dialect{}, err
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, dialect{}, err
	}
	if err := configureSQLite(db, cfg); err != nil {
		_ = db.Close()
		return nil, dialect{}, err
	}
	d := sqliteDialect
	d.name = "sqlite3"
	return db, d, nil
}
