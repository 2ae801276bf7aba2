//go:build !cgo

package storage

import (
	"database/sql"
	"errors"
)

func openSQLite3(cfg Config) (*sql.DB, dialect, error) {
	_ = cfg
	return nil, dialect{}, errors.New(`storage driver "sqlite3" needs a cgo build; use "sqlite" instead`)
}
