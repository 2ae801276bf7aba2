package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	logx "acgo/pkg/logx"
)

// Open initializes the configured store. An empty driver means "sqlite".
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	var (
		db  *sql.DB
		d   dialect
		err error
	)
	switch driver {
	case "sqlite":
		db, d, err = openSQLite(cfg)
	case "sqlite3":
		db, d, err = openSQLite3(cfg)
	case "postgres", "postgresql", "pgx":
		db, d, err = openPostgres(cfg)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
	if err != nil {
		return nil, err
	}

	st := &sqlStore{db: db, d: d, log: log}
	if err := st.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	log.Info("storage opened")
	return st, nil
}
