package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

func openPostgres(cfg Config) (*sql.DB, dialect, error) {
	dsn := strings.TrimSpace(cfg.Path)
	if dsn == "" {
		return nil, dialect{}, errors.New("postgres connection string is required in storage.path")
	}
	pc, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, dialect{}, fmt.Errorf("parse postgres dsn: %w", err)
	}
	db := stdlib.OpenDB(*pc)
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, dialect{}, fmt.Errorf("postgres ping: %w", err)
	}
	return db, postgresDialect, nil
}
