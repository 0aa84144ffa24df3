// Package pgtracking stores tracking records in PostgreSQL. The nested timeline,
// exceptions and notifications live in JSONB columns next to the indexed scalar
// fields; writes are guarded by the version column.
package pgtracking

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const connectTimeout = 10 * time.Second

type Storage struct {
	db *pgxpool.Pool
}

func New(connString string) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "parse pg config")
	}
	if cfg.MaxConns < 10 {
		cfg.MaxConns = 10
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	db, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect pg")
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping pg")
	}

	s := &Storage{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return errors.Wrap(s.db.Ping(ctx), "ping pg")
}

func (s *Storage) Close() {
	if s.db != nil {
		s.db.Close()
	}
}
