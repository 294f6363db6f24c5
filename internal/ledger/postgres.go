package ledger

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const createTable = `create table if not exists gdelt_delivered (
	archive_id   bigint primary key,
	delivered_at timestamptz not null default now()
)`

// PostgresStore keeps delivered ids in the gdelt_delivered table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, verifies connectivity and ensures the table
// exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	conf, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	conf.MaxConns = 4
	conf.MinConns = 0
	conf.MaxConnLifetime = 55 * time.Minute
	conf.MaxConnIdleTime = 10 * time.Minute
	conf.HealthCheckPeriod = 30 * time.Second

	p, err := pgxpool.NewWithConfig(ctx, conf)
	if err != nil {
		return nil, err
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, err
	}
	if _, err := p.Exec(ctx, createTable); err != nil {
		p.Close()
		return nil, err
	}
	return &PostgresStore{pool: p}, nil
}

func (s *PostgresStore) Load(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `select archive_id from gdelt_delivered order by archive_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) Commit(ctx context.Context, id int64, _ []int64) error {
	_, err := s.pool.Exec(ctx, `insert into gdelt_delivered (archive_id) values ($1) on conflict (archive_id) do nothing`, id)
	return err
}

// Reset removes every recorded id. Used by tests.
func (s *PostgresStore) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `truncate gdelt_delivered`)
	return err
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
