package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anatolykoptev/go-glass/entity"
)

const defaultPGBatch = 200

// PostgresTarget queues rows and inserts them in batches with
// ON CONFLICT DO NOTHING. Queued rows are flushed by Flush, when the batch
// fills, and on Close.
type PostgresTarget struct {
	pool   *pgxpool.Pool
	prefix string
	size   int

	mu      sync.Mutex
	created map[entity.Kind]string
	batch   *pgx.Batch
}

// OpenPostgresTarget connects to dsn. Through a pooler such as pgbouncer
// set viaBouncer to fall back to the simple query protocol.
func OpenPostgresTarget(ctx context.Context, dsn, prefix string, maxConns int, viaBouncer bool) (*PostgresTarget, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 2
	}
	cfg.MaxConns = int32(maxConns)
	if viaBouncer {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresTarget{
		pool:    pool,
		prefix:  prefix,
		size:    defaultPGBatch,
		created: make(map[entity.Kind]string),
		batch:   &pgx.Batch{},
	}, nil
}

// Write queues row, creating the kind's table on first use.
func (t *PostgresTarget) Write(ctx context.Context, kind entity.Kind, row []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	stmt, ok := t.created[kind]
	if !ok {
		table := t.prefix + string(kind)
		if _, err := t.pool.Exec(ctx, createTableSQL(table, kind)); err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}
		stmt = insertSQL(table, kind, dollar, false)
		t.created[kind] = stmt
	}

	t.batch.Queue(stmt, rowArgs(row)...)
	if t.batch.Len() >= t.size {
		return t.flush(ctx)
	}
	return nil
}

// Flush sends the queued rows.
func (t *PostgresTarget) Flush(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flush(ctx)
}

func (t *PostgresTarget) flush(ctx context.Context) error {
	n := t.batch.Len()
	if n == 0 {
		return nil
	}
	br := t.pool.SendBatch(ctx, t.batch)
	t.batch = &pgx.Batch{}
	for range n {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres batch insert: %w", err)
		}
	}
	return br.Close()
}

// Close flushes queued rows and closes the pool.
func (t *PostgresTarget) Close() error {
	err := t.Flush(context.Background())
	t.pool.Close()
	return err
}
