package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger stores totals in a Postgres table. The increment is a
// single upsert, so atomicity comes from the database rather than an
// in-process lock.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger connects to the given database URL and ensures the
// usage table exists.
func NewPostgresLedger(ctx context.Context, url string) (*PostgresLedger, error) {
	if url == "" {
		return nil, errors.New("ledger: postgres url is not set")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("ledger: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS usage_records (
			user_id TEXT NOT NULL,
			assistant_id TEXT NOT NULL,
			total_tokens BIGINT NOT NULL DEFAULT 0 CHECK (total_tokens >= 0),
			PRIMARY KEY (user_id, assistant_id)
		)
	`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ledger: create table: %w", err)
	}
	return &PostgresLedger{pool: pool}, nil
}

var _ Ledger = (*PostgresLedger)(nil)

func (l *PostgresLedger) Add(ctx context.Context, userID, assistantID string, tokens int64) error {
	if tokens < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeTokens, tokens)
	}
	_, err := l.pool.Exec(ctx, `
		INSERT INTO usage_records (user_id, assistant_id, total_tokens)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, assistant_id)
		DO UPDATE SET total_tokens = usage_records.total_tokens + EXCLUDED.total_tokens
	`, userID, assistantID, tokens)
	if err != nil {
		return fmt.Errorf("ledger: add: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Get(ctx context.Context, userID, assistantID string) (int64, error) {
	var total int64
	err := l.pool.QueryRow(ctx,
		"SELECT total_tokens FROM usage_records WHERE user_id = $1 AND assistant_id = $2",
		userID, assistantID,
	).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: get: %w", err)
	}
	return total, nil
}

func (l *PostgresLedger) GetAll(ctx context.Context, userID string) (map[string]int64, error) {
	rows, err := l.pool.Query(ctx,
		"SELECT assistant_id, total_tokens FROM usage_records WHERE user_id = $1",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: get all: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var assistantID string
		var total int64
		if err := rows.Scan(&assistantID, &total); err != nil {
			return nil, fmt.Errorf("ledger: scan: %w", err)
		}
		out[assistantID] = total
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("ledger: get all: %w", rows.Err())
	}
	return out, nil
}

func (l *PostgresLedger) Close() error {
	l.pool.Close()
	return nil
}
