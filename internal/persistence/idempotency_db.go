package persistence

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"time"

	"PowerVault/internal/core"
)

// PostgresIdempotencyChecker is the durable dedup tier: a command is a
// duplicate if its (command_type, idempotency_key) is already in the log.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
	// suspended during replay: the log being replayed would otherwise mark
	// every replayed command as a duplicate of itself
	suspended atomic.Bool
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

// Suspend disables the lookup until Resume.
func (pic *PostgresIdempotencyChecker) Suspend() { pic.suspended.Store(true) }

func (pic *PostgresIdempotencyChecker) Resume() { pic.suspended.Store(false) }

// IsDuplicate implements core.DBIdempotencyChecker.
func (pic *PostgresIdempotencyChecker) IsDuplicate(commandType string, idempotencyKey string) (bool, error) {
	if pic.suspended.Load() {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), pic.timeout)
	defer cancel()

	var exists int
	err := pic.db.QueryRowContext(ctx, `
		SELECT 1
		FROM event_log.events
		WHERE command_type = $1 AND idempotency_key = $2
		LIMIT 1
	`, commandType, idempotencyKey).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentKeys returns the newest limit dedup keys in LRU form, oldest
// first, for warming the in-memory tier on a cold start.
func (pic *PostgresIdempotencyChecker) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := pic.db.QueryContext(ctx, `
		SELECT command_type, idempotency_key
		FROM event_log.events
		ORDER BY sequence DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var ct, key string
		if err := rows.Scan(&ct, &key); err != nil {
			return nil, err
		}
		keys = append(keys, core.CompositeKey(ct, key))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return keys, nil
}
