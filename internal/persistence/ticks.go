package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// PriceTick is one pool observation as it arrived from the feed.
type PriceTick struct {
	Pool      string
	Timestamp int64
	Tick      int32
}

// PriceTickStore keeps the raw feed so the in-memory oracle pools can be
// rebuilt before a replay.
type PriceTickStore struct {
	db *sql.DB
}

func NewPriceTickStore(db *sql.DB) *PriceTickStore {
	return &PriceTickStore{db: db}
}

func (s *PriceTickStore) Save(ctx context.Context, t PriceTick) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_log.price_ticks (pool, ts, tick)
		VALUES ($1, $2, $3)
		ON CONFLICT (pool, ts) DO UPDATE SET tick = EXCLUDED.tick
	`, t.Pool, t.Timestamp, t.Tick)
	if err != nil {
		return fmt.Errorf("insert price tick: %w", err)
	}
	return nil
}

// LoadSince returns the ticks of pool at or after ts, oldest first.
func (s *PriceTickStore) LoadSince(ctx context.Context, pool string, ts int64) ([]PriceTick, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pool, ts, tick FROM event_log.price_ticks
		WHERE pool = $1 AND ts >= $2
		ORDER BY ts ASC
	`, pool, ts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ticks []PriceTick
	for rows.Next() {
		var t PriceTick
		if err := rows.Scan(&t.Pool, &t.Timestamp, &t.Tick); err != nil {
			return nil, err
		}
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}
