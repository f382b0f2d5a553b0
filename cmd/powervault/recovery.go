package main

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"PowerVault/internal/core"
	"PowerVault/internal/event"
	"PowerVault/internal/ingestion"
	"PowerVault/internal/observability"
	"PowerVault/internal/persistence"

	"github.com/rs/zerolog"
)

const replayBatchSize = 1000

type eventSource interface {
	LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]persistence.EventRow, error)
}

type tickSource interface {
	LoadSince(ctx context.Context, pool string, ts int64) ([]persistence.PriceTick, error)
}

type executor interface {
	Execute(cmd event.Command) (*core.Receipt, error)
}

type tickReloader interface {
	Reload(ticks []persistence.PriceTick) (int, error)
}

// loadTicks returns every stored observation of the given pools since
// genesis, merged into one timestamp-ordered stream.
func loadTicks(ctx context.Context, src tickSource, since int64, pools ...string) ([]persistence.PriceTick, error) {
	var all []persistence.PriceTick
	for _, pool := range pools {
		ticks, err := src.LoadSince(ctx, pool, since)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", pool, err)
		}
		all = append(all, ticks...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp < all[j].Timestamp })
	return all, nil
}

// replayEventLog re-executes logged commands from fromSequence. Before each
// command, the price ticks observed up to its block time are fed to the
// pools so the TWAPs match what the command originally saw. The ticks
// left over after the last command are applied at the end.
func replayEventLog(
	ctx context.Context,
	src eventSource,
	engine executor,
	prices tickReloader,
	ticks []persistence.PriceTick,
	fromSequence int64,
	logger zerolog.Logger,
) (int64, error) {
	var replayed int64
	next := 0

	feedUntil := func(ts int64) error {
		end := next
		for end < len(ticks) && ticks[end].Timestamp <= ts {
			end++
		}
		if end == next {
			return nil
		}
		_, err := prices.Reload(ticks[next:end])
		next = end
		return err
	}

	for {
		rows, err := src.LoadEventsFrom(ctx, fromSequence, replayBatchSize)
		if err != nil {
			return replayed, fmt.Errorf("load events from %d: %w", fromSequence, err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			if err := feedUntil(row.BlockTime); err != nil {
				return replayed, fmt.Errorf("reload ticks before %d: %w", row.Sequence, err)
			}

			ct := event.ParseCommandType(row.CommandType)
			cmd, err := event.DecodePayload(ct, row.Payload)
			if err != nil {
				return replayed, fmt.Errorf("decode %s at %d: %w", row.CommandType, row.Sequence, err)
			}

			receipt, err := engine.Execute(cmd)
			if err != nil {
				logger.Error().Err(err).Int64("sequence", row.Sequence).Str("op", row.CommandType).
					Msg("logged command rejected on replay")
			} else if !receipt.Duplicate && !bytes.Equal(receipt.StateHash[:], row.StateHash) {
				logger.Error().Int64("sequence", row.Sequence).
					Hex("logged", row.StateHash).Hex("replayed", receipt.StateHash[:]).
					Msg("state hash diverged on replay")
			}
			replayed++
		}
		fromSequence = rows[len(rows)-1].Sequence + 1
	}

	if next < len(ticks) {
		if _, err := prices.Reload(ticks[next:]); err != nil {
			return replayed, fmt.Errorf("reload trailing ticks: %w", err)
		}
	}
	return replayed, nil
}

// runPeriodicSnapshots snapshots whenever interval commands have been
// applied since the last one.
func runPeriodicSnapshots(
	ctx context.Context,
	engine *core.Engine,
	snapMgr *persistence.SnapshotManager,
	interval int64,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) {
	if interval <= 0 {
		interval = 100_000
	}

	last := engine.GetSequence()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := engine.GetSequence()
			if current-last < interval {
				continue
			}
			seq, err := takeSnapshot(ctx, engine, snapMgr, metrics)
			if err != nil {
				logger.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			last = current
			logger.Info().Int64("sequence", seq).Msg("periodic snapshot")
		}
	}
}

// takeSnapshot captures and persists the engine state, returning its
// sequence. A snapshot built from live state is marked verified at once.
func takeSnapshot(
	ctx context.Context,
	engine *core.Engine,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
) (int64, error) {
	start := time.Now()

	data := persistence.NewSnapshotData(engine.CreateSnapshotState(), time.Now().UTC())
	if data.Sequence <= 0 {
		return 0, fmt.Errorf("nothing to snapshot yet")
	}
	if err := snapMgr.SaveSnapshot(ctx, data); err != nil {
		return 0, err
	}
	if err := snapMgr.MarkVerified(ctx, data.Sequence); err != nil {
		return 0, fmt.Errorf("mark snapshot %d verified: %w", data.Sequence, err)
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		metrics.SnapshotLastSeq.Set(float64(data.Sequence))
	}
	return data.Sequence, nil
}

var _ tickReloader = (*ingestion.PriceApplier)(nil)
