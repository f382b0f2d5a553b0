package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"PowerVault/internal/observability"

	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The engine sends on this channel with a blocking send, so a slow worker
// stalls the engine instead of losing a committed command.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *EventLogWriter
	inputChan    <-chan Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &PersistenceWorker{
		db:           db,
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          logger,
	}
}

// pendingBatch accumulates outputs until the next flush. Vault and system
// rows are collapsed to the newest version per key.
type pendingBatch struct {
	events   []EventRow
	journals []JournalRow
	vaults   map[int64]VaultRow
	system   *SystemRow
	funding  *FundingRow
}

func newPendingBatch(size int) *pendingBatch {
	return &pendingBatch{
		events:   make([]EventRow, 0, size),
		journals: make([]JournalRow, 0, size*4),
		vaults:   make(map[int64]VaultRow),
	}
}

func (b *pendingBatch) add(o Output) {
	b.events = append(b.events, o.Event)
	b.journals = append(b.journals, o.Journals...)
	for _, v := range o.Vaults {
		if cur, ok := b.vaults[v.VaultID]; !ok || cur.Version < v.Version {
			b.vaults[v.VaultID] = v
		}
	}
	if o.System != nil {
		b.system = o.System
	}
	if o.Funding != nil {
		b.funding = o.Funding
	}
}

func (b *pendingBatch) len() int { return len(b.events) }

func (b *pendingBatch) reset() {
	b.events = b.events[:0]
	b.journals = b.journals[:0]
	b.vaults = make(map[int64]VaultRow)
	b.system = nil
	b.funding = nil
}

func (b *pendingBatch) vaultRows() []VaultRow {
	rows := make([]VaultRow, 0, len(b.vaults))
	for _, v := range b.vaults {
		rows = append(rows, v)
	}
	return rows
}

// Run batches incoming outputs and flushes when the batch is full or the
// flush timeout expires. It returns when ctx is cancelled or the input
// channel closes, flushing whatever is pending first.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := newPendingBatch(pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if batch.len() > 0 {
				if err := pw.flush(context.Background(), batch); err != nil {
					pw.log.Error().Err(err).Int("events", batch.len()).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				if batch.len() > 0 {
					if err := pw.flush(context.Background(), batch); err != nil {
						pw.log.Error().Err(err).Int("events", batch.len()).Msg("final flush failed")
					}
				}
				return nil
			}

			batch.add(output)
			if pw.metrics != nil {
				pw.metrics.SetChannelMetrics("persist", len(pw.inputChan))
			}

			if batch.len() >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.log.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch.reset()
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if batch.len() > 0 {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.log.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch.reset()
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled. On cancellation it makes one last attempt with a
// background context.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, batch *pendingBatch) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", batch.len()).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := pw.flush(context.Background(), batch); err != nil {
					return fmt.Errorf("final flush on shutdown: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				pw.log.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return nil
		}
		pw.log.Warn().Err(err).Msg("persistence flush failed")

		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

// flush writes one batch in a single transaction.
func (pw *PersistenceWorker) flush(ctx context.Context, batch *pendingBatch) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, batch.events); err != nil {
		pw.countError("write_events")
		return err
	}
	if err := pw.writer.WriteJournalBatch(ctx, tx, batch.journals); err != nil {
		pw.countError("write_journals")
		return err
	}
	if err := pw.writer.UpsertVaults(ctx, tx, batch.vaultRows()); err != nil {
		pw.countError("upsert_vaults")
		return err
	}
	if batch.system != nil {
		if err := pw.writer.UpsertSystemState(ctx, tx, *batch.system); err != nil {
			pw.countError("upsert_system")
			return err
		}
	}
	if batch.funding != nil {
		if err := pw.writer.UpdateFunding(ctx, tx, *batch.funding); err != nil {
			pw.countError("update_funding")
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistEventsWritten.Add(float64(len(batch.events)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(batch.journals)))
		pw.metrics.PersistLastSequence.Set(float64(batch.events[len(batch.events)-1].Sequence))
	}
	return nil
}

func (pw *PersistenceWorker) countError(stage string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}
