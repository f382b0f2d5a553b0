package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"PowerVault/internal/core"
	"PowerVault/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// StreamPublisher is the slice of jetstream.JetStream the publisher needs.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes committed commands on vault.events.<Type>
// for downstream consumers. Publishing happens after the persistence
// worker has the output; a failure only costs the notification, consumers
// can always read the event log.
type OutboundPublisher struct {
	js        StreamPublisher
	inputChan <-chan PublishableEvent
	breaker   *gobreaker.CircuitBreaker
	metrics   *observability.Metrics
	log       zerolog.Logger
}

// PublishableEvent is the outbound notification for one committed command.
type PublishableEvent struct {
	Sequence       int64     `json:"sequence"`
	CommandType    string    `json:"command_type"`
	IdempotencyKey string    `json:"idempotency_key"`
	Caller         string    `json:"caller"`
	VaultID        uint64    `json:"vault_id,omitempty"`
	BlockNumber    uint64    `json:"block_number"`
	BlockTime      int64     `json:"block_time"`
	Journals       int       `json:"journals"`
	Factor         string    `json:"normalization_factor,omitempty"`
	StateHash      string    `json:"state_hash"`
	PublishedAt    time.Time `json:"published_at"`
}

// NewPublishableEvent summarizes a committed output.
func NewPublishableEvent(out core.CoreOutput) PublishableEvent {
	env := out.Envelope
	evt := PublishableEvent{
		Sequence:       env.Sequence,
		CommandType:    env.CommandType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Caller:         env.Caller.Hex(),
		VaultID:        env.VaultID,
		BlockNumber:    env.Block.Number,
		BlockTime:      env.Block.Time,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
	}
	if out.Batch != nil {
		evt.Journals = len(out.Batch.Journals)
	}
	if out.Funding != nil && out.Funding.Factor != nil {
		evt.Factor = out.Funding.Factor.String()
	}
	return evt
}

// BreakerSettings trips after consecutive failures and retries after
// the open timeout.
type BreakerSettings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second}
}

func NewOutboundPublisher(
	js StreamPublisher,
	inputChan <-chan PublishableEvent,
	bs BreakerSettings,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *OutboundPublisher {
	op := &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		log:       logger,
	}

	st := gobreaker.Settings{Name: "nats_publish", Timeout: bs.OpenTimeout}
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= bs.ConsecutiveFailures
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("breaker state change")
		if metrics != nil {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	op.breaker = gobreaker.NewCircuitBreaker(st)
	return op
}

// Run publishes until the input closes or ctx is cancelled.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.Publish(ctx, evt); err != nil {
				if op.metrics != nil {
					op.metrics.PublishDrops.Inc()
				}
				op.log.Warn().Err(err).Int64("sequence", evt.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

// Publish sends one event through the breaker. While the breaker is open
// it fails fast with gobreaker.ErrOpenState.
func (op *OutboundPublisher) Publish(ctx context.Context, evt PublishableEvent) error {
	evt.PublishedAt = time.Now().UTC()
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := EventSubjectPrefix + evt.CommandType
	_, err = op.breaker.Execute(func() (interface{}, error) {
		return op.js.Publish(ctx, subject, data, jetstream.WithMsgID(fmt.Sprintf("%d", evt.Sequence)))
	})
	return err
}
