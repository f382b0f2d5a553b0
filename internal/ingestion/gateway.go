package ingestion

import (
	"context"
	"fmt"
	"time"

	"PowerVault/internal/core"
	"PowerVault/internal/event"
	"PowerVault/internal/observability"

	"github.com/rs/zerolog"
)

// Executor applies one command. *core.Engine satisfies it.
type Executor interface {
	Execute(cmd event.Command) (*core.Receipt, error)
}

// Result is what the engine returned for a submission.
type Result struct {
	Receipt *core.Receipt
	Err     error
}

type submission struct {
	cmd      event.Command
	received time.Time
	reply    chan Result // nil for fire-and-forget
}

// CommandGateway funnels commands from every surface (NATS, HTTP) into a
// single goroutine that drives the engine, so commands are applied in the
// order they were accepted. With a clock, every command is stamped with
// the chain head when it is dequeued; the block a client sent is discarded.
type CommandGateway struct {
	queue   chan submission
	clock   BlockSource
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewCommandGateway(size int, clock BlockSource, metrics *observability.Metrics, logger zerolog.Logger) *CommandGateway {
	return &CommandGateway{
		queue:   make(chan submission, size),
		clock:   clock,
		metrics: metrics,
		log:     logger,
	}
}

// Submit enqueues cmd and waits for the engine's answer.
func (g *CommandGateway) Submit(ctx context.Context, cmd event.Command) (*core.Receipt, error) {
	reply := make(chan Result, 1)
	select {
	case g.queue <- submission{cmd: cmd, received: time.Now(), reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-reply:
		return res.Receipt, res.Err
	case <-ctx.Done():
		// the command is queued and will still be applied
		return nil, ctx.Err()
	}
}

// Enqueue hands cmd to the loop without waiting for the result. It blocks
// while the queue is full, which is how NATS consumers feel backpressure.
func (g *CommandGateway) Enqueue(ctx context.Context, cmd event.Command, received time.Time) error {
	select {
	case g.queue <- submission{cmd: cmd, received: received}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue into exec until ctx is cancelled.
func (g *CommandGateway) Run(ctx context.Context, exec Executor) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub := <-g.queue:
			if g.metrics != nil {
				g.metrics.SetChannelMetrics("commands", len(g.queue))
			}

			var receipt *core.Receipt
			err := g.stamp(sub.cmd)
			if err == nil {
				receipt, err = exec.Execute(sub.cmd)
			}
			name := sub.cmd.CommandType().String()
			if err != nil {
				g.log.Warn().
					Err(err).
					Str("op", name).
					Str("reason", core.Reason(err)).
					Uint64("vault_id", event.VaultOf(sub.cmd)).
					Str("key", sub.cmd.IdempotencyKey()).
					Msg("command rejected")
			} else if g.metrics != nil && !sub.received.IsZero() {
				g.metrics.IngestToApply.WithLabelValues(name).Observe(time.Since(sub.received).Seconds())
			}

			if sub.reply != nil {
				sub.reply <- Result{Receipt: receipt, Err: err}
			}
		}
	}
}

func (g *CommandGateway) stamp(cmd event.Command) error {
	if g.clock == nil {
		return nil
	}
	head, ok := g.clock.Head()
	if !ok {
		return ErrNoChainHead
	}
	st, ok := cmd.(event.Stamper)
	if !ok {
		return fmt.Errorf("%w: %s cannot carry a block", ErrMalformed, cmd.CommandType())
	}
	st.Stamp(head)
	return nil
}
