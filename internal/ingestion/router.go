package ingestion

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
)

// Router decodes raw NATS messages and routes them: commands to the
// gateway queue, price ticks to the oracle pools.
//
// Commands are ACKed once they are in the gateway queue, not after the
// engine applies them, so AckWait never expires behind a slow engine and
// a full queue pushes back on the consumer. Malformed messages are ACKed
// and dropped; redelivery would not fix them.
type Router struct {
	gateway *CommandGateway
	prices  *PriceApplier
	log     zerolog.Logger
}

func NewRouter(gateway *CommandGateway, prices *PriceApplier, logger zerolog.Logger) *Router {
	return &Router{gateway: gateway, prices: prices, log: logger}
}

func (r *Router) Run(ctx context.Context, rawChan <-chan RawMessage) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-rawChan:
			if !ok {
				return nil
			}
			r.handle(ctx, raw)
		}
	}
}

func (r *Router) handle(ctx context.Context, raw RawMessage) {
	switch {
	case strings.HasPrefix(raw.Subject, CommandSubjectPrefix):
		ct, ok := CommandTypeFromSubject(raw.Subject)
		if !ok {
			r.log.Warn().Str("subject", raw.Subject).Msg("unknown command subject")
			ack(raw)
			return
		}
		cmd, err := ParseCommand(ct.String(), raw.Data)
		if err != nil {
			r.log.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed command")
			ack(raw)
			return
		}
		if err := r.gateway.Enqueue(ctx, cmd, raw.Timestamp); err != nil {
			nak(raw)
			return
		}
		ack(raw)

	case strings.HasPrefix(raw.Subject, PriceSubjectPrefix):
		u, err := ParsePriceUpdate(raw.Subject, raw.Data)
		if err != nil {
			r.log.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed price update")
			ack(raw)
			return
		}
		if r.prices == nil {
			ack(raw)
			return
		}
		if err := r.prices.Apply(ctx, u); err != nil {
			if errors.Is(err, ErrMalformed) {
				r.log.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping price update")
				ack(raw)
				return
			}
			r.log.Error().Err(err).Str("pool", u.Pool).Int64("ts", u.Timestamp).Msg("price update failed")
			nak(raw)
			return
		}
		ack(raw)

	default:
		r.log.Warn().Str("subject", raw.Subject).Msg("unrouted subject")
		ack(raw)
	}
}

func ack(raw RawMessage) {
	if raw.AckFunc != nil {
		raw.AckFunc()
	}
}

func nak(raw RawMessage) {
	if raw.NakFunc != nil {
		raw.NakFunc()
	}
}
