// Package stream runs the subscription channels: live market data fanned out
// to a buffered channel and transaction events fed to the reconciliation
// engine.
package stream

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/mtgate/mtgate/errs"
	"github.com/mtgate/mtgate/internal/observability"
	"github.com/mtgate/mtgate/internal/schema"
	"github.com/mtgate/mtgate/internal/telemetry"
	"github.com/mtgate/mtgate/internal/transport"
)

// Applier consumes transaction events, implemented by reconcile.Engine.
type Applier interface {
	Apply(ctx context.Context, evt *schema.TransactionEvent) error
}

// MarketReader pumps live market data frames into a buffered channel. When
// the consumer lags and the buffer fills, the newest frame is dropped; live
// ticks are superseded by the next one, so blocking the reader would only
// grow the backlog.
type MarketReader struct {
	dial    transport.Dialer
	out     chan schema.MarketData
	metrics *telemetry.Metrics
	log     observability.Logger
}

// NewMarketReader builds a reader over the live channel dialer with the
// given buffer depth.
func NewMarketReader(dial transport.Dialer, buffer int, metrics *telemetry.Metrics, logger observability.Logger) *MarketReader {
	if logger == nil {
		logger = observability.Log()
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &MarketReader{
		dial:    dial,
		out:     make(chan schema.MarketData, buffer),
		metrics: metrics,
		log:     logger,
	}
}

// Data is the stream of decoded market frames. The channel stays open across
// Run restarts; consumers detect shutdown through their own context.
func (r *MarketReader) Data() <-chan schema.MarketData {
	return r.out
}

// Run dials the live channel and reads until the context is cancelled or the
// transport fails. Undecodable frames are logged and skipped; a transport
// failure is returned as a stream error so the supervisor can redial.
func (r *MarketReader) Run(ctx context.Context) error {
	ep, err := r.dial(ctx)
	if err != nil {
		return err
	}
	defer ep.Discard()

	for {
		raw, err := ep.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.metrics.StreamFailure(ctx, "live")
			return errs.New("stream", errs.CodeStream,
				errs.WithMessage("live channel failed"),
				errs.WithCause(err))
		}
		var frame schema.MarketData
		if err := json.Unmarshal(raw, &frame); err != nil {
			r.log.Warn("undecodable market frame dropped",
				observability.F("error", err))
			continue
		}
		select {
		case r.out <- frame:
		default:
			r.metrics.DroppedEvent(ctx, "market_buffer_full")
			r.log.Debug("market frame dropped, consumer lagging")
		}
	}
}

// EventReader feeds transaction events to the reconciliation engine. Decode
// and apply failures are logged and skipped so one malformed event cannot
// stall reconciliation.
type EventReader struct {
	dial    transport.Dialer
	engine  Applier
	metrics *telemetry.Metrics
	log     observability.Logger
}

// NewEventReader builds a reader over the transaction channel dialer.
func NewEventReader(dial transport.Dialer, engine Applier, metrics *telemetry.Metrics, logger observability.Logger) *EventReader {
	if logger == nil {
		logger = observability.Log()
	}
	return &EventReader{dial: dial, engine: engine, metrics: metrics, log: logger}
}

// Run dials the transaction channel and applies events until the context is
// cancelled or the transport fails.
func (r *EventReader) Run(ctx context.Context) error {
	ep, err := r.dial(ctx)
	if err != nil {
		return err
	}
	defer ep.Discard()

	for {
		raw, err := ep.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.metrics.StreamFailure(ctx, "events")
			return errs.New("stream", errs.CodeStream,
				errs.WithMessage("transaction channel failed"),
				errs.WithCause(err))
		}
		var evt schema.TransactionEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			r.metrics.DroppedEvent(ctx, "undecodable")
			r.log.Warn("undecodable transaction event dropped",
				observability.F("error", err))
			continue
		}
		if err := r.engine.Apply(ctx, &evt); err != nil {
			r.log.Warn("transaction event not applied",
				observability.F("error", err))
		}
	}
}
