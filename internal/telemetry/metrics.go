// Package telemetry records bridge-level counters against the OpenTelemetry
// global meter. Exporter wiring is the embedding process's concern; without
// an installed SDK the instruments are no-ops.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/mtgate/mtgate"

// Metrics bundles the counter instruments emitted by the bridge.
type Metrics struct {
	commands       metric.Int64Counter
	retries        metric.Int64Counter
	reconnects     metric.Int64Counter
	malformed      metric.Int64Counter
	unavailable    metric.Int64Counter
	fills          metric.Int64Counter
	externalFills  metric.Int64Counter
	droppedEvents  metric.Int64Counter
	rejectedOrders metric.Int64Counter
	streamFailures metric.Int64Counter
	evictedRecords metric.Int64Counter
}

// New constructs the bridge instrument set on the global meter provider.
func New() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := new(Metrics)
	var err error
	if m.commands, err = meter.Int64Counter("mtgate.commands",
		metric.WithDescription("Commands sent on the command channel")); err != nil {
		return nil, err
	}
	if m.retries, err = meter.Int64Counter("mtgate.command_retries",
		metric.WithDescription("Command retry attempts after handshake timeout")); err != nil {
		return nil, err
	}
	if m.reconnects, err = meter.Int64Counter("mtgate.command_reconnects",
		metric.WithDescription("Command endpoints discarded and redialed")); err != nil {
		return nil, err
	}
	if m.malformed, err = meter.Int64Counter("mtgate.malformed_replies",
		metric.WithDescription("Non-acknowledgement replies observed on the command channel")); err != nil {
		return nil, err
	}
	if m.unavailable, err = meter.Int64Counter("mtgate.remote_unavailable",
		metric.WithDescription("Commands abandoned after exhausting the retry budget")); err != nil {
		return nil, err
	}
	if m.fills, err = meter.Int64Counter("mtgate.fills",
		metric.WithDescription("Fill notifications delivered to the order owner")); err != nil {
		return nil, err
	}
	if m.externalFills, err = meter.Int64Counter("mtgate.external_fills",
		metric.WithDescription("Fills attributed to external terminal activity")); err != nil {
		return nil, err
	}
	if m.droppedEvents, err = meter.Int64Counter("mtgate.dropped_events",
		metric.WithDescription("Transaction events dropped without a notification")); err != nil {
		return nil, err
	}
	if m.rejectedOrders, err = meter.Int64Counter("mtgate.rejected_orders",
		metric.WithDescription("Order submissions rejected by the terminal or transport")); err != nil {
		return nil, err
	}
	if m.streamFailures, err = meter.Int64Counter("mtgate.stream_failures",
		metric.WithDescription("Fatal failures on streaming channels")); err != nil {
		return nil, err
	}
	if m.evictedRecords, err = meter.Int64Counter("mtgate.evicted_records",
		metric.WithDescription("Settled order records evicted from the book")); err != nil {
		return nil, err
	}
	return m, nil
}

// Command records a command send on the command channel.
func (m *Metrics) Command(ctx context.Context, action string) {
	if m == nil {
		return
	}
	m.commands.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

// Retry records a retry attempt.
func (m *Metrics) Retry(ctx context.Context) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1)
}

// Reconnect records a discarded and redialed command endpoint.
func (m *Metrics) Reconnect(ctx context.Context) {
	if m == nil {
		return
	}
	m.reconnects.Add(ctx, 1)
}

// MalformedReply records a non-acknowledgement reply on the command channel.
func (m *Metrics) MalformedReply(ctx context.Context) {
	if m == nil {
		return
	}
	m.malformed.Add(ctx, 1)
}

// RemoteUnavailable records an abandoned command.
func (m *Metrics) RemoteUnavailable(ctx context.Context) {
	if m == nil {
		return
	}
	m.unavailable.Add(ctx, 1)
}

// Fill records a delivered fill notification.
func (m *Metrics) Fill(ctx context.Context, symbol string) {
	if m == nil {
		return
	}
	m.fills.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", symbol)))
}

// ExternalFill records a fill attributed to external terminal activity.
func (m *Metrics) ExternalFill(ctx context.Context, symbol string) {
	if m == nil {
		return
	}
	m.externalFills.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", symbol)))
}

// DroppedEvent records a transaction event dropped without a notification.
func (m *Metrics) DroppedEvent(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.droppedEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RejectedOrder records a rejected order submission.
func (m *Metrics) RejectedOrder(ctx context.Context) {
	if m == nil {
		return
	}
	m.rejectedOrders.Add(ctx, 1)
}

// StreamFailure records a fatal streaming-channel failure.
func (m *Metrics) StreamFailure(ctx context.Context, channel string) {
	if m == nil {
		return
	}
	m.streamFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", channel)))
}

// EvictedRecords records settled order records removed from the book.
func (m *Metrics) EvictedRecords(ctx context.Context, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.evictedRecords.Add(ctx, n)
}
