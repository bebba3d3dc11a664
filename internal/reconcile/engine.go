// Package reconcile applies asynchronous terminal transaction events to the
// order book, routing fills to the order owner and classifying activity no
// local order explains.
package reconcile

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mtgate/mtgate/errs"
	"github.com/mtgate/mtgate/internal/observability"
	"github.com/mtgate/mtgate/internal/orders"
	"github.com/mtgate/mtgate/internal/schema"
	"github.com/mtgate/mtgate/internal/telemetry"
)

// Engine owns the remote-id → local-reference reconciliation state machine.
type Engine struct {
	book     *orders.Book
	notifier orders.Notifier
	metrics  *telemetry.Metrics
	log      observability.Logger

	mu          sync.RWMutex
	instruments map[string]struct{}

	// Single-shot flag armed by the cancel path: the next successful
	// unmapped transaction is attributed to that cancel rather than to
	// unrelated external activity. Symbol-name matching cannot
	// disambiguate concurrent external events on the same instrument;
	// that is a documented limitation, not a defect to fix here.
	expectExternal atomic.Bool
}

// New constructs an engine over the shared order book.
func New(book *orders.Book, notifier orders.Notifier, metrics *telemetry.Metrics, logger observability.Logger) *Engine {
	if logger == nil {
		logger = observability.Log()
	}
	return &Engine{
		book:        book,
		notifier:    notifier,
		metrics:     metrics,
		log:         logger,
		instruments: make(map[string]struct{}),
	}
}

// Track registers an instrument whose external activity the engine may
// attribute. Untracked symbols never produce external-fill notifications.
func (e *Engine) Track(symbol string) {
	e.mu.Lock()
	e.instruments[symbol] = struct{}{}
	e.mu.Unlock()
}

func (e *Engine) tracked(symbol string) bool {
	e.mu.RLock()
	_, ok := e.instruments[symbol]
	e.mu.RUnlock()
	return ok
}

// ExpectExternal arms the single-shot external-fill flag. Called by the
// cancel path after the terminal confirmed a close or cancel, since the
// resulting transaction event arrives without a mapped remote id.
func (e *Engine) ExpectExternal() {
	e.expectExternal.Store(true)
}

// Apply routes one transaction event. Deal and pending-order actions are
// reconciled against the book; modify/remove/SLTP/close-by actions are
// deliberately informational no-ops. Events missing either half are a
// protocol error; the caller logs and drops them.
func (e *Engine) Apply(ctx context.Context, evt *schema.TransactionEvent) error {
	if evt == nil || evt.Request == nil || evt.Reply == nil {
		return errs.New("reconcile", errs.CodeProtocol,
			errs.WithMessage("transaction event missing request or reply"))
	}

	switch evt.Request.Action {
	case schema.TradeActionDeal, schema.TradeActionPending:
		// reconciled below
	case schema.TradeActionSLTP, schema.TradeActionModify, schema.TradeActionRemove, schema.TradeActionCloseBy:
		e.metrics.DroppedEvent(ctx, "informational")
		e.log.Debug("informational transaction, not reconciled",
			observability.F("action", evt.Request.Action))
		return nil
	default:
		e.metrics.DroppedEvent(ctx, "unknown_action")
		return nil
	}

	remoteID := evt.Request.Order.String()
	if ref, ok := e.book.Resolve(remoteID); ok {
		e.applyLocal(ctx, ref, evt)
		return nil
	}
	e.applyExternal(ctx, evt)
	return nil
}

func (e *Engine) applyLocal(ctx context.Context, ref string, evt *schema.TransactionEvent) {
	if !evt.Done() {
		e.metrics.DroppedEvent(ctx, "result_not_done")
		e.log.Debug("transaction without done retcode",
			observability.F("ref", ref),
			observability.F("result", evt.Reply.Result))
		return
	}
	size, price := fillTerms(evt)
	e.notifier.Filled(ref, size, price, evt.Request.Type)
	e.book.Settle(ref)
	e.metrics.Fill(ctx, evt.Request.Symbol)
	e.log.Info("fill reconciled",
		observability.F("ref", ref),
		observability.F("size", size),
		observability.F("price", price),
		observability.F("reason", evt.Request.Type))
}

func (e *Engine) applyExternal(ctx context.Context, evt *schema.TransactionEvent) {
	if !evt.Done() {
		e.metrics.DroppedEvent(ctx, "unmapped")
		return
	}
	if !e.expectExternal.CompareAndSwap(true, false) {
		e.metrics.DroppedEvent(ctx, "unmapped")
		e.log.Debug("transaction from unknown order, dropping",
			observability.F("order", evt.Request.Order.String()),
			observability.F("symbol", evt.Request.Symbol))
		return
	}
	symbol := evt.Request.Symbol
	if !e.tracked(symbol) {
		e.metrics.DroppedEvent(ctx, "untracked_symbol")
		e.log.Warn("external transaction on untracked instrument",
			observability.F("symbol", symbol))
		return
	}
	size, price := fillTerms(evt)
	e.notifier.ExternalFill(symbol, size, price)
	e.metrics.ExternalFill(ctx, symbol)
	e.log.Info("external fill attributed",
		observability.F("symbol", symbol),
		observability.F("size", size),
		observability.F("price", price))
}

// fillTerms computes the signed fill size and price from the reply. The
// request's type field carries the side: a sell marker negates the size.
func fillTerms(evt *schema.TransactionEvent) (float64, float64) {
	size := evt.Reply.Volume.InexactFloat64()
	if schema.IsSellTag(evt.Request.Type) {
		size = -size
	}
	return size, evt.Reply.Price.InexactFloat64()
}
