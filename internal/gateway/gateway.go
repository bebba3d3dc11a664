// Package gateway serializes order-create and order-cancel operations
// through bounded single-consumer work queues in front of the terminal.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"github.com/mtgate/mtgate/errs"
	"github.com/mtgate/mtgate/internal/observability"
	"github.com/mtgate/mtgate/internal/orders"
	"github.com/mtgate/mtgate/internal/schema"
	"github.com/mtgate/mtgate/internal/telemetry"
)

// Terminal is the synchronous trade surface the workers drive, implemented
// by session.Session.
type Terminal interface {
	Trade(ctx context.Context, req *schema.Request) (schema.TradeReply, error)
	ClosePosition(ctx context.Context, remoteID, symbol string) error
	CancelOrder(ctx context.Context, remoteID, symbol string) error
}

// ExternalExpecter arms the reconciliation engine's single-shot
// external-fill flag after a confirmed cancel.
type ExternalExpecter interface {
	ExpectExternal()
}

// Kind is the execution type of an order.
type Kind int

// Supported order kinds.
const (
	KindMarket Kind = iota + 1
	KindLimit
	KindStop
	KindStopLimit
)

// Side is the direction of an order.
type Side int

// Supported order sides.
const (
	SideBuy Side = iota + 1
	SideSell
)

type execKey struct {
	kind Kind
	side Side
}

// orderTypeTags maps (kind, side) to the terminal order-type tag.
var orderTypeTags = map[execKey]string{
	{KindMarket, SideBuy}:     schema.OrderTypeBuy,
	{KindMarket, SideSell}:    schema.OrderTypeSell,
	{KindLimit, SideBuy}:      schema.OrderTypeBuyLimit,
	{KindLimit, SideSell}:     schema.OrderTypeSellLimit,
	{KindStop, SideBuy}:       schema.OrderTypeBuyStop,
	{KindStop, SideSell}:      schema.OrderTypeSellStop,
	{KindStopLimit, SideBuy}:  schema.OrderTypeBuyStopLimit,
	{KindStopLimit, SideSell}: schema.OrderTypeSellStopLimit,
}

// Order is a locally-owned order to be submitted to the terminal. Ref is
// the strategy runtime's reference; the terminal never sees it.
type Order struct {
	Ref    string
	Symbol string
	Kind   Kind
	Side   Side
	Size   decimal.Decimal
	// Price is the working price for pending kinds; market orders ignore it.
	Price decimal.Decimal
	// LimitPrice is the placement price once a stop-limit order triggers.
	LimitPrice decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	// Expiration bounds a pending order's lifetime; zero means good-till-cancel.
	Expiration time.Time
	Deviation  int
	Magic      int
	Comment    string
}

type createItem struct {
	stop    bool
	ref     string
	symbol  string
	typeTag string
	req     *schema.Request
}

type cancelItem struct {
	stop bool
	ref  string
}

// Config carries the gateway's collaborators and tuning.
type Config struct {
	Terminal   Terminal
	Book       *orders.Book
	Notifier   orders.Notifier
	Expecter   ExternalExpecter
	Metrics    *telemetry.Metrics
	Logger     observability.Logger
	QueueDepth int
	// Magic stamps trade requests whose order carries no magic number.
	Magic int
}

// Gateway owns the two work queues and their dedicated workers. At most one
// create and one cancel request are in flight against the terminal at any
// time; ordering is FIFO within each queue, with no ordering between them.
type Gateway struct {
	terminal Terminal
	book     *orders.Book
	notifier orders.Notifier
	expecter ExternalExpecter
	metrics  *telemetry.Metrics
	log      observability.Logger
	magic    int

	createQ   chan createItem
	cancelQ   chan cancelItem
	wg        conc.WaitGroup
	stopped   chan struct{}
	closeOnce sync.Once
}

// New starts the gateway workers.
func New(cfg Config) (*Gateway, error) {
	if cfg.Terminal == nil || cfg.Book == nil || cfg.Notifier == nil {
		return nil, errs.New("gateway", errs.CodeInvalid,
			errs.WithMessage("terminal, book and notifier are required"))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.Log()
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 32
	}
	gw := &Gateway{
		terminal: cfg.Terminal,
		book:     cfg.Book,
		notifier: cfg.Notifier,
		expecter: cfg.Expecter,
		metrics:  cfg.Metrics,
		log:      logger,
		magic:    cfg.Magic,
		createQ:  make(chan createItem, depth),
		cancelQ:  make(chan cancelItem, depth),
		stopped:  make(chan struct{}),
	}
	gw.wg.Go(gw.createWorker)
	gw.wg.Go(gw.cancelWorker)
	return gw, nil
}

// Submit validates the order, queues it for asynchronous creation and
// notifies the owner that submission has started. It never waits for the
// terminal; acceptance or rejection arrives later through the notifier.
func (g *Gateway) Submit(o Order) error {
	tag, ok := orderTypeTags[execKey{o.Kind, o.Side}]
	if !ok {
		return errs.New("gateway", errs.CodeInvalid,
			errs.WithMessage("unsupported order kind/side combination"),
			errs.WithField("ref", o.Ref))
	}
	req, err := g.buildCreateRequest(o, tag)
	if err != nil {
		return err
	}
	// Checked before the enqueue: once Close ran, both select cases below
	// are ready and an item could land behind the stop token, leaving a
	// Submitted notification that never resolves.
	select {
	case <-g.stopped:
		return errs.New("gateway", errs.CodeInvalid, errs.WithMessage("gateway stopped"))
	default:
	}
	select {
	case g.createQ <- createItem{ref: o.Ref, symbol: o.Symbol, typeTag: tag, req: req}:
	case <-g.stopped:
		return errs.New("gateway", errs.CodeInvalid, errs.WithMessage("gateway stopped"))
	}
	g.notifier.Submitted(o.Ref)
	return nil
}

func (g *Gateway) buildCreateRequest(o Order, tag string) (*schema.Request, error) {
	if !o.Size.IsPositive() {
		return nil, errs.New("gateway", errs.CodeInvalid,
			errs.WithMessage("order size must be positive"),
			errs.WithField("ref", o.Ref))
	}
	req := schema.NewRequest(schema.ActionTrade)
	req.ActionType = schema.Opt(tag)
	req.Symbol = schema.Opt(o.Symbol)
	req.Volume = schema.Opt(o.Size.Abs())

	if o.Kind != KindMarket {
		price := o.Price
		if o.Kind == KindStopLimit && !o.LimitPrice.IsZero() {
			price = o.LimitPrice
		}
		if !price.IsPositive() {
			return nil, errs.New("gateway", errs.CodeInvalid,
				errs.WithMessage("pending order requires a positive price"),
				errs.WithField("ref", o.Ref))
		}
		req.Price = schema.Opt(price)
	}

	if o.Expiration.IsZero() {
		req.Expiration = schema.Opt(int64(0))
	} else {
		req.Expiration = schema.Opt(o.Expiration.Unix())
	}
	if !o.StopLoss.IsZero() {
		req.StopLoss = schema.Opt(o.StopLoss)
	}
	if !o.TakeProfit.IsZero() {
		req.TakeProfit = schema.Opt(o.TakeProfit)
	}
	if o.Deviation > 0 {
		req.Deviation = schema.Opt(o.Deviation)
	}
	magic := o.Magic
	if magic == 0 {
		magic = g.magic
	}
	req.Magic = schema.Opt(magic)
	if o.Comment != "" {
		req.Comment = o.Comment
	}
	return req, nil
}

// Cancel queues a cancel for the local reference. When no remote id is
// mapped yet (create unacknowledged, or already settled) the cancel is
// silently dropped; callers that need stronger guarantees must wait for the
// acceptance notification before cancelling.
func (g *Gateway) Cancel(ref string) {
	select {
	case <-g.stopped:
		return
	default:
	}
	select {
	case g.cancelQ <- cancelItem{ref: ref}:
	case <-g.stopped:
	}
}

// Close pushes the stop token to both queues and waits for the workers to
// drain and exit. Items queued after Close are rejected.
func (g *Gateway) Close() {
	g.closeOnce.Do(func() {
		close(g.stopped)
		g.createQ <- createItem{stop: true}
		g.cancelQ <- cancelItem{stop: true}
	})
	g.wg.Wait()
}

func (g *Gateway) createWorker() {
	ctx := context.Background()
	for item := range g.createQ {
		if item.stop {
			return
		}
		reply, err := g.terminal.Trade(ctx, item.req)
		if err != nil {
			g.metrics.RejectedOrder(ctx)
			g.log.Error("order create failed",
				observability.F("ref", item.ref),
				observability.F("error", err))
			g.notifier.Rejected(item.ref)
			continue
		}
		if reply.Error {
			g.metrics.RejectedOrder(ctx)
			g.log.Warn("terminal rejected order",
				observability.F("ref", item.ref),
				observability.F("description", reply.Description))
			g.notifier.Rejected(item.ref)
			continue
		}
		g.book.Bind(item.ref, reply.Order.String(), item.typeTag, item.symbol)
		g.notifier.Accepted(item.ref)
		g.log.Info("order accepted",
			observability.F("ref", item.ref),
			observability.F("order", reply.Order.String()),
			observability.F("type", item.typeTag))
	}
}

func (g *Gateway) cancelWorker() {
	ctx := context.Background()
	for item := range g.cancelQ {
		if item.stop {
			return
		}
		rec, ok := g.book.Lookup(item.ref)
		if !ok {
			// No mapping: the order never reached the terminal or is
			// already settled.
			g.log.Debug("cancel for unmapped reference dropped",
				observability.F("ref", item.ref))
			continue
		}
		var err error
		if schema.IsMarketTag(rec.TypeTag) {
			err = g.terminal.ClosePosition(ctx, rec.RemoteID, rec.Symbol)
		} else {
			err = g.terminal.CancelOrder(ctx, rec.RemoteID, rec.Symbol)
		}
		if err != nil {
			g.log.Warn("order not cancelled",
				observability.F("ref", item.ref),
				observability.F("order", rec.RemoteID),
				observability.F("error", err))
			continue
		}
		if g.expecter != nil {
			g.expecter.ExpectExternal()
		}
		g.notifier.Cancelled(item.ref)
		g.book.Settle(item.ref)
		g.log.Info("order cancelled",
			observability.F("ref", item.ref),
			observability.F("order", rec.RemoteID))
	}
}
