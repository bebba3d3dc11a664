package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtgate/mtgate/errs"
	"github.com/mtgate/mtgate/internal/orders"
	"github.com/mtgate/mtgate/internal/schema"
)

// stubTerminal records trade calls and replays canned outcomes.
type stubTerminal struct {
	mu        sync.Mutex
	trades    []*schema.Request
	closed    []string
	cancelled []string

	tradeReply schema.TradeReply
	tradeErr   error
	cancelErr  error
}

func (s *stubTerminal) Trade(_ context.Context, req *schema.Request) (schema.TradeReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, req)
	return s.tradeReply, s.tradeErr
}

func (s *stubTerminal) ClosePosition(_ context.Context, remoteID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, remoteID)
	return s.cancelErr
}

func (s *stubTerminal) CancelOrder(_ context.Context, remoteID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, remoteID)
	return s.cancelErr
}

func (s *stubTerminal) tradeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trades)
}

// chanNotifier forwards lifecycle callbacks to a channel so tests can wait
// for the asynchronous workers.
type chanNotifier struct {
	events chan string
}

func newChanNotifier() *chanNotifier {
	return &chanNotifier{events: make(chan string, 16)}
}

func (n *chanNotifier) Submitted(ref string) { n.events <- "submitted:" + ref }
func (n *chanNotifier) Accepted(ref string)  { n.events <- "accepted:" + ref }
func (n *chanNotifier) Rejected(ref string)  { n.events <- "rejected:" + ref }
func (n *chanNotifier) Cancelled(ref string) { n.events <- "cancelled:" + ref }

func (n *chanNotifier) Filled(ref string, _, _ float64, _ string) { n.events <- "filled:" + ref }
func (n *chanNotifier) ExternalFill(symbol string, _, _ float64)  { n.events <- "external:" + symbol }

func (n *chanNotifier) wait(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-n.events:
		if got != want {
			t.Fatalf("expected notification %q, got %q", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

type stubExpecter struct {
	mu    sync.Mutex
	armed int
}

func (s *stubExpecter) ExpectExternal() {
	s.mu.Lock()
	s.armed++
	s.mu.Unlock()
}

func (s *stubExpecter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

func newTestGateway(t *testing.T, terminal *stubTerminal) (*Gateway, *orders.Book, *chanNotifier, *stubExpecter) {
	t.Helper()
	book := orders.NewBook(0)
	notifier := newChanNotifier()
	expecter := new(stubExpecter)
	gw, err := New(Config{
		Terminal: terminal,
		Book:     book,
		Notifier: notifier,
		Expecter: expecter,
		Magic:    1234,
	})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	t.Cleanup(gw.Close)
	return gw, book, notifier, expecter
}

func TestSubmitMarketOrderAcceptedAndBound(t *testing.T) {
	terminal := &stubTerminal{tradeReply: schema.TradeReply{Order: "42"}}
	gw, book, notifier, _ := newTestGateway(t, terminal)

	err := gw.Submit(Order{
		Ref:    "ref-1",
		Symbol: "EURUSD",
		Kind:   KindMarket,
		Side:   SideBuy,
		Size:   decimal.RequireFromString("1.0"),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	notifier.wait(t, "submitted:ref-1")
	notifier.wait(t, "accepted:ref-1")

	rec, ok := book.Lookup("ref-1")
	if !ok {
		t.Fatalf("order not bound")
	}
	if rec.RemoteID != "42" || rec.TypeTag != schema.OrderTypeBuy || rec.Symbol != "EURUSD" {
		t.Fatalf("unexpected record %+v", rec)
	}

	req := terminal.trades[0]
	if *req.ActionType != schema.OrderTypeBuy {
		t.Fatalf("unexpected actionType %q", *req.ActionType)
	}
	if req.Price != nil {
		t.Fatalf("market order must not carry a price, got %v", *req.Price)
	}
	if *req.Expiration != 0 {
		t.Fatalf("default expiration must be 0, got %d", *req.Expiration)
	}
	if *req.Magic != 1234 {
		t.Fatalf("default magic not applied, got %d", *req.Magic)
	}
}

func TestSubmitPendingOrderCarriesPriceAndExpiration(t *testing.T) {
	terminal := &stubTerminal{tradeReply: schema.TradeReply{Order: "55"}}
	gw, _, notifier, _ := newTestGateway(t, terminal)

	valid := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	err := gw.Submit(Order{
		Ref:        "ref-p",
		Symbol:     "EURUSD",
		Kind:       KindLimit,
		Side:       SideSell,
		Size:       decimal.RequireFromString("0.5"),
		Price:      decimal.RequireFromString("1.1050"),
		Expiration: valid,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	notifier.wait(t, "submitted:ref-p")
	notifier.wait(t, "accepted:ref-p")

	req := terminal.trades[0]
	if *req.ActionType != schema.OrderTypeSellLimit {
		t.Fatalf("unexpected actionType %q", *req.ActionType)
	}
	if !req.Price.Equal(decimal.RequireFromString("1.1050")) {
		t.Fatalf("unexpected price %v", *req.Price)
	}
	if *req.Expiration != valid.Unix() {
		t.Fatalf("unexpected expiration %d", *req.Expiration)
	}
}

func TestStopLimitUsesLimitPrice(t *testing.T) {
	terminal := &stubTerminal{tradeReply: schema.TradeReply{Order: "56"}}
	gw, _, notifier, _ := newTestGateway(t, terminal)

	err := gw.Submit(Order{
		Ref:        "ref-sl",
		Symbol:     "EURUSD",
		Kind:       KindStopLimit,
		Side:       SideBuy,
		Size:       decimal.RequireFromString("0.5"),
		Price:      decimal.RequireFromString("1.2000"),
		LimitPrice: decimal.RequireFromString("1.1990"),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	notifier.wait(t, "submitted:ref-sl")
	notifier.wait(t, "accepted:ref-sl")

	req := terminal.trades[0]
	if !req.Price.Equal(decimal.RequireFromString("1.1990")) {
		t.Fatalf("stop-limit must send the limit price, got %v", *req.Price)
	}
}

func TestTerminalRejectionNotifiesRejected(t *testing.T) {
	terminal := &stubTerminal{tradeReply: schema.TradeReply{Error: true, Description: "not enough money"}}
	gw, book, notifier, _ := newTestGateway(t, terminal)

	if err := gw.Submit(Order{
		Ref:    "ref-r",
		Symbol: "EURUSD",
		Kind:   KindMarket,
		Side:   SideBuy,
		Size:   decimal.RequireFromString("100"),
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	notifier.wait(t, "submitted:ref-r")
	notifier.wait(t, "rejected:ref-r")

	if _, ok := book.Lookup("ref-r"); ok {
		t.Fatalf("rejected order must not be bound")
	}
}

func TestTransportFailureNotifiesRejected(t *testing.T) {
	terminal := &stubTerminal{tradeErr: errs.New("transport", errs.CodeRemoteUnavailable)}
	gw, _, notifier, _ := newTestGateway(t, terminal)

	if err := gw.Submit(Order{
		Ref:    "ref-t",
		Symbol: "EURUSD",
		Kind:   KindMarket,
		Side:   SideBuy,
		Size:   decimal.RequireFromString("1"),
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	notifier.wait(t, "submitted:ref-t")
	notifier.wait(t, "rejected:ref-t")
}

func TestUnsupportedKindSideIsInvalid(t *testing.T) {
	gw, _, _, _ := newTestGateway(t, new(stubTerminal))

	err := gw.Submit(Order{Ref: "ref-x", Kind: 0, Side: SideBuy, Size: decimal.RequireFromString("1")})
	if !errs.IsCode(err, errs.CodeInvalid) {
		t.Fatalf("expected invalid_request, got %v", err)
	}
}

func TestPendingOrderRequiresPrice(t *testing.T) {
	gw, _, _, _ := newTestGateway(t, new(stubTerminal))

	err := gw.Submit(Order{
		Ref:  "ref-np",
		Kind: KindLimit,
		Side: SideBuy,
		Size: decimal.RequireFromString("1"),
	})
	if !errs.IsCode(err, errs.CodeInvalid) {
		t.Fatalf("expected invalid_request, got %v", err)
	}
}

func TestCancelUnmappedReferenceIsSilentNoOp(t *testing.T) {
	terminal := new(stubTerminal)
	gw, _, _, expecter := newTestGateway(t, terminal)

	gw.Cancel("never-submitted")
	gw.Close()

	if len(terminal.closed) != 0 || len(terminal.cancelled) != 0 {
		t.Fatalf("unmapped cancel must not reach the terminal")
	}
	if expecter.count() != 0 {
		t.Fatalf("unmapped cancel must not arm the external flag")
	}
}

func TestCancelMarketOrderClosesPosition(t *testing.T) {
	terminal := new(stubTerminal)
	gw, book, notifier, expecter := newTestGateway(t, terminal)
	book.Bind("ref-m", "42", schema.OrderTypeBuy, "EURUSD")

	gw.Cancel("ref-m")
	notifier.wait(t, "cancelled:ref-m")

	if len(terminal.closed) != 1 || terminal.closed[0] != "42" {
		t.Fatalf("expected position close for 42, got %v", terminal.closed)
	}
	if len(terminal.cancelled) != 0 {
		t.Fatalf("market order cancel must not use order cancel")
	}
	if expecter.count() != 1 {
		t.Fatalf("cancel must arm the external flag once, got %d", expecter.count())
	}
	// Settled records stay resolvable during the grace period so late
	// transaction events still find them.
	if _, ok := book.Lookup("ref-m"); !ok {
		t.Fatalf("settled record should remain visible")
	}
}

func TestCancelPendingOrderUsesOrderCancel(t *testing.T) {
	terminal := new(stubTerminal)
	gw, book, notifier, _ := newTestGateway(t, terminal)
	book.Bind("ref-p", "55", schema.OrderTypeBuyLimit, "EURUSD")

	gw.Cancel("ref-p")
	notifier.wait(t, "cancelled:ref-p")

	if len(terminal.cancelled) != 1 || terminal.cancelled[0] != "55" {
		t.Fatalf("expected order cancel for 55, got %v", terminal.cancelled)
	}
}

func TestCancelFailureKeepsMapping(t *testing.T) {
	terminal := &stubTerminal{cancelErr: errs.New("session", errs.CodeExchange)}
	gw, book, _, expecter := newTestGateway(t, terminal)
	book.Bind("ref-f", "77", schema.OrderTypeBuyLimit, "EURUSD")

	gw.Cancel("ref-f")
	gw.Close()

	if expecter.count() != 0 {
		t.Fatalf("failed cancel must not arm the external flag")
	}
	if _, ok := book.Resolve("77"); !ok {
		t.Fatalf("failed cancel must keep the mapping")
	}
}

func TestSubmitAfterCloseIsRejected(t *testing.T) {
	terminal := new(stubTerminal)
	gw, _, notifier, _ := newTestGateway(t, terminal)
	gw.Close()

	err := gw.Submit(Order{Ref: "late", Kind: KindMarket, Side: SideBuy, Size: decimal.RequireFromString("1")})
	if !errs.IsCode(err, errs.CodeInvalid) {
		t.Fatalf("expected invalid_request after close, got %v", err)
	}
	// The submit must fail before notifying: a Submitted with no eventual
	// Accepted or Rejected would strand the order owner.
	select {
	case got := <-notifier.events:
		t.Fatalf("unexpected notification %q after close", got)
	default:
	}
	if terminal.tradeCount() != 0 {
		t.Fatalf("no trade may reach the terminal after close")
	}

	gw.Cancel("late")
	if len(terminal.closed) != 0 || len(terminal.cancelled) != 0 {
		t.Fatalf("no cancel may reach the terminal after close")
	}
}
