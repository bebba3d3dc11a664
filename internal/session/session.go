// Package session exposes the terminal's synchronous operations on top of
// the reliable request client.
package session

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/mtgate/mtgate/errs"
	"github.com/mtgate/mtgate/internal/observability"
	"github.com/mtgate/mtgate/internal/schema"
)

// Caller is the command/result surface of the reliable request client.
type Caller interface {
	Call(ctx context.Context, req *schema.Request) error
	PullReply(ctx context.Context) ([]byte, error)
}

// Session drives terminal queries and trade actions over one client.
type Session struct {
	client Caller
	log    observability.Logger
}

// New constructs a session over the given client.
func New(client Caller, logger observability.Logger) *Session {
	if logger == nil {
		logger = observability.Log()
	}
	return &Session{client: client, log: logger}
}

// Exchange performs the full command round-trip: handshake on the command
// channel, then the result payload from the result channel, decoded into
// out. A result-channel timeout is reported as a timeout error here: the
// caller asked for a payload that never came.
func (s *Session) Exchange(ctx context.Context, req *schema.Request, out any) error {
	if err := s.client.Call(ctx, req); err != nil {
		return err
	}
	raw, err := s.client.PullReply(ctx)
	if err != nil {
		return err
	}
	if raw == nil {
		return errs.New("session", errs.CodeTimeout,
			errs.WithMessage("no result payload for acknowledged command"),
			errs.WithField("action", req.ActionName()))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errs.New("session", errs.CodeProtocol,
			errs.WithMessage("decode result payload"),
			errs.WithField("action", req.ActionName()),
			errs.WithCause(err))
	}
	return nil
}

// Balance fetches the account balance and equity.
func (s *Session) Balance(ctx context.Context) (schema.BalanceReply, error) {
	var reply schema.BalanceReply
	if err := s.Exchange(ctx, schema.NewRequest(schema.ActionBalance), &reply); err != nil {
		return schema.BalanceReply{}, err
	}
	if reply.Error {
		return schema.BalanceReply{}, errs.New("session", errs.CodeExchange,
			errs.WithMessage("terminal rejected balance query"))
	}
	return reply, nil
}

// Positions fetches the open positions.
func (s *Session) Positions(ctx context.Context) ([]schema.Position, error) {
	var reply schema.PositionsReply
	if err := s.Exchange(ctx, schema.NewRequest(schema.ActionPositions), &reply); err != nil {
		return nil, err
	}
	if reply.Error {
		return nil, errs.New("session", errs.CodeExchange,
			errs.WithMessage("terminal rejected positions query"))
	}
	s.log.Debug("open positions fetched", observability.F("count", len(reply.Positions)))
	return reply.Positions, nil
}

// Account fetches the terminal account settings.
func (s *Session) Account(ctx context.Context) (map[string]any, error) {
	var reply schema.AccountReply
	if err := s.Exchange(ctx, schema.NewRequest(schema.ActionAccount), &reply); err != nil {
		return nil, err
	}
	if reply.Error {
		return nil, errs.New("session", errs.CodeExchange,
			errs.WithMessage("terminal rejected account query"))
	}
	return reply.Fields, nil
}

// Candles downloads historical bars for the symbol over the given range.
// The terminal's final bar is still forming; it is trimmed unless
// includeLast is set.
func (s *Session) Candles(ctx context.Context, symbol string, tf schema.Timeframe, compression int, from, to time.Time, includeLast bool) ([]schema.Candle, error) {
	chartTF, err := schema.Granularity(tf, compression)
	if err != nil {
		return nil, err
	}
	req := schema.NewRequest(schema.ActionHistory)
	req.ActionType = schema.Opt(schema.ActionTypeData)
	req.Symbol = schema.Opt(symbol)
	req.ChartTF = schema.Opt(chartTF)
	if !from.IsZero() {
		req.FromDate = schema.Opt(from.Unix())
	}
	if !to.IsZero() {
		req.ToDate = schema.Opt(to.Unix())
	}

	var reply schema.HistoryReply
	if err := s.Exchange(ctx, req, &reply); err != nil {
		return nil, err
	}
	bars := reply.Data
	if !includeLast && len(bars) > 0 {
		bars = bars[:len(bars)-1]
	}
	s.log.Debug("history fetched",
		observability.F("symbol", symbol),
		observability.F("chartTF", chartTF),
		observability.F("bars", len(bars)))
	return bars, nil
}

// Trade submits a trade request and returns the terminal's result.
func (s *Session) Trade(ctx context.Context, req *schema.Request) (schema.TradeReply, error) {
	var reply schema.TradeReply
	if err := s.Exchange(ctx, req, &reply); err != nil {
		return schema.TradeReply{}, err
	}
	return reply, nil
}

// ClosePosition closes the open position with the given remote id. Market
// orders hold positions, so cancelling one means closing the position.
func (s *Session) ClosePosition(ctx context.Context, remoteID, symbol string) error {
	return s.tradeAction(ctx, schema.ActionTypePositionCloseID, remoteID, symbol)
}

// CancelOrder cancels the pending order with the given remote id.
func (s *Session) CancelOrder(ctx context.Context, remoteID, symbol string) error {
	return s.tradeAction(ctx, schema.ActionTypeOrderCancel, remoteID, symbol)
}

func (s *Session) tradeAction(ctx context.Context, actionType, remoteID, symbol string) error {
	req := schema.NewRequest(schema.ActionTrade)
	req.ActionType = schema.Opt(actionType)
	req.Symbol = schema.Opt(symbol)
	req.ID = schema.Opt(remoteID)

	reply, err := s.Trade(ctx, req)
	if err != nil {
		return err
	}
	if reply.Error {
		return errs.New("session", errs.CodeExchange,
			errs.WithMessage(reply.Description),
			errs.WithField("actionType", actionType),
			errs.WithField("id", remoteID))
	}
	return nil
}
