package schema

import (
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// ID is a remote identifier assigned by the terminal. The terminal is not
// consistent about quoting numeric ids, so decoding accepts both forms.
type ID string

// UnmarshalJSON decodes a quoted or bare identifier.
func (id *ID) UnmarshalJSON(raw []byte) error {
	if len(raw) == 0 || string(raw) == "null" {
		*id = ""
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// String returns the identifier text.
func (id ID) String() string { return string(id) }

// TradeReply is the result payload for a TRADE action.
type TradeReply struct {
	Error       bool   `json:"error"`
	Order       ID     `json:"order"`
	Description string `json:"description"`
}

// BalanceReply is the result payload for a BALANCE action.
type BalanceReply struct {
	Error   bool            `json:"error"`
	Balance decimal.Decimal `json:"balance"`
	Equity  decimal.Decimal `json:"equity"`
}

// Position describes one open position reported by the terminal.
type Position struct {
	ID         ID              `json:"id"`
	Magic      int             `json:"magic"`
	Symbol     string          `json:"symbol"`
	Type       string          `json:"type"`
	TimeSetup  int64           `json:"time_setup"`
	Open       decimal.Decimal `json:"open"`
	StopLoss   decimal.Decimal `json:"stoploss"`
	TakeProfit decimal.Decimal `json:"takeprofit"`
	Volume     decimal.Decimal `json:"volume"`
}

// PositionsReply is the result payload for a POSITIONS action.
type PositionsReply struct {
	Error     bool       `json:"error"`
	Positions []Position `json:"positions"`
}

// Candle is one historical bar, transmitted as a positional array
// [time, open, high, low, close, tick_volume].
type Candle struct {
	Time   int64
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// UnmarshalJSON decodes the positional bar array. Short rows decode the
// prefix that is present; extra columns are ignored.
func (c *Candle) UnmarshalJSON(raw []byte) error {
	var row []decimal.Decimal
	if err := json.Unmarshal(raw, &row); err != nil {
		return err
	}
	if len(row) > 0 {
		c.Time = row[0].IntPart()
	}
	if len(row) > 1 {
		c.Open = row[1]
	}
	if len(row) > 2 {
		c.High = row[2]
	}
	if len(row) > 3 {
		c.Low = row[3]
	}
	if len(row) > 4 {
		c.Close = row[4]
	}
	if len(row) > 5 {
		c.Volume = row[5]
	}
	return nil
}

// HistoryReply is the result payload for a HISTORY action.
type HistoryReply struct {
	Data []Candle `json:"data"`
}

// AccountReply is the result payload for an ACCOUNT action: a flat map of
// terminal account settings plus the error flag.
type AccountReply struct {
	Error  bool
	Fields map[string]any
}

// UnmarshalJSON splits the error flag from the remaining account fields.
func (a *AccountReply) UnmarshalJSON(raw []byte) error {
	var all map[string]any
	if err := json.Unmarshal(raw, &all); err != nil {
		return err
	}
	if flag, ok := all["error"].(bool); ok {
		a.Error = flag
	}
	delete(all, "error")
	a.Fields = all
	return nil
}

// MarketData is one decoded frame from the live market-data stream.
type MarketData struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}
