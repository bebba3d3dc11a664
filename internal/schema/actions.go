// Package schema defines the wire shapes exchanged with the trading terminal.
package schema

import "strings"

// AckToken is the literal handshake acknowledgement returned on the command
// channel when the terminal accepts a request.
const AckToken = "OK"

// Command actions understood by the terminal.
const (
	ActionTrade     = "TRADE"
	ActionBalance   = "BALANCE"
	ActionAccount   = "ACCOUNT"
	ActionPositions = "POSITIONS"
	ActionHistory   = "HISTORY"

	// ActionTypeData requests historical candle data.
	ActionTypeData = "DATA"
	// ActionTypePositionCloseID closes an open position by remote id.
	ActionTypePositionCloseID = "POSITION_CLOSE_ID"
	// ActionTypeOrderCancel cancels a pending order by remote id.
	ActionTypeOrderCancel = "ORDER_CANCEL"
)

// Transaction actions reported on the event stream.
const (
	TradeActionDeal    = "TRADE_ACTION_DEAL"
	TradeActionPending = "TRADE_ACTION_PENDING"
	TradeActionSLTP    = "TRADE_ACTION_SLTP"
	TradeActionModify  = "TRADE_ACTION_MODIFY"
	TradeActionRemove  = "TRADE_ACTION_REMOVE"
	TradeActionCloseBy = "TRADE_ACTION_CLOSE_BY"
)

// RetcodeDone marks a transaction the terminal applied successfully.
const RetcodeDone = "TRADE_RETCODE_DONE"

// Terminal order-type tags.
const (
	OrderTypeBuy           = "ORDER_TYPE_BUY"
	OrderTypeSell          = "ORDER_TYPE_SELL"
	OrderTypeBuyLimit      = "ORDER_TYPE_BUY_LIMIT"
	OrderTypeSellLimit     = "ORDER_TYPE_SELL_LIMIT"
	OrderTypeBuyStop       = "ORDER_TYPE_BUY_STOP"
	OrderTypeSellStop      = "ORDER_TYPE_SELL_STOP"
	OrderTypeBuyStopLimit  = "ORDER_TYPE_BUY_STOP_LIMIT"
	OrderTypeSellStopLimit = "ORDER_TYPE_SELL_STOP_LIMIT"
)

const sellSuffix = "_SELL"

// IsMarketTag reports whether the order-type tag designates a market order,
// i.e. one that opens a position rather than a pending order.
func IsMarketTag(tag string) bool {
	return tag == OrderTypeBuy || tag == OrderTypeSell
}

// IsSellTag reports whether the order-type tag carries the sell marker.
// Fill sizes for such tags are negated.
func IsSellTag(tag string) bool {
	return strings.HasSuffix(tag, sellSuffix)
}
