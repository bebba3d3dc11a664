package schema

import "github.com/shopspring/decimal"

// TransactionRequest is the terminal's snapshot of the request that caused a
// transaction event.
type TransactionRequest struct {
	Action string `json:"action"`
	Order  ID     `json:"order"`
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// TransactionResult is the terminal's reply half of a transaction event.
type TransactionResult struct {
	Result string          `json:"result"`
	Order  ID              `json:"order"`
	Volume decimal.Decimal `json:"volume"`
	Price  decimal.Decimal `json:"price"`
}

// TransactionEvent pairs the original request echo with the applied result.
// Consumed once by the reconciliation engine.
type TransactionEvent struct {
	Request *TransactionRequest `json:"request"`
	Reply   *TransactionResult  `json:"reply"`
}

// Done reports whether the event's result code marks a completed transaction.
func (e *TransactionEvent) Done() bool {
	return e != nil && e.Reply != nil && e.Reply.Result == RetcodeDone
}
