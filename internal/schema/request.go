package schema

import (
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/mtgate/mtgate/errs"
)

// Request is the fixed-schema command sent to the terminal. Every wire key is
// always emitted; unset fields serialize as null, matching the terminal's
// full-dictionary request form. Requests are immutable once handed to the
// client.
type Request struct {
	Action     *string          `json:"action"`
	ActionType *string          `json:"actionType"`
	Symbol     *string          `json:"symbol"`
	ChartTF    *string          `json:"chartTF"`
	FromDate   *int64           `json:"fromDate"`
	ToDate     *int64           `json:"toDate"`
	ID         *string          `json:"id"`
	Magic      *int             `json:"magic"`
	Volume     *decimal.Decimal `json:"volume"`
	Price      *decimal.Decimal `json:"price"`
	StopLoss   *decimal.Decimal `json:"stoploss"`
	TakeProfit *decimal.Decimal `json:"takeprofit"`
	Expiration *int64           `json:"expiration"`
	Deviation  *int             `json:"deviation"`
	Comment    any              `json:"comment"`
}

// Opt returns a pointer to v, for populating optional request fields.
func Opt[T any](v T) *T {
	return &v
}

// NewRequest constructs a request for the given action.
func NewRequest(action string) *Request {
	return &Request{Action: Opt(action)}
}

// Marshal serializes the request to its wire form.
func (r *Request) Marshal() ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, errs.New("schema", errs.CodeInvalid,
			errs.WithMessage("marshal request"), errs.WithCause(err))
	}
	return raw, nil
}

// ActionName returns the request action, or an empty string when unset.
func (r *Request) ActionName() string {
	if r == nil || r.Action == nil {
		return ""
	}
	return *r.Action
}

// FromFields builds a request from a loose field map, rejecting unknown keys
// and values that do not fit the wire schema.
func FromFields(fields map[string]any) (*Request, error) {
	req := new(Request)
	for key, value := range fields {
		if value == nil {
			continue
		}
		var err error
		switch key {
		case "action":
			req.Action, err = toStr(key, value)
		case "actionType":
			req.ActionType, err = toStr(key, value)
		case "symbol":
			req.Symbol, err = toStr(key, value)
		case "chartTF":
			req.ChartTF, err = toStr(key, value)
		case "fromDate":
			req.FromDate, err = toInt64(key, value)
		case "toDate":
			req.ToDate, err = toInt64(key, value)
		case "id":
			req.ID, err = toStr(key, value)
		case "magic":
			req.Magic, err = toInt(key, value)
		case "volume":
			req.Volume, err = toDecimal(key, value)
		case "price":
			req.Price, err = toDecimal(key, value)
		case "stoploss":
			req.StopLoss, err = toDecimal(key, value)
		case "takeprofit":
			req.TakeProfit, err = toDecimal(key, value)
		case "expiration":
			req.Expiration, err = toInt64(key, value)
		case "deviation":
			req.Deviation, err = toInt(key, value)
		case "comment":
			req.Comment = value
		default:
			return nil, errs.New("schema", errs.CodeInvalid,
				errs.WithMessage("unknown request field"), errs.WithField("field", key))
		}
		if err != nil {
			return nil, err
		}
	}
	if req.Action == nil {
		return nil, errs.New("schema", errs.CodeInvalid, errs.WithMessage("request action is required"))
	}
	return req, nil
}

func toStr(key string, value any) (*string, error) {
	s, ok := value.(string)
	if !ok {
		return nil, badField(key, value)
	}
	return Opt(s), nil
}

func toInt(key string, value any) (*int, error) {
	switch v := value.(type) {
	case int:
		return Opt(v), nil
	case int64:
		return Opt(int(v)), nil
	case float64:
		return Opt(int(v)), nil
	default:
		return nil, badField(key, value)
	}
}

func toInt64(key string, value any) (*int64, error) {
	switch v := value.(type) {
	case int:
		return Opt(int64(v)), nil
	case int64:
		return Opt(v), nil
	case float64:
		return Opt(int64(v)), nil
	default:
		return nil, badField(key, value)
	}
}

func toDecimal(key string, value any) (*decimal.Decimal, error) {
	switch v := value.(type) {
	case decimal.Decimal:
		return Opt(v), nil
	case float64:
		return Opt(decimal.NewFromFloat(v)), nil
	case int:
		return Opt(decimal.NewFromInt(int64(v))), nil
	case int64:
		return Opt(decimal.NewFromInt(v)), nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, badField(key, value)
		}
		return Opt(d), nil
	default:
		return nil, badField(key, value)
	}
}

func badField(key string, value any) *errs.E {
	return errs.New("schema", errs.CodeInvalid,
		errs.WithMessage("request field has unsupported type"),
		errs.WithField("field", key),
		errs.WithField("value", describe(value)))
}

func describe(value any) string {
	raw, err := json.Marshal(value)
	if err != nil {
		return "?"
	}
	return string(raw)
}
