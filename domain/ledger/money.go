package ledger

import (
	"campus-sync/errors"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an exact decimal amount. Balances never go through float64.
type Money = decimal.Decimal

// ParseMoney accepts the shapes a payload field can take once decoded.
func ParseMoney(v any) (Money, error) {
	switch m := v.(type) {
	case decimal.Decimal:
		return m, nil
	case string:
		d, err := decimal.NewFromString(m)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: amount %q", errors.ErrInvalidPayload, m)
		}
		return d, nil
	case json.Number:
		return ParseMoney(m.String())
	case float64:
		return decimal.NewFromFloat(m), nil
	case int:
		return decimal.NewFromInt(int64(m)), nil
	case int64:
		return decimal.NewFromInt(m), nil
	case nil:
		return decimal.Zero, fmt.Errorf("%w: missing amount", errors.ErrInvalidPayload)
	default:
		return decimal.Zero, fmt.Errorf("%w: amount of type %T", errors.ErrInvalidPayload, v)
	}
}
