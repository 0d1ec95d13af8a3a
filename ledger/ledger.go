package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var NegativeQuantity = errors.New("holding quantity cannot be negative")
var DuplicatePosition = errors.New("holding symbol listed more than once")
var MalformedPosition = errors.New("holding must be written as SYMBOL=quantity")

// Position is a quantity of a single asset held by the user.
type Position struct {
	Symbol   string
	Quantity decimal.Decimal
}

func (p Position) String() string {
	return p.Symbol + "=" + p.Quantity.String()
}

type Holdings []Position

// ParseHoldings reads "SYMBOL=quantity" entries; like asset specs, an entry
// may carry several comma separated positions.
func ParseHoldings(entries ...string) (Holdings, error) {
	var h Holdings
	for _, entry := range entries {
		for _, pair := range strings.Split(entry, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			symbol, qty, ok := strings.Cut(pair, "=")
			symbol = strings.ToUpper(strings.TrimSpace(symbol))
			if !ok || symbol == "" {
				return nil, fmt.Errorf("%w: %q", MalformedPosition, pair)
			}
			q, err := decimal.NewFromString(strings.TrimSpace(qty))
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", MalformedPosition, pair, err)
			}
			h = append(h, Position{Symbol: symbol, Quantity: q})
		}
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h Holdings) Validate() error {
	seen := map[string]bool{}
	for _, p := range h {
		if p.Quantity.IsNegative() {
			return fmt.Errorf("%w: %s", NegativeQuantity, p)
		}
		key := strings.ToUpper(p.Symbol)
		if seen[key] {
			return fmt.Errorf("%w: %s", DuplicatePosition, p.Symbol)
		}
		seen[key] = true
	}
	return nil
}

// Valuation is the result of pricing a set of holdings.
type Valuation struct {
	Total decimal.Decimal
	// Matched lists the symbols that contributed to Total.
	Matched []string
	// Skipped lists the symbols that had no price.
	Skipped []string
}

// Value sums quantity * price over every position whose symbol has a price.
// Positions without a price contribute nothing and are reported in Skipped.
func (h Holdings) Value(prices map[string]decimal.Decimal) Valuation {
	v := Valuation{Total: decimal.Zero}
	for _, p := range h {
		price, ok := prices[strings.ToUpper(p.Symbol)]
		if !ok {
			log.WithFields(log.Fields{
				"symbol":   p.Symbol,
				"quantity": p.Quantity.String(),
			}).Warn("no price for holding, excluded from total")
			v.Skipped = append(v.Skipped, p.Symbol)
			continue
		}
		v.Total = v.Total.Add(p.Quantity.Mul(price))
		v.Matched = append(v.Matched, p.Symbol)
	}
	return v
}
