package prices

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Quote is a spot price for one asset as reported by the quote provider.
type Quote struct {
	Symbol string
	ID     string
	Price  decimal.Decimal
	// Change24h is the 24 hour change in percent; nil when it was not requested
	// or the provider did not report it.
	Change24h  *decimal.Decimal
	ReceivedAt time.Time
}

// Money converts the quote's price to the given currency's minor units.
func (q Quote) Money(currency string) (*money.Money, error) {
	return MoneyFor(q.Price, currency)
}

func (q Quote) String() string {
	s := fmt.Sprintf("%s: %s", q.Symbol, Format(q.Price, DefaultCurrency))
	if q.Change24h != nil {
		s += fmt.Sprintf(" (%s)", FormatChange(*q.Change24h))
	}
	return s
}

const DefaultCurrency = "USD"

var AmountOutOfRange = errors.New("amount does not fit in the currency's minor units")

var (
	maxMinorUnits = decimal.NewFromInt(math.MaxInt64)
	minMinorUnits = decimal.NewFromInt(math.MinInt64)
)

// MoneyFor rounds v to the currency's precision. Unknown currency codes are
// treated as having two decimal places.
func MoneyFor(v decimal.Decimal, currency string) (*money.Money, error) {
	currency = strings.ToUpper(currency)
	minor := v.Shift(int32(fraction(currency))).Round(0)
	if minor.GreaterThan(maxMinorUnits) || minor.LessThan(minMinorUnits) {
		return nil, fmt.Errorf("%w: %s %s", AmountOutOfRange, v, currency)
	}
	return money.New(minor.IntPart(), currency), nil
}

// Format displays v like go-money does, e.g. "$1,234.56". Amounts go-money
// cannot hold are shown with the currency code instead: "USD 1,234.56".
func Format(v decimal.Decimal, currency string) string {
	if m, err := MoneyFor(v, currency); err == nil {
		return m.Display()
	}
	currency = strings.ToUpper(currency)
	return currency + " " + groupThousands(v.StringFixed(int32(fraction(currency))))
}

func fraction(currency string) int {
	if c := money.GetCurrency(currency); c != nil {
		return c.Fraction
	}
	return 2
}

// groupThousands inserts "," between groups of three integer digits.
func groupThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	var sb strings.Builder
	for i, d := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(d)
	}
	return sign + sb.String() + frac
}

// FormatChange renders a percentage with an explicit sign and two decimal
// places, e.g. "+1.23%" or "-0.50%".
func FormatChange(v decimal.Decimal) string {
	r := v.Round(2)
	if r.Sign() >= 0 {
		return "+" + r.StringFixed(2) + "%"
	}
	return r.StringFixed(2) + "%"
}
