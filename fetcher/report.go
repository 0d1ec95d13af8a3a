package fetcher

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/gruis/pricebot/prices"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Outcome is the terminal state of a fetch.
type Outcome int

const (
	Success Outcome = iota
	RateLimitExhausted
	HTTPFailed
	NetworkFailed
	ParseFailed
	InvalidRequest
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case RateLimitExhausted:
		return "rate-limit-exhausted"
	case HTTPFailed:
		return "http-failed"
	case NetworkFailed:
		return "network-failed"
	case ParseFailed:
		return "parse-failed"
	case InvalidRequest:
		return "invalid-request"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

const (
	Unavailable = "price not available"

	invalidRequestText = "No assets are configured to report on."
	networkFailedText  = "Could not reach the price service. Please check the connection and try again later."
	parseFailedText    = "The price service sent a response that could not be understood. Please try again later."
)

// Report is the formatted result of a fetch, ready to be sent to a chat.
type Report struct {
	Outcome Outcome
	Text    string
	// Quotes holds the prices that were available, in configuration order.
	Quotes   []prices.Quote
	Attempts int
	// Total is the value of the holdings; nil when no holdings were given,
	// none of them had a price or the total is out of range.
	Total *money.Money
}

func (r Report) String() string {
	return r.Text
}

func failureReport(outcome Outcome, err error, attempts int) Report {
	r := Report{Outcome: outcome, Attempts: attempts}
	var httpErr *prices.HTTPError
	switch outcome {
	case RateLimitExhausted:
		r.Text = fmt.Sprintf("The price service is still rate limiting requests after %d attempts. Please try again in a minute.", attempts)
	case HTTPFailed:
		status := 0
		if errors.As(err, &httpErr) {
			status = httpErr.StatusCode
		}
		r.Text = fmt.Sprintf("The price service returned an error (HTTP %d). Please try again later.", status)
	case ParseFailed:
		r.Text = parseFailedText
	default:
		r.Text = networkFailedText
	}
	return r
}

// report renders one line per configured asset in configuration order,
// followed by the holdings total when holdings were requested.
func (f *Fetcher) report(req Request, quotes map[string]prices.Quote, attempts int) Report {
	r := Report{Outcome: Success, Attempts: attempts}
	lines := make([]string, 0, len(req.Assets)+1)
	priced := make(map[string]decimal.Decimal, len(req.Assets))

	for _, a := range req.Assets {
		q, ok := quotes[a.ID]
		if !ok {
			lines = append(lines, fmt.Sprintf("%s: %s", a.Symbol, Unavailable))
			continue
		}
		q.Symbol = a.Symbol
		r.Quotes = append(r.Quotes, q)
		priced[strings.ToUpper(a.Symbol)] = q.Price

		line := fmt.Sprintf("%s: %s", a.Symbol, prices.Format(q.Price, f.Currency))
		if req.IncludeChange && q.Change24h != nil {
			line += fmt.Sprintf(" (%s)", prices.FormatChange(*q.Change24h))
		}
		lines = append(lines, line)
	}

	if len(req.Holdings) > 0 {
		v := req.Holdings.Value(priced)
		if len(v.Matched) == 0 {
			lines = append(lines, "Total: not available (none of the holdings has a price)")
		} else {
			total, err := prices.MoneyFor(v.Total, f.Currency)
			if err != nil {
				log.WithError(err).Warn("holdings total is out of range for go-money")
			}
			r.Total = total
			lines = append(lines, "Total: "+prices.Format(v.Total, f.Currency))
		}
	}

	r.Text = strings.Join(lines, "\n")
	return r
}
