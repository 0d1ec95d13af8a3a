package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/gruis/pricebot/ledger"
	"github.com/gruis/pricebot/prices"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultInitialDelay = 2 * time.Second
	DefaultMaxAttempts  = 5
)

// Source is the quote provider a Fetcher reads from.
//
//go:generate mockgen -package=fetcher_test -destination=mock_source_test.go -source=fetcher.go Source
type Source interface {
	SimplePrice(ctx context.Context, ids []string, includeChange bool) (map[string]prices.Quote, error)
}

// Retry describes a pending retry after a rate limited attempt.
type Retry struct {
	// Attempt is the number of the attempt that was rate limited, starting at 1.
	Attempt     int
	MaxAttempts int
	Delay       time.Duration
}

// RetryNotifier is called synchronously before each backoff sleep.
type RetryNotifier func(Retry)

type Request struct {
	Assets   prices.AssetSpec
	Holdings ledger.Holdings
	// IncludeChange asks the provider for the 24 hour change of every asset.
	IncludeChange bool
	Notify        RetryNotifier
}

// Fetcher builds price reports for an AssetSpec. It holds no per-request
// state, so one Fetcher can serve any number of concurrent requests.
type Fetcher struct {
	Source Source
	// Currency is the go-money currency code prices are displayed in.
	Currency     string
	InitialDelay time.Duration
	MaxAttempts  int
	// Sleep waits out a backoff delay. It must return early with an error
	// when ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

func New(f Fetcher) *Fetcher {
	if f.Currency == "" {
		f.Currency = prices.DefaultCurrency
	}
	if f.InitialDelay <= 0 {
		f.InitialDelay = DefaultInitialDelay
	}
	if f.MaxAttempts <= 0 {
		f.MaxAttempts = DefaultMaxAttempts
	}
	if f.Sleep == nil {
		f.Sleep = sleep
	}
	return &f
}

type state int

const (
	attempting state = iota
	backingOff
	finished
)

// retryState lives for a single Fetch call.
type retryState struct {
	attempt int
	delay   time.Duration
}

// Fetch retrieves prices for every asset in req with a single batched
// request and formats them into a report. Rate limited requests are retried
// with exponential backoff. Fetch never fails: every failure is described by
// the returned report.
func (f *Fetcher) Fetch(ctx context.Context, req Request) Report {
	logger := log.WithFields(log.Fields{
		"assets":   req.Assets.Symbols(),
		"holdings": len(req.Holdings),
	})
	if err := req.Assets.Validate(); err != nil {
		logger.WithError(err).Warn("refusing to fetch quotes for invalid asset spec")
		return Report{Outcome: InvalidRequest, Text: invalidRequestText}
	}

	ids := req.Assets.IDs()
	var (
		st      = attempting
		rs      retryState
		outcome Outcome
		quotes  map[string]prices.Quote
		err     error
	)
	for st != finished {
		switch st {
		case attempting:
			rs.attempt++
			quotes, err = f.Source.SimplePrice(ctx, ids, req.IncludeChange)
			st, outcome = f.afterAttempt(rs, err)

		case backingOff:
			rs.delay = f.backoff(rs.attempt)
			logger.WithFields(log.Fields{
				"attempt": rs.attempt,
				"delay":   rs.delay,
			}).Info("quote provider rate limited, backing off")
			if req.Notify != nil {
				req.Notify(Retry{Attempt: rs.attempt, MaxAttempts: f.MaxAttempts, Delay: rs.delay})
			}
			if err = f.Sleep(ctx, rs.delay); err != nil {
				st, outcome = finished, NetworkFailed
				continue
			}
			st = attempting
		}
	}

	logger = logger.WithFields(log.Fields{"attempts": rs.attempt, "outcome": outcome})
	if outcome != Success {
		logger.WithError(err).Warn("quote fetch failed")
		return failureReport(outcome, err, rs.attempt)
	}
	logger.Debug("quote fetch succeeded")
	return f.report(req, quotes, rs.attempt)
}

// afterAttempt decides where an attempt that ended with err leads.
func (f *Fetcher) afterAttempt(rs retryState, err error) (state, Outcome) {
	var httpErr *prices.HTTPError
	switch {
	case err == nil:
		return finished, Success
	case errors.Is(err, prices.RateLimited):
		if rs.attempt < f.MaxAttempts {
			return backingOff, RateLimitExhausted
		}
		return finished, RateLimitExhausted
	case errors.As(err, &httpErr):
		return finished, HTTPFailed
	case errors.Is(err, prices.MalformedResponse):
		return finished, ParseFailed
	default:
		return finished, NetworkFailed
	}
}

// backoff returns InitialDelay * 2^(attempt-1): 2s, 4s, 8s, 16s with the
// defaults.
func (f *Fetcher) backoff(attempt int) time.Duration {
	return f.InitialDelay << (attempt - 1)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
