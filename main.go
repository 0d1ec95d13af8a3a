package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gruis/pricebot/bot"
	"github.com/gruis/pricebot/config"
	"github.com/gruis/pricebot/fetcher"
	"github.com/gruis/pricebot/prices"
	"github.com/gruis/pricebot/runner"
	log "github.com/sirupsen/logrus"
)

const AppName = "pricebot"

func init() {
	config.AddString("token", "", "Telegram bot token")
	config.AddStringSlice("assets", []string{"BTC=bitcoin", "ETH=ethereum"}, "tracked assets as SYMBOL=provider-id, in report order")
	config.AddStringSlice("holdings", nil, "portfolio positions as SYMBOL=quantity")
	config.AddString("vs-currency", prices.DefaultCurrency, "currency prices are quoted in")
	config.AddString("api-base-url", prices.DefaultBaseURL, "price provider API base URL")
	config.AddString("api-key", "", "price provider demo API key")
	config.AddDuration("http-timeout", prices.DefaultTimeout, "timeout of a single request to the price provider")
	config.AddDuration("retry-initial-delay", fetcher.DefaultInitialDelay, "backoff delay after the first rate limited attempt")
	config.AddInt("retry-max-attempts", fetcher.DefaultMaxAttempts, "attempts made before giving up on a rate limited request")
	config.AddBool("include-change", true, "include the 24 hour change in reports")
	config.AddDuration("poll-timeout", bot.DefaultPollTimeout, "Telegram long poll timeout")
	config.AddBool("drop-pending-updates", false, "discard updates that queued up while the bot was offline")
	config.AddStringSlice("allowed-chats", nil, "chat ids the bot answers; empty answers every chat")
	config.AddString("broadcast-schedule", "", "cron spec (with seconds) for posting prices to broadcast-chat")
	config.AddInt64("broadcast-chat", 0, "chat id scheduled price reports are posted to")
}

func main() {
	if err := config.Load(AppName); err != nil {
		log.WithError(err).Fatal("cannot load configuration")
	}

	app, err := config.Decode()
	if err != nil {
		log.WithError(err).Fatal("cannot decode configuration")
	}
	app.RegisterCurrencies()
	if err := app.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	// Validate has already parsed both.
	assets, _ := app.AssetSpec()
	holdings, _ := app.Positions()

	client := prices.NewClient(
		prices.WithBaseURL(app.APIBaseURL),
		prices.WithAPIKey(app.APIKey),
		prices.WithVsCurrency(app.CurrencyCode()),
		prices.WithHTTPClient(prices.NewHTTPClient(app.HTTPTimeout)),
	)
	quoter := fetcher.New(fetcher.Fetcher{
		Source:       client,
		Currency:     app.CurrencyCode(),
		InitialDelay: app.RetryInitialDelay,
		MaxAttempts:  app.RetryMaxAttempts,
	})

	b, err := bot.New(bot.Config{
		Token:              app.Token,
		PollTimeout:        app.PollTimeout,
		Assets:             assets,
		Holdings:           holdings,
		IncludeChange:      app.IncludeChange,
		AllowedChats:       app.AllowedChats,
		DropPendingUpdates: app.DropPendingUpdates,
	}, quoter)
	if err != nil {
		log.WithError(err).Fatal("cannot start bot")
	}

	if app.BroadcastSchedule != "" {
		broadcast := runner.NewBroadcast(runner.Broadcast{
			Chat:      app.BroadcastChat,
			Quoter:    quoter,
			Publisher: b,
			Request:   fetcher.Request{Assets: assets, Holdings: holdings, IncludeChange: app.IncludeChange},
		})
		c, err := runner.Schedule(app.BroadcastSchedule, broadcast)
		if err != nil {
			log.WithError(err).Fatal("cannot schedule price broadcast")
		}
		c.Start()
		defer c.Stop()
		log.WithFields(log.Fields{
			"schedule": app.BroadcastSchedule,
			"chat":     app.BroadcastChat,
		}).Info("price broadcast scheduled")
	}

	log.WithFields(log.Fields{
		"assets":   assets.Symbols(),
		"holdings": len(holdings),
		"currency": app.CurrencyCode(),
	}).Info("starting price bot")

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		s := <-sig
		log.WithField("signal", s.String()).Warn("shutting down")
		b.Stop()
	}()

	start := time.Now()
	b.Start()
	log.WithField("uptime", time.Since(start).Round(time.Second)).Info("bye")
}
