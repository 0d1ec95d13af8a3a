package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gruis/pricebot/fetcher"
	"github.com/gruis/pricebot/ledger"
	"github.com/gruis/pricebot/prices"
	log "github.com/sirupsen/logrus"
	tele "gopkg.in/telebot.v3"
	"gopkg.in/telebot.v3/middleware"
)

const DefaultPollTimeout = 10 * time.Second

// GenericFailure is sent when a command fails in a way the handler did not
// report itself.
const GenericFailure = "Sorry, something went wrong while handling your command. Please try again."

// Quoter produces price reports.
type Quoter interface {
	Fetch(ctx context.Context, req fetcher.Request) fetcher.Report
}

type Config struct {
	Token         string
	PollTimeout   time.Duration
	Assets        prices.AssetSpec
	Holdings      ledger.Holdings
	IncludeChange bool
	// AllowedChats restricts the bot to these chats; empty allows everyone.
	AllowedChats []int64
	// DropPendingUpdates removes any webhook and discards updates that queued
	// up while the bot was offline.
	DropPendingUpdates bool
	// URL is the Bot API server; empty means api.telegram.org.
	URL string
	// Offline skips contacting Telegram on creation.
	Offline bool
}

type Bot struct {
	api    *tele.Bot
	quoter Quoter
	cfg    Config
}

var commands = []tele.Command{
	{Text: "price", Description: "Current prices, optionally for the given symbols"},
	{Text: "portfolio", Description: "Prices and the total value of the configured holdings"},
	{Text: "help", Description: "List the commands and tracked assets"},
}

func New(cfg Config, quoter Quoter) (*Bot, error) {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	bot := &Bot{quoter: quoter, cfg: cfg}

	api, err := tele.NewBot(tele.Settings{
		URL:     cfg.URL,
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout},
		OnError: bot.onError,
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}

	bot.api = api
	bot.register()
	return bot, nil
}

func (b *Bot) register() {
	b.api.Use(b.logRequests, middleware.Recover(b.onError))
	if len(b.cfg.AllowedChats) > 0 {
		b.api.Use(middleware.Whitelist(b.cfg.AllowedChats...))
	}

	b.api.Handle("/start", b.handleHelp)
	b.api.Handle("/help", b.handleHelp)
	b.api.Handle("/price", b.handlePrice)
	b.api.Handle("/portfolio", b.handlePortfolio)
}

// Start blocks, polling Telegram for updates until Stop is called.
func (b *Bot) Start() {
	if b.cfg.DropPendingUpdates {
		if dropped, err := b.dropPendingUpdates(); err != nil {
			log.WithError(err).Warn("failed to drop pending updates")
		} else {
			log.WithField("count", dropped).Info("dropped pending updates")
		}
	}
	if err := b.api.SetCommands(commands); err != nil {
		log.WithError(err).Warn("failed to publish command list")
	}

	log.WithField("username", b.api.Me.Username).Info("bot started")
	b.api.Start()
}

// dropPendingUpdates removes any webhook together with the updates queued for
// the bot and returns how many were queued.
func (b *Bot) dropPendingUpdates() (int, error) {
	info, err := b.api.Webhook()
	if err != nil {
		return 0, fmt.Errorf("reading webhook info: %w", err)
	}
	if err := b.api.RemoveWebhook(true); err != nil {
		return 0, fmt.Errorf("removing webhook: %w", err)
	}
	return info.PendingUpdates, nil
}

func (b *Bot) Stop() {
	b.api.Stop()
	log.Info("bot stopped")
}

// Publish sends text to a chat outside of any conversation.
func (b *Bot) Publish(chat int64, text string) error {
	_, err := b.api.Send(tele.ChatID(chat), text)
	return err
}

func (b *Bot) handleHelp(c tele.Context) error {
	return c.Send(b.usage())
}

// /price [SYMBOL...]
func (b *Bot) handlePrice(c tele.Context) error {
	assets := b.cfg.Assets
	if args := c.Args(); len(args) > 0 {
		sub, unknown := assets.Subset(args...)
		if len(unknown) > 0 {
			return c.Send(fmt.Sprintf("Unknown symbol: %s. I track %s.",
				strings.Join(unknown, ", "), strings.Join(assets.Symbols(), ", ")))
		}
		assets = sub
	}

	report := b.quoter.Fetch(context.Background(), fetcher.Request{
		Assets:        assets,
		IncludeChange: b.cfg.IncludeChange,
		Notify:        b.retryNotifier(c),
	})
	return c.Send(report.Text)
}

func (b *Bot) handlePortfolio(c tele.Context) error {
	if len(b.cfg.Holdings) == 0 {
		return c.Send("No holdings are configured, so there is no portfolio to value.")
	}

	report := b.quoter.Fetch(context.Background(), fetcher.Request{
		Assets:        b.cfg.Assets,
		Holdings:      b.cfg.Holdings,
		IncludeChange: b.cfg.IncludeChange,
		Notify:        b.retryNotifier(c),
	})
	return c.Send(report.Text)
}

// retryNotifier tells the chat that a rate limited request will be retried.
func (b *Bot) retryNotifier(c tele.Context) fetcher.RetryNotifier {
	return func(r fetcher.Retry) {
		msg := fmt.Sprintf("Rate limited by the price provider, retrying in %s (attempt %d/%d)…",
			r.Delay, r.Attempt, r.MaxAttempts)
		if err := c.Send(msg); err != nil {
			requestLogger(c).WithError(err).Warn("failed to send retry notice")
		}
	}
}

func (b *Bot) usage() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "I report spot prices for %s.\n\n", strings.Join(b.cfg.Assets.Symbols(), ", "))
	sb.WriteString("/price - current prices of every tracked asset\n")
	sb.WriteString("/price BTC ETH - prices of just the given assets\n")
	if len(b.cfg.Holdings) > 0 {
		sb.WriteString("/portfolio - prices and the total value of your holdings\n")
	}
	sb.WriteString("/help - show this message")
	return sb.String()
}

// onError is the dispatcher's last resort: the user still gets a reply.
func (b *Bot) onError(err error, c tele.Context) {
	if c == nil {
		log.WithError(err).Error("telegram bot error")
		return
	}
	logger := requestLogger(c)
	logger.WithError(err).Error("command failed")
	if c.Chat() == nil {
		return
	}
	if sendErr := c.Send(GenericFailure); sendErr != nil {
		logger.WithError(sendErr).Error("failed to deliver failure message")
	}
}
