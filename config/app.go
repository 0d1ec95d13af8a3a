package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/gruis/pricebot/ledger"
	"github.com/gruis/pricebot/prices"
	"github.com/spf13/viper"
)

var MissingToken = errors.New("bot token is not set")
var UnknownCurrency = errors.New("unknown currency")
var MissingBroadcastChat = errors.New("broadcast-schedule is set but broadcast-chat is not")

// App is the typed application configuration. It is decoded once at startup
// and handed to the components that need it.
type App struct {
	Token              string        `mapstructure:"token"`
	Assets             []string      `mapstructure:"assets"`
	Holdings           []string      `mapstructure:"holdings"`
	VsCurrency         string        `mapstructure:"vs-currency"`
	APIBaseURL         string        `mapstructure:"api-base-url"`
	APIKey             string        `mapstructure:"api-key"`
	HTTPTimeout        time.Duration `mapstructure:"http-timeout"`
	RetryInitialDelay  time.Duration `mapstructure:"retry-initial-delay"`
	RetryMaxAttempts   int           `mapstructure:"retry-max-attempts"`
	IncludeChange      bool          `mapstructure:"include-change"`
	PollTimeout        time.Duration `mapstructure:"poll-timeout"`
	DropPendingUpdates bool          `mapstructure:"drop-pending-updates"`
	AllowedChats       []int64       `mapstructure:"allowed-chats"`
	BroadcastSchedule  string        `mapstructure:"broadcast-schedule"`
	BroadcastChat      int64         `mapstructure:"broadcast-chat"`
	Currencies         []Currency    `mapstructure:"currencies"`
}

// Currency registers a currency go-money does not know about.
type Currency struct {
	Code      string `mapstructure:"code"`
	Symbol    string `mapstructure:"symbol"`
	Precision int    `mapstructure:"precision"`
}

// Decode reads the loaded configuration into an App.
func Decode() (App, error) {
	var app App
	if err := viper.Unmarshal(&app); err != nil {
		return app, fmt.Errorf("cannot parse configuration: %w", err)
	}
	return app, nil
}

// RegisterCurrencies adds the configured custom currencies to go-money.
func (a App) RegisterCurrencies() {
	for _, c := range a.Currencies {
		money.AddCurrency(strings.ToUpper(c.Code), c.Symbol, "$1", ".", ",", c.Precision)
	}
}

// CurrencyCode is the upper case code prices are quoted and displayed in.
func (a App) CurrencyCode() string {
	if a.VsCurrency == "" {
		return prices.DefaultCurrency
	}
	return strings.ToUpper(a.VsCurrency)
}

func (a App) AssetSpec() (prices.AssetSpec, error) {
	return prices.ParseAssetSpec(a.Assets...)
}

func (a App) Positions() (ledger.Holdings, error) {
	return ledger.ParseHoldings(a.Holdings...)
}

// Validate reports the first configuration problem that would keep the bot
// from starting. Custom currencies must be registered beforehand.
func (a App) Validate() error {
	if strings.TrimSpace(a.Token) == "" {
		return MissingToken
	}
	if _, err := a.AssetSpec(); err != nil {
		return fmt.Errorf("assets: %w", err)
	}
	if _, err := a.Positions(); err != nil {
		return fmt.Errorf("holdings: %w", err)
	}
	if money.GetCurrency(a.CurrencyCode()) == nil {
		return fmt.Errorf("%w: %s", UnknownCurrency, a.CurrencyCode())
	}
	if a.BroadcastSchedule != "" && a.BroadcastChat == 0 {
		return MissingBroadcastChat
	}
	return nil
}
