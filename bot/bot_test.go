package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gruis/pricebot/fetcher"
	"github.com/gruis/pricebot/ledger"
	"github.com/gruis/pricebot/prices"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"
	"gopkg.in/telebot.v3/middleware"
)

// MockContext implements the parts of tele.Context the handlers use.
type MockContext struct {
	tele.Context
	ArgsVal []string
	TextVal string
	ChatVal *tele.Chat
	Sent    []interface{}
	store   map[string]interface{}
}

func (m *MockContext) Args() []string   { return m.ArgsVal }
func (m *MockContext) Text() string     { return m.TextVal }
func (m *MockContext) Chat() *tele.Chat { return m.ChatVal }
func (m *MockContext) Message() *tele.Message {
	return &tele.Message{Text: m.TextVal, Chat: m.ChatVal}
}

func (m *MockContext) Send(what interface{}, opts ...interface{}) error {
	m.Sent = append(m.Sent, what)
	return nil
}

func (m *MockContext) Set(key string, val interface{}) {
	if m.store == nil {
		m.store = map[string]interface{}{}
	}
	m.store[key] = val
}

func (m *MockContext) Get(key string) interface{} {
	return m.store[key]
}

func (m *MockContext) last() string {
	if len(m.Sent) == 0 {
		return ""
	}
	s, _ := m.Sent[len(m.Sent)-1].(string)
	return s
}

type fakeQuoter struct {
	mu       sync.Mutex
	requests []fetcher.Request
	retries  []fetcher.Retry
	text     string
}

func (q *fakeQuoter) Fetch(ctx context.Context, req fetcher.Request) fetcher.Report {
	q.mu.Lock()
	q.requests = append(q.requests, req)
	q.mu.Unlock()
	for _, r := range q.retries {
		req.Notify(r)
	}
	return fetcher.Report{Outcome: fetcher.Success, Text: q.text}
}

var assets = prices.AssetSpec{
	{Symbol: "BTC", ID: "bitcoin"},
	{Symbol: "ETH", ID: "ethereum"},
	{Symbol: "SOL", ID: "solana"},
}

func newTestBot(q Quoter, holdings ledger.Holdings) *Bot {
	return &Bot{quoter: q, cfg: Config{Assets: assets, Holdings: holdings, IncludeChange: true}}
}

func TestHandlePrice(t *testing.T) {
	t.Run("all assets", func(t *testing.T) {
		q := &fakeQuoter{text: "BTC: $1.00\nETH: $2.00\nSOL: price not available"}
		b := newTestBot(q, nil)
		ctx := &MockContext{}

		require.NoError(t, b.handlePrice(ctx))

		require.Len(t, q.requests, 1)
		assert.Equal(t, assets, q.requests[0].Assets)
		assert.True(t, q.requests[0].IncludeChange)
		assert.Empty(t, q.requests[0].Holdings)
		assert.Equal(t, q.text, ctx.last())
	})

	t.Run("subset in asked order", func(t *testing.T) {
		q := &fakeQuoter{text: "ETH: $2.00\nBTC: $1.00"}
		b := newTestBot(q, nil)
		ctx := &MockContext{ArgsVal: []string{"eth", "BTC"}}

		require.NoError(t, b.handlePrice(ctx))

		require.Len(t, q.requests, 1)
		assert.Equal(t, []string{"ETH", "BTC"}, q.requests[0].Assets.Symbols())
	})

	t.Run("unknown symbol is not fetched", func(t *testing.T) {
		q := &fakeQuoter{}
		b := newTestBot(q, nil)
		ctx := &MockContext{ArgsVal: []string{"BTC", "DOGE"}}

		require.NoError(t, b.handlePrice(ctx))

		assert.Empty(t, q.requests)
		assert.Contains(t, ctx.last(), "Unknown symbol: DOGE")
		assert.Contains(t, ctx.last(), "BTC, ETH, SOL")
	})
}

func TestHandlePrice_RetryNoticesPrecedeReport(t *testing.T) {
	q := &fakeQuoter{
		text: "BTC: $1.00",
		retries: []fetcher.Retry{
			{Attempt: 1, MaxAttempts: 5, Delay: 2 * time.Second},
			{Attempt: 2, MaxAttempts: 5, Delay: 4 * time.Second},
		},
	}
	b := newTestBot(q, nil)
	ctx := &MockContext{}

	require.NoError(t, b.handlePrice(ctx))

	require.Len(t, ctx.Sent, 3)
	assert.Equal(t, "Rate limited by the price provider, retrying in 2s (attempt 1/5)…", ctx.Sent[0])
	assert.Equal(t, "Rate limited by the price provider, retrying in 4s (attempt 2/5)…", ctx.Sent[1])
	assert.Equal(t, "BTC: $1.00", ctx.Sent[2])
}

func TestHandlePortfolio(t *testing.T) {
	t.Run("without holdings", func(t *testing.T) {
		q := &fakeQuoter{}
		b := newTestBot(q, nil)
		ctx := &MockContext{}

		require.NoError(t, b.handlePortfolio(ctx))

		assert.Empty(t, q.requests)
		assert.Contains(t, ctx.last(), "No holdings are configured")
	})

	t.Run("with holdings", func(t *testing.T) {
		holdings := ledger.Holdings{{Symbol: "BTC", Quantity: decimal.RequireFromString("0.5")}}
		q := &fakeQuoter{text: "BTC: $2.00\nTotal: $1.00"}
		b := newTestBot(q, holdings)
		ctx := &MockContext{}

		require.NoError(t, b.handlePortfolio(ctx))

		require.Len(t, q.requests, 1)
		assert.Equal(t, holdings, q.requests[0].Holdings)
		assert.Equal(t, assets, q.requests[0].Assets)
		assert.Equal(t, q.text, ctx.last())
	})
}

func TestHandleHelp(t *testing.T) {
	ctx := &MockContext{}
	require.NoError(t, newTestBot(&fakeQuoter{}, nil).handleHelp(ctx))
	assert.Contains(t, ctx.last(), "BTC, ETH, SOL")
	assert.Contains(t, ctx.last(), "/price")
	assert.NotContains(t, ctx.last(), "/portfolio")

	holdings := ledger.Holdings{{Symbol: "ETH", Quantity: decimal.NewFromInt(1)}}
	ctx = &MockContext{}
	require.NoError(t, newTestBot(&fakeQuoter{}, holdings).handleHelp(ctx))
	assert.Contains(t, ctx.last(), "/portfolio")
}

func TestOnError(t *testing.T) {
	b := newTestBot(&fakeQuoter{}, nil)

	assert.NotPanics(t, func() { b.onError(errors.New("poll failed"), nil) })

	ctx := &MockContext{ChatVal: &tele.Chat{ID: 42}}
	b.onError(errors.New("boom"), ctx)
	assert.Equal(t, GenericFailure, ctx.last())

	ctx = &MockContext{}
	b.onError(errors.New("no chat"), ctx)
	assert.Empty(t, ctx.Sent)
}

func TestRecover_RepliesThroughOnError(t *testing.T) {
	b := newTestBot(&fakeQuoter{}, nil)
	h := middleware.Recover(b.onError)(func(c tele.Context) error {
		panic("handler blew up")
	})

	ctx := &MockContext{ChatVal: &tele.Chat{ID: 42}}
	require.NotPanics(t, func() { assert.NoError(t, h(ctx)) })
	assert.Equal(t, GenericFailure, ctx.last())

	want := errors.New("plain")
	err := middleware.Recover(b.onError)(func(c tele.Context) error { return want })(&MockContext{})
	assert.Equal(t, want, err)
}

// fakeBotAPI answers the Bot API methods used around startup.
func fakeBotAPI(t *testing.T, pending int) (*httptest.Server, *[]string) {
	var (
		mu    sync.Mutex
		calls []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		mu.Lock()
		calls = append(calls, method)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch method {
		case "getWebhookInfo":
			fmt.Fprintf(w, `{"ok":true,"result":{"url":"","pending_update_count":%d}}`, pending)
		case "deleteWebhook":
			if !strings.Contains(readBody(r), `"drop_pending_updates":true`) {
				fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"Bad Request: pending updates kept"}`)
				return
			}
			fmt.Fprint(w, `{"ok":true,"result":true}`)
		default:
			fmt.Fprint(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func readBody(r *http.Request) string {
	b, _ := io.ReadAll(r.Body)
	return string(b)
}

func TestDropPendingUpdates(t *testing.T) {
	srv, calls := fakeBotAPI(t, 3)
	b, err := New(Config{Token: "123:abc", Assets: assets, URL: srv.URL, Offline: true}, &fakeQuoter{})
	require.NoError(t, err)

	dropped, err := b.dropPendingUpdates()

	require.NoError(t, err)
	assert.Equal(t, 3, dropped)
	assert.Equal(t, []string{"getWebhookInfo", "deleteWebhook"}, *calls)
}

func TestDropPendingUpdates_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
	}))
	defer srv.Close()
	b, err := New(Config{Token: "123:abc", Assets: assets, URL: srv.URL, Offline: true}, &fakeQuoter{})
	require.NoError(t, err)

	_, err = b.dropPendingUpdates()
	assert.Error(t, err)
}

func TestLogRequests(t *testing.T) {
	b := newTestBot(&fakeQuoter{}, nil)
	ctx := &MockContext{TextVal: "/price BTC", ChatVal: &tele.Chat{ID: 7}}

	var seen *log.Entry
	err := b.logRequests(func(c tele.Context) error {
		seen = requestLogger(c)
		return nil
	})(ctx)

	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.NotEmpty(t, seen.Data["request"])
	assert.Equal(t, int64(7), seen.Data["chat"])
	assert.Equal(t, "/price BTC", seen.Data["command"])

	assert.NotNil(t, requestLogger(&MockContext{}))
}

func TestNew_Offline(t *testing.T) {
	b, err := New(Config{
		Token:        "123:abc",
		Assets:       assets,
		AllowedChats: []int64{1, 2},
		Offline:      true,
	}, &fakeQuoter{})

	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, DefaultPollTimeout, b.cfg.PollTimeout)
}
