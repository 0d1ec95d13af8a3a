package prices

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.coingecko.com/api/v3"

	// DefaultMaxResponseSize caps how much of a response body is read.
	DefaultMaxResponseSize int64 = 10 << 20
	DefaultTimeout               = 10 * time.Second

	apiKeyHeader = "x-cg-demo-api-key"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=prices_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client queries the CoinGecko API for spot prices.
type Client struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient performs the requests.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
	// query contains additional query parameters to be sent with each request.
	query url.Values
	// vsCurrency is the lower case currency prices are quoted in.
	vsCurrency      string
	maxResponseSize int64
}

// ClientOption is a configuration option for the Client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) ClientOption {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// WithAPIKey authenticates requests with a demo plan key.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		if key != "" {
			c.header.Set(apiKeyHeader, key)
		}
	}
}

// WithVsCurrency sets the currency prices are quoted in, e.g. "usd".
func WithVsCurrency(currency string) ClientOption {
	return func(c *Client) {
		if currency != "" {
			c.vsCurrency = strings.ToLower(currency)
		}
	}
}

// WithMaxResponseSize limits the size of a response body; 0 disables the limit.
func WithMaxResponseSize(size int64) ClientOption {
	return func(c *Client) {
		c.maxResponseSize = size
	}
}

// NewClient creates a new quote provider client.
func NewClient(options ...ClientOption) *Client {
	var client = &Client{
		baseURL:         DefaultBaseURL,
		httpClient:      NewHTTPClient(DefaultTimeout),
		header:          http.Header{},
		query:           url.Values{},
		vsCurrency:      strings.ToLower(DefaultCurrency),
		maxResponseSize: DefaultMaxResponseSize,
	}
	for _, option := range options {
		option(client)
	}
	return client
}

// VsCurrency returns the lower case currency prices are quoted in.
func (c *Client) VsCurrency() string {
	return c.vsCurrency
}

// NewHTTPClient returns an http.Client whose requests never outlive timeout,
// including connection setup.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}
