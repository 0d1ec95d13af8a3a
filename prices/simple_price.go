package prices

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var RateLimited = errors.New("quote provider rate limit reached")
var ConnectivityFailure = errors.New("quote provider could not be reached")
var MalformedResponse = errors.New("quote provider response is malformed")

// HTTPError is returned for any non-2xx response other than a rate limit.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// SimplePrice fetches the current price of every id in a single request. The
// returned map is keyed by provider id; ids the provider did not report are
// absent from it. The 24 hour change is only requested when includeChange is
// set.
func (c *Client) SimplePrice(ctx context.Context, ids []string, includeChange bool) (map[string]Quote, error) {
	query := maps.Clone(c.query)
	query.Set("ids", strings.Join(ids, ","))
	query.Set("vs_currencies", c.vsCurrency)
	query.Set("include_24hr_change", strconv.FormatBool(includeChange))

	endpoint := fmt.Sprintf("%s/simple/price?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.header.Clone()
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ConnectivityFailure, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: retry after %q", RateLimited, res.Header.Get("Retry-After"))

	case res.StatusCode < 200 || res.StatusCode >= 300:
		b, _ := io.ReadAll(io.LimitReader(res.Body, 2<<10))
		return nil, &HTTPError{StatusCode: res.StatusCode, Body: bytes.TrimSpace(b)}
	}

	body, err := c.readBody(res.Body)
	if err != nil {
		return nil, err
	}
	return c.decodeSimplePrice(body, ids, includeChange)
}

func (c *Client) readBody(r io.Reader) ([]byte, error) {
	if c.maxResponseSize > 0 {
		r = io.LimitReader(r, c.maxResponseSize+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ConnectivityFailure, err)
	}
	if c.maxResponseSize > 0 && int64(len(body)) > c.maxResponseSize {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", MalformedResponse, c.maxResponseSize)
	}
	return body, nil
}

// decodeSimplePrice reads a body shaped like
//
//	{
//	  "bitcoin": {"usd": 67187.12, "usd_24h_change": -1.2364},
//	  "ethereum": {"usd": 3480.5}
//	}
//
// An id missing from the body is not an error, an entry without a price is.
func (c *Client) decodeSimplePrice(body []byte, ids []string, includeChange bool) (map[string]Quote, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", MalformedResponse, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: expected an object, got %s", MalformedResponse, body)
	}

	priceKey := c.vsCurrency
	changeKey := c.vsCurrency + "_24h_change"
	now := time.Now().UTC()

	quotes := make(map[string]Quote, len(ids))
	for _, id := range ids {
		raw, ok := payload[id]
		if !ok {
			continue
		}
		var entry map[string]json.RawMessage
		if err := json.Unmarshal(raw, &entry); err != nil || entry == nil {
			return nil, fmt.Errorf("%w: entry for %q is not an object", MalformedResponse, id)
		}

		price, err := parseNullableDecimal(entry, priceKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %q.%s: %v", MalformedResponse, id, priceKey, err)
		}
		if price == nil {
			return nil, fmt.Errorf("%w: %q has no %q field", MalformedResponse, id, priceKey)
		}
		if _, err := MoneyFor(*price, c.vsCurrency); err != nil {
			return nil, fmt.Errorf("%w: %q.%s: %v", MalformedResponse, id, priceKey, err)
		}

		q := Quote{ID: id, Price: *price, ReceivedAt: now}
		if includeChange {
			change, err := parseNullableDecimal(entry, changeKey)
			if err != nil {
				return nil, fmt.Errorf("%w: %q.%s: %v", MalformedResponse, id, changeKey, err)
			}
			q.Change24h = change
		}
		quotes[id] = q
	}
	return quotes, nil
}

// parseNullableDecimal returns nil when key is absent or null. Any other value
// must be a JSON number.
func parseNullableDecimal(data map[string]json.RawMessage, key string) (*decimal.Decimal, error) {
	raw, ok := data[key]
	if !ok {
		return nil, nil
	}
	raw = bytes.TrimSpace(raw)
	if string(raw) == "null" {
		return nil, nil
	}
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return nil, fmt.Errorf("expected a number, got %s", raw)
	}
	var v decimal.Decimal
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
