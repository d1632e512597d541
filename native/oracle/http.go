package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"p2plend/native/lending"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

const defaultHTTPTimeout = 5 * time.Second

// HTTPFeed polls a JSON price endpoint returning {"price":"0.15","timestamp":N}
// for ?asset=SYMBOL. Failures are reported as a missing quote and kept for
// inspection via LastError.
type HTTPFeed struct {
	client   HTTPDoer
	endpoint string
	apiKey   string
	decimals uint32
	timeout  time.Duration

	mu      sync.Mutex
	lastErr error
}

// NewHTTPFeed constructs a feed. When client is nil http.DefaultClient is used.
func NewHTTPFeed(client HTTPDoer, endpoint, apiKey string, decimals uint32) *HTTPFeed {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFeed{
		client:   client,
		endpoint: strings.TrimSpace(endpoint),
		apiKey:   strings.TrimSpace(apiKey),
		decimals: decimals,
		timeout:  defaultHTTPTimeout,
	}
}

func (f *HTTPFeed) Decimals() uint32 { return f.decimals }

// LastError returns the error of the most recent failed fetch, if any.
func (f *HTTPFeed) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

func (f *HTTPFeed) LastPrice(asset string) (lending.PriceQuote, bool) {
	if f == nil {
		return lending.PriceQuote{}, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	quote, err := f.fetch(ctx, asset)
	f.mu.Lock()
	f.lastErr = err
	f.mu.Unlock()
	if err != nil {
		return lending.PriceQuote{}, false
	}
	return quote, true
}

func (f *HTTPFeed) fetch(ctx context.Context, asset string) (lending.PriceQuote, error) {
	if f.endpoint == "" {
		return lending.PriceQuote{}, fmt.Errorf("http feed: endpoint not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return lending.PriceQuote{}, err
	}
	values := url.Values{}
	values.Set("asset", normaliseAsset(asset))
	req.URL.RawQuery = values.Encode()
	if f.apiKey != "" {
		req.Header.Set("x-api-key", f.apiKey)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return lending.PriceQuote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return lending.PriceQuote{}, fmt.Errorf("http feed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Price     string `json:"price"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return lending.PriceQuote{}, fmt.Errorf("http feed: decode: %w", err)
	}
	if payload.Timestamp < 0 {
		return lending.PriceQuote{}, fmt.Errorf("http feed: negative timestamp")
	}
	price, err := ScaleDecimal(payload.Price, f.decimals)
	if err != nil {
		return lending.PriceQuote{}, fmt.Errorf("http feed: %w", err)
	}
	return lending.PriceQuote{Price: price, Timestamp: uint64(payload.Timestamp)}, nil
}
