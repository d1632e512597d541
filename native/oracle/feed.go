package oracle

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"p2plend/native/lending"
)

// DefaultDecimals matches the precision of the upstream XLM/USDC feeds.
const DefaultDecimals uint32 = 14

// DefaultFixedPrice is $0.15 at DefaultDecimals.
var DefaultFixedPrice = big.NewInt(15_000_000_000_000)

func normaliseAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

// FixedFeed always quotes the same price stamped with the current time. It is
// the local development feed.
type FixedFeed struct {
	price    *big.Int
	decimals uint32
	now      func() time.Time
}

// NewFixedFeed returns a feed quoting price at decimals. A nil price selects
// DefaultFixedPrice.
func NewFixedFeed(price *big.Int, decimals uint32) *FixedFeed {
	if price == nil {
		price = DefaultFixedPrice
	}
	return &FixedFeed{price: new(big.Int).Set(price), decimals: decimals, now: time.Now}
}

// SetClock overrides the timestamp source.
func (f *FixedFeed) SetClock(now func() time.Time) {
	if f == nil || now == nil {
		return
	}
	f.now = now
}

func (f *FixedFeed) LastPrice(string) (lending.PriceQuote, bool) {
	if f == nil {
		return lending.PriceQuote{}, false
	}
	return lending.PriceQuote{Price: new(big.Int).Set(f.price), Timestamp: uint64(f.now().Unix())}, true
}

func (f *FixedFeed) Decimals() uint32 { return f.decimals }

// ManualFeed holds operator supplied quotes per asset. It backs incident
// overrides and tests.
type ManualFeed struct {
	mu       sync.RWMutex
	decimals uint32
	quotes   map[string]lending.PriceQuote
}

// NewManualFeed constructs an empty feed with the given precision.
func NewManualFeed(decimals uint32) *ManualFeed {
	return &ManualFeed{decimals: decimals, quotes: make(map[string]lending.PriceQuote)}
}

// Set stores a fixed-point price for asset observed at ts.
func (m *ManualFeed) Set(asset string, price *big.Int, ts time.Time) {
	if m == nil || price == nil {
		return
	}
	key := normaliseAsset(asset)
	if key == "" {
		return
	}
	m.mu.Lock()
	m.quotes[key] = lending.PriceQuote{Price: new(big.Int).Set(price), Timestamp: uint64(ts.Unix())}
	m.mu.Unlock()
}

// SetDecimal parses a decimal price such as "0.15" and stores it scaled to
// the feed precision.
func (m *ManualFeed) SetDecimal(asset, price string, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("manual feed not configured")
	}
	scaled, err := ScaleDecimal(price, m.decimals)
	if err != nil {
		return fmt.Errorf("manual feed: %w", err)
	}
	m.Set(asset, scaled, ts)
	return nil
}

// Clear removes the quote for asset.
func (m *ManualFeed) Clear(asset string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	delete(m.quotes, normaliseAsset(asset))
	m.mu.Unlock()
}

func (m *ManualFeed) LastPrice(asset string) (lending.PriceQuote, bool) {
	if m == nil {
		return lending.PriceQuote{}, false
	}
	m.mu.RLock()
	stored, ok := m.quotes[normaliseAsset(asset)]
	m.mu.RUnlock()
	if !ok {
		return lending.PriceQuote{}, false
	}
	return lending.PriceQuote{Price: new(big.Int).Set(stored.Price), Timestamp: stored.Timestamp}, true
}

func (m *ManualFeed) Decimals() uint32 { return m.decimals }

// ScaleDecimal converts a positive decimal string into a fixed-point integer
// with the given number of decimals, truncating extra precision.
func ScaleDecimal(value string, decimals uint32) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("price required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("invalid price %q", value)
	}
	if rat.Sign() <= 0 {
		return nil, fmt.Errorf("price must be positive")
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rat.Mul(rat, new(big.Rat).SetInt(unit))
	return new(big.Int).Quo(rat.Num(), rat.Denom()), nil
}
