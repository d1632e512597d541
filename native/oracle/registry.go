package oracle

import (
	"strings"
	"sync"

	"p2plend/native/lending"
)

// Registry resolves oracle addresses configured on the market to live feeds.
// Addresses are matched case-insensitively.
type Registry struct {
	mu    sync.RWMutex
	feeds map[string]lending.PriceFeed
}

func NewRegistry() *Registry {
	return &Registry{feeds: make(map[string]lending.PriceFeed)}
}

func registryKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Register adds or replaces the feed served under address.
func (r *Registry) Register(address string, feed lending.PriceFeed) {
	if r == nil || feed == nil {
		return
	}
	key := registryKey(address)
	if key == "" {
		return
	}
	r.mu.Lock()
	r.feeds[key] = feed
	r.mu.Unlock()
}

// Feed implements lending.FeedResolver.
func (r *Registry) Feed(address string) (lending.PriceFeed, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	feed, ok := r.feeds[registryKey(address)]
	r.mu.RUnlock()
	return feed, ok
}

// Addresses lists the registered oracle addresses.
func (r *Registry) Addresses() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.feeds))
	for addr := range r.feeds {
		out = append(out, addr)
	}
	return out
}
