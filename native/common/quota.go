package common

import (
	"errors"
	"math"
	"strings"
	"sync"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaUnitsExceeded    = errors.New("quota units exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for an address.
type QuotaNow struct {
	ReqCount uint32
	Units    uint64
	WindowID uint64
}

// Quota defines the limits enforced for a module interaction per address
// within one window. Zero limits are not enforced.
type Quota struct {
	MaxRequestsPerWindow uint32
	MaxUnitsPerWindow    uint64
	WindowSeconds        uint32
}

// Window maps a unix timestamp to the quota window it falls in.
func (q Quota) Window(unix int64) uint64 {
	if unix < 0 {
		return 0
	}
	if q.WindowSeconds == 0 {
		return uint64(unix)
	}
	return uint64(unix) / uint64(q.WindowSeconds)
}

// CheckQuota verifies whether the additional request and unit usage fit within
// the configured quota. The returned QuotaNow reflects the updated counters
// when the quota is not exceeded.
func CheckQuota(q Quota, nowWindow uint64, prev QuotaNow, addReq uint32, addUnits uint64) (QuotaNow, error) {
	next := prev
	if prev.WindowID != nowWindow {
		next = QuotaNow{WindowID: nowWindow}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerWindow > 0 && next.ReqCount > q.MaxRequestsPerWindow {
		return prev, ErrQuotaRequestsExceeded
	}

	if addUnits > 0 {
		if next.Units > math.MaxUint64-addUnits {
			return prev, ErrQuotaCounterOverflow
		}
		next.Units += addUnits
	}
	if q.MaxUnitsPerWindow > 0 && next.Units > q.MaxUnitsPerWindow {
		return prev, ErrQuotaUnitsExceeded
	}

	return next, nil
}

// QuotaTracker applies a Quota to many addresses.
type QuotaTracker struct {
	mu    sync.Mutex
	quota Quota
	usage map[string]QuotaNow
}

func NewQuotaTracker(q Quota) *QuotaTracker {
	return &QuotaTracker{quota: q, usage: make(map[string]QuotaNow)}
}

// Consume records usage for addr at unix time now. Denied usage is not
// recorded.
func (t *QuotaTracker) Consume(addr string, now int64, addReq uint32, addUnits uint64) error {
	if t == nil {
		return nil
	}
	key := strings.ToLower(strings.TrimSpace(addr))
	window := t.quota.Window(now)
	t.mu.Lock()
	defer t.mu.Unlock()
	next, err := CheckQuota(t.quota, window, t.usage[key], addReq, addUnits)
	if err != nil {
		return err
	}
	t.usage[key] = next
	return nil
}
