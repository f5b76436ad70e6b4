package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/meschain/marketsync/internal/domain/model"
)

// DefaultLimits holds the per-marketplace call budget for one window,
// matching the plans the marketplaces publish for standard API access.
var DefaultLimits = map[model.Marketplace]int{
	model.MarketplaceTrendyol:    1000,
	model.MarketplaceN11:         750,
	model.MarketplaceAmazon:      500,
	model.MarketplaceEbay:        600,
	model.MarketplaceHepsiburada: 800,
	model.MarketplaceOzon:        300,
	model.MarketplacePazarama:    400,
}

const defaultWindow = time.Hour

// WindowCounter counts calls within an expiring window. The Redis cache
// repository satisfies this for counters shared across replicas; the
// in-memory counter serves single-process setups and tests.
type WindowCounter interface {
	IncrementWindow(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// MemoryWindowCounter is a process-local WindowCounter.
type MemoryWindowCounter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
}

type memoryWindow struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryWindowCounter creates an empty in-memory counter.
func NewMemoryWindowCounter() *MemoryWindowCounter {
	return &MemoryWindowCounter{
		windows: make(map[string]*memoryWindow),
		now:     time.Now,
	}
}

// IncrementWindow increments the counter for key, creating it with ttl
// when absent or expired.
func (c *MemoryWindowCounter) IncrementWindow(_ context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w, ok := c.windows[key]
	if !ok || now.After(w.expiresAt) {
		w = &memoryWindow{expiresAt: now.Add(ttl)}
		c.windows[key] = w
	}
	w.count++

	// Drop stale windows opportunistically so the map stays bounded.
	for k, old := range c.windows {
		if now.After(old.expiresAt) {
			delete(c.windows, k)
		}
	}

	return w.count, nil
}

// LimiterOptions configures a Limiter.
type LimiterOptions struct {
	// Counter backs the window counts. Defaults to an in-memory counter;
	// pass the Redis cache repository to share budgets across replicas.
	Counter WindowCounter
	// Window is the fixed window size. Defaults to one hour.
	Window time.Duration
	// Limits overrides DefaultLimits per marketplace.
	Limits map[model.Marketplace]int
	// Now overrides the clock for tests.
	Now func() time.Time
}

// Limiter enforces a fixed-window call budget per marketplace. Windows
// are aligned to the epoch so every replica agrees on the boundary.
type Limiter struct {
	counter WindowCounter
	window  time.Duration
	limits  map[model.Marketplace]int
	now     func() time.Time

	mu    sync.Mutex
	usage map[model.Marketplace]usageRecord
}

type usageRecord struct {
	used      int64
	windowEnd time.Time
}

// NewLimiter creates a Limiter.
func NewLimiter(opts LimiterOptions) *Limiter {
	counter := opts.Counter
	if counter == nil {
		counter = NewMemoryWindowCounter()
	}
	window := opts.Window
	if window <= 0 {
		window = defaultWindow
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	limits := make(map[model.Marketplace]int, len(DefaultLimits))
	for m, l := range DefaultLimits {
		limits[m] = l
	}
	for m, l := range opts.Limits {
		if l > 0 {
			limits[m] = l
		}
	}

	return &Limiter{
		counter: counter,
		window:  window,
		limits:  limits,
		now:     now,
		usage:   make(map[model.Marketplace]usageRecord),
	}
}

// Limit returns the per-window budget for a marketplace.
func (l *Limiter) Limit(marketplace model.Marketplace) int {
	if limit, ok := l.limits[marketplace]; ok {
		return limit
	}
	// Unconfigured marketplaces get the most conservative known budget.
	return DefaultLimits[model.MarketplaceOzon]
}

// Allow consumes one call from the marketplace's window budget. When the
// budget is exhausted it returns a GatewayError with KindRateLimited; the
// window itself still advances normally.
func (l *Limiter) Allow(ctx context.Context, marketplace model.Marketplace) error {
	now := l.now()
	windowStart := now.Truncate(l.window)
	key := fmt.Sprintf("gateway:rate:%s:%d", marketplace, windowStart.Unix())

	n, err := l.counter.IncrementWindow(ctx, key, l.window)
	if err != nil {
		return fmt.Errorf("rate window increment: %w", err)
	}

	l.mu.Lock()
	l.usage[marketplace] = usageRecord{used: n, windowEnd: windowStart.Add(l.window)}
	l.mu.Unlock()

	if limit := l.Limit(marketplace); n > int64(limit) {
		return &GatewayError{Marketplace: marketplace, Kind: KindRateLimited}
	}
	return nil
}

// LimitStatus reports one marketplace's current window consumption.
type LimitStatus struct {
	Marketplace model.Marketplace `json:"marketplace"`
	Limit       int               `json:"limit"`
	Used        int64             `json:"used"`
	WindowEnd   time.Time         `json:"window_end"`
}

// Snapshot reports the budget and last observed usage for every known
// marketplace, sorted by name for a stable admin surface.
func (l *Limiter) Snapshot() []LimitStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	statuses := make([]LimitStatus, 0, len(l.limits))
	for marketplace, limit := range l.limits {
		status := LimitStatus{Marketplace: marketplace, Limit: limit}
		if rec, ok := l.usage[marketplace]; ok && now.Before(rec.windowEnd) {
			status.Used = rec.used
			status.WindowEnd = rec.windowEnd
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Marketplace < statuses[j].Marketplace
	})
	return statuses
}
