package gateway

import (
	"sort"
	"sync"
	"time"

	"github.com/meschain/marketsync/internal/domain/model"
	"github.com/meschain/marketsync/internal/observability/metrics"
	"github.com/meschain/marketsync/internal/observability/statsd"
)

// Circuit states. A circuit guards one (marketplace, endpoint) pair.
const (
	StateClosed   = "closed"
	StateHalfOpen = "half_open"
	StateOpen     = "open"
)

const (
	defaultFailureThreshold = 5
	defaultCooldown         = 30 * time.Second
)

type circuit struct {
	state    string
	failures int
	openedAt time.Time
	probing  bool
}

// shard holds one marketplace's circuits under its own lock, so a burst
// against one marketplace never contends with calls to the others.
type shard struct {
	mu       sync.Mutex
	circuits map[string]*circuit
}

func (s *shard) get(endpoint string) *circuit {
	c, ok := s.circuits[endpoint]
	if !ok {
		c = &circuit{state: StateClosed}
		s.circuits[endpoint] = c
	}
	return c
}

// BreakerOptions configures a Breaker.
type BreakerOptions struct {
	// FailureThreshold is the consecutive-failure count that opens a
	// circuit. Defaults to 5.
	FailureThreshold int
	// Cooldown is how long an open circuit rejects calls before letting a
	// single probe through. Defaults to 30s.
	Cooldown time.Duration
	// Sink receives breaker state gauges; nil disables emission.
	Sink statsd.Sink
	// Now overrides the clock for tests.
	Now func() time.Time
}

// Breaker tracks circuit state per marketplace endpoint. Circuits start
// closed and are created lazily on first use; state is sharded per
// marketplace.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	sink      statsd.Sink
	now       func() time.Time

	mu     sync.RWMutex
	shards map[model.Marketplace]*shard
}

// NewBreaker creates a Breaker.
func NewBreaker(opts BreakerOptions) *Breaker {
	threshold := opts.FailureThreshold
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	cooldown := opts.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		sink:      opts.Sink,
		now:       now,
		shards:    make(map[model.Marketplace]*shard),
	}
}

func (b *Breaker) shardFor(marketplace model.Marketplace) *shard {
	b.mu.RLock()
	s, ok := b.shards[marketplace]
	b.mu.RUnlock()
	if ok {
		return s
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok = b.shards[marketplace]; ok {
		return s
	}
	s = &shard{circuits: make(map[string]*circuit)}
	b.shards[marketplace] = s
	return s
}

func (b *Breaker) transition(marketplace model.Marketplace, endpoint string, c *circuit, state string) {
	c.state = state
	var level float64
	switch state {
	case StateHalfOpen:
		level = 1
	case StateOpen:
		level = 2
	}
	metrics.EmitBreakerState(b.sink, string(marketplace), endpoint, state, level)
}

// Allow reports whether a call to the endpoint may proceed. An open
// circuit whose cooldown has elapsed moves to half-open and admits exactly
// one probe; every other caller is rejected with KindCircuitOpen until the
// probe settles.
func (b *Breaker) Allow(marketplace model.Marketplace, endpoint string) error {
	s := b.shardFor(marketplace)
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.get(endpoint)
	switch c.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(c.openedAt) < b.cooldown {
			return &GatewayError{Marketplace: marketplace, Endpoint: endpoint, Kind: KindCircuitOpen}
		}
		b.transition(marketplace, endpoint, c, StateHalfOpen)
		c.probing = true
		return nil
	case StateHalfOpen:
		if c.probing {
			return &GatewayError{Marketplace: marketplace, Endpoint: endpoint, Kind: KindCircuitOpen}
		}
		c.probing = true
		return nil
	}
	return nil
}

// OnSuccess records a successful call. A half-open probe success closes
// the circuit and clears the failure count.
func (b *Breaker) OnSuccess(marketplace model.Marketplace, endpoint string) {
	s := b.shardFor(marketplace)
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.get(endpoint)
	c.failures = 0
	c.probing = false
	if c.state != StateClosed {
		b.transition(marketplace, endpoint, c, StateClosed)
	}
}

// OnFailure records a failed call. Reaching the threshold opens the
// circuit; a failed half-open probe reopens it for a fresh cooldown.
func (b *Breaker) OnFailure(marketplace model.Marketplace, endpoint string) {
	s := b.shardFor(marketplace)
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.get(endpoint)
	if c.state == StateHalfOpen {
		c.probing = false
		c.openedAt = b.now()
		b.transition(marketplace, endpoint, c, StateOpen)
		return
	}

	c.failures++
	if c.state == StateClosed && c.failures >= b.threshold {
		c.openedAt = b.now()
		b.transition(marketplace, endpoint, c, StateOpen)
	}
}

// Reset force-closes every circuit for a marketplace and returns how many
// were open or half-open. Used by the admin API after a marketplace
// incident is confirmed resolved.
func (b *Breaker) Reset(marketplace model.Marketplace) int {
	s := b.shardFor(marketplace)
	s.mu.Lock()
	defer s.mu.Unlock()

	reset := 0
	for endpoint, c := range s.circuits {
		if c.state != StateClosed {
			reset++
			b.transition(marketplace, endpoint, c, StateClosed)
		}
		c.failures = 0
		c.probing = false
	}
	return reset
}

// CircuitStatus reports one circuit for the admin surface.
type CircuitStatus struct {
	Marketplace model.Marketplace `json:"marketplace"`
	Endpoint    string            `json:"endpoint"`
	State       string            `json:"state"`
	Failures    int               `json:"failures"`
	OpenedAt    *time.Time        `json:"opened_at,omitempty"`
}

// States returns a snapshot of every circuit, sorted by marketplace then
// endpoint. Shards are snapshotted one at a time, so circuits mutated
// mid-call may reflect either side of the change.
func (b *Breaker) States() []CircuitStatus {
	b.mu.RLock()
	shards := make(map[model.Marketplace]*shard, len(b.shards))
	for marketplace, s := range b.shards {
		shards[marketplace] = s
	}
	b.mu.RUnlock()

	var statuses []CircuitStatus
	for marketplace, s := range shards {
		s.mu.Lock()
		for endpoint, c := range s.circuits {
			status := CircuitStatus{
				Marketplace: marketplace,
				Endpoint:    endpoint,
				State:       c.state,
				Failures:    c.failures,
			}
			if c.state != StateClosed {
				openedAt := c.openedAt
				status.OpenedAt = &openedAt
			}
			statuses = append(statuses, status)
		}
		s.mu.Unlock()
	}

	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].Marketplace != statuses[j].Marketplace {
			return statuses[i].Marketplace < statuses[j].Marketplace
		}
		return statuses[i].Endpoint < statuses[j].Endpoint
	})
	return statuses
}
