// Package flags provides the feature-gating capability consulted by the
// contract adapters: kill switches, per-surface rate limits, and telemetry
// toggles.
package flags

import (
	"sync"
	"time"
)

// Provider answers the gate questions the contract adapters ask before
// serving a surface. Implementations must be safe for concurrent use.
type Provider interface {
	// KillSwitchActive reports whether the named feature is disabled
	KillSwitchActive(feature string) bool
	// AllowRequest consumes one rate-limit token for the (surface, client)
	// pair, reporting false when the client is over its window budget
	AllowRequest(surface, client string) bool
	// TelemetryEnabled reports whether telemetry events should be emitted
	TelemetryEnabled() bool
}

// RateLimit bounds requests per client within a sliding window
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// DefaultRateLimit applies to surfaces with no explicit limit configured
var DefaultRateLimit = RateLimit{Requests: 30, Window: time.Minute}

// InMemoryProvider is a process-local Provider backed by maps and a sliding
// window rate limiter. Suitable for single-process deployments and tests.
type InMemoryProvider struct {
	mu           sync.Mutex
	killSwitches map[string]bool
	limits       map[string]RateLimit
	windows      map[string][]time.Time
	telemetry    bool
	now          func() time.Time
}

// NewInMemoryProvider creates a provider with no kill switches tripped,
// default rate limits, and telemetry on
func NewInMemoryProvider() *InMemoryProvider {
	return &InMemoryProvider{
		killSwitches: make(map[string]bool),
		limits:       make(map[string]RateLimit),
		windows:      make(map[string][]time.Time),
		telemetry:    true,
		now:          time.Now,
	}
}

// SetKillSwitch trips or clears the named feature's kill switch
func (p *InMemoryProvider) SetKillSwitch(feature string, active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killSwitches[feature] = active
}

// SetRateLimit configures the limit for a surface
func (p *InMemoryProvider) SetRateLimit(surface string, limit RateLimit) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limits[surface] = limit
}

// SetTelemetry toggles telemetry emission
func (p *InMemoryProvider) SetTelemetry(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.telemetry = enabled
}

// KillSwitchActive implements Provider
func (p *InMemoryProvider) KillSwitchActive(feature string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killSwitches[feature]
}

// AllowRequest implements Provider with a sliding window per (surface, client)
func (p *InMemoryProvider) AllowRequest(surface, client string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	limit, ok := p.limits[surface]
	if !ok {
		limit = DefaultRateLimit
	}

	key := surface + "\x00" + client
	now := p.now()
	cutoff := now.Add(-limit.Window)

	kept := p.windows[key][:0]
	for _, t := range p.windows[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= limit.Requests {
		p.windows[key] = kept
		return false
	}
	p.windows[key] = append(kept, now)
	return true
}

// TelemetryEnabled implements Provider
func (p *InMemoryProvider) TelemetryEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.telemetry
}
