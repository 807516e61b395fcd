// Package cloudcode provides the Antigravity Cloud Code API client.
// This file manages the endpoint pool and per-endpoint health state.
package cloudcode

import (
	"sync"
	"time"

	"github.com/gclaude/antigravity-proxy/internal/config"
	"github.com/gclaude/antigravity-proxy/internal/utils"
)

// Endpoint health states
const (
	EndpointOK          = "ok"
	EndpointRateLimited = "rate_limited"
	EndpointAuthFailed  = "auth_failed"
	EndpointUnavailable = "unavailable"
)

type endpointState struct {
	url                 string
	lastError           string
	rateLimitedUntil    time.Time
	consecutiveFailures int
}

// EndpointPool tracks the Cloud Code endpoints in preference order and
// their rate-limit state. Selection always starts from the front of the
// list; a rate-limited endpoint is skipped until its deadline passes.
type EndpointPool struct {
	mu        sync.Mutex
	endpoints []*endpointState
	now       func() time.Time
}

// EndpointStatus is a point-in-time view of one endpoint, exposed on
// the status route
type EndpointStatus struct {
	URL              string `json:"url"`
	State            string `json:"state"`
	RateLimitedUntil int64  `json:"rate_limited_until,omitempty"`
	LastError        string `json:"last_error,omitempty"`
}

// NewEndpointPool creates a pool over the given endpoint URLs,
// defaulting to the built-in Antigravity endpoint order
func NewEndpointPool(urls ...string) *EndpointPool {
	if len(urls) == 0 {
		urls = config.AntigravityEndpoints
	}
	pool := &EndpointPool{now: time.Now}
	for _, u := range urls {
		pool.endpoints = append(pool.endpoints, &endpointState{url: u, lastError: EndpointOK})
	}
	return pool
}

// Pick returns the first endpoint not currently rate limited. When all
// endpoints are limited it returns the one whose limit expires soonest,
// plus the wait until that happens.
func (p *EndpointPool) Pick() (string, time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for _, ep := range p.endpoints {
		if ep.rateLimitedUntil.Before(now) || ep.rateLimitedUntil.Equal(now) {
			return ep.url, 0
		}
	}

	best := p.endpoints[0]
	for _, ep := range p.endpoints[1:] {
		if ep.rateLimitedUntil.Before(best.rateLimitedUntil) {
			best = ep
		}
	}
	return best.url, best.rateLimitedUntil.Sub(now)
}

// Candidates returns the endpoints in try order: available ones first
// in preference order, then rate-limited ones by soonest expiry
func (p *EndpointPool) Candidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	available := make([]string, 0, len(p.endpoints))
	var limited []*endpointState
	for _, ep := range p.endpoints {
		if ep.rateLimitedUntil.After(now) {
			limited = append(limited, ep)
		} else {
			available = append(available, ep.url)
		}
	}
	for len(limited) > 0 {
		best := 0
		for i := 1; i < len(limited); i++ {
			if limited[i].rateLimitedUntil.Before(limited[best].rateLimitedUntil) {
				best = i
			}
		}
		available = append(available, limited[best].url)
		limited = append(limited[:best], limited[best+1:]...)
	}
	return available
}

// MarkSuccess resets the endpoint's failure state
func (p *EndpointPool) MarkSuccess(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ep := p.find(url); ep != nil {
		ep.lastError = EndpointOK
		ep.consecutiveFailures = 0
		ep.rateLimitedUntil = time.Time{}
	}
}

// MarkRateLimited records a 429. retryAfter zero falls back to
// exponential backoff on the endpoint's consecutive failures.
func (p *EndpointPool) MarkRateLimited(url string, retryAfter time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ep := p.find(url)
	if ep == nil {
		return
	}
	ep.lastError = EndpointRateLimited
	ep.consecutiveFailures++
	if retryAfter <= 0 {
		retryAfter = backoffFor(ep.consecutiveFailures)
	}
	ep.rateLimitedUntil = p.now().Add(retryAfter)
	utils.Warn("[Endpoints] %s rate limited for %s", url, retryAfter)
}

// MarkAuthFailed records a 401/403. Auth failures are account-level, so
// the endpoint is not taken out of rotation.
func (p *EndpointPool) MarkAuthFailed(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ep := p.find(url); ep != nil {
		ep.lastError = EndpointAuthFailed
	}
}

// MarkUnavailable records a 5xx or transport failure with exponential
// backoff
func (p *EndpointPool) MarkUnavailable(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ep := p.find(url)
	if ep == nil {
		return
	}
	ep.lastError = EndpointUnavailable
	ep.consecutiveFailures++
	backoff := backoffFor(ep.consecutiveFailures)
	ep.rateLimitedUntil = p.now().Add(backoff)
	utils.Warn("[Endpoints] %s unavailable, backing off %s", url, backoff)
}

// Snapshot returns the pool state for the status route. No token
// material is included.
func (p *EndpointPool) Snapshot() []EndpointStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	result := make([]EndpointStatus, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		status := EndpointStatus{URL: ep.url, State: ep.lastError}
		if ep.rateLimitedUntil.After(now) {
			status.RateLimitedUntil = ep.rateLimitedUntil.Unix()
			if status.State == EndpointOK {
				status.State = EndpointRateLimited
			}
		} else if status.State == EndpointRateLimited || status.State == EndpointUnavailable {
			status.State = EndpointOK
		}
		result = append(result, status)
	}
	return result
}

// Available reports whether any endpoint can take a request right now
func (p *EndpointPool) Available() bool {
	_, wait := p.Pick()
	return wait == 0
}

func (p *EndpointPool) find(url string) *endpointState {
	for _, ep := range p.endpoints {
		if ep.url == url {
			return ep
		}
	}
	return nil
}

// backoffFor doubles from the initial backoff per consecutive failure,
// capped at the maximum
func backoffFor(failures int) time.Duration {
	backoff := time.Duration(config.BackoffInitialSeconds) * time.Second
	max := time.Duration(config.BackoffMaxSeconds) * time.Second
	for i := 1; i < failures; i++ {
		backoff *= 2
		if backoff >= max {
			return max
		}
	}
	if backoff > max {
		return max
	}
	return backoff
}
