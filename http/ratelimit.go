package http

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// InitialThrottleBackoff is the pause after a host's first 429 or 503.
	InitialThrottleBackoff = time.Second
	// MaxThrottleBackoff caps the pause after repeated throttling.
	MaxThrottleBackoff = time.Minute
	// ThrottleCooldown is how long a host must stay quiet before its
	// configured rate is restored.
	ThrottleCooldown = 5 * time.Minute
)

// rateSteps is the fraction of a host's configured rate used after n
// consecutive throttling answers; the last step applies from then on.
var rateSteps = []float64{1, 0.75, 0.5, 0.25}

// RateLimiterConfig sets the request rate per upstream host.
type RateLimiterConfig struct {
	// DataAPIRPS paces www.googleapis.com and youtube.googleapis.com.
	DataAPIRPS float64
	// CaptionRPS paces the caption hosts.
	CaptionRPS float64
	// DefaultRPS paces any other host. Zero leaves it unpaced.
	DefaultRPS float64
	// CustomRates overrides the rate of individual hosts.
	CustomRates map[string]float64
	// EnableDynamicBackoff slows a host down while it keeps throttling.
	EnableDynamicBackoff bool
}

// DefaultRateLimiterConfig stays well under the Data API's per-second ceiling
// and is gentle with the caption endpoint.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		DataAPIRPS:           20,
		CaptionRPS:           5,
		EnableDynamicBackoff: true,
	}
}

// Throttle describes a host that recently answered 429 or 503.
type Throttle struct {
	// Strikes counts throttling answers not yet offset by successes.
	Strikes int
	// Backoff is the pause owed since the last throttling answer.
	Backoff time.Duration
	// Last is when the last throttling answer arrived.
	Last time.Time
	// RPS is the rate the host is currently held to.
	RPS float64
}

type hostRate struct {
	configured float64
	limiter    *rate.Limiter
	throttle   *Throttle
}

// RateLimiter paces requests per host with a token bucket, and slows a host
// down while it answers with throttling.
type RateLimiter struct {
	cfg RateLimiterConfig
	now func() time.Time

	mu    sync.Mutex
	hosts map[string]*hostRate
}

// NewRateLimiter creates a limiter; hosts are set up on first use.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	custom := make(map[string]float64, len(cfg.CustomRates))
	for h, rps := range cfg.CustomRates {
		custom[h] = rps
	}
	cfg.CustomRates = custom
	return &RateLimiter{
		cfg:   cfg,
		now:   time.Now,
		hosts: make(map[string]*hostRate),
	}
}

// hostOf returns the host of urlStr without its port.
func hostOf(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}

func (rl *RateLimiter) configuredRate(host string) float64 {
	if rps, ok := rl.cfg.CustomRates[host]; ok {
		return rps
	}
	switch host {
	case "www.googleapis.com", "youtube.googleapis.com":
		return rl.cfg.DataAPIRPS
	case "www.youtube.com", "youtube.com", "video.google.com":
		return rl.cfg.CaptionRPS
	}
	return rl.cfg.DefaultRPS
}

// host must be called with mu held.
func (rl *RateLimiter) host(name string) *hostRate {
	h, ok := rl.hosts[name]
	if !ok {
		h = &hostRate{configured: rl.configuredRate(name)}
		if h.configured > 0 {
			h.limiter = rate.NewLimiter(rate.Limit(h.configured), 1)
		}
		rl.hosts[name] = h
	}
	return h
}

// setRate must be called with mu held.
func (h *hostRate) setRate(rps float64) {
	if h.limiter != nil && rps > 0 {
		h.limiter.SetLimit(rate.Limit(rps))
	}
}

// Wait blocks until urlStr's host may be called again.
func (rl *RateLimiter) Wait(ctx context.Context, urlStr string) error {
	if rl == nil {
		return nil
	}
	rl.mu.Lock()
	limiter := rl.host(hostOf(urlStr)).limiter
	rl.mu.Unlock()

	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

// SetRate changes a host's configured rate.
func (rl *RateLimiter) SetRate(host string, rps float64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.cfg.CustomRates[host] = rps
	delete(rl.hosts, host)
}

// Throttled records a throttling answer from urlStr's host and returns how
// long to pause before the next attempt. retryAfter is the server's hint.
func (rl *RateLimiter) Throttled(urlStr string, retryAfter time.Duration) time.Duration {
	if rl == nil || !rl.cfg.EnableDynamicBackoff {
		return max(retryAfter, InitialThrottleBackoff)
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	h := rl.host(hostOf(urlStr))
	t := h.throttle
	if t == nil {
		t = &Throttle{}
		h.throttle = t
	}
	t.Strikes++
	t.Last = rl.now()
	if t.Backoff == 0 {
		t.Backoff = InitialThrottleBackoff
	} else {
		t.Backoff = min(2*t.Backoff, MaxThrottleBackoff)
	}
	t.Backoff = max(t.Backoff, retryAfter)

	t.RPS = h.configured * rateSteps[min(t.Strikes, len(rateSteps)-1)]
	h.setRate(t.RPS)
	return t.Backoff
}

// Succeeded records a successful answer from urlStr's host. Each success
// offsets one strike; a host with no strikes left runs at half its rate until
// the cooldown has passed, then at its full rate.
func (rl *RateLimiter) Succeeded(urlStr string) {
	if rl == nil || !rl.cfg.EnableDynamicBackoff {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	h, ok := rl.hosts[hostOf(urlStr)]
	if !ok || h.throttle == nil {
		return
	}
	t := h.throttle

	if rl.now().Sub(t.Last) > ThrottleCooldown {
		h.throttle = nil
		h.setRate(h.configured)
		return
	}
	if t.Strikes == 0 {
		return
	}
	t.Strikes--
	if half := h.configured / 2; t.Strikes == 0 && half > t.RPS {
		t.RPS = half
		h.setRate(half)
	}
}

// Throttle returns a copy of the throttle on urlStr's host, or nil.
func (rl *RateLimiter) Throttle(urlStr string) *Throttle {
	if rl == nil {
		return nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	h, ok := rl.hosts[hostOf(urlStr)]
	if !ok || h.throttle == nil {
		return nil
	}
	cp := *h.throttle
	return &cp
}

// WaitThrottle blocks until the pause owed by urlStr's host has passed.
func (rl *RateLimiter) WaitThrottle(ctx context.Context, urlStr string) error {
	t := rl.Throttle(urlStr)
	if t == nil {
		return nil
	}
	remaining := t.Backoff - rl.now().Sub(t.Last)
	if remaining <= 0 {
		return nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
