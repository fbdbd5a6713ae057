package http

import (
	"context"
	"testing"
	"time"
)

const (
	dataAPIURL = "https://www.googleapis.com/youtube/v3/videos?id=x"
	captionURL = "https://www.youtube.com/api/timedtext?v=x"
)

func newTestLimiter(cfg RateLimiterConfig) (*RateLimiter, *fakeClock) {
	rl := NewRateLimiter(cfg)
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	rl.now = clock.now
	return rl, clock
}

func limitOf(rl *RateLimiter, host string) float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	h, ok := rl.hosts[host]
	if !ok || h.limiter == nil {
		return 0
	}
	return float64(h.limiter.Limit())
}

func TestRateLimiterWaitPaces(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{DataAPIRPS: 10})
	ctx := context.Background()

	if err := rl.Wait(ctx, dataAPIURL); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	start := time.Now()
	if err := rl.Wait(ctx, dataAPIURL); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("second request took %v, expected ~100ms", elapsed)
	}
}

func TestRateLimiterContextCanceled(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{DataAPIRPS: 0.5})

	ctx, cancel := context.WithCancel(context.Background())
	if err := rl.Wait(ctx, dataAPIURL); err != nil {
		t.Fatalf("first Wait failed: %v", err)
	}
	cancel()
	if err := rl.Wait(ctx, dataAPIURL); err == nil {
		t.Error("expected error on canceled context")
	}
}

func TestRateLimiterUnpacedHost(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	for i := 0; i < 50; i++ {
		if err := rl.Wait(context.Background(), "http://127.0.0.1:8080/x"); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
	}
	if got := limitOf(rl, "127.0.0.1"); got != 0 {
		t.Errorf("limit = %v, want unpaced", got)
	}
}

func TestHostOf(t *testing.T) {
	tests := map[string]string{
		dataAPIURL:                     "www.googleapis.com",
		"http://127.0.0.1:8080/videos": "127.0.0.1",
		captionURL:                     "www.youtube.com",
		"not a url":                    "unknown",
	}
	for in, want := range tests {
		if got := hostOf(in); got != want {
			t.Errorf("hostOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRateLimiterConfiguredRate(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		DataAPIRPS:  20,
		CaptionRPS:  5,
		DefaultRPS:  1,
		CustomRates: map[string]float64{"example.com": 7},
	})
	tests := map[string]float64{
		"www.googleapis.com": 20,
		"www.youtube.com":    5,
		"example.com":        7,
		"other.net":          1,
	}
	for host, want := range tests {
		if got := rl.configuredRate(host); got != want {
			t.Errorf("configuredRate(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestRateLimiterSetRate(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{DataAPIRPS: 1})
	_ = rl.Wait(context.Background(), dataAPIURL)

	rl.SetRate("www.googleapis.com", 100)
	_ = rl.Wait(context.Background(), dataAPIURL)
	if got := limitOf(rl, "www.googleapis.com"); got != 100 {
		t.Errorf("limit = %v, want 100", got)
	}
}

func TestRateLimiterThrottledSlowsHost(t *testing.T) {
	rl, _ := newTestLimiter(RateLimiterConfig{DataAPIRPS: 20, EnableDynamicBackoff: true})

	if got := rl.Throttled(dataAPIURL, 0); got != InitialThrottleBackoff {
		t.Errorf("first backoff = %v, want %v", got, InitialThrottleBackoff)
	}
	if got := limitOf(rl, "www.googleapis.com"); got != 15 {
		t.Errorf("limit after one strike = %v, want 15", got)
	}
	if got := rl.Throttled(dataAPIURL, 0); got != 2*InitialThrottleBackoff {
		t.Errorf("second backoff = %v, want %v", got, 2*InitialThrottleBackoff)
	}

	th := rl.Throttle(dataAPIURL)
	if th == nil {
		t.Fatal("expected a throttle")
	}
	if th.Strikes != 2 || th.RPS != 10 {
		t.Errorf("throttle = %+v, want 2 strikes at 10 rps", th)
	}

	rl.Throttled(dataAPIURL, 0)
	rl.Throttled(dataAPIURL, 0)
	if got := rl.Throttle(dataAPIURL).RPS; got != 5 {
		t.Errorf("rps after four strikes = %v, want 5", got)
	}
	if rl.Throttle(captionURL) != nil {
		t.Error("caption host throttled by Data API answers")
	}
}

func TestRateLimiterRetryAfterRespected(t *testing.T) {
	rl, _ := newTestLimiter(RateLimiterConfig{DataAPIRPS: 20, EnableDynamicBackoff: true})
	if got := rl.Throttled(dataAPIURL, 10*time.Second); got != 10*time.Second {
		t.Errorf("backoff = %v, want 10s", got)
	}
}

func TestRateLimiterBackoffCapped(t *testing.T) {
	rl, _ := newTestLimiter(RateLimiterConfig{DataAPIRPS: 20, EnableDynamicBackoff: true})
	var got time.Duration
	for i := 0; i < 20; i++ {
		got = rl.Throttled(dataAPIURL, 0)
	}
	if got != MaxThrottleBackoff {
		t.Errorf("backoff = %v, want %v", got, MaxThrottleBackoff)
	}
}

func TestRateLimiterSucceededRecovers(t *testing.T) {
	rl, clock := newTestLimiter(RateLimiterConfig{DataAPIRPS: 20, EnableDynamicBackoff: true})
	rl.Throttled(dataAPIURL, 0)
	rl.Throttled(dataAPIURL, 0)
	rl.Throttled(dataAPIURL, 0)

	rl.Succeeded(dataAPIURL)
	rl.Succeeded(dataAPIURL)
	if th := rl.Throttle(dataAPIURL); th.Strikes != 1 || th.RPS != 5 {
		t.Errorf("throttle = %+v, want 1 strike at 5 rps", th)
	}

	rl.Succeeded(dataAPIURL)
	if got := rl.Throttle(dataAPIURL).RPS; got != 10 {
		t.Errorf("rps with no strikes = %v, want half rate 10", got)
	}

	clock.advance(ThrottleCooldown + time.Second)
	rl.Succeeded(dataAPIURL)
	if rl.Throttle(dataAPIURL) != nil {
		t.Error("throttle kept after cooldown")
	}
	if got := limitOf(rl, "www.googleapis.com"); got != 20 {
		t.Errorf("limit after cooldown = %v, want 20", got)
	}
}

func TestRateLimiterDisabledDynamicBackoff(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{DataAPIRPS: 20})
	if got := rl.Throttled(dataAPIURL, 0); got != InitialThrottleBackoff {
		t.Errorf("backoff = %v, want %v", got, InitialThrottleBackoff)
	}
	if got := rl.Throttled(dataAPIURL, 3*time.Second); got != 3*time.Second {
		t.Errorf("backoff = %v, want server hint", got)
	}
	if rl.Throttle(dataAPIURL) != nil {
		t.Error("expected no throttle when dynamic backoff is disabled")
	}
}

func TestRateLimiterWaitThrottle(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{DataAPIRPS: 20, EnableDynamicBackoff: true})
	rl.Throttled(dataAPIURL, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := rl.WaitThrottle(ctx, dataAPIURL); err == nil {
		t.Error("expected deadline error while throttled")
	}
	if err := rl.WaitThrottle(context.Background(), captionURL); err != nil {
		t.Errorf("unexpected wait for host without throttle: %v", err)
	}
}

func TestRateLimiterWaitThrottleElapsed(t *testing.T) {
	rl, clock := newTestLimiter(RateLimiterConfig{DataAPIRPS: 20, EnableDynamicBackoff: true})
	rl.Throttled(dataAPIURL, 0)
	clock.advance(2 * InitialThrottleBackoff)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rl.WaitThrottle(ctx, dataAPIURL); err != nil {
		t.Errorf("WaitThrottle after the pause = %v", err)
	}
}

func TestRateLimiterNilSafe(t *testing.T) {
	var rl *RateLimiter
	if err := rl.Wait(context.Background(), dataAPIURL); err != nil {
		t.Errorf("nil Wait = %v", err)
	}
	rl.Succeeded(dataAPIURL)
	if rl.Throttle(dataAPIURL) != nil {
		t.Error("nil limiter returned a throttle")
	}
	if err := rl.WaitThrottle(context.Background(), dataAPIURL); err != nil {
		t.Errorf("nil WaitThrottle = %v", err)
	}
}
