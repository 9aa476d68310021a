// Package ratelimit guards outbound provider calls. Each platform gets its
// own limiter keyed by endpoint, with one of two policies:
//
//   - interval: a minimum gap between successive calls (1/rate seconds),
//     for providers with flat requests-per-second expectations.
//   - window: no more than N calls in the trailing 60 seconds, for
//     providers with per-minute quotas (LinkedIn's token endpoint allows
//     100 requests per minute).
//
// Callers see one interface regardless of policy. Reset clears an
// endpoint's bookkeeping after a provider signals "slow down" so the next
// wait starts from a clean window instead of an immediate retry storm.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/RussellLuo/slidingwindow"
	"golang.org/x/time/rate"
	"social-oauth/internal/common/logging"
)

// Policy selects the limiting strategy for a platform.
type Policy string

const (
	// PolicyInterval spaces successive calls by at least 1/rate seconds.
	PolicyInterval Policy = "interval"
	// PolicyWindow allows at most MaxPerMinute calls in the trailing minute.
	PolicyWindow Policy = "window"
)

// Config configures a platform limiter.
type Config struct {
	Policy            Policy
	RequestsPerSecond float64 // interval policy
	MaxPerMinute      int64   // window policy
}

// DefaultConfig is a conservative 1 request/second interval policy.
func DefaultConfig() Config {
	return Config{Policy: PolicyInterval, RequestsPerSecond: 1}
}

// Limiter is the caller-facing rate limiting interface.
type Limiter interface {
	// Wait blocks until the endpoint's budget allows another call, or the
	// context is done. Unrelated endpoints are never blocked.
	Wait(ctx context.Context, endpoint string) error
	// Reset clears the endpoint's bookkeeping.
	Reset(endpoint string)
}

// PlatformLimiter implements Limiter for one platform. Safe for concurrent
// use.
type PlatformLimiter struct {
	platform string
	config   Config
	logger   logging.Logger

	mu       sync.Mutex
	interval map[string]*rate.Limiter
	window   map[string]*slidingwindow.Limiter
}

// NewPlatformLimiter creates a limiter for the named platform.
func NewPlatformLimiter(platform string, config Config, logger logging.Logger) *PlatformLimiter {
	if config.Policy == "" {
		config = DefaultConfig()
	}
	if config.Policy == PolicyInterval && config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 1
	}
	if config.Policy == PolicyWindow && config.MaxPerMinute <= 0 {
		config.MaxPerMinute = 60
	}

	return &PlatformLimiter{
		platform: platform,
		config:   config,
		logger:   logger.WithFields(logging.Field{Key: "component", Value: "ratelimit"}, logging.Field{Key: "platform", Value: platform}),
		interval: make(map[string]*rate.Limiter),
		window:   make(map[string]*slidingwindow.Limiter),
	}
}

// Wait blocks the calling goroutine until the endpoint's budget allows
// another call.
func (l *PlatformLimiter) Wait(ctx context.Context, endpoint string) error {
	switch l.config.Policy {
	case PolicyWindow:
		return l.waitWindow(ctx, endpoint)
	default:
		return l.intervalLimiter(endpoint).Wait(ctx)
	}
}

// Reset clears the bookkeeping for an endpoint. Used after a provider 429
// so the next wait recomputes from a clean state.
func (l *PlatformLimiter) Reset(endpoint string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.interval, endpoint)
	delete(l.window, endpoint)
	l.logger.Debug("rate limit state reset", logging.String("endpoint", endpoint))
}

func (l *PlatformLimiter) intervalLimiter(endpoint string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.interval[endpoint]
	if !ok {
		// Burst of 1 enforces the minimum gap between successive calls.
		lim = rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), 1)
		l.interval[endpoint] = lim
	}
	return lim
}

func (l *PlatformLimiter) windowLimiter(endpoint string) *slidingwindow.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.window[endpoint]
	if !ok {
		lim, _ = slidingwindow.NewLimiter(time.Minute, l.config.MaxPerMinute, func() (slidingwindow.Window, slidingwindow.StopFunc) {
			return slidingwindow.NewLocalWindow()
		})
		l.window[endpoint] = lim
	}
	return lim
}

func (l *PlatformLimiter) waitWindow(ctx context.Context, endpoint string) error {
	const pollInterval = 50 * time.Millisecond

	for {
		if l.windowLimiter(endpoint).Allow() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
