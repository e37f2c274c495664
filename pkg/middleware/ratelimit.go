package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
)

// RateLimitMode decides what happens when a bucket is empty
type RateLimitMode string

const (
	// RateLimitWait suspends the attempt until a token is available
	RateLimitWait RateLimitMode = "wait"
	// RateLimitReject fails the attempt immediately with a retry-later error
	RateLimitReject RateLimitMode = "reject"
)

// MethodLimit is a token bucket for one method
type MethodLimit struct {
	RPS   float64 `json:"rps"`
	Burst int     `json:"burst"`
}

// RateLimitConfig defines rate limiting settings. A zero GlobalRPS means
// no global limit.
type RateLimitConfig struct {
	Mode RateLimitMode `json:"mode"`

	// Global requests per second
	GlobalRPS float64 `json:"globalRps"`
	// Burst size for global limit
	GlobalBurst int `json:"globalBurst"`

	// Per-method limits
	Methods map[string]MethodLimit `json:"methods,omitempty"`
}

// DefaultRateLimitConfig provides sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Mode:        RateLimitWait,
		GlobalRPS:   100,
		GlobalBurst: 50,
		Methods: map[string]MethodLimit{
			"tools/call":     {RPS: 20, Burst: 10},
			"resources/read": {RPS: 20, Burst: 10},
		},
	}
}

// Validate reports impossible rate limit values
func (c RateLimitConfig) Validate() error {
	switch c.Mode {
	case "", RateLimitWait, RateLimitReject:
	default:
		return fmt.Errorf("ratelimit: unknown mode %q", c.Mode)
	}
	if c.GlobalRPS < 0 || (c.GlobalRPS > 0 && c.GlobalBurst < 1) {
		return fmt.Errorf("ratelimit: global limit needs rps >= 0 and burst >= 1")
	}
	for method, l := range c.Methods {
		if l.RPS <= 0 || l.Burst < 1 {
			return fmt.Errorf("ratelimit: method %s needs rps > 0 and burst >= 1", method)
		}
	}
	return nil
}

// RateLimiter is the RateLimit middleware
type RateLimiter struct {
	mode    RateLimitMode
	global  *rate.Limiter
	mu      sync.RWMutex
	methods map[string]*rate.Limiter
}

// RateLimit creates a token-bucket limiter with a global bucket and
// per-method buckets. Notifications are limited like requests.
func RateLimit(cfg RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		mode:    cfg.Mode,
		methods: make(map[string]*rate.Limiter),
	}
	if rl.mode == "" {
		rl.mode = RateLimitWait
	}
	if cfg.GlobalRPS > 0 {
		rl.global = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), cfg.GlobalBurst)
	}
	for method, l := range cfg.Methods {
		rl.methods[method] = rate.NewLimiter(rate.Limit(l.RPS), l.Burst)
	}
	return rl
}

// UpdateMethodLimit replaces the bucket for a method
func (rl *RateLimiter) UpdateMethodLimit(method string, rps float64, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.methods[method] = rate.NewLimiter(rate.Limit(rps), burst)
}

// Outgoing takes a token from the global and the method bucket
func (rl *RateLimiter) Outgoing(ctx context.Context, req *Request) (context.Context, error) {
	rl.mu.RLock()
	method := rl.methods[req.Method]
	rl.mu.RUnlock()

	for _, limiter := range []*rate.Limiter{rl.global, method} {
		if limiter == nil {
			continue
		}
		if err := rl.take(ctx, limiter, req.Method); err != nil {
			return ctx, err
		}
	}
	return ctx, nil
}

func (rl *RateLimiter) take(ctx context.Context, limiter *rate.Limiter, method string) error {
	if rl.mode == RateLimitReject {
		r := limiter.Reserve()
		if !r.OK() {
			return mcperrors.RateLimited(method, 0)
		}
		if delay := r.Delay(); delay > 0 {
			r.Cancel()
			return mcperrors.RateLimited(method, delay)
		}
		return nil
	}

	if err := limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return mcperrors.FromContext(ctx, method)
		}
		// The wait would outlast the deadline
		return mcperrors.RateLimited(method, rateDelay(limiter))
	}
	return nil
}

func rateDelay(limiter *rate.Limiter) time.Duration {
	if limiter.Limit() <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(limiter.Limit()))
}

// Incoming implements Middleware
func (rl *RateLimiter) Incoming(context.Context, *Request, *Response) error {
	return nil
}
