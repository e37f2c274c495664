// Package resilience implements retry with backoff, per-connection circuit
// breakers and pool-wide cascade detection.
package resilience

import (
	cryptorand "crypto/rand"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"
)

// JitterStrategy perturbs the computed backoff delay
type JitterStrategy string

const (
	// JitterNone uses the exponential delay as is
	JitterNone JitterStrategy = "none"
	// JitterFull picks uniformly from [0, delay)
	JitterFull JitterStrategy = "full"
	// JitterEqual keeps half the delay and randomizes the other half
	JitterEqual JitterStrategy = "equal"
	// JitterDecorrelated picks from [base, 3*previous) capped at MaxDelay
	JitterDecorrelated JitterStrategy = "decorrelated"
)

// ParseJitter converts a configuration string into a JitterStrategy
func ParseJitter(s string) (JitterStrategy, error) {
	switch j := JitterStrategy(strings.ToLower(strings.TrimSpace(s))); j {
	case "":
		return JitterFull, nil
	case JitterNone, JitterFull, JitterEqual, JitterDecorrelated:
		return j, nil
	default:
		return "", fmt.Errorf("unknown jitter strategy %q", s)
	}
}

// RetryPolicy is pure retry configuration
type RetryPolicy struct {
	// MaxAttempts counts the first attempt; 1 disables retries
	MaxAttempts int            `json:"maxAttempts"`
	BaseDelay   time.Duration  `json:"baseDelay"`
	Multiplier  float64        `json:"multiplier"`
	MaxDelay    time.Duration  `json:"maxDelay"`
	Jitter      JitterStrategy `json:"jitter"`
}

// DefaultRetryPolicy returns the default retry policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    5 * time.Second,
		Jitter:      JitterFull,
	}
}

// Validate reports impossible policy values
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry: maxAttempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("retry: delays must not be negative")
	}
	if p.MaxDelay > 0 && p.BaseDelay > p.MaxDelay {
		return fmt.Errorf("retry: baseDelay %s exceeds maxDelay %s", p.BaseDelay, p.MaxDelay)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("retry: multiplier must be at least 1, got %g", p.Multiplier)
	}
	if _, err := ParseJitter(string(p.Jitter)); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	return nil
}

// Backoff returns the delay before the next attempt after retry failed
// attempts (retry >= 1). prev is the previous delay, used by decorrelated
// jitter. r must be in [0, 1).
func (p RetryPolicy) Backoff(retry int, prev time.Duration, r float64) time.Duration {
	if retry < 1 {
		retry = 1
	}

	// Exponential backoff, capped at max delay
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(retry-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	switch p.Jitter {
	case JitterNone:
	case JitterEqual:
		delay = delay/2 + r*delay/2
	case JitterDecorrelated:
		if prev < p.BaseDelay {
			prev = p.BaseDelay
		}
		base := float64(p.BaseDelay)
		delay = base + r*(3*float64(prev)-base)
		if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
			delay = float64(p.MaxDelay)
		}
	default:
		delay = r * delay
	}

	// Uncapped growth overflows Duration long before the float does
	if delay >= math.MaxInt64 || math.IsNaN(delay) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// secureRandFloat64 generates a cryptographically secure random float64 in [0, 1)
func secureRandFloat64() float64 {
	n, err := cryptorand.Int(cryptorand.Reader, big.NewInt(1<<53))
	if err != nil {
		return 0.5
	}
	return float64(n.Int64()) / float64(1<<53)
}
