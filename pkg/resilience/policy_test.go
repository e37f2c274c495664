package resilience

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJitter(t *testing.T) {
	tests := []struct {
		in      string
		want    JitterStrategy
		wantErr bool
	}{
		{"", JitterFull, false},
		{"full", JitterFull, false},
		{" Equal ", JitterEqual, false},
		{"decorrelated", JitterDecorrelated, false},
		{"none", JitterNone, false},
		{"random", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseJitter(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRetryPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RetryPolicy)
		wantErr bool
	}{
		{"default", func(*RetryPolicy) {}, false},
		{"zero attempts", func(p *RetryPolicy) { p.MaxAttempts = 0 }, true},
		{"negative delay", func(p *RetryPolicy) { p.BaseDelay = -1 }, true},
		{"base above max", func(p *RetryPolicy) { p.BaseDelay = time.Minute }, true},
		{"shrinking multiplier", func(p *RetryPolicy) { p.Multiplier = 0.5 }, true},
		{"unknown jitter", func(p *RetryPolicy) { p.Jitter = "wobbly" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultRetryPolicy()
			tt.mutate(&p)
			if tt.wantErr {
				assert.Error(t, p.Validate())
			} else {
				assert.NoError(t, p.Validate())
			}
		})
	}
}

func TestBackoff(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts: 10,
		BaseDelay:   100 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    time.Second,
		Jitter:      JitterNone,
	}

	t.Run("exponential without jitter", func(t *testing.T) {
		assert.Equal(t, 100*time.Millisecond, p.Backoff(1, 0, 0.3))
		assert.Equal(t, 200*time.Millisecond, p.Backoff(2, 0, 0.3))
		assert.Equal(t, 400*time.Millisecond, p.Backoff(3, 0, 0.3))
		assert.Equal(t, time.Second, p.Backoff(6, 0, 0.3), "capped at max delay")
	})

	t.Run("full jitter scales the whole delay", func(t *testing.T) {
		full := p
		full.Jitter = JitterFull
		assert.Equal(t, 100*time.Millisecond, full.Backoff(2, 0, 0.5))
		assert.Equal(t, time.Duration(0), full.Backoff(2, 0, 0))
	})

	t.Run("equal jitter keeps half", func(t *testing.T) {
		equal := p
		equal.Jitter = JitterEqual
		assert.Equal(t, 100*time.Millisecond, equal.Backoff(2, 0, 0))
		assert.Equal(t, 150*time.Millisecond, equal.Backoff(2, 0, 0.5))
	})

	t.Run("decorrelated jitter grows from previous delay", func(t *testing.T) {
		dec := p
		dec.Jitter = JitterDecorrelated
		assert.Equal(t, 100*time.Millisecond, dec.Backoff(1, 0, 0))
		assert.Equal(t, 350*time.Millisecond, dec.Backoff(2, 200*time.Millisecond, 0.5))
		assert.Equal(t, time.Second, dec.Backoff(5, 800*time.Millisecond, 0.99))
	})

	t.Run("retry below one is treated as one", func(t *testing.T) {
		assert.Equal(t, 100*time.Millisecond, p.Backoff(0, 0, 0))
	})
}

func TestBackoffUncappedSaturates(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 200, BaseDelay: time.Second, Multiplier: 10, Jitter: JitterNone}
	require.NoError(t, p.Validate())

	assert.Equal(t, time.Duration(math.MaxInt64), p.Backoff(100, 0, 0.5))
	assert.Equal(t, time.Duration(math.MaxInt64), p.Backoff(1000, 0, 0.5), "overflows to +Inf")

	p.Jitter = JitterFull
	assert.Positive(t, p.Backoff(100, 0, 0.5))
	assert.Positive(t, p.Backoff(1000, 0, 0.5))
}

func TestSecureRandFloat64(t *testing.T) {
	for i := 0; i < 100; i++ {
		r := secureRandFloat64()
		assert.GreaterOrEqual(t, r, 0.0)
		assert.Less(t, r, 1.0)
	}
}
