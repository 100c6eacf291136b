package backoff

import (
	"math"
	"time"

	"storefront"
)

// Policy configures retries for one access path.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
	// BaseDelay is slept before the first retry.
	BaseDelay time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	// Multiplier scales the delay for each further retry.
	Multiplier float64 `mapstructure:"multiplier" yaml:"multiplier"`
	// MaxDelay caps any single delay. Required whenever BaseDelay is set.
	MaxDelay time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	// Jitter randomizes each delay by up to ±Jitter (a fraction in [0,1]).
	Jitter float64 `mapstructure:"jitter" yaml:"jitter"`
	// AttemptTimeout is the deadline of each attempt. Zero means the
	// caller's context deadline only.
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" yaml:"attempt_timeout"`
}

// PrimaryPolicy returns the default policy for the mapped path: short
// timeouts, a few quick attempts.
func PrimaryPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      20 * time.Millisecond,
		Multiplier:     2,
		MaxDelay:       200 * time.Millisecond,
		Jitter:         0.2,
		AttemptTimeout: 2 * time.Second,
	}
}

// SecondaryPolicy returns the default policy for the raw path: longer
// timeouts, fewer attempts.
func SecondaryPolicy() Policy {
	return Policy{
		MaxAttempts:    2,
		BaseDelay:      100 * time.Millisecond,
		Multiplier:     2,
		MaxDelay:       1 * time.Second,
		Jitter:         0.2,
		AttemptTimeout: 5 * time.Second,
	}
}

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return storefront.NewConfigErrorForField("max_attempts", p.MaxAttempts, "must be at least 1")
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 || p.AttemptTimeout < 0 {
		return storefront.NewConfigError("delays and timeouts must not be negative")
	}
	if p.BaseDelay > 0 && p.MaxDelay == 0 {
		return storefront.NewConfigErrorForField("max_delay", p.MaxDelay, "must be positive when base_delay is set")
	}
	if p.Multiplier != 0 && p.Multiplier < 1 {
		return storefront.NewConfigErrorForField("multiplier", p.Multiplier, "must be at least 1")
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return storefront.NewConfigErrorForField("jitter", p.Jitter, "must be within [0, 1]")
	}
	return nil
}

// Delay returns the un-jittered delay before retry n (n >= 1), that is
// BaseDelay * Multiplier^(n-1), capped at MaxDelay.
func (p Policy) Delay(n int) time.Duration {
	if n < 1 || p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult == 0 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(n-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// jittered applies ±Jitter to d using r in [0,1), then re-applies the cap.
func (p Policy) jittered(d time.Duration, r float64) time.Duration {
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	factor := 1 + p.Jitter*(2*r-1)
	out := time.Duration(float64(d) * factor)
	if p.MaxDelay > 0 && out > p.MaxDelay {
		out = p.MaxDelay
	}
	if out < 0 {
		out = 0
	}
	return out
}
