package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront"
	"storefront/internal/testutil"
)

var errTimeout = storefront.NewConnectionError(errors.New("i/o timeout"), "query", "sqlite", "local")

func newTestController(clock *testutil.FakeClock) *Controller {
	return NewController(
		WithClock(clock),
		WithRandom(func() float64 { return 0.5 }), // zero jitter
	)
}

func testPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    15 * time.Millisecond,
		Jitter:      0.5,
	}
}

func TestPolicyDelay(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, Multiplier: 3, MaxDelay: time.Second}

	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, 10*time.Millisecond, p.Delay(1))
	assert.Equal(t, 30*time.Millisecond, p.Delay(2))
	assert.Equal(t, 90*time.Millisecond, p.Delay(3))
	assert.Equal(t, 270*time.Millisecond, p.Delay(4))
	assert.Equal(t, time.Second, p.Delay(10), "capped at MaxDelay")
}

func TestPolicyJitterStaysWithinCeiling(t *testing.T) {
	p := Policy{MaxAttempts: 2, BaseDelay: 100 * time.Millisecond, Multiplier: 1, MaxDelay: 110 * time.Millisecond, Jitter: 0.5}

	assert.Equal(t, 50*time.Millisecond, p.jittered(p.Delay(1), 0))
	assert.Equal(t, 100*time.Millisecond, p.jittered(p.Delay(1), 0.5))
	assert.Equal(t, 110*time.Millisecond, p.jittered(p.Delay(1), 0.99), "re-capped")
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		ok     bool
	}{
		{"defaults primary", PrimaryPolicy(), true},
		{"defaults secondary", SecondaryPolicy(), true},
		{"zero attempts", Policy{}, false},
		{"negative delay", Policy{MaxAttempts: 1, BaseDelay: -1}, false},
		{"shrinking multiplier", Policy{MaxAttempts: 1, Multiplier: 0.5}, false},
		{"jitter above one", Policy{MaxAttempts: 1, Jitter: 1.5}, false},
		{"uncapped delay", Policy{MaxAttempts: 4, BaseDelay: time.Second, Multiplier: 10}, false},
		{"no delay needs no cap", Policy{MaxAttempts: 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, storefront.IsConfigError(err), "got %v", err)
			}
		})
	}
}

func TestRun_SucceedsFirstAttempt(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(0, 0))
	c := newTestController(clock)

	attempts, err := c.Run(context.Background(), "primary", testPolicy(), func(context.Context) error { return nil })

	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, storefront.OutcomeSuccess, attempts[0].Outcome)
	assert.Empty(t, clock.Sleeps())
}

func TestRun_RetriesTransientThenSucceeds(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(0, 0))
	c := newTestController(clock)

	calls := 0
	attempts, err := c.Run(context.Background(), "primary", testPolicy(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTimeout
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	require.Len(t, attempts, 3)
	assert.Equal(t, storefront.OutcomeTransient, attempts[0].Outcome)
	assert.Equal(t, storefront.OutcomeTransient, attempts[1].Outcome)
	assert.Equal(t, storefront.OutcomeSuccess, attempts[2].Outcome)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 15 * time.Millisecond}, clock.Sleeps())
	assert.Equal(t, 10*time.Millisecond, attempts[0].Backoff)
}

func TestRun_TerminalIsNotRetried(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(0, 0))
	c := newTestController(clock)
	terminal := storefront.NewRecordNotFoundError(storefront.KindProduct, "p-1")

	calls := 0
	attempts, err := c.Run(context.Background(), "primary", testPolicy(), func(context.Context) error {
		calls++
		return terminal
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, terminal)
	require.Len(t, attempts, 1)
	assert.Equal(t, storefront.OutcomeTerminal, attempts[0].Outcome)
	assert.Empty(t, clock.Sleeps())
}

func TestRun_ExhaustionReturnsFailure(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(0, 0))
	c := newTestController(clock)

	attempts, err := c.Run(context.Background(), "secondary", testPolicy(), func(context.Context) error {
		return errTimeout
	})

	require.Error(t, err)
	assert.Equal(t, storefront.FailureExhausted, storefront.FailureKindOf(err))
	assert.ErrorIs(t, err, errTimeout)
	require.Len(t, attempts, 3)
	for i, a := range attempts {
		assert.Equal(t, "secondary", a.Path)
		assert.Equal(t, i+1, a.Number)
		assert.Equal(t, storefront.OutcomeTransient, a.Outcome)
	}
	assert.Len(t, clock.Sleeps(), 2, "no sleep after the final attempt")
}

func TestRun_AttemptTimeoutIsTransient(t *testing.T) {
	c := NewController(WithRandom(func() float64 { return 0.5 }))
	policy := Policy{MaxAttempts: 2, AttemptTimeout: 5 * time.Millisecond}

	calls := 0
	attempts, err := c.Run(context.Background(), "primary", policy, func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})

	assert.Equal(t, 2, calls)
	assert.Equal(t, storefront.FailureExhausted, storefront.FailureKindOf(err))
	require.Len(t, attempts, 2)
	assert.Equal(t, storefront.OutcomeTransient, attempts[0].Outcome)
}

func TestRun_CallerCancellationStopsRetries(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(0, 0))
	c := newTestController(clock)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := c.Run(ctx, "primary", testPolicy(), func(context.Context) error {
		calls++
		cancel()
		return errTimeout
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, storefront.FailureExhausted, storefront.FailureKindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_InvalidPolicy(t *testing.T) {
	c := NewController()
	_, err := c.Run(context.Background(), "primary", Policy{}, func(context.Context) error { return nil })
	assert.True(t, storefront.IsConfigError(err))
}

func TestExecute_ReturnsValue(t *testing.T) {
	clock := testutil.NewFakeClock(time.Unix(0, 0))
	c := newTestController(clock)

	v, attempts, err := Execute(context.Background(), c, "primary", testPolicy(), func(context.Context) (int, error) {
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Len(t, attempts, 1)
}
