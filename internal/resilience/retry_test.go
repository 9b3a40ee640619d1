package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0,
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(5), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return MarkTransient(eris.New("connection dropped"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_DoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(5), func(ctx context.Context) error {
		calls++
		return eris.Wrap(ErrSchemaMismatch, "diff rows")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, eris.Is(err, ErrSchemaMismatch))
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	onRetries := 0
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, err error) { onRetries++ }

	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return MarkTransient(eris.New("read timeout"))
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, onRetries)
}

func TestDo_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, fastRetry(10), func(ctx context.Context) error {
		calls++
		cancel()
		return MarkTransient(eris.New("reset"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVal_ReturnsValue(t *testing.T) {
	calls := 0
	got, err := DoVal(context.Background(), fastRetry(3), func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, MarkTransient(eris.New("flaky"))
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"marked transient", MarkTransient(eris.New("x")), true},
		{"pool exhausted", eris.Wrap(ErrPoolExhausted, "read source"), true},
		{"schema mismatch", ErrSchemaMismatch, false},
		{"as-of regression", ErrAsOfRegression, false},
		{"connection reset string", eris.New("write tcp: connection reset by peer"), true},
		{"statement timeout", eris.New("ERROR: canceling statement due to statement timeout (SQLSTATE 57014)"), true},
		{"too many connections", eris.New("FATAL: sorry, too many connections"), true},
		{"plain failure", eris.New("syntax error at or near SELECT"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestBackoff_IsCappedAndGrows(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     40 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0,
	})
	assert.Equal(t, 10*time.Millisecond, backoff(0, cfg))
	assert.Equal(t, 20*time.Millisecond, backoff(1, cfg))
	assert.Equal(t, 40*time.Millisecond, backoff(2, cfg))
	assert.Equal(t, 40*time.Millisecond, backoff(5, cfg))
}
