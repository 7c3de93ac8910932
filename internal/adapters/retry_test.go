package adapters

import (
	"context"
	"database/sql/driver"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonica-labs/querio/internal/errors"
)

var fast = Backoff{Attempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2}

func TestBackoffDefaults(t *testing.T) {
	b := Backoff{}.withDefaults()
	assert.Equal(t, DefaultBackoff(), b)

	assert.Equal(t, 200*time.Millisecond, b.next(100*time.Millisecond))
	assert.Equal(t, 2*time.Second, b.next(1500*time.Millisecond))
}

func TestRetry(t *testing.T) {
	tests := []struct {
		name     string
		failures []error
		calls    int
		ok       bool
		summary  string
	}{
		{
			name:    "first attempt",
			calls:   1,
			ok:      true,
			summary: "succeeded on first attempt",
		},
		{
			name:     "transient then healthy",
			failures: []error{fmt.Errorf("dial: %w", syscall.ECONNREFUSED), driver.ErrBadConn},
			calls:    3,
			ok:       true,
			summary:  "succeeded after 3 attempts",
		},
		{
			name:     "missing relation is final",
			failures: []error{errors.NewRelationNotFound("postgres", "users", nil)},
			calls:    1,
			summary:  `failed after 1 attempt(s): postgres rejected the query: relation "users" does not exist`,
		},
		{
			name:     "gives up",
			failures: []error{driver.ErrBadConn, driver.ErrBadConn, driver.ErrBadConn, driver.ErrBadConn},
			calls:    3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			report := Retry(context.Background(), fast, func(context.Context) error {
				calls++
				if calls <= len(tt.failures) {
					return tt.failures[calls-1]
				}
				return nil
			})

			assert.Equal(t, tt.calls, calls)
			assert.Equal(t, tt.calls, report.Attempts)
			assert.Equal(t, tt.ok, report.OK())
			if tt.ok {
				assert.NoError(t, report.Err)
				assert.Len(t, report.Failures, calls-1)
			} else {
				assert.Error(t, report.Err)
				assert.Len(t, report.Failures, calls)
			}
			if tt.summary != "" {
				assert.Equal(t, tt.summary, report.String())
			}
		})
	}
}

func TestRetryCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	report := Retry(ctx, fast, func(context.Context) error {
		calls++
		return nil
	})

	require.False(t, report.OK())
	assert.Zero(t, calls)
	assert.ErrorIs(t, report.Err, context.Canceled)
}

func TestTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad conn", driver.ErrBadConn, true},
		{"refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"reset", syscall.ECONNRESET, true},
		{"deadline", context.DeadlineExceeded, false},
		{"canceled", fmt.Errorf("x: %w", context.Canceled), false},
		{"missing relation", errors.NewRelationNotFound("mysql", "t", driver.ErrBadConn), false},
		{"auth", errors.NewAuthFailed("bad token"), false},
		{"plain", fmt.Errorf("syntax error"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Transient(tc.err))
		})
	}
}
