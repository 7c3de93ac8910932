package status

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/canonica-labs/querio/internal/errors"
)

func TestReadinessAllReady(t *testing.T) {
	r := NewReadiness(time.Second)
	r.Add("audit_store", true, func(context.Context) error { return nil })
	r.AddStatic("plan_source", "not configured")

	result := r.Check(context.Background())

	assert.True(t, result.Ready)
	assert.False(t, result.Degraded)
	assert.Equal(t, "not configured", result.Components["plan_source"].Message)
	assert.Empty(t, result.Failing())
}

func TestReadinessOptionalFailureDegrades(t *testing.T) {
	r := NewReadiness(time.Second)
	r.Add("plan_source", false, func(context.Context) error {
		return errors.NewPlanSourceUnavailable("postgres", stderrors.New("connection refused"))
	})

	result := r.Check(context.Background())

	assert.True(t, result.Ready)
	assert.True(t, result.Degraded)
	assert.Equal(t, "postgres plan source unavailable: connection refused", result.Components["plan_source"].Message)
	assert.Equal(t, []string{"plan_source"}, result.Failing())
}

func TestReadinessRequiredFailure(t *testing.T) {
	r := NewReadiness(time.Second)
	r.Add("audit_store", true, func(context.Context) error { return stderrors.New("disk full") })
	r.Add("plan_source", false, func(context.Context) error { return nil })

	result := r.Check(context.Background())

	assert.False(t, result.Ready)
	assert.Equal(t, []string{"audit_store"}, result.Failing())
}

func TestReadinessProbeTimeout(t *testing.T) {
	r := NewReadiness(10 * time.Millisecond)
	r.Add("slow", true, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	result := r.Check(context.Background())

	assert.False(t, result.Ready)
	assert.Equal(t, context.DeadlineExceeded.Error(), result.Components["slow"].Message)
}
