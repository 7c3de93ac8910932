package adapters

import (
	"context"
	"database/sql/driver"
	stderrors "errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/canonica-labs/querio/internal/errors"
)

// Backoff bounds how often a health probe is repeated. Plan enrichment
// itself never retries.
type Backoff struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	Factor   float64
}

// DefaultBackoff is three attempts, 100ms doubling up to 2s.
func DefaultBackoff() Backoff {
	return Backoff{Attempts: 3, Initial: 100 * time.Millisecond, Max: 2 * time.Second, Factor: 2}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Attempts <= 0 {
		b.Attempts = d.Attempts
	}
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Factor < 1 {
		b.Factor = d.Factor
	}
	return b
}

func (b Backoff) next(delay time.Duration) time.Duration {
	return min(time.Duration(float64(delay)*b.Factor), b.Max)
}

// ProbeReport is the outcome of a retried probe.
type ProbeReport struct {
	Attempts int
	Failures []error
	Err      error
}

// OK reports whether the last attempt succeeded.
func (r ProbeReport) OK() bool { return r.Err == nil && r.Attempts > 0 }

func (r ProbeReport) String() string {
	switch {
	case r.OK() && r.Attempts == 1:
		return "succeeded on first attempt"
	case r.OK():
		return fmt.Sprintf("succeeded after %d attempts", r.Attempts)
	default:
		return fmt.Sprintf("failed after %d attempt(s): %s", r.Attempts, errors.Summarize(r.Err))
	}
}

// Transient reports whether err looks like a connection hiccup worth
// another attempt. Deadlines, cancellations, missing relations and
// rejected credentials are final.
func Transient(err error) bool {
	if err == nil ||
		stderrors.Is(err, context.Canceled) ||
		stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var missing *errors.ErrRelationNotFound
	var denied *errors.ErrAuthFailed
	if stderrors.As(err, &missing) || stderrors.As(err, &denied) {
		return false
	}

	switch {
	case stderrors.Is(err, driver.ErrBadConn),
		stderrors.Is(err, syscall.ECONNREFUSED),
		stderrors.Is(err, syscall.ECONNRESET):
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

// Retry runs probe until it passes, fails with a non-transient error or
// the attempts run out.
func Retry(ctx context.Context, b Backoff, probe func(context.Context) error) ProbeReport {
	b = b.withDefaults()

	var report ProbeReport
	fail := func(err error) {
		report.Err = err
		report.Failures = append(report.Failures, err)
	}

	delay := b.Initial
	for report.Attempts < b.Attempts {
		if err := ctx.Err(); err != nil {
			fail(err)
			return report
		}

		report.Attempts++
		err := probe(ctx)
		if err == nil {
			report.Err = nil
			return report
		}
		fail(err)
		if !Transient(err) || report.Attempts == b.Attempts {
			return report
		}

		select {
		case <-ctx.Done():
			fail(ctx.Err())
			return report
		case <-time.After(delay):
		}
		delay = b.next(delay)
	}
	return report
}
