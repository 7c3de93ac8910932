// Package errors provides explicit, human-readable error types for querio.
// Every error carries a Reason and a Suggestion so callers can act on it.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// QuerioError is the base error type for all querio errors.
type QuerioError struct {
	Code       ErrorCode
	Message    string
	Reason     string
	Suggestion string
	Cause      error
}

// ErrorCode represents the category of error for exit code mapping.
type ErrorCode int

const (
	CodeValidation ErrorCode = 1
	CodeAuth       ErrorCode = 2
	CodePlanSource ErrorCode = 3
	CodeInternal   ErrorCode = 4
	CodeConfig     ErrorCode = 5
)

func (e *QuerioError) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = fmt.Sprintf("%s\nReason: %s", msg, e.Reason)
	}
	if e.Suggestion != "" {
		msg = fmt.Sprintf("%s\nSuggestion: %s", msg, e.Suggestion)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s\nCaused by: %v", msg, e.Cause)
	}
	return msg
}

func (e *QuerioError) Unwrap() error {
	return e.Cause
}

// ErrorCode returns the category of the error.
func (e *QuerioError) ErrorCode() ErrorCode {
	return e.Code
}

// Summary renders the error on a single line: message, then reason.
func (e *QuerioError) Summary() string {
	if e.Reason == "" {
		return e.Message
	}
	return e.Message + ": " + e.Reason
}

// ErrQueryRejected is returned when a query cannot be recognised as SQL.
type ErrQueryRejected struct {
	QuerioError
	Query string
}

// NewQueryRejected creates a new ErrQueryRejected.
func NewQueryRejected(query, reason string) *ErrQueryRejected {
	return &ErrQueryRejected{
		QuerioError: QuerioError{
			Code:       CodeValidation,
			Message:    "query rejected",
			Reason:     reason,
			Suggestion: "submit a single SQL statement",
		},
		Query: query,
	}
}

// ErrInvalidRequest is returned when a transport request is malformed.
type ErrInvalidRequest struct {
	QuerioError
	Field string
}

// NewInvalidRequest creates a new ErrInvalidRequest.
func NewInvalidRequest(field, reason string) *ErrInvalidRequest {
	return &ErrInvalidRequest{
		QuerioError: QuerioError{
			Code:       CodeValidation,
			Message:    "invalid request",
			Reason:     fmt.Sprintf("field '%s': %s", field, reason),
			Suggestion: `send a JSON body like {"query": "SELECT ..."}`,
		},
		Field: field,
	}
}

// ErrPlanSourceUnavailable is returned when a plan source cannot be reached
// or fails while producing a plan.
type ErrPlanSourceUnavailable struct {
	QuerioError
	Source string
}

// NewPlanSourceUnavailable creates a new ErrPlanSourceUnavailable.
func NewPlanSourceUnavailable(source string, cause error) *ErrPlanSourceUnavailable {
	reason := "unknown failure"
	if cause != nil {
		reason = cause.Error()
	}
	return &ErrPlanSourceUnavailable{
		QuerioError: QuerioError{
			Code:       CodePlanSource,
			Message:    fmt.Sprintf("%s plan source unavailable", source),
			Reason:     reason,
			Suggestion: "check plan_source settings with 'querio doctor'",
			Cause:      cause,
		},
		Source: source,
	}
}

// ErrRelationNotFound is returned when the engine reports that a table
// referenced by the query does not exist.
type ErrRelationNotFound struct {
	QuerioError
	Source   string
	Relation string
}

// NewRelationNotFound creates a new ErrRelationNotFound.
func NewRelationNotFound(source, relation string, cause error) *ErrRelationNotFound {
	reason := "referenced relation does not exist"
	if relation != "" {
		reason = fmt.Sprintf("relation %q does not exist", relation)
	}
	return &ErrRelationNotFound{
		QuerioError: QuerioError{
			Code:       CodePlanSource,
			Message:    fmt.Sprintf("%s rejected the query", source),
			Reason:     reason,
			Suggestion: "point plan_source at a database that holds the queried tables",
			Cause:      cause,
		},
		Source:   source,
		Relation: relation,
	}
}

// ErrPlanTimeout is returned when a plan source does not answer in time.
type ErrPlanTimeout struct {
	QuerioError
	Source string
}

// NewPlanTimeout creates a new ErrPlanTimeout.
func NewPlanTimeout(source string, cause error) *ErrPlanTimeout {
	return &ErrPlanTimeout{
		QuerioError: QuerioError{
			Code:       CodePlanSource,
			Message:    fmt.Sprintf("%s plan source timed out", source),
			Reason:     "no plan received before the deadline",
			Suggestion: "raise advisor.plan_timeout or check engine load",
			Cause:      cause,
		},
		Source: source,
	}
}

// ErrInvalidConfig is returned when configuration fails validation.
type ErrInvalidConfig struct {
	QuerioError
	Key string
}

// NewInvalidConfig creates a new ErrInvalidConfig.
func NewInvalidConfig(key, reason string) *ErrInvalidConfig {
	return &ErrInvalidConfig{
		QuerioError: QuerioError{
			Code:       CodeConfig,
			Message:    "invalid configuration",
			Reason:     fmt.Sprintf("%s: %s", key, reason),
			Suggestion: "fix the value in querio.yaml or the QUERIO_* environment",
		},
		Key: key,
	}
}

// ErrAuthFailed is returned when authentication fails.
type ErrAuthFailed struct {
	QuerioError
}

// NewAuthFailed creates a new ErrAuthFailed.
func NewAuthFailed(reason string) *ErrAuthFailed {
	return &ErrAuthFailed{
		QuerioError: QuerioError{
			Code:       CodeAuth,
			Message:    "authentication failed",
			Reason:     reason,
			Suggestion: "pass the server token with --token or QUERIO_SERVER_TOKEN",
		},
	}
}

// ErrMigrationFailed is returned when an audit store migration fails.
type ErrMigrationFailed struct {
	QuerioError
	Migration string
}

// NewMigrationFailed creates a new ErrMigrationFailed.
func NewMigrationFailed(migration string, cause error) *ErrMigrationFailed {
	return &ErrMigrationFailed{
		QuerioError: QuerioError{
			Code:       CodeInternal,
			Message:    fmt.Sprintf("migration %s failed", migration),
			Reason:     "the audit store schema could not be applied",
			Suggestion: "check audit.dsn and that the database user may create tables",
			Cause:      cause,
		},
		Migration: migration,
	}
}

type coded interface {
	ErrorCode() ErrorCode
}

type summarized interface {
	Summary() string
}

// ExitCode maps an error to a process exit code. nil maps to 0 and
// uncategorised errors map to CodeInternal.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var c coded
	if stderrors.As(err, &c) {
		return int(c.ErrorCode())
	}
	return int(CodeInternal)
}

// Summarize returns a one-line description of err suitable for embedding in
// other messages.
func Summarize(err error) string {
	if err == nil {
		return ""
	}
	var s summarized
	if stderrors.As(err, &s) {
		return s.Summary()
	}
	return err.Error()
}

// IsTimeout reports whether err is, or wraps, a deadline failure.
func IsTimeout(err error) bool {
	var t *ErrPlanTimeout
	return stderrors.As(err, &t) || stderrors.Is(err, context.DeadlineExceeded)
}
