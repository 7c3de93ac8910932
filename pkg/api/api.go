// Package api defines the public endpoints and wire constants of the querio
// server.
package api

// API version
const Version = "0.1.0"

// API endpoints
const (
	EndpointOptimize     = "/optimize"
	EndpointAdvise       = "/api/v1/advise"
	EndpointAuditSummary = "/api/v1/audit/summary"
	EndpointVersion      = "/api/v1/version"
	EndpointHealth       = "/health"
	EndpointReady        = "/readyz"
)

// HTTP headers
const (
	HeaderContentType   = "Content-Type"
	HeaderAuthorization = "Authorization"
	HeaderRequestID     = "X-Request-ID"
	HeaderAdviceID      = "X-Advice-ID"
)

// Content types
const (
	ContentTypeJSON = "application/json"
)

// Error codes carried in ErrorResponse.Code.
const (
	CodeInvalidRequest        = "INVALID_REQUEST"
	CodeQueryRejected         = "QUERY_REJECTED"
	CodeAuthFailed            = "AUTH_FAILED"
	CodePlanSourceUnavailable = "PLAN_SOURCE_UNAVAILABLE"
	CodeRelationNotFound      = "RELATION_NOT_FOUND"
	CodePlanTimeout           = "PLAN_TIMEOUT"
	CodeInvalidConfig         = "INVALID_CONFIG"
	CodeInternal              = "INTERNAL"
)

// MaxRequestBytes caps the size of an advice request body.
const MaxRequestBytes = 1 << 20
