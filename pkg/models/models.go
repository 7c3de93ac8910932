// Package models defines the request and response bodies of the querio
// server.
package models

// AdviseRequest asks for advice on one query. The query may be sent as
// "query" or, for older clients, as "sql".
type AdviseRequest struct {
	Query *string `json:"query,omitempty"`
	SQL   *string `json:"sql,omitempty"`

	// Offline skips plan enrichment for this request.
	Offline bool `json:"offline,omitempty"`
}

// Text returns the query text and whether one was sent. "query" wins over
// "sql". An empty string counts as sent.
func (r AdviseRequest) Text() (string, bool) {
	switch {
	case r.Query != nil:
		return *r.Query, true
	case r.SQL != nil:
		return *r.SQL, true
	default:
		return "", false
	}
}

// AdviseResponse is the advice for one query. ExplainPlan is the engine's
// plan object, "N/A", or a string starting with "EXPLAIN skipped: ".
type AdviseResponse struct {
	ID             string   `json:"id" yaml:"id"`
	Query          string   `json:"query" yaml:"query"`
	OptimizedQuery string   `json:"optimized_query" yaml:"optimized_query"`
	Issues         []string `json:"issues" yaml:"issues"`
	Suggestions    []string `json:"suggestions" yaml:"suggestions"`
	ExplainPlan    any      `json:"explain_plan" yaml:"explain_plan"`
	StatementType  string   `json:"statement_type,omitempty" yaml:"statement_type,omitempty"`
	Tables         []string `json:"tables,omitempty" yaml:"tables,omitempty"`
	Rules          []string `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// HealthResponse is the liveness body.
type HealthResponse struct {
	Status string `json:"status"`
}

// ComponentStatus is the readiness of one dependency.
type ComponentStatus struct {
	Ready    bool   `json:"ready"`
	Required bool   `json:"required"`
	Message  string `json:"message"`
}

// ReadinessResponse is the readiness body.
type ReadinessResponse struct {
	Ready      bool                       `json:"ready"`
	Degraded   bool                       `json:"degraded"`
	Components map[string]ComponentStatus `json:"components"`
}

// VersionResponse describes the running server.
type VersionResponse struct {
	Version    string `json:"version"`
	APIVersion string `json:"api_version"`
	Commit     string `json:"commit"`
	BuildDate  string `json:"build_date"`
}

// ErrorResponse is the API response for errors.
type ErrorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	Reason     string `json:"reason,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}
