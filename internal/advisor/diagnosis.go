package advisor

import (
	"encoding/json"

	"github.com/canonica-labs/querio/internal/adapters"
	"github.com/canonica-labs/querio/pkg/models"
)

// Explain-plan sentinels.
const (
	PlanNotAvailable = "N/A"
	PlanSkipPrefix   = "EXPLAIN skipped: "
)

// PlanStatus says whether, and how, a plan source was consulted.
type PlanStatus int

const (
	// PlanNotConsulted means enrichment was disabled for the call.
	PlanNotConsulted PlanStatus = iota
	// PlanFailed means a plan was requested and none was obtained.
	PlanFailed
	// PlanAvailable means the engine returned a plan.
	PlanAvailable
)

func (s PlanStatus) String() string {
	switch s {
	case PlanFailed:
		return "failed"
	case PlanAvailable:
		return "available"
	default:
		return "not_consulted"
	}
}

// PlanOutcome is the typed result of plan enrichment.
type PlanOutcome struct {
	Status PlanStatus
	Plan   *adapters.Plan
	Reason string
	Err    error
}

// String renders the sentinel form: "N/A", "EXPLAIN skipped: <reason>", or
// the engine's node type when a plan is available.
func (o PlanOutcome) String() string {
	switch o.Status {
	case PlanFailed:
		return PlanSkipPrefix + o.Reason
	case PlanAvailable:
		return o.Plan.NodeType
	default:
		return PlanNotAvailable
	}
}

// Value is the explain_plan payload: the raw plan node when available,
// otherwise the sentinel string.
func (o PlanOutcome) Value() any {
	if o.Status == PlanAvailable && o.Plan != nil {
		if o.Plan.Raw == nil {
			return map[string]any{"node_type": o.Plan.NodeType}
		}
		return o.Plan.Raw
	}
	return o.String()
}

// MarshalJSON emits Value.
func (o PlanOutcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Value())
}

// MarshalYAML emits Value.
func (o PlanOutcome) MarshalYAML() (any, error) {
	return o.Value(), nil
}

// Diagnosis is the advice produced for one query. Issues and Suggestions
// only ever grow during an evaluation.
type Diagnosis struct {
	ID             string      `json:"id" yaml:"id"`
	OriginalQuery  string      `json:"query" yaml:"query"`
	OptimizedQuery string      `json:"optimized_query" yaml:"optimized_query"`
	Issues         []string    `json:"issues" yaml:"issues"`
	Suggestions    []string    `json:"suggestions" yaml:"suggestions"`
	ExplainPlan    PlanOutcome `json:"explain_plan" yaml:"explain_plan"`

	// StatementType, Tables and Rules describe how the advice was reached.
	StatementType string   `json:"statement_type,omitempty" yaml:"statement_type,omitempty"`
	Tables        []string `json:"tables,omitempty" yaml:"tables,omitempty"`
	Rules         []string `json:"rules,omitempty" yaml:"rules,omitempty"`

	// Invalid is set when the query held no recognizable statement.
	Invalid bool `json:"-" yaml:"-"`
}

func newDiagnosis(id, query string) *Diagnosis {
	return &Diagnosis{
		ID:             id,
		OriginalQuery:  query,
		OptimizedQuery: query,
		Issues:         []string{},
		Suggestions:    []string{},
	}
}

func (d *Diagnosis) addIssue(msg string) {
	d.Issues = append(d.Issues, msg)
}

func (d *Diagnosis) addSuggestion(msg string) {
	d.Suggestions = append(d.Suggestions, msg)
}

func (d *Diagnosis) fire(tag string) {
	d.Rules = append(d.Rules, tag)
}

// Response converts the diagnosis to its wire form.
func (d *Diagnosis) Response() models.AdviseResponse {
	return models.AdviseResponse{
		ID:             d.ID,
		Query:          d.OriginalQuery,
		OptimizedQuery: d.OptimizedQuery,
		Issues:         d.Issues,
		Suggestions:    d.Suggestions,
		ExplainPlan:    d.ExplainPlan.Value(),
		StatementType:  d.StatementType,
		Tables:         d.Tables,
		Rules:          d.Rules,
	}
}
