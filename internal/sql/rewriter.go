package sql

import (
	"regexp"
	"slices"
	"strings"
)

// Rule tags shared by the advisor and the rewriter.
const (
	TagWildcard   = "wildcard-projection"
	TagArithmetic = "filter-arithmetic"
)

// RewriteRule is one textual substitution, applied only when the advisor
// reports that the rule's tag fired.
type RewriteRule struct {
	// Tag links the rule to the check that enables it.
	Tag string

	// Pattern matches the text to replace.
	Pattern *regexp.Regexp

	// Replacement is inserted literally.
	Replacement string

	// Limit caps the number of replacements; 0 replaces every match.
	Limit int
}

// Apply rewrites query with the rule.
func (r RewriteRule) Apply(query string) string {
	if r.Limit <= 0 {
		return r.Pattern.ReplaceAllLiteralString(query, r.Replacement)
	}

	var b strings.Builder
	rest := query
	for n := 0; n < r.Limit; n++ {
		loc := r.Pattern.FindStringIndex(rest)
		if loc == nil {
			break
		}
		b.WriteString(rest[:loc[0]])
		b.WriteString(r.Replacement)
		rest = rest[loc[1]:]
	}
	b.WriteString(rest)
	return b.String()
}

// Patterns for the recognised anti-patterns.
var (
	// SELECT followed by a bare * projection.
	wildcardPattern = regexp.MustCompile(`(?i)\bSELECT\s+\*`)

	ageOffsetComparison = regexp.MustCompile(regexp.QuoteMeta("age + 1 > 30"))
	ageDecrement        = regexp.MustCompile(regexp.QuoteMeta("age - 1"))
)

// DefaultRules is the ordered rule table. The arithmetic rules only know the
// literal forms below; any other expression is flagged but left as written.
// "age - 1" drops the operand whatever the comparison around it.
var DefaultRules = []RewriteRule{
	{Tag: TagWildcard, Pattern: wildcardPattern, Replacement: "SELECT id, name", Limit: 1},
	{Tag: TagArithmetic, Pattern: ageOffsetComparison, Replacement: "age > 29"},
	{Tag: TagArithmetic, Pattern: ageDecrement, Replacement: "age"},
}

// HasWildcardProjection reports whether text contains a SELECT * projection,
// ignoring case.
func HasWildcardProjection(text string) bool {
	return wildcardPattern.MatchString(text)
}

// Rewriter applies an ordered rule table.
type Rewriter struct {
	rules []RewriteRule
}

// NewRewriter creates a rewriter over rules, or over DefaultRules when none
// are given.
func NewRewriter(rules ...RewriteRule) *Rewriter {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Rewriter{rules: rules}
}

// Rewrite applies, in table order, every rule whose tag is in fired. It
// returns the rewritten query and the tags of the rules that changed it.
// With nothing fired the query is returned unchanged.
func (r *Rewriter) Rewrite(query string, fired ...string) (string, []string) {
	if len(fired) == 0 {
		return query, nil
	}
	enabled := make(map[string]bool, len(fired))
	for _, tag := range fired {
		enabled[tag] = true
	}

	result := query
	var changed []string
	for _, rule := range r.rules {
		if !enabled[rule.Tag] {
			continue
		}
		next := rule.Apply(result)
		if next != result && !slices.Contains(changed, rule.Tag) {
			changed = append(changed, rule.Tag)
		}
		result = next
	}
	return result, changed
}

