// Package assertion evaluates structured DOM and console rules against
// stored checkpoint artifacts. A failing or erroring rule produces a
// failed result; evaluation of one rule never aborts the others.
package assertion

// Match modes for text and attribute rules.
const (
	MatchExact    = "exact"
	MatchContains = "contains"
	MatchRegex    = "regex"
)

// Count operators.
const (
	OpEqual = "equal"
	OpGt    = "gt"
	OpLt    = "lt"
	OpGte   = "gte"
	OpLte   = "lte"
)

// Result types.
const (
	TypeDOM     = "dom"
	TypeConsole = "console"
	TypeVisual  = "visual"
	TypeCustom  = "custom"
)

// Result is the outcome of one rule evaluation.
type Result struct {
	Type     string `json:"type"`
	Rule     string `json:"rule"`
	Passed   bool   `json:"passed"`
	Message  string `json:"message"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// TextRule asserts on the first element matching Selector.
type TextRule struct {
	Selector string `json:"selector" yaml:"selector"`
	Text     string `json:"text" yaml:"text"`
	Match    string `json:"match,omitempty" yaml:"match,omitempty"`
}

// AttributeRule asserts an attribute value on the first matching element.
type AttributeRule struct {
	Selector  string `json:"selector" yaml:"selector"`
	Attribute string `json:"attribute" yaml:"attribute"`
	Value     string `json:"value" yaml:"value"`
	Match     string `json:"match,omitempty" yaml:"match,omitempty"`
}

// CountRule asserts how many elements match Selector.
type CountRule struct {
	Selector string `json:"selector" yaml:"selector"`
	Count    int    `json:"count" yaml:"count"`
	Operator string `json:"operator,omitempty" yaml:"operator,omitempty"`
}

// DOMSpec is the set of DOM rules evaluated against one HTML snapshot.
type DOMSpec struct {
	Exists      []string        `json:"exists,omitempty" yaml:"exists,omitempty"`
	NotExists   []string        `json:"notExists,omitempty" yaml:"notExists,omitempty"`
	Visible     []string        `json:"visible,omitempty" yaml:"visible,omitempty"`
	Hidden      []string        `json:"hidden,omitempty" yaml:"hidden,omitempty"`
	TextContent []TextRule      `json:"textContent,omitempty" yaml:"textContent,omitempty"`
	Attributes  []AttributeRule `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Count       []CountRule     `json:"count,omitempty" yaml:"count,omitempty"`
}

// Empty reports whether no DOM rule is present.
func (s *DOMSpec) Empty() bool {
	return s == nil || (len(s.Exists) == 0 && len(s.NotExists) == 0 &&
		len(s.Visible) == 0 && len(s.Hidden) == 0 &&
		len(s.TextContent) == 0 && len(s.Attributes) == 0 && len(s.Count) == 0)
}

// MessageRule matches console entries by level and text.
type MessageRule struct {
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
	Text  string `json:"text" yaml:"text"`
	Match string `json:"match,omitempty" yaml:"match,omitempty"`
}

// ConsoleSpec is the set of console rules evaluated against one
// collection.
type ConsoleSpec struct {
	MaxErrors         *int          `json:"maxErrors,omitempty" yaml:"maxErrors,omitempty"`
	MaxWarnings       *int          `json:"maxWarnings,omitempty" yaml:"maxWarnings,omitempty"`
	ExpectedMessages  []MessageRule `json:"expectedMessages,omitempty" yaml:"expectedMessages,omitempty"`
	ForbiddenMessages []MessageRule `json:"forbiddenMessages,omitempty" yaml:"forbiddenMessages,omitempty"`
}

// Empty reports whether no console rule is present.
func (s *ConsoleSpec) Empty() bool {
	return s == nil || (s.MaxErrors == nil && s.MaxWarnings == nil &&
		len(s.ExpectedMessages) == 0 && len(s.ForbiddenMessages) == 0)
}
