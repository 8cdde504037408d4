package assertion

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/store"
)

// Engine evaluates assertion specs against artifacts loaded through the
// storage manager.
type Engine struct {
	manager *store.Manager
	logger  *slog.Logger
}

// NewEngine creates an assertion engine.
func NewEngine(manager *store.Manager, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{manager: manager, logger: logger}
}

// EvaluateDOM loads the HTML snapshot once and evaluates every DOM rule
// against it. A missing ref with rules demanding one yields a single
// failed result, never an error.
func (e *Engine) EvaluateDOM(ctx context.Context, spec *DOMSpec, htmlRef *store.StorageRef) []Result {
	if spec.Empty() {
		return nil
	}
	if htmlRef == nil {
		return []Result{{
			Type:    TypeDOM,
			Rule:    "dom",
			Passed:  false,
			Message: "No DOM reference provided",
		}}
	}

	html, err := e.manager.RetrieveDOM(ctx, htmlRef)
	if err != nil {
		return []Result{{
			Type:    TypeDOM,
			Rule:    "dom",
			Passed:  false,
			Message: fmt.Sprintf("DOM snapshot could not be loaded: %v", err),
		}}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return []Result{{
			Type:    TypeDOM,
			Rule:    "dom",
			Passed:  false,
			Message: fmt.Sprintf("DOM snapshot could not be parsed: %v", err),
		}}
	}

	var results []Result
	for _, selector := range spec.Exists {
		results = append(results, evalExists(doc, selector, true))
	}
	for _, selector := range spec.NotExists {
		results = append(results, evalExists(doc, selector, false))
	}
	for _, selector := range spec.Visible {
		results = append(results, evalVisibility(doc, selector, true))
	}
	for _, selector := range spec.Hidden {
		results = append(results, evalVisibility(doc, selector, false))
	}
	for _, rule := range spec.TextContent {
		results = append(results, evalTextContent(doc, rule))
	}
	for _, rule := range spec.Attributes {
		results = append(results, evalAttribute(doc, rule))
	}
	for _, rule := range spec.Count {
		results = append(results, evalCount(doc, rule))
	}
	return results
}

// selectAll compiles and runs a selector, reporting compile errors as a
// failed result instead of an exception.
func selectAll(doc *goquery.Document, selector string) (*goquery.Selection, *Result) {
	matcher, err := cascadia.Compile(selector)
	if err != nil {
		return nil, &Result{
			Type:    TypeDOM,
			Rule:    "selector",
			Passed:  false,
			Message: fmt.Sprintf("Invalid selector %q: %v", selector, err),
		}
	}
	return doc.FindMatcher(matcher), nil
}

func evalExists(doc *goquery.Document, selector string, wantPresent bool) Result {
	sel, errResult := selectAll(doc, selector)
	if errResult != nil {
		return *errResult
	}

	count := sel.Length()
	if wantPresent {
		return Result{
			Type:     TypeDOM,
			Rule:     "exists",
			Passed:   count >= 1,
			Message:  fmt.Sprintf("Element %q should exist", selector),
			Expected: ">= 1 match",
			Actual:   fmt.Sprintf("%d matches", count),
		}
	}
	return Result{
		Type:     TypeDOM,
		Rule:     "notExists",
		Passed:   count == 0,
		Message:  fmt.Sprintf("Element %q should not exist", selector),
		Expected: "0 matches",
		Actual:   fmt.Sprintf("%d matches", count),
	}
}

// inlineHidden reports whether an inline style hides the element,
// tolerating arbitrary whitespace around the colon.
func inlineHidden(style string) bool {
	normalized := strings.ToLower(strings.Join(strings.Fields(style), ""))
	return strings.Contains(normalized, "display:none") ||
		strings.Contains(normalized, "visibility:hidden")
}

func evalVisibility(doc *goquery.Document, selector string, wantVisible bool) Result {
	rule := "visible"
	if !wantVisible {
		rule = "hidden"
	}

	sel, errResult := selectAll(doc, selector)
	if errResult != nil {
		return *errResult
	}
	if sel.Length() == 0 {
		return Result{
			Type:    TypeDOM,
			Rule:    rule,
			Passed:  false,
			Message: fmt.Sprintf("Element %q not found", selector),
		}
	}

	style, _ := sel.First().Attr("style")
	hidden := inlineHidden(style)
	passed := hidden != wantVisible
	return Result{
		Type:     TypeDOM,
		Rule:     rule,
		Passed:   passed,
		Message:  fmt.Sprintf("Element %q should be %s", selector, rule),
		Expected: rule,
		Actual:   fmt.Sprintf("style=%q", style),
	}
}

func evalTextContent(doc *goquery.Document, rule TextRule) Result {
	sel, errResult := selectAll(doc, rule.Selector)
	if errResult != nil {
		return *errResult
	}
	if sel.Length() == 0 {
		return Result{
			Type:    TypeDOM,
			Rule:    "textContent",
			Passed:  false,
			Message: fmt.Sprintf("Element %q not found", rule.Selector),
		}
	}

	actual := strings.TrimSpace(sel.First().Text())
	passed, err := matchText(actual, rule.Text, rule.Match)
	if err != nil {
		return Result{
			Type:    TypeDOM,
			Rule:    "textContent",
			Passed:  false,
			Message: err.Error(),
		}
	}
	return Result{
		Type:     TypeDOM,
		Rule:     "textContent",
		Passed:   passed,
		Message:  fmt.Sprintf("Text of %q should %s %q", rule.Selector, matchMode(rule.Match), rule.Text),
		Expected: rule.Text,
		Actual:   actual,
	}
}

func evalAttribute(doc *goquery.Document, rule AttributeRule) Result {
	sel, errResult := selectAll(doc, rule.Selector)
	if errResult != nil {
		return *errResult
	}
	if sel.Length() == 0 {
		return Result{
			Type:    TypeDOM,
			Rule:    "attributes",
			Passed:  false,
			Message: fmt.Sprintf("Element %q not found", rule.Selector),
		}
	}

	actual, ok := sel.First().Attr(rule.Attribute)
	if !ok {
		return Result{
			Type:     TypeDOM,
			Rule:     "attributes",
			Passed:   false,
			Message:  fmt.Sprintf("Element %q has no attribute %q", rule.Selector, rule.Attribute),
			Expected: rule.Value,
		}
	}

	passed, err := matchText(actual, rule.Value, rule.Match)
	if err != nil {
		return Result{
			Type:    TypeDOM,
			Rule:    "attributes",
			Passed:  false,
			Message: err.Error(),
		}
	}
	return Result{
		Type:     TypeDOM,
		Rule:     "attributes",
		Passed:   passed,
		Message:  fmt.Sprintf("Attribute %s of %q should %s %q", rule.Attribute, rule.Selector, matchMode(rule.Match), rule.Value),
		Expected: rule.Value,
		Actual:   actual,
	}
}

func evalCount(doc *goquery.Document, rule CountRule) Result {
	sel, errResult := selectAll(doc, rule.Selector)
	if errResult != nil {
		return *errResult
	}

	count := sel.Length()
	operator := rule.Operator
	if operator == "" {
		operator = OpEqual
	}

	var passed bool
	switch operator {
	case OpEqual:
		passed = count == rule.Count
	case OpGt:
		passed = count > rule.Count
	case OpLt:
		passed = count < rule.Count
	case OpGte:
		passed = count >= rule.Count
	case OpLte:
		passed = count <= rule.Count
	default:
		return Result{
			Type:    TypeDOM,
			Rule:    "count",
			Passed:  false,
			Message: fmt.Sprintf("Unknown count operator %q", operator),
		}
	}

	return Result{
		Type:     TypeDOM,
		Rule:     "count",
		Passed:   passed,
		Message:  fmt.Sprintf("Count of %q should be %s %d", rule.Selector, operator, rule.Count),
		Expected: fmt.Sprintf("%s %d", operator, rule.Count),
		Actual:   fmt.Sprintf("%d", count),
	}
}

// matchText applies a match mode, defaulting to contains. Invalid regex
// patterns surface as an error for the caller to fold into a failed
// result.
func matchText(actual, expected, mode string) (bool, error) {
	switch mode {
	case MatchExact:
		return actual == expected, nil
	case MatchRegex:
		re, err := regexp.Compile(expected)
		if err != nil {
			return false, fmt.Errorf("invalid regex %q: %v", expected, err)
		}
		return re.MatchString(actual), nil
	case MatchContains, "":
		return strings.Contains(actual, expected), nil
	default:
		return false, fmt.Errorf("unknown match mode %q", mode)
	}
}

func matchMode(mode string) string {
	if mode == "" {
		return MatchContains
	}
	return mode
}
