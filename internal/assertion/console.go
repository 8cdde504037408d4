package assertion

import (
	"context"
	"fmt"

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/store"
)

// EvaluateConsole loads the console collection once and evaluates every
// console rule against it. A missing ref with rules demanding one
// yields a single failed result, never an error.
func (e *Engine) EvaluateConsole(ctx context.Context, spec *ConsoleSpec, consoleRef *store.StorageRef) []Result {
	if spec.Empty() {
		return nil
	}
	if consoleRef == nil {
		return []Result{{
			Type:    TypeConsole,
			Rule:    "console",
			Passed:  false,
			Message: "No console reference provided",
		}}
	}

	entries, err := e.manager.RetrieveConsole(ctx, consoleRef)
	if err != nil {
		return []Result{{
			Type:    TypeConsole,
			Rule:    "console",
			Passed:  false,
			Message: fmt.Sprintf("Console collection could not be loaded: %v", err),
		}}
	}

	var results []Result
	if spec.MaxErrors != nil {
		results = append(results, evalMaxLevel(entries, store.LevelError, "maxErrors", *spec.MaxErrors))
	}
	if spec.MaxWarnings != nil {
		results = append(results, evalMaxLevel(entries, store.LevelWarn, "maxWarnings", *spec.MaxWarnings))
	}
	for _, rule := range spec.ExpectedMessages {
		results = append(results, evalExpectedMessage(entries, rule))
	}
	for _, rule := range spec.ForbiddenMessages {
		results = append(results, evalForbiddenMessage(entries, rule))
	}
	return results
}

func evalMaxLevel(entries []store.ConsoleEntry, level, rule string, max int) Result {
	count := 0
	for _, e := range entries {
		if e.Level == level {
			count++
		}
	}
	return Result{
		Type:     TypeConsole,
		Rule:     rule,
		Passed:   count <= max,
		Message:  fmt.Sprintf("At most %d %s entries allowed, found %d", max, level, count),
		Expected: fmt.Sprintf("<= %d", max),
		Actual:   fmt.Sprintf("%d", count),
	}
}

func evalExpectedMessage(entries []store.ConsoleEntry, rule MessageRule) Result {
	for _, e := range entries {
		if rule.Level != "" && e.Level != rule.Level {
			continue
		}
		ok, err := matchText(e.Message, rule.Text, rule.Match)
		if err != nil {
			return Result{
				Type:    TypeConsole,
				Rule:    "expectedMessages",
				Passed:  false,
				Message: err.Error(),
			}
		}
		if ok {
			return Result{
				Type:     TypeConsole,
				Rule:     "expectedMessages",
				Passed:   true,
				Message:  fmt.Sprintf("Expected %s message matching %q found", rule.Level, rule.Text),
				Expected: rule.Text,
				Actual:   e.Message,
			}
		}
	}
	return Result{
		Type:     TypeConsole,
		Rule:     "expectedMessages",
		Passed:   false,
		Message:  fmt.Sprintf("No %s message matching %q", rule.Level, rule.Text),
		Expected: rule.Text,
	}
}

func evalForbiddenMessage(entries []store.ConsoleEntry, rule MessageRule) Result {
	for _, e := range entries {
		if rule.Level != "" && e.Level != rule.Level {
			continue
		}
		ok, err := matchText(e.Message, rule.Text, rule.Match)
		if err != nil {
			return Result{
				Type:    TypeConsole,
				Rule:    "forbiddenMessages",
				Passed:  false,
				Message: err.Error(),
			}
		}
		if ok {
			return Result{
				Type:     TypeConsole,
				Rule:     "forbiddenMessages",
				Passed:   false,
				Message:  fmt.Sprintf("Forbidden message matching %q present", rule.Text),
				Expected: "no match",
				Actual:   e.Message,
			}
		}
	}
	return Result{
		Type:     TypeConsole,
		Rule:     "forbiddenMessages",
		Passed:   true,
		Message:  fmt.Sprintf("No message matches forbidden pattern %q", rule.Text),
		Expected: "no match",
	}
}
