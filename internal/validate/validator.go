// Package validate orchestrates per-checkpoint validation: DOM rules,
// console rules, visual comparison against a baseline, and
// host-supplied custom rules, in that order.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adam-jackson-cf/smoke-test-oracle/internal/assertion"
	"github.com/adam-jackson-cf/smoke-test-oracle/internal/errors"
	"github.com/adam-jackson-cf/smoke-test-oracle/internal/store"
)

// VisualSpec configures the visual validation of a checkpoint.
// BaselineRef is the only resolvable baseline form; BaselineName is
// carried for callers that only know a name, and always fails (name
// resolution is deliberately not implemented).
type VisualSpec struct {
	BaselineRef  *store.StorageRef `json:"baselineRef,omitempty" yaml:"baselineRef,omitempty"`
	BaselineName string            `json:"baseline,omitempty" yaml:"baseline,omitempty"`
	// Threshold is the allowed diff share in [0,1].
	Threshold float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
}

// CustomRule is an opaque host-defined validation.
type CustomRule struct {
	Name   string         `json:"name" yaml:"name"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Validations groups every rule class for one checkpoint definition.
type Validations struct {
	DOM     *assertion.DOMSpec     `json:"dom,omitempty" yaml:"dom,omitempty"`
	Console *assertion.ConsoleSpec `json:"console,omitempty" yaml:"console,omitempty"`
	Visual  *VisualSpec            `json:"visual,omitempty" yaml:"visual,omitempty"`
	Custom  []CustomRule           `json:"custom,omitempty" yaml:"custom,omitempty"`
}

// Definition names a checkpoint and the validations to run against it.
type Definition struct {
	Name        string      `json:"name" yaml:"name"`
	Validations Validations `json:"validations" yaml:"validations"`
}

// Refs points the validator at the stored artifacts to validate.
type Refs struct {
	DOM        *store.StorageRef
	Screenshot *store.StorageRef
	Console    *store.StorageRef
}

// Summary counts validation outcomes.
type Summary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// Report is the validation outcome for one checkpoint.
type Report struct {
	Passed      bool               `json:"passed"`
	Validations []assertion.Result `json:"validations"`
	Duration    time.Duration      `json:"duration"`
	Summary     Summary            `json:"summary"`
}

// CustomEvaluator runs host-defined rules. Implementations are plugged
// in by the embedding application; no rule is ever compiled or
// evaluated dynamically.
type CustomEvaluator interface {
	Evaluate(ctx context.Context, rule CustomRule, refs Refs) (assertion.Result, error)
}

// Validator runs checkpoint validations through the storage manager.
type Validator struct {
	manager    *store.Manager
	assertions *assertion.Engine
	custom     CustomEvaluator
	logger     *slog.Logger
}

// NewValidator creates a validator. custom may be nil; custom rules
// then fail as unsupported.
func NewValidator(manager *store.Manager, custom CustomEvaluator, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		manager:    manager,
		assertions: assertion.NewEngine(manager, logger),
		custom:     custom,
		logger:     logger,
	}
}

// Validate evaluates def against refs: DOM first, then console, visual,
// and custom. A failing rule never aborts the pass; every rule reports.
func (v *Validator) Validate(ctx context.Context, def *Definition, refs Refs) (*Report, error) {
	start := time.Now()

	var results []assertion.Result
	results = append(results, v.assertions.EvaluateDOM(ctx, def.Validations.DOM, refs.DOM)...)
	results = append(results, v.assertions.EvaluateConsole(ctx, def.Validations.Console, refs.Console)...)
	if def.Validations.Visual != nil {
		results = append(results, v.evaluateVisual(ctx, def.Validations.Visual, refs))
	}
	for _, rule := range def.Validations.Custom {
		results = append(results, v.evaluateCustom(ctx, rule, refs))
	}

	report := &Report{
		Validations: results,
		Duration:    time.Since(start),
	}
	report.Summary.Total = len(results)
	for _, r := range results {
		if r.Passed {
			report.Summary.Passed++
		} else {
			report.Summary.Failed++
		}
	}
	report.Passed = report.Summary.Failed == 0

	v.logger.Info("checkpoint validated",
		slog.String("name", def.Name),
		slog.Bool("passed", report.Passed),
		slog.Int("failed", report.Summary.Failed))
	return report, nil
}

func (v *Validator) evaluateVisual(ctx context.Context, spec *VisualSpec, refs Refs) assertion.Result {
	if refs.Screenshot == nil {
		return assertion.Result{
			Type:    assertion.TypeVisual,
			Rule:    "visual",
			Passed:  false,
			Message: "No screenshot reference provided",
		}
	}
	if spec.BaselineRef == nil {
		// A bare name is never resolved; see VisualSpec.
		return assertion.Result{
			Type:    assertion.TypeVisual,
			Rule:    "visual",
			Passed:  false,
			Message: "Baseline screenshot not found",
		}
	}

	result, err := v.manager.CompareScreenshots(ctx, refs.Screenshot, spec.BaselineRef, store.CompareOptions{
		Threshold: spec.Threshold,
		IncludeAA: true,
	})
	if err != nil {
		return assertion.Result{
			Type:    assertion.TypeVisual,
			Rule:    "visual",
			Passed:  false,
			Message: fmt.Sprintf("Visual comparison failed: %v", err),
		}
	}

	allowed := spec.Threshold * 100
	return assertion.Result{
		Type:     assertion.TypeVisual,
		Rule:     "visual",
		Passed:   result.DiffPercentage <= allowed,
		Message:  fmt.Sprintf("Visual diff %.2f%% against allowed %.2f%%", result.DiffPercentage, allowed),
		Expected: fmt.Sprintf("<= %.2f%%", allowed),
		Actual:   fmt.Sprintf("%.2f%%", result.DiffPercentage),
	}
}

func (v *Validator) evaluateCustom(ctx context.Context, rule CustomRule, refs Refs) assertion.Result {
	if v.custom == nil {
		err := errors.New(errors.ErrCodeUnsupportedValidation, "Validator.Validate",
			fmt.Sprintf("no evaluator registered for custom rule %q", rule.Name))
		return assertion.Result{
			Type:    assertion.TypeCustom,
			Rule:    rule.Name,
			Passed:  false,
			Message: err.Error(),
		}
	}

	result, err := v.custom.Evaluate(ctx, rule, refs)
	if err != nil {
		return assertion.Result{
			Type:    assertion.TypeCustom,
			Rule:    rule.Name,
			Passed:  false,
			Message: fmt.Sprintf("Custom rule %q failed: %v", rule.Name, err),
		}
	}
	return result
}
