// Package rules evaluates operator-defined drop expressions against
// decoded records before they are published downstream.
package rules

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"taiga/pkg/models"
)

type compiledRule struct {
	expression string
	program    cel.Program
}

// Engine holds the compiled drop rules. Rules are compiled once at
// construction; evaluation is read-only and safe for concurrent use.
type Engine struct {
	env   *cel.Env
	rules []compiledRule
}

// NewEngine compiles every expression against the record variable set.
// Any expression that fails to compile or does not produce a bool is a
// configuration error and rejects the whole set.
func NewEngine(expressions []string) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("docType", cel.StringType),
		cel.Variable("appName", cel.StringType),
		cel.Variable("appVersion", cel.StringType),
		cel.Variable("appUpdateChannel", cel.StringType),
		cel.Variable("normalizedChannel", cel.StringType),
		cel.Variable("sourceVersion", cel.StringType),
		cel.Variable("geoCountry", cel.StringType),
		cel.Variable("sampleId", cel.IntType),
		cel.Variable("fields", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{env: env, rules: make([]compiledRule, 0, len(expressions))}
	for _, expr := range expressions {
		program, err := compile(env, expr)
		if err != nil {
			return nil, err
		}
		e.rules = append(e.rules, compiledRule{expression: expr, program: program})
	}

	return e, nil
}

func compile(env *cel.Env, expression string) (cel.Program, error) {
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile drop rule %q: %w", expression, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("drop rule %q must return bool, got %v", expression, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for drop rule %q: %w", expression, err)
	}
	return program, nil
}

// Len reports the number of compiled rules.
func (e *Engine) Len() int {
	return len(e.rules)
}

// ShouldDrop evaluates the rules in order and returns the first matching
// expression. A rule that errors at evaluation time is skipped rather
// than dropping the record; the error is returned alongside so callers
// can count it.
func (e *Engine) ShouldDrop(ctx context.Context, rec *models.CanonicalRecord) (bool, string, error) {
	if len(e.rules) == 0 {
		return false, "", nil
	}

	var sampleID int64
	if v, ok := rec.Fields["sampleId"].(int64); ok {
		sampleID = v
	}

	vars := map[string]interface{}{
		"docType":           rec.StringField("docType"),
		"appName":           rec.StringField("appName"),
		"appVersion":        rec.StringField("appVersion"),
		"appUpdateChannel":  rec.StringField("appUpdateChannel"),
		"normalizedChannel": rec.StringField("normalizedChannel"),
		"sourceVersion":     rec.StringField("sourceVersion"),
		"geoCountry":        rec.StringField("geoCountry"),
		"sampleId":          sampleID,
		"fields":            rec.Fields,
	}

	var firstErr error
	for _, rule := range e.rules {
		result, _, err := rule.program.ContextEval(ctx, vars)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("drop rule %q evaluation failed: %w", rule.expression, err)
			}
			continue
		}

		matched, ok := result.Value().(bool)
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf("drop rule %q did not return bool, got %T",
					rule.expression, result.Value())
			}
			continue
		}

		if matched {
			return true, rule.expression, firstErr
		}
	}

	return false, "", firstErr
}
