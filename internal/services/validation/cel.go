package validation

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// RuleEngine compiles CEL rules for custom formats.
// Rules see two variables: value (the raw string) and typed (the value
// decoded in the format's base).
// Example: typed > 0.0 && typed <= 1000.0
type RuleEngine struct {
	env *cel.Env
}

// Rule is a compiled custom format rule
type Rule struct {
	expression string
	program    cel.Program
}

// NewRuleEngine creates a CEL environment for format rules
func NewRuleEngine() (*RuleEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.StringType),
		cel.Variable("typed", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &RuleEngine{env: env}, nil
}

// Compile parses and checks expression. The expression must return a boolean.
func (e *RuleEngine) Compile(expression string) (*Rule, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid CEL expression: %w", issues.Err())
	}

	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("CEL expression must return boolean, got: %s", out)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Rule{expression: expression, program: program}, nil
}

// Expression returns the rule source
func (r *Rule) Expression() string {
	return r.expression
}

// Eval runs the rule against a raw value and its decoded form
func (r *Rule) Eval(raw string, typed any) (bool, error) {
	result, _, err := r.program.Eval(map[string]any{
		"value": raw,
		"typed": typed,
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	ok, isBool := result.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("CEL expression did not evaluate to boolean, got: %T", result.Value())
	}

	return ok, nil
}
