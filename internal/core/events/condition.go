package events

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"tenantdb/internal/core/apperror"
)

// condition is a compiled CEL filter over message attributes.
//
// Variables: kind ("domain_event" | "entity_change"), entity_type,
// change ("created" | "updated" | "deleted", empty for domain events),
// event_type (payload type name, empty for changes), has_tenant, tenant_id.
type condition struct {
	expr    string
	program cel.Program
}

var conditionEnv = mustConditionEnv()

func mustConditionEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("kind", cel.StringType),
		cel.Variable("entity_type", cel.StringType),
		cel.Variable("change", cel.StringType),
		cel.Variable("event_type", cel.StringType),
		cel.Variable("has_tenant", cel.BoolType),
		cel.Variable("tenant_id", cel.IntType),
	)
	if err != nil {
		panic(fmt.Sprintf("events: build CEL env: %v", err))
	}
	return env
}

func compileCondition(expr string) (*condition, error) {
	if expr == "" {
		return nil, apperror.NewConfiguration("subscriber condition must not be empty")
	}
	ast, issues := conditionEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, apperror.NewConfiguration(fmt.Sprintf("invalid subscriber condition %q", expr)).
			WithCause(issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, apperror.NewConfiguration(fmt.Sprintf("subscriber condition %q must evaluate to bool", expr))
	}
	prg, err := conditionEnv.Program(ast)
	if err != nil {
		return nil, apperror.NewConfiguration(fmt.Sprintf("invalid subscriber condition %q", expr)).
			WithCause(err)
	}
	return &condition{expr: expr, program: prg}, nil
}

func (c *condition) matches(m Message) (bool, error) {
	out, _, err := c.program.Eval(m.attributes())
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", c.expr, err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("evaluate %q: non-bool result %T", c.expr, out.Value())
	}
	return ok, nil
}
