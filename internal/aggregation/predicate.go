package aggregation

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/rzbill/conduit/internal/exchange"
)

// Predicate is a compiled CEL completion expression. The expression sees
// body (dyn), headers and properties (map(string, dyn)) and size (int, the
// number of exchanges aggregated so far).
type Predicate struct {
	expr string
	prog cel.Program
}

// CompilePredicate compiles expr. An empty expression yields a nil Predicate.
func CompilePredicate(expr string) (*Predicate, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("body", cel.DynType),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("properties", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("size", cel.IntType),
	)
	if err != nil {
		return nil, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("completion predicate %q: %w", expr, iss.Err())
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return nil, fmt.Errorf("completion predicate %q: %w", expr, iss2.Err())
	}
	if !checked.OutputType().IsExactType(cel.BoolType) && !checked.OutputType().IsExactType(cel.DynType) {
		return nil, fmt.Errorf("completion predicate %q: must evaluate to bool, got %s", expr, checked.OutputType())
	}
	prog, err := env.Program(checked)
	if err != nil {
		return nil, err
	}
	return &Predicate{expr: expr, prog: prog}, nil
}

// String returns the source expression.
func (p *Predicate) String() string { return p.expr }

// Matches evaluates the predicate against ex.
func (p *Predicate) Matches(ex *exchange.Exchange) (bool, error) {
	headers := ex.Headers
	if headers == nil {
		headers = map[string]any{}
	}
	props := ex.Properties
	if props == nil {
		props = map[string]any{}
	}
	out, _, err := p.prog.Eval(map[string]any{
		"body":       ex.Body,
		"headers":    headers,
		"properties": props,
		"size":       int64(ex.IntProperty(exchange.PropertyAggregatedSize, 1)),
	})
	if err != nil {
		return false, fmt.Errorf("completion predicate %q: %w", p.expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("completion predicate %q: result %v is not a bool", p.expr, out.Value())
	}
	return b, nil
}
