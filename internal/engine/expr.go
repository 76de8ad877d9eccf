package engine

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// maxExpressionLength bounds branch expressions; anything longer is
// rejected before compilation.
const maxExpressionLength = 4096

// exprEvaluator compiles branch expressions once and caches the
// programs for reuse across runs.
type exprEvaluator struct {
	mu       sync.RWMutex
	compiled map[string]*vm.Program
}

func newExprEvaluator() *exprEvaluator {
	return &exprEvaluator{compiled: make(map[string]*vm.Program)}
}

// evaluate runs an expression against an environment. The environment
// exposes "input" (the merged upstream payload) and "inputs" (payloads
// keyed by port id).
func (e *exprEvaluator) evaluate(expression string, env map[string]interface{}) (interface{}, error) {
	if len(expression) > maxExpressionLength {
		return nil, fmt.Errorf("expression exceeds maximum length of %d characters", maxExpressionLength)
	}

	e.mu.RLock()
	prog, ok := e.compiled[expression]
	e.mu.RUnlock()

	if !ok {
		var err error
		prog, err = expr.Compile(expression, expr.Env(env))
		if err != nil {
			return nil, fmt.Errorf("compile expression %q: %w", expression, err)
		}
		e.mu.Lock()
		e.compiled[expression] = prog
		e.mu.Unlock()
	}

	result, err := expr.Run(prog, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate expression %q: %w", expression, err)
	}
	return result, nil
}

// evaluateBool coerces the expression result to a boolean.
func (e *exprEvaluator) evaluateBool(expression string, env map[string]interface{}) (bool, error) {
	result, err := e.evaluate(expression, env)
	if err != nil {
		return false, err
	}

	switch v := result.(type) {
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case string:
		return v != "", nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("expression %q returned %T, expected bool", expression, result)
	}
}
