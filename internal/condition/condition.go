// Package condition evaluates logical validations with expr-lang.
package condition

import (
	"context"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/sirupsen/logrus"
)

// Evaluator compiles each expression once and runs it against the
// workflow variables. Variables are referenced by name, for example
// `status == "active" && int(count) > 2`.
type Evaluator struct {
	log logrus.FieldLogger

	mu       sync.RWMutex
	programs map[string]*vm.Program
}

// NewEvaluator creates an evaluator.
func NewEvaluator(log logrus.FieldLogger) *Evaluator {
	return &Evaluator{
		log:      log.WithField("component", "condition"),
		programs: make(map[string]*vm.Program),
	}
}

func (e *Evaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.programs[expression]
	e.mu.RUnlock()

	if ok {
		return program, nil
	}

	program, err := expr.Compile(expression, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compiling %q: %w", expression, err)
	}

	e.mu.Lock()
	e.programs[expression] = program
	e.mu.Unlock()

	return program, nil
}

// Evaluate runs expression with vars as its environment.
func (e *Evaluator) Evaluate(ctx context.Context, expression string, vars map[string]any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	program, err := e.compile(expression)
	if err != nil {
		return false, err
	}

	out, err := expr.Run(program, vars)
	if err != nil {
		return false, fmt.Errorf("running %q: %w", expression, err)
	}

	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q returned %T, want bool", expression, out) //nolint:err113 // dynamic type in message
	}

	e.log.WithFields(logrus.Fields{
		"expression": expression,
		"result":     result,
	}).Debug("evaluated logical validation")

	return result, nil
}
