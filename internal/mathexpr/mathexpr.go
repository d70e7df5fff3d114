// Package mathexpr evaluates numeric expressions submitted as math answers.
package mathexpr

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/spf13/cast"
)

// MaxLength bounds the size of an expression accepted for evaluation.
const MaxLength = 512

// ErrEmpty is returned for blank expressions.
var ErrEmpty = errors.New("empty expression")

// Evaluator turns an expression string into a number.
type Evaluator interface {
	Eval(expression string) (float64, error)
}

// ExprEvaluator evaluates arithmetic with a fixed set of constants and
// functions. Unknown identifiers fail to compile.
type ExprEvaluator struct {
	env  map[string]any
	opts []expr.Option
}

// New returns an evaluator with pi, e and the common unary functions.
func New() *ExprEvaluator {
	env := map[string]any{
		"pi": math.Pi,
		"e":  math.E,
	}
	opts := []expr.Option{
		expr.Env(env),
		expr.AsFloat64(),
		expr.MaxNodes(256),
	}
	for name, fn := range unary {
		opts = append(opts, expr.Function(name, wrapUnary(name, fn)))
	}
	opts = append(opts, expr.Function("pow", func(params ...any) (any, error) {
		if len(params) != 2 {
			return nil, fmt.Errorf("pow: want 2 arguments, got %d", len(params))
		}
		x, err := cast.ToFloat64E(params[0])
		if err != nil {
			return nil, fmt.Errorf("pow: %w", err)
		}
		y, err := cast.ToFloat64E(params[1])
		if err != nil {
			return nil, fmt.Errorf("pow: %w", err)
		}
		return math.Pow(x, y), nil
	}))
	return &ExprEvaluator{env: env, opts: opts}
}

var unary = map[string]func(float64) float64{
	"sqrt":  math.Sqrt,
	"cbrt":  math.Cbrt,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"asin":  math.Asin,
	"acos":  math.Acos,
	"atan":  math.Atan,
	"log":   math.Log,
	"ln":    math.Log,
	"log10": math.Log10,
	"log2":  math.Log2,
	"exp":   math.Exp,
}

func wrapUnary(name string, fn func(float64) float64) func(params ...any) (any, error) {
	return func(params ...any) (any, error) {
		if len(params) != 1 {
			return nil, fmt.Errorf("%s: want 1 argument, got %d", name, len(params))
		}
		x, err := cast.ToFloat64E(params[0])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return fn(x), nil
	}
}

// Eval compiles and runs expression. Results that are not finite numbers
// are reported as errors.
func (e *ExprEvaluator) Eval(expression string) (result float64, err error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return 0, ErrEmpty
	}
	if len(expression) > MaxLength {
		return 0, fmt.Errorf("expression longer than %d bytes", MaxLength)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluate %q: %v", expression, r)
		}
	}()

	program, err := expr.Compile(expression, e.opts...)
	if err != nil {
		return 0, fmt.Errorf("compile %q: %w", expression, err)
	}
	out, err := expr.Run(program, e.env)
	if err != nil {
		return 0, fmt.Errorf("evaluate %q: %w", expression, err)
	}
	f, err := cast.ToFloat64E(out)
	if err != nil {
		return 0, fmt.Errorf("evaluate %q: %w", expression, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("evaluate %q: result is not finite", expression)
	}
	return f, nil
}
