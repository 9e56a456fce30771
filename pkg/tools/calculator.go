package tools

import (
	"context"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// CalculatorInput is a single binary arithmetic operation.
type CalculatorInput struct {
	A        float64 `json:"a" jsonschema:"description=First operand"`
	B        float64 `json:"b" jsonschema:"description=Second operand"`
	Operator string  `json:"operator" jsonschema:"description=One of + - * /,enum=+,enum=-,enum=*,enum=/"`
}

// NewCalculatorTool evaluates basic arithmetic. Division by zero yields
// Infinity rather than an error, matching IEEE semantics.
func NewCalculatorTool() Definition {
	return NewTool("calculator", "Evaluate a basic arithmetic operation on two numbers.",
		func(_ context.Context, input CalculatorInput) (interface{}, error) {
			var result float64
			switch input.Operator {
			case "+":
				result = input.A + input.B
			case "-":
				result = input.A - input.B
			case "*":
				result = input.A * input.B
			case "/":
				result = input.A / input.B
			default:
				return nil, errors.Errorf("unknown operator %q", input.Operator)
			}
			return formatNumber(result), nil
		})
}

func formatNumber(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case math.IsNaN(f):
		return "NaN"
	default:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
}
