package mathexpr

import (
	"math"
	"strings"
	"testing"
)

func TestEval(t *testing.T) {
	ev := New()
	tests := []struct {
		expr string
		want float64
	}{
		{"3*3", 9},
		{"8.7", 8.7},
		{" 2 + 3 * 4 ", 14},
		{"2^10", 1024},
		{"sqrt(16)", 4},
		{"pow(2, 3)", 8},
		{"cos(0)", 1},
		{"pi", math.Pi},
		{"1/4", 0.25},
		{"-(3-5)", 2},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ev.Eval(tt.expr)
			if err != nil {
				t.Fatalf("Eval(%q): %v", tt.expr, err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Eval(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvalFailures(t *testing.T) {
	ev := New()
	tests := []struct {
		name string
		expr string
	}{
		{"empty", "   "},
		{"syntax", "3 *"},
		{"undefined symbol", "x + 1"},
		{"string result", `"nine"`},
		{"division by zero", "1/0"},
		{"nan", "sqrt(-1)"},
		{"too long", strings.Repeat("1+", MaxLength) + "1"},
		{"wrong arity", "sqrt(1, 2)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, err := ev.Eval(tt.expr); err == nil {
				t.Errorf("Eval(%q) = %v, want error", tt.expr, got)
			}
		})
	}
}
