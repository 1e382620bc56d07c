package sequence

import (
	"context"
	"fmt"

	"github.com/soochol/procflow/internal/value"
)

type binOp struct {
	*Base
	op func(a, b float64) float64
}

func newBinOp(name string, op func(a, b float64) float64) *binOp {
	p := &binOp{Base: NewBase("binop", CapArithmetic|CapTransform), op: op}
	p.SetName(name)
	_ = p.Initialize(value.Value{})
	return p
}

func add(a, b float64) float64 { return a + b }
func sub(a, b float64) float64 { return a - b }
func mul(a, b float64) float64 { return a * b }
func div(a, b float64) float64 { return a / b }

func (p *binOp) Initialize(param value.Value) error {
	if err := p.Base.Initialize(param); err != nil {
		return err
	}
	p.AddInput("input0", value.TypeOf[float64]())
	p.AddInput("input1", value.TypeOf[float64]())
	p.AddOutput("result", value.TypeOf[float64]())
	return nil
}

func (p *binOp) Execute(_ context.Context, inputs []value.Value) (ExecutionStatus, error) {
	ok, err := p.PreExecute(inputs)
	if err != nil || !ok {
		return p.ExecutionStatus(), err
	}
	if len(inputs) < 2 {
		return p.ExecutionStatus(), fmt.Errorf("want 2 inputs, got %d", len(inputs))
	}
	a, err := value.Get[float64](inputs[0])
	if err != nil {
		return p.ExecutionStatus(), err
	}
	b, err := value.Get[float64](inputs[1])
	if err != nil {
		return p.ExecutionStatus(), err
	}
	p.PostExecute(value.Values(p.op(a, b)), Pass)
	return p.ExecutionStatus(), nil
}

// funcProc runs fn as its body; fn may panic or report any outcome.
type funcProc struct {
	*Base
	fn func(inputs []value.Value) ([]value.Value, Outcome, error)
}

func newFuncProc(name string, fn func([]value.Value) ([]value.Value, Outcome, error)) *funcProc {
	p := &funcProc{Base: NewBase("func", CapSource), fn: fn}
	p.SetName(name)
	_ = p.Initialize(value.Value{})
	return p
}

func (p *funcProc) Execute(_ context.Context, inputs []value.Value) (ExecutionStatus, error) {
	ok, err := p.PreExecute(inputs)
	if err != nil || !ok {
		return p.ExecutionStatus(), err
	}
	results, outcome, err := p.fn(inputs)
	if err != nil {
		return p.ExecutionStatus(), err
	}
	p.PostExecute(results, outcome)
	return p.ExecutionStatus(), nil
}

func constant(v float64) func([]value.Value) ([]value.Value, Outcome, error) {
	return func([]value.Value) ([]value.Value, Outcome, error) {
		return value.Values(v), Pass, nil
	}
}

// result returns the single float64 result of p.
func result(p Processor) float64 {
	return value.MustGet[float64](p.Results()[0])
}
