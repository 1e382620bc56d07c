// Package processors holds the built-in processor kinds and the registry
// used to re-create them from persisted documents.
package processors

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/soochol/procflow/internal/sequence"
	"github.com/soochol/procflow/internal/value"
)

const KindBinaryOp = "binary_op"

type Operator string

const (
	OpAdd Operator = "ADD"
	OpSub Operator = "SUB"
	OpMul Operator = "MUL"
	OpDiv Operator = "DIV"
	OpMod Operator = "MOD"
)

func ParseOperator(s string) (Operator, error) {
	op := Operator(strings.ToUpper(s))
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		return op, nil
	}
	return "", fmt.Errorf("unknown operator %q", s)
}

type BinaryOpParam struct {
	Op Operator `json:"op" yaml:"op"`
}

// BinaryOp applies an arithmetic operator to two float64 inputs and
// produces one float64 result.
type BinaryOp struct {
	*sequence.Base
}

func NewBinaryOp(op Operator) *BinaryOp {
	p := &BinaryOp{Base: sequence.NewBase(KindBinaryOp, sequence.CapArithmetic|sequence.CapTransform)}
	_ = p.Initialize(value.Of(BinaryOpParam{Op: op}))
	return p
}

// Initialize declares input0, input1 and result. A zero param keeps the
// current operator.
func (p *BinaryOp) Initialize(param value.Value) error {
	if param.IsZero() {
		param = p.Param()
	}
	bp, err := value.Get[BinaryOpParam](param)
	if err != nil {
		return fmt.Errorf("binary op param: %w", err)
	}
	if bp.Op, err = ParseOperator(string(bp.Op)); err != nil {
		return fmt.Errorf("binary op param: %w", err)
	}
	if err := p.Base.Initialize(value.Of(bp)); err != nil {
		return err
	}
	p.AddInput("input0", value.TypeOf[float64]())
	p.AddInput("input1", value.TypeOf[float64]())
	p.AddOutput("result", value.TypeOf[float64]())
	return nil
}

func (p *BinaryOp) Operator() Operator {
	param, _ := value.Get[BinaryOpParam](p.Param())
	return param.Op
}

func (p *BinaryOp) Execute(_ context.Context, inputs []value.Value) (sequence.ExecutionStatus, error) {
	ok, err := p.PreExecute(inputs)
	if err != nil || !ok {
		return p.ExecutionStatus(), err
	}
	if len(inputs) < 2 {
		return p.ExecutionStatus(), fmt.Errorf("%s %q: got %d inputs, want 2: %w", p.Kind(), p.Name(), len(inputs), sequence.ErrTypeMismatch)
	}
	a, err := value.Get[float64](inputs[0])
	if err != nil {
		return p.ExecutionStatus(), err
	}
	b, err := value.Get[float64](inputs[1])
	if err != nil {
		return p.ExecutionStatus(), err
	}

	var r float64
	switch op := p.Operator(); op {
	case OpAdd:
		r = a + b
	case OpSub:
		r = a - b
	case OpMul:
		r = a * b
	case OpDiv:
		r = a / b
	case OpMod:
		r = math.Mod(a, b)
	default:
		return p.ExecutionStatus(), fmt.Errorf("%s %q: invalid operator %q", p.Kind(), p.Name(), op)
	}
	p.PostExecute(value.Values(r), sequence.Pass)
	return p.ExecutionStatus(), nil
}
