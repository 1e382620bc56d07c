package processors

import (
	"context"
	"fmt"

	"github.com/soochol/procflow/internal/sequence"
	"github.com/soochol/procflow/internal/value"
)

const KindLatch = "latch"

type LatchParam struct {
	Value float64 `json:"value" yaml:"value"`
	Count int     `json:"count" yaml:"count"`
}

// Latch stores its input in the parameter and re-emits it. Input and output
// are both bound to the parameter's value field, so the last sample is kept
// across runs and persisted with the graph.
type Latch struct {
	*sequence.Base
}

func NewLatch() *Latch {
	p := &Latch{Base: sequence.NewBase(KindLatch, sequence.CapSource|sequence.CapTransform)}
	_ = p.Initialize(value.Of(LatchParam{}))
	return p
}

func (p *Latch) Initialize(param value.Value) error {
	if param.IsZero() {
		param = p.Param()
	}
	if param.IsZero() {
		param = value.Of(LatchParam{})
	}
	if _, err := value.Get[LatchParam](param); err != nil {
		return fmt.Errorf("latch param: %w", err)
	}
	if err := p.Base.Initialize(param); err != nil {
		return err
	}
	if _, err := p.AddInputPath("value", value.TypeOf[float64](), "value"); err != nil {
		return err
	}
	if _, err := p.AddOutputPath("value", value.TypeOf[float64](), "value"); err != nil {
		return err
	}
	_, err := p.AddOutputPath("count", value.TypeOf[int](), "count")
	return err
}

func (p *Latch) Execute(_ context.Context, inputs []value.Value) (sequence.ExecutionStatus, error) {
	ok, err := p.PreExecute(inputs)
	if err != nil || !ok {
		return p.ExecutionStatus(), err
	}
	if err := p.ApplyBoundInputs(inputs); err != nil {
		return p.ExecutionStatus(), err
	}
	param, err := value.Get[LatchParam](p.Param())
	if err != nil {
		return p.ExecutionStatus(), err
	}
	param.Count++
	p.SetParam(value.Of(param))

	out, err := p.BoundOutputs()
	if err != nil {
		return p.ExecutionStatus(), err
	}
	p.PostExecute(out, sequence.Pass)
	return p.ExecutionStatus(), nil
}
