package processors

import (
	"context"
	"fmt"

	"github.com/soochol/procflow/internal/sequence"
	"github.com/soochol/procflow/internal/value"
)

const KindConstant = "constant"

type ConstantParam struct {
	Value float64 `json:"value" yaml:"value"`
}

// Constant emits its parameter's Value on every run. The output slot is
// bound to the parameter, so changing the parameter through a container's
// SetParamAt changes what downstream processors receive.
type Constant struct {
	*sequence.Base
}

func NewConstant(v float64) *Constant {
	p := &Constant{Base: sequence.NewBase(KindConstant, sequence.CapSource)}
	_ = p.Initialize(value.Of(ConstantParam{Value: v}))
	return p
}

func (p *Constant) Initialize(param value.Value) error {
	if param.IsZero() {
		param = p.Param()
	}
	if param.IsZero() {
		param = value.Of(ConstantParam{})
	}
	if _, err := value.Get[ConstantParam](param); err != nil {
		return fmt.Errorf("constant param: %w", err)
	}
	if err := p.Base.Initialize(param); err != nil {
		return err
	}
	_, err := p.AddOutputPath("value", value.TypeOf[float64](), "value")
	return err
}

func (p *Constant) Execute(_ context.Context, inputs []value.Value) (sequence.ExecutionStatus, error) {
	ok, err := p.PreExecute(inputs)
	if err != nil || !ok {
		return p.ExecutionStatus(), err
	}
	out, err := p.BoundOutputs()
	if err != nil {
		return p.ExecutionStatus(), err
	}
	p.PostExecute(out, sequence.Pass)
	return p.ExecutionStatus(), nil
}
