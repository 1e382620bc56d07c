package processors

import (
	"context"
	"fmt"

	"github.com/soochol/procflow/internal/sequence"
	"github.com/soochol/procflow/internal/value"
)

const KindScale = "scale"

type ScaleParam struct {
	Gain   float64 `json:"gain" yaml:"gain"`
	Offset float64 `json:"offset" yaml:"offset"`
}

// Scale computes x*Gain + Offset.
type Scale struct {
	*sequence.Base
}

func NewScale(gain, offset float64) *Scale {
	p := &Scale{Base: sequence.NewBase(KindScale, sequence.CapTransform|sequence.CapArithmetic)}
	_ = p.Initialize(value.Of(ScaleParam{Gain: gain, Offset: offset}))
	return p
}

func (p *Scale) Initialize(param value.Value) error {
	if param.IsZero() {
		param = p.Param()
	}
	if param.IsZero() {
		param = value.Of(ScaleParam{Gain: 1})
	}
	if _, err := value.Get[ScaleParam](param); err != nil {
		return fmt.Errorf("scale param: %w", err)
	}
	if err := p.Base.Initialize(param); err != nil {
		return err
	}
	p.AddInput("x", value.TypeOf[float64]())
	p.AddOutput("y", value.TypeOf[float64]())
	return nil
}

func (p *Scale) Execute(_ context.Context, inputs []value.Value) (sequence.ExecutionStatus, error) {
	ok, err := p.PreExecute(inputs)
	if err != nil || !ok {
		return p.ExecutionStatus(), err
	}
	if len(inputs) == 0 {
		return p.ExecutionStatus(), fmt.Errorf("%s %q: missing input x: %w", p.Kind(), p.Name(), sequence.ErrTypeMismatch)
	}
	x, err := value.Get[float64](inputs[0])
	if err != nil {
		return p.ExecutionStatus(), err
	}
	param, err := value.Get[ScaleParam](p.Param())
	if err != nil {
		return p.ExecutionStatus(), err
	}
	p.PostExecute(value.Values(x*param.Gain+param.Offset), sequence.Pass)
	return p.ExecutionStatus(), nil
}
