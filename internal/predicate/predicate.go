// Package predicate compiles expr-lang expressions into executable
// predicates for processors.
package predicate

import (
	"fmt"
	"log/slog"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/soochol/procflow/internal/sequence"
)

// Predicate is a compiled boolean expression. Unknown identifiers evaluate
// to nil, so "param.Enabled" on a processor without such a field is false.
type Predicate struct {
	src     string
	program *vm.Program
}

// Compile parses src. An empty source yields a predicate that is always true.
func Compile(src string) (*Predicate, error) {
	if src == "" {
		return &Predicate{}, nil
	}
	program, err := expr.Compile(src, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile predicate %q: %w", src, err)
	}
	return &Predicate{src: src, program: program}, nil
}

func (p *Predicate) String() string { return p.src }

// Eval runs the predicate against env and converts the result to a bool.
func (p *Predicate) Eval(env map[string]any) (bool, error) {
	if p.program == nil {
		return true, nil
	}
	out, err := expr.Run(p.program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate predicate %q: %w", p.src, err)
	}
	return isTruthy(out), nil
}

// Env builds the variables a processor predicate can reference: the
// processor's name, kind, mode and param, plus the run counters of its parent
// sequence when it has one.
func Env(p sequence.Processor) map[string]any {
	env := map[string]any{
		"name":  p.Name(),
		"kind":  p.Kind(),
		"mode":  p.Mode().String(),
		"param": p.Param().Interface(),
	}
	if seq, ok := p.Parent().(interface{ Status() sequence.SequenceStatus }); ok {
		st := seq.Status()
		env["trigger_count"] = int(st.TriggerCount)
		env["exec_count"] = int(st.ExecCount)
		env["ok_count"] = int(st.OKCount)
		env["ng_count"] = int(st.NGCount)
	}
	return env
}

type exprSetter interface {
	SetExecutableExpr(src string, fn func() bool)
}

// Bind compiles src and installs it as p's executable predicate. Evaluation
// errors are logged and make the processor skip.
func Bind(p sequence.Processor, src string, logger *slog.Logger) error {
	pred, err := Compile(src)
	if err != nil {
		return err
	}
	if logger == nil {
		logger = slog.Default()
	}
	fn := func() bool {
		ok, err := pred.Eval(Env(p))
		if err != nil {
			logger.Warn("predicate failed", "processor", p.Name(), "expr", src, "err", err)
			return false
		}
		return ok
	}
	if s, ok := p.(exprSetter); ok {
		s.SetExecutableExpr(src, fn)
		return nil
	}
	p.SetExecutable(fn)
	return nil
}

func isTruthy(v any) bool {
	if v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int64:
		return val != 0
	case uint64:
		return val != 0
	case float64:
		return val != 0
	default:
		return true
	}
}
