package sequence

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/soochol/procflow/internal/value"
)

// Mode is the execution mode of a processor. The values are flags so a set
// of modes can be expressed with a bitwise or.
type Mode int32

const (
	ModeProgram Mode = 0x1
	ModeRun     Mode = 0x2
	ModeTest    Mode = 0x4
)

func (m Mode) String() string {
	switch m {
	case ModeProgram:
		return "PROGRAM"
	case ModeRun:
		return "RUN"
	case ModeTest:
		return "TEST"
	default:
		return fmt.Sprintf("Mode(%d)", int32(m))
	}
}

// Loops reports whether a sequence in this mode runs its execution loop.
func (m Mode) Loops() bool { return m == ModeRun || m == ModeTest }

func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(s) {
	case "PROGRAM":
		return ModeProgram, nil
	case "RUN":
		return ModeRun, nil
	case "TEST":
		return ModeTest, nil
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Outcome is the result of one processor run.
type Outcome int

const (
	Skipped Outcome = -1
	Pass    Outcome = 0
	Fail    Outcome = 1
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "SKIPPED"
	case Pass:
		return "PASS"
	case Fail:
		return "FAIL"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Outcome) UnmarshalText(b []byte) error {
	switch string(b) {
	case "SKIPPED":
		*o = Skipped
	case "PASS":
		*o = Pass
	case "FAIL":
		*o = Fail
	default:
		return fmt.Errorf("unknown outcome %q", b)
	}
	return nil
}

// ExecutionStatus records the most recent run of a processor.
type ExecutionStatus struct {
	ID      uuid.UUID     `json:"id"`
	Outcome Outcome       `json:"outcome"`
	Message string        `json:"message,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

func (s ExecutionStatus) ElapsedMicros() float64 {
	return float64(s.Elapsed.Nanoseconds()) / 1e3
}

// SequenceStatus adds run counters to a sequence's ExecutionStatus.
// TriggerCount grows on every Execute call; the other counters only when
// the graph actually ran.
type SequenceStatus struct {
	ExecutionStatus
	TriggerCount uint64 `json:"trigger_count"`
	ExecCount    uint64 `json:"exec_count"`
	OKCount      uint64 `json:"ok_count"`
	NGCount      uint64 `json:"ng_count"`
}

// Capability is a set of features a processor advertises. Containers filter
// their children by capability instead of by concrete type.
type Capability uint32

const (
	CapSource Capability = 1 << iota
	CapTransform
	CapArithmetic
	CapContainer
	CapSequence
)

func (c Capability) Has(other Capability) bool { return c&other == other }

// Slot is a declared input or output. Path, when set, binds the slot to a
// property inside the processor's parameter.
type Slot struct {
	Name string
	Type value.Type
	Path *value.Path
}

// ResolvedType is the type a value must have to fill the slot.
func (s Slot) ResolvedType() value.Type {
	if s.Path != nil {
		return s.Path.Type()
	}
	return s.Type
}

// RootType is the parameter type the slot's path is rooted at, or the slot
// type when unbound.
func (s Slot) RootType() value.Type {
	if s.Path != nil {
		return s.Path.RootType()
	}
	return s.Type
}

func (s Slot) PathString() string {
	if s.Path == nil {
		return ""
	}
	return s.Path.String()
}

// Binding maps a sequence input slot onto a processor input slot.
type Binding struct {
	SeqSlot  int `json:"seq_slot"`
	ProcSlot int `json:"proc_slot"`
}
