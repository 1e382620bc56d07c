package persist

import (
	"time"

	"github.com/google/uuid"
	"github.com/soochol/procflow/internal/sequence"
)

// TriggerSource names what caused a run.
type TriggerSource string

const (
	TriggerManual TriggerSource = "manual"
	TriggerCron   TriggerSource = "cron"
	TriggerLoop   TriggerSource = "loop"
)

// RunRecord is the stored outcome of one sequence Execute.
type RunRecord struct {
	ID           string                     `json:"id"`
	SequenceName string                     `json:"sequence_name"`
	Trigger      TriggerSource              `json:"trigger"`
	Outcome      sequence.Outcome           `json:"outcome"`
	Message      string                     `json:"message,omitempty"`
	Processors   []sequence.ExecutionStatus `json:"processors,omitempty"`
	TriggerCount uint64                     `json:"trigger_count"`
	ElapsedUS    float64                    `json:"elapsed_us"`
	CreatedAt    time.Time                  `json:"created_at"`
}

// NewRunRecord builds a record from a sequence's state right after a run.
func NewRunRecord(name string, trigger TriggerSource, st sequence.SequenceStatus, procs []sequence.ExecutionStatus) *RunRecord {
	return &RunRecord{
		ID:           uuid.NewString(),
		SequenceName: name,
		Trigger:      trigger,
		Outcome:      st.Outcome,
		Message:      st.Message,
		Processors:   procs,
		TriggerCount: st.TriggerCount,
		ElapsedUS:    st.ElapsedMicros(),
		CreatedAt:    time.Now(),
	}
}
