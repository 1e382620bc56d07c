package sequence

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/soochol/procflow/internal/events"
	"github.com/soochol/procflow/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// diamond builds
//
//	A (in0 + in1) --+--> C (A * B) --+
//	                |                +--> D (C / B)
//	B (in0 - in1) --+----------------+
func diamond(t *testing.T, opts ...Option) (*Sequence, [4]*binOp) {
	t.Helper()
	a := newBinOp("A", add)
	b := newBinOp("B", sub)
	c := newBinOp("C", mul)
	d := newBinOp("D", div)

	s := New(opts...)
	for _, p := range []Processor{a, b, c, d} {
		require.NoError(t, s.AddProcessor(p))
	}
	require.NoError(t, s.MapProcessorInput(a.ID(), 0, 0))
	require.NoError(t, s.MapProcessorInput(a.ID(), 1, 1))
	require.NoError(t, s.MapProcessorInput(b.ID(), 0, 0))
	require.NoError(t, s.MapProcessorInput(b.ID(), 1, 1))

	require.NoError(t, s.Connect(a, c, 0, 0))
	require.NoError(t, s.Connect(b, c, 0, 1))
	require.NoError(t, s.Connect(c, d, 0, 0))
	require.NoError(t, s.Connect(b, d, 0, 1))

	s.AddInput("input0", value.TypeOf[float64]())
	s.AddInput("input1", value.TypeOf[float64]())
	return s, [4]*binOp{a, b, c, d}
}

func TestSequence_Diamond(t *testing.T) {
	s, procs := diamond(t)
	for _, p := range procs {
		assert.Same(t, s, p.Parent())
		assert.True(t, p.Executable())
	}

	st, err := s.Execute(context.Background(), value.Values(1.0, 2.0))
	require.NoError(t, err)
	assert.Equal(t, Pass, st.Outcome)

	want := []float64{3, -1, -3, 3}
	statuses := s.RunStatuses()
	require.Len(t, statuses, 4)
	for i, status := range statuses {
		assert.Equal(t, procs[i].ID(), status.ID, "status %d", i)
		assert.Equal(t, Pass, status.Outcome)
		p := s.Processor(status.ID)
		require.Len(t, p.Results(), 1)
		assert.InDelta(t, want[i], result(p), 1e-9)
	}

	status := s.Status()
	assert.Equal(t, Pass, status.Outcome)
	assert.Equal(t, uint64(1), status.TriggerCount)
	assert.Equal(t, uint64(1), status.ExecCount)
	assert.Equal(t, uint64(1), status.OKCount)
	assert.Equal(t, uint64(0), status.NGCount)
}

func TestSequence_DiamondParallel(t *testing.T) {
	s, procs := diamond(t, WithWorkers(4))
	assert.Equal(t, 4, s.Workers())
	for range 20 {
		st, err := s.Execute(context.Background(), value.Values(1.0, 2.0))
		require.NoError(t, err)
		require.Equal(t, Pass, st.Outcome)
		assert.InDelta(t, -3.0, result(procs[2]), 1e-9)
		assert.InDelta(t, 3.0, result(procs[3]), 1e-9)
	}
	assert.Equal(t, uint64(20), s.Status().OKCount)
}

func TestSequence_SkippedProcessor(t *testing.T) {
	s, procs := diamond(t)
	_, err := s.Execute(context.Background(), value.Values(1.0, 2.0))
	require.NoError(t, err)

	a, c := procs[0], procs[2]
	a.SetExecutable(func() bool { return false })
	require.NoError(t, s.MapProcessorInput(c.ID(), 0, 0))

	st, err := s.Execute(context.Background(), value.Values(1.0, 2.0))
	require.NoError(t, err)
	assert.Equal(t, Pass, st.Outcome)

	want := []float64{0, -1, -1, 1}
	statuses := s.RunStatuses()
	require.Len(t, statuses, 4)
	for i, status := range statuses {
		p := s.Processor(status.ID)
		if i == 0 {
			assert.Equal(t, Skipped, status.Outcome)
			assert.Empty(t, p.Results())
			continue
		}
		assert.Equal(t, Pass, status.Outcome)
		assert.InDelta(t, want[i], result(p), 1e-9)
	}

	status := s.Status()
	assert.Equal(t, uint64(2), status.TriggerCount)
	assert.Equal(t, uint64(2), status.ExecCount)
	assert.Equal(t, uint64(2), status.OKCount)
	assert.Equal(t, uint64(0), status.NGCount)
}

func TestSequence_SkippedFeedsNothing(t *testing.T) {
	s, procs := diamond(t)
	procs[0].SetExecutable(func() bool { return false })

	st, err := s.Execute(context.Background(), value.Values(1.0, 2.0))
	require.NoError(t, err)
	assert.Equal(t, Fail, st.Outcome)
	assert.Equal(t, Fail, procs[2].ExecutionStatus().Outcome)
	assert.Contains(t, procs[2].ExecutionStatus().Message, ErrTypeMismatch.Error())
	assert.Equal(t, Pass, procs[1].ExecutionStatus().Outcome)
	assert.Equal(t, uint64(1), s.Status().NGCount)
}

func TestSequence_NotExecutable(t *testing.T) {
	s, _ := diamond(t)
	s.SetExecutable(func() bool { return false })

	st, err := s.Execute(context.Background(), value.Values(1.0, 2.0))
	require.NoError(t, err)
	assert.Equal(t, Skipped, st.Outcome)

	status := s.Status()
	assert.Equal(t, uint64(1), status.TriggerCount)
	assert.Equal(t, uint64(0), status.ExecCount)
}

func TestSequence_InputTypeMismatch(t *testing.T) {
	s, _ := diamond(t)
	_, err := s.Execute(context.Background(), value.Values(1.0, 2.0, 3.0))
	assert.ErrorIs(t, err, ErrTypeMismatch)
	_, err = s.Execute(context.Background(), value.Values("a", 2.0))
	assert.ErrorIs(t, err, ErrTypeMismatch)
	assert.Equal(t, uint64(0), s.Status().ExecCount)
}

func TestSequence_LinkDedupAndRemoval(t *testing.T) {
	s := New()
	a := newBinOp("A", add)
	b := newBinOp("B", add)
	c := newBinOp("C", add)
	for _, p := range []Processor{a, b, c} {
		require.NoError(t, s.AddProcessor(p))
	}

	require.NoError(t, s.AddLink(a.ID(), b.ID(), 0, 0))
	require.NoError(t, s.AddLink(a.ID(), b.ID(), 0, 0))
	assert.Len(t, s.Links(a.ID()), 1)

	require.NoError(t, s.AddLink(a.ID(), b.ID(), 0, 1))
	require.NoError(t, s.AddLink(a.ID(), c.ID(), 0, 0))
	require.NoError(t, s.AddLink(b.ID(), c.ID(), 0, 1))
	assert.Len(t, s.Links(a.ID()), 3)
	assert.Equal(t, []uuid.UUID{b.ID(), c.ID()}, s.Successors(a.ID()))
	assert.Equal(t, []uuid.UUID{a.ID(), b.ID()}, s.Predecessors(c.ID()))

	l, ok := s.Link(b.ID(), c.ID())
	require.True(t, ok)
	assert.Equal(t, Link{Src: b.ID(), Dst: c.ID(), SrcSlot: 0, DstSlot: 1}, l)
	_, ok = s.Link(c.ID(), a.ID())
	assert.False(t, ok)

	require.NoError(t, s.RemoveLink(a.ID(), b.ID(), 0, 1))
	assert.Len(t, s.Links(a.ID()), 2)

	require.NoError(t, s.RemoveLink(a.ID(), uuid.Nil, 0, 0))
	assert.Empty(t, s.Links(a.ID()))
	assert.Len(t, s.AllLinks(), 1)

	assert.ErrorIs(t, s.RemoveLink(a.ID(), uuid.Nil, 0, 0), ErrLinkNotFound)
	assert.ErrorIs(t, s.RemoveLink(uuid.Nil, b.ID(), 0, 0), ErrNilID)
	assert.ErrorIs(t, s.AddLink(uuid.Nil, b.ID(), 0, 0), ErrNilID)
	assert.ErrorIs(t, s.AddLink(a.ID(), uuid.Nil, 0, 0), ErrNilID)
	assert.ErrorIs(t, s.MapProcessorInput(uuid.Nil, 0, 0), ErrNilID)
	assert.ErrorIs(t, s.Connect(nil, b, 0, 0), ErrNilProcessor)
}

func TestSequence_RejectsCycles(t *testing.T) {
	s := New()
	a := newBinOp("A", add)
	b := newBinOp("B", add)
	c := newBinOp("C", add)
	for _, p := range []Processor{a, b, c} {
		require.NoError(t, s.AddProcessor(p))
	}
	require.NoError(t, s.Connect(a, b, 0, 0))
	require.NoError(t, s.Connect(b, c, 0, 0))

	assert.ErrorIs(t, s.Connect(c, a, 0, 0), ErrCycle)
	assert.ErrorIs(t, s.Connect(a, a, 0, 1), ErrCycle)
	assert.Empty(t, s.Links(c.ID()))

	// A second edge in the same direction is fine.
	require.NoError(t, s.Connect(a, c, 0, 1))
}

func TestSequence_PropagationOutOfRange(t *testing.T) {
	s := New()
	a := newFuncProc("A", constant(1))
	sink := newBinOp("sink", add)
	b := newFuncProc("B", constant(2))
	for _, p := range []Processor{a, sink, b} {
		require.NoError(t, s.AddProcessor(p))
	}
	require.NoError(t, s.Connect(a, sink, 1, 0))

	st, err := s.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, Fail, st.Outcome)
	assert.Contains(t, st.Message, ErrPropagation.Error())

	assert.Equal(t, Fail, a.ExecutionStatus().Outcome)
	assert.Equal(t, Pass, b.ExecutionStatus().Outcome)
	assert.Equal(t, 2.0, result(b))

	status := s.Status()
	assert.Equal(t, uint64(1), status.ExecCount)
	assert.Equal(t, uint64(0), status.OKCount)
	assert.Equal(t, uint64(1), status.NGCount)
	assert.Len(t, s.RunStatuses(), 3)
}

func TestSequence_DestinationSlotOutOfRange(t *testing.T) {
	s := New()
	a := newFuncProc("A", constant(1))
	sink := newBinOp("sink", add)
	require.NoError(t, s.AddProcessor(a))
	require.NoError(t, s.AddProcessor(sink))
	require.NoError(t, s.Connect(a, sink, 0, 5))

	st, err := s.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, Fail, st.Outcome)
	assert.Contains(t, a.ExecutionStatus().Message, ErrPropagation.Error())
}

func TestSequence_PanicIsolated(t *testing.T) {
	s := New()
	bad := newFuncProc("bad", func([]value.Value) ([]value.Value, Outcome, error) {
		panic("boom")
	})
	good := newFuncProc("good", constant(7))
	require.NoError(t, s.AddProcessor(bad))
	require.NoError(t, s.AddProcessor(good))

	var errSeen atomic.Value
	bad.OnError(func(err error) { errSeen.Store(err) })

	st, err := s.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, Fail, st.Outcome)
	assert.Equal(t, Fail, bad.ExecutionStatus().Outcome)
	assert.Contains(t, bad.ExecutionStatus().Message, "boom")
	assert.Equal(t, Pass, good.ExecutionStatus().Outcome)

	require.Eventually(t, func() bool {
		e, _ := errSeen.Load().(error)
		return errors.Is(e, ErrExecutionFault)
	}, time.Second, time.Millisecond)
}

func TestSequence_FailWithoutError(t *testing.T) {
	s := New()
	p := newFuncProc("ng", func([]value.Value) ([]value.Value, Outcome, error) {
		return nil, Fail, nil
	})
	require.NoError(t, s.AddProcessor(p))

	st, err := s.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, Fail, st.Outcome)
	assert.Equal(t, uint64(1), s.Status().NGCount)
}

func TestSequence_CancelledContext(t *testing.T) {
	s, _ := diamond(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st, err := s.Execute(ctx, value.Values(1.0, 2.0))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Fail, st.Outcome)
	assert.Equal(t, uint64(1), s.Status().NGCount)
}

func TestSequence_OnComplete(t *testing.T) {
	s, _ := diamond(t)
	got := make(chan []value.Value, 1)
	s.OnComplete(func(results []value.Value) { got <- results })

	_, err := s.Execute(context.Background(), value.Values(1.0, 2.0))
	require.NoError(t, err)

	select {
	case results := <-got:
		require.Len(t, results, 4)
		st := value.MustGet[ExecutionStatus](results[0])
		assert.Equal(t, Pass, st.Outcome)
	case <-time.After(time.Second):
		t.Fatal("on-complete callback not called")
	}
}

func TestSequence_Events(t *testing.T) {
	bus := events.NewBus()
	var completed, runs atomic.Int32
	bus.Subscribe(func(e events.Event) {
		switch e.Type {
		case events.ProcessorCompleted:
			completed.Add(1)
		case events.RunCompleted:
			runs.Add(1)
		}
	})
	s, _ := diamond(t, WithEventBus(bus))
	_, err := s.Execute(context.Background(), value.Values(1.0, 2.0))
	require.NoError(t, err)
	assert.Equal(t, int32(4), completed.Load())
	assert.Equal(t, int32(1), runs.Load())
}

func TestSequence_RunLoop(t *testing.T) {
	s, _ := diamond(t)
	defer s.Close()
	var modes atomic.Int32
	s.OnModeChanged(func(m Mode) { modes.Add(1) })

	s.SetMode(ModeRun)
	assert.True(t, s.Running())
	assert.Equal(t, int64(1), s.loopStarts.Load())

	s.SetMode(ModeRun)
	assert.Equal(t, int64(1), s.loopStarts.Load())

	s.SetMode(ModeTest)
	assert.True(t, s.Running())
	assert.Equal(t, int64(1), s.loopStarts.Load())

	require.Eventually(t, func() bool { return s.Status().TriggerCount > 2 }, time.Second, time.Millisecond)

	s.SetMode(ModeProgram)
	assert.False(t, s.Running())
	n := s.Status().TriggerCount
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, s.Status().TriggerCount)

	s.SetMode(ModeRun)
	assert.Equal(t, int64(2), s.loopStarts.Load())
	s.SetMode(ModeProgram)
	assert.False(t, s.Running())

	require.Eventually(t, func() bool { return modes.Load() == 5 }, time.Second, time.Millisecond)
}

func TestSequence_LoopInterval(t *testing.T) {
	s := New(WithLoopInterval(time.Hour))
	require.NoError(t, s.AddProcessor(newFuncProc("c", constant(1))))

	s.SetMode(ModeRun)
	require.Eventually(t, func() bool { return s.Status().TriggerCount == 1 }, time.Second, time.Millisecond)
	start := time.Now()
	require.NoError(t, s.Close())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, ModeProgram, s.Mode())
}

func TestSequence_ModeCascadesToNested(t *testing.T) {
	outer := New(WithName("outer"))
	inner := New(WithName("inner"))
	leaf := newFuncProc("leaf", constant(1))
	require.NoError(t, inner.AddProcessor(leaf))
	require.NoError(t, outer.AddProcessor(inner))
	defer outer.Close()

	outer.SetMode(ModeTest)
	assert.Equal(t, ModeTest, inner.Mode())
	assert.Equal(t, ModeTest, leaf.Mode())
	assert.True(t, outer.Running())
	assert.False(t, inner.Running())

	require.Eventually(t, func() bool { return inner.Status().ExecCount > 0 }, time.Second, time.Millisecond)

	outer.SetMode(ModeProgram)
	assert.Equal(t, ModeProgram, inner.Mode())
	assert.Equal(t, ModeProgram, leaf.Mode())
	assert.False(t, outer.Running())
}

func TestSequence_NestedExecute(t *testing.T) {
	outer := New()
	inner := New()
	leaf := newFuncProc("leaf", constant(5))
	require.NoError(t, inner.AddProcessor(leaf))
	require.NoError(t, outer.AddProcessor(inner))

	st, err := outer.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, Pass, st.Outcome)
	assert.Equal(t, 5.0, result(leaf))
	assert.Equal(t, uint64(1), inner.Status().ExecCount)
}

func TestContainer_Ownership(t *testing.T) {
	s1 := New()
	s2 := New()
	p := newBinOp("p", add)

	assert.ErrorIs(t, s1.AddProcessor(nil), ErrNilProcessor)
	var typedNil *binOp
	assert.ErrorIs(t, s1.AddProcessor(typedNil), ErrNilProcessor)
	assert.ErrorIs(t, s1.AddProcessor(s1), ErrCycle)

	require.NoError(t, s1.AddProcessor(p))
	assert.ErrorIs(t, s1.AddProcessor(p), ErrAlreadyOwned)
	assert.ErrorIs(t, s2.AddProcessor(p), ErrAlreadyOwned)

	s1.RemoveProcessor(p.ID())
	assert.Nil(t, p.Parent())
	assert.Nil(t, s1.Processor(p.ID()))
	s1.RemoveProcessor(p.ID())

	require.NoError(t, s2.AddProcessor(p))
	assert.Same(t, s2, p.Parent())
}

func TestSequence_RemoveProcessorDropsLinks(t *testing.T) {
	s := New()
	a := newBinOp("A", add)
	b := newBinOp("B", add)
	c := newBinOp("C", add)
	for _, p := range []Processor{a, b, c} {
		require.NoError(t, s.AddProcessor(p))
	}
	require.NoError(t, s.Connect(a, b, 0, 0))
	require.NoError(t, s.Connect(b, c, 0, 0))
	require.NoError(t, s.MapProcessorInput(b.ID(), 0, 1))

	s.RemoveProcessor(b.ID())
	assert.Empty(t, s.Links(a.ID()))
	assert.Empty(t, s.Links(b.ID()))
	assert.NotContains(t, s.Bindings(), b.ID())
	assert.Equal(t, 2, s.Len())

	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.Nil(t, a.Parent())
	assert.Empty(t, s.AllLinks())
}

func TestContainer_SetParamAt(t *testing.T) {
	s := New()
	a := newBinOp("A", add)
	b := newBinOp("B", add)
	require.NoError(t, s.AddProcessor(a))
	require.NoError(t, s.AddProcessor(b))

	require.NoError(t, s.SetParamAt(1, value.Of("tuned")))
	assert.Equal(t, "tuned", value.MustGet[string](b.Param()))
	assert.True(t, a.Param().IsZero())

	assert.ErrorIs(t, s.SetParamAt(7, value.Of(1)), ErrUnknownSlot)
	s.RemoveProcessor(a.ID())
	assert.ErrorIs(t, s.SetParamAt(0, value.Of(1)), ErrUnknownSlot)
}

func TestContainer_ProcessorsWith(t *testing.T) {
	s := New()
	a := newBinOp("A", add)
	src := newFuncProc("src", constant(1))
	inner := New()
	for _, p := range []Processor{a, src, inner} {
		require.NoError(t, s.AddProcessor(p))
	}

	assert.Equal(t, []Processor{a}, s.ProcessorsWith(CapArithmetic))
	assert.Equal(t, []Processor{src}, s.ProcessorsWith(CapSource))
	assert.Equal(t, []Processor{inner}, s.ProcessorsWith(CapSequence|CapContainer))
	assert.Len(t, s.ProcessorsWith(0), 3)
}

func TestProcessor_CheckInputType(t *testing.T) {
	p := newBinOp("p", add)
	assert.True(t, p.CheckInputType(nil))
	assert.True(t, p.CheckInputType(value.Values(1.0)))
	assert.True(t, p.CheckInputType(value.Values(1.0, 2.0)))
	assert.False(t, p.CheckInputType(value.Values(1.0, 2.0, 3.0)))
	assert.False(t, p.CheckInputType(value.Values(1.0, "x")))
	assert.False(t, p.CheckInputType(value.Values(float32(1))))
	assert.False(t, p.CheckInputType([]value.Value{{}}))
}

func TestProcessor_SchemaIdempotent(t *testing.T) {
	p := newBinOp("p", add)
	assert.Equal(t, 0, p.AddInput("input0", value.TypeOf[float64]()))
	assert.Equal(t, 2, p.AddInput("extra", value.TypeOf[int]()))
	require.NoError(t, p.Initialize(value.Value{}))
	assert.Len(t, p.InputTypes(), 2)
	assert.Len(t, p.OutputTypes(), 1)
	p.RemoveOutput("result")
	assert.Empty(t, p.OutputTypes())
}

func TestProcessor_BoundSlots(t *testing.T) {
	type gains struct {
		Values map[string]float64 `json:"values"`
		Active bool
	}
	p := newFuncProc("bound", func(in []value.Value) ([]value.Value, Outcome, error) {
		return nil, Pass, nil
	})
	require.NoError(t, p.Initialize(value.Of(gains{})))

	idx, err := p.AddInputPath("gain", value.TypeOf[float64](), "values[x]")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	_, err = p.AddInputPath("bad", value.TypeOf[int](), "values[x]")
	assert.ErrorIs(t, err, ErrTypeMismatch)
	_, err = p.AddOutputPath("active", value.TypeOf[bool](), "Active")
	require.NoError(t, err)

	require.NoError(t, p.ApplyBoundInputs(value.Values(2.5)))
	assert.Equal(t, 2.5, value.MustGet[gains](p.Param()).Values["x"])

	out, err := p.BoundOutputs()
	require.NoError(t, err)
	assert.Equal(t, false, value.MustGet[bool](out[0]))

	other := newFuncProc("noparam", constant(0))
	_, err = other.AddInputPath("x", value.TypeOf[float64](), "a.b")
	assert.Error(t, err)
}

func TestProcessor_ModeCallbacks(t *testing.T) {
	p := newBinOp("p", add)
	got := make(chan Mode, 2)
	p.OnModeChanged(func(m Mode) { got <- m })

	p.SetMode(ModeProgram)
	p.SetMode(ModeTest)
	select {
	case m := <-got:
		assert.Equal(t, ModeTest, m)
	case <-time.After(time.Second):
		t.Fatal("mode callback not called")
	}
	select {
	case m := <-got:
		t.Fatalf("unexpected callback for %s", m)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMode_Text(t *testing.T) {
	for _, m := range []Mode{ModeProgram, ModeRun, ModeTest} {
		b, err := m.MarshalText()
		require.NoError(t, err)
		var back Mode
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, m, back)
	}
	_, err := ParseMode("idle")
	assert.Error(t, err)
	assert.True(t, ModeRun.Loops())
	assert.False(t, ModeProgram.Loops())
}
