package services

import (
	"context"
	"testing"
	"time"

	"github.com/soochol/procflow/internal/events"
	"github.com/soochol/procflow/internal/persist"
	"github.com/soochol/procflow/internal/processors"
	"github.com/soochol/procflow/internal/repository"
	"github.com/soochol/procflow/internal/sequence"
	"github.com/soochol/procflow/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// diamondDoc is A=x+y, B=x-y, C=A*B.
func diamondDoc(t *testing.T, name string) *persist.Document {
	t.Helper()
	s := sequence.New(sequence.WithName(name))
	s.AddInput("x", value.TypeOf[float64]())
	s.AddInput("y", value.TypeOf[float64]())
	a := processors.NewBinaryOp(processors.OpAdd)
	a.SetName("A")
	b := processors.NewBinaryOp(processors.OpSub)
	b.SetName("B")
	c := processors.NewBinaryOp(processors.OpMul)
	c.SetName("C")
	for _, p := range []sequence.Processor{a, b, c} {
		require.NoError(t, s.AddProcessor(p))
	}
	for _, p := range []sequence.Processor{a, b} {
		require.NoError(t, s.MapProcessorInput(p.ID(), 0, 0))
		require.NoError(t, s.MapProcessorInput(p.ID(), 1, 1))
	}
	require.NoError(t, s.Connect(a, c, 0, 0))
	require.NoError(t, s.Connect(b, c, 0, 1))

	doc, err := persist.Snapshot(s)
	require.NoError(t, err)
	return &doc
}

type fixture struct {
	svc  *SequenceService
	repo *repository.MemorySequenceRepository
	bus  *events.Bus
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()
	bus := events.NewBus()
	repo := repository.NewMemorySequenceRepository()
	restorer := &persist.Restorer{Options: []sequence.Option{
		sequence.WithEventBus(bus),
		sequence.WithLoopInterval(time.Millisecond),
	}}
	history := NewRunHistoryService(repository.NewMemoryRunRepository())
	svc := NewSequenceService(repo, restorer, history, bus, opts...)
	t.Cleanup(svc.Close)
	return &fixture{svc: svc, repo: repo, bus: bus}
}

func TestSequenceService_LoadAndExecute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seq, err := f.svc.Load(ctx, diamondDoc(t, "diamond"))
	require.NoError(t, err)
	assert.Equal(t, 3, seq.Len())

	record, err := f.svc.Execute(ctx, "diamond", []any{1, 2}, persist.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, sequence.Pass, record.Outcome)
	assert.Equal(t, persist.TriggerManual, record.Trigger)
	assert.Equal(t, uint64(1), record.TriggerCount)
	assert.Len(t, record.Processors, 3)

	results, err := f.svc.Results("diamond")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "C", results[2].Name)
	assert.Equal(t, -3.0, value.MustGet[float64](results[2].Results[0]))

	runs, total, err := f.svc.Runs(ctx, "diamond", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, record.ID, runs[0].ID)

	got, err := f.svc.Run(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)

	summary, err := f.svc.Summary("diamond")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), summary.Status.OKCount)
	assert.Equal(t, sequence.ModeProgram, summary.Mode)
}

func TestSequenceService_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Load(ctx, diamondDoc(t, "diamond"))
	require.NoError(t, err)

	_, err = f.svc.Execute(ctx, "missing", nil, persist.TriggerManual)
	assert.ErrorIs(t, err, ErrSequenceNotFound)

	_, err = f.svc.Execute(ctx, "diamond", []any{"one", 2}, persist.TriggerManual)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Execute(ctx, "diamond", []any{1, 2, 3}, persist.TriggerManual)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Load(ctx, diamondDoc(t, ""))
	assert.ErrorIs(t, err, ErrInvalidDocument)

	broken := diamondDoc(t, "broken")
	broken.Links = append(broken.Links, persist.LinkDoc{Src: broken.Processors[2].ID, Dst: broken.Processors[0].ID})
	_, err = f.svc.Load(ctx, broken)
	assert.ErrorIs(t, err, ErrInvalidDocument)
	assert.ErrorIs(t, err, sequence.ErrCycle)

	assert.ErrorIs(t, f.svc.SetMode("missing", sequence.ModeRun), ErrSequenceNotFound)
	_, err = f.svc.Results("missing")
	assert.ErrorIs(t, err, ErrSequenceNotFound)
}

func TestSequenceService_MissingInputsFail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Load(ctx, diamondDoc(t, "diamond"))
	require.NoError(t, err)

	// Processor failures are aggregated into the outcome, not returned.
	record, err := f.svc.Execute(ctx, "diamond", []any{1}, persist.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, sequence.Fail, record.Outcome)
	assert.Contains(t, record.Message, sequence.ErrTypeMismatch.Error())
}

func TestSequenceService_CronSkipsBusySequence(t *testing.T) {
	f := newFixture(t, WithLimiter(NewConcurrencyLimiter(ConcurrencyLimits{GlobalMax: 4, PerSequence: 1})))
	ctx := context.Background()
	_, err := f.svc.Load(ctx, diamondDoc(t, "diamond"))
	require.NoError(t, err)

	require.True(t, f.svc.limiter.TryAcquire("diamond"))
	_, err = f.svc.Execute(ctx, "diamond", []any{1, 2}, persist.TriggerCron)
	assert.ErrorIs(t, err, ErrBusy)
	f.svc.limiter.Release("diamond")

	_, err = f.svc.Execute(ctx, "diamond", []any{1, 2}, persist.TriggerCron)
	assert.NoError(t, err)
}

func TestSequenceService_LoopRecording(t *testing.T) {
	f := newFixture(t, WithLoopRecording(true))
	ctx := context.Background()
	_, err := f.svc.Load(ctx, diamondDoc(t, "diamond"))
	require.NoError(t, err)

	require.NoError(t, f.svc.SetMode("diamond", sequence.ModeRun))
	_, err = f.svc.Execute(ctx, "diamond", []any{1, 2}, persist.TriggerManual)
	assert.ErrorIs(t, err, ErrLooping)

	require.Eventually(t, func() bool {
		_, total, _ := f.svc.Runs(ctx, "diamond", 0, 0)
		return total >= 2
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, f.svc.SetMode("diamond", sequence.ModeProgram))

	runs, _, err := f.svc.Runs(ctx, "diamond", 1, 0)
	require.NoError(t, err)
	assert.Equal(t, persist.TriggerLoop, runs[0].Trigger)
	// The loop runs without inputs, so the bound processors mismatch.
	assert.Equal(t, sequence.Fail, runs[0].Outcome)

	summary, err := f.svc.Summary("diamond")
	require.NoError(t, err)
	assert.False(t, summary.Running)
}

func TestSequenceService_LoopNotRecordedByDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq, err := f.svc.Load(ctx, diamondDoc(t, "diamond"))
	require.NoError(t, err)

	require.NoError(t, f.svc.SetMode("diamond", sequence.ModeTest))
	require.Eventually(t, func() bool { return seq.Status().TriggerCount >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, f.svc.SetMode("diamond", sequence.ModeProgram))

	_, total, err := f.svc.Runs(ctx, "diamond", 0, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestSequenceService_ReloadReplaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := diamondDoc(t, "diamond")

	first, err := f.svc.Load(ctx, doc)
	require.NoError(t, err)
	first.SetMode(sequence.ModeRun)
	require.True(t, first.Running())

	second, err := f.svc.Load(ctx, doc)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.False(t, first.Running(), "replaced sequence should be closed")
	assert.Len(t, f.svc.List(), 1)

	live, err := f.svc.Get("diamond")
	require.NoError(t, err)
	assert.Same(t, second, live)
}

func TestSequenceService_LoadStoredAndRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.Save(ctx, diamondDoc(t, "a")))
	require.NoError(t, f.repo.Save(ctx, diamondDoc(t, "b")))
	require.NoError(t, f.repo.Save(ctx, &persist.Document{ID: "bad", Name: "broken", Kind: "nope"}))

	n, err := f.svc.LoadStored(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list := f.svc.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)
	assert.Equal(t, "b", list[1].Name)

	doc, err := f.svc.Document("a")
	require.NoError(t, err)
	assert.Equal(t, list[0].ID, doc.ID)

	require.NoError(t, f.svc.Remove(ctx, "a"))
	_, err = f.svc.Get("a")
	assert.ErrorIs(t, err, ErrSequenceNotFound)
	_, err = f.repo.Get(ctx, "a")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, f.svc.Remove(ctx, "a"), ErrSequenceNotFound)
}

func TestSequenceService_LoadFile(t *testing.T) {
	f := newFixture(t)
	path := t.TempDir() + "/diamond.yaml"
	require.NoError(t, persist.SaveFile(path, *diamondDoc(t, "diamond")))

	seq, err := f.svc.LoadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "diamond", seq.Name())

	_, err = f.svc.LoadFile(context.Background(), path+".missing")
	assert.Error(t, err)
}
