// Package persist converts sequences to and from serialisable documents.
package persist

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/soochol/procflow/internal/predicate"
	"github.com/soochol/procflow/internal/processors"
	"github.com/soochol/procflow/internal/sequence"
	"github.com/soochol/procflow/internal/value"
)

// Document is the persisted form of a processor. A sequence document nests
// its children, links and bindings; leaf documents only carry a parameter.
type Document struct {
	ID         string       `json:"id" yaml:"id"`
	Name       string       `json:"name" yaml:"name"`
	Kind       string       `json:"kind" yaml:"kind"`
	Executable string       `json:"executable,omitempty" yaml:"executable,omitempty"`
	Param      any          `json:"param,omitempty" yaml:"param,omitempty"`
	Inputs     []SlotDoc    `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Processors []Document   `json:"processors,omitempty" yaml:"processors,omitempty"`
	Links      []LinkDoc    `json:"links,omitempty" yaml:"links,omitempty"`
	Bindings   []BindingDoc `json:"bindings,omitempty" yaml:"bindings,omitempty"`
}

// SlotDoc declares a sequence-level input.
type SlotDoc struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

type LinkDoc struct {
	Src     string `json:"src" yaml:"src"`
	Dst     string `json:"dst" yaml:"dst"`
	SrcSlot int    `json:"src_slot" yaml:"src_slot"`
	DstSlot int    `json:"dst_slot" yaml:"dst_slot"`
}

type BindingDoc struct {
	Processor string `json:"processor" yaml:"processor"`
	SeqSlot   int    `json:"seq_slot" yaml:"seq_slot"`
	ProcSlot  int    `json:"proc_slot" yaml:"proc_slot"`
}

// Types names the value types a sequence input may be declared with.
var Types = map[string]value.Type{
	"float64": value.TypeOf[float64](),
	"float32": value.TypeOf[float32](),
	"int":     value.TypeOf[int](),
	"int64":   value.TypeOf[int64](),
	"string":  value.TypeOf[string](),
	"bool":    value.TypeOf[bool](),
}

type exprSource interface {
	ExecutableExpr() string
}

// Snapshot captures the graph of s: children in order, every link, and
// every binding in application order.
func Snapshot(s *sequence.Sequence) (Document, error) {
	doc, err := snapshotProcessor(s)
	if err != nil {
		return Document{}, err
	}

	for _, in := range s.InputTypes() {
		doc.Inputs = append(doc.Inputs, SlotDoc{Name: in.Name, Type: in.Type.String()})
	}
	bindings := s.Bindings()
	for _, p := range s.Processors() {
		child, err := snapshotChild(p)
		if err != nil {
			return Document{}, err
		}
		doc.Processors = append(doc.Processors, child)
		for _, b := range bindings[p.ID()] {
			doc.Bindings = append(doc.Bindings, BindingDoc{
				Processor: p.ID().String(),
				SeqSlot:   b.SeqSlot,
				ProcSlot:  b.ProcSlot,
			})
		}
	}
	for _, l := range s.AllLinks() {
		doc.Links = append(doc.Links, LinkDoc{
			Src:     l.Src.String(),
			Dst:     l.Dst.String(),
			SrcSlot: l.SrcSlot,
			DstSlot: l.DstSlot,
		})
	}
	return doc, nil
}

func snapshotChild(p sequence.Processor) (Document, error) {
	if seq, ok := p.(*sequence.Sequence); ok {
		return Snapshot(seq)
	}
	return snapshotProcessor(p)
}

func snapshotProcessor(p sequence.Processor) (Document, error) {
	doc := Document{ID: p.ID().String(), Name: p.Name(), Kind: p.Kind()}
	if e, ok := p.(exprSource); ok {
		doc.Executable = e.ExecutableExpr()
	}
	if param := p.Param(); !param.IsZero() {
		generic, err := toGeneric(param.Interface())
		if err != nil {
			return Document{}, fmt.Errorf("snapshot %q param: %w", p.Name(), err)
		}
		doc.Param = generic
	}
	return doc, nil
}

// toGeneric round-trips v through JSON so the document holds only maps,
// slices and scalars, which both codecs can emit.
func toGeneric(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Restorer rebuilds sequences from documents.
type Restorer struct {
	Registry *processors.Registry
	Logger   *slog.Logger
	// Options are applied to every restored sequence, nested ones included.
	Options []sequence.Option
}

// Restore rebuilds the sequence described by doc with the ids it was saved
// with. Every leaf processor is re-Initialized with its decoded parameter.
func (r *Restorer) Restore(doc Document) (*sequence.Sequence, error) {
	if doc.Kind != sequence.Kind {
		return nil, fmt.Errorf("restore %q: kind %q is not a sequence", doc.Name, doc.Kind)
	}
	id, err := parseID(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("restore %q: %w", doc.Name, err)
	}

	opts := append([]sequence.Option{sequence.WithName(doc.Name)}, r.Options...)
	s := sequence.New(opts...)
	s.AssignID(id)
	if err := r.bindExecutable(s, doc.Executable); err != nil {
		return nil, err
	}
	for _, in := range doc.Inputs {
		t, ok := Types[in.Type]
		if !ok {
			return nil, fmt.Errorf("restore %q: input %q has unsupported type %q", doc.Name, in.Name, in.Type)
		}
		s.AddInput(in.Name, t)
	}

	for _, child := range doc.Processors {
		p, err := r.restoreChild(child)
		if err != nil {
			return nil, fmt.Errorf("restore %q: %w", doc.Name, err)
		}
		if err := s.AddProcessor(p); err != nil {
			return nil, fmt.Errorf("restore %q: %w", doc.Name, err)
		}
	}
	for _, l := range doc.Links {
		src, err := parseID(l.Src)
		if err != nil {
			return nil, fmt.Errorf("restore %q link: %w", doc.Name, err)
		}
		dst, err := parseID(l.Dst)
		if err != nil {
			return nil, fmt.Errorf("restore %q link: %w", doc.Name, err)
		}
		if err := s.AddLink(src, dst, l.SrcSlot, l.DstSlot); err != nil {
			return nil, fmt.Errorf("restore %q: %w", doc.Name, err)
		}
	}
	for _, b := range doc.Bindings {
		pid, err := parseID(b.Processor)
		if err != nil {
			return nil, fmt.Errorf("restore %q binding: %w", doc.Name, err)
		}
		if err := s.MapProcessorInput(pid, b.SeqSlot, b.ProcSlot); err != nil {
			return nil, fmt.Errorf("restore %q: %w", doc.Name, err)
		}
	}
	return s, nil
}

func (r *Restorer) restoreChild(doc Document) (sequence.Processor, error) {
	if doc.Kind == sequence.Kind {
		return r.Restore(doc)
	}
	id, err := parseID(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("processor %q: %w", doc.Name, err)
	}
	reg := r.Registry
	if reg == nil {
		reg = processors.DefaultRegistry()
	}
	p, err := reg.New(doc.Kind)
	if err != nil {
		return nil, err
	}
	assigner, ok := p.(interface{ AssignID(uuid.UUID) })
	if !ok {
		return nil, fmt.Errorf("processor %q: kind %q cannot restore ids", doc.Name, doc.Kind)
	}
	assigner.AssignID(id)
	p.SetName(doc.Name)

	var raw json.RawMessage
	if doc.Param != nil {
		if raw, err = json.Marshal(doc.Param); err != nil {
			return nil, fmt.Errorf("processor %q param: %w", doc.Name, err)
		}
	}
	param, err := reg.DecodeParam(doc.Kind, raw)
	if err != nil {
		return nil, fmt.Errorf("processor %q: %w", doc.Name, err)
	}
	if err := p.Initialize(param); err != nil {
		return nil, fmt.Errorf("processor %q: initialize: %w", doc.Name, err)
	}
	if err := r.bindExecutable(p, doc.Executable); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Restorer) bindExecutable(p sequence.Processor, src string) error {
	if src == "" {
		return nil
	}
	if err := predicate.Bind(p, src, r.Logger); err != nil {
		return fmt.Errorf("processor %q: %w", p.Name(), err)
	}
	return nil
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", s, err)
	}
	if id == uuid.Nil {
		return uuid.Nil, sequence.ErrNilID
	}
	return id, nil
}
