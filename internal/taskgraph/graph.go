// Package taskgraph runs a set of tasks in an order constrained by
// precedence edges, using a bounded pool of workers.
package taskgraph

import (
	"context"
	"errors"
	"fmt"
)

// ErrCycle is returned when the precedence edges of a Graph form a cycle.
var ErrCycle = errors.New("cycle detected in task graph")

// Func is the body of a task.
type Func func(ctx context.Context)

// Task is a node of a Graph.
type Task struct {
	name       string
	index      int
	fn         Func
	successors []*Task
	preds      int
}

func (t *Task) Name() string { return t.name }

// Precede makes every task in others run strictly after t.
func (t *Task) Precede(others ...*Task) {
	for _, o := range others {
		if o == nil {
			continue
		}
		t.successors = append(t.successors, o)
		o.preds++
	}
}

// Succeed makes t run strictly after every task in others.
func (t *Task) Succeed(others ...*Task) {
	for _, o := range others {
		if o != nil {
			o.Precede(t)
		}
	}
}

// Graph is a single-use collection of tasks.
type Graph struct {
	name  string
	tasks []*Task
}

func New(name string) *Graph {
	return &Graph{name: name}
}

func (g *Graph) Name() string  { return g.name }
func (g *Graph) Len() int      { return len(g.tasks) }
func (g *Graph) Tasks() []*Task { return g.tasks }

// Add appends a task. Tasks without predecessors start in insertion order.
func (g *Graph) Add(name string, fn Func) *Task {
	t := &Task{name: name, index: len(g.tasks), fn: fn}
	g.tasks = append(g.tasks, t)
	return t
}

// TopologicalOrder returns the tasks in a dependency-respecting order, or
// ErrCycle when no such order exists.
func (g *Graph) TopologicalOrder() ([]*Task, error) {
	inDegree := make([]int, len(g.tasks))
	for _, t := range g.tasks {
		inDegree[t.index] = t.preds
	}
	var queue []*Task
	for _, t := range g.tasks {
		if inDegree[t.index] == 0 {
			queue = append(queue, t)
		}
	}
	order := make([]*Task, 0, len(g.tasks))
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		order = append(order, t)
		for _, s := range t.successors {
			inDegree[s.index]--
			if inDegree[s.index] == 0 {
				queue = append(queue, s)
			}
		}
	}
	if len(order) != len(g.tasks) {
		return nil, fmt.Errorf("graph %q: %w", g.name, ErrCycle)
	}
	return order, nil
}
