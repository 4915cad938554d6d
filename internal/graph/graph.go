package graph

import (
	"container/heap"
	"fmt"
	"slices"

	"github.com/cruciblehq/cruxbuild/internal/stage"
)

// Validated, immutable stage dependency graph.
//
// Safe for concurrent read access.
type Graph struct {
	stages   []*stage.Descriptor // Declaration order.
	index    map[string]int      // Stage ID to declaration index.
	preds    [][]int             // Producers per stage, ascending declaration index.
	deps     [][]int             // Dependents per stage, ascending declaration index.
	order    []int               // Stable topological order.
	terminal int                 // Declaration index of the terminal stage, or -1.
}

// Links descriptors into a [Graph].
//
// The predecessor reference and every import contribute an edge from the
// consumer to the producer. Fails with [stage.ErrInvalidDescriptor] for
// duplicate identifiers, unresolvable imports or more than one terminal
// stage, [ErrUnknownPredecessor] for references to absent stages,
// [ErrDuplicateArtifactName] when a consumer imports the same name from two
// producers, and [ErrCyclicDependency] when the edges form a cycle.
func Build(descriptors []*stage.Descriptor) (*Graph, error) {
	if len(descriptors) == 0 {
		return nil, &stage.Error{Reason: "no stages"}
	}

	g := &Graph{
		stages:   slices.Clone(descriptors),
		index:    make(map[string]int, len(descriptors)),
		preds:    make([][]int, len(descriptors)),
		deps:     make([][]int, len(descriptors)),
		terminal: -1,
	}

	for i, d := range g.stages {
		if _, dup := g.index[d.ID()]; dup {
			return nil, &stage.Error{Stage: d.ID(), Reason: "duplicate stage identifier"}
		}
		g.index[d.ID()] = i

		if d.Terminal() {
			if g.terminal >= 0 {
				return nil, &stage.Error{
					Stage:  d.ID(),
					Reason: fmt.Sprintf("image metadata already declared by stage %q", g.stages[g.terminal].ID()),
				}
			}
			g.terminal = i
		}
	}

	for i, d := range g.stages {
		if err := g.link(i, d); err != nil {
			return nil, err
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CycleError{Members: cycle}
	}

	g.order = g.topoOrder()
	return g, nil
}

// Adds the edges of a single consumer and checks its imports.
func (g *Graph) link(i int, d *stage.Descriptor) error {
	producers := make(map[int]struct{})

	addEdge := func(id string) error {
		p, ok := g.index[id]
		if !ok {
			return fmt.Errorf("%w: stage %q references %q", ErrUnknownPredecessor, d.ID(), id)
		}
		producers[p] = struct{}{}
		return nil
	}

	if pred := d.Predecessor(); pred != "" {
		if err := addEdge(pred); err != nil {
			return err
		}
	}

	sources := make(map[string]string) // artifact name -> producer
	for _, imp := range d.Imports() {
		if imp.Stage == "" {
			return &stage.Error{Stage: d.ID(), Reason: fmt.Sprintf("import %q has no producer and the stage has no predecessor", imp.Artifact)}
		}
		if err := addEdge(imp.Stage); err != nil {
			return err
		}

		if prev, seen := sources[imp.Artifact]; seen && prev != imp.Stage {
			return fmt.Errorf("%w: stage %q imports %q from both %q and %q", ErrDuplicateArtifactName, d.ID(), imp.Artifact, prev, imp.Stage)
		}
		sources[imp.Artifact] = imp.Stage

		if !exports(g.stages[g.index[imp.Stage]], imp.Artifact) {
			return &stage.Error{Stage: d.ID(), Reason: fmt.Sprintf("imports %q which stage %q does not export", imp.Artifact, imp.Stage)}
		}
	}

	for p := range producers {
		g.preds[i] = append(g.preds[i], p)
		g.deps[p] = append(g.deps[p], i)
	}
	slices.Sort(g.preds[i])
	for p := range producers {
		slices.Sort(g.deps[p])
	}

	return nil
}

// Whether the descriptor declares an export with the given name.
func exports(d *stage.Descriptor, name string) bool {
	return slices.ContainsFunc(d.Exports(), func(e stage.Export) bool { return e.Name == name })
}

// Searches for a cycle with a depth-first traversal.
//
// Nodes are marked visiting while on the traversal stack and visited once
// all their producers are explored. Reaching a visiting node closes a cycle,
// whose members are returned in dependency order with the first member
// repeated at the end. Returns nil if the graph is acyclic.
func (g *Graph) findCycle() []string {
	const (
		unvisited = iota
		visiting
		visited
	)

	marks := make([]int, len(g.stages))
	var stack []int
	var cycle []string

	var visit func(u int) bool
	visit = func(u int) bool {
		marks[u] = visiting
		stack = append(stack, u)
		for _, v := range g.preds[u] {
			switch marks[v] {
			case unvisited:
				if visit(v) {
					return true
				}
			case visiting:
				start := slices.Index(stack, v)
				for _, n := range stack[start:] {
					cycle = append(cycle, g.stages[n].ID())
				}
				cycle = append(cycle, g.stages[v].ID())
				return true
			}
		}
		stack = stack[:len(stack)-1]
		marks[u] = visited
		return false
	}

	for i := range g.stages {
		if marks[i] == unvisited && visit(i) {
			return cycle
		}
	}
	return nil
}

// Returns a topological order of declaration indices.
//
// The ready set is a min-heap on declaration index, so among stages whose
// producers are all ordered, the earliest declared comes first.
func (g *Graph) topoOrder() []int {
	indeg := make([]int, len(g.stages))
	for i := range g.stages {
		indeg[i] = len(g.preds[i])
	}

	ready := &indexHeap{}
	for i, n := range indeg {
		if n == 0 {
			heap.Push(ready, i)
		}
	}

	order := make([]int, 0, len(g.stages))
	for ready.Len() > 0 {
		u := heap.Pop(ready).(int)
		order = append(order, u)
		for _, v := range g.deps[u] {
			indeg[v]--
			if indeg[v] == 0 {
				heap.Push(ready, v)
			}
		}
	}
	return order
}

// Min-heap of declaration indices.
type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Returns the number of stages.
func (g *Graph) Len() int { return len(g.stages) }

// Returns the stage with the given identifier.
func (g *Graph) Stage(id string) (*stage.Descriptor, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.stages[i], true
}

// Returns the stages in declaration order.
func (g *Graph) Stages() []*stage.Descriptor {
	return slices.Clone(g.stages)
}

// Returns stage identifiers in topological order.
//
// Every stage appears after all of its producers. Ties are broken by
// declaration order.
func (g *Graph) Order() []string {
	return g.ids(g.order)
}

// Returns the identifiers of the stages the given stage depends on.
func (g *Graph) Predecessors(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.ids(g.preds[i])
}

// Returns the identifiers of the stages that depend directly on the given
// stage.
func (g *Graph) Dependents(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.ids(g.deps[i])
}

// Returns the identifiers of every stage that depends on the given stage,
// directly or transitively, in topological order.
func (g *Graph) Downstream(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}

	reached := make([]bool, len(g.stages))
	queue := slices.Clone(g.deps[i])
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		if reached[u] {
			continue
		}
		reached[u] = true
		queue = append(queue, g.deps[u]...)
	}

	var out []int
	for _, u := range g.order {
		if reached[u] {
			out = append(out, u)
		}
	}
	return g.ids(out)
}

// Returns the producer of every artifact the consumer imports, keyed by
// artifact name.
func (g *Graph) Producers(consumer string) map[string]string {
	i, ok := g.index[consumer]
	if !ok {
		return nil
	}
	out := make(map[string]string)
	for _, imp := range g.stages[i].Imports() {
		out[imp.Artifact] = imp.Stage
	}
	return out
}

// Whether the consumer declares a dependency on the producer.
//
// Artifacts are only visible to the stages declared as their consumers.
func (g *Graph) CanImport(consumer, producer string) bool {
	c, ok := g.index[consumer]
	if !ok {
		return false
	}
	p, ok := g.index[producer]
	if !ok {
		return false
	}
	_, found := slices.BinarySearch(g.preds[c], p)
	return found
}

// Returns the terminal stage, the one carrying final-image metadata.
func (g *Graph) Terminal() (*stage.Descriptor, bool) {
	if g.terminal < 0 {
		return nil, false
	}
	return g.stages[g.terminal], true
}

// Maps declaration indices to stage identifiers.
func (g *Graph) ids(idx []int) []string {
	out := make([]string, len(idx))
	for i, n := range idx {
		out[i] = g.stages[n].ID()
	}
	return out
}
