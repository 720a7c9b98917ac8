package depgraph

import "sort"

// WorkItem is one schedulable unit of work. Items are immutable once a Graph
// has been built from them: the Graph copies what it needs and never observes
// later mutation of the caller's slice.
//
// Edges are directed: if A lists B in DependsOn, B must complete before A may
// start.
type WorkItem struct {
	// ID uniquely identifies the item within one graph.
	ID string

	// Title is a human-readable label. Not interpreted by the analyzer.
	Title string

	// DependsOn lists the ids of items that must complete first.
	DependsOn []string
}

// Graph is the validated dependency graph derived from a set of work items.
//
// A Graph is guaranteed acyclic and closed (every referenced dependency id
// exists in the item set). Construct via Analyze; the zero value is not
// usable.
type Graph struct {
	items map[string]WorkItem

	// forward maps an item id to the ids it depends on.
	forward map[string][]string

	// reverse maps an item id to the ids it blocks (its dependents).
	reverse map[string][]string

	// ids is the sorted list of all item ids, the deterministic iteration
	// order for every algorithm on the graph.
	ids []string
}

// Analyze builds a dependency graph from the given work items.
//
// It fails with *MissingDependencyError if any DependsOn id is unknown, and
// with *CycleError if the items form a directed cycle. Both are configuration
// errors: deterministic, local to the input, never retryable.
//
// Duplicate item ids are resolved last-wins, matching map semantics; callers
// are expected to provide unique ids.
func Analyze(items []WorkItem) (*Graph, error) {
	g := &Graph{
		items:   make(map[string]WorkItem, len(items)),
		forward: make(map[string][]string, len(items)),
		reverse: make(map[string][]string, len(items)),
	}

	for _, item := range items {
		g.items[item.ID] = item
	}

	g.ids = make([]string, 0, len(g.items))
	for id := range g.items {
		g.ids = append(g.ids, id)
	}
	sort.Strings(g.ids)

	// Validate edge closure before building adjacency so the error names
	// the first offender in deterministic order.
	for _, id := range g.ids {
		item := g.items[id]
		deps := make([]string, 0, len(item.DependsOn))
		for _, dep := range item.DependsOn {
			if _, ok := g.items[dep]; !ok {
				return nil, &MissingDependencyError{ItemID: id, DependencyID: dep}
			}
			deps = append(deps, dep)
		}
		sort.Strings(deps)
		g.forward[id] = deps
		for _, dep := range deps {
			g.reverse[dep] = append(g.reverse[dep], id)
		}
	}
	for id := range g.reverse {
		sort.Strings(g.reverse[id])
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CycleError{Members: cycle}
	}

	return g, nil
}

// Len returns the number of items in the graph.
func (g *Graph) Len() int { return len(g.ids) }

// IDs returns all item ids in ascending order. The returned slice is shared;
// callers must not modify it.
func (g *Graph) IDs() []string { return g.ids }

// Item looks up a work item by id.
func (g *Graph) Item(id string) (WorkItem, bool) {
	item, ok := g.items[id]
	return item, ok
}

// DependsOn returns the ids the given item depends on, ascending.
func (g *Graph) DependsOn(id string) []string { return g.forward[id] }

// Blocks returns the ids of items that depend on the given item, ascending.
// These are the items unblocked (in part) by its completion.
func (g *Graph) Blocks(id string) []string { return g.reverse[id] }

// findCycle runs a DFS with an explicit recursion stack and returns the first
// cycle found as an ordered id list, or nil if the graph is acyclic.
//
// Iteration over g.ids makes the reported cycle deterministic for identical
// input.
func (g *Graph) findCycle() []string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(g.ids))
	stack := make([]string, 0, len(g.ids))

	var cycle []string
	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = inStack
		stack = append(stack, id)

		for _, dep := range g.forward[id] {
			switch state[dep] {
			case inStack:
				// Found a back edge; the cycle is the stack suffix
				// starting at dep.
				for i, sid := range stack {
					if sid == dep {
						cycle = append(cycle, stack[i:]...)
						break
					}
				}
				return true
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[id] = done
		return false
	}

	for _, id := range g.ids {
		if state[id] == unvisited && visit(id) {
			return cycle
		}
	}
	return nil
}
