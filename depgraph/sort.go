package depgraph

import "sort"

// TopologicalSort produces a total order of the graph's item ids consistent
// with every dependency edge: an item always appears after everything it
// depends on.
//
// The implementation is Kahn's algorithm. The ready set (in-degree zero) is
// kept sorted ascending by id, so the output is identical across repeated
// runs on the same input. The graph is acyclic by construction, so the sort
// always consumes every item.
func TopologicalSort(g *Graph) []string {
	indegree := make(map[string]int, g.Len())
	for _, id := range g.ids {
		indegree[id] = len(g.forward[id])
	}

	ready := make([]string, 0, g.Len())
	for _, id := range g.ids {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, g.Len())
	for len(ready) > 0 {
		// g.ids is sorted, so ready starts sorted; only insertions below
		// can disturb it.
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for _, dependent := range g.reverse[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = insertSorted(ready, dependent)
			}
		}
	}

	return order
}

// ParallelGroups partitions the graph into an ordered sequence of groups.
// Group 0 holds the items with no dependencies; group k holds every item
// whose dependencies all lie in groups < k and not earlier.
//
// Every item lands in exactly one group, groups respect topological order,
// and ids within a group are ascending. This is the scheduling primitive the
// workflow engine uses to decide what may run concurrently.
func ParallelGroups(g *Graph) [][]string {
	level := make(map[string]int, g.Len())
	assigned := 0
	groups := [][]string{}

	for assigned < g.Len() {
		current := []string{}
		for _, id := range g.ids {
			if _, ok := level[id]; ok {
				continue
			}
			eligible := true
			for _, dep := range g.forward[id] {
				// Items picked in this pass are not in level yet, so
				// eligibility only sees groups already sealed.
				if _, ok := level[dep]; !ok {
					eligible = false
					break
				}
			}
			if eligible {
				current = append(current, id)
			}
		}

		// A non-empty graph always yields a non-empty layer because it is
		// acyclic; guard anyway so a bug cannot spin forever.
		if len(current) == 0 {
			break
		}

		for _, id := range current {
			level[id] = len(groups)
		}
		groups = append(groups, current)
		assigned += len(current)
	}

	return groups
}

// insertSorted inserts id into the sorted slice, keeping it sorted.
func insertSorted(sorted []string, id string) []string {
	i := sort.SearchStrings(sorted, id)
	sorted = append(sorted, "")
	copy(sorted[i+1:], sorted[i:])
	sorted[i] = id
	return sorted
}
