// Package depgraph builds and validates dependency graphs over work items.
package depgraph

import (
	"fmt"
	"strings"
)

// CycleError indicates that the work item set contains a directed dependency
// cycle. A cyclic graph has no valid execution order, so construction fails
// rather than producing a graph that can never be scheduled.
//
// Members holds the ids that form the cycle, in traversal order. Each member
// appears exactly once.
type CycleError struct {
	// Members are the work item ids forming the cycle, in order.
	Members []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Members, " -> "))
}

// MissingDependencyError indicates that a work item declares a dependency on
// an id that is not present in the item set. Like CycleError this is a caller
// configuration error: it is deterministic and never retried.
type MissingDependencyError struct {
	// ItemID is the work item that declared the dependency.
	ItemID string

	// DependencyID is the unknown id the item depends on.
	DependencyID string
}

// Error implements the error interface.
func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("work item %q depends on unknown item %q", e.ItemID, e.DependencyID)
}
