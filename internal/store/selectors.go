package store

import (
	"fmt"

	"github.com/cellrt/runtime-agent/pkg/types"
)

func errWrongRowType(table Table, row any) error {
	return fmt.Errorf("store: table %q produced row of type %T, selector expected a different type", table, row)
}

// WhereCells boxes a types.Cell predicate as the any-typed predicate
// Selector.Where expects.
func WhereCells(pred func(types.Cell) bool) func(any) bool {
	return func(row any) bool {
		c, ok := row.(types.Cell)
		return ok && pred(c)
	}
}

// WhereQueue boxes a types.ExecutionQueueEntry predicate.
func WhereQueue(pred func(types.ExecutionQueueEntry) bool) func(any) bool {
	return func(row any) bool {
		e, ok := row.(types.ExecutionQueueEntry)
		return ok && pred(e)
	}
}

// WhereSessions boxes a types.RuntimeSession predicate.
func WhereSessions(pred func(types.RuntimeSession) bool) func(any) bool {
	return func(row any) bool {
		s, ok := row.(types.RuntimeSession)
		return ok && pred(s)
	}
}

// WhereOutputs boxes a types.Output predicate.
func WhereOutputs(pred func(types.Output) bool) func(any) bool {
	return func(row any) bool {
		o, ok := row.(types.Output)
		return ok && pred(o)
	}
}

// OrderQueueByPriority orders queue entries by descending priority, then by
// ascending id for a stable tiebreak (spec root §9: first-commit-wins is
// the only specified tiebreak; ordering among still-pending entries is the
// coordination engine's concern, not the store's).
func OrderQueueByPriority(a, b any) bool {
	ea, oka := a.(types.ExecutionQueueEntry)
	eb, okb := b.(types.ExecutionQueueEntry)
	if !oka || !okb {
		return false
	}
	if ea.Priority != eb.Priority {
		return ea.Priority > eb.Priority
	}
	return ea.ID < eb.ID
}
