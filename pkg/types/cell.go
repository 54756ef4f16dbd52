// Package types provides the core data model shared between the store,
// coordination engine, execution context, and the AI and code-worker
// handlers.
package types

// CellType identifies how a cell's source is interpreted.
type CellType string

const (
	CellCode     CellType = "code"
	CellMarkdown CellType = "markdown"
	CellRaw      CellType = "raw"
	CellSQL      CellType = "sql"
	CellAI       CellType = "ai"
)

// Cell is an immutable-identity, mutable-source unit of notebook content.
// Position is a floating-point ordering key so inserts never require
// renumbering siblings.
type Cell struct {
	ID               string   `json:"id"`
	NotebookID       string   `json:"notebookID"`
	CellType         CellType `json:"cellType"`
	Source           string   `json:"source"`
	Position         float64  `json:"position"`
	AIContextVisible bool     `json:"aiContextVisible"`
	ExecutionCount   int      `json:"executionCount"`
}

// PositionBefore, PositionAfter and PositionAtEnd compute a fractional
// position for a new cell relative to an existing one, matching the
// create_cell tool's "before_current"/"after_current"/"at_end" placements.
const positionStep = 0.1

func PositionBefore(current float64) float64 {
	return current - positionStep
}

func PositionAfter(current float64) float64 {
	return current + positionStep
}

func PositionAtEnd(maxPosition float64) float64 {
	return maxPosition + 1
}
