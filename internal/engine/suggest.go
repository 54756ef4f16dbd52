package engine

import (
	"github.com/agnivade/levenshtein"

	"github.com/cellrt/runtime-agent/pkg/types"
)

// SuggestCellID returns the cell id in cells closest (by edit distance) to
// typo, for the "did you mean <closest id>?" suffix a create_cell/
// modify_cell/execute_cell tool call gets when it references an unknown
// cell id. Returns "" if cells is empty. Never used on the claim path —
// only in AI tool-call error text.
func SuggestCellID(cells []types.Cell, typo string) string {
	best := ""
	bestDist := -1
	for _, c := range cells {
		dist := levenshtein.ComputeDistance(typo, c.ID)
		if bestDist == -1 || dist < bestDist {
			bestDist = dist
			best = c.ID
		}
	}
	return best
}
