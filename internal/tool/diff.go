package tool

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// buildSourceDiff returns a unified-style diff of a cell's old and new
// source plus added/deleted line counts, for modify_cell's result
// metadata. Returns ("", 0, 0) when the source is unchanged.
func buildSourceDiff(cellID, before, after string) (string, int, int) {
	if before == after {
		return "", 0, 0
	}

	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	additions, deletions := 0, 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			additions += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			deletions += countLines(d.Text)
		}
	}

	patches := dmp.PatchMake(before, diffs)
	diffText := dmp.PatchToText(patches)
	if diffText == "" {
		return "", additions, deletions
	}

	var b2 strings.Builder
	b2.WriteString("--- " + cellID + "\n")
	b2.WriteString("+++ " + cellID + "\n")
	b2.WriteString(diffText)

	return b2.String(), additions, deletions
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	lines := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		lines++
	}
	return lines
}
