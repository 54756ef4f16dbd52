package worker

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// launchArgv turns the configured worker command into an argv slice. A
// multi-element command (the common case, e.g. ["python3", "-u", "-m",
// "agentctl.worker"]) is used as-is. A single-element command is treated
// as a shell command line and split respecting quoting, using
// mvdan.cc/sh's syntax.NewParser and syntax.Walk to take the words of the
// first command in the line.
func launchArgv(command []string) ([]string, error) {
	if len(command) != 1 {
		return command, nil
	}

	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(command[0]), "")
	if err != nil {
		return nil, fmt.Errorf("worker: parsing launch command: %w", err)
	}

	var argv []string
	syntax.Walk(file, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(argv) > 0 {
			return true
		}
		for _, word := range call.Args {
			argv = append(argv, wordLiteral(word))
		}
		return true
	})

	if len(argv) == 0 {
		return nil, fmt.Errorf("worker: empty launch command")
	}
	return argv, nil
}

func wordLiteral(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		}
	}
	return sb.String()
}
