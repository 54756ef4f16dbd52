package worker

import "strings"

// parseWorkerError implements the error-formatting rule of spec root §4.3:
// if the body looks like it carries a traceback, the last non-blank line
// is split on the first ": " into name/value; otherwise the raw message
// becomes value with a synthetic ename. A KeyboardInterrupt or an
// abort-flagged message is reported as a cancellation rather than an
// error.
func parseWorkerError(raw string) (ename, evalue string, cancelled bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "Error", "worker reported an empty error", false
	}

	if strings.Contains(raw, "KeyboardInterrupt") || strings.Contains(raw, "aborted") {
		return "", "", true
	}

	lines := strings.Split(raw, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if idx := strings.Index(last, ": "); idx > 0 && len(lines) > 1 {
		return last[:idx], last[idx+2:], false
	}

	return "Error", raw, false
}
