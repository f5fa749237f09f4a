package triage

import (
	"fmt"
	"io"
)

// WriteSummary prints a human-readable report of a run.
func WriteSummary(w io.Writer, results []Result, dryRun bool) error {
	mode := ""
	if dryRun {
		mode = " (dry run)"
	}
	failed := Failed(results)
	if _, err := fmt.Fprintf(w, "Triage%s: %d task(s) in klausi, %d processed, %d failed\n", mode, len(results), len(results)-failed, failed); err != nil {
		return err
	}
	for _, r := range results {
		var line string
		switch {
		case r.Outcome == OutcomeFailed:
			line = fmt.Sprintf("  ✗ %s %q: %s", r.TaskID, r.Title, r.Reason)
		case r.Applied:
			line = fmt.Sprintf("  ✓ %s %q → karim [%s] %s", r.TaskID, r.Title, r.Category, r.Action)
		default:
			line = fmt.Sprintf("  · %s %q would move → karim [%s] %s", r.TaskID, r.Title, r.Category, r.Action)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
