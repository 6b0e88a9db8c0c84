package output

import (
	"io"
	"strings"

	"github.com/dshills/lens/internal/review"
	"github.com/dshills/lens/internal/validators"
)

// MarkdownWriter outputs a PR-comment-friendly markdown report.
type MarkdownWriter struct{}

func (m *MarkdownWriter) Write(w io.Writer, report *review.Report) error {
	ew := &errWriter{w: w}
	s := report.Summary

	ew.printf("## Lens Review `%s`\n\n", revRange(report.Inputs))
	ew.printf("| Functions | Finalized | Errored | Issues | Validator errors |\n")
	ew.printf("|-----------|-----------|---------|--------|------------------|\n")
	ew.printf("| %d | %d | %d | %d | %d |\n\n", s.Units, s.Finalized, s.Errored, s.Issues, s.ValidatorErrors)

	if s.Units == 0 {
		ew.println("No changed functions to review. :white_check_mark:")
		return ew.err
	}

	for _, sr := range report.Sessions {
		ew.printf("<details>\n<summary>%s <code>%s</code> %s (lines %d-%d)</summary>\n\n",
			mdIcon(sr), sr.Function, sr.File, sr.Start, sr.End)
		ew.printf("Changed lines: %s\n\n", joinInts(sr.Changed))
		if len(sr.Validators) > 0 {
			ew.printf("Validators: %s\n\n", strings.Join(sr.Validators, ", "))
		}
		for _, f := range sr.Findings {
			switch f.Status {
			case validators.StatusIssue:
				ew.printf("**%s**\n\n> %s\n\n", f.Validator, strings.ReplaceAll(f.Message, "\n", "\n> "))
			case validators.StatusError:
				ew.printf("**%s**: check failed (%s)\n\n", f.Validator, f.Message)
			}
		}
		if sr.State == review.StateErrored {
			ew.printf("**Error:** %s\n\n", sr.Error)
		} else if sr.Verdict != "" {
			ew.printf("### Verdict\n\n%s\n\n", sr.Verdict)
		}
		ew.printf("</details>\n\n")
	}

	ew.printf("*Reviewed in %dms (git: %dms, review: %dms)*\n",
		report.Timing.TotalMs, report.Timing.GitMs, report.Timing.ReviewMs)
	return ew.err
}

func mdIcon(sr review.SessionReport) string {
	switch {
	case sr.State == review.StateErrored:
		return ":red_circle:"
	case hasIssues(sr):
		return ":orange_circle:"
	default:
		return ":white_check_mark:"
	}
}
