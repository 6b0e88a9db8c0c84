package output

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"

	"github.com/dshills/lens/internal/review"
	"github.com/dshills/lens/internal/validators"
)

// TextWriter outputs a human-readable text report.
type TextWriter struct {
	Color  bool
	Pretty bool
	Width  int
}

type palette struct {
	bold, red, yellow, green, gray func(a ...interface{}) string
}

func newPalette(enabled bool) palette {
	mk := func(attrs ...color.Attribute) func(a ...interface{}) string {
		c := color.New(attrs...)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c.SprintFunc()
	}
	return palette{
		bold:   mk(color.Bold),
		red:    mk(color.FgRed, color.Bold),
		yellow: mk(color.FgYellow),
		green:  mk(color.FgGreen),
		gray:   mk(color.FgHiBlack),
	}
}

func (t *TextWriter) Write(w io.Writer, report *review.Report) error {
	ew := &errWriter{w: w}
	p := newPalette(t.Color)

	ew.printf("%s %s\n", p.bold("Lens Review:"), revRange(report.Inputs))
	ew.printf("Repository: %s (branch: %s)\n", report.Repo.Root, report.Repo.Branch)
	ew.println(strings.Repeat("─", 60))
	s := report.Summary
	ew.printf("Functions: %d (%d finalized, %d errored) | Issues: %d | Validator errors: %d\n",
		s.Units, s.Finalized, s.Errored, s.Issues, s.ValidatorErrors)
	ew.println(strings.Repeat("─", 60))

	if s.Units == 0 {
		ew.println("\nNo changed functions to review.")
		return ew.err
	}

	var render func(string) string
	if t.Pretty {
		render = t.markdownRenderer()
	}

	for _, sr := range report.Sessions {
		ew.printf("\n%s %s:%d-%d  %s  %s\n", sessionIcon(sr, p), sr.File, sr.Start, sr.End, p.bold(sr.Function),
			p.gray("(changed: "+joinInts(sr.Changed)+")"))
		if len(sr.Validators) > 0 {
			label := strings.Join(sr.Validators, ", ")
			if sr.Fallback {
				label += " (selection failed, fallback)"
			}
			ew.printf("  Validators: %s\n", label)
		}
		for _, f := range sr.Findings {
			switch f.Status {
			case validators.StatusIssue:
				ew.printf("  %s\n", p.yellow("["+f.Validator+"]"))
				for _, line := range wrapText(f.Message, 70) {
					ew.printf("    %s\n", line)
				}
			case validators.StatusError:
				ew.printf("  %s %s\n", p.red("["+f.Validator+"]"), p.gray("check failed: "+f.Message))
			}
		}
		if sr.State == review.StateErrored {
			ew.printf("  %s %s\n", p.red("Error:"), sr.Error)
			continue
		}
		if sr.Verdict != "" {
			ew.println("  Verdict:")
			verdict := sr.Verdict
			if render != nil {
				verdict = render(verdict)
			}
			for _, line := range strings.Split(strings.TrimRight(verdict, "\n"), "\n") {
				ew.printf("    %s\n", line)
			}
		}
	}

	ew.printf("\n%s\n", strings.Repeat("─", 60))
	ew.printf("Completed in %dms (git: %dms, review: %dms)\n",
		report.Timing.TotalMs, report.Timing.GitMs, report.Timing.ReviewMs)
	if c := report.Cache; c != nil {
		ew.printf("Cache: %d hits, %d misses, %d computed\n", c.Hits, c.Misses, c.Computes)
	}
	return ew.err
}

// markdownRenderer returns a glamour renderer, falling back to the raw text
// when rendering fails.
func (t *TextWriter) markdownRenderer() func(string) string {
	width := t.Width
	if width <= 0 {
		width = 80
	}
	style := glamour.WithStandardStyle("notty")
	if t.Color {
		style = glamour.WithAutoStyle()
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return nil
	}
	return func(md string) string {
		out, err := r.Render(md)
		if err != nil {
			return md
		}
		return strings.Trim(out, "\n")
	}
}

func sessionIcon(sr review.SessionReport, p palette) string {
	switch {
	case sr.State == review.StateErrored:
		return p.red("[ERR]")
	case hasIssues(sr):
		return p.yellow("[!]")
	default:
		return p.green("[ok]")
	}
}

func hasIssues(sr review.SessionReport) bool {
	for _, f := range sr.Findings {
		if f.IsIssue() {
			return true
		}
	}
	return false
}

func revRange(in review.InputInfo) string {
	target := in.Target
	if target == "" {
		target = "working tree"
	}
	sep := ".."
	if in.MergeBase {
		sep = "..."
	}
	return in.Base + sep + target
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}

// errWriter wraps an io.Writer and captures the first error.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...interface{}) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func (ew *errWriter) println(s string) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintln(ew.w, s)
}

func wrapText(text string, width int) []string {
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		if len(para) <= width {
			lines = append(lines, para)
			continue
		}
		var current strings.Builder
		for _, word := range strings.Fields(para) {
			if current.Len()+len(word)+1 > width && current.Len() > 0 {
				lines = append(lines, current.String())
				current.Reset()
			}
			if current.Len() > 0 {
				current.WriteString(" ")
			}
			current.WriteString(word)
		}
		if current.Len() > 0 {
			lines = append(lines, current.String())
		}
	}
	return lines
}
