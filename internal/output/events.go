package output

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dshills/lens/internal/events"
	"github.com/dshills/lens/internal/validators"
)

// EventPrinter renders events as one-line progress messages. Verbose adds
// validator results and drafts.
type EventPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	p       palette
	verbose bool
}

// NewEventPrinter returns a printer writing to w.
func NewEventPrinter(w io.Writer, color, verbose bool) *EventPrinter {
	return &EventPrinter{w: w, p: newPalette(color), verbose: verbose}
}

// Run prints events from ch until it closes or ctx ends.
func (ep *EventPrinter) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			ep.Print(ev)
		}
	}
}

// Print renders one event.
func (ep *EventPrinter) Print(ev events.Event) {
	line := ep.format(ev)
	if line == "" {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()
	fmt.Fprintln(ep.w, line)
}

func (ep *EventPrinter) format(ev events.Event) string {
	p := ep.p
	who := p.gray(sessionLabel(ev.Session))
	switch d := ev.Data.(type) {
	case events.RunStarted:
		return fmt.Sprintf("%s %d functions in %d files", p.bold("reviewing"), d.Units, d.Files)
	case events.UnitDiscovered:
		if !ep.verbose {
			return ""
		}
		return fmt.Sprintf("%s %s:%d-%d %s", p.gray("found"), d.File, d.Start, d.End, d.Function)
	case events.ValidatorsSelected:
		names := strings.Join(d.Names, ", ")
		if names == "" {
			names = "none"
		}
		if d.Fallback {
			names += p.yellow(" (fallback: " + d.Error + ")")
		}
		return fmt.Sprintf("%s validators: %s", who, names)
	case events.ValidatorResult:
		switch {
		case d.Status == string(validators.StatusError):
			return fmt.Sprintf("%s %s %s", who, p.red(d.Validator), p.gray(d.Message))
		case d.Status == string(validators.StatusIssue):
			return fmt.Sprintf("%s %s %s", who, p.yellow(d.Validator), firstLine(d.Message))
		case ep.verbose:
			return fmt.Sprintf("%s %s ok", who, p.green(d.Validator))
		}
		return ""
	case events.DraftReady:
		if !ep.verbose {
			return ""
		}
		return fmt.Sprintf("%s draft %d ready", who, d.Round)
	case events.ClarificationRequested:
		return fmt.Sprintf("%s %s %s", who, p.bold("question:"), d.Question)
	case events.ClarificationResolved:
		return fmt.Sprintf("%s answered", who)
	case events.SessionFinalized:
		return fmt.Sprintf("%s %s", who, p.green("done"))
	case events.SessionErrored:
		return fmt.Sprintf("%s %s %s", who, p.red("failed"), d.Error)
	case events.RunCompleted:
		return fmt.Sprintf("%s %d functions (%d errored) in %s", p.bold("completed"), d.Sessions, d.Errored, d.Duration.Round(1e6))
	}
	return ""
}

// sessionLabel drops the run prefix from a session key.
func sessionLabel(key string) string {
	if _, rest, ok := strings.Cut(key, "/"); ok {
		return rest
	}
	return key
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
