package validators

import (
	"fmt"
	"regexp"
	"strings"
)

// Status is the outcome of one validator invocation.
type Status string

// Finding statuses.
const (
	StatusOK    Status = "ok"
	StatusIssue Status = "issue"
	StatusError Status = "error"
)

// Finding is the result of running one validator against one code unit.
type Finding struct {
	Validator string `json:"validator"`
	Status    Status `json:"status"`
	Message   string `json:"message,omitempty"`
}

// IsIssue reports whether the finding carries an issue.
func (f Finding) IsIssue() bool { return f.Status == StatusIssue }

var noneAnswer = regexp.MustCompile(`(?i)^\W*(none|no issues?( found)?|no new risks?)\W*$`)

// FromText turns a validator's raw answer into a Finding. The "None"
// sentinel, with or without punctuation or markdown around it, means no
// issue and yields an ok finding with no message.
func FromText(validator, text string) Finding {
	text = strings.TrimSpace(text)
	if text == "" || noneAnswer.MatchString(text) {
		return Finding{Validator: validator, Status: StatusOK}
	}
	return Finding{Validator: validator, Status: StatusIssue, Message: text}
}

// Failed returns an error-tagged finding for a validator that did not
// complete.
func Failed(validator string, err error) Finding {
	return Finding{Validator: validator, Status: StatusError, Message: err.Error()}
}

// Summarize renders findings for the draft prompt. Ok findings are omitted.
func Summarize(findings []Finding) string {
	var b strings.Builder
	for _, f := range findings {
		switch f.Status {
		case StatusIssue:
			fmt.Fprintf(&b, "[%s]\n%s\n\n", f.Validator, f.Message)
		case StatusError:
			fmt.Fprintf(&b, "[%s] (check failed: %s)\n\n", f.Validator, f.Message)
		}
	}
	if b.Len() == 0 {
		return "No validator reported an issue."
	}
	return strings.TrimSpace(b.String())
}

// Counts tallies findings by status.
func Counts(findings []Finding) map[Status]int {
	counts := make(map[Status]int)
	for _, f := range findings {
		counts[f.Status]++
	}
	return counts
}
