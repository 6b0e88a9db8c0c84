package oracle

import (
	"context"
	"regexp"
	"strings"

	"github.com/dshills/lens/internal/locator"
)

// TypeInfo maps an expression to counts of the type tags inferred for it.
type TypeInfo map[string]map[string]int

// Add records one observation of tag for expr.
func (t TypeInfo) Add(expr, tag string) {
	if t[expr] == nil {
		t[expr] = make(map[string]int)
	}
	t[expr][tag]++
}

// Conversation roles in a review history.
const (
	RoleAssistant = "assistant"
	RoleHuman     = "human"
)

// Turn is one entry of a review conversation.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// DraftInput is everything the reviewer sees when drafting.
type DraftInput struct {
	Unit      locator.CodeUnit
	Context   string
	Findings  string
	OddParams string
	Types     string
	History   []Turn
	// Final forbids further clarification questions.
	Final bool
}

// CheckInput is the input of one validator check.
type CheckInput struct {
	Validator    string
	Instructions string
	Path         string
	Body         string
	Changed      string
	Context      string
	FullText     string
}

// Oracle is the reasoning capability.
type Oracle interface {
	InferTypes(ctx context.Context, body, related, fullText string) (TypeInfo, error)
	SelectValidators(ctx context.Context, body, related string, available []string) ([]string, error)
	RunCheck(ctx context.Context, in CheckInput) (string, error)
	DraftReview(ctx context.Context, in DraftInput) (string, error)
	Summarize(ctx context.Context, label, text string) (string, error)
}

var questionLine = regexp.MustCompile(`(?i)^\s*(?:[-*>]\s+)?(?:\*\*|__)?question(?:\*\*|__)?\s*:(?:\*\*|__)?\s*(.*?)\s*$`)

// ParseClarification finds the clarification marker in a draft and returns
// the question after it. Markdown bullets and bold around the marker are
// accepted.
func ParseClarification(draft string) (string, bool) {
	for _, line := range strings.Split(draft, "\n") {
		m := questionLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		q := strings.TrimSpace(strings.Trim(m[1], "*_"))
		if q != "" {
			return q, true
		}
	}
	return "", false
}

// ParseSelection extracts validator names from a free-form answer, keeping
// only names in available, in the order given, without duplicates.
func ParseSelection(answer string, available []string) []string {
	known := make(map[string]string, len(available))
	for _, name := range available {
		known[normalizeName(name)] = name
	}
	seen := make(map[string]bool)
	var out []string
	for _, field := range strings.FieldsFunc(answer, func(r rune) bool {
		return r == ',' || r == '\n' || r == ';'
	}) {
		name, ok := known[normalizeName(field)]
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, "-*`'\". ")
	return strings.NewReplacer("_", "-", " ", "-").Replace(s)
}
