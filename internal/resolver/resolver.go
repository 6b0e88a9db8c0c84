package resolver

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/lens/internal/locator"
	"github.com/dshills/lens/internal/source"
)

// Summarizer compresses a large context fragment.
type Summarizer interface {
	Summarize(ctx context.Context, label, text string) (string, error)
}

// Resolver builds the context text for a code unit.
type Resolver struct {
	Parser source.Parser
	// Index finds classes declared outside the unit's file. Optional.
	Index *ClassIndex
	// WellKnown names methods whose bodies are always worth including,
	// such as lifecycle accessors and persist methods.
	WellKnown []string
	// Summarizer, when set, compresses fragments longer than Threshold bytes.
	Summarizer Summarizer
	Threshold  int
	Log        *zap.Logger
}

var (
	receiverCall = regexp.MustCompile(`\$(\w+)->\w+\s*\(`)
	paramsUse    = regexp.MustCompile(`\$params\b`)
	paramsInit   = regexp.MustCompile(`\$params\s*=\s*[^;=][^;]*;`)
)

type fragment struct {
	label string
	text  string
}

type classSource struct {
	file string
	text string
}

// Resolve returns the concatenated context fragments for u. Fragments that
// cannot be found contribute nothing; an empty result is valid.
func (r *Resolver) Resolve(ctx context.Context, u locator.CodeUnit) string {
	log := r.Log
	if log == nil {
		log = zap.NewNop()
	}
	var frags []fragment
	seen := make(map[string]bool)
	add := func(label, text string) {
		text = strings.TrimSpace(text)
		if text == "" || seen[text] {
			return
		}
		seen[text] = true
		frags = append(frags, fragment{label: label, text: text})
	}

	// well-known methods of the unit's own file
	for _, m := range r.WellKnown {
		if m == u.Name || !callsMethod(u.Body, m) {
			continue
		}
		if body, ok := r.Parser.Method("", m, u.FullText); ok {
			add(fmt.Sprintf("method %s (%s)", m, u.File), body)
		}
	}

	if paramsUse.MatchString(u.Body) {
		if init := paramsInit.FindString(u.FullText); init != "" && !strings.Contains(u.Body, init) {
			add("$params initialization", init)
		}
	}

	for _, class := range r.references(u) {
		src, body, ok := r.findClass(ctx, class, u)
		if !ok {
			log.Debug("referenced class not found", zap.String("class", class), zap.String("unit", u.ID()))
			continue
		}
		add(fmt.Sprintf("class %s (%s)", class, src.file), body)
		r.addMethods(class, src, add)

		parent, ok := r.Parser.ParentOf(class, src.text)
		if !ok {
			continue
		}
		psrc, pbody, ok := r.findClass(ctx, parent, u)
		if !ok {
			continue
		}
		add(fmt.Sprintf("parent class %s of %s (%s)", parent, class, psrc.file), pbody)
		r.addMethods(parent, psrc, add)
	}

	var b strings.Builder
	for _, f := range frags {
		text := r.compress(ctx, f, log)
		fmt.Fprintf(&b, "// %s\n%s\n\n", f.label, text)
	}
	return strings.TrimSpace(b.String())
}

// references lists the classes used in the unit body, including the classes
// of variables assigned with new in the file and then called as receivers.
func (r *Resolver) references(u locator.CodeUnit) []string {
	refs := r.Parser.References(u.Body)
	seen := make(map[string]bool, len(refs))
	for _, c := range refs {
		seen[c] = true
	}
	for _, m := range receiverCall.FindAllStringSubmatch(u.Body, -1) {
		if m[1] == "this" {
			continue
		}
		re := regexp.MustCompile(`\$` + regexp.QuoteMeta(m[1]) + `\s*=\s*new\s+\\?([\w\\]+)`)
		nm := re.FindStringSubmatch(u.FullText)
		if nm == nil {
			continue
		}
		class := nm[1]
		if i := strings.LastIndex(class, `\`); i >= 0 {
			class = class[i+1:]
		}
		if !seen[class] {
			seen[class] = true
			refs = append(refs, class)
		}
	}
	return refs
}

func (r *Resolver) findClass(ctx context.Context, class string, u locator.CodeUnit) (classSource, string, bool) {
	if body, ok := r.Parser.Class(class, u.FullText); ok {
		return classSource{file: u.File, text: u.FullText}, body, true
	}
	file, text, ok := r.Index.Lookup(ctx, class)
	if !ok {
		return classSource{}, "", false
	}
	body, ok := r.Parser.Class(class, text)
	if !ok {
		return classSource{}, "", false
	}
	return classSource{file: file, text: text}, body, true
}

func (r *Resolver) addMethods(class string, src classSource, add func(label, text string)) {
	for _, m := range r.WellKnown {
		if body, ok := r.Parser.Method(class, m, src.text); ok {
			add(fmt.Sprintf("method %s::%s (%s)", class, m, src.file), body)
		}
	}
}

func (r *Resolver) compress(ctx context.Context, f fragment, log *zap.Logger) string {
	if r.Summarizer == nil || r.Threshold <= 0 || len(f.text) <= r.Threshold {
		return f.text
	}
	summary, err := r.Summarizer.Summarize(ctx, f.label, f.text)
	if err != nil || strings.TrimSpace(summary) == "" {
		log.Warn("summarization failed, using full fragment", zap.String("fragment", f.label), zap.Error(err))
		return f.text
	}
	return summary
}

func callsMethod(body, method string) bool {
	re := regexp.MustCompile(`(?:->|::|\b)` + regexp.QuoteMeta(method) + `\s*\(`)
	return re.MatchString(body)
}
