package source

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// PHP is a pattern and brace-depth PHP parser.
type PHP struct{}

// NewPHP returns the regex-based PHP parser.
func NewPHP() *PHP { return &PHP{} }

var (
	funcDecl     = regexp.MustCompile(`\bfunction\s+&?([A-Za-z_]\w*)\s*\(`)
	staticRef    = regexp.MustCompile(`(?:^|[^$\w\\])(\\?[A-Za-z_][\w\\]*)::`)
	newRef       = regexp.MustCompile(`\bnew\s+(\\?[A-Za-z_][\w\\]*)`)
	instanceRef  = regexp.MustCompile(`\binstanceof\s+(\\?[A-Za-z_][\w\\]*)`)
	classPattern = `(?mi)^[ \t]*(?:(?:abstract|final|readonly)\s+)*(?:class|trait|interface)\s+%s\b`
)

// LocateFunction scans backward from line for a function declaration whose
// body, found by brace counting, contains line.
func (p *PHP) LocateFunction(lines []string, line int) (Function, bool) {
	if line < 1 || line > len(lines) {
		return Function{}, false
	}
	for i := line - 1; i >= 0; i-- {
		m := funcDecl.FindStringSubmatchIndex(lines[i])
		if m == nil {
			continue
		}
		end, ok := spanEnd(lines, i, m[0])
		if !ok {
			continue
		}
		fn := Function{Name: lines[i][m[2]:m[3]], Start: i + 1, End: end}
		if fn.Contains(line) {
			return fn, true
		}
	}
	return Function{}, false
}

// spanEnd returns the 1-based line holding the brace that closes the block
// opened at or after lines[idx][col:]. A declaration ending in ';' before
// any '{' has no body. An unclosed block runs to the end of the file.
func spanEnd(lines []string, idx, col int) (int, bool) {
	var s braceScanner
	for i := idx; i < len(lines); i++ {
		text := lines[i]
		if i == idx {
			text = text[col:]
		}
		switch _, res := s.scan(text); res {
		case scanClosed:
			return i + 1, true
		case scanBodiless:
			return 0, false
		}
	}
	return len(lines), true
}

// References lists classes used statically, instantiated, or tested with
// instanceof in body.
func (p *PHP) References(body string) []string {
	type ref struct {
		pos  int
		name string
	}
	var refs []ref
	for _, re := range []*regexp.Regexp{staticRef, newRef, instanceRef} {
		for _, m := range re.FindAllStringSubmatchIndex(body, -1) {
			refs = append(refs, ref{pos: m[2], name: body[m[2]:m[3]]})
		}
	}
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].pos < refs[j].pos })

	seen := make(map[string]bool)
	var names []string
	for _, r := range refs {
		names = appendUnique(names, seen, r.name)
	}
	return names
}

// Class returns the full declaration of class name.
func (p *PHP) Class(name, code string) (string, bool) {
	name = shortName(name)
	if name == "" {
		return "", false
	}
	re := regexp.MustCompile(fmt.Sprintf(classPattern, regexp.QuoteMeta(name)))
	loc := re.FindStringIndex(code)
	if loc == nil {
		return "", false
	}
	start := lineStart(code, loc[0])
	return extractBlock(code, start)
}

// Method returns the declaration of method inside class, or anywhere in
// code when class is empty.
func (p *PHP) Method(class, method, code string) (string, bool) {
	scope := code
	if class != "" {
		body, ok := p.Class(class, code)
		if !ok {
			return "", false
		}
		scope = body
	}
	re := regexp.MustCompile(`(?i)\bfunction\s+&?` + regexp.QuoteMeta(method) + `\s*\(`)
	for _, loc := range re.FindAllStringIndex(scope, -1) {
		if block, ok := extractBlock(scope, lineStart(scope, loc[0])); ok {
			return block, true
		}
	}
	return "", false
}

// ParentOf returns the class named in the extends clause of class.
func (p *PHP) ParentOf(class, code string) (string, bool) {
	class = shortName(class)
	if class == "" {
		return "", false
	}
	re := regexp.MustCompile(`(?i)\bclass\s+` + regexp.QuoteMeta(class) + `\s+extends\s+(\\?[A-Za-z_][\w\\]*)`)
	m := re.FindStringSubmatch(code)
	if m == nil {
		return "", false
	}
	return shortName(m[1]), true
}

// extractBlock returns code from start through the brace closing the first
// block opened after start.
func extractBlock(code string, start int) (string, bool) {
	var s braceScanner
	offset := start
	rest := code[start:]
	for len(rest) > 0 {
		line, next, _ := strings.Cut(rest, "\n")
		pos, res := s.scan(line)
		switch res {
		case scanClosed:
			return strings.TrimSpace(code[start : offset+pos+1]), true
		case scanBodiless:
			return "", false
		}
		offset += len(line) + 1
		rest = next
	}
	if !s.opened {
		return "", false
	}
	return strings.TrimSpace(code[start:]), true
}

func lineStart(code string, idx int) int {
	return strings.LastIndexByte(code[:idx], '\n') + 1
}

type scanResult int

const (
	scanMore scanResult = iota
	scanClosed
	scanBodiless
)

// braceScanner counts braces across lines, ignoring those inside string
// literals and comments.
type braceScanner struct {
	depth   int
	opened  bool
	quote   byte
	comment bool
}

func (s *braceScanner) scan(line string) (int, scanResult) {
	for i := 0; i < len(line); i++ {
		c := line[i]
		var next byte
		if i+1 < len(line) {
			next = line[i+1]
		}
		switch {
		case s.comment:
			if c == '*' && next == '/' {
				s.comment = false
				i++
			}
		case s.quote != 0:
			if c == '\\' {
				i++
			} else if c == s.quote {
				s.quote = 0
			}
		case c == '/' && next == '/', c == '#' && next != '[':
			return len(line), scanMore
		case c == '/' && next == '*':
			s.comment = true
			i++
		case c == '\'', c == '"':
			s.quote = c
		case c == '{':
			s.depth++
			s.opened = true
		case c == '}':
			s.depth--
			if s.opened && s.depth <= 0 {
				return i, scanClosed
			}
		case c == ';' && !s.opened:
			return i, scanBodiless
		}
	}
	return len(line), scanMore
}
