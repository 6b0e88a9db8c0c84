package source

import (
	"fmt"
	"strings"
)

// Function is the span of a function declaration in a file. Lines are
// 1-based and inclusive.
type Function struct {
	Name  string
	Start int
	End   int
}

// Contains reports whether line falls within the function span.
func (f Function) Contains(line int) bool {
	return line >= f.Start && line <= f.End
}

// Parser is the source parsing capability.
type Parser interface {
	// LocateFunction returns the function enclosing the 1-based line.
	LocateFunction(lines []string, line int) (Function, bool)
	// References lists class names referenced by body, in order of first use.
	References(body string) []string
	// Class returns the declaration of class name in code.
	Class(name, code string) (string, bool)
	// Method returns the body of method in class. An empty class searches
	// the whole file.
	Method(class, method, code string) (string, bool)
	// ParentOf returns the name of the class that class extends.
	ParentOf(class, code string) (string, bool)
}

// Kinds of parser accepted by New.
const (
	KindRegex      = "regex"
	KindTreeSitter = "treesitter"
)

// New returns the parser for kind. An empty kind selects the regex parser.
func New(kind string) (Parser, error) {
	switch strings.ToLower(kind) {
	case "", KindRegex:
		return NewPHP(), nil
	case KindTreeSitter, "tree-sitter":
		return NewTreeSitter(), nil
	default:
		return nil, fmt.Errorf("unknown parser %q (supported: %s, %s)", kind, KindRegex, KindTreeSitter)
	}
}

// SplitLines splits file text into lines without trailing newline characters.
func SplitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// JoinSpan returns lines start..end (1-based, inclusive) joined by newlines.
func JoinSpan(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

// shortName strips a namespace prefix: \App\Models\User -> User.
func shortName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, `\`); i >= 0 {
		return name[i+1:]
	}
	return name
}

var pseudoClasses = map[string]bool{"self": true, "static": true, "parent": true}

// appendUnique appends name unless it is empty, a pseudo class, or present.
func appendUnique(names []string, seen map[string]bool, name string) []string {
	name = shortName(name)
	if name == "" || pseudoClasses[strings.ToLower(name)] || seen[name] {
		return names
	}
	seen[name] = true
	return append(names, name)
}
