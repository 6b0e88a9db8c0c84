package source

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Type tags produced by LiteralType and by the Oracle's type inference.
const (
	TypeInt            = "int"
	TypeFloat          = "float"
	TypeString         = "string"
	TypeBool           = "bool"
	TypeArray          = "array"
	TypeNull           = "null"
	TypeClass          = "class"
	TypeArrayKey       = "array_key"
	TypeObjectProperty = "object_property"
	TypeVariable       = "variable"
	TypeUnknown        = "unknown"
)

var (
	exprPattern = regexp.MustCompile(`\$\w+(?:\[\s*'[^']*'\s*\]|\[\s*"[^"]*"\s*\]|->\w+\s*\(?)?`)
	intLiteral  = regexp.MustCompile(`^-?\d+$`)
	floatLit    = regexp.MustCompile(`^-?\d*\.\d+(?:[eE][-+]?\d+)?$`)
	arrayKey    = regexp.MustCompile(`^\$\w+\[\s*['"]`)
	assignment  = regexp.MustCompile(`\$(\w+)\s*=\s*([^;=][^;]*);`)
	callPattern = regexp.MustCompile(`(?:->|::|\b)([A-Za-z_]\w*)\s*\(`)
	declPattern = regexp.MustCompile(`\bfunction\s+&?([A-Za-z_]\w*)\s*\(([^)]*)\)`)
)

// Expressions lists the variables, string-keyed array accesses, and property
// accesses used in body, in order of first appearance. Method calls
// contribute only their receiver.
func Expressions(body string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range exprPattern.FindAllString(body, -1) {
		expr := strings.TrimSpace(m)
		if strings.HasSuffix(expr, "(") {
			expr = expr[:strings.Index(expr, "->")]
		}
		if expr == "$this" || seen[expr] {
			continue
		}
		seen[expr] = true
		out = append(out, expr)
	}
	return out
}

// LiteralType classifies an argument expression without any inference.
// The right operand of ?? decides the type of a coalesce.
func LiteralType(expr string) string {
	expr = strings.TrimSpace(expr)
	if i := strings.LastIndex(expr, "??"); i >= 0 {
		return LiteralType(expr[i+2:])
	}
	lower := strings.ToLower(expr)
	switch {
	case expr == "":
		return TypeUnknown
	case arrayKey.MatchString(expr):
		return TypeArrayKey
	case strings.Contains(expr, "->"):
		return TypeObjectProperty
	case strings.HasPrefix(expr, "'"), strings.HasPrefix(expr, `"`):
		return TypeString
	case strings.HasPrefix(expr, "["), strings.HasPrefix(lower, "array("):
		return TypeArray
	case intLiteral.MatchString(expr):
		return TypeInt
	case floatLit.MatchString(expr):
		return TypeFloat
	case strings.HasPrefix(lower, "new "):
		return TypeClass
	case lower == "true", lower == "false":
		return TypeBool
	case lower == "null":
		return TypeNull
	case strings.HasPrefix(expr, "$"):
		return TypeVariable
	default:
		return TypeUnknown
	}
}

var notCalls = map[string]bool{
	"if": true, "elseif": true, "while": true, "for": true, "foreach": true, "switch": true,
	"array": true, "isset": true, "empty": true, "unset": true, "list": true, "function": true,
	"fn": true, "return": true, "echo": true, "print": true, "catch": true, "match": true,
}

// ParamTypes collects, for every function declared in code, the literal
// types of the arguments passed to each parameter at call sites in code.
// Keys are "function::$param". Variable arguments resolve through the last
// assignment to that variable in code when it has a literal type.
func ParamTypes(code string) map[string]map[string]int {
	params := make(map[string][]string)
	for _, m := range declPattern.FindAllStringSubmatch(code, -1) {
		params[m[1]] = paramNames(m[2])
	}
	if len(params) == 0 {
		return map[string]map[string]int{}
	}

	assigned := make(map[string]string)
	for _, m := range assignment.FindAllStringSubmatch(code, -1) {
		assigned[m[1]] = strings.TrimSpace(m[2])
	}

	out := make(map[string]map[string]int)
	for _, loc := range callPattern.FindAllStringSubmatchIndex(code, -1) {
		name := code[loc[2]:loc[3]]
		names, ok := params[name]
		if !ok || notCalls[strings.ToLower(name)] || isDeclaration(code, loc[0]) {
			continue
		}
		args, ok := callArgs(code, loc[1])
		if !ok {
			continue
		}
		for i, arg := range args {
			if i >= len(names) {
				break
			}
			t := LiteralType(arg)
			if t == TypeVariable {
				if v, ok := assigned[strings.TrimPrefix(arg, "$")]; ok {
					if vt := LiteralType(v); vt != TypeVariable && vt != TypeUnknown {
						t = vt
					}
				}
			}
			key := name + "::$" + names[i]
			if out[key] == nil {
				out[key] = make(map[string]int)
			}
			out[key][t]++
		}
	}
	return out
}

// OddTypes keeps the parameters that received more than one distinct type.
func OddTypes(types map[string]map[string]int) map[string]map[string]int {
	odd := make(map[string]map[string]int)
	for key, counts := range types {
		if len(counts) > 1 {
			cp := make(map[string]int, len(counts))
			for t, n := range counts {
				cp[t] = n
			}
			odd[key] = cp
		}
	}
	return odd
}

// FormatTypes renders a type map as sorted "key: type=count" lines.
func FormatTypes(types map[string]map[string]int) string {
	keys := make([]string, 0, len(types))
	for k := range types {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		tags := make([]string, 0, len(types[k]))
		for t := range types[k] {
			tags = append(tags, t)
		}
		sort.Strings(tags)
		fmt.Fprintf(&b, "%s:", k)
		for _, t := range tags {
			fmt.Fprintf(&b, " %s=%d", t, types[k][t])
		}
		b.WriteString("\n")
	}
	return b.String()
}

func isDeclaration(code string, idx int) bool {
	prefix := strings.TrimRight(code[lineStart(code, idx):idx], " \t&")
	return strings.HasSuffix(prefix, "function")
}

func paramNames(list string) []string {
	var names []string
	for _, p := range splitArgs(list) {
		if i := strings.Index(p, "$"); i >= 0 {
			name := p[i+1:]
			if j := strings.IndexAny(name, " =\t"); j >= 0 {
				name = name[:j]
			}
			names = append(names, name)
		}
	}
	return names
}

// callArgs returns the arguments of the call whose opening parenthesis
// ends at open.
func callArgs(code string, open int) ([]string, bool) {
	depth := 1
	var quote byte
	for i := open; i < len(code); i++ {
		c := code[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '\'', c == '"':
			quote = c
		case c == '(', c == '[':
			depth++
		case c == ')', c == ']':
			depth--
			if depth == 0 {
				return splitArgs(code[open:i]), true
			}
		}
	}
	return nil, false
}

// splitArgs splits on top-level commas.
func splitArgs(s string) []string {
	var (
		args  []string
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '\'', c == '"':
			quote = c
		case c == '(', c == '[', c == '{':
			depth++
		case c == ')', c == ']', c == '}':
			depth--
		case c == ',' && depth == 0:
			if a := strings.TrimSpace(s[start:i]); a != "" {
				args = append(args, a)
			}
			start = i + 1
		}
	}
	if a := strings.TrimSpace(s[start:]); a != "" {
		args = append(args, a)
	}
	return args
}
