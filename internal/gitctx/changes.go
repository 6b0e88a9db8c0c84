package gitctx

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ChangeOptions selects what to diff.
type ChangeOptions struct {
	Repo   string
	Base   string
	Target string // empty means the working tree
	Glob   string // pathspec passed to git, e.g. "*.php"
	// MergeBase diffs against the merge base of Base and Target (base...target).
	MergeBase bool
	Exclude   []string
	// GitPath overrides the git binary; mostly useful in tests.
	GitPath string
}

// ChangeSet maps each changed file to its added line numbers (1-based,
// ascending). It is immutable once built; accessors return copies.
type ChangeSet struct {
	repo   string
	base   string
	target string
	files  map[string][]int
}

// NewChangeSet builds a ChangeSet from a file -> lines mapping. Lines are
// sorted and deduplicated; files with no lines are dropped.
func NewChangeSet(repo, base, target string, files map[string][]int) ChangeSet {
	cs := ChangeSet{repo: repo, base: base, target: target, files: make(map[string][]int, len(files))}
	for path, lines := range files {
		if norm := normalizeLines(lines); len(norm) > 0 {
			cs.files[path] = norm
		}
	}
	return cs
}

// Repo returns the repository path the change set was read from.
func (c ChangeSet) Repo() string { return c.repo }

// Base returns the base revision.
func (c ChangeSet) Base() string { return c.base }

// Target returns the target revision.
func (c ChangeSet) Target() string { return c.target }

// Files returns changed file paths in lexical order.
func (c ChangeSet) Files() []string {
	files := make([]string, 0, len(c.files))
	for f := range c.files {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// Lines returns the added line numbers for path.
func (c ChangeSet) Lines(path string) []int {
	lines := c.files[path]
	out := make([]int, len(lines))
	copy(out, lines)
	return out
}

// Len returns the number of changed files.
func (c ChangeSet) Len() int { return len(c.files) }

// Empty reports whether no file has changed lines.
func (c ChangeSet) Empty() bool { return len(c.files) == 0 }

// ReadChanges runs git diff with zero context between opts.Base and
// opts.Target and returns the added lines per file. Tool failure or empty
// output yields an empty ChangeSet; the failure is logged, never returned.
func ReadChanges(ctx context.Context, opts ChangeOptions, log *zap.Logger) ChangeSet {
	if log == nil {
		log = zap.NewNop()
	}
	empty := NewChangeSet(opts.Repo, opts.Base, opts.Target, nil)

	out, err := gitOutput(ctx, opts.GitPath, opts.Repo, buildDiffArgs(opts)...)
	if err != nil {
		log.Warn("diff tool failed, continuing with empty change set",
			zap.String("repo", opts.Repo),
			zap.String("base", opts.Base),
			zap.String("target", opts.Target),
			zap.Error(err))
		return empty
	}
	if strings.TrimSpace(out) == "" {
		log.Info("diff is empty", zap.String("base", opts.Base), zap.String("target", opts.Target))
		return empty
	}

	files := ParseChanges(out)
	for path := range files {
		if len(opts.Exclude) > 0 && MatchesAny(path, opts.Exclude) {
			delete(files, path)
		}
	}
	cs := NewChangeSet(opts.Repo, opts.Base, opts.Target, files)
	log.Debug("read change set", zap.Int("files", cs.Len()))
	return cs
}

func buildDiffArgs(opts ChangeOptions) []string {
	args := []string{"diff", "--unified=0", "--no-color", "--no-ext-diff"}
	switch {
	case opts.Target == "":
		args = append(args, opts.Base)
	case opts.MergeBase:
		args = append(args, opts.Base+"..."+opts.Target)
	default:
		args = append(args, opts.Base, opts.Target)
	}
	args = append(args, "--")
	if opts.Glob != "" && opts.Glob != "**/*" {
		args = append(args, opts.Glob)
	}
	return args
}

var hunkHeader = regexp.MustCompile(`^@@ -\d+(?:,\d+)? \+(\d+)(?:,(\d+))? @@`)

// ParseChanges extracts added line numbers from unified diff output.
// Only file header lines ("diff --git", "+++") and hunk headers are
// interpreted. A hunk "+c,d" contributes lines c..c+d-1; a missing count
// means one line and a zero count (pure deletion) contributes nothing.
func ParseChanges(diff string) map[string][]int {
	files := make(map[string][]int)
	current := ""
	// remaining body lines of the current hunk; body lines are never
	// interpreted as headers
	oldLeft, newLeft := 0, 0
	for _, line := range strings.Split(diff, "\n") {
		if oldLeft > 0 || newLeft > 0 {
			switch {
			case strings.HasPrefix(line, "+"):
				newLeft--
				continue
			case strings.HasPrefix(line, "-"):
				oldLeft--
				continue
			case strings.HasPrefix(line, "\\"): // "\ No newline at end of file"
				continue
			}
			oldLeft, newLeft = 0, 0
		}
		switch {
		case strings.HasPrefix(line, "diff --git "):
			current = pathFromDiffHeader(line)
		case strings.HasPrefix(line, "+++ "):
			p := strings.TrimSpace(strings.TrimPrefix(line, "+++ "))
			p = strings.Trim(p, `"`)
			if p == "/dev/null" {
				current = "" // deleted file: nothing to review
				continue
			}
			current = strings.TrimPrefix(p, "b/")
		case strings.HasPrefix(line, "@@"):
			m := hunkHeader.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			start, count, ok := parseRange(m[1], m[2])
			if !ok {
				continue
			}
			oldLeft, newLeft = oldCount(line), count
			if current == "" {
				continue
			}
			for i := 0; i < count; i++ {
				files[current] = append(files[current], start+i)
			}
		}
	}
	for path, lines := range files {
		files[path] = normalizeLines(lines)
	}
	return files
}

var oldRange = regexp.MustCompile(`^@@ -\d+(?:,(\d+))? `)

func oldCount(header string) int {
	m := oldRange.FindStringSubmatch(header)
	if m == nil || m[1] == "" {
		return 1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

func parseRange(startStr, countStr string) (int, int, bool) {
	start, err := strconv.Atoi(startStr)
	if err != nil {
		return 0, 0, false
	}
	count := 1
	if countStr != "" {
		if count, err = strconv.Atoi(countStr); err != nil {
			return 0, 0, false
		}
	}
	return start, count, true
}

func pathFromDiffHeader(line string) string {
	rest := strings.TrimPrefix(line, "diff --git ")
	if idx := strings.LastIndex(rest, " b/"); idx >= 0 {
		return strings.Trim(rest[idx+3:], `"`)
	}
	if idx := strings.LastIndex(rest, ` "b/`); idx >= 0 {
		return strings.Trim(rest[idx+4:], `"`)
	}
	return ""
}

func normalizeLines(lines []int) []int {
	if len(lines) == 0 {
		return nil
	}
	seen := make(map[int]bool, len(lines))
	out := make([]int, 0, len(lines))
	for _, l := range lines {
		if l < 1 || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	sort.Ints(out)
	return out
}
