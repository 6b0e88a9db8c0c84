package locator

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/lens/internal/gitctx"
	"github.com/dshills/lens/internal/source"
)

// CodeUnit is a single function and the changed lines inside it. Identity is
// (File, Name). Values are never mutated after Locate returns them.
type CodeUnit struct {
	File     string `json:"file"`
	Name     string `json:"name"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Body     string `json:"-"`
	FullText string `json:"-"`
	Changed  []int  `json:"changedLines"`
}

// ID returns the unit identity "file::function".
func (u CodeUnit) ID() string {
	return u.File + "::" + u.Name
}

// ChangedText returns the changed lines of the unit prefixed with their line
// numbers.
func (u CodeUnit) ChangedText() string {
	lines := source.SplitLines(u.FullText)
	var b strings.Builder
	for _, n := range u.Changed {
		if n < 1 || n > len(lines) {
			continue
		}
		b.WriteString(strconv.Itoa(n))
		b.WriteString(": ")
		b.WriteString(lines[n-1])
		b.WriteString("\n")
	}
	return b.String()
}

// FileReader reads file text for a path in the change set.
type FileReader interface {
	ReadFile(ctx context.Context, path string) (string, error)
}

// Locator finds the functions enclosing changed lines.
type Locator struct {
	Parser source.Parser
	Files  FileReader
	Log    *zap.Logger
}

// Locate returns the code units for every file in cs, in order of first
// discovery. Files that cannot be read are logged and skipped.
func (l *Locator) Locate(ctx context.Context, cs gitctx.ChangeSet) []CodeUnit {
	log := l.Log
	if log == nil {
		log = zap.NewNop()
	}
	var units []CodeUnit
	for _, path := range cs.Files() {
		if ctx.Err() != nil {
			break
		}
		text, err := l.Files.ReadFile(ctx, path)
		if err != nil {
			log.Warn("skipping unreadable file", zap.String("file", path), zap.Error(err))
			continue
		}
		found := LocateFile(l.Parser, path, text, cs.Lines(path))
		log.Debug("located functions", zap.String("file", path), zap.Int("units", len(found)))
		units = append(units, found...)
	}
	return units
}

// LocateFile maps each changed line of one file to its enclosing function.
// Lines with no enclosing function are skipped. Lines in the same function
// collapse into one unit. The result depends only on its inputs.
func LocateFile(p source.Parser, path, text string, changed []int) []CodeUnit {
	lines := source.SplitLines(text)
	byName := make(map[string]int)
	var units []CodeUnit
	for _, n := range changed {
		fn, ok := p.LocateFunction(lines, n)
		if !ok || !fn.Contains(n) {
			continue
		}
		name := fn.Name
		if i, ok := byName[name]; ok {
			if units[i].Start == fn.Start {
				units[i].Changed = append(units[i].Changed, n)
				continue
			}
			// same name declared twice in one file (methods of two classes)
			name = fmt.Sprintf("%s@%d", fn.Name, fn.Start)
			if j, ok := byName[name]; ok {
				units[j].Changed = append(units[j].Changed, n)
				continue
			}
		}
		byName[name] = len(units)
		units = append(units, CodeUnit{
			File:     path,
			Name:     name,
			Start:    fn.Start,
			End:      fn.End,
			Body:     source.JoinSpan(lines, fn.Start, fn.End),
			FullText: text,
			Changed:  []int{n},
		})
	}
	for i := range units {
		sort.Ints(units[i].Changed)
	}
	return units
}
