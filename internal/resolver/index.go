package resolver

import (
	"context"
	"regexp"
	"sync"

	"go.uber.org/zap"
)

// Repository lists and reads files at the revision under review.
type Repository interface {
	ListFiles(ctx context.Context, glob string) ([]string, error)
	ReadFile(ctx context.Context, path string) (string, error)
}

var classDecl = regexp.MustCompile(`(?mi)^[ \t]*(?:(?:abstract|final|readonly)\s+)*(?:class|trait|interface)\s+([A-Za-z_]\w*)`)

// ClassIndex maps class names to the file declaring them.
type ClassIndex struct {
	repo Repository
	glob string
	log  *zap.Logger

	once  sync.Once
	mu    sync.Mutex
	where map[string]string
	texts map[string]string
}

// NewClassIndex returns an index over the files of repo matching glob.
func NewClassIndex(repo Repository, glob string, log *zap.Logger) *ClassIndex {
	if log == nil {
		log = zap.NewNop()
	}
	return &ClassIndex{repo: repo, glob: glob, log: log}
}

func (x *ClassIndex) build(ctx context.Context) {
	where := make(map[string]string)
	texts := make(map[string]string)
	files, err := x.repo.ListFiles(ctx, x.glob)
	if err != nil {
		x.log.Warn("class index unavailable", zap.Error(err))
	}
	for _, f := range files {
		text, err := x.repo.ReadFile(ctx, f)
		if err != nil {
			x.log.Debug("class index skipping file", zap.String("file", f), zap.Error(err))
			continue
		}
		for _, m := range classDecl.FindAllStringSubmatch(text, -1) {
			if _, dup := where[m[1]]; !dup {
				where[m[1]] = f
			}
		}
		texts[f] = text
	}
	x.mu.Lock()
	x.where, x.texts = where, texts
	x.mu.Unlock()
	x.log.Debug("class index built", zap.Int("files", len(files)), zap.Int("classes", len(where)))
}

// Lookup returns the file declaring class and its text.
func (x *ClassIndex) Lookup(ctx context.Context, class string) (file, text string, ok bool) {
	if x == nil {
		return "", "", false
	}
	x.once.Do(func() { x.build(ctx) })
	x.mu.Lock()
	defer x.mu.Unlock()
	file, ok = x.where[class]
	if !ok {
		return "", "", false
	}
	return file, x.texts[file], true
}
