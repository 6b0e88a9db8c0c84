package gitctx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RevisionReader reads file contents as of a revision. An empty Rev reads
// from the working tree.
type RevisionReader struct {
	Repo    string
	Rev     string
	GitPath string
}

// ReadFile returns the text of path (relative to the repository root).
func (r RevisionReader) ReadFile(ctx context.Context, path string) (string, error) {
	if r.Rev == "" {
		data, err := os.ReadFile(filepath.Join(r.Repo, path))
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		return string(data), nil
	}
	out, err := gitOutput(ctx, r.GitPath, r.Repo, "show", r.Rev+":"+filepath.ToSlash(path))
	if err != nil {
		return "", fmt.Errorf("git show %s:%s: %w", r.Rev, path, err)
	}
	return out, nil
}

// ListFiles returns the files tracked at the reader's revision that match
// glob (working tree files tracked by git when Rev is empty).
func (r RevisionReader) ListFiles(ctx context.Context, glob string) ([]string, error) {
	args := []string{"ls-files"}
	if r.Rev != "" {
		args = []string{"ls-tree", "-r", "--name-only", r.Rev}
	}
	out, err := gitOutput(ctx, r.GitPath, r.Repo, args...)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	var files []string
	for _, line := range splitLines(out) {
		if line == "" {
			continue
		}
		if glob != "" && !MatchesAny(line, []string{glob, "**/" + glob}) {
			continue
		}
		files = append(files, line)
	}
	return files, nil
}

func splitLines(s string) []string {
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}
