package gitctx

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test",
		"GIT_AUTHOR_EMAIL=test@test.com",
		"GIT_COMMITTER_NAME=Test",
		"GIT_COMMITTER_EMAIL=test@test.com",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// setupTestRepo creates a repo with a "main" branch holding one PHP file and
// a "feature" branch that edits it.
func setupTestRepo(t *testing.T) string {
	t.Helper()
	requireGit(t)
	dir := t.TempDir()

	runGit(t, dir, "init")
	runGit(t, dir, "checkout", "-b", "main")
	writeFile(t, dir, "src/Order.php", "<?php\nclass Order {\n    public function total() {\n        return 1;\n    }\n}\n")
	writeFile(t, dir, "README.md", "# test\n")
	runGit(t, dir, "add", "-A")
	runGit(t, dir, "commit", "-m", "init")

	runGit(t, dir, "checkout", "-b", "feature")
	writeFile(t, dir, "src/Order.php", "<?php\nclass Order {\n    public function total() {\n        $x = 2;\n        return $x;\n    }\n}\n")
	writeFile(t, dir, "README.md", "# test\nmore\n")
	runGit(t, dir, "add", "-A")
	runGit(t, dir, "commit", "-m", "feature")
	return dir
}

func TestParseChanges(t *testing.T) {
	tests := []struct {
		name string
		diff string
		want map[string][]int
	}{
		{
			name: "single hunk with count",
			diff: "diff --git a/a.php b/a.php\n--- a/a.php\n+++ b/a.php\n@@ -3,0 +4,3 @@\n+x\n+y\n+z\n",
			want: map[string][]int{"a.php": {4, 5, 6}},
		},
		{
			name: "missing count means one line",
			diff: "diff --git a/a.php b/a.php\n--- a/a.php\n+++ b/a.php\n@@ -3 +3 @@\n-old\n+new\n",
			want: map[string][]int{"a.php": {3}},
		},
		{
			name: "deletion only hunk records nothing",
			diff: "diff --git a/a.php b/a.php\n--- a/a.php\n+++ b/a.php\n@@ -10,2 +9,0 @@\n-a\n-b\n",
			want: map[string][]int{},
		},
		{
			name: "multiple files and hunks",
			diff: "diff --git a/a.php b/a.php\n--- a/a.php\n+++ b/a.php\n@@ -1 +1,2 @@\n+a\n+b\n@@ -20,0 +22 @@\n+c\n" +
				"diff --git a/lib/b.php b/lib/b.php\n--- a/lib/b.php\n+++ b/lib/b.php\n@@ -5,0 +6,1 @@\n+d\n",
			want: map[string][]int{"a.php": {1, 2, 22}, "lib/b.php": {6}},
		},
		{
			name: "deleted file is ignored",
			diff: "diff --git a/gone.php b/gone.php\ndeleted file mode 100644\n--- a/gone.php\n+++ /dev/null\n@@ -1,2 +0,0 @@\n-a\n-b\n",
			want: map[string][]int{},
		},
		{
			name: "content lines resembling headers are not interpreted",
			diff: "diff --git a/a.php b/a.php\n--- a/a.php\n+++ b/a.php\n@@ -1,0 +2,2 @@\n+@@ -1 +99 @@\n+x\n",
			want: map[string][]int{"a.php": {2, 3}},
		},
		{
			name: "added line starting with plus signs",
			diff: "diff --git a/a.php b/a.php\n--- a/a.php\n+++ b/a.php\n@@ -1,0 +2,2 @@\n+++ $i;\n+x\n@@ -8 +9 @@\n-y\n+z\n",
			want: map[string][]int{"a.php": {2, 3, 9}},
		},
		{
			name: "empty output",
			diff: "",
			want: map[string][]int{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseChanges(tt.diff)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseChanges() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChangeSetAccessors(t *testing.T) {
	cs := NewChangeSet("/repo", "main", "feature", map[string][]int{
		"b.php": {3, 1, 3},
		"a.php": {7},
		"c.php": nil,
	})
	if cs.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", cs.Len())
	}
	if got := cs.Files(); !reflect.DeepEqual(got, []string{"a.php", "b.php"}) {
		t.Errorf("Files() = %v", got)
	}
	lines := cs.Lines("b.php")
	if !reflect.DeepEqual(lines, []int{1, 3}) {
		t.Errorf("Lines() = %v, want [1 3]", lines)
	}
	lines[0] = 999
	if cs.Lines("b.php")[0] != 1 {
		t.Error("Lines() must return a copy")
	}
	if cs.Empty() {
		t.Error("Empty() = true, want false")
	}
	if !NewChangeSet("", "", "", nil).Empty() {
		t.Error("nil change set should be empty")
	}
}

func TestBuildDiffArgs(t *testing.T) {
	tests := []struct {
		name string
		opts ChangeOptions
		want []string
	}{
		{"merge base", ChangeOptions{Base: "main", Target: "pr", Glob: "*.php", MergeBase: true},
			[]string{"diff", "--unified=0", "--no-color", "--no-ext-diff", "main...pr", "--", "*.php"}},
		{"two dot", ChangeOptions{Base: "main", Target: "pr", Glob: "*.php"},
			[]string{"diff", "--unified=0", "--no-color", "--no-ext-diff", "main", "pr", "--", "*.php"}},
		{"working tree", ChangeOptions{Base: "HEAD"},
			[]string{"diff", "--unified=0", "--no-color", "--no-ext-diff", "HEAD", "--"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildDiffArgs(tt.opts); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("buildDiffArgs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReadChanges(t *testing.T) {
	dir := setupTestRepo(t)
	cs := ReadChanges(context.Background(), ChangeOptions{
		Repo: dir, Base: "main", Target: "feature", Glob: "*.php", MergeBase: true,
	}, nil)

	if got := cs.Files(); !reflect.DeepEqual(got, []string{"src/Order.php"}) {
		t.Fatalf("Files() = %v, want [src/Order.php]", got)
	}
	if got := cs.Lines("src/Order.php"); !reflect.DeepEqual(got, []int{4, 5}) {
		t.Errorf("Lines() = %v, want [4 5]", got)
	}
}

func TestReadChangesExclude(t *testing.T) {
	dir := setupTestRepo(t)
	cs := ReadChanges(context.Background(), ChangeOptions{
		Repo: dir, Base: "main", Target: "feature", Exclude: []string{"src/**"},
	}, nil)
	if got := cs.Files(); !reflect.DeepEqual(got, []string{"README.md"}) {
		t.Errorf("Files() = %v, want [README.md]", got)
	}
}

func TestReadChangesToolFailure(t *testing.T) {
	dir := t.TempDir()
	cs := ReadChanges(context.Background(), ChangeOptions{
		Repo: dir, Base: "main", Target: "feature", GitPath: filepath.Join(dir, "no-such-git"),
	}, nil)
	if !cs.Empty() {
		t.Errorf("expected empty change set, got %v", cs.Files())
	}
}

func TestReadChangesUnknownRevision(t *testing.T) {
	dir := setupTestRepo(t)
	cs := ReadChanges(context.Background(), ChangeOptions{
		Repo: dir, Base: "nope", Target: "feature", MergeBase: true,
	}, nil)
	if !cs.Empty() {
		t.Errorf("expected empty change set, got %v", cs.Files())
	}
}

func TestRevisionReader(t *testing.T) {
	dir := setupTestRepo(t)
	ctx := context.Background()

	base, err := RevisionReader{Repo: dir, Rev: "main"}.ReadFile(ctx, "src/Order.php")
	if err != nil {
		t.Fatalf("ReadFile(main) error: %v", err)
	}
	if want := "        return 1;\n"; !strings.Contains(base, want) {
		t.Errorf("main content missing %q:\n%s", want, base)
	}

	feature, err := RevisionReader{Repo: dir, Rev: "feature"}.ReadFile(ctx, "src/Order.php")
	if err != nil {
		t.Fatalf("ReadFile(feature) error: %v", err)
	}
	if !strings.Contains(feature, "$x = 2;") {
		t.Errorf("feature content missing edit:\n%s", feature)
	}

	if _, err := (RevisionReader{Repo: dir, Rev: "feature"}).ReadFile(ctx, "missing.php"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRevisionReaderListFiles(t *testing.T) {
	dir := setupTestRepo(t)
	files, err := RevisionReader{Repo: dir, Rev: "feature"}.ListFiles(context.Background(), "*.php")
	if err != nil {
		t.Fatalf("ListFiles() error: %v", err)
	}
	if !reflect.DeepEqual(files, []string{"src/Order.php"}) {
		t.Errorf("ListFiles() = %v", files)
	}
}

func TestGetRepoMeta(t *testing.T) {
	dir := setupTestRepo(t)
	meta, err := GetRepoMeta(context.Background(), dir)
	if err != nil {
		t.Fatalf("GetRepoMeta() error: %v", err)
	}
	if meta.Branch != "feature" {
		t.Errorf("Branch = %q, want feature", meta.Branch)
	}
	if len(meta.Head) != 40 {
		t.Errorf("Head = %q, want 40-char sha", meta.Head)
	}
}

func TestGetRepoMetaNotRepo(t *testing.T) {
	requireGit(t)
	if _, err := GetRepoMeta(context.Background(), t.TempDir()); err == nil {
		t.Error("expected error outside a repository")
	}
}

func TestMatchesAny(t *testing.T) {
	tests := []struct {
		path     string
		patterns []string
		want     bool
	}{
		{"a.php", []string{"*.php"}, true},
		{"src/a.php", []string{"**/*.php"}, true},
		{"src/a.go", []string{"**/*.php"}, false},
		{"vendor/x/y.php", []string{"vendor/**"}, true},
		{"src/vendor.php", []string{"vendor/**"}, false},
		{"a.php", nil, false},
	}
	for _, tt := range tests {
		if got := MatchesAny(tt.path, tt.patterns); got != tt.want {
			t.Errorf("MatchesAny(%q, %v) = %v, want %v", tt.path, tt.patterns, got, tt.want)
		}
	}
}
