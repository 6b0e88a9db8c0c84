package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/dshills/lens/internal/review"
	"github.com/dshills/lens/internal/validators"
)

const defaultAPIURL = "https://api.github.com"

// Client provides access to the GitHub REST API.
type Client struct {
	token   string
	apiURL  string
	httpCli *http.Client
}

// NewClient creates a new GitHub client. Requires GITHUB_TOKEN env var.
func NewClient() (*Client, error) {
	token := os.Getenv("GITHUB_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("GITHUB_TOKEN environment variable is not set")
	}

	apiURL := os.Getenv("GITHUB_API_URL")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	apiURL = strings.TrimRight(apiURL, "/")

	return &Client{
		token:   token,
		apiURL:  apiURL,
		httpCli: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpCli.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, resp.StatusCode, fmt.Errorf("authentication failed: %s", string(data))
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, resp.StatusCode, fmt.Errorf("GitHub rejected request (422): %s", string(data))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, resp.StatusCode, fmt.Errorf("GitHub API error (status %d): %s", resp.StatusCode, string(data))
	}
	return data, resp.StatusCode, nil
}

// PRFile represents a file changed in a pull request.
type PRFile struct {
	Filename string `json:"filename"`
}

// GetPRFiles fetches the list of files changed in a pull request.
func (c *Client) GetPRFiles(ctx context.Context, owner, repo string, prNumber int) ([]string, error) {
	data, status, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/pulls/%d/files", owner, repo, prNumber), nil)
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("PR #%d not found in %s/%s", prNumber, owner, repo)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching PR files: %w", err)
	}

	var files []PRFile
	if err := json.Unmarshal(data, &files); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Filename
	}
	return names, nil
}

// ReviewComment represents an inline comment on a PR review.
type ReviewComment struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Body string `json:"body"`
}

// ReviewRequest represents a PR review to post.
type ReviewRequest struct {
	Body     string          `json:"body"`
	Event    string          `json:"event"`
	Comments []ReviewComment `json:"comments"`
}

// PostReview posts a pull request review with inline comments.
func (c *Client) PostReview(ctx context.Context, owner, repo string, prNumber int, rev ReviewRequest) error {
	payload, err := json.Marshal(rev)
	if err != nil {
		return fmt.Errorf("marshaling review: %w", err)
	}
	if _, _, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/pulls/%d/reviews", owner, repo, prNumber), payload); err != nil {
		return fmt.Errorf("posting review: %w", err)
	}
	return nil
}

// BuildReview turns a lens report into a PR review. Every function with an
// issue, a failed check or a failed session gets one inline comment on its
// first changed line. Functions in files outside prFiles are summarized in
// the body instead.
func BuildReview(report *review.Report, prFiles map[string]bool) ReviewRequest {
	var general []string
	var comments []ReviewComment

	for _, sr := range report.Sessions {
		if !needsComment(sr) {
			continue
		}
		line := sr.Start
		if len(sr.Changed) > 0 {
			line = sr.Changed[0]
		}
		if !prFiles[sr.File] || line == 0 {
			general = append(general, formatSessionLine(sr))
			continue
		}
		comments = append(comments, ReviewComment{Path: sr.File, Line: line, Body: formatInlineComment(sr)})
	}

	s := report.Summary
	var sb strings.Builder
	sb.WriteString("## Lens Review\n\n")
	sb.WriteString("| Functions | Issues | Validator errors | Errored |\n|-----------|--------|------------------|---------|\n")
	sb.WriteString(fmt.Sprintf("| %d | %d | %d | %d |\n\n", s.Units, s.Issues, s.ValidatorErrors, s.Errored))
	if len(general) > 0 {
		sb.WriteString("### Outside this pull request\n\n")
		for _, g := range general {
			sb.WriteString(g)
			sb.WriteString("\n")
		}
	}

	return ReviewRequest{
		Body:     sb.String(),
		Event:    "COMMENT",
		Comments: comments,
	}
}

func needsComment(sr review.SessionReport) bool {
	if sr.State == review.StateErrored {
		return true
	}
	for _, f := range sr.Findings {
		if f.Status != validators.StatusOK {
			return true
		}
	}
	return false
}

func formatInlineComment(sr review.SessionReport) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**lens: `%s`**\n\n", sr.Function))
	for _, f := range sr.Findings {
		switch f.Status {
		case validators.StatusIssue:
			sb.WriteString(fmt.Sprintf("- **%s**: %s\n", f.Validator, f.Message))
		case validators.StatusError:
			sb.WriteString(fmt.Sprintf("- **%s**: check failed (%s)\n", f.Validator, f.Message))
		}
	}
	if sr.State == review.StateErrored {
		sb.WriteString(fmt.Sprintf("\nReview failed: %s\n", sr.Error))
	} else if sr.Verdict != "" {
		sb.WriteString("\n")
		sb.WriteString(sr.Verdict)
	}
	return sb.String()
}

func formatSessionLine(sr review.SessionReport) string {
	counts := validators.Counts(sr.Findings)
	line := fmt.Sprintf("- `%s` in %s: %d issue(s), %d failed check(s)",
		sr.Function, sr.File, counts[validators.StatusIssue], counts[validators.StatusError])
	if sr.State == review.StateErrored {
		line += ", review failed: " + sr.Error
	}
	return line
}

var (
	httpsRemoteRe = regexp.MustCompile(`https?://[^/]+/([^/]+)/([^/.\s]+)`)
	sshRemoteRe   = regexp.MustCompile(`[^@]+@[^:]+:([^/]+)/([^/.\s]+)`)
)

// DetectRepo parses owner/repo from the origin remote of the repository at dir.
func DetectRepo(dir string) (owner, repo string, err error) {
	cmd := exec.Command("git", "remote", "get-url", "origin")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", "", fmt.Errorf("cannot detect repo: git remote get-url origin failed: %w", err)
	}
	return ParseRemoteURL(strings.TrimSpace(string(out)))
}

// ParseRemoteURL extracts owner/repo from a git remote URL.
func ParseRemoteURL(url string) (owner, repo string, err error) {
	url = strings.TrimSuffix(url, ".git")

	if m := httpsRemoteRe.FindStringSubmatch(url); len(m) == 3 {
		return m[1], m[2], nil
	}
	if m := sshRemoteRe.FindStringSubmatch(url); len(m) == 3 {
		return m[1], m[2], nil
	}
	return "", "", fmt.Errorf("cannot parse owner/repo from remote URL: %s", url)
}
