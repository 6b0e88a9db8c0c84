package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dshills/lens/internal/github"
	"github.com/dshills/lens/internal/review"
)

var (
	flagGHPR     int
	flagGHOwner  string
	flagGHRepo   string
	flagGHDryRun bool
)

// postToGitHub posts report as a review on pull request flagGHPR. With
// --github-dry-run the review payload is printed instead.
func postToGitHub(ctx context.Context, report *review.Report) error {
	owner, repo := flagGHOwner, flagGHRepo
	if owner == "" || repo == "" {
		o, r, err := github.DetectRepo(report.Repo.Root)
		if err != nil {
			return err
		}
		if owner == "" {
			owner = o
		}
		if repo == "" {
			repo = r
		}
	}

	if flagGHDryRun {
		files := make(map[string]bool)
		for _, sr := range report.Sessions {
			files[sr.File] = true
		}
		data, err := json.MarshalIndent(github.BuildReview(report, files), "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Dry run: review for %s/%s#%d\n%s\n", owner, repo, flagGHPR, data)
		return nil
	}

	client, err := github.NewClient()
	if err != nil {
		return err
	}
	names, err := client.GetPRFiles(ctx, owner, repo, flagGHPR)
	if err != nil {
		return err
	}
	files := make(map[string]bool, len(names))
	for _, n := range names {
		files[n] = true
	}
	rev := github.BuildReview(report, files)
	if err := client.PostReview(ctx, owner, repo, flagGHPR, rev); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Posted review with %d comment(s) to %s/%s#%d\n", len(rev.Comments), owner, repo, flagGHPR)
	return nil
}

func init() {
	reviewCmd.Flags().IntVar(&flagGHPR, "github-pr", 0, "Post the report as a review on this pull request")
	reviewCmd.Flags().StringVar(&flagGHOwner, "github-owner", "", "Repository owner (default: from origin remote)")
	reviewCmd.Flags().StringVar(&flagGHRepo, "github-repo", "", "Repository name (default: from origin remote)")
	reviewCmd.Flags().BoolVar(&flagGHDryRun, "github-dry-run", false, "Print the pull request review instead of posting it")
}
