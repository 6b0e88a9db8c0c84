// Package github provides a minimal GitHub REST API client for posting lens
// reports as pull-request reviews.
//
// It detects the repository from the local origin remote and authenticates
// with the GITHUB_TOKEN environment variable. Each function with findings
// becomes one inline comment on its first changed line.
package github
