package review

import (
	"github.com/dshills/lens/internal/cache"
	"github.com/dshills/lens/internal/oracle"
	"github.com/dshills/lens/internal/validators"
)

// Request names the revision range to review.
type Request struct {
	Repo   string `json:"repo"`
	Base   string `json:"base"`
	Target string `json:"target"`
}

// RepoInfo contains repository metadata.
type RepoInfo struct {
	Root   string `json:"root"`
	Head   string `json:"head"`
	Branch string `json:"branch"`
}

// InputInfo describes what was reviewed.
type InputInfo struct {
	Base      string `json:"base"`
	Target    string `json:"target,omitempty"`
	Glob      string `json:"glob"`
	MergeBase bool   `json:"mergeBase"`
	Files     int    `json:"files"`
}

// SessionReport is the outcome of one session.
type SessionReport struct {
	Key        string               `json:"key"`
	File       string               `json:"file"`
	Function   string               `json:"function"`
	Start      int                  `json:"start"`
	End        int                  `json:"end"`
	Changed    []int                `json:"changedLines"`
	State      State                `json:"state"`
	Validators []string             `json:"validators"`
	Fallback   bool                 `json:"selectionFallback,omitempty"`
	Findings   []validators.Finding `json:"findings"`
	History    []oracle.Turn        `json:"history,omitempty"`
	Verdict    string               `json:"verdict,omitempty"`
	Error      string               `json:"error,omitempty"`
	Failure    FailureKind          `json:"failure,omitempty"`
	DurationMs int64                `json:"durationMs"`
}

// Summary provides an overview of a run.
type Summary struct {
	Units           int `json:"units"`
	Finalized       int `json:"finalized"`
	Errored         int `json:"errored"`
	Issues          int `json:"issues"`
	ValidatorErrors int `json:"validatorErrors"`
	Clarifications  int `json:"clarifications"`
}

// Timing contains performance metrics.
type Timing struct {
	GitMs    int64 `json:"gitMs"`
	ReviewMs int64 `json:"reviewMs"`
	TotalMs  int64 `json:"totalMs"`
}

// Report is the top-level output structure of a run.
type Report struct {
	Tool     string          `json:"tool"`
	Version  string          `json:"version"`
	RunID    string          `json:"runId"`
	Repo     RepoInfo        `json:"repo"`
	Inputs   InputInfo       `json:"inputs"`
	Summary  Summary         `json:"summary"`
	Sessions []SessionReport `json:"sessions"`
	Cache    *cache.Stats    `json:"cache,omitempty"`
	Timing   Timing          `json:"timing"`
}

// ComputeSummary calculates the summary from session outcomes.
func ComputeSummary(sessions []SessionReport) Summary {
	s := Summary{Units: len(sessions)}
	for _, sr := range sessions {
		switch sr.State {
		case StateFinalized:
			s.Finalized++
		case StateErrored:
			s.Errored++
		}
		for _, f := range sr.Findings {
			switch f.Status {
			case validators.StatusIssue:
				s.Issues++
			case validators.StatusError:
				s.ValidatorErrors++
			}
		}
		for _, t := range sr.History {
			if t.Role == oracle.RoleHuman {
				s.Clarifications++
			}
		}
	}
	return s
}

// PendingQuestion is a clarification waiting for an answer.
type PendingQuestion struct {
	Session  string `json:"session"`
	RunID    string `json:"runId"`
	File     string `json:"file"`
	Function string `json:"function"`
	Question string `json:"question"`
	Round    int    `json:"round"`
}
