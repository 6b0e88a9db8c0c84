package events

import "time"

// Kind tags an event.
type Kind string

// Event kinds.
const (
	KindRunStarted             Kind = "run-started"
	KindUnitDiscovered         Kind = "unit-discovered"
	KindValidatorsSelected     Kind = "validators-selected"
	KindValidatorResult        Kind = "validator-result"
	KindClarificationRequested Kind = "clarification-requested"
	KindClarificationResolved  Kind = "clarification-resolved"
	KindDraftReady             Kind = "draft-ready"
	KindSessionFinalized       Kind = "session-finalized"
	KindSessionErrored         Kind = "session-errored"
	KindRunCompleted           Kind = "run-completed"
)

// Event is one entry of a run's stream. Data holds the payload type matching
// Kind.
type Event struct {
	Seq     uint64    `json:"seq"`
	RunID   string    `json:"runId"`
	Session string    `json:"session,omitempty"`
	Kind    Kind      `json:"kind"`
	At      time.Time `json:"at"`
	Data    any       `json:"data,omitempty"`
}

// RunStarted opens a run.
type RunStarted struct {
	Repo   string `json:"repo"`
	Base   string `json:"base"`
	Target string `json:"target"`
	Head   string `json:"head,omitempty"`
	Files  int    `json:"files"`
	Units  int    `json:"units"`
}

// UnitDiscovered announces a code unit that will be reviewed.
type UnitDiscovered struct {
	File     string `json:"file"`
	Function string `json:"function"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
	Changed  []int  `json:"changedLines"`
}

// ValidatorsSelected records the outcome of validator selection. Fallback is
// set when selection failed and the configured policy was applied.
type ValidatorsSelected struct {
	Names    []string `json:"names"`
	Fallback bool     `json:"fallback,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// ValidatorResult carries one validator's finding. Status is "ok", "issue"
// or "error".
type ValidatorResult struct {
	Validator string `json:"validator"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

// ClarificationRequested asks the author a question. Replies must name
// the event's Session.
type ClarificationRequested struct {
	Question string `json:"question"`
	Round    int    `json:"round"`
}

// ClarificationResolved records the author's answer.
type ClarificationResolved struct {
	Answer string `json:"answer"`
	Round  int    `json:"round"`
}

// DraftReady carries one review draft.
type DraftReady struct {
	Text  string `json:"text"`
	Round int    `json:"round"`
}

// SessionFinalized carries a session's verdict.
type SessionFinalized struct {
	Verdict string `json:"verdict"`
}

// SessionErrored reports a failed session.
type SessionErrored struct {
	Error   string `json:"error"`
	Failure string `json:"failure,omitempty"`
}

// RunCompleted closes a run.
type RunCompleted struct {
	Sessions  int           `json:"sessions"`
	Finalized int           `json:"finalized"`
	Errored   int           `json:"errored"`
	Duration  time.Duration `json:"duration"`
}
