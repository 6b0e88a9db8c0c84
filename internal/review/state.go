package review

import "fmt"

// State is the position of a Session in the review state machine.
type State int

const (
	StateCreated State = iota
	StateSelectingValidators
	StateResolvingContext
	StateRunningValidators
	StateDrafting
	StateAwaitingClarification
	StateFinalized
	StateErrored
)

var stateNames = [...]string{
	StateCreated:               "created",
	StateSelectingValidators:   "selecting-validators",
	StateResolvingContext:      "resolving-context",
	StateRunningValidators:     "running-validators",
	StateDrafting:              "drafting",
	StateAwaitingClarification: "awaiting-clarification",
	StateFinalized:             "finalized",
	StateErrored:               "errored",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateErrored
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", b)
}

// FailureKind classifies a failure for logs and errored events.
type FailureKind string

const (
	FailureTool     FailureKind = "tool"
	FailureParseGap FailureKind = "parse-gap"
	FailureOracle   FailureKind = "oracle"
	FailureCacheIO  FailureKind = "cache-io"
	FailureSession  FailureKind = "session"
)

// Selection fallback policies, applied when validator selection fails.
const (
	FallbackAll  = "all"
	FallbackNone = "none"
)

// VerdictNoValidators is the verdict of a session for which no validator
// was selected.
const VerdictNoValidators = "no validators"
