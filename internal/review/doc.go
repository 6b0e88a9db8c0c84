// Package review orchestrates the per-function review of a change.
//
// An Engine turns a revision range into code units, one per changed
// function, and drives a Session for each through a fixed state machine:
//
//	Created -> SelectingValidators -> ResolvingContext -> RunningValidators
//	        -> Drafting <-> AwaitingClarification -> Finalized
//
// Errored is the other terminal state. Sessions run on a bounded outer pool;
// each runs its selected validators concurrently with a per-validator
// timeout. A session awaiting a clarification gives up its pool slot and
// blocks on its own mailbox until Reply delivers an answer for its key.
//
// Progress is published as tagged events on the Engine's event sink, and
// every run produces a Report.
package review
