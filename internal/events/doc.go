// Package events carries the tagged event stream of a review run.
//
// A Sink is fed by every session of a run and broadcasts to any number of
// subscribers. Publishing never blocks: each subscriber has a bounded buffer
// and the oldest undelivered event is dropped when it is full.
package events
