// Package oracle wraps the natural-language reasoning lens relies on: type
// inference, validator selection, running a single validator check, drafting
// a review, and summarizing large context fragments.
//
// Every call is unreliable. Results may fail, be slow, or differ between
// calls with equal inputs, so callers treat them as best effort. [WithCache]
// memoizes calls on a hash of their exact inputs, which makes repeated calls
// within a run (and across runs with a persistent store) deterministic.
//
// A draft may end by asking the human a question. The question is marked by
// a line starting with "QUESTION:"; see [ParseClarification].
package oracle
