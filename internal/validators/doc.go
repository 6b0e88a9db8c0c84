// Package validators defines the named checks run against a code unit, the
// findings they produce, and the registry the review engine selects from.
//
// Builtin validators are YAML definitions embedded in the binary. A user file
// may add validators or replace builtins by name.
package validators
