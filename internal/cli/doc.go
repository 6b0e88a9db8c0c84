// Package cli wires together the Cobra command tree for the lens binary.
//
// It defines the root command and its subcommands (review, serve,
// validators, config, models, cache, version), binds flags, reads
// configuration, builds the review engine and maps outcomes to exit codes.
package cli
