// Package logging builds the zap loggers used throughout lens.
//
// Production mode writes JSON lines to stderr; development mode writes a
// colored console format. Components receive a *zap.Logger and name
// themselves with Named, so every line carries a "logger" field such as
// "review.engine" or "cache".
package logging
