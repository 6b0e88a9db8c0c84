// Package output formats review reports for display or machine consumption.
//
// Four formats are supported:
//   - text: human-readable terminal output (default), optionally colored and
//     with verdicts rendered as markdown
//   - json: the full structured report
//   - markdown: PR-comment-friendly, one collapsible section per function
//   - sarif: SARIF v2.1.0, one result per reported issue
//
// EventPrinter renders a live event stream while a review runs.
package output
