// Package locator turns a change set into code units: one per function
// touched by the diff, carrying the function body, the full file text and the
// changed lines that fall inside the function.
package locator
