// Lens reviews the PHP functions touched between two git revisions.
//
// Each changed function becomes a review session: an LLM picks the relevant
// validators, the validators run concurrently, and a reviewer drafts a
// verdict, optionally asking the author a question first.
//
// Usage:
//
//	lens review main feature          # review feature against main
//	lens review -i main               # review the working tree, answering questions
//	lens serve --addr :7420           # drive reviews over HTTP and SSE
//	lens validators                   # list available validators
//	lens cache show                   # inspect the persistent cache
//	lens models doctor                # check the configured LLM backend
package main
