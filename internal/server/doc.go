// Package server exposes the review pipeline over HTTP.
//
//	POST /start             begin a run; returns its id immediately
//	GET  /stream            server-sent events for every run
//	POST /reply             answer a pending clarification
//	GET  /pending           questions awaiting an answer
//	GET  /runs/{id}         report of a finished run
//	GET  /health            liveness
package server
