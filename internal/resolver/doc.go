// Package resolver gathers the static context around a code unit: the
// classes the unit references, their parent classes, and the bodies of a
// configured set of well-known methods. Large fragments can be compressed by
// a summarizer before they are handed to the reviewer.
//
// Classes not declared in the unit's own file are looked up in a repository
// wide [ClassIndex] that is built lazily, once per run.
package resolver
