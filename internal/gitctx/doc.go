// Package gitctx reads change information from a git repository.
//
// [ReadChanges] runs git diff with zero context lines between two revisions,
// restricted to a path glob, and parses the output into a [ChangeSet]: the set
// of added line numbers per file. A failing or silent diff tool yields an empty
// ChangeSet rather than an error.
//
// [RevisionReader] returns file text as of a revision (git show rev:path) so
// that reviews never check out branches or touch the working tree.
package gitctx
