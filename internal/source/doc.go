// Package source provides the source-language parsing capability used to
// locate functions and gather static context around them.
//
// The [Parser] interface covers everything the rest of lens needs from a
// parser: finding the function enclosing a line, listing classes referenced by
// a function body, and extracting class, method and parent declarations from
// a file. Two implementations exist:
//
//   - [NewPHP] scans declarations with patterns and finds ends by counting
//     braces, skipping strings and comments.
//   - [NewTreeSitter] parses with the tree-sitter PHP grammar.
//
// Both are safe for concurrent use.
//
// The package also carries cheap static type heuristics ([LiteralType],
// [ParamTypes], [OddTypes]) and [Expressions], which lists the variable
// expressions of a body whose types are worth inferring.
package source
