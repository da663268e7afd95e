/*
Copyright 2024 The nix-index Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"fmt"
	"regexp"
	"regexp/syntax"
)

// Query is a builder for a ReaderIter over a Reader's database. Each
// builder method returns a new Query value, leaving the receiver
// unmodified.
type Query struct {
	reader         *Reader
	pathPattern    *regexp.Regexp
	packagePattern *regexp.Regexp
	hash           string
	hasHash        bool
}

// Hash restricts results to entries belonging to the package with the
// given exact hash.
func (q *Query) Hash(hash string) *Query {
	q2 := *q
	q2.hash = hash
	q2.hasHash = true
	return &q2
}

// PackagePattern restricts results to entries whose owning package name
// matches pattern.
func (q *Query) PackagePattern(pattern *regexp.Regexp) *Query {
	q2 := *q
	q2.packagePattern = pattern
	return &q2
}

// Run compiles the query's regexes into a scanning plan and returns a
// ReaderIter over matching (StorePath, FileTreeEntry) pairs. Regex
// compilation errors are surfaced here, not during iteration.
func (q *Query) Run() (*ReaderIter, error) {
	scanPattern, err := rewriteAnchor(q.pathPattern)
	if err != nil {
		return nil, wrapErr(Compiler, err)
	}
	return &ReaderIter{
		reader:         q.reader,
		pathPattern:    q.pathPattern,
		scanPattern:    scanPattern,
		packagePattern: q.packagePattern,
		hash:           q.hash,
		hasHash:        q.hasHash,
	}, nil
}

// rewriteAnchor compiles a regex that behaves like pattern when matched
// against a file path, but with every start-of-text anchor ("^")
// replaced by a literal NUL byte and every end-of-text anchor ("$")
// relaxed to end-of-line, so that it can be run directly over whole
// database records ("tag NUL metadata NUL path") joined by newlines.
// Unanchored patterns come back unchanged in meaning.
func rewriteAnchor(pattern *regexp.Regexp) (*regexp.Regexp, error) {
	ast, err := syntax.Parse(pattern.String(), syntax.Perl)
	if err != nil {
		return nil, fmt.Errorf("parsing %q for scan rewrite: %w", pattern.String(), err)
	}
	rewriteAnchorNode(ast)
	ast = ast.Simplify()

	rewritten, err := regexp.Compile(ast.String())
	if err != nil {
		return nil, fmt.Errorf("compiling rewritten pattern %q: %w", ast.String(), err)
	}
	return rewritten, nil
}

// rewriteAnchorNode walks re's syntax tree in place, turning every
// begin-of-text or begin-of-line assertion into a literal NUL rune, and
// every end-of-text assertion into an end-of-line one (a path is always
// the last field of its record, and records never contain a newline).
func rewriteAnchorNode(re *syntax.Regexp) {
	switch re.Op {
	case syntax.OpBeginText, syntax.OpBeginLine:
		re.Op = syntax.OpLiteral
		re.Rune = []rune{0}
	case syntax.OpEndText:
		re.Op = syntax.OpEndLine
	default:
		for _, sub := range re.Sub {
			rewriteAnchorNode(sub)
		}
	}
}
