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
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/bennofs/nix-index/pkg/filetree"
	"github.com/bennofs/nix-index/pkg/storepath"
)

// ReaderIter iterates over (StorePath, FileTreeEntry) matches for a
// Query. It is pull-driven: memory use is bounded by one decoded block
// plus a small pending-match buffer, regardless of database size. No
// order is promised between successive matches.
type ReaderIter struct {
	reader         *Reader
	pathPattern    *regexp.Regexp
	scanPattern    *regexp.Regexp
	packagePattern *regexp.Regexp
	hash           string
	hasHash        bool

	// found holds attributed matches ready to be handed to the caller
	// via Next/Entry.
	found []matchedEntry
	// orphans holds matches for which the owning package record has not
	// yet been seen; they are resolved (or dropped, by a package
	// filter) as soon as the next block's package marker is found.
	orphans []filetree.FileTreeEntry

	// cachedPkg/cachedPkgEnd memoize the most recently resolved package
	// marker within the current block, so that consecutive matches
	// belonging to the same package pay the lookup cost once.
	cachedPkg    *storepath.StorePath
	cachedPkgEnd int
	noMorePkg    bool

	current matchedEntry
	err     error
	done    bool
}

type matchedEntry struct {
	pkg   storepath.StorePath
	entry filetree.FileTreeEntry
}

// Next advances the iterator. It returns false when there are no more
// matches or an error occurred; call Err to distinguish the two.
func (it *ReaderIter) Next() bool {
	if it.err != nil || it.done {
		return false
	}
	if len(it.found) == 0 {
		if err := it.fillBuffer(); err != nil {
			it.err = err
			return false
		}
	}
	if len(it.found) == 0 {
		return false
	}
	it.current = it.found[0]
	it.found = it.found[1:]
	return true
}

// Entry returns the current match. Only valid after Next returns true.
func (it *ReaderIter) Entry() (storepath.StorePath, filetree.FileTreeEntry) {
	return it.current.pkg, it.current.entry
}

// Err returns the first error encountered during iteration, if any.
func (it *ReaderIter) Err() error {
	return it.err
}

// Close releases the underlying Reader's resources. It is safe to call
// even if the iterator has not been exhausted.
func (it *ReaderIter) Close() error {
	return it.reader.Close()
}

// fillBuffer pulls blocks from the decoder until at least one match is
// buffered in found, or the stream is exhausted.
func (it *ReaderIter) fillBuffer() error {
	for len(it.found) == 0 && !it.done {
		block, err := it.reader.r.Decoder.Decode()
		if err != nil {
			return wrapErr(FrameCodec, err)
		}
		if len(block) == 0 {
			if len(it.orphans) > 0 {
				return &Error{Kind: MissingPackageEntry, Err: fmt.Errorf("end of database reached with %d unattributed file entries", len(it.orphans))}
			}
			it.done = true
			return nil
		}
		if err := it.processBlock(block); err != nil {
			return err
		}
	}
	return nil
}

// processBlock scans one decoded block for matches, attributing each to
// its owning package and applying the package-name/hash filters.
func (it *ReaderIter) processBlock(block []byte) error {
	it.cachedPkg = nil
	it.cachedPkgEnd = 0
	it.noMorePkg = false

	pos := 0

	// Resolve any orphans carried over from the previous block against
	// this block's first package marker.
	if len(it.orphans) > 0 {
		pkg, end, ok, err := it.findPackage(block, 0)
		if err != nil {
			return err
		}
		if ok {
			if it.shouldSearchPackage(pkg) {
				for _, e := range it.orphans {
					it.found = append(it.found, matchedEntry{pkg: pkg, entry: e})
				}
			}
			it.orphans = it.orphans[:0]
			pos = end
		}
		// If no marker was found at all in this block, the orphans
		// stay pending and will be retried against the next block.
	}

	for {
		loc := it.nextScanMatch(block, pos)
		if loc == nil {
			return nil
		}
		matchStart, matchEnd := loc[0], loc[1]

		if matchStart == matchEnd {
			// Zero-width match: advance one byte to avoid looping
			// forever, and never emit it.
			pos = matchEnd + 1
			continue
		}

		recStart, recEnd := recordBounds(block, matchStart)
		entryBytes := block[recStart:recEnd]

		// A record's bytes can contain more than one match (e.g. a
		// repeated substring in a path, or a digit in both the size and
		// the path). Each record is considered at most once: once it has
		// been handled, skip straight past it (over its trailing
		// newline, if any) regardless of how the match inside it is
		// resolved below.
		next := recEnd
		if next < len(block) {
			next++
		}
		pos = next

		if bytes.HasPrefix(entryBytes, []byte{'p', 0}) {
			// The match landed inside a package record; never surfaced.
			continue
		}
		if len(entryBytes) < 2 || entryBytes[0] != 'f' {
			return &Error{Kind: EntryParse, Err: fmt.Errorf("record %q is neither a file nor a package entry", entryBytes)}
		}

		// Try to resolve the owning package early, so we can skip
		// decoding entries whose package is already known to be
		// filtered out. Every record between here and that package's own
		// record belongs to the same package, so a filtered-out package
		// lets us jump straight past all of them.
		if pkg, end, ok, err := it.findPackage(block, next); err != nil {
			return err
		} else if ok && !it.shouldSearchPackage(pkg) {
			pos = end
			continue
		}

		entry, derr := filetree.DecodeEntry(entryBytes[2:])
		if derr != nil {
			return &Error{Kind: EntryParse, Err: fmt.Errorf("decoding %q: %w", entryBytes, derr)}
		}

		if !it.pathPattern.Match(entry.Path) {
			// False positive from the rewritten scan pattern.
			continue
		}

		pkg, _, ok, err := it.findPackage(block, next)
		if err != nil {
			return err
		}
		if ok {
			it.found = append(it.found, matchedEntry{pkg: pkg, entry: entry})
		} else {
			it.orphans = append(it.orphans, entry)
		}
	}
}

// nextScanMatch finds the next scanPattern match in block at or after
// pos, returning absolute [start, end) offsets, or nil if there is none.
func (it *ReaderIter) nextScanMatch(block []byte, pos int) []int {
	if pos > len(block) {
		return nil
	}
	loc := it.scanPattern.FindIndex(block[pos:])
	if loc == nil {
		return nil
	}
	return []int{pos + loc[0], pos + loc[1]}
}

// recordBounds returns the [start, end) byte range of the record
// containing position pos within block: bounded by the preceding
// newline (or block start) and the next newline (or block end).
func recordBounds(block []byte, pos int) (start, end int) {
	if i := bytes.LastIndexByte(block[:pos], '\n'); i >= 0 {
		start = i + 1
	}
	if i := bytes.IndexByte(block[pos:], '\n'); i >= 0 {
		end = pos + i
	} else {
		end = len(block)
	}
	return start, end
}

// findPackage locates the package record that owns the record ending at
// pos: the first record starting at or after pos whose bytes begin with
// "p\0". pos must be a genuine record boundary (0, or the position right
// after some earlier record's trailing newline) -- never an offset into
// the middle of a record -- since a record is only ever recognized as a
// package marker when it starts exactly at the position being tested.
// This keeps a "p\0" that merely appears mid-record (e.g. inside a
// symlink target) from being mistaken for a marker. It caches the result
// across calls within the same block so that consecutive matches in the
// same package pay the lookup cost once.
func (it *ReaderIter) findPackage(block []byte, pos int) (pkg storepath.StorePath, end int, ok bool, err error) {
	if it.cachedPkg != nil && pos < it.cachedPkgEnd {
		return *it.cachedPkg, it.cachedPkgEnd, true, nil
	}
	if it.noMorePkg {
		return storepath.StorePath{}, 0, false, nil
	}

	for start := pos; start < len(block); {
		var recEnd int
		if nl := bytes.IndexByte(block[start:], '\n'); nl >= 0 {
			recEnd = start + nl
		} else {
			recEnd = len(block)
		}

		if bytes.HasPrefix(block[start:recEnd], []byte{'p', 0}) {
			payload := block[start+2 : recEnd]
			var sp storepath.StorePath
			if uerr := json.Unmarshal(payload, &sp); uerr != nil {
				return storepath.StorePath{}, 0, false, &Error{Kind: StorePathParse, Err: fmt.Errorf("parsing %q: %w", payload, uerr)}
			}

			pkgEnd := recEnd
			if pkgEnd < len(block) {
				pkgEnd++ // past the trailing newline
			}
			it.cachedPkg = &sp
			it.cachedPkgEnd = pkgEnd
			return sp, pkgEnd, true, nil
		}

		if recEnd >= len(block) {
			break
		}
		start = recEnd + 1
	}

	it.noMorePkg = true
	return storepath.StorePath{}, 0, false, nil
}

// shouldSearchPackage reports whether pkg satisfies the query's optional
// package-name and package-hash bounds.
func (it *ReaderIter) shouldSearchPackage(pkg storepath.StorePath) bool {
	if it.packagePattern != nil && !it.packagePattern.MatchString(pkg.Name()) {
		return false
	}
	if it.hasHash && it.hash != pkg.Hash() {
		return false
	}
	return true
}
