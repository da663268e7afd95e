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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/bennofs/nix-index/pkg/container"
)

// Reader allows querying a nix-index database. A Reader is exclusively
// owned by one query at a time: running multiple concurrent queries over
// the same database requires independent Readers.
type Reader struct {
	r *container.Reader
}

// Open opens the database at the given file path, validating its header
// eagerly.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapErr(IO, err)
	}
	cr, err := container.Open(f)
	if err != nil {
		f.Close()
		switch {
		case errors.Is(err, container.ErrUnsupportedFileType):
			return nil, wrapErr(UnsupportedFileType, err)
		case errors.Is(err, container.ErrUnsupportedVersion):
			return nil, wrapErr(UnsupportedVersion, err)
		default:
			return nil, wrapErr(IO, err)
		}
	}
	return &Reader{r: cr}, nil
}

// OpenDir opens the database at the conventional "files" path beneath
// dir, the layout a search front-end expects (spec §6.3).
func OpenDir(dir string) (*Reader, error) {
	return Open(filepath.Join(dir, "files"))
}

// Close releases the decompressor and the underlying file handle, in
// that order.
func (r *Reader) Close() error {
	return wrapErr(IO, r.r.Close())
}

// Query starts building a query for entries whose file path matches
// pattern. Use the Query's builder methods to add optional package-name
// or package-hash bounds, then Run to obtain a ReaderIter.
func (r *Reader) Query(pattern *regexp.Regexp) *Query {
	return &Query{reader: r, pathPattern: pattern}
}

// Dump writes every record in the database to w, one per line, in the
// reader's natural block order, for debugging. It is not part of the
// query engine and consumes the Reader.
func (r *Reader) Dump(w io.Writer) error {
	for {
		block, err := r.r.Decoder.Decode()
		if err != nil {
			return wrapErr(FrameCodec, err)
		}
		if len(block) == 0 {
			return nil
		}
		for _, line := range bytes.Split(block, []byte{'\n'}) {
			fmt.Fprintf(w, "%q\n", line)
		}
		fmt.Fprintln(w, "-- block boundary")
	}
}
