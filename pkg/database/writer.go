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
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/bennofs/nix-index/pkg/container"
	"github.com/bennofs/nix-index/pkg/filetree"
	"github.com/bennofs/nix-index/pkg/storepath"
)

// Writer creates a new file database in one pass: Create, then Add for
// each package, then Finish. A Writer must not be used after Finish has
// been called, and must not be shared between goroutines.
type Writer struct {
	c       *container.Writer
	counter *countingWriteCloser
}

// Create opens a new database at path, compressing with the given zstd
// level hint (0-22; out-of-range values are clamped, see
// pkg/container.levelOption).
func Create(path string, level int) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, wrapErr(IO, err)
	}
	cw := &countingWriteCloser{WriteCloser: f}
	c, err := container.Create(cw, level)
	if err != nil {
		f.Close()
		return nil, wrapErr(IO, err)
	}
	return &Writer{c: c, counter: cw}, nil
}

// CreateDir opens a new database at the conventional "files" path beneath
// dir, creating dir if it does not already exist.
func CreateDir(dir string, level int) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wrapErr(IO, err)
	}
	return Create(filepath.Join(dir, "files"), level)
}

// Add writes a package's complete file tree to the database, followed by
// the package's own record. The file tree is flattened and sorted by
// path before encoding so that front-coding sees maximal shared prefixes.
func (w *Writer) Add(path storepath.StorePath, files filetree.FileTree) error {
	for _, entry := range files.Flatten() {
		payload, err := filetree.EncodeEntry(entry)
		if err != nil {
			return wrapErr(EntryParse, err)
		}
		record := append([]byte{'f', 0}, payload...)
		if err := w.c.Encoder.Encode(record); err != nil {
			return wrapErr(FrameCodec, err)
		}
	}

	// Force a boundary immediately before the package record, so that
	// within any block, every f-record preceding a p-record belongs to
	// it, with no interleaving of packages across a block.
	if err := w.c.Encoder.ForceBoundary(); err != nil {
		return wrapErr(FrameCodec, err)
	}

	pkgJSON, err := json.Marshal(path)
	if err != nil {
		return wrapErr(StorePathParse, err)
	}
	record := append([]byte{'p', 0}, pkgJSON...)
	if err := w.c.Encoder.Encode(record); err != nil {
		return wrapErr(FrameCodec, err)
	}
	return nil
}

// Finish flushes and finalizes the database, closing the underlying
// file, and returns the total compressed size in bytes.
func (w *Writer) Finish() (uint64, error) {
	if err := w.c.Close(); err != nil {
		return 0, wrapErr(IO, err)
	}
	return w.counter.n, nil
}

// countingWriteCloser tracks the number of bytes written through it, so
// Finish can report the database's final compressed size without
// needing to seek a closed file.
type countingWriteCloser struct {
	io.WriteCloser
	n uint64
}

func (c *countingWriteCloser) Write(p []byte) (int, error) {
	n, err := c.WriteCloser.Write(p)
	c.n += uint64(n)
	return n, err
}
