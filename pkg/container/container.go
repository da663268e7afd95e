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

// Package container wraps the front-coded record stream in a zstd-
// compressed container, prefixed by a fixed magic value and a format
// version. It owns the header validation that every reader must perform
// before trusting the bytes that follow.
package container

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/bennofs/nix-index/pkg/frontcode"
)

// Magic is the fixed 4-byte value every database file starts with.
var Magic = [4]byte{'N', 'I', 'X', 'I'}

// Version is the format version this package reads and writes.
const Version uint64 = 1

var (
	// ErrUnsupportedFileType is returned by Open when the header's magic
	// bytes don't match Magic.
	ErrUnsupportedFileType = errors.New("container: not a nix-index database file")

	// ErrUnsupportedVersion is returned by Open when the header's
	// version field doesn't match Version.
	ErrUnsupportedVersion = errors.New("container: unsupported database format version")
)

// Writer wraps a front-coded record encoder in a zstd stream, preceded by
// the fixed header. Close must be called to finalize the zstd frame and
// flush any pending block; forgetting to call it leaves a truncated,
// invalid file. There is no Go finalizer backstop for this -- like the
// teacher's sorted.KeyValue, which documents that Close is how callers
// avoid losing data, Writer documents the same contract explicitly rather
// than relying on magic cleanup a reader can't observe.
type Writer struct {
	sink    io.WriteCloser
	zstdEnc *zstd.Encoder
	Encoder *frontcode.Encoder
	closed  bool
}

// levelOption maps the level hint from spec §6.4 (0-22, the numeric zstd
// CLI scale) onto klauspost/compress/zstd's four named speed presets,
// since that library does not expose the full numeric scale. See
// DESIGN.md for why this mapping was chosen over vendoring a numeric-level
// zstd binding.
func levelOption(level int) zstd.EOption {
	switch {
	case level <= 0:
		return zstd.WithEncoderLevel(zstd.SpeedDefault)
	case level <= 3:
		return zstd.WithEncoderLevel(zstd.SpeedFastest)
	case level <= 9:
		return zstd.WithEncoderLevel(zstd.SpeedDefault)
	case level <= 15:
		return zstd.WithEncoderLevel(zstd.SpeedBetterCompression)
	default:
		return zstd.WithEncoderLevel(zstd.SpeedBestCompression)
	}
}

// Create opens a new container on top of sink, writing the fixed header
// and preparing the zstd and front-coding layers. level is a forwarded
// hint in the range 0-22; out-of-range values are clamped by
// levelOption.
func Create(sink io.WriteCloser, level int) (*Writer, error) {
	var header [4 + 8]byte
	copy(header[:4], Magic[:])
	binary.LittleEndian.PutUint64(header[4:], Version)
	if _, err := sink.Write(header[:]); err != nil {
		return nil, fmt.Errorf("container: writing header: %w", err)
	}

	enc, err := zstd.NewWriter(sink, levelOption(level))
	if err != nil {
		return nil, fmt.Errorf("container: creating zstd encoder: %w", err)
	}

	return &Writer{
		sink:    sink,
		zstdEnc: enc,
		Encoder: frontcode.NewEncoder(enc),
	}, nil
}

// Close flushes the front-coding layer, finalizes the zstd frame, and
// closes the underlying sink, in that order. It is idempotent.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.Encoder.Flush(); err != nil {
		return fmt.Errorf("container: flushing final block: %w", err)
	}
	if err := w.zstdEnc.Close(); err != nil {
		return fmt.Errorf("container: finalizing zstd stream: %w", err)
	}
	return w.sink.Close()
}

// Reader wraps a validated, decompressed container, exposing its front-
// coded block decoder.
type Reader struct {
	source  io.Closer
	zstdDec *zstd.Decoder
	Decoder *frontcode.Decoder
}

// Open validates the container header read from source and prepares the
// zstd and front-coding layers for reading. It returns ErrUnsupportedFileType
// or ErrUnsupportedVersion if the header is not recognized.
func Open(source io.ReadCloser) (*Reader, error) {
	var header [4 + 8]byte
	if _, err := io.ReadFull(source, header[:]); err != nil {
		return nil, fmt.Errorf("container: reading header: %w", err)
	}
	if [4]byte(header[:4]) != Magic {
		return nil, fmt.Errorf("%w: found %q", ErrUnsupportedFileType, header[:4])
	}
	version := binary.LittleEndian.Uint64(header[4:])
	if version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	dec, err := zstd.NewReader(source)
	if err != nil {
		return nil, fmt.Errorf("container: creating zstd decoder: %w", err)
	}

	return &Reader{
		source:  source,
		zstdDec: dec,
		Decoder: frontcode.NewDecoder(dec),
	}, nil
}

// Close releases the zstd decoder and the underlying source, in that
// order.
func (r *Reader) Close() error {
	r.zstdDec.Close()
	return r.source.Close()
}
