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

// Package frontcode implements a streaming front-coded record codec: each
// record is stored as (length of the prefix shared with the previous
// record, differing suffix). The encoder groups records into blocks, each
// independently resynchronizable by the decoder, and resets the "previous
// record" state at every block boundary.
package frontcode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
)

// DefaultBlockTarget is the pre-compression byte target at which the
// encoder forces a block boundary, absent an explicit caller-forced one.
// This mirrors the "tens of kilobytes" guidance from the file database
// design: large enough that front-coding still compresses well within a
// block, small enough to give the decoder frequent resynchronization
// points.
const DefaultBlockTarget = 32 * 1024

var (
	// ErrEmbeddedNewline is returned by Encode when a record contains a
	// literal newline, which the codec reserves as a record terminator.
	ErrEmbeddedNewline = errors.New("frontcode: record contains an embedded newline")

	// ErrTruncatedBlock is returned by Decode when the stream ends in the
	// middle of a block header or payload.
	ErrTruncatedBlock = errors.New("frontcode: truncated block")

	// ErrBadPrefixLength is returned by Decode when a record's shared
	// prefix length exceeds the length of the previous reconstructed
	// record, or the length prefix itself cannot be parsed.
	ErrBadPrefixLength = errors.New("frontcode: invalid shared-prefix length")

	// ErrTruncatedSuffix is returned by Decode when a record's suffix is
	// not terminated by a newline before the block payload ends.
	ErrTruncatedSuffix = errors.New("frontcode: truncated record suffix")

	// ErrChecksumMismatch is returned by Decode when a block's trailing
	// checksum does not match its payload, indicating a malformed or
	// corrupt boundary marker.
	ErrChecksumMismatch = errors.New("frontcode: block checksum mismatch")
)

// Encoder writes records to an underlying io.Writer using front coding.
// It is not safe for concurrent use.
type Encoder struct {
	w            io.Writer
	blockTarget  int
	block        bytes.Buffer
	prev         []byte
	varintScratch [binary.MaxVarintLen64]byte
}

// NewEncoder returns an Encoder that writes blocks to w, forcing a new
// block whenever the pending block reaches DefaultBlockTarget bytes.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w, blockTarget: DefaultBlockTarget}
}

// Encode appends record to the current block. record must not be empty
// and must not contain a newline byte.
func (e *Encoder) Encode(record []byte) error {
	if len(record) == 0 {
		return fmt.Errorf("frontcode: cannot encode an empty record")
	}
	if bytes.IndexByte(record, '\n') >= 0 {
		return ErrEmbeddedNewline
	}

	shared := commonPrefixLen(e.prev, record)
	n := binary.PutUvarint(e.varintScratch[:], uint64(shared))
	e.block.Write(e.varintScratch[:n])
	e.block.Write(record[shared:])
	e.block.WriteByte('\n')

	e.prev = append(e.prev[:0], record...)

	if e.block.Len() >= e.blockTarget {
		return e.ForceBoundary()
	}
	return nil
}

// ForceBoundary flushes the current block to the underlying writer and
// resets the "previous record" state, giving the decoder a
// resynchronization point. It is a no-op if no records are pending.
func (e *Encoder) ForceBoundary() error {
	if e.block.Len() == 0 {
		return nil
	}
	payload := e.block.Bytes()

	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := e.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := e.w.Write(payload); err != nil {
		return err
	}

	var sum [8]byte
	binary.LittleEndian.PutUint64(sum[:], xxhash.Sum64(payload))
	if _, err := e.w.Write(sum[:]); err != nil {
		return err
	}

	e.block.Reset()
	e.prev = e.prev[:0]
	return nil
}

// Flush forces any pending block to be written out. It must be called
// before the underlying writer is finalized, or trailing records will be
// lost.
func (e *Encoder) Flush() error {
	return e.ForceBoundary()
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// Decoder reads blocks written by Encoder. It is not safe for concurrent
// use.
type Decoder struct {
	r       io.Reader
	payload []byte
}

// NewDecoder returns a Decoder reading blocks from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Decode returns the next block's fully reconstructed records, joined by
// newlines in a single contiguous buffer that the caller may scan freely
// until the next call to Decode. A nil slice with a nil error signals a
// clean end of input.
func (d *Decoder) Decode() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(d.r, header[:]); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		if err == io.ErrUnexpectedEOF {
			return nil, ErrTruncatedBlock
		}
		return nil, err
	}
	n := binary.LittleEndian.Uint32(header[:])

	if cap(d.payload) < int(n) {
		d.payload = make([]byte, n)
	}
	payload := d.payload[:n]
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, ErrTruncatedBlock
	}

	var sum [8]byte
	if _, err := io.ReadFull(d.r, sum[:]); err != nil {
		return nil, ErrTruncatedBlock
	}
	if binary.LittleEndian.Uint64(sum[:]) != xxhash.Sum64(payload) {
		return nil, ErrChecksumMismatch
	}

	return decodeBlock(payload)
}

// decodeBlock reconstructs every record in a block's payload and joins
// them with newlines.
func decodeBlock(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	var (
		records [][]byte
		prev    []byte
		pos     int
	)
	for pos < len(payload) {
		shared, n := binary.Uvarint(payload[pos:])
		if n <= 0 {
			return nil, ErrBadPrefixLength
		}
		pos += n

		nl := bytes.IndexByte(payload[pos:], '\n')
		if nl < 0 {
			return nil, ErrTruncatedSuffix
		}
		suffix := payload[pos : pos+nl]
		pos += nl + 1

		if int(shared) > len(prev) {
			return nil, ErrBadPrefixLength
		}

		record := make([]byte, 0, int(shared)+len(suffix))
		record = append(record, prev[:shared]...)
		record = append(record, suffix...)

		records = append(records, record)
		prev = record
	}

	return bytes.Join(records, []byte{'\n'}), nil
}
