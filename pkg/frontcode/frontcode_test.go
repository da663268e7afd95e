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

package frontcode

import (
	"bytes"
	"testing"
	"testing/quick"
)

func decodeAll(t *testing.T, data []byte) [][]byte {
	t.Helper()
	dec := NewDecoder(bytes.NewReader(data))
	var all [][]byte
	for {
		block, err := dec.Decode()
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if block == nil {
			break
		}
		all = append(all, bytes.Split(block, []byte{'\n'})...)
	}
	return all
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	records := [][]byte{
		[]byte("/bin/bash"),
		[]byte("/bin/cat"),
		[]byte("/bin/ls"),
		[]byte("/bin/sh"),
		[]byte("/usr/bin/zsh"),
	}

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			t.Fatalf("Encode(%q): %v", r, err)
		}
	}
	if err := enc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got := decodeAll(t, buf.Bytes())
	if len(got) != len(records) {
		t.Fatalf("decoded %d records, want %d", len(got), len(records))
	}
	for i, r := range records {
		if !bytes.Equal(got[i], r) {
			t.Errorf("record %d = %q, want %q", i, got[i], r)
		}
	}
}

func TestForceBoundary_DoesNotAlterDecodedSequence(t *testing.T) {
	records := [][]byte{
		[]byte("/bin/bash"),
		[]byte("/bin/cat"),
		[]byte("/bin/ls"),
	}

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.Encode(records[0]); err != nil {
		t.Fatal(err)
	}
	if err := enc.ForceBoundary(); err != nil {
		t.Fatal(err)
	}
	if err := enc.Encode(records[1]); err != nil {
		t.Fatal(err)
	}
	if err := enc.Encode(records[2]); err != nil {
		t.Fatal(err)
	}
	if err := enc.Flush(); err != nil {
		t.Fatal(err)
	}

	got := decodeAll(t, buf.Bytes())
	if len(got) != len(records) {
		t.Fatalf("decoded %d records, want %d", len(got), len(records))
	}
	for i, r := range records {
		if !bytes.Equal(got[i], r) {
			t.Errorf("record %d = %q, want %q", i, got[i], r)
		}
	}
}

func TestForceBoundary_NoOpWhenEmpty(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.ForceBoundary(); err != nil {
		t.Fatalf("ForceBoundary: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("ForceBoundary on an empty block wrote %d bytes, want 0", buf.Len())
	}
}

func TestEncode_RejectsEmbeddedNewline(t *testing.T) {
	enc := NewEncoder(&bytes.Buffer{})
	if err := enc.Encode([]byte("bad\nrecord")); err != ErrEmbeddedNewline {
		t.Errorf("Encode() error = %v, want %v", err, ErrEmbeddedNewline)
	}
}

func TestEncode_RejectsEmptyRecord(t *testing.T) {
	enc := NewEncoder(&bytes.Buffer{})
	if err := enc.Encode(nil); err == nil {
		t.Error("expected an error for an empty record")
	}
}

func TestDecode_EmptyStreamIsCleanEOF(t *testing.T) {
	dec := NewDecoder(bytes.NewReader(nil))
	block, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if block != nil {
		t.Errorf("Decode() = %q, want nil", block)
	}
}

func TestDecode_TruncatedHeader(t *testing.T) {
	dec := NewDecoder(bytes.NewReader([]byte{1, 2}))
	if _, err := dec.Decode(); err != ErrTruncatedBlock {
		t.Errorf("Decode() error = %v, want %v", err, ErrTruncatedBlock)
	}
}

func TestDecode_ChecksumMismatch(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.Encode([]byte("/bin/ls")); err != nil {
		t.Fatal(err)
	}
	if err := enc.Flush(); err != nil {
		t.Fatal(err)
	}

	corrupted := buf.Bytes()
	corrupted[len(corrupted)-1] ^= 0xff

	dec := NewDecoder(bytes.NewReader(corrupted))
	if _, err := dec.Decode(); err != ErrChecksumMismatch {
		t.Errorf("Decode() error = %v, want %v", err, ErrChecksumMismatch)
	}
}

func TestEncodeDecode_QuickRoundTrip(t *testing.T) {
	f := func(recs []string) bool {
		var filtered [][]byte
		for _, r := range recs {
			if r == "" || bytes.ContainsRune([]byte(r), '\n') {
				continue
			}
			filtered = append(filtered, []byte(r))
		}

		var buf bytes.Buffer
		enc := NewEncoder(&buf)
		for _, r := range filtered {
			if err := enc.Encode(r); err != nil {
				t.Logf("Encode(%q): %v", r, err)
				return false
			}
		}
		if err := enc.Flush(); err != nil {
			t.Logf("Flush: %v", err)
			return false
		}

		got := decodeAll(t, buf.Bytes())
		if len(got) != len(filtered) {
			return false
		}
		for i := range filtered {
			if !bytes.Equal(got[i], filtered[i]) {
				return false
			}
		}
		return true
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}
