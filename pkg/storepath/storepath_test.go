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

package storepath

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStorePath_JSONRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		p    StorePath
	}{
		{
			name: "toplevel package",
			p: New("abc123", "hello-2.10", Origin{
				Attr:     "hello",
				Output:   "out",
				Toplevel: true,
			}),
		},
		{
			name: "transitive dependency",
			p: New("def456", "glibc-2.38", Origin{
				Attr:     "glibc",
				Output:   "lib",
				Toplevel: false,
			}),
		},
		{
			name: "empty origin",
			p:    New("xyz", "pkg", Origin{}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.p)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			var got StorePath
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if !got.Equal(tt.p) {
				t.Errorf("round trip changed identity: got %v, want %v", got, tt.p)
			}
			if diff := cmp.Diff(tt.p, got, cmp.AllowUnexported(StorePath{})); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStorePath_Equal(t *testing.T) {
	a := New("hash1", "name-a", Origin{Attr: "a"})
	b := New("hash1", "name-b", Origin{Attr: "b"})
	c := New("hash2", "name-a", Origin{Attr: "a"})

	if !a.Equal(b) {
		t.Errorf("expected paths with the same hash to be equal regardless of name/origin")
	}
	if a.Equal(c) {
		t.Errorf("expected paths with different hashes to be unequal")
	}
}

func TestStorePath_Accessors(t *testing.T) {
	origin := Origin{Attr: "hello", Output: "out", Toplevel: true}
	p := New("h", "hello-2.10", origin)
	if p.Hash() != "h" {
		t.Errorf("Hash() = %q, want %q", p.Hash(), "h")
	}
	if p.Name() != "hello-2.10" {
		t.Errorf("Name() = %q, want %q", p.Name(), "hello-2.10")
	}
	if p.Origin() != origin {
		t.Errorf("Origin() = %+v, want %+v", p.Origin(), origin)
	}
}
