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

// Package storepath defines StorePath, the identity of one built package
// in the file database.
package storepath

import (
	"encoding/json"
	"fmt"
)

// Origin describes how a package was reached: the attribute path used to
// build it, the derivation output it corresponds to, and whether it is a
// top-level (directly user-installable) package or only a transitive
// dependency.
type Origin struct {
	Attr     string `json:"attr"`
	Output   string `json:"output"`
	Toplevel bool   `json:"toplevel"`
}

// StorePath identifies one build output: an immutable, content-addressed
// store directory. Two StorePaths are equal iff their hashes are equal,
// regardless of name or origin.
type StorePath struct {
	hash   string
	name   string
	origin Origin
}

// New builds a StorePath from its hash, human-readable name and origin.
func New(hash, name string, origin Origin) StorePath {
	return StorePath{hash: hash, name: name, origin: origin}
}

// Hash returns the opaque content hash that identifies the package.
func (p StorePath) Hash() string { return p.hash }

// Name returns the human-readable package name.
func (p StorePath) Name() string { return p.name }

// Origin returns the attribute path and toplevel status of the package.
func (p StorePath) Origin() Origin { return p.origin }

// Equal reports whether p and other refer to the same store path. Only
// the hash is compared: name and origin may legitimately differ between
// two references to the same underlying store path.
func (p StorePath) Equal(other StorePath) bool {
	return p.hash == other.hash
}

func (p StorePath) String() string {
	return fmt.Sprintf("%s (%s)", p.name, p.hash)
}

// jsonStorePath mirrors the wire representation: a self-contained JSON
// object with a nested origin, matching the shape nix-index's crawler
// (out of scope here) produces.
type jsonStorePath struct {
	Hash   string `json:"hash"`
	Name   string `json:"name"`
	Origin Origin `json:"origin"`
}

// MarshalJSON implements json.Marshaler.
func (p StorePath) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonStorePath{Hash: p.hash, Name: p.name, Origin: p.origin})
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *StorePath) UnmarshalJSON(data []byte) error {
	var j jsonStorePath
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*p = StorePath{hash: j.Hash, name: j.Name, origin: j.Origin}
	return nil
}
