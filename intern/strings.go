// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package intern

import (
	"fmt"
	"unsafe"

	"github.com/cockroachdb/container/buffer"
	"github.com/cockroachdb/container/internal/invariants"
	"github.com/pkg/errors"
)

// span locates one canonical string within Strings.chars.
type span struct {
	off, len uint64
}

// Strings interns byte strings. The canonical copies are packed end to end
// in one byte buffer, which keeps all storage pointer-free so that any
// allocator can back it.
//
// A Strings is NOT goroutine-safe.
type Strings struct {
	index index
	chars *buffer.Buffer[byte]
	spans *buffer.Buffer[span]
}

// NewStrings constructs an empty string interning table.
func NewStrings(options ...option) (*Strings, error) {
	c := makeConfig(options)
	s := &Strings{}
	s.index.init(c.allocator)

	var err error
	if s.chars, err = buffer.New[byte](0, c.allocator); err != nil {
		return nil, errors.Wrap(err, "intern: create string storage")
	}
	if s.spans, err = buffer.New[span](0, c.allocator); err != nil {
		s.chars.Close()
		return nil, errors.Wrap(err, "intern: create string storage")
	}
	return s, nil
}

// Close releases the table's storage back to its allocator. It is invalid to
// use a Strings after it has been closed, though Close itself is idempotent.
func (s *Strings) Close() {
	s.index.close()
	s.chars.Close()
	s.spans.Close()
}

// Intern returns the ID of str, copying str into the table if no equal
// string has been interned before. On error the table is unchanged.
func (s *Strings) Intern(str string) (ID, error) {
	h1 := pearsonString(&pearsonPrimary, str)
	h2 := pearsonString(&pearsonSecondary, str)
	if id, ok := s.find(h1, h2, str); ok {
		return id, nil
	}

	off, err := s.chars.AppendSlice(unsafe.Slice(unsafe.StringData(str), len(str)))
	if err != nil {
		return 0, errors.Wrapf(err, "intern: store %d byte string", len(str))
	}
	id, err := s.spans.Append(span{off: uint64(off), len: uint64(len(str))})
	if err != nil {
		s.chars.Truncate(off)
		return 0, errors.Wrapf(err, "intern: store %d byte string", len(str))
	}
	if err := s.index.add(h1, h2, uint64(id)); err != nil {
		s.spans.Truncate(id)
		s.chars.Truncate(off)
		return 0, err
	}
	s.checkInvariants()
	return ID(id), nil
}

// InternBytes is Intern for a byte slice. b is copied only if it is new to
// the table.
func (s *Strings) InternBytes(b []byte) (ID, error) {
	return s.Intern(unsafe.String(unsafe.SliceData(b), len(b)))
}

// Check returns the ID of str without interning it, or ok=false if no equal
// string has been interned.
func (s *Strings) Check(str string) (ID, bool) {
	h1 := pearsonString(&pearsonPrimary, str)
	h2 := pearsonString(&pearsonSecondary, str)
	return s.find(h1, h2, str)
}

// String returns a copy of the string interned as id.
func (s *Strings) String(id ID) string {
	return string(s.Bytes(id))
}

// Bytes returns the canonical bytes of the string interned as id. The slice
// aliases the table's storage: it must not be modified and is only valid
// until the next call to Intern.
func (s *Strings) Bytes(id ID) []byte {
	sp := s.spans.At(int(id))
	return s.chars.Slice()[sp.off : sp.off+sp.len : sp.off+sp.len]
}

// Len returns the number of distinct strings interned.
func (s *Strings) Len() int {
	return s.spans.Len()
}

// All calls yield for each interned string in ID order. If yield returns
// false, iteration stops.
func (s *Strings) All(yield func(id ID, str string) bool) {
	for i := 0; i < s.spans.Len(); i++ {
		if !yield(ID(i), s.String(ID(i))) {
			return
		}
	}
}

func (s *Strings) find(h1, h2 uint8, str string) (ID, bool) {
	return s.index.find(h1, h2, func(id uint64) bool {
		return string(s.Bytes(ID(id))) == str
	})
}

func (s *Strings) checkInvariants() {
	if invariants.Enabled {
		var total uint64
		for i, sp := range s.spans.All {
			if sp.off != total {
				panic(fmt.Sprintf("invariant failed: span(%d) at %d, expected %d", i, sp.off, total))
			}
			total += sp.len
		}
		if total != uint64(s.chars.Len()) {
			panic(fmt.Sprintf("invariant failed: spans cover %d bytes of %d", total, s.chars.Len()))
		}
		var indexed int
		s.index.all(func(h1 uint8, id uint64) bool {
			if b := s.Bytes(ID(id)); pearson(&pearsonPrimary, b) != h1 {
				panic(fmt.Sprintf("invariant failed: %q indexed in bucket %d", b, h1))
			}
			indexed++
			return true
		})
		if indexed != s.spans.Len() {
			panic(fmt.Sprintf("invariant failed: %d indexed of %d strings", indexed, s.spans.Len()))
		}
	}
}
