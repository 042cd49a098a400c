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
	"encoding/binary"

	"github.com/cockroachdb/container/buffer"
	"github.com/pkg/errors"
)

// Integers interns 64-bit integers.
//
// An Integers is NOT goroutine-safe.
type Integers struct {
	index  index
	values *buffer.Buffer[uint64]
}

// NewIntegers constructs an empty integer interning table.
func NewIntegers(options ...option) (*Integers, error) {
	c := makeConfig(options)
	t := &Integers{}
	t.index.init(c.allocator)

	var err error
	if t.values, err = buffer.New[uint64](0, c.allocator); err != nil {
		return nil, errors.Wrap(err, "intern: create integer storage")
	}
	return t, nil
}

// Close releases the table's storage back to its allocator. It is invalid to
// use an Integers after it has been closed, though Close itself is
// idempotent.
func (t *Integers) Close() {
	t.index.close()
	t.values.Close()
}

// Intern returns the ID of v, adding v to the table if it has not been
// interned before. On error the table is unchanged.
func (t *Integers) Intern(v uint64) (ID, error) {
	h1, h2 := integerHashes(v)
	if id, ok := t.find(h1, h2, v); ok {
		return id, nil
	}

	id, err := t.values.Append(v)
	if err != nil {
		return 0, errors.Wrapf(err, "intern: store %d", v)
	}
	if err := t.index.add(h1, h2, uint64(id)); err != nil {
		t.values.Truncate(id)
		return 0, err
	}
	return ID(id), nil
}

// Check returns the ID of v without interning it, or ok=false if v has not
// been interned.
func (t *Integers) Check(v uint64) (ID, bool) {
	h1, h2 := integerHashes(v)
	return t.find(h1, h2, v)
}

// Value returns the integer interned as id.
func (t *Integers) Value(id ID) uint64 {
	return t.values.At(int(id))
}

// Len returns the number of distinct integers interned.
func (t *Integers) Len() int {
	return t.values.Len()
}

// All calls yield for each interned integer in ID order. If yield returns
// false, iteration stops.
func (t *Integers) All(yield func(id ID, v uint64) bool) {
	for i, v := range t.values.All {
		if !yield(ID(i), v) {
			return
		}
	}
}

func (t *Integers) find(h1, h2 uint8, v uint64) (ID, bool) {
	return t.index.find(h1, h2, func(id uint64) bool {
		return t.values.At(int(id)) == v
	})
}

// integerHashes returns the primary and secondary Pearson hashes of the
// little-endian bytes of v.
func integerHashes(v uint64) (uint8, uint8) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return pearson(&pearsonPrimary, b[:]), pearson(&pearsonSecondary, b[:])
}
