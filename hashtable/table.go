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

// Package hashtable implements an open-addressing hash table mapping
// non-zero uint64 keys to non-zero uint64 values.
//
// Keys are hashed with a multiply-shift universal hash whose constants are
// drawn from a pseudo-random generator when the table is created and redrawn
// every time the table is rehashed. Collisions are resolved by linear
// probing. Zero is the "absent" sentinel for both keys and values: an empty
// slot has a zero key, inserting a zero value removes the key, and lookups of
// a missing key return zero.
//
// # Sizing
//
// The number of slots is a power of 2 and at least 64. Before every insert
// the table checks two triggers:
//
//   - the load trigger, 2*filled >= slots, which doubles the slot count, and
//   - the collision trigger, collisions > slots, which rehashes with fresh
//     constants at the same size.
//
// collisions counts the probe steps taken past occupied slots by inserts
// since the last rehash. A high count indicates a poor choice of constants
// for the current key set (the probe chains are clustering) and redrawing
// them spreads the keys out again.
//
// # Deletion
//
// Lookup stops probing at the first empty slot, so deletion cannot simply
// zero a slot: that would cut the probe chain of any key that was displaced
// past it. Remove instead performs backward-shift deletion (Knuth, TAOCP
// Vol. 3, Algorithm R): after emptying a slot, the entries that follow it in
// the same cluster are moved back into the hole whenever the hole lies
// between their home slot and their current slot. When the scan reaches an
// empty slot every chain is contiguous again. This needs no tombstones, so
// the filled count is exactly the number of live entries.
//
// A Table is NOT goroutine-safe.
package hashtable

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/cockroachdb/container/alloc"
	"github.com/cockroachdb/container/internal/invariants"
	"github.com/pkg/errors"
)

const (
	debug = false

	// minTableSlots is the smallest table size. Below this a linear scan of
	// an array would beat a hash table anyway.
	minTableSlots = 64
)

// Table is an open-addressing hash table from uint64 to uint64. The zero
// value is not usable; construct a Table with New.
type Table struct {
	allocator alloc.Allocator
	random    func(uint64) uint64
	univ      universal
	// keys and values are parallel arrays with len == slots. A slot is empty
	// iff its key is zero.
	keys   []uint64
	values []uint64
	// filled is the number of live entries.
	filled int
	// collisions is the number of occupied slots probed past by inserts since
	// the last rehash.
	collisions int
}

// New constructs a Table with room for at least minSlots slots. The actual
// slot count is the next power of 2 >= max(minSlots, 64).
func New(minSlots int, options ...option) (*Table, error) {
	t := &Table{
		allocator: alloc.Heap,
		random:    Random,
	}
	t.univ.r = newSeed()
	for _, op := range options {
		op.apply(t)
	}

	slots := nextPow2(max(minSlots, minTableSlots))
	keys, values, err := t.makeArrays(slots)
	if err != nil {
		return nil, errors.Wrapf(err, "hashtable: create with %d slots", slots)
	}
	t.keys, t.values = keys, values
	t.univ.m = uint(bits.TrailingZeros(uint(slots)))
	t.univ.update(t.random)

	t.checkInvariants()
	return t, nil
}

// Close releases the key and value arrays back to the allocator. It is
// unnecessary to close a table using the default allocator. It is invalid to
// use a Table after it has been closed, though Close itself is idempotent.
func (t *Table) Close() {
	if t.keys != nil {
		alloc.FreeSlice(t.allocator, t.keys)
		alloc.FreeSlice(t.allocator, t.values)
	}
	t.keys = nil
	t.values = nil
	t.filled = 0
	t.collisions = 0
}

// Insert maps key to value and returns the value previously mapped to key,
// or 0 if there was none. Inserting key 0 is a no-op that returns 0.
// Inserting value 0 is equivalent to Remove(key).
//
// The table may be rehashed before the insert is performed. If the
// allocator cannot provide the larger arrays, Insert returns an error
// wrapping alloc.ErrOutOfMemory and the table is unchanged.
func (t *Table) Insert(key, value uint64) (uint64, error) {
	if key == 0 {
		return 0, nil
	}
	if value == 0 {
		return t.Remove(key), nil
	}

	slots := len(t.keys)
	if grow := 2*t.filled >= slots; grow || t.collisions > slots {
		newSlots := slots
		if grow {
			newSlots = 2 * slots
		}
		if err := t.rehash(newSlots); err != nil {
			return 0, err
		}
	}

	if debug {
		fmt.Printf("insert(%d): h=%d\n", key, t.univ.hash(key))
	}
	prev := t.probeInsert(key, value)
	if prev == 0 {
		t.filled++
	}
	t.checkInvariants()
	return prev, nil
}

// Lookup returns the value mapped to key, or 0 if key is absent. Lookup(0)
// returns 0.
func (t *Table) Lookup(key uint64) uint64 {
	if i, ok := t.find(key); ok {
		return t.values[i]
	}
	return 0
}

// Remove deletes key and returns the value it was mapped to, or 0 if it was
// absent.
func (t *Table) Remove(key uint64) uint64 {
	i, ok := t.find(key)
	if !ok {
		return 0
	}
	prev := t.values[i]
	if debug {
		fmt.Printf("remove(%d): slot=%d value=%d\n", key, i, prev)
	}

	// Backward-shift the rest of the cluster into the hole at i. An entry at
	// j whose home slot is h may move to i iff i lies cyclically within
	// [h, j), i.e. moving it does not place it before its home.
	mask := uint64(len(t.keys) - 1)
	hole := i
	for j := (hole + 1) & mask; t.keys[j] != 0; j = (j + 1) & mask {
		h := t.univ.hash(t.keys[j])
		if (j-h)&mask >= (j-hole)&mask {
			if debug {
				fmt.Printf("remove(shifting): key=%d slot=%d->%d home=%d\n", t.keys[j], j, hole, h)
			}
			t.keys[hole] = t.keys[j]
			t.values[hole] = t.values[j]
			hole = j
		}
	}
	t.keys[hole] = 0
	t.values[hole] = 0
	t.filled--

	t.checkInvariants()
	return prev
}

// Next returns the first occupied slot at or after from, along with the key
// and value stored there. ok is false when there are no further occupied
// slots. The usual loop is:
//
//	for s, k, v, ok := t.Next(0); ok; s, k, v, ok = t.Next(s + 1) {
//		...
//	}
//
// Any insert or remove during such a loop may reorder the slots.
func (t *Table) Next(from int) (slot int, key, value uint64, ok bool) {
	for i := max(from, 0); i < len(t.keys); i++ {
		if k := t.keys[i]; k != 0 {
			return i, k, t.values[i], true
		}
	}
	return 0, 0, 0, false
}

// All calls yield sequentially for each key and value present in the table,
// in slot order. If yield returns false, iteration stops. The table must not
// be modified during iteration.
func (t *Table) All(yield func(key, value uint64) bool) {
	for i, k := range t.keys {
		if k != 0 {
			if !yield(k, t.values[i]) {
				return
			}
		}
	}
}

// Len returns the number of entries in the table.
func (t *Table) Len() int {
	return t.filled
}

// Slots returns the number of slots in the table.
func (t *Table) Slots() int {
	return len(t.keys)
}

// Collisions returns the number of probe collisions counted since the last
// rehash.
func (t *Table) Collisions() int {
	return t.collisions
}

// Clear deletes every entry while keeping the current slot count.
func (t *Table) Clear() {
	clear(t.keys)
	clear(t.values)
	t.filled = 0
	t.collisions = 0
	t.checkInvariants()
}

// find returns the slot holding key.
func (t *Table) find(key uint64) (uint64, bool) {
	if key == 0 || len(t.keys) == 0 {
		return 0, false
	}
	mask := uint64(len(t.keys) - 1)
	i := t.univ.hash(key)
	for n := 0; n < len(t.keys); n++ {
		switch t.keys[i] {
		case key:
			return i, true
		case 0:
			return 0, false
		}
		i = (i + 1) & mask
	}
	return 0, false
}

// probeInsert stores key at the first slot on its probe sequence holding
// either key or nothing, counting one collision for every other slot passed.
// The caller guarantees a free slot exists.
func (t *Table) probeInsert(key, value uint64) uint64 {
	mask := uint64(len(t.keys) - 1)
	i := t.univ.hash(key)
	for n := 0; n < len(t.keys); n++ {
		if k := t.keys[i]; k == key || k == 0 {
			prev := t.values[i]
			t.keys[i] = key
			t.values[i] = value
			return prev
		}
		t.collisions++
		i = (i + 1) & mask
	}
	panic(fmt.Sprintf("hashtable: no free slot for %d\n%s", key, t.debugString()))
}

// rehash moves every entry into fresh arrays of newSlots slots hashed with
// newly drawn constants and resets the collision count. On error the table
// is unchanged.
func (t *Table) rehash(newSlots int) error {
	keys, values, err := t.makeArrays(newSlots)
	if err != nil {
		return errors.Wrapf(err, "hashtable: rehash %d -> %d slots", len(t.keys), newSlots)
	}
	if debug {
		fmt.Printf("rehash: slots=%d->%d filled=%d collisions=%d\n",
			len(t.keys), newSlots, t.filled, t.collisions)
	}

	oldKeys, oldValues := t.keys, t.values
	t.keys, t.values = keys, values
	t.univ.m = uint(bits.TrailingZeros(uint(newSlots)))
	t.univ.update(t.random)
	for i, k := range oldKeys {
		if k != 0 {
			t.probeInsert(k, oldValues[i])
		}
	}
	t.collisions = 0

	alloc.FreeSlice(t.allocator, oldKeys)
	alloc.FreeSlice(t.allocator, oldValues)
	return nil
}

func (t *Table) makeArrays(slots int) (keys, values []uint64, err error) {
	keys, err = alloc.MakeSlice[uint64](t.allocator, slots)
	if err != nil {
		return nil, nil, err
	}
	values, err = alloc.MakeSlice[uint64](t.allocator, slots)
	if err != nil {
		alloc.FreeSlice(t.allocator, keys)
		return nil, nil, err
	}
	return keys, values, nil
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

func (t *Table) checkInvariants() {
	if invariants.Enabled {
		slots := len(t.keys)
		if slots < minTableSlots || slots&(slots-1) != 0 {
			panic(fmt.Sprintf("invariant failed: slots=%d is not a power of 2 >= %d", slots, minTableSlots))
		}
		if 1<<t.univ.m != slots {
			panic(fmt.Sprintf("invariant failed: m=%d but slots=%d", t.univ.m, slots))
		}
		if t.univ.a&1 != 1 {
			panic(fmt.Sprintf("invariant failed: multiplier %#x is even", t.univ.a))
		}
		if t.univ.b > ^uint64(0)>>t.univ.m {
			panic(fmt.Sprintf("invariant failed: offset %#x exceeds %d bits", t.univ.b, 64-t.univ.m))
		}

		// For every non-empty slot, verify we can retrieve the key and that
		// it carries a value. Count the used slots.
		var used int
		for i, k := range t.keys {
			if k == 0 {
				if t.values[i] != 0 {
					panic(fmt.Sprintf("invariant failed: slot(%d): empty with value %d\n%s",
						i, t.values[i], t.debugString()))
				}
				continue
			}
			if t.values[i] == 0 {
				panic(fmt.Sprintf("invariant failed: slot(%d): key %d with zero value\n%s",
					i, k, t.debugString()))
			}
			if j, ok := t.find(k); !ok || j != uint64(i) {
				panic(fmt.Sprintf("invariant failed: slot(%d): %d not found [h=%d]\n%s",
					i, k, t.univ.hash(k), t.debugString()))
			}
			used++
		}
		if used != t.filled {
			panic(fmt.Sprintf("invariant failed: found %d used slots, but filled count is %d\n%s",
				used, t.filled, t.debugString()))
		}
		if 2*t.filled > slots {
			panic(fmt.Sprintf("invariant failed: filled=%d exceeds half of %d slots", t.filled, slots))
		}
	}
}

func (t *Table) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "slots=%d  filled=%d  collisions=%d  a=%#x  b=%#x  m=%d\n",
		len(t.keys), t.filled, t.collisions, t.univ.a, t.univ.b, t.univ.m)
	for i, k := range t.keys {
		if k == 0 {
			fmt.Fprintf(&buf, "  %4d: empty\n", i)
		} else {
			fmt.Fprintf(&buf, "  %4d: %d=%d [h=%d]\n", i, k, t.values[i], t.univ.hash(k))
		}
	}
	return buf.String()
}
