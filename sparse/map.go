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

// Package sparse implements a map from non-zero uint64 keys to values of
// any type, laid out as a sparse set.
//
// Values live densely in a buffer.Buffer and a hashtable.Table maps each key
// to the ordinal of its value. Ordinal 0 is reserved so that the table's zero
// "absent" value never names a real slot. Removing a key pushes its ordinal
// onto a free list and the next insert of a new key reuses it, so the value
// buffer only grows once every freed slot has been taken again.
//
//	values:  [ reserved | v1 | v2 | (free) | v4 ]
//	table:   k1->1  k2->2  k4->4
//	free:    [3]
package sparse

import (
	"fmt"

	"github.com/cockroachdb/container/buffer"
	"github.com/cockroachdb/container/hashtable"
	"github.com/cockroachdb/container/internal/invariants"
	"github.com/pkg/errors"
)

// ErrZeroKey is returned when inserting key 0, which is reserved.
var ErrZeroKey = errors.New("sparse: zero key")

// Map is a sparse-set map from uint64 to V. The zero value is not usable;
// construct a Map with New.
//
// A Map is NOT goroutine-safe.
type Map[V any] struct {
	values *buffer.Buffer[V]
	table  *hashtable.Table
	free   *buffer.Buffer[uint64]
}

// New constructs a Map with room for at least minCapacity values before the
// value buffer has to grow.
func New[V any](minCapacity int, options ...option) (*Map[V], error) {
	c := defaultConfig()
	for _, op := range options {
		op.apply(&c)
	}

	valueCap := 0
	if minCapacity > 0 {
		// One extra for the reserved slot.
		valueCap = minCapacity + 1
	}
	values, err := buffer.New[V](valueCap, c.allocator)
	if err != nil {
		return nil, errors.Wrap(err, "sparse: create value buffer")
	}
	// Reserve ordinal 0.
	var zero V
	if _, err := values.Append(zero); err != nil {
		values.Close()
		return nil, errors.Wrap(err, "sparse: create value buffer")
	}
	free, err := buffer.New[uint64](minCapacity, c.allocator)
	if err != nil {
		values.Close()
		return nil, errors.Wrap(err, "sparse: create free list")
	}
	// The table rehashes at half full.
	table, err := hashtable.New(2*minCapacity+1,
		hashtable.WithAllocator(c.allocator), hashtable.WithSeed(c.seed))
	if err != nil {
		values.Close()
		free.Close()
		return nil, errors.Wrap(err, "sparse: create index")
	}

	m := &Map[V]{
		values: values,
		table:  table,
		free:   free,
	}
	m.checkInvariants()
	return m, nil
}

// Close releases the memory of the map back to its allocator. It is invalid
// to use a Map after it has been closed, though Close itself is idempotent.
func (m *Map[V]) Close() {
	m.table.Close()
	m.values.Close()
	m.free.Close()
}

// Insert maps key to v. If key is already present its value is overwritten
// in place. Otherwise a freed slot is reused if one is available, and the
// value buffer is appended to if not.
//
// Inserting key 0 returns ErrZeroKey. If an allocation fails the map is
// unchanged.
func (m *Map[V]) Insert(key uint64, v V) error {
	if key == 0 {
		return ErrZeroKey
	}
	if slot := m.table.Lookup(key); slot != 0 {
		m.values.Set(int(slot), v)
		return nil
	}

	if m.free.Len() > 0 {
		slot := m.free.At(0)
		if _, err := m.table.Insert(key, slot); err != nil {
			return errors.Wrapf(err, "sparse: insert %d", key)
		}
		m.free.RemoveUnordered(0)
		m.values.Set(int(slot), v)
		m.checkInvariants()
		return nil
	}

	slot, err := m.values.Append(v)
	if err != nil {
		return errors.Wrapf(err, "sparse: insert %d", key)
	}
	if _, err := m.table.Insert(key, uint64(slot)); err != nil {
		m.values.Truncate(slot)
		return errors.Wrapf(err, "sparse: insert %d", key)
	}
	m.checkInvariants()
	return nil
}

// Exists reports whether key is present.
func (m *Map[V]) Exists(key uint64) bool {
	return m.table.Lookup(key) != 0
}

// Lookup returns the value mapped to key, or ok=false if key is absent.
func (m *Map[V]) Lookup(key uint64) (v V, ok bool) {
	if slot := m.table.Lookup(key); slot != 0 {
		return m.values.At(int(slot)), true
	}
	return v, false
}

// LookupRef returns a pointer to the value mapped to key, or nil if key is
// absent. The pointer is valid until the next Insert of a new key.
func (m *Map[V]) LookupRef(key uint64) *V {
	if slot := m.table.Lookup(key); slot != 0 {
		return m.values.Ref(int(slot))
	}
	return nil
}

// Remove deletes key and reports whether it was present. The slot of the
// removed value is queued for reuse by a later Insert. Removing key 0 or an
// absent key is a no-op.
//
// Remove fails only if the free list cannot grow, in which case the map is
// unchanged.
func (m *Map[V]) Remove(key uint64) (bool, error) {
	slot := m.table.Lookup(key)
	if slot == 0 {
		return false, nil
	}
	if _, err := m.free.Append(slot); err != nil {
		return false, errors.Wrapf(err, "sparse: remove %d", key)
	}
	m.table.Remove(key)
	m.checkInvariants()
	return true, nil
}

// All calls yield sequentially for each key and value present in the map. If
// yield returns false, iteration stops. The map must not be modified during
// iteration.
func (m *Map[V]) All(yield func(key uint64, v V) bool) {
	m.table.All(func(key, slot uint64) bool {
		return yield(key, m.values.At(int(slot)))
	})
}

// Len returns the number of keys in the map.
func (m *Map[V]) Len() int {
	return m.table.Len()
}

// DirtySlots returns the number of value slots that have ever been used,
// including the reserved slot 0 and slots waiting on the free list.
func (m *Map[V]) DirtySlots() int {
	return m.values.Len()
}

// TotalSlots returns the capacity of the value buffer.
func (m *Map[V]) TotalSlots() int {
	return m.values.Cap()
}

func (m *Map[V]) checkInvariants() {
	if invariants.Enabled {
		if live, free, dirty := m.table.Len(), m.free.Len(), m.values.Len(); live+free+1 != dirty {
			panic(fmt.Sprintf("invariant failed: live=%d + free=%d + 1 != dirty=%d", live, free, dirty))
		}
		used := make(map[uint64]uint64, m.table.Len())
		m.table.All(func(key, slot uint64) bool {
			if slot == 0 || slot >= uint64(m.values.Len()) {
				panic(fmt.Sprintf("invariant failed: key %d maps to slot %d of %d", key, slot, m.values.Len()))
			}
			if other, ok := used[slot]; ok {
				panic(fmt.Sprintf("invariant failed: keys %d and %d share slot %d", other, key, slot))
			}
			used[slot] = key
			return true
		})
		for i, slot := range m.free.All {
			if key, ok := used[slot]; ok {
				panic(fmt.Sprintf("invariant failed: free(%d)=%d is used by key %d", i, slot, key))
			}
			if slot == 0 {
				panic(fmt.Sprintf("invariant failed: free(%d) is the reserved slot", i))
			}
		}
	}
}
