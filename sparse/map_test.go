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

package sparse

import (
	"math/rand"
	"strconv"
	"testing"

	"github.com/cockroachdb/container/alloc"
	"github.com/stretchr/testify/require"
)

// toBuiltinMap returns a builtin map with the same contents as the supplied
// map.
func toBuiltinMap[V any](m *Map[V]) map[uint64]V {
	r := make(map[uint64]V)
	m.All(func(k uint64, v V) bool {
		r[k] = v
		return true
	})
	return r
}

func TestBasic(t *testing.T) {
	m, err := New[float32](0)
	require.NoError(t, err)
	defer m.Close()

	// Exists on an empty map.
	require.False(t, m.Exists(0))
	require.False(t, m.Exists(1))
	require.False(t, m.Exists(2))

	require.NoError(t, m.Insert(1, 1.0))
	fh0 := m.Len() - 1
	fs0 := m.DirtySlots() - 1

	// Insertion.
	require.Equal(t, fh0+1, m.Len())
	require.Equal(t, fs0+1, m.DirtySlots())
	require.False(t, m.Exists(0))
	require.True(t, m.Exists(1))
	v, ok := m.Lookup(1)
	require.True(t, ok)
	require.Equal(t, float32(1.0), v)
	require.False(t, m.Exists(2))

	require.NoError(t, m.Insert(2, 42.0))
	require.Equal(t, fh0+2, m.Len())
	require.Equal(t, fs0+2, m.DirtySlots())
	require.True(t, m.Exists(1))
	require.True(t, m.Exists(2))
	v, _ = m.Lookup(2)
	require.Equal(t, float32(42.0), v)

	// Duplicate key overwrites in place.
	require.NoError(t, m.Insert(2, 24.0))
	require.Equal(t, fs0+2, m.DirtySlots())
	v, _ = m.Lookup(1)
	require.Equal(t, float32(1.0), v)
	v, _ = m.Lookup(2)
	require.Equal(t, float32(24.0), v)
	require.Equal(t, map[uint64]float32{1: 1.0, 2: 24.0}, toBuiltinMap(m))

	// Removal.
	fh := m.Len()
	ok, err = m.Remove(2)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, m.Exists(2))
	require.Equal(t, fh-1, m.Len())
	ok, err = m.Remove(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, m.Exists(1))
	require.Equal(t, fh-2, m.Len())

	// Zero insertion is rejected.
	fs1 := m.DirtySlots()
	require.ErrorIs(t, m.Insert(0, 13.0), ErrZeroKey)
	require.Equal(t, fs1, m.DirtySlots())
	require.False(t, m.Exists(0))

	// Zero removal is a no-op.
	ok, err = m.Remove(0)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, fs1, m.DirtySlots())
	require.False(t, m.Exists(0))
}

func TestSlotReuse(t *testing.T) {
	m, err := New[float64](0)
	require.NoError(t, err)

	require.NoError(t, m.Insert(5, 1.0))
	require.Equal(t, 2, m.DirtySlots())
	ok, err := m.Remove(5)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, m.DirtySlots())

	require.NoError(t, m.Insert(6, 2.0))
	require.Equal(t, 2, m.DirtySlots())
	v, ok := m.Lookup(6)
	require.True(t, ok)
	require.Equal(t, 2.0, v)
	require.False(t, m.Exists(5))

	// Removing an absent key does not touch the free list.
	ok, err = m.Remove(5)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 0, m.free.Len())
}

func TestLookupRef(t *testing.T) {
	type point struct{ x, y int32 }
	m, err := New[point](0)
	require.NoError(t, err)

	require.Nil(t, m.LookupRef(1))
	require.NoError(t, m.Insert(1, point{1, 2}))
	p := m.LookupRef(1)
	require.NotNil(t, p)
	p.y = 5
	v, ok := m.Lookup(1)
	require.True(t, ok)
	require.Equal(t, point{1, 5}, v)

	_, ok = m.Lookup(2)
	require.False(t, ok)
}

func TestRandom(t *testing.T) {
	test := func(t *testing.T, m *Map[int]) {
		e := make(map[uint64]int)
		maxLive := 0
		for i := 0; i < 10000; i++ {
			k := uint64(1 + rand.Intn(500))
			switch r := rand.Float64(); {
			case r < 0.5:
				v := rand.Int()
				require.NoError(t, m.Insert(k, v))
				e[k] = v
			case r < 0.8:
				_, want := e[k]
				ok, err := m.Remove(k)
				require.NoError(t, err)
				require.Equal(t, want, ok)
				delete(e, k)
			default:
				want, wantOK := e[k]
				v, ok := m.Lookup(k)
				require.Equal(t, wantOK, ok)
				require.Equal(t, want, v)
				require.Equal(t, wantOK, m.Exists(k))
			}
			require.Equal(t, len(e), m.Len())
			maxLive = max(maxLive, len(e))
			// Freed slots are reused before the buffer grows.
			require.Equal(t, maxLive+1, m.DirtySlots())
		}
		require.Equal(t, e, toBuiltinMap(m))
	}

	t.Run("heap", func(t *testing.T) {
		m, err := New[int](0)
		require.NoError(t, err)
		test(t, m)
	})

	t.Run("arena", func(t *testing.T) {
		m, err := New[int](0, WithAllocator(alloc.NewArena(0, 0)), WithSeed(9))
		require.NoError(t, err)
		test(t, m)
	})
}

func TestPointerValues(t *testing.T) {
	m, err := New[string](0)
	require.NoError(t, err)
	for i := 1; i <= 100; i++ {
		require.NoError(t, m.Insert(uint64(i), strconv.Itoa(i)))
	}
	for i := 1; i <= 100; i++ {
		v, ok := m.Lookup(uint64(i))
		require.True(t, ok)
		require.Equal(t, strconv.Itoa(i), v)
	}

	_, err = New[string](0, WithAllocator(alloc.NewArena(0, 0)))
	require.ErrorIs(t, err, alloc.ErrPointerElem)
}

func TestOutOfMemory(t *testing.T) {
	fail := false
	a := alloc.FromFunc(func(mode alloc.Mode, oldSize, newSize int, old []byte, _ any) []byte {
		if fail {
			return nil
		}
		return alloc.Heap.Operate(mode, oldSize, newSize, old)
	}, nil)

	m, err := New[uint32](0, WithAllocator(a))
	require.NoError(t, err)
	// The value buffer holds 16 with the reserved slot; fill it.
	for k := uint64(1); k <= 15; k++ {
		require.NoError(t, m.Insert(k, uint32(k)))
	}
	require.Equal(t, 16, m.DirtySlots())
	require.Equal(t, 16, m.TotalSlots())

	fail = true
	require.ErrorIs(t, m.Insert(16, 16), alloc.ErrOutOfMemory)
	require.Equal(t, 15, m.Len())
	require.Equal(t, 16, m.DirtySlots())
	require.False(t, m.Exists(16))

	// Updates of existing keys never allocate.
	require.NoError(t, m.Insert(3, 33))
	v, _ := m.Lookup(3)
	require.EqualValues(t, 33, v)

	fail = false
	require.NoError(t, m.Insert(16, 16))
	require.Equal(t, 16, m.Len())

	_, err = New[uint32](0, WithAllocator(alloc.FromFunc(
		func(alloc.Mode, int, int, []byte, any) []byte { return nil }, nil)))
	require.ErrorIs(t, err, alloc.ErrOutOfMemory)
}

func TestKeyString(t *testing.T) {
	require.Equal(t, KeyString("hello"), KeyBytes([]byte("hello")))
	require.NotEqual(t, KeyString("hello"), KeyString("world"))
	require.NotZero(t, KeyString(""))
	require.EqualValues(t, 1, nonZero(0))
	require.EqualValues(t, 7, nonZero(7))

	m, err := New[int](0)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, m.Insert(KeyString(strconv.Itoa(i)), i))
	}
	for i := 0; i < 100; i++ {
		v, ok := m.Lookup(KeyString(strconv.Itoa(i)))
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}

func TestClose(t *testing.T) {
	a := alloc.NewArena(0, 0)
	m, err := New[uint64](0, WithAllocator(a))
	require.NoError(t, err)
	require.NoError(t, m.Insert(1, 1))
	m.Close()
	m.Close()
	require.Equal(t, 0, m.DirtySlots())
}
