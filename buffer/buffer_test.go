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

package buffer

import (
	"math/rand"
	"testing"

	"github.com/cockroachdb/container/alloc"
	"github.com/stretchr/testify/require"
)

type countingAllocator struct {
	alloc, realloc, free int
	outstanding          int
}

func (a *countingAllocator) Operate(mode alloc.Mode, oldSize, newSize int, old []byte) []byte {
	switch mode {
	case alloc.Allocate:
		a.alloc++
		a.outstanding += newSize
		return make([]byte, newSize)
	case alloc.Reallocate:
		a.realloc++
		a.outstanding += newSize - oldSize
		b := make([]byte, newSize)
		copy(b, old)
		return b
	case alloc.Deallocate:
		a.free++
		a.outstanding -= oldSize
	}
	return nil
}

func TestNew(t *testing.T) {
	testCases := []struct {
		minCap   int
		expected int
	}{
		{0, 16},
		{1, 1},
		{16, 16},
		{100, 100},
	}
	for _, c := range testCases {
		t.Run("", func(t *testing.T) {
			b, err := New[int](c.minCap, nil)
			require.NoError(t, err)
			require.Equal(t, c.expected, b.Cap())
			require.Equal(t, 0, b.Len())
			require.Equal(t, alloc.Heap, b.Allocator())
		})
	}
}

func TestGrowthPreservesContent(t *testing.T) {
	b, err := New[uint64](16, nil)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		ord, err := b.Append(uint64(i + 1))
		require.NoError(t, err)
		require.Equal(t, i, ord)
		require.LessOrEqual(t, b.Len(), b.Cap())
	}
	require.Equal(t, 1000, b.Len())
	for i := 0; i < 1000; i++ {
		require.EqualValues(t, i+1, b.At(i))
	}
	// 16 -> 32 -> 64 -> 128 -> 256 -> 512 -> 1024
	require.Equal(t, 1024, b.Cap())
}

func TestGrowthMinimum(t *testing.T) {
	b, err := New[int](1, nil)
	require.NoError(t, err)
	_, err = b.Append(1)
	require.NoError(t, err)
	require.Equal(t, 1, b.Cap())
	_, err = b.Append(2)
	require.NoError(t, err)
	require.Equal(t, 16, b.Cap())
	require.Equal(t, []int{1, 2}, b.Slice())
}

func TestAppendSlice(t *testing.T) {
	b, err := New[byte](0, nil)
	require.NoError(t, err)

	ord, err := b.AppendSlice([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 0, ord)
	require.Equal(t, 16, b.Cap())

	// Growth covers a slice longer than double the capacity.
	long := make([]byte, 100)
	for i := range long {
		long[i] = byte(i)
	}
	ord, err = b.AppendSlice(long)
	require.NoError(t, err)
	require.Equal(t, 5, ord)
	require.Equal(t, 105, b.Len())
	require.Equal(t, 105, b.Cap())
	require.Equal(t, "hello", string(b.Slice()[:5]))
	require.Equal(t, long, b.Slice()[5:])

	ord, err = b.AppendSlice(nil)
	require.NoError(t, err)
	require.Equal(t, 105, ord)
	require.Equal(t, 105, b.Len())
}

func TestRemoveUnordered(t *testing.T) {
	b, err := New[string](0, nil)
	require.NoError(t, err)
	for _, s := range []string{"a", "b", "c", "d"} {
		_, err := b.Append(s)
		require.NoError(t, err)
	}

	b.RemoveUnordered(1)
	require.Equal(t, []string{"a", "d", "c"}, b.Slice())
	b.RemoveUnordered(2)
	require.Equal(t, []string{"a", "d"}, b.Slice())
	b.RemoveUnordered(0)
	require.Equal(t, []string{"d"}, b.Slice())

	// The vacated slots were zeroed.
	require.Equal(t, "", b.data[1])
	require.Equal(t, "", b.data[2])
	require.Equal(t, "", b.data[3])

	require.Panics(t, func() { b.RemoveUnordered(1) })
	require.Panics(t, func() { b.RemoveUnordered(-1) })
}

func TestClearAndTruncate(t *testing.T) {
	b, err := New[int](0, nil)
	require.NoError(t, err)
	for i := 1; i <= 40; i++ {
		_, err := b.Append(i)
		require.NoError(t, err)
	}
	capacity := b.Cap()

	b.Truncate(50)
	require.Equal(t, 40, b.Len())
	b.Truncate(10)
	require.Equal(t, 10, b.Len())
	require.Zero(t, b.data[10])
	require.Equal(t, 10, b.At(9))

	b.Clear()
	require.Equal(t, 0, b.Len())
	require.Equal(t, capacity, b.Cap())
	for _, v := range b.data {
		require.Zero(t, v)
	}
	_, ok := b.Last()
	require.False(t, ok)

	_, err = b.Append(7)
	require.NoError(t, err)
	v, ok := b.Last()
	require.True(t, ok)
	require.Equal(t, 7, v)
}

func TestResizeAtLeast(t *testing.T) {
	b, err := New[int](0, nil)
	require.NoError(t, err)
	_, err = b.Append(3)
	require.NoError(t, err)

	// Never shrinks.
	require.NoError(t, b.ResizeAtLeast(4))
	require.Equal(t, 16, b.Cap())

	require.NoError(t, b.ResizeAtLeast(100))
	require.Equal(t, 100, b.Cap())
	require.Equal(t, 1, b.Len())
	require.Equal(t, 3, b.At(0))
}

func TestRefAndSet(t *testing.T) {
	b, err := New[int](0, nil)
	require.NoError(t, err)
	_, err = b.Append(1)
	require.NoError(t, err)
	*b.Ref(0) = 5
	require.Equal(t, 5, b.At(0))
	b.Set(0, 6)
	require.Equal(t, 6, b.At(0))

	// Access beyond the length is out of range even within capacity.
	require.Panics(t, func() { b.At(1) })
	require.Panics(t, func() { b.Set(1, 0) })
}

func TestUserdataSurvivesGrowth(t *testing.T) {
	b, err := New[int](0, nil)
	require.NoError(t, err)
	type owner struct{ name string }
	o := &owner{"map"}
	b.SetUserdata(o)
	for i := 0; i < 100; i++ {
		_, err := b.Append(i)
		require.NoError(t, err)
	}
	require.Same(t, o, b.Userdata())
}

func TestAll(t *testing.T) {
	b, err := New[int](0, nil)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := b.Append(i * i)
		require.NoError(t, err)
	}
	var got []int
	for i, v := range b.All {
		require.Equal(t, i*i, v)
		got = append(got, v)
		if i == 4 {
			break
		}
	}
	require.Equal(t, []int{0, 1, 4, 9, 16}, got)
}

func TestAllocator(t *testing.T) {
	a := &countingAllocator{}
	b, err := New[int64](0, a)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		_, err := b.Append(int64(i))
		require.NoError(t, err)
	}

	// 16 -> 32 -> 64 -> 128
	require.Equal(t, 1, a.alloc)
	require.Equal(t, 3, a.realloc)
	require.Equal(t, 128*8, a.outstanding)

	b.Close()
	require.Equal(t, 1, a.free)
	require.Equal(t, 0, a.outstanding)
	b.Close()
	require.Equal(t, 1, a.free)
}

func TestOutOfMemory(t *testing.T) {
	a := alloc.NewArena(256, 200)
	b, err := New[uint64](16, a)
	require.NoError(t, err)
	for i := 0; i < 16; i++ {
		_, err := b.Append(uint64(i))
		require.NoError(t, err)
	}

	// Growing to 32 elements needs 256 bytes, past the 200 byte limit.
	_, err = b.Append(16)
	require.ErrorIs(t, err, alloc.ErrOutOfMemory)
	require.Equal(t, 16, b.Len())
	require.Equal(t, 16, b.Cap())
	for i := 0; i < 16; i++ {
		require.EqualValues(t, i, b.At(i))
	}

	_, err = New[uint64](64, a)
	require.ErrorIs(t, err, alloc.ErrOutOfMemory)

	_, err = New[*int](0, a)
	require.ErrorIs(t, err, alloc.ErrPointerElem)
}

func TestArenaBacked(t *testing.T) {
	a := alloc.NewArena(0, 0)
	b, err := New[uint32](0, a)
	require.NoError(t, err)
	e := make([]uint32, 0)
	for i := 0; i < 5000; i++ {
		switch r := rand.Intn(10); {
		case r < 7 || b.Len() == 0:
			v := rand.Uint32()
			_, err := b.Append(v)
			require.NoError(t, err)
			e = append(e, v)
		default:
			j := rand.Intn(b.Len())
			b.RemoveUnordered(j)
			e[j] = e[len(e)-1]
			e = e[:len(e)-1]
		}
		require.Equal(t, len(e), b.Len())
	}
	require.Equal(t, e, b.Slice())
}
