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

// Package buffer implements a growable contiguous array whose storage is
// obtained from a pluggable alloc.Allocator.
//
// Appending is amortized O(1): when an append would exceed the capacity the
// storage is reallocated to max(2*capacity, 16) elements. Removal is O(1) and
// does not preserve order. Growth relocates the storage, so ordinals are the
// only handles that remain valid across appends; pointers obtained from Ref or
// slices obtained from Slice are invalidated by any operation that grows the
// buffer.
package buffer

import (
	"fmt"

	"github.com/cockroachdb/container/alloc"
	"github.com/cockroachdb/container/internal/invariants"
	"github.com/pkg/errors"
)

const (
	debug = false

	// minCapacity is both the default capacity of a new Buffer and the
	// smallest capacity growth ever produces.
	minCapacity = 16
)

// Buffer is a growable array of T. The zero value is not usable; construct a
// Buffer with New or Init.
//
// A Buffer is NOT goroutine-safe.
type Buffer[T any] struct {
	// The allocator that owns data. Every grow and the final release go
	// through it.
	allocator alloc.Allocator
	// data is capacity in length. Elements [0:len) are live, the rest are
	// zero.
	data []T
	len  int
	// userdata is an opaque slot for the owner of the buffer.
	userdata any
}

// New constructs a Buffer with room for at least minCap elements (16 if
// minCap is 0) bound to allocator a. A nil allocator means alloc.Heap.
func New[T any](minCap int, a alloc.Allocator) (*Buffer[T], error) {
	b := &Buffer[T]{}
	if err := b.Init(minCap, a); err != nil {
		return nil, err
	}
	return b, nil
}

// Init initializes b in place, discarding any previous contents without
// releasing them. See New.
func (b *Buffer[T]) Init(minCap int, a alloc.Allocator) error {
	capacity := minCapacity
	if minCap > 0 {
		capacity = minCap
	}
	a = alloc.OrHeap(a)
	data, err := alloc.MakeSlice[T](a, capacity)
	if err != nil {
		return errors.Wrapf(err, "buffer: create with capacity %d", capacity)
	}
	*b = Buffer[T]{
		allocator: a,
		data:      data,
	}
	b.checkInvariants()
	return nil
}

// Close releases the storage back to the allocator. It is invalid to use a
// Buffer after it has been closed, though Close itself is idempotent.
func (b *Buffer[T]) Close() {
	if b.data != nil {
		alloc.FreeSlice(b.allocator, b.data)
	}
	b.data = nil
	b.len = 0
}

// Append adds v to the end of the buffer, growing the storage if necessary,
// and returns the ordinal of the new element. On error the buffer is
// unchanged.
func (b *Buffer[T]) Append(v T) (int, error) {
	if b.len == len(b.data) {
		if err := b.grow(max(2*len(b.data), minCapacity)); err != nil {
			return 0, err
		}
	}
	i := b.len
	b.data[i] = v
	b.len++
	b.checkInvariants()
	return i, nil
}

// AppendSlice adds the elements of vs to the end of the buffer and returns
// the ordinal of the first of them. On error the buffer is unchanged.
func (b *Buffer[T]) AppendSlice(vs []T) (int, error) {
	if n := b.len + len(vs); n > len(b.data) {
		if err := b.grow(max(2*len(b.data), n, minCapacity)); err != nil {
			return 0, err
		}
	}
	i := b.len
	copy(b.data[i:], vs)
	b.len += len(vs)
	b.checkInvariants()
	return i, nil
}

// RemoveUnordered removes the element at ordinal i by moving the last element
// into its place. It is O(1) and does not preserve order.
func (b *Buffer[T]) RemoveUnordered(i int) {
	if i < 0 || i >= b.len {
		panic(fmt.Sprintf("buffer: index %d out of range [0:%d]", i, b.len))
	}
	last := b.len - 1
	b.data[i] = b.data[last]
	var zero T
	b.data[last] = zero
	b.len = last
	b.checkInvariants()
}

// Truncate shrinks the length to n, zeroing the removed elements. The
// capacity is unchanged. It is a noop if n >= Len.
func (b *Buffer[T]) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n >= b.len {
		return
	}
	clear(b.data[n:b.len])
	b.len = n
	b.checkInvariants()
}

// Clear zeroes every element and resets the length to 0 without releasing
// capacity.
func (b *Buffer[T]) Clear() {
	clear(b.data[:b.len])
	b.len = 0
	b.checkInvariants()
}

// ResizeAtLeast ensures the capacity is at least n elements. It never
// shrinks the buffer and does not change its length.
func (b *Buffer[T]) ResizeAtLeast(n int) error {
	if n <= len(b.data) {
		return nil
	}
	return b.grow(max(n, minCapacity))
}

// Len returns the number of elements in the buffer.
func (b *Buffer[T]) Len() int {
	return b.len
}

// Cap returns the number of elements the buffer can hold before growing.
func (b *Buffer[T]) Cap() int {
	return len(b.data)
}

// At returns the element at ordinal i.
func (b *Buffer[T]) At(i int) T {
	return b.data[:b.len][i]
}

// Ref returns a pointer to the element at ordinal i. The pointer is valid
// until the buffer next grows.
func (b *Buffer[T]) Ref(i int) *T {
	return &b.data[:b.len][i]
}

// Set overwrites the element at ordinal i.
func (b *Buffer[T]) Set(i int, v T) {
	b.data[:b.len][i] = v
}

// Last returns the last element, or ok=false if the buffer is empty.
func (b *Buffer[T]) Last() (v T, ok bool) {
	if b.len == 0 {
		return v, false
	}
	return b.data[b.len-1], true
}

// Slice returns the live elements. The slice aliases the buffer's storage
// and is valid until the buffer next grows.
func (b *Buffer[T]) Slice() []T {
	return b.data[:b.len:b.len]
}

// All calls yield sequentially for each ordinal and element in the buffer.
// If yield returns false, iteration stops.
func (b *Buffer[T]) All(yield func(i int, v T) bool) {
	for i := 0; i < b.len; i++ {
		if !yield(i, b.data[i]) {
			return
		}
	}
}

// Allocator returns the allocator the buffer is bound to.
func (b *Buffer[T]) Allocator() alloc.Allocator {
	return b.allocator
}

// Userdata returns the value stored with SetUserdata.
func (b *Buffer[T]) Userdata() any {
	return b.userdata
}

// SetUserdata stores an opaque value alongside the buffer. It is carried
// across growth and never interpreted.
func (b *Buffer[T]) SetUserdata(v any) {
	b.userdata = v
}

// grow reallocates the storage to hold exactly capacity elements.
func (b *Buffer[T]) grow(capacity int) error {
	data, err := alloc.ResizeSlice(b.allocator, b.data, capacity)
	if err != nil {
		return errors.Wrapf(err, "buffer: grow %d -> %d", len(b.data), capacity)
	}
	if debug {
		fmt.Printf("grow: capacity=%d->%d len=%d\n", len(b.data), capacity, b.len)
	}
	b.data = data
	b.checkInvariants()
	return nil
}

func (b *Buffer[T]) checkInvariants() {
	if invariants.Enabled {
		if b.len < 0 || b.len > len(b.data) {
			panic(fmt.Sprintf("invariant failed: len=%d cap=%d", b.len, len(b.data)))
		}
		if b.allocator == nil {
			panic("invariant failed: nil allocator")
		}
	}
}
