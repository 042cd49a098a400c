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

// Package alloc defines the memory allocation strategy shared by every
// container in this module. A container is bound to one Allocator when it is
// created and routes every grow, shrink and release of its storage through
// that same Allocator for its whole lifetime.
//
// An Allocator is a single operation parameterized by a Mode:
//
//	Allocate       return a new block of newSize bytes
//	Reallocate     return a block of newSize bytes holding the first
//	               min(oldSize, newSize) bytes of old
//	Deallocate     release old
//	DeallocateAll  release everything the allocator handed out, for
//	               allocators that support bulk reset
//
// Allocation failure is signaled by returning a nil (or short) block. The
// containers convert that into ErrOutOfMemory at their API boundary rather
// than aborting.
//
// The default allocator, Heap, uses Go's builtin make() and lets the GC
// reclaim memory. Memory from any other allocator is raw bytes that the GC
// does not scan, so such allocators can only back element types that contain
// no pointers. MakeSlice enforces this.
package alloc

import "fmt"

// Mode selects the operation performed by Allocator.Operate.
type Mode uint8

const (
	// Allocate requests a new block of newSize bytes. oldSize and old are
	// ignored.
	Allocate Mode = iota
	// Reallocate requests a block of newSize bytes whose first
	// min(oldSize, newSize) bytes equal those of old. The returned block may
	// or may not alias old.
	Reallocate
	// Deallocate releases old, which holds oldSize bytes.
	Deallocate
	// DeallocateAll releases every block handed out by the allocator. It is
	// a no-op for allocators that do not support bulk reset.
	DeallocateAll
)

func (m Mode) String() string {
	switch m {
	case Allocate:
		return "allocate"
	case Reallocate:
		return "reallocate"
	case Deallocate:
		return "deallocate"
	case DeallocateAll:
		return "deallocate-all"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// Allocator specifies the interface for allocating and releasing the memory
// used by a container. The receiver carries whatever context the allocator
// needs.
//
// Operate returns the new block for Allocate and Reallocate, and nil for
// Deallocate and DeallocateAll. Returning nil, or a block shorter than
// newSize, from Allocate or Reallocate signals a refusal to allocate; the
// previous block (if any) must then be left untouched.
type Allocator interface {
	Operate(mode Mode, oldSize, newSize int, old []byte) []byte
}

// Func is an allocator operation in function form. userdata is the opaque
// context supplied to FromFunc and is passed back on every call.
type Func func(mode Mode, oldSize, newSize int, old []byte, userdata any) []byte

type funcAllocator struct {
	fn       Func
	userdata any
}

func (a funcAllocator) Operate(mode Mode, oldSize, newSize int, old []byte) []byte {
	return a.fn(mode, oldSize, newSize, old, a.userdata)
}

// FromFunc returns an Allocator that invokes fn with userdata for every
// operation.
func FromFunc(fn Func, userdata any) Allocator {
	return funcAllocator{fn: fn, userdata: userdata}
}

type heapAllocator struct{}

func (heapAllocator) Operate(mode Mode, oldSize, newSize int, old []byte) []byte {
	switch mode {
	case Allocate:
		return make([]byte, newSize)
	case Reallocate:
		b := make([]byte, newSize)
		copy(b, old[:min(oldSize, newSize, len(old))])
		return b
	}
	// Deallocation is left to the GC.
	return nil
}

// Heap is the default allocator. It is backed by Go's builtin make() and
// never refuses an allocation. Containers bound to Heap may hold any element
// type.
var Heap Allocator = heapAllocator{}

// OrHeap returns a, or Heap if a is nil.
func OrHeap(a Allocator) Allocator {
	if a == nil {
		return Heap
	}
	return a
}

func isHeap(a Allocator) bool {
	_, ok := a.(heapAllocator)
	return ok
}
