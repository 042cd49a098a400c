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

package alloc

import (
	"reflect"
	"unsafe"

	"github.com/pkg/errors"
)

var (
	// ErrOutOfMemory indicates the allocator refused to provide a block.
	ErrOutOfMemory = errors.New("alloc: out of memory")

	// ErrPointerElem indicates an element type containing pointers was
	// requested from an allocator other than Heap. Such memory is invisible
	// to the GC.
	ErrPointerElem = errors.New("alloc: element type contains pointers")

	// ErrMisaligned indicates the allocator returned a block that is not
	// aligned for the element type.
	ErrMisaligned = errors.New("alloc: misaligned block")
)

// MakeSlice returns a zeroed slice of n elements of type T whose memory is
// obtained from a. A nil allocator is treated as Heap.
func MakeSlice[T any](a Allocator, n int) ([]T, error) {
	a = OrHeap(a)
	if n <= 0 {
		return nil, nil
	}
	var t T
	elemSize := int(unsafe.Sizeof(t))
	if isHeap(a) || elemSize == 0 {
		return make([]T, n), nil
	}
	if err := checkElem[T](); err != nil {
		return nil, err
	}

	size := elemSize * n
	b := a.Operate(Allocate, 0, size, nil)
	if len(b) < size {
		return nil, errors.Wrapf(ErrOutOfMemory, "allocate %d bytes", size)
	}
	s, err := bytesAs[T](b, n)
	if err != nil {
		a.Operate(Deallocate, len(b), 0, b)
		return nil, err
	}
	clear(s)
	return s, nil
}

// ResizeSlice returns a slice of n elements whose first min(len(s), n)
// elements equal those of s and whose remaining elements are zero. The
// memory of s is released to (or reallocated by) a, so s must have been
// obtained from a and must not be used afterwards. On error s is left
// untouched and remains owned by the caller.
func ResizeSlice[T any](a Allocator, s []T, n int) ([]T, error) {
	a = OrHeap(a)
	if len(s) == 0 {
		return MakeSlice[T](a, n)
	}
	if n <= 0 {
		FreeSlice(a, s)
		return nil, nil
	}
	var t T
	elemSize := int(unsafe.Sizeof(t))
	if isHeap(a) || elemSize == 0 {
		r := make([]T, n)
		copy(r, s)
		return r, nil
	}
	if err := checkElem[T](); err != nil {
		return nil, err
	}

	oldSize := elemSize * len(s)
	size := elemSize * n
	b := a.Operate(Reallocate, oldSize, size, sliceBytes(s))
	if len(b) < size {
		return nil, errors.Wrapf(ErrOutOfMemory, "reallocate %d -> %d bytes", oldSize, size)
	}
	r, err := bytesAs[T](b, n)
	if err != nil {
		return nil, err
	}
	if n > len(s) {
		clear(r[len(s):])
	}
	return r, nil
}

// FreeSlice releases the memory of s, which must have been obtained from a.
func FreeSlice[T any](a Allocator, s []T) {
	a = OrHeap(a)
	if len(s) == 0 || isHeap(a) {
		return
	}
	var t T
	elemSize := int(unsafe.Sizeof(t))
	if elemSize == 0 {
		return
	}
	a.Operate(Deallocate, elemSize*len(s), 0, sliceBytes(s))
}

// CheckElem reports whether elements of type T may be stored in memory
// obtained from a.
func CheckElem[T any](a Allocator) error {
	if isHeap(OrHeap(a)) {
		return nil
	}
	return checkElem[T]()
}

func checkElem[T any]() error {
	typ := reflect.TypeFor[T]()
	if hasPointers(typ) {
		return errors.Wrapf(ErrPointerElem, "%s", typ)
	}
	return nil
}

func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return false
	case reflect.Array:
		return t.Len() > 0 && hasPointers(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
		return false
	default:
		// Pointer, UnsafePointer, String, Slice, Map, Chan, Func, Interface.
		return true
	}
}

func bytesAs[T any](b []byte, n int) ([]T, error) {
	var t T
	p := unsafe.Pointer(unsafe.SliceData(b))
	if uintptr(p)%unsafe.Alignof(t) != 0 {
		return nil, errors.Wrapf(ErrMisaligned, "%p for %T", p, t)
	}
	return unsafe.Slice((*T)(p), n), nil
}

func sliceBytes[T any](s []T) []byte {
	var t T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), int(unsafe.Sizeof(t))*len(s))
}
