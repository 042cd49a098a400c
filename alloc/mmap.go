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

//go:build linux || darwin

package alloc

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// MmapArena is a bump allocator over a single anonymous memory mapping of
// fixed size. The memory lives outside the Go heap, so it is never scanned or
// moved by the GC. Allocations past the end of the mapping are refused.
// DeallocateAll rewinds the bump pointer and hands the pages back to the
// kernel. Close unmaps the region; every container bound to the arena must
// be closed (or abandoned) first.
//
// An MmapArena is NOT goroutine-safe.
type MmapArena struct {
	region []byte
	off    int
	last   int
}

// NewMmapArena maps size bytes (rounded up to the page size) of anonymous
// private memory.
func NewMmapArena(size int) (*MmapArena, error) {
	page := unix.Getpagesize()
	size = (size + page - 1) &^ (page - 1)
	if size <= 0 {
		size = page
	}
	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(err, "alloc: mmap %d bytes", size)
	}
	return &MmapArena{region: region, last: -1}, nil
}

// Operate implements Allocator.
func (a *MmapArena) Operate(mode Mode, oldSize, newSize int, old []byte) []byte {
	switch mode {
	case Allocate:
		return a.alloc(newSize)
	case Reallocate:
		if a.last >= 0 && len(old) > 0 && &a.region[a.last] == &old[0] &&
			a.last+alignUp(newSize) <= len(a.region) {
			a.off = a.last + alignUp(newSize)
			if newSize > oldSize {
				clear(a.region[a.last+oldSize : a.last+newSize])
			}
			return a.region[a.last : a.last+newSize : a.off]
		}
		b := a.alloc(newSize)
		if b == nil {
			return nil
		}
		copy(b, old[:min(oldSize, newSize, len(old))])
		return b
	case DeallocateAll:
		a.reset()
	}
	return nil
}

// Used returns the number of bytes consumed since the last reset, including
// alignment padding.
func (a *MmapArena) Used() int {
	return a.off
}

// Size returns the size of the mapping.
func (a *MmapArena) Size() int {
	return len(a.region)
}

// Close unmaps the region. It is idempotent.
func (a *MmapArena) Close() error {
	if a.region == nil {
		return nil
	}
	err := unix.Munmap(a.region)
	a.region = nil
	a.off = 0
	a.last = -1
	return errors.Wrap(err, "alloc: munmap")
}

func (a *MmapArena) alloc(size int) []byte {
	n := alignUp(size)
	if size < 0 || a.region == nil || a.off+n > len(a.region) {
		return nil
	}
	b := a.region[a.off : a.off+size : a.off+n]
	a.last = a.off
	a.off += n
	return b
}

func (a *MmapArena) reset() {
	if a.off > 0 {
		// The pages are repopulated on demand. Zeroing is not relied upon
		// since MakeSlice clears every block it hands out.
		_ = unix.Madvise(a.region[:a.off], unix.MADV_DONTNEED)
	}
	a.off = 0
	a.last = -1
}
