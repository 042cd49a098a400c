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

const (
	// maxAlign is the alignment of every block handed out by the arenas.
	maxAlign = 16

	defaultChunkSize = 64 << 10
)

func alignUp(n int) int {
	return (n + maxAlign - 1) &^ (maxAlign - 1)
}

// Arena is a chunked bump allocator. Allocate carves blocks sequentially out
// of large chunks, Deallocate is a no-op, and DeallocateAll makes every chunk
// available again without returning it to the GC. Reallocate of the most
// recent block is performed in place when the chunk has room.
//
// An Arena with a non-zero limit refuses any allocation that would take the
// total number of bytes handed out since the last DeallocateAll past the
// limit, which turns any container bound to it into a fixed-size container.
//
// An Arena is NOT goroutine-safe.
type Arena struct {
	chunkSize int
	limit     int
	chunks    [][]byte
	// cur indexes chunks; off is the bump pointer within chunks[cur].
	cur int
	off int
	// last is the offset of the most recent block in chunks[cur], or -1.
	last int
	used int
}

// NewArena constructs an Arena that allocates chunks of at least chunkSize
// bytes (64KB if chunkSize <= 0). limit bounds the bytes handed out between
// resets; 0 means unbounded.
func NewArena(chunkSize, limit int) *Arena {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Arena{
		chunkSize: alignUp(chunkSize),
		limit:     limit,
		last:      -1,
	}
}

// Operate implements Allocator.
func (a *Arena) Operate(mode Mode, oldSize, newSize int, old []byte) []byte {
	switch mode {
	case Allocate:
		return a.alloc(newSize)
	case Reallocate:
		return a.realloc(oldSize, newSize, old)
	case DeallocateAll:
		a.Reset()
	}
	return nil
}

// Used returns the number of bytes handed out since the last reset.
func (a *Arena) Used() int {
	return a.used
}

// Reset makes the memory of every chunk available for reuse. Blocks handed
// out before the reset must no longer be used.
func (a *Arena) Reset() {
	a.cur = 0
	a.off = 0
	a.last = -1
	a.used = 0
}

func (a *Arena) alloc(size int) []byte {
	if size < 0 || (a.limit > 0 && a.used+size > a.limit) {
		return nil
	}
	n := alignUp(size)
	for {
		if a.cur < len(a.chunks) {
			if c := a.chunks[a.cur]; len(c)-a.off >= n {
				b := c[a.off : a.off+size : a.off+n]
				a.last = a.off
				a.off += n
				a.used += size
				return b
			}
			if a.cur+1 < len(a.chunks) {
				a.cur++
				a.off = 0
				a.last = -1
				continue
			}
		}
		a.chunks = append(a.chunks, make([]byte, max(a.chunkSize, n)))
		a.cur = len(a.chunks) - 1
		a.off = 0
		a.last = -1
	}
}

func (a *Arena) realloc(oldSize, newSize int, old []byte) []byte {
	if a.limit > 0 && a.used-oldSize+newSize > a.limit {
		return nil
	}
	if a.last >= 0 && len(old) > 0 && a.cur < len(a.chunks) {
		c := a.chunks[a.cur]
		if &c[a.last] == &old[0] && len(c)-a.last >= alignUp(newSize) {
			// Extend the most recent block in place.
			if newSize > oldSize {
				clear(c[a.last+oldSize : a.last+newSize])
			}
			a.off = a.last + alignUp(newSize)
			a.used += newSize - oldSize
			return c[a.last : a.last+newSize : a.off]
		}
	}
	b := a.alloc(newSize)
	if b == nil {
		return nil
	}
	copy(b, old[:min(oldSize, newSize, len(old))])
	return b
}
