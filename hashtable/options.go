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

package hashtable

import "github.com/cockroachdb/container/alloc"

// option provide an interface to do work on Table while it is being created.
type option interface {
	apply(t *Table)
}

type allocatorOption struct {
	allocator alloc.Allocator
}

func (op allocatorOption) apply(t *Table) {
	t.allocator = alloc.OrHeap(op.allocator)
}

// WithAllocator is an option to specify the Allocator used for the key and
// value arrays of a Table. If the allocator manually manages memory then
// Table.Close must be called to release the arrays.
func WithAllocator(a alloc.Allocator) option {
	return allocatorOption{a}
}

type seedOption struct {
	seed uint64
}

func (op seedOption) apply(t *Table) {
	t.univ.r = op.seed
}

// WithSeed is an option to specify the initial generator state the hash
// constants are drawn from. Two tables with the same seed and the same
// sequence of operations lay out their slots identically.
func WithSeed(seed uint64) option {
	return seedOption{seed}
}

type randomOption struct {
	random func(uint64) uint64
}

func (op randomOption) apply(t *Table) {
	if op.random != nil {
		t.random = op.random
	}
}

// WithRandom is an option to replace the generator the hash constants are
// drawn from. The function receives the previous value it returned (or the
// seed) and returns the next one. The default is Random.
func WithRandom(random func(prev uint64) uint64) option {
	return randomOption{random}
}
