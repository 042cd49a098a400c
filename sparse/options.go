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
	"math"

	"github.com/cockroachdb/container/alloc"
	"lukechampine.com/frand"
)

type config struct {
	allocator alloc.Allocator
	seed      uint64
}

func defaultConfig() config {
	return config{
		allocator: alloc.Heap,
		seed:      frand.Uint64n(math.MaxUint64) | 1,
	}
}

// option provide an interface to do work on Map while it is being created.
type option interface {
	apply(c *config)
}

type allocatorOption struct {
	allocator alloc.Allocator
}

func (op allocatorOption) apply(c *config) {
	c.allocator = alloc.OrHeap(op.allocator)
}

// WithAllocator is an option to specify the Allocator shared by the value
// buffer, the free list and the index table of a Map. Allocators other than
// alloc.Heap require a pointer-free value type.
func WithAllocator(a alloc.Allocator) option {
	return allocatorOption{a}
}

type seedOption struct {
	seed uint64
}

func (op seedOption) apply(c *config) {
	c.seed = op.seed
}

// WithSeed is an option to fix the seed of the index table's hash constants.
func WithSeed(seed uint64) option {
	return seedOption{seed}
}
