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

// Package intern implements interning tables that store one canonical copy
// of each distinct value and hand out a dense ID for it. Interning a value
// equal to one seen before returns the ID assigned the first time, so IDs can
// be compared in place of the values themselves.
//
// Each table keeps its canonical values in insertion order and indexes them
// through 256 buckets. A value's primary 8-bit Pearson hash selects a bucket,
// and the bucket holds, for each value it indexes, a secondary 8-bit hash and
// the value's ID. A lookup scans the bucket comparing secondary hashes and
// only performs a full comparison when they match. Bucket storage is created
// the first time a bucket is used.
//
// Tables only grow; there is no removal.
package intern

import (
	"fmt"

	"github.com/cockroachdb/container/alloc"
	"github.com/cockroachdb/container/buffer"
	"github.com/cockroachdb/container/internal/invariants"
	"github.com/pkg/errors"
)

const numBuckets = 256

// ID identifies an interned value. IDs are assigned densely from 0 in
// insertion order.
type ID int

type bucket struct {
	hashes *buffer.Buffer[uint8]
	ids    *buffer.Buffer[uint64]
}

// index is the bucket structure shared by Strings and Integers.
type index struct {
	allocator alloc.Allocator
	buckets   [numBuckets]bucket
}

func (x *index) init(a alloc.Allocator) {
	*x = index{allocator: alloc.OrHeap(a)}
}

// find scans the bucket for h1 and returns the first ID whose secondary hash
// is h2 and for which eq reports true.
func (x *index) find(h1, h2 uint8, eq func(id uint64) bool) (ID, bool) {
	b := &x.buckets[h1]
	if b.hashes == nil {
		return 0, false
	}
	for i, h := range b.hashes.All {
		if h != h2 {
			continue
		}
		if id := b.ids.At(i); eq(id) {
			return ID(id), true
		}
	}
	return 0, false
}

// add records id in the bucket for h1. On error the index is unchanged.
func (x *index) add(h1, h2 uint8, id uint64) error {
	b := &x.buckets[h1]
	if b.hashes == nil {
		hashes, err := buffer.New[uint8](0, x.allocator)
		if err != nil {
			return errors.Wrapf(err, "intern: create bucket %d", h1)
		}
		ids, err := buffer.New[uint64](0, x.allocator)
		if err != nil {
			hashes.Close()
			return errors.Wrapf(err, "intern: create bucket %d", h1)
		}
		b.hashes, b.ids = hashes, ids
	}

	n, err := b.hashes.Append(h2)
	if err != nil {
		return errors.Wrapf(err, "intern: grow bucket %d", h1)
	}
	if _, err := b.ids.Append(id); err != nil {
		b.hashes.Truncate(n)
		return errors.Wrapf(err, "intern: grow bucket %d", h1)
	}
	x.checkBucket(h1)
	return nil
}

// all calls yield for each ID in bucket order.
func (x *index) all(yield func(h1 uint8, id uint64) bool) {
	for i := range x.buckets {
		b := &x.buckets[i]
		if b.ids == nil {
			continue
		}
		for _, id := range b.ids.All {
			if !yield(uint8(i), id) {
				return
			}
		}
	}
}

func (x *index) close() {
	for i := range x.buckets {
		b := &x.buckets[i]
		if b.hashes != nil {
			b.hashes.Close()
			b.ids.Close()
		}
		*b = bucket{}
	}
}

func (x *index) checkBucket(h1 uint8) {
	if invariants.Enabled {
		b := &x.buckets[h1]
		if b.hashes.Len() != b.ids.Len() {
			panic(fmt.Sprintf("invariant failed: bucket(%d): %d hashes but %d ids",
				h1, b.hashes.Len(), b.ids.Len()))
		}
	}
}

type config struct {
	allocator alloc.Allocator
}

// option provide an interface to do work on a table while it is being
// created.
type option interface {
	apply(c *config)
}

type allocatorOption struct {
	allocator alloc.Allocator
}

func (op allocatorOption) apply(c *config) {
	c.allocator = alloc.OrHeap(op.allocator)
}

// WithAllocator is an option to specify the Allocator used for all of a
// table's storage.
func WithAllocator(a alloc.Allocator) option {
	return allocatorOption{a}
}

func makeConfig(options []option) config {
	c := config{allocator: alloc.Heap}
	for _, op := range options {
		op.apply(&c)
	}
	return c
}
