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

import (
	"math"
	"math/bits"

	"lukechampine.com/frand"
)

const (
	randomMultiplier  = 214013
	randomDefaultSeed = 2531011
)

// Random returns the successor of prev in a multiplicative congruential
// sequence. A zero prev is replaced by a fixed default seed.
//
// The low bits of a plain multiplicative generator have very short periods
// (the lowest never changes), so the full 128-bit product is folded: the
// significant bits of the high word are shifted up and the low word fills in
// below them, and the result is multiplied once more. The sequence is only a
// source of hash constants; it is not suitable for anything else.
func Random(prev uint64) uint64 {
	if prev == 0 {
		prev = randomDefaultSeed
	}
	hi, lo := bits.Mul64(prev, randomMultiplier)
	var logHi int
	if hi != 0 {
		logHi = bits.Len64(hi) - 1
	}
	hi = (hi << (64 - (logHi + 1))) | (lo >> logHi)
	return hi * randomMultiplier
}

// newSeed returns an odd seed that differs across tables and processes.
func newSeed() uint64 {
	return frand.Uint64n(math.MaxUint64) | 1
}
