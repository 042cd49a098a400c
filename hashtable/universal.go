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

// maxOddAttempts bounds the search for an odd multiplier. A generator that
// fails this many times in a row is forced odd.
const maxOddAttempts = 1024

// universal holds the constants of a multiply-shift universal hash
// (Dietzfelbinger et al.) mapping 64-bit keys to m-bit slot indexes:
//
//	h(key) = (a*key + b) >> (64 - m)
//
// a is an odd 64-bit multiplier and b an offset of at most 64-m bits. r is
// the last value drawn from the generator so that successive updates keep
// advancing one sequence.
type universal struct {
	a, b uint64
	m    uint
	r    uint64
}

// update draws fresh constants for the current m.
func (u *universal) update(random func(uint64) uint64) {
	for i := 0; ; i++ {
		u.r = random(u.r)
		u.a = u.r
		if u.a&1 == 1 {
			break
		}
		if i == maxOddAttempts {
			u.a |= 1
			break
		}
	}
	u.r = random(u.r)
	u.b = u.r & (^uint64(0) >> u.m)
}

func (u *universal) hash(key uint64) uint64 {
	return (u.a*key + u.b) >> (64 - u.m)
}
