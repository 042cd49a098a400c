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

import "github.com/cespare/xxhash/v2"

// KeyString derives a Map key from s. Keys are 64-bit fingerprints, so two
// distinct strings can map to the same key; callers that cannot tolerate that
// must intern the strings first and key on the ID.
func KeyString(s string) uint64 {
	return nonZero(xxhash.Sum64String(s))
}

// KeyBytes is KeyString for a byte slice.
func KeyBytes(b []byte) uint64 {
	return nonZero(xxhash.Sum64(b))
}

// nonZero maps the reserved key 0 to 1.
func nonZero(k uint64) uint64 {
	if k == 0 {
		return 1
	}
	return k
}
