// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"encoding/binary"

	"github.com/twmb/murmur3"
)

func HashBytes(data []byte) uint64 {
	return murmur3.Sum64(data)
}

func HashUint64(x uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], x)
	return murmur3.Sum64(buf[:])
}

func ChecksumU64(x uint64) uint64 {
	return x * 0xbf58476d1ce4e5b9
}

// CombineHash mixes next into the running hash.
func CombineHash(running, next uint64) uint64 {
	return ChecksumU64(running) ^ next
}

// FoldHash32 folds a 64-bit hash into 32 bits.
func FoldHash32(h uint64) uint32 {
	return uint32(h) ^ uint32(h>>32)
}
