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

// Bitmap is a validity mask. A set bit means the row is valid; an empty
// bitmap means every row is valid.
type Bitmap struct {
	Bits []uint8
}

func (bm *Bitmap) Init(count int) {
	bm.Bits = make([]uint8, EntryCount(count))
	for i := range bm.Bits {
		bm.Bits[i] = 0xFF
	}
}

func (bm *Bitmap) Invalid() bool {
	return len(bm.Bits) == 0
}

func GetEntryIndex(idx uint64) (uint64, uint64) {
	return idx / 8, idx % 8
}

func EntryIsSet(e uint8, pos uint64) bool {
	return e&(1<<pos) != 0
}

func (bm *Bitmap) RowIsValid(idx uint64) bool {
	if bm.Invalid() {
		return true
	}
	eIdx, pos := GetEntryIndex(idx)
	if eIdx >= uint64(len(bm.Bits)) {
		return true
	}
	return EntryIsSet(bm.Bits[eIdx], pos)
}

// Grow keeps the bitmap wide enough for count rows. New rows are valid.
func (bm *Bitmap) Grow(count int) {
	if bm.Invalid() {
		return
	}
	for len(bm.Bits) < EntryCount(count) {
		bm.Bits = append(bm.Bits, 0xFF)
	}
}

func (bm *Bitmap) Set(ridx uint64, valid bool) {
	if valid {
		bm.SetValid(ridx)
	} else {
		bm.SetInvalid(ridx)
	}
}

func (bm *Bitmap) SetValid(ridx uint64) {
	if bm.Invalid() {
		return
	}
	eIdx, pos := GetEntryIndex(ridx)
	bm.Bits[eIdx] |= 1 << pos
}

// SetInvalid materializes the bitmap on first use.
func (bm *Bitmap) SetInvalid(ridx uint64) {
	if bm.Invalid() {
		bm.Init(int(ridx) + 1)
	}
	bm.Grow(int(ridx) + 1)
	eIdx, pos := GetEntryIndex(ridx)
	bm.Bits[eIdx] &= ^(1 << pos)
}

func EntryCount(cnt int) int {
	return CeilDiv(cnt, 8)
}
