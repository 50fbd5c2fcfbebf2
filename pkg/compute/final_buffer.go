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

package compute

import (
	"sync/atomic"

	"github.com/huandu/go-clone"

	"github.com/daviszhen/preagg/pkg/common"
)

const (
	rowFree uint32 = iota
	rowLive
	//reserved but never linked
	rowDead
)

type finalRow struct {
	_state  atomic.Uint32
	_slots  []common.Slot
	_accums []Accum
}

// FinalBuffer holds one accumulator row per group. Keys of a row are
// written once, before the row is linked into the hash table. Without
// group keys the buffer is the single row every block merges into.
type FinalBuffer struct {
	_layout *Layout
	_rows   []finalRow
	_ht     *GlobalHashTable
}

func NewFinalBuffer(layout *Layout, nrooms, hashSlots int) *FinalBuffer {
	if !layout.HasGroupBy() {
		nrooms = 1
	}
	buf := &FinalBuffer{
		_layout: layout,
		_rows:   make([]finalRow, nrooms),
	}
	for i := range buf._rows {
		row := &buf._rows[i]
		row._slots = make([]common.Slot, layout.NumAttrs())
		row._accums = layout.NewAccums()
	}
	if layout.HasGroupBy() {
		buf._ht = NewGlobalHashTable(buf, hashSlots, 0)
	} else {
		buf._rows[0]._state.Store(rowLive)
	}
	return buf
}

func (buf *FinalBuffer) Layout() *Layout {
	return buf._layout
}

func (buf *FinalBuffer) NRooms() int {
	return len(buf._rows)
}

// NRows counts reserved rows.
func (buf *FinalBuffer) NRows() int {
	if buf._ht == nil {
		return 1
	}
	return buf._ht.Usage()
}

func (buf *FinalBuffer) HashTable() *GlobalHashTable {
	return buf._ht
}

func (buf *FinalBuffer) Keys(i int) []common.Slot {
	return buf._rows[i]._slots
}

func (buf *FinalBuffer) Accums(i int) []Accum {
	return buf._rows[i]._accums
}

func (buf *FinalBuffer) IsLive(i int) bool {
	return buf._rows[i]._state.Load() == rowLive
}

func (buf *FinalBuffer) setState(i int, state uint32) {
	buf._rows[i]._state.Store(state)
}

// MarkDead drops a reserved row that was never linked.
func (buf *FinalBuffer) MarkDead(i int) {
	buf._rows[i]._state.CompareAndSwap(rowFree, rowDead)
}

// seedKeys copies the keys of slots into an unlinked row. Varlena bytes
// are copied too; their size is returned.
func (buf *FinalBuffer) seedKeys(i int, slots []common.Slot) int {
	dst := buf._rows[i]._slots
	extra := 0
	for _, idx := range buf._layout.Keys() {
		val := slots[idx]
		if val.Class == common.DatumExtra {
			val.Extra = append(dst[idx].Extra[:0], val.Extra...)
			extra += len(val.Extra)
		}
		dst[idx] = val
	}
	return extra
}

// PartialRow is one group drained from a final buffer. Keys has one
// slot per attribute; only the group key slots are set.
type PartialRow struct {
	Keys   []common.Slot
	Accums []AccumValue
}

type PartialBatch struct {
	Layout *Layout
	Rows   []PartialRow
}

// Drain copies out every live row in row order and resets the buffer.
func (buf *FinalBuffer) Drain() *PartialBatch {
	batch := &PartialBatch{Layout: buf._layout}
	nrows := buf.NRows()
	for i := 0; i < nrows; i++ {
		if !buf.IsLive(i) {
			continue
		}
		row := &buf._rows[i]
		batch.Rows = append(batch.Rows, PartialRow{
			Keys:   clone.Clone(row._slots).([]common.Slot),
			Accums: buf._layout.Snapshot(row._accums),
		})
	}
	buf.Reset()
	return batch
}

func (buf *FinalBuffer) Reset() {
	nrows := buf.NRows()
	for i := 0; i < nrows; i++ {
		row := &buf._rows[i]
		for j := range row._slots {
			row._slots[j] = common.Slot{Extra: row._slots[j].Extra[:0]}
		}
		buf._layout.InitAccums(row._accums)
		row._state.Store(rowFree)
	}
	if buf._ht != nil {
		buf._ht.reset()
	} else {
		buf._rows[0]._state.Store(rowLive)
	}
}
