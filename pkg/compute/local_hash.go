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

	"github.com/daviszhen/preagg/pkg/common"
)

// LocalHashSlots is the bucket count of a block local table.
const LocalHashSlots = 1153

type localItem struct {
	_hash   uint32
	_next   atomic.Uint32
	_live   atomic.Bool
	_slots  []common.Slot
	_accums []Accum
}

// LocalHashTable combines the groups met by one block in one unit. It is
// shared by the lane groups of the block only. Rooms are claimed with an
// atomic counter and linked by CAS on the bucket head.
type LocalHashTable struct {
	_layout *Layout
	_heads  [LocalHashSlots]atomic.Uint32
	_usage  atomic.Uint32
	_items  []localItem
}

func NewLocalHashTable(layout *Layout, nrooms int) *LocalHashTable {
	table := &LocalHashTable{
		_layout: layout,
		_items:  make([]localItem, nrooms),
	}
	for i := range table._items {
		item := &table._items[i]
		item._slots = make([]common.Slot, layout.NumAttrs())
		item._accums = layout.NewAccums()
	}
	for i := range table._heads {
		table._heads[i].Store(hashNone)
	}
	return table
}

func (table *LocalHashTable) NRooms() int {
	return len(table._items)
}

// NItems is the number of claimed rooms.
func (table *LocalHashTable) NItems() int {
	return min(int(table._usage.Load()), len(table._items))
}

// Reset empties the table for the next unit.
func (table *LocalHashTable) Reset() {
	n := table.NItems()
	for i := 0; i < n; i++ {
		item := &table._items[i]
		item._live.Store(false)
		table._layout.InitAccums(item._accums)
	}
	for i := range table._heads {
		table._heads[i].Store(hashNone)
	}
	table._usage.Store(0)
}

// Upsert folds accs of the group of slots into the table. It returns
// false when the group is new and no room is left; the caller then
// passes it to the global table. spare works as in FindOrInsert.
func (table *LocalHashTable) Upsert(
	funcs QueryFuncs,
	hash uint32,
	slots []common.Slot,
	accs []Accum,
	spare *int,
) (bool, error) {
	head := &table._heads[hash%LocalHashSlots]
	for {
		first := head.Load()
		for it := first; it != hashNone; it = table._items[it]._next.Load() {
			item := &table._items[it]
			if item._hash != hash {
				continue
			}
			eq, err := funcs.KeysEqual(item._slots, slots)
			if err != nil {
				return false, err
			}
			if eq {
				table._layout.MergeAtomic(item._accums, accs)
				return true, nil
			}
		}
		if *spare < 0 {
			room := table._usage.Add(1) - 1
			if int(room) >= len(table._items) {
				return false, nil
			}
			*spare = int(room)
		}
		item := &table._items[*spare]
		item._hash = hash
		copy(item._slots, slots)
		table._layout.InitAccums(item._accums)
		table._layout.CombineLocal(item._accums, accs)
		item._next.Store(first)
		if head.CompareAndSwap(first, uint32(*spare)) {
			item._live.Store(true)
			*spare = -1
			return true, nil
		}
	}
}

// Items calls fn for every linked room.
func (table *LocalHashTable) Items(fn func(hash uint32, slots []common.Slot, accs []Accum)) {
	n := table.NItems()
	for i := 0; i < n; i++ {
		item := &table._items[i]
		if item._live.Load() {
			fn(item._hash, item._slots, item._accums)
		}
	}
}
