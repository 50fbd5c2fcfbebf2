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

package storage

import (
	"fmt"
	"sync/atomic"

	"github.com/daviszhen/preagg/pkg/common"
)

// SlotStore is a bounded buffer of projected rows. Writers reserve rooms
// through the usage counter before they write.
type SlotStore struct {
	_natts  int
	_nrooms int
	_usage  atomic.Uint32
	_slots  []common.Slot
}

func NewSlotStore(natts, nrooms int) *SlotStore {
	return &SlotStore{
		_natts:  natts,
		_nrooms: nrooms,
		_slots:  make([]common.Slot, natts*nrooms),
	}
}

func (store *SlotStore) Format() Format {
	return FormatSlot
}

func (store *SlotStore) Schema() Schema {
	return nil
}

func (store *SlotStore) NAttrs() int {
	return store._natts
}

func (store *SlotStore) NRooms() int {
	return store._nrooms
}

// NItems is the number of reserved rooms.
func (store *SlotStore) NItems() int {
	return int(store._usage.Load())
}

// Reserve claims n consecutive rooms, all or nothing.
func (store *SlotStore) Reserve(n int) (int, bool) {
	for {
		old := store._usage.Load()
		if int(old)+n > store._nrooms {
			return 0, false
		}
		if store._usage.CompareAndSwap(old, old+uint32(n)) {
			return int(old), true
		}
	}
}

func (store *SlotStore) Put(room int, values []common.Slot) {
	copy(store._slots[room*store._natts:(room+1)*store._natts], values)
}

func (store *SlotStore) Row(room int) []common.Slot {
	return store._slots[room*store._natts : (room+1)*store._natts : (room+1)*store._natts]
}

func (store *SlotStore) RowAt(room int) (Row, error) {
	if room < 0 || room >= store.NItems() {
		return nil, fmt.Errorf("room %d out of range [0,%d)", room, store.NItems())
	}
	return SlotRow(store.Row(room)), nil
}

func (store *SlotStore) Reset() {
	used := store.NItems()
	clear(store._slots[:used*store._natts])
	store._usage.Store(0)
}
