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
	"math"
	"sync/atomic"

	"github.com/daviszhen/preagg/pkg/common"
	"github.com/daviszhen/preagg/pkg/util"
)

const (
	hashNone      uint32 = math.MaxUint32
	hashItemWords        = 3
	//bucket array may grow to this many times its initial size
	hashGrowFactor = 4
)

// GlobalHashTable indexes the rows of a FinalBuffer.
//
// The arena holds bucket heads at the front and hash items at the tail.
// Item i is {index, hash, next} in the three words that end at
// len-3*i, and refers to final row i. The table is full when the bucket
// array would reach the items.
//
// Probing and linking a new chain head hold the lock shared. The lock is
// held exclusive only to grow the bucket array. The usage counter
// reserves an item before anything is written to it.
type GlobalHashTable struct {
	_lock      util.SharedLock
	_arena     []atomic.Uint32
	_nslots    atomic.Uint32
	_initSlots uint32
	_maxSlots  uint32
	_usage     atomic.Uint32
	//rooms admitted to inserters but not reserved yet
	_promised  atomic.Uint32
	_nrooms    uint32
	_buf       *FinalBuffer
}

// NewGlobalHashTable makes a table over buf. arenaWords 0 sizes the arena
// for every room of buf and a fully grown bucket array.
func NewGlobalHashTable(buf *FinalBuffer, nslots, arenaWords int) *GlobalHashTable {
	util.AssertFunc(nslots > 0)
	ht := &GlobalHashTable{
		_initSlots: uint32(nslots),
		_maxSlots:  uint32(nslots * hashGrowFactor),
		_nrooms:    uint32(buf.NRooms()),
		_buf:       buf,
	}
	//one spare word keeps the last item off a fully grown bucket array
	if arenaWords <= 0 {
		arenaWords = int(ht._maxSlots) + hashItemWords*buf.NRooms() + 1
	}
	util.AssertFunc(arenaWords >= nslots)
	ht._arena = make([]atomic.Uint32, arenaWords)
	ht.reset()
	return ht
}

func (ht *GlobalHashTable) reset() {
	shared, exclusive := ht._lock.Holders()
	util.AssertFunc(shared == 0 && !exclusive)
	ht._nslots.Store(ht._initSlots)
	for i := uint32(0); i < ht._initSlots; i++ {
		ht._arena[i].Store(hashNone)
	}
	ht._usage.Store(0)
	ht._promised.Store(0)
}

func (ht *GlobalHashTable) NSlots() int {
	return int(ht._nslots.Load())
}

// Usage is the number of reserved items, live or not.
func (ht *GlobalHashTable) Usage() int {
	return int(ht._usage.Load())
}

// Front is the end of the bucket array, Tail the start of the items.
func (ht *GlobalHashTable) Front() int {
	return int(ht._nslots.Load())
}

func (ht *GlobalHashTable) Tail() int {
	return len(ht._arena) - hashItemWords*ht.Usage()
}

func (ht *GlobalHashTable) Full() bool {
	return ht.Front() >= ht.Tail()
}

func (ht *GlobalHashTable) itemBase(i uint32) int {
	return len(ht._arena) - hashItemWords*int(i+1)
}

func (ht *GlobalHashTable) itemHash(i uint32) uint32 {
	return ht._arena[ht.itemBase(i)+1].Load()
}

func (ht *GlobalHashTable) itemNext(i uint32) uint32 {
	return ht._arena[ht.itemBase(i)+2].Load()
}

func (ht *GlobalHashTable) setItem(i, hash, next uint32) {
	base := ht.itemBase(i)
	ht._arena[base].Store(i)
	ht._arena[base+1].Store(hash)
	ht._arena[base+2].Store(next)
}

// reserve claims the next item, if both the final buffer and the arena
// have room for it.
func (ht *GlobalHashTable) reserve() (uint32, bool) {
	for {
		usage := ht._usage.Load()
		if usage+1 > ht._nrooms {
			return 0, false
		}
		if int(ht._nslots.Load()) >= len(ht._arena)-hashItemWords*int(usage+1) {
			return 0, false
		}
		if ht._usage.CompareAndSwap(usage, usage+1) {
			return usage, true
		}
	}
}

// Find returns the final row of the group of slots, or -1.
func (ht *GlobalHashTable) Find(funcs QueryFuncs, hash uint32, slots []common.Slot) (int, error) {
	ht._lock.RLock()
	defer ht._lock.RUnlock()
	for it := ht._arena[hash%ht._nslots.Load()].Load(); it != hashNone; it = ht.itemNext(it) {
		if ht.itemHash(it) != hash {
			continue
		}
		eq, err := funcs.KeysEqual(ht._buf.Keys(int(it)), slots)
		if err != nil {
			return -1, err
		}
		if eq {
			return int(it), nil
		}
	}
	return -1, nil
}

// Admit promises n rooms to an inserter of at most n new groups. It fails
// when the rooms left after the reserved and promised ones are fewer.
func (ht *GlobalHashTable) Admit(n int) bool {
	for {
		promised := ht._promised.Load()
		if int(ht._usage.Load())+int(promised)+n > int(ht._nrooms) {
			return false
		}
		if ht._promised.CompareAndSwap(promised, promised+uint32(n)) {
			return true
		}
	}
}

// Withdraw gives back n admitted rooms that were not reserved.
func (ht *GlobalHashTable) Withdraw(n int) {
	if n > 0 {
		ht._promised.Add(^uint32(n - 1))
	}
}

// FindOrInsert returns the final row of the group of slots, linking a new
// row when the group is not there yet. spare carries a row reserved by an
// earlier call of the same caller that lost its link race; it is used
// before a new row is reserved and is set to -1 once linked.
// ErrCapacityExhausted is returned when no row can be reserved.
func (ht *GlobalHashTable) FindOrInsert(
	funcs QueryFuncs,
	hash uint32,
	slots []common.Slot,
	spare *int,
	task *KernelTask,
) (int, error) {
	return ht.findOrInsert(funcs, hash, slots, spare, task, nil)
}

// findOrInsert is FindOrInsert for an admitted inserter. Every row it
// reserves is taken from admitted and from the promised rooms.
func (ht *GlobalHashTable) findOrInsert(
	funcs QueryFuncs,
	hash uint32,
	slots []common.Slot,
	spare *int,
	task *KernelTask,
	admitted *atomic.Int32,
) (int, error) {
	row, extra, linked, err := ht.findOrLink(funcs, hash, slots, spare, admitted)
	if err != nil || !linked {
		return row, err
	}
	if task != nil {
		task.NumGroups.Add(1)
		task.ExtraUsage.Add(int64(extra))
		task.FinalBufferModified.Store(true)
	}
	ht.maybeGrow()
	return row, nil
}

// findOrLink walks the chain of hash under the shared lock. linked reports
// a new row, extra the key bytes copied into it.
func (ht *GlobalHashTable) findOrLink(
	funcs QueryFuncs,
	hash uint32,
	slots []common.Slot,
	spare *int,
	admitted *atomic.Int32,
) (int, int, bool, error) {
	ht._lock.RLock()
	defer ht._lock.RUnlock()
	head := &ht._arena[hash%ht._nslots.Load()]
	for {
		first := head.Load()
		for it := first; it != hashNone; it = ht.itemNext(it) {
			if ht.itemHash(it) != hash {
				continue
			}
			eq, err := funcs.KeysEqual(ht._buf.Keys(int(it)), slots)
			if err != nil {
				return -1, 0, false, err
			}
			if eq {
				return int(it), 0, false, nil
			}
		}
		if *spare < 0 {
			row, ok := ht.reserve()
			if !ok {
				return -1, 0, false, ErrCapacityExhausted
			}
			if admitted != nil && admitted.Add(-1) >= 0 {
				ht._promised.Add(^uint32(0))
			}
			*spare = int(row)
		}
		row := uint32(*spare)
		extra := ht._buf.seedKeys(int(row), slots)
		ht.setItem(row, hash, first)
		if head.CompareAndSwap(first, row) {
			*spare = -1
			ht._buf.setState(int(row), rowLive)
			return int(row), extra, true, nil
		}
		//another writer linked a new head. walk again from it.
	}
}

func (ht *GlobalHashTable) needGrow() (uint32, bool) {
	nslots := ht._nslots.Load()
	if ht._usage.Load() <= 2*nslots || nslots >= ht._maxSlots {
		return 0, false
	}
	next := min(2*nslots, ht._maxSlots)
	if int(next) >= len(ht._arena)-hashItemWords*int(ht._usage.Load()) {
		return 0, false
	}
	return next, true
}

// maybeGrow doubles the bucket array and relinks every live item.
func (ht *GlobalHashTable) maybeGrow() {
	if _, ok := ht.needGrow(); !ok {
		return
	}
	ht._lock.Lock()
	defer ht._lock.Unlock()
	next, ok := ht.needGrow()
	if !ok {
		return
	}
	for i := uint32(0); i < next; i++ {
		ht._arena[i].Store(hashNone)
	}
	usage := ht._usage.Load()
	for i := uint32(0); i < usage; i++ {
		if !ht._buf.IsLive(int(i)) {
			continue
		}
		head := &ht._arena[ht.itemHash(i)%next]
		ht._arena[ht.itemBase(i)+2].Store(head.Load())
		head.Store(i)
	}
	ht._nslots.Store(next)
}

// ChainLength counts the items linked from the bucket of hash.
func (ht *GlobalHashTable) ChainLength(hash uint32) int {
	ht._lock.RLock()
	defer ht._lock.RUnlock()
	n := 0
	for it := ht._arena[hash%ht._nslots.Load()].Load(); it != hashNone; it = ht.itemNext(it) {
		n++
	}
	return n
}
