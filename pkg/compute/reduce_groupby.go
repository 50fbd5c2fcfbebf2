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
	"context"
	"errors"
	"sync/atomic"

	"github.com/daviszhen/preagg/pkg/common"
	"github.com/daviszhen/preagg/pkg/storage"
	"github.com/daviszhen/preagg/pkg/util"
)

// partial is a group combined inside a block, not yet in the final
// buffer.
type partial struct {
	_hash   uint32
	_slots  []common.Slot
	_accums []Accum
}

type groupLane struct {
	_privs    laneAccums
	_hashes   []uint32
	_leaders  []int
	_overflow []partial
	//rooms reserved by a lost link race
	_localSpare  int
	_globalSpare int
}

type groupBlock struct {
	_local   *LocalHashTable
	_lanes   []groupLane
	_sources []partial
	_targets []int
}

func (kern *Kernel) newGroupBlock(task *KernelTask) *groupBlock {
	layout := kern._layout
	gb := &groupBlock{
		_local: NewLocalHashTable(layout, kern._cfg.Buffer.LocalHashRooms),
		_lanes: make([]groupLane, task.NumLanes()),
	}
	for i := range gb._lanes {
		gb._lanes[i] = groupLane{
			_privs:       newLaneAccums(layout, task.LaneWidth),
			_hashes:      make([]uint32, task.LaneWidth),
			_leaders:     make([]int, 0, task.LaneWidth),
			_localSpare:  -1,
			_globalSpare: -1,
		}
	}
	return gb
}

// release drops the rows the lanes still hold as spares.
func (gb *groupBlock) release(final *FinalBuffer) {
	for i := range gb._lanes {
		if spare := gb._lanes[i]._globalSpare; spare >= 0 {
			final.MarkDead(spare)
			gb._lanes[i]._globalSpare = -1
		}
	}
}

// ReduceGroupBy folds src into final through the block local tables and
// the global hash table. A block whose unit does not fit into final
// suspends with the unit; nothing of that unit is merged.
func (kern *Kernel) ReduceGroupBy(ctx context.Context, task *KernelTask, src *storage.SlotStore, final *FinalBuffer) error {
	ctl := task.Reduce
	nitems := src.NItems()
	return kern.launch(ctx, task, ctl, func(ctx context.Context, block int) {
		gb := kern.newGroupBlock(task)
		defer gb.release(final)
		from := 0
		for task.Continue(ctx) {
			base, end, ok := nextUnit(ctl, task, block, &from, nitems)
			if !ok {
				return
			}
			err := kern.reduceUnit(task, gb, src, base, end, final)
			if errors.Is(err, ErrCapacityExhausted) {
				ctl.Suspend(block, FlatContext(base, end))
				return
			}
			if err != nil {
				task.Status.SetError(err)
				return
			}
			ctl.UnitDone()
		}
	})
}

func (kern *Kernel) reduceUnit(
	task *KernelTask,
	gb *groupBlock,
	src *storage.SlotStore,
	base, end int,
	final *FinalBuffer,
) error {
	layout := kern._layout
	funcs := kern._funcs
	gb._local.Reset()

	//combine rows of a lane group, then the groups of the block
	err := kern.lanes(task, func(lane int) error {
		gl := &gb._lanes[lane]
		gl._leaders = gl._leaders[:0]
		gl._overflow = gl._overflow[:0]
		lo, hi := laneRange(task, lane, base, end)
		for k := 0; k < hi-lo; k++ {
			slots := src.Row(lo + k)
			h, err := funcs.Hash(slots)
			if err != nil {
				return err
			}
			gl._hashes[k] = h
			layout.InitAccums(gl._privs[k])
			layout.UpdateNormal(gl._privs[k], slots)
			leader := -1
			for _, j := range gl._leaders {
				if gl._hashes[j] != h {
					continue
				}
				eq, err := funcs.KeysEqual(src.Row(lo+j), slots)
				if err != nil {
					return err
				}
				if eq {
					leader = j
					break
				}
			}
			if leader >= 0 {
				layout.CombineLocal(gl._privs[leader], gl._privs[k])
			} else {
				gl._leaders = append(gl._leaders, k)
			}
		}
		for _, j := range gl._leaders {
			slots := src.Row(lo + j)
			ok, err := gb._local.Upsert(funcs, gl._hashes[j], slots, gl._privs[j], &gl._localSpare)
			if err != nil {
				return err
			}
			if !ok {
				gl._overflow = append(gl._overflow, partial{
					_hash:   gl._hashes[j],
					_slots:  slots,
					_accums: gl._privs[j],
				})
			}
		}
		return nil
	})
	for i := range gb._lanes {
		gb._lanes[i]._localSpare = -1
	}
	if err != nil {
		return err
	}

	gb._sources = gb._sources[:0]
	gb._local.Items(func(hash uint32, slots []common.Slot, accs []Accum) {
		gb._sources = append(gb._sources, partial{_hash: hash, _slots: slots, _accums: accs})
	})
	for i := range gb._lanes {
		gb._sources = append(gb._sources, gb._lanes[i]._overflow...)
	}
	if len(gb._sources) == 0 {
		return nil
	}
	if cap(gb._targets) < len(gb._sources) {
		gb._targets = make([]int, len(gb._sources))
	}
	gb._targets = gb._targets[:len(gb._sources)]

	//phase 1: a final row for every group, or nothing is merged. known
	//groups are looked up first; the new ones are admitted together.
	nlanes := task.NumLanes()
	ht := final.HashTable()
	var missing atomic.Int32
	err = kern.lanes(task, func(lane int) error {
		for j := lane; j < len(gb._sources); j += nlanes {
			s := &gb._sources[j]
			row, err := ht.Find(funcs, s._hash, s._slots)
			if err != nil {
				return err
			}
			gb._targets[j] = row
			if row < 0 {
				missing.Add(1)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if n := int(missing.Load()); n > 0 {
		if err := kern.insertMissing(task, gb, ht, n); err != nil {
			return err
		}
	}

	//phase 2
	err = kern.lanes(task, func(lane int) error {
		for j := lane; j < len(gb._sources); j += nlanes {
			layout.MergeAtomic(final.Accums(gb._targets[j]), gb._sources[j]._accums)
		}
		return nil
	})
	if err != nil {
		return err
	}
	task.FinalBufferModified.Store(true)
	return nil
}

// insertMissing links a final row for every source of gb not found yet.
// n is the number of those sources.
func (kern *Kernel) insertMissing(task *KernelTask, gb *groupBlock, ht *GlobalHashTable, n int) error {
	if !ht.Admit(n) {
		return ErrCapacityExhausted
	}
	var admitted atomic.Int32
	admitted.Store(int32(n))
	defer func() {
		ht.Withdraw(int(admitted.Load()))
	}()
	funcs := kern._funcs
	nlanes := task.NumLanes()
	var exhausted atomic.Bool
	err := kern.lanes(task, func(lane int) error {
		if err := util.Inject(util.FAULTS_SCOPE_KERNEL, "globalInsert"); err != nil {
			if errors.Is(err, ErrCapacityExhausted) {
				exhausted.Store(true)
				return nil
			}
			return err
		}
		gl := &gb._lanes[lane]
		for j := lane; j < len(gb._sources); j += nlanes {
			if exhausted.Load() {
				return nil
			}
			if gb._targets[j] >= 0 {
				continue
			}
			s := &gb._sources[j]
			row, err := ht.findOrInsert(funcs, s._hash, s._slots, &gl._globalSpare, task, &admitted)
			if errors.Is(err, ErrCapacityExhausted) {
				exhausted.Store(true)
				return nil
			}
			if err != nil {
				return err
			}
			gb._targets[j] = row
		}
		return nil
	})
	if err != nil {
		return err
	}
	if exhausted.Load() {
		return ErrCapacityExhausted
	}
	return nil
}
