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
	"fmt"

	"github.com/daviszhen/preagg/pkg/common"
	"github.com/daviszhen/preagg/pkg/storage"
	"github.com/daviszhen/preagg/pkg/util"
)

// setupLane is what one lane group stages from a unit.
type setupLane struct {
	_slots    []common.Slot
	_n        int
	_real     int64
	_filtered int64
}

// setupStage holds a unit until all of it fits into the slot store.
type setupStage struct {
	_lanes []setupLane
}

func newSetupStage(task *KernelTask, natts int) *setupStage {
	stage := &setupStage{
		_lanes: make([]setupLane, task.NumLanes()),
	}
	for i := range stage._lanes {
		stage._lanes[i]._slots = make([]common.Slot, task.LaneWidth*natts)
	}
	return stage
}

type rowFetcher func(i int) (storage.Row, error)

// setupUnit projects the qualifying rows of [base,end) and stores them,
// all or nothing. A nil row from fetch is a dead line. Counters are only
// added for stored units.
func (kern *Kernel) setupUnit(
	task *KernelTask,
	stage *setupStage,
	fetch rowFetcher,
	base, end int,
	dst *storage.SlotStore,
) error {
	natts := kern._layout.NumAttrs()
	err := kern.lanes(task, func(lane int) error {
		ls := &stage._lanes[lane]
		ls._n, ls._real, ls._filtered = 0, 0, 0
		lo, hi := laneRange(task, lane, base, end)
		for i := lo; i < hi; i++ {
			row, err := fetch(i)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrDecode, err)
			}
			if row == nil {
				continue
			}
			ls._real++
			ok, err := kern._funcs.Qualify(row)
			if err != nil {
				return err
			}
			if !ok {
				ls._filtered++
				continue
			}
			if err = kern._funcs.Project(row, ls._slots[ls._n*natts:(ls._n+1)*natts]); err != nil {
				return err
			}
			ls._n++
		}
		return nil
	})
	if err != nil {
		return err
	}
	total := 0
	for i := range stage._lanes {
		total += stage._lanes[i]._n
	}
	room, ok := dst.Reserve(total)
	if !ok {
		return ErrCapacityExhausted
	}
	for i := range stage._lanes {
		ls := &stage._lanes[i]
		for k := 0; k < ls._n; k++ {
			dst.Put(room, ls._slots[k*natts:(k+1)*natts])
			room++
		}
		task.NItemsReal.Add(ls._real)
		task.NItemsFiltered.Add(ls._filtered)
	}
	return nil
}

type flatSource interface {
	NItems() int
	Row(i int) (storage.Row, error)
}

func (kern *Kernel) setupFlat(ctx context.Context, task *KernelTask, src flatSource, dst *storage.SlotStore) error {
	ctl := task.Setup
	nitems := src.NItems()
	return kern.launch(ctx, task, ctl, func(ctx context.Context, block int) {
		stage := newSetupStage(task, kern._layout.NumAttrs())
		from := 0
		for task.Continue(ctx) {
			base, end, ok := nextUnit(ctl, task, block, &from, nitems)
			if !ok {
				return
			}
			err := kern.setupUnit(task, stage, src.Row, base, end, dst)
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

// SetupRow projects a row store into dst.
func (kern *Kernel) SetupRow(ctx context.Context, task *KernelTask, src *storage.RowStore, dst *storage.SlotStore) error {
	return kern.setupFlat(ctx, task, src, dst)
}

func (kern *Kernel) SetupColumn(ctx context.Context, task *KernelTask, src *storage.ColumnStore, dst *storage.SlotStore) error {
	if src.Format() != storage.FormatColumn {
		return fmt.Errorf("%w: column setup over %s store", ErrInternal, src.Format())
	}
	return kern.setupFlat(ctx, task, src, dst)
}

func (kern *Kernel) SetupColumnExtra(ctx context.Context, task *KernelTask, src *storage.ColumnStore, dst *storage.SlotStore) error {
	if src.Format() != storage.FormatColumnExtra {
		return fmt.Errorf("%w: column extra setup over %s store", ErrInternal, src.Format())
	}
	return kern.setupFlat(ctx, task, src, dst)
}

// SetupBlock projects a block store into dst. Block b walks partitions
// b, b+grid, ... in units of at most BlockSize lines, so the grid must not
// change while the setup is suspended.
func (kern *Kernel) SetupBlock(ctx context.Context, task *KernelTask, src *storage.BlockStore, dst *storage.SlotStore) error {
	ctl := task.Setup
	return kern.launch(ctx, task, ctl, func(ctx context.Context, block int) {
		stage := newSetupStage(task, kern._layout.NumAttrs())
		part, line := block, 0
		if ctl.Resuming() {
			from := 0
			sc, ok := ctl.NextSaved(block, task.GridSize, &from)
			if !ok {
				return
			}
			util.AssertFunc(sc.Kind == SUSPEND_BLOCK)
			part, line = sc.Part, sc.Line
		}
		for ; part < src.NParts(); part, line = part+task.GridSize, 0 {
			nlines := src.NLines(part)
			fetch := func(i int) (storage.Row, error) {
				return src.Line(part, i)
			}
			for line < nlines {
				if !task.Continue(ctx) {
					return
				}
				end := min(line+task.BlockSize, nlines)
				err := kern.setupUnit(task, stage, fetch, line, end, dst)
				if errors.Is(err, ErrCapacityExhausted) {
					ctl.Suspend(block, BlockContext(part, line))
					return
				}
				if err != nil {
					task.Status.SetError(err)
					return
				}
				ctl.UnitDone()
				line = end
			}
		}
	})
}

// Setup dispatches on the layout of src.
func (kern *Kernel) Setup(ctx context.Context, task *KernelTask, src storage.DataStore, dst *storage.SlotStore) error {
	switch store := src.(type) {
	case *storage.RowStore:
		return kern.SetupRow(ctx, task, store, dst)
	case *storage.BlockStore:
		return kern.SetupBlock(ctx, task, store, dst)
	case *storage.ColumnStore:
		if store.Format() == storage.FormatColumnExtra {
			return kern.SetupColumnExtra(ctx, task, store, dst)
		}
		return kern.SetupColumn(ctx, task, store, dst)
	default:
		return fmt.Errorf("%w: no setup for %s store", ErrInternal, src.Format())
	}
}
