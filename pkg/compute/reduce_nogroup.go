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

	"github.com/daviszhen/preagg/pkg/storage"
	"github.com/daviszhen/preagg/pkg/util"
)

// laneAccums are the private accumulators of one lane group, one set per
// lane.
type laneAccums [][]Accum

func newLaneAccums(layout *Layout, width int) laneAccums {
	ret := make(laneAccums, width)
	for i := range ret {
		ret[i] = layout.NewAccums()
	}
	return ret
}

// fold combines every lane into lane 0, halving the active lanes each
// step.
func (privs laneAccums) fold(layout *Layout) {
	for off := len(privs) / 2; off > 0; off /= 2 {
		for k := 0; k < off; k++ {
			layout.CombineLocal(privs[k], privs[k+off])
		}
	}
}

// ReduceNoGroup folds src into the single row of final. Each lane group
// folds its rows privately and merges once. It never suspends: the
// only row is there from the start.
func (kern *Kernel) ReduceNoGroup(ctx context.Context, task *KernelTask, src *storage.SlotStore, final *FinalBuffer) error {
	ctl := task.Reduce
	layout := kern._layout
	nitems := src.NItems()
	dst := final.Accums(0)
	return kern.launch(ctx, task, ctl, func(ctx context.Context, block int) {
		privs := make([]laneAccums, task.NumLanes())
		for i := range privs {
			privs[i] = newLaneAccums(layout, task.LaneWidth)
		}
		from := 0
		for task.Continue(ctx) {
			base, end, ok := nextUnit(ctl, task, block, &from, nitems)
			if !ok {
				return
			}
			err := kern.lanes(task, func(lane int) error {
				lo, hi := laneRange(task, lane, base, end)
				if lo >= hi {
					return nil
				}
				if err := util.Inject(util.FAULTS_SCOPE_KERNEL, "reduceUnit"); err != nil {
					return err
				}
				lp := privs[lane]
				for k := range lp {
					layout.InitAccums(lp[k])
					if lo+k < hi {
						layout.UpdateNormal(lp[k], src.Row(lo+k))
					}
				}
				lp.fold(layout)
				layout.MergeAtomic(dst, lp[0])
				return nil
			})
			if err != nil {
				task.Status.SetError(err)
				return
			}
			if end > base {
				task.FinalBufferModified.Store(true)
			}
			ctl.UnitDone()
		}
	})
}
