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
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/daviszhen/preagg/pkg/util"
)

// Kernel runs launches. A launch is a grid of blocks scheduled on a pool
// as wide as the device has multiprocessors. A block runs its lane groups
// as goroutines; waiting for them is the block barrier.
type Kernel struct {
	_cfg    *util.Config
	_layout *Layout
	_funcs  QueryFuncs
	_pool   *ants.Pool
}

func NewKernel(cfg *util.Config, layout *Layout, funcs QueryFuncs) (*Kernel, error) {
	pool, err := ants.NewPool(
		cfg.Device.MultiProcessorCount,
		ants.WithPanicHandler(func(v interface{}) {
			util.Error("block panic", zap.Any("panic", v))
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Kernel{
		_cfg:    cfg,
		_layout: layout,
		_funcs:  funcs,
		_pool:   pool,
	}, nil
}

func (kern *Kernel) Layout() *Layout {
	return kern._layout
}

func (kern *Kernel) Close() {
	kern._pool.Release()
}

type blockFunc func(ctx context.Context, block int)

// launch runs task.GridSize blocks of fn and waits for all of them.
// It returns the error status of the task.
func (kern *Kernel) launch(ctx context.Context, task *KernelTask, ctl *Controller, fn blockFunc) error {
	grid := task.GridSize
	ctl.Prepare(grid)
	util.Debug("launch",
		zap.String("phase", ctl.Name()),
		zap.Int("grid", grid),
		zap.Int("blockSize", task.BlockSize),
		zap.String("state", ctl.State().String()),
	)
	var wg sync.WaitGroup
	for b := 0; b < grid; b++ {
		wg.Add(1)
		err := kern._pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					task.Status.Set(ERR_INTERNAL, util.ConvertPanicError(r))
				}
			}()
			fn(ctx, b)
		})
		if err != nil {
			wg.Done()
			task.Status.Set(ERR_INTERNAL, fmt.Errorf("submit block %d: %w", b, err))
			break
		}
	}
	wg.Wait()
	if err := task.Status.Err(); err != nil {
		return err
	}
	return ctl.Finish()
}

// lanes runs fn for every lane group of a block and waits for them.
func (kern *Kernel) lanes(task *KernelTask, fn func(lane int) error) error {
	var eg errgroup.Group
	for lane := 0; lane < task.NumLanes(); lane++ {
		eg.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: lane %d: %w", ErrInternal, lane, util.ConvertPanicError(r))
				}
			}()
			return fn(lane)
		})
	}
	return eg.Wait()
}

// laneRange is the part of [base,end) lane works on.
func laneRange(task *KernelTask, lane, base, end int) (int, int) {
	lo := min(base+lane*task.LaneWidth, end)
	hi := min(lo+task.LaneWidth, end)
	return lo, hi
}

// nextUnit hands a block its next flat unit: saved ones first, then
// fresh ones from the cursor.
func nextUnit(ctl *Controller, task *KernelTask, block int, from *int, limit int) (int, int, bool) {
	if sc, ok := ctl.NextSaved(block, task.GridSize, from); ok {
		util.AssertFunc(sc.Kind == SUSPEND_FLAT)
		return sc.Base, sc.End, true
	}
	return ctl.Claim(task.BlockSize, limit)
}
