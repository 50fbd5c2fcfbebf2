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
	"time"

	"go.uber.org/zap"

	"github.com/daviszhen/preagg/pkg/storage"
	"github.com/daviszhen/preagg/pkg/util"
)

// BatchWriter receives the groups drained from the final buffer. A group
// may arrive in several batches; the writer finishes the aggregation.
type BatchWriter interface {
	WriteBatch(batch *PartialBatch) error
}

type LaunchInfo struct {
	Phase     string
	Round     int
	Grid      int
	Units     int
	Suspended int
	Modified  bool
	Duration  time.Duration
}

type RunStats struct {
	NItemsReal     int64
	NItemsFiltered int64
	NumGroups      int64
	ExtraUsage     int64
	Drains         int
	DrainedRows    int
	Launches       []LaunchInfo
}

// Runner drives the launches of one input batch: setup into the slot
// store, then reduction into the final buffer, resuming either phase
// when it suspends.
type Runner struct {
	_cfg    *util.Config
	_layout *Layout
	_kernel *Kernel
	_writer BatchWriter
	_task   *KernelTask
	_slots  *storage.SlotStore
	_final  *FinalBuffer
	_stats  *RunStats
}

func NewRunner(cfg *util.Config, layout *Layout, funcs QueryFuncs, writer BatchWriter) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kernel, err := NewKernel(cfg, layout, funcs)
	if err != nil {
		return nil, err
	}
	return &Runner{
		_cfg:    cfg,
		_layout: layout,
		_kernel: kernel,
		_writer: writer,
		_task:   NewKernelTask(cfg),
		_slots:  storage.NewSlotStore(layout.NumAttrs(), cfg.Buffer.SlotRooms),
		_final:  NewFinalBuffer(layout, cfg.Buffer.FinalRooms, cfg.Buffer.HashSlots),
	}, nil
}

func (run *Runner) Close() {
	run._kernel.Close()
}

func (run *Runner) Task() *KernelTask {
	return run._task
}

func (run *Runner) overRounds(rounds int) bool {
	limit := run._cfg.Launch.MaxResumeRounds
	return limit > 0 && rounds > limit
}

func (run *Runner) record(ctl *Controller, start time.Time) {
	run._stats.Launches = append(run._stats.Launches, LaunchInfo{
		Phase:     ctl.Name(),
		Round:     ctl.Rounds(),
		Grid:      run._task.GridSize,
		Units:     ctl.UnitsDone(),
		Suspended: ctl.SuspendCount(),
		Modified:  run._task.FinalBufferModified.Load(),
		Duration:  time.Since(start),
	})
}

// Run aggregates src and writes every group to the writer. On error the
// groups written so far must be discarded by the caller.
func (run *Runner) Run(ctx context.Context, src storage.DataStore) (*RunStats, error) {
	task := run._task
	run._stats = &RunStats{}
	if err := task.Begin(); err != nil {
		return nil, err
	}
	task.GridSize = run._cfg.Launch.GridSize
	run._slots.Reset()
	run._final.Reset()
	util.Info("run begin",
		zap.String("layout", src.Format().String()),
		zap.Int("items", src.NItems()),
		zap.Int("grid", task.GridSize),
		zap.Int("blockSize", task.BlockSize),
	)

	for round := 0; ; round++ {
		if run.overRounds(round) {
			return run._stats, fmt.Errorf("%w: setup after %d rounds", ErrTooManyRounds, round)
		}
		if round > 0 {
			if err := task.Reset(task.Setup, true); err != nil {
				return run._stats, err
			}
		}
		task.GridSize = run._cfg.Launch.GridSize
		run._slots.Reset()
		start := time.Now()
		err := run._kernel.Setup(ctx, task, src, run._slots)
		run.record(task.Setup, start)
		if err != nil {
			return run._stats, err
		}
		if task.Setup.State() == PHASE_SUSPENDED && task.Setup.UnitsDone() == 0 {
			return run._stats, fmt.Errorf("%w: setup", ErrNoProgress)
		}
		util.Debug("setup done",
			zap.Int("round", round),
			zap.Int("slots", run._slots.NItems()),
			zap.Int("suspended", task.Setup.SuspendCount()),
		)
		if err = run.reduce(ctx); err != nil {
			return run._stats, err
		}
		if task.Setup.State() == PHASE_DONE {
			break
		}
	}
	task.SetupDone.Store(true)
	if err := run.drain(); err != nil {
		return run._stats, err
	}

	stats := run._stats
	stats.NItemsReal = task.NItemsReal.Load()
	stats.NItemsFiltered = task.NItemsFiltered.Load()
	stats.NumGroups = task.NumGroups.Load()
	stats.ExtraUsage = task.ExtraUsage.Load()
	util.Info("run end",
		zap.Int64("real", stats.NItemsReal),
		zap.Int64("filtered", stats.NItemsFiltered),
		zap.Int64("groups", stats.NumGroups),
		zap.Int("launches", len(stats.Launches)),
		zap.Int("drains", stats.Drains),
	)
	return stats, nil
}

// reduce folds the slot store into the final buffer. A suspended launch
// is followed by a drain and a resumed launch. A launch that finishes no
// unit is retried by one block over an empty buffer; if that fails too
// the batch can not make progress.
func (run *Runner) reduce(ctx context.Context) error {
	task := run._task
	if err := task.Reset(task.Reduce, false); err != nil {
		return err
	}
	grid := run._cfg.Launch.GridSize
	for round := 0; ; round++ {
		if round > 0 {
			if err := task.Reset(task.Reduce, true); err != nil {
				return err
			}
		}
		task.GridSize = grid
		start := time.Now()
		var err error
		if run._layout.HasGroupBy() {
			err = run._kernel.ReduceGroupBy(ctx, task, run._slots, run._final)
		} else {
			err = run._kernel.ReduceNoGroup(ctx, task, run._slots, run._final)
		}
		run.record(task.Reduce, start)
		if err != nil {
			return err
		}
		if task.Reduce.State() == PHASE_DONE {
			return nil
		}
		if run.overRounds(round + 1) {
			return fmt.Errorf("%w: reduce after %d rounds", ErrTooManyRounds, round+1)
		}
		if task.Reduce.UnitsDone() == 0 {
			if grid == 1 {
				return fmt.Errorf("%w: reduce with %d groups in the final buffer",
					ErrNoProgress, run._final.NRows())
			}
			util.Warn("reduce made no progress, retry with one block",
				zap.Int("grid", grid),
				zap.Int("suspended", task.Reduce.SuspendCount()),
			)
			grid = 1
		} else {
			grid = run._cfg.Launch.GridSize
		}
		util.Debug("reduce suspended",
			zap.Int("round", round),
			zap.Int("suspended", task.Reduce.SuspendCount()),
			zap.Int("suspendSize", task.Reduce.SuspendSize()),
			zap.Int("rows", run._final.NRows()),
		)
		if err = run.drain(); err != nil {
			return err
		}
	}
}

func (run *Runner) drain() error {
	batch := run._final.Drain()
	run._stats.Drains++
	run._stats.DrainedRows += len(batch.Rows)
	if run._writer == nil || len(batch.Rows) == 0 {
		return nil
	}
	if err := util.Inject(util.FAULTS_SCOPE_RUNNER, "drain"); err != nil {
		return fmt.Errorf("write batch of %d rows: %w", len(batch.Rows), err)
	}
	return run._writer.WriteBatch(batch)
}
