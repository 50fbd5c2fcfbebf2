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
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/daviszhen/preagg/pkg/util"
)

// KernelTask is the control block shared by the host and every block of a
// launch. It lives for one input batch.
type KernelTask struct {
	Status    ErrorStatus
	GridSize  int
	BlockSize int
	LaneWidth int

	SetupDone           atomic.Bool
	FinalBufferModified atomic.Bool

	NItemsReal     atomic.Int64
	NItemsFiltered atomic.Int64
	NumGroups      atomic.Int64
	//varlena key bytes copied into final rows
	ExtraUsage atomic.Int64

	Setup  *Controller
	Reduce *Controller
}

func NewKernelTask(cfg *util.Config) *KernelTask {
	return &KernelTask{
		GridSize:  cfg.Launch.GridSize,
		BlockSize: cfg.Launch.BlockSize,
		LaneWidth: cfg.Device.LaneWidth,
		Setup:     NewController("setup"),
		Reduce:    NewController("reduce"),
	}
}

func (task *KernelTask) NumLanes() int {
	return task.BlockSize / task.LaneWidth
}

func (task *KernelTask) Failed() bool {
	return task.Status.Failed()
}

// Continue reports whether a block may take another unit.
func (task *KernelTask) Continue(ctx context.Context) bool {
	if task.Status.Failed() {
		return false
	}
	if err := ctx.Err(); err != nil {
		task.Status.SetError(err)
		return false
	}
	return true
}

// Begin clears the task for a new input batch.
func (task *KernelTask) Begin() error {
	task.Status.Reset()
	task.SetupDone.Store(false)
	task.FinalBufferModified.Store(false)
	task.NItemsReal.Store(0)
	task.NItemsFiltered.Store(0)
	task.NumGroups.Store(0)
	task.ExtraUsage.Store(0)
	if err := task.Setup.Reset(false); err != nil {
		return err
	}
	return task.Reduce.Reset(false)
}

// Reset clears the per launch state of ctl before its next launch.
// The batch counters survive.
func (task *KernelTask) Reset(ctl *Controller, resume bool) error {
	task.Status.Reset()
	task.FinalBufferModified.Store(false)
	if err := ctl.Reset(resume); err != nil {
		return err
	}
	util.Debug("reset kernel task",
		zap.String("phase", ctl.Name()),
		zap.Bool("resume", resume),
		zap.Int("pending", ctl.Pending()),
		zap.Int("readPos", ctl.ReadPos()),
	)
	return nil
}
