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
	"fmt"
	"sync/atomic"
	"unsafe"
)

type SuspendKind uint8

const (
	SUSPEND_NONE SuspendKind = iota
	//[Base,End) of a flat source
	SUSPEND_FLAT
	//Line of partition Part of a block source
	SUSPEND_BLOCK
)

// SuspendContext is the cursor a suspended block saves. Only the fields
// of its Kind are meaningful.
type SuspendContext struct {
	Kind SuspendKind
	Base int
	End  int
	Part int
	Line int
}

func FlatContext(base, end int) SuspendContext {
	return SuspendContext{Kind: SUSPEND_FLAT, Base: base, End: end}
}

func BlockContext(part, line int) SuspendContext {
	return SuspendContext{Kind: SUSPEND_BLOCK, Part: part, Line: line}
}

func (sc SuspendContext) String() string {
	switch sc.Kind {
	case SUSPEND_FLAT:
		return fmt.Sprintf("flat[%d,%d)", sc.Base, sc.End)
	case SUSPEND_BLOCK:
		return fmt.Sprintf("block(%d,%d)", sc.Part, sc.Line)
	default:
		return "none"
	}
}

type PhaseState int

const (
	PHASE_RUNNING PhaseState = iota
	PHASE_SUSPENDED
	PHASE_RESUMING
	PHASE_DONE
)

func (ps PhaseState) String() string {
	switch ps {
	case PHASE_RUNNING:
		return "running"
	case PHASE_SUSPENDED:
		return "suspended"
	case PHASE_RESUMING:
		return "resuming"
	case PHASE_DONE:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(ps))
	}
}

var phaseTransitions = map[PhaseState][]PhaseState{
	PHASE_RUNNING:   {PHASE_SUSPENDED, PHASE_DONE},
	PHASE_SUSPENDED: {PHASE_RESUMING},
	PHASE_RESUMING:  {PHASE_RUNNING},
	PHASE_DONE:      {PHASE_RUNNING},
}

// Controller is the suspend/resume state of one kernel phase over one
// source. Blocks claim units from the shared cursor; a block that can not
// finish its unit saves it and stops. The host moves the state between
// launches.
type Controller struct {
	_name  string
	_state PhaseState
	//shared cursor, in rows or partitions
	_readPos atomic.Int64
	//units finished in this launch
	_unitsDone atomic.Int64
	//saved by the previous launch, consumed once by this one
	_saved []SuspendContext
	//saved by this launch, one per block
	_suspended    []SuspendContext
	_suspendCount atomic.Int32
	_rounds       int
}

func NewController(name string) *Controller {
	return &Controller{
		_name:  name,
		_state: PHASE_RUNNING,
	}
}

func (ctl *Controller) Name() string {
	return ctl._name
}

func (ctl *Controller) State() PhaseState {
	return ctl._state
}

func (ctl *Controller) Transition(to PhaseState) error {
	for _, next := range phaseTransitions[ctl._state] {
		if next == to {
			ctl._state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s phase can not go from %s to %s", ErrInternal, ctl._name, ctl._state, to)
}

// Prepare is called by the host before a launch of grid blocks.
func (ctl *Controller) Prepare(grid int) {
	ctl._suspended = make([]SuspendContext, grid)
	ctl._suspendCount.Store(0)
	ctl._unitsDone.Store(0)
}

// Claim takes the next n items below limit from the shared cursor.
func (ctl *Controller) Claim(n, limit int) (int, int, bool) {
	if ctl._readPos.Load() >= int64(limit) {
		return 0, 0, false
	}
	base := int(ctl._readPos.Add(int64(n))) - n
	if base >= limit {
		return 0, 0, false
	}
	return base, min(base+n, limit), true
}

func (ctl *Controller) ReadPos() int {
	return int(ctl._readPos.Load())
}

// NextSaved hands block the next context saved by the previous launch.
// Block b owns the saved contexts b, b+grid, b+2*grid...
func (ctl *Controller) NextSaved(block, grid int, from *int) (SuspendContext, bool) {
	if *from < block {
		*from = block
	}
	for ; *from < len(ctl._saved); *from += grid {
		sc := ctl._saved[*from]
		if sc.Kind == SUSPEND_NONE {
			continue
		}
		ctl._saved[*from].Kind = SUSPEND_NONE
		*from += grid
		return sc, true
	}
	return SuspendContext{}, false
}

func (ctl *Controller) Resuming() bool {
	return ctl._state == PHASE_RESUMING
}

// Suspend saves the unit block could not finish. A block suspends at most
// once per launch.
func (ctl *Controller) Suspend(block int, sc SuspendContext) {
	ctl._suspended[block] = sc
	ctl._suspendCount.Add(1)
}

func (ctl *Controller) UnitDone() {
	ctl._unitsDone.Add(1)
}

func (ctl *Controller) UnitsDone() int {
	return int(ctl._unitsDone.Load())
}

func (ctl *Controller) SuspendCount() int {
	return int(ctl._suspendCount.Load())
}

// SuspendSize is the byte size of the contexts saved by this launch.
func (ctl *Controller) SuspendSize() int {
	return ctl.SuspendCount() * int(unsafe.Sizeof(SuspendContext{}))
}

// Pending counts the saved contexts not yet consumed.
func (ctl *Controller) Pending() int {
	n := 0
	for _, sc := range ctl._saved {
		if sc.Kind != SUSPEND_NONE {
			n++
		}
	}
	return n
}

func (ctl *Controller) Rounds() int {
	return ctl._rounds
}

// Reset prepares the controller for the next launch over the same
// source. With resume, the contexts saved by the last launch are handed
// to the next one at the index of the block that saved them; contexts
// the last launch never reached follow them. Without resume, the
// cursor restarts.
func (ctl *Controller) Reset(resume bool) error {
	if !resume {
		ctl._saved = nil
		ctl._suspended = nil
		ctl._suspendCount.Store(0)
		ctl._unitsDone.Store(0)
		ctl._readPos.Store(0)
		ctl._rounds = 0
		if ctl._state == PHASE_DONE {
			return ctl.Transition(PHASE_RUNNING)
		}
		ctl._state = PHASE_RUNNING
		return nil
	}
	if ctl._state == PHASE_RUNNING {
		if err := ctl.Transition(PHASE_SUSPENDED); err != nil {
			return err
		}
	}
	if err := ctl.Transition(PHASE_RESUMING); err != nil {
		return err
	}
	saved := make([]SuspendContext, len(ctl._suspended))
	copy(saved, ctl._suspended)
	for _, sc := range ctl._saved {
		if sc.Kind != SUSPEND_NONE {
			saved = append(saved, sc)
		}
	}
	ctl._saved = saved
	ctl._suspended = nil
	ctl._suspendCount.Store(0)
	ctl._rounds++
	return nil
}

// Finish moves the state after a launch ends.
func (ctl *Controller) Finish() error {
	if ctl._state == PHASE_RESUMING {
		if err := ctl.Transition(PHASE_RUNNING); err != nil {
			return err
		}
	}
	if ctl.SuspendCount() > 0 || ctl.Pending() > 0 {
		return ctl.Transition(PHASE_SUSPENDED)
	}
	return ctl.Transition(PHASE_DONE)
}
