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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_controllerStates(t *testing.T) {
	ctl := NewController("reduce")
	assert.Equal(t, PHASE_RUNNING, ctl.State())
	err := ctl.Transition(PHASE_RESUMING)
	assert.True(t, errors.Is(err, ErrInternal))

	//a launch without suspension
	ctl.Prepare(4)
	require.NoError(t, ctl.Finish())
	assert.Equal(t, PHASE_DONE, ctl.State())
	assert.Error(t, ctl.Reset(true))
	require.NoError(t, ctl.Reset(false))
	assert.Equal(t, PHASE_RUNNING, ctl.State())

	//a launch with suspension
	ctl.Prepare(4)
	ctl.Suspend(1, FlatContext(10, 20))
	ctl.Suspend(3, FlatContext(40, 50))
	ctl.UnitDone()
	assert.Equal(t, 2, ctl.SuspendCount())
	assert.Equal(t, 1, ctl.UnitsDone())
	assert.Greater(t, ctl.SuspendSize(), 0)
	require.NoError(t, ctl.Finish())
	assert.Equal(t, PHASE_SUSPENDED, ctl.State())

	require.NoError(t, ctl.Reset(true))
	assert.Equal(t, PHASE_RESUMING, ctl.State())
	assert.True(t, ctl.Resuming())
	assert.Equal(t, 2, ctl.Pending())
	assert.Equal(t, 1, ctl.Rounds())
	assert.Equal(t, 0, ctl.SuspendCount())

	ctl.Prepare(4)
	from := 0
	sc, ok := ctl.NextSaved(1, 4, &from)
	require.True(t, ok)
	assert.Equal(t, FlatContext(10, 20), sc)
	_, ok = ctl.NextSaved(1, 4, &from)
	assert.False(t, ok)
	from = 0
	_, ok = ctl.NextSaved(0, 4, &from)
	assert.False(t, ok)
	assert.Equal(t, 1, ctl.Pending())

	//the unconsumed context survives the next launch
	require.NoError(t, ctl.Finish())
	assert.Equal(t, PHASE_SUSPENDED, ctl.State())
	require.NoError(t, ctl.Reset(true))
	assert.Equal(t, 1, ctl.Pending())
	ctl.Prepare(4)
	//appended behind this launch's contexts, at index 4
	from = 0
	_, ok = ctl.NextSaved(3, 4, &from)
	assert.False(t, ok)
	from = 0
	sc, ok = ctl.NextSaved(0, 4, &from)
	require.True(t, ok)
	assert.Equal(t, FlatContext(40, 50), sc)
	require.NoError(t, ctl.Finish())
	assert.Equal(t, PHASE_DONE, ctl.State())
}

func Test_controllerLeftovers(t *testing.T) {
	ctl := NewController("reduce")
	ctl.Prepare(2)
	ctl.Suspend(0, FlatContext(0, 8))
	ctl.Suspend(1, FlatContext(8, 16))
	require.NoError(t, ctl.Finish())
	require.NoError(t, ctl.Reset(true))

	//block 0 suspends again before it reaches its saved context
	ctl.Prepare(2)
	from := 0
	sc, ok := ctl.NextSaved(1, 2, &from)
	require.True(t, ok)
	assert.Equal(t, FlatContext(8, 16), sc)
	ctl.Suspend(0, FlatContext(16, 24))
	require.NoError(t, ctl.Finish())
	require.NoError(t, ctl.Reset(true))
	assert.Equal(t, 2, ctl.Pending())

	//one block takes over everything
	ctl.Prepare(1)
	from = 0
	var got []SuspendContext
	for {
		sc, ok := ctl.NextSaved(0, 1, &from)
		if !ok {
			break
		}
		got = append(got, sc)
	}
	assert.Equal(t, []SuspendContext{FlatContext(16, 24), FlatContext(0, 8)}, got)
	assert.Equal(t, 0, ctl.Pending())
}

func Test_controllerClaim(t *testing.T) {
	ctl := NewController("setup")
	var units [][2]int
	for {
		base, end, ok := ctl.Claim(10, 25)
		if !ok {
			break
		}
		units = append(units, [2]int{base, end})
	}
	assert.Equal(t, [][2]int{{0, 10}, {10, 20}, {20, 25}}, units)
	assert.GreaterOrEqual(t, ctl.ReadPos(), 25)

	require.NoError(t, ctl.Reset(false))
	assert.Equal(t, 0, ctl.ReadPos())
}

func Test_suspendContext(t *testing.T) {
	assert.Equal(t, "flat[3,9)", FlatContext(3, 9).String())
	assert.Equal(t, "block(2,7)", BlockContext(2, 7).String())
	assert.Equal(t, "none", SuspendContext{}.String())
}

func Test_errorStatus(t *testing.T) {
	var es ErrorStatus
	es.SetError(ErrCapacityExhausted)
	assert.False(t, es.Failed())

	cause := errors.New("division by zero")
	es.SetError(cause)
	es.SetError(ErrDecode)
	assert.True(t, es.Failed())
	assert.Equal(t, ERR_EVALUATION, es.Kind())
	err := es.Err()
	assert.True(t, errors.Is(err, ErrEvaluation))
	assert.True(t, errors.Is(err, cause))
	var ke *KernelError
	require.True(t, errors.As(err, &ke))
	assert.Contains(t, ke.Location, "suspend_test.go")

	es.Reset()
	assert.False(t, es.Failed())
	assert.Nil(t, es.Err())
	es.SetError(ErrDecode)
	assert.Equal(t, ERR_DECODE, es.Kind())
}
