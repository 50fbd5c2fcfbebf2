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

	"github.com/daviszhen/preagg/pkg/common"
)

// Accum is one accumulator of a group. Class and Datum are only read or
// written through atomics, so an Accum can be shared by concurrent
// writers. Sketch accumulators keep their registers in Regs, four 8-bit
// registers per word.
type Accum struct {
	_class atomic.Uint32
	_datum atomic.Uint64
	_regs  []atomic.Uint32
}

func (acc *Accum) Class() common.DatumClass {
	return common.DatumClass(acc._class.Load())
}

func (acc *Accum) IsNull() bool {
	return acc.Class() == common.DatumNull
}

func (acc *Accum) Datum() uint64 {
	return acc._datum.Load()
}

// markNormal flips the class from NULL to NORMAL. Only the first
// contribution succeeds.
func (acc *Accum) markNormal() bool {
	if acc._class.Load() != uint32(common.DatumNull) {
		return false
	}
	return acc._class.CompareAndSwap(uint32(common.DatumNull), uint32(common.DatumNormal))
}

func (acc *Accum) register(i int) uint8 {
	return uint8(acc._regs[i/4].Load() >> (uint(i%4) * 8))
}

// Registers copies the sketch registers out.
func (acc *Accum) Registers() []uint8 {
	if len(acc._regs) == 0 {
		return nil
	}
	ret := make([]uint8, len(acc._regs)*4)
	for i := range ret {
		ret[i] = acc.register(i)
	}
	return ret
}

// AccumValue is a stable copy of an Accum.
type AccumValue struct {
	Kind      common.AccumKind
	Class     common.DatumClass
	Datum     uint64
	Registers []uint8
}

func (val AccumValue) IsNull() bool {
	return val.Class == common.DatumNull
}

// Slot returns the accumulated value. A sketch reports its estimate as
// an INT64.
func (val AccumValue) Slot() common.Slot {
	if val.IsNull() {
		return common.NullSlot()
	}
	if val.Kind.Op == common.ACCUM_HLL {
		return common.Int64Slot(int64(EstimateHLL(val.Registers) + 0.5))
	}
	return common.Slot{Class: common.DatumNormal, Datum: val.Datum}
}

// ResultType is the type of Slot().
func (val AccumValue) ResultType() common.PhyType {
	if val.Kind.Op == common.ACCUM_HLL {
		return common.INT64
	}
	return val.Kind.Typ
}

func (val AccumValue) String() string {
	return fmt.Sprintf("%s(%s)", val.Kind, val.Slot().Format(val.ResultType()))
}

func snapshotAccum(kind common.AccumKind, acc *Accum) AccumValue {
	ret := AccumValue{
		Kind:  kind,
		Class: acc.Class(),
		Datum: acc.Datum(),
	}
	if kind.Typ.Is32() {
		//32-bit sums carry into the high word
		ret.Datum &= 0xFFFFFFFF
	}
	if kind.Op == common.ACCUM_HLL {
		ret.Datum = 0
		ret.Registers = acc.Registers()
	}
	return ret
}

// restore loads a copy back into an accumulator of the same kind.
func (acc *Accum) restore(val AccumValue) {
	acc._class.Store(uint32(val.Class))
	acc._datum.Store(val.Datum)
	for i := range acc._regs {
		word := uint32(0)
		for j := 0; j < 4 && i*4+j < len(val.Registers); j++ {
			word |= uint32(val.Registers[i*4+j]) << (uint(j) * 8)
		}
		acc._regs[i].Store(word)
	}
}
