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

	"github.com/daviszhen/preagg/pkg/common"
)

// AggCalc is the combine library of one accumulate kind.
//
// CombineLocal and UpdateNormal require the caller to own dst. The
// atomic variants may race with any other atomic variant on dst.
type AggCalc interface {
	Kind() common.AccumKind
	Init(acc *Accum)
	CombineLocal(dst, src *Accum)
	UpdateNormal(dst *Accum, val common.Slot)
	UpdateAtomic(dst *Accum, val common.Slot)
	MergeAtomic(dst, src *Accum)
}

func NewAggCalc(kind common.AccumKind, hllBits int) (AggCalc, error) {
	if err := kind.Check(); err != nil {
		return nil, err
	}
	switch kind.Op {
	case common.ACCUM_NONE:
		return &nullCalc{_kind: kind}, nil
	case common.ACCUM_HLL:
		return newHLLCalc(kind, hllBits), nil
	}
	switch kind.Typ {
	case common.INT32:
		return newNumCalc[int32](kind, int32Datum{}), nil
	case common.INT64:
		return newNumCalc[int64](kind, int64Datum{}), nil
	case common.UINT32:
		return newNumCalc[uint32](kind, uint32Datum{}), nil
	case common.UINT64:
		return newNumCalc[uint64](kind, uint64Datum{}), nil
	case common.FLOAT:
		return newNumCalc[float32](kind, floatDatum{}), nil
	case common.DOUBLE:
		return newNumCalc[float64](kind, doubleDatum{}), nil
	default:
		panic("usp")
	}
}

// DatumOp interprets a raw datum as T.
type DatumOp[T numeric] interface {
	Decode(d uint64) T
	Encode(v T) uint64
	Lowest() T
	Highest() T
	IsNaN(v T) bool
	IsFloat() bool
}

type numeric interface {
	~int32 | ~int64 | ~uint32 | ~uint64 | ~float32 | ~float64
}

type int32Datum struct{}

func (int32Datum) Decode(d uint64) int32 { return int32(uint32(d)) }
func (int32Datum) Encode(v int32) uint64 { return uint64(uint32(v)) }
func (int32Datum) Lowest() int32         { return math.MinInt32 }
func (int32Datum) Highest() int32        { return math.MaxInt32 }
func (int32Datum) IsNaN(int32) bool      { return false }
func (int32Datum) IsFloat() bool         { return false }

type int64Datum struct{}

func (int64Datum) Decode(d uint64) int64 { return int64(d) }
func (int64Datum) Encode(v int64) uint64 { return uint64(v) }
func (int64Datum) Lowest() int64         { return math.MinInt64 }
func (int64Datum) Highest() int64        { return math.MaxInt64 }
func (int64Datum) IsNaN(int64) bool      { return false }
func (int64Datum) IsFloat() bool         { return false }

type uint32Datum struct{}

func (uint32Datum) Decode(d uint64) uint32 { return uint32(d) }
func (uint32Datum) Encode(v uint32) uint64 { return uint64(v) }
func (uint32Datum) Lowest() uint32         { return 0 }
func (uint32Datum) Highest() uint32        { return math.MaxUint32 }
func (uint32Datum) IsNaN(uint32) bool      { return false }
func (uint32Datum) IsFloat() bool          { return false }

type uint64Datum struct{}

func (uint64Datum) Decode(d uint64) uint64 { return d }
func (uint64Datum) Encode(v uint64) uint64 { return v }
func (uint64Datum) Lowest() uint64         { return 0 }
func (uint64Datum) Highest() uint64        { return math.MaxUint64 }
func (uint64Datum) IsNaN(uint64) bool      { return false }
func (uint64Datum) IsFloat() bool          { return false }

type floatDatum struct{}

func (floatDatum) Decode(d uint64) float32 { return math.Float32frombits(uint32(d)) }
func (floatDatum) Encode(v float32) uint64 { return uint64(math.Float32bits(v)) }
func (floatDatum) Lowest() float32         { return float32(math.Inf(-1)) }
func (floatDatum) Highest() float32        { return float32(math.Inf(1)) }
func (floatDatum) IsNaN(v float32) bool    { return v != v }
func (floatDatum) IsFloat() bool           { return true }

type doubleDatum struct{}

func (doubleDatum) Decode(d uint64) float64 { return math.Float64frombits(d) }
func (doubleDatum) Encode(v float64) uint64 { return math.Float64bits(v) }
func (doubleDatum) Lowest() float64         { return math.Inf(-1) }
func (doubleDatum) Highest() float64        { return math.Inf(1) }
func (doubleDatum) IsNaN(v float64) bool    { return math.IsNaN(v) }
func (doubleDatum) IsFloat() bool           { return true }

// numCalc is min, max and sum over one numeric type.
//
// NaN never wins a min or max and does not make the accumulator valid.
// A sum takes NaN like any other value.
type numCalc[T numeric] struct {
	_kind common.AccumKind
	_op   DatumOp[T]
}

func newNumCalc[T numeric](kind common.AccumKind, op DatumOp[T]) *numCalc[T] {
	return &numCalc[T]{_kind: kind, _op: op}
}

func (calc *numCalc[T]) Kind() common.AccumKind {
	return calc._kind
}

func (calc *numCalc[T]) identity() uint64 {
	switch calc._kind.Op {
	case common.ACCUM_MIN:
		return calc._op.Encode(calc._op.Highest())
	case common.ACCUM_MAX:
		return calc._op.Encode(calc._op.Lowest())
	case common.ACCUM_ADD:
		return calc._op.Encode(0)
	default:
		panic("usp")
	}
}

func (calc *numCalc[T]) Init(acc *Accum) {
	acc._class.Store(uint32(common.DatumNull))
	acc._datum.Store(calc.identity())
}

// better reports whether v replaces old.
func (calc *numCalc[T]) better(v, old T) bool {
	if calc._kind.Op == common.ACCUM_MIN {
		return v < old
	}
	return v > old
}

func (calc *numCalc[T]) update(dst *Accum, d uint64, atomically bool) {
	op := calc._op
	v := op.Decode(d)
	switch calc._kind.Op {
	case common.ACCUM_MIN, common.ACCUM_MAX:
		if op.IsNaN(v) {
			return
		}
		if atomically {
			for {
				old := dst._datum.Load()
				if !calc.better(v, op.Decode(old)) {
					break
				}
				if dst._datum.CompareAndSwap(old, op.Encode(v)) {
					break
				}
			}
		} else if calc.better(v, op.Decode(dst._datum.Load())) {
			dst._datum.Store(op.Encode(v))
		}
	case common.ACCUM_ADD:
		switch {
		case !op.IsFloat() && atomically:
			//wraps; 32-bit kinds keep their sum in the low word
			dst._datum.Add(d)
		case !op.IsFloat():
			dst._datum.Store(dst._datum.Load() + d)
		case atomically:
			for {
				old := dst._datum.Load()
				if dst._datum.CompareAndSwap(old, op.Encode(op.Decode(old)+v)) {
					break
				}
			}
		default:
			dst._datum.Store(op.Encode(op.Decode(dst._datum.Load()) + v))
		}
	default:
		panic("usp")
	}
	dst.markNormal()
}

func (calc *numCalc[T]) CombineLocal(dst, src *Accum) {
	if src.IsNull() {
		return
	}
	calc.update(dst, src._datum.Load(), false)
}

func (calc *numCalc[T]) UpdateNormal(dst *Accum, val common.Slot) {
	if val.IsNull() {
		return
	}
	calc.update(dst, val.Datum, false)
}

func (calc *numCalc[T]) UpdateAtomic(dst *Accum, val common.Slot) {
	if val.IsNull() {
		return
	}
	calc.update(dst, val.Datum, true)
}

func (calc *numCalc[T]) MergeAtomic(dst, src *Accum) {
	if src.IsNull() {
		return
	}
	calc.update(dst, src._datum.Load(), true)
}

// nullCalc carries an attribute that is neither a key nor accumulated.
// It stays NULL.
type nullCalc struct {
	_kind common.AccumKind
}

func (calc *nullCalc) Kind() common.AccumKind {
	return calc._kind
}

func (calc *nullCalc) Init(acc *Accum) {
	acc._class.Store(uint32(common.DatumNull))
	acc._datum.Store(0)
}

func (calc *nullCalc) CombineLocal(*Accum, *Accum) {}

func (calc *nullCalc) UpdateNormal(*Accum, common.Slot) {}

func (calc *nullCalc) UpdateAtomic(*Accum, common.Slot) {}

func (calc *nullCalc) MergeAtomic(*Accum, *Accum) {}
