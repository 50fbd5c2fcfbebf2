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
	"math"
	"math/rand"
	"testing"

	"github.com/axiomhq/hyperloglog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/daviszhen/preagg/pkg/common"
)

func newCalc(t *testing.T, op common.AccumOp, typ common.PhyType) AggCalc {
	calc, err := NewAggCalc(common.MakeAccumKind(op, typ), 12)
	require.NoError(t, err)
	return calc
}

func newAccum(calc AggCalc) *Accum {
	acc := &Accum{}
	calc.Init(acc)
	return acc
}

func Test_aggCalcIdentity(t *testing.T) {
	tests := []struct {
		op    common.AccumOp
		typ   common.PhyType
		datum uint64
	}{
		{common.ACCUM_MIN, common.INT32, uint64(uint32(math.MaxInt32))},
		{common.ACCUM_MAX, common.INT32, uint64(uint32(0x80000000))},
		{common.ACCUM_MIN, common.INT64, uint64(math.MaxInt64)},
		{common.ACCUM_MAX, common.INT64, 1 << 63},
		{common.ACCUM_MIN, common.UINT64, math.MaxUint64},
		{common.ACCUM_MAX, common.UINT32, 0},
		{common.ACCUM_ADD, common.DOUBLE, 0},
		{common.ACCUM_MIN, common.DOUBLE, math.Float64bits(math.Inf(1))},
		{common.ACCUM_MAX, common.FLOAT, uint64(math.Float32bits(float32(math.Inf(-1))))},
	}
	for _, tt := range tests {
		calc := newCalc(t, tt.op, tt.typ)
		acc := newAccum(calc)
		assert.True(t, acc.IsNull(), calc.Kind().String())
		assert.Equal(t, tt.datum, acc.Datum(), calc.Kind().String())
	}
}

func Test_aggCalcNull(t *testing.T) {
	for _, op := range []common.AccumOp{common.ACCUM_MIN, common.ACCUM_MAX, common.ACCUM_ADD, common.ACCUM_HLL} {
		calc := newCalc(t, op, common.INT64)
		acc := newAccum(calc)
		calc.UpdateNormal(acc, common.NullSlot())
		calc.UpdateAtomic(acc, common.NullSlot())
		calc.MergeAtomic(acc, newAccum(calc))
		calc.CombineLocal(acc, newAccum(calc))
		assert.True(t, acc.IsNull(), op.String())

		calc.UpdateNormal(acc, common.Int64Slot(3))
		assert.False(t, acc.IsNull(), op.String())
	}

	calc := newCalc(t, common.ACCUM_NONE, common.VARCHAR)
	acc := newAccum(calc)
	calc.UpdateAtomic(acc, common.StringSlot("x"))
	assert.True(t, acc.IsNull())
}

func Test_aggCalcValues(t *testing.T) {
	vals := []int64{5, -3, 12, 0, 7}
	check := func(op common.AccumOp, want int64) {
		calc := newCalc(t, op, common.INT64)
		normal := newAccum(calc)
		shared := newAccum(calc)
		for _, v := range vals {
			calc.UpdateNormal(normal, common.Int64Slot(v))
			calc.UpdateAtomic(shared, common.Int64Slot(v))
		}
		assert.Equal(t, want, int64(normal.Datum()), op.String())
		assert.Equal(t, want, int64(shared.Datum()), op.String())
	}
	check(common.ACCUM_MIN, -3)
	check(common.ACCUM_MAX, 12)
	check(common.ACCUM_ADD, 21)

	//unsigned order is not signed order
	calc := newCalc(t, common.ACCUM_MAX, common.UINT32)
	acc := newAccum(calc)
	calc.UpdateNormal(acc, common.Uint32Slot(1))
	calc.UpdateNormal(acc, common.Uint32Slot(math.MaxUint32))
	assert.Equal(t, uint64(math.MaxUint32), acc.Datum())

	calc = newCalc(t, common.ACCUM_MIN, common.INT32)
	acc = newAccum(calc)
	calc.UpdateNormal(acc, common.Int32Slot(1))
	calc.UpdateNormal(acc, common.Int32Slot(-1))
	assert.Equal(t, int32(-1), common.Slot{Datum: acc.Datum()}.Int32())
}

func Test_aggCalcWrap(t *testing.T) {
	calc := newCalc(t, common.ACCUM_ADD, common.INT32)
	acc := newAccum(calc)
	calc.UpdateAtomic(acc, common.Int32Slot(math.MaxInt32))
	calc.UpdateAtomic(acc, common.Int32Slot(1))
	val := snapshotAccum(calc.Kind(), acc)
	assert.Equal(t, int32(math.MinInt32), val.Slot().Int32())
	assert.Equal(t, uint64(0x80000000), val.Datum)

	calc = newCalc(t, common.ACCUM_ADD, common.INT64)
	acc = newAccum(calc)
	calc.UpdateAtomic(acc, common.Int64Slot(math.MaxInt64))
	calc.UpdateAtomic(acc, common.Int64Slot(1))
	assert.Equal(t, int64(math.MinInt64), int64(acc.Datum()))
}

func Test_aggCalcNaN(t *testing.T) {
	for _, op := range []common.AccumOp{common.ACCUM_MIN, common.ACCUM_MAX} {
		calc := newCalc(t, op, common.DOUBLE)
		acc := newAccum(calc)
		calc.UpdateAtomic(acc, common.DoubleSlot(math.NaN()))
		assert.True(t, acc.IsNull(), op.String())
		calc.UpdateAtomic(acc, common.DoubleSlot(2))
		calc.UpdateNormal(acc, common.DoubleSlot(math.NaN()))
		assert.Equal(t, 2.0, math.Float64frombits(acc.Datum()), op.String())
	}

	calc := newCalc(t, common.ACCUM_ADD, common.FLOAT)
	acc := newAccum(calc)
	calc.UpdateAtomic(acc, common.FloatSlot(1))
	calc.UpdateAtomic(acc, common.FloatSlot(float32(math.NaN())))
	assert.False(t, acc.IsNull())
	assert.True(t, math.IsNaN(float64(math.Float32frombits(uint32(acc.Datum())))))
}

func Test_aggCalcConcurrent(t *testing.T) {
	kinds := []common.AccumKind{
		common.MakeAccumKind(common.ACCUM_ADD, common.INT64),
		common.MakeAccumKind(common.ACCUM_ADD, common.UINT32),
		common.MakeAccumKind(common.ACCUM_MIN, common.INT32),
		common.MakeAccumKind(common.ACCUM_MAX, common.DOUBLE),
		common.MakeAccumKind(common.ACCUM_HLL, common.INT64),
	}
	const workers = 8
	const per = 5000
	for _, kind := range kinds {
		calc, err := NewAggCalc(kind, 10)
		require.NoError(t, err)
		shared := newAccum(calc)
		merged := newAccum(calc)
		serial := newAccum(calc)
		slot := func(v int) common.Slot {
			switch kind.Typ {
			case common.INT32:
				return common.Int32Slot(int32(v - per))
			case common.UINT32:
				return common.Uint32Slot(uint32(v))
			case common.DOUBLE:
				return common.DoubleSlot(float64(v) / 4)
			default:
				return common.Int64Slot(int64(v))
			}
		}
		for v := 0; v < workers*per; v++ {
			calc.UpdateNormal(serial, slot(v))
		}
		var eg errgroup.Group
		for w := 0; w < workers; w++ {
			eg.Go(func() error {
				priv := newAccum(calc)
				for v := w * per; v < (w+1)*per; v++ {
					calc.UpdateAtomic(shared, slot(v))
					calc.UpdateNormal(priv, slot(v))
				}
				calc.MergeAtomic(merged, priv)
				return nil
			})
		}
		require.NoError(t, eg.Wait())
		want := snapshotAccum(kind, serial)
		assert.Equal(t, want, snapshotAccum(kind, shared), kind.String())
		assert.Equal(t, want, snapshotAccum(kind, merged), kind.String())
	}
}

func Test_aggCalcOrder(t *testing.T) {
	calc := newCalc(t, common.ACCUM_HLL, common.VARCHAR)
	vals := make([]common.Slot, 2000)
	for i := range vals {
		vals[i] = common.StringSlot(string(rune('a'+i%26)) + string(rune('A'+i%31)))
	}
	fwd := newAccum(calc)
	for _, v := range vals {
		calc.UpdateNormal(fwd, v)
	}
	rand.New(rand.NewSource(7)).Shuffle(len(vals), func(i, j int) {
		vals[i], vals[j] = vals[j], vals[i]
	})
	parts := []*Accum{newAccum(calc), newAccum(calc), newAccum(calc)}
	for i, v := range vals {
		calc.UpdateAtomic(parts[i%3], v)
	}
	combined := newAccum(calc)
	for _, p := range parts {
		calc.CombineLocal(combined, p)
	}
	assert.Equal(t, fwd.Registers(), combined.Registers())
	//26*31 distinct values
	est := EstimateHLL(combined.Registers())
	assert.InDelta(t, 806, est, 806*0.05)
}

func Test_hllEstimate(t *testing.T) {
	calc := newCalc(t, common.ACCUM_HLL, common.INT64)
	acc := newAccum(calc)
	ref := hyperloglog.New14()
	const n = 100000
	for i := 0; i < n; i++ {
		slot := common.Int64Slot(int64(i) * 7919)
		calc.UpdateAtomic(acc, slot)
		ref.InsertHash(HashSlot(slot))
	}
	val := snapshotAccum(calc.Kind(), acc)
	require.Len(t, val.Registers, 1<<12)
	est := float64(val.Slot().Int64())
	assert.InDelta(t, n, est, n*0.08)
	assert.InDelta(t, float64(ref.Estimate()), est, n*0.1)
	assert.Equal(t, common.INT64, val.ResultType())

	//empty sketch and a duplicate only sketch
	assert.Equal(t, 0.0, EstimateHLL(make([]uint8, 16)))
	one := newAccum(calc)
	for i := 0; i < 100; i++ {
		calc.UpdateNormal(one, common.StringSlot("same"))
	}
	assert.InDelta(t, 1, EstimateHLL(one.Registers()), 0.5)
}

func Test_aggCalcUnsupported(t *testing.T) {
	_, err := NewAggCalc(common.MakeAccumKind(common.ACCUM_ADD, common.VARCHAR), 9)
	assert.True(t, errors.Is(err, common.ErrUnsupportedAccum))
	_, err = NewAggCalc(common.MakeAccumKind(common.AccumOp(99), common.INT64), 9)
	assert.True(t, errors.Is(err, common.ErrUnsupportedAccum))
}

func Test_accumRestore(t *testing.T) {
	layout, err := NewLayout([]AttrDesc{
		{Name: "k", Typ: common.VARCHAR, IsKey: true},
		{Name: "s", Typ: common.INT64, Accum: common.ACCUM_ADD},
		{Name: "h", Typ: common.VARCHAR, Accum: common.ACCUM_HLL},
		{Name: "m", Typ: common.FLOAT, Accum: common.ACCUM_MIN},
	}, 6)
	require.NoError(t, err)
	accs := layout.NewAccums()
	layout.UpdateNormal(accs, []common.Slot{
		common.StringSlot("k"), common.Int64Slot(4), common.StringSlot("v"), common.FloatSlot(1.5),
	})
	vals := layout.Snapshot(accs)
	restored := layout.NewAccums()
	layout.Restore(restored, vals)
	assert.Equal(t, vals, layout.Snapshot(restored))
	assert.Equal(t, "4", vals[0].Slot().Format(vals[0].ResultType()))
	assert.Equal(t, "1.5", vals[2].Slot().Format(vals[2].ResultType()))
	assert.Equal(t, int64(1), vals[1].Slot().Int64())

	layout.MergeAtomic(restored, accs)
	assert.Equal(t, int64(8), int64(restored[0].Datum()))
}
