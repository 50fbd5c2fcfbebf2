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

package common

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_parseAccumKind(t *testing.T) {
	kind, err := ParseAccumKind("sum:int64")
	require.NoError(t, err)
	assert.Equal(t, MakeAccumKind(ACCUM_ADD, INT64), kind)
	assert.Equal(t, "sum:int64", kind.String())

	kind, err = ParseAccumKind(" MAX:float8 ")
	require.NoError(t, err)
	assert.Equal(t, MakeAccumKind(ACCUM_MAX, DOUBLE), kind)

	kind, err = ParseAccumKind("approx_count_distinct:varchar")
	require.NoError(t, err)
	assert.Equal(t, MakeAccumKind(ACCUM_HLL, VARCHAR), kind)

	for _, s := range []string{"sum", "avg:int64", "sum:varchar", "min:decimal", "max:int64:x"} {
		_, err = ParseAccumKind(s)
		require.Error(t, err, s)
		assert.True(t, errors.Is(err, ErrUnsupportedAccum), s)
	}
}

func Test_accumKindCheck(t *testing.T) {
	assert.NoError(t, MakeAccumKind(ACCUM_NONE, VARCHAR).Check())
	assert.NoError(t, MakeAccumKind(ACCUM_HLL, UINT32).Check())
	assert.NoError(t, MakeAccumKind(ACCUM_MIN, FLOAT).Check())
	assert.Error(t, MakeAccumKind(ACCUM_ADD, VARCHAR).Check())
	assert.Error(t, MakeAccumKind(ACCUM_HLL, INVALID).Check())
	assert.Error(t, MakeAccumKind(AccumOp(42), INT64).Check())
}

func Test_slot(t *testing.T) {
	assert.True(t, NullSlot().IsNull())
	assert.Equal(t, int32(-7), Int32Slot(-7).Int32())
	assert.Equal(t, uint64(0xFFFFFFF9), Int32Slot(-7).Datum)
	assert.Equal(t, int64(-7), Int64Slot(-7).Int64())
	assert.Equal(t, float32(1.5), FloatSlot(1.5).Float())
	assert.True(t, math.IsNaN(DoubleSlot(math.NaN()).Double()))
	assert.Equal(t, "abc", string(StringSlot("abc").Bytes()))

	assert.True(t, NullSlot().Equal(NullSlot()))
	assert.False(t, NullSlot().Equal(Int64Slot(0)))
	assert.True(t, StringSlot("x").Equal(BytesSlot([]byte("x"))))
	assert.False(t, StringSlot("x").Equal(StringSlot("y")))

	assert.Equal(t, "NULL", NullSlot().Format(INT64))
	assert.Equal(t, "-7", Int32Slot(-7).Format(INT32))
	assert.Equal(t, "4294967295", Uint32Slot(math.MaxUint32).Format(UINT32))
	assert.Equal(t, "2.5", DoubleSlot(2.5).Format(DOUBLE))
	assert.Equal(t, "abc", StringSlot("abc").Format(VARCHAR))
}

func Test_slotKeyOf(t *testing.T) {
	negZero := math.Copysign(0, -1)
	assert.False(t, DoubleSlot(negZero).Equal(DoubleSlot(0)))
	assert.True(t, DoubleSlot(negZero).KeyOf(DOUBLE).Equal(DoubleSlot(0).KeyOf(DOUBLE)))
	assert.True(t, FloatSlot(float32(negZero)).KeyOf(FLOAT).Equal(FloatSlot(0)))

	nan1 := DoubleSlot(math.Float64frombits(0x7ff8000000000001))
	nan2 := DoubleSlot(math.Float64frombits(0xfff8000000000002))
	assert.False(t, nan1.Equal(nan2))
	assert.True(t, nan1.KeyOf(DOUBLE).Equal(nan2.KeyOf(DOUBLE)))
	assert.True(t, math.IsNaN(nan1.KeyOf(DOUBLE).Double()))
	fnan := FloatSlot(math.Float32frombits(0x7fc00001))
	assert.True(t, fnan.KeyOf(FLOAT).Equal(FloatSlot(math.Float32frombits(0xffc00000)).KeyOf(FLOAT)))

	//other types and classes keep their bits
	assert.Equal(t, Int64Slot(-1), Int64Slot(-1).KeyOf(INT64))
	assert.True(t, NullSlot().KeyOf(DOUBLE).IsNull())
	assert.Equal(t, DoubleSlot(2.5), DoubleSlot(2.5).KeyOf(DOUBLE))
}

func Test_phyType(t *testing.T) {
	typ, err := ParsePhyType("BIGINT")
	require.NoError(t, err)
	assert.Equal(t, INT64, typ)
	_, err = ParsePhyType("decimal")
	assert.Error(t, err)
	assert.Equal(t, 4, FLOAT.Size())
	assert.True(t, FLOAT.Is32())
	assert.True(t, VARCHAR.IsVarlen())
	assert.False(t, UINT64.IsSigned())
}
