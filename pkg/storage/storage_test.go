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

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/daviszhen/preagg/pkg/common"
)

var testSchema = Schema{common.VARCHAR, common.INT64, common.INT32, common.DOUBLE}

func testValues(i int) []common.Slot {
	key := common.StringSlot(fmt.Sprintf("k%d", i%3))
	if i%7 == 0 {
		key = common.NullSlot()
	}
	return []common.Slot{
		key,
		common.Int64Slot(int64(i)),
		common.Int32Slot(int32(-i)),
		common.DoubleSlot(float64(i) / 2),
	}
}

func checkRow(t *testing.T, row Row, want []common.Slot) {
	require.NotNil(t, row)
	require.Equal(t, len(want), row.NumAttrs())
	for j := range want {
		got, err := row.Attr(j)
		require.NoError(t, err)
		assert.True(t, want[j].Equal(got), "attr %d want %v got %v", j, want[j], got)
	}
}

func Test_tuple(t *testing.T) {
	vals := testValues(1)
	data, err := EncodeTuple(testSchema, vals)
	require.NoError(t, err)
	tup, err := DecodeTuple(testSchema, data)
	require.NoError(t, err)
	checkRow(t, tup, vals)

	//null occupies no bytes
	vals[0] = common.NullSlot()
	shorter, err := EncodeTuple(testSchema, vals)
	require.NoError(t, err)
	assert.Equal(t, len(data)-4-2, len(shorter))

	//narrower schema, trailing attrs read as NULL
	narrow, err := EncodeTuple(testSchema[:2], vals[:2])
	require.NoError(t, err)
	tup, err = DecodeTuple(testSchema, narrow)
	require.NoError(t, err)
	got, err := tup.Attr(3)
	require.NoError(t, err)
	assert.True(t, got.IsNull())

	_, err = tup.Attr(4)
	assert.True(t, errors.Is(err, ErrMalformedTuple))
}

func Test_tupleMalformed(t *testing.T) {
	data, err := EncodeTuple(testSchema, testValues(1))
	require.NoError(t, err)
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated", data[:len(data)-1]},
		{"trailing", append(append([]byte{}, data...), 0)},
		{"too many attrs", []byte{9, 0, 0xFF, 0xFF}},
		{"no bitmap", []byte{4, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeTuple(testSchema, tt.data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedTuple))
		})
	}

	_, err = EncodeTuple(testSchema, testValues(1)[:2])
	assert.True(t, errors.Is(err, ErrSchemaMismatch))
	bad := testValues(1)
	bad[1] = common.StringSlot("x")
	_, err = EncodeTuple(testSchema, bad)
	assert.True(t, errors.Is(err, ErrSchemaMismatch))
}

func Test_rowStore(t *testing.T) {
	store := NewRowStore(testSchema)
	for i := 0; i < 100; i++ {
		require.NoError(t, store.Append(testValues(i)...))
	}
	assert.Equal(t, 100, store.NItems())
	assert.Equal(t, FormatRow, store.Format())
	for i := 0; i < 100; i++ {
		row, err := store.Row(i)
		require.NoError(t, err)
		checkRow(t, row, testValues(i))
	}
	_, err := store.Row(100)
	assert.Error(t, err)

	store.AppendRaw([]byte{1})
	_, err = store.Row(100)
	assert.True(t, errors.Is(err, ErrMalformedTuple))
}

func Test_blockStore(t *testing.T) {
	store := NewBlockStore(testSchema, 16)
	for i := 0; i < 100; i++ {
		require.NoError(t, store.Append(testValues(i)...))
	}
	assert.Equal(t, 7, store.NParts())
	assert.Equal(t, 16, store.NLines(0))
	assert.Equal(t, 4, store.NLines(6))
	assert.Equal(t, 100, store.NRows())

	store.MarkDead(0, 3)
	store.MarkDead(6, 0)
	assert.Equal(t, 98, store.NRows())
	assert.True(t, store.Part(0).IsDead(3))
	assert.Equal(t, 15, store.Part(0).NLive())

	row, err := store.Line(0, 3)
	require.NoError(t, err)
	assert.Nil(t, row)
	row, err = store.Line(2, 5)
	require.NoError(t, err)
	checkRow(t, row, testValues(2*16+5))

	_, err = store.Line(7, 0)
	assert.Error(t, err)
	_, err = store.Line(6, 4)
	assert.Error(t, err)
}

func Test_columnStore(t *testing.T) {
	for _, useExt := range []bool{false, true} {
		t.Run(fmt.Sprintf("extra=%v", useExt), func(t *testing.T) {
			store := newColumnStore(testSchema, useExt)
			for i := 0; i < 50; i++ {
				require.NoError(t, store.Append(testValues(i)...))
			}
			assert.Equal(t, 50, store.NItems())
			for i := 0; i < 50; i++ {
				row, err := store.Row(i)
				require.NoError(t, err)
				checkRow(t, row, testValues(i))
			}
			//int32 columns are packed at 4 bytes
			assert.Equal(t, 200, len(store.Column(2).Data))
			if useExt {
				assert.Equal(t, FormatColumnExtra, store.Format())
				assert.Empty(t, store.Column(0).Offsets)
			} else {
				assert.Equal(t, FormatColumn, store.Format())
				assert.Empty(t, store.Extra())
			}
		})
	}
}

func Test_columnStoreBadExtra(t *testing.T) {
	store := NewColumnStoreExtra(testSchema)
	require.NoError(t, store.Append(testValues(1)...))
	require.NoError(t, store.Append(testValues(2)...))
	store.SetExtra(store.Extra()[:2])

	row, err := store.Row(0)
	require.NoError(t, err)
	_, err = row.Attr(0)
	require.NoError(t, err)

	row, err = store.Row(1)
	require.NoError(t, err)
	_, err = row.Attr(0)
	assert.True(t, errors.Is(err, ErrMalformedColumn))
	//fixed attributes are still readable
	val, err := row.Attr(1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), val.Int64())
}

func Test_columnStoreBadOffsets(t *testing.T) {
	store := NewColumnStore(testSchema)
	require.NoError(t, store.Append(testValues(1)...))
	col := store.Column(0)
	col.Offsets[1] = uint32(len(col.Data) + 10)
	row, err := store.Row(0)
	require.NoError(t, err)
	_, err = row.Attr(0)
	assert.True(t, errors.Is(err, ErrMalformedColumn))
}

func Test_slotStore(t *testing.T) {
	store := NewSlotStore(2, 1000)
	var eg errgroup.Group
	for g := 0; g < 8; g++ {
		g := g
		eg.Go(func() error {
			for {
				room, ok := store.Reserve(7)
				if !ok {
					return nil
				}
				for i := 0; i < 7; i++ {
					store.Put(room+i, []common.Slot{common.Int64Slot(int64(g)), common.Int64Slot(int64(room + i))})
				}
			}
		})
	}
	require.NoError(t, eg.Wait())
	//all or nothing: 142*7 = 994 rooms, the last 6 stay free
	assert.Equal(t, 994, store.NItems())
	for room := 0; room < store.NItems(); room++ {
		row, err := store.RowAt(room)
		require.NoError(t, err)
		val, err := row.Attr(1)
		require.NoError(t, err)
		assert.Equal(t, int64(room), val.Int64())
	}
	_, err := store.RowAt(994)
	assert.Error(t, err)

	_, ok := store.Reserve(7)
	assert.False(t, ok)
	room, ok := store.Reserve(6)
	assert.True(t, ok)
	assert.Equal(t, 994, room)

	store.Reset()
	assert.Equal(t, 0, store.NItems())
	assert.True(t, store.Row(0)[0].IsNull())
}

func Test_loadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	text := "key|x|y|z\nA|1|2|0.5\nB|2|-3|1.5\nNULL|3|\\N|2.5\nC|4|5|3.5\n"
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))

	for _, format := range []Format{FormatRow, FormatBlock, FormatColumn, FormatColumnExtra} {
		t.Run(format.String(), func(t *testing.T) {
			store, err := NewStore(format, testSchema, 2)
			require.NoError(t, err)
			n, err := LoadCSV(path, '|', true, 0, store)
			require.NoError(t, err)
			assert.Equal(t, 4, n)
			if format == FormatBlock {
				assert.Equal(t, 2, store.NItems())
			} else {
				assert.Equal(t, 4, store.NItems())
			}
		})
	}

	store := NewRowStore(testSchema)
	n, err := LoadCSV(path, '|', true, 2, store)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	row, err := store.Row(1)
	require.NoError(t, err)
	checkRow(t, row, []common.Slot{
		common.StringSlot("B"),
		common.Int64Slot(2),
		common.Int32Slot(-3),
		common.DoubleSlot(1.5),
	})

	_, err = NewStore(FormatSlot, testSchema, 0)
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("A|x|1|1\n"), 0644))
	_, err = LoadCSV(bad, '|', false, 0, NewRowStore(testSchema))
	assert.Error(t, err)
}

type testParquetRow struct {
	Key string  `parquet:"name=key, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	X   int64   `parquet:"name=x, type=INT64"`
	Y   int32   `parquet:"name=y, type=INT32"`
	Z   float64 `parquet:"name=z, type=DOUBLE"`
}

func Test_parquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.parquet")
	rows := make([]interface{}, 0, 100)
	for i := 0; i < 100; i++ {
		rows = append(rows, &testParquetRow{
			Key: fmt.Sprintf("k%d", i%3),
			X:   int64(i),
			Y:   int32(-i),
			Z:   float64(i) / 2,
		})
	}
	require.NoError(t, WriteParquet(path, new(testParquetRow), rows))

	store := NewColumnStore(testSchema)
	n, err := LoadParquet(path, []int{0, 1, 2, 3}, 30, store)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	for i := 0; i < 100; i++ {
		row, err := store.Row(i)
		require.NoError(t, err)
		checkRow(t, row, []common.Slot{
			common.StringSlot(fmt.Sprintf("k%d", i%3)),
			common.Int64Slot(int64(i)),
			common.Int32Slot(int32(-i)),
			common.DoubleSlot(float64(i) / 2),
		})
	}

	//reordered projection
	store2 := NewRowStore(Schema{common.DOUBLE, common.INT64})
	n, err = LoadParquet(path, []int{3, 1}, 64, store2)
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	_, err = LoadParquet(path, []int{0}, 64, NewRowStore(testSchema))
	assert.True(t, errors.Is(err, ErrSchemaMismatch))
}

func Test_parseFormat(t *testing.T) {
	for _, format := range []Format{FormatRow, FormatBlock, FormatColumn, FormatColumnExtra} {
		got, err := ParseFormat(format.String())
		require.NoError(t, err)
		assert.Equal(t, format, got)
	}
	_, err := ParseFormat("slot")
	assert.Error(t, err)
}
