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
	"encoding/binary"
	"fmt"

	"github.com/daviszhen/preagg/pkg/common"
	"github.com/daviszhen/preagg/pkg/util"
)

// Column is one attribute of a ColumnStore.
//
// Fixed width values are packed in Data with Typ.Size() bytes each.
// Varlena values are Offsets[i]..Offsets[i+1] of Data when the store
// has no extra area. With an extra area, Data holds one 8-byte
// reference (offset<<32 | length) per row into the shared area.
type Column struct {
	Typ      common.PhyType
	Validity util.Bitmap
	Data     []byte
	Offsets  []uint32
}

// ColumnStore is a columnar batch. Rows are views, decoded per attribute.
type ColumnStore struct {
	_schema Schema
	_cols   []*Column
	_extra  []byte
	_nrows  int
	_useExt bool
}

func NewColumnStore(schema Schema) *ColumnStore {
	return newColumnStore(schema, false)
}

// NewColumnStoreExtra places every varlena value in one extra area
// shared by all columns.
func NewColumnStoreExtra(schema Schema) *ColumnStore {
	return newColumnStore(schema, true)
}

func newColumnStore(schema Schema, useExt bool) *ColumnStore {
	store := &ColumnStore{
		_schema: schema,
		_useExt: useExt,
	}
	for _, typ := range schema {
		col := &Column{Typ: typ}
		if typ.IsVarlen() && !useExt {
			col.Offsets = []uint32{0}
		}
		store._cols = append(store._cols, col)
	}
	return store
}

func (store *ColumnStore) Format() Format {
	if store._useExt {
		return FormatColumnExtra
	}
	return FormatColumn
}

func (store *ColumnStore) Schema() Schema {
	return store._schema
}

func (store *ColumnStore) NItems() int {
	return store._nrows
}

func (store *ColumnStore) Column(i int) *Column {
	return store._cols[i]
}

func (store *ColumnStore) Extra() []byte {
	return store._extra
}

// SetExtra replaces the extra area. Out of range references are
// reported when the row is read.
func (store *ColumnStore) SetExtra(extra []byte) {
	store._extra = extra
}

func (store *ColumnStore) Append(values ...common.Slot) error {
	if err := checkValues(store._schema, values); err != nil {
		return err
	}
	row := uint64(store._nrows)
	for i, val := range values {
		col := store._cols[i]
		if val.IsNull() {
			col.Validity.SetInvalid(row)
		} else {
			col.Validity.Grow(int(row) + 1)
		}
		switch {
		case !col.Typ.IsVarlen():
			var buf [8]byte
			if col.Typ.Size() == 4 {
				binary.LittleEndian.PutUint32(buf[:], uint32(val.Datum))
			} else {
				binary.LittleEndian.PutUint64(buf[:], val.Datum)
			}
			col.Data = append(col.Data, buf[:col.Typ.Size()]...)
		case store._useExt:
			ref := uint64(len(store._extra))<<32 | uint64(len(val.Extra))
			store._extra = append(store._extra, val.Extra...)
			col.Data = binary.LittleEndian.AppendUint64(col.Data, ref)
		default:
			col.Data = append(col.Data, val.Extra...)
			col.Offsets = append(col.Offsets, uint32(len(col.Data)))
		}
	}
	store._nrows++
	return nil
}

func (store *ColumnStore) Row(i int) (Row, error) {
	if i < 0 || i >= store._nrows {
		return nil, fmt.Errorf("row %d out of range [0,%d)", i, store._nrows)
	}
	return &columnRow{_store: store, _row: i}, nil
}

func (store *ColumnStore) value(attr, row int) (common.Slot, error) {
	col := store._cols[attr]
	if !col.Validity.RowIsValid(uint64(row)) {
		return common.NullSlot(), nil
	}
	if !col.Typ.IsVarlen() {
		width := col.Typ.Size()
		off := row * width
		if off+width > len(col.Data) {
			return common.NullSlot(), fmt.Errorf("%w: attribute %d row %d beyond %d data bytes",
				ErrMalformedColumn, attr, row, len(col.Data))
		}
		if width == 4 {
			return common.Slot{
				Class: common.DatumNormal,
				Datum: uint64(binary.LittleEndian.Uint32(col.Data[off:])),
			}, nil
		}
		return common.Slot{
			Class: common.DatumNormal,
			Datum: binary.LittleEndian.Uint64(col.Data[off:]),
		}, nil
	}
	if store._useExt {
		off := row * 8
		if off+8 > len(col.Data) {
			return common.NullSlot(), fmt.Errorf("%w: attribute %d row %d has no extra reference",
				ErrMalformedColumn, attr, row)
		}
		ref := binary.LittleEndian.Uint64(col.Data[off:])
		begin, n := ref>>32, ref&0xFFFFFFFF
		if begin+n > uint64(len(store._extra)) {
			return common.NullSlot(), fmt.Errorf("%w: attribute %d row %d reference [%d,%d) beyond extra area of %d bytes",
				ErrMalformedColumn, attr, row, begin, begin+n, len(store._extra))
		}
		return common.BytesSlot(store._extra[begin : begin+n : begin+n]), nil
	}
	if row+1 >= len(col.Offsets) {
		return common.NullSlot(), fmt.Errorf("%w: attribute %d row %d has no offset",
			ErrMalformedColumn, attr, row)
	}
	begin, end := col.Offsets[row], col.Offsets[row+1]
	if begin > end || int(end) > len(col.Data) {
		return common.NullSlot(), fmt.Errorf("%w: attribute %d row %d offsets [%d,%d) of %d bytes",
			ErrMalformedColumn, attr, row, begin, end, len(col.Data))
	}
	return common.BytesSlot(col.Data[begin:end:end]), nil
}

type columnRow struct {
	_store *ColumnStore
	_row   int
}

func (row *columnRow) NumAttrs() int {
	return len(row._store._cols)
}

func (row *columnRow) Attr(i int) (common.Slot, error) {
	if i < 0 || i >= len(row._store._cols) {
		return common.NullSlot(), fmt.Errorf("%w: attribute %d out of range", ErrMalformedColumn, i)
	}
	return row._store.value(i, row._row)
}
