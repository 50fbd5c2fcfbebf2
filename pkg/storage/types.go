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

	"github.com/daviszhen/preagg/pkg/common"
)

// Format is the physical layout of a data store.
type Format int

const (
	FormatRow Format = iota
	FormatBlock
	FormatColumn
	FormatColumnExtra
	FormatSlot
)

func (f Format) String() string {
	switch f {
	case FormatRow:
		return "row"
	case FormatBlock:
		return "block"
	case FormatColumn:
		return "column"
	case FormatColumnExtra:
		return "column_extra"
	case FormatSlot:
		return "slot"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

func ParseFormat(s string) (Format, error) {
	switch s {
	case "row":
		return FormatRow, nil
	case "block":
		return FormatBlock, nil
	case "column":
		return FormatColumn, nil
	case "column_extra":
		return FormatColumnExtra, nil
	}
	return FormatRow, fmt.Errorf("unknown layout %q", s)
}

var (
	ErrMalformedTuple  = errors.New("malformed tuple")
	ErrMalformedColumn = errors.New("malformed column")
	ErrSchemaMismatch  = errors.New("schema mismatch")
)

type Schema []common.PhyType

// Row is one source row, independent of its physical layout.
type Row interface {
	NumAttrs() int
	Attr(i int) (common.Slot, error)
}

// DataStore is an input batch of one physical layout.
type DataStore interface {
	Format() Format
	Schema() Schema
	// NItems is the number of rows, or of partitions for FormatBlock.
	NItems() int
}

// SlotRow is an already materialized row.
type SlotRow []common.Slot

func (row SlotRow) NumAttrs() int {
	return len(row)
}

func (row SlotRow) Attr(i int) (common.Slot, error) {
	if i < 0 || i >= len(row) {
		return common.NullSlot(), fmt.Errorf("attribute %d out of range [0,%d)", i, len(row))
	}
	return row[i], nil
}

func checkValues(schema Schema, values []common.Slot) error {
	if len(values) != len(schema) {
		return fmt.Errorf("%w: %d values for %d attributes", ErrSchemaMismatch, len(values), len(schema))
	}
	for i, val := range values {
		if val.Class == common.DatumNull {
			continue
		}
		if schema[i].IsVarlen() != (val.Class == common.DatumExtra) {
			return fmt.Errorf("%w: attribute %d of type %s got %s value",
				ErrSchemaMismatch, i, schema[i], val.Class)
		}
	}
	return nil
}
