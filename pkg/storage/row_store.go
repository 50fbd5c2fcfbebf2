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
	"fmt"

	"github.com/daviszhen/preagg/pkg/common"
)

// RowStore keeps encoded tuples back to back.
type RowStore struct {
	_schema  Schema
	_data    []byte
	_offsets []int
}

func NewRowStore(schema Schema) *RowStore {
	return &RowStore{
		_schema:  schema,
		_offsets: []int{0},
	}
}

func (store *RowStore) Format() Format {
	return FormatRow
}

func (store *RowStore) Schema() Schema {
	return store._schema
}

func (store *RowStore) NItems() int {
	return len(store._offsets) - 1
}

func (store *RowStore) Append(values ...common.Slot) error {
	data, err := EncodeTuple(store._schema, values)
	if err != nil {
		return err
	}
	store.AppendRaw(data)
	return nil
}

// AppendRaw stores data without checking it. Decoding happens on read.
func (store *RowStore) AppendRaw(data []byte) {
	store._data = append(store._data, data...)
	store._offsets = append(store._offsets, len(store._data))
}

func (store *RowStore) Row(i int) (Row, error) {
	if i < 0 || i >= store.NItems() {
		return nil, fmt.Errorf("row %d out of range [0,%d)", i, store.NItems())
	}
	data := store._data[store._offsets[i]:store._offsets[i+1]]
	tup, err := DecodeTuple(store._schema, data)
	if err != nil {
		return nil, fmt.Errorf("row %d: %w", i, err)
	}
	return tup, nil
}
