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

	"github.com/bits-and-blooms/bitset"

	"github.com/daviszhen/preagg/pkg/common"
)

const DefaultPageLines = 256

// Page is one partition of a BlockStore. Line pointers index encoded
// tuples; a dead line keeps its pointer but is skipped by readers.
type Page struct {
	_data  []byte
	_lines []int
	_dead  *bitset.BitSet
}

func (page *Page) NLines() int {
	return len(page._lines) - 1
}

func (page *Page) IsDead(line int) bool {
	return page._dead.Test(uint(line))
}

func (page *Page) NLive() int {
	return page.NLines() - int(page._dead.Count())
}

// BlockStore is a sequence of pages of encoded tuples.
type BlockStore struct {
	_schema    Schema
	_pageLines int
	_pages     []*Page
}

func NewBlockStore(schema Schema, pageLines int) *BlockStore {
	if pageLines <= 0 {
		pageLines = DefaultPageLines
	}
	return &BlockStore{
		_schema:    schema,
		_pageLines: pageLines,
	}
}

func (store *BlockStore) Format() Format {
	return FormatBlock
}

func (store *BlockStore) Schema() Schema {
	return store._schema
}

// NItems is the number of partitions.
func (store *BlockStore) NItems() int {
	return len(store._pages)
}

func (store *BlockStore) NParts() int {
	return len(store._pages)
}

func (store *BlockStore) Part(part int) *Page {
	return store._pages[part]
}

// NLines returns the line pointer count of one partition.
func (store *BlockStore) NLines(part int) int {
	return store._pages[part].NLines()
}

// NRows counts live tuples over every partition.
func (store *BlockStore) NRows() int {
	n := 0
	for _, page := range store._pages {
		n += page.NLive()
	}
	return n
}

func (store *BlockStore) Append(values ...common.Slot) error {
	data, err := EncodeTuple(store._schema, values)
	if err != nil {
		return err
	}
	store.AppendRaw(data)
	return nil
}

func (store *BlockStore) AppendRaw(data []byte) {
	var page *Page
	if len(store._pages) != 0 {
		page = store._pages[len(store._pages)-1]
	}
	if page == nil || page.NLines() >= store._pageLines {
		page = &Page{
			_lines: []int{0},
			_dead:  bitset.New(uint(store._pageLines)),
		}
		store._pages = append(store._pages, page)
	}
	page._data = append(page._data, data...)
	page._lines = append(page._lines, len(page._data))
}

func (store *BlockStore) MarkDead(part, line int) {
	store._pages[part]._dead.Set(uint(line))
}

// Line decodes one line of a partition. A dead line returns nil.
func (store *BlockStore) Line(part, line int) (Row, error) {
	if part < 0 || part >= len(store._pages) {
		return nil, fmt.Errorf("partition %d out of range [0,%d)", part, len(store._pages))
	}
	page := store._pages[part]
	if line < 0 || line >= page.NLines() {
		return nil, fmt.Errorf("line %d out of range [0,%d) in partition %d", line, page.NLines(), part)
	}
	if page.IsDead(line) {
		return nil, nil
	}
	tup, err := DecodeTuple(store._schema, page._data[page._lines[line]:page._lines[line+1]])
	if err != nil {
		return nil, fmt.Errorf("partition %d line %d: %w", part, line, err)
	}
	return tup, nil
}
