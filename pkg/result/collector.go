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

package result

import (
	"bytes"
	"cmp"
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/btree"

	"github.com/daviszhen/preagg/pkg/common"
	"github.com/daviszhen/preagg/pkg/compute"
)

// Group is one finished group: its keys and accumulators.
type Group struct {
	Keys   []common.Slot
	Accums []compute.Accum
}

// Collector finishes the aggregation of drained batches. Groups arriving
// in several batches are merged by key and kept in key order.
type Collector struct {
	_lock    sync.Mutex
	_layout  *compute.Layout
	_groups  *btree.BTreeG[*Group]
	_batches int
	_rows    int
}

func NewCollector(layout *compute.Layout) *Collector {
	return &Collector{
		_layout: layout,
		_groups: btree.NewBTreeG[*Group](func(a, b *Group) bool {
			return compareKeys(layout, a.Keys, b.Keys) < 0
		}),
	}
}

// compareKeys orders groups by their key attributes. NULL sorts first.
func compareKeys(layout *compute.Layout, x, y []common.Slot) int {
	for _, idx := range layout.Keys() {
		if c := compareSlot(layout.Attrs[idx].Typ, x[idx], y[idx]); c != 0 {
			return c
		}
	}
	return 0
}

func compareSlot(typ common.PhyType, x, y common.Slot) int {
	if x.IsNull() || y.IsNull() {
		switch {
		case x.IsNull() && y.IsNull():
			return 0
		case x.IsNull():
			return -1
		default:
			return 1
		}
	}
	switch typ {
	case common.INT32:
		return cmp.Compare(x.Int32(), y.Int32())
	case common.INT64:
		return cmp.Compare(x.Int64(), y.Int64())
	case common.UINT32:
		return cmp.Compare(x.Uint32(), y.Uint32())
	case common.UINT64:
		return cmp.Compare(x.Uint64(), y.Uint64())
	case common.FLOAT:
		return cmp.Compare(x.Float(), y.Float())
	case common.DOUBLE:
		return cmp.Compare(x.Double(), y.Double())
	case common.VARCHAR:
		return bytes.Compare(x.Bytes(), y.Bytes())
	default:
		panic("usp")
	}
}

func (coll *Collector) WriteBatch(batch *compute.PartialBatch) error {
	if batch.Layout != coll._layout {
		return fmt.Errorf("batch of layout %s written to collector of %s", batch.Layout, coll._layout)
	}
	coll._lock.Lock()
	defer coll._lock.Unlock()
	coll._batches++
	coll._rows += len(batch.Rows)
	incoming := coll._layout.NewAccums()
	for _, row := range batch.Rows {
		coll._layout.InitAccums(incoming)
		coll._layout.Restore(incoming, row.Accums)
		group, has := coll._groups.Get(&Group{Keys: row.Keys})
		if !has {
			group = &Group{
				Keys:   row.Keys,
				Accums: coll._layout.NewAccums(),
			}
			coll._groups.Set(group)
		}
		coll._layout.MergeAtomic(group.Accums, incoming)
	}
	return nil
}

func (coll *Collector) Len() int {
	coll._lock.Lock()
	defer coll._lock.Unlock()
	return coll._groups.Len()
}

// Batches returns the number of batches and rows written.
func (coll *Collector) Batches() (int, int) {
	coll._lock.Lock()
	defer coll._lock.Unlock()
	return coll._batches, coll._rows
}

// Row is a finished group: key values then accumulated values, in
// attribute order.
type Row struct {
	Keys   []common.Slot
	Values []compute.AccumValue
}

// Rows returns the groups in key order.
func (coll *Collector) Rows() []Row {
	coll._lock.Lock()
	defer coll._lock.Unlock()
	ret := make([]Row, 0, coll._groups.Len())
	coll._groups.Scan(func(group *Group) bool {
		keys := make([]common.Slot, 0, len(coll._layout.Keys()))
		for _, idx := range coll._layout.Keys() {
			keys = append(keys, group.Keys[idx])
		}
		ret = append(ret, Row{
			Keys:   keys,
			Values: coll._layout.Snapshot(group.Accums),
		})
		return true
	})
	return ret
}

// Lookup finds the group of the key values, given in key order.
func (coll *Collector) Lookup(keys ...common.Slot) (Row, bool) {
	layout := coll._layout
	if len(keys) != len(layout.Keys()) {
		return Row{}, false
	}
	lookup := make([]common.Slot, layout.NumAttrs())
	for i, idx := range layout.Keys() {
		lookup[idx] = keys[i]
	}
	coll._lock.Lock()
	defer coll._lock.Unlock()
	group, has := coll._groups.Get(&Group{Keys: lookup})
	if !has {
		return Row{}, false
	}
	return Row{
		Keys:   keys,
		Values: layout.Snapshot(group.Accums),
	}, true
}

// Format renders the groups as tab separated lines with a header.
func (coll *Collector) Format() string {
	layout := coll._layout
	sb := strings.Builder{}
	names := make([]string, 0, layout.NumAttrs())
	for _, idx := range layout.Keys() {
		names = append(names, layout.Attrs[idx].Name)
	}
	for _, idx := range layout.Accums() {
		names = append(names, layout.Attrs[idx].Name)
	}
	sb.WriteString(strings.Join(names, "\t"))
	sb.WriteByte('\n')
	for _, row := range coll.Rows() {
		fields := make([]string, 0, len(names))
		for i, key := range row.Keys {
			fields = append(fields, key.Format(layout.Attrs[layout.Keys()[i]].Typ))
		}
		for _, val := range row.Values {
			fields = append(fields, val.Slot().Format(val.ResultType()))
		}
		sb.WriteString(strings.Join(fields, "\t"))
		sb.WriteByte('\n')
	}
	return sb.String()
}
