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
	"strings"

	"github.com/daviszhen/preagg/pkg/common"
)

// AttrDesc describes one projected attribute. A group key is copied into
// the final row; any other attribute is combined with its Accum
// operation.
type AttrDesc struct {
	Name  string
	Typ   common.PhyType
	IsKey bool
	Accum common.AccumOp
}

func (attr AttrDesc) String() string {
	if attr.IsKey {
		return fmt.Sprintf("%s %s key", attr.Name, attr.Typ)
	}
	return fmt.Sprintf("%s %s", attr.Name, common.MakeAccumKind(attr.Accum, attr.Typ))
}

// Layout is the shape of a projected row and of a final row.
type Layout struct {
	Attrs []AttrDesc
	//attribute indexes of group keys
	_keys []int
	//attribute indexes of accumulators
	_accs  []int
	_calcs []AggCalc
}

// NewLayout checks every accumulate kind before anything runs.
func NewLayout(attrs []AttrDesc, hllBits int) (*Layout, error) {
	if len(attrs) == 0 {
		return nil, fmt.Errorf("empty layout")
	}
	layout := &Layout{Attrs: attrs}
	for i, attr := range attrs {
		if attr.IsKey {
			if attr.Typ == common.NA || attr.Typ == common.INVALID {
				return nil, fmt.Errorf("%w: key %s has no type", common.ErrUnsupportedAccum, attr.Name)
			}
			layout._keys = append(layout._keys, i)
			continue
		}
		calc, err := NewAggCalc(common.MakeAccumKind(attr.Accum, attr.Typ), hllBits)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", attr.Name, err)
		}
		layout._accs = append(layout._accs, i)
		layout._calcs = append(layout._calcs, calc)
	}
	return layout, nil
}

func (layout *Layout) NumAttrs() int {
	return len(layout.Attrs)
}

func (layout *Layout) HasGroupBy() bool {
	return len(layout._keys) != 0
}

func (layout *Layout) Keys() []int {
	return layout._keys
}

func (layout *Layout) Accums() []int {
	return layout._accs
}

func (layout *Layout) Calc(i int) AggCalc {
	return layout._calcs[i]
}

func (layout *Layout) NumAccums() int {
	return len(layout._accs)
}

// NewAccums returns initialized accumulators of one row.
func (layout *Layout) NewAccums() []Accum {
	accs := make([]Accum, len(layout._calcs))
	layout.InitAccums(accs)
	return accs
}

func (layout *Layout) InitAccums(accs []Accum) {
	for i, calc := range layout._calcs {
		calc.Init(&accs[i])
	}
}

// UpdateNormal folds one projected row into private accumulators.
func (layout *Layout) UpdateNormal(accs []Accum, slots []common.Slot) {
	for i, calc := range layout._calcs {
		calc.UpdateNormal(&accs[i], slots[layout._accs[i]])
	}
}

func (layout *Layout) UpdateAtomic(accs []Accum, slots []common.Slot) {
	for i, calc := range layout._calcs {
		calc.UpdateAtomic(&accs[i], slots[layout._accs[i]])
	}
}

func (layout *Layout) CombineLocal(dst, src []Accum) {
	for i, calc := range layout._calcs {
		calc.CombineLocal(&dst[i], &src[i])
	}
}

func (layout *Layout) MergeAtomic(dst, src []Accum) {
	for i, calc := range layout._calcs {
		calc.MergeAtomic(&dst[i], &src[i])
	}
}

func (layout *Layout) Snapshot(accs []Accum) []AccumValue {
	ret := make([]AccumValue, len(accs))
	for i, calc := range layout._calcs {
		ret[i] = snapshotAccum(calc.Kind(), &accs[i])
	}
	return ret
}

// Restore loads drained values into initialized accumulators.
func (layout *Layout) Restore(accs []Accum, vals []AccumValue) {
	for i := range layout._calcs {
		accs[i].restore(vals[i])
	}
}

func (layout *Layout) String() string {
	parts := make([]string, len(layout.Attrs))
	for i, attr := range layout.Attrs {
		parts[i] = attr.String()
	}
	return strings.Join(parts, ", ")
}
