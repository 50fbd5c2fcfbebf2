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

	"github.com/daviszhen/preagg/pkg/common"
	"github.com/daviszhen/preagg/pkg/storage"
	"github.com/daviszhen/preagg/pkg/util"
)

// QueryFuncs are the per query functions a kernel is launched with.
// Project fills dst, one slot per layout attribute. Hash and KeysEqual
// only look at the group key attributes.
type QueryFuncs interface {
	Qualify(row storage.Row) (bool, error)
	Project(row storage.Row, dst []common.Slot) error
	Hash(slots []common.Slot) (uint32, error)
	KeysEqual(x, y []common.Slot) (bool, error)
}

type ProjKind int

const (
	PROJ_COLUMN ProjKind = iota
	PROJ_CONST
	//constant 1, for count(*)
	PROJ_COUNT_STAR
	//1 for non null values, 0 for nulls
	PROJ_COUNT_COLUMN
	PROJ_FUNC
)

// Projection computes one attribute of a projected row.
type Projection struct {
	Kind  ProjKind
	Col   int
	Const common.Slot
	Func  func(row storage.Row) (common.Slot, error)
}

func ColumnRef(col int) Projection {
	return Projection{Kind: PROJ_COLUMN, Col: col}
}

func Const(val common.Slot) Projection {
	return Projection{Kind: PROJ_CONST, Const: val}
}

func CountStar() Projection {
	return Projection{Kind: PROJ_COUNT_STAR}
}

func CountColumn(col int) Projection {
	return Projection{Kind: PROJ_COUNT_COLUMN, Col: col}
}

func FuncRef(fn func(row storage.Row) (common.Slot, error)) Projection {
	return Projection{Kind: PROJ_FUNC, Func: fn}
}

func (proj *Projection) Eval(row storage.Row) (common.Slot, error) {
	switch proj.Kind {
	case PROJ_COLUMN:
		return row.Attr(proj.Col)
	case PROJ_CONST:
		return proj.Const, nil
	case PROJ_COUNT_STAR:
		return common.Int64Slot(1), nil
	case PROJ_COUNT_COLUMN:
		val, err := row.Attr(proj.Col)
		if err != nil {
			return common.NullSlot(), err
		}
		if val.IsNull() {
			return common.Int64Slot(0), nil
		}
		return common.Int64Slot(1), nil
	case PROJ_FUNC:
		return proj.Func(row)
	default:
		panic("usp")
	}
}

// ExprFuncs evaluates a list of projections and an optional filter.
type ExprFuncs struct {
	_layout *Layout
	_projs  []Projection
	_filter func(row storage.Row) (bool, error)
}

func NewExprFuncs(layout *Layout, projs []Projection, filter func(storage.Row) (bool, error)) (*ExprFuncs, error) {
	if len(projs) != layout.NumAttrs() {
		return nil, fmt.Errorf("%d projections for %d attributes", len(projs), layout.NumAttrs())
	}
	return &ExprFuncs{
		_layout: layout,
		_projs:  projs,
		_filter: filter,
	}, nil
}

func (funcs *ExprFuncs) Qualify(row storage.Row) (bool, error) {
	if funcs._filter == nil {
		return true, nil
	}
	return funcs._filter(row)
}

func (funcs *ExprFuncs) Project(row storage.Row, dst []common.Slot) error {
	var err error
	for i := range funcs._projs {
		dst[i], err = funcs._projs[i].Eval(row)
		if err != nil {
			return fmt.Errorf("attribute %s: %w", funcs._layout.Attrs[i].Name, err)
		}
	}
	return nil
}

const nullKeyHash uint64 = 0x9ae16a3b2f90404f

func (funcs *ExprFuncs) Hash(slots []common.Slot) (uint32, error) {
	h := uint64(0)
	for _, idx := range funcs._layout.Keys() {
		val := slots[idx].KeyOf(funcs._layout.Attrs[idx].Typ)
		var next uint64
		switch val.Class {
		case common.DatumNull:
			next = nullKeyHash
		case common.DatumExtra:
			next = util.HashBytes(val.Extra)
		default:
			next = util.HashUint64(val.Datum)
		}
		h = util.CombineHash(h, next)
	}
	return util.FoldHash32(h), nil
}

func (funcs *ExprFuncs) KeysEqual(x, y []common.Slot) (bool, error) {
	for _, idx := range funcs._layout.Keys() {
		typ := funcs._layout.Attrs[idx].Typ
		if !x[idx].KeyOf(typ).Equal(y[idx].KeyOf(typ)) {
			return false, nil
		}
	}
	return true, nil
}
