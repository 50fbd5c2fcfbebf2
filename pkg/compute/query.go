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
	"slices"
	"strings"

	"github.com/daviszhen/preagg/pkg/common"
	"github.com/daviszhen/preagg/pkg/storage"
)

// Column is a named source column.
type Column struct {
	Name string
	Typ  common.PhyType
}

// ParseSchema parses "name:type,name:type".
func ParseSchema(s string) ([]Column, storage.Schema, error) {
	var cols []Column
	var schema storage.Schema
	for _, field := range splitList(s) {
		name, typName, ok := strings.Cut(field, ":")
		if !ok {
			return nil, nil, fmt.Errorf("column %q has no type", field)
		}
		typ, err := common.ParsePhyType(typName)
		if err != nil {
			return nil, nil, fmt.Errorf("column %s: %w", name, err)
		}
		cols = append(cols, Column{Name: strings.TrimSpace(name), Typ: typ})
		schema = append(schema, typ)
	}
	if len(cols) == 0 {
		return nil, nil, fmt.Errorf("empty schema")
	}
	return cols, schema, nil
}

func splitList(s string) []string {
	var ret []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ret = append(ret, part)
		}
	}
	return ret
}

// Query is a GROUP BY over named columns.
type Query struct {
	Layout *Layout
	Funcs  *ExprFuncs
}

// BuildQuery makes the layout and functions of
// "SELECT groupBy..., agg... FROM cols GROUP BY groupBy...". An aggregate
// is "op:column", with count:* and count:column counting rows.
func BuildQuery(cols []Column, groupBy, aggs string, hllBits int) (*Query, error) {
	colIdx := func(name string) (int, error) {
		idx := slices.IndexFunc(cols, func(col Column) bool {
			return strings.EqualFold(col.Name, name)
		})
		if idx < 0 {
			return -1, fmt.Errorf("no column %q", name)
		}
		return idx, nil
	}
	var attrs []AttrDesc
	var projs []Projection
	for _, name := range splitList(groupBy) {
		idx, err := colIdx(name)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, AttrDesc{Name: cols[idx].Name, Typ: cols[idx].Typ, IsKey: true})
		projs = append(projs, ColumnRef(idx))
	}
	for _, agg := range splitList(aggs) {
		opName, colName, ok := strings.Cut(agg, ":")
		if !ok {
			return nil, fmt.Errorf("%w: aggregate %q has no column", common.ErrUnsupportedAccum, agg)
		}
		opName = strings.ToLower(strings.TrimSpace(opName))
		colName = strings.TrimSpace(colName)
		attrName := fmt.Sprintf("%s(%s)", opName, colName)
		if opName == "count" {
			attrs = append(attrs, AttrDesc{Name: attrName, Typ: common.INT64, Accum: common.ACCUM_ADD})
			if colName == "*" {
				projs = append(projs, CountStar())
				continue
			}
			idx, err := colIdx(colName)
			if err != nil {
				return nil, err
			}
			projs = append(projs, CountColumn(idx))
			continue
		}
		idx, err := colIdx(colName)
		if err != nil {
			return nil, err
		}
		kind, err := common.ParseAccumKind(opName + ":" + strings.ToLower(cols[idx].Typ.String()))
		if err != nil {
			return nil, fmt.Errorf("aggregate %s: %w", agg, err)
		}
		attrs = append(attrs, AttrDesc{Name: attrName, Typ: kind.Typ, Accum: kind.Op})
		projs = append(projs, ColumnRef(idx))
	}
	layout, err := NewLayout(attrs, hllBits)
	if err != nil {
		return nil, err
	}
	funcs, err := NewExprFuncs(layout, projs, nil)
	if err != nil {
		return nil, err
	}
	return &Query{Layout: layout, Funcs: funcs}, nil
}
