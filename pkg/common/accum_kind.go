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
	"fmt"
	"strings"
)

type AccumOp int

const (
	//carried through, never combined
	ACCUM_NONE AccumOp = iota
	ACCUM_MIN
	ACCUM_MAX
	ACCUM_ADD
	ACCUM_HLL
)

var accumOpToStr = map[AccumOp]string{
	ACCUM_NONE: "none",
	ACCUM_MIN:  "min",
	ACCUM_MAX:  "max",
	ACCUM_ADD:  "sum",
	ACCUM_HLL:  "hll",
}

var strToAccumOp = map[string]AccumOp{
	"none":                  ACCUM_NONE,
	"min":                   ACCUM_MIN,
	"max":                   ACCUM_MAX,
	"sum":                   ACCUM_ADD,
	"add":                   ACCUM_ADD,
	"hll":                   ACCUM_HLL,
	"approx_count_distinct": ACCUM_HLL,
}

func (op AccumOp) String() string {
	if s, has := accumOpToStr[op]; has {
		return s
	}
	return fmt.Sprintf("op(%d)", int(op))
}

var ErrUnsupportedAccum = errors.New("unsupported aggregate kind")

// AccumKind selects one combine primitive: an operation over the
// physical type of its input.
type AccumKind struct {
	Op  AccumOp
	Typ PhyType
}

func MakeAccumKind(op AccumOp, typ PhyType) AccumKind {
	return AccumKind{Op: op, Typ: typ}
}

func (kind AccumKind) String() string {
	name, has := pTypeToStr[kind.Typ]
	if !has {
		name = fmt.Sprintf("type(%d)", int(kind.Typ))
	}
	return kind.Op.String() + ":" + strings.ToLower(name)
}

// Check reports ErrUnsupportedAccum for combinations no primitive exists for.
func (kind AccumKind) Check() error {
	switch kind.Op {
	case ACCUM_NONE, ACCUM_HLL:
		if _, has := pTypeToStr[kind.Typ]; has && kind.Typ != NA && kind.Typ != INVALID {
			return nil
		}
	case ACCUM_MIN, ACCUM_MAX, ACCUM_ADD:
		switch kind.Typ {
		case INT32, INT64, UINT32, UINT64, FLOAT, DOUBLE:
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedAccum, kind)
}

// ParseAccumKind parses "op:type", e.g. "sum:int64" or "hll:varchar".
func ParseAccumKind(s string) (AccumKind, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return AccumKind{}, fmt.Errorf("%w: malformed %q", ErrUnsupportedAccum, s)
	}
	op, has := strToAccumOp[strings.ToLower(parts[0])]
	if !has {
		return AccumKind{}, fmt.Errorf("%w: unknown operation %q", ErrUnsupportedAccum, parts[0])
	}
	typ, err := ParsePhyType(parts[1])
	if err != nil {
		return AccumKind{}, fmt.Errorf("%w: %v", ErrUnsupportedAccum, err)
	}
	kind := MakeAccumKind(op, typ)
	if err = kind.Check(); err != nil {
		return AccumKind{}, err
	}
	return kind, nil
}
