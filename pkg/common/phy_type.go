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
	"fmt"
	"strings"
)

type PhyType int

const (
	NA      PhyType = 0
	UINT32  PhyType = 6
	INT32   PhyType = 7
	UINT64  PhyType = 8
	INT64   PhyType = 9
	FLOAT   PhyType = 11
	DOUBLE  PhyType = 12
	VARCHAR PhyType = 200

	INVALID PhyType = 255
)

var pTypeToStr = map[PhyType]string{
	NA:      "NA",
	UINT32:  "UINT32",
	INT32:   "INT32",
	UINT64:  "UINT64",
	INT64:   "INT64",
	FLOAT:   "FLOAT",
	DOUBLE:  "DOUBLE",
	VARCHAR: "VARCHAR",
	INVALID: "INVALID",
}

var strToPType = map[string]PhyType{
	"int32":   INT32,
	"int":     INT32,
	"int4":    INT32,
	"int64":   INT64,
	"bigint":  INT64,
	"int8":    INT64,
	"uint32":  UINT32,
	"uint64":  UINT64,
	"float":   FLOAT,
	"float32": FLOAT,
	"float4":  FLOAT,
	"double":  DOUBLE,
	"float64": DOUBLE,
	"float8":  DOUBLE,
	"varchar": VARCHAR,
	"text":    VARCHAR,
	"string":  VARCHAR,
}

func (pt PhyType) String() string {
	if s, has := pTypeToStr[pt]; has {
		return s
	}
	panic(fmt.Sprintf("usp %d", int(pt)))
}

func ParsePhyType(s string) (PhyType, error) {
	if pt, has := strToPType[strings.ToLower(strings.TrimSpace(s))]; has {
		return pt, nil
	}
	return INVALID, fmt.Errorf("unknown type %q", s)
}

// Size is the width of the fixed part. Varlena values carry their
// bytes elsewhere.
func (pt PhyType) Size() int {
	switch pt {
	case INT32, UINT32, FLOAT:
		return 4
	case INT64, UINT64, DOUBLE:
		return 8
	case VARCHAR:
		return 8
	default:
		panic("usp")
	}
}

func (pt PhyType) IsVarlen() bool {
	return pt == VARCHAR
}

func (pt PhyType) IsFloat() bool {
	return pt == FLOAT || pt == DOUBLE
}

func (pt PhyType) IsSigned() bool {
	return pt == INT32 || pt == INT64
}

func (pt PhyType) Is32() bool {
	return pt == INT32 || pt == UINT32 || pt == FLOAT
}
