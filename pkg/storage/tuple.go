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

// Encoded tuple:
//
//	natts   uint16
//	nulls   [ceil(natts/8)]byte, set bit = not null
//	values  fixed attrs: 8 bytes little endian
//	        varlena: uint32 length + bytes
//
// NULL attributes occupy no value bytes.
const tupleHeaderSize = 2

func EncodeTuple(schema Schema, values []common.Slot) ([]byte, error) {
	if err := checkValues(schema, values); err != nil {
		return nil, err
	}
	size := tupleHeaderSize + util.EntryCount(len(schema))
	for i, val := range values {
		if val.IsNull() {
			continue
		}
		if schema[i].IsVarlen() {
			size += 4 + len(val.Extra)
		} else {
			size += 8
		}
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint16(buf, uint16(len(schema)))
	nulls := buf[tupleHeaderSize : tupleHeaderSize+util.EntryCount(len(schema))]
	off := tupleHeaderSize + len(nulls)
	for i, val := range values {
		if val.IsNull() {
			continue
		}
		eIdx, pos := util.GetEntryIndex(uint64(i))
		nulls[eIdx] |= 1 << pos
		if schema[i].IsVarlen() {
			binary.LittleEndian.PutUint32(buf[off:], uint32(len(val.Extra)))
			off += 4
			off += copy(buf[off:], val.Extra)
		} else {
			binary.LittleEndian.PutUint64(buf[off:], val.Datum)
			off += 8
		}
	}
	return buf, nil
}

// Tuple is a decoded view over one encoded tuple. The varlena values
// alias the encoded bytes.
type Tuple struct {
	_schema Schema
	_values []common.Slot
}

func (tup *Tuple) NumAttrs() int {
	return len(tup._values)
}

func (tup *Tuple) Attr(i int) (common.Slot, error) {
	if i < 0 || i >= len(tup._values) {
		return common.NullSlot(), fmt.Errorf("%w: attribute %d out of range", ErrMalformedTuple, i)
	}
	return tup._values[i], nil
}

// DecodeTuple checks the encoded bytes against schema. Attributes missing
// from a tuple written by an older, narrower schema read as NULL.
func DecodeTuple(schema Schema, data []byte) (*Tuple, error) {
	if len(data) < tupleHeaderSize {
		return nil, fmt.Errorf("%w: %d header bytes", ErrMalformedTuple, len(data))
	}
	natts := int(binary.LittleEndian.Uint16(data))
	if natts > len(schema) {
		return nil, fmt.Errorf("%w: %d attributes, schema has %d", ErrMalformedTuple, natts, len(schema))
	}
	nullsLen := util.EntryCount(natts)
	if len(data) < tupleHeaderSize+nullsLen {
		return nil, fmt.Errorf("%w: truncated null bitmap", ErrMalformedTuple)
	}
	nulls := data[tupleHeaderSize : tupleHeaderSize+nullsLen]
	off := tupleHeaderSize + nullsLen
	tup := &Tuple{
		_schema: schema,
		_values: make([]common.Slot, len(schema)),
	}
	for i := 0; i < natts; i++ {
		eIdx, pos := util.GetEntryIndex(uint64(i))
		if !util.EntryIsSet(nulls[eIdx], pos) {
			continue
		}
		if schema[i].IsVarlen() {
			if off+4 > len(data) {
				return nil, fmt.Errorf("%w: attribute %d truncated length", ErrMalformedTuple, i)
			}
			n := int(binary.LittleEndian.Uint32(data[off:]))
			off += 4
			if n < 0 || off+n > len(data) {
				return nil, fmt.Errorf("%w: attribute %d length %d exceeds tuple", ErrMalformedTuple, i, n)
			}
			tup._values[i] = common.BytesSlot(data[off : off+n : off+n])
			off += n
		} else {
			if off+8 > len(data) {
				return nil, fmt.Errorf("%w: attribute %d truncated value", ErrMalformedTuple, i)
			}
			tup._values[i] = common.Slot{
				Class: common.DatumNormal,
				Datum: binary.LittleEndian.Uint64(data[off:]),
			}
			off += 8
		}
	}
	if off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedTuple, len(data)-off)
	}
	return tup, nil
}
