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
	"bytes"
	"fmt"
	"math"
	"strconv"
)

// DatumClass tags a value slot.
type DatumClass uint8

const (
	DatumNull DatumClass = iota
	DatumNormal
	//value bytes live in Slot.Extra, Datum holds their length
	DatumExtra
)

func (dc DatumClass) String() string {
	switch dc {
	case DatumNull:
		return "NULL"
	case DatumNormal:
		return "NORMAL"
	case DatumExtra:
		return "EXTRA"
	default:
		return fmt.Sprintf("CLASS(%d)", uint8(dc))
	}
}

// Slot is one projected attribute: its class and its raw value.
// 32-bit values occupy the low word of Datum, floats keep their
// IEEE-754 bit pattern.
type Slot struct {
	Class DatumClass
	Datum uint64
	Extra []byte
}

func NullSlot() Slot {
	return Slot{Class: DatumNull}
}

func Int32Slot(v int32) Slot {
	return Slot{Class: DatumNormal, Datum: uint64(uint32(v))}
}

func Int64Slot(v int64) Slot {
	return Slot{Class: DatumNormal, Datum: uint64(v)}
}

func Uint32Slot(v uint32) Slot {
	return Slot{Class: DatumNormal, Datum: uint64(v)}
}

func Uint64Slot(v uint64) Slot {
	return Slot{Class: DatumNormal, Datum: v}
}

func FloatSlot(v float32) Slot {
	return Slot{Class: DatumNormal, Datum: uint64(math.Float32bits(v))}
}

func DoubleSlot(v float64) Slot {
	return Slot{Class: DatumNormal, Datum: math.Float64bits(v)}
}

func BytesSlot(v []byte) Slot {
	return Slot{Class: DatumExtra, Datum: uint64(len(v)), Extra: v}
}

func StringSlot(v string) Slot {
	return BytesSlot([]byte(v))
}

func (s Slot) IsNull() bool {
	return s.Class == DatumNull
}

func (s Slot) Int32() int32 {
	return int32(uint32(s.Datum))
}

func (s Slot) Int64() int64 {
	return int64(s.Datum)
}

func (s Slot) Uint32() uint32 {
	return uint32(s.Datum)
}

func (s Slot) Uint64() uint64 {
	return s.Datum
}

func (s Slot) Float() float32 {
	return math.Float32frombits(uint32(s.Datum))
}

func (s Slot) Double() float64 {
	return math.Float64frombits(s.Datum)
}

func (s Slot) Bytes() []byte {
	return s.Extra
}

// Equal compares class and raw value. Two NULLs are equal, which is the
// GROUP BY notion of key equality.
func (s Slot) Equal(o Slot) bool {
	if s.Class != o.Class {
		return false
	}
	switch s.Class {
	case DatumNull:
		return true
	case DatumExtra:
		return bytes.Equal(s.Extra, o.Extra)
	default:
		return s.Datum == o.Datum
	}
}

const (
	canonicalNaN32 uint64 = 0x7fc00000
	canonicalNaN64 uint64 = 0x7ff8000000000000
)

// KeyOf is the slot as a group key of type typ: both float zeros become
// +0 and every NaN the same quiet NaN.
func (s Slot) KeyOf(typ PhyType) Slot {
	if s.Class != DatumNormal {
		return s
	}
	switch typ {
	case FLOAT:
		f := s.Float()
		if f == 0 {
			s.Datum = 0
		} else if math.IsNaN(float64(f)) {
			s.Datum = canonicalNaN32
		}
	case DOUBLE:
		f := s.Double()
		if f == 0 {
			s.Datum = 0
		} else if math.IsNaN(f) {
			s.Datum = canonicalNaN64
		}
	}
	return s
}

// Format renders the slot as a value of type typ.
func (s Slot) Format(typ PhyType) string {
	switch s.Class {
	case DatumNull:
		return "NULL"
	case DatumExtra:
		return string(s.Extra)
	}
	switch typ {
	case INT32:
		return strconv.FormatInt(int64(s.Int32()), 10)
	case INT64:
		return strconv.FormatInt(s.Int64(), 10)
	case UINT32:
		return strconv.FormatUint(uint64(s.Uint32()), 10)
	case UINT64:
		return strconv.FormatUint(s.Uint64(), 10)
	case FLOAT:
		return strconv.FormatFloat(float64(s.Float()), 'g', -1, 32)
	case DOUBLE:
		return strconv.FormatFloat(s.Double(), 'g', -1, 64)
	case VARCHAR:
		return string(s.Extra)
	default:
		panic("usp")
	}
}

func (s Slot) String() string {
	switch s.Class {
	case DatumNull:
		return "NULL"
	case DatumExtra:
		return fmt.Sprintf("%q", s.Extra)
	default:
		return fmt.Sprintf("0x%x", s.Datum)
	}
}
