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
	"encoding/binary"
	"math"
	"math/bits"
	"sync/atomic"

	"github.com/twmb/murmur3"

	"github.com/daviszhen/preagg/pkg/common"
)

// hllCalc is a HyperLogLog sketch of 2^bits registers. The register of a
// value is picked by the top bits of its hash, the rank comes from the
// leading zeros of the rest.
type hllCalc struct {
	_kind common.AccumKind
	_bits uint
}

func newHLLCalc(kind common.AccumKind, hllBits int) *hllCalc {
	return &hllCalc{
		_kind: kind,
		_bits: uint(hllBits),
	}
}

func (calc *hllCalc) Kind() common.AccumKind {
	return calc._kind
}

func (calc *hllCalc) nregs() int {
	return 1 << calc._bits
}

func (calc *hllCalc) Init(acc *Accum) {
	acc._class.Store(uint32(common.DatumNull))
	acc._datum.Store(0)
	nwords := calc.nregs() / 4
	if len(acc._regs) != nwords {
		acc._regs = make([]atomic.Uint32, nwords)
		return
	}
	for i := range acc._regs {
		acc._regs[i].Store(0)
	}
}

// HashSlot is the 64-bit hash a sketch counts.
func HashSlot(val common.Slot) uint64 {
	if val.Class == common.DatumExtra {
		return murmur3.Sum64(val.Extra)
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], val.Datum)
	return murmur3.Sum64(buf[:])
}

func (calc *hllCalc) position(hash uint64) (int, uint8) {
	idx := int(hash >> (64 - calc._bits))
	w := hash<<calc._bits | 1<<(calc._bits-1)
	return idx, uint8(bits.LeadingZeros64(w) + 1)
}

func (calc *hllCalc) raise(dst *Accum, idx int, rank uint8, atomically bool) {
	word := &dst._regs[idx/4]
	shift := uint(idx%4) * 8
	for {
		old := word.Load()
		if uint8(old>>shift) >= rank {
			return
		}
		next := old&^(0xFF<<shift) | uint32(rank)<<shift
		if !atomically {
			word.Store(next)
			return
		}
		if word.CompareAndSwap(old, next) {
			return
		}
	}
}

func (calc *hllCalc) update(dst *Accum, val common.Slot, atomically bool) {
	if val.IsNull() {
		return
	}
	idx, rank := calc.position(HashSlot(val))
	calc.raise(dst, idx, rank, atomically)
	dst.markNormal()
}

// merge takes the per-register max, word by word.
func (calc *hllCalc) merge(dst, src *Accum, atomically bool) {
	if src.IsNull() {
		return
	}
	for i := range src._regs {
		sw := src._regs[i].Load()
		if sw == 0 {
			continue
		}
		word := &dst._regs[i]
		for {
			old := word.Load()
			next := old
			for shift := uint(0); shift < 32; shift += 8 {
				if s := sw >> shift & 0xFF; s > next>>shift&0xFF {
					next = next&^(0xFF<<shift) | s<<shift
				}
			}
			if next == old {
				break
			}
			if !atomically {
				word.Store(next)
				break
			}
			if word.CompareAndSwap(old, next) {
				break
			}
		}
	}
	dst.markNormal()
}

func (calc *hllCalc) CombineLocal(dst, src *Accum) {
	calc.merge(dst, src, false)
}

func (calc *hllCalc) UpdateNormal(dst *Accum, val common.Slot) {
	calc.update(dst, val, false)
}

func (calc *hllCalc) UpdateAtomic(dst *Accum, val common.Slot) {
	calc.update(dst, val, true)
}

func (calc *hllCalc) MergeAtomic(dst, src *Accum) {
	calc.merge(dst, src, true)
}

// EstimateHLL is alpha*m*m/sum(2^-reg) with the small range correction
// for sketches with empty registers, and the large range correction for
// the 64-bit hash space.
func EstimateHLL(regs []uint8) float64 {
	m := float64(len(regs))
	if m == 0 {
		return 0
	}
	sum := 0.0
	zeros := 0
	for _, r := range regs {
		sum += 1.0 / float64(uint64(1)<<r)
		if r == 0 {
			zeros++
		}
	}
	e := hllAlpha(len(regs)) * m * m / sum
	if e < 5*m/2 {
		if zeros != 0 {
			e = m * math.Log(m/float64(zeros))
		}
		return e
	}
	const pow = float64(1<<63) * 2
	if e > pow/30 {
		return -pow * math.Log(1-e/pow)
	}
	return e
}

func hllAlpha(m int) float64 {
	switch m {
	case 16:
		return 0.673
	case 32:
		return 0.697
	case 64:
		return 0.709
	}
	return 0.7213 / (1.0 + 1.079/float64(m))
}
