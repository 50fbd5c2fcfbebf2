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

package util

import (
	"runtime"
	"sync/atomic"

	"github.com/petermattis/goid"
)

const lockExclusive uint32 = 1 << 31

// SharedLock is a lock word. The low 31 bits count shared holders and the
// top bit marks an exclusive holder. Writers are preferred: once the
// exclusive bit is set no new shared holder gets in.
type SharedLock struct {
	word  atomic.Uint32
	owner atomic.Int64
}

func (lock *SharedLock) RLock() {
	for {
		cur := lock.word.Load()
		if cur&lockExclusive == 0 && lock.word.CompareAndSwap(cur, cur+1) {
			return
		}
		runtime.Gosched()
	}
}

func (lock *SharedLock) RUnlock() {
	for {
		cur := lock.word.Load()
		if cur&^lockExclusive == 0 {
			panic("runlock of unlocked SharedLock")
		}
		if lock.word.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

func (lock *SharedLock) Lock() {
	for {
		cur := lock.word.Load()
		if cur&lockExclusive == 0 && lock.word.CompareAndSwap(cur, cur|lockExclusive) {
			break
		}
		runtime.Gosched()
	}
	//wait for the shared holders to drain
	for lock.word.Load() != lockExclusive {
		runtime.Gosched()
	}
	lock.owner.Store(goid.Get())
}

func (lock *SharedLock) Unlock() {
	if lock.owner.Load() != goid.Get() {
		panic("unlock of SharedLock held by another goroutine")
	}
	lock.owner.Store(0)
	if !lock.word.CompareAndSwap(lockExclusive, 0) {
		panic("unlock of unlocked SharedLock")
	}
}

// Holders returns the number of shared holders and whether an exclusive
// holder exists.
func (lock *SharedLock) Holders() (int, bool) {
	cur := lock.word.Load()
	return int(cur &^ lockExclusive), cur&lockExclusive != 0
}
