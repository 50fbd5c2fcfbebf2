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
	"errors"
	"sync/atomic"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func Test_config(t *testing.T) {
	cfg := DefaultConfig()
	_, err := toml.DecodeFile("../../etc/preagg.toml", cfg)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 32, cfg.Device.LaneWidth)
	assert.Equal(t, 256, cfg.Launch.BlockSize)
	assert.Equal(t, 16384, cfg.Buffer.FinalRooms)
	assert.Equal(t, "key", cfg.Query.GroupBy)
}

func Test_configValidate(t *testing.T) {
	tests := []struct {
		name string
		fn   func(cfg *Config)
	}{
		{"lane width", func(cfg *Config) { cfg.Device.LaneWidth = 24 }},
		{"block size", func(cfg *Config) { cfg.Launch.BlockSize = 100 }},
		{"max threads", func(cfg *Config) { cfg.Launch.BlockSize = 2048 }},
		{"grid", func(cfg *Config) { cfg.Launch.GridSize = 0 }},
		{"slot rooms", func(cfg *Config) { cfg.Buffer.SlotRooms = 16 }},
		{"final rooms", func(cfg *Config) { cfg.Buffer.FinalRooms = cfg.Launch.BlockSize }},
		{"hll bits", func(cfg *Config) { cfg.Buffer.HLLRegisterBits = 20 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.fn(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func Test_sharedLock(t *testing.T) {
	var lock SharedLock
	lock.RLock()
	lock.RLock()
	n, excl := lock.Holders()
	assert.Equal(t, 2, n)
	assert.False(t, excl)
	lock.RUnlock()
	lock.RUnlock()

	lock.Lock()
	n, excl = lock.Holders()
	assert.Equal(t, 0, n)
	assert.True(t, excl)
	lock.Unlock()

	assert.Panics(t, func() {
		lock.RUnlock()
	})
}

func Test_sharedLockConcurrent(t *testing.T) {
	var lock SharedLock
	//guarded by lock exclusive, read under shared
	var value, readers atomic.Int64
	var eg errgroup.Group
	for g := 0; g < 8; g++ {
		eg.Go(func() error {
			for i := 0; i < 1000; i++ {
				if i%10 == 0 {
					lock.Lock()
					if readers.Load() != 0 {
						lock.Unlock()
						return errors.New("reader inside exclusive section")
					}
					value.Add(1)
					lock.Unlock()
					continue
				}
				lock.RLock()
				readers.Add(1)
				_ = value.Load()
				readers.Add(-1)
				lock.RUnlock()
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	assert.Equal(t, int64(800), value.Load())
	n, excl := lock.Holders()
	assert.Equal(t, 0, n)
	assert.False(t, excl)
}

func Test_bitmap(t *testing.T) {
	bm := Bitmap{}
	assert.True(t, bm.RowIsValid(100))
	bm.SetInvalid(10)
	assert.False(t, bm.RowIsValid(10))
	assert.True(t, bm.RowIsValid(9))
	bm.Grow(40)
	assert.Len(t, bm.Bits, 5)
	bm.SetInvalid(33)
	assert.False(t, bm.RowIsValid(33))
	assert.True(t, bm.RowIsValid(39))
	bm.SetValid(10)
	assert.True(t, bm.RowIsValid(10))
	assert.Equal(t, 2, EntryCount(9))
}

func Test_hash(t *testing.T) {
	assert.Equal(t, HashBytes([]byte("abc")), HashBytes([]byte("abc")))
	assert.NotEqual(t, HashBytes([]byte("abc")), HashBytes([]byte("abd")))
	assert.NotEqual(t, HashUint64(1), HashUint64(2))
	h := HashUint64(42)
	assert.Equal(t, uint32(h)^uint32(h>>32), FoldHash32(h))
	assert.NotEqual(t, CombineHash(0, 1), CombineHash(1, 0))
}

func Test_powerOfTwo(t *testing.T) {
	assert.True(t, IsPowerOfTwo(32))
	assert.False(t, IsPowerOfTwo(0))
	assert.False(t, IsPowerOfTwo(24))
	assert.Equal(t, 3, CeilDiv(9, 4))
}

func Test_faultInject(t *testing.T) {
	Register(FAULTS_SCOPE_KERNEL, "f1", nil, func([]string) error { return errors.New("boom") })
	//closed scopes ignore registration
	assert.NoError(t, Inject(FAULTS_SCOPE_KERNEL, "f1"))

	Open(FAULTS_SCOPE_KERNEL)
	defer Close(FAULTS_SCOPE_KERNEL)
	Register(FAULTS_SCOPE_KERNEL, "f1", []string{"x"}, func(args []string) error {
		return errors.New(args[0])
	})
	assert.EqualError(t, Inject(FAULTS_SCOPE_KERNEL, "f1"), "x")
	assert.NoError(t, Inject(FAULTS_SCOPE_KERNEL, "f2"))
}
