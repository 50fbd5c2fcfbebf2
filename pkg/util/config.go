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
	"fmt"
)

type DeviceOptions struct {
	MultiProcessorCount int `tag:"multiProcessorCount"`
	LaneWidth           int `tag:"laneWidth"`
	MaxThreadsPerBlock  int `tag:"maxThreadsPerBlock"`
}

type LaunchOptions struct {
	GridSize        int `tag:"gridSize"`
	BlockSize       int `tag:"blockSize"`
	MaxResumeRounds int `tag:"maxResumeRounds"`
}

type BufferOptions struct {
	SlotRooms       int `tag:"slotRooms"`
	FinalRooms      int `tag:"finalRooms"`
	HashSlots       int `tag:"hashSlots"`
	LocalHashRooms  int `tag:"localHashRooms"`
	HLLRegisterBits int `tag:"hllRegisterBits"`
}

type LogOptions struct {
	Level string `tag:"level"`
	Path  string `tag:"path"`
}

type DebugOptions struct {
	PrintResult bool `tag:"printResult"`
	PrintReport bool `tag:"printReport"`
	ShowRaw     bool `tag:"showRaw"`
}

type QueryOptions struct {
	DataPath   string `tag:"dataPath"`
	DataFormat string `tag:"dataFormat"`
	//name:type,...
	Schema    string `tag:"schema"`
	Layout    string `tag:"layout"`
	PageLines int    `tag:"pageLines"`
	GroupBy   string `tag:"groupBy"`
	//op:column,...
	Aggs string `tag:"aggs"`
}

type GenOptions struct {
	Path   string `tag:"path"`
	Format string `tag:"format"`
	Rows   int    `tag:"rows"`
	Keys   int    `tag:"keys"`
	Seed   int64  `tag:"seed"`
}

type Config struct {
	Device DeviceOptions `tag:"device"`
	Launch LaunchOptions `tag:"launch"`
	Buffer BufferOptions `tag:"buffer"`
	Log    LogOptions    `tag:"log"`
	Debug  DebugOptions  `tag:"debug"`
	Query  QueryOptions  `tag:"query"`
	Gen    GenOptions    `tag:"gen"`
}

func DefaultConfig() *Config {
	return &Config{
		Device: DeviceOptions{
			MultiProcessorCount: 8,
			LaneWidth:           32,
			MaxThreadsPerBlock:  1024,
		},
		Launch: LaunchOptions{
			GridSize:        16,
			BlockSize:       256,
			MaxResumeRounds: 64,
		},
		Buffer: BufferOptions{
			SlotRooms:       1 << 16,
			FinalRooms:      1 << 14,
			HashSlots:       1 << 10,
			LocalHashRooms:  512,
			HLLRegisterBits: 9,
		},
		Log: LogOptions{
			Level: "info",
		},
		Query: QueryOptions{
			DataFormat: "csv",
			Layout:     "row",
			PageLines:  256,
		},
		Gen: GenOptions{
			Format: "csv",
			Rows:   10000,
			Keys:   3,
			Seed:   1,
		},
	}
}

var ErrInvalidConfig = errors.New("invalid config")

func (cfg *Config) Validate() error {
	dev := &cfg.Device
	if dev.MultiProcessorCount <= 0 {
		return fmt.Errorf("%w: device.multiProcessorCount %d", ErrInvalidConfig, dev.MultiProcessorCount)
	}
	if !IsPowerOfTwo(uint64(dev.LaneWidth)) {
		return fmt.Errorf("%w: device.laneWidth %d is not a power of two", ErrInvalidConfig, dev.LaneWidth)
	}
	launch := &cfg.Launch
	if launch.GridSize <= 0 {
		return fmt.Errorf("%w: launch.gridSize %d", ErrInvalidConfig, launch.GridSize)
	}
	if launch.BlockSize <= 0 || launch.BlockSize%dev.LaneWidth != 0 {
		return fmt.Errorf("%w: launch.blockSize %d must be a positive multiple of laneWidth %d",
			ErrInvalidConfig, launch.BlockSize, dev.LaneWidth)
	}
	if dev.MaxThreadsPerBlock > 0 && launch.BlockSize > dev.MaxThreadsPerBlock {
		return fmt.Errorf("%w: launch.blockSize %d exceeds device.maxThreadsPerBlock %d",
			ErrInvalidConfig, launch.BlockSize, dev.MaxThreadsPerBlock)
	}
	if launch.MaxResumeRounds < 0 {
		return fmt.Errorf("%w: launch.maxResumeRounds %d", ErrInvalidConfig, launch.MaxResumeRounds)
	}
	buf := &cfg.Buffer
	//one block unit must always fit into empty buffers
	if buf.SlotRooms < launch.BlockSize {
		return fmt.Errorf("%w: buffer.slotRooms %d is less than launch.blockSize %d",
			ErrInvalidConfig, buf.SlotRooms, launch.BlockSize)
	}
	//every lane group may hold one spare row besides the block's groups
	if minRooms := launch.BlockSize + launch.BlockSize/dev.LaneWidth; buf.FinalRooms < minRooms {
		return fmt.Errorf("%w: buffer.finalRooms %d is less than %d for launch.blockSize %d",
			ErrInvalidConfig, buf.FinalRooms, minRooms, launch.BlockSize)
	}
	if buf.HashSlots <= 0 {
		return fmt.Errorf("%w: buffer.hashSlots %d", ErrInvalidConfig, buf.HashSlots)
	}
	if buf.LocalHashRooms < 0 {
		return fmt.Errorf("%w: buffer.localHashRooms %d", ErrInvalidConfig, buf.LocalHashRooms)
	}
	if buf.HLLRegisterBits < 4 || buf.HLLRegisterBits > 16 {
		return fmt.Errorf("%w: buffer.hllRegisterBits %d out of [4,16]", ErrInvalidConfig, buf.HLLRegisterBits)
	}
	return nil
}
