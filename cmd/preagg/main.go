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

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/daviszhen/preagg/pkg/util"
)

func init() {
	cobra.OnInitialize(loadConfig)
	initRunCmd()
	initGenCmd()
}

var preaggCfg = util.DefaultConfig()

///root cmd

var info = "parallel partial aggregation"
var RootCmd = &cobra.Command{
	Use:          "preagg",
	Short:        info,
	Long:         info,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("use preagg --help or -h")
	},
}

func getInt(key string, def int) int {
	if viper.IsSet(key) {
		return viper.GetInt(key)
	}
	return def
}

func getString(key string, def string) string {
	if viper.IsSet(key) {
		return viper.GetString(key)
	}
	return def
}

func initEngineOptions() error {
	cfg := preaggCfg
	cfg.Device.MultiProcessorCount = getInt("device.multiProcessorCount", cfg.Device.MultiProcessorCount)
	cfg.Device.LaneWidth = getInt("device.laneWidth", cfg.Device.LaneWidth)
	cfg.Device.MaxThreadsPerBlock = getInt("device.maxThreadsPerBlock", cfg.Device.MaxThreadsPerBlock)
	cfg.Launch.GridSize = getInt("launch.gridSize", cfg.Launch.GridSize)
	cfg.Launch.BlockSize = getInt("launch.blockSize", cfg.Launch.BlockSize)
	cfg.Launch.MaxResumeRounds = getInt("launch.maxResumeRounds", cfg.Launch.MaxResumeRounds)
	cfg.Buffer.SlotRooms = getInt("buffer.slotRooms", cfg.Buffer.SlotRooms)
	cfg.Buffer.FinalRooms = getInt("buffer.finalRooms", cfg.Buffer.FinalRooms)
	cfg.Buffer.HashSlots = getInt("buffer.hashSlots", cfg.Buffer.HashSlots)
	cfg.Buffer.LocalHashRooms = getInt("buffer.localHashRooms", cfg.Buffer.LocalHashRooms)
	cfg.Buffer.HLLRegisterBits = getInt("buffer.hllRegisterBits", cfg.Buffer.HLLRegisterBits)
	cfg.Log.Level = getString("log.level", cfg.Log.Level)
	cfg.Log.Path = getString("log.path", cfg.Log.Path)
	cfg.Debug.PrintResult = viper.GetBool("debug.printResult")
	cfg.Debug.PrintReport = viper.GetBool("debug.printReport")
	cfg.Debug.ShowRaw = viper.GetBool("debug.showRaw")
	if err := util.InitLogger(cfg.Log); err != nil {
		return err
	}
	return cfg.Validate()
}

var defCfgFilePaths = []string{".", "etc"}
var cfgFileName = "preagg.toml"

// loadConfig reads preagg.toml when there is one. Defaults and flags
// work without it.
func loadConfig() {
	for _, dirPath := range defCfgFilePaths {
		fpath := filepath.Join(dirPath, cfgFileName)
		if util.FileIsValid(fpath) {
			viper.SetConfigFile(fpath)
			err := viper.ReadInConfig()
			if err != nil {
				util.Error("viper load config file failed",
					zap.String("fpath", fpath),
					zap.Error(err))
				continue
			}
			return
		}
	}
	util.Warn("preagg.toml does not exist, use defaults")
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
