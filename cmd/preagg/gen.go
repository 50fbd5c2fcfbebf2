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
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/daviszhen/preagg/pkg/storage"
	"github.com/daviszhen/preagg/pkg/util"
)

//gen cmd

var genInfo = "generate a data file of key, x, id rows"
var genCmd = &cobra.Command{
	Use:   "gen",
	Short: genInfo,
	Long:  genInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := initGenCfg(); err != nil {
			return err
		}
		return genData(&preaggCfg.Gen)
	},
}

func initGenCfg() error {
	if err := initEngineOptions(); err != nil {
		return err
	}
	preaggCfg.Gen.Path = viper.GetString("gen.path")
	preaggCfg.Gen.Format = viper.GetString("gen.format")
	preaggCfg.Gen.Rows = viper.GetInt("gen.rows")
	preaggCfg.Gen.Keys = viper.GetInt("gen.keys")
	preaggCfg.Gen.Seed = viper.GetInt64("gen.seed")
	return nil
}

func initGenCmd() {
	RootCmd.AddCommand(genCmd)
	opts := &preaggCfg.Gen
	genCmd.Flags().StringVar(&opts.Path, "path", "", "output path")
	genCmd.Flags().StringVar(&opts.Format, "format", opts.Format, "output format. csv, parquet")
	genCmd.Flags().IntVar(&opts.Rows, "rows", opts.Rows, "row count")
	genCmd.Flags().IntVar(&opts.Keys, "keys", opts.Keys, "distinct keys")
	genCmd.Flags().Int64Var(&opts.Seed, "seed", opts.Seed, "random seed")

	viper.BindPFlag("gen.path", genCmd.Flags().Lookup("path"))
	viper.BindPFlag("gen.format", genCmd.Flags().Lookup("format"))
	viper.BindPFlag("gen.rows", genCmd.Flags().Lookup("rows"))
	viper.BindPFlag("gen.keys", genCmd.Flags().Lookup("keys"))
	viper.BindPFlag("gen.seed", genCmd.Flags().Lookup("seed"))
}

type genRow struct {
	Key string `parquet:"name=key, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	X   int64  `parquet:"name=x, type=INT64"`
	Id  int64  `parquet:"name=id, type=INT64"`
}

// genKey names key i A, B, ... Z, AA, AB...
func genKey(i int) string {
	sb := strings.Builder{}
	for {
		sb.WriteByte(byte('A' + i%26))
		i /= 26
		if i == 0 {
			break
		}
		i--
	}
	b := []byte(sb.String())
	for l, r := 0, len(b)-1; l < r; l, r = l+1, r-1 {
		b[l], b[r] = b[r], b[l]
	}
	return string(b)
}

func genData(opts *util.GenOptions) error {
	if opts.Path == "" {
		return fmt.Errorf("no output path")
	}
	if opts.Keys <= 0 {
		return fmt.Errorf("keys %d must be positive", opts.Keys)
	}
	rnd := rand.New(rand.NewSource(opts.Seed))
	rows := make([]genRow, opts.Rows)
	for i := range rows {
		rows[i] = genRow{
			Key: genKey(rnd.Intn(opts.Keys)),
			X:   rnd.Int63n(2000) - 1000,
			Id:  int64(i),
		}
	}
	var err error
	switch strings.ToLower(opts.Format) {
	case "csv":
		err = writeCSV(opts.Path, rows)
	case "parquet":
		objs := make([]interface{}, len(rows))
		for i := range rows {
			objs[i] = rows[i]
		}
		err = storage.WriteParquet(opts.Path, new(genRow), objs)
	default:
		err = fmt.Errorf("unknown format %q", opts.Format)
	}
	if err != nil {
		return err
	}
	util.Info("data generated",
		zap.String("path", opts.Path),
		zap.String("format", opts.Format),
		zap.Int("rows", opts.Rows),
		zap.Int("keys", opts.Keys),
	)
	return nil
}

func writeCSV(path string, rows []genRow) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	writer := csv.NewWriter(file)
	for _, row := range rows {
		err = writer.Write([]string{
			row.Key,
			strconv.FormatInt(row.X, 10),
			strconv.FormatInt(row.Id, 10),
		})
		if err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
