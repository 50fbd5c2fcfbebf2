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
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/daviszhen/preagg/pkg/compute"
	"github.com/daviszhen/preagg/pkg/result"
	"github.com/daviszhen/preagg/pkg/storage"
	"github.com/daviszhen/preagg/pkg/util"
)

//run cmd

var runInfo = "run a group by over a data file"
var runCmd = &cobra.Command{
	Use:   "run",
	Short: runInfo,
	Long:  runInfo,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := initRunCfg(); err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()
		return runQuery(ctx, preaggCfg)
	},
}

func initRunCfg() error {
	if err := initEngineOptions(); err != nil {
		return err
	}
	preaggCfg.Query.DataPath = viper.GetString("query.dataPath")
	preaggCfg.Query.DataFormat = viper.GetString("query.dataFormat")
	preaggCfg.Query.Schema = viper.GetString("query.schema")
	preaggCfg.Query.Layout = viper.GetString("query.layout")
	preaggCfg.Query.PageLines = viper.GetInt("query.pageLines")
	preaggCfg.Query.GroupBy = viper.GetString("query.groupBy")
	preaggCfg.Query.Aggs = viper.GetString("query.aggs")
	return nil
}

func initRunCmd() {
	RootCmd.AddCommand(runCmd)
	opts := &preaggCfg.Query
	runCmd.Flags().StringVar(&opts.DataPath, "data_path", "", "data file path")
	runCmd.Flags().StringVar(&opts.DataFormat, "data_format", opts.DataFormat, "data file format. csv, parquet")
	runCmd.Flags().StringVar(&opts.Schema, "schema", "", "columns of the data file. name:type,...")
	runCmd.Flags().StringVar(&opts.Layout, "layout", opts.Layout, "input layout. row, block, column, column_extra")
	runCmd.Flags().IntVar(&opts.PageLines, "page_lines", opts.PageLines, "lines per partition of the block layout")
	runCmd.Flags().StringVar(&opts.GroupBy, "group_by", "", "group by columns. a,b,...")
	runCmd.Flags().StringVar(&opts.Aggs, "aggs", "", "aggregates. op:column,... op is min, max, sum, count, hll")

	viper.BindPFlag("query.dataPath", runCmd.Flags().Lookup("data_path"))
	viper.BindPFlag("query.dataFormat", runCmd.Flags().Lookup("data_format"))
	viper.BindPFlag("query.schema", runCmd.Flags().Lookup("schema"))
	viper.BindPFlag("query.layout", runCmd.Flags().Lookup("layout"))
	viper.BindPFlag("query.pageLines", runCmd.Flags().Lookup("page_lines"))
	viper.BindPFlag("query.groupBy", runCmd.Flags().Lookup("group_by"))
	viper.BindPFlag("query.aggs", runCmd.Flags().Lookup("aggs"))
}

func loadData(opts *util.QueryOptions, schema storage.Schema) (storage.DataStore, error) {
	format, err := storage.ParseFormat(opts.Layout)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewStore(format, schema, opts.PageLines)
	if err != nil {
		return nil, err
	}
	var cnt int
	switch strings.ToLower(opts.DataFormat) {
	case "csv":
		cnt, err = storage.LoadCSV(opts.DataPath, ',', false, 0, store)
	case "parquet":
		colIndice := make([]int, len(schema))
		for i := range colIndice {
			colIndice[i] = i
		}
		cnt, err = storage.LoadParquet(opts.DataPath, colIndice, 4096, store)
	default:
		return nil, fmt.Errorf("unknown data format %q", opts.DataFormat)
	}
	if err != nil {
		return nil, err
	}
	util.Info("data loaded",
		zap.String("path", opts.DataPath),
		zap.String("layout", format.String()),
		zap.Int("rows", cnt),
	)
	return store, nil
}

func runQuery(ctx context.Context, cfg *util.Config) error {
	cols, schema, err := compute.ParseSchema(cfg.Query.Schema)
	if err != nil {
		return err
	}
	query, err := compute.BuildQuery(cols, cfg.Query.GroupBy, cfg.Query.Aggs, cfg.Buffer.HLLRegisterBits)
	if err != nil {
		return err
	}
	src, err := loadData(&cfg.Query, schema)
	if err != nil {
		return err
	}
	if cfg.Debug.ShowRaw {
		showRaw(src, 10)
	}
	coll := result.NewCollector(query.Layout)
	runner, err := compute.NewRunner(cfg, query.Layout, query.Funcs, coll)
	if err != nil {
		return err
	}
	defer runner.Close()
	stats, err := runner.Run(ctx, src)
	if err != nil {
		return err
	}
	if cfg.Debug.PrintResult {
		fmt.Print(coll.Format())
	}
	if cfg.Debug.PrintReport {
		fmt.Println(result.Report(query.Layout, stats))
	}
	fmt.Printf("%d groups from %d rows\n", coll.Len(), stats.NItemsReal)
	return nil
}

type rowSource interface {
	Row(i int) (storage.Row, error)
}

func showRaw(src storage.DataStore, limit int) {
	rows, ok := src.(rowSource)
	if !ok {
		return
	}
	schema := src.Schema()
	for i := 0; i < min(limit, src.NItems()); i++ {
		row, err := rows.Row(i)
		if err != nil {
			fmt.Println(err)
			return
		}
		fields := make([]string, 0, len(schema))
		for j, typ := range schema {
			val, err := row.Attr(j)
			if err != nil {
				fields = append(fields, err.Error())
				continue
			}
			fields = append(fields, val.Format(typ))
		}
		fmt.Println(strings.Join(fields, " "))
	}
}
