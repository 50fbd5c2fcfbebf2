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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/preagg/pkg/util"
)

func Test_genKey(t *testing.T) {
	assert.Equal(t, "A", genKey(0))
	assert.Equal(t, "Z", genKey(25))
	assert.Equal(t, "AA", genKey(26))
	assert.Equal(t, "AZ", genKey(51))
	assert.Equal(t, "BA", genKey(52))
}

func Test_genAndRun(t *testing.T) {
	dir := t.TempDir()
	for _, format := range []string{"csv", "parquet"} {
		for _, layout := range []string{"row", "block", "column", "column_extra"} {
			cfg := util.DefaultConfig()
			cfg.Gen = util.GenOptions{
				Path:   filepath.Join(dir, "data."+format),
				Format: format,
				Rows:   500,
				Keys:   5,
				Seed:   7,
			}
			require.NoError(t, genData(&cfg.Gen))

			cfg.Query.DataPath = cfg.Gen.Path
			cfg.Query.DataFormat = format
			cfg.Query.Schema = "key:varchar,x:int64,id:int64"
			cfg.Query.Layout = layout
			cfg.Query.PageLines = 64
			cfg.Query.GroupBy = "key"
			cfg.Query.Aggs = "sum:x,count:*,hll:id"
			cfg.Debug.PrintResult = false
			cfg.Debug.PrintReport = false
			require.NoError(t, cfg.Validate())
			require.NoError(t, runQuery(context.Background(), cfg), "%s %s", format, layout)
		}
	}
}

func Test_genBad(t *testing.T) {
	assert.Error(t, genData(&util.GenOptions{Keys: 3, Format: "csv"}))
	assert.Error(t, genData(&util.GenOptions{Path: "x", Keys: 0, Format: "csv"}))
	path := filepath.Join(t.TempDir(), "x")
	assert.Error(t, genData(&util.GenOptions{Path: path, Keys: 3, Format: "json"}))
}
