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
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	pqLocal "github.com/xitongsys/parquet-go-source/local"
	pqReader "github.com/xitongsys/parquet-go/reader"
	pqWriter "github.com/xitongsys/parquet-go/writer"

	"github.com/daviszhen/preagg/pkg/common"
)

// Appender is a store that accepts rows.
type Appender interface {
	DataStore
	Append(values ...common.Slot) error
}

// NewStore makes an empty input store of the layout.
func NewStore(format Format, schema Schema, pageLines int) (Appender, error) {
	switch format {
	case FormatRow:
		return NewRowStore(schema), nil
	case FormatBlock:
		return NewBlockStore(schema, pageLines), nil
	case FormatColumn:
		return NewColumnStore(schema), nil
	case FormatColumnExtra:
		return NewColumnStoreExtra(schema), nil
	default:
		return nil, fmt.Errorf("layout %s does not accept rows", format)
	}
}

// ParseText converts one text field. NULL and \N are nulls.
func ParseText(typ common.PhyType, text string) (common.Slot, error) {
	if text == "NULL" || text == `\N` {
		return common.NullSlot(), nil
	}
	switch typ {
	case common.INT32:
		v, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return common.NullSlot(), err
		}
		return common.Int32Slot(int32(v)), nil
	case common.INT64:
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return common.NullSlot(), err
		}
		return common.Int64Slot(v), nil
	case common.UINT32:
		v, err := strconv.ParseUint(text, 10, 32)
		if err != nil {
			return common.NullSlot(), err
		}
		return common.Uint32Slot(uint32(v)), nil
	case common.UINT64:
		v, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return common.NullSlot(), err
		}
		return common.Uint64Slot(v), nil
	case common.FLOAT:
		v, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return common.NullSlot(), err
		}
		return common.FloatSlot(float32(v)), nil
	case common.DOUBLE:
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return common.NullSlot(), err
		}
		return common.DoubleSlot(v), nil
	case common.VARCHAR:
		return common.StringSlot(text), nil
	default:
		panic("usp")
	}
}

// LoadCSV appends every record of a csv file. The first maxRows records
// are read, or all of them when maxRows <= 0.
func LoadCSV(path string, comma rune, skipHeader bool, maxRows int, dst Appender) (int, error) {
	file, err := os.OpenFile(path, os.O_RDONLY, 0755)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	reader := csv.NewReader(file)
	reader.Comma = comma
	reader.ReuseRecord = true
	schema := dst.Schema()
	values := make([]common.Slot, len(schema))
	cnt := 0
	for lineNo := 1; maxRows <= 0 || cnt < maxRows; lineNo++ {
		line, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return cnt, err
		}
		if skipHeader && lineNo == 1 {
			continue
		}
		if len(line) < len(schema) {
			return cnt, fmt.Errorf("line %d: no enough fields, %d < %d", lineNo, len(line), len(schema))
		}
		for j, typ := range schema {
			values[j], err = ParseText(typ, line[j])
			if err != nil {
				return cnt, fmt.Errorf("line %d field %d: %w", lineNo, j, err)
			}
		}
		if err = dst.Append(values...); err != nil {
			return cnt, err
		}
		cnt++
	}
	return cnt, nil
}

// LoadParquet appends the columns colIndice of a parquet file, in
// batches of batchSize rows.
func LoadParquet(path string, colIndice []int, batchSize int, dst Appender) (int, error) {
	schema := dst.Schema()
	if len(colIndice) != len(schema) {
		return 0, fmt.Errorf("%w: %d columns for %d attributes", ErrSchemaMismatch, len(colIndice), len(schema))
	}
	pqFile, err := pqLocal.NewLocalFileReader(path)
	if err != nil {
		return 0, err
	}
	defer pqFile.Close()
	reader, err := pqReader.NewParquetColumnReader(pqFile, 1)
	if err != nil {
		return 0, err
	}
	defer reader.ReadStop()

	total := int(reader.GetNumRows())
	cnt := 0
	cols := make([][]interface{}, len(colIndice))
	row := make([]common.Slot, len(schema))
	for cnt < total {
		n := min(batchSize, total-cnt)
		rowCont := -1
		for j, idx := range colIndice {
			cols[j], _, _, err = reader.ReadColumnByIndex(int64(idx), int64(n))
			if err != nil && !errors.Is(err, io.EOF) {
				return cnt, err
			}
			if rowCont < 0 {
				rowCont = len(cols[j])
			} else if len(cols[j]) != rowCont {
				return cnt, fmt.Errorf("column %d has different count of values %d with previous columns %d",
					idx, len(cols[j]), rowCont)
			}
		}
		if rowCont <= 0 {
			break
		}
		for i := 0; i < rowCont; i++ {
			for j, typ := range schema {
				row[j], err = parquetFieldToSlot(cols[j][i], typ)
				if err != nil {
					return cnt, fmt.Errorf("row %d column %d: %w", cnt, colIndice[j], err)
				}
			}
			if err = dst.Append(row...); err != nil {
				return cnt, err
			}
			cnt++
		}
	}
	return cnt, nil
}

func parquetFieldToSlot(field any, typ common.PhyType) (common.Slot, error) {
	if field == nil {
		return common.NullSlot(), nil
	}
	if typ == common.VARCHAR {
		switch fVal := field.(type) {
		case string:
			return common.StringSlot(fVal), nil
		case []byte:
			return common.BytesSlot(fVal), nil
		}
		return common.NullSlot(), fmt.Errorf("%T is not a string", field)
	}
	var i64 int64
	var f64 float64
	isFloat := false
	switch fVal := field.(type) {
	case int32:
		i64 = int64(fVal)
	case int64:
		i64 = fVal
	case float32:
		f64, isFloat = float64(fVal), true
	case float64:
		f64, isFloat = fVal, true
	case bool:
		if fVal {
			i64 = 1
		}
	default:
		return common.NullSlot(), fmt.Errorf("%T can not be read as %s", field, typ)
	}
	if isFloat && !typ.IsFloat() {
		if f64 != math.Trunc(f64) {
			return common.NullSlot(), fmt.Errorf("%v can not be read as %s", f64, typ)
		}
		i64 = int64(f64)
	} else if !isFloat {
		f64 = float64(i64)
	}
	switch typ {
	case common.INT32:
		return common.Int32Slot(int32(i64)), nil
	case common.INT64:
		return common.Int64Slot(i64), nil
	case common.UINT32:
		return common.Uint32Slot(uint32(i64)), nil
	case common.UINT64:
		return common.Uint64Slot(uint64(i64)), nil
	case common.FLOAT:
		return common.FloatSlot(float32(f64)), nil
	case common.DOUBLE:
		return common.DoubleSlot(f64), nil
	default:
		panic("usp")
	}
}

// WriteParquet writes rows, all of the type of proto, which carries the
// parquet struct tags.
func WriteParquet(path string, proto interface{}, rows []interface{}) error {
	fw, err := pqLocal.NewLocalFileWriter(path)
	if err != nil {
		return err
	}
	defer fw.Close()
	pw, err := pqWriter.NewParquetWriter(fw, proto, 1)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err = pw.Write(row); err != nil {
			return err
		}
	}
	return pw.WriteStop()
}
