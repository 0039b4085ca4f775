// Package features builds the design matrices the count model trains and
// predicts on.
package features

import (
	"fmt"
	"math"
)

const (
	// OutcomeColumn holds the training label.
	OutcomeColumn = "predicted_var"

	// LocationColumn holds the random-effect grouping key.
	LocationColumn = "location_id"
)

// FeatureColumns are the fixed-effect weather columns, in model order.
var FeatureColumns = []string{
	"minimum_temperature",
	"maximum_temperature",
	"temperature",
	"dew_point",
	"relative_humidity",
	"heat_index",
	"wind_speed",
	"wind_gust",
	"wind_direction",
	"wind_chill",
	"precipitation",
	"precipitation_cover",
	"snow_depth",
	"visibility",
	"cloud_cover",
	"sea_level_pressure",
	"weather_type",
}

// Frame is a dense table with named columns. Missing cells are NaN until
// a Transform fills them.
type Frame struct {
	columns []string
	index   map[string]int
	rows    [][]float64
}

// NewFrame creates an empty frame with the given columns.
func NewFrame(columns ...string) *Frame {
	f := &Frame{
		columns: append([]string(nil), columns...),
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		f.index[c] = i
	}
	return f
}

// Columns returns the column names in order.
func (f *Frame) Columns() []string {
	return append([]string(nil), f.columns...)
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.rows)
}

// Has reports whether the frame has the named column.
func (f *Frame) Has(column string) bool {
	_, ok := f.index[column]
	return ok
}

// Append adds a row. It panics when the width does not match, which is a
// programming error rather than a data error.
func (f *Frame) Append(row []float64) {
	if len(row) != len(f.columns) {
		panic(fmt.Sprintf("features: row has %d values, frame has %d columns", len(row), len(f.columns)))
	}
	f.rows = append(f.rows, append([]float64(nil), row...))
}

// Row returns a copy of row i.
func (f *Frame) Row(i int) []float64 {
	return append([]float64(nil), f.rows[i]...)
}

// Value returns the cell at row i of column, or NaN when the column is absent.
func (f *Frame) Value(i int, column string) float64 {
	j, ok := f.index[column]
	if !ok {
		return math.NaN()
	}
	return f.rows[i][j]
}

// Column returns a copy of the named column, or nil when absent.
func (f *Frame) Column(column string) []float64 {
	j, ok := f.index[column]
	if !ok {
		return nil
	}
	out := make([]float64, len(f.rows))
	for i, row := range f.rows {
		out[i] = row[j]
	}
	return out
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	c := NewFrame(f.columns...)
	c.rows = make([][]float64, len(f.rows))
	for i, row := range f.rows {
		c.rows[i] = append([]float64(nil), row...)
	}
	return c
}

// Select returns a new frame with only the named columns, in that order.
func (f *Frame) Select(columns ...string) (*Frame, error) {
	idx := make([]int, len(columns))
	for k, c := range columns {
		j, ok := f.index[c]
		if !ok {
			return nil, fmt.Errorf("unknown column %q", c)
		}
		idx[k] = j
	}
	out := NewFrame(columns...)
	out.rows = make([][]float64, len(f.rows))
	for i, row := range f.rows {
		r := make([]float64, len(idx))
		for k, j := range idx {
			r[k] = row[j]
		}
		out.rows[i] = r
	}
	return out, nil
}

func (f *Frame) set(i, j int, v float64) {
	f.rows[i][j] = v
}
