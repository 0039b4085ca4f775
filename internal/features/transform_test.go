package features_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3T-LVTN/model/internal/features"
)

func TestNormalize_Range(t *testing.T) {
	frame := features.NewFrame("temperature", "precipitation", "snow_depth", features.OutcomeColumn)
	frame.Append([]float64{50, 0, 0, 10})
	frame.Append([]float64{100, math.NaN(), -1, 20})
	frame.Append([]float64{25, 4, 0, 30})

	out := features.Normalize(frame)

	assert.Equal(t, []float64{0.5, 1, 0.25}, out.Column("temperature"))
	assert.Equal(t, []float64{0, 0, 1}, out.Column("precipitation"))
	assert.Equal(t, []float64{0, 0, 0}, out.Column("snow_depth"), "max <= 0 maps to 0")
	assert.Equal(t, []float64{10, 20, 30}, out.Column(features.OutcomeColumn), "non-feature columns untouched")

	for _, col := range []string{"temperature", "precipitation", "snow_depth"} {
		for _, v := range out.Column(col) {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}

	// Input is not modified.
	assert.Equal(t, 100.0, frame.Value(1, "temperature"))
}

func TestNormalize_NegativeValuesStayNegative(t *testing.T) {
	frame := features.NewFrame("temperature", "dew_point")
	frame.Append([]float64{-10, -4})
	frame.Append([]float64{20, -2})
	frame.Append([]float64{5, -8})

	out := features.Normalize(frame)

	assert.Equal(t, []float64{-0.5, 1, 0.25}, out.Column("temperature"))
	assert.Equal(t, []float64{0, 0, 0}, out.Column("dew_point"), "all-negative column maps to 0")
}

func TestIdentity_Copies(t *testing.T) {
	frame := features.NewFrame("temperature")
	frame.Append([]float64{76.4})

	out := features.Identity(frame)
	assert.Equal(t, frame.Column("temperature"), out.Column("temperature"))
}

func TestFrame_Select(t *testing.T) {
	frame := features.NewFrame("a", "b", "c")
	frame.Append([]float64{1, 2, 3})

	sel, err := frame.Select("c", "a")
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 1}, sel.Row(0))

	_, err = frame.Select("missing")
	assert.Error(t, err)
}

func TestFeatureColumnsOrder(t *testing.T) {
	require.Len(t, features.FeatureColumns, 17)
	assert.Equal(t, "minimum_temperature", features.FeatureColumns[0])
	assert.Equal(t, "weather_type", features.FeatureColumns[16])
}
