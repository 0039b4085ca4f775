package countmodel

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/3T-LVTN/model/internal/features"
)

const artifactVersion = 1

// Fitted holds everything needed to reproduce predictions.
type Fitted struct {
	TimeWindowID int64

	// Alpha is the dispersion used by the fit; EstimatedAlpha is the raw
	// estimate before clamping.
	Alpha          float64
	EstimatedAlpha float64

	Columns       []string
	Intercept     float64
	Coefficients  []float64
	RandomEffects map[int64]float64
	LogSD         float64

	Iterations int
	Converged  bool
	Rows       int
	TrainedAt  time.Time
}

// Predict returns exp(intercept + x·β + u[location]) for every row. Rows
// for locations unseen in training get u = 0. Results may be non-finite;
// see PredictOne.
func (m *Fitted) Predict(frame *features.Frame) []float64 {
	out := make([]float64, frame.Len())
	for i := range out {
		eta := m.Intercept
		for j, col := range m.Columns {
			eta += m.Coefficients[j] * frame.Value(i, col)
		}
		if loc := frame.Value(i, features.LocationColumn); !math.IsNaN(loc) {
			eta += m.RandomEffects[int64(loc)]
		}
		out[i] = math.Exp(eta)
	}
	return out
}

// PredictOne predicts a one-row frame and rejects non-finite results with
// ErrNonFinitePrediction.
func (m *Fitted) PredictOne(frame *features.Frame) (float64, error) {
	if frame.Len() != 1 {
		return 0, fmt.Errorf("expected one row, got %d", frame.Len())
	}
	v := m.Predict(frame)[0]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrNonFinitePrediction
	}
	return v, nil
}

type fittedJSON struct {
	Version        int               `json:"version"`
	TimeWindowID   int64             `json:"time_window_id"`
	Alpha          float64           `json:"alpha"`
	EstimatedAlpha float64           `json:"estimated_alpha"`
	Columns        []string          `json:"columns"`
	Intercept      float64           `json:"intercept"`
	Coefficients   []float64         `json:"coefficients"`
	RandomEffects  map[int64]float64 `json:"random_effects"`
	LogSD          float64           `json:"log_sd"`
	Iterations     int               `json:"iterations"`
	Converged      bool              `json:"converged"`
	Rows           int               `json:"rows"`
	TrainedAt      time.Time         `json:"trained_at"`
}

// MarshalBinary encodes the model as JSON. float64 values round-trip exactly.
func (m *Fitted) MarshalBinary() ([]byte, error) {
	return json.Marshal(fittedJSON{
		Version:        artifactVersion,
		TimeWindowID:   m.TimeWindowID,
		Alpha:          m.Alpha,
		EstimatedAlpha: m.EstimatedAlpha,
		Columns:        m.Columns,
		Intercept:      m.Intercept,
		Coefficients:   m.Coefficients,
		RandomEffects:  m.RandomEffects,
		LogSD:          m.LogSD,
		Iterations:     m.Iterations,
		Converged:      m.Converged,
		Rows:           m.Rows,
		TrainedAt:      m.TrainedAt,
	})
}

// UnmarshalBinary decodes a payload written by MarshalBinary.
func (m *Fitted) UnmarshalBinary(data []byte) error {
	var w fittedJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Version != artifactVersion {
		return fmt.Errorf("unsupported artifact version %d", w.Version)
	}
	if len(w.Columns) == 0 || len(w.Columns) != len(w.Coefficients) {
		return fmt.Errorf("artifact has %d columns and %d coefficients", len(w.Columns), len(w.Coefficients))
	}
	if w.RandomEffects == nil {
		w.RandomEffects = map[int64]float64{}
	}

	*m = Fitted{
		TimeWindowID:   w.TimeWindowID,
		Alpha:          w.Alpha,
		EstimatedAlpha: w.EstimatedAlpha,
		Columns:        w.Columns,
		Intercept:      w.Intercept,
		Coefficients:   w.Coefficients,
		RandomEffects:  w.RandomEffects,
		LogSD:          w.LogSD,
		Iterations:     w.Iterations,
		Converged:      w.Converged,
		Rows:           w.Rows,
		TrainedAt:      w.TrainedAt,
	}
	return nil
}
