// Package timeseries stores weather observations, outcome values and
// prediction logs keyed by location and day.
package timeseries

import (
	"errors"
	"time"
)

var (
	ErrTimeWindowNotFound  = errors.New("time window not found")
	ErrObservationNotFound = errors.New("weather observation not found")
	ErrPredictionNotFound  = errors.New("prediction log not found")
	ErrQuartilesNotFound   = errors.New("prediction quartiles not found")
)

// TimeWindow is the period a model is trained over. (StartTS, EndTS,
// SlidingSize) is unique.
type TimeWindow struct {
	ID          int64
	SlidingSize int
	StartTS     int64
	EndTS       int64
}

// Start returns StartTS as a time.
func (tw TimeWindow) Start() time.Time { return time.Unix(tw.StartTS, 0).UTC() }

// End returns EndTS as a time.
func (tw TimeWindow) End() time.Time { return time.Unix(tw.EndTS, 0).UTC() }

// Observation is one day of weather at a location. Nil measurements are missing.
type Observation struct {
	ID           int64
	LocationID   int64
	TimeWindowID *int64
	// DateTime is the unix time of the day start.
	DateTime int64

	MinimumTemperature *float64
	MaximumTemperature *float64
	Temperature        *float64
	DewPoint           *float64
	RelativeHumidity   *float64
	HeatIndex          *float64
	WindSpeed          *float64
	WindGust           *float64
	WindDirection      *float64
	WindChill          *float64
	Precipitation      *float64
	PrecipitationCover *float64
	SnowDepth          *float64
	Visibility         *float64
	CloudCover         *float64
	SeaLevelPressure   *float64
	WeatherType        string
	Info               string
	Conditions         string
}

// OutcomeValue is a ground-truth label used for training.
type OutcomeValue struct {
	ID           int64
	LocationID   int64
	TimeWindowID int64
	DateTime     int64
	Value        float64
}

// PredictionLog is a stored model prediction, reused for the rest of the
// day it was created.
type PredictionLog struct {
	ID          int64
	LocationID  int64
	Value       float64
	ArtifactKey string
	// PredictTime is the day start of the predicted date.
	PredictTime int64
	CreatedAt   time.Time
}

// QuartileThresholds are the three cut points for one day's predictions.
type QuartileThresholds struct {
	// Day is the unix time of the day start.
	Day        int64
	Thresholds [3]float64
}

// DayStart truncates t to midnight in t's location.
func DayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DayStartUnix truncates the unix time ts to its UTC day start.
func DayStartUnix(ts int64) int64 {
	return DayStart(time.Unix(ts, 0).UTC()).Unix()
}
