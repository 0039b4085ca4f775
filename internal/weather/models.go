package weather

import (
	"errors"
	"time"

	"github.com/3T-LVTN/model/internal/timeseries"
)

var (
	// ErrUpstreamUnavailable is returned when the provider reports a
	// non-success status. No record is fabricated.
	ErrUpstreamUnavailable = errors.New("weather provider unavailable")
	ErrInvalidCoordinates  = errors.New("invalid coordinates")
	ErrInvalidRange        = errors.New("invalid date range")
)

// Status is the final outcome of a provider call.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
)

func (s Status) String() string {
	if s == StatusSuccess {
		return "success"
	}
	return "failure"
}

// Request asks for daily history in [Start, End).
type Request struct {
	Longitude float64
	Latitude  float64
	Start     time.Time
	End       time.Time
}

// Result is what a Gateway returns. Records are only meaningful on success.
type Result struct {
	Status  Status
	Message string
	Records []Record
}

// Record is one day of provider history. Nil measurements were blank in
// the provider response.
type Record struct {
	Date time.Time

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
	Conditions         string
	Info               string
}

// Observation converts r into a stored observation for locationID.
// timeWindowID may be nil; the crawl job backfills it later.
func (r Record) Observation(locationID int64, timeWindowID *int64) *timeseries.Observation {
	return &timeseries.Observation{
		LocationID:         locationID,
		TimeWindowID:       timeWindowID,
		DateTime:           timeseries.DayStart(r.Date).Unix(),
		MinimumTemperature: r.MinimumTemperature,
		MaximumTemperature: r.MaximumTemperature,
		Temperature:        r.Temperature,
		DewPoint:           r.DewPoint,
		RelativeHumidity:   r.RelativeHumidity,
		HeatIndex:          r.HeatIndex,
		WindSpeed:          r.WindSpeed,
		WindGust:           r.WindGust,
		WindDirection:      r.WindDirection,
		WindChill:          r.WindChill,
		Precipitation:      r.Precipitation,
		PrecipitationCover: r.PrecipitationCover,
		SnowDepth:          r.SnowDepth,
		Visibility:         r.Visibility,
		CloudCover:         r.CloudCover,
		SeaLevelPressure:   r.SeaLevelPressure,
		WeatherType:        r.WeatherType,
		Info:               r.Info,
		Conditions:         r.Conditions,
	}
}
