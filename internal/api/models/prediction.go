package models

import (
	"fmt"
	"math"
)

// MaxPredictionLocations bounds one prediction request.
const MaxPredictionLocations = 500

// PredictLocation is one point of a prediction request. Idx is echoed back.
type PredictLocation struct {
	Long float64 `json:"long"`
	Lat  float64 `json:"lat"`
	Idx  int     `json:"idx"`
}

// PredictionRequest is the body of POST /v1/prediction.
type PredictionRequest struct {
	// PredictDate is a unix timestamp; 0 means now.
	PredictDate int64             `json:"predictDate"`
	Locations   []PredictLocation `json:"locations"`
}

// Validate checks the request.
func (r *PredictionRequest) Validate() []FieldError {
	var errs []FieldError
	if len(r.Locations) == 0 {
		errs = append(errs, FieldError{Field: "locations", Message: "at least one location is required", Code: "required"})
	}
	if len(r.Locations) > MaxPredictionLocations {
		errs = append(errs, FieldError{
			Field:   "locations",
			Message: fmt.Sprintf("at most %d locations are allowed", MaxPredictionLocations),
			Code:    "max",
		})
	}
	if r.PredictDate < 0 {
		errs = append(errs, FieldError{Field: "predictDate", Message: "must be a unix timestamp", Code: "min"})
	}
	for i, l := range r.Locations {
		errs = append(errs, validateCoordinates(fmt.Sprintf("locations[%d]", i), l.Long, l.Lat, "long", "lat")...)
	}
	return errs
}

// PredictionData is one location of a prediction response. Weight is the
// rate index, nil for missing locations and for predictions that could
// not be rated.
type PredictionData struct {
	Idx    int     `json:"idx"`
	Long   float64 `json:"long"`
	Lat    float64 `json:"lat"`
	Weight *int    `json:"weight"`
}

// PredictionResponseData splits the request into predicted and missing
// locations.
type PredictionResponseData struct {
	AvailableLocations []PredictionData `json:"availableLocations"`
	MissingLocations   []PredictionData `json:"missingLocations"`
}

// SummaryRequest is the body of POST /v1/prediction/summary.
type SummaryRequest struct {
	Location []string `json:"location"`
	// TimeInterval is the number of days averaged (default: 7).
	TimeInterval int `json:"timeInterval"`
}

// Validate checks the request.
func (r *SummaryRequest) Validate() []FieldError {
	var errs []FieldError
	if r.TimeInterval < 0 || r.TimeInterval > 90 {
		errs = append(errs, FieldError{Field: "timeInterval", Message: "must be between 0 and 90", Code: "range"})
	}
	if len(r.Location) > MaxPredictionLocations {
		errs = append(errs, FieldError{Field: "location", Message: "too many location codes", Code: "max"})
	}
	return errs
}

// SummaryLocationInfo is the summary of one location code.
type SummaryLocationInfo struct {
	LocationCode string  `json:"locationCode"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	Value        float64 `json:"value"`
	Precip       float64 `json:"precip"`
	Temperature  float64 `json:"temperature"`
}

// DetailRequest is the body of POST /v1/prediction/detail. Times are unix
// timestamps.
type DetailRequest struct {
	StartTime    int64    `json:"startTime"`
	EndTime      int64    `json:"endTime"`
	Lat          *float64 `json:"lat"`
	Lng          *float64 `json:"lng"`
	LocationCode string   `json:"locationCode"`
}

// Validate checks the request.
func (r *DetailRequest) Validate() []FieldError {
	var errs []FieldError
	if (r.Lat == nil) != (r.Lng == nil) {
		errs = append(errs, FieldError{Field: "lat", Message: "lat and lng must be given together", Code: "required_with"})
	}
	if r.Lat != nil && r.Lng != nil {
		errs = append(errs, validateCoordinates("", *r.Lng, *r.Lat, "lng", "lat")...)
	}
	if r.LocationCode == "" && r.Lat == nil {
		errs = append(errs, FieldError{Field: "locationCode", Message: "locationCode or coordinates are required", Code: "required"})
	}
	if r.StartTime < 0 || r.EndTime < 0 {
		errs = append(errs, FieldError{Field: "startTime", Message: "must be a unix timestamp", Code: "min"})
	}
	return errs
}

// Geometry is a GeoJSON point ([lng, lat]).
type Geometry struct {
	Type         string     `json:"type"`
	Coordinates  [2]float64 `json:"coordinates"`
	LocationCode string     `json:"locationCode,omitempty"`
}

// LocationDetail is one day of a detail response.
type LocationDetail struct {
	Date        int64    `json:"date"`
	Value       float64  `json:"value"`
	Temperature *float64 `json:"temperature"`
	Precip      *float64 `json:"precip"`
}

// DetailResponseData is the body of a detail response.
type DetailResponseData struct {
	LocationGeometry Geometry         `json:"locationGeometry"`
	LocationDetail   []LocationDetail `json:"locationDetail"`
}

// ProvinceSummaryData counts wards per rate.
type ProvinceSummaryData struct {
	Safe     int `json:"SAFE"`
	Normal   int `json:"NORMAL"`
	LowRisk  int `json:"LOW_RISK"`
	HighRisk int `json:"HIGH_RISK"`
}

// UploadResponse is returned for an accepted upload.
type UploadResponse struct {
	FileName string `json:"fileName"`
}

// TrainRequest is the body of POST /v1/admin/train. TimeWindowID 0 trains
// every window.
type TrainRequest struct {
	TimeWindowID int64 `json:"timeWindowId"`
}

// TrainResponse is returned when a train job was enqueued.
type TrainResponse struct {
	MessageID string `json:"messageId"`
}

func validateCoordinates(prefix string, lon, lat float64, lonName, latName string) []FieldError {
	field := func(name string) string {
		if prefix == "" {
			return name
		}
		return prefix + "." + name
	}
	var errs []FieldError
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		errs = append(errs, FieldError{Field: field(latName), Message: "must be between -90 and 90", Code: "range"})
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		errs = append(errs, FieldError{Field: field(lonName), Message: "must be between -180 and 180", Code: "range"})
	}
	return errs
}
